package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"storefront/internal/card"
	"storefront/internal/checkout"
	"storefront/internal/ledger"
	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// TransactionReader reads the persisted checkout log
type TransactionReader interface {
	GetTransaction(ctx context.Context, submissionID string) (*models.Transaction, error)
	RecentTransactions(ctx context.Context, limit int) ([]models.Transaction, error)
}

// StockReader reads the mirrored stock of a product
type StockReader interface {
	GetStock(ctx context.Context, productID string) (available, reserved int, err error)
}

// ProductReader reads the persisted catalog row of a product
type ProductReader interface {
	GetProductByID(ctx context.Context, id string) (*models.Product, error)
}

const (
	defaultTransactionLimit = 20
	maxTransactionLimit     = 100
)

// Handler contains HTTP handlers
type Handler struct {
	cart      *service.CartService
	checkout  *checkout.Orchestrator
	validator *card.Validator
	deps      map[string]Pinger

	transactions TransactionReader
	mirror       StockReader
	catalog      ProductReader
}

// NewHandler creates a new HTTP handler
func NewHandler(cart *service.CartService, orchestrator *checkout.Orchestrator, validator *card.Validator) *Handler {
	return &Handler{
		cart:      cart,
		checkout:  orchestrator,
		validator: validator,
		deps:      make(map[string]Pinger),
	}
}

// AddReadinessCheck makes /ready depend on p
func (h *Handler) AddReadinessCheck(name string, p Pinger) {
	h.deps[name] = p
}

// SetTransactionReader enables the transaction log routes
func (h *Handler) SetTransactionReader(r TransactionReader) {
	h.transactions = r
}

// SetStockMirror adds the mirrored stock to stock reports
func (h *Handler) SetStockMirror(r StockReader) {
	h.mirror = r
}

// SetCatalogReader adds the persisted catalog row to stock reports
func (h *Handler) SetCatalogReader(r ProductReader) {
	h.catalog = r
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/products", h.listProducts)
		v1.POST("/products", h.addProduct)
		v1.DELETE("/products/:id", h.removeProduct)
		v1.GET("/products/:id/stock", h.getStock)
		v1.PUT("/products/:id/stock", h.setStock)

		v1.GET("/cart", h.getCart)
		v1.DELETE("/cart", h.clearCart)
		v1.GET("/cart/items/:id", h.getCartItem)
		v1.POST("/cart/items/:id", h.reserveItem)
		v1.PUT("/cart/items/:id", h.setItemQuantity)
		v1.DELETE("/cart/items/:id", h.releaseItem)

		v1.POST("/card/format", h.formatCard)
		v1.POST("/card/validate", h.validateCard)

		v1.GET("/checkout", h.getCheckout)
		v1.POST("/checkout", h.submitCheckout)
		v1.POST("/checkout/acknowledge", h.acknowledgeCheckout)
		v1.GET("/checkout/transactions", h.listTransactions)
		v1.GET("/checkout/transactions/:id", h.getTransaction)

		v1.GET("/payment/saved", h.getSavedPayment)
		v1.DELETE("/payment/saved", h.forgetSavedPayment)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"details": failed,
			"time":    time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

type cartResponse struct {
	Items     []models.CartItem `json:"items"`
	Total     decimal.Decimal   `json:"total"`
	ItemCount int               `json:"item_count"`
	Revision  int64             `json:"revision"`
	Held      bool              `json:"held"`
}

func newCartResponse(snap ledger.Snapshot) cartResponse {
	items := snap.Items
	if items == nil {
		items = []models.CartItem{}
	}
	return cartResponse{
		Items:     items,
		Total:     snap.Total,
		ItemCount: snap.ItemCount,
		Revision:  snap.Revision,
		Held:      snap.Held,
	}
}

// writeCart answers a cart operation. Operations refused because a checkout
// holds the cart get 409 with the unchanged cart.
func writeCart(c *gin.Context, snap ledger.Snapshot, err error) {
	if errors.Is(err, ledger.ErrCartHeld) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "cart": newCartResponse(snap)})
		return
	}
	c.JSON(http.StatusOK, newCartResponse(snap))
}

// listProducts returns the catalog with available stock
func (h *Handler) listProducts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"products": h.cart.Products()})
}

type addProductRequest struct {
	ID       string          `json:"id" binding:"required"`
	Name     string          `json:"name" binding:"required"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity" binding:"gte=0"`
	ImageURL string          `json:"image_url"`
}

// addProduct adds a product to the catalog
func (h *Handler) addProduct(c *gin.Context) {
	var req addProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	p := models.Product{
		ID:                req.ID,
		Name:              req.Name,
		Price:             req.Price,
		AvailableQuantity: req.Quantity,
		ImageURL:          req.ImageURL,
	}
	snap, err := h.cart.AddProduct(c.Request.Context(), p)
	switch {
	case errors.Is(err, ledger.ErrProductExists):
		c.JSON(http.StatusConflict, gin.H{"error": "Product already exists", "details": err.Error()})
		return
	case errors.Is(err, ledger.ErrInvalidProduct):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product", "details": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add product", "details": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"products": snap.Products})
}

// removeProduct deletes a product and releases its reservation
func (h *Handler) removeProduct(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.cart.Ledger().Product(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}

	snap, err := h.cart.RemoveProduct(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove product", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"products": snap.Products,
		"cart":     newCartResponse(snap),
	})
}

type quantityRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

// setStock overrides the total stock of a product
func (h *Handler) setStock(c *gin.Context) {
	id := c.Param("id")
	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if _, ok := h.cart.Ledger().Product(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}

	snap, err := h.cart.SetStock(c.Request.Context(), id, *req.Quantity)
	switch {
	case errors.Is(err, ledger.ErrInvalidQuantity):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid quantity", "details": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update stock", "details": err.Error()})
		return
	}

	p, _ := h.cart.Ledger().Product(id)
	c.JSON(http.StatusOK, gin.H{
		"product": p,
		"cart":    newCartResponse(snap),
	})
}

// getStock compares the ledger's view of a product with the Redis mirror and
// the persisted catalog row, when those are configured
func (h *Handler) getStock(c *gin.Context) {
	id := c.Param("id")
	p, ok := h.cart.Ledger().Product(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}
	reserved := h.cart.Ledger().Reserved(id)
	total := p.AvailableQuantity + reserved

	resp := gin.H{
		"product_id": id,
		"ledger": gin.H{
			"available": p.AvailableQuantity,
			"reserved":  reserved,
			"total":     total,
		},
	}

	ctx := c.Request.Context()
	if h.mirror != nil {
		available, mirrored, err := h.mirror.GetStock(ctx, id)
		if err != nil {
			resp["mirror"] = gin.H{"error": err.Error(), "in_sync": false}
		} else {
			resp["mirror"] = gin.H{
				"available": available,
				"reserved":  mirrored,
				"in_sync":   available == p.AvailableQuantity && mirrored == reserved,
			}
		}
	}
	if h.catalog != nil {
		row, err := h.catalog.GetProductByID(ctx, id)
		if err != nil {
			resp["catalog"] = gin.H{"error": err.Error(), "in_sync": false}
		} else {
			resp["catalog"] = gin.H{
				"total":   row.AvailableQuantity,
				"in_sync": row.AvailableQuantity == total,
			}
		}
	}

	c.JSON(http.StatusOK, resp)
}

// getCart returns the cart lines, total and unit count
func (h *Handler) getCart(c *gin.Context) {
	c.JSON(http.StatusOK, newCartResponse(h.cart.Snapshot()))
}

// clearCart releases every reservation
func (h *Handler) clearCart(c *gin.Context) {
	snap, err := h.cart.Clear(c.Request.Context())
	writeCart(c, snap, err)
}

// getCartItem returns a single cart line
func (h *Handler) getCartItem(c *gin.Context) {
	item, ok := h.cart.Item(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Item not in cart"})
		return
	}
	c.JSON(http.StatusOK, item)
}

// reserveItem adds one unit to the cart. Out of stock is not an error; the
// unchanged cart is returned.
func (h *Handler) reserveItem(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.cart.Ledger().Product(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}
	snap, err := h.cart.Reserve(c.Request.Context(), id)
	writeCart(c, snap, err)
}

// setItemQuantity sets the reserved quantity of a product
func (h *Handler) setItemQuantity(c *gin.Context) {
	id := c.Param("id")
	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if _, ok := h.cart.Ledger().Product(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		return
	}
	snap, err := h.cart.SetQuantity(c.Request.Context(), id, *req.Quantity)
	writeCart(c, snap, err)
}

// releaseItem removes a product from the cart
func (h *Handler) releaseItem(c *gin.Context) {
	snap, err := h.cart.Release(c.Request.Context(), c.Param("id"))
	writeCart(c, snap, err)
}

type formatCardRequest struct {
	CardNumber string `json:"cardNumber"`
	CardHolder string `json:"cardHolder"`
	ExpDate    string `json:"expDate"`
}

// formatCard applies the card input formatters
func (h *Handler) formatCard(c *gin.Context) {
	var req formatCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cardNumber": card.FormatCardNumber(req.CardNumber),
		"cardHolder": card.NormalizeHolderName(req.CardHolder),
		"expDate":    card.FormatExpiry(req.ExpDate),
		"cardType":   card.ClassifyCardNumber(req.CardNumber),
	})
}

// validateCard validates a draft without submitting it
func (h *Handler) validateCard(c *gin.Context) {
	var draft models.PaymentDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	errs := h.validator.Validate(draft)
	if errs == nil {
		errs = card.FieldErrors{}
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":    len(errs) == 0,
		"errors":   errs,
		"cardType": card.ClassifyCardNumber(draft.CardNumber),
	})
}

// getCheckout returns the checkout status and the held draft, if any
func (h *Handler) getCheckout(c *gin.Context) {
	resp := gin.H{"status": h.checkout.Status()}
	if draft, ok := h.checkout.Draft(); ok {
		resp["draft"] = draft
	}
	c.JSON(http.StatusOK, resp)
}

// submitCheckout starts a payment for the current cart
func (h *Handler) submitCheckout(c *gin.Context) {
	var draft models.PaymentDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	st, err := h.checkout.Submit(c.Request.Context(), draft)
	if err != nil {
		var fieldErrs card.FieldErrors
		switch {
		case errors.As(err, &fieldErrs):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Invalid payment draft", "details": fieldErrs})
		case errors.Is(err, checkout.ErrSubmissionInProgress), errors.Is(err, checkout.ErrNotAcknowledged):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "status": st})
		case errors.Is(err, checkout.ErrEmptyCart):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to submit payment", "details": err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": st})
}

// acknowledgeCheckout returns a finished checkout to idle
func (h *Handler) acknowledgeCheckout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": h.checkout.Acknowledge()})
}

// listTransactions returns the latest persisted checkout transactions
func (h *Handler) listTransactions(c *gin.Context) {
	if h.transactions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Transaction log disabled"})
		return
	}

	limit := defaultTransactionLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}
	if limit > maxTransactionLimit {
		limit = maxTransactionLimit
	}

	txs, err := h.transactions.RecentTransactions(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read transactions", "details": err.Error()})
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// getTransaction returns one persisted checkout transaction
func (h *Handler) getTransaction(c *gin.Context) {
	if h.transactions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Transaction log disabled"})
		return
	}

	tx, err := h.transactions.GetTransaction(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Transaction not found"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read transaction", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, tx)
}

// getSavedPayment returns the redacted draft of the last payment
func (h *Handler) getSavedPayment(c *gin.Context) {
	saved := h.checkout.SavedPayment(c.Request.Context())
	if saved == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No saved payment"})
		return
	}
	c.JSON(http.StatusOK, saved)
}

// forgetSavedPayment deletes the redacted draft
func (h *Handler) forgetSavedPayment(c *gin.Context) {
	if err := h.checkout.ForgetSavedPayment(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
