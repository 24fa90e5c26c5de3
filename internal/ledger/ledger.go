package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/shopspring/decimal"
)

var (
	ErrProductExists   = errors.New("product already exists")
	ErrInvalidProduct  = errors.New("invalid product")
	ErrInvalidQuantity = errors.New("quantity must not be negative")
	ErrCartHeld        = errors.New("cart is held by a pending checkout")
)

// Operation names carried by change notifications
const (
	OpReserve       = "reserve"
	OpSetReserved   = "set_reserved"
	OpRelease       = "release"
	OpClear         = "clear"
	OpSetAvailable  = "set_available"
	OpAddProduct    = "add_product"
	OpRemoveProduct = "remove_product"
)

// Snapshot is a consistent read of the ledger
type Snapshot struct {
	Products  []models.Product  `json:"products"`
	Items     []models.CartItem `json:"items"`
	Total     decimal.Decimal   `json:"total"`
	ItemCount int               `json:"item_count"`
	Revision  int64             `json:"revision"`
	Held      bool              `json:"held"`
}

// Change describes a mutation that altered the ledger
type Change struct {
	Op        string
	ProductID string
	Snapshot  Snapshot
}

// Listener receives change notifications
type Listener func(Change)

// Ledger keeps available stock and cart reservations consistent: for every
// product, available + reserved equals the stock the catalog last set.
type Ledger struct {
	mu sync.RWMutex

	products     map[string]*models.Product
	catalogOrder []string

	reserved  map[string]int
	cartOrder []string
	revision  int64
	held      bool

	listenersMu sync.Mutex
	listeners   map[int]Listener
	nextID      int

	changes *util.Sequencer[Change]
}

// New creates a ledger seeded with the given catalog. Products with an
// empty or duplicate id, or negative price or stock, are rejected.
func New(catalog []models.Product) (*Ledger, error) {
	l := &Ledger{
		products:  make(map[string]*models.Product, len(catalog)),
		reserved:  make(map[string]int),
		listeners: make(map[int]Listener),
	}
	l.changes = util.NewSequencer(1, l.notify)
	for _, p := range catalog {
		if err := l.addLocked(p); err != nil {
			return nil, fmt.Errorf("failed to seed product %q: %w", p.ID, err)
		}
	}
	return l, nil
}

// Subscribe registers a listener and returns a function removing it
func (l *Ledger) Subscribe(fn Listener) func() {
	l.listenersMu.Lock()
	defer l.listenersMu.Unlock()

	id := l.nextID
	l.nextID++
	l.listeners[id] = fn

	return func() {
		l.listenersMu.Lock()
		defer l.listenersMu.Unlock()
		delete(l.listeners, id)
	}
}

// Reserve moves one unit of a product from available to reserved. It does
// nothing when the product is unknown or out of stock, or the cart is held.
func (l *Ledger) Reserve(productID string) Snapshot {
	return l.mutate(OpReserve, productID, func() bool {
		if l.held {
			return false
		}
		p, ok := l.products[productID]
		if !ok || p.AvailableQuantity <= 0 {
			return false
		}
		p.AvailableQuantity--
		l.addReservedLocked(productID, 1)
		return true
	})
}

// SetReservedQuantity moves stock so that exactly target units are reserved.
// Increases beyond the available stock are ignored; targets <= 0 release.
func (l *Ledger) SetReservedQuantity(productID string, target int) Snapshot {
	if target <= 0 {
		return l.Release(productID)
	}

	return l.mutate(OpSetReserved, productID, func() bool {
		if l.held {
			return false
		}
		p, ok := l.products[productID]
		if !ok {
			return false
		}
		delta := target - l.reserved[productID]
		switch {
		case delta == 0:
			return false
		case delta > 0 && p.AvailableQuantity < delta:
			return false
		}
		p.AvailableQuantity -= delta
		l.addReservedLocked(productID, delta)
		return true
	})
}

// Release returns every reserved unit of a product to available stock
func (l *Ledger) Release(productID string) Snapshot {
	return l.mutate(OpRelease, productID, func() bool {
		return !l.held && l.releaseLocked(productID)
	})
}

// Clear releases every reservation
func (l *Ledger) Clear() Snapshot {
	return l.mutate(OpClear, "", func() bool {
		return !l.held && l.clearLocked()
	})
}

// Hold freezes the cart lines and returns the snapshot being checked out.
// While held, Reserve, SetReservedQuantity, Release and Clear change
// nothing. Catalog operations still apply and may only shrink the held
// lines. It reports false when the cart is already held.
func (l *Ledger) Hold() (Snapshot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return l.snapshotLocked(), false
	}
	l.held = true
	return l.snapshotLocked(), true
}

// Unhold lifts the hold and leaves the reservations in place
func (l *Ledger) Unhold() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
}

// Settle lifts the hold and clears the cart the way Clear does
func (l *Ledger) Settle() Snapshot {
	return l.mutate(OpClear, "", func() bool {
		l.held = false
		return l.clearLocked()
	})
}

// Held reports whether a checkout holds the cart
func (l *Ledger) Held() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.held
}

// SetAvailableQuantity overrides the total stock of a product. When the new
// total is below the reserved quantity the reservation is capped to it.
func (l *Ledger) SetAvailableQuantity(productID string, total int) (Snapshot, error) {
	if total < 0 {
		return l.Snapshot(), ErrInvalidQuantity
	}

	return l.mutate(OpSetAvailable, productID, func() bool {
		p, ok := l.products[productID]
		if !ok {
			return false
		}
		reserved := l.reserved[productID]
		capped := reserved
		if capped > total {
			capped = total
		}
		available := total - capped
		if capped == reserved && available == p.AvailableQuantity {
			return false
		}
		l.addReservedLocked(productID, capped-reserved)
		p.AvailableQuantity = available
		return true
	}), nil
}

// AddProduct adds a product to the catalog
func (l *Ledger) AddProduct(p models.Product) (Snapshot, error) {
	var err error
	snap := l.mutate(OpAddProduct, p.ID, func() bool {
		err = l.addLocked(p)
		return err == nil
	})
	return snap, err
}

// RemoveProduct releases any reservation of the product and deletes it
func (l *Ledger) RemoveProduct(productID string) Snapshot {
	return l.mutate(OpRemoveProduct, productID, func() bool {
		if _, ok := l.products[productID]; !ok {
			return false
		}
		l.releaseLocked(productID)
		delete(l.products, productID)
		l.catalogOrder = removeID(l.catalogOrder, productID)
		return true
	})
}

// Products returns the catalog in insertion order
func (l *Ledger) Products() []models.Product {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.productsLocked()
}

// Product returns a catalog entry
func (l *Ledger) Product(productID string) (models.Product, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.products[productID]
	if !ok {
		return models.Product{}, false
	}
	return *p, true
}

// Revision returns the number of changes applied so far
func (l *Ledger) Revision() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.revision
}

// Reserved returns the reserved quantity of a product
func (l *Ledger) Reserved(productID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reserved[productID]
}

// CartItems returns cart lines in the order they were first reserved
func (l *Ledger) CartItems() []models.CartItem {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.itemsLocked()
}

// CartTotal returns the sum of price * quantity over the cart
func (l *Ledger) CartTotal() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return totalOf(l.itemsLocked())
}

// CartItemCount returns the number of reserved units
func (l *Ledger) CartItemCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return countOf(l.itemsLocked())
}

// ItemByID returns the cart line of a product
func (l *Ledger) ItemByID(productID string) (models.CartItem, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	qty, ok := l.reserved[productID]
	if !ok {
		return models.CartItem{}, false
	}
	p, ok := l.products[productID]
	if !ok {
		return models.CartItem{}, false
	}
	return models.CartItem{Product: *p, Quantity: qty}, true
}

// Snapshot returns the catalog and cart as one consistent read
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshotLocked()
}

// mutate runs apply under the write lock and notifies listeners when it
// reports a change
func (l *Ledger) mutate(op, productID string, apply func() bool) Snapshot {
	l.mu.Lock()
	changed := apply()
	if changed {
		l.revision++
	}
	snap := l.snapshotLocked()
	l.mu.Unlock()

	// revisions are consecutive, so listeners see changes in commit order
	if changed {
		l.changes.Push(snap.Revision, Change{Op: op, ProductID: productID, Snapshot: snap})
	}
	return snap
}

func (l *Ledger) notify(c Change) {
	l.listenersMu.Lock()
	ids := make([]int, 0, len(l.listeners))
	for id := range l.listeners {
		ids = append(ids, id)
	}
	fns := make([]Listener, 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		fns = append(fns, l.listeners[id])
	}
	l.listenersMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

func (l *Ledger) addLocked(p models.Product) error {
	if p.ID == "" || p.Price.IsNegative() || p.AvailableQuantity < 0 {
		return ErrInvalidProduct
	}
	if _, ok := l.products[p.ID]; ok {
		return ErrProductExists
	}
	cp := p
	l.products[p.ID] = &cp
	l.catalogOrder = append(l.catalogOrder, p.ID)
	return nil
}

// addReservedLocked adjusts a reservation by delta, dropping entries that
// reach zero
func (l *Ledger) addReservedLocked(productID string, delta int) {
	current, ok := l.reserved[productID]
	next := current + delta
	if next <= 0 {
		if ok {
			delete(l.reserved, productID)
			l.cartOrder = removeID(l.cartOrder, productID)
		}
		return
	}
	if !ok {
		l.cartOrder = append(l.cartOrder, productID)
	}
	l.reserved[productID] = next
}

func (l *Ledger) clearLocked() bool {
	if len(l.cartOrder) == 0 {
		return false
	}
	entries := append([]string(nil), l.cartOrder...)
	for _, id := range entries {
		l.releaseLocked(id)
	}
	return true
}

func (l *Ledger) releaseLocked(productID string) bool {
	qty, ok := l.reserved[productID]
	if !ok {
		return false
	}
	if p, ok := l.products[productID]; ok {
		p.AvailableQuantity += qty
	}
	delete(l.reserved, productID)
	l.cartOrder = removeID(l.cartOrder, productID)
	return true
}

func (l *Ledger) productsLocked() []models.Product {
	out := make([]models.Product, 0, len(l.catalogOrder))
	for _, id := range l.catalogOrder {
		out = append(out, *l.products[id])
	}
	return out
}

func (l *Ledger) itemsLocked() []models.CartItem {
	out := make([]models.CartItem, 0, len(l.cartOrder))
	for _, id := range l.cartOrder {
		p, ok := l.products[id]
		if !ok {
			continue
		}
		out = append(out, models.CartItem{Product: *p, Quantity: l.reserved[id]})
	}
	return out
}

func (l *Ledger) snapshotLocked() Snapshot {
	items := l.itemsLocked()
	return Snapshot{
		Products:  l.productsLocked(),
		Items:     items,
		Total:     totalOf(items),
		ItemCount: countOf(items),
		Revision:  l.revision,
		Held:      l.held,
	}
}

func totalOf(items []models.CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}

func countOf(items []models.CartItem) int {
	n := 0
	for _, item := range items {
		n += item.Quantity
	}
	return n
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}
