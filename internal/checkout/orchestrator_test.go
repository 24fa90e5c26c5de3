package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"storefront/internal/card"
	"storefront/internal/ledger"
	"storefront/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type fakeGateway struct {
	mu      sync.Mutex
	calls   int
	amounts []decimal.Decimal
	release chan struct{}
	err     error
}

func (g *fakeGateway) Charge(ctx context.Context, draft models.PaymentDraft, amount decimal.Decimal) (models.ChargeResult, error) {
	g.mu.Lock()
	g.calls++
	g.amounts = append(g.amounts, amount)
	release := g.release
	err := g.err
	g.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return models.ChargeResult{}, ctx.Err()
		}
	}
	if err != nil {
		return models.ChargeResult{}, err
	}
	return models.ChargeResult{TransactionID: "TX-1", Amount: amount, ProcessedAt: time.Now()}, nil
}

func (g *fakeGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeStore struct {
	mu        sync.Mutex
	saved     *models.StoredPayment
	saveErr   error
	loadErr   error
	deleteErr error
}

func (s *fakeStore) Save(_ context.Context, p models.StoredPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = &p
	return nil
}

func (s *fakeStore) Load(context.Context) (*models.StoredPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.saved, nil
}

func (s *fakeStore) Delete(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.saved = nil
	return nil
}

type OrchestratorSuite struct {
	suite.Suite
	ledger  *ledger.Ledger
	gateway *fakeGateway
	store   *fakeStore
	orch    *Orchestrator
	updates chan Status
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	l, err := ledger.New([]models.Product{
		{ID: "1", Name: "Phone", Price: decimal.RequireFromString("899.99"), AvailableQuantity: 5},
		{ID: "2", Name: "Headphones", Price: decimal.RequireFromString("129.5"), AvailableQuantity: 4},
	})
	s.Require().NoError(err)
	s.ledger = l
	s.gateway = &fakeGateway{}
	s.store = &fakeStore{}
	s.newOrchestrator()
}

func (s *OrchestratorSuite) newOrchestrator(opts ...Option) {
	clock := func() time.Time { return time.Date(2025, time.June, 15, 10, 0, 0, 0, time.UTC) }
	validator := card.NewValidator(card.WithClock(clock))
	s.orch = NewOrchestrator(s.ledger, validator, s.gateway, s.store, opts...)
	s.updates = make(chan Status, 16)
	s.orch.Subscribe(func(st Status) { s.updates <- st })
}

func (s *OrchestratorSuite) draft() models.PaymentDraft {
	return models.PaymentDraft{
		CardNumber: "4111 1111 1111 1111",
		CardHolder: "john doe",
		ExpDate:    "12/27",
		CVV:        "123",
	}
}

func (s *OrchestratorSuite) waitFor(state models.TransactionState) Status {
	for {
		select {
		case st := <-s.updates:
			if st.State == state {
				return st
			}
		case <-time.After(2 * time.Second):
			s.FailNow("timed out waiting for state " + string(state))
			return Status{}
		}
	}
}

func (s *OrchestratorSuite) TestSuccessClearsCartAndDraft() {
	s.ledger.SetReservedQuantity("1", 2)
	s.ledger.Reserve("2")

	st, err := s.orch.Submit(context.Background(), s.draft())
	s.Require().NoError(err)
	s.Equal(models.TransactionPending, st.State)
	s.True(decimal.RequireFromString("1929.48").Equal(st.Amount))
	s.Equal(3, st.ItemCount)
	s.Equal("1111", st.LastFour)

	done := s.waitFor(models.TransactionSucceeded)
	s.Equal("TX-1", done.TransactionID)
	s.Empty(done.Message)

	s.Equal(0, s.ledger.CartItemCount())
	p, _ := s.ledger.Product("1")
	s.Equal(5, p.AvailableQuantity)
	_, held := s.orch.Draft()
	s.False(held)

	saved := s.orch.SavedPayment(context.Background())
	s.Require().NotNil(saved)
	s.Equal("1111", saved.LastFourDigits)
	s.Equal("JOHN DOE", saved.CardHolder)
	s.Contains(saved.TransactionID, "TX-")

	s.Equal(models.TransactionIdle, s.orch.Acknowledge().State)
}

func (s *OrchestratorSuite) TestFailureKeepsReservation() {
	s.gateway.err = errors.New("invalid card")
	s.ledger.SetReservedQuantity("1", 2)

	_, err := s.orch.Submit(context.Background(), s.draft())
	s.Require().NoError(err)

	failed := s.waitFor(models.TransactionFailed)
	s.Equal("invalid card", failed.Message)
	s.Equal(2, s.ledger.Reserved("1"))

	summary, held := s.orch.Draft()
	s.True(held)
	s.Equal("**** **** **** 1111", summary.MaskedNumber)
	s.Equal(card.TypeVisa, summary.CardType)

	idle := s.orch.Acknowledge()
	s.Equal(models.TransactionIdle, idle.State)
	s.Empty(idle.Message)
	s.Equal(2, s.ledger.Reserved("1"))
}

func (s *OrchestratorSuite) TestRetryAfterFailure() {
	s.gateway.err = errors.New("invalid card")
	s.ledger.Reserve("1")

	_, err := s.orch.Submit(context.Background(), s.draft())
	s.Require().NoError(err)
	s.waitFor(models.TransactionFailed)

	s.gateway.mu.Lock()
	s.gateway.err = nil
	s.gateway.mu.Unlock()

	_, err = s.orch.Submit(context.Background(), s.draft())
	s.Require().NoError(err)
	s.waitFor(models.TransactionSucceeded)
	s.Equal(2, s.gateway.Calls())
}

func (s *OrchestratorSuite) TestSubmitWhilePendingIsRejected() {
	s.gateway.release = make(chan struct{})
	s.ledger.Reserve("1")

	first, err := s.orch.Submit(context.Background(), s.draft())
	s.Require().NoError(err)

	second, err := s.orch.Submit(context.Background(), s.draft())
	s.ErrorIs(err, ErrSubmissionInProgress)
	s.Equal(first.SubmissionID, second.SubmissionID)

	close(s.gateway.release)
	s.waitFor(models.TransactionSucceeded)
	s.Equal(1, s.gateway.Calls())
}

func (s *OrchestratorSuite) TestSubmitAfterSuccessRequiresAcknowledge() {
	s.ledger.Reserve("1")
	_, err := s.orch.Submit(context.Background(), s.draft())
	s.Require().NoError(err)
	s.waitFor(models.TransactionSucceeded)

	s.ledger.Reserve("2")
	_, err = s.orch.Submit(context.Background(), s.draft())
	s.ErrorIs(err, ErrNotAcknowledged)
}

func (s *OrchestratorSuite) TestInvalidDraftLeavesStateUnchanged() {
	s.ledger.Reserve("1")
	draft := s.draft()
	draft.CardNumber = "4111 1111 1111 1110"

	st, err := s.orch.Submit(context.Background(), draft)
	var fieldErrs card.FieldErrors
	s.Require().ErrorAs(err, &fieldErrs)
	s.Equal("invalid card number", fieldErrs[card.FieldCardNumber])
	s.Equal(models.TransactionIdle, st.State)
	s.Equal(0, s.gateway.Calls())
}

func (s *OrchestratorSuite) TestEmptyCartIsRejected() {
	_, err := s.orch.Submit(context.Background(), s.draft())
	s.ErrorIs(err, ErrEmptyCart)
	s.Equal(models.TransactionIdle, s.orch.Status().State)
}

func (s *OrchestratorSuite) TestTimeoutFailsOnce() {
	s.gateway.release = make(chan struct{})
	s.newOrchestrator(WithTimeout(50 * time.Millisecond))
	s.ledger.Reserve("1")

	_, err := s.orch.Submit(context.Background(), s.draft())
	s.Require().NoError(err)

	failed := s.waitFor(models.TransactionFailed)
	s.Equal(MessageTimeout, failed.Message)
	s.Equal(1, s.ledger.Reserved("1"))

	close(s.gateway.release)
	select {
	case st := <-s.updates:
		s.Failf("unexpected transition", "got %s", st.State)
	case <-time.After(100 * time.Millisecond):
	}
	s.Equal(models.TransactionFailed, s.orch.Status().State)
}

func (s *OrchestratorSuite) TestResolveIsAppliedOnce() {
	s.gateway.release = make(chan struct{})
	s.ledger.Reserve("1")

	st, err := s.orch.Submit(context.Background(), s.draft())
	s.Require().NoError(err)

	s.True(s.orch.resolve(st.SubmissionID, models.TransactionFailed, "", "first"))
	s.False(s.orch.resolve(st.SubmissionID, models.TransactionSucceeded, "TX-2", ""))
	s.False(s.orch.resolve("stale", models.TransactionSucceeded, "TX-3", ""))

	close(s.gateway.release)
	time.Sleep(50 * time.Millisecond)

	current := s.orch.Status()
	s.Equal(models.TransactionFailed, current.State)
	s.Equal("first", current.Message)
	s.Equal(1, s.ledger.Reserved("1"))
}

func (s *OrchestratorSuite) TestSaveFailureFailsWithoutCharging() {
	s.store.saveErr = errors.New("keychain locked")
	s.ledger.Reserve("1")

	_, err := s.orch.Submit(context.Background(), s.draft())
	s.Require().NoError(err)

	failed := s.waitFor(models.TransactionFailed)
	s.Equal(MessageOperationFailed, failed.Message)
	s.Equal(0, s.gateway.Calls())
	s.Equal(1, s.ledger.Reserved("1"))
}

func (s *OrchestratorSuite) TestSavedPaymentDegradesToAbsent() {
	s.store.loadErr = errors.New("corrupt blob")
	s.Nil(s.orch.SavedPayment(context.Background()))
}

func (s *OrchestratorSuite) TestForgetSavedPayment() {
	s.store.saved = &models.StoredPayment{LastFourDigits: "1111"}
	s.NoError(s.orch.ForgetSavedPayment(context.Background()))
	s.Nil(s.orch.SavedPayment(context.Background()))

	s.store.deleteErr = errors.New("io")
	s.ErrorIs(s.orch.ForgetSavedPayment(context.Background()), ErrOperationFailed)
}

func (s *OrchestratorSuite) TestAcknowledgeWhenIdleIsNoop() {
	s.Equal(models.TransactionIdle, s.orch.Acknowledge().State)
	select {
	case st := <-s.updates:
		s.Failf("unexpected notification", "got %s", st.State)
	default:
	}
}

func (s *OrchestratorSuite) TestCartChangesWhilePendingAreIgnored() {
	s.gateway.release = make(chan struct{})
	s.ledger.Reserve("1")

	st, err := s.orch.Submit(context.Background(), s.draft())
	s.Require().NoError(err)
	s.True(decimal.RequireFromString("899.99").Equal(st.Amount))
	s.Equal(1, st.ItemCount)

	snap := s.ledger.SetReservedQuantity("2", 4)
	s.True(snap.Held)
	s.Zero(s.ledger.Reserved("2"))
	s.ledger.Release("1")
	s.Equal(1, s.ledger.Reserved("1"))

	close(s.gateway.release)
	s.waitFor(models.TransactionSucceeded)

	s.gateway.mu.Lock()
	s.Require().Len(s.gateway.amounts, 1)
	s.True(decimal.RequireFromString("899.99").Equal(s.gateway.amounts[0]))
	s.gateway.mu.Unlock()

	s.Zero(s.ledger.CartItemCount())
	s.False(s.ledger.Held())
	headphones, _ := s.ledger.Product("2")
	s.Equal(4, headphones.AvailableQuantity)

	s.ledger.Reserve("2")
	s.Equal(1, s.ledger.Reserved("2"))
}

func (s *OrchestratorSuite) TestFailureLiftsHold() {
	s.gateway.err = errors.New("invalid card")
	s.gateway.release = make(chan struct{})
	s.ledger.Reserve("1")

	_, err := s.orch.Submit(context.Background(), s.draft())
	s.Require().NoError(err)
	s.True(s.ledger.Held())

	close(s.gateway.release)
	s.waitFor(models.TransactionFailed)
	s.False(s.ledger.Held())
	s.ledger.Reserve("2")
	s.Equal(2, s.ledger.CartItemCount())
}

func (s *OrchestratorSuite) TestEmptyCartDoesNotHold() {
	_, err := s.orch.Submit(context.Background(), s.draft())
	s.Require().ErrorIs(err, ErrEmptyCart)
	s.False(s.ledger.Held())
}

func (s *OrchestratorSuite) TestVersionsFollowTransitions() {
	s.ledger.Reserve("1")

	_, err := s.orch.Submit(context.Background(), s.draft())
	s.Require().NoError(err)
	pending := <-s.updates
	done := s.waitFor(models.TransactionSucceeded)
	s.orch.Acknowledge()
	idle := <-s.updates

	s.Equal(models.TransactionPending, pending.State)
	s.Equal(int64(1), pending.Version)
	s.Equal(int64(2), done.Version)
	s.Equal(models.TransactionIdle, idle.State)
	s.Equal(int64(3), idle.Version)
	s.Equal(int64(3), s.orch.Status().Version)
}

func (s *OrchestratorSuite) TestSlowListenerStillSeesTransitionsInOrder() {
	s.ledger.Reserve("1")

	gate := make(chan struct{})
	var mu sync.Mutex
	var states []models.TransactionState
	s.orch.Subscribe(func(st Status) {
		if st.State == models.TransactionPending {
			<-gate
		}
		mu.Lock()
		states = append(states, st.State)
		mu.Unlock()
	})

	submitted := make(chan error, 1)
	go func() {
		_, err := s.orch.Submit(context.Background(), s.draft())
		submitted <- err
	}()

	s.Eventually(func() bool {
		return s.orch.Status().State == models.TransactionSucceeded
	}, 2*time.Second, 5*time.Millisecond)
	s.Equal(models.TransactionIdle, s.orch.Acknowledge().State)

	close(gate)
	s.Require().NoError(<-submitted)

	mu.Lock()
	defer mu.Unlock()
	s.Equal([]models.TransactionState{
		models.TransactionPending,
		models.TransactionSucceeded,
		models.TransactionIdle,
	}, states)
}
