package procurement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	rootActor  = Actor{ID: 1, Roles: []string{RoleRoot}}
	boardActor = Actor{ID: 2, Roles: []string{RoleBoardMember}}
	staffActor = Actor{ID: 3, Roles: []string{RoleAdminEmployee}}
	guestActor = Actor{ID: 4, Roles: []string{"auditor"}}
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
}

// Now advances one second per call so history rows keep their order.
func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) ObserveTransition(entity, action string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, entity+":"+action)
}

func (o *recordingObserver) seen() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

type testEnv struct {
	svc      *Service
	repo     *memoryRepo
	observer *recordingObserver
	clock    *testClock
}

func newTestEnv(t *testing.T, cfg ServiceConfig) *testEnv {
	t.Helper()
	env := &testEnv{repo: newMemoryRepo(), observer: &recordingObserver{}, clock: newTestClock()}
	if cfg.Observer == nil {
		cfg.Observer = env.observer
	}
	if cfg.Now == nil {
		cfg.Now = env.clock.Now
	}
	env.svc = NewService(env.repo, cfg)
	return env
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (e *testEnv) createRequest(t *testing.T, estimated string) PurchaseRequest {
	t.Helper()
	pr, err := e.svc.CreateRequest(context.Background(), staffActor, CreateRequestInput{
		Title:           "Office laptops",
		Description:     "Laptops for the accounting team",
		EstimatedAmount: amount(estimated),
		Items: []ItemInput{
			{Description: "Laptop 14in", Quantity: decimal.NewFromInt(2), UnitPrice: amount(estimated).Div(decimal.NewFromInt(2))},
		},
	})
	require.NoError(t, err)
	return pr
}

func (e *testEnv) approvedRequest(t *testing.T, estimated string) PurchaseRequest {
	t.Helper()
	ctx := context.Background()
	pr := e.createRequest(t, estimated)
	_, err := e.svc.SubmitRequest(ctx, staffActor, pr.ID, "")
	require.NoError(t, err)
	pr, err = e.svc.ApproveRequest(ctx, boardActor, pr.ID, "")
	require.NoError(t, err)
	return pr
}

func (e *testEnv) registerQuote(t *testing.T, requestID, supplierID int64, total string) Quotation {
	t.Helper()
	q, _, err := e.svc.RegisterQuotation(context.Background(), staffActor, RegisterQuotationInput{
		RequestID:   requestID,
		SupplierID:  supplierID,
		TotalAmount: amount(total),
		Items:       []ItemInput{{Description: "Laptop 14in", Quantity: decimal.NewFromInt(1), UnitPrice: amount(total)}},
	})
	require.NoError(t, err)
	return q
}

func (e *testEnv) requestStatus(t *testing.T, id int64) RequestStatus {
	t.Helper()
	pr, _, err := e.repo.GetRequest(context.Background(), id)
	require.NoError(t, err)
	return pr.Status
}

func historyActions(entries []HistoryEntry) []HistoryAction {
	out := make([]HistoryAction, 0, len(entries))
	for _, h := range entries {
		out = append(out, h.Action)
	}
	return out
}

func TestDirectPurchaseLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ServiceConfig{})
	env.repo.setBalance(7, amount("120000"))

	pr := env.createRequest(t, "50000")
	require.Equal(t, PurchaseDirect, pr.PurchaseType)
	require.Equal(t, RequestDraft, pr.Status)
	require.Equal(t, "SC-2025-0001", pr.Number)
	require.Equal(t, "ARS", pr.Currency)

	pr, err := env.svc.SubmitRequest(ctx, staffActor, pr.ID, "")
	require.NoError(t, err)
	require.Equal(t, RequestPendingApproval, pr.Status)

	pr, err = env.svc.ApproveRequest(ctx, boardActor, pr.ID, "ok")
	require.NoError(t, err)
	require.Equal(t, RequestApproved, pr.Status)
	require.Equal(t, boardActor.ID, pr.ApprovedBy)
	require.NotNil(t, pr.ApprovedAt)

	po, items, err := env.svc.CreateOrderFromRequest(ctx, staffActor, CreateOrderInput{
		RequestID:   pr.ID,
		SupplierID:  9,
		TotalAmount: amount("50000"),
		Items:       []ItemInput{{Description: "Laptop 14in", Quantity: decimal.NewFromInt(2), UnitPrice: amount("25000")}},
	})
	require.NoError(t, err)
	require.Equal(t, "OC-2025-0001", po.Number)
	require.Equal(t, OrderDraft, po.Status)
	require.True(t, po.Subtotal.Equal(amount("50000")))
	require.Len(t, items, 1)
	require.Equal(t, po.ID, items[0].OrderID)
	require.Equal(t, RequestOrderCreated, env.requestStatus(t, pr.ID))

	conv, err := env.svc.ConvertToExpense(ctx, staffActor, po.ID, ConvertInput{AccountID: 7, InvoiceNumber: "A-0001-00000042"})
	require.NoError(t, err)
	require.True(t, conv.Balance.Equal(amount("70000")))
	require.Equal(t, OrderInvoiced, conv.Order.Status)
	require.Equal(t, conv.Expense.ID, conv.Order.ExpenseID)
	require.Equal(t, "OC OC-2025-0001", conv.Expense.Description)
	require.Equal(t, RequestCompleted, env.requestStatus(t, pr.ID))

	history, err := env.svc.RequestHistory(ctx, staffActor, pr.ID)
	require.NoError(t, err)
	require.Equal(t, []HistoryAction{
		ActionCreated, ActionSubmitted, ActionApproved, ActionOrderCreated, ActionCompleted,
	}, historyActions(history))
	require.Equal(t, RequestDraft, history[1].OldStatus)
	require.Equal(t, RequestPendingApproval, history[1].NewStatus)
}

func TestPriceCompetitionScenario(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ServiceConfig{})
	env.repo.setBalance(7, amount("5000"))

	pr := env.createRequest(t, "500000")
	require.Equal(t, PurchasePriceCompetition, pr.PurchaseType)
	_, err := env.svc.SubmitRequest(ctx, staffActor, pr.ID, "")
	require.NoError(t, err)
	pr, err = env.svc.ApproveRequest(ctx, rootActor, pr.ID, "")
	require.NoError(t, err)
	require.Equal(t, RequestInQuotation, pr.Status)

	q1000 := env.registerQuote(t, pr.ID, 11, "1000")
	require.Equal(t, RequestQuotationReceived, env.requestStatus(t, pr.ID))
	q1200 := env.registerQuote(t, pr.ID, 12, "1200")
	q900 := env.registerQuote(t, pr.ID, 13, "900")
	require.Equal(t, "COT-2025-0003", q900.Number)

	cmp, err := env.svc.CompareQuotations(ctx, staffActor, pr.ID)
	require.NoError(t, err)
	require.Equal(t, 3, cmp.Summary.Count)
	require.Equal(t, "900.00", cmp.Summary.MinAmount.StringFixed(2))
	require.Equal(t, "1200.00", cmp.Summary.MaxAmount.StringFixed(2))
	require.Equal(t, "1033.33", cmp.Summary.AvgAmount.StringFixed(2))
	require.Equal(t, "300.00", cmp.Summary.Spread.StringFixed(2))
	require.Equal(t, q900.ID, cmp.Entries[0].ID)
	require.True(t, cmp.Entries[0].IsLowest)
	require.True(t, cmp.Entries[0].PercentageAboveMin.IsZero())
	require.Equal(t, "11.11", cmp.Entries[1].PercentageAboveMin.StringFixed(2))
	require.Equal(t, "300.00", cmp.Entries[2].DifferenceFromMin.StringFixed(2))

	selected, err := env.svc.SelectQuotation(ctx, boardActor, q900.ID, "lowest price")
	require.NoError(t, err)
	require.True(t, selected.IsSelected)
	require.Equal(t, QuotationSelected, selected.Status)
	require.Equal(t, RequestInEvaluation, env.requestStatus(t, pr.ID))
	for _, id := range []int64{q1000.ID, q1200.ID} {
		q, _, err := env.repo.GetQuotation(ctx, id)
		require.NoError(t, err)
		require.False(t, q.IsSelected)
		require.Equal(t, QuotationRejected, q.Status)
	}

	po, items, err := env.svc.CreateOrderFromRequest(ctx, staffActor, CreateOrderInput{RequestID: pr.ID, QuotationID: q900.ID})
	require.NoError(t, err)
	require.Equal(t, int64(13), po.SupplierID)
	require.True(t, po.TotalAmount.Equal(amount("900")))
	require.Len(t, items, 1)
	require.Equal(t, "Laptop 14in", items[0].Description)

	conv, err := env.svc.ConvertToExpense(ctx, rootActor, po.ID, ConvertInput{AccountID: 7})
	require.NoError(t, err)
	require.Equal(t, "4100.00", conv.Balance.StringFixed(2))
	require.Equal(t, OrderInvoiced, conv.Order.Status)
	require.Equal(t, RequestCompleted, env.requestStatus(t, pr.ID))
}

func TestConcurrentApprovalsOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ServiceConfig{})
	pr := env.createRequest(t, "1000")
	_, err := env.svc.SubmitRequest(ctx, staffActor, pr.ID, "")
	require.NoError(t, err)

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.ApproveRequest(ctx, boardActor, pr.ID, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrStateConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, successes)
	require.Equal(t, callers-1, conflicts)
	approvals := 0
	for _, h := range env.repo.historyFor(pr.ID) {
		if h.Action == ActionApproved {
			approvals++
		}
	}
	require.Equal(t, 1, approvals)
}

func TestConcurrentSelectionsKeepSingleSelected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ServiceConfig{})
	pr := env.approvedRequest(t, "500000")
	quotes := []Quotation{
		env.registerQuote(t, pr.ID, 11, "1000"),
		env.registerQuote(t, pr.ID, 12, "1100"),
		env.registerQuote(t, pr.ID, 13, "1200"),
	}

	var wg sync.WaitGroup
	for _, q := range quotes {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, _ = env.svc.SelectQuotation(ctx, boardActor, id, "")
		}(q.ID)
	}
	wg.Wait()

	list, err := env.repo.ListQuotations(ctx, pr.ID)
	require.NoError(t, err)
	selected := 0
	for _, q := range list {
		if q.IsSelected {
			selected++
			require.Equal(t, QuotationSelected, q.Status)
		} else {
			require.Equal(t, QuotationRejected, q.Status)
		}
	}
	require.Equal(t, 1, selected)
	require.Equal(t, RequestInEvaluation, env.requestStatus(t, pr.ID))
}

func TestFailedTransitionLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ServiceConfig{})
	pr := env.createRequest(t, "1000")
	env.repo.failWith("AppendHistory", errInjected)

	_, err := env.svc.SubmitRequest(ctx, staffActor, pr.ID, "")
	require.ErrorIs(t, err, ErrPersistence)
	require.ErrorIs(t, err, errInjected)
	require.Equal(t, "internal error", Message(err))

	require.Equal(t, RequestDraft, env.requestStatus(t, pr.ID))
	require.Equal(t, []HistoryAction{ActionCreated}, historyActions(env.repo.historyFor(pr.ID)))
	require.NotContains(t, env.observer.seen(), "request:submitted")
}

func TestObserverSeesCommittedTransitions(t *testing.T) {
	env := newTestEnv(t, ServiceConfig{})
	env.approvedRequest(t, "1000")

	require.Equal(t, []string{"request:created", "request:submitted", "request:approved"}, env.observer.seen())
}

func TestAuthorization(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ServiceConfig{})
	pr := env.createRequest(t, "1000")

	_, err := env.svc.CreateRequest(ctx, guestActor, CreateRequestInput{Title: "x", Description: "y", EstimatedAmount: amount("1")})
	require.ErrorIs(t, err, ErrForbidden)
	_, err = env.svc.CreateRequest(ctx, Actor{Roles: []string{RoleRoot}}, CreateRequestInput{})
	require.ErrorIs(t, err, ErrForbidden)

	_, err = env.svc.SubmitRequest(ctx, staffActor, pr.ID, "")
	require.NoError(t, err)
	_, err = env.svc.ApproveRequest(ctx, staffActor, pr.ID, "")
	require.ErrorIs(t, err, ErrForbidden)
	_, err = env.svc.PendingApproval(ctx, staffActor)
	require.ErrorIs(t, err, ErrForbidden)
	require.Equal(t, RequestPendingApproval, env.requestStatus(t, pr.ID))

	require.True(t, Actor{ID: 9, Roles: []string{" Board_Member "}}.HasAnyRole(RoleBoardMember))
}

func TestDirectPurchaseLimitSettings(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ServiceConfig{})

	limit, err := env.svc.DirectPurchaseLimit(ctx, staffActor)
	require.NoError(t, err)
	require.True(t, limit.Equal(DefaultDirectPurchaseLimit))

	err = env.svc.SetDirectPurchaseLimit(ctx, rootActor, amount("5000"))
	require.ErrorIs(t, err, ErrStateConflict)

	store := &memorySettings{limit: amount("100000")}
	env = newTestEnv(t, ServiceConfig{Settings: store})
	require.ErrorIs(t, env.svc.SetDirectPurchaseLimit(ctx, staffActor, amount("5000")), ErrForbidden)
	require.ErrorIs(t, env.svc.SetDirectPurchaseLimit(ctx, rootActor, amount("-1")), ErrValidation)
	require.NoError(t, env.svc.SetDirectPurchaseLimit(ctx, rootActor, amount("7000")))
	require.Equal(t, rootActor.ID, store.updatedBy)
	require.NoError(t, env.svc.SetDirectPurchaseLimit(ctx, boardActor, amount("5000")))
	require.Equal(t, boardActor.ID, store.updatedBy)

	require.Equal(t, PurchaseDirect, env.createRequest(t, "5000").PurchaseType)
	require.Equal(t, PurchasePriceCompetition, env.createRequest(t, "5000.01").PurchaseType)
}

type memorySettings struct {
	mu        sync.Mutex
	limit     decimal.Decimal
	updatedBy int64
}

func (m *memorySettings) DirectPurchaseLimit(context.Context) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limit, nil
}

func (m *memorySettings) SetDirectPurchaseLimit(_ context.Context, limit decimal.Decimal, actorID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limit = limit
	m.updatedBy = actorID
	return nil
}

func TestMessage(t *testing.T) {
	require.Equal(t, "title is required", Message(invalid("title is required")))
	require.Equal(t, "request 4", Message(notFound("request", 4)))
	require.Equal(t, "request cannot move from draft to approved", Message(requestConflict(RequestDraft, RequestApproved)))
	require.Equal(t, "forbidden", Message(ErrForbidden))
	require.Equal(t, "internal error", Message(persistence(errors.New("connection reset"))))
	require.Equal(t, "", Message(nil))
}

func TestPersistenceKeepsDomainErrors(t *testing.T) {
	err := notFound("order", 3)
	require.Same(t, err, persistence(err))

	wrapped := persistence(errInjected)
	require.ErrorIs(t, wrapped, ErrPersistence)
	require.Same(t, wrapped, persistence(wrapped))
}
