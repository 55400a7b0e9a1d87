package procurement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var errInjected = errors.New("injected failure")

// memoryRepo is an in-memory RepositoryPort. Transactions are serialised by a
// mutex and rolled back by restoring a snapshot, which mirrors the row locks
// and atomicity of the PostgreSQL repository.
type memoryRepo struct {
	mu sync.Mutex
	memoryState
	failOn map[string]error
}

type memoryState struct {
	nextID         int64
	sequences      map[string]int64
	requests       map[int64]PurchaseRequest
	requestItems   map[int64][]RequestItem
	history        []HistoryEntry
	quotations     map[int64]Quotation
	quotationItems map[int64][]QuotationItem
	orders         map[int64]PurchaseOrder
	orderItems     map[int64][]OrderItem
	expenses       map[int64]Expense
	balances       map[int64]decimal.Decimal
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		memoryState: memoryState{
			sequences:      map[string]int64{},
			requests:       map[int64]PurchaseRequest{},
			requestItems:   map[int64][]RequestItem{},
			quotations:     map[int64]Quotation{},
			quotationItems: map[int64][]QuotationItem{},
			orders:         map[int64]PurchaseOrder{},
			orderItems:     map[int64][]OrderItem{},
			expenses:       map[int64]Expense{},
			balances:       map[int64]decimal.Decimal{},
		},
		failOn: map[string]error{},
	}
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		nextID:         s.nextID,
		sequences:      make(map[string]int64, len(s.sequences)),
		requests:       make(map[int64]PurchaseRequest, len(s.requests)),
		requestItems:   make(map[int64][]RequestItem, len(s.requestItems)),
		history:        append([]HistoryEntry(nil), s.history...),
		quotations:     make(map[int64]Quotation, len(s.quotations)),
		quotationItems: make(map[int64][]QuotationItem, len(s.quotationItems)),
		orders:         make(map[int64]PurchaseOrder, len(s.orders)),
		orderItems:     make(map[int64][]OrderItem, len(s.orderItems)),
		expenses:       make(map[int64]Expense, len(s.expenses)),
		balances:       make(map[int64]decimal.Decimal, len(s.balances)),
	}
	for k, v := range s.sequences {
		out.sequences[k] = v
	}
	for k, v := range s.requests {
		out.requests[k] = v
	}
	for k, v := range s.requestItems {
		out.requestItems[k] = append([]RequestItem(nil), v...)
	}
	for k, v := range s.quotations {
		out.quotations[k] = v
	}
	for k, v := range s.quotationItems {
		out.quotationItems[k] = append([]QuotationItem(nil), v...)
	}
	for k, v := range s.orders {
		out.orders[k] = v
	}
	for k, v := range s.orderItems {
		out.orderItems[k] = append([]OrderItem(nil), v...)
	}
	for k, v := range s.expenses {
		out.expenses[k] = v
	}
	for k, v := range s.balances {
		out.balances[k] = v
	}
	return out
}

func (m *memoryRepo) failWith(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[method] = err
}

func (m *memoryRepo) setBalance(accountID int64, balance decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[accountID] = balance
}

func (m *memoryRepo) balance(accountID int64) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[accountID]
}

func (m *memoryRepo) historyFor(requestID int64) []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []HistoryEntry
	for _, h := range m.history {
		if h.RequestID == requestID {
			out = append(out, h)
		}
	}
	return out
}

func (m *memoryRepo) expenseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.expenses)
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.memoryState.clone()
	if err := fn(ctx, &memoryTx{repo: m}); err != nil {
		m.memoryState = snapshot
		return err
	}
	return nil
}

func (m *memoryRepo) GetRequest(ctx context.Context, id int64) (PurchaseRequest, []RequestItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.requests[id]
	if !ok {
		return PurchaseRequest{}, nil, notFound("request", id)
	}
	return pr, append([]RequestItem(nil), m.requestItems[id]...), nil
}

func (m *memoryRepo) ListRequests(ctx context.Context, filters RequestFilters) ([]PurchaseRequest, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []PurchaseRequest
	for _, pr := range m.requests {
		switch {
		case filters.Status != "" && pr.Status != filters.Status:
			continue
		case filters.PurchaseType != "" && pr.PurchaseType != filters.PurchaseType:
			continue
		case filters.CategoryID > 0 && pr.CategoryID != filters.CategoryID:
			continue
		case filters.RequestedBy > 0 && pr.RequestedBy != filters.RequestedBy:
			continue
		case filters.Priority != "" && pr.Priority != filters.Priority:
			continue
		case filters.From != nil && pr.CreatedAt.Before(*filters.From):
			continue
		case filters.To != nil && !pr.CreatedAt.Before(*filters.To):
			continue
		}
		if filters.Search != "" {
			needle := strings.ToLower(filters.Search)
			hay := strings.ToLower(pr.Number + " " + pr.Title + " " + pr.Description)
			if !strings.Contains(hay, needle) {
				continue
			}
		}
		matched = append(matched, pr)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	page, limit := NormalizePage(filters.Page, filters.Limit)
	start := (page - 1) * limit
	if start >= len(matched) {
		return nil, len(matched), nil
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], len(matched), nil
}

func priorityRank(p Priority) int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityNormal:
		return 2
	}
	return 1
}

func (m *memoryRepo) ListPendingApproval(ctx context.Context) ([]PendingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PendingRequest
	for _, pr := range m.requests {
		if pr.Status != RequestPendingApproval {
			continue
		}
		count := 0
		for _, q := range m.quotations {
			if q.RequestID == pr.ID {
				count++
			}
		}
		out = append(out, PendingRequest{PurchaseRequest: pr, QuotationCount: count})
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := priorityRank(out[i].Priority), priorityRank(out[j].Priority)
		if ri != rj {
			return ri > rj
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memoryRepo) ListHistory(ctx context.Context, requestID int64) ([]HistoryEntry, error) {
	return m.historyFor(requestID), nil
}

func (m *memoryRepo) GetQuotation(ctx context.Context, id int64) (Quotation, []QuotationItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotations[id]
	if !ok {
		return Quotation{}, nil, notFound("quotation", id)
	}
	return q, append([]QuotationItem(nil), m.quotationItems[id]...), nil
}

func (m *memoryRepo) ListQuotations(ctx context.Context, requestID int64) ([]Quotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Quotation
	for _, q := range m.quotations {
		if q.RequestID == requestID {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].TotalAmount.Cmp(out[j].TotalAmount); c != 0 {
			return c < 0
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memoryRepo) GetOrder(ctx context.Context, id int64) (PurchaseOrder, []OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	po, ok := m.orders[id]
	if !ok {
		return PurchaseOrder{}, nil, notFound("order", id)
	}
	return po, append([]OrderItem(nil), m.orderItems[id]...), nil
}

func (m *memoryRepo) ListOrders(ctx context.Context, filters OrderFilters) ([]PurchaseOrder, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PurchaseOrder
	for _, po := range m.orders {
		switch {
		case filters.Status != "" && po.Status != filters.Status:
			continue
		case filters.SupplierID > 0 && po.SupplierID != filters.SupplierID:
			continue
		case filters.RequestID > 0 && po.RequestID != filters.RequestID:
			continue
		case filters.Search != "" && !strings.Contains(po.Number, filters.Search):
			continue
		}
		out = append(out, po)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, len(out), nil
}

// memoryTx runs with memoryRepo.mu held.
type memoryTx struct {
	repo *memoryRepo
}

func (tx *memoryTx) fail(method string) error {
	if err, ok := tx.repo.failOn[method]; ok {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

func (tx *memoryTx) id() int64 {
	tx.repo.nextID++
	return tx.repo.nextID
}

func (tx *memoryTx) NextSequence(ctx context.Context, prefix string, year int) (int64, error) {
	if err := tx.fail("NextSequence"); err != nil {
		return 0, err
	}
	key := fmt.Sprintf("%s-%d", prefix, year)
	tx.repo.sequences[key]++
	return tx.repo.sequences[key], nil
}

func (tx *memoryTx) LockRequest(ctx context.Context, id int64) (PurchaseRequest, error) {
	pr, ok := tx.repo.requests[id]
	if !ok {
		return PurchaseRequest{}, notFound("request", id)
	}
	return pr, nil
}

func (tx *memoryTx) CreateRequest(ctx context.Context, pr PurchaseRequest) (int64, error) {
	if err := tx.fail("CreateRequest"); err != nil {
		return 0, err
	}
	pr.ID = tx.id()
	tx.repo.requests[pr.ID] = pr
	return pr.ID, nil
}

func (tx *memoryTx) UpdateRequest(ctx context.Context, pr PurchaseRequest) error {
	if err := tx.fail("UpdateRequest"); err != nil {
		return err
	}
	current := tx.repo.requests[pr.ID]
	pr.Number, pr.Status, pr.RequestedBy, pr.CreatedAt = current.Number, current.Status, current.RequestedBy, current.CreatedAt
	tx.repo.requests[pr.ID] = pr
	return nil
}

func (tx *memoryTx) UpdateRequestStatus(ctx context.Context, id int64, status RequestStatus) error {
	if err := tx.fail("UpdateRequestStatus"); err != nil {
		return err
	}
	pr := tx.repo.requests[id]
	pr.Status = status
	tx.repo.requests[id] = pr
	return nil
}

func (tx *memoryTx) SetRequestApproval(ctx context.Context, id int64, approvedBy int64, approvedAt time.Time) error {
	pr := tx.repo.requests[id]
	pr.ApprovedBy = approvedBy
	pr.ApprovedAt = &approvedAt
	tx.repo.requests[id] = pr
	return nil
}

func (tx *memoryTx) SetRequestRejection(ctx context.Context, id int64, reason string) error {
	pr := tx.repo.requests[id]
	pr.RejectionReason = reason
	tx.repo.requests[id] = pr
	return nil
}

func (tx *memoryTx) ReplaceRequestItems(ctx context.Context, requestID int64, items []RequestItem) error {
	out := make([]RequestItem, 0, len(items))
	for _, item := range items {
		item.ID = tx.id()
		item.RequestID = requestID
		out = append(out, item)
	}
	tx.repo.requestItems[requestID] = out
	return nil
}

func (tx *memoryTx) DeleteRequest(ctx context.Context, id int64) error {
	delete(tx.repo.requests, id)
	delete(tx.repo.requestItems, id)
	for qid, q := range tx.repo.quotations {
		if q.RequestID == id {
			delete(tx.repo.quotations, qid)
			delete(tx.repo.quotationItems, qid)
		}
	}
	return nil
}

func (tx *memoryTx) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	if err := tx.fail("AppendHistory"); err != nil {
		return err
	}
	entry.ID = tx.id()
	tx.repo.history = append(tx.repo.history, entry)
	return nil
}

func (tx *memoryTx) LastHistoryEntry(ctx context.Context, requestID int64, action HistoryAction) (HistoryEntry, error) {
	for i := len(tx.repo.history) - 1; i >= 0; i-- {
		h := tx.repo.history[i]
		if h.RequestID == requestID && h.Action == action {
			return h, nil
		}
	}
	return HistoryEntry{}, nil
}

func (tx *memoryTx) QuotationRequestID(ctx context.Context, id int64) (int64, error) {
	q, ok := tx.repo.quotations[id]
	if !ok {
		return 0, notFound("quotation", id)
	}
	return q.RequestID, nil
}

func (tx *memoryTx) LockQuotation(ctx context.Context, id int64) (Quotation, error) {
	q, ok := tx.repo.quotations[id]
	if !ok {
		return Quotation{}, notFound("quotation", id)
	}
	return q, nil
}

func (tx *memoryTx) QuotationItems(ctx context.Context, id int64) ([]QuotationItem, error) {
	return append([]QuotationItem(nil), tx.repo.quotationItems[id]...), nil
}

func (tx *memoryTx) CreateQuotation(ctx context.Context, q Quotation) (int64, error) {
	if err := tx.fail("CreateQuotation"); err != nil {
		return 0, err
	}
	q.ID = tx.id()
	tx.repo.quotations[q.ID] = q
	return q.ID, nil
}

func (tx *memoryTx) UpdateQuotation(ctx context.Context, q Quotation) error {
	tx.repo.quotations[q.ID] = q
	return nil
}

func (tx *memoryTx) ReplaceQuotationItems(ctx context.Context, quotationID int64, items []QuotationItem) error {
	out := make([]QuotationItem, 0, len(items))
	for _, item := range items {
		item.ID = tx.id()
		item.QuotationID = quotationID
		out = append(out, item)
	}
	tx.repo.quotationItems[quotationID] = out
	return nil
}

func (tx *memoryTx) RejectOtherQuotations(ctx context.Context, requestID, keepID int64) error {
	for id, q := range tx.repo.quotations {
		if q.RequestID == requestID && id != keepID {
			q.IsSelected = false
			q.Status = QuotationRejected
			tx.repo.quotations[id] = q
		}
	}
	return nil
}

func (tx *memoryTx) MarkQuotationSelected(ctx context.Context, id int64, reason string) error {
	if err := tx.fail("MarkQuotationSelected"); err != nil {
		return err
	}
	q := tx.repo.quotations[id]
	q.IsSelected = true
	q.Status = QuotationSelected
	q.SelectionReason = reason
	tx.repo.quotations[id] = q
	return nil
}

func (tx *memoryTx) CountSelectedQuotations(ctx context.Context, requestID int64) (int, error) {
	count := 0
	for _, q := range tx.repo.quotations {
		if q.RequestID == requestID && q.IsSelected {
			count++
		}
	}
	return count, nil
}

func (tx *memoryTx) DeleteQuotation(ctx context.Context, id int64) error {
	delete(tx.repo.quotations, id)
	delete(tx.repo.quotationItems, id)
	return nil
}

func (tx *memoryTx) LockOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, ok := tx.repo.orders[id]
	if !ok {
		return PurchaseOrder{}, notFound("order", id)
	}
	return po, nil
}

func (tx *memoryTx) ActiveOrderForRequest(ctx context.Context, requestID int64) (int64, error) {
	for id, po := range tx.repo.orders {
		if po.RequestID == requestID && po.Status != OrderCancelled {
			return id, nil
		}
	}
	return 0, nil
}

func (tx *memoryTx) CreateOrder(ctx context.Context, po PurchaseOrder) (int64, error) {
	if err := tx.fail("CreateOrder"); err != nil {
		return 0, err
	}
	po.ID = tx.id()
	tx.repo.orders[po.ID] = po
	return po.ID, nil
}

func (tx *memoryTx) InsertOrderItems(ctx context.Context, orderID int64, items []OrderItem) error {
	out := make([]OrderItem, 0, len(items))
	for _, item := range items {
		item.ID = tx.id()
		item.OrderID = orderID
		out = append(out, item)
	}
	tx.repo.orderItems[orderID] = out
	return nil
}

func (tx *memoryTx) UpdateOrderStatus(ctx context.Context, id int64, status OrderStatus, actualDelivery *time.Time) error {
	po := tx.repo.orders[id]
	po.Status = status
	po.ActualDeliveryDate = actualDelivery
	tx.repo.orders[id] = po
	return nil
}

func (tx *memoryTx) MarkOrderInvoiced(ctx context.Context, id int64, update InvoiceUpdate) error {
	if err := tx.fail("MarkOrderInvoiced"); err != nil {
		return err
	}
	po := tx.repo.orders[id]
	if po.ExpenseID != 0 {
		return fmt.Errorf("%w: order %d", ErrAlreadyConverted, id)
	}
	po.Status = OrderInvoiced
	po.ExpenseID = update.ExpenseID
	po.AccountID = update.AccountID
	po.InvoiceNumber = update.InvoiceNumber
	po.InvoiceDate = update.InvoiceDate
	tx.repo.orders[id] = po
	return nil
}

func (tx *memoryTx) DeleteOrder(ctx context.Context, id int64) error {
	delete(tx.repo.orders, id)
	delete(tx.repo.orderItems, id)
	return nil
}

func (tx *memoryTx) CreateExpense(ctx context.Context, e Expense) (int64, error) {
	if err := tx.fail("CreateExpense"); err != nil {
		return 0, err
	}
	e.ID = tx.id()
	tx.repo.expenses[e.ID] = e
	return e.ID, nil
}

func (tx *memoryTx) Ledger() LedgerPort {
	return memoryLedger{tx: tx}
}

type memoryLedger struct {
	tx *memoryTx
}

func (l memoryLedger) Debit(ctx context.Context, accountID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := l.tx.fail("Debit"); err != nil {
		return decimal.Zero, err
	}
	if !amount.IsPositive() {
		return decimal.Zero, invalid("order total must be positive to convert")
	}
	balance, ok := l.tx.repo.balances[accountID]
	if !ok {
		return decimal.Zero, notFound("account", accountID)
	}
	balance = balance.Sub(amount)
	l.tx.repo.balances[accountID] = balance
	return balance, nil
}
