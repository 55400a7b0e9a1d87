package procurement

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/purchasing/internal/ledger"
	"github.com/odyssey-erp/purchasing/internal/platform/db"
)

// Index names backing the selection and conversion invariants.
const (
	selectedQuotationIndex = "quotations_one_selected"
	orderExpenseIndex      = "purchase_orders_expense_key"
	expenseOrderIndex      = "expenses_purchase_order_key"
	activeOrderIndex       = "purchase_orders_one_active"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations. Lock* methods take a row lock
// held until the transaction ends.
type TxRepository interface {
	NextSequence(ctx context.Context, prefix string, year int) (int64, error)

	LockRequest(ctx context.Context, id int64) (PurchaseRequest, error)
	CreateRequest(ctx context.Context, pr PurchaseRequest) (int64, error)
	UpdateRequest(ctx context.Context, pr PurchaseRequest) error
	UpdateRequestStatus(ctx context.Context, id int64, status RequestStatus) error
	SetRequestApproval(ctx context.Context, id int64, approvedBy int64, approvedAt time.Time) error
	SetRequestRejection(ctx context.Context, id int64, reason string) error
	ReplaceRequestItems(ctx context.Context, requestID int64, items []RequestItem) error
	DeleteRequest(ctx context.Context, id int64) error

	AppendHistory(ctx context.Context, entry HistoryEntry) error
	LastHistoryEntry(ctx context.Context, requestID int64, action HistoryAction) (HistoryEntry, error)

	QuotationRequestID(ctx context.Context, id int64) (int64, error)
	LockQuotation(ctx context.Context, id int64) (Quotation, error)
	QuotationItems(ctx context.Context, id int64) ([]QuotationItem, error)
	CreateQuotation(ctx context.Context, q Quotation) (int64, error)
	UpdateQuotation(ctx context.Context, q Quotation) error
	ReplaceQuotationItems(ctx context.Context, quotationID int64, items []QuotationItem) error
	RejectOtherQuotations(ctx context.Context, requestID, keepID int64) error
	MarkQuotationSelected(ctx context.Context, id int64, reason string) error
	CountSelectedQuotations(ctx context.Context, requestID int64) (int, error)
	DeleteQuotation(ctx context.Context, id int64) error

	LockOrder(ctx context.Context, id int64) (PurchaseOrder, error)
	ActiveOrderForRequest(ctx context.Context, requestID int64) (int64, error)
	CreateOrder(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertOrderItems(ctx context.Context, orderID int64, items []OrderItem) error
	UpdateOrderStatus(ctx context.Context, id int64, status OrderStatus, actualDelivery *time.Time) error
	MarkOrderInvoiced(ctx context.Context, id int64, update InvoiceUpdate) error
	DeleteOrder(ctx context.Context, id int64) error

	CreateExpense(ctx context.Context, e Expense) (int64, error)
	Ledger() LedgerPort
}

type txRepo struct {
	tx     pgx.Tx
	ledger *ledger.Store
}

// WithTx runs fn in a transaction, committing when fn returns nil.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, ledger: ledger.NewStore(tx)})
	})
	return translatePgError(err)
}

// translatePgError maps constraint backstops onto domain errors.
func translatePgError(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err, selectedQuotationIndex):
		return fmt.Errorf("%w: concurrent selection", ErrDuplicateSelection)
	case db.IsUniqueViolation(err, orderExpenseIndex), db.IsUniqueViolation(err, expenseOrderIndex):
		return fmt.Errorf("%w: concurrent conversion", ErrAlreadyConverted)
	case db.IsUniqueViolation(err, activeOrderIndex):
		return fmt.Errorf("%w: request already has an active order", ErrStateConflict)
	case db.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: record is still referenced", ErrStateConflict)
	case db.IsConcurrencyFailure(err):
		return fmt.Errorf("%w: concurrent update, retry", ErrStateConflict)
	}
	return err
}

func noRows(err error, entity string, id int64) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(entity, id)
	}
	return err
}

const requestColumns = `id, request_number, title, description, justification, COALESCE(category_id, 0),
	estimated_amount, currency, purchase_type, priority, status, COALESCE(preferred_supplier_id, 0),
	required_date, requested_by, COALESCE(approved_by, 0), approved_at, rejection_reason, notes,
	created_at, updated_at`

func scanRequest(row pgx.Row, pr *PurchaseRequest) error {
	return row.Scan(&pr.ID, &pr.Number, &pr.Title, &pr.Description, &pr.Justification, &pr.CategoryID,
		&pr.EstimatedAmount, &pr.Currency, &pr.PurchaseType, &pr.Priority, &pr.Status, &pr.PreferredSupplierID,
		&pr.RequiredDate, &pr.RequestedBy, &pr.ApprovedBy, &pr.ApprovedAt, &pr.RejectionReason, &pr.Notes,
		&pr.CreatedAt, &pr.UpdatedAt)
}

const quotationColumns = `id, quotation_number, purchase_request_id, supplier_id, subtotal, tax_amount,
	total_amount, payment_terms, delivery_time, valid_until, status, is_selected, selection_reason, notes,
	received_by, received_at`

func scanQuotation(row pgx.Row, q *Quotation) error {
	return row.Scan(&q.ID, &q.Number, &q.RequestID, &q.SupplierID, &q.Subtotal, &q.TaxAmount,
		&q.TotalAmount, &q.PaymentTerms, &q.DeliveryTime, &q.ValidUntil, &q.Status, &q.IsSelected,
		&q.SelectionReason, &q.Notes, &q.ReceivedBy, &q.ReceivedAt)
}

const orderColumns = `id, order_number, COALESCE(purchase_request_id, 0), COALESCE(quotation_id, 0), supplier_id,
	subtotal, tax_amount, total_amount, currency, status, payment_terms, delivery_address, delivery_notes, notes,
	expected_delivery_date, actual_delivery_date, COALESCE(expense_id, 0), COALESCE(account_id, 0),
	invoice_number, invoice_date, created_by, created_at`

func scanOrder(row pgx.Row, po *PurchaseOrder) error {
	return row.Scan(&po.ID, &po.Number, &po.RequestID, &po.QuotationID, &po.SupplierID,
		&po.Subtotal, &po.TaxAmount, &po.TotalAmount, &po.Currency, &po.Status, &po.PaymentTerms,
		&po.DeliveryAddress, &po.DeliveryNotes, &po.Notes, &po.ExpectedDeliveryDate, &po.ActualDeliveryDate,
		&po.ExpenseID, &po.AccountID, &po.InvoiceNumber, &po.InvoiceDate, &po.CreatedBy, &po.CreatedAt)
}

// Fetch helpers

// GetRequest returns a purchase request and its lines.
func (r *Repository) GetRequest(ctx context.Context, id int64) (PurchaseRequest, []RequestItem, error) {
	var pr PurchaseRequest
	if err := scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM purchase_requests WHERE id = $1`, id), &pr); err != nil {
		return PurchaseRequest{}, nil, noRows(err, "request", id)
	}
	rows, err := r.pool.Query(ctx, `SELECT id, purchase_request_id, description, quantity, unit, estimated_unit_price, order_index
		FROM purchase_request_items WHERE purchase_request_id = $1 ORDER BY order_index, id`, id)
	if err != nil {
		return PurchaseRequest{}, nil, err
	}
	defer rows.Close()
	var items []RequestItem
	for rows.Next() {
		var item RequestItem
		if err := rows.Scan(&item.ID, &item.RequestID, &item.Description, &item.Quantity, &item.Unit, &item.EstimatedUnitPrice, &item.OrderIndex); err != nil {
			return PurchaseRequest{}, nil, err
		}
		items = append(items, item)
	}
	return pr, items, rows.Err()
}

// ListRequests returns filtered requests newest first.
func (r *Repository) ListRequests(ctx context.Context, filters RequestFilters) ([]PurchaseRequest, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	add := func(clause string, value any) {
		args = append(args, value)
		where += fmt.Sprintf(clause, len(args))
	}
	if filters.Status != "" {
		add(` AND status = $%d`, filters.Status)
	}
	if filters.PurchaseType != "" {
		add(` AND purchase_type = $%d`, filters.PurchaseType)
	}
	if filters.CategoryID > 0 {
		add(` AND category_id = $%d`, filters.CategoryID)
	}
	if filters.RequestedBy > 0 {
		add(` AND requested_by = $%d`, filters.RequestedBy)
	}
	if filters.Priority != "" {
		add(` AND priority = $%d`, filters.Priority)
	}
	if filters.From != nil {
		add(` AND created_at >= $%d`, *filters.From)
	}
	if filters.To != nil {
		add(` AND created_at < $%d`, *filters.To)
	}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		n := len(args)
		where += fmt.Sprintf(` AND (request_number ILIKE $%d OR title ILIKE $%d OR description ILIKE $%d)`, n, n, n)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_requests`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, limit := NormalizePage(filters.Page, filters.Limit)
	dataSQL := `SELECT ` + requestColumns + ` FROM purchase_requests` + where +
		` ORDER BY created_at DESC, id DESC LIMIT $` + itoa(len(args)+1) + ` OFFSET $` + itoa(len(args)+2)
	rows, err := r.pool.Query(ctx, dataSQL, append(args, limit, (page-1)*limit)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []PurchaseRequest
	for rows.Next() {
		var pr PurchaseRequest
		if err := scanRequest(rows, &pr); err != nil {
			return nil, 0, err
		}
		out = append(out, pr)
	}
	return out, total, rows.Err()
}

// ListPendingApproval returns the approval queue, most urgent and oldest first.
func (r *Repository) ListPendingApproval(ctx context.Context) ([]PendingRequest, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+requestColumns+`,
		(SELECT COUNT(*) FROM quotations q WHERE q.purchase_request_id = purchase_requests.id)
		FROM purchase_requests
		WHERE status = $1
		ORDER BY CASE priority WHEN 'urgent' THEN 4 WHEN 'high' THEN 3 WHEN 'normal' THEN 2 ELSE 1 END DESC,
			created_at ASC`, RequestPendingApproval)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PendingRequest
	for rows.Next() {
		var p PendingRequest
		pr := &p.PurchaseRequest
		if err := rows.Scan(&pr.ID, &pr.Number, &pr.Title, &pr.Description, &pr.Justification, &pr.CategoryID,
			&pr.EstimatedAmount, &pr.Currency, &pr.PurchaseType, &pr.Priority, &pr.Status, &pr.PreferredSupplierID,
			&pr.RequiredDate, &pr.RequestedBy, &pr.ApprovedBy, &pr.ApprovedAt, &pr.RejectionReason, &pr.Notes,
			&pr.CreatedAt, &pr.UpdatedAt, &p.QuotationCount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListHistory returns the audit trail of a request, oldest first.
func (r *Repository) ListHistory(ctx context.Context, requestID int64) ([]HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, purchase_request_id, action, COALESCE(from_status, ''), COALESCE(to_status, ''),
		COALESCE(user_id, 0), comments, created_at
		FROM purchase_request_history WHERE purchase_request_id = $1 ORDER BY created_at, id`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ID, &h.RequestID, &h.Action, &h.OldStatus, &h.NewStatus, &h.ActorID, &h.Comment, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// GetQuotation returns a quotation and its lines.
func (r *Repository) GetQuotation(ctx context.Context, id int64) (Quotation, []QuotationItem, error) {
	var q Quotation
	if err := scanQuotation(r.pool.QueryRow(ctx, `SELECT `+quotationColumns+` FROM quotations WHERE id = $1`, id), &q); err != nil {
		return Quotation{}, nil, noRows(err, "quotation", id)
	}
	items, err := queryQuotationItems(ctx, r.pool, id)
	if err != nil {
		return Quotation{}, nil, err
	}
	return q, items, nil
}

// ListQuotations returns the quotations of a request ordered by total.
func (r *Repository) ListQuotations(ctx context.Context, requestID int64) ([]Quotation, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+quotationColumns+` FROM quotations
		WHERE purchase_request_id = $1 ORDER BY total_amount ASC, id ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Quotation
	for rows.Next() {
		var q Quotation
		if err := scanQuotation(rows, &q); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// GetOrder returns a purchase order and its lines.
func (r *Repository) GetOrder(ctx context.Context, id int64) (PurchaseOrder, []OrderItem, error) {
	var po PurchaseOrder
	if err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id = $1`, id), &po); err != nil {
		return PurchaseOrder{}, nil, noRows(err, "order", id)
	}
	rows, err := r.pool.Query(ctx, `SELECT id, purchase_order_id, description, quantity, unit, unit_price, order_index
		FROM purchase_order_items WHERE purchase_order_id = $1 ORDER BY order_index, id`, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	defer rows.Close()
	var items []OrderItem
	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.Description, &item.Quantity, &item.Unit, &item.UnitPrice, &item.OrderIndex); err != nil {
			return PurchaseOrder{}, nil, err
		}
		items = append(items, item)
	}
	return po, items, rows.Err()
}

// ListOrders returns filtered orders newest first.
func (r *Repository) ListOrders(ctx context.Context, filters OrderFilters) ([]PurchaseOrder, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filters.Status != "" {
		args = append(args, filters.Status)
		where += ` AND status = $` + itoa(len(args))
	}
	if filters.SupplierID > 0 {
		args = append(args, filters.SupplierID)
		where += ` AND supplier_id = $` + itoa(len(args))
	}
	if filters.RequestID > 0 {
		args = append(args, filters.RequestID)
		where += ` AND purchase_request_id = $` + itoa(len(args))
	}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		where += ` AND order_number ILIKE $` + itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page, limit := NormalizePage(filters.Page, filters.Limit)
	dataSQL := `SELECT ` + orderColumns + ` FROM purchase_orders` + where +
		` ORDER BY created_at DESC, id DESC LIMIT $` + itoa(len(args)+1) + ` OFFSET $` + itoa(len(args)+2)
	rows, err := r.pool.Query(ctx, dataSQL, append(args, limit, (page-1)*limit)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []PurchaseOrder
	for rows.Next() {
		var po PurchaseOrder
		if err := scanOrder(rows, &po); err != nil {
			return nil, 0, err
		}
		out = append(out, po)
	}
	return out, total, rows.Err()
}

type rowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryQuotationItems(ctx context.Context, q rowQuerier, id int64) ([]QuotationItem, error) {
	rows, err := q.Query(ctx, `SELECT id, quotation_id, description, quantity, unit, unit_price, order_index
		FROM quotation_items WHERE quotation_id = $1 ORDER BY order_index, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []QuotationItem
	for rows.Next() {
		var item QuotationItem
		if err := rows.Scan(&item.ID, &item.QuotationID, &item.Description, &item.Quantity, &item.Unit, &item.UnitPrice, &item.OrderIndex); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// itoa converts int to string for dynamic query building.
func itoa(i int) string {
	return strconv.Itoa(i)
}

func (tx *txRepo) NextSequence(ctx context.Context, prefix string, year int) (int64, error) {
	var value int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO purchase_sequences (prefix, year, last_value) VALUES ($1, $2, 1)
		ON CONFLICT (prefix, year) DO UPDATE SET last_value = purchase_sequences.last_value + 1
		RETURNING last_value`, prefix, year).Scan(&value)
	return value, err
}

func (tx *txRepo) LockRequest(ctx context.Context, id int64) (PurchaseRequest, error) {
	var pr PurchaseRequest
	if err := scanRequest(tx.tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM purchase_requests WHERE id = $1 FOR UPDATE`, id), &pr); err != nil {
		return PurchaseRequest{}, noRows(err, "request", id)
	}
	return pr, nil
}

func (tx *txRepo) CreateRequest(ctx context.Context, pr PurchaseRequest) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO purchase_requests (request_number, title, description, justification,
		category_id, estimated_amount, currency, purchase_type, priority, status, preferred_supplier_id, required_date,
		requested_by, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5::bigint, 0), $6, $7, $8, $9, $10, NULLIF($11::bigint, 0), $12, $13, $14, $15, $15)
		RETURNING id`,
		pr.Number, pr.Title, pr.Description, pr.Justification, pr.CategoryID, pr.EstimatedAmount, pr.Currency,
		pr.PurchaseType, pr.Priority, pr.Status, pr.PreferredSupplierID, pr.RequiredDate, pr.RequestedBy, pr.Notes,
		pr.CreatedAt).Scan(&id)
	return id, err
}

func (tx *txRepo) UpdateRequest(ctx context.Context, pr PurchaseRequest) error {
	_, err := tx.tx.Exec(ctx, `UPDATE purchase_requests SET title = $2, description = $3, justification = $4,
		category_id = NULLIF($5::bigint, 0), estimated_amount = $6, currency = $7, purchase_type = $8, priority = $9,
		preferred_supplier_id = NULLIF($10::bigint, 0), required_date = $11, notes = $12, updated_at = $13
		WHERE id = $1`,
		pr.ID, pr.Title, pr.Description, pr.Justification, pr.CategoryID, pr.EstimatedAmount, pr.Currency,
		pr.PurchaseType, pr.Priority, pr.PreferredSupplierID, pr.RequiredDate, pr.Notes, pr.UpdatedAt)
	return err
}

func (tx *txRepo) UpdateRequestStatus(ctx context.Context, id int64, status RequestStatus) error {
	_, err := tx.tx.Exec(ctx, `UPDATE purchase_requests SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	return err
}

func (tx *txRepo) SetRequestApproval(ctx context.Context, id int64, approvedBy int64, approvedAt time.Time) error {
	_, err := tx.tx.Exec(ctx, `UPDATE purchase_requests SET approved_by = $2, approved_at = $3 WHERE id = $1`, id, approvedBy, approvedAt)
	return err
}

func (tx *txRepo) SetRequestRejection(ctx context.Context, id int64, reason string) error {
	_, err := tx.tx.Exec(ctx, `UPDATE purchase_requests SET rejection_reason = $2 WHERE id = $1`, id, reason)
	return err
}

func (tx *txRepo) ReplaceRequestItems(ctx context.Context, requestID int64, items []RequestItem) error {
	if _, err := tx.tx.Exec(ctx, `DELETE FROM purchase_request_items WHERE purchase_request_id = $1`, requestID); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(`INSERT INTO purchase_request_items (purchase_request_id, description, quantity, unit, estimated_unit_price, order_index)
			VALUES ($1, $2, $3, $4, $5, $6)`, requestID, item.Description, item.Quantity, item.Unit, item.EstimatedUnitPrice, item.OrderIndex)
	}
	return tx.sendBatch(ctx, batch)
}

func (tx *txRepo) DeleteRequest(ctx context.Context, id int64) error {
	_, err := tx.tx.Exec(ctx, `DELETE FROM purchase_requests WHERE id = $1`, id)
	return err
}

func (tx *txRepo) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	_, err := tx.tx.Exec(ctx, `INSERT INTO purchase_request_history
		(purchase_request_id, action, from_status, to_status, comments, user_id, created_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, NULLIF($6::bigint, 0), $7)`,
		entry.RequestID, entry.Action, string(entry.OldStatus), string(entry.NewStatus), entry.Comment, entry.ActorID, entry.CreatedAt)
	return err
}

func (tx *txRepo) LastHistoryEntry(ctx context.Context, requestID int64, action HistoryAction) (HistoryEntry, error) {
	var h HistoryEntry
	err := tx.tx.QueryRow(ctx, `SELECT id, purchase_request_id, action, COALESCE(from_status, ''), COALESCE(to_status, ''),
		COALESCE(user_id, 0), comments, created_at
		FROM purchase_request_history WHERE purchase_request_id = $1 AND action = $2
		ORDER BY created_at DESC, id DESC LIMIT 1`, requestID, action).
		Scan(&h.ID, &h.RequestID, &h.Action, &h.OldStatus, &h.NewStatus, &h.ActorID, &h.Comment, &h.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return HistoryEntry{}, nil
	}
	return h, err
}

func (tx *txRepo) QuotationRequestID(ctx context.Context, id int64) (int64, error) {
	var requestID int64
	if err := tx.tx.QueryRow(ctx, `SELECT purchase_request_id FROM quotations WHERE id = $1`, id).Scan(&requestID); err != nil {
		return 0, noRows(err, "quotation", id)
	}
	return requestID, nil
}

func (tx *txRepo) LockQuotation(ctx context.Context, id int64) (Quotation, error) {
	var q Quotation
	if err := scanQuotation(tx.tx.QueryRow(ctx, `SELECT `+quotationColumns+` FROM quotations WHERE id = $1 FOR UPDATE`, id), &q); err != nil {
		return Quotation{}, noRows(err, "quotation", id)
	}
	return q, nil
}

func (tx *txRepo) QuotationItems(ctx context.Context, id int64) ([]QuotationItem, error) {
	return queryQuotationItems(ctx, tx.tx, id)
}

func (tx *txRepo) CreateQuotation(ctx context.Context, q Quotation) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO quotations (quotation_number, purchase_request_id, supplier_id, subtotal,
		tax_amount, total_amount, payment_terms, delivery_time, valid_until, status, is_selected, notes, received_by, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, FALSE, $11, $12, $13)
		RETURNING id`,
		q.Number, q.RequestID, q.SupplierID, q.Subtotal, q.TaxAmount, q.TotalAmount, q.PaymentTerms, q.DeliveryTime,
		q.ValidUntil, q.Status, q.Notes, q.ReceivedBy, q.ReceivedAt).Scan(&id)
	return id, err
}

func (tx *txRepo) UpdateQuotation(ctx context.Context, q Quotation) error {
	_, err := tx.tx.Exec(ctx, `UPDATE quotations SET supplier_id = $2, subtotal = $3, tax_amount = $4, total_amount = $5,
		payment_terms = $6, delivery_time = $7, valid_until = $8, notes = $9, updated_at = NOW()
		WHERE id = $1`,
		q.ID, q.SupplierID, q.Subtotal, q.TaxAmount, q.TotalAmount, q.PaymentTerms, q.DeliveryTime, q.ValidUntil, q.Notes)
	return err
}

func (tx *txRepo) ReplaceQuotationItems(ctx context.Context, quotationID int64, items []QuotationItem) error {
	if _, err := tx.tx.Exec(ctx, `DELETE FROM quotation_items WHERE quotation_id = $1`, quotationID); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(`INSERT INTO quotation_items (quotation_id, description, quantity, unit, unit_price, order_index)
			VALUES ($1, $2, $3, $4, $5, $6)`, quotationID, item.Description, item.Quantity, item.Unit, item.UnitPrice, item.OrderIndex)
	}
	return tx.sendBatch(ctx, batch)
}

func (tx *txRepo) RejectOtherQuotations(ctx context.Context, requestID, keepID int64) error {
	_, err := tx.tx.Exec(ctx, `UPDATE quotations SET is_selected = FALSE, status = $3, updated_at = NOW()
		WHERE purchase_request_id = $1 AND id <> $2`, requestID, keepID, QuotationRejected)
	return err
}

func (tx *txRepo) MarkQuotationSelected(ctx context.Context, id int64, reason string) error {
	_, err := tx.tx.Exec(ctx, `UPDATE quotations SET is_selected = TRUE, status = $2, selection_reason = $3, updated_at = NOW()
		WHERE id = $1`, id, QuotationSelected, reason)
	return err
}

func (tx *txRepo) CountSelectedQuotations(ctx context.Context, requestID int64) (int, error) {
	var count int
	err := tx.tx.QueryRow(ctx, `SELECT COUNT(*) FROM quotations WHERE purchase_request_id = $1 AND is_selected`, requestID).Scan(&count)
	return count, err
}

func (tx *txRepo) DeleteQuotation(ctx context.Context, id int64) error {
	_, err := tx.tx.Exec(ctx, `DELETE FROM quotations WHERE id = $1`, id)
	return err
}

func (tx *txRepo) LockOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	var po PurchaseOrder
	if err := scanOrder(tx.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id = $1 FOR UPDATE`, id), &po); err != nil {
		return PurchaseOrder{}, noRows(err, "order", id)
	}
	return po, nil
}

func (tx *txRepo) ActiveOrderForRequest(ctx context.Context, requestID int64) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `SELECT id FROM purchase_orders WHERE purchase_request_id = $1 AND status <> $2
		ORDER BY id LIMIT 1`, requestID, OrderCancelled).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

func (tx *txRepo) CreateOrder(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO purchase_orders (order_number, purchase_request_id, quotation_id, supplier_id,
		subtotal, tax_amount, total_amount, currency, status, payment_terms, delivery_address, delivery_notes, notes,
		expected_delivery_date, created_by, created_at)
		VALUES ($1, NULLIF($2::bigint, 0), NULLIF($3::bigint, 0), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id`,
		po.Number, po.RequestID, po.QuotationID, po.SupplierID, po.Subtotal, po.TaxAmount, po.TotalAmount, po.Currency,
		po.Status, po.PaymentTerms, po.DeliveryAddress, po.DeliveryNotes, po.Notes, po.ExpectedDeliveryDate,
		po.CreatedBy, po.CreatedAt).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertOrderItems(ctx context.Context, orderID int64, items []OrderItem) error {
	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(`INSERT INTO purchase_order_items (purchase_order_id, description, quantity, unit, unit_price, order_index)
			VALUES ($1, $2, $3, $4, $5, $6)`, orderID, item.Description, item.Quantity, item.Unit, item.UnitPrice, item.OrderIndex)
	}
	return tx.sendBatch(ctx, batch)
}

func (tx *txRepo) UpdateOrderStatus(ctx context.Context, id int64, status OrderStatus, actualDelivery *time.Time) error {
	_, err := tx.tx.Exec(ctx, `UPDATE purchase_orders SET status = $2, actual_delivery_date = $3, updated_at = NOW()
		WHERE id = $1`, id, status, actualDelivery)
	return err
}

func (tx *txRepo) MarkOrderInvoiced(ctx context.Context, id int64, update InvoiceUpdate) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE purchase_orders SET status = $2, expense_id = $3, account_id = $4,
		invoice_number = $5, invoice_date = $6, updated_at = NOW()
		WHERE id = $1 AND expense_id IS NULL`,
		id, OrderInvoiced, update.ExpenseID, update.AccountID, update.InvoiceNumber, update.InvoiceDate)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: order %d", ErrAlreadyConverted, id)
	}
	return nil
}

func (tx *txRepo) DeleteOrder(ctx context.Context, id int64) error {
	_, err := tx.tx.Exec(ctx, `DELETE FROM purchase_orders WHERE id = $1`, id)
	return err
}

func (tx *txRepo) CreateExpense(ctx context.Context, e Expense) (int64, error) {
	return tx.ledger.RecordExpense(ctx, ledger.Expense{
		PurchaseOrderID: e.PurchaseOrderID,
		AccountID:       e.AccountID,
		CategoryID:      e.CategoryID,
		Amount:          e.Amount,
		Date:            e.Date,
		Description:     e.Description,
		CreatedBy:       e.CreatedBy,
	})
}

func (tx *txRepo) Ledger() LedgerPort {
	return ledgerPort{store: tx.ledger}
}

// ledgerPort hides ledger errors behind the procurement error kinds.
type ledgerPort struct {
	store *ledger.Store
}

func (l ledgerPort) Debit(ctx context.Context, accountID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	balance, err := l.store.Debit(ctx, accountID, amount)
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		return decimal.Zero, notFound("account", accountID)
	case errors.Is(err, ledger.ErrInvalidAmount):
		return decimal.Zero, invalid("order total must be positive to convert")
	}
	return balance, err
}

func (tx *txRepo) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	results := tx.tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return err
		}
	}
	return results.Close()
}
