package procurement

import (
	"time"

	"github.com/shopspring/decimal"
)

// RequestStatus enumerates purchase request lifecycle states.
type RequestStatus string

const (
	RequestDraft             RequestStatus = "draft"
	RequestPendingApproval   RequestStatus = "pending_approval"
	RequestApproved          RequestStatus = "approved"
	RequestInQuotation       RequestStatus = "in_quotation"
	RequestQuotationReceived RequestStatus = "quotation_received"
	RequestInEvaluation      RequestStatus = "in_evaluation"
	RequestOrderCreated      RequestStatus = "order_created"
	RequestCompleted         RequestStatus = "completed"
	RequestRejected          RequestStatus = "rejected"
	RequestCancelled         RequestStatus = "cancelled"
)

// PurchaseType decides whether a request needs competing quotations.
type PurchaseType string

const (
	PurchaseDirect           PurchaseType = "direct"
	PurchasePriceCompetition PurchaseType = "price_competition"
)

// Priority of a purchase request.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// QuotationStatus is set on registration and by selection only.
type QuotationStatus string

const (
	QuotationReceived QuotationStatus = "received"
	QuotationSelected QuotationStatus = "selected"
	QuotationRejected QuotationStatus = "rejected"
)

// OrderStatus enumerates purchase order lifecycle states.
type OrderStatus string

const (
	OrderDraft             OrderStatus = "draft"
	OrderSent              OrderStatus = "sent"
	OrderConfirmed         OrderStatus = "confirmed"
	OrderPartiallyReceived OrderStatus = "partially_received"
	OrderReceived          OrderStatus = "received"
	OrderInvoiced          OrderStatus = "invoiced"
	OrderPaid              OrderStatus = "paid"
	OrderCancelled         OrderStatus = "cancelled"
)

// HistoryAction labels a row of the request audit trail.
type HistoryAction string

const (
	ActionCreated           HistoryAction = "created"
	ActionSubmitted         HistoryAction = "submitted"
	ActionApproved          HistoryAction = "approved"
	ActionRejected          HistoryAction = "rejected"
	ActionCancelled         HistoryAction = "cancelled"
	ActionQuotationReceived HistoryAction = "quotation_received"
	ActionQuotationSelected HistoryAction = "quotation_selected"
	ActionOrderCreated      HistoryAction = "order_created"
	ActionOrderDeleted      HistoryAction = "order_deleted"
	ActionOrderCancelled    HistoryAction = "order_cancelled"
	ActionCompleted         HistoryAction = "completed"
	ActionDeleted           HistoryAction = "deleted"
)

// PurchaseRequest is the root aggregate of the workflow.
type PurchaseRequest struct {
	ID                  int64           `json:"id"`
	Number              string          `json:"request_number"`
	Title               string          `json:"title"`
	Description         string          `json:"description"`
	Justification       string          `json:"justification,omitempty"`
	CategoryID          int64           `json:"category_id,omitempty"`
	EstimatedAmount     decimal.Decimal `json:"estimated_amount"`
	Currency            string          `json:"currency"`
	PurchaseType        PurchaseType    `json:"purchase_type"`
	Priority            Priority        `json:"priority"`
	Status              RequestStatus   `json:"status"`
	PreferredSupplierID int64           `json:"preferred_supplier_id,omitempty"`
	RequiredDate        *time.Time      `json:"required_date,omitempty"`
	RequestedBy         int64           `json:"requested_by"`
	ApprovedBy          int64           `json:"approved_by,omitempty"`
	ApprovedAt          *time.Time      `json:"approved_at,omitempty"`
	RejectionReason     string          `json:"rejection_reason,omitempty"`
	Notes               string          `json:"notes,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// RequestItem is a requested line.
type RequestItem struct {
	ID                 int64           `json:"id"`
	RequestID          int64           `json:"request_id"`
	Description        string          `json:"description"`
	Quantity           decimal.Decimal `json:"quantity"`
	Unit               string          `json:"unit"`
	EstimatedUnitPrice decimal.Decimal `json:"estimated_unit_price"`
	OrderIndex         int             `json:"order_index"`
}

// Quotation is one supplier response to a request.
type Quotation struct {
	ID              int64           `json:"id"`
	Number          string          `json:"quotation_number"`
	RequestID       int64           `json:"request_id"`
	SupplierID      int64           `json:"supplier_id"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	PaymentTerms    string          `json:"payment_terms,omitempty"`
	DeliveryTime    string          `json:"delivery_time,omitempty"`
	ValidUntil      *time.Time      `json:"valid_until,omitempty"`
	Status          QuotationStatus `json:"status"`
	IsSelected      bool            `json:"is_selected"`
	SelectionReason string          `json:"selection_reason,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	ReceivedBy      int64           `json:"received_by"`
	ReceivedAt      time.Time       `json:"received_at"`
}

// QuotationItem is a quoted line.
type QuotationItem struct {
	ID          int64           `json:"id"`
	QuotationID int64           `json:"quotation_id"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Unit        string          `json:"unit"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	OrderIndex  int             `json:"order_index"`
}

// PurchaseOrder is the commitment issued to a supplier.
type PurchaseOrder struct {
	ID                   int64           `json:"id"`
	Number               string          `json:"order_number"`
	RequestID            int64           `json:"request_id"`
	QuotationID          int64           `json:"quotation_id,omitempty"`
	SupplierID           int64           `json:"supplier_id"`
	Subtotal             decimal.Decimal `json:"subtotal"`
	TaxAmount            decimal.Decimal `json:"tax_amount"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	Currency             string          `json:"currency"`
	Status               OrderStatus     `json:"status"`
	PaymentTerms         string          `json:"payment_terms,omitempty"`
	DeliveryAddress      string          `json:"delivery_address,omitempty"`
	DeliveryNotes        string          `json:"delivery_notes,omitempty"`
	Notes                string          `json:"notes,omitempty"`
	ExpectedDeliveryDate *time.Time      `json:"expected_delivery_date,omitempty"`
	ActualDeliveryDate   *time.Time      `json:"actual_delivery_date,omitempty"`
	ExpenseID            int64           `json:"expense_id,omitempty"`
	AccountID            int64           `json:"account_id,omitempty"`
	InvoiceNumber        string          `json:"invoice_number,omitempty"`
	InvoiceDate          *time.Time      `json:"invoice_date,omitempty"`
	CreatedBy            int64           `json:"created_by"`
	CreatedAt            time.Time       `json:"created_at"`
}

// Converted reports whether an expense has been booked for the order.
func (o PurchaseOrder) Converted() bool {
	return o.ExpenseID != 0
}

// OrderItem is an ordered line.
type OrderItem struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"order_id"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Unit        string          `json:"unit"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	OrderIndex  int             `json:"order_index"`
}

// Expense is the ledger entry booked for an invoiced order.
type Expense struct {
	ID              int64           `json:"id"`
	PurchaseOrderID int64           `json:"purchase_order_id"`
	AccountID       int64           `json:"account_id"`
	CategoryID      int64           `json:"category_id,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Date            time.Time       `json:"date"`
	Description     string          `json:"description"`
	CreatedBy       int64           `json:"created_by"`
}

// HistoryEntry is one immutable row of the request audit trail.
type HistoryEntry struct {
	ID        int64         `json:"id"`
	RequestID int64         `json:"request_id"`
	Action    HistoryAction `json:"action"`
	OldStatus RequestStatus `json:"old_status,omitempty"`
	NewStatus RequestStatus `json:"new_status"`
	ActorID   int64         `json:"actor_id"`
	Comment   string        `json:"comment,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// RequestDetail bundles a request with its lines and trail.
type RequestDetail struct {
	Request    PurchaseRequest `json:"request"`
	Items      []RequestItem   `json:"items"`
	History    []HistoryEntry  `json:"history"`
	Quotations []Quotation     `json:"quotations"`
}

// RequestFilters narrows ListRequests.
type RequestFilters struct {
	Status       RequestStatus
	PurchaseType PurchaseType
	CategoryID   int64
	RequestedBy  int64
	Priority     Priority
	From         *time.Time
	To           *time.Time // exclusive
	Search       string
	Page         int
	Limit        int
}

// OrderFilters narrows ListOrders.
type OrderFilters struct {
	Status     OrderStatus
	SupplierID int64
	RequestID  int64
	Search     string
	Page       int
	Limit      int
}

// PendingRequest is an entry of the approval queue.
type PendingRequest struct {
	PurchaseRequest
	QuotationCount int `json:"quotation_count"`
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// NormalizePage clamps list paging to sane defaults.
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}
