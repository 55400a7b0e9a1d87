package procurement

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// RegisterQuotationInput describes a supplier response.
type RegisterQuotationInput struct {
	RequestID    int64
	SupplierID   int64
	Subtotal     decimal.Decimal
	TaxAmount    decimal.Decimal
	TotalAmount  decimal.Decimal
	PaymentTerms string
	DeliveryTime string
	ValidUntil   *time.Time
	ReceivedAt   *time.Time
	Notes        string
	Items        []ItemInput
}

// UpdateQuotationInput merges into an existing quotation.
type UpdateQuotationInput struct {
	SupplierID   *int64
	Subtotal     *decimal.Decimal
	TaxAmount    *decimal.Decimal
	TotalAmount  *decimal.Decimal
	PaymentTerms *string
	DeliveryTime *string
	ValidUntil   *time.Time
	Notes        *string
	Items        []ItemInput
}

// ComparisonEntry annotates a quotation against the cheapest offer.
type ComparisonEntry struct {
	Quotation
	DifferenceFromMin  decimal.Decimal `json:"difference_from_min"`
	PercentageAboveMin decimal.Decimal `json:"percentage_above_min"`
	IsLowest           bool            `json:"is_lowest"`
}

// ComparisonSummary aggregates the quotation totals of a request.
type ComparisonSummary struct {
	Count     int             `json:"count"`
	MinAmount decimal.Decimal `json:"min_amount"`
	MaxAmount decimal.Decimal `json:"max_amount"`
	AvgAmount decimal.Decimal `json:"avg_amount"`
	Spread    decimal.Decimal `json:"spread"`
}

// Comparison is the ranked view of a request's quotations.
type Comparison struct {
	RequestID int64             `json:"request_id"`
	Entries   []ComparisonEntry `json:"entries"`
	Summary   ComparisonSummary `json:"summary"`
}

var hundred = decimal.NewFromInt(100)

// RegisterQuotation attaches a supplier quotation to a request.
func (s *Service) RegisterQuotation(ctx context.Context, actor Actor, input RegisterQuotationInput) (Quotation, []QuotationItem, error) {
	if err := authorize(actor, operatorRoles); err != nil {
		return Quotation{}, nil, err
	}
	switch {
	case input.RequestID <= 0:
		return Quotation{}, nil, invalid("request is required")
	case input.SupplierID <= 0:
		return Quotation{}, nil, invalid("supplier is required")
	case !input.TotalAmount.IsPositive():
		return Quotation{}, nil, invalid("total amount must be greater than zero")
	case input.Subtotal.IsNegative() || input.TaxAmount.IsNegative():
		return Quotation{}, nil, invalid("amounts must not be negative")
	}
	normalized, err := normalizeItems(input.Items)
	if err != nil {
		return Quotation{}, nil, err
	}
	items := quotationItems(normalized)
	subtotal := input.Subtotal
	if subtotal.IsZero() {
		subtotal = input.TotalAmount
	}
	receivedAt := s.now()
	if input.ReceivedAt != nil {
		receivedAt = *input.ReceivedAt
	}
	q := Quotation{
		RequestID:    input.RequestID,
		SupplierID:   input.SupplierID,
		Subtotal:     subtotal.Round(2),
		TaxAmount:    input.TaxAmount.Round(2),
		TotalAmount:  input.TotalAmount.Round(2),
		PaymentTerms: cleanText(input.PaymentTerms),
		DeliveryTime: cleanText(input.DeliveryTime),
		ValidUntil:   input.ValidUntil,
		Status:       QuotationReceived,
		Notes:        cleanText(input.Notes),
		ReceivedBy:   actor.ID,
		ReceivedAt:   receivedAt,
	}

	_, err = s.withTx(ctx, func(ctx context.Context, tx TxRepository, events *transitionLog) error {
		pr, err := tx.LockRequest(ctx, input.RequestID)
		if err != nil {
			return err
		}
		if pr.Status.Ordered() {
			return fmt.Errorf("%w: request %s already has an order", ErrStateConflict, pr.Number)
		}
		number, err := nextNumber(ctx, tx, quotationPrefix, s.now())
		if err != nil {
			return err
		}
		q.Number = number
		id, err := tx.CreateQuotation(ctx, q)
		if err != nil {
			return err
		}
		q.ID = id
		if err := tx.ReplaceQuotationItems(ctx, id, items); err != nil {
			return err
		}
		// Late quotations never move the request backwards.
		if pr.Status == RequestApproved || pr.Status == RequestInQuotation {
			return s.transition(ctx, tx, events, &pr, RequestQuotationReceived, ActionQuotationReceived, actor, fmt.Sprintf("quotation %s received", q.Number))
		}
		return nil
	})
	if err != nil {
		return Quotation{}, nil, err
	}
	for i := range items {
		items[i].QuotationID = q.ID
	}
	return q, items, nil
}

// UpdateQuotation edits a quotation until its request has an order.
func (s *Service) UpdateQuotation(ctx context.Context, actor Actor, id int64, input UpdateQuotationInput) (Quotation, error) {
	if err := authorize(actor, operatorRoles); err != nil {
		return Quotation{}, err
	}
	if input.SupplierID != nil && *input.SupplierID <= 0 {
		return Quotation{}, invalid("supplier is required")
	}
	if input.TotalAmount != nil && !input.TotalAmount.IsPositive() {
		return Quotation{}, invalid("total amount must be greater than zero")
	}
	if (input.Subtotal != nil && input.Subtotal.IsNegative()) || (input.TaxAmount != nil && input.TaxAmount.IsNegative()) {
		return Quotation{}, invalid("amounts must not be negative")
	}
	var items []QuotationItem
	if input.Items != nil {
		normalized, err := normalizeItems(input.Items)
		if err != nil {
			return Quotation{}, err
		}
		items = quotationItems(normalized)
	}

	var out Quotation
	_, err := s.withTx(ctx, func(ctx context.Context, tx TxRepository, _ *transitionLog) error {
		pr, q, err := s.lockQuotation(ctx, tx, id)
		if err != nil {
			return err
		}
		if pr.Status.Ordered() {
			return fmt.Errorf("%w: request %s already has an order", ErrStateConflict, pr.Number)
		}
		applyQuotationUpdate(&q, input)
		if err := tx.UpdateQuotation(ctx, q); err != nil {
			return err
		}
		if items != nil {
			if err := tx.ReplaceQuotationItems(ctx, q.ID, items); err != nil {
				return err
			}
		}
		out = q
		return nil
	})
	if err != nil {
		return Quotation{}, err
	}
	return out, nil
}

func applyQuotationUpdate(q *Quotation, input UpdateQuotationInput) {
	if input.SupplierID != nil {
		q.SupplierID = *input.SupplierID
	}
	if input.Subtotal != nil {
		q.Subtotal = input.Subtotal.Round(2)
	}
	if input.TaxAmount != nil {
		q.TaxAmount = input.TaxAmount.Round(2)
	}
	if input.TotalAmount != nil {
		q.TotalAmount = input.TotalAmount.Round(2)
	}
	if input.PaymentTerms != nil {
		q.PaymentTerms = cleanText(*input.PaymentTerms)
	}
	if input.DeliveryTime != nil {
		q.DeliveryTime = cleanText(*input.DeliveryTime)
	}
	if input.ValidUntil != nil {
		q.ValidUntil = input.ValidUntil
	}
	if input.Notes != nil {
		q.Notes = cleanText(*input.Notes)
	}
}

// CompareQuotations ranks the quotations of a request by total amount.
func (s *Service) CompareQuotations(ctx context.Context, actor Actor, requestID int64) (Comparison, error) {
	if err := authorize(actor, operatorRoles); err != nil {
		return Comparison{}, err
	}
	if _, _, err := s.repo.GetRequest(ctx, requestID); err != nil {
		return Comparison{}, persistence(err)
	}
	quotes, err := s.repo.ListQuotations(ctx, requestID)
	if err != nil {
		return Comparison{}, persistence(err)
	}
	cmp := compareQuotations(quotes)
	cmp.RequestID = requestID
	return cmp, nil
}

func compareQuotations(quotes []Quotation) Comparison {
	sorted := append([]Quotation(nil), quotes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if c := sorted[i].TotalAmount.Cmp(sorted[j].TotalAmount); c != 0 {
			return c < 0
		}
		return sorted[i].ID < sorted[j].ID
	})
	cmp := Comparison{Entries: make([]ComparisonEntry, 0, len(sorted))}
	if len(sorted) == 0 {
		return cmp
	}
	minAmount := sorted[0].TotalAmount
	maxAmount := sorted[len(sorted)-1].TotalAmount
	sum := decimal.Zero
	for _, q := range sorted {
		diff := q.TotalAmount.Sub(minAmount)
		pct := decimal.Zero
		if minAmount.IsPositive() {
			pct = diff.Div(minAmount).Mul(hundred)
		}
		cmp.Entries = append(cmp.Entries, ComparisonEntry{
			Quotation:          q,
			DifferenceFromMin:  diff.Round(2),
			PercentageAboveMin: pct.Round(2),
			IsLowest:           q.TotalAmount.Equal(minAmount),
		})
		sum = sum.Add(q.TotalAmount)
	}
	cmp.Summary = ComparisonSummary{
		Count:     len(sorted),
		MinAmount: minAmount.Round(2),
		MaxAmount: maxAmount.Round(2),
		AvgAmount: sum.Div(decimal.NewFromInt(int64(len(sorted)))).Round(2),
		Spread:    maxAmount.Sub(minAmount).Round(2),
	}
	return cmp
}

// SelectQuotation marks one quotation as chosen, rejects the rest and moves the
// request to in_evaluation.
func (s *Service) SelectQuotation(ctx context.Context, actor Actor, id int64, reason string) (Quotation, error) {
	if err := authorize(actor, approverRoles); err != nil {
		return Quotation{}, err
	}
	reason = cleanText(reason)
	var out Quotation
	_, err := s.withTx(ctx, func(ctx context.Context, tx TxRepository, events *transitionLog) error {
		pr, q, err := s.lockQuotation(ctx, tx, id)
		if err != nil {
			return err
		}
		if !pr.Status.Orderable() {
			return requestConflict(pr.Status, RequestInEvaluation)
		}
		selected, err := applySelection(ctx, tx, pr.ID, q, reason)
		if err != nil {
			return err
		}
		comment := fmt.Sprintf("quotation %s selected", selected.Number)
		if reason != "" {
			comment += ": " + reason
		}
		if err := s.transition(ctx, tx, events, &pr, RequestInEvaluation, ActionQuotationSelected, actor, comment); err != nil {
			return err
		}
		out = selected
		return nil
	})
	if err != nil {
		return Quotation{}, err
	}
	return out, nil
}

// applySelection rejects every other quotation of the request before selecting q,
// then verifies that exactly one quotation is selected.
func applySelection(ctx context.Context, tx TxRepository, requestID int64, q Quotation, reason string) (Quotation, error) {
	if q.RequestID != requestID {
		return Quotation{}, invalid("quotation %s does not belong to request %d", q.Number, requestID)
	}
	if err := tx.RejectOtherQuotations(ctx, requestID, q.ID); err != nil {
		return Quotation{}, err
	}
	if q.IsSelected && reason == "" {
		reason = q.SelectionReason
	}
	if err := tx.MarkQuotationSelected(ctx, q.ID, reason); err != nil {
		return Quotation{}, err
	}
	count, err := tx.CountSelectedQuotations(ctx, requestID)
	if err != nil {
		return Quotation{}, err
	}
	if count != 1 {
		return Quotation{}, fmt.Errorf("%w: request %d has %d selected quotations", ErrDuplicateSelection, requestID, count)
	}
	q.IsSelected = true
	q.Status = QuotationSelected
	q.SelectionReason = reason
	return q, nil
}

// DeleteQuotation removes an unselected quotation of a request without an order.
func (s *Service) DeleteQuotation(ctx context.Context, actor Actor, id int64) error {
	if err := authorize(actor, approverRoles); err != nil {
		return err
	}
	_, err := s.withTx(ctx, func(ctx context.Context, tx TxRepository, _ *transitionLog) error {
		pr, q, err := s.lockQuotation(ctx, tx, id)
		if err != nil {
			return err
		}
		if q.IsSelected {
			return fmt.Errorf("%w: quotation %s is selected", ErrStateConflict, q.Number)
		}
		if pr.Status.Ordered() {
			return fmt.Errorf("%w: request %s already has an order", ErrStateConflict, pr.Number)
		}
		return tx.DeleteQuotation(ctx, q.ID)
	})
	return err
}

// lockQuotation locks the owning request before the quotation so every flow
// takes row locks in the same order.
func (s *Service) lockQuotation(ctx context.Context, tx TxRepository, id int64) (PurchaseRequest, Quotation, error) {
	requestID, err := tx.QuotationRequestID(ctx, id)
	if err != nil {
		return PurchaseRequest{}, Quotation{}, err
	}
	pr, err := tx.LockRequest(ctx, requestID)
	if err != nil {
		return PurchaseRequest{}, Quotation{}, err
	}
	q, err := tx.LockQuotation(ctx, id)
	if err != nil {
		return PurchaseRequest{}, Quotation{}, err
	}
	return pr, q, nil
}

// GetQuotation returns a quotation with its lines.
func (s *Service) GetQuotation(ctx context.Context, actor Actor, id int64) (Quotation, []QuotationItem, error) {
	if err := authorize(actor, operatorRoles); err != nil {
		return Quotation{}, nil, err
	}
	q, items, err := s.repo.GetQuotation(ctx, id)
	if err != nil {
		return Quotation{}, nil, persistence(err)
	}
	return q, items, nil
}

// ListQuotations returns the quotations of a request, cheapest first.
func (s *Service) ListQuotations(ctx context.Context, actor Actor, requestID int64) ([]Quotation, error) {
	if err := authorize(actor, operatorRoles); err != nil {
		return nil, err
	}
	quotes, err := s.repo.ListQuotations(ctx, requestID)
	if err != nil {
		return nil, persistence(err)
	}
	return quotes, nil
}
