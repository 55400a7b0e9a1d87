package procurement

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CreateOrderInput describes an order issued from a request. When QuotationID is
// set, missing supplier, amounts and lines are taken from that quotation.
type CreateOrderInput struct {
	RequestID            int64
	QuotationID          int64
	SupplierID           int64
	Subtotal             decimal.Decimal
	TaxAmount            decimal.Decimal
	TotalAmount          decimal.Decimal
	PaymentTerms         string
	ExpectedDeliveryDate *time.Time
	DeliveryAddress      string
	DeliveryNotes        string
	Notes                string
	Items                []ItemInput
}

// CreateOrderFromRequest issues a draft purchase order and moves the request to
// order_created in one transaction.
func (s *Service) CreateOrderFromRequest(ctx context.Context, actor Actor, input CreateOrderInput) (PurchaseOrder, []OrderItem, error) {
	if err := authorize(actor, operatorRoles); err != nil {
		return PurchaseOrder{}, nil, err
	}
	switch {
	case input.RequestID <= 0:
		return PurchaseOrder{}, nil, invalid("request is required")
	case input.SupplierID < 0 || input.QuotationID < 0:
		return PurchaseOrder{}, nil, invalid("invalid supplier or quotation")
	case input.Subtotal.IsNegative() || input.TaxAmount.IsNegative() || input.TotalAmount.IsNegative():
		return PurchaseOrder{}, nil, invalid("amounts must not be negative")
	}
	normalized, err := normalizeItems(input.Items)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	items := orderItems(normalized)

	var po PurchaseOrder
	_, err = s.withTx(ctx, func(ctx context.Context, tx TxRepository, events *transitionLog) error {
		pr, err := tx.LockRequest(ctx, input.RequestID)
		if err != nil {
			return err
		}
		if !pr.Status.Orderable() {
			return fmt.Errorf("%w: request %s is %s, orders need an approved or evaluated request", ErrStateConflict, pr.Number, pr.Status)
		}
		existing, err := tx.ActiveOrderForRequest(ctx, pr.ID)
		if err != nil {
			return err
		}
		if existing != 0 {
			return fmt.Errorf("%w: request %s already has order %d", ErrStateConflict, pr.Number, existing)
		}

		po = PurchaseOrder{
			RequestID:            pr.ID,
			SupplierID:           input.SupplierID,
			Subtotal:             input.Subtotal.Round(2),
			TaxAmount:            input.TaxAmount.Round(2),
			TotalAmount:          input.TotalAmount.Round(2),
			Currency:             defaultString(pr.Currency, s.currency),
			Status:               OrderDraft,
			PaymentTerms:         cleanText(input.PaymentTerms),
			DeliveryAddress:      cleanText(input.DeliveryAddress),
			DeliveryNotes:        cleanText(input.DeliveryNotes),
			Notes:                cleanText(input.Notes),
			ExpectedDeliveryDate: input.ExpectedDeliveryDate,
			CreatedBy:            actor.ID,
			CreatedAt:            s.now(),
		}
		var quote *Quotation
		if input.QuotationID != 0 {
			q, err := tx.LockQuotation(ctx, input.QuotationID)
			if err != nil {
				return err
			}
			if q.RequestID != pr.ID {
				return invalid("quotation %s does not belong to request %s", q.Number, pr.Number)
			}
			quote = &q
			po.QuotationID = q.ID
			if po.SupplierID == 0 {
				po.SupplierID = q.SupplierID
			}
			if po.TotalAmount.IsZero() {
				po.Subtotal, po.TaxAmount, po.TotalAmount = q.Subtotal, q.TaxAmount, q.TotalAmount
			}
			if po.PaymentTerms == "" {
				po.PaymentTerms = q.PaymentTerms
			}
			if len(items) == 0 {
				quoted, err := tx.QuotationItems(ctx, q.ID)
				if err != nil {
					return err
				}
				items = orderItemsFromQuotation(quoted)
			}
		}
		if po.SupplierID == 0 {
			return invalid("supplier is required")
		}
		if !po.TotalAmount.IsPositive() {
			return invalid("total amount must be greater than zero")
		}
		if po.Subtotal.IsZero() {
			po.Subtotal = po.TotalAmount
		}

		number, err := nextNumber(ctx, tx, orderPrefix, po.CreatedAt)
		if err != nil {
			return err
		}
		po.Number = number
		id, err := tx.CreateOrder(ctx, po)
		if err != nil {
			return err
		}
		po.ID = id
		for i := range items {
			items[i].OrderID = id
		}
		if err := tx.InsertOrderItems(ctx, id, items); err != nil {
			return err
		}
		if quote != nil {
			if _, err := applySelection(ctx, tx, pr.ID, *quote, ""); err != nil {
				return err
			}
		}
		events.add("order", string(OrderDraft), id)
		return s.transition(ctx, tx, events, &pr, RequestOrderCreated, ActionOrderCreated, actor, fmt.Sprintf("order %s issued", po.Number))
	})
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	return po, items, nil
}

// UpdateOrderStatus moves an order along its fulfilment states. Invoicing only
// happens through ConvertToExpense. Cancelling an order reopens its request so
// a replacement order can be issued.
func (s *Service) UpdateOrderStatus(ctx context.Context, actor Actor, id int64, status OrderStatus) (PurchaseOrder, error) {
	if err := authorize(actor, operatorRoles); err != nil {
		return PurchaseOrder{}, err
	}
	if !status.Valid() {
		return PurchaseOrder{}, invalid("unknown order status %q", status)
	}
	if status == OrderInvoiced {
		return PurchaseOrder{}, fmt.Errorf("%w: orders are invoiced by converting them to an expense", ErrStateConflict)
	}
	var out PurchaseOrder
	_, err := s.withTx(ctx, func(ctx context.Context, tx TxRepository, events *transitionLog) error {
		po, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		if !po.Status.CanTransitionTo(status) {
			return orderConflict(po.Status, status)
		}
		if status == OrderReceived && po.ActualDeliveryDate == nil {
			now := s.now()
			po.ActualDeliveryDate = &now
		}
		var pr PurchaseRequest
		if status == OrderCancelled && po.RequestID != 0 {
			if pr, err = tx.LockRequest(ctx, po.RequestID); err != nil {
				return err
			}
		}
		if err := tx.UpdateOrderStatus(ctx, po.ID, status, po.ActualDeliveryDate); err != nil {
			return err
		}
		po.Status = status
		events.add("order", string(status), po.ID)
		out = po
		if pr.ID == 0 {
			return nil
		}
		return s.reopenRequest(ctx, tx, events, &pr, ActionOrderCancelled, actor, fmt.Sprintf("order %s cancelled", po.Number))
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return out, nil
}

// DeleteOrder removes a draft order and reopens its request in the status it held
// before the order was issued.
func (s *Service) DeleteOrder(ctx context.Context, actor Actor, id int64) error {
	if err := authorize(actor, approverRoles); err != nil {
		return err
	}
	_, err := s.withTx(ctx, func(ctx context.Context, tx TxRepository, events *transitionLog) error {
		po, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		if po.Status != OrderDraft {
			return fmt.Errorf("%w: only draft orders can be deleted, order is %s", ErrStateConflict, po.Status)
		}
		var pr PurchaseRequest
		if po.RequestID != 0 {
			if pr, err = tx.LockRequest(ctx, po.RequestID); err != nil {
				return err
			}
		}
		if err := tx.DeleteOrder(ctx, po.ID); err != nil {
			return err
		}
		events.add("order", "deleted", po.ID)
		if pr.ID == 0 {
			return nil
		}
		return s.reopenRequest(ctx, tx, events, &pr, ActionOrderDeleted, actor, fmt.Sprintf("order %s deleted", po.Number))
	})
	return err
}

// reopenRequest returns an order_created request to the status recorded on its
// order_created history row. Requests in any other status are left alone.
func (s *Service) reopenRequest(ctx context.Context, tx TxRepository, events *transitionLog, pr *PurchaseRequest, action HistoryAction, actor Actor, comment string) error {
	if pr.Status != RequestOrderCreated {
		return nil
	}
	previous := RequestApproved
	entry, err := tx.LastHistoryEntry(ctx, pr.ID, ActionOrderCreated)
	if err != nil {
		return err
	}
	if entry.OldStatus.Orderable() {
		previous = entry.OldStatus
	}
	return s.transition(ctx, tx, events, pr, previous, action, actor, comment)
}

// GetOrder returns an order with its lines.
func (s *Service) GetOrder(ctx context.Context, actor Actor, id int64) (PurchaseOrder, []OrderItem, error) {
	if err := authorize(actor, operatorRoles); err != nil {
		return PurchaseOrder{}, nil, err
	}
	po, items, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return PurchaseOrder{}, nil, persistence(err)
	}
	return po, items, nil
}

// ListOrders returns one page of orders and the total match count.
func (s *Service) ListOrders(ctx context.Context, actor Actor, filters OrderFilters) ([]PurchaseOrder, int, error) {
	if err := authorize(actor, operatorRoles); err != nil {
		return nil, 0, err
	}
	if filters.Status != "" && !filters.Status.Valid() {
		return nil, 0, invalid("unknown order status %q", filters.Status)
	}
	filters.Page, filters.Limit = NormalizePage(filters.Page, filters.Limit)
	filters.Search = cleanText(filters.Search)
	rows, total, err := s.repo.ListOrders(ctx, filters)
	if err != nil {
		return nil, 0, persistence(err)
	}
	return rows, total, nil
}
