package procurement

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerPort is the only reach into the accounting ledger.
type LedgerPort interface {
	Debit(ctx context.Context, accountID int64, amount decimal.Decimal) (decimal.Decimal, error)
}

// ConvertInput carries the invoice data booked with the expense.
type ConvertInput struct {
	AccountID     int64
	CategoryID    int64
	InvoiceNumber string
	InvoiceDate   *time.Time
	Description   string
}

// InvoiceUpdate is written to the order when it is converted.
type InvoiceUpdate struct {
	ExpenseID     int64
	AccountID     int64
	InvoiceNumber string
	InvoiceDate   *time.Time
}

// Conversion is the outcome of ConvertToExpense.
type Conversion struct {
	Order   PurchaseOrder   `json:"order"`
	Expense Expense         `json:"expense"`
	Balance decimal.Decimal `json:"account_balance"`
}

// ConvertToExpense books the order total as an expense, debits the account,
// invoices the order and completes its request, all in one transaction.
func (s *Service) ConvertToExpense(ctx context.Context, actor Actor, orderID int64, input ConvertInput) (Conversion, error) {
	if err := authorize(actor, operatorRoles); err != nil {
		return Conversion{}, err
	}
	if input.AccountID <= 0 {
		return Conversion{}, invalid("account is required")
	}
	var out Conversion
	_, err := s.withTx(ctx, func(ctx context.Context, tx TxRepository, events *transitionLog) error {
		po, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if po.Converted() {
			return fmt.Errorf("%w: order %s is linked to expense %d", ErrAlreadyConverted, po.Number, po.ExpenseID)
		}
		if !po.Status.CanTransitionTo(OrderInvoiced) {
			return orderConflict(po.Status, OrderInvoiced)
		}
		var pr PurchaseRequest
		if po.RequestID != 0 {
			if pr, err = tx.LockRequest(ctx, po.RequestID); err != nil {
				return err
			}
		}

		balance, err := tx.Ledger().Debit(ctx, input.AccountID, po.TotalAmount)
		if err != nil {
			return err
		}
		date := s.now()
		if input.InvoiceDate != nil {
			date = *input.InvoiceDate
		}
		expense := Expense{
			PurchaseOrderID: po.ID,
			AccountID:       input.AccountID,
			CategoryID:      input.CategoryID,
			Amount:          po.TotalAmount,
			Date:            date,
			Description:     defaultString(cleanText(input.Description), "OC "+po.Number),
			CreatedBy:       actor.ID,
		}
		if expense.ID, err = tx.CreateExpense(ctx, expense); err != nil {
			return err
		}
		update := InvoiceUpdate{
			ExpenseID:     expense.ID,
			AccountID:     input.AccountID,
			InvoiceNumber: cleanText(input.InvoiceNumber),
			InvoiceDate:   input.InvoiceDate,
		}
		if err := tx.MarkOrderInvoiced(ctx, po.ID, update); err != nil {
			return err
		}
		po.Status = OrderInvoiced
		po.ExpenseID = expense.ID
		po.AccountID = update.AccountID
		po.InvoiceNumber = update.InvoiceNumber
		po.InvoiceDate = update.InvoiceDate
		events.add("order", string(OrderInvoiced), po.ID)

		// A request cancelled after its order keeps its status.
		if pr.ID != 0 && pr.Status == RequestOrderCreated {
			if err := s.transition(ctx, tx, events, &pr, RequestCompleted, ActionCompleted, actor, fmt.Sprintf("order %s invoiced as expense %d", po.Number, expense.ID)); err != nil {
				return err
			}
		}
		out = Conversion{Order: po, Expense: expense, Balance: balance}
		return nil
	})
	if err != nil {
		return Conversion{}, err
	}
	return out, nil
}
