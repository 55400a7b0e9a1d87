package procurement

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestCompareQuotations(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		cmp := compareQuotations(nil)
		require.Empty(t, cmp.Entries)
		require.Zero(t, cmp.Summary.Count)
	})

	t.Run("ties keep id order", func(t *testing.T) {
		cmp := compareQuotations([]Quotation{
			{ID: 3, TotalAmount: amount("500")},
			{ID: 1, TotalAmount: amount("500")},
			{ID: 2, TotalAmount: amount("750")},
		})
		require.Equal(t, int64(1), cmp.Entries[0].ID)
		require.Equal(t, int64(3), cmp.Entries[1].ID)
		require.True(t, cmp.Entries[0].IsLowest)
		require.True(t, cmp.Entries[1].IsLowest)
		require.False(t, cmp.Entries[2].IsLowest)
		require.Equal(t, "50.00", cmp.Entries[2].PercentageAboveMin.StringFixed(2))
		require.Equal(t, "583.33", cmp.Summary.AvgAmount.StringFixed(2))
	})

	t.Run("zero minimum", func(t *testing.T) {
		cmp := compareQuotations([]Quotation{{ID: 1, TotalAmount: decimal.Zero}, {ID: 2, TotalAmount: amount("10")}})
		require.True(t, cmp.Entries[1].PercentageAboveMin.IsZero())
		require.Equal(t, "10.00", cmp.Summary.Spread.StringFixed(2))
	})
}

func TestRegisterQuotationValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ServiceConfig{})
	pr := env.approvedRequest(t, "1000")

	_, _, err := env.svc.RegisterQuotation(ctx, staffActor, RegisterQuotationInput{RequestID: pr.ID, TotalAmount: amount("10")})
	require.ErrorIs(t, err, ErrValidation)
	_, _, err = env.svc.RegisterQuotation(ctx, staffActor, RegisterQuotationInput{RequestID: pr.ID, SupplierID: 1})
	require.ErrorIs(t, err, ErrValidation)
	_, _, err = env.svc.RegisterQuotation(ctx, staffActor, RegisterQuotationInput{RequestID: 404, SupplierID: 1, TotalAmount: amount("10")})
	require.ErrorIs(t, err, ErrNotFound)

	q, items, err := env.svc.RegisterQuotation(ctx, staffActor, RegisterQuotationInput{
		RequestID:   pr.ID,
		SupplierID:  5,
		TaxAmount:   amount("210"),
		TotalAmount: amount("1210"),
		Items:       []ItemInput{{Description: "Desk", Quantity: decimal.NewFromInt(2), Unit: "pieza", UnitPrice: amount("500")}},
	})
	require.NoError(t, err)
	require.Equal(t, QuotationReceived, q.Status)
	require.False(t, q.IsSelected)
	require.True(t, q.Subtotal.Equal(amount("1210")))
	require.Equal(t, staffActor.ID, q.ReceivedBy)
	require.Len(t, items, 1)
	require.Equal(t, q.ID, items[0].QuotationID)
	require.Equal(t, "pieza", items[0].Unit)
}

func TestLateQuotationNeverMovesRequestBackwards(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ServiceConfig{})
	pr := env.approvedRequest(t, "500000")
	first := env.registerQuote(t, pr.ID, 11, "1000")
	_, err := env.svc.SelectQuotation(ctx, boardActor, first.ID, "")
	require.NoError(t, err)
	before := len(env.repo.historyFor(pr.ID))

	late := env.registerQuote(t, pr.ID, 12, "800")
	require.Equal(t, RequestInEvaluation, env.requestStatus(t, pr.ID))
	require.Len(t, env.repo.historyFor(pr.ID), before)
	require.False(t, late.IsSelected)

	_, _, err = env.svc.CreateOrderFromRequest(ctx, staffActor, CreateOrderInput{RequestID: pr.ID, QuotationID: first.ID})
	require.NoError(t, err)
	_, _, err = env.svc.RegisterQuotation(ctx, staffActor, RegisterQuotationInput{RequestID: pr.ID, SupplierID: 13, TotalAmount: amount("700")})
	require.ErrorIs(t, err, ErrStateConflict)
}

func TestUpdateQuotation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ServiceConfig{})
	pr := env.approvedRequest(t, "500000")
	q := env.registerQuote(t, pr.ID, 11, "1000")

	total := amount("950")
	terms := "30 days"
	updated, err := env.svc.UpdateQuotation(ctx, staffActor, q.ID, UpdateQuotationInput{
		TotalAmount:  &total,
		PaymentTerms: &terms,
		Items:        []ItemInput{{Description: "Laptop 14in", UnitPrice: total}, {Description: "Dock", UnitPrice: decimal.Zero}},
	})
	require.NoError(t, err)
	require.True(t, updated.TotalAmount.Equal(total))
	require.Equal(t, terms, updated.PaymentTerms)

	_, items, err := env.repo.GetQuotation(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)

	zero := decimal.Zero
	_, err = env.svc.UpdateQuotation(ctx, staffActor, q.ID, UpdateQuotationInput{TotalAmount: &zero})
	require.ErrorIs(t, err, ErrValidation)

	_, _, err = env.svc.CreateOrderFromRequest(ctx, staffActor, CreateOrderInput{RequestID: pr.ID, QuotationID: q.ID})
	require.NoError(t, err)
	_, err = env.svc.UpdateQuotation(ctx, staffActor, q.ID, UpdateQuotationInput{PaymentTerms: &terms})
	require.ErrorIs(t, err, ErrStateConflict)
}

func TestSelectQuotationReplacesPreviousSelection(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ServiceConfig{})
	pr := env.approvedRequest(t, "500000")
	a := env.registerQuote(t, pr.ID, 11, "1000")
	b := env.registerQuote(t, pr.ID, 12, "1100")

	_, err := env.svc.SelectQuotation(ctx, boardActor, a.ID, "cheapest")
	require.NoError(t, err)
	_, err = env.svc.SelectQuotation(ctx, rootActor, b.ID, "faster delivery")
	require.NoError(t, err)

	qa, _, err := env.repo.GetQuotation(ctx, a.ID)
	require.NoError(t, err)
	qb, _, err := env.repo.GetQuotation(ctx, b.ID)
	require.NoError(t, err)
	require.False(t, qa.IsSelected)
	require.Equal(t, QuotationRejected, qa.Status)
	require.True(t, qb.IsSelected)
	require.Equal(t, "faster delivery", qb.SelectionReason)
	require.Equal(t, RequestInEvaluation, env.requestStatus(t, pr.ID))

	_, err = env.svc.SelectQuotation(ctx, staffActor, a.ID, "")
	require.ErrorIs(t, err, ErrForbidden)
	_, err = env.svc.SelectQuotation(ctx, boardActor, 404, "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSelectQuotationRequiresOrderableRequest(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ServiceConfig{})
	pr := env.createRequest(t, "500000")
	q := env.registerQuote(t, pr.ID, 11, "1000")
	require.Equal(t, RequestDraft, env.requestStatus(t, pr.ID))

	_, err := env.svc.SelectQuotation(ctx, boardActor, q.ID, "")
	require.ErrorIs(t, err, ErrStateConflict)

	stored, _, err := env.repo.GetQuotation(ctx, q.ID)
	require.NoError(t, err)
	require.False(t, stored.IsSelected)
}

func TestSelectionRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ServiceConfig{})
	pr := env.approvedRequest(t, "500000")
	a := env.registerQuote(t, pr.ID, 11, "1000")
	b := env.registerQuote(t, pr.ID, 12, "1100")
	env.repo.failWith("MarkQuotationSelected", errInjected)

	_, err := env.svc.SelectQuotation(ctx, boardActor, b.ID, "")
	require.ErrorIs(t, err, ErrPersistence)

	qa, _, err := env.repo.GetQuotation(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, QuotationReceived, qa.Status)
	require.Equal(t, RequestQuotationReceived, env.requestStatus(t, pr.ID))
}

func TestDeleteQuotation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ServiceConfig{})
	pr := env.approvedRequest(t, "500000")
	keep := env.registerQuote(t, pr.ID, 11, "1000")
	drop := env.registerQuote(t, pr.ID, 12, "1100")
	other := env.registerQuote(t, pr.ID, 13, "1200")

	require.ErrorIs(t, env.svc.DeleteQuotation(ctx, staffActor, drop.ID), ErrForbidden)
	require.NoError(t, env.svc.DeleteQuotation(ctx, boardActor, drop.ID))
	_, _, err := env.repo.GetQuotation(ctx, drop.ID)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = env.svc.SelectQuotation(ctx, boardActor, keep.ID, "")
	require.NoError(t, err)
	require.ErrorIs(t, env.svc.DeleteQuotation(ctx, boardActor, keep.ID), ErrStateConflict)

	_, _, err = env.svc.CreateOrderFromRequest(ctx, staffActor, CreateOrderInput{RequestID: pr.ID, QuotationID: keep.ID})
	require.NoError(t, err)
	require.ErrorIs(t, env.svc.DeleteQuotation(ctx, boardActor, other.ID), ErrStateConflict)
}

func TestListQuotations(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, ServiceConfig{})
	pr := env.approvedRequest(t, "500000")
	env.registerQuote(t, pr.ID, 11, "1000")
	cheap := env.registerQuote(t, pr.ID, 12, "400")

	quotes, err := env.svc.ListQuotations(ctx, staffActor, pr.ID)
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	require.Equal(t, cheap.ID, quotes[0].ID)

	q, items, err := env.svc.GetQuotation(ctx, staffActor, cheap.ID)
	require.NoError(t, err)
	require.Equal(t, cheap.Number, q.Number)
	require.Len(t, items, 1)
}
