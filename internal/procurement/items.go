package procurement

import "github.com/shopspring/decimal"

const defaultUnit = "unidad"

// ItemInput describes a request, quotation or order line.
type ItemInput struct {
	Description string
	Quantity    decimal.Decimal
	Unit        string
	UnitPrice   decimal.Decimal
}

type normalizedItem struct {
	description string
	quantity    decimal.Decimal
	unit        string
	unitPrice   decimal.Decimal
}

func normalizeItems(in []ItemInput) ([]normalizedItem, error) {
	out := make([]normalizedItem, 0, len(in))
	for i, item := range in {
		desc := cleanText(item.Description)
		if desc == "" {
			return nil, invalid("item %d: description is required", i+1)
		}
		qty := item.Quantity
		if qty.IsZero() {
			qty = decimal.NewFromInt(1)
		}
		if qty.IsNegative() {
			return nil, invalid("item %d: quantity must be positive", i+1)
		}
		if item.UnitPrice.IsNegative() {
			return nil, invalid("item %d: unit price must not be negative", i+1)
		}
		out = append(out, normalizedItem{
			description: desc,
			quantity:    qty,
			unit:        defaultString(cleanText(item.Unit), defaultUnit),
			unitPrice:   item.UnitPrice.Round(2),
		})
	}
	return out, nil
}

func requestItems(items []normalizedItem) []RequestItem {
	out := make([]RequestItem, 0, len(items))
	for i, item := range items {
		out = append(out, RequestItem{Description: item.description, Quantity: item.quantity, Unit: item.unit, EstimatedUnitPrice: item.unitPrice, OrderIndex: i})
	}
	return out
}

func quotationItems(items []normalizedItem) []QuotationItem {
	out := make([]QuotationItem, 0, len(items))
	for i, item := range items {
		out = append(out, QuotationItem{Description: item.description, Quantity: item.quantity, Unit: item.unit, UnitPrice: item.unitPrice, OrderIndex: i})
	}
	return out
}

func orderItems(items []normalizedItem) []OrderItem {
	out := make([]OrderItem, 0, len(items))
	for i, item := range items {
		out = append(out, OrderItem{Description: item.description, Quantity: item.quantity, Unit: item.unit, UnitPrice: item.unitPrice, OrderIndex: i})
	}
	return out
}

func orderItemsFromQuotation(items []QuotationItem) []OrderItem {
	out := make([]OrderItem, 0, len(items))
	for i, item := range items {
		out = append(out, OrderItem{Description: item.Description, Quantity: item.Quantity, Unit: item.Unit, UnitPrice: item.UnitPrice, OrderIndex: i})
	}
	return out
}
