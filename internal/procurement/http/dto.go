package procurementhttp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/purchasing/internal/procurement"
)

const dateLayout = "2006-01-02"

// date accepts either a calendar date or an RFC 3339 timestamp.
type date struct {
	time.Time
}

func (d *date) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, layout := range []string{dateLayout, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			d.Time = t
			return nil
		}
	}
	return fmt.Errorf("invalid date %q", raw)
}

func (d *date) ptr() *time.Time {
	if d == nil || d.IsZero() {
		return nil
	}
	t := d.Time
	return &t
}

type itemPayload struct {
	Description string          `json:"description" validate:"required,max=500"`
	Quantity    decimal.Decimal `json:"quantity"`
	Unit        string          `json:"unit" validate:"max=30"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

func toItems(in []itemPayload) []procurement.ItemInput {
	if in == nil {
		return nil
	}
	out := make([]procurement.ItemInput, 0, len(in))
	for _, item := range in {
		out = append(out, procurement.ItemInput{
			Description: item.Description,
			Quantity:    item.Quantity,
			Unit:        item.Unit,
			UnitPrice:   item.UnitPrice,
		})
	}
	return out
}

type createRequestPayload struct {
	Title               string          `json:"title" validate:"required,max=200"`
	Description         string          `json:"description" validate:"required"`
	Justification       string          `json:"justification"`
	CategoryID          int64           `json:"category_id" validate:"gte=0"`
	EstimatedAmount     decimal.Decimal `json:"estimated_amount"`
	Currency            string          `json:"currency" validate:"omitempty,len=3"`
	Priority            string          `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	PreferredSupplierID int64           `json:"preferred_supplier_id" validate:"gte=0"`
	RequiredDate        *date           `json:"required_date"`
	Notes               string          `json:"notes"`
	Items               []itemPayload   `json:"items" validate:"dive"`
}

func (p createRequestPayload) input() procurement.CreateRequestInput {
	return procurement.CreateRequestInput{
		Title:               p.Title,
		Description:         p.Description,
		Justification:       p.Justification,
		CategoryID:          p.CategoryID,
		EstimatedAmount:     p.EstimatedAmount,
		Currency:            p.Currency,
		Priority:            procurement.Priority(p.Priority),
		PreferredSupplierID: p.PreferredSupplierID,
		RequiredDate:        p.RequiredDate.ptr(),
		Notes:               p.Notes,
		Items:               toItems(p.Items),
	}
}

type updateRequestPayload struct {
	Title               *string          `json:"title" validate:"omitempty,max=200"`
	Description         *string          `json:"description"`
	Justification       *string          `json:"justification"`
	CategoryID          *int64           `json:"category_id" validate:"omitempty,gte=0"`
	EstimatedAmount     *decimal.Decimal `json:"estimated_amount"`
	Currency            *string          `json:"currency" validate:"omitempty,len=3"`
	Priority            *string          `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	PreferredSupplierID *int64           `json:"preferred_supplier_id" validate:"omitempty,gte=0"`
	RequiredDate        *date            `json:"required_date"`
	Notes               *string          `json:"notes"`
	Items               []itemPayload    `json:"items" validate:"omitempty,dive"`
}

func (p updateRequestPayload) input() procurement.UpdateRequestInput {
	var priority *procurement.Priority
	if p.Priority != nil {
		v := procurement.Priority(*p.Priority)
		priority = &v
	}
	return procurement.UpdateRequestInput{
		Title:               p.Title,
		Description:         p.Description,
		Justification:       p.Justification,
		CategoryID:          p.CategoryID,
		EstimatedAmount:     p.EstimatedAmount,
		Currency:            p.Currency,
		Priority:            priority,
		PreferredSupplierID: p.PreferredSupplierID,
		RequiredDate:        p.RequiredDate.ptr(),
		Notes:               p.Notes,
		Items:               toItems(p.Items),
	}
}

type commentPayload struct {
	Comment string `json:"comment" validate:"max=1000"`
}

type reasonPayload struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

type registerQuotationPayload struct {
	SupplierID   int64           `json:"supplier_id" validate:"required,gt=0"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	TaxAmount    decimal.Decimal `json:"tax_amount"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	PaymentTerms string          `json:"payment_terms" validate:"max=200"`
	DeliveryTime string          `json:"delivery_time" validate:"max=100"`
	ValidUntil   *date           `json:"valid_until"`
	ReceivedAt   *date           `json:"received_at"`
	Notes        string          `json:"notes"`
	Items        []itemPayload   `json:"items" validate:"dive"`
}

func (p registerQuotationPayload) input(requestID int64) procurement.RegisterQuotationInput {
	return procurement.RegisterQuotationInput{
		RequestID:    requestID,
		SupplierID:   p.SupplierID,
		Subtotal:     p.Subtotal,
		TaxAmount:    p.TaxAmount,
		TotalAmount:  p.TotalAmount,
		PaymentTerms: p.PaymentTerms,
		DeliveryTime: p.DeliveryTime,
		ValidUntil:   p.ValidUntil.ptr(),
		ReceivedAt:   p.ReceivedAt.ptr(),
		Notes:        p.Notes,
		Items:        toItems(p.Items),
	}
}

type updateQuotationPayload struct {
	SupplierID   *int64           `json:"supplier_id" validate:"omitempty,gt=0"`
	Subtotal     *decimal.Decimal `json:"subtotal"`
	TaxAmount    *decimal.Decimal `json:"tax_amount"`
	TotalAmount  *decimal.Decimal `json:"total_amount"`
	PaymentTerms *string          `json:"payment_terms" validate:"omitempty,max=200"`
	DeliveryTime *string          `json:"delivery_time" validate:"omitempty,max=100"`
	ValidUntil   *date            `json:"valid_until"`
	Notes        *string          `json:"notes"`
	Items        []itemPayload    `json:"items" validate:"omitempty,dive"`
}

func (p updateQuotationPayload) input() procurement.UpdateQuotationInput {
	return procurement.UpdateQuotationInput{
		SupplierID:   p.SupplierID,
		Subtotal:     p.Subtotal,
		TaxAmount:    p.TaxAmount,
		TotalAmount:  p.TotalAmount,
		PaymentTerms: p.PaymentTerms,
		DeliveryTime: p.DeliveryTime,
		ValidUntil:   p.ValidUntil.ptr(),
		Notes:        p.Notes,
		Items:        toItems(p.Items),
	}
}

type selectQuotationPayload struct {
	Reason string `json:"reason" validate:"max=1000"`
}

type rfqPayload struct {
	SupplierIDs []int64 `json:"supplier_ids" validate:"required,min=1,dive,gt=0"`
	Deadline    date    `json:"deadline"`
	Channel     string  `json:"channel" validate:"omitempty,oneof=email whatsapp"`
	Message     string  `json:"message" validate:"max=2000"`
}

func (p rfqPayload) input() procurement.SendRFQInput {
	return procurement.SendRFQInput{
		SupplierIDs: p.SupplierIDs,
		Deadline:    p.Deadline.Time,
		Channel:     p.Channel,
		Message:     p.Message,
	}
}

type createOrderPayload struct {
	RequestID            int64           `json:"request_id" validate:"required,gt=0"`
	QuotationID          int64           `json:"quotation_id" validate:"gte=0"`
	SupplierID           int64           `json:"supplier_id" validate:"gte=0"`
	Subtotal             decimal.Decimal `json:"subtotal"`
	TaxAmount            decimal.Decimal `json:"tax_amount"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	PaymentTerms         string          `json:"payment_terms" validate:"max=200"`
	ExpectedDeliveryDate *date           `json:"expected_delivery_date"`
	DeliveryAddress      string          `json:"delivery_address" validate:"max=500"`
	DeliveryNotes        string          `json:"delivery_notes"`
	Notes                string          `json:"notes"`
	Items                []itemPayload   `json:"items" validate:"dive"`
}

func (p createOrderPayload) input() procurement.CreateOrderInput {
	return procurement.CreateOrderInput{
		RequestID:            p.RequestID,
		QuotationID:          p.QuotationID,
		SupplierID:           p.SupplierID,
		Subtotal:             p.Subtotal,
		TaxAmount:            p.TaxAmount,
		TotalAmount:          p.TotalAmount,
		PaymentTerms:         p.PaymentTerms,
		ExpectedDeliveryDate: p.ExpectedDeliveryDate.ptr(),
		DeliveryAddress:      p.DeliveryAddress,
		DeliveryNotes:        p.DeliveryNotes,
		Notes:                p.Notes,
		Items:                toItems(p.Items),
	}
}

type orderStatusPayload struct {
	Status string `json:"status" validate:"required"`
}

type convertPayload struct {
	AccountID     int64  `json:"account_id" validate:"required,gt=0"`
	CategoryID    int64  `json:"category_id" validate:"gte=0"`
	InvoiceNumber string `json:"invoice_number" validate:"max=100"`
	InvoiceDate   *date  `json:"invoice_date"`
	Description   string `json:"description" validate:"max=500"`
}

func (p convertPayload) input() procurement.ConvertInput {
	return procurement.ConvertInput{
		AccountID:     p.AccountID,
		CategoryID:    p.CategoryID,
		InvoiceNumber: p.InvoiceNumber,
		InvoiceDate:   p.InvoiceDate.ptr(),
		Description:   p.Description,
	}
}

type limitPayload struct {
	Limit decimal.Decimal `json:"limit"`
}

type listResponse[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

type orderResponse struct {
	Order procurement.PurchaseOrder `json:"order"`
	Items []procurement.OrderItem   `json:"items"`
}

type quotationResponse struct {
	Quotation procurement.Quotation       `json:"quotation"`
	Items     []procurement.QuotationItem `json:"items"`
}
