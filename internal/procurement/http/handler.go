// Package procurementhttp exposes the purchasing workflow over JSON.
package procurementhttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/purchasing/internal/platform/httpx"
	"github.com/odyssey-erp/purchasing/internal/procurement"
)

// Service is the workflow surface consumed by the handler.
type Service interface {
	CreateRequest(ctx context.Context, actor procurement.Actor, input procurement.CreateRequestInput) (procurement.PurchaseRequest, error)
	UpdateRequest(ctx context.Context, actor procurement.Actor, id int64, input procurement.UpdateRequestInput) (procurement.PurchaseRequest, error)
	SubmitRequest(ctx context.Context, actor procurement.Actor, id int64, comment string) (procurement.PurchaseRequest, error)
	ApproveRequest(ctx context.Context, actor procurement.Actor, id int64, comment string) (procurement.PurchaseRequest, error)
	RejectRequest(ctx context.Context, actor procurement.Actor, id int64, reason string) (procurement.PurchaseRequest, error)
	CancelRequest(ctx context.Context, actor procurement.Actor, id int64, reason string) (procurement.PurchaseRequest, error)
	DeleteRequest(ctx context.Context, actor procurement.Actor, id int64) error
	GetRequest(ctx context.Context, actor procurement.Actor, id int64) (procurement.RequestDetail, error)
	ListRequests(ctx context.Context, actor procurement.Actor, filters procurement.RequestFilters) ([]procurement.PurchaseRequest, int, error)
	PendingApproval(ctx context.Context, actor procurement.Actor) ([]procurement.PendingRequest, error)
	RequestHistory(ctx context.Context, actor procurement.Actor, requestID int64) ([]procurement.HistoryEntry, error)

	RegisterQuotation(ctx context.Context, actor procurement.Actor, input procurement.RegisterQuotationInput) (procurement.Quotation, []procurement.QuotationItem, error)
	UpdateQuotation(ctx context.Context, actor procurement.Actor, id int64, input procurement.UpdateQuotationInput) (procurement.Quotation, error)
	SelectQuotation(ctx context.Context, actor procurement.Actor, id int64, reason string) (procurement.Quotation, error)
	DeleteQuotation(ctx context.Context, actor procurement.Actor, id int64) error
	GetQuotation(ctx context.Context, actor procurement.Actor, id int64) (procurement.Quotation, []procurement.QuotationItem, error)
	ListQuotations(ctx context.Context, actor procurement.Actor, requestID int64) ([]procurement.Quotation, error)
	CompareQuotations(ctx context.Context, actor procurement.Actor, requestID int64) (procurement.Comparison, error)
	SendRFQ(ctx context.Context, actor procurement.Actor, requestID int64, input procurement.SendRFQInput) (procurement.RFQResult, error)

	CreateOrderFromRequest(ctx context.Context, actor procurement.Actor, input procurement.CreateOrderInput) (procurement.PurchaseOrder, []procurement.OrderItem, error)
	UpdateOrderStatus(ctx context.Context, actor procurement.Actor, id int64, status procurement.OrderStatus) (procurement.PurchaseOrder, error)
	DeleteOrder(ctx context.Context, actor procurement.Actor, id int64) error
	GetOrder(ctx context.Context, actor procurement.Actor, id int64) (procurement.PurchaseOrder, []procurement.OrderItem, error)
	ListOrders(ctx context.Context, actor procurement.Actor, filters procurement.OrderFilters) ([]procurement.PurchaseOrder, int, error)
	ConvertToExpense(ctx context.Context, actor procurement.Actor, orderID int64, input procurement.ConvertInput) (procurement.Conversion, error)

	DirectPurchaseLimit(ctx context.Context, actor procurement.Actor) (decimal.Decimal, error)
	SetDirectPurchaseLimit(ctx context.Context, actor procurement.Actor, limit decimal.Decimal) error
}

var _ Service = (*procurement.Service)(nil)

// Handler wires HTTP endpoints for the purchasing workflow.
type Handler struct {
	logger    *slog.Logger
	service   Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
	}
}

// MountRoutes registers purchasing routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(RequireActor)

		r.Route("/requests", func(r chi.Router) {
			r.Get("/", h.listRequests)
			r.Post("/", h.createRequest)
			r.Get("/pending", h.pendingApproval)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getRequest)
				r.Put("/", h.updateRequest)
				r.Delete("/", h.deleteRequest)
				r.Post("/submit", h.submitRequest)
				r.Post("/approve", h.approveRequest)
				r.Post("/reject", h.rejectRequest)
				r.Post("/cancel", h.cancelRequest)
				r.Get("/history", h.requestHistory)
				r.Get("/quotations", h.listQuotations)
				r.Post("/quotations", h.registerQuotation)
				r.Get("/comparison", h.compareQuotations)
				r.Post("/rfq", h.sendRFQ)
			})
		})

		r.Route("/quotations/{id}", func(r chi.Router) {
			r.Get("/", h.getQuotation)
			r.Put("/", h.updateQuotation)
			r.Delete("/", h.deleteQuotation)
			r.Post("/select", h.selectQuotation)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.listOrders)
			r.Post("/", h.createOrder)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getOrder)
				r.Delete("/", h.deleteOrder)
				r.Patch("/status", h.updateOrderStatus)
				r.Post("/expense", h.convertToExpense)
			})
		})

		r.Get("/settings/direct-purchase-limit", h.getDirectLimit)
		r.Put("/settings/direct-purchase-limit", h.setDirectLimit)
	})
}

// decode reads the body into form and validates it. It writes the problem
// response itself and reports whether the caller may continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, form any) bool {
	if err := httpx.DecodeJSON(w, r, form); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			httpx.RespondError(w, httpx.ErrValidation)
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fieldErr := range verrs {
			fields[fieldErr.Field()] = fieldErr.Tag()
		}
		httpx.ValidationProblem(w, fields)
		return false
	}
	return true
}

// fail translates workflow errors into problem responses. Unexpected errors are
// logged and reported without detail.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, title := httpx.StatusFor(transportError(err))
	if status == http.StatusInternalServerError {
		h.logger.Error("purchasing request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		httpx.Problem(w, status, title, "")
		return
	}
	httpx.Problem(w, status, title, procurement.Message(err))
}

func transportError(err error) error {
	switch {
	case errors.Is(err, procurement.ErrValidation):
		return httpx.ErrValidation
	case errors.Is(err, procurement.ErrNotFound):
		return httpx.ErrNotFound
	case errors.Is(err, procurement.ErrForbidden):
		return httpx.ErrForbidden
	case errors.Is(err, procurement.ErrStateConflict),
		errors.Is(err, procurement.ErrDuplicateSelection),
		errors.Is(err, procurement.ErrAlreadyConverted):
		return httpx.ErrConflict
	default:
		return err
	}
}

func actor(r *http.Request) procurement.Actor {
	a, _ := ActorFromContext(r.Context())
	return a
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string) int64 {
	v, err := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func queryDate(r *http.Request, key string) *time.Time {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil
	}
	return &t
}

// queryDateEnd turns an inclusive calendar day into the exclusive bound the
// repository filters on.
func queryDateEnd(r *http.Request, key string) *time.Time {
	t := queryDate(r, key)
	if t == nil {
		return nil
	}
	end := t.AddDate(0, 0, 1)
	return &end
}

func (h *Handler) listRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := procurement.RequestFilters{
		Status:       procurement.RequestStatus(q.Get("status")),
		PurchaseType: procurement.PurchaseType(q.Get("purchase_type")),
		CategoryID:   queryInt(r, "category_id"),
		RequestedBy:  queryInt(r, "requested_by"),
		Priority:     procurement.Priority(q.Get("priority")),
		From:         queryDate(r, "date_from"),
		To:           queryDateEnd(r, "date_to"),
		Search:       q.Get("search"),
	}
	filters.Page, filters.Limit = procurement.NormalizePage(int(queryInt(r, "page")), int(queryInt(r, "limit")))
	rows, total, err := h.service.ListRequests(r.Context(), actor(r), filters)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse[procurement.PurchaseRequest]{Data: rows, Total: total, Page: filters.Page, Limit: filters.Limit})
}

func (h *Handler) createRequest(w http.ResponseWriter, r *http.Request) {
	var form createRequestPayload
	if !h.decode(w, r, &form) {
		return
	}
	pr, err := h.service.CreateRequest(r.Context(), actor(r), form.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, pr)
}

func (h *Handler) pendingApproval(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.PendingApproval(r.Context(), actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) getRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	detail, err := h.service.GetRequest(r.Context(), actor(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) updateRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var form updateRequestPayload
	if !h.decode(w, r, &form) {
		return
	}
	pr, err := h.service.UpdateRequest(r.Context(), actor(r), id, form.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pr)
}

func (h *Handler) deleteRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteRequest(r.Context(), actor(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) submitRequest(w http.ResponseWriter, r *http.Request) {
	h.commentTransition(w, r, h.service.SubmitRequest)
}

func (h *Handler) approveRequest(w http.ResponseWriter, r *http.Request) {
	h.commentTransition(w, r, h.service.ApproveRequest)
}

func (h *Handler) rejectRequest(w http.ResponseWriter, r *http.Request) {
	h.reasonTransition(w, r, h.service.RejectRequest)
}

func (h *Handler) cancelRequest(w http.ResponseWriter, r *http.Request) {
	h.reasonTransition(w, r, h.service.CancelRequest)
}

type transitionFunc func(ctx context.Context, actor procurement.Actor, id int64, text string) (procurement.PurchaseRequest, error)

func (h *Handler) commentTransition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var form commentPayload
	if r.ContentLength != 0 && !h.decode(w, r, &form) {
		return
	}
	h.respondTransition(w, r, fn, id, form.Comment)
}

func (h *Handler) reasonTransition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var form reasonPayload
	if !h.decode(w, r, &form) {
		return
	}
	h.respondTransition(w, r, fn, id, form.Reason)
}

func (h *Handler) respondTransition(w http.ResponseWriter, r *http.Request, fn transitionFunc, id int64, text string) {
	pr, err := fn(r.Context(), actor(r), id, text)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pr)
}

func (h *Handler) requestHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rows, err := h.service.RequestHistory(r.Context(), actor(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) listQuotations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rows, err := h.service.ListQuotations(r.Context(), actor(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) registerQuotation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var form registerQuotationPayload
	if !h.decode(w, r, &form) {
		return
	}
	q, items, err := h.service.RegisterQuotation(r.Context(), actor(r), form.input(id))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, quotationResponse{Quotation: q, Items: items})
}

func (h *Handler) compareQuotations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	cmp, err := h.service.CompareQuotations(r.Context(), actor(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cmp)
}

func (h *Handler) sendRFQ(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var form rfqPayload
	if !h.decode(w, r, &form) {
		return
	}
	result, err := h.service.SendRFQ(r.Context(), actor(r), id, form.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, result)
}

func (h *Handler) getQuotation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	q, items, err := h.service.GetQuotation(r.Context(), actor(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, quotationResponse{Quotation: q, Items: items})
}

func (h *Handler) updateQuotation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var form updateQuotationPayload
	if !h.decode(w, r, &form) {
		return
	}
	q, err := h.service.UpdateQuotation(r.Context(), actor(r), id, form.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) deleteQuotation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteQuotation(r.Context(), actor(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) selectQuotation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var form selectQuotationPayload
	if r.ContentLength != 0 && !h.decode(w, r, &form) {
		return
	}
	q, err := h.service.SelectQuotation(r.Context(), actor(r), id, form.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := procurement.OrderFilters{
		Status:     procurement.OrderStatus(q.Get("status")),
		SupplierID: queryInt(r, "supplier_id"),
		RequestID:  queryInt(r, "request_id"),
		Search:     q.Get("search"),
	}
	filters.Page, filters.Limit = procurement.NormalizePage(int(queryInt(r, "page")), int(queryInt(r, "limit")))
	rows, total, err := h.service.ListOrders(r.Context(), actor(r), filters)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse[procurement.PurchaseOrder]{Data: rows, Total: total, Page: filters.Page, Limit: filters.Limit})
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var form createOrderPayload
	if !h.decode(w, r, &form) {
		return
	}
	po, items, err := h.service.CreateOrderFromRequest(r.Context(), actor(r), form.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, orderResponse{Order: po, Items: items})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	po, items, err := h.service.GetOrder(r.Context(), actor(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orderResponse{Order: po, Items: items})
}

func (h *Handler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteOrder(r.Context(), actor(r), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var form orderStatusPayload
	if !h.decode(w, r, &form) {
		return
	}
	po, err := h.service.UpdateOrderStatus(r.Context(), actor(r), id, procurement.OrderStatus(form.Status))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) convertToExpense(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var form convertPayload
	if !h.decode(w, r, &form) {
		return
	}
	conv, err := h.service.ConvertToExpense(r.Context(), actor(r), id, form.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, conv)
}

func (h *Handler) getDirectLimit(w http.ResponseWriter, r *http.Request) {
	limit, err := h.service.DirectPurchaseLimit(r.Context(), actor(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, limitPayload{Limit: limit})
}

func (h *Handler) setDirectLimit(w http.ResponseWriter, r *http.Request) {
	var form limitPayload
	if !h.decode(w, r, &form) {
		return
	}
	if err := h.service.SetDirectPurchaseLimit(r.Context(), actor(r), form.Limit); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, form)
}
