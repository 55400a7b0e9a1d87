package procurement

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CreateRequestInput describes a new purchase request.
type CreateRequestInput struct {
	Title               string
	Description         string
	Justification       string
	CategoryID          int64
	EstimatedAmount     decimal.Decimal
	Currency            string
	Priority            Priority
	PreferredSupplierID int64
	RequiredDate        *time.Time
	Notes               string
	Items               []ItemInput
}

// UpdateRequestInput merges into a draft request. Nil fields are kept; a non-nil
// Items slice replaces every line.
type UpdateRequestInput struct {
	Title               *string
	Description         *string
	Justification       *string
	CategoryID          *int64
	EstimatedAmount     *decimal.Decimal
	Currency            *string
	Priority            *Priority
	PreferredSupplierID *int64
	RequiredDate        *time.Time
	Notes               *string
	Items               []ItemInput
}

// CreateRequest persists a draft request, numbering it and classifying it
// against the direct purchase limit.
func (s *Service) CreateRequest(ctx context.Context, actor Actor, input CreateRequestInput) (PurchaseRequest, error) {
	if err := authorize(actor, operatorRoles); err != nil {
		return PurchaseRequest{}, err
	}
	title := cleanText(input.Title)
	description := cleanText(input.Description)
	switch {
	case title == "":
		return PurchaseRequest{}, invalid("title is required")
	case description == "":
		return PurchaseRequest{}, invalid("description is required")
	case !input.EstimatedAmount.IsPositive():
		return PurchaseRequest{}, invalid("estimated amount must be greater than zero")
	}
	priority := input.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	if !priority.Valid() {
		return PurchaseRequest{}, invalid("unknown priority %q", priority)
	}
	items, err := normalizeItems(input.Items)
	if err != nil {
		return PurchaseRequest{}, err
	}
	amount := input.EstimatedAmount.Round(2)
	purchaseType, err := s.purchaseTypeFor(ctx, amount)
	if err != nil {
		return PurchaseRequest{}, err
	}

	now := s.now()
	pr := PurchaseRequest{
		Title:               title,
		Description:         description,
		Justification:       cleanText(input.Justification),
		CategoryID:          input.CategoryID,
		EstimatedAmount:     amount,
		Currency:            defaultString(cleanText(input.Currency), s.currency),
		PurchaseType:        purchaseType,
		Priority:            priority,
		Status:              RequestDraft,
		PreferredSupplierID: input.PreferredSupplierID,
		RequiredDate:        input.RequiredDate,
		RequestedBy:         actor.ID,
		Notes:               cleanText(input.Notes),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	_, err = s.withTx(ctx, func(ctx context.Context, tx TxRepository, events *transitionLog) error {
		number, err := nextNumber(ctx, tx, requestPrefix, now)
		if err != nil {
			return err
		}
		pr.Number = number
		id, err := tx.CreateRequest(ctx, pr)
		if err != nil {
			return err
		}
		pr.ID = id
		if err := tx.ReplaceRequestItems(ctx, id, requestItems(items)); err != nil {
			return err
		}
		return s.logChange(ctx, tx, events, HistoryEntry{
			RequestID: id,
			Action:    ActionCreated,
			NewStatus: RequestDraft,
			ActorID:   actor.ID,
			Comment:   "request created",
		})
	})
	if err != nil {
		return PurchaseRequest{}, err
	}
	return pr, nil
}

// UpdateRequest edits a draft request.
func (s *Service) UpdateRequest(ctx context.Context, actor Actor, id int64, input UpdateRequestInput) (PurchaseRequest, error) {
	if err := authorize(actor, operatorRoles); err != nil {
		return PurchaseRequest{}, err
	}
	if input.Title != nil && cleanText(*input.Title) == "" {
		return PurchaseRequest{}, invalid("title is required")
	}
	if input.Description != nil && cleanText(*input.Description) == "" {
		return PurchaseRequest{}, invalid("description is required")
	}
	if input.Priority != nil && !input.Priority.Valid() {
		return PurchaseRequest{}, invalid("unknown priority %q", *input.Priority)
	}
	var (
		purchaseType PurchaseType
		amount       decimal.Decimal
	)
	if input.EstimatedAmount != nil {
		if !input.EstimatedAmount.IsPositive() {
			return PurchaseRequest{}, invalid("estimated amount must be greater than zero")
		}
		amount = input.EstimatedAmount.Round(2)
		var err error
		if purchaseType, err = s.purchaseTypeFor(ctx, amount); err != nil {
			return PurchaseRequest{}, err
		}
	}
	var items []RequestItem
	if input.Items != nil {
		normalized, err := normalizeItems(input.Items)
		if err != nil {
			return PurchaseRequest{}, err
		}
		items = requestItems(normalized)
	}

	return s.mutateRequest(ctx, id, func(ctx context.Context, tx TxRepository, _ *transitionLog, pr *PurchaseRequest) error {
		if pr.Status != RequestDraft {
			return fmt.Errorf("%w: only draft requests can be edited, request is %s", ErrStateConflict, pr.Status)
		}
		applyRequestUpdate(pr, input)
		if input.EstimatedAmount != nil && !pr.EstimatedAmount.Equal(amount) {
			pr.EstimatedAmount = amount
			pr.PurchaseType = purchaseType
		}
		pr.UpdatedAt = s.now()
		if err := tx.UpdateRequest(ctx, *pr); err != nil {
			return err
		}
		if items != nil {
			return tx.ReplaceRequestItems(ctx, pr.ID, items)
		}
		return nil
	})
}

func applyRequestUpdate(pr *PurchaseRequest, input UpdateRequestInput) {
	if input.Title != nil {
		pr.Title = cleanText(*input.Title)
	}
	if input.Description != nil {
		pr.Description = cleanText(*input.Description)
	}
	if input.Justification != nil {
		pr.Justification = cleanText(*input.Justification)
	}
	if input.CategoryID != nil {
		pr.CategoryID = *input.CategoryID
	}
	if input.Currency != nil && cleanText(*input.Currency) != "" {
		pr.Currency = cleanText(*input.Currency)
	}
	if input.Priority != nil {
		pr.Priority = *input.Priority
	}
	if input.PreferredSupplierID != nil {
		pr.PreferredSupplierID = *input.PreferredSupplierID
	}
	if input.RequiredDate != nil {
		pr.RequiredDate = input.RequiredDate
	}
	if input.Notes != nil {
		pr.Notes = cleanText(*input.Notes)
	}
}

// SubmitRequest sends a draft for approval.
func (s *Service) SubmitRequest(ctx context.Context, actor Actor, id int64, comment string) (PurchaseRequest, error) {
	if err := authorize(actor, operatorRoles); err != nil {
		return PurchaseRequest{}, err
	}
	return s.mutateRequest(ctx, id, func(ctx context.Context, tx TxRepository, events *transitionLog, pr *PurchaseRequest) error {
		return s.transition(ctx, tx, events, pr, RequestPendingApproval, ActionSubmitted, actor, defaultString(cleanText(comment), "request submitted for approval"))
	})
}

// ApproveRequest approves a pending request. Direct purchases become approved,
// price competitions move to in_quotation.
func (s *Service) ApproveRequest(ctx context.Context, actor Actor, id int64, comment string) (PurchaseRequest, error) {
	if err := authorize(actor, approverRoles); err != nil {
		return PurchaseRequest{}, err
	}
	return s.mutateRequest(ctx, id, func(ctx context.Context, tx TxRepository, events *transitionLog, pr *PurchaseRequest) error {
		next := RequestApproved
		if pr.PurchaseType == PurchasePriceCompetition {
			next = RequestInQuotation
		}
		if !pr.Status.CanTransitionTo(next) || pr.Status != RequestPendingApproval {
			return requestConflict(pr.Status, next)
		}
		now := s.now()
		if err := tx.SetRequestApproval(ctx, pr.ID, actor.ID, now); err != nil {
			return err
		}
		pr.ApprovedBy = actor.ID
		pr.ApprovedAt = &now
		return s.transition(ctx, tx, events, pr, next, ActionApproved, actor, defaultString(cleanText(comment), "request approved"))
	})
}

// RejectRequest rejects a pending request; reason is mandatory.
func (s *Service) RejectRequest(ctx context.Context, actor Actor, id int64, reason string) (PurchaseRequest, error) {
	if err := authorize(actor, approverRoles); err != nil {
		return PurchaseRequest{}, err
	}
	reason = cleanText(reason)
	if reason == "" {
		return PurchaseRequest{}, invalid("rejection reason is required")
	}
	return s.mutateRequest(ctx, id, func(ctx context.Context, tx TxRepository, events *transitionLog, pr *PurchaseRequest) error {
		if !pr.Status.CanTransitionTo(RequestRejected) {
			return requestConflict(pr.Status, RequestRejected)
		}
		if err := tx.SetRequestRejection(ctx, pr.ID, reason); err != nil {
			return err
		}
		pr.RejectionReason = reason
		return s.transition(ctx, tx, events, pr, RequestRejected, ActionRejected, actor, reason)
	})
}

// CancelRequest cancels a request that is neither completed nor cancelled.
func (s *Service) CancelRequest(ctx context.Context, actor Actor, id int64, reason string) (PurchaseRequest, error) {
	if err := authorize(actor, operatorRoles); err != nil {
		return PurchaseRequest{}, err
	}
	return s.mutateRequest(ctx, id, func(ctx context.Context, tx TxRepository, events *transitionLog, pr *PurchaseRequest) error {
		return s.transition(ctx, tx, events, pr, RequestCancelled, ActionCancelled, actor, defaultString(cleanText(reason), "request cancelled"))
	})
}

// DeleteRequest removes a draft request and its lines. The history trail is kept.
func (s *Service) DeleteRequest(ctx context.Context, actor Actor, id int64) error {
	if err := authorize(actor, approverRoles); err != nil {
		return err
	}
	_, err := s.mutateRequest(ctx, id, func(ctx context.Context, tx TxRepository, events *transitionLog, pr *PurchaseRequest) error {
		if pr.Status != RequestDraft {
			return fmt.Errorf("%w: only draft requests can be deleted, request is %s", ErrStateConflict, pr.Status)
		}
		if err := tx.DeleteRequest(ctx, pr.ID); err != nil {
			return err
		}
		return s.logChange(ctx, tx, events, HistoryEntry{
			RequestID: pr.ID,
			Action:    ActionDeleted,
			OldStatus: RequestDraft,
			ActorID:   actor.ID,
			Comment:   fmt.Sprintf("request %s deleted", pr.Number),
		})
	})
	return err
}

// mutateRequest locks the request inside a transaction and hands it to fn.
func (s *Service) mutateRequest(ctx context.Context, id int64, fn func(context.Context, TxRepository, *transitionLog, *PurchaseRequest) error) (PurchaseRequest, error) {
	var out PurchaseRequest
	_, err := s.withTx(ctx, func(ctx context.Context, tx TxRepository, events *transitionLog) error {
		pr, err := tx.LockRequest(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, events, &pr); err != nil {
			return err
		}
		out = pr
		return nil
	})
	if err != nil {
		return PurchaseRequest{}, err
	}
	return out, nil
}

// GetRequest returns a request with its lines, history and quotations.
func (s *Service) GetRequest(ctx context.Context, actor Actor, id int64) (RequestDetail, error) {
	if err := authorize(actor, operatorRoles); err != nil {
		return RequestDetail{}, err
	}
	pr, items, err := s.repo.GetRequest(ctx, id)
	if err != nil {
		return RequestDetail{}, persistence(err)
	}
	history, err := s.repo.ListHistory(ctx, id)
	if err != nil {
		return RequestDetail{}, persistence(err)
	}
	quotes, err := s.repo.ListQuotations(ctx, id)
	if err != nil {
		return RequestDetail{}, persistence(err)
	}
	return RequestDetail{Request: pr, Items: items, History: history, Quotations: quotes}, nil
}

// ListRequests returns one page of requests and the total match count.
func (s *Service) ListRequests(ctx context.Context, actor Actor, filters RequestFilters) ([]PurchaseRequest, int, error) {
	if err := authorize(actor, operatorRoles); err != nil {
		return nil, 0, err
	}
	if filters.Status != "" && !filters.Status.Valid() {
		return nil, 0, invalid("unknown status %q", filters.Status)
	}
	if filters.Priority != "" && !filters.Priority.Valid() {
		return nil, 0, invalid("unknown priority %q", filters.Priority)
	}
	filters.Page, filters.Limit = NormalizePage(filters.Page, filters.Limit)
	filters.Search = cleanText(filters.Search)
	rows, total, err := s.repo.ListRequests(ctx, filters)
	if err != nil {
		return nil, 0, persistence(err)
	}
	return rows, total, nil
}

// PendingApproval lists requests awaiting approval, most urgent first.
func (s *Service) PendingApproval(ctx context.Context, actor Actor) ([]PendingRequest, error) {
	if err := authorize(actor, approverRoles); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListPendingApproval(ctx)
	if err != nil {
		return nil, persistence(err)
	}
	return rows, nil
}
