package procurement

import (
	"context"
	"log/slog"
	"time"
)

// RFQ channels.
const (
	ChannelEmail    = "email"
	ChannelWhatsApp = "whatsapp"
)

// RFQ is the request-for-quotation handed to the notification collaborator.
type RFQ struct {
	Request    PurchaseRequest `json:"request"`
	Items      []RequestItem   `json:"items"`
	SupplierID int64           `json:"supplier_id"`
	Deadline   time.Time       `json:"deadline"`
	Channel    string          `json:"channel"`
	Message    string          `json:"message,omitempty"`
	SentBy     int64           `json:"sent_by"`
}

// SendRFQInput lists the suppliers to invite.
type SendRFQInput struct {
	SupplierIDs []int64
	Deadline    time.Time
	Channel     string
	Message     string
}

// RFQResult reports which suppliers were handed to the notifier.
type RFQResult struct {
	Dispatched []int64 `json:"dispatched"`
	Failed     []int64 `json:"failed"`
}

// SendRFQ asks suppliers to quote an approved request. Delivery failures are
// logged and reported in the result, never returned as errors.
func (s *Service) SendRFQ(ctx context.Context, actor Actor, requestID int64, input SendRFQInput) (RFQResult, error) {
	if err := authorize(actor, operatorRoles); err != nil {
		return RFQResult{}, err
	}
	suppliers := uniqueIDs(input.SupplierIDs)
	if len(suppliers) == 0 {
		return RFQResult{}, invalid("at least one supplier is required")
	}
	if input.Deadline.IsZero() {
		return RFQResult{}, invalid("deadline is required")
	}
	if input.Deadline.Before(s.now()) {
		return RFQResult{}, invalid("deadline must be in the future")
	}
	channel := defaultString(input.Channel, ChannelEmail)
	if channel != ChannelEmail && channel != ChannelWhatsApp {
		return RFQResult{}, invalid("unknown channel %q", channel)
	}
	pr, items, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return RFQResult{}, persistence(err)
	}
	switch pr.Status {
	case RequestApproved, RequestInQuotation, RequestQuotationReceived:
	default:
		return RFQResult{}, requestConflict(pr.Status, RequestInQuotation)
	}

	var result RFQResult
	for _, supplierID := range suppliers {
		rfq := RFQ{
			Request:    pr,
			Items:      items,
			SupplierID: supplierID,
			Deadline:   input.Deadline,
			Channel:    channel,
			Message:    cleanText(input.Message),
			SentBy:     actor.ID,
		}
		if s.notifier == nil {
			s.logger.Warn("rfq notifier not configured", slog.Int64("request_id", pr.ID))
			result.Failed = append(result.Failed, supplierID)
			continue
		}
		if err := s.notifier.DispatchRFQ(ctx, rfq); err != nil {
			s.logger.Warn("rfq dispatch failed",
				slog.Int64("request_id", pr.ID),
				slog.Int64("supplier_id", supplierID),
				slog.Any("error", err),
			)
			result.Failed = append(result.Failed, supplierID)
			continue
		}
		result.Dispatched = append(result.Dispatched, supplierID)
	}
	return result, nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
