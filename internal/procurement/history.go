package procurement

import (
	"context"
	"log/slog"
)

type transitionEvent struct {
	entity string
	action string
	id     int64
}

// transitionLog collects the transitions written by one transaction. It is
// published only after the commit succeeds.
type transitionLog struct {
	events []transitionEvent
}

func (l *transitionLog) add(entity, action string, id int64) {
	l.events = append(l.events, transitionEvent{entity: entity, action: action, id: id})
}

func (l *transitionLog) reset() {
	l.events = l.events[:0]
}

// transition moves a request locked by the current transaction to next and
// appends the matching history row in that same transaction.
func (s *Service) transition(ctx context.Context, tx TxRepository, events *transitionLog, pr *PurchaseRequest, next RequestStatus, action HistoryAction, actor Actor, comment string) error {
	if !pr.Status.CanTransitionTo(next) {
		return requestConflict(pr.Status, next)
	}
	if pr.Status != next {
		if err := tx.UpdateRequestStatus(ctx, pr.ID, next); err != nil {
			return err
		}
	}
	entry := HistoryEntry{
		RequestID: pr.ID,
		Action:    action,
		OldStatus: pr.Status,
		NewStatus: next,
		ActorID:   actor.ID,
		Comment:   comment,
	}
	if err := s.logChange(ctx, tx, events, entry); err != nil {
		return err
	}
	pr.Status = next
	pr.UpdatedAt = s.now()
	return nil
}

// logChange appends one immutable history row.
func (s *Service) logChange(ctx context.Context, tx TxRepository, events *transitionLog, entry HistoryEntry) error {
	entry.CreatedAt = s.now()
	if err := tx.AppendHistory(ctx, entry); err != nil {
		return err
	}
	events.add("request", string(entry.Action), entry.RequestID)
	return nil
}

func (s *Service) publish(events *transitionLog) {
	if events == nil {
		return
	}
	for _, ev := range events.events {
		if s.observer != nil {
			s.observer.ObserveTransition(ev.entity, ev.action)
		}
		s.logger.Info("purchasing transition",
			slog.String("entity", ev.entity),
			slog.String("action", ev.action),
			slog.Int64("id", ev.id),
		)
	}
}

// RequestHistory returns the audit trail of a request, oldest first.
func (s *Service) RequestHistory(ctx context.Context, actor Actor, requestID int64) ([]HistoryEntry, error) {
	if err := authorize(actor, operatorRoles); err != nil {
		return nil, err
	}
	if _, _, err := s.repo.GetRequest(ctx, requestID); err != nil {
		return nil, persistence(err)
	}
	entries, err := s.repo.ListHistory(ctx, requestID)
	if err != nil {
		return nil, persistence(err)
	}
	return entries, nil
}
