package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRequest(ctx context.Context, id int64) (PurchaseRequest, []RequestItem, error)
	ListRequests(ctx context.Context, filters RequestFilters) ([]PurchaseRequest, int, error)
	ListPendingApproval(ctx context.Context) ([]PendingRequest, error)
	ListHistory(ctx context.Context, requestID int64) ([]HistoryEntry, error)
	GetQuotation(ctx context.Context, id int64) (Quotation, []QuotationItem, error)
	ListQuotations(ctx context.Context, requestID int64) ([]Quotation, error)
	GetOrder(ctx context.Context, id int64) (PurchaseOrder, []OrderItem, error)
	ListOrders(ctx context.Context, filters OrderFilters) ([]PurchaseOrder, int, error)
}

// SettingsPort supplies the direct purchase limit.
type SettingsPort interface {
	DirectPurchaseLimit(ctx context.Context) (decimal.Decimal, error)
}

// SettingsWriter persists a new direct purchase limit.
type SettingsWriter interface {
	SetDirectPurchaseLimit(ctx context.Context, limit decimal.Decimal, actorID int64) error
}

// Notifier delivers requests for quotation to suppliers.
type Notifier interface {
	DispatchRFQ(ctx context.Context, rfq RFQ) error
}

// TransitionObserver is told about committed status changes.
type TransitionObserver interface {
	ObserveTransition(entity, action string)
}

// DefaultDirectPurchaseLimit applies when no limit is configured.
var DefaultDirectPurchaseLimit = decimal.NewFromInt(100000)

// ServiceConfig carries optional collaborators.
type ServiceConfig struct {
	Settings        SettingsPort
	Notifier        Notifier
	Observer        TransitionObserver
	Logger          *slog.Logger
	DefaultCurrency string
	Now             func() time.Time
}

// Service orchestrates the purchasing workflow.
type Service struct {
	repo     RepositoryPort
	settings SettingsPort
	notifier Notifier
	observer TransitionObserver
	logger   *slog.Logger
	currency string
	now      func() time.Time
}

// NewService constructs the purchasing service.
func NewService(repo RepositoryPort, cfg ServiceConfig) *Service {
	svc := &Service{
		repo:     repo,
		settings: cfg.Settings,
		notifier: cfg.Notifier,
		observer: cfg.Observer,
		logger:   cfg.Logger,
		currency: cfg.DefaultCurrency,
		now:      cfg.Now,
	}
	if svc.settings == nil {
		svc.settings = FixedLimit(DefaultDirectPurchaseLimit)
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	if svc.currency == "" {
		svc.currency = "ARS"
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc
}

// FixedLimit is a SettingsPort returning a constant limit.
type FixedLimit decimal.Decimal

// DirectPurchaseLimit implements SettingsPort.
func (f FixedLimit) DirectPurchaseLimit(context.Context) (decimal.Decimal, error) {
	return decimal.Decimal(f), nil
}

// SetDirectPurchaseLimit changes the threshold used by new requests.
func (s *Service) SetDirectPurchaseLimit(ctx context.Context, actor Actor, limit decimal.Decimal) error {
	if err := authorize(actor, approverRoles); err != nil {
		return err
	}
	if limit.IsNegative() {
		return fmt.Errorf("%w: direct purchase limit must not be negative", ErrValidation)
	}
	writer, ok := s.settings.(SettingsWriter)
	if !ok {
		return fmt.Errorf("%w: settings are read only", ErrStateConflict)
	}
	if err := writer.SetDirectPurchaseLimit(ctx, limit.Round(2), actor.ID); err != nil {
		return persistence(err)
	}
	s.logger.Info("direct purchase limit updated", slog.String("limit", limit.StringFixed(2)), slog.Int64("actor_id", actor.ID))
	return nil
}

// DirectPurchaseLimit returns the threshold in effect.
func (s *Service) DirectPurchaseLimit(ctx context.Context, actor Actor) (decimal.Decimal, error) {
	if err := authorize(actor, operatorRoles); err != nil {
		return decimal.Zero, err
	}
	return s.directLimit(ctx)
}

func (s *Service) directLimit(ctx context.Context) (decimal.Decimal, error) {
	limit, err := s.settings.DirectPurchaseLimit(ctx)
	if err != nil {
		return decimal.Zero, persistence(err)
	}
	return limit, nil
}

func (s *Service) purchaseTypeFor(ctx context.Context, amount decimal.Decimal) (PurchaseType, error) {
	limit, err := s.directLimit(ctx)
	if err != nil {
		return "", err
	}
	if amount.LessThanOrEqual(limit) {
		return PurchaseDirect, nil
	}
	return PurchasePriceCompetition, nil
}

// persistence tags storage failures while keeping domain errors intact.
func persistence(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return err
		}
	}
	if errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

func (s *Service) withTx(ctx context.Context, fn func(context.Context, TxRepository, *transitionLog) error) (*transitionLog, error) {
	log := &transitionLog{}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		log.reset()
		return fn(ctx, tx, log)
	})
	if err != nil {
		return nil, persistence(err)
	}
	s.publish(log)
	return log, nil
}

func notFound(entity string, id int64) error {
	return fmt.Errorf("%w: %s %d", ErrNotFound, entity, id)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

func defaultString(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
