package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/purchasing/internal/jobs"
	"github.com/odyssey-erp/purchasing/internal/procurement"
)

// RFQSender hands an invitation to the supplier channel (mail relay,
// messaging gateway).
type RFQSender interface {
	SendRFQ(ctx context.Context, rfq procurement.RFQ) error
}

// LogSender records invitations in the log. It is used until a channel
// gateway is configured.
type LogSender struct {
	Logger *slog.Logger
}

// SendRFQ implements RFQSender.
func (s LogSender) SendRFQ(ctx context.Context, rfq procurement.RFQ) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("rfq delivered",
		slog.String("request", rfq.Request.Number),
		slog.Int64("supplier_id", rfq.SupplierID),
		slog.String("channel", rfq.Channel),
		slog.Time("deadline", rfq.Deadline),
	)
	return nil
}

// RFQJob processes TaskRFQDispatch tasks.
type RFQJob struct {
	sender  RFQSender
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewRFQJob constructs the worker side of RFQ dispatch.
func NewRFQJob(sender RFQSender, logger *slog.Logger, metrics *jobmetrics.Metrics) *RFQJob {
	if logger == nil {
		logger = slog.Default()
	}
	if sender == nil {
		sender = LogSender{Logger: logger}
	}
	return &RFQJob{sender: sender, logger: logger, metrics: metrics}
}

// Handle executes the task.
func (j *RFQJob) Handle(ctx context.Context, t *asynq.Task) error {
	var rfq procurement.RFQ
	if err := json.Unmarshal(t.Payload(), &rfq); err != nil {
		j.logger.Error("rfq payload", slog.Any("error", err))
		return fmt.Errorf("decode rfq payload: %w", asynq.SkipRetry)
	}
	if rfq.SupplierID <= 0 || rfq.Request.ID <= 0 {
		return fmt.Errorf("rfq without request or supplier: %w", asynq.SkipRetry)
	}
	tracker := j.metrics.Track("rfq_dispatch")
	err := j.sender.SendRFQ(ctx, rfq)
	j.metrics.AddRFQ(rfq.Channel, err == nil)
	if err != nil {
		j.logger.Warn("rfq delivery failed",
			slog.String("request", rfq.Request.Number),
			slog.Int64("supplier_id", rfq.SupplierID),
			slog.Any("error", err),
		)
	}
	return tracker.End(err)
}

type rfqEnqueuer interface {
	EnqueueRFQ(ctx context.Context, rfq procurement.RFQ) (*asynq.TaskInfo, error)
}

// RFQNotifier implements procurement.Notifier by queueing each invitation.
type RFQNotifier struct {
	client rfqEnqueuer
	logger *slog.Logger
}

// NewRFQNotifier constructs a notifier on top of the job client.
func NewRFQNotifier(client rfqEnqueuer, logger *slog.Logger) *RFQNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RFQNotifier{client: client, logger: logger}
}

// DispatchRFQ implements procurement.Notifier. An invitation already queued
// counts as dispatched.
func (n *RFQNotifier) DispatchRFQ(ctx context.Context, rfq procurement.RFQ) error {
	info, err := n.client.EnqueueRFQ(ctx, rfq)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		n.logger.Debug("rfq already queued", slog.Int64("supplier_id", rfq.SupplierID))
		return nil
	}
	if err != nil {
		return err
	}
	n.logger.Debug("rfq queued", slog.String("task_id", info.ID), slog.Int64("supplier_id", rfq.SupplierID))
	return nil
}
