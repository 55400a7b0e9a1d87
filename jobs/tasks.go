package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/purchasing/internal/procurement"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRFQDispatch delivers one request for quotation to one supplier.
	TaskRFQDispatch = "procurement:rfq.dispatch"
)

const rfqRetention = 24 * time.Hour

// RFQTaskID derives a stable task id so the same invitation is queued once.
func RFQTaskID(rfq procurement.RFQ) string {
	key := fmt.Sprintf("RFQ:%d:%d:%s:%d", rfq.Request.ID, rfq.SupplierID, rfq.Channel, rfq.Deadline.Unix())
	return uuid.NewSHA1(uuid.Nil, []byte(key)).String()
}

// NewRFQDispatchTask constructs an Asynq task.
func NewRFQDispatchTask(rfq procurement.RFQ) (*asynq.Task, error) {
	data, err := json.Marshal(rfq)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRFQDispatch, data,
		asynq.Queue(QueueDefault),
		asynq.TaskID(RFQTaskID(rfq)),
		asynq.MaxRetry(5),
		asynq.Retention(rfqRetention),
	), nil
}
