// Package reconcile carries compensation failures from the saga runner to the
// reconciliation worker over SQS.
package reconcile

import (
	"context"
	"time"

	"github.com/imrishuroy/go-cardpay-gateway/internal/aws"
)

// ActionRefund asks the worker to retry a refund that a saga could not make.
const ActionRefund = "refund"

// Task is the payload sent from the saga -> SQS -> worker.
type Task struct {
	TaskID         string    `json:"task_id"`
	Action         string    `json:"action"`
	Saga           string    `json:"saga"`
	Step           string    `json:"step"`
	FailedStep     string    `json:"failed_step"`
	UserID         string    `json:"user_id"`
	OrderID        string    `json:"order_id,omitempty"`
	PaymentID      string    `json:"payment_id"`
	OriginalTxnID  string    `json:"original_txn_id,omitempty"`
	Amount         float64   `json:"amount"`
	Currency       string    `json:"currency"`
	IdempotencyKey string    `json:"idempotency_key"`
	Error          string    `json:"error,omitempty"`
	Cause          string    `json:"cause,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Queue accepts tasks for the worker.
type Queue interface {
	Enqueue(ctx context.Context, t Task) error
}

// SQSQueue publishes tasks to the reconciliation queue.
type SQSQueue struct {
	pub *aws.Publisher
}

var _ Queue = (*SQSQueue)(nil)

func NewSQSQueue(pub *aws.Publisher) *SQSQueue {
	return &SQSQueue{pub: pub}
}

func (q *SQSQueue) Enqueue(ctx context.Context, t Task) error {
	return q.pub.PublishJSON(ctx, t, map[string]string{
		"action":    t.Action,
		"saga":      t.Saga,
		"dedup_key": t.TaskID,
	})
}
