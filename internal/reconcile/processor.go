package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/go-cardpay-gateway/internal/idempotency"
	"github.com/imrishuroy/go-cardpay-gateway/internal/logging"
	"github.com/imrishuroy/go-cardpay-gateway/internal/s2s"
)

// DefaultLease is how long an IN_PROGRESS attempt is trusted before another
// delivery may take it over.
const DefaultLease = 5 * time.Minute

// Refunder retries refunds. *s2s.Executor satisfies it.
type Refunder interface {
	Refund(ctx context.Context, in s2s.Input) (*s2s.Result, error)
}

// Processor handles SQS messages and retries the compensations they describe.
type Processor struct {
	idempStore *idempotency.Store
	refunder   Refunder
	log        *logging.Logger
	lease      time.Duration
}

// NewProcessor creates a processor. A nil logger discards output.
func NewProcessor(idempStore *idempotency.Store, refunder Refunder, lg *logging.Logger) *Processor {
	if lg == nil {
		lg = logging.Nop()
	}
	return &Processor{idempStore: idempStore, refunder: refunder, log: lg, lease: DefaultLease}
}

// Handle receives an SQS batch event and processes each message.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			// Return error: Lambda will retry. If failed too many times, message goes to DLQ.
			p.log.Error(ctx, logging.FlagWorker, "reconcile.failed", "reconciliation attempt failed", map[string]any{
				"messageId": rec.MessageId, "error": err,
			})
			return err
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var task Task
	if err := json.Unmarshal([]byte(rec.Body), &task); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	if task.TaskID == "" {
		return fmt.Errorf("message %s has no task id", rec.MessageId)
	}
	if task.Action != ActionRefund {
		p.log.Warn(ctx, logging.FlagWorker, "reconcile.skip", "unsupported reconciliation action", map[string]any{
			"taskId": task.TaskID, "action": task.Action,
		})
		return nil
	}

	proceed, err := p.claim(ctx, task)
	if err != nil || !proceed {
		return err
	}

	p.log.Info(ctx, logging.FlagWorker, "reconcile.refund", "retrying refund", map[string]any{
		"taskId": task.TaskID, "saga": task.Saga, "paymentId": task.PaymentID, "idempotencyKey": task.IdempotencyKey,
	})
	res, err := p.refunder.Refund(ctx, s2s.Input{
		UserID:         task.UserID,
		OrderID:        task.OrderID,
		PaymentID:      task.PaymentID,
		OriginalTxnID:  task.OriginalTxnID,
		Amount:         task.Amount,
		Currency:       task.Currency,
		IdempotencyKey: task.IdempotencyKey,
	})
	if err == nil && !res.Outcome.Approved {
		err = fmt.Errorf("refund declined: %s %s", res.Outcome.ResultCode, res.Outcome.Description)
	}
	if err != nil {
		if mErr := p.idempStore.MarkFailed(ctx, task.TaskID, err.Error()); mErr != nil {
			p.log.Error(ctx, logging.FlagWorker, "reconcile.mark_failed", "recording failure failed", map[string]any{
				"taskId": task.TaskID, "error": mErr,
			})
		}
		return fmt.Errorf("refund for task %s: %w", task.TaskID, err)
	}

	body, _ := json.Marshal(map[string]string{"txn_id": res.Transaction.TxnID, "status": res.Transaction.Status})
	if err := p.idempStore.MarkDone(ctx, task.TaskID, string(body), 200); err != nil {
		return fmt.Errorf("failed to update idempotency: %w", err)
	}
	p.log.Info(ctx, logging.FlagWorker, "reconcile.done", "compensation reconciled", map[string]any{
		"taskId": task.TaskID, "txnId": res.Transaction.TxnID,
	})
	return nil
}

// claim decides whether this delivery should do the work. Completed tasks and
// attempts still owned by another delivery are acknowledged without work.
func (p *Processor) claim(ctx context.Context, task Task) (bool, error) {
	created, err := p.idempStore.CreateIfNotExists(ctx, task.TaskID, task.PaymentID)
	if err != nil {
		return false, fmt.Errorf("create idempotency record: %w", err)
	}
	if created {
		return true, nil
	}
	rec, err := p.idempStore.Get(ctx, task.TaskID)
	if err != nil {
		return false, fmt.Errorf("load idempotency record: %w", err)
	}
	if rec == nil {
		return false, fmt.Errorf("idempotency record %s vanished", task.TaskID)
	}
	if rec.Status == idempotency.StatusDone {
		p.log.Info(ctx, logging.FlagWorker, "reconcile.duplicate", "task already reconciled", map[string]any{"taskId": task.TaskID})
		return false, nil
	}
	ok, err := p.idempStore.Reclaim(ctx, rec, p.lease)
	if err != nil {
		return false, fmt.Errorf("reclaim idempotency record: %w", err)
	}
	if !ok {
		// another delivery holds it; let SQS bring this one back later
		return false, fmt.Errorf("task %s is in progress elsewhere", task.TaskID)
	}
	return true, nil
}
