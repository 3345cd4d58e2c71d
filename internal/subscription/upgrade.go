package subscription

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/go-cardpay-gateway/internal/apperr"
	"github.com/imrishuroy/go-cardpay-gateway/internal/logging"
	"github.com/imrishuroy/go-cardpay-gateway/internal/reconcile"
	"github.com/imrishuroy/go-cardpay-gateway/internal/s2s"
	"github.com/imrishuroy/go-cardpay-gateway/internal/saga"
	"github.com/imrishuroy/go-cardpay-gateway/internal/store"
	"github.com/imrishuroy/go-cardpay-gateway/internal/validation"
)

const upgradeSaga = "upgrade_subscription"

// Upgrade saga steps.
const (
	StepChargeProration   = "charge_proration"
	StepCancelOldSchedule = "cancel_old_schedule"
	StepCreateNewSchedule = "create_new_schedule"
)

// Plan is the schedule a subscription moves to.
type Plan struct {
	Amount    float64   `json:"amount" validate:"gt=0,minor_units=Currency"`
	Currency  string    `json:"currency" validate:"required,currency_code"`
	Frequency string    `json:"frequency" validate:"required,oneof=daily weekly monthly yearly"`
	Start     time.Time `json:"start,omitempty"`
	// ProrationAmount is charged immediately. Zero skips the charge.
	ProrationAmount float64 `json:"prorationAmount" validate:"gte=0,minor_units=Currency"`
}

type UpgradeInput struct {
	UserID         string `json:"userId" validate:"required"`
	OldScheduleID  string `json:"oldScheduleId" validate:"required"`
	NewPlan        Plan   `json:"newPlan"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// UpgradeResult is the state after a successful upgrade.
type UpgradeResult struct {
	OldSchedule *store.Schedule `json:"oldSchedule"`
	NewSchedule *store.Schedule `json:"newSchedule"`
	Proration   *s2s.Result     `json:"proration,omitempty"`
}

// upgrade is the state shared by the saga steps of one call.
type upgrade struct {
	id     string
	in     UpgradeInput
	old    *store.Schedule
	charge *s2s.Result
	result UpgradeResult
}

func (u *upgrade) key(step string) string { return u.id + ":" + step }

// UpgradeSubscription charges the proration, cancels the old schedule and
// creates the new one. If a later step fails the proration is refunded; the
// old schedule is not restored once cancelled. A refund that fails is queued
// for reconciliation and never retried here.
func (m *Manager) UpgradeSubscription(ctx context.Context, in UpgradeInput) (*UpgradeResult, error) {
	if m.payments == nil {
		return nil, apperr.New(apperr.CodeConfiguration, "subscription upgrades need a payments executor")
	}
	if err := validation.Validate(in); err != nil {
		return nil, err
	}
	old, err := m.loadSchedule(ctx, in.UserID, in.OldScheduleID)
	if err != nil {
		return nil, err
	}
	if old.Status != store.ScheduleActive {
		return nil, apperr.New(apperr.CodeValidation, "only an active schedule can be upgraded",
			apperr.WithStatus(http.StatusConflict),
			apperr.WithData(map[string]any{"scheduleId": old.ScheduleID, "status": old.Status}))
	}

	u := &upgrade{id: in.IdempotencyKey, in: in, old: old}
	if u.id == "" {
		u.id = uuid.NewString()
	}
	runner := saga.NewRunner(m.log, func(ctx context.Context, f saga.CompensationFailure) {
		m.enqueueCompensation(ctx, u, f)
	})
	err = runner.Run(ctx, upgradeSaga,
		saga.Step{Name: StepChargeProration, Action: func(ctx context.Context) error { return m.chargeProration(ctx, u) }, Compensate: func(ctx context.Context) error { return m.refundProration(ctx, u) }},
		saga.Step{Name: StepCancelOldSchedule, Action: func(ctx context.Context) error { return m.cancelOld(ctx, u) }},
		saga.Step{Name: StepCreateNewSchedule, Action: func(ctx context.Context) error { return m.createNew(ctx, u) }},
	)
	if err != nil {
		m.count("SubscriptionUpgrades", "Outcome", "failed")
		return nil, upgradeErr(err)
	}
	m.count("SubscriptionUpgrades", "Outcome", "succeeded")
	m.log.Info(ctx, logging.FlagSubscription, "upgrade.done", "subscription upgraded", map[string]any{
		"userId":        in.UserID,
		"oldScheduleId": old.ScheduleID,
		"newScheduleId": u.result.NewSchedule.ScheduleID,
	})
	return &u.result, nil
}

func (m *Manager) chargeProration(ctx context.Context, u *upgrade) error {
	plan := u.in.NewPlan
	if plan.ProrationAmount == 0 {
		return nil
	}
	res, err := m.payments.Debit(ctx, s2s.Input{
		UserID:         u.in.UserID,
		OrderID:        u.old.OrderID,
		Amount:         plan.ProrationAmount,
		Currency:       plan.Currency,
		RegistrationID: u.old.RegistrationID,
		IdempotencyKey: u.key("charge"),
		Description:    "subscription upgrade proration",
		Recurring:      true,
	})
	if err != nil {
		return err
	}
	if !res.Outcome.Approved {
		return fmt.Errorf("proration declined: %s %s", res.Outcome.ResultCode, res.Outcome.Description)
	}
	u.charge = res
	u.result.Proration = res
	return nil
}

func (m *Manager) refundProration(ctx context.Context, u *upgrade) error {
	if u.charge == nil {
		return nil
	}
	res, err := m.payments.Refund(ctx, m.refundInput(u))
	if err != nil {
		return err
	}
	if !res.Outcome.Approved {
		return fmt.Errorf("proration refund declined: %s %s", res.Outcome.ResultCode, res.Outcome.Description)
	}
	return nil
}

// refundInput is shared by the in-process compensation and the queued retry
// so both use the same idempotency key.
func (m *Manager) refundInput(u *upgrade) s2s.Input {
	txn := u.charge.Transaction
	return s2s.Input{
		UserID:         u.in.UserID,
		OrderID:        u.old.OrderID,
		PaymentID:      txn.GatewayPaymentID,
		OriginalTxnID:  txn.TxnID,
		Amount:         txn.Amount,
		Currency:       txn.Currency,
		IdempotencyKey: u.key("refund"),
	}
}

func (m *Manager) cancelOld(ctx context.Context, u *upgrade) error {
	sch, err := m.CancelSchedule(ctx, u.in.UserID, u.old.ScheduleID)
	if err != nil {
		return err
	}
	u.result.OldSchedule = sch
	return nil
}

func (m *Manager) createNew(ctx context.Context, u *upgrade) error {
	plan := u.in.NewPlan
	sch, err := m.CreateSchedule(ctx, ScheduleInput{
		UserID:         u.in.UserID,
		OrderID:        u.old.OrderID,
		RegistrationID: u.old.RegistrationID,
		Amount:         plan.Amount,
		Currency:       plan.Currency,
		Frequency:      plan.Frequency,
		Start:          plan.Start,
		IdempotencyKey: u.key("create"),
	})
	if err != nil {
		return err
	}
	u.result.NewSchedule = sch
	return nil
}

func (m *Manager) enqueueCompensation(ctx context.Context, u *upgrade, f saga.CompensationFailure) {
	if u.charge == nil {
		return
	}
	in := m.refundInput(u)
	task := reconcile.Task{
		TaskID:         u.key(f.Step),
		Action:         reconcile.ActionRefund,
		Saga:           f.Saga,
		Step:           f.Step,
		FailedStep:     f.FailedStep,
		UserID:         in.UserID,
		OrderID:        in.OrderID,
		PaymentID:      in.PaymentID,
		OriginalTxnID:  in.OriginalTxnID,
		Amount:         in.Amount,
		Currency:       in.Currency,
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      m.nowFunc().UTC(),
	}
	if f.Err != nil {
		task.Error = f.Err.Error()
	}
	if f.Cause != nil {
		task.Cause = f.Cause.Error()
	}
	if m.queue == nil {
		m.log.Error(ctx, logging.FlagReconcile, apperr.CodeCompensationFailed, "no reconciliation queue configured", map[string]any{
			"taskId": task.TaskID, "paymentId": task.PaymentID,
		})
		return
	}
	if err := m.queue.Enqueue(ctx, task); err != nil {
		m.log.Error(ctx, logging.FlagReconcile, apperr.CodeCompensationFailed, "reconciliation task could not be queued", map[string]any{
			"taskId": task.TaskID, "paymentId": task.PaymentID, "error": err,
		})
	}
}

var stepCodes = map[string]string{
	StepChargeProration:   apperr.CodeUpgradeChargeFailed,
	StepCancelOldSchedule: apperr.CodeUpgradeCancelFailed,
	StepCreateNewSchedule: apperr.CodeUpgradeCreateFailed,
}

// upgradeErr names the failed step with its UPGRADE_* code. The step's own
// error stays reachable through errors.As.
func upgradeErr(err error) error {
	se, ok := saga.AsStepError(err)
	if !ok {
		return err
	}
	data := map[string]any{
		"step":        se.Step,
		"compensated": len(se.CompensationErrs) == 0,
	}
	if code := apperr.CodeOf(se.Err); code != "" {
		data["cause"] = code
	}
	if len(se.CompensationErrs) > 0 {
		data["compensationFailures"] = len(se.CompensationErrs)
	}
	return apperr.New(stepCodes[se.Step], "subscription upgrade failed at "+se.Step,
		apperr.WithStatus(http.StatusBadGateway),
		apperr.WithData(data),
		apperr.WithCause(se))
}
