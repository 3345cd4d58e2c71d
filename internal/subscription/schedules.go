package subscription

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/go-cardpay-gateway/internal/apperr"
	"github.com/imrishuroy/go-cardpay-gateway/internal/gateway"
	"github.com/imrishuroy/go-cardpay-gateway/internal/logging"
	"github.com/imrishuroy/go-cardpay-gateway/internal/store"
	"github.com/imrishuroy/go-cardpay-gateway/internal/validation"
)

const scheduleDateLayout = "2006-01-02"

// ScheduleInput sets up a recurring debit on a stored card.
type ScheduleInput struct {
	UserID         string    `json:"userId" validate:"required"`
	OrderID        string    `json:"orderId,omitempty"`
	RegistrationID string    `json:"registrationId" validate:"required"`
	Amount         float64   `json:"amount" validate:"gt=0,minor_units=Currency"`
	Currency       string    `json:"currency" validate:"required,currency_code"`
	Frequency      string    `json:"frequency" validate:"required,oneof=daily weekly monthly yearly"`
	Start          time.Time `json:"start,omitempty"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty"`
}

// CreateSchedule creates the schedule at the gateway and stores it active at
// version 1.
func (m *Manager) CreateSchedule(ctx context.Context, in ScheduleInput) (*store.Schedule, error) {
	in.Frequency = strings.ToLower(in.Frequency)
	if err := validation.Validate(in); err != nil {
		return nil, err
	}
	now := m.nowFunc().UTC()
	start := in.Start.UTC()
	if in.Start.IsZero() || start.Before(now) {
		start = now
	}
	key := in.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	reply, err := m.gw.CreateSchedule(ctx, gateway.ScheduleRequest{
		RegistrationID:        in.RegistrationID,
		Amount:                in.Amount,
		Currency:              in.Currency,
		Frequency:             in.Frequency,
		Start:                 start,
		MerchantTransactionID: in.OrderID,
	}, key)
	if err != nil {
		m.log.Error(ctx, logging.FlagSubscription, "schedule.create", "schedule request failed", map[string]any{
			"userId": in.UserID, "registrationId": in.RegistrationID, "error": err,
		})
		return nil, err
	}
	if !reply.Outcome.Approved || reply.ID() == "" {
		return nil, declined(apperr.CodeGatewayClientError, "schedule was rejected by the gateway", reply)
	}

	next := start
	if !start.After(now) {
		next = gateway.NextRun(in.Frequency, now)
	}
	sch := &store.Schedule{
		ScheduleID:       reply.ID(),
		UserID:           in.UserID,
		OrderID:          in.OrderID,
		RegistrationID:   in.RegistrationID,
		Amount:           in.Amount,
		Currency:         strings.ToUpper(in.Currency),
		Frequency:        in.Frequency,
		NextScheduleDate: next.Format(scheduleDateLayout),
	}
	if err := m.store.SaveSchedule(ctx, sch); err != nil {
		m.log.Error(ctx, logging.FlagReconcile, "schedule.persist", "schedule created but not stored", map[string]any{
			"userId": in.UserID, "scheduleId": sch.ScheduleID, "error": err,
		})
		return nil, persistenceErr("save schedule", err)
	}
	m.log.Info(ctx, logging.FlagSubscription, "schedule.create", "schedule created", map[string]any{
		"userId": in.UserID, "scheduleId": sch.ScheduleID, "frequency": sch.Frequency,
	})
	return sch, nil
}

// CancelSchedule stops the schedule at the gateway, then marks it cancelled
// guarded by the version read. Cancelling twice is a no-op.
func (m *Manager) CancelSchedule(ctx context.Context, userID, scheduleID string) (*store.Schedule, error) {
	sch, err := m.loadSchedule(ctx, userID, scheduleID)
	if err != nil {
		return nil, err
	}
	if sch.Status == store.ScheduleCancelled {
		return sch, nil
	}
	key := uuid.NewSHA1(uuid.NameSpaceURL, []byte("schedule-cancel:"+scheduleID)).String()
	reply, err := m.gw.CancelSchedule(ctx, scheduleID, key)
	if err != nil {
		return nil, apperr.New(apperr.CodeScheduleCancelFailed, "schedule could not be cancelled at the gateway",
			apperr.WithStatus(http.StatusBadGateway),
			apperr.WithData(map[string]any{"scheduleId": scheduleID}),
			apperr.WithCause(err))
	}
	if !reply.Outcome.Approved {
		return nil, declined(apperr.CodeScheduleCancelFailed, "schedule could not be cancelled at the gateway", reply)
	}
	updated, err := m.store.UpdateSchedule(ctx, userID, scheduleID, store.ScheduleUpdate{
		ExpectedVersion: sch.Version,
		Status:          store.ScheduleCancelled,
	})
	if err != nil {
		m.log.Warn(ctx, logging.FlagSubscription, "schedule.cancel", "schedule cancelled at gateway but not locally", map[string]any{
			"userId": userID, "scheduleId": scheduleID, "expectedVersion": sch.Version, "error": err,
		})
		if apperr.HasCode(err, apperr.CodeVersionConflict) || apperr.HasCode(err, apperr.CodeNotFound) {
			return nil, err
		}
		return nil, persistenceErr("update schedule", err)
	}
	m.log.Info(ctx, logging.FlagSubscription, "schedule.cancel", "schedule cancelled", map[string]any{
		"userId": userID, "scheduleId": scheduleID,
	})
	return updated, nil
}

// CreateSubscriptionFromToken is the subscription-flavoured name of CreateSchedule.
func (m *Manager) CreateSubscriptionFromToken(ctx context.Context, in ScheduleInput) (*store.Schedule, error) {
	return m.CreateSchedule(ctx, in)
}

// CancelSubscription is the subscription-flavoured name of CancelSchedule.
func (m *Manager) CancelSubscription(ctx context.Context, userID, scheduleID string) (*store.Schedule, error) {
	return m.CancelSchedule(ctx, userID, scheduleID)
}

func (m *Manager) loadSchedule(ctx context.Context, userID, scheduleID string) (*store.Schedule, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	sch, err := m.store.GetSchedule(ctx, userID, scheduleID)
	if err != nil {
		return nil, persistenceErr("load schedule", err)
	}
	if sch == nil {
		return nil, apperr.New(apperr.CodeNotFound, "schedule not found",
			apperr.WithStatus(http.StatusNotFound),
			apperr.WithData(map[string]any{"userId": userID, "scheduleId": scheduleID}))
	}
	return sch, nil
}
