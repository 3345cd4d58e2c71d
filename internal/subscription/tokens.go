package subscription

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/imrishuroy/go-cardpay-gateway/internal/apperr"
	"github.com/imrishuroy/go-cardpay-gateway/internal/gateway"
	"github.com/imrishuroy/go-cardpay-gateway/internal/logging"
	"github.com/imrishuroy/go-cardpay-gateway/internal/store"
	"github.com/imrishuroy/go-cardpay-gateway/internal/validation"
)

// CreateRegistrationToken stores card at the gateway and keeps the returned
// token with its display details. Raw card data is never persisted.
func (m *Manager) CreateRegistrationToken(ctx context.Context, userID string, card gateway.Card) (*store.RegistrationToken, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if err := validation.Validate(card); err != nil {
		return nil, err
	}
	reply, err := m.gw.CreateRegistration(ctx, card, uuid.NewString())
	if err != nil {
		m.log.Error(ctx, logging.FlagSubscription, "token.create", "registration request failed", map[string]any{
			"userId": userID, "error": err,
		})
		return nil, err
	}
	if !reply.Outcome.Approved || reply.ID() == "" {
		return nil, declined(apperr.CodeGatewayClientError, "card registration was declined", reply)
	}

	d := reply.Outcome.Details
	tok := &store.RegistrationToken{
		UserID:         userID,
		RegistrationID: reply.ID(),
		Brand:          firstNonEmpty(d.CardBrand, strings.ToUpper(card.Brand)),
		Last4:          firstNonEmpty(d.CardLast4, last4(card.Number)),
		Expiry:         firstNonEmpty(d.CardExpiry, card.ExpiryMonth+"/"+card.ExpiryYear),
	}
	if err := m.store.SaveToken(ctx, tok); err != nil {
		m.log.Error(ctx, logging.FlagReconcile, "token.persist", "registration created but not stored", map[string]any{
			"userId": userID, "registrationId": tok.RegistrationID, "error": err,
		})
		return nil, persistenceErr("save token", err)
	}
	m.log.Info(ctx, logging.FlagSubscription, "token.create", "registration token created", map[string]any{
		"userId": userID, "registrationId": tok.RegistrationID, "brand": tok.Brand,
	})
	return tok, nil
}

// DeleteRegistrationToken removes the token at the gateway first. A local
// delete failure after that is logged and does not fail the call.
func (m *Manager) DeleteRegistrationToken(ctx context.Context, userID, registrationID string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if strings.TrimSpace(registrationID) == "" {
		return apperr.New(apperr.CodeValidation, "request failed validation",
			apperr.WithStatus(http.StatusBadRequest),
			apperr.WithData(map[string]any{"fields": map[string]string{"registrationId": "required"}}))
	}
	reply, err := m.gw.DeleteRegistration(ctx, registrationID, uuid.NewString())
	if err != nil {
		return apperr.New(apperr.CodeTokenDeleteFailed, "registration could not be deleted at the gateway",
			apperr.WithStatus(http.StatusBadGateway),
			apperr.WithData(map[string]any{"registrationId": registrationID}),
			apperr.WithCause(err))
	}
	if !reply.Outcome.Approved {
		return declined(apperr.CodeTokenDeleteFailed, "registration could not be deleted at the gateway", reply)
	}
	if err := m.store.DeleteToken(ctx, userID, registrationID); err != nil {
		m.log.Warn(ctx, logging.FlagSubscription, "token.delete", "local token delete failed", map[string]any{
			"userId": userID, "registrationId": registrationID, "error": err,
		})
	}
	return nil
}

// ListRegistrationTokens returns the user's stored cards.
func (m *Manager) ListRegistrationTokens(ctx context.Context, userID string) ([]store.RegistrationToken, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	toks, err := m.store.ListTokens(ctx, userID)
	if err != nil {
		return nil, persistenceErr("list tokens", err)
	}
	return toks, nil
}

func last4(number string) string {
	if len(number) < 4 {
		return number
	}
	return number[len(number)-4:]
}
