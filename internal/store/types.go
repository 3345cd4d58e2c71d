package store

import (
	"time"

	"github.com/imrishuroy/go-cardpay-gateway/internal/transport"
)

// Session statuses.
const (
	SessionPending   = "pending"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
	SessionExpired   = "expired"
)

// Schedule statuses.
const (
	ScheduleActive    = "active"
	SchedulePaused    = "paused"
	ScheduleCancelled = "cancelled"
)

// Transaction statuses.
const (
	TxnApproved   = "approved"
	TxnPending    = "pending"
	TxnDeclined   = "declined"
	TxnRefunded   = "refunded"
	TxnVoided     = "voided"
	TxnChargeback = "chargeback"
)

// Order types recorded on transactions.
const (
	OrderTypeCheckout   = "checkout"
	OrderType3DS        = "3ds"
	OrderTypeAuthorize  = "authorize"
	OrderTypeCapture    = "capture"
	OrderTypeVoid       = "void"
	OrderTypeRefund     = "refund"
	OrderTypeDebit      = "debit"
	OrderTypeWebhook    = "webhook"
	OrderTypeChargeback = "chargeback"
)

// CheckoutSession tracks one hosted checkout through the 3DS flow.
type CheckoutSession struct {
	PK                string    `dynamodbav:"PK" json:"-"`
	SK                string    `dynamodbav:"SK" json:"-"`
	GSI1PK            string    `dynamodbav:"GSI1PK" json:"-"`
	GSI1SK            string    `dynamodbav:"GSI1SK" json:"-"`
	SessionID         string    `dynamodbav:"session_id" json:"sessionId"`
	UserID            string    `dynamodbav:"user_id" json:"userId"`
	OrderID           string    `dynamodbav:"order_id" json:"orderId"`
	Amount            float64   `dynamodbav:"amount" json:"amount"`
	Currency          string    `dynamodbav:"currency" json:"currency"`
	Status            string    `dynamodbav:"status" json:"status"`
	Version           int       `dynamodbav:"version" json:"version"`
	GatewayCheckoutID string    `dynamodbav:"gateway_checkout_id,omitempty" json:"gatewayCheckoutId,omitempty"`
	CallbackURL       string    `dynamodbav:"callback_url,omitempty" json:"callbackUrl,omitempty"`
	CreatedAt         time.Time `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt         time.Time `dynamodbav:"updated_at" json:"updatedAt"`
}

// SessionUpdate carries the fields to change plus the version the caller read.
type SessionUpdate struct {
	ExpectedVersion   int
	Status            string
	GatewayCheckoutID string
}

// Transaction is written once per gateway outcome.
type Transaction struct {
	PK               string                  `dynamodbav:"PK" json:"-"`
	SK               string                  `dynamodbav:"SK" json:"-"`
	GSI1PK           string                  `dynamodbav:"GSI1PK,omitempty" json:"-"`
	GSI1SK           string                  `dynamodbav:"GSI1SK,omitempty" json:"-"`
	TxnID            string                  `dynamodbav:"txn_id" json:"txnId"`
	OrderID          string                  `dynamodbav:"order_id" json:"orderId"`
	UserID           string                  `dynamodbav:"user_id" json:"userId"`
	BeneficiaryID    string                  `dynamodbav:"beneficiary_id,omitempty" json:"beneficiaryId,omitempty"`
	RecipientID      string                  `dynamodbav:"recipient_id,omitempty" json:"recipientId,omitempty"`
	OrderType        string                  `dynamodbav:"order_type" json:"orderType"`
	Amount           float64                 `dynamodbav:"amount" json:"amount"`
	Currency         string                  `dynamodbav:"currency" json:"currency"`
	Status           string                  `dynamodbav:"status" json:"status"`
	StatusIndexValue string                  `dynamodbav:"status_index_value" json:"statusIndexValue"`
	ResultCode       string                  `dynamodbav:"result_code" json:"resultCode"`
	Description      string                  `dynamodbav:"description,omitempty" json:"description,omitempty"`
	IdempotencyKey   string                  `dynamodbav:"idempotency_key" json:"idempotencyKey"`
	GatewayPaymentID string                  `dynamodbav:"gateway_payment_id,omitempty" json:"gatewayPaymentId,omitempty"`
	ResponseHeaders  map[string]string       `dynamodbav:"response_headers,omitempty" json:"responseHeaders,omitempty"`
	RateLimitInfo    transport.RateLimitInfo `dynamodbav:"rate_limit_info" json:"rateLimitInfo"`
	RawResponse      string                  `dynamodbav:"raw_response,omitempty" json:"rawResponse,omitempty"`
	CreatedAt        time.Time               `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt        time.Time               `dynamodbav:"updated_at,omitempty" json:"updatedAt,omitempty"`
}

// RegistrationToken is a stored card reference.
type RegistrationToken struct {
	PK             string    `dynamodbav:"PK" json:"-"`
	SK             string    `dynamodbav:"SK" json:"-"`
	UserID         string    `dynamodbav:"user_id" json:"userId"`
	RegistrationID string    `dynamodbav:"registration_id" json:"registrationId"`
	Brand          string    `dynamodbav:"brand,omitempty" json:"brand,omitempty"`
	Last4          string    `dynamodbav:"last4,omitempty" json:"last4,omitempty"`
	Expiry         string    `dynamodbav:"expiry,omitempty" json:"expiry,omitempty"`
	CreatedAt      time.Time `dynamodbav:"created_at" json:"createdAt"`
}

// Schedule is a recurring charge against a registration token.
type Schedule struct {
	PK               string    `dynamodbav:"PK" json:"-"`
	SK               string    `dynamodbav:"SK" json:"-"`
	ScheduleID       string    `dynamodbav:"schedule_id" json:"scheduleId"`
	UserID           string    `dynamodbav:"user_id" json:"userId"`
	OrderID          string    `dynamodbav:"order_id" json:"orderId"`
	RegistrationID   string    `dynamodbav:"registration_id" json:"registrationId"`
	Amount           float64   `dynamodbav:"amount" json:"amount"`
	Currency         string    `dynamodbav:"currency" json:"currency"`
	Frequency        string    `dynamodbav:"frequency" json:"frequency"`
	Status           string    `dynamodbav:"status" json:"status"`
	Version          int       `dynamodbav:"version" json:"version"`
	NextScheduleDate string    `dynamodbav:"next_schedule_date,omitempty" json:"nextScheduleDate,omitempty"`
	CreatedAt        time.Time `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt        time.Time `dynamodbav:"updated_at" json:"updatedAt"`
}

// ScheduleUpdate mirrors SessionUpdate for schedules.
type ScheduleUpdate struct {
	ExpectedVersion int
	Status          string
}

// WebhookEvent records one inbound notification, keyed by its idempotency key.
// Attempts counts dispatch claims and ClaimedAt is when the current one began.
type WebhookEvent struct {
	PK               string    `dynamodbav:"PK" json:"-"`
	SK               string    `dynamodbav:"SK" json:"-"`
	IdempotencyKey   string    `dynamodbav:"idempotency_key" json:"idempotencyKey"`
	OrderID          string    `dynamodbav:"order_id,omitempty" json:"orderId,omitempty"`
	EventType        string    `dynamodbav:"event_type" json:"eventType"`
	DecryptedPayload string    `dynamodbav:"decrypted_payload" json:"decryptedPayload"`
	Handled          bool      `dynamodbav:"handled" json:"handled"`
	ActionTaken      string    `dynamodbav:"action_taken,omitempty" json:"actionTaken,omitempty"`
	Attempts         int       `dynamodbav:"attempts" json:"attempts"`
	ClaimedAt        time.Time `dynamodbav:"claimed_at" json:"claimedAt"`
	CreatedAt        time.Time `dynamodbav:"created_at" json:"createdAt"`
	UpdatedAt        time.Time `dynamodbav:"updated_at,omitempty" json:"updatedAt,omitempty"`
}

// History ordering.
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// HistoryQuery pages through a user's transactions.
type HistoryQuery struct {
	Limit   int
	Cursor  string
	OrderBy string
}

// HistoryPage is one page of history.
type HistoryPage struct {
	Transactions []Transaction `json:"transactions"`
	Count        int           `json:"count"`
	HasMore      bool          `json:"hasMore"`
	NextCursor   string        `json:"nextCursor,omitempty"`
}
