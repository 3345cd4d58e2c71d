package gateway

import (
	"time"

	"github.com/imrishuroy/go-cardpay-gateway/internal/result"
	"github.com/imrishuroy/go-cardpay-gateway/internal/transport"
)

// Payment types understood by the gateway.
const (
	PaymentPreauthorization = "PA"
	PaymentDebit            = "DB"
	PaymentCapture          = "CP"
	PaymentReversal         = "RV"
	PaymentRefund           = "RF"
)

// Customer is the optional customer.* group.
type Customer struct {
	MerchantCustomerID string `json:"merchantCustomerId,omitempty"`
	GivenName          string `json:"givenName,omitempty"`
	Surname            string `json:"surname,omitempty"`
	Email              string `json:"email,omitempty" validate:"omitempty,email"`
	Phone              string `json:"phone,omitempty"`
	IP                 string `json:"ip,omitempty" validate:"omitempty,ip"`
}

// Billing is the optional billing.* group.
type Billing struct {
	Street1  string `json:"street1,omitempty"`
	Street2  string `json:"street2,omitempty"`
	City     string `json:"city,omitempty"`
	State    string `json:"state,omitempty"`
	Postcode string `json:"postcode,omitempty"`
	Country  string `json:"country,omitempty" validate:"omitempty,len=2"`
}

// Browser is the optional customer.browser.* group used for 3DS 2.
type Browser struct {
	AcceptHeader string `json:"acceptHeader,omitempty"`
	Language     string `json:"language,omitempty"`
	ScreenHeight int    `json:"screenHeight,omitempty"`
	ScreenWidth  int    `json:"screenWidth,omitempty"`
	TimeZone     int    `json:"timezone,omitempty"`
	UserAgent    string `json:"userAgent,omitempty"`
	JavaEnabled  bool   `json:"javaEnabled,omitempty"`
	ColorDepth   int    `json:"screenColorDepth,omitempty"`
}

// Card is raw card data, only ever forwarded to the gateway.
type Card struct {
	Brand       string `json:"brand" validate:"required"`
	Number      string `json:"number" validate:"required,numeric,min=12,max=19"`
	Holder      string `json:"holder" validate:"required"`
	ExpiryMonth string `json:"expiryMonth" validate:"required,len=2,numeric"`
	ExpiryYear  string `json:"expiryYear" validate:"required,len=4,numeric"`
	CVV         string `json:"cvv" validate:"required,numeric,min=3,max=4"`
}

// CheckoutRequest prepares a hosted checkout.
type CheckoutRequest struct {
	Amount                float64
	Currency              string
	PaymentType           string
	MerchantTransactionID string
	ShopperResultURL      string
	CreateRegistration    bool
	Customer              *Customer
	Billing               *Billing
	Browser               *Browser
}

// PaymentRequest is an initial S2S payment or a back-office operation.
type PaymentRequest struct {
	PaymentType           string
	Amount                float64
	Currency              string
	MerchantTransactionID string
	Descriptor            string
	Card                  *Card
	Recurring             bool
}

// ScheduleRequest creates a recurring debit on a registration.
type ScheduleRequest struct {
	RegistrationID        string
	Amount                float64
	Currency              string
	Frequency             string
	Start                 time.Time
	MerchantTransactionID string
}

// Reply is a decoded gateway answer, approved or not.
type Reply struct {
	Outcome  result.Outcome
	Raw      map[string]any
	Response *transport.Response
}

// ID is the gateway id of the created resource.
func (r *Reply) ID() string {
	if r == nil {
		return ""
	}
	return r.Outcome.Details.GatewayID
}
