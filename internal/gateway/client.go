// Package gateway builds the card gateway's form-encoded requests and sends
// them through the resilient transport.
package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/imrishuroy/go-cardpay-gateway/internal/apperr"
	"github.com/imrishuroy/go-cardpay-gateway/internal/currency"
	"github.com/imrishuroy/go-cardpay-gateway/internal/result"
	"github.com/imrishuroy/go-cardpay-gateway/internal/transport"
)

// Sender is the transport capability the gateway client needs.
type Sender interface {
	Send(ctx context.Context, req transport.Request) (*transport.Response, error)
}

// Config holds the merchant channel and per-call limits.
type Config struct {
	BaseURL          string
	AccessToken      string
	EntityID         string
	TestMode         string
	Timeout          time.Duration
	MaxRetries       int
	MaxRequestBytes  int64
	MaxResponseBytes int64
}

// Client speaks the gateway protocol.
type Client struct {
	sender Sender
	cfg    Config
}

// New returns a Client. It fails with CONFIGURATION_ERROR when the channel
// is not fully described.
func New(sender Sender, cfg Config) (*Client, error) {
	var missing []string
	if sender == nil {
		missing = append(missing, "transport")
	}
	if cfg.BaseURL == "" {
		missing = append(missing, "baseURL")
	}
	if cfg.AccessToken == "" {
		missing = append(missing, "accessToken")
	}
	if cfg.EntityID == "" {
		missing = append(missing, "entityId")
	}
	if len(missing) > 0 {
		return nil, apperr.New(apperr.CodeConfiguration, "gateway client is not configured",
			apperr.WithData(map[string]any{"missing": missing}))
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{sender: sender, cfg: cfg}, nil
}

func (c *Client) form() url.Values {
	v := url.Values{}
	v.Set("entityId", c.cfg.EntityID)
	if c.cfg.TestMode != "" {
		v.Set("testMode", c.cfg.TestMode)
	}
	return v
}

func setAmount(v url.Values, amount float64, code string) {
	v.Set("amount", currency.FormatAmount(amount, code))
	v.Set("currency", strings.ToUpper(code))
}

func setIf(v url.Values, k, val string) {
	if val != "" {
		v.Set(k, val)
	}
}

// CreateCheckout prepares a hosted checkout. Optional groups are sent only
// when supplied.
func (c *Client) CreateCheckout(ctx context.Context, req CheckoutRequest, key string) (*Reply, error) {
	v := c.form()
	setAmount(v, req.Amount, req.Currency)
	pt := req.PaymentType
	if pt == "" {
		pt = PaymentDebit
	}
	v.Set("paymentType", pt)
	setIf(v, "merchantTransactionId", req.MerchantTransactionID)
	setIf(v, "shopperResultUrl", req.ShopperResultURL)
	if req.CreateRegistration {
		v.Set("createRegistration", "true")
	}
	if cu := req.Customer; cu != nil {
		setIf(v, "customer.merchantCustomerId", cu.MerchantCustomerID)
		setIf(v, "customer.givenName", cu.GivenName)
		setIf(v, "customer.surname", cu.Surname)
		setIf(v, "customer.email", cu.Email)
		setIf(v, "customer.phone", cu.Phone)
		setIf(v, "customer.ip", cu.IP)
	}
	if b := req.Billing; b != nil {
		setIf(v, "billing.street1", b.Street1)
		setIf(v, "billing.street2", b.Street2)
		setIf(v, "billing.city", b.City)
		setIf(v, "billing.state", b.State)
		setIf(v, "billing.postcode", b.Postcode)
		setIf(v, "billing.country", b.Country)
	}
	if br := req.Browser; br != nil {
		setIf(v, "customer.browser.acceptHeader", br.AcceptHeader)
		setIf(v, "customer.browser.language", br.Language)
		setIf(v, "customer.browser.userAgent", br.UserAgent)
		if br.ScreenHeight > 0 {
			v.Set("customer.browser.screenHeight", strconv.Itoa(br.ScreenHeight))
		}
		if br.ScreenWidth > 0 {
			v.Set("customer.browser.screenWidth", strconv.Itoa(br.ScreenWidth))
		}
		if br.ColorDepth > 0 {
			v.Set("customer.browser.screenColorDepth", strconv.Itoa(br.ColorDepth))
		}
		v.Set("customer.browser.timezone", strconv.Itoa(br.TimeZone))
		v.Set("customer.browser.javaEnabled", strconv.FormatBool(br.JavaEnabled))
	}
	return c.do(ctx, http.MethodPost, "/v1/checkouts", nil, v, key)
}

// CheckoutStatus fetches the payment result of a checkout.
func (c *Client) CheckoutStatus(ctx context.Context, checkoutID string) (*Reply, error) {
	return c.do(ctx, http.MethodGet, "/v1/checkouts/"+url.PathEscape(checkoutID)+"/payment", c.form(), nil, "")
}

// ThreeDSecureStatus submits the issuer's challenge result for a 3DS transaction.
func (c *Client) ThreeDSecureStatus(ctx context.Context, id, paRes, md string) (*Reply, error) {
	v := c.form()
	setIf(v, "paRes", paRes)
	setIf(v, "md", md)
	return c.do(ctx, http.MethodPost, "/v1/threeDSecure/"+url.PathEscape(id), nil, v, "")
}

// Payment sends an initial S2S payment, with raw card data or against a stored
// registration when registrationID is set.
func (c *Client) Payment(ctx context.Context, registrationID string, req PaymentRequest, key string) (*Reply, error) {
	v := c.form()
	setAmount(v, req.Amount, req.Currency)
	v.Set("paymentType", req.PaymentType)
	setIf(v, "merchantTransactionId", req.MerchantTransactionID)
	setIf(v, "descriptor", req.Descriptor)
	if req.Recurring {
		v.Set("standingInstruction.mode", "REPEATED")
		v.Set("standingInstruction.type", "UNSCHEDULED")
		v.Set("standingInstruction.source", "MIT")
	}
	path := "/v1/payments"
	if registrationID != "" {
		path = "/v1/registrations/" + url.PathEscape(registrationID) + "/payments"
	} else if cd := req.Card; cd != nil {
		setCard(v, cd)
	}
	return c.do(ctx, http.MethodPost, path, nil, v, key)
}

// BackOffice captures, reverses or refunds an earlier payment.
func (c *Client) BackOffice(ctx context.Context, paymentID string, req PaymentRequest, key string) (*Reply, error) {
	v := c.form()
	v.Set("paymentType", req.PaymentType)
	if req.PaymentType != PaymentReversal {
		setAmount(v, req.Amount, req.Currency)
	}
	setIf(v, "merchantTransactionId", req.MerchantTransactionID)
	return c.do(ctx, http.MethodPost, "/v1/payments/"+url.PathEscape(paymentID), nil, v, key)
}

// CreateRegistration stores a card at the gateway and returns its token.
func (c *Client) CreateRegistration(ctx context.Context, card Card, key string) (*Reply, error) {
	v := c.form()
	setCard(v, &card)
	return c.do(ctx, http.MethodPost, "/v1/registrations", nil, v, key)
}

// DeleteRegistration removes a stored card at the gateway.
func (c *Client) DeleteRegistration(ctx context.Context, registrationID, key string) (*Reply, error) {
	return c.do(ctx, http.MethodDelete, "/v1/registrations/"+url.PathEscape(registrationID), c.form(), nil, key)
}

// CreateSchedule sets up a recurring debit.
func (c *Client) CreateSchedule(ctx context.Context, req ScheduleRequest, key string) (*Reply, error) {
	job, err := jobFields(req.Frequency, req.Start)
	if err != nil {
		return nil, err
	}
	v := c.form()
	v.Set("registrationId", req.RegistrationID)
	v.Set("paymentType", PaymentDebit)
	setAmount(v, req.Amount, req.Currency)
	setIf(v, "merchantTransactionId", req.MerchantTransactionID)
	for k, val := range job {
		v.Set(k, val)
	}
	return c.do(ctx, http.MethodPost, "/scheduling/v1/schedules", nil, v, key)
}

// CancelSchedule stops a recurring debit.
func (c *Client) CancelSchedule(ctx context.Context, scheduleID, key string) (*Reply, error) {
	return c.do(ctx, http.MethodDelete, "/scheduling/v1/schedules/"+url.PathEscape(scheduleID), c.form(), nil, key)
}

func setCard(v url.Values, cd *Card) {
	v.Set("paymentBrand", strings.ToUpper(cd.Brand))
	v.Set("card.number", cd.Number)
	v.Set("card.holder", cd.Holder)
	v.Set("card.expiryMonth", cd.ExpiryMonth)
	v.Set("card.expiryYear", cd.ExpiryYear)
	v.Set("card.cvv", cd.CVV)
}

// do sends one request. A 4xx carrying a gateway result is a decline, not a
// failure, and comes back as a Reply.
func (c *Client) do(ctx context.Context, method, path string, query, form url.Values, key string) (*Reply, error) {
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req := transport.Request{
		Method:           method,
		URL:              u,
		BearerToken:      c.cfg.AccessToken,
		Timeout:          c.cfg.Timeout,
		MaxRetries:       c.cfg.MaxRetries,
		MaxRequestBytes:  c.cfg.MaxRequestBytes,
		MaxResponseBytes: c.cfg.MaxResponseBytes,
		IdempotencyKey:   key,
	}
	if form != nil {
		req.Body = []byte(form.Encode())
	}

	resp, sendErr := c.sender.Send(ctx, req)
	if resp == nil {
		return nil, sendErr
	}
	outcome, raw, err := result.Decode(resp.Body)
	if err != nil || outcome.ResultCode == "" {
		if sendErr != nil {
			return nil, sendErr
		}
		return nil, apperr.New(apperr.CodeGatewayBadResponse, "gateway response has no result code",
			apperr.WithStatus(http.StatusBadGateway),
			apperr.WithData(map[string]any{"status": resp.Status, "path": path}),
			apperr.WithCause(err))
	}
	if sendErr != nil && !apperr.HasCode(sendErr, apperr.CodeGatewayClientError) {
		return nil, sendErr
	}
	return &Reply{Outcome: outcome, Raw: raw, Response: resp}, nil
}
