package result

import "regexp"

// Category groups gateway result codes.
type Category string

const (
	CategorySuccess       Category = "success"
	CategoryReview        Category = "success_review"
	CategoryPending       Category = "pending"
	CategoryRejected3DS   Category = "rejected_3ds"
	CategoryRejectedBank  Category = "rejected_bank"
	CategoryCommunication Category = "communication_error"
	CategorySystem        Category = "system_error"
	CategoryAsync         Category = "async_error"
	CategorySoftDecline   Category = "soft_decline"
	CategoryRisk          Category = "rejected_risk"
	CategoryBlacklist     Category = "rejected_blacklist"
	CategoryValidation    Category = "rejected_validation"
	CategoryChargeback    Category = "chargeback"
	CategoryUnknown       Category = "unknown"
)

type codeClass struct {
	category Category
	pattern  *regexp.Regexp
	message  string
}

// Order matters: the first matching class wins.
var codeClasses = []codeClass{
	{CategorySuccess, regexp.MustCompile(`^(000\.000\.|000\.100\.1|000\.[36]|000\.400\.1[12]0)`), "Payment successful."},
	{CategoryReview, regexp.MustCompile(`^(000\.400\.0[^3]|000\.400\.100)`), "Payment successful, pending manual review."},
	{CategoryPending, regexp.MustCompile(`^(000\.200|800\.400\.5|100\.400\.500)`), "Payment is pending. We will notify you once it completes."},
	{CategoryChargeback, regexp.MustCompile(`^(000\.100\.2)`), "A chargeback was recorded for this payment."},
	{CategoryRejected3DS, regexp.MustCompile(`^(000\.400\.[1][0-9][1-9]|000\.400\.2)`), "Card authentication failed. Please try again or use another card."},
	{CategoryRejectedBank, regexp.MustCompile(`^(800\.[17]00|800\.800\.[123])`), "Your bank declined the payment."},
	{CategoryCommunication, regexp.MustCompile(`^(900\.[1234]00|000\.400\.030)`), "We could not reach the payment provider. Please try again."},
	{CategorySystem, regexp.MustCompile(`^(800\.[56]|999\.|600\.1|800\.800\.[84])`), "The payment system is temporarily unavailable."},
	{CategoryAsync, regexp.MustCompile(`^(100\.39[765])`), "The payment was cancelled or could not be completed."},
	{CategorySoftDecline, regexp.MustCompile(`^(300\.100\.100)`), "Additional authentication is required for this payment."},
	{CategoryRisk, regexp.MustCompile(`^(100\.400\.[0-3]|100\.38|100\.370\.100|100\.370\.11|800\.1[123456]0)`), "The payment was declined by risk checks."},
	{CategoryBlacklist, regexp.MustCompile(`^(800\.[32])`), "The payment was declined."},
	{CategoryValidation, regexp.MustCompile(`^(600\.[23]|500\.[12]|800\.121|100\.[13]50|100\.250|100\.360|700\.[1345][05]0|200\.[123]|100\.[53][07]|800\.900|100\.[69]00\.500|100\.800|100\.[97]00|100\.100|100\.2[01]|100\.55)`), "The payment details are invalid. Please check and try again."},
}

// exactMessages override the class message for frequently seen codes.
var exactMessages = map[string]string{
	"000.000.000": "Transaction succeeded.",
	"000.100.110": "Payment successful (test mode).",
	"000.100.112": "Payment successful (connector test mode).",
	"000.200.000": "Transaction pending.",
	"000.200.100": "Checkout created, awaiting payment.",
	"100.380.401": "Card holder authentication failed.",
	"100.390.112": "3-D Secure authentication was not completed.",
	"100.396.101": "Payment cancelled by user.",
	"100.396.103": "Payment was abandoned.",
	"200.300.404": "Invalid or missing parameter.",
	"800.100.151": "Invalid card number.",
	"800.100.152": "Declined by the authorization system.",
	"800.100.153": "Invalid security code (CVV).",
	"800.100.155": "Amount exceeds the available credit.",
	"800.100.162": "Card limit exceeded.",
	"800.100.171": "Card reported lost or stolen.",
	"800.100.190": "Invalid card configuration.",
}

const unknownMessage = "Payment status could not be determined."

// Classify returns the category for a result code.
func Classify(code string) Category {
	if code == "" {
		return CategoryUnknown
	}
	for _, c := range codeClasses {
		if c.pattern.MatchString(code) {
			return c.category
		}
	}
	return CategoryUnknown
}

// Message returns the user-facing message for a code. It never returns "".
func Message(code string) string {
	if m, ok := exactMessages[code]; ok {
		return m
	}
	for _, c := range codeClasses {
		if c.pattern.MatchString(code) {
			return c.message
		}
	}
	return unknownMessage
}

// IsApproved reports whether code means the money moved (or will after review).
func IsApproved(code string) bool {
	switch Classify(code) {
	case CategorySuccess, CategoryReview:
		return true
	}
	return false
}

// IsPending reports whether code means the outcome is not final yet.
func IsPending(code string) bool {
	return Classify(code) == CategoryPending
}
