package store

// Key layout for the single payments table.
const (
	attrPK     = "PK"
	attrSK     = "SK"
	attrGSI1PK = "GSI1PK"
	attrGSI1SK = "GSI1SK"

	// GSI1Name is the secondary index over GSI1PK/GSI1SK.
	GSI1Name = "GSI1"

	prefixUser        = "user#"
	prefixOrder       = "order#"
	prefixTxn         = "txn#"
	prefixToken       = "token#"
	prefixSchedule    = "schedule#"
	prefixBeneficiary = "beneficiary#"
	prefixWebhook     = "webhook#"

	sessionGSISK = "session"
	webhookSK    = "event"
)

// UserPK is the partition key for everything owned by a user.
func UserPK(userID string) string { return prefixUser + userID }

func sessionSK(orderID string) string  { return prefixOrder + orderID }
func orderGSIPK(orderID string) string { return prefixOrder + orderID }
func txnSK(txnID string) string        { return prefixTxn + txnID }
func tokenSK(regID string) string      { return prefixToken + regID }
func scheduleSK(id string) string      { return prefixSchedule + id }
func beneficiaryPK(id string) string   { return prefixBeneficiary + id }
func webhookPK(key string) string      { return prefixWebhook + key }
