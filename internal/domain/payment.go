/**
 * @description
 * Payment request, gateway response and session snapshot models for the PayU
 * checkout flow.
 */
package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Session-scoped snapshot keys read by the return-callback reconciliation page.
const (
	SnapshotKeyPaymentDetails = "payu_payment_details"
	SnapshotKeyPaymentError   = "payu_payment_error"
	SnapshotKeyManualPayment  = "manual_payment_details"
)

// Amounts is the output of the pricing calculator.
type Amounts struct {
	InitialPayment  decimal.Decimal `json:"initial_payment"`
	RecurringAmount decimal.Decimal `json:"recurring_amount"`
	FirstTermTotal  decimal.Decimal `json:"first_term_total"`
}

// StandingInstruction is the PayU autopay mandate attached to recurring packages.
type StandingInstruction struct {
	BillingAmount    string `json:"billingAmount"`
	BillingCurrency  string `json:"billingCurrency"`
	BillingCycle     string `json:"billingCycle"`
	BillingInterval  int    `json:"billingInterval"`
	PaymentStartDate string `json:"paymentStartDate"`
	PaymentEndDate   string `json:"paymentEndDate"`
}

// PaymentRequest is one submission attempt sent to the signing endpoint. It is not
// modified after it has been enqueued; a retry builds a new request.
type PaymentRequest struct {
	TransactionID       string               `json:"txnid"`
	Amount              string               `json:"amount"`
	ProductInfo         string               `json:"productinfo"`
	FirstName           string               `json:"firstname"`
	Email               string               `json:"email"`
	Phone               string               `json:"phone"`
	SuccessURL          string               `json:"surl"`
	FailureURL          string               `json:"furl"`
	SI                  string               `json:"si,omitempty"`
	StandingInstruction *StandingInstruction `json:"si_details,omitempty"`
	UDF1                string               `json:"udf1"`
	UDF2                string               `json:"udf2"`
	UDF3                string               `json:"udf3"`
	UDF4                string               `json:"udf4"`
	UDF5                string               `json:"udf5"`
}

// GatewayParams is the signed parameter set returned by the signing endpoint.
type GatewayParams struct {
	ActionURL string            `json:"action_url"`
	Fields    map[string]string `json:"fields"`
}

// FormField is one hidden input of the redirect form.
type FormField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RedirectForm is the auto-submitting form that hands control to the hosted
// payment page.
type RedirectForm struct {
	ActionURL     string      `json:"action"`
	Method        string      `json:"method"`
	Fields        []FormField `json:"fields"`
	TransactionID string      `json:"txnid"`
}

// NewRedirectForm mirrors the gateway parameters as POST form fields in a stable
// order.
func NewRedirectForm(params GatewayParams, txnID string) RedirectForm {
	names := make([]string, 0, len(params.Fields))
	for name := range params.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]FormField, 0, len(names))
	for _, name := range names {
		fields = append(fields, FormField{Name: name, Value: params.Fields[name]})
	}
	return RedirectForm{
		ActionURL:     params.ActionURL,
		Method:        "POST",
		Fields:        fields,
		TransactionID: txnID,
	}
}

// PaymentSnapshot is the request context saved for the reconciliation page.
type PaymentSnapshot struct {
	PackageID            string `json:"packageId"`
	Amount               string `json:"amount"`
	PackageName          string `json:"packageName"`
	TxnID                string `json:"txnid"`
	UserEmail            string `json:"userEmail"`
	UserName             string `json:"userName"`
	PaymentType          string `json:"paymentType"`
	BillingCycle         string `json:"billingCycle,omitempty"`
	PackageType          string `json:"packageType,omitempty"`
	SetupFee             string `json:"setupFee"`
	DurationMonths       int    `json:"durationMonths"`
	AdvancePaymentMonths int    `json:"advancePaymentMonths"`
	MonthlyPrice         string `json:"monthlyPrice,omitempty"`
	IsSubscription       bool   `json:"isSubscription"`
}

// ManualPaymentStatus tracks a manually reconciled payment intent.
type ManualPaymentStatus string

const (
	ManualPaymentPending ManualPaymentStatus = "pending"
	ManualPaymentExpired ManualPaymentStatus = "expired"
)

// ManualPaymentRecord is the pending manual payment intent created by the
// fallback path.
type ManualPaymentRecord struct {
	ID          string              `json:"id,omitempty"`
	PackageID   string              `json:"packageId"`
	Amount      string              `json:"amount"`
	PackageName string              `json:"packageName"`
	UserEmail   string              `json:"userEmail"`
	UserName    string              `json:"userName"`
	PaymentType PaymentType         `json:"paymentType"`
	Status      ManualPaymentStatus `json:"status"`
	Timestamp   time.Time           `json:"timestamp"`
}

// AttemptState is the per-session retry bookkeeping shown to the payer.
type AttemptState struct {
	RetryCount                int        `json:"retry_count"`
	LastAttemptAt             *time.Time `json:"last_attempt_at,omitempty"`
	IsRateLimited             bool       `json:"is_rate_limited"`
	CountdownSecondsRemaining int        `json:"countdown_seconds_remaining"`
}

// PaymentAttempt is the audit row written for each gateway submission.
type PaymentAttempt struct {
	SessionID     string    `json:"session_id"`
	TransactionID string    `json:"txnid"`
	UserID        string    `json:"user_id"`
	PackageID     string    `json:"package_id"`
	Amount        string    `json:"amount"`
	Status        string    `json:"status"`
	ErrorCode     string    `json:"error_code,omitempty"`
	AttemptIndex  int       `json:"attempt_index"`
	CreatedAt     time.Time `json:"created_at"`
}
