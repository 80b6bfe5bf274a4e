/**
 * @description
 * GatewayClient turns a package and payer into a PayU payment request, sends it
 * through the payment queue and builds the redirect form from the signed result.
 * It records the request context in the session snapshot store so the return
 * callback page can reconcile the payment without re-deriving pricing.
 *
 * @dependencies
 * - golang.org/x/text: Unicode decomposition for product info sanitization.
 */
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/directory/payment-service/internal/domain"
	"github.com/directory/payment-service/internal/store"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	maxProductInfoLength = 120
	siDateLayout         = "2006-01-02"
	allowedPunctuation   = "-_.,:()/&+"
)

// RequestQueue is the serialized path to the signing endpoint.
type RequestQueue interface {
	Enqueue(ctx context.Context, req *domain.PaymentRequest) (*domain.GatewayParams, error)
}

// GatewayConfig carries the request-building settings.
type GatewayConfig struct {
	Currency             string
	AppBaseURL           string
	StandingInstructions bool
	DefaultProductInfo   string
}

// GatewayClient builds and submits PayU payment requests.
type GatewayClient struct {
	cfg       GatewayConfig
	queue     RequestQueue
	snapshots store.SnapshotStore
	logger    *slog.Logger
	now       func() time.Time

	// lastTxnMillis is the millisecond of the last issued transaction id.
	lastTxnMillis atomic.Int64
}

func NewGatewayClient(cfg GatewayConfig, queue RequestQueue, snapshots store.SnapshotStore, logger *slog.Logger) *GatewayClient {
	if strings.TrimSpace(cfg.Currency) == "" {
		cfg.Currency = "INR"
	}
	if strings.TrimSpace(cfg.DefaultProductInfo) == "" {
		cfg.DefaultProductInfo = "Directory subscription"
	}
	cfg.AppBaseURL = strings.TrimSuffix(strings.TrimSpace(cfg.AppBaseURL), "/")
	if logger == nil {
		logger = slog.Default()
	}
	return &GatewayClient{
		cfg:       cfg,
		queue:     queue,
		snapshots: snapshots,
		logger:    logger,
		now:       time.Now,
	}
}

// NormalizeProductInfo reduces text to the ASCII subset the gateway hashes
// reliably. Applying it twice yields the same result as applying it once.
func NormalizeProductInfo(s string) string {
	decomposed, _, err := transform.String(transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn))), s)
	if err != nil {
		decomposed = s
	}

	var b strings.Builder
	for _, r := range decomposed {
		switch {
		case r > unicode.MaxASCII:
			continue
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case strings.ContainsRune(allowedPunctuation, r):
			b.WriteRune(r)
		}
	}

	collapsed := strings.Join(strings.Fields(b.String()), " ")
	if len(collapsed) > maxProductInfoLength {
		collapsed = collapsed[:maxProductInfoLength]
	}
	return strings.TrimSpace(collapsed)
}

// TransactionID formats epoch millis plus the attempt index.
func TransactionID(now time.Time, attempt int) string {
	return fmt.Sprintf("txn_%d_%d", now.UnixMilli(), attempt)
}

// nextTxnTime returns now, or one millisecond past the last issued id when
// sessions build requests in the same millisecond. Issued ids never repeat.
func (g *GatewayClient) nextTxnTime(now time.Time) time.Time {
	for {
		last := g.lastTxnMillis.Load()
		millis := now.UnixMilli()
		if millis <= last {
			millis = last + 1
		}
		if g.lastTxnMillis.CompareAndSwap(last, millis) {
			return time.UnixMilli(millis)
		}
	}
}

// ReturnURL is the absolute callback URL PayU sends the payer back to.
func ReturnURL(baseURL, outcome, txnID string) string {
	q := url.Values{}
	q.Set("txnId", txnID)
	q.Set("status", outcome)
	return fmt.Sprintf("%s/payment/%s?%s", baseURL, outcome, q.Encode())
}

func (g *GatewayClient) usesStandingInstruction(pkg domain.Package) bool {
	return pkg.IsRecurring() && g.cfg.StandingInstructions
}

// SubmissionAmount is what the payer is charged at submission: the standing
// instruction tick for recurring packages, otherwise the full initial payment.
func (g *GatewayClient) SubmissionAmount(pkg domain.Package) (domain.Amounts, string, error) {
	amounts, err := ComputeAmounts(pkg)
	if err != nil {
		return domain.Amounts{}, "", err
	}
	if g.usesStandingInstruction(pkg) {
		return amounts, FormatAmount(pkg.EffectiveMonthlyPrice()), nil
	}
	return amounts, FormatAmount(amounts.InitialPayment), nil
}

// BuildPaymentRequest assembles the payload for one submission attempt.
func (g *GatewayClient) BuildPaymentRequest(pkg domain.Package, user domain.User, attempt int) (*domain.PaymentRequest, error) {
	_, amount, err := g.SubmissionAmount(pkg)
	if err != nil {
		return nil, err
	}

	now := g.now()
	txnID := TransactionID(g.nextTxnTime(now), attempt)
	productInfo := NormalizeProductInfo(pkg.Title)
	if productInfo == "" {
		productInfo = g.cfg.DefaultProductInfo
	}

	req := &domain.PaymentRequest{
		TransactionID: txnID,
		Amount:        amount,
		ProductInfo:   productInfo,
		FirstName:     user.Name,
		Email:         user.Email,
		Phone:         user.Phone,
		SuccessURL:    ReturnURL(g.cfg.AppBaseURL, "success", txnID),
		FailureURL:    ReturnURL(g.cfg.AppBaseURL, "failure", txnID),
		UDF1:          user.ID,
		UDF2:          pkg.ID,
		UDF3:          pkg.Type,
		UDF4:          string(pkg.PaymentType),
		UDF5:          string(pkg.BillingCycle),
	}

	if g.usesStandingInstruction(pkg) {
		// Yearly packages are also mandated as a monthly tick.
		req.SI = "1"
		req.StandingInstruction = &domain.StandingInstruction{
			BillingAmount:    FormatAmount(pkg.EffectiveMonthlyPrice()),
			BillingCurrency:  g.cfg.Currency,
			BillingCycle:     "MONTHLY",
			BillingInterval:  1,
			PaymentStartDate: now.Format(siDateLayout),
			PaymentEndDate:   now.AddDate(0, pkg.DurationMonths, 0).Format(siDateLayout),
		}
	}
	return req, nil
}

// Initiate builds the request, stores the snapshot, waits for the queued signing
// call and returns the redirect form. Failures are recorded under the error key.
func (g *GatewayClient) Initiate(ctx context.Context, sessionID string, pkg domain.Package, user domain.User, attempt int) (*domain.RedirectForm, *domain.PaymentRequest, error) {
	req, err := g.BuildPaymentRequest(pkg, user, attempt)
	if err != nil {
		g.saveError(ctx, sessionID, err)
		return nil, nil, err
	}

	if err := g.saveSnapshot(ctx, sessionID, pkg, user, req); err != nil {
		g.logger.Warn("failed to store payment snapshot", "session_id", sessionID, "txnid", req.TransactionID, "error", err)
	}

	params, err := g.queue.Enqueue(ctx, req)
	if err != nil {
		g.saveError(ctx, sessionID, err)
		return nil, req, err
	}

	form := domain.NewRedirectForm(*params, req.TransactionID)
	g.logger.Info("payment redirect ready", "session_id", sessionID, "txnid", req.TransactionID, "action", form.ActionURL)
	return &form, req, nil
}

// BuildSnapshot is the reconciliation context for a payment request.
func BuildSnapshot(pkg domain.Package, user domain.User, req *domain.PaymentRequest) domain.PaymentSnapshot {
	snapshot := domain.PaymentSnapshot{
		PackageID:            pkg.ID,
		Amount:               req.Amount,
		PackageName:          pkg.Title,
		TxnID:                req.TransactionID,
		UserEmail:            user.Email,
		UserName:             user.Name,
		PaymentType:          string(pkg.PaymentType),
		BillingCycle:         string(pkg.BillingCycle),
		PackageType:          pkg.Type,
		SetupFee:             FormatAmount(pkg.SetupFee),
		DurationMonths:       pkg.DurationMonths,
		AdvancePaymentMonths: pkg.AdvancePaymentMonths,
		IsSubscription:       pkg.IsRecurring(),
	}
	if pkg.MonthlyPrice.Valid {
		snapshot.MonthlyPrice = FormatAmount(pkg.MonthlyPrice.Decimal)
	}
	return snapshot
}

func (g *GatewayClient) saveSnapshot(ctx context.Context, sessionID string, pkg domain.Package, user domain.User, req *domain.PaymentRequest) error {
	if g.snapshots == nil {
		return nil
	}
	payload, err := json.Marshal(BuildSnapshot(pkg, user, req))
	if err != nil {
		return fmt.Errorf("failed to marshal payment snapshot: %w", err)
	}
	return g.snapshots.Put(ctx, sessionID, domain.SnapshotKeyPaymentDetails, payload)
}

func (g *GatewayClient) saveError(ctx context.Context, sessionID string, cause error) {
	if g.snapshots == nil {
		return
	}
	message := cause.Error()
	if gwErr := domain.AsGatewayError(cause); gwErr != nil && gwErr.Message != "" {
		message = gwErr.Message
	}
	// The reconciliation page reads this key as a JSON string.
	payload, _ := json.Marshal(message)
	if err := g.snapshots.Put(ctx, sessionID, domain.SnapshotKeyPaymentError, payload); err != nil {
		g.logger.Warn("failed to store payment error", "session_id", sessionID, "error", err)
	}
}
