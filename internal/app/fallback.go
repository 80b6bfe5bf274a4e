/**
 * @description
 * The manual payment path. When the gateway keeps rate limiting, or the payer
 * chooses to, the checkout records a pending manual payment intent and hands the
 * payer a pre-filled support email instead of calling the gateway.
 */
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/directory/payment-service/internal/domain"
	"github.com/directory/payment-service/internal/store"
	"github.com/directory/payment-service/pkg/rabbitmq"
	"github.com/google/uuid"
)

// SupportContact is a mail-to draft the payer can open to reach support.
type SupportContact struct {
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	MailTo  string `json:"mailto"`
}

// NewSupportContact drafts a support email carrying the package, amount and payer.
func NewSupportContact(supportEmail string, pkg domain.Package, user domain.User, amount string) *SupportContact {
	subject := fmt.Sprintf("Manual payment request: %s", pkg.Title)
	body := fmt.Sprintf(
		"Hello,\n\nI would like to pay for the %s package (id %s) manually.\nAmount: INR %s\nPayment type: %s\n\nName: %s\nEmail: %s\nPhone: %s\n",
		pkg.Title, pkg.ID, amount, pkg.PaymentType, user.Name, user.Email, user.Phone,
	)

	q := url.Values{}
	q.Set("subject", subject)
	q.Set("body", body)
	// mailto drafts expect %20 rather than '+' for spaces.
	query := strings.ReplaceAll(q.Encode(), "+", "%20")

	return &SupportContact{
		Email:   supportEmail,
		Subject: subject,
		Body:    body,
		MailTo:  fmt.Sprintf("mailto:%s?%s", supportEmail, query),
	}
}

// ManualFallback records manual payment intents.
type ManualFallback struct {
	snapshots    store.SnapshotStore
	repo         store.Repository
	events       rabbitmq.Publisher
	supportEmail string
	logger       *slog.Logger
	now          func() time.Time
}

func NewManualFallback(snapshots store.SnapshotStore, repo store.Repository, events rabbitmq.Publisher, supportEmail string, logger *slog.Logger) *ManualFallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &ManualFallback{
		snapshots:    snapshots,
		repo:         repo,
		events:       events,
		supportEmail: supportEmail,
		logger:       logger,
		now:          time.Now,
	}
}

// SubmitManualRequest stores a pending manual payment for the package's initial
// payment. It never contacts the gateway. The audit row and event are best effort.
func (f *ManualFallback) SubmitManualRequest(ctx context.Context, sessionID string, pkg domain.Package, user domain.User) (*domain.ManualPaymentRecord, *SupportContact, error) {
	amounts, err := ComputeAmounts(pkg)
	if err != nil {
		return nil, nil, err
	}

	record := &domain.ManualPaymentRecord{
		ID:          uuid.NewString(),
		PackageID:   pkg.ID,
		Amount:      FormatAmount(amounts.InitialPayment),
		PackageName: pkg.Title,
		UserEmail:   user.Email,
		UserName:    user.Name,
		PaymentType: domain.PaymentTypeManual,
		Status:      domain.ManualPaymentPending,
		Timestamp:   f.now().UTC(),
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal manual payment record: %w", err)
	}
	if err := f.snapshots.Put(ctx, sessionID, domain.SnapshotKeyManualPayment, payload); err != nil {
		return nil, nil, fmt.Errorf("failed to store manual payment record: %w", err)
	}

	if f.repo != nil {
		if _, err := f.repo.CreateManualPaymentRequest(ctx, sessionID, user.ID, record); err != nil {
			f.logger.Warn("failed to audit manual payment request", "session_id", sessionID, "error", err)
		}
	}
	if f.events != nil {
		event := rabbitmq.CheckoutEvent{
			SessionID: sessionID,
			UserID:    user.ID,
			PackageID: pkg.ID,
			Amount:    record.Amount,
			State:     string(record.Status),
			Timestamp: record.Timestamp,
		}
		if err := f.events.PublishCheckoutEvent(ctx, rabbitmq.RoutingManualRequested, event); err != nil {
			f.logger.Warn("failed to publish manual payment event", "session_id", sessionID, "error", err)
		}
	}

	f.logger.Info("manual payment requested", "session_id", sessionID, "package_id", pkg.ID, "amount", record.Amount)
	return record, f.Contact(pkg, user, record.Amount), nil
}

// Contact drafts the support email for a package.
func (f *ManualFallback) Contact(pkg domain.Package, user domain.User, amount string) *SupportContact {
	return NewSupportContact(f.supportEmail, pkg, user, amount)
}
