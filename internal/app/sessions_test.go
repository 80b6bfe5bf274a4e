package app

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/directory/payment-service/internal/domain"
	"github.com/directory/payment-service/internal/store"
)

func newTestSessionManager(t *testing.T, initiator Initiator) (*SessionManager, *recordingRepo) {
	t.Helper()
	snapshots := store.NewMemorySnapshotStore()
	repo := &recordingRepo{}
	deps := ControllerDeps{
		Gateway:  initiator,
		Fallback: NewManualFallback(snapshots, repo, nil, "support@example.com", discardLogger()),
		Repo:     repo,
	}
	m := NewSessionManager(deps, ControllerConfig{}, snapshots, discardLogger())
	t.Cleanup(m.CloseAll)
	return m, repo
}

func TestSessionManager_StartCreatesFreshSessions(t *testing.T) {
	m, _ := newTestSessionManager(t, &scriptedInitiator{outcomes: []error{domain.NewGatewayError(domain.CodeGatewayUnavailable, "down", 503)}})
	pkg := mustPackage(t, domain.PackageInput{ID: "pkg-1", Title: "Basic", Price: "100", PaymentType: "one-time"})

	first, err := m.Start(pkg, testUser())
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	_, _ = first.Submit(context.Background())
	if first.View().Attempt.RetryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", first.View().Attempt.RetryCount)
	}

	second, err := m.Start(pkg, testUser())
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if second.SessionID() == first.SessionID() {
		t.Fatal("expected a new session id")
	}
	if second.View().Attempt.RetryCount != 0 {
		t.Fatal("expected a new session to start with fresh attempt state")
	}
	if m.Count() != 2 {
		t.Fatalf("expected 2 sessions, got %d", m.Count())
	}

	got, err := m.Get(first.SessionID())
	if err != nil || got != first {
		t.Fatalf("expected Get to return the first session, got %v, %v", got, err)
	}
}

func TestSessionManager_StartRejectsInvalidPackage(t *testing.T) {
	m, _ := newTestSessionManager(t, &scriptedInitiator{})
	pkg := domain.Package{ID: "bad", Title: "Bad", PaymentType: domain.PaymentTypeOneTime, DurationMonths: -2}

	if _, err := m.Start(pkg, testUser()); !errors.Is(err, domain.ErrInvalidPackage) {
		t.Fatalf("expected invalid package error, got %v", err)
	}
	if m.Count() != 0 {
		t.Fatal("expected no session to be created")
	}
}

func TestSessionManager_GetForUser(t *testing.T) {
	m, _ := newTestSessionManager(t, &scriptedInitiator{})
	pkg := mustPackage(t, domain.PackageInput{ID: "pkg-1", Title: "Basic", Price: "100", PaymentType: "one-time"})
	ctrl, _ := m.Start(pkg, testUser())

	if _, err := m.GetForUser(ctrl.SessionID(), "someone-else"); !errors.Is(err, ErrSessionForbidden) {
		t.Fatalf("expected ErrSessionForbidden, got %v", err)
	}
	if _, err := m.GetForUser("missing", "user-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if got, err := m.GetForUser(ctrl.SessionID(), "user-1"); err != nil || got != ctrl {
		t.Fatalf("expected owner lookup to succeed, got %v", err)
	}
}

func TestSessionManager_SweepIdle(t *testing.T) {
	m, _ := newTestSessionManager(t, &scriptedInitiator{})
	pkg := mustPackage(t, domain.PackageInput{ID: "pkg-1", Title: "Basic", Price: "100", PaymentType: "one-time"})
	stale, _ := m.Start(pkg, testUser())

	time.Sleep(20 * time.Millisecond)
	fresh, _ := m.Start(pkg, testUser())

	if removed := m.SweepIdle(context.Background(), 10*time.Millisecond); removed != 1 {
		t.Fatalf("expected one session swept, got %d", removed)
	}
	if _, err := m.Get(stale.SessionID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected stale session removed, got %v", err)
	}
	if _, err := m.Get(fresh.SessionID()); err != nil {
		t.Fatalf("expected fresh session kept, got %v", err)
	}
}

type blockingInitiator struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingInitiator) Initiate(ctx context.Context, sessionID string, pkg domain.Package, user domain.User, attempt int) (*domain.RedirectForm, *domain.PaymentRequest, error) {
	close(b.started)
	<-b.release
	req := &domain.PaymentRequest{TransactionID: TransactionID(time.Unix(0, 0), attempt), Amount: "100.00"}
	form := domain.NewRedirectForm(domain.GatewayParams{ActionURL: "https://test.payu.in/_payment"}, req.TransactionID)
	return &form, req, nil
}

func TestSessionManager_SweepIdleKeepsSubmittingSession(t *testing.T) {
	initiator := &blockingInitiator{started: make(chan struct{}), release: make(chan struct{})}
	m, _ := newTestSessionManager(t, initiator)
	pkg := mustPackage(t, domain.PackageInput{ID: "pkg-1", Title: "Basic", Price: "100", PaymentType: "one-time"})
	ctrl, _ := m.Start(pkg, testUser())

	done := make(chan error, 1)
	go func() {
		_, err := ctrl.Submit(context.Background())
		done <- err
	}()
	<-initiator.started
	time.Sleep(20 * time.Millisecond)

	if removed := m.SweepIdle(context.Background(), 10*time.Millisecond); removed != 0 {
		t.Fatalf("expected submitting session kept, got %d swept", removed)
	}
	close(initiator.release)
	if err := <-done; err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if _, err := m.Get(ctrl.SessionID()); err != nil {
		t.Fatalf("expected session still registered, got %v", err)
	}
}

func TestSessionManager_SweptSessionRefusesOperations(t *testing.T) {
	initiator := &scriptedInitiator{}
	m, _ := newTestSessionManager(t, initiator)
	pkg := mustPackage(t, domain.PackageInput{ID: "pkg-1", Title: "Basic", Price: "100", PaymentType: "one-time"})
	ctrl, _ := m.Start(pkg, testUser())

	time.Sleep(20 * time.Millisecond)
	if removed := m.SweepIdle(context.Background(), 10*time.Millisecond); removed != 1 {
		t.Fatalf("expected one session swept, got %d", removed)
	}

	if _, err := ctrl.Submit(context.Background()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected Submit on a swept session to fail, got %v", err)
	}
	if err := ctrl.Retry(); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected Retry on a swept session to fail, got %v", err)
	}
	if _, _, err := ctrl.RequestManual(context.Background()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected RequestManual on a swept session to fail, got %v", err)
	}
	if len(initiator.attempts) != 0 {
		t.Fatalf("expected no gateway call, got %v", initiator.attempts)
	}
}

func TestSessionManager_SnapshotReadsManualRecord(t *testing.T) {
	m, _ := newTestSessionManager(t, &scriptedInitiator{})
	pkg := mustPackage(t, domain.PackageInput{ID: "pkg-1", Title: "Basic", Price: "100", SetupFee: "5", PaymentType: "one-time"})
	ctrl, _ := m.Start(pkg, testUser())

	if _, _, err := ctrl.RequestManual(context.Background()); err != nil {
		t.Fatalf("RequestManual returned error: %v", err)
	}
	raw, err := m.Snapshot(context.Background(), ctrl.SessionID(), domain.SnapshotKeyManualPayment)
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	if !strings.Contains(string(raw), `"paymentType":"manual"`) || !strings.Contains(string(raw), `"amount":"105.00"`) {
		t.Fatalf("unexpected manual snapshot %s", raw)
	}
}

func TestNewSupportContact(t *testing.T) {
	pkg := mustPackage(t, domain.PackageInput{ID: "pkg-9", Title: "Gold Plan", Price: "500", PaymentType: "one-time"})
	contact := NewSupportContact("help@example.com", pkg, testUser(), "500.00")

	if !strings.HasPrefix(contact.MailTo, "mailto:help@example.com?") {
		t.Fatalf("unexpected mailto %q", contact.MailTo)
	}
	if strings.Contains(contact.MailTo, "+") {
		t.Fatalf("expected spaces encoded as %%20, got %q", contact.MailTo)
	}

	parsed, err := url.Parse(contact.MailTo)
	if err != nil {
		t.Fatalf("failed to parse mailto: %v", err)
	}
	q := parsed.Query()
	if q.Get("subject") != "Manual payment request: Gold Plan" {
		t.Fatalf("unexpected subject %q", q.Get("subject"))
	}
	body := q.Get("body")
	for _, want := range []string{"pkg-9", "INR 500.00", "Asha Rao", "asha@example.com"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected body to contain %q, got %q", want, body)
		}
	}
}
