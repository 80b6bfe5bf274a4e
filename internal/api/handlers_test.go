package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/directory/payment-service/internal/app"
	"github.com/directory/payment-service/internal/domain"
	"github.com/directory/payment-service/internal/store"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-jwt-secret"

type stubInitiator struct {
	mu       sync.Mutex
	outcomes []error
}

func (s *stubInitiator) Initiate(ctx context.Context, sessionID string, pkg domain.Package, user domain.User, attempt int) (*domain.RedirectForm, *domain.PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req := &domain.PaymentRequest{TransactionID: app.TransactionID(time.Unix(1700000000, 0), attempt), Amount: "100.00"}
	if len(s.outcomes) > 0 {
		err := s.outcomes[0]
		s.outcomes = s.outcomes[1:]
		if err != nil {
			return nil, req, err
		}
	}
	form := domain.NewRedirectForm(domain.GatewayParams{
		ActionURL: "https://test.payu.in/_payment",
		Fields:    map[string]string{"txnid": req.TransactionID, "hash": "abc123", "productinfo": "Gold & Co"},
	}, req.TransactionID)
	return &form, req, nil
}

type stubQueueStatus struct{}

func (stubQueueStatus) Status() app.QueueStatus {
	return app.QueueStatus{QueueLength: 3, IntervalSeconds: 60}
}

type stubLimiter struct {
	limit    int
	attempts map[string]int
	err      error
}

func (s *stubLimiter) Allow(ctx context.Context, userID string) (app.SubmitDecision, error) {
	if s.err != nil {
		return app.SubmitDecision{}, s.err
	}
	if s.attempts == nil {
		s.attempts = make(map[string]int)
	}
	s.attempts[userID]++
	n := s.attempts[userID]
	return app.SubmitDecision{Allowed: n <= s.limit, Attempts: n, RetryAfter: 41500 * time.Millisecond}, nil
}

func newTestServer(t *testing.T, initiator app.Initiator, limiter SubmitLimiter) (*httptest.Server, *app.SessionManager) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	snapshots := store.NewMemorySnapshotStore()
	deps := app.ControllerDeps{
		Gateway:  initiator,
		Fallback: app.NewManualFallback(snapshots, nil, nil, "support@example.com", logger),
	}
	sessions := app.NewSessionManager(deps, app.ControllerConfig{Countdown: time.Minute, Tick: time.Second}, snapshots, logger)
	t.Cleanup(sessions.CloseAll)

	h := NewHandler(sessions, stubQueueStatus{}, limiter)
	srv := httptest.NewServer(NewRouter(h, RouterConfig{JWTSecret: testSecret, AllowedOrigins: []string{"*"}}))
	t.Cleanup(srv.Close)
	return srv, sessions
}

func signToken(t *testing.T, secret, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   sub,
		"email": sub + "@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"user_metadata": map[string]interface{}{
			"full_name": "Asha Rao",
		},
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func doRequest(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func startSession(t *testing.T, srvURL, token string) string {
	t.Helper()
	resp := doRequest(t, http.MethodPost, srvURL+"/checkout/sessions", token,
		`{"package":{"id":"pkg-1","title":"Gold Listing","price":"₹100","setupFee":5,"paymentType":"one-time"},"phone":"9999999999"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var body struct {
		SessionID string                 `json:"session_id"`
		State     string                 `json:"state"`
		Amounts   map[string]interface{} `json:"amounts"`
	}
	decodeBody(t, resp, &body)
	if body.SessionID == "" || body.State != "idle" {
		t.Fatalf("unexpected session response %+v", body)
	}
	if body.Amounts["initial_payment"] != "105" {
		t.Fatalf("expected initial payment 105, got %v", body.Amounts["initial_payment"])
	}
	return body.SessionID
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &stubInitiator{}, nil)
	resp := doRequest(t, http.MethodGet, srv.URL+"/health", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv, _ := newTestServer(t, &stubInitiator{}, nil)

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "not bearer", header: "Token abc"},
		{name: "wrong secret", header: "Bearer " + signToken(t, "other-secret", "user-1")},
		{name: "garbage", header: "Bearer not.a.jwt"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, srv.URL+"/checkout/queue", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", resp.StatusCode)
			}
		})
	}
}

func TestAuthMiddleware_RejectsTokenWithoutSubject(t *testing.T) {
	srv, _ := newTestServer(t, &stubInitiator{}, nil)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	signed, _ := token.SignedString([]byte(testSecret))

	resp := doRequest(t, http.MethodGet, srv.URL+"/checkout/queue", signed, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestPayerFromClaims(t *testing.T) {
	payer, ok := payerFromClaims(jwt.MapClaims{
		"sub":           " user-7 ",
		"email":         "u7@example.com",
		"user_metadata": map[string]interface{}{"name": "Ravi", "phone": "8888888888"},
	})
	if !ok {
		t.Fatal("expected payer")
	}
	if payer.ID != "user-7" || payer.Name != "Ravi" || payer.Phone != "8888888888" || payer.Email != "u7@example.com" {
		t.Fatalf("unexpected payer %+v", payer)
	}
}

func TestQueueStatus(t *testing.T) {
	srv, _ := newTestServer(t, &stubInitiator{}, nil)
	resp := doRequest(t, http.MethodGet, srv.URL+"/checkout/queue", signToken(t, testSecret, "user-1"), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var status app.QueueStatus
	decodeBody(t, resp, &status)
	if status.QueueLength != 3 || status.IntervalSeconds != 60 {
		t.Fatalf("unexpected queue status %+v", status)
	}
}

func TestStartSession_InvalidBody(t *testing.T) {
	srv, _ := newTestServer(t, &stubInitiator{}, nil)
	resp := doRequest(t, http.MethodPost, srv.URL+"/checkout/sessions", signToken(t, testSecret, "user-1"), `{"package":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestStartSession_InvalidPackage(t *testing.T) {
	srv, _ := newTestServer(t, &stubInitiator{}, nil)
	resp := doRequest(t, http.MethodPost, srv.URL+"/checkout/sessions", signToken(t, testSecret, "user-1"),
		`{"package":{"id":"pkg-1","title":"Bad","price":"100","setupFee":"-5","paymentType":"one-time"}}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	var body errorResponse
	decodeBody(t, resp, &body)
	if body.Error.Code != string(domain.CodeInvalidPackage) {
		t.Fatalf("expected INVALID_PACKAGE, got %q", body.Error.Code)
	}
}

func TestSubmit_SuccessAndRedirectPage(t *testing.T) {
	srv, _ := newTestServer(t, &stubInitiator{}, nil)
	token := signToken(t, testSecret, "user-1")
	id := startSession(t, srv.URL, token)

	resp := doRequest(t, http.MethodPost, srv.URL+"/checkout/sessions/"+id+"/submit", token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Redirect domain.RedirectForm `json:"redirect"`
	}
	decodeBody(t, resp, &body)
	if body.Redirect.ActionURL != "https://test.payu.in/_payment" || body.Redirect.Method != http.MethodPost {
		t.Fatalf("unexpected redirect form %+v", body.Redirect)
	}

	page := doRequest(t, http.MethodGet, srv.URL+"/checkout/sessions/"+id+"/redirect", "", "")
	if page.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", page.StatusCode)
	}
	html, _ := io.ReadAll(page.Body)
	for _, want := range []string{
		`action="https://test.payu.in/_payment"`,
		`name="hash" value="abc123"`,
		`value="Gold &amp; Co"`,
	} {
		if !strings.Contains(string(html), want) {
			t.Fatalf("expected redirect page to contain %q, got %s", want, html)
		}
	}
}

func TestRedirectPage_NotReady(t *testing.T) {
	srv, _ := newTestServer(t, &stubInitiator{}, nil)
	id := startSession(t, srv.URL, signToken(t, testSecret, "user-1"))

	resp := doRequest(t, http.MethodGet, srv.URL+"/checkout/sessions/"+id+"/redirect", "", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	missing := doRequest(t, http.MethodGet, srv.URL+"/checkout/sessions/unknown/redirect", "", "")
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.StatusCode)
	}
}

func TestSubmit_RateLimitedThenCountdownActive(t *testing.T) {
	rl := domain.NewGatewayError(domain.CodeRateLimited, "Too many requests", http.StatusTooManyRequests)
	srv, _ := newTestServer(t, &stubInitiator{outcomes: []error{rl}}, nil)
	token := signToken(t, testSecret, "user-1")
	id := startSession(t, srv.URL, token)

	resp := doRequest(t, http.MethodPost, srv.URL+"/checkout/sessions/"+id+"/submit", token, "")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	var body errorResponse
	decodeBody(t, resp, &body)
	if body.Error.Code != string(domain.CodeRateLimited) || body.Error.Session == nil || body.Error.Session.State != app.StateRateLimited {
		t.Fatalf("unexpected error body %+v", body.Error)
	}

	again := doRequest(t, http.MethodPost, srv.URL+"/checkout/sessions/"+id+"/submit", token, "")
	if again.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 while countdown runs, got %d", again.StatusCode)
	}

	retry := doRequest(t, http.MethodPost, srv.URL+"/checkout/sessions/"+id+"/retry", token, "")
	if retry.StatusCode != http.StatusOK {
		t.Fatalf("expected retry to succeed, got %d", retry.StatusCode)
	}
}

func TestSubmit_ErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "unavailable", err: domain.NewGatewayError(domain.CodeGatewayUnavailable, "down", 503), want: http.StatusServiceUnavailable},
		{name: "rejected", err: domain.NewGatewayError(domain.CodePaymentRejected, "invalid hash", 400), want: http.StatusUnprocessableEntity},
		{name: "malformed", err: domain.NewGatewayError(domain.CodeMalformedResponse, "no url", 200), want: http.StatusBadGateway},
		{name: "unknown", err: domain.NewGatewayError(domain.CodeUnknownGateway, "teapot", 418), want: http.StatusBadGateway},
		{name: "queue closed", err: app.ErrQueueClosed, want: http.StatusServiceUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newTestServer(t, &stubInitiator{outcomes: []error{tc.err}}, nil)
			token := signToken(t, testSecret, "user-1")
			id := startSession(t, srv.URL, token)

			resp := doRequest(t, http.MethodPost, srv.URL+"/checkout/sessions/"+id+"/submit", token, "")
			if resp.StatusCode != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.StatusCode)
			}
		})
	}
}

func TestSubmit_LimiterBlocksExcessSubmissions(t *testing.T) {
	limiter := &stubLimiter{limit: 0}
	srv, _ := newTestServer(t, &stubInitiator{}, limiter)
	token := signToken(t, testSecret, "user-1")
	id := startSession(t, srv.URL, token)

	resp := doRequest(t, http.MethodPost, srv.URL+"/checkout/sessions/"+id+"/submit", token, "")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") != "42" {
		t.Fatalf("expected Retry-After 42, got %q", resp.Header.Get("Retry-After"))
	}
}

func TestSubmit_LimiterErrorFailsOpen(t *testing.T) {
	limiter := &stubLimiter{err: context.DeadlineExceeded}
	srv, _ := newTestServer(t, &stubInitiator{}, limiter)
	token := signToken(t, testSecret, "user-1")
	id := startSession(t, srv.URL, token)

	resp := doRequest(t, http.MethodPost, srv.URL+"/checkout/sessions/"+id+"/submit", token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestSession_OwnershipEnforced(t *testing.T) {
	srv, _ := newTestServer(t, &stubInitiator{}, nil)
	id := startSession(t, srv.URL, signToken(t, testSecret, "user-1"))

	resp := doRequest(t, http.MethodGet, srv.URL+"/checkout/sessions/"+id, signToken(t, testSecret, "user-2"), "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	missing := doRequest(t, http.MethodGet, srv.URL+"/checkout/sessions/nope", signToken(t, testSecret, "user-1"), "")
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.StatusCode)
	}
}

func TestManualRequestAndSnapshot(t *testing.T) {
	srv, _ := newTestServer(t, &stubInitiator{}, nil)
	token := signToken(t, testSecret, "user-1")
	id := startSession(t, srv.URL, token)

	resp := doRequest(t, http.MethodPost, srv.URL+"/checkout/sessions/"+id+"/manual", token, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var body manualResponse
	decodeBody(t, resp, &body)
	if body.Record == nil || body.Record.Amount != "105.00" || body.Record.Status != domain.ManualPaymentPending {
		t.Fatalf("unexpected manual record %+v", body.Record)
	}
	if body.SupportContact == nil || !strings.HasPrefix(body.SupportContact.MailTo, "mailto:support@example.com") {
		t.Fatalf("unexpected support contact %+v", body.SupportContact)
	}

	snap := doRequest(t, http.MethodGet, srv.URL+"/checkout/sessions/"+id+"/snapshot?key="+domain.SnapshotKeyManualPayment, token, "")
	if snap.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", snap.StatusCode)
	}

	bad := doRequest(t, http.MethodGet, srv.URL+"/checkout/sessions/"+id+"/snapshot?key=other", token, "")
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", bad.StatusCode)
	}

	absent := doRequest(t, http.MethodGet, srv.URL+"/checkout/sessions/"+id+"/snapshot?key="+domain.SnapshotKeyPaymentError, token, "")
	if absent.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", absent.StatusCode)
	}
}

func TestAuthMiddleware_EmptySecretRejectsEveryToken(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a configured secret")
	})
	mw := SupabaseAuthMiddleware("")(next)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "victim-user",
		"email": "victim@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, _ := token.SignedString([]byte(""))
	if signed == "" {
		signed = "forged.token.value"
	}

	for _, header := range []string{"Bearer " + signed, ""} {
		req := httptest.NewRequest(http.MethodGet, "/checkout/queue", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for header %q, got %d", header, rec.Code)
		}
	}
}
