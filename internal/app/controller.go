/**
 * @description
 * Controller drives one checkout session through its submission states. It decides,
 * per classified gateway outcome, whether the payer waits out a countdown, may retry
 * at once, has hit a terminal failure, or should be offered the manual path.
 *
 * State machine:
 *   idle -> submitting -> redirected | rate_limited | failed | idle
 *   rate_limited -> idle (countdown expiry or Retry)
 *   rate_limited outcome with retry count >= threshold -> fallback_offered
 *   failed -> submitting (new attempt)
 */
package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/directory/payment-service/internal/domain"
	"github.com/directory/payment-service/internal/store"
	"github.com/directory/payment-service/pkg/rabbitmq"
)

// CheckoutState is a session's position in the submission state machine.
type CheckoutState string

const (
	StateIdle            CheckoutState = "idle"
	StateSubmitting      CheckoutState = "submitting"
	StateRedirected      CheckoutState = "redirected"
	StateRateLimited     CheckoutState = "rate_limited"
	StateFailed          CheckoutState = "failed"
	StateFallbackOffered CheckoutState = "fallback_offered"
)

var (
	ErrCountdownActive  = errors.New("rate limit countdown is still running")
	ErrSubmitInProgress = errors.New("a submission is already in progress")
	ErrFallbackOffered  = errors.New("online payment is unavailable for this session; use the manual payment option")
	ErrRetryNotAllowed  = errors.New("retry is only allowed after a rate-limited or failed attempt")
)

// DefaultEscalationThreshold is the retry count at which a rate-limited outcome
// escalates to the manual path.
const DefaultEscalationThreshold = 2

// Initiator starts one gateway submission.
type Initiator interface {
	Initiate(ctx context.Context, sessionID string, pkg domain.Package, user domain.User, attempt int) (*domain.RedirectForm, *domain.PaymentRequest, error)
}

// ControllerConfig tunes countdown and escalation.
type ControllerConfig struct {
	Countdown           time.Duration
	Tick                time.Duration
	EscalationThreshold int
}

func (c ControllerConfig) withDefaults() ControllerConfig {
	if c.Countdown <= 0 {
		c.Countdown = DefaultCountdown
	}
	if c.Tick <= 0 {
		c.Tick = time.Second
	}
	if c.EscalationThreshold <= 0 {
		c.EscalationThreshold = DefaultEscalationThreshold
	}
	return c
}

// ControllerView is the session state reported to the payer.
type ControllerView struct {
	SessionID      string               `json:"session_id"`
	State          CheckoutState        `json:"state"`
	Attempt        domain.AttemptState  `json:"attempt"`
	LastError      *domain.GatewayError `json:"last_error,omitempty"`
	Redirect       *domain.RedirectForm `json:"redirect,omitempty"`
	SupportContact *SupportContact      `json:"support_contact,omitempty"`
}

// Controller owns the retry state of one checkout session.
type Controller struct {
	sessionID string
	pkg       domain.Package
	user      domain.User
	gateway   Initiator
	fallback  *ManualFallback
	events    rabbitmq.Publisher
	repo      store.Repository
	cfg       ControllerConfig
	logger    *slog.Logger

	mu           sync.Mutex
	state        CheckoutState
	attempt      domain.AttemptState
	attemptIndex int
	countdown    *Countdown
	countdownGen int
	lastErr      *domain.GatewayError
	form         *domain.RedirectForm
	lastActivity time.Time
	retired      bool
}

// ControllerDeps groups the collaborators shared by every session.
type ControllerDeps struct {
	Gateway  Initiator
	Fallback *ManualFallback
	Events   rabbitmq.Publisher
	Repo     store.Repository
	Logger   *slog.Logger
}

func NewController(sessionID string, pkg domain.Package, user domain.User, deps ControllerDeps, cfg ControllerConfig) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		sessionID:    sessionID,
		pkg:          pkg,
		user:         user,
		gateway:      deps.Gateway,
		fallback:     deps.Fallback,
		events:       deps.Events,
		repo:         deps.Repo,
		cfg:          cfg.withDefaults(),
		logger:       logger.With("session_id", sessionID),
		state:        StateIdle,
		lastActivity: time.Now(),
	}
}

func (c *Controller) SessionID() string { return c.sessionID }

func (c *Controller) Package() domain.Package { return c.pkg }

func (c *Controller) User() domain.User { return c.user }

// Submit starts a gateway submission. It returns the redirect form on success or
// the classified error on failure.
func (c *Controller) Submit(ctx context.Context) (*domain.RedirectForm, error) {
	c.mu.Lock()
	if c.retired {
		c.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	c.lastActivity = time.Now()
	switch c.state {
	case StateSubmitting:
		c.mu.Unlock()
		return nil, ErrSubmitInProgress
	case StateFallbackOffered:
		c.mu.Unlock()
		return nil, ErrFallbackOffered
	case StateRedirected:
		form := c.form
		c.mu.Unlock()
		return form, nil
	case StateRateLimited:
		if c.countdown.Active() {
			c.mu.Unlock()
			return nil, ErrCountdownActive
		}
		c.clearCountdownLocked()
	}

	c.state = StateSubmitting
	attemptIndex := c.attemptIndex
	c.attemptIndex++
	now := time.Now().UTC()
	c.attempt.LastAttemptAt = &now
	c.mu.Unlock()

	form, req, err := c.gateway.Initiate(ctx, c.sessionID, c.pkg, c.user, attemptIndex)

	c.mu.Lock()
	c.lastActivity = time.Now()
	if err == nil {
		c.state = StateRedirected
		c.lastErr = nil
		c.form = form
		c.mu.Unlock()

		c.logger.Info("checkout redirect dispatched", "txnid", req.TransactionID, "attempt", attemptIndex)
		c.record(ctx, req, attemptIndex, string(StateRedirected), "")
		c.publish(ctx, rabbitmq.RoutingRedirectDispatched, req, StateRedirected, "")
		return form, nil
	}

	if isAbandoned(err) {
		// The caller went away or the service is stopping; nothing was learned
		// about the gateway.
		c.state = StateIdle
		c.mu.Unlock()
		c.logger.Warn("checkout submission abandoned", "attempt", attemptIndex, "error", err)
		return nil, err
	}

	gwErr := domain.AsGatewayError(err)
	c.lastErr = gwErr
	next := c.applyFailureLocked(gwErr)
	retryCount := c.attempt.RetryCount
	c.mu.Unlock()

	c.logger.Warn("checkout submission failed", "attempt", attemptIndex, "code", gwErr.Code, "next_state", next, "retry_count", retryCount)
	c.record(ctx, req, attemptIndex, string(next), string(gwErr.Code))
	switch next {
	case StateRateLimited:
		c.publish(ctx, rabbitmq.RoutingRateLimited, req, next, gwErr.Code)
	case StateFallbackOffered:
		c.publish(ctx, rabbitmq.RoutingFallbackOffered, req, next, gwErr.Code)
	case StateFailed:
		c.publish(ctx, rabbitmq.RoutingFailed, req, next, gwErr.Code)
	}
	return nil, gwErr
}

func isAbandoned(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrQueueClosed)
}

// applyFailureLocked moves the session out of submitting for a classified error
// and returns the new state. c.mu must be held.
func (c *Controller) applyFailureLocked(gwErr *domain.GatewayError) CheckoutState {
	switch gwErr.Code {
	case domain.CodeRateLimited:
		c.attempt.RetryCount++
		if c.attempt.RetryCount >= c.cfg.EscalationThreshold {
			c.clearCountdownLocked()
			c.attempt.IsRateLimited = true
			c.state = StateFallbackOffered
			return c.state
		}
		c.state = StateRateLimited
		c.startCountdownLocked()
	case domain.CodeGatewayUnavailable, domain.CodeUnknownGateway:
		c.attempt.RetryCount++
		c.state = StateIdle
	default:
		c.state = StateFailed
	}
	return c.state
}

func (c *Controller) startCountdownLocked() {
	c.clearCountdownLocked()
	c.countdownGen++
	gen := c.countdownGen
	seconds := int(c.cfg.Countdown / time.Second)
	c.countdown = StartCountdown(seconds, c.cfg.Tick, func() { c.expire(gen) })
	c.attempt.IsRateLimited = true
	c.attempt.CountdownSecondsRemaining = seconds
}

func (c *Controller) clearCountdownLocked() {
	if c.countdown != nil {
		c.countdown.Stop()
		c.countdown = nil
	}
	c.attempt.IsRateLimited = false
	c.attempt.CountdownSecondsRemaining = 0
}

func (c *Controller) expire(gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// A stale countdown from an earlier transition must not move the session.
	if c.countdownGen != gen || c.countdown == nil || c.state != StateRateLimited {
		return
	}
	c.countdown = nil
	c.state = StateIdle
	c.attempt.IsRateLimited = false
	c.attempt.CountdownSecondsRemaining = 0
	c.logger.Info("rate limit countdown finished")
}

// Retry returns a rate-limited or failed session to idle. Cancelling the countdown
// early is allowed; the retry count is kept.
func (c *Controller) Retry() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retired {
		return ErrSessionNotFound
	}
	c.lastActivity = time.Now()

	switch c.state {
	case StateRateLimited:
		c.clearCountdownLocked()
		c.state = StateIdle
		return nil
	case StateFailed:
		c.state = StateIdle
		return nil
	case StateIdle:
		return nil
	}
	return ErrRetryNotAllowed
}

// RequestManual records a manual payment intent for this session. It is available
// from any state except while a submission is in flight.
func (c *Controller) RequestManual(ctx context.Context) (*domain.ManualPaymentRecord, *SupportContact, error) {
	c.mu.Lock()
	if c.retired {
		c.mu.Unlock()
		return nil, nil, ErrSessionNotFound
	}
	if c.state == StateSubmitting {
		c.mu.Unlock()
		return nil, nil, ErrSubmitInProgress
	}
	c.lastActivity = time.Now()
	c.mu.Unlock()

	return c.fallback.SubmitManualRequest(ctx, c.sessionID, c.pkg, c.user)
}

// View reports the current state, with the live countdown value.
func (c *Controller) View() ControllerView {
	c.mu.Lock()
	defer c.mu.Unlock()

	attempt := c.attempt
	if c.countdown != nil {
		attempt.CountdownSecondsRemaining = c.countdown.Remaining()
	}
	view := ControllerView{
		SessionID: c.sessionID,
		State:     c.state,
		Attempt:   attempt,
		LastError: c.lastErr,
		Redirect:  c.form,
	}
	if c.state == StateFallbackOffered && c.fallback != nil {
		if amounts, err := ComputeAmounts(c.pkg); err == nil {
			view.SupportContact = c.fallback.Contact(c.pkg, c.user, FormatAmount(amounts.InitialPayment))
		}
	}
	return view
}

// retireIfIdle retires the session when nothing is in flight and it has seen no
// activity since cutoff. A retired session refuses further operations.
func (c *Controller) retireIfIdle(cutoff time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retired {
		return true
	}
	if c.state == StateSubmitting || c.lastActivity.After(cutoff) {
		return false
	}
	c.retired = true
	if c.countdown != nil {
		c.countdown.Stop()
		c.countdown = nil
	}
	return true
}

// Close stops the countdown goroutine.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.countdown != nil {
		c.countdown.Stop()
		c.countdown = nil
	}
}

func (c *Controller) record(ctx context.Context, req *domain.PaymentRequest, attemptIndex int, status, code string) {
	if c.repo == nil || req == nil {
		return
	}
	attempt := &domain.PaymentAttempt{
		SessionID:     c.sessionID,
		TransactionID: req.TransactionID,
		UserID:        c.user.ID,
		PackageID:     c.pkg.ID,
		Amount:        req.Amount,
		Status:        status,
		ErrorCode:     code,
		AttemptIndex:  attemptIndex,
		CreatedAt:     time.Now().UTC(),
	}
	if err := c.repo.InsertPaymentAttempt(context.WithoutCancel(ctx), attempt); err != nil {
		c.logger.Warn("failed to record payment attempt", "txnid", req.TransactionID, "error", err)
	}
}

func (c *Controller) publish(ctx context.Context, routingKey string, req *domain.PaymentRequest, state CheckoutState, code domain.ErrorCode) {
	if c.events == nil {
		return
	}
	c.mu.Lock()
	retryCount := c.attempt.RetryCount
	c.mu.Unlock()

	event := rabbitmq.CheckoutEvent{
		SessionID:  c.sessionID,
		UserID:     c.user.ID,
		PackageID:  c.pkg.ID,
		State:      string(state),
		ErrorCode:  string(code),
		RetryCount: retryCount,
		Timestamp:  time.Now().UTC(),
	}
	if req != nil {
		event.TransactionID = req.TransactionID
		event.Amount = req.Amount
	}
	if err := c.events.PublishCheckoutEvent(context.WithoutCancel(ctx), routingKey, event); err != nil {
		c.logger.Warn("failed to publish checkout event", "routing_key", routingKey, "error", err)
	}
}
