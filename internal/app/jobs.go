/**
 * @description
 * Scheduled job implementations for checkout housekeeping.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/directory/payment-service/internal/store"
)

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	sessions  *SessionManager
	repo      store.Repository
	maxIdle   time.Duration
	manualTTL time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewJobs creates a new Jobs runner. repo may be nil when no database is configured.
func NewJobs(sessions *SessionManager, repo store.Repository, maxIdle, manualTTL time.Duration, logger *slog.Logger) *Jobs {
	return &Jobs{
		sessions:  sessions,
		repo:      repo,
		maxIdle:   maxIdle,
		manualTTL: manualTTL,
		logger:    logger,
		now:       time.Now,
	}
}

// SweepIdleSessions drops checkout sessions nobody has touched for a while.
func (j *Jobs) SweepIdleSessions() {
	ctx := context.Background()
	removed := j.sessions.SweepIdle(ctx, j.maxIdle)
	j.logger.Info("session sweep job finished", "removed", removed, "remaining", j.sessions.Count())
}

// ExpireStaleManualRequests marks old pending manual payment requests as expired.
func (j *Jobs) ExpireStaleManualRequests() {
	if j.repo == nil {
		return
	}
	j.logger.Info("starting manual request expiry job")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	expired, err := j.repo.ExpireManualPaymentRequests(ctx, j.now().Add(-j.manualTTL))
	if err != nil {
		j.logger.Error("failed to expire manual payment requests", "error", err)
		return
	}
	j.logger.Info("manual request expiry job finished", "expired", expired)
}
