package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

// QuotationExpirer sweeps quotations whose validity window elapsed.
type QuotationExpirer interface {
	ExpireDue(ctx context.Context, limit int) (int, error)
}

// SessionPurger removes expired login sessions.
type SessionPurger interface {
	PurgeExpiredSessions(ctx context.Context) (int64, error)
}

// ChainReconciler replays terminal approval-chain outcomes onto quotations
// that never received the callback.
type ChainReconciler interface {
	ReconcileChainOutcomes(ctx context.Context, limit int) (int, error)
}

// NewExpirySweepHandler returns the asynq handler for quotation expiry.
func NewExpirySweepHandler(expirer QuotationExpirer, metrics *Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ExpirySweepPayload
		if len(t.Payload()) > 0 {
			if err := json.Unmarshal(t.Payload(), &payload); err != nil {
				return asynq.SkipRetry
			}
		}
		tracker := metrics.Track("quotation_expiry_sweep")
		expired, err := expirer.ExpireDue(ctx, payload.Limit)
		if err != nil {
			logger.Error("quotation expiry sweep", slog.Any("error", err))
			return tracker.End(err)
		}
		if expired > 0 {
			logger.Info("quotation expiry sweep", slog.Int("expired", expired))
		}
		return tracker.End(nil)
	}
}

// NewChainReconcileHandler returns the asynq handler that moves quotations
// stranded behind an already-decided approval chain.
func NewChainReconcileHandler(reconciler ChainReconciler, metrics *Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ChainReconcilePayload
		if len(t.Payload()) > 0 {
			if err := json.Unmarshal(t.Payload(), &payload); err != nil {
				return asynq.SkipRetry
			}
		}
		tracker := metrics.Track("quotation_chain_reconcile")
		moved, err := reconciler.ReconcileChainOutcomes(ctx, payload.Limit)
		if err != nil {
			logger.Error("chain outcome reconcile", slog.Any("error", err))
			return tracker.End(err)
		}
		if moved > 0 {
			logger.Info("chain outcome reconcile", slog.Int("moved", moved))
		}
		return tracker.End(nil)
	}
}

// NewSessionPurgeHandler returns the asynq handler for session purging.
func NewSessionPurgeHandler(purger SessionPurger, metrics *Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("session_purge")
		removed, err := purger.PurgeExpiredSessions(ctx)
		if err != nil {
			logger.Error("session purge", slog.Any("error", err))
			return tracker.End(err)
		}
		if removed > 0 {
			logger.Info("session purge", slog.Int64("removed", removed))
		}
		return tracker.End(nil)
	}
}
