package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lingkarclub/access-engine/internal/pkg/logger"
)

// StartMaintenance starts a background goroutine that periodically deletes
// expired idempotency keys and expires passes for gatherings whose date has
// passed. Both runs hourly; the first pass happens at startup.
func (r *Repository) StartMaintenance(ctx context.Context) {
	go func() {
		log := logger.Logger.With().Str("component", "maintenance").Logger()
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()

		r.cleanupExpiredKeys(ctx)
		r.expireStalePasses(ctx)

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("stopped")
				return
			case <-ticker.C:
				r.cleanupExpiredKeys(ctx)
				r.expireStalePasses(ctx)
			}
		}
	}()
}

func (r *Repository) cleanupExpiredKeys(ctx context.Context) {
	result, err := r.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at < NOW()`)
	if err != nil {
		logger.Logger.Warn().Err(err).Msg("idempotency key cleanup failed")
		return
	}

	rowsAffected := result.RowsAffected()
	if rowsAffected > 0 {
		logger.Logger.Info().Int64("deleted", rowsAffected).Msg("idempotency keys cleaned up")
	}
}

// expireStalePasses retires live passes a day after the gathering date.
// Counters are zeroed with the same statement ordering as the cancel path:
// capacity row locked first.
func (r *Repository) expireStalePasses(ctx context.Context) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		logger.Logger.Warn().Err(err).Msg("stale pass expiry failed to start")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT c.gathering_id
		FROM gathering_capacity c
		JOIN gatherings g ON g.id = c.gathering_id
		WHERE g.event_date IS NOT NULL
		  AND g.event_date < NOW() - INTERVAL '24 hours'
		  AND (c.confirmed_count > 0 OR c.waitlist_count > 0)
		FOR UPDATE OF c
	`)
	if err != nil {
		logger.Logger.Warn().Err(err).Msg("stale pass expiry query failed")
		return
	}
	var stale []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			logger.Logger.Warn().Err(err).Msg("stale pass expiry scan failed")
			return
		}
		stale = append(stale, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		logger.Logger.Warn().Err(err).Msg("stale pass expiry failed")
		return
	}
	if len(stale) == 0 {
		return
	}

	var total int64
	for _, gatheringID := range stale {
		result, err := tx.Exec(ctx, `
			UPDATE passes
			SET status = 'expired',
			    is_waitlisted = FALSE,
			    waitlist_position = NULL,
			    expired_at = NOW(),
			    updated_at = NOW()
			WHERE gathering_id = $1 AND status NOT IN ('revoked', 'expired')
		`, gatheringID)
		if err != nil {
			logger.Logger.Warn().Err(err).Msg("stale pass expiry update failed")
			return
		}
		total += result.RowsAffected()

		_, err = tx.Exec(ctx, `
			UPDATE gathering_capacity
			SET confirmed_count = 0, waitlist_count = 0, updated_at = NOW()
			WHERE gathering_id = $1
		`, gatheringID)
		if err != nil {
			logger.Logger.Warn().Err(err).Msg("stale pass counter reset failed")
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		logger.Logger.Warn().Err(err).Msg("stale pass expiry commit failed")
		return
	}
	if total > 0 {
		logger.Logger.Info().Int64("expired", total).Msg("stale passes expired")
	}
}
