package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lingkarclub/access-engine/internal/domain"
)

// RevokePass is the moderation removal: host or operator pulls someone's
// pass. Same lock order as ClaimPass/CancelPass, then promotion and
// position compaction through settleAfterRemoval.
func (r *Repository) RevokePass(ctx context.Context, traceID string, gatheringID, targetUserID, actorID uuid.UUID, reason string) error {
	traceID = strings.TrimSpace(traceID)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "revoked"
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// lock capacity first
	var capacity int
	err = tx.QueryRow(ctx, `
		SELECT capacity
		FROM gathering_capacity
		WHERE gathering_id = $1
		FOR UPDATE
	`, gatheringID).Scan(&capacity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrGatheringNotFound
		}
		return err
	}

	// lock pass row
	var oldStatus string
	var wasWaitlisted bool
	err = tx.QueryRow(ctx, `
		SELECT status, is_waitlisted
		FROM passes
		WHERE gathering_id = $1 AND user_id = $2
		FOR UPDATE
	`, gatheringID, targetUserID).Scan(&oldStatus, &wasWaitlisted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrPassNotFound
		}
		return err
	}

	// already terminal, idempotent
	if oldStatus == string(domain.PassRevoked) || oldStatus == string(domain.PassExpired) {
		return tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `
		UPDATE passes
		SET status = 'revoked',
		    is_waitlisted = FALSE,
		    waitlist_position = NULL,
		    revoked_at = NOW(),
		    revoked_by = $3,
		    revoked_reason = $4,
		    updated_at = NOW()
		WHERE gathering_id = $1 AND user_id = $2
	`, gatheringID, targetUserID, actorID, reason)
	if err != nil {
		return err
	}

	if err := settleAfterRemoval(ctx, tx, traceID, gatheringID, capacity, wasWaitlisted); err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]any{
		"gathering_id": gatheringID,
		"user_id":      targetUserID,
		"actor_id":     actorID,
		"prev_status":  oldStatus,
		"reason":       reason,
		"action":       "revoked",
	})
	_, _ = tx.Exec(ctx,
		`INSERT INTO outbox (message_id, trace_id, routing_key, payload, occurred_at, status)
		 VALUES ($1,$2,$3,$4,NOW(),'pending')`,
		uuid.New(), traceID, "pass.revoked", payload,
	)

	return tx.Commit(ctx)
}
