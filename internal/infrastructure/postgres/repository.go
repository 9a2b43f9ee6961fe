package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lingkarclub/access-engine/internal/domain"
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// -------------------------
// Deadlock policy:
// Always lock in this order (for the same gathering_id):
//   1) gathering_capacity row (FOR UPDATE)
//   2) passes row for (gathering_id,user_id) if needed (FOR UPDATE)
//   3) optional waitlist rows (FOR UPDATE SKIP LOCKED)
// This prevents cycles between ClaimPass/CancelPass/Consumer(gathering.canceled).
// -------------------------

func (r *Repository) ClaimPass(ctx context.Context, traceID, idempotencyKey string, gatheringID, userID uuid.UUID) (domain.Pass, error) {
	traceID = strings.TrimSpace(traceID)
	idempotencyKey = strings.TrimSpace(idempotencyKey)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Pass{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := checkIdempotencyKey(ctx, tx, idempotencyKey, gatheringID, userID, "claim"); err != nil {
		return domain.Pass{}, err
	}

	// 1) Lock capacity FIRST (global lock for this gathering_id)
	var capacity, confirmedCount, waitlistCount int
	err = tx.QueryRow(ctx, `
		SELECT capacity, confirmed_count, waitlist_count
		FROM gathering_capacity
		WHERE gathering_id = $1
		FOR UPDATE
	`, gatheringID).Scan(&capacity, &confirmedCount, &waitlistCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Pass{}, domain.ErrGatheringNotFound
		}
		return domain.Pass{}, err
	}

	if capacity < 0 {
		return domain.Pass{}, domain.ErrGatheringClosed
	}

	// 2) Lock (gathering_id,user_id) pass row second
	var existingID uuid.UUID
	var existingStatus string
	err = tx.QueryRow(ctx, `
		SELECT id, status
		FROM passes
		WHERE gathering_id = $1 AND user_id = $2
		FOR UPDATE
	`, gatheringID, userID).Scan(&existingID, &existingStatus)

	hasRow := err == nil
	if hasRow {
		// re-claim only after a terminal status
		if existingStatus == string(domain.PassClaimed) || existingStatus == string(domain.PassUsed) {
			return domain.Pass{}, domain.ErrAlreadyClaimed
		}
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Pass{}, err
	}

	// 3) Run the engine against the live snapshot
	snapshot, err := livePassesTx(ctx, tx, gatheringID)
	if err != nil {
		return domain.Pass{}, err
	}
	decision := domain.ShouldWaitlist(domain.Gathering{Capacity: capacity}, snapshot)
	if decision.ShouldWaitlist {
		if limit := domain.WaitlistLimit(capacity); limit > 0 && waitlistCount >= limit {
			return domain.Pass{}, domain.ErrGatheringFull
		}
	}

	// 4) Insert or reuse pass row
	now := time.Now().UTC()
	pass := domain.Pass{
		GatheringID:  gatheringID,
		UserID:       userID,
		Status:       domain.PassClaimed,
		IsWaitlisted: decision.ShouldWaitlist,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	var waitlistedAt *time.Time
	if decision.ShouldWaitlist {
		pass.WaitlistPosition = decision.Position
		waitlistedAt = &now
		pass.WaitlistedAt = waitlistedAt
	}

	if hasRow {
		pass.ID = existingID
		_, err = tx.Exec(ctx, `
			UPDATE passes
			SET status = 'claimed',
				is_waitlisted = $3,
				waitlist_position = $4,
				waitlisted_at = $5,
				checked_in_at = NULL,
				revoked_at = NULL,
				revoked_by = NULL,
				revoked_reason = NULL,
				expired_at = NULL,
				created_at = NOW(),
				updated_at = NOW()
			WHERE gathering_id = $1 AND user_id = $2
		`, gatheringID, userID, pass.IsWaitlisted, pass.WaitlistPosition, waitlistedAt)
	} else {
		pass.ID = uuid.New()
		_, err = tx.Exec(ctx, `
			INSERT INTO passes (id, gathering_id, user_id, status, is_waitlisted, waitlist_position, waitlisted_at, created_at, updated_at)
			VALUES ($1, $2, $3, 'claimed', $4, $5, $6, NOW(), NOW())
		`, pass.ID, gatheringID, userID, pass.IsWaitlisted, pass.WaitlistPosition, waitlistedAt)
	}
	if err != nil {
		return domain.Pass{}, err
	}

	// 5) Counters (same tx, capacity row already locked)
	if pass.IsWaitlisted {
		_, _ = tx.Exec(ctx, `UPDATE gathering_capacity SET waitlist_count = waitlist_count + 1, updated_at = NOW() WHERE gathering_id = $1`, gatheringID)
	} else {
		_, _ = tx.Exec(ctx, `UPDATE gathering_capacity SET confirmed_count = confirmed_count + 1, updated_at = NOW() WHERE gathering_id = $1`, gatheringID)
	}

	// 6) Outbox (pass.claimed | pass.waitlisted)
	routingKey := "pass.claimed"
	if pass.IsWaitlisted {
		routingKey = "pass.waitlisted"
	}
	payload, _ := json.Marshal(map[string]any{
		"gathering_id":      gatheringID,
		"user_id":           userID,
		"pass_id":           pass.ID,
		"is_waitlisted":     pass.IsWaitlisted,
		"waitlist_position": pass.WaitlistPosition,
	})
	_, _ = tx.Exec(ctx,
		`INSERT INTO outbox (message_id, trace_id, routing_key, payload, occurred_at, status) VALUES ($1, $2, $3, $4, NOW(), 'pending')`,
		uuid.New(), traceID, routingKey, payload,
	)

	if err := tx.Commit(ctx); err != nil {
		return domain.Pass{}, err
	}
	return pass, nil
}

func (r *Repository) CancelPass(ctx context.Context, traceID, idempotencyKey string, gatheringID, userID uuid.UUID) error {
	traceID = strings.TrimSpace(traceID)
	idempotencyKey = strings.TrimSpace(idempotencyKey)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := checkIdempotencyKey(ctx, tx, idempotencyKey, gatheringID, userID, "cancel"); err != nil {
		return err
	}

	// 1) Lock capacity FIRST
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

	// 2) Lock pass row second
	var oldStatus string
	var wasWaitlisted bool
	err = tx.QueryRow(ctx, `
		SELECT status, is_waitlisted
		FROM passes
		WHERE gathering_id = $1 AND user_id = $2
		FOR UPDATE
	`, gatheringID, userID).Scan(&oldStatus, &wasWaitlisted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrPassNotFound
		}
		return err
	}

	// idempotent cancel: terminal statuses are a no-op
	if oldStatus == string(domain.PassRevoked) || oldStatus == string(domain.PassExpired) {
		return tx.Commit(ctx)
	}

	// 3) Mark revoked (keep row)
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
	`, gatheringID, userID, userID, "self_cancel")
	if err != nil {
		return err
	}

	// 4) Counters + auto-promotion if freed a confirmed spot
	if err := settleAfterRemoval(ctx, tx, traceID, gatheringID, capacity, wasWaitlisted); err != nil {
		return err
	}

	// 5) Outbox
	payload, _ := json.Marshal(map[string]any{
		"gathering_id": gatheringID,
		"user_id":      userID,
		"prev_status":  oldStatus,
	})
	_, _ = tx.Exec(ctx,
		`INSERT INTO outbox (message_id, trace_id, routing_key, payload, occurred_at, status)
		 VALUES ($1, $2, $3, $4, NOW(), 'pending')`,
		uuid.New(), traceID, "pass.canceled", payload,
	)

	return tx.Commit(ctx)
}

// checkIdempotencyKey inserts the key or verifies the stored payload when
// it already exists. An empty key skips the fence.
func checkIdempotencyKey(ctx context.Context, tx pgx.Tx, key string, gatheringID, userID uuid.UUID, action string) error {
	if key == "" {
		return nil
	}

	var insertedKey string
	err := tx.QueryRow(ctx, `
		INSERT INTO idempotency_keys (key, user_id, gathering_id, action, created_at, expires_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW() + INTERVAL '24 hours')
		ON CONFLICT (key) DO NOTHING
		RETURNING key
	`, key, userID, gatheringID, action).Scan(&insertedKey)

	if errors.Is(err, pgx.ErrNoRows) {
		// Key exists. Verify payload.
		var existUser, existGathering uuid.UUID
		var existAction string
		err := tx.QueryRow(ctx, `SELECT user_id, gathering_id, action FROM idempotency_keys WHERE key = $1`, key).Scan(&existUser, &existGathering, &existAction)
		if err != nil {
			return err
		}
		if existUser != userID || existGathering != gatheringID || existAction != action {
			return domain.ErrIdempotencyKeyMismatch
		}
		// Payload matches: fall through so the caller reaches the same state.
		return nil
	}
	return err
}

// livePassesTx reads the live pass snapshot for one gathering inside the
// caller's transaction. The capacity row must already be locked.
func livePassesTx(ctx context.Context, tx pgx.Tx, gatheringID uuid.UUID) ([]domain.Pass, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, gathering_id, user_id, status, is_waitlisted, waitlist_position, waitlisted_at, checked_in_at, created_at, updated_at
		FROM passes
		WHERE gathering_id = $1 AND status NOT IN ('revoked', 'expired')
	`, gatheringID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Pass
	for rows.Next() {
		var p domain.Pass
		var status string
		if err := rows.Scan(
			&p.ID, &p.GatheringID, &p.UserID, &status, &p.IsWaitlisted,
			&p.WaitlistPosition, &p.WaitlistedAt, &p.CheckedInAt,
			&p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		p.Status = domain.PassStatus(status)
		out = append(out, p)
	}
	return out, rows.Err()
}

// settleAfterRemoval runs after a pass left the live set: promote the head
// of the queue when a confirmed spot freed up, then compact the stored
// positions to the engine's dense numbering.
func settleAfterRemoval(ctx context.Context, tx pgx.Tx, traceID string, gatheringID uuid.UUID, capacity int, removedFromWaitlist bool) error {
	if removedFromWaitlist {
		_, _ = tx.Exec(ctx, `UPDATE gathering_capacity SET waitlist_count = waitlist_count - 1, updated_at = NOW() WHERE gathering_id = $1`, gatheringID)
	} else {
		_, _ = tx.Exec(ctx, `UPDATE gathering_capacity SET confirmed_count = confirmed_count - 1, updated_at = NOW() WHERE gathering_id = $1`, gatheringID)
	}

	snapshot, err := livePassesTx(ctx, tx, gatheringID)
	if err != nil {
		return err
	}

	if !removedFromWaitlist && capacity > 0 {
		if promo := domain.NextToPromote(snapshot); promo != nil {
			_, err = tx.Exec(ctx, `
				UPDATE passes
				SET is_waitlisted = FALSE,
				    waitlist_position = NULL,
				    updated_at = NOW()
				WHERE id = $1
			`, promo.ID)
			if err != nil {
				return err
			}
			_, _ = tx.Exec(ctx, `
				UPDATE gathering_capacity
				SET confirmed_count = confirmed_count + 1,
				    waitlist_count = waitlist_count - 1,
				    updated_at = NOW()
				WHERE gathering_id = $1
			`, gatheringID)

			payload, _ := json.Marshal(map[string]any{
				"gathering_id": gatheringID,
				"user_id":      promo.UserID,
				"reason":       "spot_freed",
			})
			_, _ = tx.Exec(ctx,
				`INSERT INTO outbox (message_id, trace_id, routing_key, payload, occurred_at, status)
				 VALUES ($1, $2, $3, $4, NOW(), 'pending')`,
				uuid.New(), traceID, "pass.promoted", payload,
			)

			// promoted entry leaves the queue before renumbering
			for i := range snapshot {
				if snapshot[i].ID == promo.ID {
					snapshot[i].IsWaitlisted = false
					snapshot[i].WaitlistPosition = nil
					break
				}
			}
		}
	}

	for id, pos := range domain.RecalculatePositions(snapshot) {
		_, err = tx.Exec(ctx, `UPDATE passes SET waitlist_position = $2, updated_at = NOW() WHERE id = $1`, id, pos)
		if err != nil {
			return err
		}
	}
	return nil
}
