//go:build integration
// +build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lingkarclub/access-engine/internal/domain"
)

func TestModeration_RevokePass_PromotesWaitlist_AndWritesOutbox(t *testing.T) {
	repo, pool := setupRepo(t)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	gatheringID := seedGathering(t, repo, 1)
	actorID := uuid.New()

	u1 := uuid.New()
	u2 := uuid.New()

	p, err := repo.ClaimPass(ctx, "t1", "k1", gatheringID, u1)
	require.NoError(t, err)
	require.False(t, p.IsWaitlisted)

	p, err = repo.ClaimPass(ctx, "t2", "k2", gatheringID, u2)
	require.NoError(t, err)
	require.True(t, p.IsWaitlisted)

	require.NoError(t, repo.RevokePass(ctx, "trace-revoke", gatheringID, u1, actorID, "no show"))

	var status string
	var revokedBy uuid.UUID
	var reason string
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT status, revoked_by, revoked_reason FROM passes WHERE gathering_id=$1 AND user_id=$2",
		gatheringID, u1,
	).Scan(&status, &revokedBy, &reason))
	require.Equal(t, "revoked", status)
	require.Equal(t, actorID, revokedBy)
	require.Equal(t, "no show", reason)

	// freed spot pulls the queue head in
	var waitlisted bool
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT is_waitlisted FROM passes WHERE gathering_id=$1 AND user_id=$2",
		gatheringID, u2,
	).Scan(&waitlisted))
	require.False(t, waitlisted)

	var revokedCount, promotedCount int
	pool.QueryRow(ctx, "SELECT count(*) FROM outbox WHERE routing_key='pass.revoked'").Scan(&revokedCount)
	pool.QueryRow(ctx, "SELECT count(*) FROM outbox WHERE routing_key='pass.promoted'").Scan(&promotedCount)
	require.Equal(t, 1, revokedCount)
	require.Equal(t, 1, promotedCount)
}

func TestModeration_RevokePass_WaitlistedTarget_NoPromotion(t *testing.T) {
	repo, pool := setupRepo(t)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	gatheringID := seedGathering(t, repo, 1)
	actorID := uuid.New()

	holder := uuid.New()
	queued := []uuid.UUID{uuid.New(), uuid.New()}

	_, err := repo.ClaimPass(ctx, "t1", "k1", gatheringID, holder)
	require.NoError(t, err)
	for _, u := range queued {
		_, err := repo.ClaimPass(ctx, "tq", "kq-"+u.String(), gatheringID, u)
		require.NoError(t, err)
	}

	// pulling a queued pass frees no confirmed spot
	require.NoError(t, repo.RevokePass(ctx, "trace", gatheringID, queued[0], actorID, "duplicate account"))

	var promotedCount int
	pool.QueryRow(ctx, "SELECT count(*) FROM outbox WHERE routing_key='pass.promoted'").Scan(&promotedCount)
	require.Equal(t, 0, promotedCount)

	// the survivor compacts to position 1
	var pos int
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT waitlist_position FROM passes WHERE gathering_id=$1 AND user_id=$2",
		gatheringID, queued[1],
	).Scan(&pos))
	require.Equal(t, 1, pos)
}

func TestModeration_RevokePass_Idempotent(t *testing.T) {
	repo, pool := setupRepo(t)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	gatheringID := seedGathering(t, repo, 5)
	actorID := uuid.New()
	u1 := uuid.New()

	_, err := repo.ClaimPass(ctx, "t1", "k1", gatheringID, u1)
	require.NoError(t, err)

	require.NoError(t, repo.RevokePass(ctx, "t2", gatheringID, u1, actorID, "spam"))
	require.NoError(t, repo.RevokePass(ctx, "t3", gatheringID, u1, actorID, "spam"))

	// second call is a no-op: one outbox row, counters untouched
	var revokedCount int
	pool.QueryRow(ctx, "SELECT count(*) FROM outbox WHERE routing_key='pass.revoked'").Scan(&revokedCount)
	require.Equal(t, 1, revokedCount)

	var confirmed int
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT confirmed_count FROM gathering_capacity WHERE gathering_id=$1", gatheringID,
	).Scan(&confirmed))
	require.Equal(t, 0, confirmed)
}

func TestModeration_RevokePass_UnknownTarget(t *testing.T) {
	repo, pool := setupRepo(t)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	gatheringID := seedGathering(t, repo, 5)

	err := repo.RevokePass(ctx, "t1", gatheringID, uuid.New(), uuid.New(), "whatever")
	require.ErrorIs(t, err, domain.ErrPassNotFound)
}
