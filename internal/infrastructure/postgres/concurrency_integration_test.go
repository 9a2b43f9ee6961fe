//go:build integration
// +build integration

package postgres_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lingkarclub/access-engine/internal/domain"
)

func listAllConfirmed(ctx context.Context, repo domain.PassRepository, gatheringID uuid.UUID) ([]domain.Pass, error) {
	var (
		cur *domain.KeysetCursor
		out []domain.Pass
	)
	for {
		items, next, err := repo.ListConfirmed(ctx, gatheringID, 100, cur)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		if next == nil || len(items) == 0 {
			return out, nil
		}
		cur = next
	}
}

func listAllWaitlisted(ctx context.Context, repo domain.PassRepository, gatheringID uuid.UUID) ([]domain.Pass, error) {
	var (
		cur *domain.KeysetCursor
		out []domain.Pass
	)
	for {
		items, next, err := repo.ListWaitlisted(ctx, gatheringID, 100, cur)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		if next == nil || len(items) == 0 {
			return out, nil
		}
		cur = next
	}
}

func TestConcurrentClaims_DoNotOversellCapacity(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()

	repo, pool := setupRepo(t)

	capacity := 10
	gatheringID := seedGathering(t, repo, capacity)

	// deliberately more claimants than capacity + waitlist limit, so some
	// must see ErrGatheringFull
	n := 50
	var wg sync.WaitGroup
	wg.Add(n)

	type res struct {
		pass domain.Pass
		err  error
	}
	ch := make(chan res, n)

	for i := 0; i < n; i++ {
		userID := uuid.New()
		go func(uid uuid.UUID) {
			defer wg.Done()
			p, err := repo.ClaimPass(ctx, "trace-concurrent", "key-"+uid.String(), gatheringID, uid)
			ch <- res{pass: p, err: err}
		}(userID)
	}

	wg.Wait()
	close(ch)

	var (
		okConfirmed  int
		okWaitlisted int
		fullErrors   int
		otherErrors  []error
	)
	for r := range ch {
		switch {
		case r.err == nil && r.pass.IsWaitlisted:
			okWaitlisted++
		case r.err == nil:
			okConfirmed++
		case errors.Is(r.err, domain.ErrGatheringFull):
			fullErrors++
		default:
			otherErrors = append(otherErrors, r.err)
		}
	}
	require.Empty(t, otherErrors, "should not see unexpected errors in concurrent claim")

	var confirmedCount, waitlistCount int
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT confirmed_count, waitlist_count FROM gathering_capacity WHERE gathering_id=$1", gatheringID,
	).Scan(&confirmedCount, &waitlistCount))

	confirmed, err := listAllConfirmed(ctx, repo, gatheringID)
	require.NoError(t, err)
	waitlisted, err := listAllWaitlisted(ctx, repo, gatheringID)
	require.NoError(t, err)

	require.LessOrEqual(t, confirmedCount, capacity, "must not oversell capacity")
	require.LessOrEqual(t, waitlistCount, domain.WaitlistLimit(capacity), "must not exceed waitlist limit")

	require.Equal(t, len(confirmed), confirmedCount, "confirmed list should match counters")
	require.Equal(t, len(waitlisted), waitlistCount, "waitlist should match counters")

	require.Equal(t, okConfirmed, confirmedCount)
	require.Equal(t, okWaitlisted, waitlistCount)
	require.Equal(t, n, okConfirmed+okWaitlisted+fullErrors)

	// stored positions stay unique and dense 1..N
	seen := map[int]bool{}
	for _, p := range waitlisted {
		require.NotNil(t, p.WaitlistPosition)
		require.False(t, seen[*p.WaitlistPosition], "duplicate waitlist position")
		seen[*p.WaitlistPosition] = true
		require.GreaterOrEqual(t, *p.WaitlistPosition, 1)
		require.LessOrEqual(t, *p.WaitlistPosition, len(waitlisted))
	}
}

func TestConcurrentClaims_SameUser_OneRowOnly(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()

	repo, pool := setupRepo(t)

	gatheringID := seedGathering(t, repo, 1)
	userID := uuid.New()

	n := 30
	var wg sync.WaitGroup
	wg.Add(n)

	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := repo.ClaimPass(ctx, "trace-same-user", "key-user-"+uuid.NewString(), gatheringID, userID)
			if err != nil && !errors.Is(err, domain.ErrAlreadyClaimed) {
				errs <- err
				return
			}
			errs <- nil
		}()
	}

	wg.Wait()
	close(errs)
	for e := range errs {
		require.NoError(t, e)
	}

	var rowCount int
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT count(*) FROM passes WHERE gathering_id=$1 AND user_id=$2", gatheringID, userID,
	).Scan(&rowCount))
	require.Equal(t, 1, rowCount)
}
