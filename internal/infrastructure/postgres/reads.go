package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lingkarclub/access-engine/internal/domain"
)

const passColumns = `id, gathering_id, user_id, status, is_waitlisted, waitlist_position, waitlisted_at, checked_in_at, created_at, updated_at`

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}

func scanPass(row pgx.Row) (domain.Pass, error) {
	var p domain.Pass
	var status string
	err := row.Scan(
		&p.ID, &p.GatheringID, &p.UserID, &status, &p.IsWaitlisted,
		&p.WaitlistPosition, &p.WaitlistedAt, &p.CheckedInAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Pass{}, err
	}
	p.Status = domain.PassStatus(status)
	return p, nil
}

func collectPasses(rows pgx.Rows) ([]domain.Pass, error) {
	defer rows.Close()
	var out []domain.Pass
	for rows.Next() {
		p, err := scanPass(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) GetPass(ctx context.Context, gatheringID, userID uuid.UUID) (domain.Pass, error) {
	p, err := scanPass(r.pool.QueryRow(ctx,
		`SELECT `+passColumns+` FROM passes WHERE gathering_id = $1 AND user_id = $2`,
		gatheringID, userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Pass{}, domain.ErrPassNotFound
		}
		return domain.Pass{}, err
	}
	return p, nil
}

func (r *Repository) ListPassesForUser(ctx context.Context, userID uuid.UUID) ([]domain.Pass, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+passColumns+` FROM passes WHERE user_id = $1 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	return collectPasses(rows)
}

// ListPassesForGathering returns every pass row, dead ones included. The
// engine's capacity and position functions filter on liveness themselves.
func (r *Repository) ListPassesForGathering(ctx context.Context, gatheringID uuid.UUID) ([]domain.Pass, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+passColumns+` FROM passes WHERE gathering_id = $1 ORDER BY created_at ASC, id ASC`,
		gatheringID,
	)
	if err != nil {
		return nil, err
	}
	return collectPasses(rows)
}

// /me/passes : ORDER BY created_at DESC, id DESC
// cursor means "start after this item" in DESC order -> WHERE (created_at, id) < (cursor.created_at, cursor.id)
func (r *Repository) ListMyPasses(ctx context.Context, userID uuid.UUID, statuses []domain.PassStatus, limit int, cursor *domain.KeysetCursor) ([]domain.Pass, *domain.KeysetCursor, error) {
	limit = clampLimit(limit)
	args := []any{userID}
	where := "WHERE user_id = $1"
	argN := 2

	if len(statuses) > 0 {
		ph := ""
		for i := range statuses {
			if i > 0 {
				ph += ","
			}
			ph += fmt.Sprintf("$%d", argN)
			args = append(args, string(statuses[i]))
			argN++
		}
		where += " AND status IN (" + ph + ")"
	}

	if cursor != nil {
		where += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argN, argN+1)
		args = append(args, cursor.CreatedAt, cursor.ID)
		argN += 2
	}

	q := fmt.Sprintf(`
		SELECT %s
		FROM passes
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT %d
	`, passColumns, where, limit+1)

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, nil, err
	}
	out, err := collectPasses(rows)
	if err != nil {
		return nil, nil, err
	}
	return trimPage(out, limit)
}

// confirmed attendance: live and off the waitlist, claim order
func (r *Repository) ListConfirmed(ctx context.Context, gatheringID uuid.UUID, limit int, cursor *domain.KeysetCursor) ([]domain.Pass, *domain.KeysetCursor, error) {
	return r.listForGatheringASC(ctx, gatheringID, "AND status NOT IN ('revoked','expired') AND is_waitlisted = FALSE", limit, cursor)
}

// waitlist queue: live and waitlisted, claim order (matches position order)
func (r *Repository) ListWaitlisted(ctx context.Context, gatheringID uuid.UUID, limit int, cursor *domain.KeysetCursor) ([]domain.Pass, *domain.KeysetCursor, error) {
	return r.listForGatheringASC(ctx, gatheringID, "AND status NOT IN ('revoked','expired') AND is_waitlisted = TRUE", limit, cursor)
}

func (r *Repository) listForGatheringASC(ctx context.Context, gatheringID uuid.UUID, filter string, limit int, cursor *domain.KeysetCursor) ([]domain.Pass, *domain.KeysetCursor, error) {
	limit = clampLimit(limit)
	args := []any{gatheringID}
	where := "WHERE gathering_id = $1 " + filter
	argN := 2

	// ASC cursor: WHERE (created_at, id) > (cursor.created_at, cursor.id)
	if cursor != nil {
		where += fmt.Sprintf(" AND (created_at, id) > ($%d, $%d)", argN, argN+1)
		args = append(args, cursor.CreatedAt, cursor.ID)
		argN += 2
	}

	q := fmt.Sprintf(`
		SELECT %s
		FROM passes
		%s
		ORDER BY created_at ASC, id ASC
		LIMIT %d
	`, passColumns, where, limit+1)

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, nil, err
	}
	out, err := collectPasses(rows)
	if err != nil {
		return nil, nil, err
	}
	return trimPage(out, limit)
}

func trimPage(out []domain.Pass, limit int) ([]domain.Pass, *domain.KeysetCursor, error) {
	var next *domain.KeysetCursor
	if len(out) > limit {
		last := out[limit-1]
		next = &domain.KeysetCursor{CreatedAt: last.CreatedAt, ID: last.ID}
		out = out[:limit]
	}
	return out, next, nil
}
