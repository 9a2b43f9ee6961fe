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

// Catalog reads and snapshot writes. The gatherings, drops, and accounts
// tables are local projections of the curation and identity feeds; the
// consumer applies snapshots, everything else only reads.

func (r *Repository) GetDrop(ctx context.Context, id uuid.UUID) (domain.Drop, error) {
	var d domain.Drop
	var visibility, layer string
	err := r.pool.QueryRow(ctx, `
		SELECT id, title, required_visibility, required_layer, attendance_lock_gathering_id,
		       description, price_idr, story_blurb, story_full, location_detail, media_url,
		       created_at
		FROM drops
		WHERE id = $1
	`, id).Scan(
		&d.ID, &d.Title, &visibility, &layer, &d.AttendanceLockGatheringID,
		&d.Description, &d.PriceIDR, &d.StoryBlurb, &d.StoryFull, &d.LocationDetail, &d.MediaURL,
		&d.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Drop{}, domain.ErrDropNotFound
		}
		return domain.Drop{}, err
	}
	d.RequiredVisibility = domain.Visibility(visibility)
	d.RequiredLayer = domain.Layer(layer)
	return d, nil
}

func (r *Repository) GetGathering(ctx context.Context, id uuid.UUID) (domain.Gathering, error) {
	var g domain.Gathering
	var layer string
	err := r.pool.QueryRow(ctx, `
		SELECT g.id, g.title, g.host_id,
		       g.event_date, g.start_time, g.end_time,
		       g.time_reveal_lead_hours, g.location_reveal_lead_hours,
		       g.minimum_layer,
		       g.venue_name, g.venue_address, g.area, g.city,
		       c.capacity,
		       g.created_at, g.updated_at
		FROM gatherings g
		JOIN gathering_capacity c ON c.gathering_id = g.id
		WHERE g.id = $1
	`, id).Scan(
		&g.ID, &g.Title, &g.HostID,
		&g.EventDate, &g.StartTime, &g.EndTime,
		&g.TimeRevealLeadHours, &g.LocationRevealLeadHours,
		&layer,
		&g.VenueName, &g.VenueAddress, &g.Area, &g.City,
		&g.Capacity,
		&g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Gathering{}, domain.ErrGatheringNotFound
		}
		return domain.Gathering{}, err
	}
	g.MinimumLayer = domain.Layer(layer)
	return g, nil
}

func (r *Repository) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	var a domain.Account
	var status string
	err := r.pool.QueryRow(ctx,
		`SELECT id, role, status FROM accounts WHERE id = $1`, id,
	).Scan(&a.ID, &a.Role, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// unknown caller shops as outside, never as an error
			return nil, nil
		}
		return nil, err
	}
	a.Status = domain.AccountStatus(status)
	return &a, nil
}

func (r *Repository) UpsertGathering(ctx context.Context, g domain.Gathering) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := r.UpsertGatheringTx(ctx, tx, g); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UpsertGatheringTx applies a curation snapshot: the gathering record plus
// its capacity row. A closed capacity row (-1) is never reopened by a
// snapshot; cancellation wins over stale updates.
func (r *Repository) UpsertGatheringTx(ctx context.Context, tx pgx.Tx, g domain.Gathering) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO gatherings (id, title, host_id, event_date, start_time, end_time,
		                        time_reveal_lead_hours, location_reveal_lead_hours,
		                        minimum_layer, venue_name, venue_address, area, city,
		                        created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW(),NOW())
		ON CONFLICT (id) DO UPDATE
		  SET title = EXCLUDED.title,
		      host_id = EXCLUDED.host_id,
		      event_date = EXCLUDED.event_date,
		      start_time = EXCLUDED.start_time,
		      end_time = EXCLUDED.end_time,
		      time_reveal_lead_hours = EXCLUDED.time_reveal_lead_hours,
		      location_reveal_lead_hours = EXCLUDED.location_reveal_lead_hours,
		      minimum_layer = EXCLUDED.minimum_layer,
		      venue_name = EXCLUDED.venue_name,
		      venue_address = EXCLUDED.venue_address,
		      area = EXCLUDED.area,
		      city = EXCLUDED.city,
		      updated_at = NOW()
	`, g.ID, g.Title, g.HostID, g.EventDate, g.StartTime, g.EndTime,
		g.TimeRevealLeadHours, g.LocationRevealLeadHours,
		string(g.MinimumLayer), g.VenueName, g.VenueAddress, g.Area, g.City,
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO gathering_capacity (gathering_id, capacity, confirmed_count, waitlist_count, created_at, updated_at)
		VALUES ($1, $2, 0, 0, NOW(), NOW())
		ON CONFLICT (gathering_id) DO UPDATE
		  SET capacity = EXCLUDED.capacity,
		      updated_at = NOW()
		  WHERE gathering_capacity.capacity >= 0
	`, g.ID, g.Capacity)
	return err
}

func (r *Repository) UpsertAccountTx(ctx context.Context, tx pgx.Tx, a domain.Account) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO accounts (id, role, status, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		  SET role = EXCLUDED.role,
		      status = EXCLUDED.status,
		      updated_at = NOW()
	`, a.ID, a.Role, string(a.Status))
	return err
}

func (r *Repository) UpsertDropTx(ctx context.Context, tx pgx.Tx, d domain.Drop) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO drops (id, title, required_visibility, required_layer, attendance_lock_gathering_id,
		                   description, price_idr, story_blurb, story_full, location_detail, media_url,
		                   created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW())
		ON CONFLICT (id) DO UPDATE
		  SET title = EXCLUDED.title,
		      required_visibility = EXCLUDED.required_visibility,
		      required_layer = EXCLUDED.required_layer,
		      attendance_lock_gathering_id = EXCLUDED.attendance_lock_gathering_id,
		      description = EXCLUDED.description,
		      price_idr = EXCLUDED.price_idr,
		      story_blurb = EXCLUDED.story_blurb,
		      story_full = EXCLUDED.story_full,
		      location_detail = EXCLUDED.location_detail,
		      media_url = EXCLUDED.media_url
	`, d.ID, d.Title, string(d.RequiredVisibility), string(d.RequiredLayer), d.AttendanceLockGatheringID,
		d.Description, d.PriceIDR, d.StoryBlurb, d.StoryFull, d.LocationDetail, d.MediaURL,
	)
	return err
}

func (r *Repository) CancelGathering(ctx context.Context, traceID string, gatheringID uuid.UUID, reason string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := r.CancelGatheringTx(ctx, tx, traceID, gatheringID, reason); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CancelGatheringTx expires every live pass, closes the capacity row, and
// queues one notification per holder. Lock order matches the write paths:
// capacity row first.
func (r *Repository) CancelGatheringTx(ctx context.Context, tx pgx.Tx, traceID string, gatheringID uuid.UUID, reason string) error {
	traceID = strings.TrimSpace(traceID)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "gathering_canceled"
	}

	_, err := tx.Exec(ctx, `
		SELECT capacity FROM gathering_capacity WHERE gathering_id = $1 FOR UPDATE
	`, gatheringID)
	if err != nil {
		return err
	}

	rows, err := tx.Query(ctx, `
		SELECT user_id
		FROM passes
		WHERE gathering_id = $1 AND status NOT IN ('revoked', 'expired')
	`, gatheringID)
	if err != nil {
		return err
	}
	var holders []uuid.UUID
	for rows.Next() {
		var userID uuid.UUID
		if err := rows.Scan(&userID); err != nil {
			rows.Close()
			return err
		}
		holders = append(holders, userID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE passes
		SET status = 'expired',
		    is_waitlisted = FALSE,
		    waitlist_position = NULL,
		    expired_at = NOW(),
		    updated_at = NOW()
		WHERE gathering_id = $1 AND status NOT IN ('revoked', 'expired')
	`, gatheringID)
	if err != nil {
		return err
	}

	// capacity -1 closes the gathering to future claims
	_, err = tx.Exec(ctx, `
		UPDATE gathering_capacity
		SET capacity = -1,
		    confirmed_count = 0,
		    waitlist_count = 0,
		    updated_at = NOW()
		WHERE gathering_id = $1
	`, gatheringID)
	if err != nil {
		return err
	}

	for _, userID := range holders {
		payload, _ := json.Marshal(map[string]any{
			"gathering_id": gatheringID,
			"user_id":      userID,
			"reason":       reason,
		})
		_, err = tx.Exec(ctx,
			`INSERT INTO outbox (message_id, trace_id, routing_key, payload, occurred_at, status)
			 VALUES ($1,$2,$3,$4,NOW(),'pending')`,
			uuid.New(), traceID, "pass.expired", payload,
		)
		if err != nil {
			return err
		}
	}
	return nil
}
