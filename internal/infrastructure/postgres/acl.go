package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lingkarclub/access-engine/internal/domain"
)

// GetGatheringHostID reads the host from the catalog snapshot for ACL checks.
func (r *Repository) GetGatheringHostID(ctx context.Context, gatheringID uuid.UUID) (uuid.UUID, error) {
	var hostID uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT host_id FROM gatherings WHERE id = $1`, gatheringID).Scan(&hostID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.UUID{}, domain.ErrGatheringNotFound
		}
		return uuid.UUID{}, err
	}
	return hostID, nil
}
