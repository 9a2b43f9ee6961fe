package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PassRepository owns pass persistence. Write operations serialize
// "compute decision, apply write" per gathering (row lock or equivalent) so
// two concurrent claims cannot both see a free spot; the engine itself
// assumes a consistent snapshot and never retries.
type PassRepository interface {
	ClaimPass(ctx context.Context, traceID, idempotencyKey string, gatheringID, userID uuid.UUID) (Pass, error)
	CancelPass(ctx context.Context, traceID, idempotencyKey string, gatheringID, userID uuid.UUID) error
	RevokePass(ctx context.Context, traceID string, gatheringID, targetUserID, actorID uuid.UUID, reason string) error

	GetPass(ctx context.Context, gatheringID, userID uuid.UUID) (Pass, error)
	ListPassesForUser(ctx context.Context, userID uuid.UUID) ([]Pass, error)
	ListPassesForGathering(ctx context.Context, gatheringID uuid.UUID) ([]Pass, error)

	ListMyPasses(ctx context.Context, userID uuid.UUID, statuses []PassStatus, limit int, cursor *KeysetCursor) ([]Pass, *KeysetCursor, error)
	ListConfirmed(ctx context.Context, gatheringID uuid.UUID, limit int, cursor *KeysetCursor) ([]Pass, *KeysetCursor, error)
	ListWaitlisted(ctx context.Context, gatheringID uuid.UUID, limit int, cursor *KeysetCursor) ([]Pass, *KeysetCursor, error)

	// ACL on the shared catalog
	GetGatheringHostID(ctx context.Context, gatheringID uuid.UUID) (uuid.UUID, error)
}

// CatalogRepository reads the records the engine consumes and applies the
// snapshots the curation feed delivers.
type CatalogRepository interface {
	GetDrop(ctx context.Context, id uuid.UUID) (Drop, error)
	GetGathering(ctx context.Context, id uuid.UUID) (Gathering, error)

	// GetAccount returns (nil, nil) for an unknown account: an anonymous
	// or stale caller is treated as outside, never as an error.
	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)

	UpsertGathering(ctx context.Context, g Gathering) error
	CancelGathering(ctx context.Context, traceID string, gatheringID uuid.UUID, reason string) error
}

type CacheRepository interface {
	GetGatheringCapacity(ctx context.Context, gatheringID uuid.UUID) (int, error)
	SetGatheringCapacity(ctx context.Context, gatheringID uuid.UUID, capacity int) error

	AllowRequest(ctx context.Context, ip string, limit int, window time.Duration) (bool, error)
}
