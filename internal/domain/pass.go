package domain

import (
	"time"

	"github.com/google/uuid"
)

type PassStatus string

const (
	PassClaimed PassStatus = "claimed"
	PassUsed    PassStatus = "used"
	PassRevoked PassStatus = "revoked"
	PassExpired PassStatus = "expired"
)

// Pass is an admission record for one user at one gathering.
// IsWaitlisted and WaitlistPosition only carry meaning while the pass is
// live; revoked and expired passes are invisible to every capacity and
// waitlist computation.
type Pass struct {
	ID          uuid.UUID
	GatheringID uuid.UUID
	UserID      uuid.UUID

	Status PassStatus

	IsWaitlisted     bool
	WaitlistPosition *int
	WaitlistedAt     *time.Time

	CheckedInAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsLive reports whether the pass counts toward capacity and waitlist math.
func (p Pass) IsLive() bool {
	return p.Status != PassRevoked && p.Status != PassExpired
}

type KeysetCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}
