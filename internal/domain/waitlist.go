package domain

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// CapacityInfo is the derived occupancy snapshot for one gathering.
// Capacity 0 means unlimited: never full, no spots accounting.
type CapacityInfo struct {
	Capacity       int
	ConfirmedCount int
	WaitlistCount  int
	SpotsRemaining int
	IsFull         bool
	HasWaitlist    bool
}

// ComputeCapacity derives occupancy from a snapshot of the gathering's
// passes. Revoked and expired passes never count.
func ComputeCapacity(g Gathering, passes []Pass) CapacityInfo {
	info := CapacityInfo{Capacity: g.Capacity}
	for _, p := range passes {
		if !p.IsLive() {
			continue
		}
		if p.IsWaitlisted {
			info.WaitlistCount++
		} else {
			info.ConfirmedCount++
		}
	}
	if remaining := g.Capacity - info.ConfirmedCount; remaining > 0 {
		info.SpotsRemaining = remaining
	}
	info.IsFull = g.Capacity > 0 && info.ConfirmedCount >= g.Capacity
	info.HasWaitlist = info.WaitlistCount > 0
	return info
}

// WaitlistDecision is the admit-or-queue outcome for a new registration.
// Position is set only when queueing.
type WaitlistDecision struct {
	ShouldWaitlist bool
	Position       *int
}

// ShouldWaitlist decides whether the next registration is admitted or
// queued. Queue positions grow monotonically past the highest live stored
// position, so gaps left by revoked entries are never reused.
func ShouldWaitlist(g Gathering, passes []Pass) WaitlistDecision {
	info := ComputeCapacity(g, passes)
	if !info.IsFull {
		return WaitlistDecision{}
	}

	highest := 0
	for _, p := range passes {
		if p.IsLive() && p.IsWaitlisted && p.WaitlistPosition != nil && *p.WaitlistPosition > highest {
			highest = *p.WaitlistPosition
		}
	}
	position := highest + 1
	return WaitlistDecision{ShouldWaitlist: true, Position: &position}
}

// WaitlistLimit bounds how deep the queue may grow for a finite capacity:
// at least 20, at most 100, otherwise 1x capacity. Zero or negative
// capacity returns 0, meaning no limit applies.
func WaitlistLimit(capacity int) int {
	if capacity <= 0 {
		return 0
	}

	const (
		hardCap = 100
		minCap  = 20
	)

	limit := capacity
	if limit < minCap {
		limit = minCap
	}
	if limit > hardCap {
		limit = hardCap
	}
	return limit
}

// NextToPromote selects the live waitlisted pass with the smallest stored
// position. Positions are unique per gathering in practice; if two entries
// ever collide the lower pass ID wins so the choice stays deterministic.
// Entries without a stored position sort last. Returns nil when the queue
// is empty.
func NextToPromote(passes []Pass) *Pass {
	var best *Pass
	for i := range passes {
		p := passes[i]
		if !p.IsLive() || !p.IsWaitlisted {
			continue
		}
		if best == nil || queueLess(p, *best) {
			candidate := p
			best = &candidate
		}
	}
	return best
}

func queueLess(a, b Pass) bool {
	ap, bp := storedPosition(a), storedPosition(b)
	if ap != bp {
		return ap < bp
	}
	return a.ID.String() < b.ID.String()
}

func storedPosition(p Pass) int {
	if p.WaitlistPosition == nil {
		// Sorts behind every real position.
		return int(^uint(0) >> 1)
	}
	return *p.WaitlistPosition
}

// UserWaitlistPosition is the user-visible queue position: one plus the
// count of live waitlisted passes with a strictly smaller stored position.
// It is always derived, so a revoked entry ahead of the user silently
// closes the gap even before a renumber pass has run. Nil when the user
// holds no live waitlisted pass.
func UserWaitlistPosition(userID uuid.UUID, passes []Pass) *int {
	var mine *Pass
	for i := range passes {
		p := passes[i]
		if p.UserID == userID && p.IsLive() && p.IsWaitlisted {
			mine = &p
			break
		}
	}
	if mine == nil {
		return nil
	}

	ahead := 0
	for _, p := range passes {
		if p.ID == mine.ID || !p.IsLive() || !p.IsWaitlisted {
			continue
		}
		if storedPosition(p) < storedPosition(*mine) {
			ahead++
		}
	}
	position := ahead + 1
	return &position
}

// RecalculatePositions compacts the queue to a dense 1..N numbering over
// the live waitlisted passes, ordered by stored position when present and
// by waitlist entry time otherwise. The input is not mutated; the caller
// persists the returned remap after a promotion or cancellation.
func RecalculatePositions(passes []Pass) map[uuid.UUID]int {
	var queue []Pass
	for _, p := range passes {
		if p.IsLive() && p.IsWaitlisted {
			queue = append(queue, p)
		}
	}

	sort.SliceStable(queue, func(i, j int) bool {
		a, b := queue[i], queue[j]
		switch {
		case a.WaitlistPosition != nil && b.WaitlistPosition != nil:
			return *a.WaitlistPosition < *b.WaitlistPosition
		case a.WaitlistPosition != nil:
			return true
		case b.WaitlistPosition != nil:
			return false
		case a.WaitlistedAt != nil && b.WaitlistedAt != nil:
			return a.WaitlistedAt.Before(*b.WaitlistedAt)
		default:
			return false
		}
	})

	remap := make(map[uuid.UUID]int, len(queue))
	for i, p := range queue {
		remap[p.ID] = i + 1
	}
	return remap
}

// CapacityUrgency buckets how close a gathering is to selling out, for
// display only.
type CapacityUrgency string

const (
	UrgencyNone   CapacityUrgency = "none"
	UrgencyLow    CapacityUrgency = "low"
	UrgencyMedium CapacityUrgency = "medium"
	UrgencyHigh   CapacityUrgency = "high"
	UrgencyFull   CapacityUrgency = "full"
)

// ComputeCapacityUrgency maps occupancy to an urgency bucket. Unlimited
// gatherings are never urgent.
func ComputeCapacityUrgency(info CapacityInfo) CapacityUrgency {
	if info.Capacity <= 0 {
		return UrgencyNone
	}
	if info.IsFull {
		return UrgencyFull
	}
	ratio := float64(info.ConfirmedCount) / float64(info.Capacity)
	switch {
	case ratio >= 0.9:
		return UrgencyHigh
	case ratio >= 0.75:
		return UrgencyMedium
	case ratio >= 0.5:
		return UrgencyLow
	default:
		return UrgencyNone
	}
}

// FormatCapacityStatus renders the occupancy line shown on a gathering
// card. Deterministic: same CapacityInfo, same string.
func FormatCapacityStatus(info CapacityInfo) string {
	switch {
	case info.Capacity <= 0:
		return "Open attendance"
	case info.IsFull && info.WaitlistCount > 0:
		return fmt.Sprintf("Full, %d waiting", info.WaitlistCount)
	case info.IsFull:
		return "At capacity"
	case info.SpotsRemaining == 1:
		return "1 spot left"
	default:
		return fmt.Sprintf("%d spots left", info.SpotsRemaining)
	}
}
