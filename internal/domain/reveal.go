package domain

import "time"

// RevealState describes how much of a gathering's schedule and location is
// currently exposed. Transitions are linear as now advances:
//
//	tease --(now >= timeRevealAt)--> window --(now >= locationRevealAt)--> locked | revealed
//
// The final branch is layer-gated, not time-gated: past locationRevealAt the
// gathering is revealed for viewers meeting the minimum layer and locked for
// everyone else, forever, until their layer changes.
type RevealState string

const (
	RevealTease    RevealState = "tease"
	RevealWindow   RevealState = "window"
	RevealLocked   RevealState = "locked"
	RevealRevealed RevealState = "revealed"
)

// RevealInfo is the per-viewer projection of a gathering's schedule and
// location. Hidden fields are zero-valued; City is exempt and always set.
type RevealInfo struct {
	State RevealState

	TimeRevealAt     *time.Time
	LocationRevealAt *time.Time

	// Schedule, exposed from window onward.
	EventDate *time.Time
	StartTime string
	EndTime   string

	// Coarse location, always exposed.
	City string

	// Precise location, exposed only in the revealed state.
	Area         string
	VenueName    string
	VenueAddress string

	// Countdowns to targets still in the future; nil once passed or when
	// the gathering is unscheduled.
	UntilTimeReveal     *time.Duration
	UntilLocationReveal *time.Duration
	UntilEvent          *time.Duration
}

// ComputeReveal derives the reveal state for one viewer at one instant.
// It is a pure function of its three inputs: the same gathering, layer and
// now always produce the same RevealInfo, so callers recompute instead of
// storing it. An unscheduled gathering is forced to tease with every reveal
// timestamp and countdown nil.
func ComputeReveal(g Gathering, userLayer Layer, now time.Time) RevealInfo {
	info := RevealInfo{
		State: RevealTease,
		City:  g.City,
	}

	if g.EventDate == nil {
		return info
	}

	timeRevealAt := *g.TimeRevealAt()
	locationRevealAt := *g.LocationRevealAt()
	info.TimeRevealAt = &timeRevealAt
	info.LocationRevealAt = &locationRevealAt

	info.UntilTimeReveal = untilOrNil(now, timeRevealAt)
	info.UntilLocationReveal = untilOrNil(now, locationRevealAt)
	info.UntilEvent = untilOrNil(now, *g.EventDate)

	switch {
	case now.Before(timeRevealAt):
		info.State = RevealTease
	case now.Before(locationRevealAt):
		info.State = RevealWindow
	case HasLayerAccess(userLayer, g.MinimumLayer):
		info.State = RevealRevealed
	default:
		info.State = RevealLocked
	}

	if info.State != RevealTease {
		eventDate := *g.EventDate
		info.EventDate = &eventDate
		info.StartTime = g.StartTime
		info.EndTime = g.EndTime
	}
	if info.State == RevealRevealed {
		info.Area = g.Area
		info.VenueName = g.VenueName
		info.VenueAddress = g.VenueAddress
	}

	return info
}

func untilOrNil(now, target time.Time) *time.Duration {
	if !target.After(now) {
		return nil
	}
	d := target.Sub(now)
	return &d
}
