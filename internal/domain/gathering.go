package domain

import (
	"time"

	"github.com/google/uuid"
)

// Reveal lead defaults, in hours before the gathering starts.
const (
	DefaultTimeRevealLeadHours     = 168
	DefaultLocationRevealLeadHours = 24
)

// Gathering is an invite-gated event. Capacity 0 means unlimited.
// EventDate is nullable: an unscheduled gathering is permanently teased.
type Gathering struct {
	ID     uuid.UUID
	Title  string
	HostID uuid.UUID

	EventDate *time.Time
	StartTime string
	EndTime   string

	TimeRevealLeadHours     *int
	LocationRevealLeadHours *int

	MinimumLayer Layer

	VenueName    string
	VenueAddress string
	Area         string
	City         string

	Capacity int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TimeRevealAt derives the instant the schedule becomes visible. It is
// never stored; nil while the gathering is unscheduled.
func (g Gathering) TimeRevealAt() *time.Time {
	return g.revealAt(g.TimeRevealLeadHours, DefaultTimeRevealLeadHours)
}

// LocationRevealAt derives the instant the venue becomes eligible for
// reveal. Nil while the gathering is unscheduled.
func (g Gathering) LocationRevealAt() *time.Time {
	return g.revealAt(g.LocationRevealLeadHours, DefaultLocationRevealLeadHours)
}

func (g Gathering) revealAt(leadHours *int, defaultLead int) *time.Time {
	if g.EventDate == nil {
		return nil
	}
	lead := defaultLead
	if leadHours != nil {
		lead = *leadHours
	}
	at := g.EventDate.Add(-time.Duration(lead) * time.Hour)
	return &at
}
