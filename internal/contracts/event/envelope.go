package event

import "time"

// DomainEventEnvelope is the canonical envelope consumed across services.
// NOTE: message_id is optional for backward compatibility.
type DomainEventEnvelope[T any] struct {
	Version    int       `json:"version"`
	Producer   string    `json:"producer"`
	TraceID    string    `json:"trace_id,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    T         `json:"payload"`
}

// GatheringSnapshotPayload carries a full gathering record from the
// curation service. Fields stay tolerant: extras from the producer are
// ignored by json.Unmarshal, and pointers mark what may be absent.
type GatheringSnapshotPayload struct {
	GatheringID string `json:"gathering_id"`
	Title       string `json:"title,omitempty"`
	HostID      string `json:"host_id,omitempty"`

	EventDate *time.Time `json:"event_date,omitempty"`
	StartTime string     `json:"start_time,omitempty"`
	EndTime   string     `json:"end_time,omitempty"`

	TimeRevealLeadHours     *int `json:"time_reveal_lead_hours,omitempty"`
	LocationRevealLeadHours *int `json:"location_reveal_lead_hours,omitempty"`

	MinimumLayer string `json:"minimum_layer,omitempty"`

	VenueName    string `json:"venue_name,omitempty"`
	VenueAddress string `json:"venue_address,omitempty"`
	Area         string `json:"area,omitempty"`
	City         string `json:"city,omitempty"`

	Capacity *int   `json:"capacity,omitempty"` // pointer so we can detect missing
	Status   string `json:"status,omitempty"`   // e.g. published/canceled
}

// GatheringCanceledPayload accepts both gathering_id and legacy id.
type GatheringCanceledPayload struct {
	GatheringID string `json:"gathering_id,omitempty"`
	ID          string `json:"id,omitempty"` // legacy / older producer
	Status      string `json:"status,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// DropSnapshotPayload mirrors the curation service's drop record.
type DropSnapshotPayload struct {
	DropID                    string  `json:"drop_id"`
	Title                     string  `json:"title,omitempty"`
	RequiredVisibility        string  `json:"required_visibility,omitempty"`
	RequiredLayer             string  `json:"required_layer,omitempty"`
	AttendanceLockGatheringID *string `json:"attendance_lock_gathering_id,omitempty"`
	Description               string  `json:"description,omitempty"`
	PriceIDR                  *int64  `json:"price_idr,omitempty"`
	StoryBlurb                *string `json:"story_blurb,omitempty"`
	StoryFull                 *string `json:"story_full,omitempty"`
	LocationDetail            *string `json:"location_detail,omitempty"`
	MediaURL                  *string `json:"media_url,omitempty"`
}

// AccountSnapshotPayload mirrors the identity service's account record.
type AccountSnapshotPayload struct {
	AccountID string `json:"account_id"`
	Role      string `json:"role,omitempty"`
	Status    string `json:"status,omitempty"`
}
