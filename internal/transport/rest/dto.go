package rest

import (
	"time"

	"github.com/google/uuid"

	"github.com/lingkarclub/access-engine/internal/domain"
	"github.com/lingkarclub/access-engine/internal/service"
)

// Wire shapes. Pointer fields marshal as null when the caller's layer or
// the reveal state withholds them, which the clients rely on.

type dropDTO struct {
	ID                  uuid.UUID `json:"id"`
	Title               string    `json:"title"`
	Description         string    `json:"description"`
	PriceIDR            *int64    `json:"price_idr"`
	StoryBlurb          *string   `json:"story_blurb"`
	StoryFull           *string   `json:"story_full"`
	LocationDetail      *string   `json:"location_detail"`
	MediaURL            *string   `json:"media_url"`
	IsBlurred           bool      `json:"is_blurred"`
	IsRestricted        bool      `json:"is_restricted"`
	MinimumTierRequired *string   `json:"minimum_tier_required,omitempty"`
}

type gatingRequirementsDTO struct {
	Type                   string     `json:"type"`
	RequiredLayer          string     `json:"required_layer,omitempty"`
	RequiredLayerLabel     string     `json:"required_layer_label,omitempty"`
	RequiredGatheringID    *uuid.UUID `json:"required_gathering_id,omitempty"`
	RequiredGatheringTitle string     `json:"required_gathering_title,omitempty"`
}

type gatingResultDTO struct {
	CanPurchase  bool                   `json:"can_purchase"`
	Reason       string                 `json:"reason,omitempty"`
	Requirements *gatingRequirementsDTO `json:"requirements,omitempty"`
}

type dropViewBody struct {
	Drop   dropDTO         `json:"drop"`
	Gating gatingResultDTO `json:"gating"`
}

type revealDTO struct {
	State            string     `json:"state"`
	City             string     `json:"city,omitempty"`
	Area             string     `json:"area,omitempty"`
	VenueName        string     `json:"venue_name,omitempty"`
	VenueAddress     string     `json:"venue_address,omitempty"`
	EventDate        *time.Time `json:"event_date,omitempty"`
	StartTime        string     `json:"start_time,omitempty"`
	EndTime          string     `json:"end_time,omitempty"`
	TimeRevealAt     *time.Time `json:"time_reveal_at,omitempty"`
	LocationRevealAt *time.Time `json:"location_reveal_at,omitempty"`

	UntilTimeRevealSeconds     *int64 `json:"until_time_reveal_seconds,omitempty"`
	UntilLocationRevealSeconds *int64 `json:"until_location_reveal_seconds,omitempty"`
	UntilEventSeconds          *int64 `json:"until_event_seconds,omitempty"`
}

type capacityBody struct {
	Capacity       int    `json:"capacity"`
	ConfirmedCount int    `json:"confirmed_count"`
	WaitlistCount  int    `json:"waitlist_count"`
	SpotsRemaining int    `json:"spots_remaining"`
	IsFull         bool   `json:"is_full"`
	HasWaitlist    bool   `json:"has_waitlist"`
	Urgency        string `json:"urgency"`
	StatusLine     string `json:"status_line"`
}

type gatheringViewBody struct {
	ID               uuid.UUID    `json:"id"`
	Title            string       `json:"title"`
	MinimumLayer     string       `json:"minimum_layer"`
	LayerLabel       string       `json:"layer_label"`
	Reveal           revealDTO    `json:"reveal"`
	Capacity         capacityBody `json:"capacity"`
	MyPass           *passBody    `json:"my_pass,omitempty"`
	WaitlistPosition *int         `json:"waitlist_position,omitempty"`
}

type passBody struct {
	ID               uuid.UUID  `json:"id"`
	GatheringID      uuid.UUID  `json:"gathering_id"`
	UserID           uuid.UUID  `json:"user_id"`
	Status           string     `json:"status"`
	IsWaitlisted     bool       `json:"is_waitlisted"`
	WaitlistPosition *int       `json:"waitlist_position,omitempty"`
	CheckedInAt      *time.Time `json:"checked_in_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func dropViewDTO(v service.DropView) dropViewBody {
	return dropViewBody{
		Drop: dropDTO{
			ID:                  v.Content.ID,
			Title:               v.Content.Title,
			Description:         v.Content.Description,
			PriceIDR:            v.Content.PriceIDR,
			StoryBlurb:          v.Content.StoryBlurb,
			StoryFull:           v.Content.StoryFull,
			LocationDetail:      v.Content.LocationDetail,
			MediaURL:            v.Content.MediaURL,
			IsBlurred:           v.Content.IsBlurred,
			IsRestricted:        v.Content.IsRestricted,
			MinimumTierRequired: v.Content.MinimumTierRequired,
		},
		Gating: gatingDTO(v.Gating),
	}
}

func gatingDTO(res domain.GatingResult) gatingResultDTO {
	out := gatingResultDTO{
		CanPurchase: res.CanPurchase,
		Reason:      res.Reason,
	}
	if res.Requirements != nil {
		out.Requirements = &gatingRequirementsDTO{
			Type:                   string(res.Requirements.Type),
			RequiredLayer:          string(res.Requirements.RequiredLayer),
			RequiredLayerLabel:     res.Requirements.RequiredLayerLabel,
			RequiredGatheringID:    res.Requirements.RequiredGatheringID,
			RequiredGatheringTitle: res.Requirements.RequiredGatheringTitle,
		}
	}
	return out
}

func gatheringViewDTO(v service.GatheringView) gatheringViewBody {
	body := gatheringViewBody{
		ID:               v.Gathering.ID,
		Title:            v.Gathering.Title,
		MinimumLayer:     string(v.Gathering.MinimumLayer),
		LayerLabel:       domain.GatheringLayerLabel(v.Gathering.MinimumLayer),
		Reveal:           revealInfoDTO(v.Reveal),
		Capacity:         capacityDTO(v.Capacity),
		WaitlistPosition: v.WaitlistPosition,
	}
	if v.MyPass != nil {
		p := passDTO(*v.MyPass)
		body.MyPass = &p
	}
	return body
}

func revealInfoDTO(info domain.RevealInfo) revealDTO {
	return revealDTO{
		State:            string(info.State),
		City:             info.City,
		Area:             info.Area,
		VenueName:        info.VenueName,
		VenueAddress:     info.VenueAddress,
		EventDate:        info.EventDate,
		StartTime:        info.StartTime,
		EndTime:          info.EndTime,
		TimeRevealAt:     info.TimeRevealAt,
		LocationRevealAt: info.LocationRevealAt,

		UntilTimeRevealSeconds:     durSeconds(info.UntilTimeReveal),
		UntilLocationRevealSeconds: durSeconds(info.UntilLocationReveal),
		UntilEventSeconds:          durSeconds(info.UntilEvent),
	}
}

func durSeconds(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	s := int64(d.Seconds())
	return &s
}

func capacityDTO(info domain.CapacityInfo) capacityBody {
	return capacityBody{
		Capacity:       info.Capacity,
		ConfirmedCount: info.ConfirmedCount,
		WaitlistCount:  info.WaitlistCount,
		SpotsRemaining: info.SpotsRemaining,
		IsFull:         info.IsFull,
		HasWaitlist:    info.HasWaitlist,
		Urgency:        string(domain.ComputeCapacityUrgency(info)),
		StatusLine:     domain.FormatCapacityStatus(info),
	}
}

func passDTO(p domain.Pass) passBody {
	return passBody{
		ID:               p.ID,
		GatheringID:      p.GatheringID,
		UserID:           p.UserID,
		Status:           string(p.Status),
		IsWaitlisted:     p.IsWaitlisted,
		WaitlistPosition: p.WaitlistPosition,
		CheckedInAt:      p.CheckedInAt,
		CreatedAt:        p.CreatedAt,
	}
}

func passListDTO(passes []domain.Pass) []passBody {
	out := make([]passBody, 0, len(passes))
	for _, p := range passes {
		out = append(out, passDTO(p))
	}
	return out
}
