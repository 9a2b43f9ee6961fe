package domain

import (
	"time"

	"github.com/google/uuid"
)

// Visibility is the tier a content record demands of its viewer. It is
// ordered in parallel with Layer and compared through the same ordinals.
type Visibility string

const (
	VisibilityPublic         Visibility = "public"
	VisibilityMarkedFragment Visibility = "marked_fragment"
	VisibilityFullContext    Visibility = "full_context"
	VisibilityInnerOnly      Visibility = "inner_only"
)

var visibilityIndexes = map[Visibility]int{
	VisibilityPublic:         0,
	VisibilityMarkedFragment: 1,
	VisibilityFullContext:    2,
	VisibilityInnerOnly:      3,
}

// VisibilityIndex is total; unknown tags resolve to public (0).
func VisibilityIndex(v Visibility) int {
	if idx, ok := visibilityIndexes[v]; ok {
		return idx
	}
	return 0
}

// GatedContent is a drop, doctrine card, or other tiered record. ID and
// Title are identity fields and survive every redaction; the remaining
// fields are sensitive and may be nulled or truncated for low layers.
type GatedContent struct {
	ID                 uuid.UUID
	Title              string
	RequiredVisibility Visibility
	Description        string
	PriceIDR           *int64
	StoryBlurb         *string
	StoryFull          *string
	LocationDetail     *string
	MediaURL           *string
}

// RedactedContent is GatedContent plus the flags a client needs to explain
// why something is hidden without another lookup.
type RedactedContent struct {
	GatedContent
	IsBlurred           bool
	IsRestricted        bool
	MinimumTierRequired *string
}

// Drop is a purchasable gated content record.
type Drop struct {
	GatedContent
	RequiredLayer             Layer
	AttendanceLockGatheringID *uuid.UUID
	CreatedAt                 time.Time
}

// Item projects the purchase-gating view of a drop.
func (d Drop) Item() GatedItem {
	return GatedItem{
		ID:                        d.ID,
		Title:                     d.Title,
		RequiredLayer:             d.RequiredLayer,
		AttendanceLockGatheringID: d.AttendanceLockGatheringID,
	}
}

// MediaVisibility is the binary tier for member-submitted media.
type MediaVisibility string

const (
	MediaPublic     MediaVisibility = "public"
	MediaInsideOnly MediaVisibility = "inside_only"
)

type MediaItem struct {
	ID         uuid.UUID
	URL        string
	Caption    *string
	Visibility MediaVisibility
}

type RedactedMedia struct {
	MediaItem
	IsBlurred bool
}
