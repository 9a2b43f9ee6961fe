package domain

const (
	outsideTruncateRunes  = 100
	initiateTruncateRunes = 200
	truncationEllipsis    = "..."
)

// FilterContent produces the copy of content the given account may see.
// The input is never mutated; identity fields (ID, Title) are never touched.
// Filtering an already-filtered record at the same layer yields the same
// record, so callers may re-filter freely.
func FilterContent(c GatedContent, a *Account) RedactedContent {
	out := RedactedContent{GatedContent: c}

	if c.RequiredVisibility == VisibilityPublic {
		return out
	}

	userLayer := AccountToLayer(a)
	if LayerIndex(userLayer) >= VisibilityIndex(c.RequiredVisibility) {
		return out
	}

	label := ContentTierLabel(c.RequiredVisibility)
	out.MinimumTierRequired = &label

	switch {
	case LayerIndex(userLayer) <= LayerIndex(LayerOutside):
		// Outside (and revoked, which sits below it): heaviest redaction.
		out.Description = truncateRunes(c.Description, outsideTruncateRunes)
		out.PriceIDR = nil
		out.StoryBlurb = nil
		out.StoryFull = nil
		out.LocationDetail = nil
		out.MediaURL = nil
		out.IsBlurred = true
		out.IsRestricted = true
	case userLayer == LayerInitiate:
		// Initiates keep the price and get a longer teaser.
		out.StoryBlurb = truncatePtr(c.StoryBlurb, initiateTruncateRunes)
		out.StoryFull = truncatePtr(c.StoryFull, initiateTruncateRunes)
		out.LocationDetail = nil
		out.IsRestricted = true
	default:
		// Member and above cannot reach here per the index comparison, but
		// degrade to unmodified rather than over-redact if they ever do.
		out.MinimumTierRequired = nil
	}

	return out
}

// FilterMedia applies the binary UGC rule: inside_only media is blurred with
// its caption withheld for anyone at or below the outside layer.
func FilterMedia(m MediaItem, a *Account) RedactedMedia {
	out := RedactedMedia{MediaItem: m}
	if m.Visibility != MediaInsideOnly {
		return out
	}
	if LayerIndex(AccountToLayer(a)) <= LayerIndex(LayerOutside) {
		out.IsBlurred = true
		out.Caption = nil
	}
	return out
}

// truncateRunes cuts at rune boundaries and appends an ellipsis. A string
// that was already truncated re-truncates to itself, which is what keeps
// FilterContent idempotent.
func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + truncationEllipsis
}

func truncatePtr(s *string, max int) *string {
	if s == nil {
		return nil
	}
	t := truncateRunes(*s, max)
	return &t
}
