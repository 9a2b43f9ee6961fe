package domain

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// GatedItem is the purchase-gating view of a drop: a minimum layer and/or a
// prior-attendance lock on a specific gathering.
type GatedItem struct {
	ID                        uuid.UUID
	Title                     string
	RequiredLayer             Layer
	AttendanceLockGatheringID *uuid.UUID
}

type RequirementType string

const (
	RequirementLayer      RequirementType = "layer"
	RequirementAttendance RequirementType = "attendance"
	RequirementBoth       RequirementType = "both"
)

// GatingRequirements describes what a denied buyer is missing.
type GatingRequirements struct {
	Type RequirementType

	RequiredLayer      Layer
	RequiredLayerLabel string

	RequiredGatheringID    *uuid.UUID
	RequiredGatheringTitle string
}

type GatingResult struct {
	CanPurchase  bool
	Reason       string
	Requirements *GatingRequirements
}

// AttendanceLookup is the collaborator pair the gating evaluator needs: the
// caller's data-access layer provides both. A lookup failure propagates to
// the caller unchanged; the evaluator adds no retries.
type AttendanceLookup interface {
	ListPassesForUser(ctx context.Context, userID uuid.UUID) ([]Pass, error)
	GetGathering(ctx context.Context, id uuid.UUID) (Gathering, error)
}

// CheckGating decides whether an account may purchase a gated item. The
// layer requirement and the attendance requirement are evaluated
// independently and combined with AND. It performs at most one gathering
// lookup (for the locked gathering's title) and never mutates anything.
func CheckGating(ctx context.Context, a *Account, item GatedItem, lookup AttendanceLookup) (GatingResult, error) {
	userLayer := AccountToLayer(a)
	if a != nil && a.Status == AccountDormant {
		// Gating-local rule: dormant shops as an outsider.
		userLayer = LayerOutside
	}
	if LayerIndex(userLayer) < 0 {
		return GatingResult{
			CanPurchase: false,
			Reason:      "account restricted",
		}, nil
	}

	requiredLayer := item.RequiredLayer
	if requiredLayer == "" {
		requiredLayer = LayerOutside
	}
	layerOK := HasLayerAccess(userLayer, requiredLayer)

	attendanceOK := true
	if item.AttendanceLockGatheringID != nil {
		attendanceOK = false
		if a != nil {
			passes, err := lookup.ListPassesForUser(ctx, a.ID)
			if err != nil {
				return GatingResult{}, err
			}
			for _, p := range passes {
				if p.GatheringID == *item.AttendanceLockGatheringID && p.CheckedInAt != nil {
					attendanceOK = true
					break
				}
			}
		}
	}

	if layerOK && attendanceOK {
		return GatingResult{CanPurchase: true}, nil
	}

	req := &GatingRequirements{}
	layerLabel := ContentTierLabelForLayer(requiredLayer)

	var lockedTitle string
	if !attendanceOK {
		locked, err := lookup.GetGathering(ctx, *item.AttendanceLockGatheringID)
		if err != nil {
			return GatingResult{}, err
		}
		lockedTitle = locked.Title
	}

	switch {
	case !layerOK && !attendanceOK:
		req.Type = RequirementBoth
	case !layerOK:
		req.Type = RequirementLayer
	default:
		req.Type = RequirementAttendance
	}

	if !layerOK {
		req.RequiredLayer = requiredLayer
		req.RequiredLayerLabel = layerLabel
	}
	if !attendanceOK {
		req.RequiredGatheringID = item.AttendanceLockGatheringID
		req.RequiredGatheringTitle = lockedTitle
	}

	var reason string
	switch req.Type {
	case RequirementBoth:
		reason = fmt.Sprintf("requires %s standing and a checked-in pass for %s", layerLabel, lockedTitle)
	case RequirementLayer:
		reason = fmt.Sprintf("requires %s standing", layerLabel)
	default:
		reason = fmt.Sprintf("requires a checked-in pass for %s", lockedTitle)
	}

	return GatingResult{
		CanPurchase:  false,
		Reason:       reason,
		Requirements: req,
	}, nil
}
