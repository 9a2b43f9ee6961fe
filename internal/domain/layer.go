package domain

// Layer is the ordered membership tier. Comparisons always go through
// LayerIndex; string equality is never an access check.
type Layer string

const (
	LayerRevoked     Layer = "revoked"
	LayerOutside     Layer = "outside"
	LayerInitiate    Layer = "initiate"
	LayerMember      Layer = "member"
	LayerInnerCircle Layer = "inner_circle"
)

var layerIndexes = map[Layer]int{
	LayerRevoked:     -1,
	LayerOutside:     0,
	LayerInitiate:    1,
	LayerMember:      2,
	LayerInnerCircle: 3,
}

// LayerIndex is total: unknown or empty layers resolve to outside (0).
// Callers pass through untrusted/legacy strings, so this never panics.
func LayerIndex(l Layer) int {
	if idx, ok := layerIndexes[l]; ok {
		return idx
	}
	return 0
}

func HasLayerAccess(userLayer, requiredLayer Layer) bool {
	return LayerIndex(userLayer) >= LayerIndex(requiredLayer)
}

var roleLayers = map[string]Layer{
	"public":              LayerOutside,
	"marked_initiate":     LayerInitiate,
	"marked_member":       LayerMember,
	"marked_inner_circle": LayerInnerCircle,
	"curator":             LayerInnerCircle,
	"operator":            LayerInnerCircle,
}

// AccountToLayer maps an account to its effective layer. A nil account is an
// anonymous caller (outside). Any non-active status collapses to revoked,
// which sits below outside and fails every access check.
func AccountToLayer(a *Account) Layer {
	if a == nil {
		return LayerOutside
	}
	if a.Status != "" && a.Status != AccountActive {
		return LayerRevoked
	}
	if l, ok := roleLayers[a.Role]; ok {
		return l
	}
	return LayerOutside
}

// Two label vocabularies share the layer ordering but carry different
// end-user copy: one for gatherings, one for drops/content. They are kept
// as separate tables on purpose; product wording differs by context.

var gatheringLayerLabels = map[Layer]string{
	LayerOutside:     "Streetlight",
	LayerInitiate:    "Doorstep",
	LayerMember:      "House Member",
	LayerInnerCircle: "Inner Room",
}

// GatheringLayerLabel returns the gathering-facing display name for a layer.
func GatheringLayerLabel(l Layer) string {
	if s, ok := gatheringLayerLabels[l]; ok {
		return s
	}
	return gatheringLayerLabels[LayerOutside]
}

var contentTierLabels = map[Visibility]string{
	VisibilityPublic:         "Open",
	VisibilityMarkedFragment: "Marked",
	VisibilityFullContext:    "Full Context",
	VisibilityInnerOnly:      "Inner Room",
}

// ContentTierLabel returns the drop/content-facing display name for a
// visibility tier.
func ContentTierLabel(v Visibility) string {
	if s, ok := contentTierLabels[v]; ok {
		return s
	}
	return contentTierLabels[VisibilityPublic]
}

// ContentTierLabelForLayer resolves a layer requirement on a drop to the
// content vocabulary via the shared ordinal.
func ContentTierLabelForLayer(l Layer) string {
	for v, idx := range visibilityIndexes {
		if idx == LayerIndex(l) {
			return ContentTierLabel(v)
		}
	}
	return contentTierLabels[VisibilityPublic]
}
