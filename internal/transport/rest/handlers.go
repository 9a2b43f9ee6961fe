package rest

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/lingkarclub/access-engine/internal/domain"
	appCtx "github.com/lingkarclub/access-engine/internal/pkg/context"
	"github.com/lingkarclub/access-engine/internal/service"
	"github.com/lingkarclub/access-engine/internal/transport/rest/response"
)

type Handler struct {
	svc      *service.AccessService
	validate *validator.Validate
}

func NewHandler(svc *service.AccessService) *Handler {
	return &Handler{svc: svc, validate: validator.New()}
}

// Public reads (optional auth): the view degrades per layer instead of
// failing for anonymous callers.

func (h *Handler) Drop(w http.ResponseWriter, r *http.Request) {
	dropID, err := uuid.Parse(chi.URLParam(r, "dropID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid dropID", map[string]string{
			"drop_id": "must be a valid uuid",
		})
		return
	}

	view, err := h.svc.DropView(r.Context(), dropID, CallerID(r.Context()))
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, dropViewDTO(view))
}

func (h *Handler) DropGating(w http.ResponseWriter, r *http.Request) {
	dropID, err := uuid.Parse(chi.URLParam(r, "dropID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid dropID", nil)
		return
	}

	result, err := h.svc.DropGating(r.Context(), dropID, CallerID(r.Context()))
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, gatingDTO(result))
}

func (h *Handler) Gathering(w http.ResponseWriter, r *http.Request) {
	gatheringID, err := uuid.Parse(chi.URLParam(r, "gatheringID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid gatheringID", nil)
		return
	}

	view, err := h.svc.GatheringView(r.Context(), gatheringID, CallerID(r.Context()), time.Now().UTC())
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, gatheringViewDTO(view))
}

// Authenticated writes

type claimPassRequest struct {
	GatheringID string `json:"gathering_id" validate:"required,uuid4"`
}

func (h *Handler) ClaimPass(w http.ResponseWriter, r *http.Request) {
	var req claimPassRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid gathering_id", map[string]string{
			"gathering_id": "must be a valid uuid",
		})
		return
	}
	gatheringID, err := uuid.Parse(req.GatheringID)
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid gathering_id", map[string]string{
			"gathering_id": "must be a valid uuid",
		})
		return
	}

	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	idempotencyKey, ok := requireIdempotencyKey(w, r)
	if !ok {
		return
	}

	pass, err := h.svc.ClaimPass(r.Context(), traceID(r), idempotencyKey, gatheringID, auth.UserID)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, passDTO(pass))
}

func (h *Handler) CancelPass(w http.ResponseWriter, r *http.Request) {
	gatheringID, err := uuid.Parse(chi.URLParam(r, "gatheringID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid gatheringID", map[string]string{
			"gathering_id": "must be a valid uuid",
		})
		return
	}

	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	idempotencyKey, ok := requireIdempotencyKey(w, r)
	if !ok {
		return
	}

	if err := h.svc.CancelPass(r.Context(), traceID(r), idempotencyKey, gatheringID, auth.UserID); err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, map[string]string{
		"msg": "canceled",
	})
}

// Authenticated reads

func (h *Handler) MyPasses(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	limit := parseLimit(r.URL.Query().Get("limit"))
	cur, err := decodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid cursor", nil)
		return
	}

	// status=claimed,used,...
	var statuses []domain.PassStatus
	if s := strings.TrimSpace(r.URL.Query().Get("status")); s != "" {
		for _, p := range strings.Split(s, ",") {
			v := domain.PassStatus(strings.TrimSpace(p))
			if v != "" {
				statuses = append(statuses, v)
			}
		}
	}

	items, next, err := h.svc.MyPasses(r.Context(), auth.UserID, statuses, limit, cur)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, map[string]any{
		"items":       passListDTO(items),
		"next_cursor": encodeCursor(next),
	})
}

// Host and operator reads

func (h *Handler) GatheringPasses(w http.ResponseWriter, r *http.Request) {
	gatheringID, err := uuid.Parse(chi.URLParam(r, "gatheringID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid gatheringID", nil)
		return
	}
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	limit := parseLimit(r.URL.Query().Get("limit"))
	cur, err := decodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid cursor", nil)
		return
	}

	items, next, err := h.svc.GatheringPasses(r.Context(), gatheringID, auth.UserID, auth.Role, limit, cur)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, map[string]any{
		"items":       passListDTO(items),
		"next_cursor": encodeCursor(next),
	})
}

func (h *Handler) GatheringWaitlist(w http.ResponseWriter, r *http.Request) {
	gatheringID, err := uuid.Parse(chi.URLParam(r, "gatheringID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid gatheringID", nil)
		return
	}
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	limit := parseLimit(r.URL.Query().Get("limit"))
	cur, err := decodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid cursor", nil)
		return
	}

	items, next, err := h.svc.GatheringWaitlist(r.Context(), gatheringID, auth.UserID, auth.Role, limit, cur)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, map[string]any{
		"items":       passListDTO(items),
		"next_cursor": encodeCursor(next),
	})
}

func (h *Handler) Capacity(w http.ResponseWriter, r *http.Request) {
	gatheringID, err := uuid.Parse(chi.URLParam(r, "gatheringID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid gatheringID", nil)
		return
	}
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	info, err := h.svc.CapacitySnapshot(r.Context(), gatheringID, auth.UserID, auth.Role)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, capacityDTO(info))
}

// Moderation

func (h *Handler) RevokePass(w http.ResponseWriter, r *http.Request) {
	gatheringID, err := uuid.Parse(chi.URLParam(r, "gatheringID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid gatheringID", nil)
		return
	}
	targetUserID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid userID", nil)
		return
	}
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	reason := strings.TrimSpace(r.URL.Query().Get("reason"))
	if err := h.svc.RevokePass(r.Context(), traceID(r), gatheringID, targetUserID, auth.UserID, auth.Role, reason); err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{"msg": "revoked"})
}

func handleErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrGatheringFull):
		fail(w, r, http.StatusConflict, "gathering.full", err.Error(), nil)
		return
	case errors.Is(err, domain.ErrIdempotencyKeyMismatch):
		fail(w, r, http.StatusConflict, "idempotency_key_mismatch", err.Error(), nil)
		return
	case errors.Is(err, domain.ErrAlreadyClaimed):
		// BFF will treat this as success (idempotent result)
		fail(w, r, http.StatusConflict, "state_already_reached", err.Error(), nil)
		return

	case errors.Is(err, domain.ErrGatheringClosed):
		// 410 is semantically accurate; if you prefer 409, switch it.
		fail(w, r, http.StatusGone, "gathering.closed", err.Error(), nil)
		return

	case errors.Is(err, domain.ErrGatheringNotFound):
		fail(w, r, http.StatusNotFound, "gathering.not_found", err.Error(), nil)
		return
	case errors.Is(err, domain.ErrDropNotFound):
		fail(w, r, http.StatusNotFound, "drop.not_found", err.Error(), nil)
		return
	case errors.Is(err, domain.ErrAccountRestricted):
		fail(w, r, http.StatusForbidden, "account.restricted", err.Error(), nil)
		return
	case errors.Is(err, domain.ErrForbidden):
		fail(w, r, http.StatusForbidden, "auth.forbidden", err.Error(), nil)
		return
	case errors.Is(err, domain.ErrPassNotFound):
		fail(w, r, http.StatusNotFound, "pass.not_found", err.Error(), nil)
		return

	default:
		// Do not leak internal details by default. If you want raw err in dev, gate by APP_ENV.
		fail(w, r, http.StatusInternalServerError, "internal", "internal error", nil)
		return
	}
}

func fail(w http.ResponseWriter, r *http.Request, status int, code, message string, meta map[string]string) {
	reqID := appCtx.GetRequestID(r.Context())
	if reqID == "" {
		reqID = "no-request-id"
	}
	response.Fail(w, status, code, message, meta, reqID)
}

func traceID(r *http.Request) string {
	id := appCtx.GetRequestID(r.Context())
	if id == "" {
		id = "no-request-id"
	}
	return id
}

// requireIdempotencyKey enforces the X-Idempotency-Key header on write
// operations, accepting the legacy Idempotency-Key spelling.
func requireIdempotencyKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := r.Header.Get("X-Idempotency-Key")
	if key == "" {
		key = r.Header.Get("Idempotency-Key") // legacy fallback
	}
	if key == "" {
		fail(w, r, http.StatusBadRequest, "idempotency_key.required", "X-Idempotency-Key header is required for this operation", nil)
		return "", false
	}
	return key, true
}

func parseLimit(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 20
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 20
	}
	if n < 1 {
		return 1
	}
	if n > 100 {
		return 100
	}
	return n
}
