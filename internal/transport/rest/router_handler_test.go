package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lingkarclub/access-engine/internal/domain"
	"github.com/lingkarclub/access-engine/internal/security"
	"github.com/lingkarclub/access-engine/internal/service"
	"github.com/lingkarclub/access-engine/internal/transport/rest/response"
)

type fakeVerifier struct {
	claims security.TokenClaims
	err    error
}

func (f fakeVerifier) VerifyAccessToken(token string) (security.TokenClaims, error) {
	return f.claims, f.err
}

type fakeCache struct {
	allow bool
	caps  map[uuid.UUID]int
}

func newFakeCache() *fakeCache {
	return &fakeCache{allow: true, caps: map[uuid.UUID]int{}}
}

func (c *fakeCache) GetGatheringCapacity(ctx context.Context, gatheringID uuid.UUID) (int, error) {
	v, ok := c.caps[gatheringID]
	if !ok {
		return 0, domain.ErrCacheMiss
	}
	return v, nil
}

func (c *fakeCache) SetGatheringCapacity(ctx context.Context, gatheringID uuid.UUID, capacity int) error {
	c.caps[gatheringID] = capacity
	return nil
}

func (c *fakeCache) AllowRequest(ctx context.Context, ip string, limit int, window time.Duration) (bool, error) {
	return c.allow, nil
}

type fakePassRepo struct {
	claimFn          func(ctx context.Context, traceID, idempotencyKey string, gatheringID, userID uuid.UUID) (domain.Pass, error)
	cancelFn         func(ctx context.Context, traceID, idempotencyKey string, gatheringID, userID uuid.UUID) error
	revokeFn         func(ctx context.Context, traceID string, gatheringID, targetUserID, actorID uuid.UUID, reason string) error
	listMyFn         func(ctx context.Context, userID uuid.UUID, statuses []domain.PassStatus, limit int, cursor *domain.KeysetCursor) ([]domain.Pass, *domain.KeysetCursor, error)
	listConfirmedFn  func(ctx context.Context, gatheringID uuid.UUID, limit int, cursor *domain.KeysetCursor) ([]domain.Pass, *domain.KeysetCursor, error)
	listWaitlistedFn func(ctx context.Context, gatheringID uuid.UUID, limit int, cursor *domain.KeysetCursor) ([]domain.Pass, *domain.KeysetCursor, error)
	listForGathering func(ctx context.Context, gatheringID uuid.UUID) ([]domain.Pass, error)
	hostFn           func(ctx context.Context, gatheringID uuid.UUID) (uuid.UUID, error)
	notImplErr       error
}

func (r *fakePassRepo) notImpl() error {
	if r.notImplErr != nil {
		return r.notImplErr
	}
	return errors.New("not implemented")
}

// --- domain.PassRepository ---

func (r *fakePassRepo) ClaimPass(ctx context.Context, traceID, idempotencyKey string, gatheringID, userID uuid.UUID) (domain.Pass, error) {
	if r.claimFn == nil {
		return domain.Pass{}, r.notImpl()
	}
	return r.claimFn(ctx, traceID, idempotencyKey, gatheringID, userID)
}

func (r *fakePassRepo) CancelPass(ctx context.Context, traceID, idempotencyKey string, gatheringID, userID uuid.UUID) error {
	if r.cancelFn == nil {
		return r.notImpl()
	}
	return r.cancelFn(ctx, traceID, idempotencyKey, gatheringID, userID)
}

func (r *fakePassRepo) RevokePass(ctx context.Context, traceID string, gatheringID, targetUserID, actorID uuid.UUID, reason string) error {
	if r.revokeFn == nil {
		return r.notImpl()
	}
	return r.revokeFn(ctx, traceID, gatheringID, targetUserID, actorID, reason)
}

func (r *fakePassRepo) GetPass(ctx context.Context, gatheringID, userID uuid.UUID) (domain.Pass, error) {
	return domain.Pass{}, r.notImpl()
}

func (r *fakePassRepo) ListPassesForUser(ctx context.Context, userID uuid.UUID) ([]domain.Pass, error) {
	return nil, nil
}

func (r *fakePassRepo) ListPassesForGathering(ctx context.Context, gatheringID uuid.UUID) ([]domain.Pass, error) {
	if r.listForGathering == nil {
		return nil, nil
	}
	return r.listForGathering(ctx, gatheringID)
}

func (r *fakePassRepo) ListMyPasses(ctx context.Context, userID uuid.UUID, statuses []domain.PassStatus, limit int, cursor *domain.KeysetCursor) ([]domain.Pass, *domain.KeysetCursor, error) {
	if r.listMyFn == nil {
		return nil, nil, r.notImpl()
	}
	return r.listMyFn(ctx, userID, statuses, limit, cursor)
}

func (r *fakePassRepo) ListConfirmed(ctx context.Context, gatheringID uuid.UUID, limit int, cursor *domain.KeysetCursor) ([]domain.Pass, *domain.KeysetCursor, error) {
	if r.listConfirmedFn == nil {
		return nil, nil, r.notImpl()
	}
	return r.listConfirmedFn(ctx, gatheringID, limit, cursor)
}

func (r *fakePassRepo) ListWaitlisted(ctx context.Context, gatheringID uuid.UUID, limit int, cursor *domain.KeysetCursor) ([]domain.Pass, *domain.KeysetCursor, error) {
	if r.listWaitlistedFn == nil {
		return nil, nil, r.notImpl()
	}
	return r.listWaitlistedFn(ctx, gatheringID, limit, cursor)
}

func (r *fakePassRepo) GetGatheringHostID(ctx context.Context, gatheringID uuid.UUID) (uuid.UUID, error) {
	if r.hostFn == nil {
		return uuid.Nil, r.notImpl()
	}
	return r.hostFn(ctx, gatheringID)
}

type fakeCatalogRepo struct {
	drops      map[uuid.UUID]domain.Drop
	gatherings map[uuid.UUID]domain.Gathering
	accounts   map[uuid.UUID]*domain.Account
}

func newFakeCatalog() *fakeCatalogRepo {
	return &fakeCatalogRepo{
		drops:      map[uuid.UUID]domain.Drop{},
		gatherings: map[uuid.UUID]domain.Gathering{},
		accounts:   map[uuid.UUID]*domain.Account{},
	}
}

func (c *fakeCatalogRepo) GetDrop(ctx context.Context, id uuid.UUID) (domain.Drop, error) {
	d, ok := c.drops[id]
	if !ok {
		return domain.Drop{}, domain.ErrDropNotFound
	}
	return d, nil
}

func (c *fakeCatalogRepo) GetGathering(ctx context.Context, id uuid.UUID) (domain.Gathering, error) {
	g, ok := c.gatherings[id]
	if !ok {
		return domain.Gathering{}, domain.ErrGatheringNotFound
	}
	return g, nil
}

func (c *fakeCatalogRepo) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return c.accounts[id], nil
}

func (c *fakeCatalogRepo) UpsertGathering(ctx context.Context, g domain.Gathering) error {
	c.gatherings[g.ID] = g
	return nil
}

func (c *fakeCatalogRepo) CancelGathering(ctx context.Context, traceID string, gatheringID uuid.UUID, reason string) error {
	delete(c.gatherings, gatheringID)
	return nil
}

func newTestRouter(passes domain.PassRepository, catalog domain.CatalogRepository, cache domain.CacheRepository, claims security.TokenClaims) http.Handler {
	svc := service.NewAccessService(passes, catalog, cache, nil)
	h := NewHandler(svc)
	return NewRouter(RouterDeps{
		Cache:     cache,
		Handler:   h,
		Verifier:  fakeVerifier{claims: claims},
		JWTIssuer: claims.Issuer,

		RateLimitEnabled: true,
		RateLimitMax:     100,
		RateLimitWindow:  time.Minute,
	})
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder) response.Envelope {
	t.Helper()
	var env response.Envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	return env
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) response.ErrorBody {
	t.Helper()
	var errBody response.ErrorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &errBody))
	return errBody
}

func memberClaims(uid uuid.UUID) security.TokenClaims {
	return security.TokenClaims{
		UserID: uid.String(),
		Role:   "marked_member",
		Issuer: "identity-service",
	}
}

func TestNewRouter_PanicsOnNilDeps(t *testing.T) {
	cache := newFakeCache()
	svc := service.NewAccessService(&fakePassRepo{}, newFakeCatalog(), cache, nil)
	h := NewHandler(svc)

	require.Panics(t, func() {
		_ = NewRouter(RouterDeps{Cache: nil, Handler: h, Verifier: fakeVerifier{}, JWTIssuer: "x"})
	})
	require.Panics(t, func() {
		_ = NewRouter(RouterDeps{Cache: cache, Handler: nil, Verifier: fakeVerifier{}, JWTIssuer: "x"})
	})
	require.Panics(t, func() {
		_ = NewRouter(RouterDeps{Cache: cache, Handler: h, Verifier: nil, JWTIssuer: "x"})
	})
}

func TestRouter_ClaimPass_InvalidJSON_400(t *testing.T) {
	cache := newFakeCache()
	uid := uuid.New()
	r := newTestRouter(&fakePassRepo{}, newFakeCatalog(), cache, memberClaims(uid))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/passes", bytes.NewBufferString("{bad"))
	req.Header.Set("Authorization", "Bearer ok")
	req.Header.Set("X-Request-Id", "rid-1")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	errBody := decodeError(t, rr)
	require.Equal(t, "request.invalid", errBody.Error.Code)
	require.Equal(t, "rid-1", errBody.Error.RequestID)
}

func TestRouter_ClaimPass_InvalidGatheringID_400(t *testing.T) {
	cache := newFakeCache()
	uid := uuid.New()
	r := newTestRouter(&fakePassRepo{}, newFakeCatalog(), cache, memberClaims(uid))

	body := `{"gathering_id":"not-a-uuid"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/passes", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer ok")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	errBody := decodeError(t, rr)
	require.Equal(t, "request.invalid", errBody.Error.Code)
	require.Contains(t, errBody.Error.Message, "gathering_id")
}

func TestRouter_ClaimPass_MissingIdempotencyKey_400(t *testing.T) {
	cache := newFakeCache()
	uid := uuid.New()
	r := newTestRouter(&fakePassRepo{}, newFakeCatalog(), cache, memberClaims(uid))

	body := `{"gathering_id":"` + uuid.New().String() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/passes", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer ok")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	errBody := decodeError(t, rr)
	require.Equal(t, "idempotency_key.required", errBody.Error.Code)
}

func TestRouter_ClaimPass_Waitlisted_200(t *testing.T) {
	cache := newFakeCache()
	gid := uuid.New()
	uid := uuid.New()
	pos := 1

	passes := &fakePassRepo{
		claimFn: func(ctx context.Context, traceID, idempotencyKey string, gatheringID, userID uuid.UUID) (domain.Pass, error) {
			require.Equal(t, gid, gatheringID)
			require.Equal(t, uid, userID)
			require.Equal(t, "key-1", idempotencyKey)
			return domain.Pass{
				ID:               uuid.New(),
				GatheringID:      gatheringID,
				UserID:           userID,
				Status:           domain.PassClaimed,
				IsWaitlisted:     true,
				WaitlistPosition: &pos,
			}, nil
		},
	}

	r := newTestRouter(passes, newFakeCatalog(), cache, memberClaims(uid))

	body := `{"gathering_id":"` + gid.String() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/passes", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer ok")
	req.Header.Set("X-Idempotency-Key", "key-1")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeData(t, rr)
	m := env.Data.(map[string]any)
	require.Equal(t, true, m["is_waitlisted"])
	require.Equal(t, float64(1), m["waitlist_position"])
}

func TestRouter_ClaimPass_GatheringFull_409(t *testing.T) {
	cache := newFakeCache()
	gid := uuid.New()
	uid := uuid.New()

	passes := &fakePassRepo{
		claimFn: func(ctx context.Context, traceID, idempotencyKey string, gatheringID, userID uuid.UUID) (domain.Pass, error) {
			return domain.Pass{}, domain.ErrGatheringFull
		},
	}

	r := newTestRouter(passes, newFakeCatalog(), cache, memberClaims(uid))

	body := `{"gathering_id":"` + gid.String() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/passes", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer ok")
	req.Header.Set("X-Idempotency-Key", "key-1")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusConflict, rr.Code)
	errBody := decodeError(t, rr)
	require.Equal(t, "gathering.full", errBody.Error.Code)
}

func TestRouter_ClaimPass_ClosedGathering_410(t *testing.T) {
	cache := newFakeCache()
	gid := uuid.New()
	uid := uuid.New()
	cache.caps[gid] = -1

	r := newTestRouter(&fakePassRepo{}, newFakeCatalog(), cache, memberClaims(uid))

	body := `{"gathering_id":"` + gid.String() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/passes", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer ok")
	req.Header.Set("X-Idempotency-Key", "key-1")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusGone, rr.Code)
	errBody := decodeError(t, rr)
	require.Equal(t, "gathering.closed", errBody.Error.Code)
}

func TestRouter_CancelPass_InvalidGatheringID_400(t *testing.T) {
	cache := newFakeCache()
	uid := uuid.New()
	r := newTestRouter(&fakePassRepo{}, newFakeCatalog(), cache, memberClaims(uid))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/passes/not-a-uuid", nil)
	req.Header.Set("Authorization", "Bearer ok")
	req.Header.Set("X-Idempotency-Key", "key-1")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	errBody := decodeError(t, rr)
	require.Equal(t, "request.invalid", errBody.Error.Code)
}

func TestRouter_MyPasses_MalformedCursorParam_IsIgnored_200(t *testing.T) {
	cache := newFakeCache()

	var gotCursor *domain.KeysetCursor
	passes := &fakePassRepo{
		listMyFn: func(ctx context.Context, userID uuid.UUID, statuses []domain.PassStatus, limit int, cursor *domain.KeysetCursor) ([]domain.Pass, *domain.KeysetCursor, error) {
			gotCursor = cursor
			return []domain.Pass{}, nil, nil
		},
	}

	uid := uuid.New()
	r := newTestRouter(passes, newFakeCatalog(), cache, memberClaims(uid))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me/passes?cursor=%%%bad", nil)
	req.Header.Set("Authorization", "Bearer ok")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Nil(t, gotCursor, "malformed cursor param should be dropped and treated as nil")
}

func TestRouter_HostReads_ForbiddenForNonHost(t *testing.T) {
	cache := newFakeCache()
	gid := uuid.New()
	uid := uuid.New()
	host := uuid.New() // different => forbidden

	passes := &fakePassRepo{
		hostFn: func(ctx context.Context, gatheringID uuid.UUID) (uuid.UUID, error) {
			return host, nil
		},
		listConfirmedFn: func(ctx context.Context, gatheringID uuid.UUID, limit int, cursor *domain.KeysetCursor) ([]domain.Pass, *domain.KeysetCursor, error) {
			return nil, nil, nil
		},
	}

	r := newTestRouter(passes, newFakeCatalog(), cache, memberClaims(uid))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/gatherings/"+gid.String()+"/passes", nil)
	req.Header.Set("Authorization", "Bearer ok")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusForbidden, rr.Code)
	errBody := decodeError(t, rr)
	require.Equal(t, "auth.forbidden", errBody.Error.Code)
}

func TestRouter_Drop_AnonymousGetsRedactedView(t *testing.T) {
	cache := newFakeCache()
	catalog := newFakeCatalog()
	dropID := uuid.New()
	price := int64(250000)
	story := "The room opens after midnight and the selectors run until dawn."

	catalog.drops[dropID] = domain.Drop{
		GatedContent: domain.GatedContent{
			ID:                 dropID,
			Title:              "Warehouse Tape 004",
			RequiredVisibility: domain.VisibilityFullContext,
			Description:        "Limited run pressed for the inner room.",
			PriceIDR:           &price,
			StoryFull:          &story,
		},
		RequiredLayer: domain.LayerMember,
	}

	r := newTestRouter(&fakePassRepo{}, catalog, cache, security.TokenClaims{})

	// no Authorization header: optional-auth route serves the outside view
	req := httptest.NewRequest(http.MethodGet, "/api/v1/drops/"+dropID.String(), nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeData(t, rr)
	m := env.Data.(map[string]any)
	drop := m["drop"].(map[string]any)
	require.Nil(t, drop["price_idr"])
	require.Nil(t, drop["story_full"])
	require.Equal(t, true, drop["is_restricted"])

	gating := m["gating"].(map[string]any)
	require.Equal(t, false, gating["can_purchase"])
}

func TestRouter_Gathering_AnonymousTease(t *testing.T) {
	cache := newFakeCache()
	catalog := newFakeCatalog()
	gid := uuid.New()
	eventDate := time.Now().Add(30 * 24 * time.Hour).UTC()

	catalog.gatherings[gid] = domain.Gathering{
		ID:           gid,
		Title:        "Warehouse 9",
		EventDate:    &eventDate,
		MinimumLayer: domain.LayerMember,
		City:         "Jakarta",
		Area:         "Kemang",
		VenueName:    "Gudang Timur",
		Capacity:     40,
	}

	r := newTestRouter(&fakePassRepo{}, catalog, cache, security.TokenClaims{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/gatherings/"+gid.String(), nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeData(t, rr)
	m := env.Data.(map[string]any)
	reveal := m["reveal"].(map[string]any)
	require.Equal(t, "tease", reveal["state"])
	require.Equal(t, "Jakarta", reveal["city"])
	require.Empty(t, reveal["venue_name"])
	require.Empty(t, reveal["area"])
}

func TestRouter_Gathering_NotFound_404(t *testing.T) {
	cache := newFakeCache()
	r := newTestRouter(&fakePassRepo{}, newFakeCatalog(), cache, security.TokenClaims{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/gatherings/"+uuid.New().String(), nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusNotFound, rr.Code)
	errBody := decodeError(t, rr)
	require.Equal(t, "gathering.not_found", errBody.Error.Code)
}

func TestRouter_RateLimit_429(t *testing.T) {
	cache := newFakeCache()
	cache.allow = false

	uid := uuid.New()
	r := newTestRouter(&fakePassRepo{}, newFakeCatalog(), cache, memberClaims(uid))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me/passes", nil)
	req.Header.Set("Authorization", "Bearer ok")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestRouter_SecurityHeaders_PresentOnOK(t *testing.T) {
	cache := newFakeCache()
	passes := &fakePassRepo{
		listMyFn: func(ctx context.Context, userID uuid.UUID, statuses []domain.PassStatus, limit int, cursor *domain.KeysetCursor) ([]domain.Pass, *domain.KeysetCursor, error) {
			return []domain.Pass{}, nil, nil
		},
	}
	uid := uuid.New()
	r := newTestRouter(passes, newFakeCatalog(), cache, memberClaims(uid))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me/passes", nil)
	req.Header.Set("Authorization", "Bearer ok")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	require.Contains(t, rr.Header().Get("Content-Security-Policy"), "default-src")
}
