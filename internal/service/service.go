package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lingkarclub/access-engine/internal/audit"
	"github.com/lingkarclub/access-engine/internal/domain"
)

// AccessService is the decision shell over the pure engine: it loads the
// snapshot the engine needs, runs the policy, and applies the outcome
// through the repositories.
type AccessService struct {
	passes  domain.PassRepository
	catalog domain.CatalogRepository
	cache   domain.CacheRepository
	audit   *audit.Logger
}

func NewAccessService(passes domain.PassRepository, catalog domain.CatalogRepository, cache domain.CacheRepository, auditLog *audit.Logger) *AccessService {
	if auditLog == nil {
		auditLog = audit.New(zerolog.Nop())
	}
	return &AccessService{passes: passes, catalog: catalog, cache: cache, audit: auditLog}
}

// DropView is a drop rendered for one caller: the content redacted to the
// caller's layer plus the gating verdict for the claim button.
type DropView struct {
	Content domain.RedactedContent
	Gating  domain.GatingResult
}

// GatheringView is a gathering rendered for one caller.
type GatheringView struct {
	Gathering        domain.Gathering
	Reveal           domain.RevealInfo
	Capacity         domain.CapacityInfo
	MyPass           *domain.Pass
	WaitlistPosition *int
}

func isPrivileged(role string) bool {
	r := strings.ToLower(strings.TrimSpace(role))
	return r == "operator" || r == "curator"
}

func (s *AccessService) requireHostOrOperator(ctx context.Context, gatheringID uuid.UUID, requesterID uuid.UUID, role string) error {
	if isPrivileged(role) {
		return nil
	}
	host, err := s.passes.GetGatheringHostID(ctx, gatheringID)
	if err != nil {
		return err
	}
	if host != requesterID {
		return domain.ErrForbidden
	}
	return nil
}

// account resolves the caller to an account snapshot. A zero userID is an
// anonymous caller and resolves to nil without a lookup.
func (s *AccessService) account(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	if userID == uuid.Nil {
		return nil, nil
	}
	return s.catalog.GetAccount(ctx, userID)
}

// Drop reads

func (s *AccessService) DropView(ctx context.Context, dropID, userID uuid.UUID) (DropView, error) {
	drop, err := s.catalog.GetDrop(ctx, dropID)
	if err != nil {
		return DropView{}, err
	}
	account, err := s.account(ctx, userID)
	if err != nil {
		return DropView{}, err
	}
	gating, err := domain.CheckGating(ctx, account, drop.Item(), s.lookup())
	if err != nil {
		return DropView{}, err
	}
	return DropView{
		Content: domain.FilterContent(drop.GatedContent, account),
		Gating:  gating,
	}, nil
}

func (s *AccessService) DropGating(ctx context.Context, dropID, userID uuid.UUID) (domain.GatingResult, error) {
	drop, err := s.catalog.GetDrop(ctx, dropID)
	if err != nil {
		return domain.GatingResult{}, err
	}
	account, err := s.account(ctx, userID)
	if err != nil {
		return domain.GatingResult{}, err
	}
	return domain.CheckGating(ctx, account, drop.Item(), s.lookup())
}

func (s *AccessService) lookup() domain.AttendanceLookup {
	return attendanceLookup{passes: s.passes, catalog: s.catalog}
}

type attendanceLookup struct {
	passes  domain.PassRepository
	catalog domain.CatalogRepository
}

func (l attendanceLookup) ListPassesForUser(ctx context.Context, userID uuid.UUID) ([]domain.Pass, error) {
	return l.passes.ListPassesForUser(ctx, userID)
}

func (l attendanceLookup) GetGathering(ctx context.Context, id uuid.UUID) (domain.Gathering, error) {
	return l.catalog.GetGathering(ctx, id)
}

// Gathering reads

func (s *AccessService) GatheringView(ctx context.Context, gatheringID, userID uuid.UUID, now time.Time) (GatheringView, error) {
	g, err := s.catalog.GetGathering(ctx, gatheringID)
	if err != nil {
		return GatheringView{}, err
	}
	account, err := s.account(ctx, userID)
	if err != nil {
		return GatheringView{}, err
	}

	passes, err := s.passes.ListPassesForGathering(ctx, gatheringID)
	if err != nil {
		return GatheringView{}, err
	}

	view := GatheringView{
		Gathering: g,
		Reveal:    domain.ComputeReveal(g, domain.AccountToLayer(account), now),
		Capacity:  domain.ComputeCapacity(g, passes),
	}
	if account != nil {
		for i := range passes {
			if passes[i].UserID == account.ID && passes[i].IsLive() {
				p := passes[i]
				view.MyPass = &p
				break
			}
		}
		view.WaitlistPosition = domain.UserWaitlistPosition(account.ID, passes)
	}
	return view, nil
}

// Pass writes

func (s *AccessService) ClaimPass(ctx context.Context, traceID, idempotencyKey string, gatheringID, userID uuid.UUID) (domain.Pass, error) {
	// Fast-fail on a cached closed gathering. A cache miss or a redis
	// error falls through to the database, which is authoritative.
	if s.cache != nil {
		if capacity, err := s.cache.GetGatheringCapacity(ctx, gatheringID); err == nil && capacity < 0 {
			return domain.Pass{}, domain.ErrGatheringClosed
		}
	}
	pass, err := s.passes.ClaimPass(ctx, traceID, idempotencyKey, gatheringID, userID)
	if err != nil {
		return domain.Pass{}, err
	}
	s.audit.PassClaimed(ctx, gatheringID, userID, pass.Status, pass.IsWaitlisted, idempotencyKey)
	return pass, nil
}

func (s *AccessService) CancelPass(ctx context.Context, traceID, idempotencyKey string, gatheringID, userID uuid.UUID) error {
	if err := s.passes.CancelPass(ctx, traceID, idempotencyKey, gatheringID, userID); err != nil {
		return err
	}
	s.audit.PassCanceled(ctx, gatheringID, userID, idempotencyKey)
	return nil
}

// Reads

func (s *AccessService) MyPass(ctx context.Context, userID, gatheringID uuid.UUID) (domain.Pass, error) {
	return s.passes.GetPass(ctx, gatheringID, userID)
}

func (s *AccessService) MyPasses(ctx context.Context, userID uuid.UUID, statuses []domain.PassStatus, limit int, cursor *domain.KeysetCursor) ([]domain.Pass, *domain.KeysetCursor, error) {
	return s.passes.ListMyPasses(ctx, userID, statuses, limit, cursor)
}

func (s *AccessService) GatheringPasses(ctx context.Context, gatheringID uuid.UUID, requesterID uuid.UUID, role string, limit int, cursor *domain.KeysetCursor) ([]domain.Pass, *domain.KeysetCursor, error) {
	if err := s.requireHostOrOperator(ctx, gatheringID, requesterID, role); err != nil {
		return nil, nil, err
	}
	return s.passes.ListConfirmed(ctx, gatheringID, limit, cursor)
}

func (s *AccessService) GatheringWaitlist(ctx context.Context, gatheringID uuid.UUID, requesterID uuid.UUID, role string, limit int, cursor *domain.KeysetCursor) ([]domain.Pass, *domain.KeysetCursor, error) {
	if err := s.requireHostOrOperator(ctx, gatheringID, requesterID, role); err != nil {
		return nil, nil, err
	}
	return s.passes.ListWaitlisted(ctx, gatheringID, limit, cursor)
}

func (s *AccessService) CapacitySnapshot(ctx context.Context, gatheringID uuid.UUID, requesterID uuid.UUID, role string) (domain.CapacityInfo, error) {
	if err := s.requireHostOrOperator(ctx, gatheringID, requesterID, role); err != nil {
		return domain.CapacityInfo{}, err
	}
	g, err := s.catalog.GetGathering(ctx, gatheringID)
	if err != nil {
		return domain.CapacityInfo{}, err
	}
	passes, err := s.passes.ListPassesForGathering(ctx, gatheringID)
	if err != nil {
		return domain.CapacityInfo{}, err
	}
	return domain.ComputeCapacity(g, passes), nil
}

// Moderation

func (s *AccessService) RevokePass(ctx context.Context, traceID string, gatheringID, targetUserID, actorID uuid.UUID, role string, reason string) error {
	if err := s.requireHostOrOperator(ctx, gatheringID, actorID, role); err != nil {
		return err
	}
	if err := s.passes.RevokePass(ctx, traceID, gatheringID, targetUserID, actorID, reason); err != nil {
		return err
	}
	s.audit.PassRevoked(ctx, gatheringID, targetUserID, actorID, reason)
	return nil
}
