// Package security implements the checks wrapped around every
// orchestration entry point: origin allow-listing, per-caller rate
// limiting, and credential-ownership verification. The actors involved
// (elder devices, family browsers, the voice provider) are mutually
// untrusted, so every mutating call re-verifies ownership instead of
// trusting earlier requests.
package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"

	"github.com/careline/careline-api/internal/apperr"
	"github.com/careline/careline-api/internal/model"
	"github.com/careline/careline-api/pkg/auth"
)

// MembershipStore is the ledger lookup the gate needs for ownership
// checks; satisfied by repository.HouseholdRepository.
type MembershipStore interface {
	IsMember(householdID, userID uuid.UUID) (bool, error)
}

// Limiter counts requests per key within a sliding window
type Limiter interface {
	Check(ctx context.Context, key string, limit int) (allowed bool, retryAfterSeconds int)
}

// Gate bundles the security checks for orchestration entry points
type Gate struct {
	allowedOrigins map[string]struct{}
	limiter        Limiter
	limit          int
	members        MembershipStore
}

// NewGate builds a gate. An empty origins list disables the origin
// check entirely (allow-all); a nil limiter disables rate limiting.
func NewGate(origins []string, limiter Limiter, limit int, members MembershipStore) *Gate {
	var allowed map[string]struct{}
	if len(origins) > 0 {
		allowed = make(map[string]struct{}, len(origins))
		for _, o := range origins {
			allowed[o] = struct{}{}
		}
	}
	return &Gate{
		allowedOrigins: allowed,
		limiter:        limiter,
		limit:          limit,
		members:        members,
	}
}

// CheckOrigin rejects browser requests from origins outside the
// allow-list. Requests without an Origin header (non-browser clients)
// pass this check; they still face the ownership checks.
func (g *Gate) CheckOrigin(origin string) error {
	if g.allowedOrigins == nil || origin == "" {
		return nil
	}
	if _, ok := g.allowedOrigins[origin]; !ok {
		return apperr.Forbidden("origin not allowed")
	}
	return nil
}

// CheckRate enforces the per-window request budget for the caller key
func (g *Gate) CheckRate(ctx context.Context, key string) error {
	if g.limiter == nil || g.limit <= 0 {
		return nil
	}
	allowed, retryAfter := g.limiter.Check(ctx, key, g.limit)
	if !allowed {
		return apperr.RateLimited(retryAfter)
	}
	return nil
}

// RequireMember verifies the family user belongs to the household.
// Checked on every call; memberships change between requests.
func (g *Gate) RequireMember(householdID, userID uuid.UUID) error {
	ok, err := g.members.IsMember(householdID, userID)
	if err != nil {
		return apperr.Internal("membership lookup failed").WithCause(err)
	}
	if !ok {
		return apperr.Forbidden("not a member of this household")
	}
	return nil
}

// RequireSessionAccess verifies the caller may act on the session:
// either a family member of the session's household, or the device
// paired to the session's relative.
func (g *Gate) RequireSessionAccess(claims *auth.Claims, session *model.CallSession) error {
	if claims.IsDevice() {
		if claims.HouseholdID != session.HouseholdID || claims.RelativeID != session.RelativeID {
			return apperr.Forbidden("device is not paired to this session's relative")
		}
		return nil
	}
	return g.RequireMember(session.HouseholdID, claims.UserID)
}

// Fingerprint derives a stable rate-limit key for unauthenticated
// callers from request metadata
func Fingerprint(ip, origin, userAgent string) string {
	sum := sha256.Sum256([]byte(ip + "|" + origin + "|" + userAgent))
	return "anon:" + hex.EncodeToString(sum[:16])
}
