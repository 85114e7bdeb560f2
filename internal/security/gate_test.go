package security

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/careline/careline-api/internal/apperr"
	"github.com/careline/careline-api/internal/model"
	"github.com/careline/careline-api/pkg/auth"
)

type stubMembers struct {
	memberships map[uuid.UUID]uuid.UUID // householdID -> userID
}

func (s *stubMembers) IsMember(householdID, userID uuid.UUID) (bool, error) {
	return s.memberships[householdID] == userID, nil
}

func TestGateCheckOrigin(t *testing.T) {
	t.Run("empty allow-list passes everything", func(t *testing.T) {
		g := NewGate(nil, nil, 0, nil)
		assert.NoError(t, g.CheckOrigin("https://anywhere.example"))
		assert.NoError(t, g.CheckOrigin(""))
	})

	t.Run("listed origins pass", func(t *testing.T) {
		g := NewGate([]string{"https://app.careline.example"}, nil, 0, nil)
		assert.NoError(t, g.CheckOrigin("https://app.careline.example"))
	})

	t.Run("unlisted origins are forbidden", func(t *testing.T) {
		g := NewGate([]string{"https://app.careline.example"}, nil, 0, nil)
		err := g.CheckOrigin("https://evil.example")
		assert.True(t, apperr.Is(err, apperr.CodeForbidden))
	})

	t.Run("requests without an origin header pass", func(t *testing.T) {
		// non-browser clients (the elder device app) send no Origin
		g := NewGate([]string{"https://app.careline.example"}, nil, 0, nil)
		assert.NoError(t, g.CheckOrigin(""))
	})
}

func TestGateCheckRate(t *testing.T) {
	ctx := context.Background()

	t.Run("nil limiter disables rate limiting", func(t *testing.T) {
		g := NewGate(nil, nil, 0, nil)
		for i := 0; i < 100; i++ {
			assert.NoError(t, g.CheckRate(ctx, "key"))
		}
	})

	t.Run("limit exhaustion returns a rate-limited error", func(t *testing.T) {
		g := NewGate(nil, NewMemoryLimiter(time.Minute), 2, nil)

		assert.NoError(t, g.CheckRate(ctx, "key"))
		assert.NoError(t, g.CheckRate(ctx, "key"))

		err := g.CheckRate(ctx, "key")
		assert.True(t, apperr.Is(err, apperr.CodeRateLimited))
		assert.Greater(t, apperr.From(err).RetryAfterSeconds, 0)
	})
}

func TestGateRequireMember(t *testing.T) {
	householdID := uuid.New()
	userID := uuid.New()
	g := NewGate(nil, nil, 0, &stubMembers{memberships: map[uuid.UUID]uuid.UUID{householdID: userID}})

	assert.NoError(t, g.RequireMember(householdID, userID))
	assert.True(t, apperr.Is(g.RequireMember(householdID, uuid.New()), apperr.CodeForbidden))
	assert.True(t, apperr.Is(g.RequireMember(uuid.New(), userID), apperr.CodeForbidden))
}

func TestGateRequireSessionAccess(t *testing.T) {
	householdID := uuid.New()
	relativeID := uuid.New()
	userID := uuid.New()
	session := &model.CallSession{HouseholdID: householdID, RelativeID: relativeID}
	g := NewGate(nil, nil, 0, &stubMembers{memberships: map[uuid.UUID]uuid.UUID{householdID: userID}})

	t.Run("bound device may act", func(t *testing.T) {
		claims := &auth.Claims{Subject: auth.SubjectDevice, HouseholdID: householdID, RelativeID: relativeID}
		assert.NoError(t, g.RequireSessionAccess(claims, session))
	})

	t.Run("device bound elsewhere is refused", func(t *testing.T) {
		claims := &auth.Claims{Subject: auth.SubjectDevice, HouseholdID: householdID, RelativeID: uuid.New()}
		err := g.RequireSessionAccess(claims, session)
		assert.True(t, apperr.Is(err, apperr.CodeForbidden))
	})

	t.Run("household member may act", func(t *testing.T) {
		claims := &auth.Claims{Subject: auth.SubjectFamily, UserID: userID}
		assert.NoError(t, g.RequireSessionAccess(claims, session))
	})

	t.Run("outsider is refused", func(t *testing.T) {
		claims := &auth.Claims{Subject: auth.SubjectFamily, UserID: uuid.New()}
		err := g.RequireSessionAccess(claims, session)
		assert.True(t, apperr.Is(err, apperr.CodeForbidden))
	})
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("10.0.0.1", "https://app.example", "Mozilla/5.0")
	b := Fingerprint("10.0.0.1", "https://app.example", "Mozilla/5.0")
	c := Fingerprint("10.0.0.2", "https://app.example", "Mozilla/5.0")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "anon:")
}
