package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/careline/careline-api/internal/apperr"
	"github.com/careline/careline-api/internal/model"
	"github.com/careline/careline-api/internal/security"
	"github.com/careline/careline-api/pkg/auth"
)

// ========== In-memory fakes ==========

type fakeLedger struct {
	mu    sync.Mutex
	creds map[uuid.UUID]*model.PairingCredential
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{creds: make(map[uuid.UUID]*model.PairingCredential)}
}

func (l *fakeLedger) Create(cred *model.PairingCredential) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cred.ID == uuid.Nil {
		cred.ID = uuid.New()
	}
	cred.CreatedAt = time.Now()
	cp := *cred
	l.creds[cred.ID] = &cp
	return nil
}

func (l *fakeLedger) FindClaimableByCode(code string) ([]model.PairingCredential, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.PairingCredential
	for _, c := range l.creds {
		if c.Code == code && c.IsClaimable() {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (l *fakeLedger) CodeInUse(code string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.creds {
		if c.Code == code && c.IsClaimable() {
			return true, nil
		}
	}
	return false, nil
}

func (l *fakeLedger) Claim(credID uuid.UUID, deviceID string, deviceInfo json.RawMessage) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.creds[credID]
	if !ok || !c.IsClaimable() {
		return false, nil
	}
	now := time.Now()
	c.ClaimedAt = &now
	c.ClaimedBy = &deviceID
	c.DeviceInfo = deviceInfo
	return true, nil
}

func (l *fakeLedger) CountRecentByHousehold(householdID uuid.UUID, since time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for _, c := range l.creds {
		if c.HouseholdID == householdID && c.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

type fakeDevices struct {
	mu      sync.Mutex
	devices map[string]*model.RelativeDevice
}

func newFakeDevices() *fakeDevices {
	return &fakeDevices{devices: make(map[string]*model.RelativeDevice)}
}

func (d *fakeDevices) Upsert(device *model.RelativeDevice) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *device
	d.devices[device.DeviceID] = &cp
	return nil
}

func (d *fakeDevices) FindByDeviceID(deviceID string) (*model.RelativeDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := d.devices[deviceID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *dev
	return &cp, nil
}

func (d *fakeDevices) FindByRelative(householdID, relativeID uuid.UUID) (*model.RelativeDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, dev := range d.devices {
		if dev.HouseholdID == householdID && dev.RelativeID == relativeID {
			cp := *dev
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (d *fakeDevices) UpdatePushTokens(deviceID string, platform model.Platform, pushToken, voipToken string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := d.devices[deviceID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	dev.Platform = platform
	dev.PushToken = pushToken
	dev.VoIPToken = voipToken
	return nil
}

func (d *fakeDevices) TouchLastSeen(deviceID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := d.devices[deviceID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	now := time.Now()
	dev.LastSeenAt = &now
	return nil
}

type fakeHouseholds struct {
	members   map[uuid.UUID]map[uuid.UUID]*model.HouseholdMember
	relatives map[uuid.UUID]*model.Relative
}

func newFakeHouseholds() *fakeHouseholds {
	return &fakeHouseholds{
		members:   make(map[uuid.UUID]map[uuid.UUID]*model.HouseholdMember),
		relatives: make(map[uuid.UUID]*model.Relative),
	}
}

func (h *fakeHouseholds) addMember(householdID, userID uuid.UUID) {
	if h.members[householdID] == nil {
		h.members[householdID] = make(map[uuid.UUID]*model.HouseholdMember)
	}
	h.members[householdID][userID] = &model.HouseholdMember{
		HouseholdID: householdID,
		UserID:      userID,
		Email:       "family@careline.local",
		Name:        "Family Member",
	}
}

func (h *fakeHouseholds) addRelative(householdID uuid.UUID) *model.Relative {
	rel := &model.Relative{ID: uuid.New(), HouseholdID: householdID, DisplayName: "Oma"}
	h.relatives[rel.ID] = rel
	return rel
}

func (h *fakeHouseholds) IsMember(householdID, userID uuid.UUID) (bool, error) {
	_, ok := h.members[householdID][userID]
	return ok, nil
}

func (h *fakeHouseholds) FindMember(householdID, userID uuid.UUID) (*model.HouseholdMember, error) {
	m, ok := h.members[householdID][userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return m, nil
}

func (h *fakeHouseholds) FindRelative(householdID, relativeID uuid.UUID) (*model.Relative, error) {
	rel, ok := h.relatives[relativeID]
	if !ok || rel.HouseholdID != householdID {
		return nil, gorm.ErrRecordNotFound
	}
	return rel, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*model.WSEvent
}

func (p *fakePublisher) PublishToHousehold(householdID uuid.UUID, event *model.WSEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *fakePublisher) eventTypes() []model.WSEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.WSEventType
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// ========== Fixtures ==========

type pairingFixture struct {
	svc        *PairingService
	ledger     *fakeLedger
	devices    *fakeDevices
	households *fakeHouseholds
	publisher  *fakePublisher

	householdID uuid.UUID
	userID      uuid.UUID
	relative    *model.Relative
}

func newPairingFixture(t *testing.T, ttl time.Duration) *pairingFixture {
	t.Helper()

	households := newFakeHouseholds()
	householdID := uuid.New()
	userID := uuid.New()
	households.addMember(householdID, userID)
	relative := households.addRelative(householdID)

	ledger := newFakeLedger()
	devices := newFakeDevices()
	publisher := &fakePublisher{}
	gate := security.NewGate(nil, nil, 0, households)
	jwtManager := auth.NewJWTManager("test-secret", time.Hour, 24*time.Hour)

	svc := NewPairingService(ledger, devices, households, gate, jwtManager, nil, publisher, ttl)

	return &pairingFixture{
		svc:         svc,
		ledger:      ledger,
		devices:     devices,
		households:  households,
		publisher:   publisher,
		householdID: householdID,
		userID:      userID,
		relative:    relative,
	}
}

func claimRequest(code, token, deviceID string) model.ClaimPairingRequest {
	return model.ClaimPairingRequest{
		Code:     code,
		Token:    token,
		DeviceID: deviceID,
		Platform: model.PlatformAndroid,
	}
}

// ========== Tests ==========

func TestPairingIssue(t *testing.T) {
	ctx := context.Background()

	t.Run("issues a six digit code and a one-time token", func(t *testing.T) {
		f := newPairingFixture(t, 10*time.Minute)

		resp, err := f.svc.Issue(ctx, f.householdID, f.relative.ID, f.userID)
		require.NoError(t, err)

		assert.Len(t, resp.Code, 6)
		for _, r := range resp.Code {
			assert.True(t, r >= '0' && r <= '9', "code must be numeric, got %q", resp.Code)
		}
		assert.NotEmpty(t, resp.Token)
		assert.Equal(t, 600, resp.ExpiresIn)

		// only the hash is stored
		stored := f.ledger.creds[resp.ID]
		require.NotNil(t, stored)
		assert.NotEqual(t, resp.Token, stored.TokenHash)
		assert.NotContains(t, stored.TokenHash, resp.Token)
	})

	t.Run("rejects non-members", func(t *testing.T) {
		f := newPairingFixture(t, 10*time.Minute)

		_, err := f.svc.Issue(ctx, f.householdID, f.relative.ID, uuid.New())
		assert.True(t, apperr.Is(err, apperr.CodeForbidden))
	})

	t.Run("rejects relatives from other households", func(t *testing.T) {
		f := newPairingFixture(t, 10*time.Minute)
		otherRelative := f.households.addRelative(uuid.New())

		_, err := f.svc.Issue(ctx, f.householdID, otherRelative.ID, f.userID)
		assert.True(t, apperr.Is(err, apperr.CodeValidation))
	})

	t.Run("enforces the per-household issuance budget", func(t *testing.T) {
		f := newPairingFixture(t, 10*time.Minute)

		for i := 0; i < pairingIssueLimit; i++ {
			_, err := f.svc.Issue(ctx, f.householdID, f.relative.ID, f.userID)
			require.NoError(t, err)
		}

		_, err := f.svc.Issue(ctx, f.householdID, f.relative.ID, f.userID)
		assert.True(t, apperr.Is(err, apperr.CodeValidation))
	})

	t.Run("concurrent codes are distinct among live credentials", func(t *testing.T) {
		f := newPairingFixture(t, 10*time.Minute)

		seen := make(map[string]bool)
		for i := 0; i < 5; i++ {
			resp, err := f.svc.Issue(ctx, f.householdID, f.relative.ID, f.userID)
			require.NoError(t, err)
			assert.False(t, seen[resp.Code], "code %s issued twice while live", resp.Code)
			seen[resp.Code] = true
		}
	})
}

func TestPairingClaim(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path binds the device and returns a device token", func(t *testing.T) {
		f := newPairingFixture(t, 10*time.Minute)

		issued, err := f.svc.Issue(ctx, f.householdID, f.relative.ID, f.userID)
		require.NoError(t, err)

		resp, err := f.svc.Claim(ctx, claimRequest(issued.Code, issued.Token, "tablet-1"))
		require.NoError(t, err)

		assert.Equal(t, f.householdID, resp.HouseholdID)
		assert.Equal(t, f.relative.ID, resp.RelativeID)
		assert.NotEmpty(t, resp.DeviceToken)

		device, err := f.devices.FindByDeviceID("tablet-1")
		require.NoError(t, err)
		assert.Equal(t, f.relative.ID, device.RelativeID)

		assert.Contains(t, f.publisher.eventTypes(), model.WSEventDevicePaired)
	})

	t.Run("claim with wrong token fails with not found", func(t *testing.T) {
		f := newPairingFixture(t, 10*time.Minute)

		issued, err := f.svc.Issue(ctx, f.householdID, f.relative.ID, f.userID)
		require.NoError(t, err)

		_, err = f.svc.Claim(ctx, claimRequest(issued.Code, "wrong-token", "tablet-1"))
		assert.True(t, apperr.Is(err, apperr.CodeNotFound))

		// the failed attempt burns nothing; the real token still claims
		resp, err := f.svc.Claim(ctx, claimRequest(issued.Code, issued.Token, "tablet-1"))
		require.NoError(t, err)
		assert.Equal(t, f.relative.ID, resp.RelativeID)
	})

	t.Run("claim with wrong code fails with not found", func(t *testing.T) {
		f := newPairingFixture(t, 10*time.Minute)

		issued, err := f.svc.Issue(ctx, f.householdID, f.relative.ID, f.userID)
		require.NoError(t, err)

		_, err = f.svc.Claim(ctx, claimRequest("000000", issued.Token, "tablet-1"))
		assert.True(t, apperr.Is(err, apperr.CodeNotFound))
	})

	t.Run("second claim of the same credential fails", func(t *testing.T) {
		f := newPairingFixture(t, 10*time.Minute)

		issued, err := f.svc.Issue(ctx, f.householdID, f.relative.ID, f.userID)
		require.NoError(t, err)

		_, err = f.svc.Claim(ctx, claimRequest(issued.Code, issued.Token, "tablet-1"))
		require.NoError(t, err)

		_, err = f.svc.Claim(ctx, claimRequest(issued.Code, issued.Token, "tablet-2"))
		assert.True(t, apperr.Is(err, apperr.CodeNotFound))
	})

	t.Run("exactly one of many concurrent claimants wins", func(t *testing.T) {
		f := newPairingFixture(t, 10*time.Minute)

		issued, err := f.svc.Issue(ctx, f.householdID, f.relative.ID, f.userID)
		require.NoError(t, err)

		const claimants = 8
		var wg sync.WaitGroup
		results := make([]error, claimants)
		for i := 0; i < claimants; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, results[i] = f.svc.Claim(ctx, claimRequest(issued.Code, issued.Token, "tablet-race"))
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range results {
			if err == nil {
				wins++
			} else {
				assert.True(t, apperr.Is(err, apperr.CodeNotFound))
			}
		}
		assert.Equal(t, 1, wins)
	})

	t.Run("expired credential cannot be claimed", func(t *testing.T) {
		f := newPairingFixture(t, -1*time.Minute)

		issued, err := f.svc.Issue(ctx, f.householdID, f.relative.ID, f.userID)
		require.NoError(t, err)

		_, err = f.svc.Claim(ctx, claimRequest(issued.Code, issued.Token, "tablet-late"))
		assert.True(t, apperr.Is(err, apperr.CodeNotFound))
	})

	t.Run("rejects unknown platforms", func(t *testing.T) {
		f := newPairingFixture(t, 10*time.Minute)

		req := claimRequest("123456", "tok", "tablet-1")
		req.Platform = "windows"
		_, err := f.svc.Claim(ctx, req)
		assert.True(t, apperr.Is(err, apperr.CodeValidation))
	})
}

func TestRegisterPushTokens(t *testing.T) {
	ctx := context.Background()

	pairDevice := func(t *testing.T, f *pairingFixture, deviceID string) *auth.Claims {
		t.Helper()
		issued, err := f.svc.Issue(ctx, f.householdID, f.relative.ID, f.userID)
		require.NoError(t, err)
		_, err = f.svc.Claim(ctx, claimRequest(issued.Code, issued.Token, deviceID))
		require.NoError(t, err)
		return &auth.Claims{
			Subject:     auth.SubjectDevice,
			DeviceID:    deviceID,
			HouseholdID: f.householdID,
			RelativeID:  f.relative.ID,
		}
	}

	t.Run("rotates tokens for a paired device", func(t *testing.T) {
		f := newPairingFixture(t, 10*time.Minute)
		claims := pairDevice(t, f, "tablet-1")

		err := f.svc.RegisterPushTokens(ctx, claims, model.RegisterPushTokenRequest{
			Platform:  model.PlatformIOS,
			PushToken: "fresh-apns",
			VoIPToken: "fresh-voip",
		})
		require.NoError(t, err)

		device, err := f.devices.FindByDeviceID("tablet-1")
		require.NoError(t, err)
		assert.Equal(t, "fresh-apns", device.PushToken)
		assert.Equal(t, "fresh-voip", device.VoIPToken)
		assert.True(t, device.SupportsVoIPWake())
	})

	t.Run("family tokens cannot register push tokens", func(t *testing.T) {
		f := newPairingFixture(t, 10*time.Minute)

		claims := &auth.Claims{Subject: auth.SubjectFamily, UserID: f.userID}
		err := f.svc.RegisterPushTokens(ctx, claims, model.RegisterPushTokenRequest{Platform: model.PlatformIOS})
		assert.True(t, apperr.Is(err, apperr.CodeForbidden))
	})

	t.Run("binding mismatch is rejected", func(t *testing.T) {
		f := newPairingFixture(t, 10*time.Minute)
		claims := pairDevice(t, f, "tablet-1")
		claims.RelativeID = uuid.New()

		err := f.svc.RegisterPushTokens(ctx, claims, model.RegisterPushTokenRequest{Platform: model.PlatformAndroid})
		assert.True(t, apperr.Is(err, apperr.CodeForbidden))
	})
}
