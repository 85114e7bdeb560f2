package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/careline/careline-api/internal/apperr"
	"github.com/careline/careline-api/internal/model"
	"github.com/careline/careline-api/internal/security"
	"github.com/careline/careline-api/pkg/auth"
)

const (
	pairingCodeLength = 6
	pairingTokenBytes = 32
	// issuance budget per household per hour, over and above the
	// request-level rate limiting
	pairingIssueLimit  = 10
	codeRetryAttempts  = 5
)

// PairingLedger is the persistence surface the service needs;
// satisfied by repository.PairingRepository.
type PairingLedger interface {
	Create(cred *model.PairingCredential) error
	FindClaimableByCode(code string) ([]model.PairingCredential, error)
	CodeInUse(code string) (bool, error)
	Claim(credID uuid.UUID, deviceID string, deviceInfo json.RawMessage) (bool, error)
	CountRecentByHousehold(householdID uuid.UUID, since time.Time) (int64, error)
}

// DeviceStore is the device-binding surface; satisfied by
// repository.DeviceRepository.
type DeviceStore interface {
	Upsert(device *model.RelativeDevice) error
	FindByDeviceID(deviceID string) (*model.RelativeDevice, error)
	FindByRelative(householdID, relativeID uuid.UUID) (*model.RelativeDevice, error)
	UpdatePushTokens(deviceID string, platform model.Platform, pushToken, voipToken string) error
	TouchLastSeen(deviceID string) error
}

// HouseholdStore provides membership and relative lookups; satisfied by
// repository.HouseholdRepository.
type HouseholdStore interface {
	IsMember(householdID, userID uuid.UUID) (bool, error)
	FindMember(householdID, userID uuid.UUID) (*model.HouseholdMember, error)
	FindRelative(householdID, relativeID uuid.UUID) (*model.Relative, error)
}

// EventPublisher fans realtime events out to a household's dashboard
// channel; satisfied by ws.Hub.
type EventPublisher interface {
	PublishToHousehold(householdID uuid.UUID, event *model.WSEvent)
}

// PairingMailer emails issued codes to the requesting family member;
// satisfied by mailer.Mailer.
type PairingMailer interface {
	SendPairingCode(toEmail, memberName, relativeName, code string, expiryMinutes int) error
}

// PairingService implements pairing-credential issuance and one-time
// claim, and the device binding established as a claim side effect
type PairingService struct {
	ledger     PairingLedger
	devices    DeviceStore
	households HouseholdStore
	gate       *security.Gate
	jwtManager *auth.JWTManager
	mailer     PairingMailer
	publisher  EventPublisher
	ttl        time.Duration
}

func NewPairingService(
	ledger PairingLedger,
	devices DeviceStore,
	households HouseholdStore,
	gate *security.Gate,
	jwtManager *auth.JWTManager,
	mailer PairingMailer,
	publisher EventPublisher,
	ttl time.Duration,
) *PairingService {
	return &PairingService{
		ledger:     ledger,
		devices:    devices,
		households: households,
		gate:       gate,
		jwtManager: jwtManager,
		mailer:     mailer,
		publisher:  publisher,
		ttl:        ttl,
	}
}

// Issue creates a fresh pairing credential for the relative. The opaque
// token is returned in plaintext exactly once (for QR encoding); only
// its bcrypt hash is stored.
func (s *PairingService) Issue(ctx context.Context, householdID, relativeID, requestedBy uuid.UUID) (*model.IssuePairingResponse, error) {
	if err := s.gate.RequireMember(householdID, requestedBy); err != nil {
		return nil, err
	}

	relative, err := s.households.FindRelative(householdID, relativeID)
	if err != nil {
		return nil, apperr.Validation("relative does not belong to this household")
	}

	count, err := s.ledger.CountRecentByHousehold(householdID, time.Now().Add(-1*time.Hour))
	if err != nil {
		return nil, apperr.Internal("failed to check issuance budget").WithCause(err)
	}
	if count >= pairingIssueLimit {
		return nil, apperr.Validation("too many pairing codes requested, please try again later")
	}

	code, err := s.generateUnusedCode()
	if err != nil {
		return nil, apperr.Internal("failed to generate pairing code").WithCause(err)
	}

	tokenBytes := make([]byte, pairingTokenBytes)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, apperr.Internal("failed to generate pairing token").WithCause(err)
	}
	token := base64.RawURLEncoding.EncodeToString(tokenBytes)

	tokenHash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperr.Internal("failed to hash pairing token").WithCause(err)
	}

	cred := &model.PairingCredential{
		HouseholdID: householdID,
		RelativeID:  relativeID,
		Code:        code,
		TokenHash:   string(tokenHash),
		CreatedBy:   requestedBy,
		ExpiresAt:   time.Now().Add(s.ttl),
	}
	if err := s.ledger.Create(cred); err != nil {
		return nil, apperr.Internal("failed to save pairing credential").WithCause(err)
	}

	// Email the code asynchronously; issuance succeeds regardless
	if s.mailer != nil {
		go func() {
			member, err := s.households.FindMember(householdID, requestedBy)
			if err != nil {
				return
			}
			expiryMinutes := int(s.ttl.Minutes())
			if err := s.mailer.SendPairingCode(member.Email, member.Name, relative.DisplayName, code, expiryMinutes); err != nil {
				log.Printf("⚠️ Failed to email pairing code: %v", err)
			}
		}()
	}

	log.Printf("🔑 Pairing credential issued for relative %s (expires %s)", relativeID, cred.ExpiresAt.Format(time.RFC3339))

	return &model.IssuePairingResponse{
		ID:        cred.ID,
		Code:      code,
		Token:     token,
		ExpiresAt: cred.ExpiresAt.Format(time.RFC3339),
		ExpiresIn: int(s.ttl.Seconds()),
	}, nil
}

// Claim consumes a pairing credential. Both the typed code and the
// QR-carried token must match; every failure mode returns the same
// NotFound so callers cannot probe which part was wrong. Exactly one
// of several concurrent claimants wins the conditional update.
func (s *PairingService) Claim(ctx context.Context, req model.ClaimPairingRequest) (*model.ClaimPairingResponse, error) {
	if !req.Platform.Valid() {
		return nil, apperr.Validation("unknown platform")
	}

	creds, err := s.ledger.FindClaimableByCode(req.Code)
	if err != nil {
		return nil, apperr.Internal("failed to look up pairing credential").WithCause(err)
	}

	var matched *model.PairingCredential
	for i := range creds {
		if bcrypt.CompareHashAndPassword([]byte(creds[i].TokenHash), []byte(req.Token)) == nil {
			matched = &creds[i]
			break
		}
	}
	if matched == nil {
		return nil, apperr.NotFound("pairing credential")
	}

	won, err := s.ledger.Claim(matched.ID, req.DeviceID, req.DeviceInfo)
	if err != nil {
		return nil, apperr.Internal("failed to claim pairing credential").WithCause(err)
	}
	if !won {
		// Raced by another claimant or expired between lookup and
		// update; indistinguishable from a bad code on purpose.
		return nil, apperr.NotFound("pairing credential")
	}

	now := time.Now()
	device := &model.RelativeDevice{
		HouseholdID: matched.HouseholdID,
		RelativeID:  matched.RelativeID,
		DeviceID:    req.DeviceID,
		Platform:    req.Platform,
		PushToken:   req.PushToken,
		VoIPToken:   req.VoIPToken,
		AppVersion:  req.AppVersion,
		OSVersion:   req.OSVersion,
		PairedAt:    now,
	}
	if err := s.devices.Upsert(device); err != nil {
		return nil, apperr.Internal("failed to bind device").WithCause(err)
	}

	deviceToken, err := s.jwtManager.GenerateDeviceToken(req.DeviceID, matched.HouseholdID, matched.RelativeID)
	if err != nil {
		return nil, apperr.Internal("failed to issue device token").WithCause(err)
	}

	if s.publisher != nil {
		s.publisher.PublishToHousehold(matched.HouseholdID, &model.WSEvent{
			Type: model.WSEventDevicePaired,
			Payload: model.DevicePairedPayload{
				HouseholdID: matched.HouseholdID,
				RelativeID:  matched.RelativeID,
				DeviceID:    req.DeviceID,
				Platform:    req.Platform,
			},
		})
	}

	log.Printf("✅ Device %s paired to relative %s", req.DeviceID, matched.RelativeID)

	return &model.ClaimPairingResponse{
		HouseholdID: matched.HouseholdID,
		RelativeID:  matched.RelativeID,
		DeviceToken: deviceToken,
	}, nil
}

// RegisterPushTokens refreshes a paired device's push tokens (tokens
// rotate; the binding itself is unchanged)
func (s *PairingService) RegisterPushTokens(ctx context.Context, claims *auth.Claims, req model.RegisterPushTokenRequest) error {
	if !claims.IsDevice() {
		return apperr.Forbidden("only paired devices can register push tokens")
	}
	if !req.Platform.Valid() {
		return apperr.Validation("unknown platform")
	}

	device, err := s.devices.FindByDeviceID(claims.DeviceID)
	if err != nil {
		return apperr.NotFound("device")
	}
	if device.HouseholdID != claims.HouseholdID || device.RelativeID != claims.RelativeID {
		return apperr.Forbidden("device binding does not match token")
	}

	if err := s.devices.UpdatePushTokens(claims.DeviceID, req.Platform, req.PushToken, req.VoIPToken); err != nil {
		return apperr.Internal("failed to update push tokens").WithCause(err)
	}
	if err := s.devices.TouchLastSeen(claims.DeviceID); err != nil {
		log.Printf("⚠️ Failed to touch last_seen for device %s: %v", claims.DeviceID, err)
	}
	return nil
}

// generateUnusedCode draws random codes until one is free among live
// credentials (uniqueness is only required among unclaimed, unexpired
// ones; old codes may recur)
func (s *PairingService) generateUnusedCode() (string, error) {
	for attempt := 0; attempt < codeRetryAttempts; attempt++ {
		code, err := generatePairingCode(pairingCodeLength)
		if err != nil {
			return "", err
		}
		inUse, err := s.ledger.CodeInUse(code)
		if err != nil {
			return "", err
		}
		if !inUse {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not find a free pairing code after %d attempts", codeRetryAttempts)
}

// generatePairingCode generates a cryptographically secure random numeric code
func generatePairingCode(length int) (string, error) {
	code := ""
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		code += fmt.Sprintf("%d", n.Int64())
	}
	return code, nil
}
