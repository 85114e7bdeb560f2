package push

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/careline/careline-api/internal/apperr"
	"github.com/careline/careline-api/internal/config"
	"github.com/careline/careline-api/internal/model"
)

const (
	apnsHostProduction = "https://api.push.apple.com"
	apnsHostSandbox    = "https://api.sandbox.push.apple.com"
	// Apple rejects provider tokens older than an hour; refresh sooner.
	providerTokenValidity = 50 * time.Minute
)

// APNsBackend sends pushes to Apple's gateway authenticated by an
// ES256 provider token (signed with the team's .p8 key). Call wakes go
// to the VoIP topic at maximum priority with zero expiration so the
// gateway never queues them; devices without a VoIP token get a
// standard alert push instead.
type APNsBackend struct {
	key      *ecdsa.PrivateKey
	keyID    string
	teamID   string
	bundleID string
	host     string
	http     *resty.Client
	tokens   *TokenCache
}

// NewAPNsBackend builds the backend from configuration. Returns nil
// when the signing key is not configured; iOS push is then disabled
// rather than blocking startup.
func NewAPNsBackend(cfg config.APNsConfig) (*APNsBackend, error) {
	if cfg.KeyFile == "" || cfg.KeyID == "" || cfg.TeamID == "" {
		log.Println("⚠️ APNs key not configured, iOS push disabled")
		return nil, nil
	}

	pem, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("read APNs key: %w", err)
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parse APNs key: %w", err)
	}

	host := apnsHostProduction
	if cfg.Sandbox {
		host = apnsHostSandbox
	}

	b := &APNsBackend{
		key:      key,
		keyID:    cfg.KeyID,
		teamID:   cfg.TeamID,
		bundleID: cfg.BundleID,
		host:     host,
		http: resty.New().
			SetTimeout(10 * time.Second).
			SetHeader("Content-Type", "application/json"),
	}
	b.tokens = NewTokenCache(b.signProviderToken)

	log.Println("✅ APNs backend initialized")
	return b, nil
}

// signProviderToken mints a fresh ES256 provider token; called by the
// cache on refresh only
func (b *APNsBackend) signProviderToken(ctx context.Context) (string, time.Time, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": b.teamID,
		"iat": now.Unix(),
	})
	token.Header["kid"] = b.keyID

	signed, err := token.SignedString(b.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign APNs provider token: %w", err)
	}
	return signed, now.Add(providerTokenValidity), nil
}

// apnsPayload is the APNs JSON body
type apnsPayload struct {
	Aps  apnsAps           `json:"aps"`
	Data map[string]string `json:"data,omitempty"`
}

type apnsAps struct {
	Alert apnsAlert `json:"alert"`
	Sound string    `json:"sound,omitempty"`
}

type apnsAlert struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Notify delivers the push, selecting the VoIP topic when the target
// registered a VoIP token
func (b *APNsBackend) Notify(ctx context.Context, target *model.RelativeDevice, note Notification) (*DeliveryResult, error) {
	bearer, err := b.tokens.Token(ctx)
	if err != nil {
		return nil, apperr.Delivery("APNs credential refresh failed").WithCause(err)
	}

	topic := b.bundleID
	pushType := "alert"
	deviceToken := target.PushToken
	if target.SupportsVoIPWake() {
		topic = b.bundleID + ".voip"
		pushType = "voip"
		deviceToken = target.VoIPToken
	}

	payload := apnsPayload{
		Aps: apnsAps{
			Alert: apnsAlert{Title: note.Title, Body: note.Body},
			Sound: "ringtone.caf",
		},
		Data: note.Data,
	}

	resp, err := b.http.R().
		SetContext(ctx).
		SetHeader("authorization", "bearer "+bearer).
		SetHeader("apns-topic", topic).
		SetHeader("apns-push-type", pushType).
		SetHeader("apns-priority", "10").
		SetHeader("apns-expiration", "0").
		SetBody(payload).
		Post(fmt.Sprintf("%s/3/device/%s", b.host, deviceToken))
	if err != nil {
		return nil, apperr.Delivery("APNs send failed").WithCause(err)
	}
	if resp.IsError() {
		return nil, apperr.Delivery(fmt.Sprintf("APNs rejected push (status %d)", resp.StatusCode())).
			WithCause(fmt.Errorf("apns response: %s", resp.String()))
	}

	return &DeliveryResult{
		Status:    StatusDelivered,
		MessageID: resp.Header().Get("apns-id"),
		Topic:     topic,
	}, nil
}
