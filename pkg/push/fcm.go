package push

import (
	"context"
	"crypto/rsa"
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
	fcmScope          = "https://www.googleapis.com/auth/firebase.messaging"
	fcmEndpoint       = "https://fcm.googleapis.com"
	jwtBearerGrant    = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	assertionValidity = time.Hour
)

// FCMBackend sends pushes through the FCM v1 HTTP API, authenticating
// with a service-account OAuth bearer. The bearer is obtained by
// self-signing a short-lived RS256 assertion and exchanging it at the
// Google token endpoint; the resulting access token is cached.
type FCMBackend struct {
	projectID   string
	clientEmail string
	privateKey  *rsa.PrivateKey
	tokenURL    string
	endpoint    string
	http        *resty.Client
	tokens      *TokenCache
}

// NewFCMBackend builds the backend from configuration. Returns nil when
// the service account is not configured; Android push is then disabled
// rather than blocking startup.
func NewFCMBackend(cfg config.FCMConfig) (*FCMBackend, error) {
	if cfg.ProjectID == "" || cfg.ClientEmail == "" || cfg.PrivateKeyFile == "" {
		log.Println("⚠️ FCM service account not configured, Android push disabled")
		return nil, nil
	}

	pem, err := os.ReadFile(cfg.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read FCM private key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parse FCM private key: %w", err)
	}

	b := &FCMBackend{
		projectID:   cfg.ProjectID,
		clientEmail: cfg.ClientEmail,
		privateKey:  key,
		tokenURL:    cfg.TokenURL,
		endpoint:    fcmEndpoint,
		http: resty.New().
			SetTimeout(10 * time.Second).
			SetHeader("Content-Type", "application/json"),
	}
	b.tokens = NewTokenCache(b.exchangeToken)

	log.Println("✅ FCM backend initialized")
	return b, nil
}

// oauthTokenResponse is the token endpoint's success body
type oauthTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// exchangeToken signs a fresh assertion and trades it for an access
// token; called by the cache on refresh only
func (b *FCMBackend) exchangeToken(ctx context.Context) (string, time.Time, error) {
	now := time.Now()
	assertion := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   b.clientEmail,
		"scope": fcmScope,
		"aud":   b.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionValidity).Unix(),
	})
	signed, err := assertion.SignedString(b.privateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign FCM assertion: %w", err)
	}

	var tokenResp oauthTokenResponse
	resp, err := b.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetFormData(map[string]string{
			"grant_type": jwtBearerGrant,
			"assertion":  signed,
		}).
		SetResult(&tokenResp).
		Post(b.tokenURL)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("FCM token exchange: %w", err)
	}
	if resp.IsError() {
		return "", time.Time{}, fmt.Errorf("FCM token exchange: status %d: %s", resp.StatusCode(), resp.String())
	}
	if tokenResp.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("FCM token exchange: empty access token")
	}

	return tokenResp.AccessToken, now.Add(time.Duration(tokenResp.ExpiresIn) * time.Second), nil
}

// fcmMessage mirrors the FCM v1 send envelope
type fcmMessage struct {
	Message fcmMessageBody `json:"message"`
}

type fcmMessageBody struct {
	Token        string            `json:"token"`
	Notification *fcmNotification  `json:"notification,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
	Android      *fcmAndroidConfig `json:"android,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmAndroidConfig struct {
	Priority     string                  `json:"priority"`
	Notification *fcmAndroidNotification `json:"notification,omitempty"`
}

type fcmAndroidNotification struct {
	ClickAction string `json:"click_action,omitempty"`
	ChannelID   string `json:"channel_id,omitempty"`
	Sound       string `json:"sound,omitempty"`
}

type fcmSendResponse struct {
	Name string `json:"name"`
}

// Notify sends a high-priority data+notification push to the device
func (b *FCMBackend) Notify(ctx context.Context, target *model.RelativeDevice, note Notification) (*DeliveryResult, error) {
	bearer, err := b.tokens.Token(ctx)
	if err != nil {
		return nil, apperr.Delivery("FCM credential refresh failed").WithCause(err)
	}

	msg := fcmMessage{
		Message: fcmMessageBody{
			Token: target.PushToken,
			Notification: &fcmNotification{
				Title: note.Title,
				Body:  note.Body,
			},
			Data: note.Data,
			Android: &fcmAndroidConfig{
				Priority: "high",
				Notification: &fcmAndroidNotification{
					ClickAction: "FLUTTER_NOTIFICATION_CLICK",
					ChannelID:   "incoming_calls",
					Sound:       "ringtone",
				},
			},
		},
	}

	var sendResp fcmSendResponse
	resp, err := b.http.R().
		SetContext(ctx).
		SetAuthToken(bearer).
		SetBody(msg).
		SetResult(&sendResp).
		Post(fmt.Sprintf("%s/v1/projects/%s/messages:send", b.endpoint, b.projectID))
	if err != nil {
		return nil, apperr.Delivery("FCM send failed").WithCause(err)
	}
	if resp.IsError() {
		return nil, apperr.Delivery(fmt.Sprintf("FCM rejected push (status %d)", resp.StatusCode())).
			WithCause(fmt.Errorf("fcm response: %s", resp.String()))
	}

	return &DeliveryResult{
		Status:    StatusDelivered,
		MessageID: sendResp.Name,
	}, nil
}
