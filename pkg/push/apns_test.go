package push

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careline/careline-api/internal/config"
	"github.com/careline/careline-api/internal/model"
)

func newTestAPNsBackend(t *testing.T, host string) *APNsBackend {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	b := &APNsBackend{
		key:      key,
		keyID:    "KEY123",
		teamID:   "TEAM456",
		bundleID: "com.careline.app",
		host:     host,
		http:     resty.New().SetTimeout(5 * time.Second),
	}
	b.tokens = NewTokenCache(b.signProviderToken)
	return b
}

func TestAPNsSignProviderToken(t *testing.T) {
	b := newTestAPNsBackend(t, "unused")

	signed, expiry, err := b.signProviderToken(context.Background())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(providerTokenValidity), expiry, 5*time.Second)

	claims := jwt.MapClaims{}
	token, _, err := jwt.NewParser().ParseUnverified(signed, claims)
	require.NoError(t, err)
	assert.Equal(t, "ES256", token.Header["alg"])
	assert.Equal(t, "KEY123", token.Header["kid"])
	assert.Equal(t, "TEAM456", claims["iss"])
}

func TestAPNsNotify(t *testing.T) {
	note := Notification{
		Title: "Incoming call",
		Body:  "CareLine is calling Oma",
		Data:  map[string]string{"type": "incoming_call"},
	}

	type captured struct {
		path     string
		topic    string
		pushType string
		priority string
		expires  string
		payload  apnsPayload
	}

	serve := func(t *testing.T) (*httptest.Server, *captured) {
		got := &captured{}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got.path = r.URL.Path
			got.topic = r.Header.Get("apns-topic")
			got.pushType = r.Header.Get("apns-push-type")
			got.priority = r.Header.Get("apns-priority")
			got.expires = r.Header.Get("apns-expiration")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got.payload))
			w.Header().Set("apns-id", "apns-msg-1")
			w.WriteHeader(http.StatusOK)
		}))
		return srv, got
	}

	t.Run("voip-capable devices get the voip topic at full priority", func(t *testing.T) {
		srv, got := serve(t)
		defer srv.Close()
		b := newTestAPNsBackend(t, srv.URL)

		target := &model.RelativeDevice{
			Platform:  model.PlatformIOS,
			PushToken: "alert-token",
			VoIPToken: "voip-token",
		}

		result, err := b.Notify(context.Background(), target, note)
		require.NoError(t, err)
		assert.Equal(t, StatusDelivered, result.Status)
		assert.Equal(t, "apns-msg-1", result.MessageID)
		assert.Equal(t, "com.careline.app.voip", result.Topic)

		assert.Equal(t, "/3/device/voip-token", got.path)
		assert.Equal(t, "com.careline.app.voip", got.topic)
		assert.Equal(t, "voip", got.pushType)
		assert.Equal(t, "10", got.priority)
		assert.Equal(t, "0", got.expires)
		assert.Equal(t, "Incoming call", got.payload.Aps.Alert.Title)
	})

	t.Run("devices without a voip token fall back to an alert push", func(t *testing.T) {
		srv, got := serve(t)
		defer srv.Close()
		b := newTestAPNsBackend(t, srv.URL)

		target := &model.RelativeDevice{
			Platform:  model.PlatformIOS,
			PushToken: "alert-token",
		}

		result, err := b.Notify(context.Background(), target, note)
		require.NoError(t, err)
		assert.Equal(t, "com.careline.app", result.Topic)

		assert.Equal(t, "/3/device/alert-token", got.path)
		assert.Equal(t, "alert", got.pushType)
		assert.Equal(t, "com.careline.app", got.topic)
	})

	t.Run("gateway rejection surfaces as an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"reason":"BadDeviceToken"}`, http.StatusBadRequest)
		}))
		defer srv.Close()
		b := newTestAPNsBackend(t, srv.URL)

		target := &model.RelativeDevice{Platform: model.PlatformIOS, PushToken: "alert-token"}
		_, err := b.Notify(context.Background(), target, note)
		assert.Error(t, err)
	})
}

func TestNewAPNsBackendUnconfigured(t *testing.T) {
	b, err := NewAPNsBackend(config.APNsConfig{})
	assert.NoError(t, err)
	assert.Nil(t, b)
}
