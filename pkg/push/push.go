// Package push delivers call-wake notifications to paired elder
// devices. Two backends cover the supported platforms: FCM for Android
// (OAuth service-account credentialing) and APNs for iOS (ES256
// provider tokens, with a VoIP topic for call-priority wake).
package push

import (
	"context"
	"fmt"
	"log"

	"github.com/careline/careline-api/internal/apperr"
	"github.com/careline/careline-api/internal/model"
)

// Notification is the provider-agnostic push envelope. Data values are
// strings only; both transports are string-typed on the wire.
type Notification struct {
	Title string
	Body  string
	Data  map[string]string
}

// Status classifies the outcome of a dispatch attempt
type Status string

const (
	StatusDelivered Status = "delivered"
	// StatusSkipped means there was nothing to deliver to (no token on
	// file, or no backend for the platform). Not an error: the call can
	// still proceed through an already-open in-app channel.
	StatusSkipped Status = "skipped"
)

// DeliveryResult reports what a dispatch attempt did
type DeliveryResult struct {
	Status    Status
	MessageID string
	Topic     string
}

// Backend sends one notification to one device token
type Backend interface {
	Notify(ctx context.Context, target *model.RelativeDevice, note Notification) (*DeliveryResult, error)
}

// Dispatcher routes notifications to the backend matching the target's
// platform, after verifying the target's household/relative binding
// against the session being announced.
type Dispatcher struct {
	backends map[model.Platform]Backend
}

// NewDispatcher wires the configured backends. A nil backend is
// allowed; its platform is then treated as unreachable by push.
func NewDispatcher(fcm, apns Backend) *Dispatcher {
	backends := make(map[model.Platform]Backend)
	if fcm != nil {
		backends[model.PlatformAndroid] = fcm
	}
	if apns != nil {
		backends[model.PlatformIOS] = apns
	}
	return &Dispatcher{backends: backends}
}

// backendFor maps a platform to its backend. Web targets have no push
// channel at all.
func (d *Dispatcher) backendFor(platform model.Platform) Backend {
	return d.backends[platform]
}

// Notify dispatches a call-wake push for the session to the target.
// The target must be bound to the session's household and relative;
// a stale or foreign binding is refused before anything is sent.
func (d *Dispatcher) Notify(ctx context.Context, session *model.CallSession, target *model.RelativeDevice, note Notification) (*DeliveryResult, error) {
	if target.HouseholdID != session.HouseholdID || target.RelativeID != session.RelativeID {
		log.Printf("🚫 Push refused: device %s bound to (%s,%s), session %s expects (%s,%s)",
			target.DeviceID, target.HouseholdID, target.RelativeID,
			session.ID, session.HouseholdID, session.RelativeID)
		return nil, apperr.Forbidden("push target binding does not match session")
	}

	if !target.HasPushToken() {
		log.Printf("📭 Push skipped for session %s: device %s has no push token", session.ID, target.DeviceID)
		return &DeliveryResult{Status: StatusSkipped}, nil
	}

	backend := d.backendFor(target.Platform)
	if backend == nil {
		log.Printf("📭 Push skipped for session %s: no backend for platform %q", session.ID, target.Platform)
		return &DeliveryResult{Status: StatusSkipped}, nil
	}

	result, err := backend.Notify(ctx, target, note)
	if err != nil {
		log.Printf("⚠️ Push failed for session %s device %s: %v", session.ID, target.DeviceID, err)
		return nil, err
	}
	log.Printf("✅ Push %s for session %s device %s (message=%s)", result.Status, session.ID, target.DeviceID, result.MessageID)
	return result, nil
}

// StringifyData coerces arbitrary values into the string-only data map
// both transports require
func StringifyData(values map[string]interface{}) map[string]string {
	data := make(map[string]string, len(values))
	for k, v := range values {
		switch s := v.(type) {
		case string:
			data[k] = s
		case fmt.Stringer:
			data[k] = s.String()
		default:
			data[k] = fmt.Sprintf("%v", v)
		}
	}
	return data
}
