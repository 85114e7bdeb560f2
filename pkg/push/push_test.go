package push

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careline/careline-api/internal/apperr"
	"github.com/careline/careline-api/internal/model"
)

type stubBackend struct {
	result *DeliveryResult
	err    error
	sent   []Notification
}

func (b *stubBackend) Notify(ctx context.Context, target *model.RelativeDevice, note Notification) (*DeliveryResult, error) {
	b.sent = append(b.sent, note)
	if b.err != nil {
		return nil, b.err
	}
	return b.result, nil
}

func boundPair() (*model.CallSession, *model.RelativeDevice) {
	householdID := uuid.New()
	relativeID := uuid.New()
	session := &model.CallSession{
		ID:          uuid.New(),
		HouseholdID: householdID,
		RelativeID:  relativeID,
	}
	device := &model.RelativeDevice{
		HouseholdID: householdID,
		RelativeID:  relativeID,
		DeviceID:    "tablet-1",
		Platform:    model.PlatformAndroid,
		PushToken:   "fcm-token",
	}
	return session, device
}

func TestDispatcherNotify(t *testing.T) {
	ctx := context.Background()
	note := Notification{Title: "Incoming call", Data: map[string]string{"type": "incoming_call"}}

	t.Run("routes to the platform backend", func(t *testing.T) {
		fcm := &stubBackend{result: &DeliveryResult{Status: StatusDelivered, MessageID: "m1"}}
		d := NewDispatcher(fcm, nil)
		session, device := boundPair()

		result, err := d.Notify(ctx, session, device, note)
		require.NoError(t, err)
		assert.Equal(t, StatusDelivered, result.Status)
		assert.Len(t, fcm.sent, 1)
	})

	t.Run("refuses a foreign binding before sending", func(t *testing.T) {
		fcm := &stubBackend{result: &DeliveryResult{Status: StatusDelivered}}
		d := NewDispatcher(fcm, nil)
		session, device := boundPair()
		device.RelativeID = uuid.New()

		_, err := d.Notify(ctx, session, device, note)
		assert.True(t, apperr.Is(err, apperr.CodeForbidden))
		assert.Empty(t, fcm.sent)
	})

	t.Run("skips a device without tokens", func(t *testing.T) {
		fcm := &stubBackend{result: &DeliveryResult{Status: StatusDelivered}}
		d := NewDispatcher(fcm, nil)
		session, device := boundPair()
		device.PushToken = ""

		result, err := d.Notify(ctx, session, device, note)
		require.NoError(t, err)
		assert.Equal(t, StatusSkipped, result.Status)
		assert.Empty(t, fcm.sent)
	})

	t.Run("skips platforms without a backend", func(t *testing.T) {
		d := NewDispatcher(nil, nil)
		session, device := boundPair()

		result, err := d.Notify(ctx, session, device, note)
		require.NoError(t, err)
		assert.Equal(t, StatusSkipped, result.Status)
	})

	t.Run("web devices are never pushed", func(t *testing.T) {
		fcm := &stubBackend{result: &DeliveryResult{Status: StatusDelivered}}
		apns := &stubBackend{result: &DeliveryResult{Status: StatusDelivered}}
		d := NewDispatcher(fcm, apns)
		session, device := boundPair()
		device.Platform = model.PlatformWeb

		result, err := d.Notify(ctx, session, device, note)
		require.NoError(t, err)
		assert.Equal(t, StatusSkipped, result.Status)
	})

	t.Run("backend errors pass through", func(t *testing.T) {
		fcm := &stubBackend{err: apperr.Delivery("gateway rejected")}
		d := NewDispatcher(fcm, nil)
		session, device := boundPair()

		_, err := d.Notify(ctx, session, device, note)
		assert.True(t, apperr.Is(err, apperr.CodeDelivery))
	})
}

func TestStringifyData(t *testing.T) {
	id := uuid.New()
	data := StringifyData(map[string]interface{}{
		"text":    "hello",
		"count":   42,
		"flag":    true,
		"session": id,
	})

	assert.Equal(t, "hello", data["text"])
	assert.Equal(t, "42", data["count"])
	assert.Equal(t, "true", data["flag"])
	assert.Equal(t, id.String(), data["session"])
}
