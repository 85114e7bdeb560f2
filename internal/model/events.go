package model

import "github.com/google/uuid"

// WSEventType identifies a realtime event fanned out to the family dashboard
type WSEventType string

const (
	WSEventCallStarted  WSEventType = "call_started"
	WSEventCallEnded    WSEventType = "call_ended"
	WSEventDevicePaired WSEventType = "device_paired"
)

// WSEvent is the envelope pushed over household WebSocket channels
type WSEvent struct {
	Type    WSEventType `json:"type"`
	Payload interface{} `json:"payload"`
}

// CallEventPayload describes a session state change for dashboards
type CallEventPayload struct {
	SessionID       uuid.UUID    `json:"session_id"`
	HouseholdID     uuid.UUID    `json:"household_id"`
	RelativeID      uuid.UUID    `json:"relative_id"`
	State           SessionState `json:"state"`
	Outcome         *CallOutcome `json:"outcome,omitempty"`
	FailReason      *FailReason  `json:"fail_reason,omitempty"`
	DurationSeconds *int         `json:"duration_seconds,omitempty"`
}

// DevicePairedPayload announces a successful pairing claim
type DevicePairedPayload struct {
	HouseholdID uuid.UUID `json:"household_id"`
	RelativeID  uuid.UUID `json:"relative_id"`
	DeviceID    string    `json:"device_id"`
	Platform    Platform  `json:"platform"`
}
