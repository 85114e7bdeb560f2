package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ========== Pairing DTOs ==========

type IssuePairingRequest struct {
	HouseholdID uuid.UUID `json:"household_id" binding:"required"`
	RelativeID  uuid.UUID `json:"relative_id" binding:"required"`
}

type IssuePairingResponse struct {
	ID        uuid.UUID `json:"id"`
	Code      string    `json:"code"`
	Token     string    `json:"token"` // plaintext, returned exactly once for QR encoding
	ExpiresAt string    `json:"expires_at"`
	ExpiresIn int       `json:"expires_in"` // seconds until the credential expires
}

type ClaimPairingRequest struct {
	Code       string          `json:"code" binding:"required,len=6"`
	Token      string          `json:"token" binding:"required"`
	DeviceID   string          `json:"device_id" binding:"required,max=128"`
	Platform   Platform        `json:"platform" binding:"required"`
	PushToken  string          `json:"push_token"`
	VoIPToken  string          `json:"voip_token"`
	AppVersion string          `json:"app_version" binding:"max=32"`
	OSVersion  string          `json:"os_version" binding:"max=32"`
	DeviceInfo json.RawMessage `json:"device_info"`
}

type ClaimPairingResponse struct {
	HouseholdID uuid.UUID `json:"household_id"`
	RelativeID  uuid.UUID `json:"relative_id"`
	DeviceToken string    `json:"device_token"` // JWT the device uses for subsequent calls
}

// ========== Device DTOs ==========

type RegisterPushTokenRequest struct {
	Platform  Platform `json:"platform" binding:"required"`
	PushToken string   `json:"push_token"`
	VoIPToken string   `json:"voip_token"`
}

// ========== Call DTOs ==========

type StartCallRequest struct {
	HouseholdID uuid.UUID `json:"household_id" binding:"required"`
	RelativeID  uuid.UUID `json:"relative_id" binding:"required"`
	CallType    CallType  `json:"call_type" binding:"omitempty,oneof=scheduled adhoc"`
}

type ReportOutcomeRequest struct {
	Outcome         CallOutcome     `json:"outcome" binding:"required"`
	DurationSeconds *int            `json:"duration_seconds"`
	Summary         json.RawMessage `json:"summary"`
}

type AttachConversationRequest struct {
	ProviderConversationID string `json:"provider_conversation_id" binding:"required,max=128"`
}

// ========== Common DTOs ==========

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
