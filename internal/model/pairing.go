package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PairingCredential is a short-lived code+token pair that authorizes
// exactly one device to bind itself to a household/relative.
//
// The 6-digit code is shown to the family member and typed on the
// device; the opaque token travels inside the QR payload. A claim must
// present both. Only a bcrypt hash of the token is stored.
type PairingCredential struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	HouseholdID uuid.UUID `json:"household_id" gorm:"type:uuid;not null;index"`
	RelativeID  uuid.UUID `json:"relative_id" gorm:"type:uuid;not null;index"`
	Code        string    `json:"-" gorm:"size:6;not null;index"`
	TokenHash   string    `json:"-" gorm:"size:60;not null"`
	CreatedBy   uuid.UUID `json:"created_by" gorm:"type:uuid;not null"`
	ExpiresAt   time.Time `json:"expires_at" gorm:"not null"`
	// ClaimedBy is the device-reported identifier; NULL until claimed.
	ClaimedBy  *string        `json:"claimed_by" gorm:"size:128"`
	ClaimedAt  *time.Time     `json:"claimed_at"`
	DeviceInfo json.RawMessage `json:"device_info,omitempty" gorm:"type:jsonb"`
	CreatedAt  time.Time      `json:"created_at"`

	Household Household `json:"-" gorm:"foreignKey:HouseholdID"`
	Relative  Relative  `json:"-" gorm:"foreignKey:RelativeID"`
}

// IsExpired checks if the credential is past its TTL
func (p *PairingCredential) IsExpired() bool {
	return time.Now().After(p.ExpiresAt)
}

// IsClaimed checks if the credential has already been consumed
func (p *PairingCredential) IsClaimed() bool {
	return p.ClaimedAt != nil
}

// IsClaimable checks if the credential can still be claimed
func (p *PairingCredential) IsClaimable() bool {
	return !p.IsExpired() && !p.IsClaimed()
}
