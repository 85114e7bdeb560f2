package model

import (
	"time"

	"github.com/google/uuid"
)

// Platform is the closed set of push platforms a device can register as
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
	// PlatformWeb devices have no push token; they are reached through
	// the already-open in-app WebSocket channel.
	PlatformWeb Platform = "web"
)

// Valid reports whether the platform is recognized
func (p Platform) Valid() bool {
	switch p {
	case PlatformAndroid, PlatformIOS, PlatformWeb:
		return true
	}
	return false
}

// RelativeDevice is a paired elder device and its push target binding.
// A push token is bound to exactly one (household, relative) pair; a
// device re-registering supersedes its previous row by DeviceID.
type RelativeDevice struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	HouseholdID uuid.UUID `json:"household_id" gorm:"type:uuid;not null;index"`
	RelativeID  uuid.UUID `json:"relative_id" gorm:"type:uuid;not null;index"`
	// DeviceID is the device's self-reported stable identifier.
	DeviceID  string   `json:"device_id" gorm:"size:128;not null;uniqueIndex"`
	Platform  Platform `json:"platform" gorm:"size:16;not null;default:'web'"`
	PushToken string   `json:"-" gorm:"size:512"`
	// VoIPToken is the separate PushKit token iOS devices register for
	// call-priority wake; empty when the device does not support it.
	VoIPToken    string     `json:"-" gorm:"size:512"`
	AppVersion   string     `json:"app_version" gorm:"size:32"`
	OSVersion    string     `json:"os_version" gorm:"size:32"`
	PairedAt     time.Time  `json:"paired_at"`
	LastSeenAt   *time.Time `json:"last_seen_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	Household Household `json:"-" gorm:"foreignKey:HouseholdID"`
	Relative  Relative  `json:"-" gorm:"foreignKey:RelativeID"`
}

// SupportsVoIPWake reports whether the device can receive
// call-priority VoIP pushes
func (d *RelativeDevice) SupportsVoIPWake() bool {
	return d.Platform == PlatformIOS && d.VoIPToken != ""
}

// HasPushToken reports whether any push token is on file
func (d *RelativeDevice) HasPushToken() bool {
	return d.PushToken != "" || d.VoIPToken != ""
}
