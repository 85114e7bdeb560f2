package model

import (
	"time"

	"github.com/google/uuid"
)

// MemberRole defines a family member's role within a household
type MemberRole string

const (
	MemberRoleOwner     MemberRole = "owner"
	MemberRoleCaregiver MemberRole = "caregiver"
)

// Household groups the family members caring for one or more relatives
type Household struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Name      string    `json:"name" gorm:"size:100;not null"`
	Timezone  string    `json:"timezone" gorm:"size:64;default:'UTC'"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HouseholdMember links a family user account to a household
type HouseholdMember struct {
	HouseholdID uuid.UUID  `json:"household_id" gorm:"type:uuid;primaryKey"`
	UserID      uuid.UUID  `json:"user_id" gorm:"type:uuid;primaryKey;index"`
	Role        MemberRole `json:"role" gorm:"size:16;not null;default:'caregiver'"`
	Email       string     `json:"email" gorm:"size:255;not null"`
	Name        string     `json:"name" gorm:"size:100;not null"`
	JoinedAt    time.Time  `json:"joined_at" gorm:"autoCreateTime"`

	Household Household `json:"-" gorm:"foreignKey:HouseholdID"`
}

// Relative is the elder being cared for; the target of pairing and calls
type Relative struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	HouseholdID uuid.UUID `json:"household_id" gorm:"type:uuid;not null;index"`
	DisplayName string    `json:"display_name" gorm:"size:100;not null"`
	Locale      string    `json:"locale" gorm:"size:10;default:'en'"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Household Household `json:"-" gorm:"foreignKey:HouseholdID"`
}
