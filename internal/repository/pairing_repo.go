package repository

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/careline/careline-api/internal/model"
)

// PairingRepository handles database operations for pairing credentials
type PairingRepository struct {
	db *gorm.DB
}

func NewPairingRepository(db *gorm.DB) *PairingRepository {
	return &PairingRepository{db: db}
}

// Create inserts a new unclaimed pairing credential
func (r *PairingRepository) Create(cred *model.PairingCredential) error {
	return r.db.Create(cred).Error
}

// FindClaimableByCode returns unclaimed, unexpired credentials matching
// the code. More than one can match: codes are only unique among live
// credentials, and an expired credential may share a code with a fresh
// one. The caller picks the row whose token hash verifies.
func (r *PairingRepository) FindClaimableByCode(code string) ([]model.PairingCredential, error) {
	var creds []model.PairingCredential
	err := r.db.
		Where("code = ? AND expires_at > ? AND claimed_at IS NULL", code, time.Now()).
		Order("created_at DESC").
		Find(&creds).Error
	if err != nil {
		return nil, err
	}
	return creds, nil
}

// CodeInUse reports whether a code is held by any live credential
func (r *PairingRepository) CodeInUse(code string) (bool, error) {
	var count int64
	err := r.db.Model(&model.PairingCredential{}).
		Where("code = ? AND expires_at > ? AND claimed_at IS NULL", code, time.Now()).
		Count(&count).Error
	return count > 0, err
}

// Claim atomically consumes the credential. The conditional WHERE makes
// it safe under concurrent claim attempts: exactly one update matches,
// the loser sees zero rows affected.
func (r *PairingRepository) Claim(credID uuid.UUID, deviceID string, deviceInfo json.RawMessage) (bool, error) {
	now := time.Now()
	res := r.db.Model(&model.PairingCredential{}).
		Where("id = ? AND claimed_at IS NULL AND expires_at > ?", credID, now).
		Updates(map[string]interface{}{
			"claimed_by":  deviceID,
			"claimed_at":  now,
			"device_info": deviceInfo,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CountRecentByHousehold counts credentials issued for a household since
// the given time (issuance rate limiting)
func (r *PairingRepository) CountRecentByHousehold(householdID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&model.PairingCredential{}).
		Where("household_id = ? AND created_at > ?", householdID, since).
		Count(&count).Error
	return count, err
}
