package repository

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/careline/careline-api/internal/model"
)

// HouseholdRepository handles database operations for households,
// members and relatives
type HouseholdRepository struct {
	db *gorm.DB
}

func NewHouseholdRepository(db *gorm.DB) *HouseholdRepository {
	return &HouseholdRepository{db: db}
}

// IsMember reports whether the user belongs to the household
func (r *HouseholdRepository) IsMember(householdID, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.Model(&model.HouseholdMember{}).
		Where("household_id = ? AND user_id = ?", householdID, userID).
		Count(&count).Error
	return count > 0, err
}

// FindMember loads a member row (for email/name when mailing codes)
func (r *HouseholdRepository) FindMember(householdID, userID uuid.UUID) (*model.HouseholdMember, error) {
	var member model.HouseholdMember
	err := r.db.
		Where("household_id = ? AND user_id = ?", householdID, userID).
		First(&member).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// FindRelative loads a relative and verifies it belongs to the household
func (r *HouseholdRepository) FindRelative(householdID, relativeID uuid.UUID) (*model.Relative, error) {
	var relative model.Relative
	err := r.db.
		Where("id = ? AND household_id = ?", relativeID, householdID).
		First(&relative).Error
	if err != nil {
		return nil, err
	}
	return &relative, nil
}
