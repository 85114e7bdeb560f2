package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/careline/careline-api/internal/model"
)

// DeviceRepository handles database operations for paired elder devices
type DeviceRepository struct {
	db *gorm.DB
}

func NewDeviceRepository(db *gorm.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// Upsert creates the device binding or rebinds an existing device to a
// new household/relative with fresh tokens (claim side effect, and
// re-registration when tokens rotate)
func (r *DeviceRepository) Upsert(device *model.RelativeDevice) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"household_id", "relative_id", "platform",
			"push_token", "voip_token", "app_version", "os_version",
			"paired_at", "updated_at",
		}),
	}).Create(device).Error
}

// FindByDeviceID loads the binding for a device identifier
func (r *DeviceRepository) FindByDeviceID(deviceID string) (*model.RelativeDevice, error) {
	var device model.RelativeDevice
	if err := r.db.First(&device, "device_id = ?", deviceID).Error; err != nil {
		return nil, err
	}
	return &device, nil
}

// FindByRelative resolves the current push target for a relative. The
// lookup happens at dispatch time, never cached, since tokens rotate.
// Most recently paired device wins when several are bound.
func (r *DeviceRepository) FindByRelative(householdID, relativeID uuid.UUID) (*model.RelativeDevice, error) {
	var device model.RelativeDevice
	err := r.db.
		Where("household_id = ? AND relative_id = ?", householdID, relativeID).
		Order("paired_at DESC").
		First(&device).Error
	if err != nil {
		return nil, err
	}
	return &device, nil
}

// UpdatePushTokens refreshes a device's push tokens
func (r *DeviceRepository) UpdatePushTokens(deviceID string, platform model.Platform, pushToken, voipToken string) error {
	return r.db.Model(&model.RelativeDevice{}).
		Where("device_id = ?", deviceID).
		Updates(map[string]interface{}{
			"platform":   platform,
			"push_token": pushToken,
			"voip_token": voipToken,
			"updated_at": time.Now(),
		}).Error
}

// TouchLastSeen records device activity
func (r *DeviceRepository) TouchLastSeen(deviceID string) error {
	now := time.Now()
	return r.db.Model(&model.RelativeDevice{}).
		Where("device_id = ?", deviceID).
		Update("last_seen_at", now).Error
}
