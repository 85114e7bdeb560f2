package main

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/careline/careline-api/internal/config"
	"github.com/careline/careline-api/internal/model"
)

func main() {
	// Load config
	cfg := config.Load()

	// Force DB logging off to avoid noise
	db, err := gorm.Open(postgres.Open(cfg.DB.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	log.Println("✅ Connected to Database")

	log.Println("🌱 Seeding demo household...")

	household := seedHousehold(db)
	seedMembers(db, household.ID)
	relative := seedRelative(db, household.ID)
	seedDevice(db, household.ID, relative.ID)

	log.Println("🎉 Seeding completed!")
}

func seedHousehold(db *gorm.DB) *model.Household {
	var existing model.Household
	if err := db.Where("name = ?", "Demo Household").First(&existing).Error; err == nil {
		log.Printf("🔄 Household already exists: %s", existing.ID)
		return &existing
	}

	household := model.Household{
		ID:       uuid.New(),
		Name:     "Demo Household",
		Timezone: "Europe/Berlin",
	}
	if err := db.Create(&household).Error; err != nil {
		log.Fatalf("❌ Failed to create household: %v", err)
	}
	log.Printf("✅ Created household: %s", household.ID)
	return &household
}

func seedMembers(db *gorm.DB, householdID uuid.UUID) {
	roles := []model.MemberRole{model.MemberRoleOwner, model.MemberRoleCaregiver}
	for i, role := range roles {
		email := fmt.Sprintf("family%d@careline.local", i+1)

		var count int64
		db.Model(&model.HouseholdMember{}).
			Where("household_id = ? AND email = ?", householdID, email).
			Count(&count)
		if count > 0 {
			continue
		}

		member := model.HouseholdMember{
			HouseholdID: householdID,
			UserID:      uuid.New(),
			Role:        role,
			Email:       email,
			Name:        fmt.Sprintf("Family Member %d", i+1),
		}
		if err := db.Create(&member).Error; err != nil {
			log.Printf("❌ Failed to create member %s: %v", email, err)
		} else {
			log.Printf("✅ Created member: %s | UserID: %s | Role: %s", email, member.UserID, role)
		}
	}
}

func seedRelative(db *gorm.DB, householdID uuid.UUID) *model.Relative {
	var existing model.Relative
	if err := db.Where("household_id = ? AND display_name = ?", householdID, "Oma Greta").First(&existing).Error; err == nil {
		return &existing
	}

	relative := model.Relative{
		ID:          uuid.New(),
		HouseholdID: householdID,
		DisplayName: "Oma Greta",
		Locale:      "de",
	}
	if err := db.Create(&relative).Error; err != nil {
		log.Fatalf("❌ Failed to create relative: %v", err)
	}
	log.Printf("✅ Created relative: %s (%s)", relative.DisplayName, relative.ID)
	return &relative
}

func seedDevice(db *gorm.DB, householdID, relativeID uuid.UUID) {
	deviceID := "demo-tablet-001"

	var existing model.RelativeDevice
	if err := db.Where("device_id = ?", deviceID).First(&existing).Error; err == nil {
		log.Printf("🔄 Device already paired: %s", deviceID)
		return
	}

	now := time.Now()
	device := model.RelativeDevice{
		ID:          uuid.New(),
		HouseholdID: householdID,
		RelativeID:  relativeID,
		DeviceID:    deviceID,
		Platform:    model.PlatformAndroid,
		PushToken:   "demo-fcm-token",
		AppVersion:  "1.0.0",
		OSVersion:   "Android 14",
		PairedAt:    now,
		LastSeenAt:  &now,
	}
	if err := db.Create(&device).Error; err != nil {
		log.Printf("❌ Failed to create device: %v", err)
	} else {
		log.Printf("✅ Created paired device: %s", deviceID)
	}
}
