package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Subject distinguishes the two token audiences the API serves
type Subject string

const (
	SubjectFamily Subject = "family"
	SubjectDevice Subject = "device"
)

// Claims represents JWT claims for both family users and paired devices
type Claims struct {
	Subject Subject   `json:"sub_type"`
	UserID  uuid.UUID `json:"user_id,omitempty"`
	// Device fields, set only for device tokens issued at claim time
	DeviceID    string    `json:"device_id,omitempty"`
	HouseholdID uuid.UUID `json:"household_id,omitempty"`
	RelativeID  uuid.UUID `json:"relative_id,omitempty"`
	jwt.RegisteredClaims
}

// IsDevice reports whether the token authenticates a paired device
func (c *Claims) IsDevice() bool {
	return c.Subject == SubjectDevice
}

// JWTManager handles JWT token operations
type JWTManager struct {
	secret       []byte
	familyExpiry time.Duration
	deviceExpiry time.Duration
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(secret string, familyExpiry, deviceExpiry time.Duration) *JWTManager {
	return &JWTManager{
		secret:       []byte(secret),
		familyExpiry: familyExpiry,
		deviceExpiry: deviceExpiry,
	}
}

// GenerateFamilyToken creates a JWT for a family member browser session
func (j *JWTManager) GenerateFamilyToken(userID uuid.UUID) (string, error) {
	claims := &Claims{
		Subject: SubjectFamily,
		UserID:  userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(j.familyExpiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "careline",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// GenerateDeviceToken creates the long-lived JWT a device receives when
// it claims a pairing credential. It is scoped to exactly one
// household/relative binding.
func (j *JWTManager) GenerateDeviceToken(deviceID string, householdID, relativeID uuid.UUID) (string, error) {
	claims := &Claims{
		Subject:     SubjectDevice,
		DeviceID:    deviceID,
		HouseholdID: householdID,
		RelativeID:  relativeID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(j.deviceExpiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "careline",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// ValidateToken parses and validates a JWT token
func (j *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return j.secret, nil
	})

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}
