package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/alttext/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// rawKeyPrefix marks keys issued by this service.
const rawKeyPrefix = "alt_"

// GenerateRawKey returns a new random API key.
func GenerateRawKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return rawKeyPrefix + hex.EncodeToString(buf), nil
}

// NewAPIKey hashes rawKey into a storable key record. The raw key itself is never
// stored.
func NewAPIKey(name, rawKey string, scopes []string) (*models.APIKey, error) {
	if len(rawKey) < KeyPrefixLen*2 {
		return nil, fmt.Errorf("api key must be at least %d characters", KeyPrefixLen*2)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing key: %w", err)
	}
	if scopes == nil {
		scopes = []string{}
	}
	now := time.Now().UTC()
	return &models.APIKey{
		ID:        uuid.New(),
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: rawKey[:KeyPrefixLen],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
