package models

import (
	"time"

	"github.com/google/uuid"
)

type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusBlocked KeyStatus = "blocked"
)

// APIKey is the stored part of an issued key. The secret itself is never
// persisted, only its salted hash.
type APIKey struct {
	ID         uuid.UUID
	Prefix     string
	HashedKey  string
	Name       string
	Revoked    bool
	CreatedAt  time.Time
	ExpiryDate *time.Time
}

// Usable reports whether the key is neither revoked nor expired at now.
func (k *APIKey) Usable(now time.Time) bool {
	if k.Revoked {
		return false
	}
	return k.ExpiryDate == nil || now.Before(*k.ExpiryDate)
}

type UserAPIKey struct {
	APIKey
	UserID uuid.UUID
}

type TeamAPIKey struct {
	APIKey
	TeamID   uuid.UUID
	UserID   *uuid.UUID
	Status   KeyStatus
	LastUsed *time.Time
}
