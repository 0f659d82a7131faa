package models

import "github.com/google/uuid"

type User struct {
	ID      uuid.UUID `json:"id"`
	Email   string    `json:"email"`
	IsStaff bool      `json:"is_staff"`
}

// Team carries the billing-derived entitlements that gate subscriptions.
type Team struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	IsPrivate        bool      `json:"is_private"`
	ActiveBilling    bool      `json:"active_billing"`
	FeedLimit        int       `json:"feed_limit"`
	AllowedAPIAccess bool      `json:"allowed_api_access"`
}
