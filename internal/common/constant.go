// Package common contains shared constants and sentinel errors used across
// feedgate components.
package common

// APIKeyHeaderName is the default request header carrying a user or team
// API key in the "<prefix>.<secret>" form.
const APIKeyHeaderName = "API-KEY"

// APIKeyScheme is the optional scheme stripped from key values, as in
// "Authorization: Api-Key <prefix>.<secret>".
const APIKeyScheme = "Api-Key"

// EntitlementErrorCode is the stable machine-readable code returned when a
// team's billing entitlement rejects an operation.
const EntitlementErrorCode = "E01"
