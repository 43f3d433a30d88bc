// Package common defines shared constants and sentinel errors used across
// casestore components. Callers should use errors.Is to match these values.
package common

// AccessTokenHeaderName is the metadata key carrying the session access token
// on outbound diagnostics requests.
const AccessTokenHeaderName = "access_token"

// DefaultTenantID is the tenant recorded by single-user (volatile, local)
// stores that have no tenant resolution of their own.
const DefaultTenantID = "local"
