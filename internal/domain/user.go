// Package domain contains core domain types for the chatbridge service.
package domain

// UserProfile is the cached read-model of the authenticated identity.
// It may be stale; it is refreshed on load, periodically, and whenever
// another process changes the stored credential.
type UserProfile struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	IsActive bool   `json:"is_active"`
}

// Credential is the persisted bearer token plus the cached profile.
// Expiry is not modeled; it is discovered when a call returns 401.
type Credential struct {
	Token string       `json:"token"`
	User  *UserProfile `json:"user,omitempty"`
}

// Valid reports whether the credential carries a token.
func (c *Credential) Valid() bool {
	return c != nil && c.Token != ""
}
