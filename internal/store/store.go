// Package store persists the client credential shared by every UI tab.
package store

import (
	"context"
	"time"

	"github.com/ashureev/chatbridge/internal/domain"
)

// Fixed keys under which the credential is persisted.
const (
	KeyToken = "custom_auth_token"
	KeyUser  = "custom_auth_user"
)

// ChangeEvent reports that the value stored under Key changed, either in
// this process or in another process sharing the same database.
type ChangeEvent struct {
	Key string
}

// TokenStore is the single source of truth for "is the user authenticated".
// None of its methods perform network I/O.
type TokenStore interface {
	// GetToken returns the stored bearer token and whether one is present.
	GetToken(ctx context.Context) (string, bool, error)

	// SetToken stores the bearer token.
	SetToken(ctx context.Context, token string) error

	// ClearToken removes the bearer token.
	ClearToken(ctx context.Context) error

	// GetUser returns the cached profile, or nil if none is stored or the
	// stored value cannot be decoded.
	GetUser(ctx context.Context) (*domain.UserProfile, error)

	// SetUser caches the profile.
	SetUser(ctx context.Context, user *domain.UserProfile) error

	// ClearUser removes the cached profile.
	ClearUser(ctx context.Context) error

	// Clear removes both the token and the profile.
	Clear(ctx context.Context) error

	// IsAuthenticated reports whether a token is present. Read errors
	// count as unauthenticated.
	IsAuthenticated(ctx context.Context) bool

	// Subscribe registers for change events. The returned function
	// unsubscribes and closes the channel.
	Subscribe() (<-chan ChangeEvent, func())

	// Watch polls for writes made by other processes until ctx is done.
	Watch(ctx context.Context, interval time.Duration) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
