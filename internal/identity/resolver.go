// Package identity is the boundary to the external user directory that maps
// a phone number to an internal user id.
package identity

import "context"

// Resolver returns the internal user id for a canonical phone, or "" when
// the phone belongs to no known user.
type Resolver interface {
	Resolve(ctx context.Context, phone string) (string, error)
}

// NoopResolver never links conversations; identity is left to the admin API.
type NoopResolver struct{}

func (NoopResolver) Resolve(context.Context, string) (string, error) { return "", nil }

// StaticResolver resolves from a fixed map (config identity.static).
type StaticResolver map[string]string

func (s StaticResolver) Resolve(_ context.Context, phone string) (string, error) {
	return s[phone], nil
}
