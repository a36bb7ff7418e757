// Package store provides the credential store abstraction shared by the
// authenticator, the attendance fetcher and the realtime channel: durable
// key/value storage for identity and session artifacts.
package store

import "errors"

// ErrNotFound is returned by Get when a key has no stored value.
var ErrNotFound = errors.New("credential not found")

// Well-known storage keys.
const (
	// KeyEmployeeID holds the identity of the logged-in employee.
	KeyEmployeeID = "employeeId"
	// KeySessionCookies holds the session cookie pairs captured at login,
	// already formatted for use as a Cookie request header.
	KeySessionCookies = "sessionCookies"
	// KeyPassword is a legacy key that earlier builds wrote. This module
	// never writes it; Scrub removes any value left behind.
	KeyPassword = "password"
)

// Store is durable key/value storage for identity and session artifacts.
// It is read by multiple components but written only by the authenticator,
// so implementations need only be safe for concurrent use, not
// transactional across keys.
type Store interface {
	// Get retrieves the value for key. Returns ErrNotFound if the key has
	// no stored value.
	Get(key string) (string, error)
	// Set creates or replaces the value for key.
	Set(key, value string) error
	// Delete removes the value for key. Deleting a missing key is a no-op.
	Delete(key string) error
}

// Scrub removes legacy entries that must never be persisted, currently the
// raw password some earlier builds stored alongside the session cookie.
func Scrub(s Store) error {
	return s.Delete(KeyPassword)
}
