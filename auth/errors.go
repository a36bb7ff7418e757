package auth

import "errors"

var (
	// ErrPageUnreachable indicates the identity provider could not be
	// reached or did not serve the login page.
	ErrPageUnreachable = errors.New("login page unreachable")
	// ErrTokenNotFound indicates the login page markup did not contain a
	// verification token in any recognized encoding. The attempt is fatal;
	// retrying with the same page body cannot succeed.
	ErrTokenNotFound = errors.New("verification token not found")
	// ErrInvalidCredentials indicates the server rejected the submitted
	// credentials.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
