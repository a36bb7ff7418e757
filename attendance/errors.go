package attendance

import "errors"

var (
	// ErrUnauthorized indicates the session was rejected or has expired.
	// The caller decides whether to re-authenticate; no retry happens here.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrServerError indicates a 5xx response or a malformed payload.
	ErrServerError = errors.New("server error")
)
