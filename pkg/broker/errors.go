package broker

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for every way a login can be refused. The API layer
// maps these onto Matrix error codes; anything else is an internal
// failure and reads as M_UNKNOWN.
var (
	// ErrMissingParameter means neither credential kind was supplied.
	ErrMissingParameter = errors.New("missing login credentials")

	// ErrInvalidCredential means the token or session did not verify.
	// Deliberately carries no detail about which check failed.
	ErrInvalidCredential = errors.New("invalid credentials")

	// ErrForbidden means the identity verified but its email domain is
	// outside the allow-list.
	ErrForbidden = errors.New("email domain not allowed")

	// ErrProvisioning means the local account could not be created or
	// updated. The client did nothing wrong.
	ErrProvisioning = errors.New("account provisioning failed")
)

// RateLimitedError is returned when the client is locked out. It carries
// the wait the API layer surfaces as a Retry-After header.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many failed login attempts, retry in %s", e.RetryAfter.Round(time.Second))
}

// IsRateLimited unwraps err into a RateLimitedError if it is one.
func IsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
