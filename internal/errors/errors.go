// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidSignature is returned when a webhook payload fails HMAC
	// verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// ErrBadCredentials marks an authentication failure against the GitHub API.
// Callers should prompt for re-authentication instead of retrying.
type ErrBadCredentials struct {
	Login string
}

func (e *ErrBadCredentials) Error() string {
	if e.Login == "" {
		return "github token is invalid or expired"
	}
	return fmt.Sprintf("github token for %q is invalid or expired", e.Login)
}

// IsBadCredentials reports whether err is (or wraps) an ErrBadCredentials.
func IsBadCredentials(err error) bool {
	var bc *ErrBadCredentials
	return errors.As(err, &bc)
}
