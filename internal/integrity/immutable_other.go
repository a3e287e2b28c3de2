//go:build !linux

package integrity

import (
	"errors"

	"muckrake/internal/errdefs"
)

var errUnsupported = errors.New("immutable flag not supported on this platform")

// SetImmutable is unsupported off Linux; callers treat PrivilegeDenied as a
// warning and record immutable=false.
func SetImmutable(path string) error {
	return errdefs.PrivilegeDenied("immutable flag unavailable", errUnsupported)
}

// ClearImmutable is a no-op off Linux.
func ClearImmutable(path string) error {
	return nil
}

// IsImmutable always reports false off Linux.
func IsImmutable(path string) (bool, error) {
	return false, nil
}
