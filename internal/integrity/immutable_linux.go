//go:build linux

package integrity

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"muckrake/internal/errdefs"
	"muckrake/internal/logging"
)

// SetImmutable sets the kernel immutable attribute (chattr +i equivalent).
// Requires CAP_LINUX_IMMUTABLE; failure for lack of privilege is reported
// as PrivilegeDenied so callers can downgrade it to a warning.
func SetImmutable(path string) error {
	return updateFlags(path, func(flags int) int { return flags | unix.FS_IMMUTABLE_FL })
}

// ClearImmutable clears the kernel immutable attribute.
func ClearImmutable(path string) error {
	return updateFlags(path, func(flags int) int { return flags &^ unix.FS_IMMUTABLE_FL })
}

// IsImmutable reports whether the immutable attribute is set.
func IsImmutable(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, errdefs.IO(fmt.Sprintf("failed to open %s", path), err)
	}
	defer f.Close()

	flags, err := unix.IoctlGetInt(int(f.Fd()), unix.FS_IOC_GETFLAGS)
	if err != nil {
		// Filesystems without attribute support report not-immutable.
		if errors.Is(err, unix.ENOTTY) || errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.EOPNOTSUPP) {
			return false, nil
		}
		return false, errdefs.IO(fmt.Sprintf("failed to read attributes of %s", path), err)
	}
	return flags&unix.FS_IMMUTABLE_FL != 0, nil
}

func updateFlags(path string, update func(int) int) error {
	f, err := os.Open(path)
	if err != nil {
		return errdefs.IO(fmt.Sprintf("failed to open %s", path), err)
	}
	defer f.Close()

	fd := int(f.Fd())
	flags, err := unix.IoctlGetInt(fd, unix.FS_IOC_GETFLAGS)
	if err != nil {
		return classifyFlagErr(path, err)
	}

	updated := update(flags)
	if updated == flags {
		return nil
	}

	if err := unix.IoctlSetPointerInt(fd, unix.FS_IOC_SETFLAGS, updated); err != nil {
		return classifyFlagErr(path, err)
	}
	logging.Get(logging.CategoryIntegrity).Debugw("updated attribute flags",
		"path", path, "flags", updated)
	return nil
}

func classifyFlagErr(path string, err error) error {
	if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
		return errdefs.PrivilegeDenied(fmt.Sprintf("immutable flag on %s requires privileges", path), err)
	}
	if errors.Is(err, unix.ENOTTY) || errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.EOPNOTSUPP) {
		return errdefs.PrivilegeDenied(fmt.Sprintf("filesystem does not support immutable flag for %s", path), err)
	}
	return errdefs.IO(fmt.Sprintf("failed to change attributes of %s", path), err)
}
