// Package prereq verifies the host can run an installation before anything is
// touched.
package prereq

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

const EFIDir = "/sys/firmware/efi"

// Error is a failed prerequisite. The installer exits with status 1 on it.
type Error struct {
	Check string
	Err   error
}

func (e *Error) Error() string { return fmt.Sprintf("prerequisite %s: %v", e.Check, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

type Checker struct {
	FS      afero.Fs
	Geteuid func() int
	// Executable returns nil when the current user may execute path.
	Executable func(path string) error
}

// Host checks the running system.
func Host() Checker {
	return Checker{
		FS:      afero.NewOsFs(),
		Geteuid: os.Geteuid,
		Executable: func(path string) error {
			return unix.Access(path, unix.X_OK)
		},
	}
}

// Check runs every check in order and returns the first failure. script is
// the optional custom install script.
func (c Checker) Check(script string) error {
	ok, err := afero.DirExists(c.FS, EFIDir)
	if err != nil {
		return &Error{Check: "efi", Err: err}
	}
	if !ok {
		return &Error{Check: "efi", Err: fmt.Errorf("%s not found; the system must be booted in EFI mode", EFIDir)}
	}
	if uid := c.Geteuid(); uid != 0 {
		return &Error{Check: "root", Err: fmt.Errorf("running as uid %d; the installer must run as root", uid)}
	}
	if script != "" {
		if err := c.Executable(script); err != nil {
			return &Error{Check: "install script", Err: fmt.Errorf("%s is not executable: %w", script, err)}
		}
	}
	return nil
}
