package validate

import (
	"errors"
	"regexp"
)

const MinPassphraseLen = 8

var (
	rePoolName = regexp.MustCompile(`^[a-z][a-zA-Z0-9_:.-]+$`)
	reUnsigned = regexp.MustCompile(`^[0-9]+$`)

	ErrBadPoolName        = errors.New("pool name must start with a lowercase letter followed by letters, digits or _:.-")
	ErrBadNumber          = errors.New("value must be a non-negative integer")
	ErrShortPassphrase    = errors.New("passphrase must be at least 8 characters")
	ErrPassphraseMismatch = errors.New("passphrases do not match")
)

func PoolName(s string) error {
	if !rePoolName.MatchString(s) {
		return ErrBadPoolName
	}
	return nil
}

// Unsigned accepts decimal strings of digits only: no sign, no spaces.
func Unsigned(s string) error {
	if !reUnsigned.MatchString(s) {
		return ErrBadNumber
	}
	return nil
}

// PassphraseLength checks a single passphrase entry.
func PassphraseLength(p string) error {
	if len(p) < MinPassphraseLen {
		return ErrShortPassphrase
	}
	return nil
}

// Passphrase checks a passphrase and its repeated entry.
func Passphrase(p, repeat string) error {
	if err := PassphraseLength(p); err != nil {
		return err
	}
	if p != repeat {
		return ErrPassphraseMismatch
	}
	return nil
}
