package validate

import (
	"errors"
	"testing"
)

func TestPoolName(t *testing.T) {
	for _, ok := range []string{"bpool", "rpool", "r-pool.2", "tank_a:b"} {
		if err := PoolName(ok); err != nil {
			t.Fatalf("expected %q to be valid: %v", ok, err)
		}
	}
	for _, bad := range []string{"1pool", "Bpool", "", "p", "r pool", "-pool"} {
		if err := PoolName(bad); !errors.Is(err, ErrBadPoolName) {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestUnsigned(t *testing.T) {
	for _, ok := range []string{"0", "2", "120"} {
		if err := Unsigned(ok); err != nil {
			t.Fatalf("expected %q valid", ok)
		}
	}
	for _, bad := range []string{"-1", "abc", "", " 1", "1.5"} {
		if err := Unsigned(bad); !errors.Is(err, ErrBadNumber) {
			t.Fatalf("expected %q rejected", bad)
		}
	}
}

func TestPassphrase(t *testing.T) {
	cases := []struct {
		p, r string
		want error
	}{
		{"short", "short", ErrShortPassphrase},
		{"1234567", "1234567", ErrShortPassphrase},
		{"longenough", "longenougH", ErrPassphraseMismatch},
		{"12345678", "12345678", nil},
		{"correct horse", "correct horse", nil},
	}
	for _, c := range cases {
		if err := Passphrase(c.p, c.r); !errors.Is(err, c.want) {
			t.Fatalf("Passphrase(%q,%q) = %v, want %v", c.p, c.r, err, c.want)
		}
	}
}
