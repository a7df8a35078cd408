package zpool

import (
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
)

// Option is one zpool create flag, optionally with a value: "-o ashift=12",
// "-O compression=lz4" or the bare "-d".
type Option struct {
	Flag  string
	Value string
}

type Options []Option

// flags that consume the following token as their value.
var valued = map[string]bool{"-o": true, "-O": true, "-R": true, "-m": true, "-t": true}

// ParseOptions splits a tweak string the way a shell would and groups each
// flag with its value. Positional words (pool names, vdevs) are rejected so a
// tweak string cannot smuggle devices into the create command.
func ParseOptions(s string) (Options, error) {
	words, err := shellquote.Split(s)
	if err != nil {
		return nil, fmt.Errorf("parse options %q: %w", s, err)
	}
	var out Options
	for i := 0; i < len(words); i++ {
		w := words[i]
		if !strings.HasPrefix(w, "-") || w == "-" {
			return nil, fmt.Errorf("parse options %q: unexpected argument %q", s, w)
		}
		if !valued[w] {
			out = append(out, Option{Flag: w})
			continue
		}
		if i+1 >= len(words) || strings.HasPrefix(words[i+1], "-") {
			return nil, fmt.Errorf("parse options %q: %s needs a value", s, w)
		}
		out = append(out, Option{Flag: w, Value: words[i+1]})
		i++
	}
	return out, nil
}

// MustParseOptions is for package-level defaults.
func MustParseOptions(s string) Options {
	o, err := ParseOptions(s)
	if err != nil {
		panic(err)
	}
	return o
}

func (o Options) Args() []string {
	out := make([]string, 0, 2*len(o))
	for _, opt := range o {
		out = append(out, opt.Flag)
		if opt.Value != "" {
			out = append(out, opt.Value)
		}
	}
	return out
}

func (o Options) String() string {
	return shellquote.Join(o.Args()...)
}

// Property returns the value set for name via -o or -O.
func (o Options) Property(name string) (string, bool) {
	for _, opt := range o {
		if opt.Flag != "-o" && opt.Flag != "-O" {
			continue
		}
		if k, v, ok := strings.Cut(opt.Value, "="); ok && k == name {
			return v, true
		}
	}
	return "", false
}

var (
	DefaultBootPoolTweaks = MustParseOptions("-o ashift=12 -o autotrim=on -d " +
		"-o feature@async_destroy=enabled -o feature@bookmarks=enabled -o feature@embedded_data=enabled " +
		"-o feature@empty_bpobj=enabled -o feature@enabled_txg=enabled -o feature@extensible_dataset=enabled " +
		"-o feature@filesystem_limits=enabled -o feature@hole_birth=enabled -o feature@large_blocks=enabled " +
		"-o feature@lz4_compress=enabled -o feature@spacemap_histogram=enabled " +
		"-O acltype=posixacl -O compression=lz4 -O normalization=formD -O relatime=on -O xattr=sa")
	DefaultRootPoolTweaks = MustParseOptions("-o ashift=12 -o autotrim=on " +
		"-O acltype=posixacl -O compression=lz4 -O dnodesize=auto -O normalization=formD -O relatime=on -O xattr=sa")
)
