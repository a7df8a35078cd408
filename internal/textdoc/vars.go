package textdoc

import (
	"strings"
)

// assignment splits an active KEY=value line. Comments and blank lines are
// not assignments.
func assignment(line string) (key, value string, ok bool) {
	t := strings.TrimSpace(line)
	if t == "" || strings.HasPrefix(t, "#") {
		return "", "", false
	}
	t = strings.TrimPrefix(t, "export ")
	k, v, found := strings.Cut(t, "=")
	if !found || k == "" || strings.ContainsAny(k, " \t") {
		return "", "", false
	}
	return k, unquote(v), true
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

func quote(v string) string {
	if v == "" || strings.ContainsAny(v, " \t\"'$`\\;&|<>()") {
		return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", `\$`, "`", "\\`").Replace(v) + `"`
	}
	return v
}

// Get returns the value of the last active assignment of key.
func (d *Document) Get(key string) (string, bool) {
	val, found := "", false
	for _, l := range d.lines {
		if k, v, ok := assignment(l); ok && k == key {
			val, found = v, true
		}
	}
	return val, found
}

// Set replaces the first active assignment of key, drops any later duplicates
// and appends the assignment when key is absent.
func (d *Document) Set(key, value string) {
	line := key + "=" + quote(value)
	out := make([]string, 0, len(d.lines)+1)
	done := false
	for _, l := range d.lines {
		if k, _, ok := assignment(l); ok && k == key {
			if !done {
				out = append(out, line)
				done = true
			}
			continue
		}
		out = append(out, l)
	}
	if !done {
		out = append(out, line)
	}
	d.lines = out
}

// Unset removes every active assignment of key.
func (d *Document) Unset(key string) {
	out := d.lines[:0:0]
	for _, l := range d.lines {
		if k, _, ok := assignment(l); ok && k == key {
			continue
		}
		out = append(out, l)
	}
	d.lines = out
}

// UnsetPrefix removes every active assignment whose key starts with prefix.
func (d *Document) UnsetPrefix(prefix string) {
	out := d.lines[:0:0]
	for _, l := range d.lines {
		if k, _, ok := assignment(l); ok && strings.HasPrefix(k, prefix) {
			continue
		}
		out = append(out, l)
	}
	d.lines = out
}
