package osinstall

import (
	"bytes"
	"regexp"
	"strconv"

	"github.com/exit9/zfs-installer/internal/ui"
)

var rePercent = regexp.MustCompile(`\s(\d{1,3})%\s`)

// percentWriter feeds the overall percentage from rsync --info=progress2
// output into a progress bar. rsync rewrites its status line with '\r'.
type percentWriter struct {
	bar  ui.Progress
	buf  []byte
	last int
}

func (w *percentWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexAny(w.buf, "\r\n")
		if i < 0 {
			break
		}
		w.line(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *percentWriter) line(l []byte) {
	m := rePercent.FindSubmatch(append(append([]byte{' '}, l...), ' '))
	if m == nil {
		return
	}
	n, err := strconv.Atoi(string(m[1]))
	if err != nil || n > 100 || n < w.last {
		return
	}
	w.last = n
	_ = w.bar.Set(n)
}
