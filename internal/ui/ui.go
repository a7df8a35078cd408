// Package ui renders step banners, informational dialogs and progress bars on
// the operator's terminal.
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
)

type Progress interface {
	Describe(description string)
	Add(n int) error
	Set(n int) error
	Finish() error
}

// ProgressFunc starts a progress indicator with max steps. A nil ProgressFunc
// starts indicators that draw nothing.
type ProgressFunc func(max int, description string) Progress

func (f ProgressFunc) Start(max int, description string) Progress {
	if f == nil {
		return nop{}
	}
	return f(max, description)
}

// Bars draws progress bars on w.
func Bars(w io.Writer) ProgressFunc {
	return func(max int, description string) Progress {
		return progressbar.NewOptions(max,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription(description),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
		)
	}
}

type nop struct{}

func (nop) Describe(string) {}
func (nop) Add(int) error   { return nil }
func (nop) Set(int) error   { return nil }
func (nop) Finish() error   { return nil }

// Banner marks the start of a pipeline step.
func Banner(w io.Writer, title string) {
	line := strings.Repeat("═", len(title)+4)
	c := color.New(color.FgBlue, color.Bold)
	c.Fprintf(w, "\n╔%s╗\n", line)
	c.Fprintf(w, "║  %s  ║\n", title)
	c.Fprintf(w, "╚%s╝\n", line)
}

// Dialogs shows informational messages that wait for the operator. With
// Suppress set they are skipped entirely, for unattended runs.
type Dialogs struct {
	Suppress bool
	Out      io.Writer
	// Wait blocks until the operator acknowledges. Defaults to an Enter prompt.
	Wait func() error
}

func (d Dialogs) Info(title, text string) error {
	if d.Suppress {
		return nil
	}
	color.New(color.FgCyan, color.Bold).Fprintf(d.Out, "\n%s\n", title)
	fmt.Fprintln(d.Out, text)
	if d.Wait != nil {
		return d.Wait()
	}
	var ack string
	return survey.AskOne(&survey.Input{Message: "Press Enter to continue"}, &ack)
}
