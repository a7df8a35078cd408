package config

import (
	"os"

	"github.com/AlecAivazis/survey/v2"
	"golang.org/x/term"
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Survey prompts on the controlling terminal.
type Survey struct {
	Opts []survey.AskOpt
}

func (s Survey) Input(message, def string, check func(string) error) (string, error) {
	var out string
	opts := append(s.Opts, survey.WithValidator(func(ans interface{}) error {
		str, _ := ans.(string)
		return check(str)
	}))
	err := survey.AskOne(&survey.Input{Message: message, Default: def}, &out, opts...)
	return out, err
}

func (s Survey) Password(message string) (string, error) {
	var out string
	err := survey.AskOne(&survey.Password{Message: message}, &out, s.Opts...)
	return out, err
}

func (s Survey) Confirm(message string, def bool) (bool, error) {
	out := def
	err := survey.AskOne(&survey.Confirm{Message: message, Default: def}, &out, s.Opts...)
	return out, err
}

// MultiSelect asks for at least one of options. It fits disks.Chooser.
func (s Survey) MultiSelect(message string, options []string) ([]string, error) {
	var out []string
	opts := append(s.Opts, survey.WithValidator(survey.MinItems(1)))
	err := survey.AskOne(&survey.MultiSelect{Message: message, Options: options}, &out, opts...)
	return out, err
}
