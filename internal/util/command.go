package util

import (
	"errors"
	"strings"
)

// ErrEmptyCommand is returned when a command template expands to nothing.
var ErrEmptyCommand = errors.New("empty command")

// ExpandCommand splits a command template on whitespace and replaces every
// {key} placeholder inside each field with vars[key]. Substitution happens
// after splitting, so values containing spaces stay a single argument.
func ExpandCommand(template string, vars map[string]string) ([]string, error) {
	fields := strings.Fields(template)
	if len(fields) == 0 {
		return nil, ErrEmptyCommand
	}

	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)

	argv := make([]string, len(fields))
	for i, f := range fields {
		argv[i] = r.Replace(f)
	}
	return argv, nil
}
