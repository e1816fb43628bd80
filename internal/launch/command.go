package launch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
)

// ErrEmptyCommand is returned for a blank executable setting.
var ErrEmptyCommand = errors.New("launch: empty command")

// SplitCommand turns the configured executable into a program name and the
// arguments that precede aider's own, so "python -m aider" works as well as
// a bare path. Quoting follows POSIX shell rules.
func SplitCommand(command string) (name string, prefix []string, err error) {
	words, err := shellquote.Split(strings.TrimSpace(command))
	if err != nil {
		return "", nil, fmt.Errorf("launch: parse command %q: %w", command, err)
	}
	if len(words) == 0 {
		return "", nil, ErrEmptyCommand
	}
	return words[0], words[1:], nil
}
