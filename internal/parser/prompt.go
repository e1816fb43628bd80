package parser

import (
	"fmt"
	"strings"
)

// Classify reports whether text is an interactive prompt. Matching runs on
// the ANSI-stripped, trimmed text so colors and cursor movement around the
// prompt do not matter.
func Classify(text string) (Prompt, bool) {
	clean := strings.TrimSpace(StripANSI(text))
	if clean == "" {
		return Prompt{}, false
	}
	for _, rule := range promptRules {
		if rule.pattern.MatchString(clean) {
			return Prompt{
				Text:    clean,
				Options: optionsFor(rule.kind),
				Kind:    rule.kind,
			}, true
		}
	}
	return Prompt{}, false
}

// ResponseKeys translates a prompt option chosen by the human into the
// keystrokes the child expects.
func ResponseKeys(option string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(option)) {
	case "yes", "y":
		return "y\r", nil
	case "no", "n":
		return "n\r", nil
	case "continue":
		return "\r", nil
	default:
		return "", fmt.Errorf("unknown prompt response %q", option)
	}
}

// Sanitize drops C0 control bytes and DEL from user-typed chat text. Line
// endings are dropped too; the caller terminates the message itself.
func Sanitize(text string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, text)
}
