package parser

import "regexp"

type promptRule struct {
	kind    PromptKind
	pattern *regexp.Regexp
}

// promptRules are evaluated in order against ANSI-stripped, trimmed lines.
var promptRules = []promptRule{
	{
		kind:    KindContinuation,
		pattern: regexp.MustCompile(`(?i)(?:press|hit) (?:enter|return)(?: key)? to continue`),
	},
	{
		kind:    KindTerminalWarning,
		pattern: regexp.MustCompile(`(?i)(?:terminal|console) (?:does not|doesn't|may not) support|not (?:running in|connected to) a (?:real )?terminal|can't initialize prompt toolkit`),
	},
	{
		kind:    KindConfirmation,
		pattern: regexp.MustCompile(`(?i)\(y/n\)|\[y/n\]|\(y\)es/\(n\)o|\[(?:yes|no)\]:\s*$|\(yes/no\)`),
	},
}

func optionsFor(kind PromptKind) []string {
	if kind == KindContinuation {
		return []string{OptionContinue}
	}
	return []string{OptionYes, OptionNo}
}

// cursorReportPattern matches a complete cursor-position report, the reply
// a terminal sends for a cursor query.
var cursorReportPattern = regexp.MustCompile(`^\x1b\[\d{1,4};\d{1,4}R$`)

// IsCursorReport reports whether data is exactly one cursor-position
// report.
func IsCursorReport(data string) bool {
	return cursorReportPattern.MatchString(data)
}
