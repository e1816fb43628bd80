package parser

// PromptKind names the family of interactive prompt that was detected.
type PromptKind string

const (
	KindConfirmation    PromptKind = "confirmation"
	KindContinuation    PromptKind = "continuation"
	KindTerminalWarning PromptKind = "terminalWarning"
)

// Response options offered to the human for a Prompt.
const (
	OptionYes      = "Yes"
	OptionNo       = "No"
	OptionContinue = "Continue"
)

// Prompt describes output that blocks the child until a human answers it.
type Prompt struct {
	Text    string     `json:"promptText"`
	Options []string   `json:"options"`
	Kind    PromptKind `json:"kind"`
}
