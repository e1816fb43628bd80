package hub

// Commands sent to the display surface.
const (
	CmdUpdateConversation    = "updateConversation"
	CmdClearTerminal         = "clearTerminal"
	CmdShowInteractivePrompt = "showInteractivePrompt"
	CmdHideInteractivePrompt = "hideInteractivePrompt"
	CmdSessionStatus         = "sessionStatus"
	CmdAvailableModels       = "availableModels"
	CmdError                 = "error"
)

// Commands received from the display surface.
const (
	CmdWebviewReady        = "webviewReady"
	CmdTerminalResize      = "terminalResize"
	CmdTerminalInput       = "terminalInput"
	CmdInteractiveResponse = "interactiveResponse"
	CmdSendToAider         = "sendToAider"
	CmdSendCurrentFile     = "sendCurrentFile"
	CmdStartNewChat        = "startNewChat"
)

type ConversationMessage struct {
	Command string `json:"command"`
	Text    string `json:"text"`
}

// CommandMessage carries no fields beyond the command name.
type CommandMessage struct {
	Command string `json:"command"`
}

type PromptMessage struct {
	Command    string   `json:"command"`
	PromptText string   `json:"promptText"`
	Options    []string `json:"options"`
	Kind       string   `json:"kind,omitempty"`
}

type StatusMessage struct {
	Command   string `json:"command"`
	State     string `json:"state"`
	Running   bool   `json:"running"`
	SessionID string `json:"sessionId,omitempty"`
	Model     string `json:"model,omitempty"`
	WorkDir   string `json:"workDir,omitempty"`
	Cols      uint16 `json:"cols,omitempty"`
	Rows      uint16 `json:"rows,omitempty"`
}

type ModelInfo struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

type ModelsMessage struct {
	Command string      `json:"command"`
	Models  []ModelInfo `json:"models"`
	Current string      `json:"current,omitempty"`
}

type ErrorMessage struct {
	Command string `json:"command"`
	Message string `json:"message"`
}

// ClientMessage is the union of every inbound envelope.
type ClientMessage struct {
	Command  string `json:"command"`
	Cols     int    `json:"cols,omitempty"`
	Rows     int    `json:"rows,omitempty"`
	Data     string `json:"data,omitempty"`
	IsCPR    bool   `json:"isCPR,omitempty"`
	Response string `json:"response,omitempty"`
	Text     string `json:"text,omitempty"`
	Model    string `json:"model,omitempty"`
	Path     string `json:"path,omitempty"`
}

type outboundKind int

const (
	outboundPlain outboundKind = iota
	outboundConversation
	outboundClear
	outboundShowPrompt
	outboundHidePrompt
)

// hubBroadcast is one encoded envelope plus what the run loop needs to keep
// its replay state current.
type hubBroadcast struct {
	data []byte
	kind outboundKind
	text string
}
