// Package llm provides the client to the external text-generation backend.
package llm

// ChatMode selects how the backend drives its upstream chat.
type ChatMode string

const (
	ChatModeNew       ChatMode = "new"
	ChatModeContinue  ChatMode = "continue"
	ChatModeIncognito ChatMode = "incognito"
)

// GenerateRequest is the payload sent to the backend's /generate endpoint.
type GenerateRequest struct {
	Prompt   string   `json:"prompt"`
	ChatMode ChatMode `json:"chat_mode"`
	ChatURL  string   `json:"chat_url,omitempty"`
}

// GenerateResponse is the backend's reply. Ok and Text are pointers because
// the backend may omit either; an explicit ok=false or a missing text is a
// non-fatal "unheard" outcome, not an error.
type GenerateResponse struct {
	Ok           *bool   `json:"ok"`
	Text         *string `json:"text"`
	ChatModeUsed string  `json:"chat_mode_used"`
	ChatURL      string  `json:"chat_url"`
}

// Usable reports whether the response carries text the dialog can work
// with: ok is not explicitly false and text is present.
func (r *GenerateResponse) Usable() bool {
	if r == nil {
		return false
	}
	if r.Ok != nil && !*r.Ok {
		return false
	}
	return r.Text != nil
}
