package message

import (
	"encoding/json"
	"strings"
)

// Action kinds understood by the dialog engine.
const (
	ActionText    = "text"
	ActionPath    = "path"
	ActionIntent  = "intent"
	ActionNoReply = "no-reply"
)

// PathPrefix marks button ids that name a dialog path rather than an intent.
const PathPrefix = "path-"

// Action is the single normalized user action of one turn.
type Action struct {
	Kind   string `json:"kind"`
	Text   string `json:"text,omitempty"`   // text
	PathID string `json:"pathId,omitempty"` // path
	Label  string `json:"label,omitempty"`  // path
	Query  string `json:"query,omitempty"`  // intent
	Intent string `json:"intent,omitempty"` // intent
}

func TextAction(body string) Action { return Action{Kind: ActionText, Text: body} }

func PathAction(pathID, label string) Action {
	return Action{Kind: ActionPath, PathID: pathID, Label: label}
}

func IntentAction(query, intent string) Action {
	return Action{Kind: ActionIntent, Query: query, Intent: intent}
}

func NoReplyAction() Action { return Action{Kind: ActionNoReply} }

// ReplyAction maps a quick-reply button back to an action using the path- prefix convention.
func ReplyAction(id, title string) Action {
	if IsPathID(id) {
		return PathAction(id, title)
	}
	return IntentAction(title, id)
}

func IsPathID(id string) bool { return strings.HasPrefix(id, PathPrefix) }

// Wire returns the dialog-engine request action for a.
func (a Action) Wire() json.RawMessage {
	var v any
	switch a.Kind {
	case ActionText:
		v = map[string]any{"type": "text", "payload": a.Text}
	case ActionPath:
		v = map[string]any{"type": a.PathID, "payload": map[string]any{"label": a.Label}}
	case ActionIntent:
		v = map[string]any{
			"type": "intent",
			"payload": map[string]any{
				"query":    a.Query,
				"intent":   map[string]any{"name": a.Intent},
				"entities": []any{},
			},
		}
	default:
		v = map[string]any{"type": ActionNoReply}
	}
	data, _ := json.Marshal(v)
	return data
}

// Outbound message kinds.
const (
	KindText    = "text"
	KindBody    = "body" // text that introduces the buttons right after it
	KindImage   = "image"
	KindAudio   = "audio"
	KindButtons = "buttons"
)

// MaxButtons is the platform limit of quick-reply buttons per message.
const MaxButtons = 3

// MaxButtonTitle is the platform limit for a button title, in characters.
const MaxButtonTitle = 20

// DefaultPrompt is shown above buttons that have no preceding text.
const DefaultPrompt = "Make your choice"

// Outbound is one message to deliver to the user.
type Outbound struct {
	Kind    string   `json:"kind"`
	Body    string   `json:"body,omitempty"`   // text, body
	URL     string   `json:"url,omitempty"`    // image, audio
	Prompt  string   `json:"prompt,omitempty"` // buttons
	Buttons []Button `json:"buttons,omitempty"`
}

type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Text returns the displayable text of a text or body message, "" otherwise.
func (o Outbound) Text() string {
	if o.Kind == KindText || o.Kind == KindBody {
		return o.Body
	}
	return ""
}

// TruncateTitle shortens s to MaxButtonTitle characters, ending with an ellipsis when cut.
func TruncateTitle(s string) string {
	r := []rune(s)
	if len(r) <= MaxButtonTitle {
		return s
	}
	return string(r[:MaxButtonTitle-1]) + "…"
}
