package voiceflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Trace types returned by the interact endpoint.
const (
	TraceText    = "text"
	TraceSpeak   = "speak"
	TraceVisual  = "visual"
	TraceChoice  = "choice"
	TraceNoReply = "no-reply"
	TraceEnd     = "end"
)

// Speak payload kinds.
const (
	SpeakMessage = "message"
	SpeakAudio   = "audio"
)

// ErrMalformedBlock marks a trace block missing a field its type requires.
var ErrMalformedBlock = errors.New("malformed block")

// BlockError reports which block failed to parse and why.
type BlockError struct {
	Index  int
	Type   string
	Reason string
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("%s: block %d (%s): %s", ErrMalformedBlock, e.Index, e.Type, e.Reason)
}

func (e *BlockError) Unwrap() error { return ErrMalformedBlock }

// Block is one item of a turn response.
type Block interface {
	BlockType() string
}

type TextBlock struct {
	Paragraphs []Paragraph
}

// Paragraph is a top-level slate node; its children are the spans.
type Paragraph struct {
	Children []Span `json:"children"`
}

// Span is a slate leaf or inline. Link spans carry Type "link" and a URL.
type Span struct {
	Type          string `json:"type,omitempty"`
	URL           string `json:"url,omitempty"`
	Text          string `json:"text"`
	FontWeight    any    `json:"fontWeight,omitempty"`
	Italic        bool   `json:"italic,omitempty"`
	Underline     bool   `json:"underline,omitempty"`
	StrikeThrough bool   `json:"strikeThrough,omitempty"`
	Children      []Span `json:"children,omitempty"`
}

// Bold reports whether the span has a font weight set.
func (s Span) Bold() bool {
	switch v := s.FontWeight.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	default:
		return true
	}
}

type SpeakBlock struct {
	Kind    string // SpeakMessage | SpeakAudio
	Message string
	Src     string
}

type VisualBlock struct {
	Image string
}

type ChoiceBlock struct {
	Buttons []ChoiceButton
}

// ChoiceButton is a button request as sent by the engine.
type ChoiceButton struct {
	Name        string
	RequestType string
	Label       string
	IntentName  string
	LinkURL     string // set when the button opens a URL
}

type NoReplyBlock struct {
	Timeout time.Duration
}

type EndBlock struct{}

// OtherBlock stands in for trace types the bridge does not render, and for
// malformed blocks, so block adjacency is preserved.
type OtherBlock struct {
	Type string
}

func (TextBlock) BlockType() string    { return TraceText }
func (SpeakBlock) BlockType() string   { return TraceSpeak }
func (VisualBlock) BlockType() string  { return TraceVisual }
func (ChoiceBlock) BlockType() string  { return TraceChoice }
func (NoReplyBlock) BlockType() string { return TraceNoReply }
func (EndBlock) BlockType() string     { return TraceEnd }
func (b OtherBlock) BlockType() string { return b.Type }

// HasEnd reports whether the turn ends the conversation.
func HasEnd(blocks []Block) bool {
	for _, b := range blocks {
		if _, ok := b.(EndBlock); ok {
			return true
		}
	}
	return false
}

type rawTrace struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type textPayload struct {
	Slate *struct {
		Content []Paragraph `json:"content"`
	} `json:"slate"`
	Message *string `json:"message"`
}

type speakPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Src     string `json:"src"`
}

type visualPayload struct {
	Image string `json:"image"`
}

type choicePayload struct {
	Buttons []struct {
		Name    string `json:"name"`
		Request *struct {
			Type    string `json:"type"`
			Payload struct {
				Label   string `json:"label"`
				Intent  *struct {
					Name string `json:"name"`
				} `json:"intent"`
				Actions []struct {
					Type    string `json:"type"`
					Payload struct {
						URL string `json:"url"`
					} `json:"payload"`
				} `json:"actions"`
			} `json:"payload"`
		} `json:"request"`
	} `json:"buttons"`
}

type noReplyPayload struct {
	Timeout *float64 `json:"timeout"`
}

// ParseTrace validates each block at the boundary. Malformed blocks are
// replaced by OtherBlock and reported through the joined error; the returned
// slice always has one entry per raw block.
func ParseTrace(data []byte) ([]Block, error) {
	var raw []rawTrace
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode trace: %w", err)
	}
	blocks := make([]Block, 0, len(raw))
	var errs []error
	for i, r := range raw {
		b, reason := parseBlock(r)
		if reason != "" {
			errs = append(errs, &BlockError{Index: i, Type: r.Type, Reason: reason})
			b = OtherBlock{Type: r.Type}
		}
		blocks = append(blocks, b)
	}
	return blocks, errors.Join(errs...)
}

func parseBlock(r rawTrace) (Block, string) {
	switch r.Type {
	case TraceText:
		var p textPayload
		if err := decodePayload(r.Payload, &p); err != nil {
			return nil, err.Error()
		}
		if p.Slate != nil {
			return TextBlock{Paragraphs: p.Slate.Content}, ""
		}
		if p.Message != nil {
			return TextBlock{Paragraphs: []Paragraph{{Children: []Span{{Text: *p.Message}}}}}, ""
		}
		return nil, "missing slate content"
	case TraceSpeak:
		var p speakPayload
		if err := decodePayload(r.Payload, &p); err != nil {
			return nil, err.Error()
		}
		if p.Type == SpeakAudio {
			if p.Src == "" {
				return nil, "missing audio src"
			}
			return SpeakBlock{Kind: SpeakAudio, Src: p.Src}, ""
		}
		return SpeakBlock{Kind: SpeakMessage, Message: p.Message}, ""
	case TraceVisual:
		var p visualPayload
		if err := decodePayload(r.Payload, &p); err != nil {
			return nil, err.Error()
		}
		if p.Image == "" {
			return nil, "missing image"
		}
		return VisualBlock{Image: p.Image}, ""
	case TraceChoice:
		var p choicePayload
		if err := decodePayload(r.Payload, &p); err != nil {
			return nil, err.Error()
		}
		buttons := make([]ChoiceButton, 0, len(p.Buttons))
		for _, b := range p.Buttons {
			if b.Request == nil {
				continue
			}
			cb := ChoiceButton{
				Name:        b.Name,
				RequestType: b.Request.Type,
				Label:       b.Request.Payload.Label,
			}
			if cb.Label == "" {
				cb.Label = b.Name
			}
			if b.Request.Payload.Intent != nil {
				cb.IntentName = b.Request.Payload.Intent.Name
			}
			if acts := b.Request.Payload.Actions; len(acts) > 0 {
				cb.LinkURL = acts[0].Payload.URL
			}
			buttons = append(buttons, cb)
		}
		return ChoiceBlock{Buttons: buttons}, ""
	case TraceNoReply:
		var p noReplyPayload
		if err := decodePayload(r.Payload, &p); err != nil {
			return nil, err.Error()
		}
		if p.Timeout == nil || *p.Timeout <= 0 {
			return nil, "missing timeout"
		}
		return NoReplyBlock{Timeout: time.Duration(*p.Timeout * float64(time.Second))}, ""
	case TraceEnd:
		return EndBlock{}, ""
	default:
		return OtherBlock{Type: r.Type}, ""
	}
}

func decodePayload(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return errors.New("missing payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
