// Package render turns a dialog-engine turn into the ordered WhatsApp messages
// that represent it.
//
// Classification is positional: a text immediately followed by a choice is the
// body of the buttons, and a button message borrows its prompt from the message
// rendered right before it. Render walks the blocks as (current, next) windows
// so both rules only ever look at direct neighbours.
package render

import (
	"time"

	"github.com/lhdbsbz/flowbridge/internal/message"
	"github.com/lhdbsbz/flowbridge/internal/voiceflow"
)

// Result is the rendered turn.
type Result struct {
	Messages []message.Outbound
	// NoReply is the re-prompt delay requested by the turn. Only meaningful
	// when HasNoReply is set.
	NoReply    time.Duration
	HasNoReply bool
}

// Window is a block seen together with the block after it (nil at the end).
type Window struct {
	Cur  voiceflow.Block
	Next voiceflow.Block
}

// Windows pairs every block with its successor.
func Windows(blocks []voiceflow.Block) []Window {
	out := make([]Window, len(blocks))
	for i, b := range blocks {
		out[i].Cur = b
		if i+1 < len(blocks) {
			out[i].Next = blocks[i+1]
		}
	}
	return out
}

// Render converts blocks to outbound messages, preserving block order.
func Render(blocks []voiceflow.Block) Result {
	var r Result
	for _, w := range Windows(blocks) {
		switch b := w.Cur.(type) {
		case voiceflow.TextBlock:
			r.Messages = append(r.Messages, textMessage(RichText(b.Paragraphs), w.Next))
		case voiceflow.SpeakBlock:
			if b.Kind == voiceflow.SpeakAudio {
				r.Messages = append(r.Messages, message.Outbound{Kind: message.KindAudio, URL: b.Src})
				continue
			}
			r.Messages = append(r.Messages, textMessage(b.Message, w.Next))
		case voiceflow.VisualBlock:
			r.Messages = append(r.Messages, message.Outbound{Kind: message.KindImage, URL: b.Image})
		case voiceflow.ChoiceBlock:
			buttons := Buttons(b)
			if len(buttons) == 0 {
				continue
			}
			r.Messages = append(r.Messages, message.Outbound{
				Kind:    message.KindButtons,
				Prompt:  prompt(r.Messages),
				Buttons: buttons,
			})
		case voiceflow.NoReplyBlock:
			r.NoReply, r.HasNoReply = b.Timeout, true
		}
	}
	return r
}

// textMessage classifies text as the body of upcoming buttons or as plain text.
func textMessage(text string, next voiceflow.Block) message.Outbound {
	if _, ok := next.(voiceflow.ChoiceBlock); ok {
		return message.Outbound{Kind: message.KindBody, Body: text}
	}
	return message.Outbound{Kind: message.KindText, Body: text}
}

func prompt(rendered []message.Outbound) string {
	if len(rendered) > 0 {
		if text := rendered[len(rendered)-1].Text(); text != "" {
			return text
		}
	}
	return message.DefaultPrompt
}

// Buttons maps a choice to quick-reply buttons. Link buttons cannot be quick
// replies and are skipped; the result is capped at message.MaxButtons.
func Buttons(c voiceflow.ChoiceBlock) []message.Button {
	var out []message.Button
	for _, b := range c.Buttons {
		if b.LinkURL != "" {
			continue
		}
		id := b.IntentName
		if message.IsPathID(b.RequestType) {
			id = b.RequestType
		}
		if id == "" {
			continue
		}
		out = append(out, message.Button{ID: id, Title: message.TruncateTitle(b.Label)})
		if len(out) == message.MaxButtons {
			break
		}
	}
	return out
}
