package whatsapp

import (
	"fmt"

	"github.com/lhdbsbz/flowbridge/internal/message"
)

// Payload is the JSON body of a Cloud API send-message call.
type Payload struct {
	MessagingProduct string              `json:"messaging_product"`
	RecipientType    string              `json:"recipient_type"`
	To               string              `json:"to"`
	Type             string              `json:"type"`
	Text             *TextPayload        `json:"text,omitempty"`
	Image            *MediaPayload       `json:"image,omitempty"`
	Audio            *MediaPayload       `json:"audio,omitempty"`
	Interactive      *InteractivePayload `json:"interactive,omitempty"`
}

type TextPayload struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type MediaPayload struct {
	Link string `json:"link"`
}

type InteractivePayload struct {
	Type   string            `json:"type"`
	Body   InteractiveBody   `json:"body"`
	Action InteractiveAction `json:"action"`
}

type InteractiveBody struct {
	Text string `json:"text"`
}

type InteractiveAction struct {
	Buttons []ReplyButton `json:"buttons"`
}

type ReplyButton struct {
	Type  string    `json:"type"`
	Reply replyItem `json:"reply"`
}

// BuildPayload maps an outbound message to its Cloud API body.
// Body messages are delivered as plain text.
func BuildPayload(to string, msg message.Outbound) (*Payload, error) {
	p := &Payload{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
	}
	switch msg.Kind {
	case message.KindText, message.KindBody:
		p.Type = "text"
		p.Text = &TextPayload{PreviewURL: true, Body: msg.Body}
	case message.KindImage:
		p.Type = "image"
		p.Image = &MediaPayload{Link: msg.URL}
	case message.KindAudio:
		p.Type = "audio"
		p.Audio = &MediaPayload{Link: msg.URL}
	case message.KindButtons:
		prompt := msg.Prompt
		if prompt == "" {
			prompt = message.DefaultPrompt
		}
		buttons := make([]ReplyButton, 0, len(msg.Buttons))
		for _, b := range msg.Buttons {
			buttons = append(buttons, ReplyButton{Type: "reply", Reply: replyItem{ID: b.ID, Title: b.Title}})
		}
		p.Type = "interactive"
		p.Interactive = &InteractivePayload{
			Type:   "button",
			Body:   InteractiveBody{Text: prompt},
			Action: InteractiveAction{Buttons: buttons},
		}
	default:
		return nil, fmt.Errorf("unsupported message kind %q", msg.Kind)
	}
	return p, nil
}
