package whatsapp

import (
	"encoding/json"
	"errors"

	"github.com/lhdbsbz/flowbridge/internal/message"
)

// ModeSubscribe is the hub.mode of a subscription handshake.
const ModeSubscribe = "subscribe"

// ErrUnrecognizedPayload means the POST body is not a platform webhook event.
var ErrUnrecognizedPayload = errors.New("unrecognized webhook payload")

// VerifyQuery holds the hub.* query parameters of a subscription handshake.
type VerifyQuery struct {
	Mode      string `form:"hub.mode"`
	Token     string `form:"hub.verify_token"`
	Challenge string `form:"hub.challenge"`
}

type VerifyResult struct {
	Verified  bool
	Challenge string
}

// Verify checks a subscription handshake against the configured secret.
func Verify(q VerifyQuery, secret string) VerifyResult {
	if q.Mode == ModeSubscribe && q.Token != "" && secret != "" && q.Token == secret {
		return VerifyResult{Verified: true, Challenge: q.Challenge}
	}
	return VerifyResult{}
}

// Inbound is a normalized webhook delivery. Action is nil when the event
// carries nothing the bridge acts on (status updates, audio, stickers...).
type Inbound struct {
	Action        *message.Action
	SenderID      string
	SenderName    string
	PhoneNumberID string
	MessageID     string
	MessageType   string
}

// Webhook envelope, trimmed to the fields the bridge reads.

type webhookBody struct {
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

type entry struct {
	ID      string   `json:"id"`
	Changes []change `json:"changes"`
}

type change struct {
	Field string      `json:"field"`
	Value changeValue `json:"value"`
}

type changeValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Metadata         metadata    `json:"metadata"`
	Contacts         []contact   `json:"contacts"`
	Messages         []inMessage `json:"messages"`
}

type metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type inMessage struct {
	From        string       `json:"from"`
	ID          string       `json:"id"`
	Timestamp   string       `json:"timestamp"`
	Type        string       `json:"type"`
	Text        *textBody    `json:"text,omitempty"`
	Audio       *mediaRef    `json:"audio,omitempty"`
	Interactive *interactive `json:"interactive,omitempty"`
}

type textBody struct {
	Body string `json:"body"`
}

type mediaRef struct {
	ID    string `json:"id"`
	Voice bool   `json:"voice"`
}

type interactive struct {
	Type        string     `json:"type"`
	ButtonReply *replyItem `json:"button_reply,omitempty"`
	ListReply   *replyItem `json:"list_reply,omitempty"`
}

type replyItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ParseWebhook extracts the user action from the first message of the first
// change of the first entry. Everything past it is ignored.
func ParseWebhook(body []byte) (*Inbound, error) {
	var wb webhookBody
	if err := json.Unmarshal(body, &wb); err != nil || wb.Object == "" {
		return nil, ErrUnrecognizedPayload
	}

	in := &Inbound{}
	if len(wb.Entry) == 0 || len(wb.Entry[0].Changes) == 0 {
		return in, nil
	}
	value := wb.Entry[0].Changes[0].Value
	if len(value.Messages) == 0 {
		return in, nil
	}

	msg := value.Messages[0]
	in.SenderID = msg.From
	in.MessageID = msg.ID
	in.MessageType = msg.Type
	in.PhoneNumberID = value.Metadata.PhoneNumberID
	if len(value.Contacts) > 0 {
		in.SenderName = value.Contacts[0].Profile.Name
	}

	switch {
	case msg.Text != nil:
		a := message.TextAction(msg.Text.Body)
		in.Action = &a
	case msg.Audio != nil:
		// voice notes are acknowledged without a turn
	case msg.Interactive != nil:
		reply := msg.Interactive.ButtonReply
		if reply == nil {
			reply = msg.Interactive.ListReply
		}
		if reply != nil && reply.ID != "" {
			a := message.ReplyAction(reply.ID, reply.Title)
			in.Action = &a
		}
	}
	return in, nil
}
