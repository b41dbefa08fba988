package render

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/lhdbsbz/flowbridge/internal/message"
	"github.com/lhdbsbz/flowbridge/internal/voiceflow"
)

func plainText(s string) voiceflow.TextBlock {
	return voiceflow.TextBlock{Paragraphs: []voiceflow.Paragraph{{Children: []voiceflow.Span{{Text: s}}}}}
}

func pathButton(id, label string) voiceflow.ChoiceButton {
	return voiceflow.ChoiceButton{Name: label, RequestType: id, Label: label}
}

func TestRichText(t *testing.T) {
	tests := []struct {
		name  string
		paras []voiceflow.Paragraph
		want  string
	}{
		{
			name:  "bold and plain",
			paras: []voiceflow.Paragraph{{Children: []voiceflow.Span{{Text: "hi", FontWeight: "700"}, {Text: " there"}}}},
			want:  "*hi* there\n",
		},
		{
			name:  "italic strike underline",
			paras: []voiceflow.Paragraph{{Children: []voiceflow.Span{{Text: "a", Italic: true}, {Text: "b", StrikeThrough: true}, {Text: "c", Underline: true}}}},
			want:  "_a_~b~c\n",
		},
		{
			name:  "link contributes url",
			paras: []voiceflow.Paragraph{{Children: []voiceflow.Span{{Text: "see "}, {Type: "link", URL: "https://x.io", Children: []voiceflow.Span{{Text: "here"}}}}}},
			want:  "see https://x.io\n",
		},
		{
			name:  "empty spans and paragraphs",
			paras: []voiceflow.Paragraph{{Children: []voiceflow.Span{{Text: "", FontWeight: "700"}}}, {Children: []voiceflow.Span{{Text: "x"}}}},
			want:  "\nx\n",
		},
		{
			name:  "bold wins over italic",
			paras: []voiceflow.Paragraph{{Children: []voiceflow.Span{{Text: "z", FontWeight: "700", Italic: true}}}},
			want:  "*z*\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RichText(tt.paras); got != tt.want {
				t.Fatalf("RichText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderBodyBeforeChoice(t *testing.T) {
	res := Render([]voiceflow.Block{
		plainText("Hi there"),
		voiceflow.ChoiceBlock{Buttons: []voiceflow.ChoiceButton{pathButton("path-a", "A"), pathButton("path-b", "B")}},
	})
	want := []message.Outbound{
		{Kind: message.KindBody, Body: "Hi there\n"},
		{Kind: message.KindButtons, Prompt: "Hi there\n", Buttons: []message.Button{{ID: "path-a", Title: "A"}, {ID: "path-b", Title: "B"}}},
	}
	if !reflect.DeepEqual(res.Messages, want) {
		t.Fatalf("unexpected messages:\n got %+v\nwant %+v", res.Messages, want)
	}
}

func TestRenderTextNotFollowedByChoice(t *testing.T) {
	for _, next := range []voiceflow.Block{
		plainText("again"),
		voiceflow.VisualBlock{Image: "https://i"},
		voiceflow.EndBlock{},
		voiceflow.OtherBlock{Type: "debug"},
		nil,
	} {
		blocks := []voiceflow.Block{plainText("first")}
		if next != nil {
			blocks = append(blocks, next)
		}
		res := Render(blocks)
		if res.Messages[0].Kind != message.KindText {
			t.Fatalf("next=%T: expected text, got %s", next, res.Messages[0].Kind)
		}
	}
}

func TestRenderSpeakBlocks(t *testing.T) {
	res := Render([]voiceflow.Block{
		voiceflow.SpeakBlock{Kind: voiceflow.SpeakAudio, Src: "https://a.mp3"},
		voiceflow.SpeakBlock{Kind: voiceflow.SpeakMessage, Message: "Choose"},
		voiceflow.ChoiceBlock{Buttons: []voiceflow.ChoiceButton{{RequestType: "intent", IntentName: "yes", Label: "Yes"}}},
		voiceflow.SpeakBlock{Kind: voiceflow.SpeakMessage, Message: "bye"},
	})
	want := []message.Outbound{
		{Kind: message.KindAudio, URL: "https://a.mp3"},
		{Kind: message.KindBody, Body: "Choose"},
		{Kind: message.KindButtons, Prompt: "Choose", Buttons: []message.Button{{ID: "yes", Title: "Yes"}}},
		{Kind: message.KindText, Body: "bye"},
	}
	if !reflect.DeepEqual(res.Messages, want) {
		t.Fatalf("unexpected messages:\n got %+v\nwant %+v", res.Messages, want)
	}
}

func TestRenderButtonCapPreservesOrder(t *testing.T) {
	var buttons []voiceflow.ChoiceButton
	for i := 1; i <= 5; i++ {
		buttons = append(buttons, pathButton(fmt.Sprintf("path-%d", i), fmt.Sprintf("Opt %d", i)))
	}
	res := Render([]voiceflow.Block{voiceflow.ChoiceBlock{Buttons: buttons}})
	if len(res.Messages) != 1 {
		t.Fatalf("expected one message, got %d", len(res.Messages))
	}
	got := res.Messages[0].Buttons
	if len(got) != 3 {
		t.Fatalf("expected 3 buttons, got %d", len(got))
	}
	for i, b := range got {
		if b.ID != fmt.Sprintf("path-%d", i+1) {
			t.Fatalf("button %d out of order: %+v", i, b)
		}
	}
}

func TestRenderButtonsSkipLinksAndTruncate(t *testing.T) {
	long := strings.Repeat("x", 25)
	res := Render([]voiceflow.Block{voiceflow.ChoiceBlock{Buttons: []voiceflow.ChoiceButton{
		{RequestType: "path-link", Label: "Website", LinkURL: "https://example.com"},
		{RequestType: "intent", IntentName: "long_one", Label: long},
		{RequestType: "path-ok", Label: "Short label"},
		{RequestType: "intent", Label: "No id"},
	}}})
	want := []message.Button{
		{ID: "long_one", Title: strings.Repeat("x", 19) + "…"},
		{ID: "path-ok", Title: "Short label"},
	}
	if !reflect.DeepEqual(res.Messages[0].Buttons, want) {
		t.Fatalf("unexpected buttons: %+v", res.Messages[0].Buttons)
	}
}

func TestRenderPromptDefaults(t *testing.T) {
	choice := voiceflow.ChoiceBlock{Buttons: []voiceflow.ChoiceButton{pathButton("path-a", "A")}}

	res := Render([]voiceflow.Block{choice})
	if res.Messages[0].Prompt != message.DefaultPrompt {
		t.Fatalf("expected default prompt, got %q", res.Messages[0].Prompt)
	}

	res = Render([]voiceflow.Block{voiceflow.VisualBlock{Image: "https://i.png"}, choice})
	if res.Messages[1].Prompt != message.DefaultPrompt {
		t.Fatalf("image must not lend its url as prompt, got %q", res.Messages[1].Prompt)
	}
}

func TestRenderChoiceWithoutRepresentableButtons(t *testing.T) {
	res := Render([]voiceflow.Block{
		plainText("Visit us"),
		voiceflow.ChoiceBlock{Buttons: []voiceflow.ChoiceButton{{RequestType: "intent", Label: "Site", LinkURL: "https://x"}}},
	})
	if len(res.Messages) != 1 || res.Messages[0].Kind != message.KindBody {
		t.Fatalf("unexpected messages: %+v", res.Messages)
	}
}

func TestRenderNoReplyAndEnd(t *testing.T) {
	res := Render([]voiceflow.Block{
		plainText("Still there?"),
		voiceflow.NoReplyBlock{Timeout: 15 * time.Second},
		voiceflow.EndBlock{},
	})
	if !res.HasNoReply || res.NoReply != 15*time.Second {
		t.Fatalf("unexpected no-reply delay: %v", res.NoReply)
	}
	if len(res.Messages) != 1 {
		t.Fatalf("no-reply and end must not emit messages: %+v", res.Messages)
	}
}

func TestRenderWithoutNoReply(t *testing.T) {
	if res := Render([]voiceflow.Block{plainText("x")}); res.HasNoReply {
		t.Fatalf("unexpected no-reply: %+v", res)
	}
}

func TestWindows(t *testing.T) {
	blocks := []voiceflow.Block{plainText("a"), voiceflow.EndBlock{}}
	w := Windows(blocks)
	if len(w) != 2 || w[0].Next == nil || w[1].Next != nil {
		t.Fatalf("unexpected windows: %+v", w)
	}
}
