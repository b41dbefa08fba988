package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lhdbsbz/flowbridge/internal/message"
)

func TestClientSendText(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if r.URL.Path != "/v17.0/PHONE_ID/messages" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer wa-token" {
			t.Fatalf("unexpected auth header: %s", auth)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Fatalf("bad body: %v", err)
		}
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.out"}]}`))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, Version: "v17.0", Token: "wa-token", HTTPClient: srv.Client()}
	if err := c.Send(context.Background(), "PHONE_ID", "16315551234", message.Outbound{Kind: message.KindText, Body: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["messaging_product"] != "whatsapp" || got["recipient_type"] != "individual" || got["to"] != "16315551234" || got["type"] != "text" {
		t.Fatalf("unexpected envelope: %v", got)
	}
	text, _ := got["text"].(map[string]any)
	if text["body"] != "hi" || text["preview_url"] != true {
		t.Fatalf("unexpected text payload: %v", text)
	}
}

func TestClientSendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad"}}`))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, Version: "v17.0", Token: "t", HTTPClient: srv.Client()}
	err := c.Send(context.Background(), "P", "1", message.Outbound{Kind: message.KindText, Body: "x"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected APIError 400, got %v", err)
	}
}

func TestClientSendUnsupportedKind(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", "v17.0", "t")
	if err := c.Send(context.Background(), "P", "1", message.Outbound{Kind: "sticker"}); err == nil {
		t.Fatalf("expected unsupported kind error")
	}
}

func TestClientContentLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Fatalf("expected HEAD, got %s", r.Method)
		}
		switch r.URL.Path {
		case "/big.png":
			w.Header().Set("Content-Length", "204800")
			w.WriteHeader(http.StatusOK)
		case "/nolength.png":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := &Client{HTTPClient: srv.Client()}
	n, ok, err := c.ContentLength(context.Background(), srv.URL+"/big.png")
	if err != nil || !ok || n != 204800 {
		t.Fatalf("unexpected probe result n=%d ok=%v err=%v", n, ok, err)
	}
	if _, ok, err := c.ContentLength(context.Background(), srv.URL+"/nolength.png"); err != nil || ok {
		t.Fatalf("expected no length, got ok=%v err=%v", ok, err)
	}
	if _, _, err := c.ContentLength(context.Background(), srv.URL+"/missing.png"); err == nil {
		t.Fatalf("expected error for 404")
	}
}

func TestBuildPayloadButtons(t *testing.T) {
	p, err := BuildPayload("1", message.Outbound{
		Kind:    message.KindButtons,
		Prompt:  "Pick one\n",
		Buttons: []message.Button{{ID: "path-a", Title: "A"}, {ID: "intent_b", Title: "B"}},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	data, _ := json.Marshal(p)
	want := `{"messaging_product":"whatsapp","recipient_type":"individual","to":"1","type":"interactive","interactive":{"type":"button","body":{"text":"Pick one\n"},"action":{"buttons":[{"type":"reply","reply":{"id":"path-a","title":"A"}},{"type":"reply","reply":{"id":"intent_b","title":"B"}}]}}}`
	if string(data) != want {
		t.Fatalf("unexpected payload:\n got %s\nwant %s", data, want)
	}
}

func TestBuildPayloadMediaAndBody(t *testing.T) {
	img, _ := BuildPayload("1", message.Outbound{Kind: message.KindImage, URL: "https://x/img.png"})
	if img.Type != "image" || img.Image.Link != "https://x/img.png" {
		t.Fatalf("unexpected image payload: %+v", img)
	}
	aud, _ := BuildPayload("1", message.Outbound{Kind: message.KindAudio, URL: "https://x/a.mp3"})
	if aud.Type != "audio" || aud.Audio.Link != "https://x/a.mp3" {
		t.Fatalf("unexpected audio payload: %+v", aud)
	}
	body, _ := BuildPayload("1", message.Outbound{Kind: message.KindBody, Body: "intro"})
	if body.Type != "text" || body.Text.Body != "intro" {
		t.Fatalf("body must be delivered as text: %+v", body)
	}
	noPrompt, _ := BuildPayload("1", message.Outbound{Kind: message.KindButtons, Buttons: []message.Button{{ID: "a", Title: "a"}}})
	if noPrompt.Interactive.Body.Text != message.DefaultPrompt {
		t.Fatalf("expected default prompt, got %q", noPrompt.Interactive.Body.Text)
	}
}
