package voiceflow

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

func TestClientUpdateVariables(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if r.URL.EscapedPath() != "/state/user/+1%20555/variables" {
			t.Fatalf("unexpected path: %s", r.URL.EscapedPath())
		}
		if got := r.Header.Get("Authorization"); got != "VF.DM.key" {
			t.Fatalf("unexpected auth header: %s", got)
		}
		var vars Variables
		if err := json.NewDecoder(r.Body).Decode(&vars); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if vars.UserID != "+1 555" || vars.UserName != "Ada" {
			t.Fatalf("unexpected vars: %+v", vars)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, APIKey: "VF.DM.key", VersionID: "production", HTTPClient: srv.Client()}
	if err := c.UpdateVariables(context.Background(), "+1 555", Variables{UserID: "+1 555", UserName: "Ada"}); err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestClientInteract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/state/user/16315551234/interact" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("versionID") != "production" || r.Header.Get("sessionID") != "production.abc" {
			t.Fatalf("unexpected headers: %v", r.Header)
		}
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Action map[string]any `json:"action"`
			Config map[string]any `json:"config"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Action["type"] != "text" || req.Action["payload"] != "hello" {
			t.Fatalf("unexpected action: %v", req.Action)
		}
		if req.Config["tts"] != false || req.Config["stripSSML"] != true {
			t.Fatalf("unexpected config: %v", req.Config)
		}
		_, _ = w.Write([]byte(`[{"type":"speak","payload":{"type":"message","message":"Hi"}},{"type":"end"}]`))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL + "/", APIKey: "k", VersionID: "production", HTTPClient: srv.Client()}
	blocks, err := c.Interact(context.Background(), "16315551234", "production.abc", message.TextAction("hello"))
	if err != nil {
		t.Fatalf("interact: %v", err)
	}
	if len(blocks) != 2 || !HasEnd(blocks) {
		t.Fatalf("unexpected blocks: %#v", blocks)
	}
}

func TestClientInteractAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"unauthorized"}`))
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, APIKey: "bad", HTTPClient: srv.Client()}
	_, err := c.Interact(context.Background(), "u", "s", message.NoReplyAction())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Op != "interact" || !apiErr.IsAuth() {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestClientSaveTranscript(t *testing.T) {
	var got Transcript
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/v2/transcripts" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := &Client{APIKey: "k", TranscriptURL: srv.URL + "/v2/transcripts", HTTPClient: srv.Client()}
	err := c.SaveTranscript(context.Background(), Transcript{
		Browser: "WhatsApp", Device: "desktop", OS: "server",
		SessionID: "v.1", Unread: true, VersionID: "v", ProjectID: "p",
		User: TranscriptUser{Name: "Ada", Image: "https://icon"},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if got.SessionID != "v.1" || got.User.Name != "Ada" || !got.Unread || got.Browser != "WhatsApp" {
		t.Fatalf("unexpected transcript: %+v", got)
	}
}
