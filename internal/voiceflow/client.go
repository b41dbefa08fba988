package voiceflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/lhdbsbz/flowbridge/internal/message"
)

const (
	defaultRuntimeURL    = "https://general-runtime.voiceflow.com"
	defaultTranscriptURL = "https://api.voiceflow.com/v2/transcripts"
)

// Client talks to the Voiceflow Dialog Manager and transcript APIs.
type Client struct {
	BaseURL       string
	APIKey        string
	VersionID     string
	TranscriptURL string
	HTTPClient    *http.Client
}

func NewClient(baseURL, apiKey, versionID string) *Client {
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		VersionID:  versionID,
		HTTPClient: http.DefaultClient,
	}
}

// APIError represents a non-2xx answer from the engine.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("voiceflow %s error (status %d): %s", e.Op, e.StatusCode, e.Body)
}

// IsAuth returns true if this is an authentication error.
func (e *APIError) IsAuth() bool { return e.StatusCode == 401 || e.StatusCode == 403 }

// Variables are the user-context variables pushed before each turn.
type Variables struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// UpdateVariables patches the user's state variables.
func (c *Client) UpdateVariables(ctx context.Context, userID string, vars Variables) error {
	resp, err := c.do(ctx, "variables", http.MethodPatch, c.userURL(userID, "variables"), vars, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

type interactRequest struct {
	Action json.RawMessage `json:"action"`
	Config interactConfig  `json:"config"`
}

type interactConfig struct {
	TTS       bool `json:"tts"`
	StripSSML bool `json:"stripSSML"`
}

// Interact runs one turn for userID within sessionID and returns the parsed
// blocks. A non-nil error together with blocks reports malformed blocks only.
func (c *Client) Interact(ctx context.Context, userID, sessionID string, action message.Action) ([]Block, error) {
	body := interactRequest{
		Action: action.Wire(),
		Config: interactConfig{TTS: false, StripSSML: true},
	}
	headers := map[string]string{
		"versionID": c.VersionID,
		"sessionID": sessionID,
	}
	resp, err := c.do(ctx, "interact", http.MethodPost, c.userURL(userID, "interact"), body, headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read interact response: %w", err)
	}
	return ParseTrace(data)
}

// Transcript is the archive record of one ended session.
type Transcript struct {
	Browser   string         `json:"browser"`
	Device    string         `json:"device"`
	OS        string         `json:"os"`
	SessionID string         `json:"sessionID"`
	Unread    bool           `json:"unread"`
	VersionID string         `json:"versionID"`
	ProjectID string         `json:"projectID"`
	User      TranscriptUser `json:"user"`
}

type TranscriptUser struct {
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// SaveTranscript stores the transcript record of an ended session.
func (c *Client) SaveTranscript(ctx context.Context, t Transcript) error {
	endpoint := c.TranscriptURL
	if endpoint == "" {
		endpoint = defaultTranscriptURL
	}
	resp, err := c.do(ctx, "transcript", http.MethodPut, endpoint, t, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) userURL(userID, action string) string {
	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = defaultRuntimeURL
	}
	return fmt.Sprintf("%s/state/user/%s/%s", strings.TrimRight(baseURL, "/"), url.PathEscape(userID), action)
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, body any, headers map[string]string) (*http.Response, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.APIKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Body: string(errBody)}
	}
	return resp, nil
}
