package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/lhdbsbz/flowbridge/internal/message"
)

const defaultGraphURL = "https://graph.facebook.com"

// Client sends messages through the WhatsApp Cloud API.
type Client struct {
	BaseURL    string
	Version    string
	Token      string
	HTTPClient *http.Client
}

func NewClient(baseURL, version, token string) *Client {
	return &Client{BaseURL: baseURL, Version: version, Token: token, HTTPClient: http.DefaultClient}
}

// APIError is a non-2xx answer from the Graph API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp API error (status %d): %s", e.StatusCode, e.Body)
}

// Send posts one outbound message to recipient `to` from the business number phoneNumberID.
func (c *Client) Send(ctx context.Context, phoneNumberID, to string, msg message.Outbound) error {
	payload, err := BuildPayload(to, msg)
	if err != nil {
		return err
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = defaultGraphURL
	}
	endpoint := fmt.Sprintf("%s/%s/%s/messages", strings.TrimRight(baseURL, "/"), c.Version, phoneNumberID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(errBody)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// ContentLength asks the media host for the size of url with a HEAD request.
// ok is false when the host does not report a length.
func (c *Client) ContentLength(ctx context.Context, url string) (size int64, ok bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, false, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return 0, false, fmt.Errorf("http request: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, false, &APIError{StatusCode: resp.StatusCode}
	}
	if resp.ContentLength >= 0 {
		return resp.ContentLength, true, nil
	}
	raw := resp.Header.Get("Content-Length")
	if raw == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse content-length %q: %w", raw, err)
	}
	return n, true, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		return http.DefaultClient
	}
	return c.HTTPClient
}
