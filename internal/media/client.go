// Package media is a thin HTTP client for the SFU node's internal API.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hollowgrid/reverb/internal/domain"
)

// Client talks to the SFU internal API. Response bodies are opaque JSON,
// relayed to clients untouched; the media wire format is owned by the SFU
// and never parsed here.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Join notifies the SFU that user is joining the room for channel.
// Returns the raw JSON response (router capabilities, transport
// parameters) to be forwarded to the client.
func (c *Client) Join(ctx context.Context, channel domain.ChannelID, user domain.UserID) (json.RawMessage, error) {
	body, _ := json.Marshal(map[string]domain.UserID{"user_id": user})
	return c.do(ctx, http.MethodPost, roomPath(channel, "join"), body)
}

// Signal forwards a negotiation payload and returns whatever the SFU
// responds with (may be nil for one-way signals).
func (c *Client) Signal(ctx context.Context, channel domain.ChannelID, user domain.UserID, payload json.RawMessage) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]any{
		"user_id": user,
		"signal":  payload,
	})
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, roomPath(channel, "signal"), body)
}

// Leave notifies the SFU that user has left the room for channel.
func (c *Client) Leave(ctx context.Context, channel domain.ChannelID, user domain.UserID) error {
	body, _ := json.Marshal(map[string]domain.UserID{"user_id": user})
	_, err := c.do(ctx, http.MethodDelete, roomPath(channel, "leave"), body)
	return err
}

// roomPath escapes the channel id into a single path segment. Channel ids
// are client-supplied upstream, so they must not be able to splice extra
// segments into the internal API path.
func roomPath(channel domain.ChannelID, op string) string {
	return "/rooms/" + url.PathEscape(string(channel)) + "/" + op
}

// do executes a JSON request and returns the raw response body. A
// bodyless response (204 No Content) comes back as nil, nil.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("media %s %s: status %d", method, path, resp.StatusCode)
	}

	var raw json.RawMessage
	_ = json.NewDecoder(resp.Body).Decode(&raw)
	return raw, nil
}
