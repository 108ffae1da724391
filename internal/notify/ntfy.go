// Package notify sends push notifications through ntfy.sh. Delivery is
// best-effort: failures are logged by the caller and never escalate.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultServer  = "https://ntfy.sh"
	defaultTimeout = 10 * time.Second

	// Priority levels, 1 (min) to 5 (max urgent).
	PriorityDefault = 3
	PriorityHigh    = 4
)

// Notification is one push message.
type Notification struct {
	Title    string
	Message  string
	Priority int
	Tags     []string
}

// Client posts notifications to an ntfy.sh topic. A disabled client logs the
// message instead of sending it, so the monitor behaves identically with
// notifications switched off.
type Client struct {
	server     string
	topic      string
	enabled    bool
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a notification client for the given topic. When enabled is
// false or the topic is empty, Send becomes a logged no-op.
func NewClient(topic string, enabled bool, log zerolog.Logger) *Client {
	return &Client{
		server:     defaultServer,
		topic:      topic,
		enabled:    enabled && topic != "",
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        log.With().Str("component", "notify").Logger(),
	}
}

// WithServer overrides the ntfy server URL. Used by tests and self-hosted
// ntfy instances.
func (c *Client) WithServer(server string) *Client {
	c.server = server
	return c
}

// Send delivers a notification. Returns an error on delivery failure; callers
// decide whether that matters (for the drift monitor it never does).
func (c *Client) Send(ctx context.Context, n Notification) error {
	if !c.enabled {
		c.log.Info().Str("title", n.Title).Str("message", n.Message).Msg("Notifications disabled, logging instead")
		return nil
	}

	if n.Priority == 0 {
		n.Priority = PriorityDefault
	}
	if len(n.Tags) == 0 {
		n.Tags = []string{"chart_with_upwards_trend"}
	}

	payload := map[string]any{
		"topic":    c.topic,
		"title":    n.Title,
		"message":  n.Message,
		"priority": n.Priority,
		"tags":     n.Tags,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.server+"/"+c.topic, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ntfy returned status %d", resp.StatusCode)
	}

	c.log.Info().Str("title", n.Title).Msg("Notification sent")
	return nil
}
