package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const embedColor = 0x0078D7

// Discord posts notifications as channel message embeds through the bot API.
type Discord struct {
	token   string
	baseURL string
	client  *http.Client
	logger  *slog.Logger

	// All account goroutines share this sink; serializing submissions keeps
	// us under the per-bot rate limit without caller coordination.
	mu sync.Mutex
}

// NewDiscord creates a sink that authenticates with the given bot token.
func NewDiscord(botToken string, logger *slog.Logger) *Discord {
	return &Discord{
		token:   botToken,
		baseURL: "https://discord.com/api/v10",
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

type embed struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Color       int         `json:"color"`
	Author      embedAuthor `json:"author"`
	Footer      embedFooter `json:"footer"`
	Timestamp   string      `json:"timestamp"`
}

type embedAuthor struct {
	Name string `json:"name"`
}

type embedFooter struct {
	Text string `json:"text"`
}

// Submit posts one embed to the channel. Non-2xx responses are errors.
func (d *Discord) Submit(ctx context.Context, channelID string, n Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	payload, err := json.Marshal(map[string][]embed{
		"embeds": {{
			Title:       n.Title,
			Description: n.Description,
			Color:       embedColor,
			Author:      embedAuthor{Name: n.Author},
			Footer:      embedFooter{Text: n.Footer},
			Timestamp:   n.Timestamp.UTC().Format(time.RFC3339),
		}},
	})
	if err != nil {
		return fmt.Errorf("encode embed: %w", err)
	}

	url := fmt.Sprintf("%s/channels/%s/messages", d.baseURL, channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+d.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord send to channel %s: status %d: %s", channelID, resp.StatusCode, detail)
	}

	d.logger.Debug("delivered notification", "channel_id", channelID)
	return nil
}
