// Package notify surfaces dispatch outcomes and budget rejections to a
// Discord webhook for manual follow-up.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Embed colors used across the daemon.
const (
	ColorSuccess = 0x0BDA51
	ColorFailure = 0xC70039
)

type Sink interface {
	Notify(ctx context.Context, title, detailURL, description string, color int) error
}

type Discord struct {
	webhookURL string
	httpc      *http.Client
}

// NewDiscord returns a webhook sink. An empty URL yields a no-op sink so
// callers never have to nil-check.
func NewDiscord(webhookURL string) Sink {
	if webhookURL == "" {
		return noop{}
	}
	return &Discord{
		webhookURL: webhookURL,
		httpc:      &http.Client{Timeout: 12 * time.Second},
	}
}

type embed struct {
	Title       string `json:"title"`
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
	Color       int    `json:"color"`
}

func (d *Discord) Notify(ctx context.Context, title, detailURL, description string, color int) error {
	body, err := json.Marshal(map[string]any{
		"embeds": []embed{{Title: title, URL: detailURL, Description: description, Color: color}},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook http %d", resp.StatusCode)
	}
	return nil
}

type noop struct{}

func (noop) Notify(context.Context, string, string, string, int) error { return nil }
