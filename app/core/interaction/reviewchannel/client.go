package reviewchannel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"deskmind/app/core/review"
)

const defaultAPIRoot = "https://slack.com/api"

// Config points at the chat workspace used by the support team for
// draft review.
type Config struct {
	APIRoot   string
	BotToken  string
	ChannelID string
}

// Client posts review requests into the team review channel.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if strings.TrimSpace(cfg.APIRoot) == "" {
		cfg.APIRoot = defaultAPIRoot
	}
	cfg.APIRoot = strings.TrimRight(cfg.APIRoot, "/")
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// NotifyReviewRequest announces a pending draft. The message carries
// the customer question, the proposed answer, and the draft index the
// reviewer acts on through the drafts API.
func (c *Client) NotifyReviewRequest(ctx context.Context, draft review.Draft) error {
	token := strings.TrimSpace(c.cfg.BotToken)
	if token == "" {
		return fmt.Errorf("review channel bot token is required")
	}
	if strings.TrimSpace(c.cfg.ChannelID) == "" {
		return fmt.Errorf("review channel id is required")
	}

	text := fmt.Sprintf(
		"Draft #%d needs review (confidence %.2f, source %s)\nConversation: %s\nCustomer: %s\nProposed reply: %s\nReasoning: %s\nActions: POST /api/drafts/%d/approve | edit | reject",
		draft.Index, draft.Confidence, draft.Source,
		draft.ConversationID, draft.CustomerMessage, draft.Content, draft.Reasoning, draft.Index,
	)

	payload := map[string]interface{}{
		"channel": c.cfg.ChannelID,
		"text":    text,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIRoot+"/chat.postMessage", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("review channel status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	var ack struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(respBody, &ack); err == nil && !ack.OK {
		return fmt.Errorf("review channel error: %s", ack.Error)
	}
	return nil
}
