package inbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const defaultTimeout = 30 * time.Second

// Config holds the inbox platform connection settings. AccessToken is
// the API bearer token, AdminID the support account replies are sent as.
type Config struct {
	BaseURL     string
	AccessToken string
	AdminID     string
}

// Client delivers replies into inbox conversations.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: defaultTimeout},
	}
}

// Reply posts an admin comment to the conversation.
func (c *Client) Reply(ctx context.Context, conversationID string, text string) error {
	if strings.TrimSpace(c.cfg.AccessToken) == "" {
		return fmt.Errorf("inbox access token is required")
	}
	if strings.TrimSpace(conversationID) == "" {
		return fmt.Errorf("inbox conversation id is required")
	}

	payload, _ := sjson.Set("", "message_type", "comment")
	payload, _ = sjson.Set(payload, "type", "admin")
	payload, _ = sjson.Set(payload, "admin_id", c.cfg.AdminID)
	payload, _ = sjson.Set(payload, "body", text)

	url := fmt.Sprintf("%s/conversations/%s/reply", c.cfg.BaseURL, conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("inbox api status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if errField := gjson.GetBytes(respBody, "errors.0.message"); errField.Exists() {
		return fmt.Errorf("inbox api error: %s", errField.String())
	}
	return nil
}
