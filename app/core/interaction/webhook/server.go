package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"deskmind/app/pkg/types"
)

const (
	defaultWebhookPath = "/webhooks/inbox"
	maxBodyBytes       = 1 << 20

	topicMessageCreated = "conversation.user.created"
	topicMessageReplied = "conversation.user.replied"
)

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

type Config struct {
	ListenPort  int
	WebhookPath string
	Secret      string
}

// Server receives inbox webhook notifications and hands parsed
// messages to the registered handler.
type Server struct {
	cfg     Config
	server  *http.Server
	handler func(types.IncomingMessage)
	mu      sync.RWMutex
}

func NewServer(cfg Config) *Server {
	if cfg.ListenPort <= 0 {
		cfg.ListenPort = 8081
	}
	if strings.TrimSpace(cfg.WebhookPath) == "" {
		cfg.WebhookPath = defaultWebhookPath
	}
	if !strings.HasPrefix(cfg.WebhookPath, "/") {
		cfg.WebhookPath = "/" + cfg.WebhookPath
	}
	return &Server{cfg: cfg}
}

func (s *Server) Start(ctx context.Context, handler func(types.IncomingMessage)) error {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.WebhookPath, s.handleNotification)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.ListenPort),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[Webhook] Shutdown error: %v", err)
		}
	}()

	log.Printf("[Webhook] Listening on :%d%s", s.cfg.ListenPort, s.cfg.WebhookPath)
	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if !s.verifySignature(r.Header.Get("X-Hub-Signature"), body) {
		log.Printf("[Webhook] Rejected notification with bad signature")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	// The platform retries on non-2xx, so ack before processing.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))

	msg, ok := parseNotification(body)
	if !ok {
		return
	}

	s.mu.RLock()
	handler := s.handler
	s.mu.RUnlock()
	if handler != nil {
		handler(msg)
	}
}

func (s *Server) verifySignature(header string, body []byte) bool {
	secret := strings.TrimSpace(s.cfg.Secret)
	if secret == "" {
		return true
	}
	if !strings.HasPrefix(header, "sha1=") {
		return false
	}
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	expected := "sha1=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(header), []byte(expected))
}

// parseNotification extracts the customer message from a webhook
// payload. Only the new-conversation and customer-reply topics carry a
// message; everything else is acknowledged and dropped.
func parseNotification(body []byte) (types.IncomingMessage, bool) {
	topic := gjson.GetBytes(body, "topic").String()
	item := gjson.GetBytes(body, "data.item")
	conversationID := item.Get("id").String()

	var rawBody string
	switch topic {
	case topicMessageCreated:
		rawBody = item.Get("source.body").String()
	case topicMessageReplied:
		parts := item.Get("conversation_parts.conversation_parts").Array()
		if len(parts) == 0 {
			return types.IncomingMessage{}, false
		}
		rawBody = parts[len(parts)-1].Get("body").String()
	default:
		return types.IncomingMessage{}, false
	}

	text := StripHTML(rawBody)
	if text == "" || conversationID == "" {
		return types.IncomingMessage{}, false
	}

	author := item.Get("source.author")
	contact := types.ContactInfo{
		ID:    author.Get("id").String(),
		Name:  author.Get("name").String(),
		Email: author.Get("email").String(),
	}
	userID := contact.Email
	if userID == "" {
		userID = contact.ID
	}

	return types.IncomingMessage{
		ConversationID: conversationID,
		UserID:         userID,
		Contact:        contact,
		Body:           text,
		ReceivedAt:     time.Now().UTC(),
	}, true
}

// StripHTML flattens rich-text message bodies to plain text.
func StripHTML(raw string) string {
	return strings.TrimSpace(htmlTagPattern.ReplaceAllString(raw, ""))
}
