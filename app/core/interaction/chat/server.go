package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"deskmind/app/core/pipeline"
	"deskmind/app/core/review"
	"deskmind/app/core/session"
	"deskmind/app/pkg/types"
)

type Config struct {
	ListenPort int
}

// Server runs the live chat surface used to exercise the pipeline
// interactively. Replies are pushed over the socket instead of the
// inbox platform, and review actions are taken in-band.
type Server struct {
	cfg          Config
	sessions     session.Store
	orchestrator *pipeline.Orchestrator
	workflow     *review.Workflow
	server       *http.Server
	upgrader     websocket.Upgrader
}

func NewServer(cfg Config, sessions session.Store, orchestrator *pipeline.Orchestrator, workflow *review.Workflow) *Server {
	if cfg.ListenPort <= 0 {
		cfg.ListenPort = 8082
	}
	return &Server{
		cfg:          cfg,
		sessions:     sessions,
		orchestrator: orchestrator,
		workflow:     workflow,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
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
			log.Printf("[Chat] Shutdown error: %v", err)
		}
	}()

	log.Printf("[Chat] Listening on :%d/ws", s.cfg.ListenPort)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type inboundFrame struct {
	Type       string `json:"type"`
	Content    string `json:"content,omitempty"`
	DraftIndex int64  `json:"draft_index,omitempty"`
}

type outboundFrame struct {
	Type       string                `json:"type"`
	SessionID  string                `json:"session_id,omitempty"`
	Content    string                `json:"content,omitempty"`
	Confidence float64               `json:"confidence,omitempty"`
	Reasoning  string                `json:"reasoning,omitempty"`
	Source     string                `json:"source,omitempty"`
	DraftIndex int64                 `json:"draft_index,omitempty"`
	Trace      []pipeline.TraceEvent `json:"trace,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// conn serializes writes to one websocket.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(frame outboundFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(frame)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Chat] Upgrade failed: %v", err)
		return
	}
	defer ws.Close()
	c := &conn{ws: ws}

	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	sess := &session.Data{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: uuid.NewString(),
	}
	if sess.UserID == "" {
		sess.UserID = sess.ID
	}
	if err := s.sessions.Create(r.Context(), sess); err != nil {
		log.Printf("[Chat] Session create failed: %v", err)
		return
	}
	defer func() {
		if err := s.sessions.Delete(context.Background(), sess.ID); err != nil {
			log.Printf("[Chat] Session delete failed: %v", err)
		}
	}()

	if err := c.send(outboundFrame{Type: "session_started", SessionID: sess.ID}); err != nil {
		return
	}

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			_ = c.send(outboundFrame{Type: "error", Error: "invalid frame"})
			continue
		}
		s.dispatch(r.Context(), c, sess, frame)
	}
}

func (s *Server) dispatch(ctx context.Context, c *conn, sess *session.Data, frame inboundFrame) {
	switch frame.Type {
	case "user_message":
		s.handleUserMessage(ctx, c, sess, frame.Content)
	case "approve":
		s.handleReviewAction(ctx, c, frame.DraftIndex, "response_approved", func() (review.Draft, error) {
			return s.workflow.Approve(ctx, frame.DraftIndex)
		})
	case "edit":
		if strings.TrimSpace(frame.Content) == "" {
			_ = c.send(outboundFrame{Type: "error", Error: "edited content is required"})
			return
		}
		s.handleReviewAction(ctx, c, frame.DraftIndex, "response_edited", func() (review.Draft, error) {
			return s.workflow.Edit(ctx, frame.DraftIndex, frame.Content)
		})
	case "reject":
		s.handleReviewAction(ctx, c, frame.DraftIndex, "response_rejected", func() (review.Draft, error) {
			return s.workflow.Reject(ctx, frame.DraftIndex)
		})
	default:
		_ = c.send(outboundFrame{Type: "error", Error: "unknown frame type: " + frame.Type})
	}
}

func (s *Server) handleUserMessage(ctx context.Context, c *conn, sess *session.Data, content string) {
	if strings.TrimSpace(content) == "" {
		_ = c.send(outboundFrame{Type: "error", Error: "message content is required"})
		return
	}

	msg := types.IncomingMessage{
		ConversationID: sess.ConversationID,
		UserID:         sess.UserID,
		Body:           content,
		ReceivedAt:     time.Now().UTC(),
	}
	res, err := s.orchestrator.Process(ctx, msg)
	if err != nil && res.Decision.Decision == "" {
		_ = c.send(outboundFrame{Type: "error", Error: res.Err})
		return
	}

	sess.MessageCount++
	if err := s.sessions.Update(ctx, sess); err != nil {
		log.Printf("[Chat] Session update failed: %v", err)
	}

	if res.Decision.Decision == pipeline.DecisionAutoSent {
		_ = c.send(outboundFrame{
			Type:       "ai_response",
			SessionID:  sess.ID,
			Content:    res.Response.Text,
			Confidence: res.Response.Confidence,
			Reasoning:  res.Response.Reasoning,
			Source:     res.Response.Source,
			Trace:      res.Trace,
		})
		return
	}
	_ = c.send(outboundFrame{
		Type:       "review_request",
		SessionID:  sess.ID,
		Content:    res.Response.Text,
		Confidence: res.Response.Confidence,
		Reasoning:  res.Response.Reasoning,
		Source:     res.Response.Source,
		DraftIndex: res.DraftIndex,
		Trace:      res.Trace,
	})
}

func (s *Server) handleReviewAction(_ context.Context, c *conn, index int64, outType string, action func() (review.Draft, error)) {
	d, err := action()
	if err != nil {
		_ = c.send(outboundFrame{Type: "error", DraftIndex: index, Error: err.Error()})
		return
	}
	content := d.Content
	if d.FinalContent != "" {
		content = d.FinalContent
	}
	_ = c.send(outboundFrame{Type: outType, DraftIndex: d.Index, Content: content})
}

// LoopbackReplier satisfies the delivery interface for chat sessions,
// where the reply is pushed over the websocket rather than posted to
// the inbox platform.
type LoopbackReplier struct{}

func (LoopbackReplier) Reply(context.Context, string, string) error { return nil }
