package chat

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"deskmind/app/core/llm"
	"deskmind/app/core/pipeline"
	"deskmind/app/core/review"
	"deskmind/app/core/session"
	"deskmind/app/pkg/types"
)

type stubSearcher struct{}

func (stubSearcher) SearchHistory(context.Context, string, string, int) ([]types.Turn, error) {
	return nil, nil
}

func (stubSearcher) SearchCatalogue(context.Context, string, int) ([]types.CatalogueMatch, error) {
	return nil, nil
}

type stubCompleter struct {
	mu       sync.Mutex
	response string
}

func (c *stubCompleter) Complete(context.Context, llm.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.response, nil
}

func (c *stubCompleter) set(response string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.response = response
}

func primaryJSON(confidence float64) string {
	return fmt.Sprintf(`{"response_text":"try restarting the agent","confidence":%.2f,"reasoning":"ok","requires_human_intervention":false,"is_followup":false,"answerable_from_context":true}`, confidence)
}

func dialTestServer(t *testing.T, completer *stubCompleter) (*websocket.Conn, *session.MemoryStore) {
	t.Helper()

	sessions := session.NewMemoryStore()
	retriever := pipeline.NewRetriever(stubSearcher{}, 5, 3, time.Second)
	generator := pipeline.NewGenerator(completer, "test-model", 0.8, nil)
	refiner := pipeline.NewRefiner(completer, "test-model", false)
	workflow := review.NewWorkflow(review.NewMemoryStore(), LoopbackReplier{}, nil, nil, nil)
	orchestrator := pipeline.NewOrchestrator(retriever, generator, refiner, 0.8, time.Second, LoopbackReplier{}, workflow, nil, nil)

	srv := NewServer(Config{}, sessions, orchestrator, workflow)
	httpServer := httptest.NewServer(http.HandlerFunc(srv.handleWS))
	t.Cleanup(httpServer.Close)

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "?user_id=tester"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws, sessions
}

func readFrame(t *testing.T, ws *websocket.Conn) outboundFrame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame outboundFrame
	if err := ws.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func TestSessionStartedOnConnect(t *testing.T) {
	completer := &stubCompleter{response: primaryJSON(0.95)}
	ws, sessions := dialTestServer(t, completer)

	frame := readFrame(t, ws)
	if frame.Type != "session_started" || frame.SessionID == "" {
		t.Fatalf("unexpected first frame: %+v", frame)
	}

	sess, err := sessions.Get(context.Background(), frame.SessionID)
	if err != nil {
		t.Fatalf("session not stored: %v", err)
	}
	if sess.UserID != "tester" {
		t.Fatalf("unexpected session user: %+v", sess)
	}
}

func TestConfidentAnswerPushedToSocket(t *testing.T) {
	completer := &stubCompleter{response: primaryJSON(0.95)}
	ws, _ := dialTestServer(t, completer)
	readFrame(t, ws)

	if err := ws.WriteJSON(inboundFrame{Type: "user_message", Content: "agent is stuck"}); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	frame := readFrame(t, ws)
	if frame.Type != "ai_response" {
		t.Fatalf("expected ai_response, got %+v", frame)
	}
	if frame.Content != "try restarting the agent" {
		t.Fatalf("unexpected content: %q", frame.Content)
	}
	if frame.Reasoning != "ok" {
		t.Fatalf("expected model reasoning in response frame, got %+v", frame)
	}
	if len(frame.Trace) == 0 {
		t.Fatal("expected trace events in response frame")
	}
}

func TestWeakAnswerBecomesReviewRequestAndApprove(t *testing.T) {
	completer := &stubCompleter{response: primaryJSON(0.4)}
	ws, _ := dialTestServer(t, completer)
	readFrame(t, ws)

	if err := ws.WriteJSON(inboundFrame{Type: "user_message", Content: "refund my account"}); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	frame := readFrame(t, ws)
	if frame.Type != "review_request" {
		t.Fatalf("expected review_request, got %+v", frame)
	}
	if frame.DraftIndex == 0 {
		t.Fatal("expected draft index in review request")
	}
	if frame.Reasoning != "ok" {
		t.Fatalf("expected model reasoning in review request, got %+v", frame)
	}

	if err := ws.WriteJSON(inboundFrame{Type: "approve", DraftIndex: frame.DraftIndex}); err != nil {
		t.Fatalf("write approve: %v", err)
	}
	approved := readFrame(t, ws)
	if approved.Type != "response_approved" || approved.DraftIndex != frame.DraftIndex {
		t.Fatalf("unexpected approve frame: %+v", approved)
	}

	if err := ws.WriteJSON(inboundFrame{Type: "reject", DraftIndex: frame.DraftIndex}); err != nil {
		t.Fatalf("write reject: %v", err)
	}
	conflict := readFrame(t, ws)
	if conflict.Type != "error" {
		t.Fatalf("expected error frame for second action, got %+v", conflict)
	}
}

func TestEditDeliversReviewerContent(t *testing.T) {
	completer := &stubCompleter{response: primaryJSON(0.4)}
	ws, _ := dialTestServer(t, completer)
	readFrame(t, ws)

	if err := ws.WriteJSON(inboundFrame{Type: "user_message", Content: "where is my invoice?"}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	frame := readFrame(t, ws)
	if frame.Type != "review_request" {
		t.Fatalf("expected review_request, got %+v", frame)
	}

	if err := ws.WriteJSON(inboundFrame{Type: "edit", DraftIndex: frame.DraftIndex, Content: "invoices are under settings"}); err != nil {
		t.Fatalf("write edit: %v", err)
	}
	edited := readFrame(t, ws)
	if edited.Type != "response_edited" || edited.Content != "invoices are under settings" {
		t.Fatalf("unexpected edit frame: %+v", edited)
	}
}

func TestUnknownFrameTypeReported(t *testing.T) {
	completer := &stubCompleter{response: primaryJSON(0.95)}
	ws, _ := dialTestServer(t, completer)
	readFrame(t, ws)

	if err := ws.WriteJSON(inboundFrame{Type: "dance"}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	frame := readFrame(t, ws)
	if frame.Type != "error" || !strings.Contains(frame.Error, "dance") {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}
