package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"deskmind/app/core/pipeline"
	"deskmind/app/core/queue"
	"deskmind/app/core/review"
	"deskmind/app/pkg/types"
)

const (
	defaultBatchWorkers = 3
	maxBatchItems       = 100
)

type Config struct {
	ListenPort   int
	BatchWorkers int
}

// Server exposes the pipeline and the review workflow over REST.
type Server struct {
	cfg          Config
	orchestrator *pipeline.Orchestrator
	workflow     *review.Workflow
	dispatch     *queue.Queue
	server       *http.Server
	startedUnix  atomic.Int64
}

func NewServer(cfg Config, orchestrator *pipeline.Orchestrator, workflow *review.Workflow, dispatch *queue.Queue) *Server {
	if cfg.ListenPort <= 0 {
		cfg.ListenPort = 8080
	}
	if cfg.BatchWorkers <= 0 {
		cfg.BatchWorkers = defaultBatchWorkers
	}
	return &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		workflow:     workflow,
		dispatch:     dispatch,
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.startedUnix.Store(time.Now().Unix())

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.ListenPort),
		Handler: s.routes(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[API] Shutdown error: %v", err)
		}
	}()

	log.Printf("[API] Listening on port %d...", s.cfg.ListenPort)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/process", s.handleProcess)
	mux.HandleFunc("POST /api/generate-all-stream", s.handleBatchStream)
	mux.HandleFunc("GET /api/drafts", s.handleDraftList)
	mux.HandleFunc("GET /api/drafts/{index}", s.handleDraftGet)
	mux.HandleFunc("POST /api/drafts/{index}/approve", s.handleDraftAction("approve"))
	mux.HandleFunc("POST /api/drafts/{index}/edit", s.handleDraftAction("edit"))
	mux.HandleFunc("POST /api/drafts/{index}/reject", s.handleDraftAction("reject"))
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

type processRequest struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Question       string `json:"question"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req processRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		http.Error(w, "question is required", http.StatusBadRequest)
		return
	}

	msg := types.IncomingMessage{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Body:           req.Question,
		ReceivedAt:     time.Now().UTC(),
	}
	res, procErr := s.orchestrator.Process(r.Context(), msg)
	if procErr != nil && res.Decision.Decision == "" {
		http.Error(w, procErr.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

type batchRequest struct {
	Items   []pipeline.BatchItem `json:"items"`
	Workers int                  `json:"workers,omitempty"`
}

type batchStreamEvent struct {
	Type   string           `json:"type"`
	Result *pipeline.Result `json:"result,omitempty"`
	Total  int              `json:"total,omitempty"`
}

// handleBatchStream runs every item through the pipeline and streams
// results as NDJSON while they complete, ending with a done sentinel.
func (s *Server) handleBatchStream(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req batchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if len(req.Items) == 0 {
		http.Error(w, "items are required", http.StatusBadRequest)
		return
	}
	if len(req.Items) > maxBatchItems {
		http.Error(w, fmt.Sprintf("at most %d items per batch", maxBatchItems), http.StatusBadRequest)
		return
	}
	workers := req.Workers
	if workers <= 0 {
		workers = s.cfg.BatchWorkers
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	encoder := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)

	total := 0
	for res := range s.orchestrator.ProcessBatch(r.Context(), req.Items, workers) {
		resCopy := res
		_ = encoder.Encode(batchStreamEvent{Type: "result", Result: &resCopy})
		if flusher != nil {
			flusher.Flush()
		}
		total++
	}

	_ = encoder.Encode(batchStreamEvent{Type: "done", Total: total})
	if flusher != nil {
		flusher.Flush()
	}
}

func (s *Server) handleDraftList(w http.ResponseWriter, r *http.Request) {
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	drafts, err := s.workflow.List(r.Context(), status, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"drafts": drafts})
}

func (s *Server) handleDraftGet(w http.ResponseWriter, r *http.Request) {
	index, ok := parseDraftIndex(w, r)
	if !ok {
		return
	}
	d, err := s.workflow.Get(r.Context(), index)
	if err != nil {
		writeDraftError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDraftAction(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, ok := parseDraftIndex(w, r)
		if !ok {
			return
		}

		var (
			d   review.Draft
			err error
		)
		switch action {
		case "approve":
			d, err = s.workflow.Approve(r.Context(), index)
		case "edit":
			body, readErr := io.ReadAll(r.Body)
			if readErr != nil {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			defer r.Body.Close()
			content := gjson.GetBytes(body, "content").String()
			if strings.TrimSpace(content) == "" {
				http.Error(w, "content is required", http.StatusBadRequest)
				return
			}
			d, err = s.workflow.Edit(r.Context(), index, content)
		case "reject":
			d, err = s.workflow.Reject(r.Context(), index)
		}
		if err != nil {
			writeDraftError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

type statusResponse struct {
	StartedAt string       `json:"started_at,omitempty"`
	UptimeSec int64        `json:"uptime_sec"`
	Dispatch  *queue.Stats `json:"dispatch,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{}
	if started := s.startedUnix.Load(); started > 0 {
		startAt := time.Unix(started, 0).UTC()
		resp.StartedAt = startAt.Format(time.RFC3339)
		resp.UptimeSec = int64(time.Since(startAt).Seconds())
		if resp.UptimeSec < 0 {
			resp.UptimeSec = 0
		}
	}
	if s.dispatch != nil {
		stats := s.dispatch.Stats()
		resp.Dispatch = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseDraftIndex(w http.ResponseWriter, r *http.Request) (int64, bool) {
	index, err := strconv.ParseInt(r.PathValue("index"), 10, 64)
	if err != nil || index <= 0 {
		http.Error(w, "invalid draft index", http.StatusBadRequest)
		return 0, false
	}
	return index, true
}

func writeDraftError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, review.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, review.ErrAlreadyResolved):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, review.ErrDelivery):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
