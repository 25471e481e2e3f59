package review

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"deskmind/app/core/pipeline"
)

// Draft statuses. pending is the only status a review action can move.
// approved and edited advance to sent once the outbound delivery
// completes, so an undelivered resolved draft stays queryable.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusEdited   = "edited"
	StatusRejected = "rejected"
	StatusSent     = "sent"
)

var (
	ErrNotFound        = errors.New("review: draft not found")
	ErrAlreadyResolved = errors.New("review: draft already resolved")
	ErrDelivery        = errors.New("review: delivery failed")
)

// Draft is one reply held for human review.
type Draft struct {
	Index           int64                 `json:"index"`
	ID              string                `json:"id"`
	ConversationID  string                `json:"conversation_id"`
	UserID          string                `json:"user_id"`
	CustomerMessage string                `json:"customer_message"`
	Content         string                `json:"content"`
	Confidence      float64               `json:"confidence"`
	Reasoning       string                `json:"reasoning,omitempty"`
	Source          string                `json:"source"`
	Status          string                `json:"status"`
	Trace           []pipeline.TraceEvent `json:"trace,omitempty"`
	CreatedAt       int64                 `json:"created_at"`
	ResolvedAt      int64                 `json:"resolved_at,omitempty"`
	SentAt          int64                 `json:"sent_at,omitempty"`
	FinalContent    string                `json:"final_content,omitempty"`
}

// Store persists review drafts. Resolve must be atomic: exactly one caller
// can move a pending draft to a terminal status. MarkSent records the
// delivery outcome for an approved or edited draft.
type Store interface {
	Create(ctx context.Context, d Draft) (Draft, error)
	Get(ctx context.Context, index int64) (Draft, error)
	List(ctx context.Context, status string, limit int) ([]Draft, error)
	Resolve(ctx context.Context, index int64, status string, finalContent string) (Draft, error)
	MarkSent(ctx context.Context, index int64) (Draft, error)
}

// MemoryStore keeps drafts in process memory. Used by live chat sessions.
type MemoryStore struct {
	mu     sync.Mutex
	drafts map[int64]Draft
	nextID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{drafts: make(map[int64]Draft)}
}

func (s *MemoryStore) Create(_ context.Context, d Draft) (Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	d.Index = s.nextID
	d.Status = StatusPending
	if d.CreatedAt == 0 {
		d.CreatedAt = time.Now().Unix()
	}
	s.drafts[d.Index] = d
	return d, nil
}

func (s *MemoryStore) Get(_ context.Context, index int64) (Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[index]
	if !ok {
		return Draft{}, ErrNotFound
	}
	return d, nil
}

func (s *MemoryStore) List(_ context.Context, status string, limit int) ([]Draft, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Draft, 0, limit)
	for i := int64(1); i <= s.nextID && len(items) < limit; i++ {
		d, ok := s.drafts[i]
		if !ok {
			continue
		}
		if status == "" || d.Status == status {
			items = append(items, d)
		}
	}
	return items, nil
}

func (s *MemoryStore) Resolve(_ context.Context, index int64, status string, finalContent string) (Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[index]
	if !ok {
		return Draft{}, ErrNotFound
	}
	if d.Status != StatusPending {
		return Draft{}, ErrAlreadyResolved
	}
	d.Status = status
	d.ResolvedAt = time.Now().Unix()
	d.FinalContent = finalContent
	s.drafts[index] = d
	return d, nil
}

func (s *MemoryStore) MarkSent(_ context.Context, index int64) (Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[index]
	if !ok {
		return Draft{}, ErrNotFound
	}
	switch d.Status {
	case StatusApproved, StatusEdited:
	case StatusSent:
		return Draft{}, ErrAlreadyResolved
	default:
		return Draft{}, fmt.Errorf("review: draft %d is %s, not awaiting delivery", index, d.Status)
	}
	d.Status = StatusSent
	d.SentAt = time.Now().Unix()
	s.drafts[index] = d
	return d, nil
}
