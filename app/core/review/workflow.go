package review

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"deskmind/app/core/pipeline"
)

// MemoryWriter persists reviewed exchanges.
type MemoryWriter interface {
	StoreExchange(ctx context.Context, userID string, customerMessage string, reply string) error
	StoreCatalogueEntry(ctx context.Context, conversationID string, customerMessage string, reply string) error
}

// Notifier tells reviewers a draft is waiting.
type Notifier interface {
	NotifyReviewRequest(ctx context.Context, d Draft) error
}

// Workflow holds weak drafts for human review and applies exactly one
// terminal action per draft: approve, edit, or reject.
type Workflow struct {
	store    Store
	sender   pipeline.Replier
	memory   MemoryWriter
	notifier Notifier
	events   pipeline.EventPublisher
}

func NewWorkflow(store Store, sender pipeline.Replier, memory MemoryWriter, notifier Notifier, events pipeline.EventPublisher) *Workflow {
	return &Workflow{
		store:    store,
		sender:   sender,
		memory:   memory,
		notifier: notifier,
		events:   events,
	}
}

// Submit creates a pending draft from a pipeline result. Implements
// pipeline.ReviewSink.
func (w *Workflow) Submit(ctx context.Context, res pipeline.Result) (int64, error) {
	d := Draft{
		ID:              uuid.NewString(),
		ConversationID:  res.Message.ConversationID,
		UserID:          res.Message.UserID,
		CustomerMessage: res.Message.Body,
		Content:         res.Response.Text,
		Confidence:      res.Response.Confidence,
		Reasoning:       res.Response.Reasoning,
		Source:          res.Response.Source,
		Trace:           res.Trace,
		CreatedAt:       time.Now().Unix(),
	}
	created, err := w.store.Create(ctx, d)
	if err != nil {
		return 0, fmt.Errorf("create draft: %w", err)
	}

	if w.notifier != nil {
		if err := w.notifier.NotifyReviewRequest(ctx, created); err != nil {
			log.Printf("[Review] Notify failed for draft %d: %v", created.Index, err)
		}
	}
	log.Printf("[Review] Draft %d pending for conversation %s (confidence=%.2f)",
		created.Index, created.ConversationID, created.Confidence)
	return created.Index, nil
}

func (w *Workflow) Get(ctx context.Context, index int64) (Draft, error) {
	return w.store.Get(ctx, index)
}

func (w *Workflow) List(ctx context.Context, status string, limit int) ([]Draft, error) {
	return w.store.List(ctx, status, limit)
}

// Approve sends the draft as-is, then stores the exchange to the user's
// memory. A skill-agent answer additionally enters the global catalogue.
// Once the delivery completes the draft moves to sent; a failed delivery
// leaves it approved so it can be found and retried.
func (w *Workflow) Approve(ctx context.Context, index int64) (Draft, error) {
	d, err := w.store.Resolve(ctx, index, StatusApproved, "")
	if err != nil {
		return Draft{}, err
	}
	w.publish(ctx, "review.approved", d)

	if err := w.sender.Reply(ctx, d.ConversationID, d.Content); err != nil {
		return d, fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	d = w.markSent(ctx, d)
	w.storeApprovedMemory(ctx, d, d.Content, d.Source == pipeline.SourceSkillFallback)
	log.Printf("[Review] Draft %d approved and sent", d.Index)
	return d, nil
}

// Edit sends reviewer-supplied content instead of the draft. The corrected
// answer always enters the global catalogue so future retrievals can reuse it.
func (w *Workflow) Edit(ctx context.Context, index int64, content string) (Draft, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Draft{}, fmt.Errorf("review: edited content is required")
	}
	d, err := w.store.Resolve(ctx, index, StatusEdited, content)
	if err != nil {
		return Draft{}, err
	}
	w.publish(ctx, "review.edited", d)

	if err := w.sender.Reply(ctx, d.ConversationID, content); err != nil {
		return d, fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	d = w.markSent(ctx, d)
	w.storeApprovedMemory(ctx, d, content, true)
	log.Printf("[Review] Draft %d edited and sent", d.Index)
	return d, nil
}

// markSent records the delivery outcome. The reply already went out, so a
// bookkeeping failure is logged rather than surfaced to the reviewer.
func (w *Workflow) markSent(ctx context.Context, d Draft) Draft {
	sent, err := w.store.MarkSent(ctx, d.Index)
	if err != nil {
		log.Printf("[Review] Sent marker failed for draft %d: %v", d.Index, err)
		return d
	}
	return sent
}

// Reject discards the draft. Nothing is sent and nothing is stored.
func (w *Workflow) Reject(ctx context.Context, index int64) (Draft, error) {
	d, err := w.store.Resolve(ctx, index, StatusRejected, "")
	if err != nil {
		return Draft{}, err
	}
	w.publish(ctx, "review.rejected", d)
	log.Printf("[Review] Draft %d rejected", d.Index)
	return d, nil
}

func (w *Workflow) storeApprovedMemory(ctx context.Context, d Draft, reply string, catalogue bool) {
	if w.memory == nil {
		return
	}
	if err := w.memory.StoreExchange(ctx, d.UserID, d.CustomerMessage, reply); err != nil {
		log.Printf("[Review] Memory store failed for draft %d: %v", d.Index, err)
	}
	if !catalogue {
		return
	}
	if err := w.memory.StoreCatalogueEntry(ctx, d.ConversationID, d.CustomerMessage, reply); err != nil {
		log.Printf("[Review] Catalogue store failed for draft %d: %v", d.Index, err)
	}
}

func (w *Workflow) publish(ctx context.Context, key string, d Draft) {
	if w.events == nil {
		return
	}
	payload := map[string]interface{}{
		"draft_index":     d.Index,
		"draft_id":        d.ID,
		"conversation_id": d.ConversationID,
		"status":          d.Status,
		"source":          d.Source,
		"confidence":      d.Confidence,
	}
	if err := w.events.Publish(ctx, key, payload); err != nil {
		log.Printf("[Review] Event publish failed (%s): %v", key, err)
	}
}
