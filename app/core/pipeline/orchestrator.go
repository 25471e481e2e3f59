package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"deskmind/app/pkg/types"
)

// Replier delivers a reply back to the customer's conversation.
type Replier interface {
	Reply(ctx context.Context, conversationID string, text string) error
}

// MemoryWriter persists a delivered exchange to the user's memory.
type MemoryWriter interface {
	StoreExchange(ctx context.Context, userID string, customerMessage string, reply string) error
}

// ReviewSink holds a draft for human review and returns its draft index.
type ReviewSink interface {
	Submit(ctx context.Context, res Result) (int64, error)
}

// EventPublisher emits pipeline decision events for downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, key string, payload interface{}) error
}

// Result is the outcome of one pipeline run.
type Result struct {
	Message    types.IncomingMessage `json:"message"`
	Response   GeneratedResponse     `json:"response"`
	Decision   RoutingDecision       `json:"decision"`
	DraftIndex int64                 `json:"draft_index,omitempty"`
	Delivered  bool                  `json:"delivered"`
	Trace      []TraceEvent          `json:"trace"`
	TotalMS    int64                 `json:"total_duration_ms"`
	Err        string                `json:"error,omitempty"`
}

type Orchestrator struct {
	retriever  *Retriever
	generator  *Generator
	refiner    *Refiner
	threshold  float64
	genTimeout time.Duration
	replier    Replier
	review     ReviewSink
	memory     MemoryWriter
	events     EventPublisher
}

func NewOrchestrator(
	retriever *Retriever,
	generator *Generator,
	refiner *Refiner,
	threshold float64,
	genTimeout time.Duration,
	replier Replier,
	review ReviewSink,
	memory MemoryWriter,
	events EventPublisher,
) *Orchestrator {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.8
	}
	if genTimeout <= 0 {
		genTimeout = 60 * time.Second
	}
	return &Orchestrator{
		retriever:  retriever,
		generator:  generator,
		refiner:    refiner,
		threshold:  threshold,
		genTimeout: genTimeout,
		replier:    replier,
		review:     review,
		memory:     memory,
		events:     events,
	}
}

// Process runs the full pipeline for one incoming message.
func (o *Orchestrator) Process(ctx context.Context, msg types.IncomingMessage) (Result, error) {
	trace := NewTrace()
	res := Result{Message: msg}

	mc := o.retriever.Gather(ctx, msg, trace)

	gctx, cancel := context.WithTimeout(ctx, o.genTimeout)
	resp, err := o.generator.Generate(gctx, msg, mc, trace)
	if err != nil {
		cancel()
		res.Trace = trace.Events()
		res.TotalMS = trace.TotalDurationMS()
		res.Err = err.Error()
		return res, err
	}
	resp = o.refiner.Refine(gctx, msg.Body, resp, trace)
	cancel()

	res.Response = resp
	res.Decision = Decide(resp, o.threshold)

	var deliveryErr error
	if res.Decision.Decision == DecisionAutoSent {
		step := trace.Begin("Reply delivery", CallHTTPFetch, "conversation="+msg.ConversationID)
		if err := o.replier.Reply(ctx, msg.ConversationID, resp.Text); err != nil {
			step.Fail(err)
			deliveryErr = fmt.Errorf("deliver reply: %w", err)
		} else {
			step.Complete("delivered", nil)
			res.Delivered = true
			if o.memory != nil {
				if err := o.memory.StoreExchange(ctx, msg.UserID, msg.Body, resp.Text); err != nil {
					log.Printf("[Orchestrator] Memory store failed for %s: %v", msg.UserID, err)
				}
			}
		}
	}

	res.Trace = trace.Events()
	res.TotalMS = trace.TotalDurationMS()

	if res.Decision.Decision == DecisionPendingReview {
		index, err := o.review.Submit(ctx, res)
		if err != nil {
			res.Err = err.Error()
			return res, fmt.Errorf("submit for review: %w", err)
		}
		res.DraftIndex = index
	}

	o.publish(ctx, "pipeline."+res.Decision.Decision, res)

	if deliveryErr != nil {
		res.Err = deliveryErr.Error()
		return res, deliveryErr
	}

	log.Printf("[Orchestrator] Conversation %s routed %s (confidence=%.2f, source=%s)",
		msg.ConversationID, res.Decision.Decision, resp.Confidence, resp.Source)
	return res, nil
}

// BatchItem is one question in a batch run.
type BatchItem struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Question       string `json:"question"`
}

// ProcessBatch runs the pipeline over the items with bounded concurrency and
// streams each result as it completes. The returned channel is closed when
// all scheduled work has finished; cancellation stops new work from being
// scheduled.
func (o *Orchestrator) ProcessBatch(ctx context.Context, items []BatchItem, workers int) <-chan Result {
	if workers <= 0 {
		workers = 3
	}
	feed := make(chan types.IncomingMessage)
	out := make(chan Result)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range feed {
				res, err := o.Process(ctx, msg)
				if err != nil && res.Err == "" {
					res.Err = err.Error()
				}
				select {
				case out <- res:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(feed)
		for _, item := range items {
			msg := types.IncomingMessage{
				ConversationID: item.ConversationID,
				UserID:         item.UserID,
				Body:           item.Question,
				ReceivedAt:     time.Now(),
			}
			if msg.ConversationID == "" {
				msg.ConversationID = uuid.NewString()
			}
			select {
			case feed <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

func (o *Orchestrator) publish(ctx context.Context, key string, res Result) {
	if o.events == nil {
		return
	}
	payload := map[string]interface{}{
		"conversation_id": res.Message.ConversationID,
		"user_id":         res.Message.UserID,
		"decision":        res.Decision.Decision,
		"confidence":      res.Response.Confidence,
		"source":          res.Response.Source,
		"draft_index":     res.DraftIndex,
		"delivered":       res.Delivered,
	}
	if err := o.events.Publish(ctx, key, payload); err != nil {
		log.Printf("[Orchestrator] Event publish failed (%s): %v", key, err)
	}
}
