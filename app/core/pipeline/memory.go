package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"deskmind/app/pkg/types"
)

const (
	// A catalogue match at or above this score is treated as a near-exact
	// answer and earns the fixed confidence boost.
	nearExactScore = 0.95
	nearExactBoost = 0.10
)

// MemorySearcher answers similarity queries over stored conversation memory.
type MemorySearcher interface {
	SearchHistory(ctx context.Context, userID string, query string, limit int) ([]types.Turn, error)
	SearchCatalogue(ctx context.Context, query string, limit int) ([]types.CatalogueMatch, error)
}

// MemoryContext is everything the generator knows about the customer before
// drafting a reply.
type MemoryContext struct {
	History         []types.Turn
	Catalogue       []types.CatalogueMatch
	ConfidenceBoost float64
}

type Retriever struct {
	memory         MemorySearcher
	historyLimit   int
	catalogueLimit int
	timeout        time.Duration
}

func NewRetriever(memory MemorySearcher, historyLimit int, catalogueLimit int, timeout time.Duration) *Retriever {
	if historyLimit <= 0 {
		historyLimit = 5
	}
	if catalogueLimit <= 0 {
		catalogueLimit = 3
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Retriever{
		memory:         memory,
		historyLimit:   historyLimit,
		catalogueLimit: catalogueLimit,
		timeout:        timeout,
	}
}

// Gather runs the history and catalogue queries, each under its own timeout.
// A failed query degrades to an empty result; the pipeline continues.
func (r *Retriever) Gather(ctx context.Context, msg types.IncomingMessage, trace *Trace) MemoryContext {
	mc := MemoryContext{}

	step := trace.Begin("User history search", CallMemorySearch,
		fmt.Sprintf("user=%s, query_len=%d", msg.UserID, len(msg.Body)))
	qctx, cancel := context.WithTimeout(ctx, r.timeout)
	history, err := r.memory.SearchHistory(qctx, msg.UserID, msg.Body, r.historyLimit)
	cancel()
	if err != nil {
		step.Fail(err)
		log.Printf("[Memory] History search failed for %s: %v", msg.UserID, err)
	} else {
		mc.History = history
		step.Complete(fmt.Sprintf("%d turns", len(history)), nil)
	}

	step = trace.Begin("Catalogue search", CallMemorySearch,
		fmt.Sprintf("query_len=%d", len(msg.Body)))
	qctx, cancel = context.WithTimeout(ctx, r.timeout)
	catalogue, err := r.memory.SearchCatalogue(qctx, msg.Body, r.catalogueLimit)
	cancel()
	if err != nil {
		step.Fail(err)
		log.Printf("[Memory] Catalogue search failed: %v", err)
	} else {
		mc.Catalogue = catalogue
		step.Complete(fmt.Sprintf("%d matches, top_score=%.2f", len(catalogue), topScore(catalogue)), nil)
	}

	top := topScore(mc.Catalogue)
	boostStep := trace.Begin("Confidence boost", CallComputation, fmt.Sprintf("top_score=%.2f", top))
	if top >= nearExactScore {
		mc.ConfidenceBoost = nearExactBoost
	}
	boostStep.Complete(fmt.Sprintf("boost=%.2f", mc.ConfidenceBoost), map[string]interface{}{
		"top_score": top,
		"boost":     mc.ConfidenceBoost,
	})

	return mc
}

func topScore(matches []types.CatalogueMatch) float64 {
	best := 0.0
	for _, m := range matches {
		if m.Score > best {
			best = m.Score
		}
	}
	return best
}
