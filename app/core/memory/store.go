package memory

import "context"

// Result is a single vector search hit.
type Result struct {
	ID      string
	Score   float64
	Content string
	Payload map[string]string
}

// VectorStore is the storage backend for remembered conversation turns
// and catalogue entries.
type VectorStore interface {
	Search(ctx context.Context, vector []float32, filter map[string]string, limit int) ([]Result, error)
	Upsert(ctx context.Context, id string, vector []float32, content string, payload map[string]string) error
	Close() error
}
