package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"deskmind/app/core/llm"
	"deskmind/app/pkg/types"
)

const (
	kindTurn      = "turn"
	kindCatalogue = "catalogue"
)

// Service stores and retrieves conversation memory. Per-user turns and the
// global answer catalogue live in the same collection, separated by payload
// filters.
type Service struct {
	store           VectorStore
	embedder        llm.Embedder
	catalogueUserID string
}

func NewService(store VectorStore, embedder llm.Embedder, catalogueUserID string) *Service {
	if strings.TrimSpace(catalogueUserID) == "" {
		catalogueUserID = "catalogue"
	}
	return &Service{store: store, embedder: embedder, catalogueUserID: catalogueUserID}
}

func (s *Service) SearchHistory(ctx context.Context, userID string, query string, limit int) ([]types.Turn, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	results, err := s.store.Search(ctx, vector, map[string]string{
		"kind":    kindTurn,
		"user_id": userID,
	}, limit)
	if err != nil {
		return nil, err
	}
	turns := make([]types.Turn, 0, len(results))
	for _, r := range results {
		turns = append(turns, types.Turn{
			Role:    r.Payload["role"],
			Content: r.Content,
			Score:   r.Score,
		})
	}
	return turns, nil
}

func (s *Service) SearchCatalogue(ctx context.Context, query string, limit int) ([]types.CatalogueMatch, error) {
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	results, err := s.store.Search(ctx, vector, map[string]string{
		"kind":    kindCatalogue,
		"user_id": s.catalogueUserID,
	}, limit)
	if err != nil {
		return nil, err
	}
	matches := make([]types.CatalogueMatch, 0, len(results))
	for _, r := range results {
		matches = append(matches, types.CatalogueMatch{Content: r.Content, Score: r.Score})
	}
	return matches, nil
}

// StoreExchange records one customer/support exchange as two turns in the
// user's history.
func (s *Service) StoreExchange(ctx context.Context, userID string, customerMessage string, reply string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}
	if err := s.storeTurn(ctx, userID, "customer", customerMessage); err != nil {
		return err
	}
	return s.storeTurn(ctx, userID, "support", reply)
}

// StoreCatalogueEntry records a reviewer-confirmed answer so future
// retrievals can reuse it across users.
func (s *Service) StoreCatalogueEntry(ctx context.Context, conversationID string, customerMessage string, reply string) error {
	content := fmt.Sprintf("Support answer from resolved conversation %s:\nCustomer said: %s\nSupport said: %s",
		conversationID, customerMessage, reply)
	vector, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return err
	}
	return s.store.Upsert(ctx, uuid.NewString(), vector, content, map[string]string{
		"kind":            kindCatalogue,
		"user_id":         s.catalogueUserID,
		"conversation_id": conversationID,
	})
}

func (s *Service) storeTurn(ctx context.Context, userID string, role string, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	vector, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return err
	}
	return s.store.Upsert(ctx, uuid.NewString(), vector, content, map[string]string{
		"kind":    kindTurn,
		"user_id": userID,
		"role":    role,
	})
}

func (s *Service) Close() error {
	return s.store.Close()
}
