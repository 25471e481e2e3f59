package memory

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

type QdrantConfig struct {
	// URL is the Qdrant server address (e.g. "https://example.qdrant.io:6334").
	URL        string
	Collection string
	APIKey     string
}

// QdrantStore implements VectorStore on a Qdrant collection.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
}

func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return nil, fmt.Errorf("qdrant collection is required")
	}

	raw := cfg.URL
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant url: %w", err)
	}

	port := 6334
	if u.Port() != "" {
		p, err := strconv.Atoi(u.Port())
		if err != nil {
			return nil, fmt.Errorf("invalid qdrant port: %w", err)
		}
		port = p
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   u.Hostname(),
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	return &QdrantStore{client: client, collection: cfg.Collection}, nil
}

func (s *QdrantStore) Search(ctx context.Context, vector []float32, filter map[string]string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 5
	}
	limitUint64 := uint64(limit)

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limitUint64,
		Filter:         buildFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	results := make([]Result, 0, len(points))
	for _, point := range points {
		result := Result{
			Score:   float64(point.Score),
			Payload: make(map[string]string),
		}
		if point.Id != nil {
			if id := point.Id.GetUuid(); id != "" {
				result.ID = id
			} else if num := point.Id.GetNum(); num != 0 {
				result.ID = fmt.Sprintf("%d", num)
			}
		}
		for k, v := range point.Payload {
			str := v.GetStringValue()
			if k == "content" {
				result.Content = str
				continue
			}
			if str != "" {
				result.Payload[k] = str
			}
		}
		results = append(results, result)
	}
	return results, nil
}

func (s *QdrantStore) Upsert(ctx context.Context, id string, vector []float32, content string, payload map[string]string) error {
	values := map[string]*qdrant.Value{
		"content": {Kind: &qdrant.Value_StringValue{StringValue: content}},
	}
	for k, v := range payload {
		values[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points: []*qdrant.PointStruct{
			{
				Id: &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: id}},
				Vectors: &qdrant.Vectors{
					VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: vector}},
				},
				Payload: values,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func buildFilter(filter map[string]string) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(filter))
	for key, value := range filter {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   key,
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
				},
			},
		})
	}
	return &qdrant.Filter{Must: conditions}
}
