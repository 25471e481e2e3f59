package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("session: not found")

// Data is the state of one live chat session.
type Data struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	MessageCount   int       `json:"message_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Store persists live chat sessions.
type Store interface {
	Create(ctx context.Context, data *Data) error
	Get(ctx context.Context, id string) (*Data, error)
	Update(ctx context.Context, data *Data) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// New picks a driver by name: "memory" (default) or "redis".
func New(driver string, redisAddr string, ttl time.Duration) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		if strings.TrimSpace(redisAddr) == "" {
			return nil, fmt.Errorf("session: redis driver requires an address")
		}
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		return NewRedisStore(client, ttl), nil
	default:
		return nil, fmt.Errorf("session: unknown driver %q", driver)
	}
}
