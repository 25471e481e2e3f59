package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	data := &Data{ID: "sess-1", UserID: "alice@example.com", ConversationID: "conv-1"}
	if err := store.Create(ctx, data); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if data.CreatedAt.IsZero() {
		t.Fatal("Create must stamp created_at")
	}

	got, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.UserID != "alice@example.com" {
		t.Fatalf("unexpected session: %+v", got)
	}

	got.MessageCount = 3
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	again, _ := store.Get(ctx, "sess-1")
	if again.MessageCount != 3 {
		t.Fatalf("update not persisted: %+v", again)
	}

	if err := store.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "sess-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Create(ctx, &Data{ID: "sess-2"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	first, _ := store.Get(ctx, "sess-2")
	first.MessageCount = 99

	second, _ := store.Get(ctx, "sess-2")
	if second.MessageCount != 0 {
		t.Fatal("mutating a returned session must not affect the store")
	}
}

func TestMemoryStoreUpdateUnknown(t *testing.T) {
	store := NewMemoryStore()
	err := store.Update(context.Background(), &Data{ID: "ghost"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNewPicksDriver(t *testing.T) {
	store, err := New("", "", time.Hour)
	if err != nil {
		t.Fatalf("default driver failed: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}

	if _, err := New("redis", "", time.Hour); err == nil {
		t.Fatal("redis driver without address must fail")
	}
	if _, err := New("etcd", "", time.Hour); err == nil {
		t.Fatal("unknown driver must fail")
	}
}
