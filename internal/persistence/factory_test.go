package persistence

import (
	"context"
	"testing"

	"github.com/verax-io/verax/internal/config"
	"github.com/verax-io/verax/internal/logger"
)

func TestNewStore(t *testing.T) {
	log := logger.NewFromConfig("error", "text")

	store, err := NewStore(context.Background(), config.StoreConfig{Type: "memory"}, log)
	if err != nil {
		t.Fatalf("Failed to create memory store: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Errorf("Expected *MemoryStore, got %T", store)
	}

	badgerStore, err := NewStore(context.Background(), config.StoreConfig{
		Type:       "badger",
		DataDir:    t.TempDir(),
		SyncWrites: false,
	}, log)
	if err != nil {
		t.Fatalf("Failed to create badger store: %v", err)
	}
	defer func() { _ = badgerStore.Close() }()
	if _, ok := badgerStore.(*BadgerStore); !ok {
		t.Errorf("Expected *BadgerStore, got %T", badgerStore)
	}

	if _, err := NewStore(context.Background(), config.StoreConfig{Type: "cassandra"}, log); err == nil {
		t.Error("Expected error for unsupported store type")
	}
}
