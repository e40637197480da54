package storage

import "testing"

func TestNewStoreMemory(t *testing.T) {
	store, err := NewStore("memory", "")
	if err != nil {
		t.Fatalf("new memory store: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
}

func TestNewStoreBadger(t *testing.T) {
	store, err := NewStore(KindBadger, "")
	if err != nil {
		t.Fatalf("new badger store: %v", err)
	}
	if _, ok := store.(*BadgerStore); !ok {
		t.Fatalf("expected badger store, got %T", store)
	}
	if err := CloseIfSupported(store); err != nil {
		t.Fatalf("close unopened store: %v", err)
	}
}

func TestNewStoreUnsupported(t *testing.T) {
	_, err := NewStore("unknown", "")
	if err == nil {
		t.Fatal("expected unsupported store error")
	}
}
