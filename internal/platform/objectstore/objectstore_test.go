package objectstore

import (
	"context"
	"errors"
	"testing"
)

func TestInMemoryStore_PutGet(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	if err := s.Put(ctx, "source", "a.csv", []byte("hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := s.Get(ctx, "source", "a.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("expected hello, got %s", data)
	}
}

func TestInMemoryStore_GetMissing(t *testing.T) {
	s := NewInMemoryStore()
	_, err := s.Get(context.Background(), "source", "missing.csv")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemoryStore_DeleteThenGetMissing(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	_ = s.Put(ctx, "ack", "a_InfAck_1.csv", []byte("row"))

	if err := s.Delete(ctx, "ack", "a_InfAck_1.csv"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Delete(ctx, "ack", "a_InfAck_1.csv"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestInMemoryStore_ListByPrefix(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	_ = s.Put(ctx, "source", "FLU_Vaccinations_V5_X01_20250101T000000.csv", nil)
	_ = s.Put(ctx, "source", "FLU_Vaccinations_V5_X02_20250101T000000.csv", nil)
	_ = s.Put(ctx, "ack", "ack/FLU_InfAck_20250101T000000.csv", nil)

	keys, err := s.List(ctx, "source", "FLU")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d: %v", len(keys), keys)
	}

	keys, err = s.List(ctx, "ack", "ack/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected 1 ack key, got %d", len(keys))
	}
}

// bucketIsolation ensures two buckets with the same key do not collide.
func TestInMemoryStore_BucketIsolation(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	_ = s.Put(ctx, "source", "same.csv", []byte("source-content"))
	_ = s.Put(ctx, "ack", "same.csv", []byte("ack-content"))

	data, _ := s.Get(ctx, "source", "same.csv")
	if string(data) != "source-content" {
		t.Errorf("bucket isolation violated, got %s", data)
	}
}
