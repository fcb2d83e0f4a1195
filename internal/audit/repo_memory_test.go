package audit

import (
	"context"
	"testing"
	"time"
)

func TestTransitionStatus_SucceedsWhenCurrentMatches(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	entry := &Entry{MessageID: "m1", QueueName: "ACME_FLU", Status: StatusQueued, Timestamp: time.Now()}
	if err := store.Create(ctx, entry); err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := store.TransitionStatus(ctx, "m1", StatusQueued, StatusProcessing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected transition to succeed")
	}

	got, err := store.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusProcessing {
		t.Errorf("expected Processing, got %s", got.Status)
	}
}

func TestTransitionStatus_FailsWhenCurrentDoesNotMatch(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	entry := &Entry{MessageID: "m1", QueueName: "ACME_FLU", Status: StatusProcessing, Timestamp: time.Now()}
	_ = store.Create(ctx, entry)

	ok, err := store.TransitionStatus(ctx, "m1", StatusQueued, StatusProcessing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected guarded transition to fail when current status differs")
	}
}

func TestQueuedForPartition_OrderedByTimestamp(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	now := time.Now()
	_ = store.Create(ctx, &Entry{MessageID: "later", QueueName: "ACME_FLU", Status: StatusQueued, Timestamp: now.Add(time.Minute)})
	_ = store.Create(ctx, &Entry{MessageID: "earlier", QueueName: "ACME_FLU", Status: StatusQueued, Timestamp: now})

	entries, err := store.QueuedForPartition(ctx, "ACME_FLU")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].MessageID != "earlier" {
		t.Errorf("expected earlier entry first, got %s", entries[0].MessageID)
	}
}

func TestProcessingForPartition_AtMostOne(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	_ = store.Create(ctx, &Entry{MessageID: "m1", QueueName: "ACME_FLU", Status: StatusProcessing, Timestamp: time.Now()})

	got, err := store.ProcessingForPartition(ctx, "ACME_FLU")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.MessageID != "m1" {
		t.Fatalf("expected m1 in Processing, got %+v", got)
	}

	none, err := store.ProcessingForPartition(ctx, "OTHER_COVID19")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if none != nil {
		t.Errorf("expected no Processing entry for other partition, got %+v", none)
	}
}

func TestSetRecordCount_NotFound(t *testing.T) {
	store := NewInMemoryStore()
	if err := store.SetRecordCount(context.Background(), "missing", 3); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
