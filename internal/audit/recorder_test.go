package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lyceum-lms/lyceum-lms/internal/authz"
	"github.com/lyceum-lms/lyceum-lms/internal/hierarchy"
)

type captureStore struct {
	mu      sync.Mutex
	batches [][]Entry
}

func (c *captureStore) Insert(ctx context.Context, entries []Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := make([]Entry, len(entries))
	copy(batch, entries)
	c.batches = append(c.batches, batch)
	return nil
}

func (c *captureStore) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.batches {
		n += len(b)
	}
	return n
}

func sampleDecision(allowed bool) authz.Decision {
	return authz.Decision{
		Allowed:    allowed,
		Reason:     authz.ReasonClaimMatch,
		Matched:    &authz.ClaimRef{Type: "manage", Scope: 2, RoleID: 10},
		Rank:       1,
		ComputedAt: time.Now(),
		Source:     authz.SourceLive,
	}
}

func TestRecorderFlushesOnClose(t *testing.T) {
	store := &captureStore{}
	rec := NewRecorder(store, nil)

	for i := 0; i < 5; i++ {
		rec.RecordDecision(context.Background(), "u-1", hierarchy.KindCourseContent, 4, authz.ActionSubmit, sampleDecision(true))
	}
	rec.Close()

	if got := store.total(); got != 5 {
		t.Fatalf("expected 5 entries flushed, got %d", got)
	}
	store.mu.Lock()
	first := store.batches[0][0]
	store.mu.Unlock()
	if first.ID == "" {
		t.Fatalf("expected entry id assigned")
	}
	if first.Subject != "u-1" || first.ResourceID != 4 || first.Action != "submit" {
		t.Fatalf("unexpected entry: %+v", first)
	}
	if first.MatchedType != "manage" || first.MatchedScope != 2 || first.MatchedRole != 10 {
		t.Fatalf("matched claim not recorded: %+v", first)
	}
	if rec.Dropped() != 0 {
		t.Fatalf("expected no drops, got %d", rec.Dropped())
	}
}

func TestRecorderFlushesFullBatches(t *testing.T) {
	store := &captureStore{}
	rec := NewRecorder(store, nil)
	defer rec.Close()

	for i := 0; i < flushBatch; i++ {
		rec.RecordDecision(context.Background(), "u-1", hierarchy.KindCourse, 3, authz.ActionView, sampleDecision(i%2 == 0))
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.total() < flushBatch {
		if time.Now().After(deadline) {
			t.Fatalf("batch not flushed, got %d entries", store.total())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRecorderDropsUnderBackpressure(t *testing.T) {
	// Never started, so nothing consumes the channel.
	rec := &Recorder{
		store:   &captureStore{},
		entries: make(chan Entry, 2),
		done:    make(chan struct{}),
	}

	for i := 0; i < 5; i++ {
		rec.RecordDecision(context.Background(), "u-1", hierarchy.KindCourse, 3, authz.ActionView, sampleDecision(true))
	}

	if rec.Dropped() != 3 {
		t.Fatalf("expected 3 dropped, got %d", rec.Dropped())
	}
}
