package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lyceum-lms/lyceum-lms/internal/authz"
	"github.com/lyceum-lms/lyceum-lms/internal/hierarchy"
)

// RecorderStore persists entry batches.
type RecorderStore interface {
	Insert(ctx context.Context, entries []Entry) error
}

const (
	recorderBuffer = 1024
	flushBatch     = 128
	flushInterval  = time.Second
	flushTimeout   = 5 * time.Second
)

// Recorder buffers decisions and writes them in batches off the evaluation
// path. The trail is best effort: when the buffer is full new entries are
// dropped and counted, and a failed flush discards its batch with an error
// log. Recording never blocks or fails a decision.
type Recorder struct {
	store     RecorderStore
	logger    *slog.Logger
	entries   chan Entry
	done      chan struct{}
	stopped   sync.WaitGroup
	closeOnce sync.Once
	dropped   atomic.Int64
}

// NewRecorder constructs a recorder and starts its flush worker.
func NewRecorder(store RecorderStore, logger *slog.Logger) *Recorder {
	r := &Recorder{
		store:   store,
		logger:  logger,
		entries: make(chan Entry, recorderBuffer),
		done:    make(chan struct{}),
	}
	r.stopped.Add(1)
	go r.run()
	return r
}

// RecordDecision implements the engine's audit sink.
func (r *Recorder) RecordDecision(ctx context.Context, subject string, kind hierarchy.Kind, resourceID int64, action authz.Action, d authz.Decision) {
	e := Entry{
		ID:         uuid.NewString(),
		At:         d.ComputedAt,
		Subject:    subject,
		Kind:       string(kind),
		ResourceID: resourceID,
		Action:     string(action),
		Allowed:    d.Allowed,
		Reason:     d.Reason,
		Rank:       d.Rank,
		Source:     d.Source,
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	if d.Matched != nil {
		e.MatchedType = d.Matched.Type
		e.MatchedScope = d.Matched.Scope
		e.MatchedRole = d.Matched.RoleID
	}
	select {
	case r.entries <- e:
	default:
		r.dropped.Add(1)
	}
}

// Dropped reports how many entries were discarded under backpressure.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close drains the buffer, flushes, and stops the worker.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() { close(r.done) })
	r.stopped.Wait()
}

func (r *Recorder) run() {
	defer r.stopped.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	buf := make([]Entry, 0, flushBatch)
	for {
		select {
		case e := <-r.entries:
			buf = append(buf, e)
			if len(buf) >= flushBatch {
				buf = r.flush(buf)
			}
		case <-ticker.C:
			buf = r.flush(buf)
		case <-r.done:
			for drained := false; !drained; {
				select {
				case e := <-r.entries:
					buf = append(buf, e)
				default:
					drained = true
				}
			}
			r.flush(buf)
			return
		}
	}
}

func (r *Recorder) flush(buf []Entry) []Entry {
	if len(buf) == 0 {
		return buf
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := r.store.Insert(ctx, buf); err != nil && r.logger != nil {
		r.logger.Error("decision trail flush failed",
			slog.Int("entries", len(buf)), slog.Any("error", err))
	}
	return buf[:0]
}
