package audit

import (
	"context"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-relay/internal/relay"
)

// DefaultQueueSize is the recorder buffer used when none is given.
const DefaultQueueSize = 256

// Logger is the logging surface the recorder needs.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Recorder is a relay.Observer that writes activity to a Repository.
//
// Observe never blocks: entries go through a buffered queue drained by Run,
// and are dropped when the queue is full. Writes are serial, which suits
// SQLite's single writer.
type Recorder struct {
	repo    Repository
	logger  Logger
	queue   chan *Entry
	dropped atomic.Int64
}

// NewRecorder creates a recorder. Call Run to start writing.
func NewRecorder(repo Repository, logger Logger, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Recorder{
		repo:   repo,
		logger: logger,
		queue:  make(chan *Entry, queueSize),
	}
}

// Observe implements relay.Observer.
func (r *Recorder) Observe(a relay.Activity) {
	entry := &Entry{
		Action:    string(a.Kind),
		ConnID:    a.ConnID,
		DeviceID:  a.DeviceID,
		Username:  a.Username,
		Command:   a.Command,
		Target:    a.Target,
		Reason:    a.Reason,
		CreatedAt: a.At,
	}

	select {
	case r.queue <- entry:
	default:
		if r.dropped.Add(1) == 1 || r.dropped.Load()%100 == 0 {
			r.logger.Warn("audit queue full, dropping entry", "action", entry.Action, "dropped", r.dropped.Load())
		}
	}
}

// Dropped returns how many entries were discarded because the queue was full.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Run writes queued entries until ctx is cancelled, then flushes what is
// already queued and returns.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case entry := <-r.queue:
			r.write(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-r.queue:
					r.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(entry *Entry) {
	// Writes outlive the run context so the shutdown flush can complete.
	if err := r.repo.Create(context.Background(), entry); err != nil {
		r.logger.Error("audit write failed", "action", entry.Action, "error", err)
	}
}
