package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/relay"
)

type memRepo struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (m *memRepo) Create(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memRepo) List(context.Context, Filter) (*ListResult, error) {
	return nil, errors.New("not implemented")
}

func (m *memRepo) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

type nopLogger struct{}

func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func TestRecorder_FlushesOnShutdown(t *testing.T) {
	repo := &memRepo{}
	rec := NewRecorder(repo, nopLogger{}, 16)
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		rec.Observe(relay.Activity{Kind: relay.ActivityCommandSent, ConnID: "w1", DeviceID: "d1", Command: "go", At: at})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.Run(ctx)

	if repo.len() != 10 {
		t.Fatalf("wrote %d entries, want 10", repo.len())
	}
	got := repo.entries[0]
	if got.Action != "command_dispatched" || got.DeviceID != "d1" || got.Command != "go" || !got.CreatedAt.Equal(at) {
		t.Errorf("entry = %+v", got)
	}
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	repo := &memRepo{}
	rec := NewRecorder(repo, nopLogger{}, 2)

	for i := 0; i < 5; i++ {
		rec.Observe(relay.Activity{Kind: relay.ActivityConnectionOpened})
	}
	if rec.Dropped() != 3 {
		t.Errorf("Dropped() = %d, want 3", rec.Dropped())
	}
}

func TestRecorder_WritesWhileRunning(t *testing.T) {
	repo := newTestRepo(t)
	rec := NewRecorder(repo, nopLogger{}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	b := relay.NewBroker(relay.BrokerOptions{Observers: []relay.Observer{rec}})
	b.Connect(stubConn("c1"))
	b.Disconnect("c1")

	cancel()
	<-done

	res, err := repo.List(context.Background(), Filter{ConnID: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 2 {
		t.Errorf("recorded %d entries for c1, want 2", res.Total)
	}
}

type stubConn string

func (c stubConn) ID() string           { return string(c) }
func (stubConn) Send(string, any) error { return nil }
func (stubConn) Close() error           { return nil }
