package relay

import (
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

var errFakeClosed = errors.New("fake: connection closed")

// sent is one recorded outbound frame.
type sent struct {
	Event string
	Data  json.RawMessage
}

// fakeConn records every frame sent to it.
type fakeConn struct {
	id string

	mu      sync.Mutex
	frames  []sent
	history []string // event names and "close", in call order
	closed  bool
	sendErr error
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	if c.closed {
		return errFakeClosed
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.frames = append(c.frames, sent{Event: event, Data: data})
	c.history = append(c.history, event)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.history = append(c.history, "close")
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// events returns the recorded frames with the given event name.
func (c *fakeConn) events(event string) []sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []sent
	for _, f := range c.frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

// calls returns sent event names and closes in the order they happened.
func (c *fakeConn) calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.history)
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.history = nil
	c.mu.Unlock()
}

// last decodes the most recent frame with the given event into v.
func (c *fakeConn) last(t *testing.T, event string, v any) {
	t.Helper()
	frames := c.events(event)
	if len(frames) == 0 {
		t.Fatalf("conn %s: no %q frame sent", c.id, event)
	}
	if err := json.Unmarshal(frames[len(frames)-1].Data, v); err != nil {
		t.Fatalf("conn %s: decoding %q: %v", c.id, event, err)
	}
}

// fixedClock returns a clock pinned to one instant.
func fixedClock() func() time.Time {
	at := time.UnixMilli(1700000000000)
	return func() time.Time { return at }
}

// send builds an envelope and hands it to the broker.
func send(t *testing.T, b *Broker, connID, event string, data any) {
	t.Helper()
	env := Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal %s: %v", event, err)
		}
		env.Data = raw
	}
	b.Handle(connID, env)
}
