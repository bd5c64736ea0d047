package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

type fakeTransport struct {
	mu        sync.Mutex
	sent      []Envelope
	connected bool
	closes    int
	panicOn   bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{connected: true}
}

func (f *fakeTransport) Send(env Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrTransportClosed
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.connected = false
	return nil
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOn {
		panic("transport state unavailable")
	}
	return f.connected
}

func (f *fakeTransport) drop() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeTransport) events(eventType string) []Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Envelope
	for _, env := range f.sent {
		if env.Type == eventType {
			out = append(out, env)
		}
	}
	return out
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestConnection(clock *fakeClock, userID uuid.UUID) (*Connection, *fakeTransport) {
	transport := newFakeTransport()
	return NewConnection(userID, "client", transport, clock.Now()), transport
}

func decodePayload[T any](env Envelope) T {
	var v T
	_ = json.Unmarshal(env.Payload, &v)
	return v
}
