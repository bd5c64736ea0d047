package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consultation_chat/internal/domain"
	"consultation_chat/pkg/logger"
)

const testThreshold = 30 * time.Minute

func newTestReaper(clock *fakeClock) (*Registry, *Reaper) {
	registry := NewRegistry(WithClock(clock.Now))
	return registry, NewReaper(registry, 5*time.Minute, testThreshold, logger.NewNop())
}

func TestReaper_RemovesStaleButOpenConnection(t *testing.T) {
	req := require.New(t)
	clock := newFakeClock()
	registry, reaper := newTestReaper(clock)

	silent, silentTransport := newTestConnection(clock, uuid.New())
	active, activeTransport := newTestConnection(clock, uuid.New())
	registry.Register(silent)
	registry.Register(active)

	before := registry.Stats().ActiveConnections

	// The silent connection idles past the threshold while the other keeps talking
	clock.Advance(testThreshold + time.Minute)
	registry.Touch(active.ID)

	result := reaper.Sweep()

	req.Equal(1, result.Removed)
	req.Equal(1, result.Stale)
	req.Equal(0, result.Dead)
	req.Equal(before-1, registry.Stats().ActiveConnections)
	req.Equal(1, silentTransport.closeCount())
	req.Equal(0, activeTransport.closeCount())

	_, ok := registry.Lookup(silent.ID)
	req.False(ok)
}

func TestReaper_KeepsConnectionWithinThreshold(t *testing.T) {
	clock := newFakeClock()
	registry, reaper := newTestReaper(clock)
	conn, transport := newTestConnection(clock, uuid.New())
	registry.Register(conn)

	clock.Advance(testThreshold)

	result := reaper.Sweep()
	assert.Equal(t, 0, result.Removed)
	assert.Equal(t, 0, transport.closeCount())
	assert.True(t, registry.IsOnline(conn.UserID))
}

func TestReaper_DeadTransportRemovedRegardlessOfAge(t *testing.T) {
	clock := newFakeClock()
	registry, reaper := newTestReaper(clock)
	conn, transport := newTestConnection(clock, uuid.New())
	registry.Register(conn)

	transport.drop()

	result := reaper.Sweep()
	assert.Equal(t, 1, result.Removed)
	assert.Equal(t, 1, result.Dead)
	assert.Equal(t, 0, transport.closeCount(), "dead transport is not closed again")
	assert.False(t, registry.IsOnline(conn.UserID))
}

func TestReaper_SweepIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	registry, reaper := newTestReaper(clock)
	conn, _ := newTestConnection(clock, uuid.New())
	registry.Register(conn)

	clock.Advance(testThreshold + time.Second)

	first := reaper.Sweep()
	second := reaper.Sweep()

	assert.Equal(t, 1, first.Removed)
	assert.Equal(t, 0, second.Removed)
	assert.False(t, registry.Deregister(conn))
}

func TestReaper_PanicOnOneConnectionDoesNotStopSweep(t *testing.T) {
	clock := newFakeClock()
	registry, reaper := newTestReaper(clock)

	broken, brokenTransport := newTestConnection(clock, uuid.New())
	dead, deadTransport := newTestConnection(clock, uuid.New())
	registry.Register(broken)
	registry.Register(dead)

	brokenTransport.panicOn = true
	deadTransport.drop()

	result := reaper.Sweep()
	assert.Equal(t, 1, result.Removed)
	_, ok := registry.Lookup(broken.ID)
	assert.True(t, ok)
}

func TestReaper_LastSweepAndHook(t *testing.T) {
	clock := newFakeClock()
	registry, reaper := newTestReaper(clock)
	conn, _ := newTestConnection(clock, uuid.New())
	registry.Register(conn)

	var reaped []string
	reaper.OnReap(func(info domain.ConnectionInfo, reason string) {
		reaped = append(reaped, info.ConnectionID+":"+reason)
	})

	assert.Nil(t, reaper.LastSweep())

	clock.Advance(testThreshold + time.Minute)
	reaper.Sweep()

	last := reaper.LastSweep()
	require.NotNil(t, last)
	assert.Equal(t, 1, last.Removed)
	assert.Equal(t, 0, last.Active)
	assert.Equal(t, 1, last.Peak)
	assert.Equal(t, []string{conn.ID + ":" + ReapReasonStale}, reaped)
}

func TestReaper_TriggerRunsOutOfCycleSweep(t *testing.T) {
	registry := NewRegistry()
	reaper := NewReaper(registry, time.Hour, testThreshold, logger.NewNop())

	conn := NewConnection(uuid.New(), "client", newFakeTransport(), time.Now())
	registry.Register(conn)
	conn.transport.(*fakeTransport).drop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reaper.Run(ctx)

	assert.True(t, reaper.Trigger())
	assert.Eventually(t, func() bool {
		return reaper.LastSweep() != nil && registry.Stats().ActiveConnections == 0
	}, time.Second, 10*time.Millisecond)
}
