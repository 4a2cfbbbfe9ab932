package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/lead-outreach-orchestrator/internal/config"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

func TestMemoryLimiterEnforcesEveryWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiter("test", []Window{
		{Period: time.Second, Ceiling: 2},
		{Period: time.Minute, Ceiling: 3},
	}, WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Admit(ctx, "tenant-a")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.Admit(ctx, "tenant-a")
	assert.False(t, ok, "per-second ceiling reached")

	clock.Advance(time.Second)
	ok, _ = l.Admit(ctx, "tenant-a")
	assert.True(t, ok, "second window rolled")

	clock.Advance(time.Second)
	ok, _ = l.Admit(ctx, "tenant-a")
	assert.False(t, ok, "per-minute ceiling reached")

	clock.Advance(time.Minute)
	ok, _ = l.Admit(ctx, "tenant-a")
	assert.True(t, ok, "minute window rolled")
}

func TestMemoryLimiterRejectionDoesNotConsume(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	l := NewMemoryLimiter("test", []Window{
		{Period: time.Second, Ceiling: 1},
		{Period: time.Hour, Ceiling: 2},
	}, WithClock(clock.Now))
	ctx := context.Background()

	ok, _ := l.Admit(ctx, "k")
	require.True(t, ok)
	for i := 0; i < 5; i++ {
		ok, _ = l.Admit(ctx, "k")
		assert.False(t, ok)
	}

	clock.Advance(time.Second)
	ok, _ = l.Admit(ctx, "k")
	assert.True(t, ok, "rejected attempts must not count against the hourly window")
}

func TestMemoryLimiterCheckDoesNotConsume(t *testing.T) {
	l := NewMemoryLimiter("test", []Window{{Period: time.Hour, Ceiling: 1}})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Check(ctx, "tenant")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.Admit(ctx, "tenant")
	assert.True(t, ok)
	ok, _ = l.Check(ctx, "tenant")
	assert.False(t, ok)
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	l := NewMemoryLimiter("test", []Window{{Period: time.Hour, Ceiling: 1}})
	ctx := context.Background()

	ok, _ := l.Admit(ctx, "a")
	assert.True(t, ok)
	ok, _ = l.Admit(ctx, "b")
	assert.True(t, ok)
	ok, _ = l.Admit(ctx, "a")
	assert.False(t, ok)

	l.Reset("a")
	ok, _ = l.Admit(ctx, "a")
	assert.True(t, ok)
}

func TestMemoryLimiterConcurrentAdmitsNeverExceedCeiling(t *testing.T) {
	l := NewMemoryLimiter("test", CampaignWindows())
	ctx := context.Background()

	var admitted int64
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if ok, _ := l.Admit(ctx, "tenant"); ok {
					atomic.AddInt64(&admitted, 1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), admitted)
}

func TestAwaitSlotWaitsForWindowRoll(t *testing.T) {
	l := NewMemoryLimiter("test", []Window{{Period: 30 * time.Millisecond, Ceiling: 1}})
	ctx := context.Background()

	ok, _ := l.Admit(ctx, "global")
	require.True(t, ok)

	start := time.Now()
	require.NoError(t, AwaitSlot(ctx, l, "global", 5*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestAwaitSlotHonoursContext(t *testing.T) {
	l := NewMemoryLimiter("test", []Window{{Period: time.Hour, Ceiling: 1}})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ok, _ := l.Admit(ctx, "global")
	require.True(t, ok)

	err := AwaitSlot(ctx, l, "global", 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWindowsFromConfigSkipsInvalid(t *testing.T) {
	got := WindowsFromConfig([]config.WindowConfig{
		{Period: time.Second, Ceiling: 80},
		{Period: 0, Ceiling: 10},
		{Period: time.Minute, Ceiling: 0},
	})
	assert.Equal(t, []Window{{Period: time.Second, Ceiling: 80}}, got)
}

func TestRedisWindowKey(t *testing.T) {
	l := NewRedisLimiter(nil, "campaign", "", CampaignWindows())
	assert.Equal(t, "outreach:ratelimit:campaign:tenant-1:3600000", l.windowKey("tenant-1", Window{Period: time.Hour}))
}
