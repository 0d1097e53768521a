package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests move time without sleeping.
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

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New(threshold, cooldown)
	b.now = clock.Now
	return b, clock
}

func TestBreaker_AllowWhenClosed(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	assert.True(t, b.Allow("managed"))
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.RecordFailure("managed")
	b.RecordFailure("managed")
	require.True(t, b.Allow("managed"), "should still allow before threshold")

	b.RecordFailure("managed")
	assert.False(t, b.Allow("managed"))
	assert.Equal(t, StateOpen, b.State("managed"))
}

func TestBreaker_OpenToHalfOpenAfterCooldown(t *testing.T) {
	b, clock := newTestBreaker(2, time.Minute)

	b.RecordFailure("managed")
	b.RecordFailure("managed")
	require.False(t, b.Allow("managed"))

	clock.Advance(61 * time.Second)

	assert.True(t, b.Allow("managed"), "probe allowed after cooldown")
	assert.Equal(t, StateHalfOpen, b.State("managed"))
	assert.False(t, b.Allow("managed"), "second call rejected while probing")
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)

	b.RecordFailure("managed")
	clock.Advance(2 * time.Minute)
	require.True(t, b.Allow("managed"))

	b.RecordSuccess("managed")
	assert.Equal(t, StateClosed, b.State("managed"))
	assert.True(t, b.Allow("managed"))
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)

	b.RecordFailure("managed")
	clock.Advance(2 * time.Minute)
	require.True(t, b.Allow("managed"))

	b.RecordFailure("managed")
	assert.Equal(t, StateOpen, b.State("managed"))
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.RecordFailure("managed")
	b.RecordFailure("managed")
	b.RecordSuccess("managed")
	b.RecordFailure("managed")
	b.RecordFailure("managed")

	assert.Equal(t, StateClosed, b.State("managed"))
}

func TestBreaker_IndependentBackends(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)

	b.RecordFailure("managed")
	assert.False(t, b.Allow("managed"))
	assert.True(t, b.Allow("generative"))
}

func TestBreaker_Do(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)
	boom := errors.New("boom")

	calls := 0
	err := b.Do("managed", func() error { calls++; return boom })
	assert.ErrorIs(t, err, boom)

	err = b.Do("managed", func() error { calls++; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, 1, calls, "fn must not run while open")
}

func TestBreaker_OnTransitionCallback(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)

	got := make(chan [2]State, 1)
	b.OnTransition(func(backend string, from, to State) {
		got <- [2]State{from, to}
	})

	b.RecordFailure("managed")

	select {
	case tr := <-got:
		assert.Equal(t, [2]State{StateClosed, StateOpen}, tr)
	case <-time.After(time.Second):
		t.Fatal("transition callback not invoked")
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(99).String())
}
