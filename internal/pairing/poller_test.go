package pairing

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tick = 20 * time.Millisecond

// scripted returns states in order, repeating the last one.
func scripted(calls *atomic.Int32, states ...string) StateFetcher {
	return StateFetcherFunc(func(context.Context, string) (string, error) {
		n := int(calls.Add(1))
		if n > len(states) {
			n = len(states)
		}
		return states[n-1], nil
	})
}

func wait(t *testing.T, s *Session, within time.Duration) Result {
	t.Helper()
	select {
	case <-s.Done():
		return s.Result()
	case <-time.After(within):
		t.Fatalf("session for %s did not finish within %s", s.Instance(), within)
		return Result{}
	}
}

func TestPoller_ConnectsOnThirdPoll(t *testing.T) {
	var calls atomic.Int32
	p := NewPoller(tick, time.Second)

	var notified atomic.Bool
	s := p.Start(context.Background(), scripted(&calls, "connecting", "connecting", "open"), "sales", func(r Result) {
		notified.Store(r.Outcome == OutcomeConnected)
	})

	res := wait(t, s, 3*tick+200*time.Millisecond)
	assert.Equal(t, OutcomeConnected, res.Outcome)
	assert.Equal(t, 3, res.Polls)
	assert.Equal(t, "open", res.LastState)
	assert.True(t, notified.Load())

	// No polls after the session ended.
	time.Sleep(3 * tick)
	assert.EqualValues(t, 3, calls.Load())
}

func TestPoller_FirstPollWaitsOneInterval(t *testing.T) {
	var calls atomic.Int32
	p := NewPoller(200*time.Millisecond, time.Second)
	s := p.Start(context.Background(), scripted(&calls, "open"), "sales", nil)
	defer s.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestPoller_TimesOut(t *testing.T) {
	var calls atomic.Int32
	p := NewPoller(tick, 5*tick)
	s := p.Start(context.Background(), scripted(&calls, "connecting"), "sales", nil)

	res := wait(t, s, time.Second)
	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.Equal(t, "connecting", res.LastState)
	assert.LessOrEqual(t, res.Polls, 5)
}

func TestPoller_ErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	fetcher := StateFetcherFunc(func(context.Context, string) (string, error) {
		if calls.Add(1) < 3 {
			return "", errors.New("gateway unavailable")
		}
		return "open", nil
	})
	s := NewPoller(tick, time.Second).Start(context.Background(), fetcher, "sales", nil)

	res := wait(t, s, time.Second)
	assert.Equal(t, OutcomeConnected, res.Outcome)
	assert.Equal(t, 3, res.Polls)
	assert.Empty(t, res.LastError)
}

func TestSession_StopIsIdempotent(t *testing.T) {
	var calls atomic.Int32
	s := NewPoller(tick, time.Second).Start(context.Background(), scripted(&calls, "connecting"), "sales", nil)

	s.Stop()
	s.Stop()
	res := wait(t, s, time.Second)
	assert.Equal(t, OutcomeCancelled, res.Outcome)

	assert.NotPanics(t, s.Stop)
	assert.Equal(t, OutcomeCancelled, s.Result().Outcome)
}

func TestPoller_ParentCancelStopsSession(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	s := NewPoller(tick, time.Second).Start(ctx, scripted(&calls, "connecting"), "sales", nil)

	cancel()
	res := wait(t, s, time.Second)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
}

func TestManager_OneSessionPerKey(t *testing.T) {
	m := NewManager(context.Background(), NewPoller(tick, time.Second))
	var calls atomic.Int32
	key := Key("u1", "sales")

	first := m.Start(key, scripted(&calls, "connecting"), "sales", nil)
	second := m.Start(key, scripted(&calls, "connecting"), "sales", nil)

	res := wait(t, first, time.Second)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.True(t, m.Active(key))
	assert.Equal(t, 1, m.Len())

	require.NoError(t, m.Stop(key))
	wait(t, second, time.Second)
	assert.Eventually(t, func() bool { return !m.Active(key) }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, m.Stop(key), ErrNotRunning)
}

func TestManager_ForgetsFinishedSessions(t *testing.T) {
	m := NewManager(context.Background(), NewPoller(tick, time.Second))
	var calls atomic.Int32
	key := Key("u1", "sales")

	done := make(chan Result, 1)
	m.Start(key, scripted(&calls, "open"), "sales", func(r Result) { done <- r })

	select {
	case r := <-done:
		assert.Equal(t, OutcomeConnected, r.Outcome)
	case <-time.After(time.Second):
		t.Fatal("pairing did not finish")
	}
	assert.False(t, m.Active(key))
}
