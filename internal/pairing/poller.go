package pairing

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Default timings for waiting on a WhatsApp device link.
const (
	DefaultInterval = 5 * time.Second
	DefaultTimeout  = 120 * time.Second
)

// OpenState is the gateway state that ends a pairing wait successfully.
const OpenState = "open"

// Outcome is how a pairing session ended.
type Outcome string

const (
	OutcomeConnected Outcome = "connected"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeCancelled Outcome = "cancelled"
)

// Result describes a finished session.
type Result struct {
	Instance  string        `json:"instance"`
	Outcome   Outcome       `json:"outcome"`
	Polls     int           `json:"polls"`
	LastState string        `json:"last_state,omitempty"`
	LastError string        `json:"last_error,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// StateFetcher reads an instance's connection state from the gateway.
type StateFetcher interface {
	ConnectionState(ctx context.Context, instance string) (string, error)
}

// StateFetcherFunc adapts a function to StateFetcher.
type StateFetcherFunc func(ctx context.Context, instance string) (string, error)

func (f StateFetcherFunc) ConnectionState(ctx context.Context, instance string) (string, error) {
	return f(ctx, instance)
}

// Poller polls at a fixed interval until the instance reports OpenState or
// the deadline passes. There is no backoff: a failed poll is simply retried
// on the next tick.
type Poller struct {
	Interval time.Duration
	Timeout  time.Duration
}

// NewPoller returns a Poller, substituting defaults for non-positive values.
func NewPoller(interval, timeout time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Poller{Interval: interval, Timeout: timeout}
}

// Session is one running pairing wait.
type Session struct {
	instance string
	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}

	mu     sync.Mutex
	result Result
}

// Start launches the poll loop. The first poll happens one interval after
// Start. onDone, if set, runs once on the poll goroutine when the session ends.
func (p *Poller) Start(parent context.Context, fetcher StateFetcher, instance string, onDone func(Result)) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		instance: instance,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.run(ctx, p.Interval, p.Timeout, fetcher, onDone)
	return s
}

func (s *Session) run(ctx context.Context, interval, timeout time.Duration, fetcher StateFetcher, onDone func(Result)) {
	started := time.Now()
	ticker := time.NewTicker(interval)
	deadline := time.NewTimer(timeout)
	defer func() {
		ticker.Stop()
		deadline.Stop()
		s.cancel()
	}()

	res := Result{Instance: s.instance}
	finish := func(o Outcome) {
		res.Outcome = o
		res.Elapsed = time.Since(started)
		s.mu.Lock()
		s.result = res
		s.mu.Unlock()
		close(s.done)
		log.Info().
			Str("instance", s.instance).
			Str("outcome", string(o)).
			Int("polls", res.Polls).
			Dur("elapsed", res.Elapsed).
			Msg("Pairing poll finished")
		if onDone != nil {
			onDone(res)
		}
	}

	for {
		select {
		case <-ctx.Done():
			finish(OutcomeCancelled)
			return
		case <-deadline.C:
			finish(OutcomeTimedOut)
			return
		case <-ticker.C:
			res.Polls++
			state, err := fetcher.ConnectionState(ctx, s.instance)
			if err != nil {
				if ctx.Err() != nil {
					finish(OutcomeCancelled)
					return
				}
				res.LastError = err.Error()
				log.Warn().Err(err).Str("instance", s.instance).Int("poll", res.Polls).Msg("Pairing poll failed, retrying on next tick")
				continue
			}
			res.LastState = state
			res.LastError = ""
			log.Debug().Str("instance", s.instance).Str("state", state).Int("poll", res.Polls).Msg("Pairing poll")
			if state == OpenState {
				finish(OutcomeConnected)
				return
			}
		}
	}
}

// Stop cancels the session. It is safe to call any number of times, from
// any goroutine, before or after the session has finished.
func (s *Session) Stop() {
	s.stopOnce.Do(s.cancel)
}

// Done is closed when the session has finished.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Result returns the final result. It is the zero Result until Done is closed.
func (s *Session) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Instance returns the instance being paired.
func (s *Session) Instance() string {
	return s.instance
}
