package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Sweeper re-tests stored integrations.
type Sweeper interface {
	Sweep(ctx context.Context) (tested, failed int)
}

// Scheduler runs background jobs on cron schedules. A job never overlaps
// with its previous run and a panic in one run is logged, not propagated.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler evaluating schedules in loc; nil means UTC.
func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	logger := cronLogger{}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithParser(cronParser),
			cron.WithLogger(logger),
			cron.WithChain(cron.SkipIfStillRunning(logger), cron.Recover(logger)),
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddSweep schedules sw. An empty schedule leaves the sweep disabled.
func (s *Scheduler) AddSweep(schedule string, sw Sweeper) error {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		log.Info().Msg("Health sweep disabled")
		return nil
	}
	_, err := s.cron.AddFunc(schedule, func() {
		start := time.Now()
		tested, failed := sw.Sweep(s.ctx)
		log.Info().
			Int("tested", tested).
			Int("failed", failed).
			Dur("duration", time.Since(start)).
			Msg("Health sweep finished")
	})
	if err != nil {
		return fmt.Errorf("invalid health sweep schedule %q: %w", schedule, err)
	}
	log.Info().Str("schedule", schedule).Msg("Health sweep scheduled")
	return nil
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		log.Warn().Msg("Scheduler stop timed out with jobs still running")
	}
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
