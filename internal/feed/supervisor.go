package feed

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// shortRunThreshold is the "ran for less than this" test applied after every
// connection attempt to decide whether to back off before reconnecting.
const shortRunThreshold = 2 * time.Second

// backoffResetThreshold is the n > 6 check that resets the exponent.
const backoffResetThreshold = 6

// Supervisor wraps a Synchronizer's Run in an exponential-backoff reconnect
// loop: a connection attempt that lasts less than shortRunThreshold
// increments a failure counter n and sleeps 2^n + rand(0,1) seconds before
// retrying, resetting n once it exceeds backoffResetThreshold.
//
// The asymmetry here is deliberate: there is no else branch. A connection
// that survives >= shortRunThreshold does NOT reset n to 0 — it just skips
// incrementing and sleeping that round. n only resets when it exceeds 6 on
// a short-lived connection. A long healthy run following a string of short
// ones leaves n exactly where it was.
type Supervisor struct {
	sync Runner
	n    int

	logger *slog.Logger

	// now, rand, and sleepCtx are overridable for tests; they default to
	// time.Now, rand.Float64, and a real context-aware sleep.
	now      func() time.Time
	rand     func() float64
	sleepCtx func(context.Context, time.Duration)
}

// Runner is satisfied by *Synchronizer; abstracted so tests can supervise a
// fake with scripted run durations/errors.
type Runner interface {
	Run(ctx context.Context) error
}

// NewSupervisor wraps runner in the reconnect-backoff policy.
func NewSupervisor(runner Runner, logger *slog.Logger) *Supervisor {
	s := &Supervisor{
		sync:   runner,
		logger: logger.With("component", "feed_supervisor"),
		now:    time.Now,
		rand:   rand.Float64,
	}
	s.sleepCtx = s.realSleepCtx
	return s
}

// Run drives the connect/reconnect loop until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		start := s.now()
		err := s.sync.Run(ctx)
		elapsed := s.now().Sub(start)

		if err != nil {
			s.logger.Error("feed connection ended", "error", err, "elapsed", elapsed)
		}

		if elapsed < shortRunThreshold {
			s.n++
			sleepFor := s.backoffDuration()
			s.logger.Warn("reconnecting after short-lived connection", "n", s.n, "sleep", sleepFor)
			s.sleepCtx(ctx, sleepFor)
			if s.n > backoffResetThreshold {
				s.n = 0
			}
		}
	}
}

// backoffDuration computes (2^n) + rand(0,1) seconds, matching
// `(2 ** n) + (random.randint(0, 1000) / 1000)`.
func (s *Supervisor) backoffDuration() time.Duration {
	base := float64(uint64(1) << uint(s.n))
	jitter := s.rand()
	return time.Duration((base + jitter) * float64(time.Second))
}

func (s *Supervisor) realSleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
