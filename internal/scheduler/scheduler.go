// Package scheduler runs one independent, self-rescheduling polling loop per
// account. The next run is armed only after the previous cycle settles, so a
// slow cycle can never overlap its successor for the same account.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mailherald/mailherald/internal/poller"
)

// Supervisor owns the per-account polling loops.
type Supervisor struct {
	pollers         []*poller.Poller
	defaultInterval time.Duration
	logger          *slog.Logger
}

// New creates a supervisor over the given pollers.
func New(pollers []*poller.Poller, defaultInterval time.Duration, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		pollers:         pollers,
		defaultInterval: defaultInterval,
		logger:          logger,
	}
}

// Run starts every account loop and blocks until ctx is cancelled and each
// in-flight cycle has finished. Cancellation stops rescheduling; it never
// kills a cycle mid-flight.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range s.pollers {
		wg.Add(1)
		go func(p *poller.Poller) {
			defer wg.Done()
			s.loop(ctx, p)
		}(p)
	}
	wg.Wait()
}

func (s *Supervisor) loop(ctx context.Context, p *poller.Poller) {
	acct := p.Account()
	interval := acct.PollInterval(s.defaultInterval)

	s.logger.Info("starting poller",
		"account", acct.Name,
		"protocol", acct.Protocol,
		"interval", interval,
	)

	for {
		if ctx.Err() != nil {
			s.logger.Info("poller stopped", "account", acct.Name)
			return
		}

		s.runCycle(ctx, p)

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("poller stopped", "account", acct.Name)
			return
		case <-timer.C:
		}
	}
}

// runCycle guards one cycle so a panic cannot take the process, or the other
// accounts' loops, down with it.
func (s *Supervisor) runCycle(ctx context.Context, p *poller.Poller) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cycle panicked", "account", p.Account().Name, "panic", r)
		}
	}()
	p.RunCycle(ctx)
}
