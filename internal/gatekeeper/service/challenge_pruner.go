package service

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BrandonDHaskell/gatekeeper/internal/gatekeeper/store"
)

const (
	// DefaultChallengeRetention applies when no retention is configured.
	DefaultChallengeRetention = 7 * 24 * time.Hour

	// MinChallengeRetention is the shortest retention a pruner accepts.
	// Shorter values are raised to it.
	MinChallengeRetention = time.Hour

	defaultPruneInterval = time.Hour
)

// PrunerConfig holds the parameters for NewChallengePruner.
type PrunerConfig struct {
	// Retention is how long a challenge is kept after it expires.
	// Zero selects DefaultChallengeRetention.
	Retention time.Duration

	// Interval between sweeps.  Defaults to 1h.
	Interval time.Duration
}

// ChallengePruner garbage-collects passcode challenges once they have been
// expired for longer than the retention window.  Expired challenges are
// already unusable; the window only bounds how long they stay around for
// auditing.
type ChallengePruner struct {
	challenges store.ChallengeStore
	retention  time.Duration
	interval   time.Duration
	logger     *log.Logger
	now        func() time.Time

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	stopped  chan struct{}
}

func NewChallengePruner(s store.ChallengeStore, cfg PrunerConfig, logger *log.Logger) *ChallengePruner {
	retention := cfg.Retention
	switch {
	case retention <= 0:
		retention = DefaultChallengeRetention
	case retention < MinChallengeRetention:
		logger.Printf("challenge retention %s raised to %s", retention, MinChallengeRetention)
		retention = MinChallengeRetention
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultPruneInterval
	}
	return &ChallengePruner{
		challenges: s,
		retention:  retention,
		interval:   interval,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Retention reports the effective retention window.
func (p *ChallengePruner) Retention() time.Duration { return p.retention }

// Start sweeps once in the background and then every interval until ctx
// ends or Stop is called.  Calls after the first are ignored.
func (p *ChallengePruner) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	p.logger.Printf("challenge pruner: retention %s, every %s", p.retention, p.interval)
	go p.run(ctx)
}

// Stop ends the background sweeps and waits for an in-flight sweep to
// finish.  It may be called more than once, and without Start.
func (p *ChallengePruner) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	if p.started.Load() {
		<-p.stopped
	}
}

func (p *ChallengePruner) run(ctx context.Context) {
	defer close(p.stopped)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if n, err := p.Sweep(ctx); err != nil {
			p.logger.Printf("challenge pruner: %v", err)
		} else if n > 0 {
			p.logger.Printf("challenge pruner: removed %d expired challenges", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
		}
	}
}

// Sweep deletes every challenge that expired before now minus the
// retention window and returns how many were removed.
func (p *ChallengePruner) Sweep(ctx context.Context) (int64, error) {
	return p.challenges.PruneOlderThan(ctx, p.now().Add(-p.retention))
}
