package ledger

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs the periodic cost-rollup sweep: the rollup already
// runs after every LLM call, but a crash between a counter increment
// and its rollup write would otherwise leave a session's cost stale
// forever. The sweep
// re-rolls up every worker the Ledger has flagged dirty since its last
// successful rollup, self-healing that gap.
type Scheduler struct {
	ledger *Ledger
	logger zerolog.Logger
	cron   *cron.Cron
}

// NewScheduler builds a Scheduler that sweeps on spec, e.g. "@every
// 5m" for the default cadence.
func NewScheduler(ledger *Ledger, logger zerolog.Logger, spec string) (*Scheduler, error) {
	s := &Scheduler{ledger: ledger, logger: logger, cron: cron.New()}
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the cron schedule.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the cron schedule, waiting for an in-flight sweep to
// finish.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }

func (s *Scheduler) sweep() {
	ctx := context.Background()
	workers := s.ledger.DirtyWorkers()
	for _, workerID := range workers {
		if err := s.ledger.Rollup(ctx, workerID); err != nil {
			s.logger.Warn().Err(err).Str("worker_id", workerID).Msg("periodic cost rollup sweep failed")
		}
	}
	if len(workers) > 0 {
		s.logger.Debug().Int("count", len(workers)).Msg("periodic cost rollup sweep completed")
	}
}
