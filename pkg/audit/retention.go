package audit

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper deletes events older than the configured retention. It sweeps
// once on start and then every SweepInterval.
type Sweeper struct {
	store  *Store
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewSweeper creates a Sweeper. A nil cfg uses DefaultConfig.
func NewSweeper(store *Store, cfg *Config, logger *slog.Logger) *Sweeper {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := *cfg
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Hour
	}
	if c.SweepBatch <= 0 {
		c.SweepBatch = 1000
	}
	return &Sweeper{store: store, cfg: c, logger: logger, now: time.Now}
}

// Run sweeps until ctx is cancelled. It returns at once when there is no
// store or retention is unlimited.
func (s *Sweeper) Run(ctx context.Context) {
	if s.store == nil || s.cfg.Retention <= 0 {
		s.logger.Debug("audit sweeper idle", "hasStore", s.store != nil, "retention", s.cfg.Retention.String())
		return
	}
	s.logger.Info("audit sweeper started",
		"retention", s.cfg.Retention.String(),
		"interval", s.cfg.SweepInterval.String())

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("audit sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.Info("audit sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// Sweep deletes expired events in batches and returns how many went.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.cfg.Retention)
	var total int64
	for {
		n, err := s.store.DeleteOlderThan(ctx, cutoff, s.cfg.SweepBatch)
		total += n
		if err != nil {
			return total, err
		}
		if n < int64(s.cfg.SweepBatch) {
			break
		}
	}
	if total > 0 {
		s.logger.Info("audit events expired", "deleted", total, "cutoff", cutoff.Format(time.RFC3339))
	}
	return total, nil
}
