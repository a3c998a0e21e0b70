// Package reset rolls per-account daily send counters over at local
// midnight.
package reset

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"undangin/internal/storage"
	logx "undangin/pkg/logx"
)

const defaultSpec = "0 0 * * *"

type Config struct {
	// Spec is a cron expression; empty means midnight daily.
	Spec string
	// Timezone decides when "midnight" happens; empty means the process
	// local zone.
	Timezone string
}

// Service owns the cron entry that resets quota counters. The reset itself
// is date-keyed in the store, so a missed or duplicate firing is harmless.
type Service struct {
	cfg   Config
	store storage.Store
	log   logx.Logger
	loc   *time.Location
	now   func() time.Time

	parser cron.Parser
	c      *cron.Cron
}

func New(cfg Config, store storage.Store, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := time.Local
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("loading timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}
	return &Service{
		cfg:    cfg,
		store:  store,
		log:    log,
		loc:    loc,
		now:    time.Now,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}, nil
}

// Location exposes the resolved timezone so the dispatcher can share it.
func (s *Service) Location() *time.Location { return s.loc }

func (s *Service) Start(ctx context.Context) error {
	spec := s.cfg.Spec
	if spec == "" {
		spec = defaultSpec
	}

	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	if _, err := s.c.AddFunc(spec, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("registering reset schedule %q: %w", spec, err)
	}
	s.c.Start()

	// Catch up immediately: the process may have been down across
	// midnight.
	s.RunOnce(ctx)

	s.log.Info("daily reset scheduled", logx.String("spec", spec), logx.String("tz", s.loc.String()))
	return nil
}

func (s *Service) Stop() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
}

// RunOnce resets counters for the current local date. Idempotent per day.
func (s *Service) RunOnce(ctx context.Context) {
	day := s.now().In(s.loc).Format("2006-01-02")
	n, err := s.store.ResetDailyCounts(ctx, day)
	if err != nil {
		s.log.Error("daily reset failed", logx.String("day", day), logx.Err(err))
		return
	}
	if n > 0 {
		s.log.Info("daily counters reset", logx.String("day", day), logx.Int("accounts", n))
	}
}
