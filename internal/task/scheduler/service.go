package scheduler

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	rtsup "moyubot/internal/runtime/supervisor"
	logx "moyubot/pkg/logx"
)

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		defs:   map[string]*jobDef{},
	}
}

// Start arms every registered definition and starts triggering.
// Definitions added before Start are kept and armed here.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}

	loc := s.loadLocationLocked()
	s.loc = loc
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log.With(logx.String("comp", "scheduler.jobs"))))
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for _, d := range s.defs {
		if err := s.addCronLocked(d); err != nil {
			s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop stops triggering and cancels in-flight jobs. It waits for them only
// until ctx is done; a push cut short by shutdown is not retried.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c, sup := s.c, s.sup
	s.c, s.sup = nil, nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	if sup != nil {
		if err := sup.Stop(ctx); err != nil && errors.Is(err, context.DeadlineExceeded) {
			s.log.Warn("in-flight jobs still running at shutdown", logx.Int64("in_flight", sup.Counters().Active))
		}
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	snap := Snapshot{Running: s.c != nil, Timezone: loc.String()}
	if s.sup != nil {
		snap.InFlight = s.sup.Counters().Active
	}
	for _, d := range s.defs {
		it := JobInfo{
			Name:     d.name,
			Spec:     d.spec,
			Timeout:  d.timeout,
			Runs:     d.state.runs.Load(),
			Failures: d.state.failures.Load(),
		}
		d.state.mu.Lock()
		it.LastRun, it.LastError = d.state.lastRun, d.state.lastErr
		d.state.mu.Unlock()
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		snap.Jobs = append(snap.Jobs, it)
	}
	sort.Slice(snap.Jobs, func(i, j int) bool { return snap.Jobs[i].Name < snap.Jobs[j].Name })
	return snap
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
