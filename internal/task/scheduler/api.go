package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	logx "moyubot/pkg/logx"
)

// AddDaily registers job to run every day at hour:minute (scheduler timezone).
// An existing schedule with the same name is replaced in one step.
func (s *Service) AddDaily(name string, hour, minute int, timeout time.Duration, job func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return fmt.Errorf("invalid time %d:%02d", hour, minute)
	}
	spec := fmt.Sprintf("%d %d * * *", minute, hour)
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("parse %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state := &runState{}
	if old, ok := s.defs[name]; ok {
		state = old.state
		if s.c != nil && old.entryID != 0 {
			s.c.Remove(old.entryID)
		}
	}
	d := &jobDef{name: name, hour: hour, minute: minute, spec: spec, timeout: timeout, job: job, state: state}
	if s.c != nil {
		if err := s.addCronLocked(d); err != nil {
			delete(s.defs, name)
			return err
		}
	}
	s.defs[name] = d

	args := []logx.Field{logx.String("name", name), logx.String("spec", spec), logx.Duration("timeout", timeout)}
	if s.c != nil {
		args = append(args, logx.Time("next", s.c.Entry(d.entryID).Next))
	}
	s.log.Debug("schedule registered", args...)
	return nil
}

// Remove unschedules name. It reports whether a schedule existed.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	s.log.Debug("schedule removed", logx.String("name", name))
	return true
}

func (s *Service) Exists(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.defs[strings.TrimSpace(name)]
	return ok
}

// TriggerTime returns the daily hour:minute of name.
func (s *Service) TriggerTime(name string) (hour, minute int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[strings.TrimSpace(name)]
	if !ok {
		return 0, 0, false
	}
	return d.hour, d.minute, true
}

// Names lists registered schedule names with the given prefix.
func (s *Service) Names(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.defs))
	for name := range s.defs {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	return out
}

// addCronLocked registers d with the running cron. Call with s.mu held.
func (s *Service) addCronLocked(d *jobDef) error {
	eid, err := s.c.AddJob(d.spec, cron.FuncJob(func() { s.trigger(d.name) }))
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

// trigger starts one run of name. It looks the definition up at fire time so
// a replaced job always runs its newest callback.
func (s *Service) trigger(name string) bool {
	s.mu.Lock()
	d, ok := s.defs[name]
	sup := s.sup
	s.mu.Unlock()
	if !ok || sup == nil {
		return false
	}
	if !d.state.running.CompareAndSwap(false, true) {
		s.log.Debug("schedule trigger skipped: previous run still in flight", logx.String("name", name))
		return false
	}

	runID := uuid.NewString()
	sup.Go(name, func(ctx context.Context) error {
		defer d.state.running.Store(false)
		if d.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.timeout)
			defer cancel()
		}

		start := time.Now()
		err := safeRun(ctx, d.job)
		d.state.record(start, err)
		if err != nil {
			// The job stays registered; the next tick runs it again.
			s.log.Warn("scheduled job failed", logx.String("name", name), logx.String("run_id", runID), logx.Duration("took", time.Since(start)), logx.Err(err))
			return nil
		}
		s.log.Debug("scheduled job done", logx.String("name", name), logx.String("run_id", runID), logx.Duration("took", time.Since(start)))
		return nil
	})
	return true
}

func safeRun(ctx context.Context, job func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job(ctx)
}
