package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "moyubot/pkg/logx"
)

func newTestService(t *testing.T, tz string) *Service {
	t.Helper()
	s := New(Config{Timezone: tz}, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

// farTime returns an hour:minute that will not fire during the test.
func farTime() (int, int) {
	at := time.Now().Add(3 * time.Hour)
	return at.Hour(), at.Minute()
}

func waitRun(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
}

func noop(ctx context.Context) error { return nil }

func TestAddDailyReplaceAndRemove(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())

	if err := s.AddDaily("moyu_calendar_1", 9, 0, 0, noop); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}
	if err := s.AddDaily("moyu_calendar_1", 10, 30, 0, noop); err != nil {
		t.Fatalf("AddDaily replace: %v", err)
	}
	if !s.Exists("moyu_calendar_1") {
		t.Fatal("expected job to exist")
	}
	h, m, ok := s.TriggerTime("moyu_calendar_1")
	if !ok || h != 10 || m != 30 {
		t.Fatalf("TriggerTime = %d:%d ok=%v, want 10:30", h, m, ok)
	}
	if n := len(s.Snapshot().Jobs); n != 1 {
		t.Fatalf("jobs = %d, want 1", n)
	}

	if !s.Remove("moyu_calendar_1") {
		t.Fatal("Remove should report removal")
	}
	if s.Remove("moyu_calendar_1") {
		t.Fatal("second Remove should report nothing removed")
	}
	if _, _, ok := s.TriggerTime("moyu_calendar_1"); ok {
		t.Fatal("TriggerTime after remove should be !ok")
	}
}

func TestAddDailyRejectsInvalidTime(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	tests := []struct {
		name         string
		hour, minute int
	}{
		{name: "hour 24", hour: 24, minute: 0},
		{name: "minute 60", hour: 0, minute: 60},
		{name: "negative", hour: -1, minute: 0},
	}
	for _, tt := range tests {
		if err := s.AddDaily("x", tt.hour, tt.minute, 0, noop); err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
	}
	if s.Exists("x") {
		t.Fatal("rejected job must not be registered")
	}
	if err := s.AddDaily("", 1, 1, 0, noop); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestFailingJobStaysRegistered(t *testing.T) {
	t.Parallel()
	s := newTestService(t, "")
	h, m := farTime()

	ran := make(chan struct{}, 4)
	var calls atomic.Int32
	err := s.AddDaily("moyu_calendar_7", h, m, time.Second, func(ctx context.Context) error {
		calls.Add(1)
		defer func() { ran <- struct{}{} }()
		return errors.New("status 502")
	})
	if err != nil {
		t.Fatalf("AddDaily: %v", err)
	}

	// Two consecutive ticks.
	for i := 0; i < 2; i++ {
		if !s.trigger("moyu_calendar_7") {
			t.Fatalf("tick %d: trigger refused", i)
		}
		waitRun(t, ran)
		waitIdle(t, s, "moyu_calendar_7")
	}

	if got := calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
	if !s.Exists("moyu_calendar_7") {
		t.Fatal("failing job must stay registered")
	}
	snap := s.Snapshot()
	if snap.Jobs[0].Failures != 2 || snap.Jobs[0].LastError != "status 502" {
		t.Fatalf("unexpected job info: %+v", snap.Jobs[0])
	}
}

func TestPanickingJobIsIsolated(t *testing.T) {
	t.Parallel()
	s := newTestService(t, "")
	h, m := farTime()

	if err := s.AddDaily("panics", h, m, 0, func(ctx context.Context) error { panic("bad") }); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}
	ran := make(chan struct{}, 1)
	if err := s.AddDaily("healthy", h, m, 0, func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	}); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}

	s.trigger("panics")
	waitIdle(t, s, "panics")
	s.trigger("healthy")
	waitRun(t, ran)

	if !s.Exists("panics") {
		t.Fatal("panicking job must stay registered")
	}
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	t.Parallel()
	s := newTestService(t, "")
	h, m := farTime()

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	if err := s.AddDaily("slow", h, m, 0, func(ctx context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}

	if !s.trigger("slow") {
		t.Fatal("first trigger refused")
	}
	waitRun(t, started)
	if s.trigger("slow") {
		t.Fatal("second trigger should be skipped while first is running")
	}
	close(release)
	waitIdle(t, s, "slow")
}

func TestTimeoutCancelsJob(t *testing.T) {
	t.Parallel()
	s := newTestService(t, "")
	h, m := farTime()

	done := make(chan error, 1)
	if err := s.AddDaily("hung", h, m, 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	}); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}
	s.trigger("hung")
	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("ctx err = %v, want deadline exceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout did not cancel the job")
	}
}

func TestSnapshotNextRunUsesTimezone(t *testing.T) {
	t.Parallel()
	s := newTestService(t, "UTC")
	if err := s.AddDaily("utc", 7, 30, 0, noop); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}
	snap := s.Snapshot()
	if snap.Timezone != "UTC" || !snap.Running {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	next := snap.Jobs[0].Next.In(time.UTC)
	if next.Hour() != 7 || next.Minute() != 30 {
		t.Fatalf("next = %v, want 07:30 UTC", next)
	}
	if !next.After(time.Now()) {
		t.Fatalf("next %v should be in the future", next)
	}
}

func TestDefinitionsSurviveRestart(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	h, m := farTime()
	if err := s.AddDaily("early", h, m, 0, noop); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}
	if s.trigger("early") {
		t.Fatal("trigger before Start must be refused")
	}

	s.Start(context.Background())
	if next := s.Snapshot().Jobs[0].Next; next.IsZero() {
		t.Fatal("definition added before Start should be armed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	if s.trigger("early") {
		t.Fatal("trigger after Stop must be refused")
	}
	if !s.Exists("early") {
		t.Fatal("definitions are kept across Stop")
	}
}

func waitIdle(t *testing.T, s *Service, name string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		d := s.defs[name]
		s.mu.Unlock()
		if d != nil && !d.state.running.Load() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s still running", name)
}
