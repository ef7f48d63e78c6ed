package subscription_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"moyubot/internal/storage"
	"moyubot/internal/subscription"
	"moyubot/internal/task/scheduler"
	logx "moyubot/pkg/logx"
)

func TestRestartRestoresSchedules(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "subscribe.json")
	ctx := context.Background()
	push := func(ctx context.Context, g subscription.GroupID) error { return nil }

	st, err := storage.Open(storage.Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sched := scheduler.New(scheduler.Config{Timezone: "UTC"}, logx.Nop())
	m := subscription.NewManager(nil, st, sched, push, time.Minute, logx.Nop())
	if _, err := m.Subscribe(ctx, -100, 9, 5); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := m.Subscribe(ctx, -200, 21, 0); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := m.Unsubscribe(ctx, -200); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	_ = st.Close()

	// Fresh process: load, re-arm, check status.
	st2, err := storage.Open(storage.Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	set, err := st2.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	sched2 := scheduler.New(scheduler.Config{Timezone: "UTC"}, logx.Nop())
	m2 := subscription.NewManager(set, st2, sched2, push, time.Minute, logx.Nop())
	if err := m2.RearmAll(); err != nil {
		t.Fatalf("RearmAll: %v", err)
	}

	if s := m2.Status(-100); !s.Enabled || s.Hour != 9 || s.Minute != 5 {
		t.Fatalf("Status(-100) = %+v", s)
	}
	if m2.Status(-200).Enabled {
		t.Fatal("removed group must stay removed after restart")
	}
	if names := sched2.Names(subscription.JobPrefix); len(names) != 1 || names[0] != "moyu_calendar_-100" {
		t.Fatalf("jobs = %v", names)
	}
}
