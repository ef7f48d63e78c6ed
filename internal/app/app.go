package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"moyubot/internal/calendar"
	"moyubot/internal/command"
	"moyubot/internal/config"
	rtsup "moyubot/internal/runtime/supervisor"
	"moyubot/internal/storage"
	"moyubot/internal/subscription"
	"moyubot/internal/task/scheduler"
	"moyubot/internal/transport"
	"moyubot/internal/transport/telegram"
	logx "moyubot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	log  logx.Logger
	logs *logx.Service

	adapter transport.Adapter
	store   storage.Store
	sched   *scheduler.Service
	subs    *subscription.Manager
	cal     *calendar.Client
	disp    *command.Dispatcher

	// sup runs the long-lived loops and cancels the app on their first error.
	// cmds runs one goroutine per inbound command; its failures stay local.
	sup  *rtsup.Supervisor
	cmds *rtsup.Supervisor

	updates chan transport.Update
}

// New loads the config at cfgPath and wires every component. Persisted
// subscriptions are loaded here; corrupt state is a fatal error.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("info").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, bootLog)
	if err != nil {
		return nil, err
	}

	// Point the chat sink at its target before enabling it.
	logCfg := mapLogConfig(cfg)
	chatEnabled := logCfg.Chat.Enabled
	logCfg.Chat.Enabled = false
	logSvc, log := logx.New(logCfg, ad)
	if id, _ := cfg.GroupLogChatID(); id != 0 {
		logSvc.SetChatTarget(id)
	}
	logCfg.Chat.Enabled = chatEnabled
	logSvc.Apply(logCfg)

	a, err := build(cfg, ad, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	a.cfgm = cfgm
	a.logs = logSvc
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	return a, nil
}

// build wires the core components around an already constructed adapter.
func build(cfg *config.Config, ad transport.Adapter, log logx.Logger) (*App, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	set, err := store.Load(context.Background())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load subscriptions: %w", err)
	}

	pushTimeout, err := config.ParseDurationOrDefault("scheduler.push_timeout", cfg.Scheduler.PushTimeout, 60*time.Second)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	calCfg, err := mapCalendarConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "app")),
		adapter: ad,
		store:   store,
		sched:   scheduler.New(scheduler.Config{Timezone: cfg.Scheduler.Timezone}, log.With(logx.String("comp", "scheduler"))),
		cal:     calendar.New(calCfg, log.With(logx.String("comp", "calendar"))),
		updates: make(chan transport.Update, 256),
	}
	a.subs = subscription.NewManager(set, store, a.sched, a.push, pushTimeout, log.With(logx.String("comp", "subscription")))
	a.disp = command.NewDispatcher(a.subs, a.cal, store, cfg.Telegram.OwnerUserIDs, log.With(logx.String("comp", "command")))

	a.log.Info("subscriptions loaded", logx.String("driver", sc.Driver), logx.Int("count", len(set)))
	return a, nil
}

// push is the daily job: fetch today's calendar and post it into g.
// A failed fetch sends nothing; the next day's tick tries again. Groups
// pushed at the same minute share one download.
func (a *App) push(ctx context.Context, g subscription.GroupID) error {
	img, err := a.cal.FetchShared(ctx)
	if err != nil {
		return fmt.Errorf("push to %s: %w", g, err)
	}
	if _, err := a.adapter.SendImage(ctx, transport.ChatTarget{ChatID: int64(g)}, img, "", nil); err != nil {
		return fmt.Errorf("push to %s: send: %w", g, err)
	}
	a.log.Info("calendar pushed", logx.String("group", g.String()), logx.Int("bytes", len(img)))
	return nil
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the app supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cmds = rtsup.New(a.sup.Context(), rtsup.WithLogger(a.log.With(logx.String("comp", "commands"))))

	a.sched.Start(a.sup.Context())
	if err := a.armSubscriptions(); err != nil {
		a.sup.Cancel()
		a.sched.Stop(context.Background())
		return err
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sup.Go("updates.loop", a.updateLoop)

	if a.cfgm != nil {
		sub := a.cfgm.Subscribe(4)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			for {
				select {
				case <-c.Done():
					return
				case newCfg, ok := <-sub:
					if !ok {
						return
					}
					a.applyConfig(newCfg)
				}
			}
		})
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	a.log.Info("app started", logx.Int("subscriptions", len(a.subs.Snapshot())))
	return nil
}

// armSubscriptions schedules every loaded group. A group left without a job
// is treated like corrupt state.
func (a *App) armSubscriptions() error {
	if err := a.subs.RearmAll(); err != nil {
		return fmt.Errorf("rearm subscriptions: %w", err)
	}
	want := len(a.subs.Snapshot())
	if got := len(a.sched.Names(subscription.JobPrefix)); got != want {
		return fmt.Errorf("rearm subscriptions: %d jobs for %d groups", got, want)
	}

	snap := a.sched.Snapshot()
	var next time.Time
	for _, j := range snap.Jobs {
		if !j.Next.IsZero() && (next.IsZero() || j.Next.Before(next)) {
			next = j.Next
		}
	}
	fields := []logx.Field{logx.String("tz", snap.Timezone), logx.Int("jobs", len(snap.Jobs))}
	if !next.IsZero() {
		fields = append(fields, logx.Time("next_push", next))
	}
	a.log.Info("schedules armed", fields...)
	return nil
}

// applyConfig hot-applies what can change at runtime: logging and owners.
func (a *App) applyConfig(newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(a.cfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	if config.NeedsRestart(a.cfg, newCfg) {
		a.log.Warn("config change needs a restart to take effect", logx.String("changed", strings.Join(sections, ",")))
	}
	if a.logs != nil {
		id, _ := newCfg.GroupLogChatID()
		a.logs.SetChatTarget(id)
		a.logs.Apply(mapLogConfig(newCfg))
	}
	a.disp.SetOwners(newCfg.Telegram.OwnerUserIDs)
	a.cfg = newCfg

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	if reason == "" {
		reason = StopAppStop
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	// Each step gets an upper bound so one component cannot stall shutdown.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("adapter", 3*time.Second, a.adapter.Stop)
	step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("commands", 2*time.Second, a.cmds.Stop)
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped", logx.String("reason", string(reason)))
	if a.logs != nil {
		return a.logs.Close()
	}
	return nil
}
