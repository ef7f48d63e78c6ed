package subscription

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	logx "moyubot/pkg/logx"
)

// Registry is the daily trigger table the manager keeps in sync with the store.
type Registry interface {
	AddDaily(name string, hour, minute int, timeout time.Duration, job func(ctx context.Context) error) error
	Remove(name string) bool
	Exists(name string) bool
	TriggerTime(name string) (hour, minute int, ok bool)
}

// Persister writes the full set durably.
type Persister interface {
	Save(ctx context.Context, set Set) error
}

// PushFunc fetches today's calendar and delivers it to the group.
type PushFunc func(ctx context.Context, g GroupID) error

// Manager is the only writer of the subscription set. Every mutation runs
// validate → persist → update registry → commit under one lock, so the set on
// disk and the jobs in the registry never diverge.
type Manager struct {
	mu  sync.RWMutex
	set Set

	store       Persister
	reg         Registry
	push        PushFunc
	pushTimeout time.Duration
	log         logx.Logger
}

// NewManager takes ownership of initial (normally the set loaded at startup).
// Call RearmAll once to register the loaded subscriptions.
func NewManager(initial Set, store Persister, reg Registry, push PushFunc, pushTimeout time.Duration, log logx.Logger) *Manager {
	if initial == nil {
		initial = Set{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		set:         initial,
		store:       store,
		reg:         reg,
		push:        push,
		pushTimeout: pushTimeout,
		log:         log,
	}
}

// Subscribe creates or replaces the group's daily push.
func (m *Manager) Subscribe(ctx context.Context, g GroupID, hour, minute int) (Subscription, error) {
	sub := Subscription{Hour: hour, Minute: minute}
	if err := sub.Validate(); err != nil {
		return Subscription{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prev, had := m.set[g]
	next := m.set.Clone()
	next[g] = sub
	if err := m.persist(ctx, next); err != nil {
		return Subscription{}, err
	}
	if err := m.arm(g, sub); err != nil {
		m.restoreLocked(ctx, g, prev, had)
		return Subscription{}, fmt.Errorf("schedule group %s: %w", g, err)
	}
	m.set = next

	m.log.Info("subscription set", logx.String("group", g.String()), logx.String("at", sub.String()), logx.Bool("replaced", had))
	return sub, nil
}

// Unsubscribe removes the group's push. ErrNotSubscribed if there is none.
func (m *Manager) Unsubscribe(ctx context.Context, g GroupID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.set[g]; !ok {
		return ErrNotSubscribed
	}
	next := m.set.Clone()
	delete(next, g)
	if err := m.persist(ctx, next); err != nil {
		return err
	}
	if !m.reg.Remove(JobName(g)) {
		m.log.Warn("subscription had no scheduled job", logx.String("group", g.String()))
	}
	m.set = next

	m.log.Info("subscription removed", logx.String("group", g.String()))
	return nil
}

// UnsubscribeAll removes every subscription and job. It returns how many
// groups were removed; an empty set is a successful no-op.
func (m *Manager) UnsubscribeAll(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.persist(ctx, Set{}); err != nil {
		return 0, err
	}
	n := len(m.set)
	for g := range m.set {
		m.reg.Remove(JobName(g))
	}
	m.set = Set{}

	m.log.Info("all subscriptions removed", logx.Int("count", n))
	return n, nil
}

// Status reports whether the group currently has a live job, and its time.
// The registry is authoritative; the lock keeps it consistent with the set.
func (m *Manager) Status(g GroupID) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, mi, ok := m.reg.TriggerTime(JobName(g))
	if !ok {
		return Status{}
	}
	return Status{Enabled: true, Hour: h, Minute: mi}
}

// RearmAll registers a job for every subscription in the set. Used at startup.
func (m *Manager) RearmAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	groups := make([]GroupID, 0, len(m.set))
	for g := range m.set {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })

	var errs []error
	for _, g := range groups {
		if err := m.arm(g, m.set[g]); err != nil {
			errs = append(errs, fmt.Errorf("group %s: %w", g, err))
		}
	}
	m.log.Info("subscriptions re-armed", logx.Int("count", len(groups)-len(errs)), logx.Int("failed", len(errs)))
	return errors.Join(errs...)
}

// Snapshot returns a copy of the current set.
func (m *Manager) Snapshot() Set {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.set.Clone()
}

func (m *Manager) arm(g GroupID, sub Subscription) error {
	return m.reg.AddDaily(JobName(g), sub.Hour, sub.Minute, m.pushTimeout, func(ctx context.Context) error {
		return m.push(ctx, g)
	})
}

func (m *Manager) persist(ctx context.Context, next Set) error {
	if err := m.store.Save(ctx, next); err != nil {
		m.log.Error("subscription save failed", logx.Err(err))
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return nil
}

// restoreLocked undoes a Subscribe whose registry update failed after the new
// set was already saved: the previous set is written back and the previous job
// (if any) re-armed.
func (m *Manager) restoreLocked(ctx context.Context, g GroupID, prev Subscription, had bool) {
	if err := m.store.Save(ctx, m.set); err != nil {
		m.log.Error("subscription rollback save failed", logx.String("group", g.String()), logx.Err(err))
	}
	if had {
		if err := m.arm(g, prev); err != nil {
			m.log.Error("subscription rollback re-arm failed", logx.String("group", g.String()), logx.Err(err))
		}
		return
	}
	m.reg.Remove(JobName(g))
}
