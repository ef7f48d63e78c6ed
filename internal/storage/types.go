package storage

import (
	"context"
	"errors"
	"time"

	"moyubot/internal/subscription"
)

var (
	// ErrCorrupt means persisted state could not be decoded or failed validation.
	ErrCorrupt = errors.New("persisted subscriptions are corrupt")
	ErrClosed  = errors.New("storage closed")
)

// Store is the persistence API used by the app.
type Store interface {
	// Load returns the full set; an empty set when nothing was saved yet.
	Load(ctx context.Context) (subscription.Set, error)
	// Save replaces the full set atomically.
	Save(ctx context.Context, set subscription.Set) error
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "file" (default): JSON state file at Path
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one handled chat command.
type AuditEntry struct {
	At            time.Time `json:"at"`
	ActorID       int64     `json:"actor_id"`
	ActorUsername string    `json:"actor_username,omitempty"`
	ChatID        int64     `json:"chat_id"`
	Action        string    `json:"action"`
	Target        string    `json:"target,omitempty"`
	OK            bool      `json:"ok"`
	Error         string    `json:"err,omitempty"`
	TookMS        int64     `json:"took_ms"`
}
