package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	rtsup "moyubot/internal/runtime/supervisor"
	logx "moyubot/pkg/logx"
)

// Config controls the trigger service.
type Config struct {
	Timezone string // IANA TZ, e.g. "Asia/Shanghai"; empty means time.Local
}

type jobDef struct {
	name    string
	hour    int
	minute  int
	spec    string
	timeout time.Duration
	job     func(ctx context.Context) error
	entryID cron.EntryID
	state   *runState
}

// runState is shared by every definition registered under the same name, so
// the overlap guard survives a replace.
type runState struct {
	running  atomic.Bool
	runs     atomic.Uint64
	failures atomic.Uint64

	mu      sync.Mutex
	lastRun time.Time
	lastErr string
}

func (r *runState) record(at time.Time, err error) {
	r.runs.Add(1)
	r.mu.Lock()
	r.lastRun = at
	r.lastErr = ""
	if err != nil {
		r.lastErr = err.Error()
	}
	r.mu.Unlock()
	if err != nil {
		r.failures.Add(1)
	}
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	sup    *rtsup.Supervisor
	defs   map[string]*jobDef
}

type JobInfo struct {
	Name      string
	Spec      string
	Timeout   time.Duration
	Next      time.Time
	Prev      time.Time
	Runs      uint64
	Failures  uint64
	LastRun   time.Time
	LastError string
}

type Snapshot struct {
	Running  bool
	Timezone string
	InFlight int64
	Jobs     []JobInfo
}
