package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Calendar  CalendarConfig  `json:"calendar"`
	Storage   StorageConfig   `json:"storage"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// OwnerUserIDs may disable every group's push at once. Empty means anyone.
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat id that receives forwarded log lines.
	GroupLog    string `json:"group_log"`
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls daily pushes.
type SchedulerConfig struct {
	// Timezone is an IANA zone name; empty means the host's local zone.
	Timezone    string `json:"timezone,omitempty"`
	PushTimeout string `json:"push_timeout,omitempty"`
}

type CalendarConfig struct {
	URL        string `json:"url,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	// ShareTTL is how long one download is reused by pushes firing together.
	ShareTTL string `json:"share_ttl,omitempty"`
}

// StorageConfig selects where subscriptions live.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/subscribe.json" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}
