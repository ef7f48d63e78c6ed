package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultCalendarURL = "https://api.vvhan.com/api/moyu?type=image"
	DefaultStorePath   = "./data/subscribe.json"
)

// Normalize fills in defaults for omitted fields.
func (c *Config) Normalize() {
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if strings.TrimSpace(c.Logging.Telegram.MinLevel) == "" {
		c.Logging.Telegram.MinLevel = "warn"
	}
	if c.Logging.Telegram.RatePerSec <= 0 {
		c.Logging.Telegram.RatePerSec = 1
	}
	if strings.TrimSpace(c.Telegram.PollTimeout) == "" {
		c.Telegram.PollTimeout = "10s"
	}
	if strings.TrimSpace(c.Scheduler.PushTimeout) == "" {
		c.Scheduler.PushTimeout = "60s"
	}
	if strings.TrimSpace(c.Calendar.URL) == "" {
		c.Calendar.URL = DefaultCalendarURL
	}
	if strings.TrimSpace(c.Calendar.Timeout) == "" {
		c.Calendar.Timeout = "15s"
	}
	if strings.TrimSpace(c.Calendar.ShareTTL) == "" {
		c.Calendar.ShareTTL = "1m"
	}
	if c.Calendar.RatePerSec <= 0 {
		c.Calendar.RatePerSec = 2
	}
	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = "file"
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = DefaultStorePath
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if _, err := c.GroupLogChatID(); err != nil {
		errs = append(errs, err)
	}
	for path, raw := range map[string]string{
		"telegram.poll_timeout":  c.Telegram.PollTimeout,
		"scheduler.push_timeout": c.Scheduler.PushTimeout,
		"calendar.timeout":       c.Calendar.Timeout,
		"calendar.share_ttl":     c.Calendar.ShareTTL,
		"storage.busy_timeout":   c.Storage.BusyTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if u, err := url.Parse(strings.TrimSpace(c.Calendar.URL)); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("calendar.url: %q is not an http(s) url", c.Calendar.URL))
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "file", "json", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	return errors.Join(errs...)
}

// GroupLogChatID parses telegram.group_log (0 when unset).
func (c *Config) GroupLogChatID() (int64, error) {
	s := strings.TrimSpace(c.Telegram.GroupLog)
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram.group_log: invalid chat id %q", s)
	}
	return id, nil
}
