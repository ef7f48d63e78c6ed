package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [11, 22]
  group_log: "-1001"
logging:
  level: debug
  console: true
scheduler:
  timezone: UTC
storage:
  driver: sqlite
  path: ./data/moyubot.db
  busy_timeout: 3s
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAMLWithDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", sampleYAML)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" && os.Getenv(EnvToken) == "" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 2 || cfg.Telegram.OwnerUserIDs[1] != 22 {
		t.Fatalf("owners = %v", cfg.Telegram.OwnerUserIDs)
	}
	if id, _ := cfg.GroupLogChatID(); id != -1001 {
		t.Fatalf("group log = %d", id)
	}
	if cfg.Calendar.URL != DefaultCalendarURL || cfg.Calendar.RatePerSec != 2 || cfg.Calendar.Timeout != "15s" {
		t.Fatalf("calendar defaults not applied: %+v", cfg.Calendar)
	}
	if cfg.Scheduler.PushTimeout != "60s" {
		t.Fatalf("push_timeout = %q", cfg.Scheduler.PushTimeout)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.BusyTimeout != "3s" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
}

func TestLoadJSONDefaultsStorage(t *testing.T) {
	path := writeFile(t, "config.json", `{"telegram":{"token":"t"}}`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Driver != "file" || cfg.Storage.Path != DefaultStorePath {
		t.Fatalf("storage defaults = %+v", cfg.Storage)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Telegram.MinLevel != "warn" {
		t.Fatalf("logging defaults = %+v", cfg.Logging)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name, file, content, want string
	}{
		{name: "unknown key", file: "c.json", content: `{"telegram":{"token":"t"},"plugins":{}}`, want: "unknown field"},
		{name: "unknown yaml key", file: "c.yaml", content: "telegram:\n  token: t\n  tokn: x\n", want: "unknown field"},
		{name: "trailing data", file: "c.json", content: `{"telegram":{"token":"t"}}{}`, want: "trailing"},
		{name: "bad duration", file: "c.json", content: `{"telegram":{"token":"t"},"scheduler":{"push_timeout":"soon"}}`, want: "scheduler.push_timeout"},
		{name: "bad timezone", file: "c.json", content: `{"telegram":{"token":"t"},"scheduler":{"timezone":"Mars/Base"}}`, want: "scheduler.timezone"},
		{name: "bad driver", file: "c.json", content: `{"telegram":{"token":"t"},"storage":{"driver":"redis"}}`, want: "storage.driver"},
		{name: "bad url", file: "c.json", content: `{"telegram":{"token":"t"},"calendar":{"url":"ftp://x"}}`, want: "calendar.url"},
		{name: "bad group log", file: "c.json", content: `{"telegram":{"token":"t","group_log":"ops"}}`, want: "telegram.group_log"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, tt.content)
			_, err := NewManager(path).Parse()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestEnvTokenOverride(t *testing.T) {
	t.Setenv(EnvToken, "from-env")
	path := writeFile(t, "config.json", `{"telegram":{"token":""}}`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "from-env" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
}

func TestSummarizeChange(t *testing.T) {
	oldCfg := &Config{Telegram: TelegramConfig{Token: "a"}, Logging: LoggingConfig{Level: "info"}}
	newCfg := &Config{Telegram: TelegramConfig{Token: "a"}, Logging: LoggingConfig{Level: "debug"}}
	changed, _ := SummarizeChange(oldCfg, newCfg)
	if len(changed) != 1 || changed[0] != "logging" {
		t.Fatalf("changed = %v", changed)
	}
	if NeedsRestart(oldCfg, newCfg) {
		t.Fatal("logging change should apply live")
	}
	newCfg.Storage.Driver = "sqlite"
	if !NeedsRestart(oldCfg, newCfg) {
		t.Fatal("storage change needs restart")
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	path := writeFile(t, "config.json", `{"telegram":{"token":"t"},"logging":{"level":"info"}}`)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Give the watcher a moment to register.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{"telegram":{"token":"t"},"logging":{"level":"debug"}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q", cfg.Logging.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no config published")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatal("Get should return the reloaded config")
	}
	cancel()
	<-done
}
