package app

import (
	"time"

	"moyubot/internal/calendar"
	"moyubot/internal/config"
	"moyubot/internal/storage"
	logx "moyubot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapCalendarConfig(cfg *config.Config) (calendar.Config, error) {
	timeout, err := config.ParseDurationOrDefault("calendar.timeout", cfg.Calendar.Timeout, 15*time.Second)
	if err != nil {
		return calendar.Config{}, err
	}
	shareTTL, err := config.ParseDurationOrDefault("calendar.share_ttl", cfg.Calendar.ShareTTL, time.Minute)
	if err != nil {
		return calendar.Config{}, err
	}
	return calendar.Config{
		URL:        cfg.Calendar.URL,
		Timeout:    timeout,
		RatePerSec: cfg.Calendar.RatePerSec,
		ShareTTL:   shareTTL,
	}, nil
}
