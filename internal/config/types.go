package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`

	// Monitor tunes the monitoring loop. All fields optional.
	Monitor MonitorConfig `json:"monitor,omitempty"`

	// Notify enables the Telegram alert sink. Omitted means disabled.
	Notify *NotifyConfig `json:"notify,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console *bool             `json:"console,omitempty"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// ConsoleEnabled defaults to true when the field is omitted.
func (c LoggingConfig) ConsoleEnabled() bool {
	if c.Console == nil {
		return true
	}
	return *c.Console
}

type StorageConfig struct {
	// Driver selects the backend. Only "sqlite" is implemented; empty
	// defaults to sqlite.
	Driver string `json:"driver,omitempty"`
	Path   string `json:"path"`

	// BusyTimeout is a Go duration string (e.g. "5s"). SQLite only.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// MonitorConfig controls the monitoring loop.
//
// All durations are Go duration strings (e.g. "5s", "2m").
//
// Defaults (when fields are omitted/zero):
//   - poll_interval: "5s"
//   - grace_period: "2m"
//   - timeout: "5m"
type MonitorConfig struct {
	PollInterval string `json:"poll_interval,omitempty"`
	GracePeriod  string `json:"grace_period,omitempty"`
	Timeout      string `json:"timeout,omitempty"`
}

type NotifyConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token"`
	ChatID     int64  `json:"chat_id"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// Validate checks cross-field constraints and duration syntax before a
// config is committed or published.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("monitor.poll_interval", c.Monitor.PollInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("monitor.grace_period", c.Monitor.GracePeriod); err != nil {
		return err
	}
	if _, err := ParseDurationField("monitor.timeout", c.Monitor.Timeout); err != nil {
		return err
	}
	if c.Notify != nil && c.Notify.Enabled {
		if strings.TrimSpace(c.Notify.Token) == "" {
			return fmt.Errorf("notify.token is required when notify is enabled")
		}
		if c.Notify.ChatID == 0 {
			return fmt.Errorf("notify.chat_id is required when notify is enabled")
		}
	}
	return nil
}

// Monitor duration accessors with defaults applied. Validate() has already
// rejected malformed values by the time these run.

func (c MonitorConfig) PollIntervalOrDefault() time.Duration {
	d, _ := ParseDurationOrDefault("monitor.poll_interval", c.PollInterval, 5*time.Second)
	return d
}

func (c MonitorConfig) GracePeriodOrDefault() time.Duration {
	d, _ := ParseDurationOrDefault("monitor.grace_period", c.GracePeriod, 2*time.Minute)
	return d
}

func (c MonitorConfig) TimeoutOrDefault() time.Duration {
	d, _ := ParseDurationOrDefault("monitor.timeout", c.Timeout, 5*time.Minute)
	return d
}
