package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Platform  PlatformConfig  `yaml:"platform"`
	Cache     CacheConfig     `yaml:"cache"`
	Send      SendConfig      `yaml:"send"`
	Refresh   RefreshConfig   `yaml:"refresh"`
	Logging   LoggingConfig   `yaml:"logging"`
	Transport TransportConfig `yaml:"transport"`
}

// ServerConfig holds the local HTTP surface settings.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// PlatformConfig points at the upstream platform API and its push channel.
type PlatformConfig struct {
	BaseURL string `yaml:"base_url"`
	// Token is the session bearer token. Usually supplied via
	// INBOXSYNC_PLATFORM_TOKEN rather than the file.
	Token string `yaml:"token"`
	// EventsPath is the SSE stream path relative to BaseURL.
	EventsPath string `yaml:"events_path"`
	// MediaPath is the media upload endpoint relative to BaseURL.
	MediaPath string `yaml:"media_path"`
}

// CacheConfig holds the local snapshot cache settings.
type CacheConfig struct {
	// Path is the pebble directory. Empty disables the cache.
	Path string `yaml:"path"`
	// MessageTail caps how many trailing messages per conversation are
	// snapshotted. 0 means the default.
	MessageTail int `yaml:"message_tail"`
}

// SendConfig holds client-side send validation and policy settings.
type SendConfig struct {
	// MaxAttachmentSize accepts human sizes ("8MB"). Zero means unlimited.
	MaxAttachmentSize string `yaml:"max_attachment_size"`
	// AllowedTypes is a list of accepted attachment content-type prefixes
	// ("image/", "video/mp4"). Empty allows everything.
	AllowedTypes []string `yaml:"allowed_types"`
	// WindowHours is the platform reply window. Defaults to 24.
	WindowHours int `yaml:"window_hours"`
}

// RefreshConfig drives the periodic background re-fetch.
type RefreshConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TransportConfig holds outbound request settings.
type TransportConfig struct {
	TimeoutMs int     `yaml:"timeout_ms"`
	RPS       float64 `yaml:"rps"`
	Burst     int     `yaml:"burst"`
}

// MaxAttachmentBytes parses Send.MaxAttachmentSize. Zero when unset.
func (c *Config) MaxAttachmentBytes() (uint64, error) {
	s := strings.TrimSpace(c.Send.MaxAttachmentSize)
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid max_attachment_size %q: %w", s, err)
	}
	return n, nil
}

// WindowDuration returns the reply window as a duration (default 24h).
func (c *Config) WindowDuration() time.Duration {
	h := c.Send.WindowHours
	if h <= 0 {
		h = 24
	}
	return time.Duration(h) * time.Hour
}

// RequestTimeout returns the outbound request timeout (default 10s).
func (c *Config) RequestTimeout() time.Duration {
	ms := c.Transport.TimeoutMs
	if ms <= 0 {
		return 10 * time.Second
	}
	return time.Duration(ms) * time.Millisecond
}
