package config

import (
	"os"
	"path/filepath"
	"time"
)

// Default values for optional configuration fields.
const (
	DefaultBaseURL              = "http://localhost:8000"
	DefaultRealtimeURL          = "ws://localhost:8000/ws"
	DefaultAPITimeout           = 30 * time.Second
	DefaultMaxRetries           = 3
	DefaultRetryDelay           = 1 * time.Second
	DefaultReconnectBaseDelay   = 5 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultSessionFile          = "session.yaml"
	DefaultPollInterval         = 1 * time.Minute
	DefaultPollTimeout          = 10 * time.Second
	DefaultPollDebounce         = 2 * time.Second
	DefaultToastDuration        = 5 * time.Second
	DefaultBatchSize            = 100
	DefaultFlushInterval        = 1 * time.Second
	DefaultBufferSize           = 1000
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 4
	DefaultMinConns             = 1
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
)

// DefaultSessionPath returns the per-user session cache location.
func DefaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".issuewatch", DefaultSessionFile)
	}
	return filepath.Join(dir, "issuewatch", DefaultSessionFile)
}

func (c *Config) applyDefaults() {
	// API defaults
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultBaseURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}
	if c.API.RetryDelay == 0 {
		c.API.RetryDelay = DefaultRetryDelay
	}

	// Realtime defaults
	if c.Realtime.URL == "" {
		c.Realtime.URL = DefaultRealtimeURL
	}
	if c.Realtime.ReconnectBaseDelay == 0 {
		c.Realtime.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Realtime.MaxReconnectAttempts == nil {
		n := DefaultMaxReconnectAttempts
		c.Realtime.MaxReconnectAttempts = &n
	}
	if c.Realtime.HeartbeatInterval == 0 {
		c.Realtime.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Realtime.HandshakeTimeout == 0 {
		c.Realtime.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Realtime.WriteTimeout == 0 {
		c.Realtime.WriteTimeout = DefaultWriteTimeout
	}

	if c.Session.Path == "" {
		c.Session.Path = DefaultSessionPath()
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Timeout == 0 {
		c.Poller.Timeout = DefaultPollTimeout
	}
	if c.Poller.Debounce == 0 {
		c.Poller.Debounce = DefaultPollDebounce
	}

	if c.Notifications.Duration == 0 {
		c.Notifications.Duration = DefaultToastDuration
	}

	// Journal defaults
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultBufferSize
	}
	applyDBDefaults(&c.Journal.Database)

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if len(c.Logging.Outputs) == 0 {
		c.Logging.Outputs = []string{"stdout"}
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
