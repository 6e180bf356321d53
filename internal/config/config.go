package config

import "time"

// Config is the root configuration for an issuewatch client.
type Config struct {
	API           APIConfig           `yaml:"api"`
	Realtime      RealtimeConfig      `yaml:"realtime"`
	Session       SessionConfig       `yaml:"session"`
	Poller        PollerConfig        `yaml:"poller"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Journal       JournalConfig       `yaml:"journal"`
	Logging       LoggingConfig       `yaml:"logging"`
	Health        HealthConfig        `yaml:"health"`
}

// APIConfig holds REST API settings.
type APIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// RealtimeConfig holds live-update channel settings.
type RealtimeConfig struct {
	URL                  string        `yaml:"url"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	MaxReconnectAttempts *int          `yaml:"max_reconnect_attempts"` // nil = default, 0 = never retry
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
}

// SessionConfig controls where the auth session is cached.
type SessionConfig struct {
	Path string `yaml:"path"`
}

// PollerConfig holds dashboard refresh settings.
type PollerConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	Debounce time.Duration `yaml:"debounce"`
}

// NotificationsConfig holds toast settings.
type NotificationsConfig struct {
	Duration time.Duration `yaml:"duration"`
}

// JournalConfig controls persisting live events to Postgres.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	Database      DBConfig      `yaml:"database"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level   string   `yaml:"level"`   // debug, info, warn, error
	Format  string   `yaml:"format"`  // text or json
	Outputs []string `yaml:"outputs"` // stdout, stderr or file paths
}

// HealthConfig configures the local health endpoint. Port 0 disables it.
type HealthConfig struct {
	Port int `yaml:"port"`
}
