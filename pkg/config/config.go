package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"micstream/pkg/validation"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Stream struct {
		Path           string        `yaml:"path"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		PongTimeout    time.Duration `yaml:"pong_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		MaxMessageSize int64         `yaml:"max_message_size"`
	} `yaml:"stream"`

	// Audio is the static format record shared by the client framer and the
	// server writer's placeholder header.
	Audio struct {
		SampleRate int `yaml:"sample_rate"`
		Channels   int `yaml:"channels"`
		BitDepth   int `yaml:"bit_depth"`
	} `yaml:"audio"`

	Recording struct {
		Directory     string `yaml:"directory"`
		HighWaterMark int    `yaml:"high_water_mark"`
	} `yaml:"recording"`

	Client struct {
		Endpoint     string        `yaml:"endpoint"`
		MaxRetries   int           `yaml:"max_retries"`
		InitialDelay time.Duration `yaml:"initial_delay"`
		MaxDelay     time.Duration `yaml:"max_delay"`
		BufferSize   int           `yaml:"buffer_size"`
		SendQueue    int           `yaml:"send_queue"`
		DialTimeout  time.Duration `yaml:"dial_timeout"`
	} `yaml:"client"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Archive struct {
		Enabled  bool   `yaml:"enabled"`
		Backend  string `yaml:"backend"` // "file" or "s3"
		Path     string `yaml:"path"`
		Bucket   string `yaml:"bucket"`
		Prefix   string `yaml:"prefix"`
		Region   string `yaml:"region"`
		Endpoint string `yaml:"endpoint"`
		Attempts int    `yaml:"attempts"`

		RetentionDays   int           `yaml:"retention_days"` // 0 keeps archives forever
		SweepInterval   time.Duration `yaml:"sweep_interval"`
		AccessKeyID     string        `yaml:"access_key_id"`
		SecretAccessKey string        `yaml:"secret_access_key"`
	} `yaml:"archive"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			ConnectionsPerMinute int     `yaml:"connections_per_minute"`
			MessagesPerSecond    float64 `yaml:"messages_per_second"`
			Burst                int     `yaml:"burst"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Stream
	if c.Stream.Path == "" {
		return fmt.Errorf("stream.path must not be empty")
	}
	if c.Stream.PingInterval <= 0 {
		return fmt.Errorf("stream.ping_interval must be > 0")
	}
	if c.Stream.PongTimeout <= c.Stream.PingInterval {
		return fmt.Errorf("stream.pong_timeout must be > stream.ping_interval")
	}
	if c.Stream.MaxMessageSize <= 0 {
		return fmt.Errorf("stream.max_message_size must be > 0")
	}

	// Audio
	if c.Audio.SampleRate < 8000 || c.Audio.SampleRate > 192000 {
		return fmt.Errorf("audio.sample_rate must be within [8000, 192000]")
	}
	if c.Audio.Channels < 1 || c.Audio.Channels > 8 {
		return fmt.Errorf("audio.channels must be within [1, 8]")
	}
	if c.Audio.BitDepth != 16 {
		return fmt.Errorf("audio.bit_depth must be 16 (linear PCM)")
	}

	// Recording
	if c.Recording.Directory == "" {
		return fmt.Errorf("recording.directory must not be empty")
	}
	if c.Recording.HighWaterMark <= 0 {
		return fmt.Errorf("recording.high_water_mark must be > 0")
	}

	// Client
	if err := validation.ValidateStreamEndpoint(c.Client.Endpoint); err != nil {
		return fmt.Errorf("client.endpoint: %w", err)
	}
	if c.Client.MaxRetries < 0 {
		return fmt.Errorf("client.max_retries must be >= 0")
	}
	if c.Client.InitialDelay <= 0 || c.Client.MaxDelay < c.Client.InitialDelay {
		return fmt.Errorf("client.initial_delay must be > 0 and <= client.max_delay")
	}
	if c.Client.BufferSize <= 0 {
		return fmt.Errorf("client.buffer_size must be > 0")
	}
	if c.Client.SendQueue <= 0 {
		return fmt.Errorf("client.send_queue must be > 0")
	}

	// Tracing
	if c.Tracing.Enabled {
		if err := validation.ValidateHTTPURL(c.Tracing.JaegerURL); err != nil {
			return fmt.Errorf("tracing.jaeger_url: %w", err)
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Archive
	if c.Archive.Enabled {
		switch c.Archive.Backend {
		case "file":
			if c.Archive.Path == "" {
				return fmt.Errorf("archive.path must not be empty for the file backend")
			}
		case "s3":
			if c.Archive.Bucket == "" {
				return fmt.Errorf("archive.bucket must not be empty for the s3 backend")
			}
			if c.Archive.Endpoint != "" {
				if err := validation.ValidateHTTPURL(c.Archive.Endpoint); err != nil {
					return fmt.Errorf("archive.endpoint: %w", err)
				}
			}
		default:
			return fmt.Errorf("archive.backend must be one of file, s3")
		}
		if c.Archive.Attempts < 0 {
			return fmt.Errorf("archive.attempts must be >= 0")
		}
		if c.Archive.RetentionDays < 0 {
			return fmt.Errorf("archive.retention_days must be >= 0")
		}
		if c.Archive.RetentionDays > 0 && c.Archive.SweepInterval <= 0 {
			return fmt.Errorf("archive.sweep_interval must be > 0 when retention is enabled")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.ConnectionsPerMinute <= 0 {
			return fmt.Errorf("rate_limiting.websocket.connections_per_minute must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFirst tries each path in order and returns the first configuration
// that loads. Missing files are skipped; defaults are returned when none exists.
func LoadFirst(paths ...string) (*Config, string, error) {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cfg, err := Load(path)
		if err != nil {
			return nil, path, err
		}
		return cfg, path, nil
	}

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()
	return cfg, "", nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":5000"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 10 * time.Second

	cfg.Stream.Path = "/"
	cfg.Stream.PingInterval = 30 * time.Second
	cfg.Stream.PongTimeout = 60 * time.Second
	cfg.Stream.WriteTimeout = 10 * time.Second
	cfg.Stream.MaxMessageSize = 1 << 20

	cfg.Audio.SampleRate = 44100
	cfg.Audio.Channels = 1
	cfg.Audio.BitDepth = 16

	cfg.Recording.Directory = "recordings"
	cfg.Recording.HighWaterMark = 64 * 1024

	cfg.Client.Endpoint = "ws://localhost:5000"
	cfg.Client.MaxRetries = 4
	cfg.Client.InitialDelay = time.Second
	cfg.Client.MaxDelay = 10 * time.Second
	cfg.Client.BufferSize = 4096
	cfg.Client.SendQueue = 64
	cfg.Client.DialTimeout = 5 * time.Second

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "micstream"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "console"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Archive.Enabled = false
	cfg.Archive.Backend = "file"
	cfg.Archive.Path = "archive"
	cfg.Archive.Attempts = 3
	cfg.Archive.SweepInterval = time.Hour

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 60
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 100
	cfg.RateLimiting.WebSocket.Burst = 200

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("MICSTREAM_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if endpoint := os.Getenv("MICSTREAM_ENDPOINT"); endpoint != "" {
		c.Client.Endpoint = endpoint
	}
	if dir := os.Getenv("MICSTREAM_RECORDINGS_DIR"); dir != "" {
		c.Recording.Directory = dir
	}
	if level := os.Getenv("MICSTREAM_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if key := os.Getenv("AWS_ACCESS_KEY_ID"); key != "" && c.Archive.AccessKeyID == "" {
		c.Archive.AccessKeyID = key
		c.Archive.SecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	if rate := os.Getenv("MICSTREAM_SAMPLE_RATE"); rate != "" {
		if v, err := strconv.Atoi(rate); err == nil {
			c.Audio.SampleRate = v
		}
	}
}
