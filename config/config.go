package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Realtime   RealtimeConfig   `yaml:"realtime"`
	Broker     BrokerConfig     `yaml:"broker"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Tracker    TrackerConfig    `yaml:"tracker"`
	Log        LogConfig        `yaml:"log"`
}

// WorkerPoolConfig holds the configuration for the push notification worker pool.
type WorkerPoolConfig struct {
	Size      int `yaml:"size"`
	QueueSize int `yaml:"queue_size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	Enabled    bool   `yaml:"enabled"`
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	CacheTTLSeconds int           `yaml:"cache_ttl_seconds"`
	CacheTTL        time.Duration `yaml:"-"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // postgres | sqlite
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// RealtimeConfig controls the websocket room registry.
type RealtimeConfig struct {
	Path                string        `yaml:"path"`
	MaxRoomMembers      int           `yaml:"max_room_members"`
	MaxRoomsPerClient   int           `yaml:"max_rooms_per_client"`
	SendBufferSize      int           `yaml:"send_buffer_size"`
	PingIntervalSeconds int           `yaml:"ping_interval_seconds"`
	PongWaitSeconds     int           `yaml:"pong_wait_seconds"`
	PingInterval        time.Duration `yaml:"-"`
	PongWait            time.Duration `yaml:"-"`
}

// BrokerConfig selects how status events reach the hubs of all instances.
type BrokerConfig struct {
	Kind         string `yaml:"kind"` // local | rabbitmq | redis
	RabbitURL    string `yaml:"rabbitmq_url"`
	Exchange     string `yaml:"exchange"`
	RedisAddr    string `yaml:"redis_addr"`
	RedisDB      int    `yaml:"redis_db"`
	RedisChannel string `yaml:"redis_channel"`
}

// TrackerConfig holds defaults for the subscriber client library.
type TrackerConfig struct {
	ReconcileIntervalSeconds int           `yaml:"reconcile_interval_seconds"`
	ReconcileInterval        time.Duration `yaml:"-"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero values with usable defaults.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 20
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}
	cfg.Server.CacheTTL = time.Duration(cfg.Server.CacheTTLSeconds) * time.Second

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}

	if cfg.Realtime.Path == "" {
		cfg.Realtime.Path = "/ws/orders"
	}
	if cfg.Realtime.MaxRoomMembers < 0 {
		cfg.Realtime.MaxRoomMembers = 0
	}
	if cfg.Realtime.MaxRoomsPerClient < 0 {
		cfg.Realtime.MaxRoomsPerClient = 0
	}
	if cfg.Realtime.SendBufferSize <= 0 {
		cfg.Realtime.SendBufferSize = 16
	}
	if cfg.Realtime.PingIntervalSeconds <= 0 {
		cfg.Realtime.PingIntervalSeconds = 30
	}
	if cfg.Realtime.PongWaitSeconds <= cfg.Realtime.PingIntervalSeconds {
		cfg.Realtime.PongWaitSeconds = cfg.Realtime.PingIntervalSeconds * 2
	}
	cfg.Realtime.PingInterval = time.Duration(cfg.Realtime.PingIntervalSeconds) * time.Second
	cfg.Realtime.PongWait = time.Duration(cfg.Realtime.PongWaitSeconds) * time.Second

	if cfg.Broker.Kind == "" {
		cfg.Broker.Kind = "local"
	}
	if cfg.Broker.Exchange == "" {
		cfg.Broker.Exchange = "order_status_fanout"
	}
	if cfg.Broker.RedisChannel == "" {
		cfg.Broker.RedisChannel = "pharmacy:order_status"
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}
	if cfg.WorkerPool.QueueSize <= 0 {
		cfg.WorkerPool.QueueSize = 64
	}

	if cfg.Tracker.ReconcileIntervalSeconds <= 0 {
		cfg.Tracker.ReconcileIntervalSeconds = 60
	}
	cfg.Tracker.ReconcileInterval = time.Duration(cfg.Tracker.ReconcileIntervalSeconds) * time.Second

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
