package domain

import "time"

// Config holds the complete Harrier configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which backing services are used
	Tier Tier `json:"tier"`

	// Engine holds analyzer settings: active sensitivity profile,
	// worker pool size and optional capability backends.
	Engine EngineConfig `json:"engine"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds

	// MaxBodyBytes caps decoded request bodies (base64 media included).
	MaxBodyBytes int64 `json:"maxBodyBytes"`

	// RateLimit is the sustained requests/second allowed per tenant. 0 disables limiting.
	RateLimit float64 `json:"rateLimit"`
	RateBurst int     `json:"rateBurst"`
}

// EngineConfig holds settings for the scoring engine.
type EngineConfig struct {
	// Profile is the sensitivity tier bound at startup: strict, balanced or lenient.
	Profile ProfileTier `json:"profile"`

	// ProfileFile is an optional YAML profile document overriding a base tier.
	ProfileFile string `json:"profileFile"`

	// WatchProfile re-loads ProfileFile when it changes on disk.
	WatchProfile bool `json:"watchProfile"`

	// WorkerCount bounds concurrent CPU-heavy analyses.
	WorkerCount int `json:"workerCount"`

	// FaceCascadePath points at a pigo facefinder cascade. Empty disables face analysis.
	FaceCascadePath string `json:"faceCascadePath"`

	// ClassifierURL is a model-serving endpoint returning a deepfake probability.
	// Empty disables the learned classifier.
	ClassifierURL     string        `json:"classifierUrl"`
	ClassifierTimeout time.Duration `json:"classifierTimeout"`

	// FFmpegPath is used to extract frames from non-GIF video containers.
	FFmpegPath string `json:"ffmpegPath"`

	// ResultTTL is how long deterministic assessments stay cached.
	ResultTTL time.Duration `json:"resultTtl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the deployment edition.
type Tier string

const (
	// TierCommunity runs on SQLite, an in-process LRU cache and channels.
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, Redis and NATS.
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for the Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  60,
			WriteTimeout: 120,
			MaxBodyBytes: 64 << 20,
			RateLimit:    0,
			RateBurst:    20,
		},
		Tier: TierCommunity,
		Engine: EngineConfig{
			Profile:           ProfileBalanced,
			WorkerCount:       4,
			ClassifierTimeout: 10 * time.Second,
			FFmpegPath:        "ffmpeg",
			ResultTTL:         10 * time.Minute,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:          "memory",
			LocalMaxSize:  2000,
			LocalMaxBytes: 256 << 20,
			LocalTTL:      5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "harrier",
		},
	}
}

// ProConfig returns a configuration for the Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Engine.WorkerCount = 8
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "harrier",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   500,
		LocalMaxBytes:  64 << 20,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSQueueGroup:    "harrier-workers",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5 * time.Second,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
