package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the renderpipe server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Processor ProcessorConfig
	Scheduler SchedulerConfig
	Kafka     KafkaConfig
	Auth      AuthConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port           int
	Env            string
	MaxUploadBytes int64
	// RateLimitPerMinute caps uploads and job creations per client. Needs Redis.
	RateLimitPerMinute int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// ConnectTimeout bounds how long startup waits for the database to answer.
	ConnectTimeout  time.Duration
	MigrationsDir   string
}

// RedisConfig is optional. An empty URL disables the job read cache.
type RedisConfig struct {
	URL      string
	CacheTTL time.Duration
}

type StorageConfig struct {
	Backend       string
	LocalDir      string
	PublicBaseURL string
	S3            S3Config
}

type S3Config struct {
	Bucket          string
	Region          string
	Prefix          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type ProcessorConfig struct {
	BlenderEnabled    bool
	BlenderPath       string
	BlenderScriptsDir string
	TargetFaces       int
	ThumbnailSize     int
	TurnaroundWidth   int
	TurnaroundHeight  int
	TurnaroundAngles  []float64
	StageTimeout      time.Duration
}

type SchedulerConfig struct {
	Workers         int
	ShutdownTimeout time.Duration
}

// KafkaConfig is optional. No brokers means job events are not published.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type AuthConfig struct {
	OperatorKeyHash string
}

type LogConfig struct {
	Level  string
	Format string
}

var validStorageBackends = map[string]bool{
	"local": true,
	"s3":    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var defaultTurnaroundAngles = []float64{0, 45, 90, 135, 180, 225, 270, 315}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	angles, err := envFloats("TURNAROUND_ANGLES", defaultTurnaroundAngles)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               envInt("RENDERPIPE_PORT", 8080),
			Env:                envString("RENDERPIPE_ENV", "development"),
			MaxUploadBytes:     int64(envInt("MAX_UPLOAD_BYTES", 100<<20)),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnectTimeout:  envDuration("DATABASE_CONNECT_TIMEOUT", 30*time.Second),
			MigrationsDir:   envString("MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL:      os.Getenv("REDIS_URL"),
			CacheTTL: envDuration("JOB_CACHE_TTL", 30*time.Minute),
		},
		Storage: StorageConfig{
			Backend:       envString("STORAGE_BACKEND", "local"),
			LocalDir:      envString("STORAGE_LOCAL_DIR", "data/blobs"),
			PublicBaseURL: os.Getenv("STORAGE_PUBLIC_BASE_URL"),
			S3: S3Config{
				Bucket:          os.Getenv("S3_BUCKET"),
				Region:          envString("S3_REGION", "us-east-1"),
				Prefix:          os.Getenv("S3_PREFIX"),
				Endpoint:        os.Getenv("S3_ENDPOINT"),
				AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
				SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			},
		},
		Processor: ProcessorConfig{
			BlenderEnabled:    envBool("BLENDER_ENABLED", false),
			BlenderPath:       envString("BLENDER_PATH", "blender"),
			BlenderScriptsDir: envString("BLENDER_SCRIPTS_DIR", "scripts/blender"),
			TargetFaces:       envInt("PROCESSOR_TARGET_FACES", 10000),
			ThumbnailSize:     envInt("THUMBNAIL_SIZE", 800),
			TurnaroundWidth:   envInt("TURNAROUND_WIDTH", 1920),
			TurnaroundHeight:  envInt("TURNAROUND_HEIGHT", 1080),
			TurnaroundAngles:  angles,
			StageTimeout:      envDuration("STAGE_TIMEOUT", 10*time.Minute),
		},
		Scheduler: SchedulerConfig{
			Workers:         envInt("SCHEDULER_WORKERS", 5),
			ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: envList("KAFKA_BROKERS"),
			Topic:   envString("KAFKA_TOPIC", "render_job_events"),
		},
		Auth: AuthConfig{
			OperatorKeyHash: os.Getenv("OPERATOR_KEY_HASH"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(envString("LOG_LEVEL", "info")),
			Format: strings.ToLower(envString("LOG_FORMAT", "json")),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if !validStorageBackends[c.Storage.Backend] {
		return fmt.Errorf("STORAGE_BACKEND must be one of local, s3; got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND is s3")
	}
	if c.Storage.Backend == "local" && c.Storage.LocalDir == "" {
		return fmt.Errorf("STORAGE_LOCAL_DIR is required when STORAGE_BACKEND is local")
	}
	if c.Storage.PublicBaseURL != "" &&
		!strings.HasPrefix(c.Storage.PublicBaseURL, "http://") && !strings.HasPrefix(c.Storage.PublicBaseURL, "https://") {
		return fmt.Errorf("STORAGE_PUBLIC_BASE_URL must start with http:// or https://, got %q", c.Storage.PublicBaseURL)
	}

	if c.Processor.BlenderEnabled && c.Processor.BlenderPath == "" {
		return fmt.Errorf("BLENDER_PATH is required when BLENDER_ENABLED is true")
	}
	if c.Processor.TargetFaces <= 0 {
		return fmt.Errorf("PROCESSOR_TARGET_FACES must be positive, got %d", c.Processor.TargetFaces)
	}
	if c.Processor.ThumbnailSize <= 0 {
		return fmt.Errorf("THUMBNAIL_SIZE must be positive, got %d", c.Processor.ThumbnailSize)
	}
	if c.Processor.TurnaroundWidth <= 0 || c.Processor.TurnaroundHeight <= 0 {
		return fmt.Errorf("TURNAROUND_WIDTH and TURNAROUND_HEIGHT must be positive")
	}
	if len(c.Processor.TurnaroundAngles) == 0 {
		return fmt.Errorf("TURNAROUND_ANGLES must list at least one angle")
	}
	if c.Processor.StageTimeout < 0 {
		return fmt.Errorf("STAGE_TIMEOUT must not be negative")
	}

	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.Server.MaxUploadBytes)
	}
	if c.Server.RateLimitPerMinute < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must not be negative, got %d", c.Server.RateLimitPerMinute)
	}

	if c.Scheduler.Workers < 1 {
		return fmt.Errorf("SCHEDULER_WORKERS must be at least 1, got %d", c.Scheduler.Workers)
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}

	if c.Server.Env == "production" && c.Auth.OperatorKeyHash == "" {
		return fmt.Errorf("OPERATOR_KEY_HASH is required when RENDERPIPE_ENV is production")
	}

	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("LOG_FORMAT must be json or console; got %q", c.Log.Format)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envFloats(key string, defaultVal []float64) ([]float64, error) {
	parts := envList(key)
	if len(parts) == 0 {
		return append([]float64(nil), defaultVal...), nil
	}
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid angle %q", key, p)
		}
		out = append(out, f)
	}
	return out, nil
}
