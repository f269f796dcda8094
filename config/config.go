package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Remote    RemoteConfig
	Push      PushConfig
	Redis     RedisConfig
	JWT       JWTConfig
	API       APIConfig
	CORS      CORSConfig
	Dashboard DashboardConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

// RemoteConfig points at the remote moderation service.
type RemoteConfig struct {
	BaseURL        string
	PushURL        string
	APIToken       string
	RequestTimeout time.Duration
	// RequestsPerSec caps outbound REST calls; 0 disables the limiter.
	RequestsPerSec int
}

type PushConfig struct {
	Transport string // websocket, redis, none
	// Relay republishes received events on Redis for other dashboard
	// instances.
	Relay bool
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret      string
	ExpiryHours int
}

type APIConfig struct {
	RateLimitRequestsPerSec int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type DashboardConfig struct {
	ReconcileDelay     time.Duration
	AutoCorrectChannel bool
	ExportLimit        int
}

type LogConfig struct {
	Level  string
	Format string
}

// Transport names accepted by PUSH_TRANSPORT.
const (
	TransportWebsocket = "websocket"
	TransportRedis     = "redis"
	TransportNone      = "none"
)

// MinReconcileDelay is the shortest wait between a committed write and the
// reconcile read.
const MinReconcileDelay = 500 * time.Millisecond

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		redisDB = 0
	}

	jwtExpiry, err := strconv.Atoi(getEnv("JWT_EXPIRY_HOURS", "168"))
	if err != nil {
		jwtExpiry = 168
	}

	rateLimit, err := strconv.Atoi(getEnv("RATE_LIMIT_REQUESTS_PER_SECOND", "10"))
	if err != nil {
		rateLimit = 10
	}

	remoteRate, err := strconv.Atoi(getEnv("REMOTE_REQUESTS_PER_SECOND", "20"))
	if err != nil {
		remoteRate = 20
	}

	exportLimit, err := strconv.Atoi(getEnv("EXPORT_LIMIT", "1000"))
	if err != nil || exportLimit <= 0 {
		exportLimit = 1000
	}

	timeout, err := time.ParseDuration(getEnv("REMOTE_REQUEST_TIMEOUT", "10s"))
	if err != nil {
		timeout = 10 * time.Second
	}

	reconcile, err := time.ParseDuration(getEnv("RECONCILE_DELAY", "500ms"))
	if err != nil || reconcile < MinReconcileDelay {
		reconcile = MinReconcileDelay
	}

	autoCorrect, err := strconv.ParseBool(getEnv("AUTO_CORRECT_LOG_CHANNEL", "false"))
	if err != nil {
		autoCorrect = false
	}

	relay, err := strconv.ParseBool(getEnv("PUSH_REDIS_RELAY", "false"))
	if err != nil {
		relay = false
	}

	origins := strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"), ",")

	baseURL := strings.TrimRight(getEnv("REMOTE_BASE_URL", "http://localhost:5000"), "/")

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("ENV", "development"),
		},
		Remote: RemoteConfig{
			BaseURL:        baseURL,
			PushURL:        getEnv("REMOTE_PUSH_URL", defaultPushURL(baseURL)),
			APIToken:       getEnv("REMOTE_API_TOKEN", ""),
			RequestTimeout: timeout,
			RequestsPerSec: remoteRate,
		},
		Push: PushConfig{
			Transport: strings.ToLower(getEnv("PUSH_TRANSPORT", TransportWebsocket)),
			Relay:     relay,
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-this-secret-key"),
			ExpiryHours: jwtExpiry,
		},
		API: APIConfig{
			RateLimitRequestsPerSec: rateLimit,
		},
		CORS: CORSConfig{
			AllowedOrigins: origins,
		},
		Dashboard: DashboardConfig{
			ReconcileDelay:     reconcile,
			AutoCorrectChannel: autoCorrect,
			ExportLimit:        exportLimit,
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}

	// Validate required fields
	if cfg.JWT.Secret == "change-this-secret-key" && cfg.Server.Env == "production" {
		return nil, fmt.Errorf("JWT_SECRET must be set in production")
	}
	switch cfg.Push.Transport {
	case TransportWebsocket, TransportRedis, TransportNone:
	default:
		return nil, fmt.Errorf("PUSH_TRANSPORT must be %q, %q or %q, got %q",
			TransportWebsocket, TransportRedis, TransportNone, cfg.Push.Transport)
	}

	return cfg, nil
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}

// defaultPushURL derives the websocket endpoint from the REST base URL.
func defaultPushURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://") + "/ws"
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://") + "/ws"
	}
	return baseURL + "/ws"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
