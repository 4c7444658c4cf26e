package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	LogLevel         string
	Port             string
	DatabaseURL      string
	DBMaxConns       int32
	JWTSecret        string
	WebhookSecret    string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TaskQueueName      string
	SubmitLockTTL      time.Duration
	CompletionStream   string
	CompletionGroup    string
	CompletionConsumer string
	BusRedeliverAfter  time.Duration
	BusMaxDeliveries   int64

	ProviderBaseURL    string
	ProviderAPIKey     string
	ProviderWebhookURL string
	ProviderTimeout    time.Duration

	StoragePath     string
	StorageBaseURL  string
	FFmpegPath      string
	WatermarkConfig string
	WatermarkAsset  string

	GeoIPDBPath             string
	WebhookAllowedCountries []string
	TrustEdgeCountryHeaders bool
	CORSAllowedOrigins      []string

	WatchdogStuckAfter  time.Duration
	WatchdogHardTimeout time.Duration
	WatchdogBatchLimit  int
	WatchdogInterval    time.Duration

	JobCosts map[string]int64
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		Port:             port,
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		DBMaxConns:       int32(getEnvInt("DB_MAX_CONNS", 10)),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		WebhookSecret:    os.Getenv("WEBHOOK_SECRET"),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		TaskQueueName:      getEnv("TASK_QUEUE_NAME", "render:tasks"),
		SubmitLockTTL:      getEnvDuration("SUBMIT_LOCK_TTL", 2*time.Minute),
		CompletionStream:   getEnv("COMPLETION_STREAM", "render:completions"),
		CompletionGroup:    getEnv("COMPLETION_GROUP", "completion-processor"),
		CompletionConsumer: getEnv("COMPLETION_CONSUMER", defaultConsumerName()),
		BusRedeliverAfter:  getEnvDuration("BUS_REDELIVER_AFTER", time.Minute),
		BusMaxDeliveries:   int64(getEnvInt("BUS_MAX_DELIVERIES", 10)),

		ProviderBaseURL:    getEnv("PROVIDER_BASE_URL", "https://api.render-provider.example/v1"),
		ProviderAPIKey:     strings.TrimSpace(os.Getenv("PROVIDER_API_KEY")),
		ProviderWebhookURL: os.Getenv("PROVIDER_WEBHOOK_URL"),
		ProviderTimeout:    getEnvDuration("PROVIDER_TIMEOUT", 30*time.Second),

		StoragePath:     getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:  getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),
		FFmpegPath:      getEnv("FFMPEG_PATH", "ffmpeg"),
		WatermarkConfig: os.Getenv("WATERMARK_CONFIG"),
		WatermarkAsset:  getEnv("WATERMARK_ASSET", "./assets/watermark.png"),

		GeoIPDBPath:             os.Getenv("GEOIP_DB_PATH"),
		WebhookAllowedCountries: getEnvList("WEBHOOK_ALLOWED_COUNTRIES", strings.ToUpper),
		TrustEdgeCountryHeaders: getEnvBool("TRUST_EDGE_COUNTRY_HEADERS", false),
		CORSAllowedOrigins:      getEnvList("CORS_ALLOWED_ORIGINS", nil),

		WatchdogStuckAfter:  getEnvDuration("WATCHDOG_STUCK_AFTER", 2*time.Hour),
		WatchdogHardTimeout: getEnvDuration("WATCHDOG_HARD_TIMEOUT", 6*time.Hour),
		WatchdogBatchLimit:  getEnvInt("WATCHDOG_BATCH_LIMIT", 50),
		WatchdogInterval:    getEnvDuration("WATCHDOG_INTERVAL", 0),

		JobCosts: map[string]int64{
			"text_to_video":  int64(getEnvInt("CREDITS_TEXT_TO_VIDEO", 5)),
			"image_to_video": int64(getEnvInt("CREDITS_IMAGE_TO_VIDEO", 8)),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("WEBHOOK_SECRET is required")
	}

	if cfg.WatchdogHardTimeout <= cfg.WatchdogStuckAfter {
		return nil, fmt.Errorf("WATCHDOG_HARD_TIMEOUT (%s) must exceed WATCHDOG_STUCK_AFTER (%s)", cfg.WatchdogHardTimeout, cfg.WatchdogStuckAfter)
	}

	return cfg, nil
}

func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "worker"
	}
	return host
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvList splits a comma separated variable, applying norm to each item when set.
func getEnvList(key string, norm func(string) string) []string {
	raw := os.Getenv(key)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		v := strings.TrimSpace(part)
		if norm != nil {
			v = norm(v)
		}
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
