package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port            string
		Env             string
		ShutdownTimeout time.Duration
		BaseURL         string
		OpenAPISchema   string
	}

	// Database configuration
	Database struct {
		Driver     string // postgres, mysql, sqlite
		Host       string
		Port       string
		User       string
		Password   string
		Name       string
		SSLMode    string
		SQLitePath string
		MaxConns   int
		Timeout    time.Duration
		Retries    int
		RetryDelay time.Duration
	}

	// Message store selection and append retry policy
	Store struct {
		Driver         string // sql, badger
		BadgerDir      string
		AppendAttempts int
		BackoffInitial time.Duration
		BackoffMax     time.Duration
	}

	// JWT configuration
	JWT struct {
		Secret       string
		Expiry       time.Duration
		CookieName   string
		CookieSecure bool
	}

	// Security configuration
	Security struct {
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
		MaxBodySize    int64
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// WebSocket session settings
	WebSocket struct {
		SendBuffer     int
		MaxMessageSize int64
		WriteWait      time.Duration
		PongWait       time.Duration
		SubmitTimeout  time.Duration
		SubmitRate     float64
		SubmitBurst    int
	}

	// Profile cache settings
	Cache struct {
		Enabled     bool
		TTL         time.Duration
		MaxSize     int
		PurgeWindow time.Duration
		RedisURL    string
		RedisDB     int
	}

	// Blob storage for avatars and message media
	Blob struct {
		Driver        string // local, s3
		LocalDir      string
		PublicPrefix  string
		MaxUploadSize int64
		PresignTTL    time.Duration
		S3Endpoint    string
		S3Region      string
		S3Bucket      string
		S3AccessKey   string
		S3SecretKey   string
		S3PathStyle   bool
		S3PublicURL   string
	}

	// Vault secret resolution
	Vault struct {
		Enabled     bool
		Address     string
		Token       string
		Namespace   string
		Mount       string
		SecretsPath string
		Timeout     time.Duration
	}

	// gRPC health endpoint
	GRPC struct {
		Enabled bool
		Port    string
	}

	// Tracing and metrics
	Observability struct {
		ServiceName    string
		TracingEnabled bool
		HealthPeriod   time.Duration
	}
}

var (
	instance *Config
	once     sync.Once
)

// New returns the process-wide Config, loading it from the environment on first use.
// A .env file in the working directory is honoured when present.
func New() *Config {
	once.Do(func() {
		_ = godotenv.Load()
		instance = Load()
	})
	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	return New()
}

// Load reads a fresh Config from environment variables
func Load() *Config {
	cfg := &Config{}

	cfg.Server.Port = getEnvString("PORT", "3001")
	cfg.Server.Env = getEnvString("APP_ENV", "development")
	cfg.Server.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	cfg.Server.BaseURL = getEnvString("BASE_URL", "http://localhost:"+cfg.Server.Port)
	cfg.Server.OpenAPISchema = getEnvString("OPENAPI_SCHEMA_PATH", "")

	cfg.Database.Driver = getEnvString("DB_DRIVER", "postgres")
	cfg.Database.Host = getEnvString("PGHOST", getEnvString("DB_HOST", "localhost"))
	cfg.Database.Port = getEnvString("DB_PORT", "5432")
	cfg.Database.User = getEnvString("PGUSER", getEnvString("DB_USER", "postgres"))
	cfg.Database.Password = getEnvString("PGPASSWORD", getEnvString("DB_PASSWORD", "postgres"))
	cfg.Database.Name = getEnvString("PGDATABASE", getEnvString("DB_NAME", "duo_chat"))
	cfg.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
	cfg.Database.SQLitePath = getEnvString("DB_SQLITE_PATH", "duo-chat.db")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.Timeout = getEnvDuration("DB_TIMEOUT", 5*time.Second)
	cfg.Database.Retries = getEnvInt("DB_CONNECT_RETRIES", 5)
	cfg.Database.RetryDelay = getEnvDuration("DB_CONNECT_RETRY_DELAY", 5*time.Second)

	cfg.Store.Driver = getEnvString("STORE_DRIVER", "sql")
	cfg.Store.BadgerDir = getEnvString("BADGER_DIR", "data/messages")
	cfg.Store.AppendAttempts = getEnvInt("STORE_APPEND_ATTEMPTS", 3)
	cfg.Store.BackoffInitial = getEnvDuration("STORE_BACKOFF_INITIAL", 50*time.Millisecond)
	cfg.Store.BackoffMax = getEnvDuration("STORE_BACKOFF_MAX", 500*time.Millisecond)

	cfg.JWT.Secret = getEnvString("JWT_SECRET", "")
	cfg.JWT.Expiry = getEnvDuration("JWT_EXPIRY", 7*24*time.Hour)
	cfg.JWT.CookieName = getEnvString("JWT_COOKIE_NAME", "token")
	cfg.JWT.CookieSecure = getEnvBool("JWT_COOKIE_SECURE", cfg.Server.Env == "production")

	cfg.Security.RateLimit = getEnvFloat("RATE_LIMIT", 10)
	cfg.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 20)
	cfg.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"})
	cfg.Security.MaxBodySize = getEnvInt64("MAX_BODY_SIZE", 1<<20)

	cfg.Logging.Level = getEnvString("LOG_LEVEL", "info")
	cfg.Logging.Format = getEnvString("LOG_FORMAT", "json")

	cfg.WebSocket.SendBuffer = getEnvInt("WS_SEND_BUFFER", 256)
	cfg.WebSocket.MaxMessageSize = getEnvInt64("WS_MAX_MESSAGE_SIZE", 64<<10)
	cfg.WebSocket.WriteWait = getEnvDuration("WS_WRITE_WAIT", 10*time.Second)
	cfg.WebSocket.PongWait = getEnvDuration("WS_PONG_WAIT", 60*time.Second)
	cfg.WebSocket.SubmitTimeout = getEnvDuration("WS_SUBMIT_TIMEOUT", 15*time.Second)
	cfg.WebSocket.SubmitRate = getEnvFloat("WS_SUBMIT_RATE", 20)
	cfg.WebSocket.SubmitBurst = getEnvInt("WS_SUBMIT_BURST", 40)

	cfg.Cache.Enabled = getEnvBool("CACHE_ENABLED", true)
	cfg.Cache.TTL = getEnvDuration("CACHE_TTL", 5*time.Minute)
	cfg.Cache.MaxSize = getEnvInt("CACHE_MAX_SIZE", 10000)
	cfg.Cache.PurgeWindow = getEnvDuration("CACHE_PURGE_WINDOW", 10*time.Minute)
	cfg.Cache.RedisURL = getEnvString("REDIS_URL", "")
	cfg.Cache.RedisDB = getEnvInt("REDIS_DB", 0)

	cfg.Blob.Driver = getEnvString("BLOB_DRIVER", "local")
	cfg.Blob.LocalDir = getEnvString("UPLOAD_DIR", "uploads")
	cfg.Blob.PublicPrefix = getEnvString("UPLOAD_PUBLIC_PREFIX", "/uploads")
	cfg.Blob.MaxUploadSize = getEnvInt64("MAX_UPLOAD_SIZE", 25<<20)
	cfg.Blob.PresignTTL = getEnvDuration("BLOB_PRESIGN_TTL", 15*time.Minute)
	cfg.Blob.S3Endpoint = getEnvString("S3_ENDPOINT", "")
	cfg.Blob.S3Region = getEnvString("S3_REGION", "us-east-1")
	cfg.Blob.S3Bucket = getEnvString("S3_BUCKET", "")
	cfg.Blob.S3AccessKey = getEnvString("S3_ACCESS_KEY_ID", "")
	cfg.Blob.S3SecretKey = getEnvString("S3_SECRET_ACCESS_KEY", "")
	cfg.Blob.S3PathStyle = getEnvBool("S3_USE_PATH_STYLE", false)
	cfg.Blob.S3PublicURL = getEnvString("S3_PUBLIC_URL", "")

	cfg.Vault.Enabled = getEnvBool("VAULT_ENABLED", false)
	cfg.Vault.Address = getEnvString("VAULT_ADDR", "")
	cfg.Vault.Token = getEnvString("VAULT_TOKEN", "")
	cfg.Vault.Namespace = getEnvString("VAULT_NAMESPACE", "")
	cfg.Vault.Mount = getEnvString("VAULT_MOUNT", "secret")
	cfg.Vault.SecretsPath = getEnvString("VAULT_SECRETS_PATH", "duo-chat")
	cfg.Vault.Timeout = getEnvDuration("VAULT_TIMEOUT", 10*time.Second)

	cfg.GRPC.Enabled = getEnvBool("GRPC_ENABLED", true)
	cfg.GRPC.Port = getEnvString("GRPC_PORT", "9090")

	cfg.Observability.ServiceName = getEnvString("OTEL_SERVICE_NAME", "duo-chat")
	cfg.Observability.TracingEnabled = getEnvBool("TRACING_ENABLED", false)
	cfg.Observability.HealthPeriod = getEnvDuration("HEALTH_CHECK_PERIOD", 15*time.Second)

	return cfg
}

// IsProduction reports whether the app runs with APP_ENV=production
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
