package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"duo-chat/backend/internal/repository"
	"duo-chat/backend/internal/service"
	"duo-chat/backend/internal/ws"
	"duo-chat/backend/pkg/blob"
	"duo-chat/backend/pkg/cache"
	"duo-chat/backend/pkg/config"
	"duo-chat/backend/pkg/health"
	"duo-chat/backend/pkg/jwt"
	"duo-chat/backend/pkg/logger"
	"duo-chat/backend/pkg/resilience"
	"duo-chat/backend/pkg/secrets"
	"duo-chat/backend/shared/observability"
	"duo-chat/backend/shared/redis"

	"github.com/dgraph-io/badger/v4"
	"gorm.io/gorm"
)

// Container holds all the dependencies for the application
type Container struct {
	Config  *config.Config
	DB      *gorm.DB
	Logger  *logger.Logger
	Metrics *observability.Metrics

	JWTService *jwt.Service
	Secrets    secrets.Manager
	Cache      cache.Store
	Blobs      blob.Store
	// LocalBlobs is set when uploads are served from disk
	LocalBlobs *blob.LocalStore

	Users    repository.UserRepository
	Messages repository.MessageRepository

	UserService   *service.UserService
	AuthService   *service.AuthService
	MediaService  *service.MediaService
	MessageRouter *service.MessageRouter

	Registry *ws.Registry
	Gateway  *ws.Gateway
	Health   *health.Checker

	closers []func() error
}

// Option customizes the container before wiring
type Option func(*Container)

// WithMetrics exposes the meter provider's scrape handler through the container
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Container) { c.Metrics = m }
}

// New wires every component from cfg. db must already be connected.
func New(ctx context.Context, cfg *config.Config, db *gorm.DB, log *logger.Logger, opts ...Option) (*Container, error) {
	if log == nil {
		log = logger.GetGlobal()
	}
	c := &Container{
		Config: cfg,
		DB:     db,
		Logger: log,
		Health: health.NewChecker(log, cfg.Observability.HealthPeriod),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.initSecrets(ctx); err != nil {
		return nil, err
	}
	if err := c.initCache(ctx); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.initBlobs(ctx); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.initRepositories(); err != nil {
		c.Close()
		return nil, err
	}
	c.initServices()
	c.initHealth()

	return c, nil
}

func (c *Container) initSecrets(ctx context.Context) error {
	cfg := c.Config
	manager, err := secrets.NewVaultManager(secrets.VaultConfig{
		Enabled:     cfg.Vault.Enabled,
		Address:     cfg.Vault.Address,
		Token:       cfg.Vault.Token,
		Namespace:   cfg.Vault.Namespace,
		Mount:       cfg.Vault.Mount,
		SecretsPath: cfg.Vault.SecretsPath,
		Timeout:     cfg.Vault.Timeout,
		MaxRetries:  3,
	}, c.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize secrets manager: %w", err)
	}
	c.Secrets = manager

	secret := manager.GetSecretWithDefault(ctx, secrets.JWTSigningKey, cfg.JWT.Secret)
	if secret == "" {
		return errors.New("JWT secret is not configured")
	}
	c.JWTService = jwt.NewService(secret, cfg.JWT.Expiry)
	return nil
}

func (c *Container) initCache(ctx context.Context) error {
	cfg := c.Config.Cache
	if !cfg.Enabled {
		c.Logger.Info("profile cache disabled")
		return nil
	}

	if cfg.RedisURL != "" {
		client, err := redis.NewClient(cfg.RedisURL, cfg.RedisDB, "duo-chat:")
		if err != nil {
			return fmt.Errorf("failed to create redis client: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx); err != nil {
			_ = client.Close()
			c.Logger.Warn("redis unreachable, falling back to in-memory cache", "error", err.Error())
		} else {
			c.Cache = client
			c.closers = append(c.closers, client.Close)
			c.Logger.Info("profile cache using redis")
			return nil
		}
	}

	mem := cache.NewMemory(cache.Options{
		DefaultTTL:      cfg.TTL,
		CleanupInterval: cfg.PurgeWindow,
		MaxItems:        cfg.MaxSize,
	})
	c.Cache = mem
	c.closers = append(c.closers, func() error {
		mem.Close()
		return nil
	})
	return nil
}

func (c *Container) initBlobs(ctx context.Context) error {
	cfg := c.Config.Blob
	switch cfg.Driver {
	case "s3":
		store, err := blob.NewS3Store(ctx, blob.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			AccessKeyID:     c.Secrets.GetSecretWithDefault(ctx, secrets.S3AccessKeyID, cfg.S3AccessKey),
			SecretAccessKey: c.Secrets.GetSecretWithDefault(ctx, secrets.S3SecretAccessKey, cfg.S3SecretKey),
			UsePathStyle:    cfg.S3PathStyle,
			PublicURL:       cfg.S3PublicURL,
			PresignTTL:      cfg.PresignTTL,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize s3 storage: %w", err)
		}
		c.Blobs = store
		c.Logger.Info("blob storage using s3", "bucket", store.Bucket())
	case "local", "":
		store, err := blob.NewLocalStore(blob.LocalConfig{
			BasePath:     cfg.LocalDir,
			PublicPrefix: cfg.PublicPrefix,
			MaxSize:      cfg.MaxUploadSize,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize local storage: %w", err)
		}
		c.Blobs = store
		c.LocalBlobs = store
		c.Logger.Info("blob storage using local disk", "path", store.BasePath())
	default:
		return fmt.Errorf("unsupported blob driver: %s", cfg.Driver)
	}
	return nil
}

func (c *Container) initRepositories() error {
	cfg := c.Config

	users := repository.NewGormUserRepository(c.DB, cfg.Database.Timeout)
	if err := users.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate users: %w", err)
	}
	c.Users = users

	switch cfg.Store.Driver {
	case "badger":
		db, err := repository.OpenBadger(cfg.Store.BadgerDir)
		if err != nil {
			return err
		}
		messages, err := repository.NewBadgerMessageRepository(db, cfg.Database.Timeout, c.Logger)
		if err != nil {
			_ = db.Close()
			return err
		}
		// sequence is released before the database closes
		c.closers = append(c.closers, db.Close, messages.Close)
		c.Messages = messages
		c.registerBadgerCheck(db)
	case "sql", "":
		messages := repository.NewGormMessageRepository(c.DB, cfg.Database.Timeout)
		if err := messages.Migrate(); err != nil {
			return fmt.Errorf("failed to migrate messages: %w", err)
		}
		c.Messages = messages
	default:
		return fmt.Errorf("unsupported message store driver: %s", cfg.Store.Driver)
	}
	return nil
}

func (c *Container) initServices() {
	cfg := c.Config

	c.Registry = ws.NewRegistry()
	c.UserService = service.NewUserService(c.Users, c.Blobs, c.Cache, cfg.Cache.TTL, c.Logger)
	c.AuthService = service.NewAuthService(c.Users, c.UserService, c.JWTService, c.Logger)
	c.MediaService = service.NewMediaService(c.Blobs, c.Logger)

	c.MessageRouter = service.NewMessageRouter(c.Messages, c.UserService, c.Registry, c.Blobs, service.RouterOptions{
		Retry: resilience.RetryPolicy{
			Attempts:        cfg.Store.AppendAttempts,
			InitialInterval: cfg.Store.BackoffInitial,
			MaxInterval:     cfg.Store.BackoffMax,
		},
		Breaker: resilience.DefaultCircuitBreakerConfig("message-store"),
	}, c.Logger)

	c.Gateway = ws.NewGateway(c.Registry, c.MessageRouter, c.JWTService, ws.Options{
		SendBuffer:     cfg.WebSocket.SendBuffer,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		WriteWait:      cfg.WebSocket.WriteWait,
		PongWait:       cfg.WebSocket.PongWait,
		SubmitTimeout:  cfg.WebSocket.SubmitTimeout,
		SubmitRate:     cfg.WebSocket.SubmitRate,
		SubmitBurst:    cfg.WebSocket.SubmitBurst,
		CookieName:     cfg.JWT.CookieName,
		AllowedOrigins: cfg.Security.AllowedOrigins,
	}, c.Logger)
}

func (c *Container) initHealth() {
	c.Health.RegisterDatabaseCheck(func(ctx context.Context) error {
		sqlDB, err := c.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	})

	if client, ok := c.Cache.(*redis.Client); ok {
		c.Health.RegisterCheck("cache", false, func(ctx context.Context) (health.Status, string, error) {
			if err := client.Ping(ctx); err != nil {
				return health.StatusDegraded, "Redis unreachable, profile lookups hit the database", err
			}
			return health.StatusUp, "Redis reachable", nil
		})
	}

	c.Health.RegisterCheck("websocket", false, func(context.Context) (health.Status, string, error) {
		return health.StatusUp, fmt.Sprintf("%d active sessions", c.Registry.Count()), nil
	})
}

func (c *Container) registerBadgerCheck(db *badger.DB) {
	c.Health.RegisterCheck("message_store", true, func(context.Context) (health.Status, string, error) {
		if db.IsClosed() {
			return health.StatusDown, "Badger database is closed", errors.New("badger closed")
		}
		return health.StatusUp, "Badger database is open", nil
	})
}

// Close releases stores opened by New in reverse order. The database handle
// and the gateway belong to the caller.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
