package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/EdwardLH219/pickd-backend/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Database connection manager
type Manager struct {
	DB     *gorm.DB
	Redis  *redis.Client
	logger *logrus.Logger
}

// Database configuration
type Config struct {
	DatabaseURL string
	RedisURL    string
	LogLevel    string
}

// NewManager creates a new database manager with connection pooling
func NewManager(config *Config, logger *logrus.Logger) (*Manager, error) {
	// Configure GORM logger
	var gormLogger gormlogger.Interface
	switch config.LogLevel {
	case "debug":
		gormLogger = gormlogger.Default.LogMode(gormlogger.Info)
	default:
		gormLogger = gormlogger.Default.LogMode(gormlogger.Silent)
	}

	// Open database connection with pooling
	db, err := gorm.Open(postgres.Open(config.DatabaseURL), &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true, // Improve performance
		PrepareStmt:            true, // Cache prepared statements
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	// Test database connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Connect to Redis
	redisOpts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	redisOpts.PoolSize = 20
	redisOpts.MinIdleConns = 5
	redisOpts.MaxConnAge = time.Hour
	redisOpts.IdleTimeout = 30 * time.Minute

	redisClient := redis.NewClient(redisOpts)

	// Test Redis connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Database and Redis connections established successfully")

	return &Manager{
		DB:     db,
		Redis:  redisClient,
		logger: logger,
	}, nil
}

// Migrate runs database migrations
func (m *Manager) Migrate() error {
	m.logger.Info("Running database migrations...")

	return m.DB.AutoMigrate(
		&models.Tenant{},
		&models.Review{},
		&models.Theme{},
		&models.ReviewThemeTag{},
		&models.ParameterSet{},
		&models.ScoreRun{},
		&models.ReviewScore{},
		&models.ThemeScore{},
		&models.Recommendation{},
	)
}

// Close closes all database connections
func (m *Manager) Close() error {
	if m.Redis != nil {
		if err := m.Redis.Close(); err != nil {
			m.logger.WithError(err).Error("Failed to close Redis connection")
		}
	}

	if m.DB != nil {
		sqlDB, err := m.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}

	return nil
}

// Health check methods
func (m *Manager) PingDatabase() error {
	sqlDB, err := m.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func (m *Manager) PingRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.Redis.Ping(ctx).Err()
}

// Cache implementation
type Cache struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewCache(client *redis.Client, logger *logrus.Logger) *Cache {
	return &Cache{
		client: client,
		logger: logger,
	}
}

// Cache key constants
const (
	ActiveParameterSetKey = "params:active"
	SystemHealthKey       = "system:health"
)

// CacheActiveParameterSet caches the currently-ACTIVE parameter set.
func (c *Cache) CacheActiveParameterSet(ctx context.Context, set *models.ParameterSet, expiration time.Duration) error {
	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("failed to marshal parameter set: %w", err)
	}

	return c.client.Set(ctx, ActiveParameterSetKey, data, expiration).Err()
}

// GetCachedActiveParameterSet retrieves the cached ACTIVE parameter set.
func (c *Cache) GetCachedActiveParameterSet(ctx context.Context) (*models.ParameterSet, error) {
	data, err := c.client.Get(ctx, ActiveParameterSetKey).Result()
	if err != nil {
		return nil, err
	}

	var set models.ParameterSet
	if err := json.Unmarshal([]byte(data), &set); err != nil {
		return nil, err
	}

	return &set, nil
}

// InvalidateActiveParameterSet drops the active-set cache entry.
// Called on every activate so triggers never pin a stale version.
func (c *Cache) InvalidateActiveParameterSet(ctx context.Context) error {
	return c.client.Del(ctx, ActiveParameterSetKey).Err()
}

// CacheSystemHealth caches system health status
func (c *Cache) CacheSystemHealth(ctx context.Context, health []models.ServiceHealth, expiration time.Duration) error {
	data, err := json.Marshal(health)
	if err != nil {
		return fmt.Errorf("failed to marshal system health: %w", err)
	}

	return c.client.Set(ctx, SystemHealthKey, data, expiration).Err()
}

// GetCachedSystemHealth retrieves cached system health
func (c *Cache) GetCachedSystemHealth(ctx context.Context) ([]models.ServiceHealth, error) {
	data, err := c.client.Get(ctx, SystemHealthKey).Result()
	if err != nil {
		return nil, err
	}

	var health []models.ServiceHealth
	err = json.Unmarshal([]byte(data), &health)
	return health, err
}
