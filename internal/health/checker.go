package health

import (
	"context"
	"time"

	"github.com/EdwardLH219/pickd-backend/internal/database"
	"github.com/EdwardLH219/pickd-backend/internal/models"
	"github.com/EdwardLH219/pickd-backend/internal/sentiment"
	"github.com/sirupsen/logrus"
)

// Checker runs health checks against the service's dependencies.
type Checker struct {
	dbManager *database.Manager
	cache     *database.Cache
	sentiment *sentiment.Client
	logger    *logrus.Logger
}

func NewChecker(dbManager *database.Manager, sentimentClient *sentiment.Client, logger *logrus.Logger) *Checker {
	return &Checker{
		dbManager: dbManager,
		cache:     database.NewCache(dbManager.Redis, logger),
		sentiment: sentimentClient,
		logger:    logger,
	}
}

// OverallHealth is the aggregate across all dependencies.
type OverallHealth struct {
	Status   string                 `json:"status"`
	Services []models.ServiceHealth `json:"services"`
	Uptime   string                 `json:"uptime"`
}

func (h *Checker) CheckPostgres() models.ServiceHealth {
	start := time.Now()
	err := h.dbManager.PingDatabase()
	return h.result("postgresql", start, err)
}

func (h *Checker) CheckRedis() models.ServiceHealth {
	start := time.Now()
	err := h.dbManager.PingRedis()
	return h.result("redis", start, err)
}

// CheckSentiment probes the sentiment capability's health endpoint. The
// scoring pipeline degrades to keyword extraction without it, so an outage
// here is "degraded" rather than "unhealthy".
func (h *Checker) CheckSentiment() models.ServiceHealth {
	start := time.Now()
	err := h.sentiment.Healthz()
	result := h.result("sentiment", start, err)
	if result.Status == "unhealthy" {
		result.Status = "degraded"
	}
	return result
}

func (h *Checker) result(name string, start time.Time, err error) models.ServiceHealth {
	status := "healthy"
	errorMsg := ""
	if err != nil {
		status = "unhealthy"
		errorMsg = err.Error()
		h.logger.WithError(err).WithField("service", name).Error("Health check failed")
	}
	return models.ServiceHealth{
		Name:         name,
		Status:       status,
		ResponseTime: int(time.Since(start).Milliseconds()),
		Error:        errorMsg,
		LastChecked:  time.Now().Format(time.RFC3339),
	}
}

// CheckAll probes every dependency and folds the statuses.
func (h *Checker) CheckAll() OverallHealth {
	services := []models.ServiceHealth{
		h.CheckPostgres(),
		h.CheckRedis(),
		h.CheckSentiment(),
	}

	overall := "healthy"
	for _, service := range services {
		if service.Status == "unhealthy" {
			overall = "unhealthy"
			break
		}
		if service.Status == "degraded" && overall == "healthy" {
			overall = "degraded"
		}
	}

	return OverallHealth{
		Status:   overall,
		Services: services,
		Uptime:   h.uptime(),
	}
}

// CheckCached serves the last periodic check from Redis when available.
func (h *Checker) CheckCached(ctx context.Context) (*OverallHealth, error) {
	services, err := h.cache.GetCachedSystemHealth(ctx)
	if err != nil {
		return nil, err
	}

	overall := "healthy"
	for _, service := range services {
		if service.Status == "unhealthy" {
			overall = "unhealthy"
		} else if service.Status == "degraded" && overall == "healthy" {
			overall = "degraded"
		}
	}

	return &OverallHealth{
		Status:   overall,
		Services: services,
		Uptime:   h.uptime(),
	}, nil
}

var startTime = time.Now()

func (h *Checker) uptime() string {
	return time.Since(startTime).String()
}

// PeriodicHealthCheck probes the dependencies on a ticker and caches the
// result so the health endpoint stays cheap.
func (h *Checker) PeriodicHealthCheck(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			health := h.CheckAll()

			cacheCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := h.cache.CacheSystemHealth(cacheCtx, health.Services, 2*interval); err != nil {
				h.logger.WithError(err).Error("Failed to cache health status")
			}
			cancel()

			h.logger.WithField("status", health.Status).Debug("Periodic health check completed")
		}
	}
}
