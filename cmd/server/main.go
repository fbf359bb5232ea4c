package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EdwardLH219/pickd-backend/internal/api/handlers"
	"github.com/EdwardLH219/pickd-backend/internal/config"
	"github.com/EdwardLH219/pickd-backend/internal/database"
	"github.com/EdwardLH219/pickd-backend/internal/health"
	"github.com/EdwardLH219/pickd-backend/internal/middleware"
	"github.com/EdwardLH219/pickd-backend/internal/params"
	"github.com/EdwardLH219/pickd-backend/internal/recommend"
	"github.com/EdwardLH219/pickd-backend/internal/repository"
	"github.com/EdwardLH219/pickd-backend/internal/scoring"
	"github.com/EdwardLH219/pickd-backend/internal/sentiment"
	"github.com/EdwardLH219/pickd-backend/internal/themes"
	"github.com/EdwardLH219/pickd-backend/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	logger := utils.GetLogger()
	logger.Info("Starting pickd scoring service...")

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if err := cfg.ValidateSentiment(); err != nil {
		logger.WithError(err).Fatal("Sentiment configuration validation failed")
	}

	dbConfig := &database.Config{
		DatabaseURL: cfg.Database.URL,
		RedisURL:    cfg.Redis.URL,
		LogLevel:    os.Getenv("LOG_LEVEL"),
	}

	dbManager, err := database.NewManager(dbConfig, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database manager")
	}
	defer dbManager.Close()

	if err := dbManager.Migrate(); err != nil {
		logger.WithError(err).Fatal("Database migration failed")
	}

	repoManager := repository.NewRepositoryManager(dbManager.DB)
	cache := database.NewCache(dbManager.Redis, logger)

	sentimentClient := sentiment.NewClient(cfg.Sentiment.BaseURL, cfg.Sentiment.APIKey, logger)
	analyzer := sentiment.NewService(sentimentClient, logger)

	store := params.NewStore(repoManager.ParameterSet, repoManager.ScoreRun, cache, logger)
	extractor := themes.NewExtractor(repoManager.Theme, repoManager.ReviewThemeTag, analyzer, logger)
	engine := recommend.NewEngine(repoManager.Recommendation, logger)

	pipeline := scoring.NewPipeline(
		repoManager, store, analyzer, extractor, engine, logger,
		cfg.Scoring.ReviewWorkers, cfg.Scoring.EventBufferSize,
	)

	// Runs and background checks live on this context, not on any request
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	checker := health.NewChecker(dbManager, sentimentClient, logger)
	go checker.PeriodicHealthCheck(ctx, 30*time.Second)

	router := setupRouter(ctx, pipeline, store, repoManager, checker, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE responses stay open for the run's duration
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
	}
}

func setupRouter(
	runCtx context.Context,
	pipeline *scoring.Pipeline,
	store *params.Store,
	repoManager *repository.RepositoryManager,
	checker *health.Checker,
	logger *logrus.Logger,
) *gin.Engine {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.SecurityHeaders())

	rateLimiter := middleware.NewRateLimiter(120)
	router.Use(rateLimiter.RateLimit())

	scoringHandler := handlers.NewScoringHandler(pipeline, repoManager, logger, runCtx)
	parameterHandler := handlers.NewParameterHandler(store, logger)
	recommendationHandler := handlers.NewRecommendationHandler(repoManager, logger)
	healthHandler := handlers.NewHealthHandler(checker, logger)

	router.GET("/health", healthHandler.HandleHealth)
	router.GET("/health/live", healthHandler.HandleLiveness)

	v1 := router.Group("/api/v1")
	{
		tenants := v1.Group("/tenants/:tenantID")
		{
			tenants.POST("/score-runs", scoringHandler.HandleTriggerRun)
			tenants.GET("/score-runs", scoringHandler.HandleListRuns)
			tenants.GET("/recommendations", recommendationHandler.HandleList)
		}

		v1.GET("/score-runs/:id", scoringHandler.HandleGetRun)

		sets := v1.Group("/parameter-sets")
		{
			sets.POST("", parameterHandler.HandleCreate)
			sets.GET("", parameterHandler.HandleList)
			sets.GET("/:id", parameterHandler.HandleGet)
			sets.PATCH("/:id", parameterHandler.HandleUpdate)
			sets.DELETE("/:id", parameterHandler.HandleDelete)
			sets.POST("/:id/activate", parameterHandler.HandleActivate)
		}

		v1.PATCH("/recommendations/:id/status", recommendationHandler.HandleUpdateStatus)
	}

	return router
}
