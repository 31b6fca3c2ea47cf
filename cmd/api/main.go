package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/stampcard/loyalty-api/internal/config"
	"github.com/stampcard/loyalty-api/internal/domain/directory"
	"github.com/stampcard/loyalty-api/internal/domain/ledger"
	"github.com/stampcard/loyalty-api/internal/domain/loyalty"
	"github.com/stampcard/loyalty-api/internal/domain/redemption"
	"github.com/stampcard/loyalty-api/internal/domain/scan"
	"github.com/stampcard/loyalty-api/internal/middleware"
	"github.com/stampcard/loyalty-api/internal/pkg/database"
	"github.com/stampcard/loyalty-api/internal/pkg/jwt"
	"github.com/stampcard/loyalty-api/internal/pkg/logger"
	"github.com/stampcard/loyalty-api/internal/pkg/metrics"
	"github.com/stampcard/loyalty-api/internal/pkg/realtime"
	pkgresponse "github.com/stampcard/loyalty-api/internal/pkg/response"
	"github.com/stampcard/loyalty-api/internal/pkg/tokencodec"
)

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting loyalty API")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	if cfg.AutoMigrate {
		if err := database.EnsureSchema(context.Background(), db); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply schema")
		}
	}

	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redisClient)

	codec, err := tokencodec.New(cfg.ScanTokenDigestKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid scan token digest key")
	}
	if cfg.IsProduction() && cfg.ScanTokenDigestKey == config.DefaultScanTokenDigestKey {
		log.Fatal().Msg("SCAN_TOKEN_DIGEST_KEY must be set in production")
	}

	var scanMetrics *metrics.ScanMetrics
	if cfg.MetricsEnabled {
		scanMetrics = metrics.Scan()
	}

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	// ---------- Realtime ----------
	hub := realtime.NewHub(redisClient)
	go hub.Run()
	defer hub.Shutdown()

	// ---------- Repositories ----------
	accountRepo := loyalty.NewRepository(db)
	ledgerRepo := ledger.NewRepository(db)
	redemptionRepo := redemption.NewRepository(db, ledgerRepo)
	scanRepo := scan.NewRepository(db, accountRepo, ledgerRepo, redemptionRepo)
	directoryRepo := directory.NewRepository(db)

	// ---------- Services ----------
	scanService := scan.NewService(scan.ServiceConfig{
		Repo:              scanRepo,
		Accounts:          accountRepo,
		Identity:          directoryRepo,
		Businesses:        directoryRepo,
		Codec:             codec,
		Events:            scan.NewWSPublisher(hub),
		Metrics:           scanMetrics,
		SessionTTL:        cfg.ScanSessionTTL,
		MaxAccrualPoints:  int64(cfg.ScanMaxAccrualPoints),
		MaxSelectionLines: cfg.ScanMaxSelectionLines,
	})
	ledgerService := ledger.NewService(ledgerRepo, accountRepo, scanMetrics)
	redemptionService := redemption.NewService(redemptionRepo, accountRepo, redemption.NewWSPublisher(hub), scanMetrics)

	// ---------- Handlers ----------
	scanHandler := scan.NewHandler(scanService)
	ledgerHandler := ledger.NewHandler(ledgerService)
	redemptionHandler := redemption.NewHandler(redemptionService)
	wsHandler := realtime.NewHandler(hub, cfg.AllowedOrigins)

	// ---------- Background jobs ----------
	jobsCtx, stopJobs := context.WithCancel(context.Background())
	defer stopJobs()

	sweeper := scan.NewSweeper(scanRepo, cfg.SweeperGrace, scanMetrics)
	go sweeper.Start(jobsCtx, cfg.SweeperInterval)

	// ---------- Router ----------
	authMiddleware := middleware.Auth(jwtService)
	consumerAuth := chain(authMiddleware, middleware.RequireConsumer())
	staffAuth := chain(authMiddleware, middleware.RequireStaff())
	prepareLimit := middleware.RateLimit(redisClient, "prepare", cfg.PrepareRateLimit, cfg.PrepareRateWindow, middleware.UserDeviceKey)

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	// WebSocket endpoint (before Compress)
	r.With(realtime.QueryToken, authMiddleware).Get("/ws", wsHandler.WebSocket)

	r.Group(func(r chi.Router) {
		r.Use(chimw.Compress(5))

		r.Get("/health", healthHandler(db, redisClient))
		if cfg.MetricsEnabled {
			r.Handle("/metrics", metrics.Handler())
		}

		r.Route("/api/v1", func(r chi.Router) {
			r.Mount("/scan", scanHandler.ConsumerRoutes(consumerAuth, prepareLimit))
			r.Mount("/loyalty/accounts", ledgerHandler.ConsumerRoutes(consumerAuth))

			r.Mount("/business/scan", scanHandler.StaffRoutes(staffAuth))
			r.Mount("/business/redemptions", redemptionHandler.StaffRoutes(staffAuth))
			r.Mount("/business/accounts", ledgerHandler.StaffRoutes(staffAuth))
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	stopJobs()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

// chain applies middlewares so that the first one runs first.
func chain(mws ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

func healthHandler(db *sqlx.DB, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, healthy := database.Health(r.Context(), db, redisClient)
		if !healthy {
			pkgresponse.JSON(w, http.StatusServiceUnavailable, status)
			return
		}
		pkgresponse.OK(w, status)
	}
}
