// Package main runs the studio layer API server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	app "github.com/storyloft/studio_layer/internal/app"
	"github.com/storyloft/studio_layer/internal/app/httpapi"
	"github.com/storyloft/studio_layer/internal/app/metrics"
	"github.com/storyloft/studio_layer/internal/app/services/generation"
	"github.com/storyloft/studio_layer/internal/app/storage/postgres"
	"github.com/storyloft/studio_layer/internal/cache"
	"github.com/storyloft/studio_layer/internal/config"
	"github.com/storyloft/studio_layer/internal/middleware"
	"github.com/storyloft/studio_layer/internal/platform/migrations"
	"github.com/storyloft/studio_layer/pkg/logger"
)

func main() {
	envFile := flag.String("env", ".env", "path to env file")
	configFile := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		logger.NewDefault("studio").WithError(err).Warn("load env file")
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.NewDefault("studio").WithError(err).Error("load configuration")
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	stores := app.Stores{}
	if cfg.Database.URL != "" {
		db, err := sqlx.Open("postgres", cfg.Database.URL)
		if err != nil {
			log.WithError(err).Error("open database")
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			log.WithError(err).Error("ping database")
			os.Exit(1)
		}
		if err := migrations.Apply(db.DB); err != nil {
			log.WithError(err).Error("apply migrations")
			os.Exit(1)
		}
		pg := postgres.New(db)
		stores = app.Stores{
			Users:       pg,
			Projects:    pg,
			Scripts:     pg,
			Library:     pg,
			References:  pg,
			Assets:      pg,
			Jobs:        pg,
			Wallet:      pg,
			Maintenance: pg,
		}
		log.Info("postgres storage ready")
	} else {
		log.Warn("DATABASE_URL not set; using in-memory storage")
	}

	var redisCache *cache.Cache
	if cfg.Redis.Addr != "" {
		redisCache, err = cache.New(context.Background(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			log.WithError(err).Warn("redis unavailable; running without cache")
			redisCache = nil
		} else {
			defer redisCache.Close()
		}
	}

	application, err := app.New(stores, app.Options{
		Cache:          redisCache,
		SignupGrant:    cfg.Wallet.SignupGrant,
		Pricing:        pricingFromConfig(cfg),
		Providers:      buildProviders(cfg, log),
		CallbackSecret: cfg.Generation.CallbackSecret,

		DispatchInterval: cfg.Generation.DispatchInterval,
		SweepSchedule:    cfg.Maintenance.SweepSchedule,
		Retention:        cfg.Maintenance.Retention,
	}, log)
	if err != nil {
		log.WithError(err).Error("build application")
		os.Exit(1)
	}

	events := httpapi.NewEventHub(log)
	application.Generation.AttachPublisher(events)
	if err := application.Attach(events); err != nil {
		log.WithError(err).Error("attach event hub")
		os.Exit(1)
	}

	tokens, err := middleware.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		log.WithError(err).Error("configure tokens")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("start application")
		os.Exit(1)
	}

	api := httpapi.NewHandler(application, tokens, events, log)

	root := mux.NewRouter()
	root.HandleFunc("/healthz", healthz).Methods(http.MethodGet)
	root.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	root.PathPrefix("/").Handler(api)

	rl := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, log)
	rl.StartCleanup(ctx, 10*time.Minute)
	cors := middleware.NewCORSMiddleware(cfg.Server.AllowedOrigins)

	var handler http.Handler = root
	handler = rl.Handler(handler)
	handler = cors.Handler(handler)
	handler = metrics.InstrumentHandler(handler)
	handler = middleware.RequestID(handler)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application shutdown")
	}
}

func pricingFromConfig(cfg *config.Config) generation.Pricing {
	return generation.Pricing{
		"text":  cfg.Pricing.Text,
		"image": cfg.Pricing.Image,
		"video": cfg.Pricing.Video,
	}
}

func buildProviders(cfg *config.Config, log *logger.Logger) []generation.Provider {
	var providers []generation.Provider

	if cfg.Generation.OpenAIKey != "" {
		if p, err := generation.NewTextProvider(cfg.Generation.OpenAIKey, cfg.Generation.TextModel, log); err != nil {
			log.WithError(err).Warn("configure text provider")
		} else {
			providers = append(providers, p)
		}
		if p, err := generation.NewImageProvider(cfg.Generation.OpenAIKey, cfg.Generation.ImageModel, log); err != nil {
			log.WithError(err).Warn("configure image provider")
		} else {
			providers = append(providers, p)
		}
	} else {
		log.Warn("OPENAI_API_KEY not set; text and image generation disabled")
	}

	if cfg.Generation.VideoEndpoint != "" {
		p, err := generation.NewHTTPVideoProvider(nil, cfg.Generation.VideoEndpoint, cfg.Generation.VideoKey, cfg.Generation.CallbackBaseURL, log)
		if err != nil {
			log.WithError(err).Warn("configure video provider")
		} else {
			providers = append(providers, p)
		}
	} else {
		log.Warn("VIDEO_ENDPOINT not set; video generation disabled")
	}

	return providers
}

// healthz reports process and host health.
func healthz(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":     "ok",
		"time":       time.Now().UTC(),
		"goroutines": runtime.NumGoroutine(),
	}
	if v, err := mem.VirtualMemory(); err == nil {
		status["mem_used_percent"] = v.UsedPercent
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		status["cpu_percent"] = pct[0]
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(status)
}
