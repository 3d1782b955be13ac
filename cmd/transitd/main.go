package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BrunoAFK/ZagrebTransit/internal/app"
	"github.com/BrunoAFK/ZagrebTransit/internal/config"
	"github.com/BrunoAFK/ZagrebTransit/internal/feedstore"
	"github.com/BrunoAFK/ZagrebTransit/internal/logging"
	"github.com/BrunoAFK/ZagrebTransit/internal/realtime"
	"github.com/BrunoAFK/ZagrebTransit/internal/restapi"
	"github.com/BrunoAFK/ZagrebTransit/internal/transit"
	"github.com/BrunoAFK/ZagrebTransit/internal/watch"
	"github.com/BrunoAFK/ZagrebTransit/internal/webui"
)

func main() {
	var (
		configPath string
		port       int
		env        string
	)
	flag.StringVar(&configPath, "config", "", "Path to YAML config file (optional)")
	flag.IntVar(&port, "port", 0, "API server port (overrides config)")
	flag.StringVar(&env, "env", "", "Environment (development|staging|production, overrides config)")
	flag.Parse()

	logger := logging.NewStructuredLogger(os.Stdout, slog.LevelInfo)

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if env != "" {
		cfg.Server.Env = env
	}

	store := feedstore.New(feedstore.Options{
		BaseDir:                 cfg.Feed.DataDir,
		StaticFeedURL:           cfg.Feed.StaticURL,
		ListingURLs:             cfg.Feed.ListingURLs,
		FeedPathSegment:         cfg.Feed.FeedPathSegment,
		MaxCachedFeeds:          cfg.Feed.MaxCachedFeeds,
		MaxListingCandidates:    cfg.Feed.MaxListingCandidates,
		MaxPreviousVersionTries: cfg.Feed.MaxPreviousVersionTries,
	}, nil, logger)

	rtClient := realtime.New(cfg.Realtime.URL,
		time.Duration(cfg.Realtime.MaxStaleSeconds)*time.Second, nil, logger)

	manager := transit.NewManager(transit.ManagerConfig{
		Store:                   store,
		Realtime:                rtClient,
		StaticRefreshInterval:   time.Duration(cfg.Feed.StaticRefreshHours) * time.Hour,
		RealtimeRefreshInterval: time.Duration(cfg.Realtime.IntervalSeconds) * time.Second,
		Logger:                  logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Degraded startup is fine; the manager keeps retrying on its ticker.
	if err := manager.RefreshStatic(ctx, true); err != nil {
		logger.Error("initial static refresh failed", "error", err)
	}
	manager.RefreshRealtime(ctx, true)
	manager.Start()
	defer manager.Shutdown()

	registry := watch.NewRegistry(watch.NewFileStore(cfg.Watches.Path), watch.Defaults{
		WindowMinutes:      cfg.Defaults.WindowMinutes,
		NearbyRadiusMeters: cfg.Defaults.NearbyRadiusMeters,
	}, logger)
	if err := registry.Load(); err != nil {
		logger.Warn("failed to load watch registry", "error", err)
	}

	application := &app.Application{
		Config:    cfg,
		Logger:    logger,
		Manager:   manager,
		Watches:   registry,
		Evaluator: watch.NewEvaluator(manager, nil),
	}

	restAPI := restapi.NewRestAPI(application)
	router := restAPI.Routes()
	webui.NewWebUI(application).SetWebUIRoutes(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      restAPI.Handler(router),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("starting server", "addr", srv.Addr, "env", cfg.Server.Env)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error(err.Error())
		os.Exit(1)
	}
	logger.Info("server stopped")
}
