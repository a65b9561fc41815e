package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/ngoyal88/mimasaka/pkg/api"
	"github.com/ngoyal88/mimasaka/pkg/cache"
	"github.com/ngoyal88/mimasaka/pkg/config"
	"github.com/ngoyal88/mimasaka/pkg/middleware"
	"github.com/ngoyal88/mimasaka/pkg/requestmsg"
	"github.com/ngoyal88/mimasaka/pkg/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configDir := pflag.String("config", config.DefaultConfigDir, "directory holding config.yaml")
	port := pflag.String("port", "", "listen address, overrides server.port (e.g. :8080)")
	pflag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configDir, *port, level, logger); err != nil {
		logger.Error("error in app lifecycle", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configDir, port string, level *slog.LevelVar, logger *slog.Logger) error {
	// 1. Load config with hot reload
	cfgStore, err := config.LoadAndWatch(configDir, logger)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	cfg := cfgStore.Get()
	if port != "" {
		cfg.Server.Port = port
	}

	logger = newLogger(cfg.Logging, level)
	slog.SetDefault(logger)
	cfgStore.OnChange(func(c *config.Config) {
		if lvl, err := config.ParseLevel(c.Logging.Level); err == nil {
			level.Set(lvl)
		}
	})

	// 2. Redis (if enabled)
	var rdb *cache.Client
	if cfg.Redis.Enabled {
		rdb, err = cache.NewRedis(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rdb.Close()
		logger.Info("connected to redis", "address", cfg.Redis.Address)
	}

	// 3. Record store
	store, err := openStore(cfg.Storage, rdb)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("record store ready", "backend", cfg.Storage.Backend)

	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "mimasaka_request_messages",
		Help: "Request messages currently stored",
	}, func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		n, err := store.Count(ctx)
		if err != nil {
			return 0
		}
		return float64(n)
	})

	// 4. Routes
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	adminAPI := api.NewAdminAPI(requestmsg.New(store), store, cfg.Server.AdminPrefix, logger)
	adminAPI.RegisterRoutes(mux)

	// 5. Middleware, inner-most first
	var handler http.Handler = mux
	handler = middleware.NewRateLimiter(rdb, cfgStore, logger)(handler)
	handler = middleware.Metrics(handler)
	handler = middleware.RequestLogger(logger)(handler)
	handler = middleware.Recoverer(logger)(handler)

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	return serve(ctx, srv, logger, cfg.Server.AdminPrefix)
}

// serve runs srv until ctx is cancelled, then drains in-flight requests.
func serve(ctx context.Context, srv *http.Server, logger *slog.Logger, prefix string) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "address", srv.Addr, "admin_prefix", prefix)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

func openStore(cfg config.StorageConfig, rdb *cache.Client) (storage.Store, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		if rdb == nil {
			return nil, errors.New("storage backend redis requires redis.enabled")
		}
		return storage.NewRedisStore(rdb, cfg.RecordTTL), nil
	default:
		return storage.NewMemoryStore(), nil
	}
}

func newLogger(cfg config.LoggingConfig, level *slog.LevelVar) *slog.Logger {
	if lvl, err := config.ParseLevel(cfg.Level); err == nil {
		level.Set(lvl)
	}
	return slog.New(newHandler(os.Stdout, cfg.Format, level))
}

func newHandler(w io.Writer, format string, level *slog.LevelVar) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}
