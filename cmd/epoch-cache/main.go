package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/epoch-cache/internal/config"
	"github.com/Sternrassler/epoch-cache/pkg/cache"
	"github.com/Sternrassler/epoch-cache/pkg/epoch"
	"github.com/Sternrassler/epoch-cache/pkg/logging"
	"github.com/Sternrassler/epoch-cache/pkg/metrics"
	"github.com/Sternrassler/epoch-cache/pkg/store"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logCfg := logging.Config{
		Level:  logging.LogLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
		Output: os.Stderr,
	}
	if cfg.Log.File != "" {
		logCfg.File = logging.DefaultFileConfig(cfg.Log.File)
	}
	logging.Setup(logCfg)
	logger := logging.NewLogger("proxy")

	// Setup Redis
	st := store.NewOwnedRedis(redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}))
	defer st.Close()

	// The cache fails open, so an unreachable store only degrades to origin.
	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := st.Ping(pingCtx); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis not reachable, serving uncached until it is")
	} else {
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	}
	cancel()

	codec, err := cache.CodecByName(cfg.Cache.Codec)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid codec")
	}
	originURL, err := url.Parse(cfg.OriginURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid origin URL")
	}

	coordinator := cache.New(st, cache.Config{
		LockTimeout:  cfg.Cache.LockTimeout,
		DefaultTTL:   cfg.Cache.DefaultTTL,
		WriteTimeout: cfg.Cache.WriteTimeout,
		MaxBodyBytes: cfg.Cache.MaxBodyBytes,
		Codec:        codec,
		Epoch: epoch.Config{
			MemoWindow: cfg.Cache.EpochMemoWindow,
		},
	}, logging.NewLogger("cache"))

	router := newRouter(coordinator, st, newOriginProxy(originURL, logger), cfg.Cache.TTL, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", cfg.ListenAddr).
			Str("origin", cfg.OriginURL).
			Str("codec", codec.Name()).
			Msg("Starting caching proxy")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Server forced to shutdown")
	}
	coordinator.Close()

	logger.Info().Msg("Server exited")
}

// newRouter wires the proxy routes. Reads go through the cache with the TTL
// of their namespace, writes invalidate their namespace on success.
func newRouter(c *cache.Coordinator, st store.Store, origin http.Handler, ttl func(namespace string) time.Duration, logger zerolog.Logger) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	router.HandleFunc("/ready", readyHandler(st)).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	admin := router.PathPrefix("/admin/cache").Subrouter()
	admin.HandleFunc("/{namespace}/bump", epochHandler(c.BumpEpoch, logger)).Methods(http.MethodPost)
	admin.HandleFunc("/{namespace}/flush", epochHandler(c.FlushNamespace, logger)).Methods(http.MethodPost)

	writes := c.Invalidate(origin)
	router.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writes.ServeHTTP(w, r)
			return
		}
		ns := cache.PathNamespace(r)
		c.Handle(w, r, ns, origin, ttl(ns))
	})

	router.Use(loggingMiddleware(logger))
	return router
}

// newOriginProxy forwards requests to the origin. Cached reads ask for an
// identity encoding so stored bodies are plain JSON.
func newOriginProxy(target *url.URL, logger zerolog.Logger) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(target)

	director := proxy.Director
	proxy.Director = func(r *http.Request) {
		director(r)
		r.Host = target.Host
		if r.Method == http.MethodGet {
			r.Header.Del("Accept-Encoding")
		}
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("Origin request failed")
		http.Error(w, "origin unavailable", http.StatusBadGateway)
	}
	return proxy
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func readyHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := st.Ping(ctx); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "READY")
	}
}

type epochResponse struct {
	Namespace string `json:"namespace"`
	Epoch     uint64 `json:"epoch"`
}

func epochHandler(op func(ctx context.Context, namespace string) uint64, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ns := mux.Vars(r)["namespace"]
		ep := op(r.Context(), ns)

		logger.Info().
			Str("namespace", ns).
			Uint64("epoch", ep).
			Str("path", r.URL.Path).
			Msg("Epoch changed via admin endpoint")

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(epochResponse{Namespace: ns, Epoch: ep}); err != nil {
			logger.Debug().Err(err).Msg("Failed to write response")
		}
	}
}

func loggingMiddleware(logger zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status_code", m.Code).
				Dur("duration", m.Duration).
				Str("cache_status", w.Header().Get(cache.HeaderCacheStatus)).
				Msg("Request served")
		})
	}
}
