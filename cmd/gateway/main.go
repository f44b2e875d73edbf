package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"throttle-gateway/middleware/ratelimit"
	"throttle-gateway/middleware/ratelimit/domain"
	"throttle-gateway/middleware/ratelimit/infra"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	cfg, err := readConfig()
	if err != nil {
		// logger ainda não existe: o nível vem da própria config
		zap.NewExample().Fatal("config error", zap.Error(err))
	}

	log, err := newLogger(cfg.logLevel)
	if err != nil {
		zap.NewExample().Fatal("logger error", zap.Error(err))
	}
	defer func() { _ = log.Sync() }()

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		log.Fatal("invalid UPSTREAM_URL", zap.Error(err))
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn("proxy error", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	factory, err := infra.NewFactory(cfg.throttleBackend, cfg.throttleRPS, cfg.throttleMaxBurst, infra.MonotonicClock())
	if err != nil {
		log.Fatal("invalid throttle config", zap.Error(err))
	}
	store := infra.NewStore(factory, infra.WithStoreLogger(log))

	var stats []domain.StatsStore
	if cfg.metricsAddr != "" {
		stats = append(stats, infra.NewPrometheusStatsStore(prometheus.DefaultRegisterer))
	}
	if cfg.statsEnabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.statsRedisAddr,
			Password: cfg.statsRedisPassword,
			DB:       cfg.statsRedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			log.Fatal("redis stats ping error", zap.Error(err))
		}

		stats = append(stats, infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.statsPrefix),
			infra.WithStatsTTL(cfg.statsTTL),
			infra.WithStatsBucket(cfg.statsBucket),
			infra.WithStatsTrackKeys(cfg.statsTrackKeys),
		))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	store.StartJanitor(ctx)

	h := http.Handler(proxy)
	if cfg.throttleEnabled {
		h = ratelimit.Middleware(ratelimit.Options{
			Store:              store,
			Stats:              infra.NewMultiStatsStore(stats...),
			Logger:             log,
			PerKey:             cfg.throttlePerKey,
			KeyHeader:          cfg.throttleKeyHeader,
			TrustXForwardedFor: cfg.trustXFF,
			Permits:            cfg.throttlePermits,
			RetryAfter:         cfg.retryAfter,
			AddThrottleHeaders: cfg.addHeaders,
		})(h)
	}
	// a concorrência envolve o throttle: requests esperando também ocupam vaga
	var pool *infra.SlotPool
	if cfg.concurrencyMax > 0 {
		pool = infra.NewSlotPool(cfg.concurrencyMax)
		h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
			Pool:           pool,
			RejectStatus:   http.StatusServiceUnavailable,
			RetryAfter:     cfg.retryAfter,
			AcquireTimeout: cfg.concurrencyTimeout,
			Logger:         log,
			AddHeaders:     cfg.addHeaders,
		})(h)
	}

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	var metricsSrv *http.Server
	if cfg.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	go func() {
		<-ctx.Done()
		// fecha a fila de vagas e os limiters primeiro: quem está esperando
		// recebe 503 em vez de segurar o Shutdown até o WriteTimeout
		if pool != nil {
			_ = pool.Close()
		}
		_ = store.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
	}()

	log.Info("gateway listening", zap.String("addr", cfg.listenAddr), zap.Stringer("upstream", target))
	log.Info("throttle",
		zap.Bool("enabled", cfg.throttleEnabled),
		zap.Int64("rps", cfg.throttleRPS),
		zap.Float64("maxBurstSeconds", cfg.throttleMaxBurst),
		zap.String("backend", string(cfg.throttleBackend)),
		zap.Bool("perKey", cfg.throttlePerKey),
		zap.String("keyHeader", cfg.throttleKeyHeader),
		zap.Bool("trustXFF", cfg.trustXFF),
		zap.Int("permitsPerRequest", cfg.throttlePermits))
	log.Info("throttle-stats",
		zap.Bool("redis", cfg.statsEnabled),
		zap.String("redisAddr", cfg.statsRedisAddr),
		zap.String("bucket", cfg.statsBucket),
		zap.Duration("ttl", cfg.statsTTL),
		zap.Bool("trackKeys", cfg.statsTrackKeys),
		zap.String("metricsAddr", cfg.metricsAddr))
	log.Info("concurrency", zap.Int("max", cfg.concurrencyMax), zap.Duration("acquireTimeout", cfg.concurrencyTimeout))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server error", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

type config struct {
	listenAddr         string
	upstreamURL        string
	logLevel           string
	metricsAddr        string
	throttleEnabled    bool
	throttleRPS        int64
	throttleMaxBurst   float64
	throttleBackend    infra.Backend
	throttlePerKey     bool
	throttleKeyHeader  string
	throttlePermits    int
	trustXFF           bool
	retryAfter         time.Duration
	addHeaders         bool
	concurrencyMax     int
	concurrencyTimeout time.Duration

	statsEnabled       bool
	statsRedisAddr     string
	statsRedisPassword string
	statsRedisDB       int
	statsPrefix        string
	statsTTL           time.Duration
	statsBucket        string
	statsTrackKeys     bool
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = stringsRequired("UPSTREAM_URL")
	cfg.logLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.metricsAddr = os.Getenv("METRICS_ADDR")
	cfg.throttleEnabled = getenvBoolDefault("THROTTLE_ENABLED", true)
	// -1 desliga o limite, 0 pausa o tráfego (todos esperam até o shutdown)
	cfg.throttleRPS = getenvInt64Default("THROTTLE_RPS", 10)
	cfg.throttleMaxBurst = getenvFloatDefault("THROTTLE_MAX_BURST_SECONDS", infra.DefaultMaxBurstSeconds)
	cfg.throttlePerKey = getenvBoolDefault("THROTTLE_PER_KEY", false)
	cfg.throttleKeyHeader = os.Getenv("THROTTLE_KEY_HEADER")
	cfg.throttlePermits = getenvIntDefault("THROTTLE_PERMITS_PER_REQUEST", 1)
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", false)
	cfg.retryAfter = getenvDurationDefault("RETRY_AFTER", 1*time.Second)
	cfg.addHeaders = getenvBoolDefault("ADD_THROTTLE_HEADERS", false)
	cfg.concurrencyMax = getenvIntDefault("CONCURRENCY_MAX", 100)
	cfg.concurrencyTimeout = getenvDurationDefault("CONCURRENCY_TIMEOUT", 0)

	cfg.statsEnabled = getenvBoolDefault("THROTTLE_STATS_ENABLED", false)
	cfg.statsRedisAddr = getenvDefault("THROTTLE_STATS_REDIS_ADDR", "")
	cfg.statsRedisPassword = os.Getenv("THROTTLE_STATS_REDIS_PASSWORD")
	cfg.statsRedisDB = getenvIntDefault("THROTTLE_STATS_REDIS_DB", 0)
	cfg.statsPrefix = getenvDefault("THROTTLE_STATS_PREFIX", "throttle:stats")
	cfg.statsTTL = getenvDurationDefault("THROTTLE_STATS_TTL", 24*time.Hour)
	cfg.statsBucket = getenvDefault("THROTTLE_STATS_BUCKET", "minute")
	cfg.statsTrackKeys = getenvBoolDefault("THROTTLE_STATS_TRACK_KEYS", false)

	backend, err := infra.ParseBackend(os.Getenv("THROTTLE_BACKEND"))
	if err != nil {
		return config{}, errors.New("THROTTLE_BACKEND must be averaging, xrate or bucket")
	}
	cfg.throttleBackend = backend

	if cfg.statsEnabled && strings.TrimSpace(cfg.statsRedisAddr) == "" {
		return config{}, errors.New("THROTTLE_STATS_REDIS_ADDR is required when THROTTLE_STATS_ENABLED=true")
	}

	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	if cfg.throttleRPS < domain.Unlimited {
		return config{}, errors.New("THROTTLE_RPS must be -1 (unlimited), 0 (paused) or > 0")
	}
	if cfg.throttleMaxBurst < 0 {
		return config{}, errors.New("THROTTLE_MAX_BURST_SECONDS must be >= 0")
	}
	if cfg.throttlePermits <= 0 {
		return config{}, errors.New("THROTTLE_PERMITS_PER_REQUEST must be > 0")
	}
	if cfg.concurrencyMax < 0 {
		return config{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}
	if _, err := zapcore.ParseLevel(cfg.logLevel); err != nil {
		return config{}, errors.New("LOG_LEVEL must be debug, info, warn or error")
	}

	// o backend pode recusar o tamanho do pedido (xrate não atende acima do burst)
	factory, err := infra.NewFactory(cfg.throttleBackend, cfg.throttleRPS, cfg.throttleMaxBurst, nil)
	if err != nil {
		return config{}, fmt.Errorf("invalid throttle config: %w", err)
	}
	if err := factory.Check(cfg.throttlePermits); err != nil {
		return config{}, fmt.Errorf("THROTTLE_PERMITS_PER_REQUEST does not fit THROTTLE_BACKEND=%s: %w", cfg.throttleBackend, err)
	}
	return cfg, nil
}

func stringsRequired(k string) string { return os.Getenv(k) }

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvInt64Default(k string, def int64) int64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
