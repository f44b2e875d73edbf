package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"throttle-gateway/middleware/ratelimit"
	"throttle-gateway/middleware/ratelimit/domain"
	"throttle-gateway/middleware/ratelimit/infra"

	"go.uber.org/zap"
)

func main() {
	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	// Exemplo: injetando o middleware diretamente no seu webserver (sem proxy)
	factory, err := infra.NewFactory(infra.BackendAveraging, 5, 2, infra.MonotonicClock())
	if err != nil {
		log.Fatal("throttle config", zap.Error(err))
	}
	store := infra.NewStore(factory, infra.WithStoreLogger(log))
	stats := infra.NewMemoryStatsStore(infra.WithTrackKeys(true))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	store.StartJanitor(ctx)

	// Exemplo 2: usando o limiter direto, como um consumidor que processa
	// lotes de registros a no máximo 100 registros/s.
	consumer, err := infra.NewAveragingLimiter(100, 1, infra.MonotonicClock())
	if err != nil {
		log.Fatal("consumer limiter", zap.Error(err))
	}
	go consume(ctx, consumer, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		t := stats.Total()
		log.Info("stats", zap.Int64("allowed", t.Allowed), zap.Int64("interrupted", t.Interrupted), zap.Duration("waited", t.Waited))
		w.WriteHeader(http.StatusNoContent)
	})

	h := http.Handler(mux)
	h = ratelimit.Middleware(ratelimit.Options{
		Store:              store,
		Stats:              stats,
		Logger:             log,
		PerKey:             true,
		KeyHeader:          "X-Api-Key", // ou vazio para usar IP
		TrustXForwardedFor: true,
		AddThrottleHeaders: true,
	})(h)
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{Max: 50, Logger: log, AddHeaders: true})(h)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		_ = consumer.Close()
		_ = store.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("example server listening", zap.String("addr", addr), zap.Stringer("consumer", consumer))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server error", zap.Error(err))
	}
}

// consume simula um consumidor que busca lotes e se auto-limita antes de
// processar cada um. O tempo devolvido por Acquire mede a contrapressão.
func consume(ctx context.Context, lim domain.RateLimiter, log *zap.Logger) {
	var (
		records int
		waited  time.Duration
	)
	report := time.NewTicker(10 * time.Second)
	defer report.Stop()

	for batch := 1; ; batch = batch%50 + 1 {
		w, err := lim.Acquire(ctx, batch)
		if err != nil {
			if errors.Is(err, domain.ErrInterrupted) || errors.Is(err, domain.ErrClosed) {
				log.Info("consumer stopped", zap.Int("records", records), zap.Duration("waited", waited))
				return
			}
			log.Error("consumer acquire", zap.Error(err))
			return
		}
		records += batch
		waited += w

		select {
		case <-report.C:
			log.Info("consumer progress", zap.Int("records", records), zap.Duration("waited", waited))
		default:
		}
	}
}
