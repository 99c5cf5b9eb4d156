package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payrecon/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/payrecon/internal/health"
	"github.com/vladislavdragonenkov/payrecon/internal/httpapi"
	"github.com/vladislavdragonenkov/payrecon/internal/service/effects"
	"github.com/vladislavdragonenkov/payrecon/internal/service/notify"
	"github.com/vladislavdragonenkov/payrecon/internal/service/recon"
	"github.com/vladislavdragonenkov/payrecon/internal/service/verifier"
	"github.com/vladislavdragonenkov/payrecon/internal/version"
)

// Run собирает сервис реконсиляции и блокируется до отмены ctx
// либо до фатальной ошибки HTTP-сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	if cfg.WebhookSecret == "" {
		return fmt.Errorf("webhook secret is required")
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer shutdownStorage(deps, logger)

	// Kafka опционален: без брокеров publish-эффекты завершатся failed,
	// а остальная обработка событий работает как обычно.
	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(kafkaProducer, logger)
	eventPublisher, dlqPublisher := initEffectPublishers(kafkaProducer)

	webhookVerifier := verifier.New([]byte(cfg.WebhookSecret))
	orchestrator := recon.NewOrchestrator(
		deps.orders,
		deps.ledger,
		deps.store,
		logger.WithField("layer", "recon"),
	)

	handler := httpapi.NewHandler(
		webhookVerifier,
		orchestrator,
		deps.orders,
		deps.timeline,
		logger.WithField("layer", "http"),
	)
	router := httpapi.NewRouter(handler)

	dispatcher := effects.NewDispatcher(
		deps.effects,
		deps.orders,
		notify.NewService(logger.WithField("layer", "notify")),
		eventPublisher,
		dispatcherOptions(cfg, logger.WithField("layer", "effects"), dlqPublisher)...,
	)
	sweeper := recon.NewSweeper(
		deps.ledger,
		recon.WithLogger(logger.WithField("layer", "sweeper")),
		recon.WithInterval(cfg.LedgerSweepInterval),
		recon.WithBatchSize(cfg.LedgerSweepBatchSize),
	)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	var workers sync.WaitGroup
	workers.Add(2)
	go func() {
		defer workers.Done()
		dispatcher.Run(workerCtx)
	}()
	go func() {
		defer workers.Done()
		sweeper.Run(workerCtx)
	}()

	v, _, _ := version.Info()
	healthHandler := healthcheck.NewHandler(v)
	healthHandler.RegisterChecker("storage", healthcheck.NewSimpleChecker("storage", func() error {
		if deps.ping != nil {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return deps.ping(pingCtx)
		}
		_, err := deps.effects.Stats()
		return err
	}))

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	lis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return err
	}

	apiSrv := &http.Server{Handler: router}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", lis.Addr())
		errCh <- apiSrv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP API")
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		stopWorkers()
		workers.Wait()
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(metricsSrv, logger)
		stopWorkers()
		workers.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// dispatcherOptions переводит конфигурацию в опции диспетчера эффектов.
func dispatcherOptions(cfg Config, logger *log.Entry, dlqPublisher domain.EffectPublisher) []effects.Option {
	return []effects.Option{
		effects.WithLogger(logger),
		effects.WithDLQPublisher(dlqPublisher),
		effects.WithPollInterval(cfg.EffectPollInterval),
		effects.WithBatchSize(cfg.EffectBatchSize),
		effects.WithMaxAttempts(cfg.EffectMaxAttempts),
		effects.WithRetryBaseDelay(cfg.EffectRetryBaseDelay),
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez", addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
