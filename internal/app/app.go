// Package app собирает сервис госпитализаций: хранилище, движок, HTTP API, gRPC health,
// метрики и фоновые воркеры.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/hms/internal/api/httpapi"
	"github.com/vladislavdragonenkov/hms/internal/engine"
	healthcheck "github.com/vladislavdragonenkov/hms/internal/health"
	"github.com/vladislavdragonenkov/hms/internal/metrics"
	"github.com/vladislavdragonenkov/hms/internal/pricing"
	"github.com/vladislavdragonenkov/hms/internal/service/admission"
	"github.com/vladislavdragonenkov/hms/internal/service/idempotency"
	"github.com/vladislavdragonenkov/hms/internal/service/outbox"
	"github.com/vladislavdragonenkov/hms/internal/validation"
	"github.com/vladislavdragonenkov/hms/internal/version"
)

const readHeaderTimeout = 10 * time.Second

// Run запускает сервис и блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	kafkaRT := initKafka(ctx, cfg, logger)
	defer kafkaRT.close(logger)

	svc, err := buildService(cfg, deps, kafkaRT != nil, logger)
	if err != nil {
		return err
	}

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	var workers sync.WaitGroup
	startWorkers(workerCtx, &workers, cfg, deps, kafkaRT, logger)

	healthHandler := buildHealthHandler(cfg, deps, kafkaRT != nil)
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	apiSrv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewHandler(svc,
			httpapi.WithLogger(logger.WithField("layer", "http")),
			httpapi.WithIdempotency(deps.idempotencyRepo, cfg.IdempotencyTTL),
			httpapi.WithCurrency(cfg.Currency),
		),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	grpcServer, healthServer := newGRPCServer(logger)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		shutdownHTTP(metricsSrv, cfg.ShutdownTimeout, logger)
		stopWorkers()
		workers.Wait()
		return fmt.Errorf("listen grpc: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("gRPC health сервер слушает %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		runErr = ctx.Err()
	case runErr = <-errCh:
		logger.WithError(runErr).Error("сервер остановился с ошибкой")
	}

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownHTTP(apiSrv, cfg.ShutdownTimeout, logger)
	stopGRPC(grpcServer, cfg.ShutdownTimeout, logger)
	shutdownHTTP(metricsSrv, cfg.ShutdownTimeout, logger)

	stopWorkers()
	workers.Wait()
	return runErr
}

// buildService собирает движок, валидатор и сервис поверх выбранного хранилища.
// Outbox подключается, когда события есть куда доставить сейчас или позже (Kafka либо postgres).
func buildService(cfg Config, deps *runtimeDependencies, kafkaEnabled bool, logger *log.Entry) (*admission.Service, error) {
	prices, err := pricing.ParseStatic(cfg.DefaultAdmissionFee)
	if err != nil {
		return nil, fmt.Errorf("pricing: %w", err)
	}

	opts := []admission.Option{
		admission.WithLogger(logger.WithField("layer", "service")),
		admission.WithTimeline(deps.timelineRepo),
		admission.WithMetrics(metrics.NewAdmissionMetrics()),
	}
	if kafkaEnabled || deps.store != nil {
		opts = append(opts, admission.WithOutbox(deps.outboxRepo))
	}

	return admission.New(
		deps.repo,
		engine.New(prices),
		validation.New(validation.NewFormats(cfg.PhoneRegion)),
		opts...,
	), nil
}

// startWorkers запускает очистку ключей идемпотентности и, при наличии Kafka, доставку outbox.
func startWorkers(ctx context.Context, wg *sync.WaitGroup, cfg Config, deps *runtimeDependencies, kafkaRT *kafkaRuntime, logger *log.Entry) {
	cleanup := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("worker", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatch),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		cleanup.Run(ctx)
	}()

	if kafkaRT == nil {
		logger.Info("kafka не настроена, outbox worker не запущен")
		return
	}

	worker := outbox.NewWorker(deps.outboxRepo, kafkaRT.publisher,
		outbox.WithLogger(logger.WithField("worker", "outbox")),
		outbox.WithDLQPublisher(kafkaRT.dlq),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()
}

func buildHealthHandler(cfg Config, deps *runtimeDependencies, kafkaEnabled bool) *healthcheck.Handler {
	handler := healthcheck.NewHandler(version.GetVersion())
	if deps.store != nil {
		handler.RegisterChecker("postgres", healthcheck.NewPingChecker("postgres", deps.store))
	}
	if kafkaEnabled {
		handler.RegisterChecker("outbox", healthcheck.NewOutboxBacklogChecker(deps.outboxRepo, cfg.OutboxMaxPending))
	}
	return handler
}

// newGRPCServer поднимает gRPC-сервер со стандартным health-сервисом, reflection и метриками.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	reflection.Register(server)
	grpcMetrics.InitializeMetrics(server)

	return server, healthServer
}

func stopGRPC(server *grpc.Server, timeout time.Duration, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// startMetricsServer запускает служебный HTTP: /metrics, /healthz, /livez, /readyz.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: readHeaderTimeout}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, 0, logger)
	}()

	return srv
}

// shutdownHTTP останавливает HTTP-сервер; timeout<=0 означает 5 секунд.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).WithField("addr", srv.Addr).Warn("http shutdown with error")
	}
}
