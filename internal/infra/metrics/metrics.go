package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	RecordsUploaded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "records_uploaded_total",
		Help: "Количество принятых зашифрованных записей",
	})
	UploadRejects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "upload_rejects_total",
		Help: "Отклонённые загрузки по причинам",
	}, []string{"reason"})
	ReduceSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "summary_reduce_seconds",
		Help:    "Время гомоморфной свёртки записей",
		Buckets: prometheus.DefBuckets,
	})
	ReduceRecords = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "summary_reduce_records",
		Help:    "Число записей на одну свёртку",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	})
	HEOpSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "he_op_seconds",
		Help:    "Длительность операций гомоморфного движка",
		Buckets: prometheus.DefBuckets,
	}, []string{"op", "status"})
	RevealRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reveal_requests_total",
		Help: "Количество заявок на раскрытие итога",
	})
	OracleCallbacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oracle_callbacks_total",
		Help: "Обратные вызовы оракула по исходу",
	}, []string{"outcome"})
	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "target", "status"})
	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		RecordsUploaded,
		UploadRejects,
		ReduceSeconds,
		ReduceRecords,
		HEOpSeconds,
		RevealRequestsTotal,
		OracleCallbacksTotal,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveHEOp записывает длительность операции гомоморфного движка.
func ObserveHEOp(op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	HEOpSeconds.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}

// IncOracleCallback увеличивает счётчик обратных вызовов с указанным исходом.
func IncOracleCallback(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	OracleCallbacksTotal.WithLabelValues(outcome).Inc()
}
