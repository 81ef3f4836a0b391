// Background worker for the medical record ingest pipeline.  It consumes
// the ingest event topic and turns events into operator-facing signals:
// structured notification logs and Prometheus counters.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/turtacn/MedRecord-Ingest/internal/config"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/MedRecord-Ingest/pkg/types/common"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	probePort := flag.Int("probe-port", 8081, "port for /healthz and /metrics")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: using environment configuration: %v\n", err)
		cfg, err = config.LoadFromEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
			os.Exit(1)
		}
	}
	logger, err := logging.NewLogger(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.Named("worker")

	if !cfg.Kafka.Enabled {
		logger.Error("kafka is disabled in configuration, the worker has nothing to consume")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := prometheus.NewMetrics()
	consumer := kafka.NewConsumer(cfg.Kafka, logger)
	defer consumer.Close() //nolint:errcheck

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())
	probeSrv := &http.Server{Addr: fmt.Sprintf(":%d", *probePort), Handler: mux}
	go func() {
		if err := probeSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("probe server failed", logging.Err(err))
		}
	}()
	defer probeSrv.Shutdown(context.Background()) //nolint:errcheck

	logger.Info("worker consuming ingest events",
		logging.String("topic", cfg.Kafka.Topic),
		logging.String("group", cfg.Kafka.GroupID),
	)
	if err := consumer.Run(ctx, notify(logger, metrics)); err != nil {
		logger.Error("consumer stopped", logging.Err(err))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

// notify renders each event as a structured notification log line.  Failed
// files and finished sessions log at Warn so downstream alerting can key on
// the level alone.
func notify(logger logging.Logger, metrics *prometheus.Metrics) kafka.Handler {
	return func(_ context.Context, event common.EventMessage) error {
		metrics.EventsConsumedTotal.WithLabelValues(event.Kind).Inc()

		fields := []logging.Field{
			logging.String("kind", event.Kind),
			logging.String("session_id", string(event.SessionID)),
		}
		if event.Filename != "" {
			fields = append(fields, logging.String("filename", event.Filename))
		}
		if len(event.Payload) > 0 {
			var payload map[string]interface{}
			if err := json.Unmarshal(event.Payload, &payload); err == nil {
				fields = append(fields, logging.Any("payload", payload))
			}
		}

		switch event.Kind {
		case kafka.EventFileFailed:
			logger.Warn("file processing failed", fields...)
		case kafka.EventSessionAwaitingReview:
			logger.Warn("session awaiting admin review", fields...)
		case kafka.EventSessionTerminal:
			logger.Info("session finished", fields...)
		default:
			logger.Info("ingest event", fields...)
		}
		return nil
	}
}
