// Package triggerservice assembles the HTTP surface and the Pub/Sub pipeline
// that drive trigger dispatch.
package triggerservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-notification-trigger/internal/api"
	"github.com/tinywideclouds/go-notification-trigger/internal/pipeline"
	"github.com/tinywideclouds/go-notification-trigger/triggerservice/config"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[pipeline.TriggerEvent]
	logger          *slog.Logger
}

// New assembles the service around a dispatcher. The same dispatcher serves
// the event pipeline and the manual re-dispatch endpoint.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	dispatcher pipeline.TriggerDispatcher,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	collection := cfg.TriggersCollection
	if collection == "" {
		collection = config.DefaultTriggersCollection
	}

	// 2. Pipeline
	streamingService, err := messagepipeline.NewStreamingService[pipeline.TriggerEvent](
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		consumer,
		pipeline.NewTriggerEventTransformer(collection),
		pipeline.NewProcessor(dispatcher, logger),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	// 3. API (manual re-dispatch)
	triggerAPI := api.NewTriggerAPI(dispatcher, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	dispatchHandler := http.HandlerFunc(triggerAPI.Dispatch)
	mux.Handle("POST /api/v1/triggers/{triggerId}/dispatch", corsMiddleware(authMiddleware(dispatchHandler)))

	mux.Handle("GET /metrics", promhttp.Handler())

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Core processing pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Processing pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
