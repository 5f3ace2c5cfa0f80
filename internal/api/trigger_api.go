package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-notification-trigger/internal/pipeline"
	"github.com/tinywideclouds/go-notification-trigger/pkg/dispatch"
)

type TriggerAPI struct {
	Dispatcher pipeline.TriggerDispatcher
	Logger     *slog.Logger
}

func NewTriggerAPI(dispatcher pipeline.TriggerDispatcher, logger *slog.Logger) *TriggerAPI {
	return &TriggerAPI{
		Dispatcher: dispatcher,
		Logger:     logger,
	}
}

// Dispatch re-runs the dispatcher for one trigger:
// POST /api/v1/triggers/{triggerId}/dispatch
// Settled triggers come back as a skipped result, so retries are harmless.
// A trigger leased by an in-flight delivery is reported as 409.
func (api *TriggerAPI) Dispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := middleware.GetUserIDFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	triggerID := r.PathValue("triggerId")
	if triggerID == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing trigger id")
		return
	}

	result, err := api.Dispatcher.DispatchByID(ctx, triggerID)
	if err != nil {
		if errors.Is(err, dispatch.ErrTriggerNotFound) {
			response.WriteJSONError(w, http.StatusNotFound, "trigger not found")
			return
		}
		api.Logger.Error("Dispatch: failed to load trigger", "trigger_id", triggerID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	if result.Contended {
		response.WriteJSONError(w, http.StatusConflict, "trigger is being dispatched by another delivery")
		return
	}
	api.Logger.Info("Dispatch: manual dispatch", "trigger_id", triggerID, "caller", caller, "success", result.Success, "skipped", result.Skipped)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		api.Logger.Warn("Dispatch: failed to write response", "err", err)
	}
}
