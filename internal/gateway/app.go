package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"restyle/internal/batch"
	"restyle/internal/domain"
	"restyle/internal/infra"
	"restyle/internal/progress"
)

// App groups the handlers with their dependencies.
type App struct {
	svc    *JobService
	coord  *batch.Coordinator
	hub    *progress.Hub
	logger infra.Logger
}

// NewApp wires the handler set.
func NewApp(svc *JobService, coord *batch.Coordinator, hub *progress.Hub, logger infra.Logger) *App {
	return &App{svc: svc, coord: coord, hub: hub, logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// fail maps domain errors onto HTTP statuses. Anything unmapped is a 500
// with a generic body; details stay in the log.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrUnknownTier):
		a.json(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrQuotaExceeded):
		a.json(w, http.StatusForbidden, errorBody{Error: "monthly generation limit reached"})
	case errors.Is(err, domain.ErrNotFound):
		a.json(w, http.StatusNotFound, errorBody{Error: "not found"})
	case errors.Is(err, domain.ErrUnauthorized):
		a.json(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
	default:
		a.logger.Error().Err(err).Str("path", r.URL.Path).Msg("gateway: internal error")
		a.json(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
