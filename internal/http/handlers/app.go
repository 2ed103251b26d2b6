package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"sorastudio/internal/domain"
	"sorastudio/internal/infra"
	"sorastudio/internal/middleware"
	"sorastudio/internal/providers/video"
)

// VideoService is the upstream surface the handlers forward to.
type VideoService interface {
	Create(ctx context.Context, req video.CreateRequest) (*domain.Job, error)
	Retrieve(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context, params video.ListParams) (*domain.JobList, error)
	Delete(ctx context.Context, id string) error
	Download(ctx context.Context, id string, variant domain.Variant) (*domain.Asset, error)
	Remix(ctx context.Context, id, prompt string) (*domain.Job, error)
}

type App struct {
	Config *infra.Config
	Logger zerolog.Logger
	Videos VideoService
}

func NewApp(cfg *infra.Config, logger zerolog.Logger, videos VideoService) *App {
	return &App{Config: cfg, Logger: logger, Videos: videos}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, message string) {
	a.json(w, code, map[string]string{"error": message})
}

// fail writes a validation error in the request locale.
func (a *App) fail(w http.ResponseWriter, r *http.Request, code int, key string) {
	a.error(w, code, localize(r.Context(), key))
}

// upstreamError relays a provider failure. Provider 4xx answers keep their
// status; provider 5xx and transport failures become 502; anything raised
// locally is a 500. The provider's own message wins over the fallback.
func (a *App) upstreamError(w http.ResponseWriter, r *http.Request, op string, err error, fallbackKey string) {
	status := http.StatusInternalServerError
	var apiErr *video.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
		status = apiErr.StatusCode
	case errors.As(err, &apiErr), video.IsTransient(err), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusBadGateway
	}

	event := a.Logger.Warn()
	if status >= 500 {
		event = a.Logger.Error()
	}
	event.Err(err).
		Str("op", op).
		Int("status", status).
		Str("request_id", middleware.RequestIDFromContext(r.Context())).
		Msg("upstream request failed")

	message, ok := video.ProviderMessage(err)
	if !ok {
		message = localize(r.Context(), fallbackKey)
	}
	a.error(w, status, message)
}

func (a *App) maxUploadBytes() int64 {
	if a.Config != nil && a.Config.MaxUploadBytes > 0 {
		return a.Config.MaxUploadBytes
	}
	return defaultMaxUploadBytes
}
