package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"sorastudio/internal/http/handlers"
	httpapi "sorastudio/internal/http/httpapi"
	"sorastudio/internal/infra"
	"sorastudio/internal/infra/geoip"
	"sorastudio/internal/providers/video"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	shutdownTracing, err := infra.InitTracing(ctx, cfg, "sorastudio-api")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise tracing")
	}

	client, err := video.NewClient(video.Options{
		APIKey:       cfg.OpenAIAPIKey,
		BaseURL:      cfg.OpenAIBaseURL,
		Organization: cfg.OpenAIOrg,
		Project:      cfg.OpenAIProject,
		HTTPClient:   &http.Client{Timeout: cfg.UpstreamTimeout},
		Logger:       &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure video client")
	}

	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}
	defer func() {
		_ = resolver.Close()
	}()

	app := handlers.NewApp(cfg, logger, client)
	router := httpapi.NewRouter(app, httpapi.OptionsFromConfig(cfg, logger, resolver.Lookup()))
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("addr", server.Addr()).Str("upstream", cfg.OpenAIBaseURL).Msg("API listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to flush traces")
	}
	logger.Info().Msg("server stopped")
}
