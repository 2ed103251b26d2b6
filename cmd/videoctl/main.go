package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"sorastudio/internal/cli"
	"sorastudio/internal/infra"
	"sorastudio/internal/poller"
	"sorastudio/internal/providers/video"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		return cli.Run(ctx, cli.Env{Out: os.Stdout}, args)
	}

	cfg, err := infra.LoadConfig()
	if err != nil {
		return err
	}

	// The watch view owns the terminal, so client logs only surface on errors.
	logger := infra.NewLogger(cfg.AppEnv).Level(zerolog.ErrorLevel).With().Str("cmd", "videoctl").Logger()
	client, err := video.NewClient(video.Options{
		APIKey:       cfg.OpenAIAPIKey,
		BaseURL:      cfg.OpenAIBaseURL,
		Organization: cfg.OpenAIOrg,
		Project:      cfg.OpenAIProject,
		HTTPClient:   &http.Client{Timeout: cfg.UpstreamTimeout},
		Logger:       &logger,
	})
	if err != nil {
		return err
	}

	return cli.Run(ctx, cli.Env{
		Client: client,
		Out:    os.Stdout,
		Poll: poller.Options{
			Interval:         cfg.PollInterval,
			MaxAttempts:      cfg.PollMaxAttempts,
			TransientRetries: cfg.PollTransientRetries,
			Logger:           &logger,
		},
		Interactive: term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stdin.Fd())),
	}, args)
}
