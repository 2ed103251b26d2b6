package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"sorastudio/internal/domain"
	"sorastudio/internal/infra"
	"sorastudio/internal/poller"
	"sorastudio/internal/providers/video"
	"sorastudio/internal/storage"
)

const (
	defaultConcurrency = 4
	pendingPageSize    = 100
)

// videoAPI is the part of the video client the archiver drives.
type videoAPI interface {
	poller.Source
	Create(ctx context.Context, req video.CreateRequest) (*domain.Job, error)
	Remix(ctx context.Context, id, prompt string) (*domain.Job, error)
	List(ctx context.Context, params video.ListParams) (*domain.JobList, error)
}

type jobWorker struct {
	ctx         context.Context
	api         videoAPI
	poller      *poller.Poller
	store       *storage.FileStore
	logger      infra.Logger
	concurrency int
}

type outcome struct {
	JobID  string
	State  poller.State
	Keys   []string
	Err    error
	Reused bool
}

func main() {
	var (
		promptFlag      string
		modelFlag       string
		sizeFlag        string
		secondsFlag     string
		remixFlag       string
		pendingFlag     bool
		concurrencyFlag int
	)
	flag.StringVar(&promptFlag, "prompt", "", "create a new job with this prompt before archiving")
	flag.StringVar(&modelFlag, "model", domain.DefaultModel, "model for -prompt (sora-2, sora-2-pro)")
	flag.StringVar(&sizeFlag, "size", domain.DefaultSize, "resolution for -prompt")
	flag.StringVar(&secondsFlag, "seconds", domain.DefaultSeconds, "duration for -prompt")
	flag.StringVar(&remixFlag, "remix", "", "remix this completed job with -prompt instead of creating one")
	flag.BoolVar(&pendingFlag, "pending", false, "also archive every unfinished or completed job on the first list page")
	flag.IntVar(&concurrencyFlag, "concurrency", defaultConcurrency, "maximum jobs tracked at once")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		exitWithError(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("cmd", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := infra.InitTracing(ctx, cfg, "sorastudio-worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: tracing setup failed")
	}
	defer func() {
		_ = shutdownTracing(context.Background())
	}()

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	fileStore, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
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
		logger.Fatal().Err(err).Msg("worker: failed to configure video client")
	}

	worker := newJobWorker(ctx, client, fileStore, logger, poller.Options{
		Interval:         cfg.PollInterval,
		MaxAttempts:      cfg.PollMaxAttempts,
		TransientRetries: cfg.PollTransientRetries,
	}, concurrencyFlag)

	ids := append([]string(nil), flag.Args()...)
	if prompt := strings.TrimSpace(promptFlag); prompt != "" {
		id, err := worker.submit(prompt, strings.TrimSpace(remixFlag), video.CreateRequest{
			Prompt:  prompt,
			Model:   modelFlag,
			Size:    sizeFlag,
			Seconds: secondsFlag,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: submit failed")
		}
		ids = append(ids, id)
	} else if remixFlag != "" {
		exitWithError(errors.New("-remix requires -prompt"))
	}
	if pendingFlag {
		pending, err := worker.pending()
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: list failed")
		}
		ids = append(ids, pending...)
	}
	if len(ids) == 0 {
		exitWithError(errors.New("nothing to archive: pass job ids, -prompt or -pending"))
	}

	failed := 0
	for _, res := range worker.Run(ids) {
		if res.Err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s\t%s\t%v\n", res.JobID, res.State, res.Err)
			continue
		}
		fmt.Printf("%s\t%s\t%s\n", res.JobID, res.State, strings.Join(res.Keys, ","))
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func newJobWorker(ctx context.Context, api videoAPI, store *storage.FileStore, logger infra.Logger, opts poller.Options, concurrency int) *jobWorker {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	opts.Logger = &logger
	return &jobWorker{
		ctx:         ctx,
		api:         api,
		poller:      poller.New(api, opts),
		store:       store,
		logger:      logger,
		concurrency: concurrency,
	}
}

// submit creates a job, or remixes remixOf when set, and returns its id.
func (w *jobWorker) submit(prompt, remixOf string, req video.CreateRequest) (string, error) {
	if remixOf != "" {
		job, err := w.api.Remix(w.ctx, remixOf, prompt)
		if err != nil {
			return "", fmt.Errorf("remix %s: %w", remixOf, err)
		}
		w.logger.Info().Str("job_id", job.ID).Str("source_id", remixOf).Msg("worker: remix submitted")
		return job.ID, nil
	}
	if !domain.ValidModel(req.Model) || !domain.ValidSize(req.Size) || !domain.ValidSeconds(req.Seconds) {
		return "", fmt.Errorf("%w: model %q size %q seconds %q", domain.ErrInvalidInput, req.Model, req.Size, req.Seconds)
	}
	job, err := w.api.Create(w.ctx, req)
	if err != nil {
		return "", fmt.Errorf("create: %w", err)
	}
	w.logger.Info().Str("job_id", job.ID).Str("model", job.Model).Msg("worker: job submitted")
	return job.ID, nil
}

// pending lists the first page of jobs and returns those that have not
// failed.
func (w *jobWorker) pending() ([]string, error) {
	page, err := w.api.List(w.ctx, video.ListParams{Limit: pendingPageSize, Order: domain.OrderDesc})
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, job := range page.Data {
		if job.Status == domain.StatusFailed {
			continue
		}
		ids = append(ids, job.ID)
	}
	return ids, nil
}

// Run tracks every id concurrently, at most w.concurrency at a time, and
// returns one outcome per distinct id in input order.
func (w *jobWorker) Run(ids []string) []outcome {
	seen := make(map[string]struct{}, len(ids))
	var unique []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	results := make([]outcome, len(unique))
	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup
	for i, id := range unique {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-w.ctx.Done():
				results[i] = outcome{JobID: id, State: poller.StateCancelled, Err: w.ctx.Err()}
				return
			}
			defer func() { <-sem }()
			results[i] = w.handleJob(id)
		}(i, id)
	}
	wg.Wait()
	return results
}

func (w *jobWorker) handleJob(id string) outcome {
	probe := &domain.Asset{JobID: id, Variant: domain.VariantVideo}
	if key := storage.AssetKey(probe); w.store.Exists(key) {
		w.logger.Info().Str("job_id", id).Str("key", key).Msg("worker: already archived")
		return outcome{JobID: id, State: poller.StateCompleted, Keys: []string{key}, Reused: true}
	}

	w.logger.Info().Str("job_id", id).Msg("worker: tracking job")
	res, err := w.poller.Watch(w.ctx, id, func(u poller.Update) {
		event := w.logger.Debug().Str("job_id", id).Int("attempt", u.Attempt).Str("state", string(u.State))
		if running, ok := u.Snapshot.(domain.Running); ok && running.Progress != nil {
			event = event.Int("progress", *running.Progress)
		}
		event.Msg("worker: status")
	})
	if err != nil {
		return outcome{JobID: id, State: poller.StateCancelled, Err: err}
	}
	if res.State != poller.StateCompleted {
		w.logger.Error().Err(res.Err()).Str("job_id", id).Str("state", string(res.State)).Msg("worker: job did not complete")
		return outcome{JobID: id, State: res.State, Err: res.Err()}
	}

	out := outcome{JobID: id, State: res.State}
	for _, asset := range []*domain.Asset{res.Video, res.Thumbnail} {
		if asset == nil {
			continue
		}
		key, err := w.store.Write(w.ctx, storage.AssetKey(asset), asset.Data)
		if err != nil {
			if asset.Variant == domain.VariantVideo {
				out.Err = fmt.Errorf("persist %s: %w", asset.Variant, err)
				return out
			}
			w.logger.Warn().Err(err).Str("job_id", id).Str("variant", string(asset.Variant)).Msg("worker: persist asset failed")
			continue
		}
		out.Keys = append(out.Keys, key)
	}
	w.logger.Info().Str("job_id", id).Strs("keys", out.Keys).Int("attempts", res.Attempts).Msg("worker: archived")
	return out
}

func exitWithError(err error) {
	fmt.Fprintf(os.Stderr, "worker: %v\n", err)
	os.Exit(1)
}
