package cli

import (
	"context"
	"fmt"
	"io"

	"sorastudio/internal/domain"
	"sorastudio/internal/poller"
	"sorastudio/internal/providers/video"
)

// Client is the subset of the video client videoctl drives.
type Client interface {
	Create(ctx context.Context, req video.CreateRequest) (*domain.Job, error)
	Retrieve(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context, params video.ListParams) (*domain.JobList, error)
	Delete(ctx context.Context, id string) error
	Download(ctx context.Context, id string, variant domain.Variant) (*domain.Asset, error)
	Remix(ctx context.Context, id, prompt string) (*domain.Job, error)
}

// Env carries everything a subcommand needs.
type Env struct {
	Client Client
	Out    io.Writer
	Poll   poller.Options
	// Interactive enables the live watch view. Without it progress is
	// printed one line per status check.
	Interactive bool
}

func Run(ctx context.Context, env Env, args []string) error {
	if len(args) == 0 {
		printRootUsage(env.Out)
		return nil
	}

	switch args[0] {
	case "create":
		return runCreate(ctx, env, args[1:])
	case "remix":
		return runRemix(ctx, env, args[1:])
	case "list":
		return runList(ctx, env, args[1:])
	case "delete":
		return runDelete(ctx, env, args[1:])
	case "download":
		return runDownload(ctx, env, args[1:])
	case "watch":
		return runWatch(ctx, env, args[1:])
	case "help", "-h", "--help":
		printRootUsage(env.Out)
		return nil
	default:
		printRootUsage(env.Out)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printRootUsage(w io.Writer) {
	fmt.Fprintln(w, "videoctl: create and track video generation jobs")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  create    create a job from a prompt (--watch to follow it)")
	fmt.Fprintln(w, "  remix     remix a completed job with a new prompt")
	fmt.Fprintln(w, "  list      list jobs, newest first")
	fmt.Fprintln(w, "  delete    delete a job and its assets")
	fmt.Fprintln(w, "  download  save one variant of a completed job")
	fmt.Fprintln(w, "  watch     follow a job until it completes, fails or times out")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  OPENAI_API_KEY is required; OPENAI_BASE_URL, POLL_INTERVAL_SECONDS and")
	fmt.Fprintln(w, "  POLL_MAX_ATTEMPTS are honoured when set.")
}
