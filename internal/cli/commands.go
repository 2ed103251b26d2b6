package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"sorastudio/internal/domain"
	"sorastudio/internal/providers/video"
	"sorastudio/internal/storage"
)

const defaultListLimit = 20

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func runCreate(ctx context.Context, env Env, args []string) error {
	fs := newFlagSet("create", env.Out)
	model := fs.String("model", domain.DefaultModel, "model: "+strings.Join(domain.Models, ", "))
	size := fs.String("size", domain.DefaultSize, "resolution: "+strings.Join(domain.Sizes, ", "))
	seconds := fs.String("seconds", domain.DefaultSeconds, "duration: "+strings.Join(domain.Seconds, ", "))
	ref := fs.String("ref", "", "reference image (jpeg, png or webp) for the first frame")
	watch := fs.Bool("watch", false, "follow the job after creating it")
	outDir := fs.String("o", "", "with --watch, save the video and thumbnail into this directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	prompt := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if prompt == "" {
		return errors.New("create: prompt is required")
	}
	if !domain.ValidModel(*model) {
		return fmt.Errorf("create: unsupported model %q", *model)
	}
	if !domain.ValidSize(*size) {
		return fmt.Errorf("create: unsupported size %q", *size)
	}
	if !domain.ValidSeconds(*seconds) {
		return fmt.Errorf("create: unsupported seconds %q", *seconds)
	}

	req := video.CreateRequest{Prompt: prompt, Model: *model, Size: *size, Seconds: *seconds}
	if path := strings.TrimSpace(*ref); path != "" {
		reference, err := loadReference(path)
		if err != nil {
			return fmt.Errorf("create: %w", err)
		}
		req.Reference = reference
	}

	job, err := env.Client.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	printJob(env.Out, job)
	if *watch {
		return watchJob(ctx, env, job.ID, *outDir)
	}
	return nil
}

func runRemix(ctx context.Context, env Env, args []string) error {
	fs := newFlagSet("remix", env.Out)
	watch := fs.Bool("watch", false, "follow the new job after submitting it")
	outDir := fs.String("o", "", "with --watch, save the video and thumbnail into this directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return errors.New("usage: videoctl remix [--watch] <video-id> <prompt>")
	}
	sourceID := strings.TrimSpace(fs.Arg(0))
	prompt := strings.TrimSpace(strings.Join(fs.Args()[1:], " "))
	if sourceID == "" || prompt == "" {
		return errors.New("remix: video id and prompt are required")
	}

	source, err := env.Client.Retrieve(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("remix: load source: %w", err)
	}
	if source.Status != domain.StatusCompleted {
		return fmt.Errorf("remix: %s is %s; only completed videos can be remixed", source.ID, source.Status)
	}

	job, err := env.Client.Remix(ctx, sourceID, prompt)
	if err != nil {
		return fmt.Errorf("remix: %w", err)
	}
	printJob(env.Out, job)
	if *watch {
		return watchJob(ctx, env, job.ID, *outDir)
	}
	return nil
}

func runList(ctx context.Context, env Env, args []string) error {
	fs := newFlagSet("list", env.Out)
	limit := fs.Int("limit", defaultListLimit, "page size (1-100)")
	after := fs.String("after", "", "cursor: list jobs after this id")
	order := fs.String("order", string(domain.OrderDesc), "asc or desc")
	asJSON := fs.Bool("json", false, "print the raw page as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit < 1 || *limit > 100 {
		return fmt.Errorf("list: limit must be between 1 and 100")
	}
	parsedOrder, ok := domain.ParseOrder(*order)
	if !ok {
		return fmt.Errorf("list: unsupported order %q", *order)
	}

	page, err := env.Client.List(ctx, video.ListParams{Limit: *limit, After: strings.TrimSpace(*after), Order: parsedOrder})
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	if *asJSON {
		enc := json.NewEncoder(env.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(page)
	}
	if len(page.Data) == 0 {
		fmt.Fprintln(env.Out, mutedStyle.Render("no videos"))
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers("ID", "STATUS", "PROGRESS", "MODEL", "SIZE", "SECONDS", "PROMPT")
	for _, job := range page.Data {
		t.Row(job.ID, string(job.Status), progressLabel(job.Progress), job.Model, job.Size, job.Seconds, truncate(job.Prompt, 40))
	}
	fmt.Fprintln(env.Out, t.String())
	if page.HasMore {
		fmt.Fprintln(env.Out, mutedStyle.Render("more: videoctl list --after "+page.LastID))
	}
	return nil
}

func runDelete(ctx context.Context, env Env, args []string) error {
	fs := newFlagSet("delete", env.Out)
	if err := fs.Parse(args); err != nil {
		return err
	}
	id := strings.TrimSpace(fs.Arg(0))
	if id == "" {
		return errors.New("usage: videoctl delete <video-id>")
	}
	if err := env.Client.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	fmt.Fprintf(env.Out, "deleted %s\n", id)
	return nil
}

func runDownload(ctx context.Context, env Env, args []string) error {
	fs := newFlagSet("download", env.Out)
	variantFlag := fs.String("variant", string(domain.VariantVideo), "video, thumbnail or spritesheet")
	outDir := fs.String("o", ".", "directory to save into")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id := strings.TrimSpace(fs.Arg(0))
	if id == "" {
		return errors.New("usage: videoctl download [--variant v] [-o dir] <video-id>")
	}
	variant, ok := domain.ParseVariant(*variantFlag)
	if !ok {
		return fmt.Errorf("download: unsupported variant %q", *variantFlag)
	}

	asset, err := env.Client.Download(ctx, id, variant)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	paths, err := saveAssets(ctx, *outDir, asset)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	fmt.Fprintf(env.Out, "saved %s (%d bytes)\n", paths[0], len(asset.Data))
	return nil
}

// saveAssets writes each non-nil asset under dir using its attachment name
// and returns the written paths.
func saveAssets(ctx context.Context, dir string, assets ...*domain.Asset) ([]string, error) {
	store, err := storage.NewFileStore(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, asset := range assets {
		if asset == nil {
			continue
		}
		key, err := store.Write(ctx, asset.Filename(), asset.Data)
		if err != nil {
			return paths, err
		}
		path, err := store.Path(key)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func loadReference(path string) (*video.Reference, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reference: %w", err)
	}
	contentType, ok := domain.CanonicalReferenceType(http.DetectContentType(data))
	if !ok {
		return nil, fmt.Errorf("reference %s must be a JPEG, PNG or WebP image", filepath.Base(path))
	}
	return &video.Reference{Filename: filepath.Base(path), ContentType: contentType, Data: data}, nil
}

func printJob(w io.Writer, job *domain.Job) {
	line := fmt.Sprintf("%s  %s  %s %s %ss", job.ID, job.Status, job.Model, job.Size, job.Seconds)
	if job.RemixedFromVideoID != "" {
		line += "  remix of " + job.RemixedFromVideoID
	}
	fmt.Fprintln(w, line)
}

func progressLabel(p *int) string {
	if p == nil {
		return "-"
	}
	return strconv.Itoa(*p) + "%"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
