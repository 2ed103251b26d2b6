package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"sorastudio/internal/domain"
	"sorastudio/internal/poller"
	"sorastudio/internal/providers/video"
	"sorastudio/internal/providers/video/videotest"
)

func instant(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func newTestEnv(t *testing.T) (*videotest.Server, *bytes.Buffer, Env) {
	t.Helper()
	upstream := videotest.NewServer()
	t.Cleanup(upstream.Close)
	client, err := video.NewClient(video.Options{APIKey: videotest.APIKey, BaseURL: upstream.BaseURL()})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	out := &bytes.Buffer{}
	return upstream, out, Env{
		Client: client,
		Out:    out,
		Poll:   poller.Options{After: instant, MaxAttempts: 5},
	}
}

func TestRunUnknownCommand(t *testing.T) {
	out := &bytes.Buffer{}
	if err := Run(context.Background(), Env{Out: out}, []string{"render"}); err == nil {
		t.Fatal("expected error for unknown command")
	}
	if !strings.Contains(out.String(), "Commands:") {
		t.Fatalf("usage not printed: %q", out.String())
	}
}

func TestCreateWatchTimesOut(t *testing.T) {
	upstream, out, env := newTestEnv(t)
	dir := t.TempDir()

	err := Run(context.Background(), env, []string{"create", "--size", "720x1280", "--seconds", "4", "--watch", "-o", dir, "a", "lighthouse", "at", "night"})
	// The fake never advances an unscripted job, so the watch runs out of checks.
	if !errors.Is(err, domain.ErrTimedOut) {
		t.Fatalf("error = %v, want ErrTimedOut\n%s", err, out.String())
	}

	job, ok := upstream.Job("video_0001")
	if !ok {
		t.Fatalf("job not created, output:\n%s", out.String())
	}
	if job.Prompt != "a lighthouse at night" || job.Size != "720x1280" || job.Seconds != "4" {
		t.Fatalf("unexpected job: %+v", job)
	}

	if !strings.Contains(out.String(), "check 5: queued") || !strings.Contains(out.String(), "timed_out") {
		t.Fatalf("expected timeout line, got:\n%s", out.String())
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Fatalf("nothing should be saved on timeout, found %d entries", len(entries))
	}
}

func TestWatchCompletedSavesAssets(t *testing.T) {
	upstream, out, env := newTestEnv(t)
	upstream.Put(domain.Job{ID: "video_w", Status: domain.StatusQueued})
	upstream.Script("video_w", domain.StatusQueued, domain.StatusRunning, domain.StatusCompleted)
	dir := t.TempDir()

	if err := Run(context.Background(), env, []string{"watch", "-o", dir, "video_w"}); err != nil {
		t.Fatalf("watch returned error: %v\n%s", err, out.String())
	}

	got := out.String()
	for _, want := range []string{"check 1: queued", "check 2: running 50%", "check 3: completed", "completed after 3 checks"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
	data, err := os.ReadFile(filepath.Join(dir, "video_w.mp4"))
	if err != nil || string(data) != "mp4:video_w" {
		t.Fatalf("saved video = %q, %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "video_w.webp")); err != nil {
		t.Fatalf("thumbnail not saved: %v", err)
	}
}

func TestWatchFailedJobReturnsProviderFailure(t *testing.T) {
	upstream, out, env := newTestEnv(t)
	upstream.Put(domain.Job{ID: "video_f", Status: domain.StatusQueued})
	upstream.FailWith("video_f", domain.JobError{Code: "moderation_blocked", Message: "Prompt rejected"})
	upstream.Script("video_f", domain.StatusFailed)

	err := Run(context.Background(), env, []string{"watch", "video_f"})
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("error = %v, want ErrProviderFailure", err)
	}
	if !strings.Contains(out.String(), "failed: Prompt rejected") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "missing prompt", args: []string{"create"}, want: "prompt is required"},
		{name: "bad model", args: []string{"create", "--model", "sora-3", "x"}, want: "unsupported model"},
		{name: "bad size", args: []string{"create", "--size", "1x1", "x"}, want: "unsupported size"},
		{name: "bad seconds", args: []string{"create", "--seconds", "5", "x"}, want: "unsupported seconds"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			upstream, _, env := newTestEnv(t)
			err := Run(context.Background(), env, tc.args)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %v, want %q", err, tc.want)
			}
			if _, ok := upstream.Job("video_0001"); ok {
				t.Fatal("invalid create must not reach the provider")
			}
		})
	}
}

func TestCreateRejectsNonImageReference(t *testing.T) {
	_, _, env := newTestEnv(t)
	ref := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(ref, []byte("plain text"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := Run(context.Background(), env, []string{"create", "--ref", ref, "x"})
	if err == nil || !strings.Contains(err.Error(), "JPEG, PNG or WebP") {
		t.Fatalf("error = %v", err)
	}
}

func TestCreateSendsPNGReference(t *testing.T) {
	upstream, _, env := newTestEnv(t)
	ref := filepath.Join(t.TempDir(), "frame.png")
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	if err := os.WriteFile(ref, png, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Run(context.Background(), env, []string{"create", "--ref", ref, "x"}); err != nil {
		t.Fatalf("create returned error: %v", err)
	}
	if got := upstream.ReferenceType("video_0001"); got != "image/png" {
		t.Fatalf("reference type = %q", got)
	}
}

func TestRemixRefusesUnfinishedSource(t *testing.T) {
	upstream, _, env := newTestEnv(t)
	upstream.Put(domain.Job{ID: "video_q", Status: domain.StatusQueued})

	err := Run(context.Background(), env, []string{"remix", "video_q", "make", "it", "rain"})
	if err == nil || !strings.Contains(err.Error(), "only completed videos can be remixed") {
		t.Fatalf("error = %v", err)
	}
	if _, ok := upstream.Job("video_0002"); ok {
		t.Fatal("remix must not be submitted for an unfinished source")
	}
}

func TestRemixCompletedSource(t *testing.T) {
	upstream, out, env := newTestEnv(t)
	upstream.Put(domain.Job{ID: "video_src", Status: domain.StatusCompleted, Model: "sora-2", Size: "1280x720", Seconds: "8"})

	if err := Run(context.Background(), env, []string{"remix", "video_src", "make", "it", "rain"}); err != nil {
		t.Fatalf("remix returned error: %v", err)
	}
	job, ok := upstream.Job("video_0002")
	if !ok {
		t.Fatalf("remix job missing, output:\n%s", out.String())
	}
	if job.RemixedFromVideoID != "video_src" || job.Prompt != "make it rain" {
		t.Fatalf("unexpected remix job: %+v", job)
	}
	if !strings.Contains(out.String(), "remix of video_src") {
		t.Fatalf("unexpected output: %q", out.String())
	}
	if src, _ := upstream.Job("video_src"); src.Status != domain.StatusCompleted {
		t.Fatalf("source changed: %+v", src)
	}
}

func TestListAndDelete(t *testing.T) {
	upstream, out, env := newTestEnv(t)
	for _, id := range []string{"video_1", "video_2", "video_3"} {
		upstream.Put(domain.Job{ID: id, Status: domain.StatusCompleted, Prompt: "prompt " + id})
	}

	if err := Run(context.Background(), env, []string{"list", "--limit", "2"}); err != nil {
		t.Fatalf("list returned error: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "video_3") || !strings.Contains(got, "video_2") || strings.Contains(got, "prompt video_1") {
		t.Fatalf("unexpected first page:\n%s", got)
	}
	if !strings.Contains(got, "--after video_2") {
		t.Fatalf("missing continuation hint:\n%s", got)
	}

	out.Reset()
	if err := Run(context.Background(), env, []string{"delete", "video_3"}); err != nil {
		t.Fatalf("delete returned error: %v", err)
	}
	if _, ok := upstream.Job("video_3"); ok {
		t.Fatal("video_3 still present after delete")
	}
	if err := Run(context.Background(), env, []string{"delete", "video_3"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second delete error = %v, want ErrNotFound", err)
	}

	if err := Run(context.Background(), env, []string{"list", "--limit", "0"}); err == nil {
		t.Fatal("expected limit validation error")
	}
}

func TestDownloadVariant(t *testing.T) {
	upstream, out, env := newTestEnv(t)
	upstream.Put(domain.Job{ID: "video_d", Status: domain.StatusCompleted})
	dir := t.TempDir()

	if err := Run(context.Background(), env, []string{"download", "--variant", "spritesheet", "-o", dir, "video_d"}); err != nil {
		t.Fatalf("download returned error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "video_d.jpg"))
	if err != nil || string(data) != "jpg:video_d" {
		t.Fatalf("saved spritesheet = %q, %v", data, err)
	}
	if !strings.Contains(out.String(), "video_d.jpg") {
		t.Fatalf("unexpected output: %q", out.String())
	}

	if err := Run(context.Background(), env, []string{"download", "--variant", "poster", "video_d"}); err == nil {
		t.Fatal("expected unsupported variant error")
	}
}

func TestWatchModelTracksUpdates(t *testing.T) {
	upstream, _, env := newTestEnv(t)
	upstream.Put(domain.Job{ID: "video_m", Status: domain.StatusQueued})
	upstream.Script("video_m", domain.StatusRunning, domain.StatusCompleted)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := make(chan poller.Update)
	run := poller.New(env.Client, env.Poll).Start(ctx, "video_m", func(u poller.Update) {
		select {
		case updates <- u:
		case <-ctx.Done():
		}
	})

	var model tea.Model = newWatchModel(run, updates, cancel)
	if !strings.Contains(model.View(), "waiting for first status check") {
		t.Fatalf("unexpected initial view:\n%s", model.View())
	}

	next := waitForUpdate(run, updates)
	for i := 0; i < 5; i++ {
		msg := next()
		var cmd tea.Cmd
		model, cmd = model.Update(msg)
		if _, done := msg.(finishedMsg); done {
			break
		}
		next = cmd
	}

	m := model.(watchModel)
	if m.result == nil || m.result.State != poller.StateCompleted {
		t.Fatalf("result = %+v", m.result)
	}
	if m.percent != 1 {
		t.Fatalf("percent = %v, want 1", m.percent)
	}
	if !strings.Contains(m.View(), "completed after 2 checks") {
		t.Fatalf("unexpected final view:\n%s", m.View())
	}
}

func TestWatchModelQuitCancelsRun(t *testing.T) {
	upstream, _, env := newTestEnv(t)
	upstream.Put(domain.Job{ID: "video_c", Status: domain.StatusQueued})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := make(chan poller.Update)
	env.Poll.After = func(time.Duration) <-chan time.Time { return nil }
	run := poller.New(env.Client, env.Poll).Start(ctx, "video_c", func(u poller.Update) {
		select {
		case updates <- u:
		case <-ctx.Done():
		}
	})

	var model tea.Model = newWatchModel(run, updates, cancel)
	model, _ = model.Update(waitForUpdate(run, updates)())
	model, _ = model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if !strings.Contains(model.View(), "cancelling") {
		t.Fatalf("unexpected view after quit:\n%s", model.View())
	}

	msg := waitForUpdate(run, updates)()
	finished, ok := msg.(finishedMsg)
	if !ok {
		t.Fatalf("expected finishedMsg, got %T", msg)
	}
	if finished.result.State != poller.StateCancelled {
		t.Fatalf("state = %s, want cancelled", finished.result.State)
	}
}
