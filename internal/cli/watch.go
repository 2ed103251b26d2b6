package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"sorastudio/internal/domain"
	"sorastudio/internal/poller"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

const maxBarWidth = 60

func runWatch(ctx context.Context, env Env, args []string) error {
	fs := newFlagSet("watch", env.Out)
	outDir := fs.String("o", "", "save the video and thumbnail into this directory on completion")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id := strings.TrimSpace(fs.Arg(0))
	if id == "" {
		return errors.New("usage: videoctl watch [-o dir] <video-id>")
	}
	return watchJob(ctx, env, id, *outDir)
}

// watchJob tracks id to a terminal state and optionally saves the assets.
// The returned error is the run's failure, if any.
func watchJob(ctx context.Context, env Env, id, outDir string) error {
	p := poller.New(env.Client, env.Poll)

	var (
		res poller.Result
		err error
	)
	if env.Interactive {
		res, err = watchInteractive(ctx, p, id)
	} else {
		res, err = p.Watch(ctx, id, func(u poller.Update) {
			fmt.Fprintln(env.Out, describeUpdate(u))
		})
	}
	if err != nil {
		return err
	}

	if !env.Interactive {
		fmt.Fprintln(env.Out, describeResult(res))
	}
	if res.State == poller.StateCompleted && outDir != "" {
		paths, err := saveAssets(ctx, outDir, res.Video, res.Thumbnail)
		for _, path := range paths {
			fmt.Fprintf(env.Out, "saved %s\n", path)
		}
		if err != nil {
			return fmt.Errorf("save assets: %w", err)
		}
	}
	return res.Err()
}

func watchInteractive(ctx context.Context, p *poller.Poller, id string) (poller.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates := make(chan poller.Update)
	run := p.Start(ctx, id, func(u poller.Update) {
		select {
		case updates <- u:
		case <-ctx.Done():
		}
	})

	if _, err := tea.NewProgram(newWatchModel(run, updates, cancel)).Run(); err != nil {
		cancel()
		<-run.Done()
		return poller.Result{}, err
	}
	return run.Wait(context.Background())
}

type updateMsg poller.Update

type finishedMsg struct {
	result poller.Result
}

// watchModel renders one poller run. Updates arrive over an unbuffered
// channel, so every update is delivered before the run reports done.
type watchModel struct {
	run     *poller.Run
	updates <-chan poller.Update
	cancel  context.CancelFunc

	spinner  spinner.Model
	bar      progress.Model
	percent  float64
	last     *poller.Update
	result   *poller.Result
	stopping bool
}

func newWatchModel(run *poller.Run, updates <-chan poller.Update, cancel context.CancelFunc) watchModel {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = maxBarWidth
	return watchModel{
		run:     run,
		updates: updates,
		cancel:  cancel,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(titleStyle)),
		bar:     bar,
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForUpdate(m.run, m.updates))
}

func waitForUpdate(run *poller.Run, updates <-chan poller.Update) tea.Cmd {
	return func() tea.Msg {
		select {
		case u := <-updates:
			return updateMsg(u)
		case <-run.Done():
			return finishedMsg{result: run.Result()}
		}
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = min(maxBarWidth, max(10, msg.Width-4))
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			if !m.stopping {
				m.stopping = true
				m.run.Cancel()
				m.cancel()
			}
		}
		return m, nil
	case spinner.TickMsg:
		if m.result != nil {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case updateMsg:
		u := poller.Update(msg)
		m.last = &u
		switch s := u.Snapshot.(type) {
		case domain.Running:
			if s.Progress != nil {
				m.percent = float64(*s.Progress) / 100
			}
		case domain.Completed:
			m.percent = 1
		}
		return m, waitForUpdate(m.run, m.updates)
	case finishedMsg:
		res := msg.result
		m.result = &res
		if res.State == poller.StateCompleted {
			m.percent = 1
		}
		return m, tea.Quit
	}
	return m, nil
}

func (m watchModel) View() string {
	header := titleStyle.Render("Watching " + m.run.JobID())

	var status string
	switch {
	case m.result != nil:
		status = renderResult(*m.result)
	case m.stopping:
		status = mutedStyle.Render("cancelling...")
	case m.last == nil:
		status = m.spinner.View() + " waiting for first status check"
	default:
		status = m.spinner.View() + " " + describeUpdate(*m.last)
	}

	body := lipgloss.JoinVertical(lipgloss.Left, status, m.bar.ViewAs(m.percent))
	hint := mutedStyle.Render("q to stop watching")
	if m.result != nil {
		hint = ""
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, panelStyle.Render(body), hint) + "\n"
}

func renderResult(res poller.Result) string {
	line := describeResult(res)
	if res.State == poller.StateCompleted {
		return okStyle.Render(line)
	}
	return errorStyle.Render(line)
}

func describeUpdate(u poller.Update) string {
	switch s := u.Snapshot.(type) {
	case domain.Running:
		return fmt.Sprintf("check %d: running %s", u.Attempt, progressLabel(s.Progress))
	case domain.Failed:
		return fmt.Sprintf("check %d: failed: %s", u.Attempt, s.Error.Message)
	default:
		return fmt.Sprintf("check %d: %s", u.Attempt, u.State)
	}
}

func describeResult(res poller.Result) string {
	switch res.State {
	case poller.StateCompleted:
		line := fmt.Sprintf("completed after %d checks", res.Attempts)
		if res.Thumbnail == nil {
			line += " (no thumbnail)"
		}
		return line
	default:
		msg := ""
		if res.Failure != nil {
			msg = res.Failure.Message
		}
		return fmt.Sprintf("%s: %s", res.State, msg)
	}
}
