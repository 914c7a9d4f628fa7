package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/vincentbai/browsetrace-session/internal/replay"
	"github.com/vincentbai/browsetrace-session/internal/store"
)

var (
	replaySpeed      float64
	replayBaseURL    string
	replayInstrument string
	replayHeadless   bool
	replayDevtools   bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <recording.json>",
	Short: "Replay a recorded session against a fresh browser",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReplay(args[0])
	},
}

func init() {
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1.0, "playback speed multiplier (0.5 to 3)")
	replayCmd.Flags().StringVar(&replayBaseURL, "url", envOr("BROWSETRACE_BASE_URL", ""), "base URL override, e.g. http://localhost:3000")
	replayCmd.Flags().StringVar(&replayInstrument, "instrument", "", "path to an instrumentation script run alongside replay")
	replayCmd.Flags().BoolVar(&replayHeadless, "headless", false, "run the browser without a window")
	replayCmd.Flags().BoolVar(&replayDevtools, "devtools", false, "open devtools in the replayed browser")
}

func runReplay(recordingPath string) error {
	if replaySpeed < 0.5 || replaySpeed > 3 {
		return fmt.Errorf("speed %g out of range: must be between 0.5 and 3", replaySpeed)
	}

	rec, err := store.Load(recordingPath)
	if err != nil {
		return err
	}

	var hookSource string
	if replayInstrument != "" {
		data, err := os.ReadFile(replayInstrument)
		if err != nil {
			return fmt.Errorf("failed to read instrumentation script: %w", err)
		}
		hookSource = string(data)
	}

	engine := replay.New(replay.Options{
		Speed:      replaySpeed,
		BaseURL:    replayBaseURL,
		HookSource: hookSource,
		Headless:   replayHeadless,
		Devtools:   replayDevtools,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(interrupt)
	go func() {
		<-interrupt
		log.Println("Interrupted, stopping after the current event")
		engine.Stop()
	}()

	log.Printf("Replaying %d events from %s at %gx", len(rec.Events), recordingPath, replaySpeed)

	result, err := engine.Run(ctx, rec)
	if err != nil {
		return err
	}

	fmt.Println(renderSummary(result))
	return nil
}

var (
	summaryTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")) // White bold - headers

	summaryDimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // Gray - metadata

	summaryWarnStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("11")) // Yellow - error counts
)

// renderSummary styles the completion report when stdout is a terminal
// and falls back to plain text when piped.
func renderSummary(result *replay.Context) string {
	plain := result.Summary()
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return plain
	}

	lines := strings.SplitN(plain, "\n", 2)
	first := lines[0]
	style := summaryTitleStyle
	if len(result.EventErrors) > 0 || len(result.HookErrors) > 0 {
		style = summaryWarnStyle
	}
	out := style.Render(first)
	if len(lines) > 1 {
		out += "\n" + summaryDimStyle.Render(lines[1])
	}
	return out
}
