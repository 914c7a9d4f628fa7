package main

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recordings known to this machine",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runList()
	},
}

var listHeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("15")) // White bold - headers

func runList() error {
	idx, err := openIndex()
	if err != nil {
		return fmt.Errorf("failed to open recordings catalog: %w", err)
	}
	defer idx.Close()

	entries, err := idx.List()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No recordings yet. Create one with: browsetrace-session record <output.json>")
		return nil
	}

	tty := isatty.IsTerminal(os.Stdout.Fd())
	header := fmt.Sprintf("%-28s %-14s %-10s %7s  %s", "NAME", "RECORDED", "DURATION", "EVENTS", "PATH")
	if tty {
		header = listHeaderStyle.Render(header)
	}
	fmt.Println(header)

	for _, e := range entries {
		started := time.UnixMilli(e.StartedAt)
		fmt.Printf("%-28s %-14s %-10s %7d  %s\n",
			truncate(e.Name, 28),
			humanize.Time(started),
			time.Duration(e.DurationMs)*time.Millisecond,
			e.EventCount,
			e.Path,
		)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
