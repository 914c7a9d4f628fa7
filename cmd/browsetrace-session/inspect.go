package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vincentbai/browsetrace-session/internal/store"
)

var (
	inspectEvents bool
	inspectSchema bool
	inspectSample int
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <recording.json>",
	Short: "Summarize a recording without replaying it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(args[0])
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectEvents, "events", false, "print every event")
	inspectCmd.Flags().BoolVar(&inspectSchema, "schema", false, "print event counts by type")
	inspectCmd.Flags().IntVar(&inspectSample, "sample", 0, "print the first n events")
}

func runInspect(path string) error {
	rec, err := store.Load(path)
	if err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat recording: %w", err)
	}

	name := rec.Metadata.Name
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Printf("%s\n", name)
	fmt.Printf("  recorded:  %s (%s, %s)\n", rec.Metadata.RecordedAt, rec.Metadata.Browser, rec.Metadata.Platform)
	fmt.Printf("  duration:  %s\n", time.Duration(rec.Metadata.Duration)*time.Millisecond)
	fmt.Printf("  events:    %d\n", len(rec.Events))
	fmt.Printf("  file size: %s\n", humanize.Bytes(uint64(info.Size())))

	if inspectSchema {
		counts := make(map[string]int)
		for _, e := range rec.Events {
			counts[e.Type]++
		}
		types := make([]string, 0, len(counts))
		for t := range counts {
			types = append(types, t)
		}
		sort.Strings(types)
		fmt.Println()
		for _, t := range types {
			fmt.Printf("  %-28s %d\n", t, counts[t])
		}
	}

	limit := len(rec.Events)
	switch {
	case inspectEvents:
	case inspectSample > 0:
		if inspectSample < limit {
			limit = inspectSample
		}
	default:
		return nil
	}

	fmt.Println()
	for i, e := range rec.Events[:limit] {
		offset := time.Duration(e.Timestamp-rec.StartTime) * time.Millisecond
		line := fmt.Sprintf("  %4d  +%-10s %-24s", i, offset, e.Type)
		if e.PageURL != "" {
			line += " " + e.PageURL
		}
		if len(e.Data) > 0 {
			if raw, err := json.Marshal(e.Data); err == nil {
				line += " " + string(raw)
			}
		}
		fmt.Println(line)
	}
	return nil
}
