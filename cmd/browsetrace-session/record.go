package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vincentbai/browsetrace-session/internal/browser"
	"github.com/vincentbai/browsetrace-session/internal/control"
	"github.com/vincentbai/browsetrace-session/internal/recorder"
	"github.com/vincentbai/browsetrace-session/internal/store"
)

var (
	recordStartURL    string
	recordName        string
	recordHeadless    bool
	recordDevtools    bool
	recordControlAddr string
)

var recordCmd = &cobra.Command{
	Use:   "record <output.json>",
	Short: "Capture a browser session to a JSON recording",
	Long:  "Opens a browser at the start URL and records every interaction until the last tab closes or the process is interrupted. A localhost control channel adjusts network throttling while recording.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecord(args[0])
	},
}

func init() {
	recordCmd.Flags().StringVar(&recordStartURL, "url", envOr("BROWSETRACE_START_URL", "about:blank"), "start URL for the first tab")
	recordCmd.Flags().StringVar(&recordName, "name", "", "human-readable recording name")
	recordCmd.Flags().BoolVar(&recordHeadless, "headless", false, "run the browser without a window")
	recordCmd.Flags().BoolVar(&recordDevtools, "devtools", false, "open devtools in the recorded browser")
	recordCmd.Flags().StringVar(&recordControlAddr, "control-addr", envOr("BROWSETRACE_CONTROL_ADDRESS", "127.0.0.1:8123"), "address for the network control channel")
}

func runRecord(outputPath string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := browser.DefaultOptions()
	opts.Headless = recordHeadless
	opts.Devtools = recordDevtools

	b, err := browser.Launch(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Printf("Failed to close browser: %v", err)
		}
	}()

	session := recorder.NewSession(recordName)
	if err := session.Run(ctx, b, recordStartURL); err != nil {
		return fmt.Errorf("failed to start capture: %w", err)
	}

	ctrl := control.NewServer(session, recordControlAddr)
	ctrl.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ctrl.Shutdown(shutdownCtx); err != nil {
			log.Printf("%v", err)
		}
	}()

	log.Printf("Recording. Close the last tab or press Ctrl-C to finish.")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	select {
	case <-session.Done():
		log.Println("Last tab closed, finishing recording")
	case <-interrupt:
		log.Println("Interrupted, finishing recording")
	}

	rec := session.Stop()

	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := store.Save(outputPath, rec); err != nil {
		return err
	}
	catalog(rec, outputPath)

	log.Printf("Saved %d events to %s", len(rec.Events), outputPath)
	return nil
}
