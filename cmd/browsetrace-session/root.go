package main

import (
	"log"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/vincentbai/browsetrace-session/internal/models"
	"github.com/vincentbai/browsetrace-session/internal/store"
)

var rootCmd = &cobra.Command{
	Use:          "browsetrace-session",
	Short:        "Record browser sessions and replay them",
	Long:         "browsetrace-session captures timestamped interaction events from a live Chromium session, persists them as JSON, and replays them against a fresh browser at a chosen speed with optional instrumentation hooks.",
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(recordCmd, replayCmd, inspectCmd, listCmd)
}

// envOr reads a BROWSETRACE_* environment variable with a fallback, so
// flags keep working in scripted environments without repeating them.
func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// appDataDir returns the platform-specific application data directory,
// creating it if needed.
func appDataDir() (string, error) {
	homeDirectory, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	var applicationDirectory string
	switch runtime.GOOS {
	case "darwin":
		applicationDirectory = filepath.Join(homeDirectory, "Library", "Application Support", "BrowsetraceSession")
	case "windows":
		applicationDirectory = filepath.Join(homeDirectory, "AppData", "Roaming", "BrowsetraceSession")
	default: // linux and others
		applicationDirectory = filepath.Join(homeDirectory, ".local", "share", "BrowsetraceSession")
	}
	if err := os.MkdirAll(applicationDirectory, 0o755); err != nil {
		return "", err
	}
	return applicationDirectory, nil
}

// openIndex opens the recordings catalog in the app data directory.
func openIndex() (*store.Index, error) {
	dir, err := appDataDir()
	if err != nil {
		return nil, err
	}
	return store.OpenIndex(filepath.Join(dir, "recordings.db"))
}

// catalog adds a saved recording to the index, tolerating catalog
// failures: the JSON file is the canonical artifact.
func catalog(rec *models.Recording, path string) {
	idx, err := openIndex()
	if err != nil {
		log.Printf("Skipping catalog update: %v", err)
		return
	}
	defer idx.Close()
	if err := idx.Add(rec, path); err != nil {
		log.Printf("Failed to catalog recording: %v", err)
	}
}
