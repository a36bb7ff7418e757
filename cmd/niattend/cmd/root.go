package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/djahasiel101600/nia-attendance/config"
	"github.com/djahasiel101600/nia-attendance/store"
	boltstore "github.com/djahasiel101600/nia-attendance/store/bolt"
)

var (
	cfgPath string
	dataDir string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "niattend",
	Short: "niattend is a client for the NIA attendance system",
	Long: `A headless client for the NIA attendance web application: log in,
fetch attendance records, and watch for new records in real time.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to TOML config file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory for persistent data")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// newLogger builds the process logger honoring --verbose.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig() (config.Config, error) {
	return config.Load(cfgPath)
}

func stateDir() (string, error) {
	if dataDir != "" {
		return dataDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", "niattend"), nil
}

// openStore opens the durable credential store under the state directory
// and scrubs legacy entries that must not persist.
func openStore() (*boltstore.Store, error) {
	dir, err := stateDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	st, err := boltstore.NewStoreFromFile(filepath.Join(dir, "credentials.db"), nil)
	if err != nil {
		return nil, fmt.Errorf("opening credential store: %w", err)
	}
	if err := store.Scrub(st); err != nil {
		st.Close()
		return nil, fmt.Errorf("scrubbing credential store: %w", err)
	}
	return st, nil
}
