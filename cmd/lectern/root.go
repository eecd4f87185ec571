package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lectern-audio/lectern/version"
)

var (
	cfgFile string
	homeDir string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "lectern",
	Short: "Document narration with LLM-powered page extraction and TTS",
	Long: `Lectern turns documents into narrated audio with per-word timing.

Pages are rastered, cleaned into narrative text by a vision model, voiced
by a TTS provider, and paired with reconstructed sentence and word
timestamps. Extraction and synthesis run in parallel worker pools that
prioritize pages near the reader's position.`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.lectern/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "lectern home directory (default: ~/.lectern)",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose, "verbose", "v", false, "enable debug logging",
	)

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})))
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(narrateCmd)
}
