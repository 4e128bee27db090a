// Command bookcast converts EPUB, PDF and plain-text documents into
// audiobooks. It runs the HTTP service and offers offline commands for
// inspecting and converting single files.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/unalkalkan/bookcast/internal/config"
	"github.com/unalkalkan/bookcast/internal/logger"
	"github.com/unalkalkan/bookcast/pkg/types"
)

var version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "bookcast",
		Short:        "Convert documents into audiobooks",
		Version:      version,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file (defaults plus BC_* environment when empty)")

	root.AddCommand(
		newServeCmd(),
		newChaptersCmd(),
		newChunksCmd(),
		newConvertCmd(),
	)
	return root
}

// loadConfig reads the --config file and builds the logger it describes.
// Logs go to the command's stderr so output stays clean on stdout.
func loadConfig(cmd *cobra.Command) (*types.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{
		Writer:      cmd.ErrOrStderr(),
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Environment: cfg.Log.Environment,
	})
	return cfg, log, nil
}
