package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/unalkalkan/bookcast/internal/audio"
	"github.com/unalkalkan/bookcast/internal/conversion"
	"github.com/unalkalkan/bookcast/internal/document"
	"github.com/unalkalkan/bookcast/internal/storage"
	"github.com/unalkalkan/bookcast/internal/util"
	"github.com/unalkalkan/bookcast/pkg/types"
)

const progressInterval = time.Second

type convertOptions struct {
	provider  string
	voice     string
	language  string
	rate      float64
	title     string
	out       string
	workspace string
}

func newConvertCmd() *cobra.Command {
	var opts convertOptions

	cmd := &cobra.Command{
		Use:   "convert FILE",
		Short: "Convert a document into a single MP3 file",
		Long: `Convert imports FILE into a local workspace, synthesizes it with the
chosen provider and writes the assembled MP3 to --out.

Without --workspace a temporary directory is used and removed afterwards.
Pass a workspace to keep the stored document, its chunk audio and the
audio cache between runs.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.provider, "provider", "", "TTS provider name (defaults to the first configured)")
	cmd.Flags().StringVar(&opts.voice, "voice", "", "Voice ID (defaults to the provider's default voice)")
	cmd.Flags().StringVar(&opts.language, "language", "", "Language code passed to the provider")
	cmd.Flags().Float64Var(&opts.rate, "rate", 0, "Speaking rate between 0.25 and 4")
	cmd.Flags().StringVar(&opts.title, "title", "", "Title to record instead of the detected one")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Output MP3 path (defaults to FILE with an .mp3 extension)")
	cmd.Flags().StringVar(&opts.workspace, "workspace", "", "Directory holding storage, history and cache")
	return cmd
}

func runConvert(cmd *cobra.Command, path string, opts convertOptions) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	workspace := opts.workspace
	if workspace == "" {
		workspace, err = os.MkdirTemp("", "bookcast-convert-*")
		if err != nil {
			return fmt.Errorf("failed to create workspace: %w", err)
		}
		defer os.RemoveAll(workspace)
		cfg.History.Path = ":memory:"
		cfg.Cache.Path = ""
	} else {
		if workspace, err = filepath.Abs(workspace); err != nil {
			return err
		}
		cfg.History.Path = filepath.Join(workspace, "history.db")
		cfg.Cache.Path = filepath.Join(workspace, "cache-index")
	}
	cfg.Storage = types.StorageConfig{
		Adapter: "local",
		Local:   types.LocalStorageOpts{BasePath: filepath.Join(workspace, "storage")},
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()
	a.conversions.Start(context.WithoutCancel(ctx))

	providerName := opts.provider
	if providerName == "" {
		names := a.registry.List()
		if len(names) == 0 {
			return fmt.Errorf("no TTS providers configured")
		}
		providerName = names[0]
	}

	ex, err := a.importer.Import(ctx, filepath.Base(path), data, document.Metadata{
		Title:    opts.title,
		Language: opts.language,
	})
	if err != nil {
		return err
	}
	log.Info("document imported",
		"document_id", ex.Document.ID,
		"chapters", len(ex.Chapters),
		"chars", ex.Document.TotalChars,
	)

	job, err := a.conversions.Submit(ctx, types.ConversionRequest{
		DocumentID:   ex.Document.ID,
		Provider:     providerName,
		VoiceID:      opts.voice,
		Language:     opts.language,
		SpeakingRate: opts.rate,
	})
	if err != nil {
		return err
	}

	view, err := waitWithProgress(cmd, a, job)
	if err != nil {
		return err
	}
	if view.Status != types.JobCompleted {
		return fmt.Errorf("conversion %s: %s", view.Status, view.Error)
	}

	mp3, err := storage.GetBytes(ctx, a.store, util.FullAudioKey(job.ID))
	if err != nil {
		return fmt.Errorf("failed to read output: %w", err)
	}

	out := opts.out
	if out == "" {
		out = strings.TrimSuffix(path, filepath.Ext(path)) + ".mp3"
	}
	if err := os.WriteFile(out, mp3, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d chapters, %d chunks, %s)\n",
		out, len(view.ChapterOutputs), view.TotalChunks, audio.Duration(mp3).Round(time.Second))
	return nil
}

// waitWithProgress reports job progress on stderr until the job ends. An
// interrupt cancels the job and waits for it to stop.
func waitWithProgress(cmd *cobra.Command, a *app, job *conversion.Job) (conversion.JobView, error) {
	ctx := cmd.Context()
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	stderr := cmd.ErrOrStderr()
	for {
		select {
		case <-job.Done():
			fmt.Fprintln(stderr)
			return job.View(), nil
		case <-ticker.C:
			p := job.Progress()
			fmt.Fprintf(stderr, "\r%5.1f%%  %-12s %d/%d chunks", p.Percent, p.Stage, p.ChunksDone, p.ChunksTotal)
		case <-ctx.Done():
			fmt.Fprintln(stderr)
			_ = a.conversions.Cancel(context.WithoutCancel(ctx), job.ID)
			<-job.Done()
			return job.View(), ctx.Err()
		}
	}
}
