package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/unalkalkan/bookcast/internal/chapters"
	"github.com/unalkalkan/bookcast/internal/chunker"
	"github.com/unalkalkan/bookcast/internal/document"
	"github.com/unalkalkan/bookcast/internal/parser"
)

const (
	defaultChunkChars = 4500
	previewChars      = 60
)

func newChaptersCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "chapters FILE",
		Short: "Detect and list the chapters of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ex, err := extract(cmd, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, ex.Chapters)
			}

			fmt.Fprintf(out, "%s (%s, %d chapters, %d chars)\n\n",
				ex.Document.Title, ex.Document.Format, ex.Document.TotalChapters, ex.Document.TotalChars)
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tID\tTITLE\tDETECTION\tCONFIDENCE\tCHARS")
			for _, ch := range ex.Chapters {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.2f\t%d\n",
					ch.Number, ch.ID, ch.Title, ch.DetectionType, ch.Confidence, ch.CharCount)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print chapters as JSON")
	return cmd
}

func newChunksCmd() *cobra.Command {
	var (
		maxChars int
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "chunks FILE",
		Short: "Split a document into synthesis-sized chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxChars <= 0 {
				return fmt.Errorf("--max must be positive")
			}
			ex, err := extract(cmd, args[0])
			if err != nil {
				return err
			}
			chunks := chunker.New(maxChars).ChunkChapters(ex.Chapters)

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, chunks)
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "INDEX\tCHAPTER\tCHARS\tTEXT")
			for _, c := range chunks {
				fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", c.Index, c.ChapterID, c.CharCount, preview(c.Text))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%d chunks, max %d chars\n", len(chunks), maxChars)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxChars, "max", defaultChunkChars, "Maximum characters per chunk")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print chunks as JSON")
	return cmd
}

// extract parses a local file without touching storage.
func extract(cmd *cobra.Command, path string) (*document.Extraction, error) {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	detector := chapters.NewDetector(chapters.OptionsFromConfig(cfg.Chapters))
	importer := document.NewImporter(nil, parser.NewFactory(), detector, log)
	return importer.Extract(cmd.Context(), filepath.Base(path), data, document.Metadata{})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > previewChars {
		return string(r[:previewChars-3]) + "..."
	}
	return text
}
