package cli

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/ragchat/internal/config"
	"github.com/nickcecere/ragchat/internal/fs"
	"github.com/nickcecere/ragchat/internal/ingest"
	"github.com/nickcecere/ragchat/internal/ui"
)

var (
	ingestDryRun  bool
	ingestIgnore  []string
	ingestMaxSize int64
)

// ingestCmd uploads PDFs for a user.
var ingestCmd = &cobra.Command{
	Use:   "ingest <file-or-dir>",
	Short: "Upload and index PDFs",
	Long: `Upload a PDF, or every PDF under a directory, for a user.

Each file is extracted page by page, split into overlapping chunks, embedded
and stored in the user's collection. Files whose content the user already
uploaded are skipped. Directories honor .gitignore and the configured ignore
patterns.

Examples:
  # Upload one file
  ragchat ingest --user 1 report.pdf

  # Upload a folder
  ragchat ingest --user 1 ./papers

  # Preview what would be uploaded
  ragchat ingest --user 1 ./papers --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	addUserFlag(ingestCmd)
	ingestCmd.Flags().BoolVarP(&ingestDryRun, "dry-run", "d", false, "list files without uploading")
	ingestCmd.Flags().StringSliceVarP(&ingestIgnore, "ignore", "i", nil, "additional patterns to ignore")
	ingestCmd.Flags().Int64Var(&ingestMaxSize, "max-size", 100<<20, "skip files larger than this many bytes")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	walker, err := fs.NewPDFWalker(fs.WalkOptions{
		Root:           args[0],
		MaxFileSize:    ingestMaxSize,
		IgnorePatterns: append(cfg.Ignore, ingestIgnore...),
		UseGitignore:   true,
	})
	if err != nil {
		return err
	}

	var files []fs.FileInfo
	if err := walker.Walk(func(fi fs.FileInfo) error {
		files = append(files, fi)
		return nil
	}); err != nil {
		return fmt.Errorf("failed to walk %s: %w", args[0], err)
	}
	stats := walker.Stats()

	if ingestDryRun {
		fmt.Println(ui.Header.Render("Dry Run - Preview"))
		for _, f := range files {
			fmt.Printf("  %s (%s)\n", f.RelPath, formatBytes(f.Size))
		}
		fmt.Println()
		fmt.Printf("Total files: %d (%s)\n", len(files), formatBytes(stats.TotalBytes))
		fmt.Printf("Skipped:     %d files, %d directories\n", stats.FilesSkipped, stats.DirsSkipped)
		return nil
	}

	if len(files) == 0 {
		fmt.Println("No PDFs found.")
		return nil
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Println(ui.Header.Render("Uploading for user " + strconv.FormatInt(userID, 10)))
	fmt.Printf("Provider: %s\n\n", cfg.Embeddings.Provider)

	start := time.Now()
	var uploaded, duplicates, failed, chunks int
	for _, f := range files {
		if ctx.Err() != nil {
			fmt.Println(ui.Warning.Render("Upload cancelled"))
			break
		}

		doc, err := a.Ingest.UploadFile(ctx, userID, f.Path)
		switch {
		case errors.Is(err, ingest.ErrDuplicateDocument):
			duplicates++
			fmt.Printf("  %s %s %s\n", ui.Dim.Render("="), f.RelPath, ui.Dim.Render(fmt.Sprintf("(same as document %d)", doc.ID)))
		case err != nil:
			failed++
			log.Debug("Upload failed", "file", f.RelPath, "error", err)
			fmt.Printf("  %s %s %s\n", ui.Error.Render("✗"), f.RelPath, ui.Dim.Render(err.Error()))
		default:
			uploaded++
			chunks += doc.ChunkCount
			fmt.Printf("  %s %s %s\n", ui.Success.Render("✓"), f.RelPath, ui.Dim.Render(fmt.Sprintf("document %d, %d chunks", doc.ID, doc.ChunkCount)))
		}
	}

	fmt.Println()
	fmt.Println(ui.KeyValue("Uploaded", uploaded))
	fmt.Println(ui.KeyValue("Chunks", chunks))
	fmt.Println(ui.KeyValue("Already present", duplicates))
	fmt.Println(ui.KeyValue("Failed", failed))
	fmt.Println(ui.KeyValue("Duration", time.Since(start).Round(time.Millisecond)))

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}
