package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/ragchat/internal/config"
	"github.com/nickcecere/ragchat/internal/ui"
	"github.com/nickcecere/ragchat/internal/watcher"
)

// watchCmd represents the watch command.
var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Upload PDFs dropped into a directory",
	Long: `Watch an inbox directory for a user. New PDFs are uploaded, a modified
PDF replaces the document with the same filename, and deleting a PDF
removes its document.

Examples:
  ragchat watch --user 1 ~/inbox`,
	Args: cobra.ExactArgs(1),
	RunE: runWatchCmd,
}

func init() {
	addUserFlag(watchCmd)
}

func runWatchCmd(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	w, err := watcher.New(args[0],
		watcher.NewIngestHandler(userID, a.Ingest, a.Repos.Documents),
		watcher.WithDebounceTime(cfg.Watch.Debounce),
		watcher.WithEventCallback(func(event, path string) {
			log.Debug("File event", "event", event, "path", path)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	fmt.Println(ui.Header.Render("Watching for PDFs"))
	fmt.Printf("Directory: %s\n", w.Root())
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()

	if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
