package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nickcecere/ragchat/internal/ui"
)

// removeCmd deletes documents.
var removeCmd = &cobra.Command{
	Use:   "remove <doc-id>...",
	Short: "Remove documents and their vectors",
	Long: `Remove documents from a user's library. Their chunks leave the user's
collection (or their legacy collection is dropped), the raw file is deleted
and the record is removed. Other documents are untouched.

Examples:
  ragchat remove --user 1 12 13`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRemove,
}

func init() {
	addUserFlag(removeCmd)
}

func runRemove(cmd *cobra.Command, args []string) error {
	ids := make([]int64, len(args))
	for i, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid document id %q", arg)
		}
		ids[i] = id
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, id := range ids {
		if err := a.Ingest.Remove(ctx, userID, id); err != nil {
			return err
		}
		fmt.Printf("%s document %d\n", ui.Success.Render("Removed"), id)
	}
	return nil
}
