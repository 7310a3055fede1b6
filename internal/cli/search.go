package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nickcecere/ragchat/internal/config"
	"github.com/nickcecere/ragchat/internal/store"
	"github.com/nickcecere/ragchat/internal/ui"
)

var (
	searchLimit    int
	searchMinScore float64
	searchDocs     []int64
	searchJSON     bool
)

// searchCmd runs document retrieval without a model.
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search a user's documents",
	Long: `Show the document chunks a chat turn would use as context for a query.

Examples:
  ragchat search --user 1 "termination clause"
  ragchat search --user 1 --docs 12 --min-score 0.4 "payment terms"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	addUserFlag(searchCmd)
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "m", 0, "maximum number of results (default retrieval.document_results)")
	searchCmd.Flags().Float64Var(&searchMinScore, "min-score", 0, "hide results below this similarity")
	searchCmd.Flags().Int64SliceVar(&searchDocs, "docs", nil, "only search these document ids")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "print results as JSON")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	limit := searchLimit
	if limit <= 0 {
		limit = config.Get().Retrieval.DocumentResults
	}

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	hits, err := a.Retrieval.SearchDocuments(ctx, userID, strings.Join(args, " "), limit, searchDocs, searchMinScore)
	if err != nil {
		return err
	}
	if searchJSON {
		return printJSON(hits)
	}

	if len(hits) == 0 {
		fmt.Println("No results.")
		return nil
	}
	for i, h := range hits {
		fmt.Printf("%s %s %s\n",
			ui.Count.Render(fmt.Sprintf("%2d.", i+1)),
			ui.FilePath.Render(fmt.Sprintf("document %s, page %s", h.Metadata.String(store.KeyDocID), h.Metadata.String(store.KeyPageNumber))),
			ui.Dim.Render(fmt.Sprintf("(%.2f)", h.Score())),
		)
		fmt.Println("    " + truncate(h.Text, 200))
	}
	return nil
}

func truncate(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

