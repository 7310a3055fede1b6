package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/ragchat/internal/config"
	"github.com/nickcecere/ragchat/internal/store"
	"github.com/nickcecere/ragchat/internal/ui"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show record counts, collections and migrations",
	Long: `Display information about the deployment:
- Number of users, documents and conversations
- Every vector collection and its size
- Migration status

Examples:
  ragchat status`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg := config.Get()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Println(ui.Header.Render("Records"))
	counts := []struct {
		name  string
		count func() (int64, error)
	}{
		{"Users", func() (int64, error) { return a.Repos.Users.Count(ctx) }},
		{"Documents", func() (int64, error) { return a.Repos.Documents.Count(ctx) }},
		{"Conversations", func() (int64, error) { return a.Repos.Conversations.Count(ctx) }},
	}
	for _, c := range counts {
		n, err := c.count()
		if err != nil {
			return err
		}
		fmt.Println(ui.KeyValue(c.name, n))
	}
	fmt.Println()

	cols, err := a.Store.List(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	fmt.Println(ui.Header.Render(fmt.Sprintf("Collections (%s)", cfg.VectorStore.Backend)))
	if len(cols) == 0 {
		fmt.Println(ui.Dim.Render("  none yet; run 'ragchat ingest' to create one"))
	}
	var legacy int
	for _, col := range cols {
		n, err := a.Store.Count(ctx, col.Name, nil)
		if err != nil {
			log.Warn("Failed to count collection", "collection", col.Name, "error", err)
			continue
		}
		if _, _, ok := store.ParseLegacyCollectionName(col.Name); ok {
			legacy++
		}
		fmt.Println(ui.KeyValue(ui.Collection.Render(col.Name), fmt.Sprintf("%d vectors", n)))
	}
	if legacy > 0 {
		fmt.Println(ui.Warning.Render(fmt.Sprintf("  %d legacy collections; run 'ragchat migrate run'", legacy)))
	}
	fmt.Println()

	printMigrationStatus(a.Migrations.Status())
	fmt.Println()

	fmt.Println(ui.Dim.Render("Configuration:"))
	fmt.Printf("  Database: %s (%s)\n", redactDSN(cfg.Database.DSN), cfg.Database.Driver)
	fmt.Printf("  Embedding Provider: %s\n", cfg.Embeddings.Provider)
	return nil
}

// redactDSN hides a password in URL-style DSNs.
func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || scheme > at {
		return dsn
	}
	userinfo := dsn[scheme+3 : at]
	if user, _, ok := strings.Cut(userinfo, ":"); ok {
		return dsn[:scheme+3] + user + ":***" + dsn[at:]
	}
	return dsn
}
