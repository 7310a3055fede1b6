package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nickcecere/ragchat/internal/config"
	"github.com/nickcecere/ragchat/internal/ui"
)

var configShowPath bool

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration",
	Long: `Display current configuration settings and config file locations.
Every setting can be overridden with a RAGCHAT_ environment variable, for
example RAGCHAT_VECTOR_STORE_BACKEND=qdrant.

Examples:
  # Show current configuration
  ragchat config

  # Show config file paths
  ragchat config --path`,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configShowPath, "path", false, "show config file paths")
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	if configShowPath {
		fmt.Println(ui.SectionTitle.Render("Configuration Paths"))
		fmt.Println()
		fmt.Printf("Global config: %s\n", config.GlobalConfigPath())
		fmt.Printf("Local config:  .ragchat.yaml (searched from cwd upward)\n")
		fmt.Printf("Active config: %s\n", config.ConfigFilePath())
		fmt.Printf("Uploads:       %s\n", cfg.Storage.UploadsPath)
		fmt.Printf("State file:    %s\n", cfg.Migrations.StateFile)
		return nil
	}

	fmt.Println(ui.SectionTitle.Render("Current Configuration"))
	fmt.Println()

	fmt.Println(ui.Bold.Render("Embeddings:"))
	fmt.Printf("  Provider: %s\n", cfg.Embeddings.Provider)
	fmt.Printf("  Ollama URL: %s\n", cfg.Embeddings.Ollama.URL)
	fmt.Printf("  Ollama Model: %s\n", cfg.Embeddings.Ollama.Model)
	fmt.Printf("  OpenAI Model: %s\n", cfg.Embeddings.OpenAI.Model)
	if cfg.Embeddings.OpenAI.BaseURL != "" {
		fmt.Printf("  OpenAI Base URL: %s\n", cfg.Embeddings.OpenAI.BaseURL)
	}
	fmt.Printf("  Batch Size: %d\n", cfg.Embeddings.BatchSize)
	fmt.Println()

	fmt.Println(ui.Bold.Render("Vector Store:"))
	fmt.Printf("  Backend: %s\n", cfg.VectorStore.Backend)
	if cfg.VectorStore.Backend == "qdrant" {
		fmt.Printf("  Qdrant: %s:%d (tls %v)\n", cfg.VectorStore.Qdrant.Host, cfg.VectorStore.Qdrant.Port, cfg.VectorStore.Qdrant.UseTLS)
	} else {
		fmt.Printf("  Path: %s\n", cfg.VectorStore.Path)
	}
	fmt.Println()

	fmt.Println(ui.Bold.Render("Database:"))
	fmt.Printf("  Driver: %s\n", cfg.Database.Driver)
	fmt.Printf("  DSN: %s\n", redactDSN(cfg.Database.DSN))
	fmt.Println()

	fmt.Println(ui.Bold.Render("Chunking:"))
	fmt.Printf("  Chunk Size: %d\n", cfg.Chunking.ChunkSize)
	fmt.Printf("  Overlap: %d\n", cfg.Chunking.Overlap)
	fmt.Println()

	fmt.Println(ui.Bold.Render("Chat:"))
	fmt.Printf("  Default Model: %s\n", cfg.Chat.DefaultModel)
	fmt.Printf("  History Limit: %d\n", cfg.Chat.HistoryLimit)
	fmt.Printf("  Document Results: %d\n", cfg.Retrieval.DocumentResults)
	fmt.Printf("  Memory: %v (max %d, both types %v)\n", cfg.Memory.Enabled, cfg.Memory.MaxResults, cfg.Memory.SearchBothTypes)
	fmt.Println()

	fmt.Println(ui.Bold.Render("Services:"))
	fmt.Printf("  Redis: %s\n", orDisabled(cfg.Redis.Addr))
	fmt.Printf("  RabbitMQ: %s\n", orDisabled(redactDSN(cfg.RabbitMQ.URL)))
	fmt.Println()

	fmt.Println(ui.Bold.Render("Ignore Patterns:"))
	fmt.Printf("  %d patterns configured\n", len(cfg.Ignore))

	return nil
}

func orDisabled(s string) string {
	if s == "" {
		return ui.Dim.Render("disabled")
	}
	return s
}
