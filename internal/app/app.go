// Package app builds every ragchat component from the configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"github.com/nickcecere/ragchat/internal/cache"
	"github.com/nickcecere/ragchat/internal/chat"
	"github.com/nickcecere/ragchat/internal/chunker"
	"github.com/nickcecere/ragchat/internal/config"
	"github.com/nickcecere/ragchat/internal/embeddings"
	"github.com/nickcecere/ragchat/internal/filestore"
	"github.com/nickcecere/ragchat/internal/ingest"
	"github.com/nickcecere/ragchat/internal/llm"
	"github.com/nickcecere/ragchat/internal/migrate"
	"github.com/nickcecere/ragchat/internal/queue"
	"github.com/nickcecere/ragchat/internal/repository"
	"github.com/nickcecere/ragchat/internal/retrieval"
	"github.com/nickcecere/ragchat/internal/secrets"
	"github.com/nickcecere/ragchat/internal/store"
)

// App holds the wired components. Close releases them in reverse order.
type App struct {
	Config      *config.Config
	Repos       *repository.Repositories
	Store       store.Store
	Embedder    embeddings.Service
	Credentials *secrets.Credentials
	Ingest      *ingest.Service
	Retrieval   *retrieval.Engine
	Providers   *llm.Registry
	Chat        *chat.Orchestrator
	Migrations  *migrate.Runner
	History     *cache.HistoryCache

	memory  chat.MemoryWriter
	closers []func() error
}

// Open wires the application. The embedding service connects lazily, so
// commands that never embed work without a running provider.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	if err := a.open(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context) error {
	cfg := a.Config

	db, err := repository.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.Repos = repository.New(db)
	a.closers = append(a.closers, a.Repos.Close)

	lazy := embeddings.NewLazyService(cfg)
	a.Embedder = lazy

	a.Store, err = openStore(ctx, cfg, lazy)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, a.Store.Close)

	box, err := secrets.NewBox(cfg.Security.SecretKey)
	if err != nil {
		return err
	}
	if cfg.Security.SecretKey == config.DefaultDevelopmentSecret {
		log.Warn("Using the development secret key; set security.secret_key in production")
	}
	a.Credentials = secrets.NewCredentials(a.Repos.APIKeys, box)

	files, err := filestore.NewLocal(cfg.Storage.UploadsPath)
	if err != nil {
		return err
	}
	ch, err := chunker.New(chunker.Options{ChunkSize: cfg.Chunking.ChunkSize, Overlap: cfg.Chunking.Overlap})
	if err != nil {
		return err
	}
	pipeline := ingest.NewPipeline(a.Store, a.Embedder, ch, nil)
	a.Ingest = ingest.NewService(pipeline, a.Store, a.Repos.Documents, files)

	a.Retrieval = retrieval.New(a.Store, a.Embedder)
	a.Providers = llm.NewRegistry(llm.Options{
		OpenAIBaseURL:    cfg.Providers.OpenAIBaseURL,
		AnthropicBaseURL: cfg.Providers.AnthropicBaseURL,
		GoogleBaseURL:    cfg.Providers.GoogleBaseURL,
		GrokBaseURL:      cfg.Providers.GrokBaseURL,
		OllamaURL:        cfg.Providers.OllamaURL,
	})

	var history chat.History
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
		a.History = cache.NewHistoryCache(client, a.Repos.Messages, cfg.Chat.HistoryLimit+1, cfg.Redis.HistoryTTL)
		history = a.History
		log.Debug("History cache enabled", "addr", cfg.Redis.Addr)
	}

	a.memory, err = a.memoryWriter()
	if err != nil {
		return err
	}

	a.Chat = chat.New(chat.Deps{
		Conversations: a.Repos.Conversations,
		Messages:      a.Repos.Messages,
		Documents:     a.Repos.Documents,
		Credentials:   a.Credentials,
		Retriever:     a.Retrieval,
		Streamer:      a.Providers,
		History:       history,
		Memory:        a.memory,
	}, chat.Options{
		DefaultModel:    cfg.Chat.DefaultModel,
		HistoryLimit:    cfg.Chat.HistoryLimit,
		TitleLength:     cfg.Chat.TitleLength,
		DocumentResults: cfg.Retrieval.DocumentResults,
		MemoryEnabled:   cfg.Memory.Enabled,
		MemoryResults:   cfg.Memory.MaxResults,
		SearchBothTypes: cfg.Memory.SearchBothTypes,
	})

	state, err := migrate.LoadState(cfg.Migrations.StateFile)
	if err != nil {
		return err
	}
	a.Migrations = migrate.NewRunner(state,
		migrate.NewConsolidateCollections(a.Repos.Users, a.Repos.Documents, a.Store),
	)

	return nil
}

// memoryWriter publishes memory entries to RabbitMQ when configured and
// indexes them in-process otherwise.
func (a *App) memoryWriter() (chat.MemoryWriter, error) {
	cfg := a.Config
	indexer := chat.NewMemoryIndexer(a.Store, a.Embedder)

	if cfg.RabbitMQ.URL == "" {
		w := chat.NewAsyncMemoryWriter(indexer, 0)
		a.closers = append(a.closers, func() error { w.Wait(); return nil })
		return w, nil
	}

	conn, err := queue.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, conn.Close)

	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	pub, err := queue.NewMemoryPublisher(ch, cfg.RabbitMQ.Queue)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pub.Close)
	log.Debug("Memory writes go through RabbitMQ", "queue", cfg.RabbitMQ.Queue)
	return pub, nil
}

// StartMemoryWorker consumes queued memory entries until ctx ends. It does
// nothing when RabbitMQ is not configured.
func (a *App) StartMemoryWorker(ctx context.Context) (bool, error) {
	cfg := a.Config
	if cfg.RabbitMQ.URL == "" {
		return false, nil
	}

	conn, err := queue.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		return false, err
	}
	a.closers = append(a.closers, conn.Close)

	ch, err := conn.Channel()
	if err != nil {
		return false, err
	}
	worker := queue.NewMemoryWorker(ch, cfg.RabbitMQ.Queue, chat.NewMemoryIndexer(a.Store, a.Embedder))
	if err := worker.Start(ctx); err != nil {
		return false, err
	}
	a.closers = append(a.closers, worker.Close)
	return true, nil
}

// Close releases everything Open acquired. Pending in-process memory
// writes finish first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openStore(ctx context.Context, cfg *config.Config, emb *embeddings.Lazy) (store.Store, error) {
	switch cfg.VectorStore.Backend {
	case "qdrant":
		// qdrant collections are created with a fixed vector size
		if err := emb.Init(ctx); err != nil {
			return nil, err
		}
		if emb.Dimensions() == 0 {
			if _, err := emb.EmbedQuery(ctx, "dimension probe"); err != nil {
				return nil, fmt.Errorf("failed to learn embedding dimensions: %w", err)
			}
		}
		st, err := store.NewQdrantStore(store.QdrantOptions{
			Host:       cfg.VectorStore.Qdrant.Host,
			Port:       cfg.VectorStore.Qdrant.Port,
			APIKey:     cfg.VectorStore.Qdrant.APIKey,
			UseTLS:     cfg.VectorStore.Qdrant.UseTLS,
			VectorSize: emb.Dimensions(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open qdrant store: %w", err)
		}
		return st, nil
	default:
		st, err := store.NewSQLiteStore(cfg.VectorStore.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector store: %w", err)
		}
		return st, nil
	}
}
