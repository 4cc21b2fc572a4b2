package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"docrag/internal/config"
	"docrag/internal/domain"
	openaiembed "docrag/internal/embedding/openai"
	"docrag/internal/embedding/tfidf"
	openaillm "docrag/internal/llm/openai"
	"docrag/internal/logging"
	"docrag/internal/service"
	"docrag/internal/summarizer"
	"docrag/internal/vectorstore"
	chromemstore "docrag/internal/vectorstore/chromem"
	"docrag/internal/vectorstore/memory"
	qdrantstore "docrag/internal/vectorstore/qdrant"
)

// app holds the process-wide configuration and resources shared by commands.
type app struct {
	cfg     *config.AppConfig
	logger  *zap.Logger
	closers []func() error
}

func newApp(cfgPath string) (*app, error) {
	var (
		cfg *config.AppConfig
		err error
	)
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger}, nil
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

// buildService assembles the engine from configuration.
func (a *app) buildService() (*service.RAGService, error) {
	emb, err := a.buildEmbedder()
	if err != nil {
		return nil, err
	}
	completer, err := openaillm.NewClient(openaillm.Config{
		BaseURL:   a.cfg.Completion.BaseURL,
		APIKeyEnv: a.cfg.Completion.APIKeyEnv,
		Model:     a.cfg.Completion.Model,
		Timeout:   time.Duration(a.cfg.Completion.TimeoutSecs) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("completion client: %w", err)
	}
	factory, err := a.buildStoreFactory()
	if err != nil {
		return nil, err
	}
	sum, err := a.buildSummarizer()
	if err != nil {
		return nil, err
	}

	a.logger.Debug("engine assembled",
		zap.String("embedder", emb.Name()),
		zap.String("completion_model", completer.Model()),
		zap.String("vector_store", a.cfg.VectorStore.Type),
	)
	svc, err := service.NewRAGService(emb, completer, factory,
		service.WithLogger(a.logger),
		service.WithSummarizer(sum),
		service.WithSettings(settingsFromConfig(a.cfg)),
	)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, svc.Close)
	return svc, nil
}

func (a *app) buildEmbedder() (domain.Embedder, error) {
	switch a.cfg.Embedder.Type {
	case "tfidf":
		return tfidf.NewEmbedder(), nil
	case "openai":
		oc := a.cfg.Embedder.OpenAI
		client, err := openaiembed.NewClient(openaiembed.Config{
			BaseURL:   oc.BaseURL,
			APIKeyEnv: oc.APIKeyEnv,
			Model:     oc.Model,
			Timeout:   time.Duration(oc.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", a.cfg.Embedder.Type)
	}
}

func (a *app) buildStoreFactory() (vectorstore.Factory, error) {
	vc := a.cfg.VectorStore
	switch vc.Type {
	case "memory":
		return memory.Factory(), nil
	case "chromem":
		db, release, err := chromemstore.Open(chromemstore.Config{
			Path:             vc.Chromem.Path,
			Compress:         vc.Chromem.Compress,
			CollectionPrefix: vc.Chromem.CollectionPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("open chromem: %w", err)
		}
		a.closers = append(a.closers, release)
		removed, err := chromemstore.Prune(db, vc.Chromem.CollectionPrefix)
		if err != nil {
			return nil, fmt.Errorf("prune chromem: %w", err)
		}
		a.logStale(removed)
		return chromemstore.Factory(db, vc.Chromem.CollectionPrefix), nil
	case "qdrant":
		client, err := qdrantstore.Dial(qdrantstore.Config{
			Host:             vc.Qdrant.Host,
			Port:             vc.Qdrant.Port,
			APIKey:           vc.Qdrant.APIKey,
			UseTLS:           vc.Qdrant.UseTLS,
			CollectionPrefix: vc.Qdrant.CollectionPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("dial qdrant: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		removed, err := qdrantstore.Prune(ctx, client, vc.Qdrant.CollectionPrefix)
		if err != nil {
			return nil, fmt.Errorf("prune qdrant: %w", err)
		}
		a.logStale(removed)
		return qdrantstore.Factory(client, vc.Qdrant.CollectionPrefix, a.logger), nil
	default:
		return nil, fmt.Errorf("unknown vector store: %s", vc.Type)
	}
}

func (a *app) logStale(removed int) {
	if removed > 0 {
		a.logger.Info("removed stale vector collections", zap.Int("count", removed))
	}
}

func (a *app) buildSummarizer() (domain.Summarizer, error) {
	switch a.cfg.Summarizer.Type {
	case "frequency", "":
		return summarizer.NewFrequencySummarizer(), nil
	default:
		return nil, fmt.Errorf("unknown summarizer: %s", a.cfg.Summarizer.Type)
	}
}

func settingsFromConfig(cfg *config.AppConfig) service.Settings {
	return service.Settings{
		RelationWindow:   cfg.Retrieval.RelationWindow,
		IncludeRelations: cfg.Retrieval.IncludeRelations,
		MaxSources:       cfg.Retrieval.MaxSources,
		MaxGroupItems:    cfg.Retrieval.MaxGroupItems,
		MaxTokens:        cfg.Completion.MaxTokens,
		Temperature:      cfg.Completion.Temperature,
		SummarySentences: cfg.Summarizer.MaxSentences,
	}
}
