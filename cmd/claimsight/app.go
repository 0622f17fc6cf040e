package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/mdcapital/claimsight/internal/agent"
	"github.com/mdcapital/claimsight/internal/config"
	"github.com/mdcapital/claimsight/internal/dataset"
	"github.com/mdcapital/claimsight/internal/engine"
	"github.com/mdcapital/claimsight/internal/enrich"
	"github.com/mdcapital/claimsight/internal/metrics"
	"github.com/mdcapital/claimsight/internal/planner"
	"github.com/mdcapital/claimsight/internal/reporter"
	"github.com/mdcapital/claimsight/internal/retrieval"
	"github.com/mdcapital/claimsight/internal/sandbox"
	"github.com/mdcapital/claimsight/internal/storage"
)

// app holds the long-lived components shared by every command.
type app struct {
	cfg      config.Config
	data     *dataset.Store
	store    *storage.Store
	indexes  *retrieval.IndexCache
	searcher *retrieval.Searcher
	executor *sandbox.Executor
	agents   *agent.Cache
}

// newApp loads the dataset and opens storage. A dataset that cannot be read
// is fatal; storage is optional and only logged when unavailable.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	ds, err := dataset.LoadCSV(cfg.Data.Path)
	if err != nil {
		return nil, fmt.Errorf("loading dataset: %w", err)
	}
	slog.Info("dataset loaded", "path", cfg.Data.Path, "records", ds.Len())

	a := &app{
		cfg:      cfg,
		data:     dataset.NewStore(ds),
		indexes:  retrieval.NewIndexCache(cfg.Retrieval.CacheTTL, cfg.Retrieval.CacheSize),
		executor: sandbox.New(cfg.Sandbox.Timeout),
	}

	store, err := storage.Open(cfg.Data.DBPath)
	if err != nil {
		slog.Warn("storage unavailable, running without caches or history", "path", cfg.Data.DBPath, "error", err)
	} else {
		a.store = store
	}

	a.searcher = &retrieval.Searcher{
		Store:    a.data,
		Cache:    a.indexes,
		Embedder: a.newEmbedder(ctx),
		TopK:     cfg.Retrieval.TopK,
	}
	metrics.RegisterIndexCache(a.indexes)

	a.agents = agent.NewCache(cfg.Agent.CacheTTL, a.buildAgent)
	return a, nil
}

func (a *app) Close() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		slog.Warn("closing storage", "error", err)
	}
}

func (a *app) settings(credential string) engine.Settings {
	key := credential
	if key == "" {
		key = a.cfg.LLM.APIKey
	}
	return engine.Settings{
		Provider:          a.cfg.LLM.Provider,
		Model:             a.cfg.LLM.Model,
		BaseURL:           a.cfg.LLM.BaseURL,
		APIKey:            key,
		OllamaURL:         a.cfg.Ollama.URL,
		EmbeddingMode:     a.cfg.Retrieval.EmbeddingMode,
		EmbeddingModel:    a.cfg.Retrieval.EmbeddingModel,
		Timeout:           a.cfg.LLM.Timeout,
		RequestsPerSecond: a.cfg.LLM.RequestsPerSecond,
	}
}

// newEmbedder builds the search embedder. Vectors go through the storage
// cache when one is open. A backend that cannot be built leaves search
// reporting retrieval as unavailable.
func (a *app) newEmbedder(ctx context.Context) retrieval.Embedder {
	e, err := engine.NewEmbedder(ctx, a.settings(""))
	if err != nil {
		slog.Warn("embedding backend unavailable", "mode", a.cfg.Retrieval.EmbeddingMode, "error", err)
		return brokenEmbedder{name: "unavailable:" + a.cfg.Retrieval.EmbeddingMode, err: err}
	}
	if a.store == nil {
		return e
	}
	return retrieval.NewCachingEmbedder(e, a.store)
}

type brokenEmbedder struct {
	name string
	err  error
}

func (b brokenEmbedder) Name() string { return b.name }

func (b brokenEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, b.err
}

func (a *app) newEnricher(c engine.Completer) *enrich.Enricher {
	opts := enrich.Options{
		BatchSize:   a.cfg.Enrich.BatchSize,
		Concurrency: a.cfg.Enrich.Concurrency,
		Model:       a.cfg.LLM.Model,
	}
	if a.store != nil {
		opts.Cache = a.store
	}
	return enrich.New(c, opts)
}

// buildAgent is the agent.Factory: one agent per credential, in the
// configured mode.
func (a *app) buildAgent(credential string) (agent.Asker, error) {
	c, err := engine.NewCompleter(context.Background(), a.settings(credential))
	if err != nil {
		return nil, err
	}

	var recorder agent.Recorder
	if a.store != nil {
		recorder = a.store
	}
	enricher := a.newEnricher(c)

	if a.cfg.Agent.Mode == agent.ModeReact {
		return agent.NewLoop(agent.LoopDeps{
			Store:     a.data,
			Enricher:  enricher,
			Completer: c,
			Model:     a.cfg.LLM.Model,
			Tools: map[agent.ToolKind]agent.Tool{
				agent.AnalyticsTool: &agent.Analytics{Store: a.data, Executor: a.executor},
				agent.RetrievalTool: &agent.Retrieval{Searcher: a.searcher},
			},
			MaxIterations: a.cfg.Agent.MaxIterations,
			Recorder:      recorder,
			StageTimeout:  a.cfg.Agent.StageTimeout,
		}), nil
	}

	return agent.NewPipeline(agent.PipelineDeps{
		Store:        a.data,
		Enricher:     enricher,
		Planner:      planner.New(c, planner.Options{Model: a.cfg.LLM.Model}),
		Executor:     a.executor,
		Reporter:     reporter.New(c, reporter.Options{Model: a.cfg.LLM.Model}),
		Recorder:     recorder,
		StageTimeout: a.cfg.Agent.StageTimeout,
	}), nil
}

// ensureLocalModels pulls any Ollama models the configuration relies on.
func (a *app) ensureLocalModels(ctx context.Context) error {
	var models []string
	if a.cfg.LLM.Provider == "ollama" {
		models = append(models, engine.NewOllama(a.cfg.Ollama.URL, a.cfg.LLM.Model).Model())
	}
	if a.cfg.Retrieval.EmbeddingMode == "local" {
		models = append(models, engine.NewOllamaEmbedder(a.cfg.Ollama.URL, a.cfg.Retrieval.EmbeddingModel).Model())
	}
	if len(models) == 0 {
		return nil
	}
	err := engine.EnsureReady(ctx, engine.NewOllama(a.cfg.Ollama.URL, ""), models, os.Stderr)
	if err != nil && a.cfg.LLM.Provider != "ollama" {
		// Only search depends on the local host here; keep serving.
		slog.Warn("local embedding host not ready", "error", err)
		return nil
	}
	return err
}

var errNoStorage = errors.New("interaction history unavailable: storage could not be opened")
