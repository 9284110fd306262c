package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/bankmesh/config"
	"github.com/hupe1980/bankmesh/engine"
	"github.com/hupe1980/bankmesh/graph"
	"github.com/hupe1980/bankmesh/internal/tokens"
	"github.com/hupe1980/bankmesh/logging"
	"github.com/hupe1980/bankmesh/model"
	anthropicmodel "github.com/hupe1980/bankmesh/model/anthropic"
	openaimodel "github.com/hupe1980/bankmesh/model/openai"
	"github.com/hupe1980/bankmesh/registry"
	"github.com/hupe1980/bankmesh/search"
	"github.com/hupe1980/bankmesh/storage"
	"github.com/hupe1980/bankmesh/telemetry"
	"github.com/hupe1980/bankmesh/trace"
)

var version = "dev"

// app holds the wired components of one CLI invocation.
type app struct {
	cfg      *config.Config
	logger   *logging.StructuredLogger
	store    *storage.Store
	registry *registry.Registry
	llm      model.Model
	searcher search.Searcher
	engine   *engine.Engine

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (a *app, err error) {
	a = &app{cfg: cfg, logger: cfg.Logger()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	shutdown, err := telemetry.Init(ctx, telemetry.Options{
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { return shutdown(context.Background()) })

	a.store, err = storage.Open(ctx, storage.Config{
		Driver:     cfg.Database.Driver,
		DSN:        cfg.Database.DSN,
		MaxRetries: cfg.Database.MaxRetries,
		RetryDelay: cfg.Database.RetryDelay,
		Logger:     a.logger.WithComponent("storage"),
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)

	a.registry = registry.New(a.store, func(o *registry.Options) {
		o.Aliases = registry.DefaultAliases().Merge(cfg.Registry.AliasesVersion, cfg.Registry.Aliases)
		o.CacheSize = cfg.Registry.CacheSize
		o.Logger = a.logger.WithComponent("registry")
	})

	a.llm, err = newModel(cfg.Model)
	if err != nil {
		return nil, err
	}

	return a, nil
}

// Close releases everything opened by newApp, last opened first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newModel(cfg config.ModelConfig) (model.Model, error) {
	var m model.Model

	switch cfg.Provider {
	case config.ProviderOpenAI:
		m = openaimodel.NewModel(func(o *openaimodel.Options) {
			if cfg.Name != "" {
				o.Model = cfg.Name
			}
			o.Temperature = cfg.Temperature
			o.MaxCompletionTokens = cfg.MaxTokens
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
		})
	case config.ProviderAnthropic:
		m = anthropicmodel.NewModel(func(o *anthropicmodel.Options) {
			if cfg.Name != "" {
				o.Model = anthropic.Model(cfg.Name)
			}
			o.Temperature = cfg.Temperature
			o.MaxTokens = cfg.MaxTokens
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
		})
	case config.ProviderScripted:
		return model.NewScriptedModel(cfg.Name), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}

	return tokens.WithEstimate(m, nil), nil
}

func (a *app) openSearcher(ctx context.Context) (search.Searcher, error) {
	if a.searcher != nil {
		return a.searcher, nil
	}

	cfg := a.cfg.Search

	var embedder search.Embedder
	switch cfg.Embedder {
	case "hashing":
		embedder = search.HashingEmbedder{Dims: cfg.Dims}
	default:
		e, err := search.NewOpenAIEmbedder(search.OpenAIEmbedderConfig{
			Model:   cfg.EmbeddingModel,
			APIKey:  a.cfg.Model.APIKey,
			BaseURL: a.cfg.Model.BaseURL,
			Dims:    cfg.Dims,
		})
		if err != nil {
			return nil, err
		}
		embedder = e
	}

	switch cfg.Backend {
	case "qdrant":
		idx, err := search.NewQdrantIndex(search.QdrantConfig{
			URL:        cfg.Qdrant.URL,
			APIKey:     cfg.Qdrant.APIKey,
			Collection: cfg.Collection,
		}, embedder)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, idx.Close)
		if err := idx.EnsureCollection(ctx); err != nil {
			return nil, err
		}
		a.searcher = idx
	default:
		idx, err := search.NewChromemIndex(search.ChromemConfig{
			PersistPath: cfg.PersistPath,
			Collection:  cfg.Collection,
		}, embedder)
		if err != nil {
			return nil, err
		}
		a.searcher = idx
	}

	return a.searcher, nil
}

// openEngine wires the engine. Search is optional: when the index cannot be
// opened the support agent runs without its knowledge base tool.
func (a *app) openEngine(ctx context.Context, reg prometheus.Registerer) (*engine.Engine, error) {
	if a.engine != nil {
		return a.engine, nil
	}

	cfg := a.cfg

	rules, err := cfg.RoutingRules()
	if err != nil {
		return nil, err
	}

	searcher, err := a.openSearcher(ctx)
	if err != nil {
		a.logger.Warn("search.unavailable", "backend", cfg.Search.Backend, "error", err)
		searcher = nil
	}

	var publisher trace.Publisher
	if cfg.Publisher.Path != "" {
		p, err := trace.OpenJSONL(cfg.Publisher.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p.Close)
		publisher = p
	}

	var metrics *engine.Metrics
	if cfg.Metrics.Enabled {
		if metrics, err = engine.NewMetrics(reg); err != nil {
			return nil, err
		}
	}

	var classifier graph.Classifier
	if cfg.Routing.Classifier == config.ClassifierModel {
		classifier = graph.NewModelClassifier(a.llm, graph.NewRouter(rules, cfg.Routing.Fallback), a.logger.WithComponent("graph")).
			WithPrompt(cfg.Prompts.Coordinator)
	}

	a.engine, err = engine.New(a.store, a.registry, a.llm, func(o *engine.Options) {
		o.Rules = rules
		o.Fallback = cfg.Routing.Fallback
		o.Classifier = classifier
		o.Prompts = engine.Prompts{
			Account:     cfg.Prompts.Account,
			Transaction: cfg.Prompts.Transaction,
			Support:     cfg.Prompts.Support,
		}
		o.RefusalText = cfg.Prompts.Refusal
		o.MaxIterations = cfg.Agent.MaxIterations
		o.HistoryLimit = cfg.Engine.HistoryLimit
		o.MaxConcurrentTurns = cfg.Engine.MaxConcurrentTurns
		if searcher != nil {
			o.Searcher = searcher
		}
		o.SearchK = cfg.Search.K
		o.SearchMaxDistance = cfg.Search.MaxDistance
		o.Publisher = publisher
		o.Metrics = metrics
		o.Logger = a.logger.WithComponent("engine")
	})
	if err != nil {
		return nil, err
	}

	return a.engine, nil
}
