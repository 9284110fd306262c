// Package registry resolves agent and tool names to persisted definition ids.
// Names seen for the first time are registered on the fly so every message
// of a trace can be attributed, even when two turns discover the same new
// name concurrently.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/bankmesh/core"
	"github.com/hupe1980/bankmesh/logging"
)

// Placeholder names for events that carry no resolvable name.
const (
	UnknownAgent = "unknown_agent"
	UnknownTool  = "unknown_tool"
)

const defaultCacheSize = 256

// Options configures a Registry.
type Options struct {
	Aliases   *Aliases
	CacheSize int
	Logger    logging.Logger
}

// Registry is the get-or-create front of a core.RegistryStore.
type Registry struct {
	store   core.RegistryStore
	aliases *Aliases
	agents  *lru.Cache[string, string]
	tools   *lru.Cache[string, string]
	group   singleflight.Group
	logger  logging.Logger
}

// New creates a Registry over store.
func New(store core.RegistryStore, optFns ...func(o *Options)) *Registry {
	opts := Options{
		CacheSize: defaultCacheSize,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Aliases == nil {
		opts.Aliases = DefaultAliases()
	}

	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}

	// lru.New only fails on a non-positive size.
	agents, _ := lru.New[string, string](opts.CacheSize)
	tools, _ := lru.New[string, string](opts.CacheSize)

	return &Registry{
		store:   store,
		aliases: opts.Aliases,
		agents:  agents,
		tools:   tools,
		logger:  logging.OrNoOp(opts.Logger),
	}
}

// Aliases returns the alias table in use.
func (r *Registry) Aliases() *Aliases {
	return r.aliases
}

// CanonicalToolName maps a wrapper tool name to its registry name.
func (r *Registry) CanonicalToolName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return UnknownTool
	}
	return r.aliases.Canonical(name)
}

// Option supplies fallback values used when a definition is auto-registered.
type Option func(o *definition)

type definition struct {
	description string
	llmConfig   map[string]any
	inputSchema map[string]any
}

// WithDescription sets the description of an auto-registered record.
func WithDescription(desc string) Option {
	return func(o *definition) { o.description = desc }
}

// WithLLMConfig sets the llm_config of an auto-registered agent.
func WithLLMConfig(cfg map[string]any) Option {
	return func(o *definition) { o.llmConfig = cfg }
}

// WithInputSchema sets the input schema of an auto-registered tool.
func WithInputSchema(schema map[string]any) Option {
	return func(o *definition) { o.inputSchema = schema }
}

// GetOrCreateAgent returns the id of the named agent, registering it when
// absent. Repeated and concurrent calls return the same id.
func (r *Registry) GetOrCreateAgent(ctx context.Context, name string, opts ...Option) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = UnknownAgent
	}

	if id, ok := r.agents.Get(name); ok {
		return id, nil
	}

	d := definition{description: "Auto-registered agent " + name}
	for _, fn := range opts {
		fn(&d)
	}

	return r.resolve(ctx, "agent:"+name, r.agents, name, func(ctx context.Context) (string, error) {
		return r.ensureAgent(ctx, &core.AgentDefinition{
			Name:        name,
			Description: d.description,
			AgentType:   "auto",
			LLMConfig:   d.llmConfig,
		})
	})
}

// GetOrCreateTool returns the id of the named tool after alias resolution,
// registering it when absent.
func (r *Registry) GetOrCreateTool(ctx context.Context, name string, opts ...Option) (string, error) {
	name = r.CanonicalToolName(name)

	if id, ok := r.tools.Get(name); ok {
		return id, nil
	}

	d := definition{description: "Auto-registered tool " + name}
	for _, fn := range opts {
		fn(&d)
	}

	return r.resolve(ctx, "tool:"+name, r.tools, name, func(ctx context.Context) (string, error) {
		return r.ensureTool(ctx, &core.ToolDefinition{
			Name:        name,
			Description: d.description,
			InputSchema: d.inputSchema,
			Version:     "1.0.0",
			Active:      true,
		})
	})
}

func (r *Registry) resolve(ctx context.Context, key string, cache *lru.Cache[string, string], name string, fn func(context.Context) (string, error)) (string, error) {
	// Waiters share the first caller's work; its cancellation must not
	// fail them.
	sfCtx := context.WithoutCancel(ctx)

	v, err, _ := r.group.Do(key, func() (any, error) {
		id, err := fn(sfCtx)
		if err != nil {
			return "", err
		}
		cache.Add(name, id)
		return id, nil
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

func (r *Registry) ensureAgent(ctx context.Context, def *core.AgentDefinition) (string, error) {
	existing, err := r.store.FindAgentByName(ctx, def.Name)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return "", fmt.Errorf("registry: find agent %q: %w", def.Name, err)
	}

	if def.ID == "" {
		def.ID = uuid.NewString()
	}

	err = r.store.InsertAgent(ctx, def)
	switch {
	case err == nil:
		r.logger.Info("registry.agent.registered", "name", def.Name, "agent_id", def.ID)
		return def.ID, nil
	case errors.Is(err, core.ErrConflict):
		existing, err := r.store.FindAgentByName(ctx, def.Name)
		if err != nil {
			return "", fmt.Errorf("registry: refetch agent %q: %w", def.Name, err)
		}
		r.logger.Debug("registry.agent.conflict", "name", def.Name, "agent_id", existing.ID)
		return existing.ID, nil
	default:
		return "", fmt.Errorf("registry: insert agent %q: %w", def.Name, err)
	}
}

func (r *Registry) ensureTool(ctx context.Context, def *core.ToolDefinition) (string, error) {
	existing, err := r.store.FindToolByName(ctx, def.Name)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return "", fmt.Errorf("registry: find tool %q: %w", def.Name, err)
	}

	if def.ID == "" {
		def.ID = uuid.NewString()
	}

	err = r.store.InsertTool(ctx, def)
	switch {
	case err == nil:
		r.logger.Info("registry.tool.registered", "name", def.Name, "tool_id", def.ID)
		return def.ID, nil
	case errors.Is(err, core.ErrConflict):
		existing, err := r.store.FindToolByName(ctx, def.Name)
		if err != nil {
			return "", fmt.Errorf("registry: refetch tool %q: %w", def.Name, err)
		}
		r.logger.Debug("registry.tool.conflict", "name", def.Name, "tool_id", existing.ID)
		return existing.ID, nil
	default:
		return "", fmt.Errorf("registry: insert tool %q: %w", def.Name, err)
	}
}
