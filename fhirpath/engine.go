package fhirpath

import (
	"context"
	"log/slog"

	"github.com/damedic/fhirpath-engine/fhirpath/ast"
)

// Engine evaluates expressions with one registry, model provider and set of limits.
// It is safe for concurrent use. Every evaluation builds its own EvalContext.
type Engine struct {
	registry      *Registry
	provider      ModelProvider
	logger        *slog.Logger
	maxIterations int
	maxResults    int
	resolution    CacheConfig
	results       CacheConfig
	config        *evalConfig
}

// Option configures an Engine.
type Option func(*Engine)

// WithRegistry evaluates with r instead of a new default registry.
// Cache settings passed with WithCacheConfig are ignored then.
func WithRegistry(r *Registry) Option {
	return func(e *Engine) {
		e.registry = r
	}
}

// WithModelProvider sets the provider for type information of model elements.
func WithModelProvider(p ModelProvider) Option {
	return func(e *Engine) {
		e.provider = p
	}
}

// WithLogger sets the logger for traces and diagnostics. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithRepeatLimits bounds the rounds and results of repeat(), repeatAll() and descendants().
func WithRepeatLimits(maxIterations, maxResults int) Option {
	return func(e *Engine) {
		if maxIterations > 0 {
			e.maxIterations = maxIterations
		}
		if maxResults > 0 {
			e.maxResults = maxResults
		}
	}
}

// WithCacheConfig configures the resolution and result caches of the default registry.
func WithCacheConfig(resolution, results CacheConfig) Option {
	return func(e *Engine) {
		e.resolution = resolution
		e.results = results
	}
}

// NewEngine creates an engine with the built-in functions and operators.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		provider:      SystemProvider{},
		logger:        slog.Default(),
		maxIterations: DefaultMaxRepeatIterations,
		maxResults:    DefaultMaxRepeatResults,
		resolution:    DefaultCacheConfig,
		results:       DefaultCacheConfig,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = newDefaultRegistry(e.resolution, e.results)
	}
	if e.provider == nil {
		e.provider = SystemProvider{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.config = &evalConfig{
		maxIterations: e.maxIterations,
		maxResults:    e.maxResults,
		logger:        e.logger,
	}
	return e
}

// Registry returns the registry of the engine.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Evaluate evaluates expr against input.
//
// Use WithEnv to pass variables, WithEvaluationTime to fix now() and
// WithAPDContext to change decimal precision.
func (e *Engine) Evaluate(ctx context.Context, expr Expression, input Value) (Value, error) {
	result, err := e.EvaluateNode(ctx, expr.tree, Items(input))
	if err != nil {
		return nil, err
	}
	return result.Value(), nil
}

// EvaluateCollection is like Evaluate, but always returns a collection.
// An empty result is a nil collection.
func (e *Engine) EvaluateCollection(ctx context.Context, expr Expression, input Value) (Collection, error) {
	return e.EvaluateNode(ctx, expr.tree, Items(input))
}

// EvaluateNode evaluates an expression tree against input.
func (e *Engine) EvaluateNode(ctx context.Context, node ast.Node, input Collection) (Collection, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = withEvaluationInstant(ctx)
	return EvaluateNode(ctx, node, e.rootContext(ctx, input))
}

func (e *Engine) rootContext(ctx context.Context, input Collection) EvalContext {
	ec := NewEvalContext(e.registry, e.provider, input).withConfig(e.config)
	for name, value := range systemVariables {
		ec = ec.WithVariable(name, value)
	}
	for name, value := range envFromContext(ctx) {
		ec = ec.WithVariable(name, value)
	}
	resource := input
	if len(input) > 0 {
		resource = Collection{input[0]}
	}
	return ec.
		WithVariable("this", input).
		WithVariable("context", input).
		WithVariable("resource", resource).
		WithVariable("rootResource", resource)
}

// EngineStats are the cache counters of an engine.
type EngineStats struct {
	Resolution CacheStats
	Results    CacheStats
}

// Stats returns a snapshot of the cache counters.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Resolution: e.registry.ResolutionStats(),
		Results:    e.registry.ResultStats(),
	}
}

// ClearCaches empties the resolution and result caches.
func (e *Engine) ClearCaches() {
	before := e.Stats()
	e.registry.ClearCaches()
	e.logger.Debug("fhirpath caches cleared",
		slog.Int("resolutions", before.Resolution.Size),
		slog.Int("results", before.Results.Size),
	)
}
