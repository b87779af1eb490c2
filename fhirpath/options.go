package fhirpath

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"
)

// Tracer receives the output of the trace() function.
type Tracer interface {
	// Log logs a trace message with the given name and collection
	Log(name string, collection Collection) error
}

// StdoutTracer writes traces to os.Stdout.
type StdoutTracer struct{}

func (w StdoutTracer) Log(name string, collection Collection) error {
	_, err := fmt.Printf("%s: %v\n", name, collection)
	return err
}

// SlogTracer writes traces as structured log records at debug level.
type SlogTracer struct {
	Logger *slog.Logger
}

func (t SlogTracer) Log(name string, collection Collection) error {
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("fhirpath trace",
		slog.String("name", name),
		slog.Int("count", len(collection)),
		slog.String("value", collection.String()),
	)
	return nil
}

type tracerKey struct{}

// WithTracer installs the given trace logger into the context.
//
// By default, traces are logged through the engine logger.
// To redirect trace logs to a custom output, use:
//
//	ctx = fhirpath.WithTracer(ctx, fhirpath.StdoutTracer{})
func WithTracer(ctx context.Context, logger Tracer) context.Context {
	return context.WithValue(ctx, tracerKey{}, logger)
}

func tracer(ctx context.Context, fallback *slog.Logger) Tracer {
	if t, ok := ctx.Value(tracerKey{}).(Tracer); ok && t != nil {
		return t
	}
	return SlogTracer{Logger: fallback}
}

type envKey struct{}

// WithEnv makes value available as %name in expressions evaluated with ctx.
//
//	ctx = fhirpath.WithEnv(ctx, "threshold", fhirpath.Integer(5))
//	result, err := engine.Evaluate(ctx, fhirpath.MustParse("value > %threshold"), obs)
func WithEnv(ctx context.Context, name string, value Value) context.Context {
	env := maps.Clone(envFromContext(ctx))
	if env == nil {
		env = make(map[string]Collection, 1)
	}
	env[name] = Items(value)
	return context.WithValue(ctx, envKey{}, env)
}

func envFromContext(ctx context.Context) map[string]Collection {
	env, _ := ctx.Value(envKey{}).(map[string]Collection)
	return env
}

// systemVariables are bound in every evaluation.
var systemVariables = map[string]Collection{
	"ucum":  {String("http://unitsofmeasure.org")},
	"loinc": {String("http://loinc.org")},
	"sct":   {String("http://snomed.info/sct")},
}

type evaluationTimeKey struct{}

// WithEvaluationTime fixes the instant returned by now(), today() and timeOfDay().
// Without it, the time at which Engine.Evaluate is called is used.
func WithEvaluationTime(ctx context.Context, instant time.Time) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, evaluationTimeKey{}, instant)
}

// withEvaluationInstant pins the evaluation time once per evaluation,
// so now() returns the same value throughout an expression.
func withEvaluationInstant(ctx context.Context) context.Context {
	if _, ok := ctx.Value(evaluationTimeKey{}).(time.Time); ok {
		return ctx
	}
	return WithEvaluationTime(ctx, time.Now())
}

func evaluationInstant(ctx context.Context) time.Time {
	if t, ok := ctx.Value(evaluationTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}
