package fhirpath

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/damedic/fhirpath-engine/fhirpath/ast"
)

func named(sig Signature, result string) *Func {
	return &Func{Sig: sig, Sync: func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
		return done(String(result))
	}}
}

func resolvedName(t *testing.T, impl Implementation, err error) string {
	t.Helper()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	result, ok, err := impl.TryEvaluateSync(context.Background(), EvalContext{}, nil, nil)
	if err != nil || !ok {
		t.Fatalf("evaluate resolved implementation: ok=%v err=%v", ok, err)
	}
	return text(result[0])
}

func TestResolveCheapestOverload(t *testing.T) {
	r := NewRegistry(DefaultCacheConfig, DefaultCacheConfig)
	r.Register(
		named(Signature{Name: "f", Params: []Param{param("x", "Any")}}, "any"),
		named(Signature{Name: "f", Params: []Param{param("x", "Decimal")}}, "decimal"),
		named(Signature{Name: "f", Params: []Param{param("x", "Integer")}}, "integer"),
		named(Signature{Name: "f", Params: []Param{param("x", "Quantity")}}, "quantity"),
		named(Signature{Name: "g", Params: []Param{param("x", "")}}, "first"),
		named(Signature{Name: "g", Params: []Param{param("x", "")}}, "second"),
		named(Signature{Name: "h", InputType: systemType("String")}, "string input"),
		named(Signature{Name: "k", Params: []Param{param("x", "")}}, "any"),
		named(Signature{Name: "k", Params: []Param{param("x", "Decimal")}}, "decimal"),
	)

	tests := []struct {
		name  string
		fn    string
		input TypeSpecifier
		args  []TypeSpecifier
		want  string
	}{
		{name: "exact match", fn: "f", args: []TypeSpecifier{systemType("Integer")}, want: "integer"},
		{name: "exact decimal", fn: "f", args: []TypeSpecifier{systemType("Decimal")}, want: "decimal"},
		{name: "implicit conversion beats any", fn: "k", args: []TypeSpecifier{systemType("Integer")}, want: "decimal"},
		{name: "no conversion", fn: "f", args: []TypeSpecifier{systemType("Date")}, want: "any"},
		{name: "untyped fallback", fn: "f", args: []TypeSpecifier{systemType("String")}, want: "any"},
		{name: "empty argument matches first registered", fn: "f", args: []TypeSpecifier{{}}, want: "any"},
		{name: "tie goes to first registered", fn: "g", args: []TypeSpecifier{systemType("Integer")}, want: "first"},
		{name: "input type", fn: "h", input: systemType("String"), want: "string input"},
		{name: "empty input", fn: "h", input: TypeSpecifier{}, want: "string input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			impl, err := r.Resolve(tt.fn, tt.input, tt.args)
			if got := resolvedName(t, impl, err); got != tt.want {
				t.Errorf("resolved %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResolveErrors(t *testing.T) {
	r := NewRegistry(DefaultCacheConfig, DefaultCacheConfig)
	r.Register(
		named(Signature{Name: "f", Params: []Param{param("x", "Integer"), optional(param("y", "Integer"))}}, "f"),
		named(Signature{Name: "h", InputType: systemType("String")}, "h"),
	)

	tests := []struct {
		name    string
		fn      string
		input   TypeSpecifier
		args    []TypeSpecifier
		wantErr error
	}{
		{name: "unknown", fn: "missing", wantErr: ErrEvaluation},
		{name: "too few arguments", fn: "f", wantErr: ErrInvalidArgumentCount},
		{name: "too many arguments", fn: "f", args: []TypeSpecifier{systemType("Integer"), systemType("Integer"), systemType("Integer")}, wantErr: ErrInvalidArgumentCount},
		{name: "argument type", fn: "f", args: []TypeSpecifier{systemType("Boolean")}, wantErr: ErrType},
		{name: "input type", fn: "h", input: systemType("Integer"), wantErr: ErrType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(tt.fn, tt.input, tt.args)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got error %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestOperatorNamespace(t *testing.T) {
	r := NewRegistry(DefaultCacheConfig, DefaultCacheConfig)
	r.Register(
		named(Signature{Name: "contains", Params: []Param{param("substring", "String")}}, "function"),
		named(Signature{Name: "contains", Params: []Param{param("element", "")}, Operator: &ast.OperatorInfo{Symbol: "contains"}}, "operator"),
	)

	if !r.Has("contains") || !r.HasOperator("contains") {
		t.Fatalf("expected function and operator to be registered")
	}
	args := []TypeSpecifier{systemType("String")}
	impl, err := r.Resolve("contains", systemType("String"), args)
	if got := resolvedName(t, impl, err); got != "function" {
		t.Errorf("Resolve: got %s, want function", got)
	}
	impl, err = r.ResolveOperator("contains", systemType("String"), args)
	if got := resolvedName(t, impl, err); got != "operator" {
		t.Errorf("ResolveOperator: got %s, want operator", got)
	}
	if r.HasOperator("upper") {
		t.Errorf("unexpected operator upper")
	}
}

func TestResolutionCache(t *testing.T) {
	r := NewRegistry(DefaultCacheConfig, DefaultCacheConfig)
	r.Register(named(Signature{Name: "f"}, "f"))

	for range 3 {
		if _, err := r.Resolve("f", systemType("Integer"), nil); err != nil {
			t.Fatal(err)
		}
	}
	stats := r.ResolutionStats()
	if stats.Hits != 2 || stats.Misses != 1 || stats.Size != 1 {
		t.Errorf("got %+v, want 2 hits, 1 miss and 1 entry", stats)
	}

	// registering invalidates previous resolutions
	r.Register(named(Signature{Name: "f", InputType: systemType("Integer")}, "integer f"))
	impl, err := r.Resolve("f", systemType("Integer"), nil)
	if got := resolvedName(t, impl, err); got != "integer f" {
		t.Errorf("got %s after registration, want integer f", got)
	}
}

func TestResolutionStartedBeforeRegisterIsNotCached(t *testing.T) {
	r := NewRegistry(DefaultCacheConfig, DefaultCacheConfig)
	stale := named(Signature{Name: "f"}, "f")
	r.Register(stale)

	key := FunctionCacheKey{Name: "f", Signature: signatureKey(systemType("Integer"), nil)}
	gen := r.currentGeneration()
	r.Register(named(Signature{Name: "f", InputType: systemType("Integer")}, "integer f"))

	if r.cacheResolution(key, stale, gen) {
		t.Errorf("resolution from before the registration was cached")
	}
	if size := r.ResolutionStats().Size; size != 0 {
		t.Errorf("resolution cache holds %d entries, want 0", size)
	}
	impl, err := r.Resolve("f", systemType("Integer"), nil)
	if got := resolvedName(t, impl, err); got != "integer f" {
		t.Errorf("got %s, want integer f", got)
	}
	if !r.cacheResolution(key, impl, r.currentGeneration()) {
		t.Errorf("current resolution not cached")
	}
}

func counting(sig Signature, calls *atomic.Int32) *Func {
	return &Func{Sig: sig, Sync: func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
		calls.Add(1)
		return done(Integer(len(input)))
	}}
}

func TestPureResultCache(t *testing.T) {
	tests := []struct {
		name      string
		pure      bool
		wantCalls int32
		wantHits  uint64
	}{
		{name: "pure", pure: true, wantCalls: 1, wantHits: 2},
		{name: "impure", pure: false, wantCalls: 3, wantHits: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			r := NewRegistry(DefaultCacheConfig, DefaultCacheConfig)
			r.Register(counting(Signature{Name: "size", Input: CollectionInput, Pure: tt.pure}, &calls))
			ec := NewEvalContext(r, nil, nil)

			for range 3 {
				got, err := r.call(context.Background(), ec, "size", Collection{Integer(1), Integer(2)}, nil)
				if err != nil {
					t.Fatal(err)
				}
				if diff := cmp.Diff([]string{"2"}, stringsOf(got)); diff != "" {
					t.Fatalf("result mismatch (-want +got):\n%s", diff)
				}
			}
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("body called %d times, want %d", got, tt.wantCalls)
			}
			if got := r.ResultStats().Hits; got != tt.wantHits {
				t.Errorf("result cache hits = %d, want %d", got, tt.wantHits)
			}

			r.ClearCaches()
			if got := r.ResultStats().Size; got != 0 {
				t.Errorf("result cache holds %d entries after clear", got)
			}
		})
	}
}

func TestSyncAsyncSplit(t *testing.T) {
	ctx := context.Background()
	var syncCalls, asyncCalls atomic.Int32
	syncBody := func(ok bool) SyncBody {
		return func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			syncCalls.Add(1)
			if !ok {
				return nil, false, nil
			}
			return done(String("sync"))
		}
	}
	asyncBody := func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, error) {
		asyncCalls.Add(1)
		return Collection{String("async")}, nil
	}

	tests := []struct {
		name           string
		impl           *Func
		want           []string
		wantErr        error
		wantSyncCalls  int32
		wantAsyncCalls int32
	}{
		{name: "sync completes", impl: &Func{Sync: syncBody(true), Async: asyncBody}, want: []string{"sync"}, wantSyncCalls: 1},
		{name: "sync defers", impl: &Func{Sync: syncBody(false), Async: asyncBody}, want: []string{"async"}, wantSyncCalls: 1, wantAsyncCalls: 1},
		{name: "async only", impl: &Func{Async: asyncBody}, want: []string{"async"}, wantAsyncCalls: 1},
		{name: "no path", impl: &Func{Sync: syncBody(false)}, wantErr: ErrEvaluation, wantSyncCalls: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncCalls.Store(0)
			asyncCalls.Store(0)
			tt.impl.Sig = Signature{Name: "io", Input: CollectionInput}
			r := NewRegistry(DefaultCacheConfig, DefaultCacheConfig)
			r.Register(tt.impl)

			got, err := r.call(ctx, NewEvalContext(r, nil, nil), "io", nil, nil)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("got error %v, want %v", err, tt.wantErr)
				}
			} else {
				if err != nil {
					t.Fatal(err)
				}
				if diff := cmp.Diff(tt.want, stringsOf(got)); diff != "" {
					t.Errorf("result mismatch (-want +got):\n%s", diff)
				}
			}
			if syncCalls.Load() != tt.wantSyncCalls || asyncCalls.Load() != tt.wantAsyncCalls {
				t.Errorf("sync/async calls = %d/%d, want %d/%d",
					syncCalls.Load(), asyncCalls.Load(), tt.wantSyncCalls, tt.wantAsyncCalls)
			}
		})
	}
}

func TestInputCardinality(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	r := NewRegistry(DefaultCacheConfig, DefaultCacheConfig)
	r.Register(
		counting(Signature{Name: "single", Input: SingletonInput}, &calls),
		counting(Signature{Name: "each", Input: ElementWise}, &calls),
		counting(Signature{Name: "whole", Input: CollectionInput}, &calls),
		counting(Signature{Name: "arg", Input: CollectionInput, Params: []Param{param("x", "")}, PropagateEmpty: true}, &calls),
	)
	ec := NewEvalContext(r, nil, nil)
	three := Collection{String("a"), String("b"), String("c")}

	tests := []struct {
		name      string
		fn        string
		input     Collection
		args      []Collection
		want      []string
		wantErr   error
		wantCalls int32
	}{
		{name: "singleton on empty", fn: "single", input: nil, want: nil, wantCalls: 0},
		{name: "singleton on many", fn: "single", input: three, wantErr: ErrType, wantCalls: 0},
		{name: "element wise", fn: "each", input: three, want: []string{"1", "1", "1"}, wantCalls: 3},
		{name: "whole collection", fn: "whole", input: three, want: []string{"3"}, wantCalls: 1},
		{name: "empty argument propagates", fn: "arg", input: three, args: []Collection{nil}, want: nil, wantCalls: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls.Store(0)
			got, err := r.call(ctx, ec, tt.fn, tt.input, tt.args)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("got error %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, stringsOf(got)); diff != "" {
				t.Errorf("result mismatch (-want +got):\n%s", diff)
			}
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("body called %d times, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestRegistryEvaluate(t *testing.T) {
	ctx := context.Background()
	r := DefaultRegistry()

	upper, err := r.Evaluate(ctx, "upper", nil, NewEvalContext(r, nil, Collection{String("abc")}))
	if err != nil {
		t.Fatal(err)
	}
	if upper != String("ABC") {
		t.Errorf("upper() = %v, want ABC", upper)
	}

	sum, err := r.EvaluateOperator(ctx, "+", []Value{Integer(1), Integer(2)}, NewEvalContext(r, nil, nil))
	if err != nil {
		t.Fatal(err)
	}
	if sum != Integer(3) {
		t.Errorf("1 + 2 = %v, want 3", sum)
	}

	empty, err := r.EvaluateOperator(ctx, "+", []Value{Empty{}, Integer(2)}, NewEvalContext(r, nil, nil))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := empty.(Empty); !ok {
		t.Errorf("{} + 2 = %v, want empty", empty)
	}
}
