package fhirpath

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/damedic/fhirpath-engine/fhirpath/ast"
)

// Cardinality describes how a function consumes its input collection.
type Cardinality uint8

const (
	// SingletonInput functions yield empty for empty input and fail for more than one item.
	SingletonInput Cardinality = iota
	// ElementWise functions are applied to every item, the results are concatenated.
	ElementWise
	// CollectionInput functions receive the whole input collection.
	CollectionInput
)

// Param describes one function parameter.
type Param struct {
	Name string
	// Type is matched against the type of the evaluated argument.
	// The zero value and System.Any accept everything.
	// List parameters accept collections of any size.
	Type     TypeSpecifier
	Optional bool
}

// Signature describes an overload.
type Signature struct {
	Name string
	// Input is how the input collection is consumed.
	Input Cardinality
	// InputType restricts the type of the input items.
	InputType TypeSpecifier
	Params    []Param
	// Pure functions depend on input and arguments only and are memoised.
	Pure bool
	// PropagateEmpty makes the result empty if any argument is empty.
	PropagateEmpty bool
	// Operator is set for operator implementations.
	Operator *ast.OperatorInfo
}

func (s Signature) arity() (minArgs, maxArgs int) {
	for _, p := range s.Params {
		if !p.Optional {
			minArgs++
		}
	}
	return minArgs, len(s.Params)
}

func (s Signature) String() string {
	var b strings.Builder
	b.WriteString(s.Name)
	b.WriteByte('(')
	for i, p := range s.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Name)
		if p.Type.Name != "" {
			b.WriteString(": ")
			b.WriteString(p.Type.String())
		}
		if p.Optional {
			b.WriteByte('?')
		}
	}
	b.WriteByte(')')
	return b.String()
}

// Implementation is a function or operator body.
//
// TryEvaluateSync must not block. It returns ok=false if the call needs the
// blocking path, in which case Evaluate is called.
type Implementation interface {
	Signature() Signature
	TryEvaluateSync(ctx context.Context, ec EvalContext, input Collection, args []Collection) (result Collection, ok bool, err error)
	Evaluate(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, error)
}

type SyncBody = func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (result Collection, ok bool, err error)
type AsyncBody = func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, error)

// Func implements Implementation with plain functions.
// Either body may be nil, but not both.
type Func struct {
	Sig   Signature
	Sync  SyncBody
	Async AsyncBody
}

func (f *Func) Signature() Signature {
	return f.Sig
}

func (f *Func) TryEvaluateSync(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
	if f.Sync == nil {
		return nil, false, nil
	}
	return f.Sync(ctx, ec, input, args)
}

func (f *Func) Evaluate(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, error) {
	if f.Async != nil {
		return f.Async(ctx, ec, input, args)
	}
	if f.Sync != nil {
		result, ok, err := f.Sync(ctx, ec, input, args)
		if err != nil || ok {
			return result, err
		}
	}
	return nil, evaluationError(f.Sig.Name, "no evaluation path available")
}

// FunctionCacheKey identifies a resolution: a name and the types it was called with.
type FunctionCacheKey struct {
	Name      string
	Signature string
	Operator  bool
}

type resultEntry struct {
	key   string
	value Collection
}

// maxResultKeyLen skips memoisation of calls with large inputs.
const maxResultKeyLen = 4096

// Registry maps function and operator names to their overloads.
//
// Resolutions and results of pure functions are cached. A Registry is safe
// for concurrent use, including registration.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string][]Implementation
	ops   map[string][]Implementation
	// generation counts registrations, resolutions computed before the
	// latest one are not cached
	generation uint64

	resolutions *Cache[FunctionCacheKey, Implementation]
	results     *Cache[uint64, resultEntry]
	inflight    singleflight.Group
}

// NewRegistry creates an empty registry.
func NewRegistry(resolution, result CacheConfig) *Registry {
	return &Registry{
		funcs: make(map[string][]Implementation),
		ops:   make(map[string][]Implementation),
		resolutions: NewCache[FunctionCacheKey, Implementation](resolution, func(k FunctionCacheKey) uint64 {
			return xxhash.Sum64String(k.String())
		}),
		results: NewCache[uint64, resultEntry](result, func(h uint64) uint64 {
			return h
		}),
	}
}

// DefaultRegistry creates a registry holding all built-in functions and operators.
// Every call returns a new registry with its own caches.
func DefaultRegistry() *Registry {
	return newDefaultRegistry(DefaultCacheConfig, DefaultCacheConfig)
}

func newDefaultRegistry(resolution, result CacheConfig) *Registry {
	r := NewRegistry(resolution, result)
	r.Register(builtins()...)
	return r
}

func (k FunctionCacheKey) String() string {
	if k.Operator {
		return "operator " + k.Name + k.Signature
	}
	return k.Name + k.Signature
}

// Register adds overloads. Overloads registered earlier win ties.
//
// Implementations with Signature().Operator set are operators and live in
// their own namespace, so the contains operator and the contains function
// do not compete during resolution.
func (r *Registry) Register(impls ...Implementation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, impl := range impls {
		sig := impl.Signature()
		if sig.Operator != nil {
			r.ops[sig.Name] = append(r.ops[sig.Name], impl)
		} else {
			r.funcs[sig.Name] = append(r.funcs[sig.Name], impl)
		}
	}
	r.generation++
	r.resolutions.Clear()
}

// Has reports whether a function is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.funcs[name]) > 0
}

// HasOperator reports whether an operator is registered under symbol.
func (r *Registry) HasOperator(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ops[symbol]) > 0
}

// ResolutionStats returns the counters of the resolution cache.
func (r *Registry) ResolutionStats() CacheStats {
	return r.resolutions.Stats()
}

// ResultStats returns the counters of the pure result cache.
func (r *Registry) ResultStats() CacheStats {
	return r.results.Stats()
}

// ClearCaches empties both caches.
func (r *Registry) ClearCaches() {
	r.resolutions.Clear()
	r.results.Clear()
}

// staticType is the type used to resolve overloads for a collection.
// The zero TypeSpecifier stands for the empty collection.
func staticType(c Collection) TypeSpecifier {
	switch len(c) {
	case 0:
		return TypeSpecifier{}
	case 1:
		return typeOf(c[0])
	}
	return c.elementType()
}

func signatureKey(input TypeSpecifier, args []TypeSpecifier) string {
	var b strings.Builder
	b.WriteString(input.String())
	b.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(a.String())
	}
	b.WriteByte(')')
	return b.String()
}

// Resolve returns the cheapest overload of name accepting input and args.
//
// Exact type matches cost nothing, implicit conversions cost more and
// untyped parameters most. The empty collection matches every type.
func (r *Registry) Resolve(name string, input TypeSpecifier, args []TypeSpecifier) (Implementation, error) {
	return r.resolveCached(FunctionCacheKey{Name: name, Signature: signatureKey(input, args)}, input, args)
}

// ResolveOperator is Resolve for operators. Binary operators receive the
// left operand as input and the right one as their only argument.
func (r *Registry) ResolveOperator(symbol string, input TypeSpecifier, args []TypeSpecifier) (Implementation, error) {
	return r.resolveCached(FunctionCacheKey{Name: symbol, Signature: signatureKey(input, args), Operator: true}, input, args)
}

func (r *Registry) resolveCached(key FunctionCacheKey, input TypeSpecifier, args []TypeSpecifier) (Implementation, error) {
	if impl, ok := r.resolutions.Get(key); ok {
		return impl, nil
	}
	gen := r.currentGeneration()
	v, err, _ := r.inflight.Do(key.String()+"#"+strconv.FormatUint(gen, 10), func() (any, error) {
		impl, err := r.resolve(key, input, args)
		if err != nil {
			return nil, err
		}
		r.cacheResolution(key, impl, gen)
		return impl, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Implementation), nil
}

func (r *Registry) currentGeneration() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// cacheResolution stores impl unless a registration happened after gen.
func (r *Registry) cacheResolution(key FunctionCacheKey, impl Implementation, gen uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.generation != gen {
		return false
	}
	r.resolutions.Add(key, impl)
	return true
}

func (r *Registry) resolve(key FunctionCacheKey, input TypeSpecifier, args []TypeSpecifier) (Implementation, error) {
	name := key.Name
	r.mu.RLock()
	candidates := r.funcs[name]
	if key.Operator {
		candidates = r.ops[name]
	}
	r.mu.RUnlock()

	if len(candidates) == 0 {
		if key.Operator {
			return nil, evaluationError(name, "operator %q not supported", name)
		}
		return nil, evaluationError(name, "function %q not found", name)
	}

	var (
		best     Implementation
		bestCost = -1
		arityOK  bool
	)
	for _, impl := range candidates {
		sig := impl.Signature()
		minArgs, maxArgs := sig.arity()
		if len(args) < minArgs || len(args) > maxArgs {
			continue
		}
		arityOK = true

		cost, ok := inputCost(input, sig.InputType)
		if !ok {
			continue
		}
		for i, a := range args {
			c, ok := paramCost(a, sig.Params[i].Type)
			if !ok {
				cost = -1
				break
			}
			cost += c
		}
		if cost < 0 {
			continue
		}
		if bestCost < 0 || cost < bestCost {
			best, bestCost = impl, cost
		}
	}

	if !arityOK {
		return nil, argumentCountError(name, arityDescription(candidates), len(args))
	}
	if best == nil {
		return nil, typeError(name, "no overload of %s accepts %s", name, signatureKey(input, args))
	}
	return best, nil
}

func arityDescription(impls []Implementation) string {
	lo, hi := -1, 0
	for _, impl := range impls {
		minArgs, maxArgs := impl.Signature().arity()
		if lo < 0 || minArgs < lo {
			lo = minArgs
		}
		hi = max(hi, maxArgs)
	}
	if lo == hi {
		return strconv.Itoa(lo)
	}
	return fmt.Sprintf("%d to %d", lo, hi)
}

func inputCost(actual, want TypeSpecifier) (int, bool) {
	actual.List = false
	want.List = true
	return paramCost(actual, want)
}

// paramCost is the cost of passing a value of type actual to a parameter of type want.
func paramCost(actual, want TypeSpecifier) (int, bool) {
	if actual.Name == "" {
		return 0, true
	}
	if actual.List && !want.List {
		return 0, false
	}
	if want.Name == "" || want.Name == "Any" {
		return 3, true
	}
	if actual.Matches(want) {
		return 0, true
	}
	switch {
	case actual.Name == "Integer" && want.Name == "Decimal",
		actual.Name == "Date" && want.Name == "DateTime":
		return 1, true
	case (actual.Name == "Integer" || actual.Name == "Decimal") && want.Name == "Quantity",
		actual.Name == "String" && (want.Name == "Date" || want.Name == "DateTime" || want.Name == "Time"),
		actual.Namespace == "FHIR" && want.Name == "Quantity":
		return 2, true
	}
	return 0, false
}

// Evaluate calls the function name on the input of ec.
func (r *Registry) Evaluate(ctx context.Context, name string, args []Value, ec EvalContext) (Value, error) {
	collections := make([]Collection, len(args))
	for i, a := range args {
		collections[i] = Items(a)
	}
	result, err := r.call(ctx, ec, name, ec.Input(), collections)
	if err != nil {
		return nil, err
	}
	return result.Value(), nil
}

// EvaluateOperator applies a unary or binary operator to already evaluated operands.
func (r *Registry) EvaluateOperator(ctx context.Context, symbol string, operands []Value, ec EvalContext) (Value, error) {
	if len(operands) == 0 {
		return nil, argumentCountError(symbol, "1 to 2", 0)
	}
	collections := make([]Collection, len(operands))
	for i, o := range operands {
		collections[i] = Items(o)
	}
	result, err := r.callOperator(ctx, ec, symbol, collections[0], collections[1:])
	if err != nil {
		return nil, err
	}
	return result.Value(), nil
}

// call resolves and invokes name with already evaluated arguments.
func (r *Registry) call(ctx context.Context, ec EvalContext, name string, input Collection, args []Collection) (Collection, error) {
	impl, err := r.Resolve(name, staticType(input), argumentTypes(args))
	if err != nil {
		return nil, err
	}
	return r.invoke(ctx, ec, impl, input, args)
}

func (r *Registry) callOperator(ctx context.Context, ec EvalContext, symbol string, left Collection, right []Collection) (Collection, error) {
	impl, err := r.ResolveOperator(symbol, staticType(left), argumentTypes(right))
	if err != nil {
		return nil, err
	}
	return r.invoke(ctx, ec, impl, left, right)
}

func argumentTypes(args []Collection) []TypeSpecifier {
	types := make([]TypeSpecifier, len(args))
	for i, a := range args {
		types[i] = staticType(a)
	}
	return types
}

func (r *Registry) invoke(ctx context.Context, ec EvalContext, impl Implementation, input Collection, args []Collection) (Collection, error) {
	sig := impl.Signature()
	if sig.PropagateEmpty {
		for _, a := range args {
			if len(a) == 0 {
				return nil, nil
			}
		}
	}
	if sig.Input == SingletonInput {
		if len(input) == 0 {
			return nil, nil
		}
		if len(input) > 1 {
			return nil, typeError(sig.Name, "expected single input element, got %d", len(input))
		}
	}

	if !sig.Pure {
		return r.execute(ctx, ec, impl, input, args)
	}

	name := sig.Name
	if sig.Operator != nil {
		name = "operator " + name
	}
	key, cacheable := resultKey(ctx, name, input, args)
	if !cacheable {
		return r.execute(ctx, ec, impl, input, args)
	}
	h := xxhash.Sum64String(key)
	if entry, ok := r.results.Get(h); ok && entry.key == key {
		return entry.value, nil
	}
	result, err := r.execute(ctx, ec, impl, input, args)
	if err != nil {
		return nil, err
	}
	r.results.Add(h, resultEntry{key: key, value: result})
	return result, nil
}

func (r *Registry) execute(ctx context.Context, ec EvalContext, impl Implementation, input Collection, args []Collection) (Collection, error) {
	if impl.Signature().Input != ElementWise {
		return run(ctx, ec, impl, input, args)
	}
	var result Collection
	for _, e := range input {
		items, err := run(ctx, ec, impl, Collection{e}, args)
		if err != nil {
			return nil, err
		}
		result = append(result, items...)
	}
	return result, nil
}

// run tries the non-blocking path first.
func run(ctx context.Context, ec EvalContext, impl Implementation, input Collection, args []Collection) (Collection, error) {
	result, ok, err := impl.TryEvaluateSync(ctx, ec, input, args)
	if err != nil {
		return nil, wrapError(impl.Signature().Name, err)
	}
	if ok {
		return result, nil
	}
	result, err = impl.Evaluate(ctx, ec, input, args)
	return result, wrapError(impl.Signature().Name, err)
}

// resultKey serialises a call of a pure function. Decimal results depend
// on the apd context, so its settings are part of the key.
//
// Only calls over System values are memoised. Document nodes with equal
// content differ in their parent and path, which the key can not express.
func resultKey(ctx context.Context, name string, input Collection, args []Collection) (string, bool) {
	if !systemValues(input) {
		return "", false
	}
	for _, a := range args {
		if !systemValues(a) {
			return "", false
		}
	}
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('|')
	b.WriteString(input.debugString())
	for _, a := range args {
		b.WriteByte('|')
		b.WriteString(a.debugString())
		if b.Len() > maxResultKeyLen {
			return "", false
		}
	}
	c := apdContext(ctx)
	fmt.Fprintf(&b, "|p%d r%v", c.Precision, c.Rounding)
	if b.Len() > maxResultKeyLen {
		return "", false
	}
	return b.String(), true
}

func systemValues(c Collection) bool {
	for _, e := range c {
		if !isSystemValue(e) {
			return false
		}
	}
	return true
}
