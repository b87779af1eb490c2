package fhirpath

import (
	"log/slog"
)

// LambdaMetadata holds the implicit variables of one lambda iteration.
type LambdaMetadata struct {
	// This is bound to $this.
	This Element
	// Index is bound to $index.
	Index int
	// Total is bound to $total: the accumulator in aggregate, the item count elsewhere.
	Total Collection
}

// varFrame is one binding of a persistent, singly linked variable list.
// Deriving a context prepends a frame and never touches the parent.
type varFrame struct {
	name   string
	value  Collection
	parent *varFrame
}

func (f *varFrame) lookup(name string) (Collection, bool) {
	for ; f != nil; f = f.parent {
		if f.name == name {
			return f.value, true
		}
	}
	return nil, false
}

// evalConfig is shared by all contexts derived from one evaluation.
type evalConfig struct {
	maxIterations int
	maxResults    int
	logger        *slog.Logger
}

var defaultEvalConfig = &evalConfig{
	maxIterations: DefaultMaxRepeatIterations,
	maxResults:    DefaultMaxRepeatResults,
	logger:        slog.Default(),
}

// EvalContext is the immutable state an expression is evaluated in.
//
// The With* methods return derived contexts and never modify the receiver,
// so a context can be shared between sibling lambda iterations.
type EvalContext struct {
	input    Collection
	root     Collection
	vars     *varFrame
	lambda   *LambdaMetadata
	registry *Registry
	provider ModelProvider
	config   *evalConfig
}

// NewEvalContext creates the root context for evaluating against input.
// A nil registry or provider falls back to DefaultRegistry and SystemProvider.
func NewEvalContext(registry *Registry, provider ModelProvider, input Collection) EvalContext {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if provider == nil {
		provider = SystemProvider{}
	}
	return EvalContext{
		input:    input,
		root:     input,
		registry: registry,
		provider: provider,
		config:   defaultEvalConfig,
	}
}

func (ec EvalContext) Input() Collection {
	return ec.input
}
func (ec EvalContext) Root() Collection {
	return ec.root
}
func (ec EvalContext) Registry() *Registry {
	return ec.registry
}
func (ec EvalContext) Provider() ModelProvider {
	return ec.provider
}
func (ec EvalContext) Lambda() (LambdaMetadata, bool) {
	if ec.lambda == nil {
		return LambdaMetadata{}, false
	}
	return *ec.lambda, true
}

// WithInput returns a context focused on input.
func (ec EvalContext) WithInput(input Collection) EvalContext {
	ec.input = input
	return ec
}

// WithVariable binds name to value. A later binding shadows an earlier one.
func (ec EvalContext) WithVariable(name string, value Collection) EvalContext {
	ec.vars = &varFrame{name: name, value: value, parent: ec.vars}
	return ec
}

// WithLambda starts a lambda iteration focused on m.This.
func (ec EvalContext) WithLambda(m LambdaMetadata) EvalContext {
	ec.lambda = &m
	if m.This != nil {
		ec.input = Collection{m.This}
	} else {
		ec.input = nil
	}
	return ec
}

func (ec EvalContext) withConfig(config *evalConfig) EvalContext {
	ec.config = config
	return ec
}

// Variable resolves %name, $this, $index and $total.
// Lambda metadata takes precedence over bound variables.
func (ec EvalContext) Variable(name string) (Collection, error) {
	if ec.lambda != nil {
		switch name {
		case "this":
			if ec.lambda.This == nil {
				return nil, nil
			}
			return Collection{ec.lambda.This}, nil
		case "index":
			return Collection{Integer(ec.lambda.Index)}, nil
		case "total":
			return ec.lambda.Total, nil
		}
	}
	if v, ok := ec.vars.lookup(name); ok {
		return v, nil
	}
	return nil, newError(KindUndefinedVariable, name, "environment variable %q undefined", name)
}

// isBound reports whether name is bound as a variable, ignoring lambda metadata.
func (ec EvalContext) isBound(name string) bool {
	_, ok := ec.vars.lookup(name)
	return ok
}

// This returns $this, or the input outside of lambdas.
func (ec EvalContext) This() Collection {
	if ec.lambda != nil {
		v, _ := ec.Variable("this")
		return v
	}
	return ec.input
}

// Index returns $index.
func (ec EvalContext) Index() (Integer, error) {
	v, err := ec.Variable("index")
	if err != nil {
		return 0, err
	}
	i, _, err := Singleton[Integer](v)
	return i, err
}

// Total returns $total.
func (ec EvalContext) Total() (Collection, error) {
	return ec.Variable("total")
}
