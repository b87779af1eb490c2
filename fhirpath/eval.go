package fhirpath

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/cockroachdb/apd/v3"

	"github.com/damedic/fhirpath-engine/fhirpath/ast"
)

// Ceilings of repeat(), repeatAll() and descendants(). Exceeding one aborts
// the evaluation with an evaluation error.
const (
	DefaultMaxRepeatIterations = 1000
	DefaultMaxRepeatResults    = 10000
)

// EvaluateNode evaluates a single expression tree in ec.
func EvaluateNode(ctx context.Context, node ast.Node, ec EvalContext) (Collection, error) {
	result, _, err := eval(ctx, node, ec, true)
	return result, err
}

// eval evaluates node with the input of ec. The returned context carries
// variables defined by defineVariable() to the rest of an invocation chain.
// atRoot is true where an identifier may name the type of the input.
func eval(ctx context.Context, node ast.Node, ec EvalContext, atRoot bool) (Collection, EvalContext, error) {
	switch n := node.(type) {
	case ast.Literal:
		result, err := literal(n)
		return result, ec, err
	case ast.Identifier:
		result, err := member(ctx, ec, n.Name, atRoot)
		return result, ec, err
	case ast.Invocation:
		target, tec, err := eval(ctx, n.Target, ec, atRoot)
		if err != nil {
			return nil, ec, err
		}
		return eval(ctx, n.Member, tec.WithInput(target), false)
	case ast.Function:
		return callFunction(ctx, n, ec)
	case ast.Index:
		return index(ctx, n, ec, atRoot)
	case ast.Unary:
		operand, _, err := eval(ctx, n.Operand, ec, atRoot)
		if err != nil || n.Op == "+" {
			return operand, ec, err
		}
		result, err := ec.registry.callOperator(ctx, ec, n.Op, operand, nil)
		return result, ec, err
	case ast.Binary:
		result, err := binaryOperator(ctx, n, ec)
		return result, ec, err
	case ast.TypeOp:
		operand, _, err := eval(ctx, n.Operand, ec, atRoot)
		if err != nil {
			return nil, ec, err
		}
		spec := TypeSpecifier{Namespace: n.Type.Namespace, Name: n.Type.Name}
		result, err := ec.registry.call(ctx, ec, n.Op, operand, []Collection{{spec}})
		return result, ec, err
	case ast.Variable:
		result, err := ec.Variable(n.Name)
		return result, ec, err
	case ast.LambdaVariable:
		if n.Name == "this" {
			return ec.This(), ec, nil
		}
		result, err := ec.Variable(n.Name)
		return result, ec, err
	case ast.Paren:
		result, _, err := eval(ctx, n.Expr, ec, atRoot)
		return result, ec, err
	case nil:
		return nil, ec, evaluationError("", "can not evaluate empty expression")
	default:
		return nil, ec, evaluationError("", "unexpected expression %T", node)
	}
}

func literal(l ast.Literal) (Collection, error) {
	switch l.Kind {
	case ast.EmptyLiteral:
		return nil, nil
	case ast.BooleanLiteral:
		return Collection{Boolean(l.Text == "true")}, nil
	case ast.StringLiteral:
		return Collection{String(l.Text)}, nil
	case ast.NumberLiteral, ast.LongNumberLiteral:
		if !strings.Contains(l.Text, ".") {
			i, err := strconv.ParseInt(l.Text, 10, 64)
			if err != nil {
				return nil, evaluationError("", "invalid integer literal %s: %v", l.Text, err)
			}
			return Collection{Integer(i)}, nil
		}
		d, _, err := apd.NewFromString(l.Text)
		if err != nil {
			return nil, evaluationError("", "invalid decimal literal %s: %v", l.Text, err)
		}
		return Collection{Decimal{Value: d}}, nil
	case ast.DateLiteral:
		d, err := ParseDate(l.Text)
		if err != nil {
			return nil, evaluationError("", "%v", err)
		}
		return Collection{d}, nil
	case ast.DateTimeLiteral:
		dt, err := ParseDateTime(l.Text)
		if err != nil {
			return nil, evaluationError("", "%v", err)
		}
		return Collection{dt}, nil
	case ast.TimeLiteral:
		t, err := ParseTime(l.Text)
		if err != nil {
			return nil, evaluationError("", "%v", err)
		}
		return Collection{t}, nil
	case ast.QuantityLiteral:
		v, _, err := apd.NewFromString(l.Text)
		if err != nil {
			return nil, evaluationError("", "invalid quantity literal %s: %v", l, err)
		}
		return Collection{Quantity{Value: Decimal{Value: v}, Unit: String(l.Unit)}}, nil
	}
	return nil, evaluationError("", "unknown literal kind %d", l.Kind)
}

// member navigates to the children called name. At the root of an
// expression a type name selects the input if it is of that type.
func member(ctx context.Context, ec EvalContext, name string, atRoot bool) (Collection, error) {
	var members Collection
	for _, e := range ec.input {
		members = append(members, e.Children(name)...)
	}
	if len(members) > 0 || !atRoot || !startsUpper(name) {
		return members, nil
	}
	target := TypeSpecifier{Name: name}
	for _, e := range ec.input {
		is, err := isOfType(ctx, ec.provider, e, target)
		if err != nil {
			return nil, wrapError(name, err)
		}
		if is {
			members = append(members, e)
		}
	}
	return members, nil
}

func startsUpper(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}

func index(ctx context.Context, n ast.Index, ec EvalContext, atRoot bool) (Collection, EvalContext, error) {
	target, tec, err := eval(ctx, n.Target, ec, atRoot)
	if err != nil {
		return nil, ec, err
	}
	idx, _, err := eval(ctx, n.Index, ec.argumentContext(), true)
	if err != nil {
		return nil, ec, err
	}
	i, ok, err := Singleton[Integer](idx)
	if err != nil {
		return nil, ec, wrapError("[]", err)
	}
	if !ok || i < 0 || int64(i) >= int64(len(target)) {
		return nil, tec, nil
	}
	return Collection{target[i]}, tec, nil
}

// argumentContext is where arguments of functions and indexers are
// evaluated: the current $this inside lambdas, the root input elsewhere.
func (ec EvalContext) argumentContext() EvalContext {
	if ec.lambda != nil {
		return ec.WithInput(ec.This())
	}
	return ec.WithInput(ec.root)
}

// binaryOperator short-circuits and, or and implies on the left operand.
func binaryOperator(ctx context.Context, n ast.Binary, ec EvalContext) (Collection, error) {
	left, _, err := eval(ctx, n.Left, ec, true)
	if err != nil {
		return nil, err
	}
	switch n.Op {
	case "and", "or", "implies":
		l, known, err := logicValue(n.Op, left)
		if err != nil {
			return nil, err
		}
		if known {
			switch {
			case n.Op == "and" && !l:
				return Collection{Boolean(false)}, nil
			case n.Op == "or" && l:
				return Collection{Boolean(true)}, nil
			case n.Op == "implies" && !l:
				return Collection{Boolean(true)}, nil
			}
		}
	}
	right, _, err := eval(ctx, n.Right, ec, true)
	if err != nil {
		return nil, err
	}
	return ec.registry.callOperator(ctx, ec, n.Op, left, []Collection{right})
}

// lambdaForms are evaluated here because their arguments are evaluated
// once per input item instead of once per call.
var lambdaForms map[string]lambdaForm

type lambdaForm func(ctx context.Context, f ast.Function, ec EvalContext) (Collection, EvalContext, error)

// the forms call back into eval, so the table is filled at init
func init() {
	lambdaForms = map[string]lambdaForm{
		"where":          where,
		"select":         selectFn,
		"all":            all,
		"any":            anyFn,
		"exists":         existsFn,
		"repeat":         repeat,
		"repeatAll":      repeatAll,
		"descendants":    descendants,
		"aggregate":      aggregate,
		"iif":            iif,
		"sort":           sortFn,
		"trace":          trace,
		"defineVariable": defineVariable,
	}
}

func callFunction(ctx context.Context, f ast.Function, ec EvalContext) (Collection, EvalContext, error) {
	if form, ok := lambdaForms[f.Name]; ok {
		// exists() without criteria is a plain function
		if f.Name != "exists" || len(f.Args) > 0 {
			return form(ctx, f, ec)
		}
	}

	args := make([]Collection, len(f.Args))
	switch f.Name {
	case "is", "as", "ofType":
		if len(f.Args) != 1 {
			return nil, ec, argumentCountError(f.Name, "1", len(f.Args))
		}
		spec, err := typeSpecifierOf(f.Name, f.Args[0])
		if err != nil {
			return nil, ec, err
		}
		args[0] = Collection{spec}
	default:
		argEC := ec.argumentContext()
		for i, a := range f.Args {
			arg, _, err := eval(ctx, a, argEC, true)
			if err != nil {
				return nil, ec, err
			}
			args[i] = arg
		}
	}
	result, err := ec.registry.call(ctx, ec, f.Name, ec.input, args)
	return result, ec, err
}

// typeSpecifierOf reads a type name passed as function argument, e.g. ofType(FHIR.Patient).
func typeSpecifierOf(name string, node ast.Node) (TypeSpecifier, error) {
	switch n := node.(type) {
	case ast.Identifier:
		return TypeSpecifier{Name: n.Name}, nil
	case ast.Invocation:
		ns, nsOK := n.Target.(ast.Identifier)
		id, idOK := n.Member.(ast.Identifier)
		if nsOK && idOK {
			return TypeSpecifier{Namespace: ns.Name, Name: id.Name}, nil
		}
	case ast.TypeName:
		return TypeSpecifier{Namespace: n.Namespace, Name: n.Name}, nil
	}
	return TypeSpecifier{}, typeError(name, "expected type specifier argument, got %s", node)
}

func checkArgs(f ast.Function, minArgs, maxArgs int) error {
	if len(f.Args) < minArgs || len(f.Args) > maxArgs {
		want := strconv.Itoa(minArgs)
		if minArgs != maxArgs {
			want += " to " + strconv.Itoa(maxArgs)
		}
		return argumentCountError(f.Name, want, len(f.Args))
	}
	return nil
}

// iterate evaluates body once per input item, each in its own lambda scope.
// visit stops the iteration by returning false.
func iterate(ctx context.Context, body ast.Node, ec EvalContext, visit func(i int, e Element, result Collection) (bool, error)) error {
	total := Collection{Integer(len(ec.input))}
	for i, e := range ec.input {
		result, _, err := eval(ctx, body, ec.WithLambda(LambdaMetadata{This: e, Index: i, Total: total}), true)
		if err != nil {
			return err
		}
		more, err := visit(i, e, result)
		if err != nil || !more {
			return err
		}
	}
	return nil
}

func where(ctx context.Context, f ast.Function, ec EvalContext) (Collection, EvalContext, error) {
	if err := checkArgs(f, 1, 1); err != nil {
		return nil, ec, err
	}
	var result Collection
	err := iterate(ctx, f.Args[0], ec, func(i int, e Element, criteria Collection) (bool, error) {
		b, ok, err := truthy("where", criteria)
		if ok && b {
			result = append(result, e)
		}
		return true, err
	})
	return result, ec, err
}

func selectFn(ctx context.Context, f ast.Function, ec EvalContext) (Collection, EvalContext, error) {
	if err := checkArgs(f, 1, 1); err != nil {
		return nil, ec, err
	}
	var result Collection
	err := iterate(ctx, f.Args[0], ec, func(i int, e Element, projection Collection) (bool, error) {
		result = append(result, projection...)
		return true, nil
	})
	return result, ec, err
}

// all is true for an empty input.
func all(ctx context.Context, f ast.Function, ec EvalContext) (Collection, EvalContext, error) {
	if err := checkArgs(f, 1, 1); err != nil {
		return nil, ec, err
	}
	holds := true
	err := iterate(ctx, f.Args[0], ec, func(i int, e Element, criteria Collection) (bool, error) {
		b, ok, err := truthy("all", criteria)
		holds = ok && b
		return holds, err
	})
	if err != nil {
		return nil, ec, err
	}
	return Collection{Boolean(holds)}, ec, nil
}

// anyFn is false for an empty input.
func anyFn(ctx context.Context, f ast.Function, ec EvalContext) (Collection, EvalContext, error) {
	if err := checkArgs(f, 1, 1); err != nil {
		return nil, ec, err
	}
	found := false
	err := iterate(ctx, f.Args[0], ec, func(i int, e Element, criteria Collection) (bool, error) {
		b, ok, err := truthy("any", criteria)
		found = ok && b
		return !found, err
	})
	if err != nil {
		return nil, ec, err
	}
	return Collection{Boolean(found)}, ec, nil
}

func existsFn(ctx context.Context, f ast.Function, ec EvalContext) (Collection, EvalContext, error) {
	if err := checkArgs(f, 1, 1); err != nil {
		return nil, ec, err
	}
	result, ec, err := anyFn(ctx, f, ec)
	return result, ec, wrapError("exists", err)
}

func repeat(ctx context.Context, f ast.Function, ec EvalContext) (Collection, EvalContext, error) {
	if err := checkArgs(f, 1, 1); err != nil {
		return nil, ec, err
	}
	result, err := expand(ctx, "repeat", ec, lambdaProjection(f.Args[0]), true)
	return result, ec, err
}

func repeatAll(ctx context.Context, f ast.Function, ec EvalContext) (Collection, EvalContext, error) {
	if err := checkArgs(f, 1, 1); err != nil {
		return nil, ec, err
	}
	result, err := expand(ctx, "repeatAll", ec, lambdaProjection(f.Args[0]), false)
	return result, ec, err
}

func descendants(ctx context.Context, f ast.Function, ec EvalContext) (Collection, EvalContext, error) {
	if err := checkArgs(f, 0, 0); err != nil {
		return nil, ec, err
	}
	children := func(ctx context.Context, ec EvalContext, i int, e Element) (Collection, error) {
		return e.Children(), nil
	}
	result, err := expand(ctx, "descendants", ec, children, true)
	return result, ec, err
}

type projection func(ctx context.Context, ec EvalContext, i int, e Element) (Collection, error)

func lambdaProjection(body ast.Node) projection {
	return func(ctx context.Context, ec EvalContext, i int, e Element) (Collection, error) {
		result, _, err := eval(ctx, body, ec.WithLambda(LambdaMetadata{This: e, Index: i, Total: Collection{Integer(len(ec.input))}}), true)
		return result, err
	}
}

// expand applies project breadth first until no new items are found.
//
// With dedup, items are identified by identityKey and reported once. The
// input items are not part of the result unless a projection reaches them
// again. The ceilings of the evaluation bound the number of rounds and results.
func expand(ctx context.Context, name string, ec EvalContext, project projection, dedup bool) (Collection, error) {
	var (
		result Collection
		seen   = make(map[string]struct{})
		queue  = ec.input
	)
	for round := 0; len(queue) > 0; round++ {
		if round >= ec.config.maxIterations {
			ec.config.logger.Debug("fhirpath repeat aborted",
				slog.String("function", name), slog.Int("iterations", round))
			return nil, evaluationError(name, "exceeded %d iterations", ec.config.maxIterations)
		}
		var next Collection
		for i, e := range queue {
			items, err := project(ctx, ec, i, e)
			if err != nil {
				return nil, err
			}
			for _, item := range items {
				if dedup {
					k := identityKey(item)
					if _, ok := seen[k]; ok {
						continue
					}
					seen[k] = struct{}{}
				}
				result = append(result, item)
				next = append(next, item)
				if len(result) > ec.config.maxResults {
					ec.config.logger.Debug("fhirpath repeat aborted",
						slog.String("function", name), slog.Int("results", len(result)))
					return nil, evaluationError(name, "exceeded %d results", ec.config.maxResults)
				}
			}
		}
		queue = next
	}
	return result, nil
}

func aggregate(ctx context.Context, f ast.Function, ec EvalContext) (Collection, EvalContext, error) {
	if err := checkArgs(f, 1, 2); err != nil {
		return nil, ec, err
	}
	var total Collection
	if len(f.Args) == 2 {
		init, _, err := eval(ctx, f.Args[1], ec.argumentContext(), true)
		if err != nil {
			return nil, ec, err
		}
		total = init
	}
	for i, e := range ec.input {
		next, _, err := eval(ctx, f.Args[0], ec.WithLambda(LambdaMetadata{This: e, Index: i, Total: total}), true)
		if err != nil {
			return nil, ec, err
		}
		total = next
	}
	return total, ec, nil
}

// iif evaluates only the branch that is taken.
func iif(ctx context.Context, f ast.Function, ec EvalContext) (Collection, EvalContext, error) {
	if err := checkArgs(f, 2, 3); err != nil {
		return nil, ec, err
	}
	if len(ec.input) > 1 {
		return nil, ec, evaluationError("iif", "expected at most one input item, got %d", len(ec.input))
	}
	scope := ec
	if len(ec.input) == 1 {
		m := LambdaMetadata{This: ec.input[0], Total: ec.input}
		if ec.lambda != nil {
			// $index and $total of an enclosing lambda stay visible, as in aggregate()
			m.Index, m.Total = ec.lambda.Index, ec.lambda.Total
		}
		scope = ec.WithLambda(m)
	} else if ec.lambda == nil {
		scope = ec.argumentContext()
	}
	criterion, _, err := eval(ctx, f.Args[0], scope, true)
	if err != nil {
		return nil, ec, err
	}
	b, ok, err := truthy("iif", criterion)
	if err != nil {
		return nil, ec, err
	}
	branch := 1
	if !ok || !b {
		if len(f.Args) < 3 {
			return nil, ec, nil
		}
		branch = 2
	}
	result, _, err := eval(ctx, f.Args[branch], scope, true)
	return result, ec, err
}

type sortKey struct {
	expr       ast.Node
	descending bool
}

// sortFn orders by the given keys, a key prefixed with - sorts descending.
// Items with an empty key sort first.
func sortFn(ctx context.Context, f ast.Function, ec EvalContext) (Collection, EvalContext, error) {
	keys := make([]sortKey, len(f.Args))
	for i, a := range f.Args {
		keys[i] = sortKey{expr: a}
		if u, ok := a.(ast.Unary); ok && u.Op == "-" {
			keys[i] = sortKey{expr: u.Operand, descending: true}
		}
	}

	type item struct {
		elem Element
		keys []Element
	}
	items := make([]item, len(ec.input))
	total := Collection{Integer(len(ec.input))}
	for i, e := range ec.input {
		items[i] = item{elem: e, keys: make([]Element, len(keys))}
		for j, k := range keys {
			v, _, err := eval(ctx, k.expr, ec.WithLambda(LambdaMetadata{This: e, Index: i, Total: total}), true)
			if err != nil {
				return nil, ec, err
			}
			switch len(v) {
			case 0:
			case 1:
				items[i].keys[j] = v[0]
			default:
				return nil, ec, evaluationError("sort", "sort key %d evaluated to %d items", j+1, len(v))
			}
		}
	}

	var sortErr error
	compare := func(a, b Element) int {
		cmp, _, err := compareElements(a, b)
		if err != nil && sortErr == nil {
			sortErr = wrapError("sort", err)
		}
		return cmp
	}
	slices.SortStableFunc(items, func(a, b item) int {
		if len(keys) == 0 {
			return compare(a.elem, b.elem)
		}
		for j, k := range keys {
			av, bv := a.keys[j], b.keys[j]
			var cmp int
			switch {
			case av == nil && bv == nil:
				continue
			case av == nil:
				cmp = -1
			case bv == nil:
				cmp = 1
			default:
				cmp = compare(av, bv)
			}
			if cmp != 0 {
				if k.descending {
					cmp = -cmp
				}
				return cmp
			}
		}
		return 0
	})
	if sortErr != nil {
		return nil, ec, sortErr
	}

	result := make(Collection, len(items))
	for i, it := range items {
		result[i] = it.elem
	}
	return result, ec, nil
}

// trace logs its input, or a projection of it, and returns the input unchanged.
func trace(ctx context.Context, f ast.Function, ec EvalContext) (Collection, EvalContext, error) {
	if err := checkArgs(f, 1, 2); err != nil {
		return nil, ec, err
	}
	nameArg, _, err := eval(ctx, f.Args[0], ec.argumentContext(), true)
	if err != nil {
		return nil, ec, err
	}
	name, err := argOf[String]("trace", nameArg)
	if err != nil {
		return nil, ec, err
	}
	logged := ec.input
	if len(f.Args) == 2 {
		logged = nil
		err := iterate(ctx, f.Args[1], ec, func(i int, e Element, projection Collection) (bool, error) {
			logged = append(logged, projection...)
			return true, nil
		})
		if err != nil {
			return nil, ec, err
		}
	}
	if err := tracer(ctx, ec.config.logger).Log(string(name), logged); err != nil {
		return nil, ec, evaluationError("trace", "%v", err)
	}
	return ec.input, ec, nil
}

// defineVariable binds %name for the rest of the invocation chain.
func defineVariable(ctx context.Context, f ast.Function, ec EvalContext) (Collection, EvalContext, error) {
	if err := checkArgs(f, 1, 2); err != nil {
		return nil, ec, err
	}
	nameArg, _, err := eval(ctx, f.Args[0], ec.argumentContext(), true)
	if err != nil {
		return nil, ec, err
	}
	name, err := argOf[String]("defineVariable", nameArg)
	if err != nil {
		return nil, ec, err
	}
	if ec.isBound(string(name)) {
		return nil, ec, evaluationError("defineVariable", "variable %%%s already defined", name)
	}
	value := ec.input
	if len(f.Args) == 2 {
		value, _, err = eval(ctx, f.Args[1], ec, true)
		if err != nil {
			return nil, ec, err
		}
	}
	return ec.input, ec.WithVariable(string(name), value), nil
}
