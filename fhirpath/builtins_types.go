package fhirpath

import (
	"context"
)

var typeSpecifierParam = param("type", "System.TypeSpecifier")

// Functions consulting the ModelProvider are impure. Their sync path only
// decides System types and defers everything else to the blocking path.
func typeBuiltins() []Implementation {
	return []Implementation{
		&Func{
			Sig: fn("type", ElementWise).impure(),
			Sync: func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
				if !isSystemValue(input[0]) {
					return nil, false, nil
				}
				return done(input[0].TypeInfo())
			},
			Async: func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, error) {
				name, err := ec.Provider().ExtractTypeName(ctx, input[0])
				if err != nil {
					return nil, err
				}
				if isSystemValue(input[0]) {
					return Collection{input[0].TypeInfo()}, nil
				}
				info := ClassInfo{
					Namespace: name.Namespace,
					Name:      name.Name,
					BaseType:  TypeSpecifier{Namespace: "FHIR", Name: "Element"},
				}
				if ti, ok := input[0].TypeInfo().(ClassInfo); ok {
					info.Element = ti.Element
				}
				return Collection{info}, nil
			},
		},
		&Func{
			Sig: fn("is", SingletonInput, typeSpecifierParam).impure(),
			Sync: func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
				target, err := typeArgument("is", args)
				if err != nil {
					return fail(err)
				}
				is, decided := systemTypeCheck(input[0], target)
				if !decided {
					return nil, false, nil
				}
				return doneBool(is)
			},
			Async: func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, error) {
				target, err := typeArgument("is", args)
				if err != nil {
					return nil, err
				}
				is, err := isOfType(ctx, ec.Provider(), input[0], target)
				if err != nil {
					return nil, err
				}
				return Collection{Boolean(is)}, nil
			},
		},
		&Func{
			Sig: fn("as", SingletonInput, typeSpecifierParam).impure(),
			Sync: func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
				target, err := typeArgument("as", args)
				if err != nil {
					return fail(err)
				}
				is, decided := systemTypeCheck(input[0], target)
				if !decided {
					return nil, false, nil
				}
				if !is {
					return done()
				}
				return input, true, nil
			},
			Async: func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, error) {
				target, err := typeArgument("as", args)
				if err != nil {
					return nil, err
				}
				return castTo(ctx, ec.Provider(), input[0], target)
			},
		},
		&Func{
			Sig: fn("ofType", CollectionInput, typeSpecifierParam).impure(),
			Sync: func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
				target, err := typeArgument("ofType", args)
				if err != nil {
					return fail(err)
				}
				var result Collection
				for _, e := range input {
					is, decided := systemTypeCheck(e, target)
					if !decided {
						return nil, false, nil
					}
					if is {
						result = append(result, e)
					}
				}
				return result, true, nil
			},
			Async: func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, error) {
				target, err := typeArgument("ofType", args)
				if err != nil {
					return nil, err
				}
				var result Collection
				for _, e := range input {
					cast, err := castTo(ctx, ec.Provider(), e, target)
					if err != nil {
						return nil, err
					}
					result = append(result, cast...)
				}
				return result, nil
			},
		},
	}
}

func typeArgument(name string, args []Collection) (TypeSpecifier, error) {
	if len(args) != 1 || len(args[0]) != 1 {
		return TypeSpecifier{}, typeError(name, "expected a single type specifier argument")
	}
	t, ok := args[0][0].(TypeSpecifier)
	if !ok {
		return TypeSpecifier{}, typeError(name, "expected type specifier, got %s", typeOf(args[0][0]))
	}
	return t, nil
}

// castTo returns e if it is of the target type, otherwise the provider's cast of it.
// A mismatch is empty, never an error.
func castTo(ctx context.Context, provider ModelProvider, e Element, target TypeSpecifier) (Collection, error) {
	is, err := isOfType(ctx, provider, e, target)
	if err != nil {
		return nil, err
	}
	if is {
		return Collection{e}, nil
	}
	if isSystemValue(e) && (target.Namespace == "System" || isSystemTypeName(target.Name)) {
		return nil, nil
	}
	cast, ok, err := provider.TryCastValue(ctx, e, target)
	if err != nil || !ok {
		return nil, err
	}
	return Collection{cast}, nil
}

func fhirBuiltins() []Implementation {
	return []Implementation{
		define(fn("extension", ElementWise, param("url", "String")), func(ctx context.Context, ec EvalContext, input Collection, args []Collection) (Collection, bool, error) {
			url, err := argOf[String]("extension", args[0])
			if err != nil {
				return fail(err)
			}
			var result Collection
			for _, ext := range input[0].Children("extension") {
				for _, u := range ext.Children("url") {
					if eq, ok := u.Equal(url); ok && eq {
						result = append(result, ext)
						break
					}
				}
			}
			return result, true, nil
		}),
	}
}
