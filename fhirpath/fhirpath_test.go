package fhirpath_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/damedic/fhirpath-engine/fhirpath"
	"github.com/damedic/fhirpath-engine/model"
	"github.com/damedic/fhirpath-engine/testdata"
	"github.com/damedic/fhirpath-engine/testdata/assert"
)

// runFHIRPathTest executes a single FHIRPath test and validates the result
func runFHIRPathTest(t *testing.T, ctx context.Context, engine *fhirpath.Engine, test testdata.FHIRPathTest) {
	defer func() {
		if err := recover(); err != nil {
			t.Fatal(err)
		}
	}()

	expr, err := fhirpath.Parse(test.Expression)
	if err != nil && test.Invalid != "" {
		return
	}
	if err != nil {
		t.Fatalf("Unexpected error parsing expression: %v", err)
	}

	var input fhirpath.Value
	if test.InputResource != nil {
		input = test.InputResource
	}
	result, err := engine.EvaluateCollection(ctx, expr, input)
	if test.Invalid != "" {
		if err == nil {
			t.Fatalf("expected %s error, got result %v", test.Invalid, result)
		}
		return
	}
	if err != nil {
		t.Fatalf("Unexpected error evaluating expression: %v", err)
	}

	if test.Predicate {
		v, ok, err := fhirpath.Singleton[fhirpath.Boolean](result)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if !ok {
			t.Fatalf("expected boolean value to exist")
		}
		result = fhirpath.Collection{v}
	}

	expected, err := test.OutputCollection()
	if err != nil {
		t.Fatal(err)
	}
	t.Logf("expression: %s\nexpected: %s\nactual: %s", test.Expression, expected, result)
	assert.FHIRPathEqual(t, expected, result)
}

func runFHIRPathSuite(t *testing.T, ctx context.Context, engine *fhirpath.Engine, tests testdata.FHIRPathTests) {
	t.Helper()

	for _, group := range tests.Groups {
		name := group.Name
		if group.Description != "" {
			name = name + " (" + group.Description + ")"
		}

		t.Run(name, func(t *testing.T) {
			for _, test := range group.Tests {
				t.Run(test.Name, func(t *testing.T) {
					t.Parallel()
					runFHIRPathTest(t, ctx, engine, test)
				})
			}
		})
	}
}

func TestFHIRPathTestSuites(t *testing.T) {
	suites, err := testdata.GetFHIRPathTests()
	if err != nil {
		t.Fatal(err)
	}

	engine := fhirpath.NewEngine(fhirpath.WithModelProvider(model.Default()))
	ctx := fhirpath.WithAPDContext(context.Background(), apd.BaseContext.WithPrecision(16))
	ctx = fhirpath.WithEvaluationTime(ctx, time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC))

	for _, suite := range suites {
		t.Run(suite.Name, func(t *testing.T) {
			runFHIRPathSuite(t, ctx, engine, suite)
		})
	}
}
