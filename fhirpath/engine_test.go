package fhirpath_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"github.com/damedic/fhirpath-engine/fhirpath"
	"github.com/damedic/fhirpath-engine/fhirpath/ast"
)

const patientJSON = `{
  "resourceType": "Patient",
  "id": "example",
  "active": true,
  "name": [
    {"use": "official", "family": "Chalmers", "given": ["Peter", "James"]},
    {"use": "usual", "given": ["Jim"]}
  ],
  "birthDate": "1974-12-25"
}`

func decodePatient(t *testing.T) *fhirpath.Node {
	t.Helper()
	n, err := fhirpath.ParseNode([]byte(patientJSON))
	if err != nil {
		t.Fatalf("decode patient: %v", err)
	}
	return n
}

func TestEngineEvaluateCollapsesResults(t *testing.T) {
	engine := fhirpath.NewEngine()
	patient := decodePatient(t)

	tests := []struct {
		expr string
		want string
	}{
		{expr: "Patient.name.where(use = 'usual').given", want: "String"},
		{expr: "Patient.name.given", want: "Collection"},
		{expr: "Patient.deceased", want: "Empty"},
		{expr: "Patient.name.first()", want: "Node"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := engine.Evaluate(context.Background(), fhirpath.MustParse(tt.expr), patient)
			if err != nil {
				t.Fatal(err)
			}
			var kind string
			switch got.(type) {
			case fhirpath.Empty:
				kind = "Empty"
			case fhirpath.Collection:
				kind = "Collection"
			case *fhirpath.Node:
				kind = "Node"
			case fhirpath.String:
				kind = "String"
			default:
				kind = fmt.Sprintf("%T", got)
			}
			if kind != tt.want {
				t.Errorf("got %s (%v), want %s", kind, got, tt.want)
			}
		})
	}
}

func TestEngineConcurrentEvaluation(t *testing.T) {
	engine := fhirpath.NewEngine()
	patient := decodePatient(t)
	exprs := []struct {
		expr fhirpath.Expression
		want string
	}{
		{expr: fhirpath.MustParse("Patient.name.given.count()"), want: "3"},
		{expr: fhirpath.MustParse("Patient.name.first().family.upper()"), want: "CHALMERS"},
		{expr: fhirpath.MustParse("Patient.name.given.defineVariable('g').select(%g.count())"), want: "3"},
		{expr: fhirpath.MustParse("(1 | 2 | 3).aggregate($this + $total, 0)"), want: "6"},
	}

	var g errgroup.Group
	for i := range 64 {
		e := exprs[i%len(exprs)]
		g.Go(func() error {
			got, err := engine.EvaluateCollection(context.Background(), e.expr, patient)
			if err != nil {
				return err
			}
			if text(fhirpath.CollectionOf(got...)) != e.want {
				return fmt.Errorf("%s = %v, want %s", e.expr, got, e.want)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if stats := engine.Stats(); stats.Resolution.Hits == 0 {
		t.Errorf("expected resolution cache hits, got %+v", stats.Resolution)
	}
}

func TestEngineClearCaches(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	engine := fhirpath.NewEngine(fhirpath.WithLogger(logger))

	expr := fhirpath.MustParse("'abc'.upper()")
	for range 2 {
		if _, err := engine.Evaluate(context.Background(), expr, nil); err != nil {
			t.Fatal(err)
		}
	}
	before := engine.Stats()
	if before.Results.Hits == 0 || before.Results.Size == 0 {
		t.Fatalf("expected a cached result, got %+v", before.Results)
	}

	engine.ClearCaches()
	after := engine.Stats()
	if after.Resolution.Size != 0 || after.Results.Size != 0 {
		t.Errorf("caches not empty after clear: %+v", after)
	}
	if !strings.Contains(buf.String(), "fhirpath caches cleared") {
		t.Errorf("missing debug log, got:\n%s", buf.String())
	}
}

func TestEngineOptions(t *testing.T) {
	registry := fhirpath.DefaultRegistry()
	registry.Register(&fhirpath.Func{
		Sig: fhirpath.Signature{Name: "answer", Input: fhirpath.CollectionInput},
		Sync: func(ctx context.Context, ec fhirpath.EvalContext, input fhirpath.Collection, args []fhirpath.Collection) (fhirpath.Collection, bool, error) {
			return fhirpath.Collection{fhirpath.Integer(42)}, true, nil
		},
	})
	engine := fhirpath.NewEngine(
		fhirpath.WithRegistry(registry),
		fhirpath.WithRepeatLimits(0, 0),
		fhirpath.WithCacheConfig(fhirpath.CacheConfig{Capacity: 1}, fhirpath.CacheConfig{Capacity: 1}),
	)
	if engine.Registry() != registry {
		t.Fatalf("engine does not use the given registry")
	}
	got, err := engine.Evaluate(context.Background(), fhirpath.MustParse("answer()"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != fhirpath.Integer(42) {
		t.Errorf("answer() = %v, want 42", got)
	}

	// a fresh engine does not see custom functions
	_, err = fhirpath.NewEngine().Evaluate(context.Background(), fhirpath.MustParse("answer()"), nil)
	if !errors.Is(err, fhirpath.ErrEvaluation) {
		t.Errorf("got error %v, want evaluation error", err)
	}
}

func TestEngineEvaluationTime(t *testing.T) {
	engine := fhirpath.NewEngine()
	instant := time.Date(2021, 6, 7, 8, 9, 10, 0, time.UTC)
	ctx := fhirpath.WithEvaluationTime(context.Background(), instant)

	tests := []struct {
		expr string
		want string
	}{
		{expr: "today()", want: "2021-06-07"},
		{expr: "now() = now()", want: "true"},
		{expr: "timeOfDay()", want: "08:09:10.000"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := engine.Evaluate(ctx, fhirpath.MustParse(tt.expr), nil)
			if err != nil {
				t.Fatal(err)
			}
			if text(got) != tt.want {
				t.Errorf("got %v, want %s", got, tt.want)
			}
		})
	}
}

func TestEngineDecimalPrecision(t *testing.T) {
	engine := fhirpath.NewEngine()
	expr := fhirpath.MustParse("1.0 / 3")

	coarse := fhirpath.WithAPDContext(context.Background(), apd.BaseContext.WithPrecision(3))
	fine := fhirpath.WithAPDContext(context.Background(), apd.BaseContext.WithPrecision(6))

	var got []string
	for _, ctx := range []context.Context{coarse, fine, coarse} {
		v, err := engine.Evaluate(ctx, expr, nil)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, text(v))
	}
	if diff := cmp.Diff([]string{"0.333", "0.333333", "0.333"}, got); diff != "" {
		t.Errorf("memoised results ignore precision (-want +got):\n%s", diff)
	}
}

func TestEngineEvaluateNode(t *testing.T) {
	tree := ast.Binary{
		Op:    "+",
		Left:  ast.Invocation{Target: ast.Identifier{Name: "name"}, Member: ast.Function{Name: "count"}},
		Right: ast.Literal{Kind: ast.NumberLiteral, Text: "1"},
	}
	got, err := fhirpath.NewEngine().EvaluateNode(context.Background(), tree, fhirpath.Collection{decodePatient(t)})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"3"}, stringsOf(got)); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestDefaultEvaluate(t *testing.T) {
	patient := decodePatient(t)
	got, err := fhirpath.Evaluate(context.Background(), patient, fhirpath.MustParse("Patient.name.given.first()"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"Peter"}, stringsOf(got)); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
}

func text(v fhirpath.Value) string {
	if s, ok := v.(fhirpath.String); ok {
		return string(s)
	}
	return v.String()
}

func stringsOf(c fhirpath.Collection) []string {
	var s []string
	for _, e := range c {
		s = append(s, text(e))
	}
	return s
}
