package fhirpath_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/damedic/fhirpath-engine/fhirpath"
	"github.com/damedic/fhirpath-engine/model"
)

const nicknamePatientJSON = `{
  "resourceType": "Patient",
  "id": "nick",
  "name": [
    {"use": "official", "family": "Doe", "given": ["John"]},
    {"use": "nickname", "given": ["Johnny"]}
  ]
}`

const singleNamePatientJSON = `{
  "resourceType": "Patient",
  "id": "single",
  "active": true,
  "name": [{"family": "Doe"}]
}`

func parseNode(t *testing.T, data string) *fhirpath.Node {
	t.Helper()
	n, err := fhirpath.ParseNode([]byte(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return n
}

func TestEndToEndScenarios(t *testing.T) {
	engine := fhirpath.NewEngine(fhirpath.WithModelProvider(model.Default()))

	tests := []struct {
		name  string
		expr  string
		input fhirpath.Value
		want  []string
	}{
		{name: "string literal", expr: "'hello'", want: []string{"hello"}},
		{name: "where on official name", expr: "Patient.name.where(use = 'official').family", input: parseNode(t, nicknamePatientJSON), want: []string{"Doe"}},
		{name: "union removes duplicates", expr: "(1 | 2 | 2 | 3)", want: []string{"1", "2", "3"}},
		{name: "children of type", expr: "Patient.children().ofType(HumanName)", input: parseNode(t, singleNamePatientJSON), want: []string{`{"family":"Doe"}`}},
		{name: "and", expr: "true and false", want: []string{"false"}},
		{name: "and with empty", expr: "true and {}", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.EvaluateCollection(context.Background(), fhirpath.MustParse(tt.expr), tt.input)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, stringsOf(got)); diff != "" {
				t.Errorf("result mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStringLiteralIsSingleValue(t *testing.T) {
	got, err := fhirpath.NewEngine().Evaluate(context.Background(), fhirpath.MustParse("'hello'"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != fhirpath.String("hello") {
		t.Errorf("got %#v, want String(hello)", got)
	}
	if name := fhirpath.TypeName(got); name != "System.String" {
		t.Errorf("type name %s, want System.String", name)
	}
}

func TestThreeValuedLogic(t *testing.T) {
	engine := fhirpath.NewEngine()
	tests := []struct {
		expr string
		want []string
	}{
		{expr: "false and {}", want: []string{"false"}},
		{expr: "{} and false", want: []string{"false"}},
		{expr: "true and {}", want: nil},
		{expr: "true or {}", want: []string{"true"}},
		{expr: "{} or true", want: []string{"true"}},
		{expr: "false or {}", want: nil},
		{expr: "true xor {}", want: nil},
		{expr: "{} xor false", want: nil},
		{expr: "true xor false", want: []string{"true"}},
		{expr: "{} implies true", want: []string{"true"}},
		{expr: "true implies {}", want: nil},
		{expr: "{}.not()", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := engine.EvaluateCollection(context.Background(), fhirpath.MustParse(tt.expr), nil)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, stringsOf(got)); diff != "" {
				t.Errorf("result mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestVacuousQuantifiers(t *testing.T) {
	engine := fhirpath.NewEngine()
	for expr, want := range map[string]string{
		"{}.all($this = 1)":         "true",
		"{}.any($this = 1)":         "false",
		"{}.allTrue()":              "true",
		"{}.anyTrue()":              "false",
		"(1 | 2).all($this > 0)":    "true",
		"(1 | 2).any($this > 1)":    "true",
		"(true | false).allTrue()":  "false",
		"(false | true).anyFalse()": "true",
	} {
		t.Run(expr, func(t *testing.T) {
			got, err := engine.Evaluate(context.Background(), fhirpath.MustParse(expr), nil)
			if err != nil {
				t.Fatal(err)
			}
			if text(got) != want {
				t.Errorf("got %v, want %s", got, want)
			}
		})
	}
}

func TestIntegerOverflow(t *testing.T) {
	engine := fhirpath.NewEngine()
	tests := []struct {
		expr     string
		wantName string
	}{
		{expr: "9223372036854775807 + 1", wantName: "+"},
		{expr: "-9223372036854775807 - 2", wantName: "-"},
		{expr: "4611686018427387904 * 2", wantName: "*"},
		{expr: "(0 - 9223372036854775807 - 1).abs()", wantName: "abs"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := engine.Evaluate(context.Background(), fhirpath.MustParse(tt.expr), nil)
			var fe *fhirpath.Error
			if !errors.As(err, &fe) || !errors.Is(err, fhirpath.ErrEvaluation) {
				t.Fatalf("got %v, want an evaluation failure", err)
			}
			if fe.Name != tt.wantName {
				t.Errorf("error names %q, want %q", fe.Name, tt.wantName)
			}
		})
	}
}

func TestDecimalTrailingZeros(t *testing.T) {
	got, err := fhirpath.NewEngine().Evaluate(context.Background(), fhirpath.MustParse("123.00.toString()"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != fhirpath.String("123") {
		t.Errorf("got %v, want 123", got)
	}
}

func TestRepeatOnCyclicGraphTerminates(t *testing.T) {
	engine := fhirpath.NewEngine()
	graph, err := fhirpath.ParseJSON([]byte(`[
		{"resourceType": "Node", "id": "a", "next": [{"resourceType": "Node", "id": "b", "next": [{"resourceType": "Node", "id": "c", "next": [{"resourceType": "Node", "id": "a"}]}]}]}
	]`))
	if err != nil {
		t.Fatal(err)
	}

	got, err := engine.EvaluateCollection(context.Background(), fhirpath.MustParse("repeat(next).id"), graph)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"b", "c", "a"}, stringsOf(got)); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}

	self, err := engine.EvaluateCollection(context.Background(), fhirpath.MustParse("repeat($this).id"), graph)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a"}, stringsOf(self)); diff != "" {
		t.Errorf("self projection mismatch (-want +got):\n%s", diff)
	}
}

func TestPureCallServedFromCache(t *testing.T) {
	engine := fhirpath.NewEngine()
	expr := fhirpath.MustParse("'abc'.substring(1, 1)")

	var results []string
	for range 3 {
		got, err := engine.Evaluate(context.Background(), expr, nil)
		if err != nil {
			t.Fatal(err)
		}
		results = append(results, text(got))
	}
	if diff := cmp.Diff([]string{"b", "b", "b"}, results); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	if hits := engine.Stats().Results.Hits; hits < 2 {
		t.Errorf("result cache hits = %d, want at least 2", hits)
	}
}

func TestEqualNodesAtDifferentPathsKeepTheirType(t *testing.T) {
	patient := parseNode(t, `{"resourceType": "Patient", "name": [{"id": "x"}], "telecom": [{"id": "x"}]}`)
	fresh := func() *fhirpath.Engine {
		return fhirpath.NewEngine(fhirpath.WithModelProvider(model.Default()))
	}
	tests := []struct {
		expr string
		want string
	}{
		{expr: "Patient.telecom.first().is(HumanName)", want: "false"},
		{expr: "Patient.telecom.first().is(ContactPoint)", want: "true"},
		{expr: "Patient.telecom.first().ofType(ContactPoint).count()", want: "1"},
		{expr: "Patient.telecom.children().count()", want: "1"},
	}

	warm := fresh()
	for _, expr := range []string{"Patient.name.first().is(HumanName)", "Patient.name.children().count()"} {
		if _, err := warm.Evaluate(context.Background(), fhirpath.MustParse(expr), patient); err != nil {
			t.Fatal(err)
		}
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			for _, engine := range []*fhirpath.Engine{fresh(), warm} {
				got, err := engine.Evaluate(context.Background(), fhirpath.MustParse(tt.expr), patient)
				if err != nil {
					t.Fatal(err)
				}
				if text(got) != tt.want {
					t.Errorf("got %v, want %s", got, tt.want)
				}
			}
		})
	}
}
