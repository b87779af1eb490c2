package fhirpath

import (
	"testing"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/go-cmp/cmp"
)

func TestCollectionOfCollapses(t *testing.T) {
	tests := []struct {
		name  string
		elems []Element
		want  string
	}{
		{name: "empty", elems: nil, want: "Empty"},
		{name: "single", elems: []Element{Integer(1)}, want: "Integer"},
		{name: "many", elems: []Element{Integer(1), String("a")}, want: "Collection"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			switch v := CollectionOf(tt.elems...).(type) {
			case Empty:
				got = "Empty"
			case Collection:
				got = "Collection"
				if len(v) < 2 {
					t.Errorf("collection of %d elements", len(v))
				}
			case Integer:
				got = "Integer"
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
			if diff := cmp.Diff(stringsOf(tt.elems), stringsOf(Items(CollectionOf(tt.elems...)))); diff != "" {
				t.Errorf("Items does not round trip (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCollectionOfCopies(t *testing.T) {
	elems := []Element{Integer(1), Integer(2)}
	v := CollectionOf(elems...)
	elems[0] = Integer(9)
	if got := Items(v)[0]; got != Integer(1) {
		t.Errorf("collection shares backing array, got %v", got)
	}
}

func TestUnionAndDistinct(t *testing.T) {
	one := Decimal{Value: apd.New(10, -1)}
	tests := []struct {
		name string
		got  Collection
		want []string
	}{
		{name: "union keeps first occurrence", got: Collection{Integer(2), Integer(1)}.Union(Collection{Integer(1), Integer(3), Integer(2)}), want: []string{"2", "1", "3"}},
		{name: "union within left side", got: Collection{Integer(1), Integer(1)}.Union(nil), want: []string{"1"}},
		{name: "integer and decimal stay apart", got: Collection{Integer(1)}.Union(Collection{one}), want: []string{"1", "1"}},
		{name: "combine keeps duplicates", got: Collection{Integer(1)}.Combine(Collection{Integer(1)}), want: []string{"1", "1"}},
		{name: "distinct", got: Collection{String("a"), String("b"), String("a")}.Distinct(), want: []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, stringsOf(tt.got)); diff != "" {
				t.Errorf("result mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStructuralEquality(t *testing.T) {
	a, err := ParseNode([]byte(`{"b": 1, "a": [true, "x"]}`))
	if err != nil {
		t.Fatal(err)
	}
	b, err := ParseNode([]byte(`{"a": [true, "x"], "b": 1}`))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{name: "same primitive", a: Integer(1), b: Integer(1), want: true},
		{name: "integer is not decimal", a: Integer(1), b: Decimal{Value: apd.New(1, 0)}, want: false},
		{name: "member order ignored", a: a, b: b, want: true},
		{name: "collections", a: CollectionOf(Integer(1), String("x")), b: CollectionOf(Integer(1), String("x")), want: true},
		{name: "collection order matters", a: CollectionOf(Integer(1), String("x")), b: CollectionOf(String("x"), Integer(1)), want: false},
		{name: "empty", a: Empty{}, b: CollectionOf(), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StructuralEqual(tt.a, tt.b); got != tt.want {
				t.Errorf("StructuralEqual(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestIdentityKey(t *testing.T) {
	a1, _ := ParseNode([]byte(`{"resourceType": "Patient", "id": "a", "active": true}`))
	a2, _ := ParseNode([]byte(`{"resourceType": "Patient", "id": "a"}`))
	anon, _ := ParseNode([]byte(`{"resourceType": "Patient", "active": true}`))

	if identityKey(a1) != identityKey(a2) {
		t.Errorf("resources with the same id have different identity keys")
	}
	if identityKey(a1) == identityKey(anon) {
		t.Errorf("resource without id shares the identity key of a1")
	}
	if identityKey(anon) != StructuralKey(anon) {
		t.Errorf("resource without id is not identified structurally")
	}
}
