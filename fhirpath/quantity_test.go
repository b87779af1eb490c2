package fhirpath

import "testing"

func TestQuantityUnitConversion(t *testing.T) {
	runFunctionTests(t, NewEngine(), []functionTest{
		{name: "mass equality", expr: "2.5 'mg' = 2500 'ug'", want: []string{"true"}},
		{name: "length ordering", expr: "1 'cm' < 1 'm'", want: []string{"true"}},
		{name: "weeks and days", expr: "1 'wk' = 7 'd'", want: []string{"true"}},
		{name: "equivalence", expr: "1.0 'g' ~ 1000 'mg'", want: []string{"true"}},
		{name: "addition in left unit", expr: "1 'g' + 500 'mg'", want: []string{"1.5 'g'"}},
		{name: "incommensurable units", expr: "1 'kg' = 1 'm'", want: nil},
		{name: "calendar year against ucum year", expr: "1 year = 1 'a'", want: nil},
		{name: "toQuantity into unit", expr: "(1 'm').toQuantity('cm')", want: []string{"100 'cm'"}},
		{name: "special unit", expr: "(37 'Cel').toQuantity('K')", want: []string{"310.15 'K'"}},
		{name: "toQuantity into incommensurable unit", expr: "(1 'm').toQuantity('kg')", want: nil},
		{name: "toQuantity with malformed unit", expr: "(1 'm').toQuantity('g/(m')", wantErr: ErrConversion},
	})
}
