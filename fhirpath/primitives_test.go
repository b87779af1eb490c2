package fhirpath

import (
	"context"
	"testing"

	"github.com/cockroachdb/apd/v3"
)

func TestDecimalBoundary(t *testing.T) {
	tests := []struct {
		value  string
		places int
		upper  bool
		want   string
	}{
		{value: "1.587", places: 8, want: "1.58650000"},
		{value: "1.587", places: 8, upper: true, want: "1.58750000"},
		{value: "-1.587", places: 8, want: "-1.58750000"},
		{value: "1", places: 0, want: "0"},
		{value: "1", places: 0, upper: true, want: "2"},
		{value: "12345678901234567890.5", places: 20, upper: true, want: "12345678901234567890.55000000000000000000"},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			v, _, err := apd.NewFromString(tt.value)
			if err != nil {
				t.Fatal(err)
			}
			got, err := Decimal{Value: v}.boundary(context.Background(), tt.places, tt.upper)
			if err != nil {
				t.Fatal(err)
			}
			if s := got.Value.Text('f'); s != tt.want {
				t.Errorf("boundary(%d, %v) = %s, want %s", tt.places, tt.upper, s, tt.want)
			}
		})
	}
}
