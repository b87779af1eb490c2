package overflow

import (
	"math"
	"testing"
)

func TestAdd(t *testing.T) {
	tests := []struct {
		name string
		a, b int64
		want int64
		ok   bool
	}{
		{"small", 1, 2, 3, true},
		{"negative", -5, 2, -3, true},
		{"max", math.MaxInt64, 1, 0, false},
		{"min", math.MinInt64, -1, 0, false},
		{"max zero", math.MaxInt64, 0, math.MaxInt64, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Add(tt.a, tt.b)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("Add(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSub(t *testing.T) {
	if _, ok := Sub[int64](math.MinInt64, 1); ok {
		t.Error("expected overflow")
	}
	if got, ok := Sub[int64](10, 3); !ok || got != 7 {
		t.Errorf("Sub(10, 3) = %d, %v", got, ok)
	}
}

func TestMul(t *testing.T) {
	if _, ok := Mul[int64](math.MaxInt64, 2); ok {
		t.Error("expected overflow")
	}
	if _, ok := Mul[int64](math.MinInt64, -1); ok {
		t.Error("expected overflow")
	}
	if got, ok := Mul[int64](-4, 5); !ok || got != -20 {
		t.Errorf("Mul(-4, 5) = %d, %v", got, ok)
	}
	if got, ok := Mul[int32](math.MaxInt32, 1); !ok || got != math.MaxInt32 {
		t.Errorf("Mul(max, 1) = %d, %v", got, ok)
	}
}

func TestDivMod(t *testing.T) {
	if _, ok := Div[int64](1, 0); ok {
		t.Error("division by zero must not be ok")
	}
	if _, ok := Div[int64](math.MinInt64, -1); ok {
		t.Error("expected overflow")
	}
	if got, _ := Div[int64](-7, 2); got != -3 {
		t.Errorf("Div(-7, 2) = %d, want -3", got)
	}
	if got, _ := Mod[int64](-7, 2); got != -1 {
		t.Errorf("Mod(-7, 2) = %d, want -1", got)
	}
	if _, ok := Mod[int64](5, 0); ok {
		t.Error("mod by zero must not be ok")
	}
}
