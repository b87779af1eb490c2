// Package overflow implements checked arithmetic on signed integers.
//
// Every operation reports ok=false instead of silently wrapping around.
package overflow

type Signed interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~int
}

// Add returns a+b.
func Add[T Signed](a, b T) (T, bool) {
	c := a + b
	if (c > a) == (b > 0) {
		return c, true
	}
	return c, false
}

// Sub returns a-b.
func Sub[T Signed](a, b T) (T, bool) {
	c := a - b
	if (c < a) == (b > 0) {
		return c, true
	}
	return c, false
}

// Mul returns a*b.
func Mul[T Signed](a, b T) (T, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a == -1 {
		return Neg(b)
	}
	if b == -1 {
		return Neg(a)
	}
	c := a * b
	if c/b != a {
		return c, false
	}
	return c, true
}

// Div returns the truncated quotient a/b. Division by zero is not ok.
func Div[T Signed](a, b T) (T, bool) {
	if b == 0 {
		return 0, false
	}
	if b == -1 {
		return Neg(a)
	}
	return a / b, true
}

// Mod returns the remainder of a/b carrying the sign of a.
func Mod[T Signed](a, b T) (T, bool) {
	if b == 0 {
		return 0, false
	}
	if b == -1 {
		return 0, true
	}
	return a % b, true
}

// Neg returns -a. The minimum value is the only non-zero value equal to its negation.
func Neg[T Signed](a T) (T, bool) {
	n := -a
	if a != 0 && n == a {
		return a, false
	}
	return n, true
}
