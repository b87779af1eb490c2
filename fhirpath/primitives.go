package fhirpath

import (
	"context"
	"encoding/json"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"golang.org/x/text/cases"

	"github.com/damedic/fhirpath-engine/fhirpath/internal/overflow"
)

type Boolean bool

func (b Boolean) Children(name ...string) Collection {
	return nil
}
func (b Boolean) ToBoolean(explicit bool) (v Boolean, ok bool, err error) {
	return b, true, nil
}
func (b Boolean) ToString(explicit bool) (v String, ok bool, err error) {
	if explicit {
		return String(b.String()), true, nil
	}
	return "", false, implicitConversionError[Boolean, String](b)
}
func (b Boolean) ToInteger(explicit bool) (v Integer, ok bool, err error) {
	if explicit {
		if b {
			return 1, true, nil
		}
		return 0, true, nil
	}
	return 0, false, implicitConversionError[Boolean, Integer](b)
}
func (b Boolean) ToDecimal(explicit bool) (v Decimal, ok bool, err error) {
	if explicit {
		if b {
			return Decimal{Value: apd.New(10, -1)}, true, nil
		}
		return Decimal{Value: apd.New(0, -1)}, true, nil
	}
	return Decimal{}, false, implicitConversionError[Boolean, Decimal](b)
}
func (b Boolean) ToDate(explicit bool) (v Date, ok bool, err error) {
	return Date{}, false, conversionError[Boolean, Date]()
}
func (b Boolean) ToTime(explicit bool) (v Time, ok bool, err error) {
	return Time{}, false, conversionError[Boolean, Time]()
}
func (b Boolean) ToDateTime(explicit bool) (v DateTime, ok bool, err error) {
	return DateTime{}, false, conversionError[Boolean, DateTime]()
}
func (b Boolean) ToQuantity(explicit bool) (v Quantity, ok bool, err error) {
	if explicit {
		d, _, _ := b.ToDecimal(true)
		return Quantity{Value: d, Unit: "1"}, true, nil
	}
	return Quantity{}, false, conversionError[Boolean, Quantity]()
}
func (b Boolean) Equal(other Element) (eq bool, ok bool) {
	o, isBool := other.(Boolean)
	return isBool && b == o, true
}
func (b Boolean) Equivalent(other Element) bool {
	eq, _ := b.Equal(other)
	return eq
}
func (b Boolean) TypeInfo() TypeInfo {
	return SimpleTypeInfo{Namespace: "System", Name: "Boolean", BaseType: anyType}
}
func (b Boolean) MarshalJSON() ([]byte, error) {
	return json.Marshal(bool(b))
}
func (b Boolean) String() string {
	return strconv.FormatBool(bool(b))
}

type String string

var (
	trueStrings  = []string{"true", "t", "yes", "y", "1", "1.0"}
	falseStrings = []string{"false", "f", "no", "n", "0", "0.0"}
)

func (s String) Children(name ...string) Collection {
	return nil
}
func (s String) ToBoolean(explicit bool) (v Boolean, ok bool, err error) {
	if !explicit {
		return false, false, implicitConversionError[String, Boolean](s)
	}
	lower := strings.ToLower(string(s))
	switch {
	case slices.Contains(trueStrings, lower):
		return true, true, nil
	case slices.Contains(falseStrings, lower):
		return false, true, nil
	}
	return false, false, nil
}
func (s String) ToString(explicit bool) (v String, ok bool, err error) {
	return s, true, nil
}
func (s String) ToInteger(explicit bool) (v Integer, ok bool, err error) {
	if !explicit {
		return 0, false, implicitConversionError[String, Integer](s)
	}
	val, err := strconv.ParseInt(string(s), 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return Integer(val), true, nil
}
func (s String) ToDecimal(explicit bool) (v Decimal, ok bool, err error) {
	if !explicit {
		return Decimal{}, false, implicitConversionError[String, Decimal](s)
	}
	if !decimalPattern.MatchString(string(s)) {
		return Decimal{}, false, nil
	}
	d, _, err := apd.NewFromString(string(s))
	if err != nil {
		return Decimal{}, false, nil
	}
	return Decimal{Value: d}, true, nil
}
func (s String) ToDate(explicit bool) (v Date, ok bool, err error) {
	if !explicit {
		return Date{}, false, implicitConversionError[String, Date](s)
	}
	d, err := ParseDate(string(s))
	if err != nil {
		return Date{}, false, nil
	}
	return d, true, nil
}
func (s String) ToTime(explicit bool) (v Time, ok bool, err error) {
	if !explicit {
		return Time{}, false, implicitConversionError[String, Time](s)
	}
	t, err := ParseTime(string(s))
	if err != nil {
		return Time{}, false, nil
	}
	return t, true, nil
}
func (s String) ToDateTime(explicit bool) (v DateTime, ok bool, err error) {
	if !explicit {
		return DateTime{}, false, implicitConversionError[String, DateTime](s)
	}
	dt, err := ParseDateTime(string(s))
	if err != nil {
		return DateTime{}, false, nil
	}
	return dt, true, nil
}
func (s String) ToQuantity(explicit bool) (v Quantity, ok bool, err error) {
	if !explicit {
		return Quantity{}, false, implicitConversionError[String, Quantity](s)
	}
	q, err := ParseQuantity(string(s))
	if err != nil {
		return Quantity{}, false, nil
	}
	return q, true, nil
}
func (s String) Equal(other Element) (eq bool, ok bool) {
	switch o := other.(type) {
	case String:
		return s == o, true
	case Date, DateTime, Time:
		return other.Equal(s)
	}
	return false, true
}

var (
	whitespaceRegex = regexp.MustCompile(`\s+`)
	foldCaser       = cases.Fold()
	decimalPattern  = regexp.MustCompile(`^[+-]?\d+(\.\d+)?$`)
)

func normalizeForEquivalence(s string) string {
	return foldCaser.String(whitespaceRegex.ReplaceAllString(strings.TrimSpace(s), " "))
}

func (s String) Equivalent(other Element) bool {
	switch o := other.(type) {
	case String:
		return normalizeForEquivalence(string(s)) == normalizeForEquivalence(string(o))
	case Date, DateTime, Time:
		return other.Equivalent(s)
	}
	return false
}
func (s String) Cmp(other Element) (cmp int, ok bool, err error) {
	o, isString := other.(String)
	if !isString {
		return 0, false, typeError("", "can not compare String to %s, left: %v right: %v", typeOf(other), s, other)
	}
	return strings.Compare(string(s), string(o)), true, nil
}
func (s String) Add(ctx context.Context, other Element) (Element, error) {
	o, isString := other.(String)
	if !isString {
		return nil, typeError("+", "can not add %s to String", typeOf(other))
	}
	return s + o, nil
}
func (s String) Subtract(ctx context.Context, other Element) (Element, error) {
	return nil, typeError("-", "can not subtract from String")
}
func (s String) TypeInfo() TypeInfo {
	return SimpleTypeInfo{Namespace: "System", Name: "String", BaseType: anyType}
}
func (s String) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}
func (s String) String() string {
	return "'" + string(s) + "'"
}
func (s String) structuralKey() string {
	return strconv.Quote(string(s))
}

// Integer is a 64 bit signed integer. Arithmetic overflow is an evaluation error.
type Integer int64

func (i Integer) Children(name ...string) Collection {
	return nil
}
func (i Integer) ToBoolean(explicit bool) (v Boolean, ok bool, err error) {
	if !explicit {
		return false, false, implicitConversionError[Integer, Boolean](i)
	}
	switch i {
	case 0:
		return false, true, nil
	case 1:
		return true, true, nil
	}
	return false, false, nil
}
func (i Integer) ToString(explicit bool) (v String, ok bool, err error) {
	if !explicit {
		return "", false, implicitConversionError[Integer, String](i)
	}
	return String(i.String()), true, nil
}
func (i Integer) ToInteger(explicit bool) (v Integer, ok bool, err error) {
	return i, true, nil
}
func (i Integer) ToDecimal(explicit bool) (v Decimal, ok bool, err error) {
	return Decimal{Value: apd.New(int64(i), 0)}, true, nil
}
func (i Integer) ToDate(explicit bool) (v Date, ok bool, err error) {
	return Date{}, false, conversionError[Integer, Date]()
}
func (i Integer) ToTime(explicit bool) (v Time, ok bool, err error) {
	return Time{}, false, conversionError[Integer, Time]()
}
func (i Integer) ToDateTime(explicit bool) (v DateTime, ok bool, err error) {
	return DateTime{}, false, conversionError[Integer, DateTime]()
}
func (i Integer) ToQuantity(explicit bool) (v Quantity, ok bool, err error) {
	d, _, _ := i.ToDecimal(false)
	return Quantity{Value: d, Unit: "1"}, true, nil
}
func (i Integer) Equal(other Element) (eq bool, ok bool) {
	switch o := other.(type) {
	case Integer:
		return i == o, true
	case Decimal, Quantity:
		return other.Equal(i)
	}
	return false, true
}
func (i Integer) Equivalent(other Element) bool {
	switch other.(type) {
	case Decimal, Quantity:
		return other.Equivalent(i)
	}
	eq, ok := i.Equal(other)
	return ok && eq
}
func (i Integer) Cmp(other Element) (cmp int, ok bool, err error) {
	switch o := other.(type) {
	case Integer:
		return compareInts(int64(i), int64(o)), true, nil
	case Decimal:
		d, _, _ := i.ToDecimal(false)
		return d.Cmp(o)
	case Quantity:
		q, _, _ := i.ToQuantity(false)
		return q.Cmp(o)
	}
	return 0, false, typeError("", "can not compare Integer to %s, left: %v right: %v", typeOf(other), i, other)
}

func overflowError(op string, a, b Integer) error {
	return evaluationError(op, "integer overflow: %d %s %d", a, op, b)
}

func (i Integer) Add(ctx context.Context, other Element) (Element, error) {
	switch o := other.(type) {
	case Integer:
		r, ok := overflow.Add(int64(i), int64(o))
		if !ok {
			return nil, overflowError("+", i, o)
		}
		return Integer(r), nil
	case Decimal:
		d, _, _ := i.ToDecimal(false)
		return d.Add(ctx, o)
	}
	return nil, typeError("+", "can not add Integer and %s", typeOf(other))
}
func (i Integer) Subtract(ctx context.Context, other Element) (Element, error) {
	switch o := other.(type) {
	case Integer:
		r, ok := overflow.Sub(int64(i), int64(o))
		if !ok {
			return nil, overflowError("-", i, o)
		}
		return Integer(r), nil
	case Decimal:
		d, _, _ := i.ToDecimal(false)
		return d.Subtract(ctx, o)
	}
	return nil, typeError("-", "can not subtract %s from Integer", typeOf(other))
}
func (i Integer) Multiply(ctx context.Context, other Element) (Element, error) {
	switch o := other.(type) {
	case Integer:
		r, ok := overflow.Mul(int64(i), int64(o))
		if !ok {
			return nil, overflowError("*", i, o)
		}
		return Integer(r), nil
	case Decimal:
		d, _, _ := i.ToDecimal(false)
		return d.Multiply(ctx, o)
	case Quantity:
		return o.Multiply(ctx, i)
	}
	return nil, typeError("*", "can not multiply Integer with %s", typeOf(other))
}
func (i Integer) Divide(ctx context.Context, other Element) (Element, error) {
	d, _, _ := i.ToDecimal(false)
	return d.Divide(ctx, other)
}
func (i Integer) Div(ctx context.Context, other Element) (Element, error) {
	switch o := other.(type) {
	case Integer:
		if o == 0 {
			return nil, nil
		}
		r, ok := overflow.Div(int64(i), int64(o))
		if !ok {
			return nil, overflowError("div", i, o)
		}
		return Integer(r), nil
	case Decimal:
		d, _, _ := i.ToDecimal(false)
		return d.Div(ctx, o)
	}
	return nil, typeError("div", "can not div Integer with %s", typeOf(other))
}
func (i Integer) Mod(ctx context.Context, other Element) (Element, error) {
	switch o := other.(type) {
	case Integer:
		if o == 0 {
			return nil, nil
		}
		r, _ := overflow.Mod(int64(i), int64(o))
		return Integer(r), nil
	case Decimal:
		d, _, _ := i.ToDecimal(false)
		return d.Mod(ctx, o)
	}
	return nil, typeError("mod", "can not mod Integer with %s", typeOf(other))
}
func (i Integer) TypeInfo() TypeInfo {
	return SimpleTypeInfo{Namespace: "System", Name: "Integer", BaseType: anyType}
}
func (i Integer) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(i))
}
func (i Integer) String() string {
	return strconv.FormatInt(int64(i), 10)
}

func compareInts[T int | int64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Decimal is an arbitrary precision decimal number.
type Decimal struct {
	defaultConversionError[Decimal]
	Value *apd.Decimal
}

func (d Decimal) Children(name ...string) Collection {
	return nil
}
func (d Decimal) ToBoolean(explicit bool) (v Boolean, ok bool, err error) {
	if !explicit {
		return false, false, implicitConversionError[Decimal, Boolean](d)
	}
	switch {
	case d.Value.Cmp(apd.New(1, 0)) == 0:
		return true, true, nil
	case d.Value.IsZero():
		return false, true, nil
	}
	return false, false, nil
}
func (d Decimal) ToString(explicit bool) (v String, ok bool, err error) {
	if !explicit {
		return "", false, implicitConversionError[Decimal, String](d)
	}
	return String(d.String()), true, nil
}
func (d Decimal) ToInteger(explicit bool) (v Integer, ok bool, err error) {
	if !explicit {
		return 0, false, implicitConversionError[Decimal, Integer](d)
	}
	var integ, frac apd.Decimal
	d.Value.Modf(&integ, &frac)
	if !frac.IsZero() {
		return 0, false, nil
	}
	i, err := integ.Int64()
	if err != nil {
		return 0, false, nil
	}
	return Integer(i), true, nil
}
func (d Decimal) ToDecimal(explicit bool) (v Decimal, ok bool, err error) {
	return d, true, nil
}
func (d Decimal) ToQuantity(explicit bool) (v Quantity, ok bool, err error) {
	return Quantity{Value: d, Unit: "1"}, true, nil
}
func (d Decimal) Equal(other Element) (eq bool, ok bool) {
	switch o := other.(type) {
	case Decimal:
		return d.Value.Cmp(o.Value) == 0, true
	case Integer:
		od, _, _ := o.ToDecimal(false)
		return d.Value.Cmp(od.Value) == 0, true
	case Quantity:
		return o.Equal(d)
	}
	return false, true
}
func (d Decimal) Equivalent(other Element) bool {
	var o Decimal
	switch v := other.(type) {
	case Decimal:
		o = v
	case Integer:
		o, _, _ = v.ToDecimal(false)
	case Quantity:
		return v.Equivalent(d)
	default:
		return false
	}
	// compare at the precision of the less precise operand
	places := min(d.Precision(), o.Precision())
	var a, b apd.Decimal
	c := apd.BaseContext.WithPrecision(defaultDecimalPrecision)
	c.Rounding = apd.RoundHalfUp
	if _, err := c.Quantize(&a, d.Value, -int32(places)); err != nil {
		return false
	}
	if _, err := c.Quantize(&b, o.Value, -int32(places)); err != nil {
		return false
	}
	return a.Cmp(&b) == 0
}
func (d Decimal) Cmp(other Element) (cmp int, ok bool, err error) {
	switch o := other.(type) {
	case Decimal:
		return d.Value.Cmp(o.Value), true, nil
	case Integer:
		od, _, _ := o.ToDecimal(false)
		return d.Value.Cmp(od.Value), true, nil
	case Quantity:
		q, _, _ := d.ToQuantity(false)
		return q.Cmp(o)
	}
	return 0, false, typeError("", "can not compare Decimal to %s, left: %v right: %v", typeOf(other), d, other)
}

// decimalOperand converts Integer and Decimal operands, anything else is a type error.
func decimalOperand(op string, other Element) (Decimal, error) {
	switch o := other.(type) {
	case Decimal:
		return o, nil
	case Integer:
		d, _, _ := o.ToDecimal(false)
		return d, nil
	}
	return Decimal{}, typeError(op, "expected numeric operand, got %s", typeOf(other))
}

func (d Decimal) apply(
	ctx context.Context, op string, other Element,
	f func(c *apd.Context, res, x, y *apd.Decimal) (apd.Condition, error),
) (Element, error) {
	o, err := decimalOperand(op, other)
	if err != nil {
		return nil, err
	}
	var res apd.Decimal
	if _, err := f(apdContext(ctx), &res, d.Value, o.Value); err != nil {
		return nil, evaluationError(op, "%v", err)
	}
	return Decimal{Value: &res}, nil
}

func (d Decimal) Add(ctx context.Context, other Element) (Element, error) {
	return d.apply(ctx, "+", other, (*apd.Context).Add)
}
func (d Decimal) Subtract(ctx context.Context, other Element) (Element, error) {
	return d.apply(ctx, "-", other, (*apd.Context).Sub)
}
func (d Decimal) Multiply(ctx context.Context, other Element) (Element, error) {
	if q, isQuantity := other.(Quantity); isQuantity {
		return q.Multiply(ctx, d)
	}
	return d.apply(ctx, "*", other, (*apd.Context).Mul)
}
func (d Decimal) Divide(ctx context.Context, other Element) (Element, error) {
	o, err := decimalOperand("/", other)
	if err != nil {
		return nil, err
	}
	if o.Value.IsZero() {
		return nil, nil
	}
	return d.apply(ctx, "/", o, (*apd.Context).Quo)
}
func (d Decimal) Div(ctx context.Context, other Element) (Element, error) {
	o, err := decimalOperand("div", other)
	if err != nil {
		return nil, err
	}
	if o.Value.IsZero() {
		return nil, nil
	}
	res, err := d.apply(ctx, "div", o, (*apd.Context).QuoInteger)
	if err != nil {
		return nil, err
	}
	i, err := res.(Decimal).Value.Int64()
	if err != nil {
		return nil, evaluationError("div", "%v", err)
	}
	return Integer(i), nil
}
func (d Decimal) Mod(ctx context.Context, other Element) (Element, error) {
	o, err := decimalOperand("mod", other)
	if err != nil {
		return nil, err
	}
	if o.Value.IsZero() {
		return nil, nil
	}
	return d.apply(ctx, "mod", o, (*apd.Context).Rem)
}

// Precision returns the number of decimal places.
func (d Decimal) Precision() int {
	if d.Value.Exponent < 0 {
		return int(-d.Value.Exponent)
	}
	return 0
}

// boundary returns the lower or upper limit of the interval of values that
// round to d, quantized to the given number of decimal places.
func (d Decimal) boundary(ctx context.Context, places int, upper bool) (Decimal, error) {
	c := *apdContext(ctx)
	c.Rounding = apd.RoundFloor
	if upper {
		c.Rounding = apd.RoundCeiling
	}
	if needed := uint32(int64(d.Precision()+places) + d.Value.NumDigits() + 2); c.Precision < needed {
		c.Precision = needed
	}

	var half, res, formatted apd.Decimal
	half.SetFinite(5, -1-int32(d.Precision()))
	var err error
	if upper {
		_, err = c.Add(&res, d.Value, &half)
	} else {
		_, err = c.Sub(&res, d.Value, &half)
	}
	if err != nil {
		return Decimal{}, err
	}
	if _, err := c.Quantize(&formatted, &res, -int32(places)); err != nil {
		return Decimal{}, err
	}
	return Decimal{Value: &formatted}, nil
}

func (d Decimal) TypeInfo() TypeInfo {
	return SimpleTypeInfo{Namespace: "System", Name: "Decimal", BaseType: anyType}
}
func (d Decimal) MarshalJSON() ([]byte, error) {
	return []byte(d.Value.Text('f')), nil
}

// String prints the value without trailing fractional zeros, so 123.00 becomes 123.
func (d Decimal) String() string {
	if d.Value == nil {
		return "0"
	}
	var reduced apd.Decimal
	reduced.Reduce(d.Value)
	if reduced.Exponent > 0 {
		// Reduce turns 100 into 1E+2
		var plain apd.Decimal
		if _, err := apd.BaseContext.WithPrecision(defaultDecimalPrecision).Quantize(&plain, &reduced, 0); err == nil {
			return plain.Text('f')
		}
	}
	return reduced.Text('f')
}
func (d Decimal) structuralKey() string {
	return d.String()
}
