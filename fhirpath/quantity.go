package fhirpath

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/cockroachdb/apd/v3"
)

// Quantity is a decimal value with a UCUM unit or a calendar duration keyword.
type Quantity struct {
	defaultConversionError[Quantity]
	Value Decimal
	Unit  String
}

func (q Quantity) Children(name ...string) Collection {
	var children Collection
	if wants(name, "value") {
		children = append(children, q.Value)
	}
	if wants(name, "unit") {
		children = append(children, q.Unit)
	}
	return children
}
func (q Quantity) ToString(explicit bool) (v String, ok bool, err error) {
	if !explicit {
		return "", false, implicitConversionError[Quantity, String](q)
	}
	return String(q.String()), true, nil
}
func (q Quantity) ToQuantity(explicit bool) (v Quantity, ok bool, err error) {
	return q, true, nil
}

// quantityOperand accepts quantities and numbers, which have the unit '1'.
func quantityOperand(other Element) (Quantity, bool) {
	switch o := other.(type) {
	case Quantity:
		return o, true
	case Integer, Decimal:
		q, _, _ := o.ToQuantity(false)
		return q, true
	}
	return Quantity{}, false
}

func (q Quantity) Equal(other Element) (eq bool, ok bool) {
	o, isQuantity := quantityOperand(other)
	if !isQuantity {
		return false, true
	}
	left, right := q.canonicalizeUnit(), o.canonicalizeUnit()
	if calendarEqualityRestricted(q.Unit, o.Unit, left.Unit) {
		// calendar years and months are not comparable to 'a' and 'mo'
		return false, false
	}
	converted, err := convertQuantityToUnit(context.Background(), right, left.Unit)
	if err != nil {
		return false, false
	}
	return left.Value.Value.Cmp(converted.Value.Value) == 0, true
}
func (q Quantity) Equivalent(other Element) bool {
	o, isQuantity := quantityOperand(other)
	if !isQuantity {
		return false
	}
	left := q.canonicalizeUnit()
	converted, err := convertQuantityToUnit(context.Background(), o, left.Unit)
	if err != nil {
		return false
	}
	return left.Value.Equivalent(converted.Value)
}
func (q Quantity) Cmp(other Element) (cmp int, ok bool, err error) {
	o, isQuantity := quantityOperand(other)
	if !isQuantity {
		return 0, false, typeError("", "can not compare Quantity to %s, left: %v right: %v", typeOf(other), q, other)
	}
	left := q.canonicalizeUnit()
	converted, convErr := convertQuantityToUnit(context.Background(), o, left.Unit)
	if convErr != nil {
		return 0, false, nil
	}
	return left.Value.Value.Cmp(converted.Value.Value), true, nil
}
func (q Quantity) Multiply(ctx context.Context, other Element) (Element, error) {
	o, isQuantity := quantityOperand(other)
	if !isQuantity {
		return nil, typeError("*", "can not multiply Quantity with %s", typeOf(other))
	}
	left, right := q.canonicalizeUnit(), o.canonicalizeUnit()
	value, err := left.Value.Multiply(ctx, right.Value)
	if err != nil {
		return nil, err
	}
	return Quantity{Value: value.(Decimal), Unit: formatProductUnit(left.Unit, right.Unit)}, nil
}
func (q Quantity) Divide(ctx context.Context, other Element) (Element, error) {
	o, isQuantity := quantityOperand(other)
	if !isQuantity {
		return nil, typeError("/", "can not divide Quantity by %s", typeOf(other))
	}
	left, right := q.canonicalizeUnit(), o.canonicalizeUnit()
	value, err := left.Value.Divide(ctx, right.Value)
	if err != nil || value == nil {
		return nil, err
	}
	return Quantity{Value: value.(Decimal), Unit: formatDivisionUnit(left.Unit, right.Unit)}, nil
}
func (q Quantity) Add(ctx context.Context, other Element) (Element, error) {
	return q.combine(ctx, "+", other, (*apd.Context).Add)
}
func (q Quantity) Subtract(ctx context.Context, other Element) (Element, error) {
	return q.combine(ctx, "-", other, (*apd.Context).Sub)
}
func (q Quantity) combine(
	ctx context.Context, op string, other Element,
	f func(c *apd.Context, res, x, y *apd.Decimal) (apd.Condition, error),
) (Element, error) {
	o, isQuantity := other.(Quantity)
	if !isQuantity {
		return nil, typeError(op, "can not combine Quantity and %s", typeOf(other))
	}
	left := q.canonicalizeUnit()
	converted, err := convertQuantityToUnit(ctx, o, left.Unit)
	if err != nil {
		return nil, evaluationError(op, "quantity units do not match, left: %v right: %v", q, o)
	}
	var res apd.Decimal
	if _, err := f(apdContext(ctx), &res, left.Value.Value, converted.Value.Value); err != nil {
		return nil, evaluationError(op, "%v", err)
	}
	return Quantity{Value: Decimal{Value: &res}, Unit: left.Unit}, nil
}

func (q Quantity) canonicalizeUnit() Quantity {
	q.Unit = canonicalQuantityUnit(q.Unit)
	return q
}

func canonicalQuantityUnit(unit String) String {
	if unit == "" {
		return "1"
	}
	return String(canonicalUCUMUnit(string(unit)))
}

// calendarEqualityRestricted reports whether exactly one side uses a calendar
// keyword for a variable length duration ('a' or 'mo').
func calendarEqualityRestricted(leftOriginal, rightOriginal, canonicalUnit String) bool {
	if isCalendarKeyword(string(leftOriginal)) == isCalendarKeyword(string(rightOriginal)) {
		return false
	}
	return canonicalUnit == "a" || canonicalUnit == "mo"
}

func convertQuantityToUnit(ctx context.Context, q Quantity, unit String) (Quantity, error) {
	target := canonicalQuantityUnit(unit)
	q = q.canonicalizeUnit()
	if q.Unit == target {
		return q, nil
	}
	converted, err := convertDecimalUnit(ctx, q.Value.Value, string(q.Unit), string(target))
	if err != nil {
		return Quantity{}, err
	}
	return Quantity{Value: Decimal{Value: converted}, Unit: target}, nil
}

func formatProductUnit(left, right String) String {
	switch {
	case left == "1":
		return right
	case right == "1":
		return left
	}
	return String(wrapUnit(left, "/") + "." + wrapUnit(right, "/"))
}

func formatDivisionUnit(numerator, denominator String) String {
	switch {
	case numerator == denominator:
		return "1"
	case denominator == "1":
		return numerator
	}
	return String(wrapUnit(numerator, "/") + "/" + wrapUnit(denominator, "./"))
}

func wrapUnit(u String, separators string) string {
	if strings.ContainsAny(string(u), separators) {
		return "(" + string(u) + ")"
	}
	return string(u)
}

func (q Quantity) TypeInfo() TypeInfo {
	return SimpleTypeInfo{Namespace: "System", Name: "Quantity", BaseType: anyType}
}
func (q Quantity) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.String())
}
func (q Quantity) String() string {
	u := strings.TrimSpace(string(q.Unit))
	if u == "" {
		return q.Value.String()
	}
	if isCalendarKeyword(u) {
		return fmt.Sprintf("%s %s", q.Value, u)
	}
	return fmt.Sprintf("%s '%s'", q.Value, u)
}
func (q Quantity) structuralKey() string {
	return q.Value.String() + " " + string(canonicalQuantityUnit(q.Unit))
}

var quantityPattern = regexp.MustCompile(`^([+-]?\d+(?:\.\d+)?)\s*(?:'([^']*)'|([a-z]+))?$`)

// ParseQuantity parses the string form of a quantity, e.g. "4.5 'mg'" or "3 days".
// A bare number has the unit '1'.
func ParseQuantity(s string) (Quantity, error) {
	m := quantityPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Quantity{}, fmt.Errorf("cannot parse quantity '%s'", s)
	}
	v, _, err := apd.NewFromString(m[1])
	if err != nil {
		return Quantity{}, fmt.Errorf("cannot parse quantity '%s': %w", s, err)
	}
	unit := "1"
	switch {
	case m[2] != "":
		unit = m[2]
	case m[3] != "":
		if !isCalendarKeyword(m[3]) {
			return Quantity{}, fmt.Errorf("cannot parse quantity '%s': unknown unit %s", s, m[3])
		}
		unit = m[3]
	}
	return Quantity{Value: Decimal{Value: v}, Unit: String(unit)}, nil
}
