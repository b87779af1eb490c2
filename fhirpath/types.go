package fhirpath

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/cockroachdb/apd/v3"
)

// Element is a single item of a FHIRPath collection.
//
// The System primitives of this package implement it, as does Node for
// structured JSON documents. Custom data models may add their own implementations.
type Element interface {
	// Children returns all child nodes with given names.
	//
	// If no name is passed, all children are returned.
	Children(name ...string) Collection
	ToBoolean(explicit bool) (v Boolean, ok bool, err error)
	ToString(explicit bool) (v String, ok bool, err error)
	ToInteger(explicit bool) (v Integer, ok bool, err error)
	ToDecimal(explicit bool) (v Decimal, ok bool, err error)
	ToDate(explicit bool) (v Date, ok bool, err error)
	ToTime(explicit bool) (v Time, ok bool, err error)
	ToDateTime(explicit bool) (v DateTime, ok bool, err error)
	ToQuantity(explicit bool) (v Quantity, ok bool, err error)
	// Equal implements the = operator. ok is false if the result is empty.
	Equal(other Element) (eq bool, ok bool)
	// Equivalent implements the ~ operator.
	Equivalent(other Element) bool
	TypeInfo() TypeInfo
	json.Marshaler
	fmt.Stringer
}

type cmpElement interface {
	Element
	// Cmp reports ok=false if the ordering can not be decided,
	// e.g. for date times of different precision.
	Cmp(other Element) (cmp int, ok bool, err error)
}

type arithmeticElement interface {
	Element
	Add(ctx context.Context, other Element) (Element, error)
	Subtract(ctx context.Context, other Element) (Element, error)
}

type multiplicativeElement interface {
	Element
	Multiply(ctx context.Context, other Element) (Element, error)
	Divide(ctx context.Context, other Element) (Element, error)
}

type integralElement interface {
	Element
	Div(ctx context.Context, other Element) (Element, error)
	Mod(ctx context.Context, other Element) (Element, error)
}

type apdContextKey struct{}

// WithAPDContext sets the apd.Context used for Decimal operations.
//
// The default keeps 34 significant digits, comfortably above the 18 digits
// required for FHIR decimals.
//
//	ctx = fhirpath.WithAPDContext(ctx, apd.BaseContext.WithPrecision(10))
//	result, err := engine.Evaluate(ctx, expr, resource)
func WithAPDContext(ctx context.Context, apdContext *apd.Context) context.Context {
	return context.WithValue(ctx, apdContextKey{}, apdContext)
}

const defaultDecimalPrecision uint32 = 34

var defaultAPDContext = apd.BaseContext.WithPrecision(defaultDecimalPrecision)

func apdContext(ctx context.Context) *apd.Context {
	if ctx != nil {
		if c, ok := ctx.Value(apdContextKey{}).(*apd.Context); ok && c != nil {
			return c
		}
	}
	return defaultAPDContext
}

// TypeInfo is the reflection value returned by the type() function.
type TypeInfo interface {
	Element
	QualifiedName() (TypeSpecifier, bool)
	BaseTypeName() (TypeSpecifier, bool)
}

type SimpleTypeInfo struct {
	defaultConversionError[SimpleTypeInfo]
	Namespace string        `json:"namespace"`
	Name      string        `json:"name"`
	BaseType  TypeSpecifier `json:"baseType"`
}

func (i SimpleTypeInfo) QualifiedName() (TypeSpecifier, bool) {
	return TypeSpecifier{Namespace: i.Namespace, Name: i.Name}, true
}
func (i SimpleTypeInfo) BaseTypeName() (TypeSpecifier, bool) {
	return i.BaseType, true
}
func (i SimpleTypeInfo) Children(name ...string) Collection {
	var children Collection
	if wants(name, "namespace") {
		children = append(children, String(i.Namespace))
	}
	if wants(name, "name") {
		children = append(children, String(i.Name))
	}
	if wants(name, "baseType") {
		children = append(children, i.BaseType)
	}
	return children
}
func (i SimpleTypeInfo) Equal(other Element) (eq bool, ok bool) {
	o, isInfo := other.(SimpleTypeInfo)
	return isInfo && o.Namespace == i.Namespace && o.Name == i.Name && o.BaseType == i.BaseType, true
}
func (i SimpleTypeInfo) Equivalent(other Element) bool {
	eq, _ := i.Equal(other)
	return eq
}
func (i SimpleTypeInfo) TypeInfo() TypeInfo {
	return ClassInfo{
		Namespace: "System",
		Name:      "SimpleTypeInfo",
		BaseType:  anyType,
		Element: []ClassInfoElement{
			{Name: "namespace", Type: systemType("String")},
			{Name: "name", Type: systemType("String")},
			{Name: "baseType", Type: systemType("TypeSpecifier")},
		},
	}
}
func (i SimpleTypeInfo) MarshalJSON() ([]byte, error) {
	type alias SimpleTypeInfo
	return json.Marshal(alias(i))
}
func (i SimpleTypeInfo) String() string {
	return marshalString(i)
}

// ClassInfo describes structured types, such as FHIR resources and data types.
type ClassInfo struct {
	defaultConversionError[ClassInfo]
	Namespace string             `json:"namespace"`
	Name      string             `json:"name"`
	BaseType  TypeSpecifier      `json:"baseType"`
	Element   []ClassInfoElement `json:"element"`
}

func (i ClassInfo) QualifiedName() (TypeSpecifier, bool) {
	return TypeSpecifier{Namespace: i.Namespace, Name: i.Name}, true
}
func (i ClassInfo) BaseTypeName() (TypeSpecifier, bool) {
	return i.BaseType, true
}
func (i ClassInfo) Children(name ...string) Collection {
	var children Collection
	if wants(name, "namespace") {
		children = append(children, String(i.Namespace))
	}
	if wants(name, "name") {
		children = append(children, String(i.Name))
	}
	if wants(name, "baseType") {
		children = append(children, i.BaseType)
	}
	if wants(name, "element") {
		for _, e := range i.Element {
			children = append(children, e)
		}
	}
	return children
}
func (i ClassInfo) Equal(other Element) (eq bool, ok bool) {
	o, isInfo := other.(ClassInfo)
	if !isInfo {
		return false, true
	}
	return i.Namespace == o.Namespace &&
		i.Name == o.Name &&
		i.BaseType == o.BaseType &&
		slices.Equal(i.Element, o.Element), true
}
func (i ClassInfo) Equivalent(other Element) bool {
	eq, _ := i.Equal(other)
	return eq
}
func (i ClassInfo) TypeInfo() TypeInfo {
	return ClassInfo{
		Namespace: "System",
		Name:      "ClassInfo",
		BaseType:  anyType,
		Element: []ClassInfoElement{
			{Name: "namespace", Type: systemType("String")},
			{Name: "name", Type: systemType("String")},
			{Name: "baseType", Type: systemType("TypeSpecifier")},
			{Name: "element", Type: systemType("ClassInfoElement")},
		},
	}
}
func (i ClassInfo) MarshalJSON() ([]byte, error) {
	type alias ClassInfo
	return json.Marshal(alias(i))
}
func (i ClassInfo) String() string {
	return marshalString(i)
}

type ClassInfoElement struct {
	defaultConversionError[ClassInfoElement]
	Name       string        `json:"name"`
	Type       TypeSpecifier `json:"type"`
	IsOneBased bool          `json:"isOneBased"`
}

func (i ClassInfoElement) Children(name ...string) Collection {
	var children Collection
	if wants(name, "name") {
		children = append(children, String(i.Name))
	}
	if wants(name, "type") {
		children = append(children, i.Type)
	}
	if wants(name, "isOneBased") {
		children = append(children, Boolean(i.IsOneBased))
	}
	return children
}
func (i ClassInfoElement) Equal(other Element) (eq bool, ok bool) {
	o, isElem := other.(ClassInfoElement)
	return isElem && o == i, true
}
func (i ClassInfoElement) Equivalent(other Element) bool {
	eq, _ := i.Equal(other)
	return eq
}
func (i ClassInfoElement) TypeInfo() TypeInfo {
	return ClassInfo{
		Namespace: "System",
		Name:      "ClassInfoElement",
		BaseType:  anyType,
		Element: []ClassInfoElement{
			{Name: "name", Type: systemType("String")},
			{Name: "type", Type: systemType("TypeSpecifier")},
			{Name: "isOneBased", Type: systemType("Boolean")},
		},
	}
}
func (i ClassInfoElement) MarshalJSON() ([]byte, error) {
	type alias ClassInfoElement
	return json.Marshal(alias(i))
}
func (i ClassInfoElement) String() string {
	return marshalString(i)
}

func wants(names []string, name string) bool {
	return len(names) == 0 || slices.Contains(names, name)
}

func marshalString(e json.Marshaler) string {
	buf, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return "null"
	}
	return string(buf)
}

// TypeSpecifier names a type, e.g. System.Integer or FHIR.Patient.
//
// An empty Namespace means the name is resolved against the model first
// and the System namespace second.
type TypeSpecifier struct {
	defaultConversionError[TypeSpecifier]
	Namespace string
	Name      string
	// List marks a collection of the named type when describing arguments.
	List bool
}

var anyType = TypeSpecifier{Namespace: "System", Name: "Any"}

func systemType(name string) TypeSpecifier {
	return TypeSpecifier{Namespace: "System", Name: name}
}

// ParseTypeSpecifier parses "Name", "Namespace.Name" and "List<...>" forms.
func ParseTypeSpecifier(s string) TypeSpecifier {
	list := false
	if strings.HasPrefix(s, "List<") && strings.HasSuffix(s, ">") {
		s = strings.TrimSuffix(strings.TrimPrefix(s, "List<"), ">")
		list = true
	}
	ns, name, found := strings.Cut(s, ".")
	if !found {
		return TypeSpecifier{Name: strings.Trim(ns, "`"), List: list}
	}
	return TypeSpecifier{
		Namespace: strings.Trim(ns, "`"),
		Name:      strings.Trim(name, "`"),
		List:      list,
	}
}

func (t TypeSpecifier) Children(name ...string) Collection {
	return nil
}
func (t TypeSpecifier) Equal(other Element) (eq bool, ok bool) {
	o, isSpec := other.(TypeSpecifier)
	return isSpec && o == t, true
}
func (t TypeSpecifier) Equivalent(other Element) bool {
	eq, _ := t.Equal(other)
	return eq
}
func (t TypeSpecifier) TypeInfo() TypeInfo {
	return SimpleTypeInfo{
		Namespace: "System",
		Name:      "TypeSpecifier",
		BaseType:  anyType,
	}
}
func (t TypeSpecifier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}
func (t TypeSpecifier) String() string {
	s := t.Name
	if t.Namespace != "" {
		s = t.Namespace + "." + t.Name
	}
	if t.List {
		return "List<" + s + ">"
	}
	return s
}

// Matches reports whether t names the same type as other, where an empty
// namespace on either side matches any namespace.
func (t TypeSpecifier) Matches(other TypeSpecifier) bool {
	if t.Name != other.Name {
		return false
	}
	return t.Namespace == "" || other.Namespace == "" || t.Namespace == other.Namespace
}

// systemTypeNames are the primitive types of the System namespace.
var systemTypeNames = []string{
	"Any", "Boolean", "String", "Integer", "Decimal",
	"Date", "DateTime", "Time", "Quantity",
}

func isSystemTypeName(name string) bool {
	return slices.Contains(systemTypeNames, name)
}

// typeOf returns the qualified type of an element.
func typeOf(e Element) TypeSpecifier {
	if n, ok := e.(*Node); ok {
		return n.typeSpecifier()
	}
	q, ok := e.TypeInfo().QualifiedName()
	if !ok {
		return anyType
	}
	return q
}

func elementTo[T Element](e Element, explicit bool) (v T, ok bool, err error) {
	switch any(v).(type) {
	case Boolean:
		v, ok, err := e.ToBoolean(explicit)
		return any(v).(T), ok, err
	case String:
		v, ok, err := e.ToString(explicit)
		return any(v).(T), ok, err
	case Integer:
		v, ok, err := e.ToInteger(explicit)
		return any(v).(T), ok, err
	case Decimal:
		v, ok, err := e.ToDecimal(explicit)
		return any(v).(T), ok, err
	case Date:
		v, ok, err := e.ToDate(explicit)
		return any(v).(T), ok, err
	case Time:
		v, ok, err := e.ToTime(explicit)
		return any(v).(T), ok, err
	case DateTime:
		v, ok, err := e.ToDateTime(explicit)
		return any(v).(T), ok, err
	case Quantity:
		v, ok, err := e.ToQuantity(explicit)
		return any(v).(T), ok, err
	default:
		return v, false, fmt.Errorf("can not convert to type %T", v)
	}
}

// Singleton converts a collection of at most one element to T.
//
// A single element that is not convertible to Boolean counts as true,
// following the singleton evaluation rules for conditions.
func Singleton[T Element](c Collection) (v T, ok bool, err error) {
	if len(c) == 0 {
		return v, false, nil
	} else if len(c) > 1 {
		return v, false, typeError("", "can not convert to singleton: collection contains %d values", len(c))
	}

	v, ok, err = elementTo[T](c[0], false)
	if _, wantBool := any(v).(Boolean); err != nil && wantBool {
		return any(Boolean(true)).(T), true, nil
	}
	return v, ok, err
}

type defaultConversionError[F any] struct{}

func (defaultConversionError[F]) ToBoolean(explicit bool) (v Boolean, ok bool, err error) {
	return false, false, conversionError[F, Boolean]()
}
func (defaultConversionError[F]) ToString(explicit bool) (v String, ok bool, err error) {
	return "", false, conversionError[F, String]()
}
func (defaultConversionError[F]) ToInteger(explicit bool) (v Integer, ok bool, err error) {
	return 0, false, conversionError[F, Integer]()
}
func (defaultConversionError[F]) ToDecimal(explicit bool) (v Decimal, ok bool, err error) {
	return Decimal{}, false, conversionError[F, Decimal]()
}
func (defaultConversionError[F]) ToDate(explicit bool) (v Date, ok bool, err error) {
	return Date{}, false, conversionError[F, Date]()
}
func (defaultConversionError[F]) ToTime(explicit bool) (v Time, ok bool, err error) {
	return Time{}, false, conversionError[F, Time]()
}
func (defaultConversionError[F]) ToDateTime(explicit bool) (v DateTime, ok bool, err error) {
	return DateTime{}, false, conversionError[F, DateTime]()
}
func (defaultConversionError[F]) ToQuantity(explicit bool) (v Quantity, ok bool, err error) {
	return Quantity{}, false, conversionError[F, Quantity]()
}

func conversionError[F any, T Element]() error {
	var (
		f F
		t T
	)
	return &Error{Kind: KindConversion, Msg: fmt.Sprintf("%T can not be converted to %T", f, t)}
}

func implicitConversionError[F Element, T Element](f F) error {
	var t T
	return &Error{Kind: KindConversion, Msg: fmt.Sprintf("%T %v can not be implicitly converted to %T", f, f, t)}
}
