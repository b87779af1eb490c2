package fhirpath

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Value is the result of an evaluation: Empty, a single Element or a Collection.
//
// Values built with CollectionOf are collapsed, so a Collection used as a
// Value always holds at least two elements.
type Value interface {
	fmt.Stringer
	json.Marshaler
}

// Empty is the value of an evaluation that produced nothing.
type Empty struct{}

func (Empty) String() string {
	return "{ }"
}
func (Empty) MarshalJSON() ([]byte, error) {
	return []byte("[]"), nil
}

// CollectionOf builds a collapsed Value from elems.
func CollectionOf(elems ...Element) Value {
	switch len(elems) {
	case 0:
		return Empty{}
	case 1:
		return elems[0]
	default:
		return slices.Clone(Collection(elems))
	}
}

// Items returns the elements of v as a Collection.
func Items(v Value) Collection {
	switch v := v.(type) {
	case nil, Empty:
		return nil
	case Collection:
		return v
	case Element:
		return Collection{v}
	default:
		return nil
	}
}

// TypeName returns the FHIRPath type name of v. Collections of mixed
// type are reported as List<Any>.
func TypeName(v Value) string {
	items := Items(v)
	switch len(items) {
	case 0:
		return "Empty"
	case 1:
		return typeOf(items[0]).String()
	}
	return items.elementType().String()
}

// elementType is the common type of all elements, or List<System.Any>.
func (c Collection) elementType() TypeSpecifier {
	if len(c) == 0 {
		return TypeSpecifier{}
	}
	t := typeOf(c[0])
	for _, e := range c[1:] {
		if typeOf(e) != t {
			t = anyType
			break
		}
	}
	if len(c) > 1 {
		t.List = true
	}
	return t
}

// StructuralEqual compares two values by their structure. Unlike the = operator
// it never yields an unknown result and does not convert between types.
func StructuralEqual(a, b Value) bool {
	left, right := Items(a), Items(b)
	if len(left) != len(right) {
		return false
	}
	for i := range left {
		if StructuralKey(left[i]) != StructuralKey(right[i]) {
			return false
		}
	}
	return true
}

type structuralKeyer interface {
	structuralKey() string
}

// StructuralKey returns a string that is equal for structurally equal elements.
// It is qualified with the element type, so Integer 1 and Decimal 1 differ.
func StructuralKey(e Element) string {
	if k, ok := e.(structuralKeyer); ok {
		return typeOf(e).String() + ":" + k.structuralKey()
	}
	b, err := e.MarshalJSON()
	if err != nil {
		return typeOf(e).String() + ":" + e.String()
	}
	return typeOf(e).String() + ":" + string(b)
}

// resource is implemented by elements that carry a resource identity.
type resource interface {
	ResourceType() string
	ResourceId() (string, bool)
}

// identityKey is the resource identity when available, the structural key otherwise.
func identityKey(e Element) string {
	if r, ok := e.(resource); ok {
		if id, ok := r.ResourceId(); ok {
			return "ref:" + r.ResourceType() + "/" + id
		}
	}
	return StructuralKey(e)
}

// Collection is an ordered list of elements.
type Collection []Element

// Equal compares collections element-wise in order. ok is false if either side is empty.
func (c Collection) Equal(other Collection) (eq bool, ok bool) {
	if len(c) == 0 || len(other) == 0 {
		return false, false
	}
	if len(c) != len(other) {
		return false, true
	}
	for i, e := range c {
		eq, ok := e.Equal(other[i])
		if !ok || !eq {
			return false, ok
		}
	}
	return true, true
}

// Equivalent compares collections ignoring order.
func (c Collection) Equivalent(other Collection) bool {
	if len(c) != len(other) {
		return false
	}
	matched := make([]bool, len(other))
outer:
	for _, e := range c {
		for j, o := range other {
			if !matched[j] && e.Equivalent(o) {
				matched[j] = true
				continue outer
			}
		}
		return false
	}
	return true
}

// Cmp orders two singleton collections.
func (c Collection) Cmp(other Collection) (cmp int, ok bool, err error) {
	if len(c) == 0 || len(other) == 0 {
		return 0, false, nil
	}
	if len(c) != 1 || len(other) != 1 {
		return 0, false, typeError("", "can not compare collections with len != 1: %v and %v", c, other)
	}
	return compareElements(c[0], other[0])
}

func compareElements(left, right Element) (cmp int, ok bool, err error) {
	l, isCmp := left.(cmpElement)
	if !isCmp {
		return 0, false, typeError("", "%s values can not be compared", typeOf(left))
	}
	// a string holding a date literal is ordered as a date
	if s, isString := left.(String); isString {
		if _, rightCmp := right.(String); !rightCmp {
			if r, isCmp := right.(cmpElement); isCmp {
				cmp, ok, err := r.Cmp(s)
				return -cmp, ok, err
			}
		}
	}
	return l.Cmp(right)
}

// Union merges both collections, dropping structural duplicates and keeping
// the first occurrence of each element.
func (c Collection) Union(other Collection) Collection {
	seen := make(map[string]struct{}, len(c)+len(other))
	union := make(Collection, 0, len(c)+len(other))
	for _, src := range []Collection{c, other} {
		for _, e := range src {
			k := StructuralKey(e)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			union = append(union, e)
		}
	}
	return union
}

// Combine concatenates both collections without eliminating duplicates.
func (c Collection) Combine(other Collection) Collection {
	combined := make(Collection, 0, len(c)+len(other))
	combined = append(combined, c...)
	return append(combined, other...)
}

// Contains reports whether an element of c is equal to element.
func (c Collection) Contains(element Element) bool {
	for _, e := range c {
		eq, ok := e.Equal(element)
		if ok && eq {
			return true
		}
	}
	return false
}

// Distinct removes elements equal to an earlier element.
func (c Collection) Distinct() Collection {
	var distinct Collection
	for _, e := range c {
		if !distinct.Contains(e) {
			distinct = append(distinct, e)
		}
	}
	return distinct
}

// Value collapses c following the same rules as CollectionOf.
func (c Collection) Value() Value {
	return CollectionOf(c...)
}

func (c Collection) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Element(c))
}

func (c Collection) String() string {
	if len(c) == 0 {
		return "{ }"
	}

	var b strings.Builder
	b.WriteString("{ ")
	for i, e := range c {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(e.String())
	}
	b.WriteString(" }")
	return b.String()
}

// debugString is the type qualified serialization used for cache keys.
func (c Collection) debugString() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, e := range c {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(StructuralKey(e)))
	}
	b.WriteByte(']')
	return b.String()
}
