package fhirpath

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/apd/v3"
)

// Node is a JSON object, typically a FHIR resource or one of its elements
// in the FHIR JSON representation.
//
// Object members are kept in document order. Arrays are flattened into the
// collection of the member, JSON null and primitive extension members
// (prefixed with an underscore) are skipped. Primitive members become
// Boolean, String, Integer or Decimal elements.
type Node struct {
	defaultConversionError[*Node]
	parent *Node
	key    string
	fields []nodeField

	once      sync.Once
	canonical string
}

type nodeField struct {
	name   string
	values Collection
	array  bool
}

// ParseNode decodes a JSON object.
func ParseNode(data []byte) (*Node, error) {
	c, err := ParseJSON(data)
	if err != nil {
		return nil, err
	}
	if len(c) != 1 {
		return nil, fmt.Errorf("expected a JSON object, got %d values", len(c))
	}
	n, ok := c[0].(*Node)
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %s", typeOf(c[0]))
	}
	return n, nil
}

// ParseJSON decodes any JSON value into a collection.
func ParseJSON(data []byte) (Collection, error) {
	return DecodeJSON(bytes.NewReader(data))
}

// DecodeJSON decodes a single JSON value from r.
func DecodeJSON(r io.Reader) (Collection, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	c, _, err := decodeValue(dec, nil, "")
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid JSON: trailing data")
	}
	return c, nil
}

// NewNode converts any JSON marshalable value, such as a map, into a Node.
func NewNode(v any) (*Node, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return ParseNode(data)
}

// decodeValue reports whether the value was a JSON array.
func decodeValue(dec *json.Decoder, parent *Node, key string) (Collection, bool, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, false, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			n, err := decodeObject(dec, parent, key)
			if err != nil {
				return nil, false, err
			}
			return Collection{n}, false, nil
		case '[':
			var c Collection
			for dec.More() {
				items, _, err := decodeValue(dec, parent, key)
				if err != nil {
					return nil, true, err
				}
				c = append(c, items...)
			}
			if _, err := dec.Token(); err != nil {
				return nil, true, err
			}
			return c, true, nil
		}
		return nil, false, fmt.Errorf("unexpected delimiter %v", t)
	case nil:
		return nil, false, nil
	case bool:
		return Collection{Boolean(t)}, false, nil
	case string:
		return Collection{String(t)}, false, nil
	case json.Number:
		e, err := numberElement(t)
		if err != nil {
			return nil, false, err
		}
		return Collection{e}, false, nil
	}
	return nil, false, fmt.Errorf("unexpected token %v", tok)
}

func decodeObject(dec *json.Decoder, parent *Node, key string) (*Node, error) {
	n := &Node{parent: parent, key: key}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", tok)
		}
		values, isArray, err := decodeValue(dec, n, name)
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(name, "_") || values == nil {
			continue
		}
		n.fields = append(n.fields, nodeField{name: name, values: values, array: isArray})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return n, nil
}

// numberElement keeps integral JSON numbers as Integer and all others as Decimal.
func numberElement(n json.Number) (Element, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Integer(i), nil
		}
	}
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return Decimal{Value: d}, nil
}

// ResourceType returns the value of the resourceType member, if any.
func (n *Node) ResourceType() string {
	for _, f := range n.fields {
		if f.name == "resourceType" && len(f.values) == 1 {
			if s, ok := f.values[0].(String); ok {
				return string(s)
			}
		}
	}
	return ""
}

// ResourceId returns the id of a resource node.
func (n *Node) ResourceId() (string, bool) {
	if n.ResourceType() == "" {
		return "", false
	}
	for _, f := range n.fields {
		if f.name == "id" && len(f.values) == 1 {
			if s, ok := f.values[0].(String); ok {
				return string(s), true
			}
		}
	}
	return "", false
}

// Path is the element path of n starting at the closest enclosing
// resource, e.g. Patient.name.given or Observation.valueQuantity.
func (n *Node) Path() string {
	if rt := n.ResourceType(); rt != "" {
		return rt
	}
	if n.parent == nil {
		return n.key
	}
	return n.parent.Path() + "." + n.key
}

// Key is the member name n was found under.
func (n *Node) Key() string {
	return n.key
}

// Children returns the values of the named members, or of all members
// except resourceType if no name is passed. A name that is not a member
// matches a choice member with the name as prefix, e.g. value matches valueQuantity.
func (n *Node) Children(name ...string) Collection {
	var children Collection
	if len(name) == 0 {
		for _, f := range n.fields {
			if f.name != "resourceType" {
				children = append(children, f.values...)
			}
		}
		return children
	}
	for _, nm := range name {
		children = append(children, n.member(nm)...)
	}
	return children
}

func (n *Node) member(name string) Collection {
	for _, f := range n.fields {
		if f.name == name {
			return f.values
		}
	}
	for _, f := range n.fields {
		if _, ok := ChoiceSuffix(f.name, name); ok {
			return f.values
		}
	}
	return nil
}

// ChoiceSuffix returns the type suffix of a choice member, e.g. Quantity for valueQuantity and value.
func ChoiceSuffix(member, base string) (string, bool) {
	if len(member) <= len(base) || !strings.HasPrefix(member, base) {
		return "", false
	}
	suffix := member[len(base):]
	if suffix[0] < 'A' || suffix[0] > 'Z' {
		return "", false
	}
	return suffix, true
}

// ToQuantity converts a FHIR Quantity element to a System Quantity.
func (n *Node) ToQuantity(explicit bool) (v Quantity, ok bool, err error) {
	values := n.member("value")
	if len(values) != 1 {
		return Quantity{}, false, conversionError[*Node, Quantity]()
	}
	d, ok, err := values[0].ToDecimal(false)
	if err != nil || !ok {
		return Quantity{}, false, conversionError[*Node, Quantity]()
	}
	unit := String("1")
	for _, member := range []string{"code", "unit"} {
		if u := n.member(member); len(u) == 1 {
			if s, isString := u[0].(String); isString {
				unit = s
				break
			}
		}
	}
	return Quantity{Value: d, Unit: unit}, true, nil
}

func (n *Node) Equal(other Element) (eq bool, ok bool) {
	switch o := other.(type) {
	case *Node:
		return n.canonicalJSON() == o.canonicalJSON(), true
	case Quantity:
		q, isQuantity, _ := n.ToQuantity(false)
		if !isQuantity {
			return false, true
		}
		return q.Equal(o)
	}
	return false, true
}
func (n *Node) Equivalent(other Element) bool {
	if o, isQuantity := other.(Quantity); isQuantity {
		q, ok, _ := n.ToQuantity(false)
		return ok && q.Equivalent(o)
	}
	eq, ok := n.Equal(other)
	return ok && eq
}
func (n *Node) Cmp(other Element) (cmp int, ok bool, err error) {
	q, isQuantity, _ := n.ToQuantity(false)
	if !isQuantity {
		return 0, false, typeError("", "%s values can not be compared", typeOf(n))
	}
	if o, isNode := other.(*Node); isNode {
		oq, ok, _ := o.ToQuantity(false)
		if !ok {
			return 0, false, typeError("", "%s values can not be compared", typeOf(o))
		}
		other = oq
	}
	return q.Cmp(other)
}

func (n *Node) typeSpecifier() TypeSpecifier {
	name := n.ResourceType()
	if name == "" {
		name = "Element"
	}
	return TypeSpecifier{Namespace: "FHIR", Name: name}
}

// TypeInfo reports the resource type for resources. Other elements are
// typed by a ModelProvider.
func (n *Node) TypeInfo() TypeInfo {
	name := n.typeSpecifier().Name
	var elements []ClassInfoElement
	for _, f := range n.fields {
		elements = append(elements, ClassInfoElement{Name: f.name, Type: anyType})
	}
	return ClassInfo{
		Namespace: "FHIR",
		Name:      name,
		BaseType:  TypeSpecifier{Namespace: "FHIR", Name: "Element"},
		Element:   elements,
	}
}

func (n *Node) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	if err := n.writeJSON(&b, false); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func (n *Node) writeJSON(b *bytes.Buffer, sorted bool) error {
	fields := n.fields
	if sorted {
		fields = slices.Clone(fields)
		slices.SortFunc(fields, func(a, b nodeField) int { return strings.Compare(a.name, b.name) })
	}
	b.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		name, err := json.Marshal(f.name)
		if err != nil {
			return err
		}
		b.Write(name)
		b.WriteByte(':')
		if f.array {
			b.WriteByte('[')
		}
		for j, v := range f.values {
			if j > 0 {
				b.WriteByte(',')
			}
			if child, ok := v.(*Node); ok {
				if err := child.writeJSON(b, sorted); err != nil {
					return err
				}
				continue
			}
			buf, err := v.MarshalJSON()
			if err != nil {
				return err
			}
			b.Write(buf)
		}
		if f.array {
			b.WriteByte(']')
		}
	}
	b.WriteByte('}')
	return nil
}

// canonicalJSON is the serialization with members sorted by name.
func (n *Node) canonicalJSON() string {
	n.once.Do(func() {
		var b bytes.Buffer
		if err := n.writeJSON(&b, true); err != nil {
			n.canonical = fmt.Sprintf("%p", n)
			return
		}
		n.canonical = b.String()
	})
	return n.canonical
}

func (n *Node) structuralKey() string {
	return n.canonicalJSON()
}

func (n *Node) String() string {
	buf, err := n.MarshalJSON()
	if err != nil {
		return "null"
	}
	return string(buf)
}
