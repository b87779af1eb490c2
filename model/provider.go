// Package model provides type information about FHIR documents to the FHIRPath engine.
//
// The Provider types fhirpath.Node values by their resourceType and by the
// path they were found under, following a table of FHIR types. The default
// table covers common R4 resources and data types; use Load for others.
package model

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/damedic/fhirpath-engine/fhirpath"
)

//go:embed types.yaml
var defaultTypes string

// Provider implements fhirpath.ModelProvider for FHIR.
// It is immutable after loading and safe for concurrent use.
type Provider struct {
	types map[string]*typeDef
}

type table struct {
	Types []*typeDef `yaml:"types"`
}

type typeDef struct {
	Name     string                  `yaml:"name"`
	Base     string                  `yaml:"base"`
	System   string                  `yaml:"system"`
	Elements map[string]elementTypes `yaml:"elements"`
}

// elementTypes is a single type name or, for choice elements, a list of them.
type elementTypes []string

func (e *elementTypes) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		*e = elementTypes{n.Value}
		return nil
	case yaml.SequenceNode:
		return n.Decode((*[]string)(e))
	}
	return fmt.Errorf("line %d: expected type name or list of type names", n.Line)
}

var defaultProvider = sync.OnceValue(func() *Provider {
	p, err := Load(strings.NewReader(defaultTypes))
	if err != nil {
		panic(fmt.Sprintf("invalid embedded type table: %v", err))
	}
	return p
})

// Default returns the provider for the embedded R4 type table.
func Default() *Provider {
	return defaultProvider()
}

// Load reads a type table in the YAML format of the embedded types.yaml.
func Load(r io.Reader) (*Provider, error) {
	var t table
	if err := yaml.NewDecoder(r).Decode(&t); err != nil {
		return nil, fmt.Errorf("decode type table: %w", err)
	}
	p := &Provider{types: make(map[string]*typeDef, len(t.Types))}
	for _, def := range t.Types {
		if def.Name == "" {
			return nil, fmt.Errorf("type without name")
		}
		if _, ok := p.types[def.Name]; ok {
			return nil, fmt.Errorf("duplicate type %s", def.Name)
		}
		p.types[def.Name] = def
	}
	for _, def := range t.Types {
		if def.Base != "" && p.types[def.Base] == nil {
			return nil, fmt.Errorf("type %s: unknown base type %s", def.Name, def.Base)
		}
		for name, types := range def.Elements {
			for _, typ := range types {
				if p.types[typ] == nil {
					return nil, fmt.Errorf("element %s.%s: unknown type %s", def.Name, name, typ)
				}
			}
		}
	}
	for _, def := range t.Types {
		if err := p.checkAcyclic(def.Name); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Provider) checkAcyclic(name string) error {
	seen := map[string]bool{}
	for t := name; t != ""; t = p.types[t].Base {
		if seen[t] {
			return fmt.Errorf("type %s: cyclic base types", name)
		}
		seen[t] = true
	}
	return nil
}

// ExtractTypeName types nodes by resourceType or element path. Other
// elements are typed by the System namespace.
func (p *Provider) ExtractTypeName(ctx context.Context, v fhirpath.Element) (fhirpath.TypeSpecifier, error) {
	n, ok := v.(*fhirpath.Node)
	if !ok {
		return fhirpath.SystemProvider{}.ExtractTypeName(ctx, v)
	}
	name, ok := p.nodeType(n)
	if !ok {
		return fhirpath.TypeSpecifier{Namespace: "FHIR", Name: "Element"}, nil
	}
	return fhirpath.TypeSpecifier{Namespace: "FHIR", Name: p.publicName(name)}, nil
}

// nodeType follows the path of n from its resource through the element table.
func (p *Provider) nodeType(n *fhirpath.Node) (string, bool) {
	if rt := n.ResourceType(); rt != "" {
		return rt, p.types[rt] != nil
	}
	segments := strings.Split(n.Path(), ".")
	typ := segments[0]
	if p.types[typ] == nil {
		return "", false
	}
	for _, member := range segments[1:] {
		next, ok := p.elementType(typ, member)
		if !ok {
			return "", false
		}
		typ = next
	}
	return typ, true
}

// elementType looks up member in typ and its base types. Choice
// elements match by their type suffix, e.g. valueQuantity.
func (p *Provider) elementType(typ, member string) (string, bool) {
	for def := p.types[typ]; def != nil; def = p.types[def.Base] {
		if types, ok := def.Elements[member]; ok && len(types) == 1 {
			return types[0], true
		}
		for name, types := range def.Elements {
			base, isChoice := strings.CutSuffix(name, "[x]")
			if !isChoice {
				continue
			}
			suffix, ok := fhirpath.ChoiceSuffix(member, base)
			if !ok {
				continue
			}
			for _, t := range types {
				if strings.EqualFold(t[:1], suffix[:1]) && t[1:] == suffix[1:] {
					return t, true
				}
			}
		}
	}
	return "", false
}

// publicName reports backbone elements like Patient.contact by their base type.
func (p *Provider) publicName(name string) string {
	for strings.Contains(name, ".") {
		name = p.types[name].Base
	}
	return name
}

// IsSubtypeOf walks the base types of typeName. FHIR primitives are
// subtypes of the System type their values are represented as.
func (p *Provider) IsSubtypeOf(ctx context.Context, typeName, ancestor fhirpath.TypeSpecifier) (bool, error) {
	if ancestor.Name == "Any" && ancestor.Namespace != "FHIR" {
		return true, nil
	}
	if typeName.Namespace == "System" {
		if typeName.Matches(ancestor) {
			return true, nil
		}
		def := p.types[ancestor.Name]
		return ancestor.Namespace != "System" && def != nil && def.System == typeName.Name, nil
	}
	if typeName.Namespace != "" && typeName.Namespace != "FHIR" {
		return false, nil
	}
	for t := typeName.Name; t != ""; {
		def := p.types[t]
		if def == nil {
			return false, nil
		}
		if (fhirpath.TypeSpecifier{Namespace: "FHIR", Name: p.publicName(t)}).Matches(ancestor) {
			return true, nil
		}
		t = def.Base
	}
	return false, nil
}

// TryCastValue converts System values to the System type behind a FHIR
// primitive, e.g. a String holding a date to FHIR.date.
func (p *Provider) TryCastValue(ctx context.Context, v fhirpath.Element, target fhirpath.TypeSpecifier) (fhirpath.Element, bool, error) {
	name, err := p.ExtractTypeName(ctx, v)
	if err != nil {
		return nil, false, err
	}
	is, err := p.IsSubtypeOf(ctx, name, target)
	if err != nil || is {
		return v, is, err
	}
	if target.Namespace == "System" {
		return nil, false, nil
	}
	def := p.types[target.Name]
	if def == nil || def.System == "" {
		return nil, false, nil
	}
	return convert(v, def.System)
}

func convert(v fhirpath.Element, system string) (fhirpath.Element, bool, error) {
	switch system {
	case "Boolean":
		return castResult(v.ToBoolean(false))
	case "String":
		return castResult(v.ToString(false))
	case "Integer":
		return castResult(v.ToInteger(false))
	case "Decimal":
		return castResult(v.ToDecimal(false))
	case "Date":
		return castResult(v.ToDate(true))
	case "DateTime":
		return castResult(v.ToDateTime(true))
	case "Time":
		return castResult(v.ToTime(true))
	}
	return nil, false, nil
}

// castResult drops conversion errors, which mean the value can not be cast.
func castResult[T fhirpath.Element](v T, converted bool, err error) (fhirpath.Element, bool, error) {
	if err != nil || !converted {
		return nil, false, nil
	}
	return v, true, nil
}
