// Package testdata provides the FHIRPath test suites and their input resources.
package testdata

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"gopkg.in/yaml.v3"

	"github.com/damedic/fhirpath-engine/fhirpath"
)

//go:embed fhirpath
var suites embed.FS

type FHIRPathTests struct {
	Name   string
	Groups []*FHIRPathTestGroup `yaml:"groups"`
}

type FHIRPathTestGroup struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Tests       []FHIRPathTest `yaml:"tests"`
}

type FHIRPathTest struct {
	Name          string `yaml:"name"`
	Description   string `yaml:"description"`
	InputFile     string `yaml:"inputfile"`
	InputResource *fhirpath.Node
	// Predicate tests compare the singleton Boolean value of the result.
	Predicate  bool                 `yaml:"predicate"`
	Invalid    string               `yaml:"invalid"`
	Expression string               `yaml:"expression"`
	Output     []FHIRPathTestOutput `yaml:"output"`
}

type FHIRPathTestOutput struct {
	Type  string `yaml:"type"`
	Value string `yaml:"value"`
}

// GetFHIRPathTests loads all suites under fhirpath/, sorted by file name,
// and decodes their input resources.
func GetFHIRPathTests() ([]FHIRPathTests, error) {
	files, err := fs.Glob(suites, "fhirpath/*.yaml")
	if err != nil {
		return nil, err
	}
	slices.Sort(files)

	var all []FHIRPathTests
	for _, file := range files {
		data, err := suites.ReadFile(file)
		if err != nil {
			return nil, err
		}
		tests := FHIRPathTests{Name: strings.TrimSuffix(path.Base(file), ".yaml")}
		if err := yaml.Unmarshal(data, &tests); err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		for _, g := range tests.Groups {
			for i, t := range g.Tests {
				if t.InputFile == "" {
					continue
				}
				input, err := suites.ReadFile(path.Join("fhirpath", "input", t.InputFile))
				if err != nil {
					return nil, fmt.Errorf("%s: test %s: %w", file, t.Name, err)
				}
				g.Tests[i].InputResource, err = fhirpath.ParseNode(input)
				if err != nil {
					return nil, fmt.Errorf("%s: input %s: %w", file, t.InputFile, err)
				}
			}
		}
		all = append(all, tests)
	}
	return all, nil
}

// OutputCollection converts the expected outputs to FHIRPath values.
func (t FHIRPathTest) OutputCollection() (fhirpath.Collection, error) {
	var c fhirpath.Collection
	for _, o := range t.Output {
		e, err := o.Element()
		if err != nil {
			return nil, fmt.Errorf("test %s: %w", t.Name, err)
		}
		c = append(c, e)
	}
	return c, nil
}

// Element converts a typed output. Without a type, it is inferred from the value.
func (o FHIRPathTestOutput) Element() (fhirpath.Element, error) {
	typ := o.Type
	if typ == "" {
		typ = inferType(o.Value)
	}
	switch typ {
	case "boolean":
		b, err := strconv.ParseBool(o.Value)
		return fhirpath.Boolean(b), err
	case "string", "code", "id":
		return fhirpath.String(o.Value), nil
	case "integer":
		i, err := strconv.ParseInt(o.Value, 10, 64)
		return fhirpath.Integer(i), err
	case "decimal":
		d, _, err := apd.NewFromString(o.Value)
		return fhirpath.Decimal{Value: d}, err
	case "date":
		return fhirpath.ParseDate(strings.TrimPrefix(o.Value, "@"))
	case "dateTime":
		return fhirpath.ParseDateTime(strings.TrimPrefix(o.Value, "@"))
	case "time":
		return fhirpath.ParseTime(strings.TrimPrefix(o.Value, "@T"))
	case "Quantity":
		return fhirpath.ParseQuantity(o.Value)
	}
	return nil, fmt.Errorf("invalid output type %q", typ)
}

func inferType(value string) string {
	value = strings.TrimSpace(value)
	switch {
	case strings.HasPrefix(value, "@T"):
		return "time"
	case strings.HasPrefix(value, "@") && strings.Contains(value, "T"):
		return "dateTime"
	case strings.HasPrefix(value, "@"):
		return "date"
	case value == "true" || value == "false":
		return "boolean"
	}
	if _, err := strconv.ParseInt(value, 10, 64); err == nil {
		return "integer"
	}
	if _, _, err := apd.NewFromString(value); err == nil {
		return "decimal"
	}
	if _, err := fhirpath.ParseQuantity(value); err == nil {
		return "Quantity"
	}
	return "string"
}
