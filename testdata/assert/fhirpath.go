package assert

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/damedic/fhirpath-engine/fhirpath"
)

// FHIRPathEqual fails t unless actual is equivalent to expected.
func FHIRPathEqual(t *testing.T, expected, actual fhirpath.Collection) {
	t.Helper()
	// use equivalence to have empty results { } ~ { } result in true
	if !expected.Equivalent(actual) {
		t.Errorf("result mismatch (-expected +actual):\n%s", cmp.Diff(lines(expected), lines(actual)))
	}
}

func lines(c fhirpath.Collection) []string {
	s := make([]string, len(c))
	for i, e := range c {
		s[i] = e.String()
	}
	return s
}
