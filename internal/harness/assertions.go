package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/factlog/internal/ir"
)

// AssertionError is a failed expectation on a step.
type AssertionError struct {
	Step     string
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "step %s: assertion failed: %s\n", e.Step, e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// Assertion types.
const (
	AssertRows  = "rows"
	AssertCount = "count"
	AssertError = "error"
)

// expectedRows converts YAML rows to canonical strings, sorted.
func expectedRows(rows []map[string]any) ([]string, error) {
	out := make([]string, 0, len(rows))
	for i, row := range rows {
		obj := make(ir.Object, len(row))
		for name, raw := range row {
			v, err := ir.FromGo(raw)
			if err != nil {
				return nil, fmt.Errorf("expect[%d].%s: %w", i, name, err)
			}
			if !ir.IsKey(v) {
				return nil, fmt.Errorf("expect[%d].%s: %s is not a key", i, name, ir.MustCanonical(v))
			}
			obj[name] = v
		}
		out = append(out, ir.MustCanonical(obj))
	}
	slices.Sort(out)
	return out, nil
}

// assertRows compares result keys with the expected rows as sets.
func assertRows(step string, expected []map[string]any, actual []string) error {
	want, err := expectedRows(expected)
	if err != nil {
		return err
	}
	if slices.Equal(want, actual) {
		return nil
	}
	return &AssertionError{
		Step:     step,
		Type:     AssertRows,
		Expected: formatRows(want),
		Actual:   formatRows(actual),
	}
}

func assertCount(step string, want, got int) error {
	if want == got {
		return nil
	}
	return &AssertionError{
		Step:     step,
		Type:     AssertCount,
		Expected: fmt.Sprintf("%d rows", want),
		Actual:   fmt.Sprintf("%d rows", got),
	}
}

// assertError checks the code of a step error. An empty want means the step
// must succeed.
func assertError(step, want string, err error) error {
	got := errorCode(err)
	if want == got {
		return nil
	}
	actual := "success"
	if err != nil {
		actual = fmt.Sprintf("%s (%v)", got, err)
	}
	expected := want
	if expected == "" {
		expected = "success"
	}
	return &AssertionError{Step: step, Type: AssertError, Expected: expected, Actual: actual}
}

func formatRows(rows []string) string {
	if len(rows) == 0 {
		return "no rows"
	}
	return "[" + strings.Join(rows, ", ") + "]"
}
