package harness

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssertRows_SetSemantics(t *testing.T) {
	actual := []string{`{"c":"bob","g":"john"}`, `{"c":"carol","g":"john"}`}
	expected := []map[string]any{{"g": "john", "c": "carol"}, {"g": "john", "c": "bob"}}
	assert.NoError(t, assertRows("1", expected, actual))
}

func TestAssertRows_Mismatch(t *testing.T) {
	err := assertRows("2.1", []map[string]any{{"x": 7}}, nil)
	var ae *AssertionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "2.1", ae.Step)
	assert.Equal(t, AssertRows, ae.Type)
	assert.Equal(t, `[{"x":7}]`, ae.Expected)
	assert.Equal(t, "no rows", ae.Actual)
}

func TestAssertRows_RejectsNonKeys(t *testing.T) {
	err := assertRows("1", []map[string]any{{"x": true}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not a key")

	err = assertRows("1", []map[string]any{{"x": 1.5}}, nil)
	require.Error(t, err)
}

func TestAssertCount(t *testing.T) {
	assert.NoError(t, assertCount("1", 3, 3))
	err := assertCount("1", 3, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected: 3 rows")
	assert.Contains(t, err.Error(), "Actual: 2 rows")
}

func TestAssertError(t *testing.T) {
	assert.NoError(t, assertError("1", "", nil))
	assert.NoError(t, assertError("1", "ERROR", errors.New("boom")))

	err := assertError("1", "NOT_STORABLE", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected: NOT_STORABLE")
	assert.Contains(t, err.Error(), "Actual: success")

	err = assertError("1", "", errors.New("boom"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Actual: ERROR (boom)")
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{Step: "3", Type: AssertCount, Expected: "1 rows", Actual: "0 rows"}
	assert.Equal(t, "step 3: assertion failed: count\n  Expected: 1 rows\n  Actual: 0 rows", err.Error())
}
