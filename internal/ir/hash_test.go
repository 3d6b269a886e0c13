package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactIDDeterminism(t *testing.T) {
	keys := List{String("alice"), String("bob")}

	id1, err := FactID("ParentOf", keys)
	require.NoError(t, err)
	id2, err := FactID("ParentOf", keys)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 64, "SHA-256 hex is 64 characters")
}

func TestFactIDDistinguishesInputs(t *testing.T) {
	base := MustFactID("ParentOf", List{String("alice"), String("bob")})

	assert.NotEqual(t, base, MustFactID("ParentOf", List{String("bob"), String("alice")}), "slot order matters")
	assert.NotEqual(t, base, MustFactID("ChildOf", List{String("alice"), String("bob")}))
	assert.NotEqual(t, MustFactID("P", List{Int(1)}), MustFactID("P", List{String("1")}))
}

func TestBindingHashIgnoresMapOrder(t *testing.T) {
	a := Object{"x": String("1"), "y": String("2")}
	b := Object{"y": String("2"), "x": String("1")}
	assert.Equal(t, MustBindingHash(a), MustBindingHash(b))
}

func TestDomainSeparation(t *testing.T) {
	data := []byte(`{"a":1}`)
	assert.NotEqual(t, hashWithDomain(DomainFact, data), hashWithDomain(DomainBinding, data))
}

func TestTupleKey(t *testing.T) {
	assert.Equal(t, `["a",1]`, TupleKey(List{String("a"), Int(1)}))
	assert.NotEqual(t, TupleKey(List{Int(1)}), TupleKey(List{String("1")}))
}
