package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for changing the encoding later.
const (
	DomainFact    = "factlog/fact/v1"
	DomainBinding = "factlog/binding/v1"
	DomainTuple   = "factlog/tuple/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator removes any domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// FactID computes the identity of a stored fact: the predicate name and its
// ordered slot keys. Storing the same fact twice yields the same id.
func FactID(predicate string, keys List) (string, error) {
	canonical, err := MarshalCanonical(Object{
		"predicate": String(predicate),
		"keys":      keys,
	})
	if err != nil {
		return "", fmt.Errorf("FactID: %w", err)
	}
	return hashWithDomain(DomainFact, canonical), nil
}

// BindingHash hashes a variable binding for de-duplication of result rows.
func BindingHash(binding Object) (string, error) {
	canonical, err := MarshalCanonical(binding)
	if err != nil {
		return "", fmt.Errorf("BindingHash: %w", err)
	}
	return hashWithDomain(DomainBinding, canonical), nil
}

// TupleKey returns a map key for an ordered tuple of values.
// Unlike the hashes it is the canonical text itself, which keeps it cheap to
// compute in hot evaluation loops while still being collision free.
func TupleKey(values List) string {
	return MustCanonical(values)
}

// MustFactID is like FactID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustFactID(predicate string, keys List) string {
	id, err := FactID(predicate, keys)
	if err != nil {
		panic(err)
	}
	return id
}

// MustBindingHash is like BindingHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustBindingHash(binding Object) string {
	h, err := BindingHash(binding)
	if err != nil {
		panic(err)
	}
	return h
}
