package main

import (
	"bytes"
	"encoding/json"
	"fmt"
)

/*
Canonical JSON encoding.

Every record is stored and returned in a byte-stable form: object keys
sorted, numbers preserved verbatim. Replicas re-validating a transaction
must produce the identical write set, so a struct is round-tripped through
a generic value before the final marshal (encoding/json sorts map keys).
*/

// canonicalBytes returns the canonical JSON encoding of v.
func canonicalBytes(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber() // keep numeric literals exact
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical decode: %w", err)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonical re-marshal: %w", err)
	}
	return out, nil
}

// canonicalJSON is canonicalBytes as a string, the return shape of every
// public operation.
func canonicalJSON(v any) (string, error) {
	b, err := canonicalBytes(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// emptyArray is the canonical empty-list payload; list operations never
// return null.
const emptyArray = "[]"

// listJSON renders a slice canonically, mapping a nil slice to "[]".
func listJSON[T any](items []T) (string, error) {
	if len(items) == 0 {
		return emptyArray, nil
	}
	return canonicalJSON(items)
}
