// Package idempotency derives deterministic deduplication keys.
//
// Keys are pure functions of their inputs: the same discriminator and the
// same canonical payload always produce the same key, across processes and
// restarts. Payloads are canonicalized before hashing so field order and
// insignificant whitespace do not change the key.
package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyDiscriminator is returned when a key is requested without a type discriminator.
	ErrEmptyDiscriminator = errors.New("idempotency: empty discriminator")

	// ErrInvalidDiscriminator is returned for a discriminator containing the key separator.
	ErrInvalidDiscriminator = errors.New("idempotency: discriminator contains the unit separator")
)

// separator cannot appear inside canonical JSON, and ValidateDiscriminator
// keeps it out of discriminators, so the split between the two is unambiguous.
const separator = 0x1f

// ValidateDiscriminator reports whether discriminator can prefix a key.
func ValidateDiscriminator(discriminator string) error {
	if strings.TrimSpace(discriminator) == "" {
		return ErrEmptyDiscriminator
	}
	if strings.IndexByte(discriminator, separator) >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidDiscriminator, discriminator)
	}
	return nil
}

// Canonical marshals v and rewrites it in canonical form: object keys sorted,
// no insignificant whitespace, numbers preserved verbatim.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("idempotency: marshal payload: %w", err)
	}
	return CanonicalJSON(raw)
}

// CanonicalJSON rewrites an existing JSON document in canonical form.
func CanonicalJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("idempotency: decode payload: %w", err)
	}

	// encoding/json sorts map keys, which is all canonical form needs here.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("idempotency: encode payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Key hashes a discriminator together with a canonical payload.
func Key(discriminator string, canonicalPayload []byte) (string, error) {
	if err := ValidateDiscriminator(discriminator); err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write([]byte(discriminator))
	h.Write([]byte{separator})
	h.Write(canonicalPayload)
	return hex.EncodeToString(h.Sum(nil)), nil
}
