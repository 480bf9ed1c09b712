// Package fingerprint computes content identities for downloaded sources.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

// ChunkSize bounds how much of the source is held in memory while hashing.
const ChunkSize = 64 * 1024

// Fingerprint is the lowercase hex SHA-256 digest of a byte stream.
type Fingerprint string

var ErrInvalid = errors.New("invalid fingerprint")

func (f Fingerprint) String() string { return string(f) }

// Valid reports whether f looks like a hex encoded SHA-256 digest.
func (f Fingerprint) Valid() bool {
	if len(f) != sha256.Size*2 {
		return false
	}
	for _, c := range f {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Parse validates s and returns it as a Fingerprint.
func Parse(s string) (Fingerprint, error) {
	f := Fingerprint(s)
	if !f.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return f, nil
}

// FromReader consumes r in order, ChunkSize bytes at a time, and returns the
// digest together with the number of bytes read.
func FromReader(r io.Reader) (Fingerprint, int64, error) {
	h := sha256.New()
	buf := make([]byte, ChunkSize)
	n, err := io.CopyBuffer(h, r, buf)
	if err != nil {
		return "", n, fmt.Errorf("hash: %w", err)
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil))), n, nil
}

// FromFile hashes the file at path.
func FromFile(path string) (Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	fp, _, err := FromReader(f)
	return fp, err
}

// FromBytes is a convenience for small in-memory payloads.
func FromBytes(b []byte) Fingerprint {
	sum := sha256.Sum256(b)
	return Fingerprint(hex.EncodeToString(sum[:]))
}
