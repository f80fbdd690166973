// Package digest computes content fingerprints for uploaded files.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
)

// Supported algorithms. Every one of them yields a 256-bit digest.
const (
	SHA256  = "sha256"
	Blake2b = "blake2b"
	Blake3  = "blake3"
)

// HexLength is the length of a hex-encoded fingerprint.
const HexLength = 64

// chunkSize is the read buffer used while folding a stream into the hash.
const chunkSize = 32 * 1024

var (
	ErrUnknownAlgorithm = errors.New("unknown digest algorithm")
	ErrReadFailed       = errors.New("failed to read content stream")
)

// Engine produces fingerprints with a single, fixed algorithm.
type Engine struct {
	algorithm string
	newHash   func() hash.Hash
}

// New returns an engine for the named algorithm.
func New(algorithm string) (*Engine, error) {
	algorithm = strings.ToLower(strings.TrimSpace(algorithm))
	if algorithm == "" {
		algorithm = SHA256
	}

	var fn func() hash.Hash
	switch algorithm {
	case SHA256:
		fn = sha256.New
	case Blake2b:
		fn = func() hash.Hash {
			h, err := blake2b.New256(nil)
			if err != nil {
				// only returned for keys longer than 64 bytes
				panic(err)
			}
			return h
		}
	case Blake3:
		fn = func() hash.Hash { return blake3.New() }
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algorithm)
	}

	return &Engine{algorithm: algorithm, newHash: fn}, nil
}

// Algorithm returns the engine's algorithm name.
func (e *Engine) Algorithm() string {
	return e.algorithm
}

// NewHash returns a fresh accumulator, for callers that tee a stream.
func (e *Engine) NewHash() hash.Hash {
	return e.newHash()
}

// Sum reads r to EOF chunk by chunk and returns the hex fingerprint and
// the number of bytes consumed.
func (e *Engine) Sum(r io.Reader) (string, int64, error) {
	h := e.newHash()
	buf := make([]byte, chunkSize)

	n, err := io.CopyBuffer(h, r, buf)
	if err != nil {
		return "", n, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}

	return Encode(h), n, nil
}

// Encode returns the hex encoding of the accumulator's current digest.
func Encode(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// Valid reports whether s looks like a fingerprint.
func Valid(s string) bool {
	if len(s) != HexLength {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
