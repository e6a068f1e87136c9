// Package digest computes and checks content digests of files and
// directory trees. Hashing is streaming so memory use does not grow
// with input size.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/lucretia/decomplicator/internal/failure"
	"github.com/zeebo/blake3"
)

// Algorithm names a supported hash function.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"
)

// Digest is an algorithm-tagged content digest.
type Digest struct {
	Algorithm Algorithm
	Sum       string // lowercase hex
}

// Parse reads the textual form "algorithm:hex". A bare 64-character hex
// string is accepted as sha256.
func Parse(s string) (Digest, error) {
	s = strings.TrimSpace(s)
	algo, sum, ok := strings.Cut(s, ":")
	if !ok {
		algo, sum = string(SHA256), s
	}
	d := Digest{Algorithm: Algorithm(strings.ToLower(algo)), Sum: strings.ToLower(sum)}
	if err := d.validate(); err != nil {
		return Digest{}, err
	}
	return d, nil
}

// MustParse is Parse for literals in tests and built-in tables.
func MustParse(s string) Digest {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Digest) validate() error {
	if _, err := newHash(d.Algorithm); err != nil {
		return err
	}
	if len(d.Sum) != 64 {
		return fmt.Errorf("invalid %s digest '%s': expected 64 hex characters", d.Algorithm, d.Sum)
	}
	if _, err := hex.DecodeString(d.Sum); err != nil {
		return fmt.Errorf("invalid %s digest '%s': not hex", d.Algorithm, d.Sum)
	}
	return nil
}

// String returns the textual form "algorithm:hex".
func (d Digest) String() string {
	if d.IsZero() {
		return ""
	}
	return string(d.Algorithm) + ":" + d.Sum
}

// IsZero reports whether d is unset.
func (d Digest) IsZero() bool {
	return d.Sum == ""
}

// Equal compares algorithm and sum.
func (d Digest) Equal(other Digest) bool {
	return d.Algorithm == other.Algorithm && d.Sum == other.Sum
}

func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Digest) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = Digest{}
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func newHash(algo Algorithm) (hash.Hash, error) {
	switch algo {
	case SHA256:
		return sha256.New(), nil
	case BLAKE3:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("unsupported digest algorithm '%s' (supported: sha256, blake3)", algo)
	}
}

// NewHasher returns a streaming hasher for algo.
func NewHasher(algo Algorithm) (*Hasher, error) {
	h, err := newHash(algo)
	if err != nil {
		return nil, err
	}
	return &Hasher{algo: algo, h: h}, nil
}

// Hasher accumulates written bytes into a Digest.
type Hasher struct {
	algo Algorithm
	h    hash.Hash
	n    int64
}

func (h *Hasher) Write(p []byte) (int, error) {
	n, err := h.h.Write(p)
	h.n += int64(n)
	return n, err
}

// Size returns the number of bytes hashed so far.
func (h *Hasher) Size() int64 {
	return h.n
}

// Digest returns the digest of everything written so far.
func (h *Hasher) Digest() Digest {
	return Digest{Algorithm: h.algo, Sum: hex.EncodeToString(h.h.Sum(nil))}
}

// OfReader hashes r to EOF.
func OfReader(r io.Reader, algo Algorithm) (Digest, error) {
	h, err := NewHasher(algo)
	if err != nil {
		return Digest{}, err
	}
	if _, err := io.Copy(h, r); err != nil {
		return Digest{}, err
	}
	return h.Digest(), nil
}

// OfBytes hashes an in-memory value.
func OfBytes(data []byte, algo Algorithm) Digest {
	h, err := NewHasher(algo)
	if err != nil {
		panic(err)
	}
	_, _ = h.Write(data)
	return h.Digest()
}

// Of hashes the file at path.
func Of(path string, algo Algorithm) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	d, err := OfReader(f, algo)
	if err != nil {
		return Digest{}, fmt.Errorf("hashing %s: %w", path, err)
	}
	return d, nil
}

// Verify checks the file at path against expected. A mismatch is an
// IntegrityError; a missing or unreadable file is an IOFailure.
func Verify(path string, expected Digest) error {
	actual, err := Of(path, expected.Algorithm)
	if err != nil {
		return failure.New(failure.IOFailure, "verify", err)
	}
	if !actual.Equal(expected) {
		return failure.Newf(failure.IntegrityError, "verify", "%s: expected %s, got %s", path, expected, actual)
	}
	return nil
}
