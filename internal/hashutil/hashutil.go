// Package hashutil names the checksum algorithms archives are tagged with.
package hashutil

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"

	"golang.org/x/crypto/blake2b"
)

var algorithms = map[string]func() hash.Hash{
	"sha256": sha256.New,
	"sha512": sha512.New,
	"blake2b-256": func() hash.Hash {
		// A nil key never fails.
		h, _ := blake2b.New256(nil)
		return h
	},
}

// Checksum accumulates the digest of everything written to it.
type Checksum struct {
	algo string
	h    hash.Hash
}

// New starts a checksum with the named algorithm.
func New(algo string) (*Checksum, error) {
	factory, ok := algorithms[algo]
	if !ok {
		return nil, fmt.Errorf("unsupported checksum algorithm: %s", algo)
	}
	return &Checksum{algo: algo, h: factory()}, nil
}

func (c *Checksum) Write(p []byte) (int, error) { return c.h.Write(p) }

// String renders the digest as "<algorithm>:<hex>".
func (c *Checksum) String() string {
	return c.algo + ":" + hex.EncodeToString(c.h.Sum(nil))
}

func IsSupported(algo string) bool {
	_, ok := algorithms[algo]
	return ok
}

// Algorithms lists the supported algorithm names in sorted order.
func Algorithms() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
