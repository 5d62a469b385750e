package connection

import (
	"crypto/rand"
	"io"
	"math/big"
)

const (
	// IDLength characters from a 62-symbol alphabet give about 143 bits.
	IDLength   = 24
	idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// Allocator generates connection ids that are free in its registry.
type Allocator struct {
	registry *Registry
	random   io.Reader
}

func NewAllocator(registry *Registry) *Allocator {
	return &Allocator{registry: registry, random: rand.Reader}
}

// NewAllocatorWithSource is NewAllocator with an explicit randomness source.
func NewAllocatorWithSource(registry *Registry, random io.Reader) *Allocator {
	return &Allocator{registry: registry, random: random}
}

// Allocate returns an id not currently present in the registry. The caller
// must still handle ErrExists from Insert if another goroutine registers the
// same id in between.
func (a *Allocator) Allocate() (string, error) {
	for {
		id, err := RandomID(a.random, IDLength)
		if err != nil {
			return "", err
		}
		if !a.registry.Has(id) {
			return id, nil
		}
	}
}

// RandomID draws n characters uniformly from the id alphabet.
func RandomID(random io.Reader, n int) (string, error) {
	max := big.NewInt(int64(len(idAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(random, max)
		if err != nil {
			return "", err
		}
		b[i] = idAlphabet[idx.Int64()]
	}
	return string(b), nil
}
