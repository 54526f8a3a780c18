// Package idgen generates identifiers for traced memory-manager tasks.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/rs/xid"
)

// Generator produces unique identifiers.
type Generator interface {
	Generate() string
}

// New returns a sequential generator whose first emitted ID is "1". IDs are
// deterministic as long as faults are resolved in a deterministic order.
func New() Generator {
	return &sequentialGenerator{}
}

// NewParallel returns a generator that does not need coordination between
// goroutines. The IDs are globally unique but not deterministic.
func NewParallel() Generator {
	return parallelGenerator{}
}

type sequentialGenerator struct {
	next uint64
}

func (g *sequentialGenerator) Generate() string {
	idNumber := atomic.AddUint64(&g.next, 1)
	return strconv.FormatUint(idNumber, 10)
}

type parallelGenerator struct{}

func (parallelGenerator) Generate() string {
	return xid.New().String()
}
