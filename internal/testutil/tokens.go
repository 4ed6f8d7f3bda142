package testutil

import (
	"fmt"
	"sync"
)

// SequenceGenerator hands out predictable tokens: "<prefix>_0001", "<prefix>_0002", ...
//
// It stands in for the TypeID generators used in production so that tests
// and golden files can refer to tokens by value.
//
// Thread-safety: Generate is safe for concurrent use.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	seq    int
}

// NewSequenceGenerator creates a generator. An empty prefix becomes "test".
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "test"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next token in sequence.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%s_%04d", g.prefix, g.seq)
}
