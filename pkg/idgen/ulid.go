// Package idgen generates the monotonic ULID-26 identifiers spec.md §6
// requires for every JSONL event envelope (decisions.jsonl,
// proposal-events.jsonl, acknowledgments.jsonl, hazard-acks.jsonl).
package idgen

import (
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator produces ULIDs from an injected clock and entropy source so
// tests can seed deterministic sequences (spec.md §9: "tests use fixed
// clocks and deterministic ULID seeds").
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// New returns a production Generator using monotonic entropy drawn from a
// math/rand source seeded from the system clock (not a cryptographic source).
func New() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		now:     time.Now,
	}
}

// NewDeterministic returns a Generator with a fixed clock and a seeded PRNG,
// for reproducible test fixtures.
func NewDeterministic(now func() time.Time, seed int64) *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0),
		now:     now,
	}
}

// ULID returns a new 26-character Crockford-base32 ULID string.
func (g *Generator) ULID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(g.now()), g.entropy)
	return id.String()
}
