package idgen

import (
	"testing"
	"time"
)

func TestGenerator_DeterministicSameSeedSameClock(t *testing.T) {
	fixed := func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	a := NewDeterministic(fixed, 42)
	b := NewDeterministic(fixed, 42)

	if got, want := a.ULID(), b.ULID(); got != want {
		t.Errorf("first id = %s, want %s", got, want)
	}
}

func TestGenerator_MonotonicWithinSameGenerator(t *testing.T) {
	fixed := func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	g := NewDeterministic(fixed, 7)

	first := g.ULID()
	second := g.ULID()
	if first == second {
		t.Fatalf("expected distinct ids, got %s twice", first)
	}
	if !(first < second) {
		t.Errorf("expected lexical ordering first < second, got %q, %q", first, second)
	}
}

func TestGenerator_ProducesValidLength(t *testing.T) {
	g := New()
	id := g.ULID()
	if len(id) != 26 {
		t.Errorf("ULID length = %d, want 26", len(id))
	}
}
