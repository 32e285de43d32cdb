package filter

import (
	"github.com/cespare/xxhash/v2"

	"github.com/shadowlog/shadowlog/internal/patterns"
)

// Tier1 is the stateful per-session deduplication filter. It normalizes
// each line, hashes the result, and discards once a normalized pattern
// has been seen more than maxOccurrences times. State resets per session.
type Tier1 struct {
	registry       *patterns.Registry
	maxOccurrences uint32
	counts         map[uint64]uint32
}

// NewTier1 builds a Tier1 filter bound to a pattern registry.
func NewTier1(registry *patterns.Registry, maxOccurrences uint32) *Tier1 {
	return &Tier1{
		registry:       registry,
		maxOccurrences: maxOccurrences,
		counts:         make(map[uint64]uint32),
	}
}

// ProcessLine normalizes, hashes, and tallies line, returning Keep while
// its normalized pattern has occurred at most maxOccurrences times.
func (t *Tier1) ProcessLine(line string) Decision {
	normalized := t.registry.NormalizeTier1(line)
	hash := xxhash.Sum64String(normalized)

	t.counts[hash]++
	if t.counts[hash] <= t.maxOccurrences {
		return Keep
	}
	return Discard
}

// FilterLines applies ProcessLine to each line in order, returning only
// the kept lines.
func (t *Tier1) FilterLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if t.ProcessLine(line) == Keep {
			out = append(out, line)
		}
	}
	return out
}

// Reset clears all occurrence counts. Call this when a session ends.
func (t *Tier1) Reset() {
	t.counts = make(map[uint64]uint32)
}

// Tier1Stats reports the current state of a Tier1 filter.
type Tier1Stats struct {
	UniquePatterns   int
	TotalOccurrences uint32
}

// Stats summarizes the current filter state.
func (t *Tier1) Stats() Tier1Stats {
	var total uint32
	for _, c := range t.counts {
		total += c
	}
	return Tier1Stats{UniquePatterns: len(t.counts), TotalOccurrences: total}
}
