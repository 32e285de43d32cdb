package filter

import "github.com/shadowlog/shadowlog/internal/patterns"

// Tier2 is the stateless importance-scoring filter. Every line gets a
// weighted composite score from entropy, uniqueness, technical pattern
// density, and change from the previous line; only lines at or above the
// configured percentile survive.
type Tier2 struct {
	registry *patterns.Registry
}

// NewTier2 builds a Tier2 filter bound to a pattern registry.
func NewTier2(registry *patterns.Registry) *Tier2 {
	return &Tier2{registry: registry}
}

// FilterLines scores every line and returns those at or above the
// configured score percentile. A single line always survives.
func (t *Tier2) FilterLines(lines []string) []ScoredLine {
	if len(lines) == 0 {
		return nil
	}

	cfg := t.registry.Tier2Config

	freq := make(map[string]int, len(lines))
	for _, line := range lines {
		freq[line]++
	}
	totalLines := float32(len(lines))

	scored := make([]ScoredLine, len(lines))
	for i, line := range lines {
		var prevLine string
		hasPrev := i > 0
		if hasPrev {
			prevLine = lines[i-1]
		}

		entropy := shannonEntropy(line) * cfg.EntropyWeight

		count := float32(freq[line])
		uniqueness := (1 - count/totalLines) * cfg.UniquenessWeight

		technical := t.registry.TechnicalScore(line, cfg.MaxTechnicalScore) * cfg.TechnicalWeight

		var change float32
		if hasPrev {
			change = changeScore(line, prevLine) * cfg.ChangeWeight
		} else {
			change = cfg.ChangeWeight
		}

		components := ScoreComponents{Entropy: entropy, Uniqueness: uniqueness, Technical: technical, Change: change}
		scored[i] = ScoredLine{Line: line, Score: components.Total(), Components: components}
	}

	scores := make([]float32, len(scored))
	for i, s := range scored {
		scores[i] = s.Score
	}
	threshold := percentile(scores, cfg.ScoreThresholdPercentile)

	out := scored[:0]
	for _, s := range scored {
		if s.Score >= threshold {
			out = append(out, s)
		}
	}
	return out
}
