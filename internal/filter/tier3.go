package filter

import (
	"strings"

	"github.com/shadowlog/shadowlog/internal/patterns"
)

// RepresentativeStrategy selects which member of a cluster stands in for
// the whole group in the chunk sent downstream.
type RepresentativeStrategy int

const (
	StrategyHighestEntropy RepresentativeStrategy = iota
	StrategyFirst
	StrategyLongest
)

// ParseRepresentativeStrategy maps a config string to a strategy,
// defaulting to highest-entropy for unrecognized values.
func ParseRepresentativeStrategy(s string) RepresentativeStrategy {
	switch strings.ToLower(s) {
	case "first":
		return StrategyFirst
	case "longest":
		return StrategyLongest
	case "highest_entropy":
		return StrategyHighestEntropy
	default:
		return StrategyHighestEntropy
	}
}

// Tier3 is the stateless clustering filter. Lines are grouped by their
// tier-3 normalized pattern; each group yields one representative line
// that stands in for the cluster downstream.
type Tier3 struct {
	registry *patterns.Registry
}

// NewTier3 builds a Tier3 filter bound to a pattern registry.
func NewTier3(registry *patterns.Registry) *Tier3 {
	return &Tier3{registry: registry}
}

// ClusterLines groups lines by normalized pattern and selects a
// representative per cluster. Clusters smaller than cluster_min_size are
// emitted as singletons; clusters larger than max_cluster_size are split
// into max_cluster_size-sized chunks.
func (t *Tier3) ClusterLines(lines []string) []Cluster {
	if len(lines) == 0 {
		return nil
	}

	cfg := t.registry.Tier3Config
	strategy := ParseRepresentativeStrategy(cfg.RepresentativeStrategy)

	groups := make(map[string][]string)
	var order []string
	for _, line := range lines {
		pattern := t.registry.NormalizeTier3(line)
		if _, seen := groups[pattern]; !seen {
			order = append(order, pattern)
		}
		groups[pattern] = append(groups[pattern], line)
	}

	var result []Cluster
	for _, pattern := range order {
		members := groups[pattern]
		size := len(members)

		if size < cfg.ClusterMinSize {
			for _, member := range members {
				result = append(result, Cluster{
					Pattern:        pattern,
					Representative: member,
					Members:        []string{member},
					Size:           1,
					Singleton:      true,
				})
			}
			continue
		}

		if size > cfg.MaxClusterSize {
			for start := 0; start < size; start += cfg.MaxClusterSize {
				end := start + cfg.MaxClusterSize
				if end > size {
					end = size
				}
				chunk := members[start:end]
				result = append(result, Cluster{
					Pattern:        pattern,
					Representative: t.selectRepresentative(chunk, strategy),
					Members:        chunk,
					Size:           len(chunk),
					Split:          true,
				})
			}
			continue
		}

		result = append(result, Cluster{
			Pattern:        pattern,
			Representative: t.selectRepresentative(members, strategy),
			Members:        members,
			Size:           size,
		})
	}

	return result
}

func (t *Tier3) selectRepresentative(members []string, strategy RepresentativeStrategy) string {
	switch strategy {
	case StrategyFirst:
		return members[0]
	case StrategyLongest:
		best := members[0]
		for _, m := range members[1:] {
			if len(m) > len(best) {
				best = m
			}
		}
		return best
	default: // StrategyHighestEntropy
		best := members[0]
		bestEntropy := shannonEntropy(best)
		for _, m := range members[1:] {
			if e := shannonEntropy(m); e > bestEntropy {
				best = m
				bestEntropy = e
			}
		}
		return best
	}
}
