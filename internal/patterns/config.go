// Package patterns compiles the YAML-defined entity, tool, and filter
// pattern documents into an immutable registry shared across the
// capture pipeline.
package patterns

// EntityConfig describes one entity extraction pattern before compilation.
type EntityConfig struct {
	TypeName      string  `yaml:"type"`
	Pattern       string  `yaml:"pattern"`
	Confidence    float32 `yaml:"confidence"`
	ContextWindow int     `yaml:"context_window"`
	Redact        bool    `yaml:"redact"`
	Description   string  `yaml:"description"`
}

// EntitiesConfig is the top-level shape of the entities pattern document.
type EntitiesConfig struct {
	Entity []EntityConfig `yaml:"entity"`
}

// OutputPatternConfig tags an output-matching pattern with its section label.
type OutputPatternConfig struct {
	Pattern string `yaml:"pattern"`
	Section string `yaml:"section"`
}

// ToolConfig describes one tool detector before compilation.
type ToolConfig struct {
	Name            string                `yaml:"name"`
	CommandPatterns []string              `yaml:"command_patterns"`
	EntityHints     []string              `yaml:"entity_hints"`
	OutputPatterns  []OutputPatternConfig `yaml:"output_patterns"`
}

// ToolsConfig is the top-level shape of the tools pattern document.
type ToolsConfig struct {
	Tool []ToolConfig `yaml:"tool"`
}

// NormalizationPattern is a regex/replacement pair used by tier-1
// normalization and tier-3 clustering.
type NormalizationPattern struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
	Priority    uint8  `yaml:"priority"`
}

// TechnicalPattern contributes a weighted hit count to tier-2 scoring.
type TechnicalPattern struct {
	Name    string  `yaml:"name"`
	Pattern string  `yaml:"pattern"`
	Weight  float32 `yaml:"weight"`
}

// Tier1Config configures stateful per-session deduplication.
type Tier1Config struct {
	MaxOccurrences        uint32                 `yaml:"max_occurrences"`
	NormalizationPatterns []NormalizationPattern `yaml:"normalization_patterns"`
}

// Tier2Config configures stateless weighted-entropy scoring.
type Tier2Config struct {
	EntropyWeight           float32            `yaml:"entropy_weight"`
	UniquenessWeight        float32            `yaml:"uniqueness_weight"`
	TechnicalWeight         float32            `yaml:"technical_weight"`
	ChangeWeight            float32            `yaml:"change_weight"`
	ScoreThresholdPercentile float32           `yaml:"score_threshold_percentile"`
	TechnicalPatterns       []TechnicalPattern `yaml:"technical_patterns"`
	MaxTechnicalScore       float32            `yaml:"max_technical_score"`
}

// Tier3Config configures stateless clustering and representative selection.
type Tier3Config struct {
	ClusterMinSize         int                    `yaml:"cluster_min_size"`
	MaxClusterSize         int                    `yaml:"max_cluster_size"`
	RepresentativeStrategy string                 `yaml:"representative_strategy"`
	ClusterPatterns        []NormalizationPattern `yaml:"cluster_patterns"`
	PreserveMetadata       []string               `yaml:"preserve_metadata"`
}

// FiltersConfig is the top-level shape of the filters pattern document.
type FiltersConfig struct {
	Tier1 Tier1Config `yaml:"tier1"`
	Tier2 Tier2Config `yaml:"tier2"`
	Tier3 Tier3Config `yaml:"tier3"`
}
