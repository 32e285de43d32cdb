package patterns

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testFiltersConfig() FiltersConfig {
	return FiltersConfig{
		Tier1: Tier1Config{MaxOccurrences: 3},
		Tier2: Tier2Config{
			EntropyWeight:            0.3,
			UniquenessWeight:         0.3,
			TechnicalWeight:          0.2,
			ChangeWeight:             0.2,
			ScoreThresholdPercentile: 0.8,
			MaxTechnicalScore:        10.0,
		},
		Tier3: Tier3Config{
			ClusterMinSize:          2,
			MaxClusterSize:          1000,
			RepresentativeStrategy:  "highest_entropy",
		},
	}
}

func TestNewCompilesEntityPatterns(t *testing.T) {
	cfg := EntitiesConfig{Entity: []EntityConfig{{
		TypeName:      "ip_address",
		Pattern:       `\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`,
		Confidence:    0.95,
		ContextWindow: 50,
		Description:   "IPv4 address",
	}}}

	reg, err := New(cfg, ToolsConfig{}, testFiltersConfig())
	require.NoError(t, err)
	require.Len(t, reg.Entities, 1)
}

func TestExtractEntitiesOrderedByPattern(t *testing.T) {
	cfg := EntitiesConfig{Entity: []EntityConfig{{
		TypeName:      "ip_address",
		Pattern:       `\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`,
		Confidence:    0.95,
		ContextWindow: 10,
		Description:   "IPv4",
	}}}

	reg, err := New(cfg, ToolsConfig{}, testFiltersConfig())
	require.NoError(t, err)

	text := "Found host at 192.168.1.1 and 10.0.0.1"
	entities := reg.ExtractEntities(text)

	require.Len(t, entities, 2)
	require.Equal(t, "192.168.1.1", entities[0].Value)
	require.Equal(t, "10.0.0.1", entities[1].Value)
}

func TestExtractEntitiesAllOfOnePatternPrecedeNext(t *testing.T) {
	cfg := EntitiesConfig{Entity: []EntityConfig{
		{TypeName: "cve", Pattern: `CVE-\d{4}-\d+`, Confidence: 0.9, ContextWindow: 5},
		{TypeName: "ip_address", Pattern: `\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`, Confidence: 0.9, ContextWindow: 5},
	}}

	reg, err := New(cfg, ToolsConfig{}, testFiltersConfig())
	require.NoError(t, err)

	text := "10.0.0.1 is vulnerable to CVE-2021-1234 and CVE-2020-5678"
	entities := reg.ExtractEntities(text)

	require.Len(t, entities, 3)
	require.Equal(t, "cve", entities[0].TypeName)
	require.Equal(t, "cve", entities[1].TypeName)
	require.Equal(t, "ip_address", entities[2].TypeName)
}

func TestDetectTool(t *testing.T) {
	toolsCfg := ToolsConfig{Tool: []ToolConfig{{
		Name:            "nmap",
		CommandPatterns: []string{`^nmap\s`},
		EntityHints:     []string{"ip_address", "port"},
	}}}

	reg, err := New(EntitiesConfig{}, toolsCfg, testFiltersConfig())
	require.NoError(t, err)

	require.NotNil(t, reg.DetectTool("nmap -sV 10.0.0.1"))
	require.Nil(t, reg.DetectTool("ls -la"))
}

func TestNormalizeTier1AppliesInPriorityOrder(t *testing.T) {
	filters := testFiltersConfig()
	filters.Tier1.NormalizationPatterns = []NormalizationPattern{
		{Name: "digits", Pattern: `\d+`, Replacement: "<NUM>", Priority: 1},
		{Name: "ip", Pattern: `\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`, Replacement: "<IP>", Priority: 0},
	}

	reg, err := New(EntitiesConfig{}, ToolsConfig{}, filters)
	require.NoError(t, err)

	got := reg.NormalizeTier1("scanning 10.0.0.1 on port 443")
	require.Equal(t, "scanning <IP> on port <NUM>", got)
}

func TestTechnicalScoreCapsAtOne(t *testing.T) {
	filters := testFiltersConfig()
	filters.Tier2.TechnicalPatterns = []TechnicalPattern{
		{Name: "open_port", Pattern: `open`, Weight: 5},
	}
	filters.Tier2.MaxTechnicalScore = 5

	reg, err := New(EntitiesConfig{}, ToolsConfig{}, filters)
	require.NoError(t, err)

	score := reg.TechnicalScore("open open open", 5)
	require.Equal(t, float32(1.0), score)
}

func TestNormalizeTier3(t *testing.T) {
	filters := testFiltersConfig()
	filters.Tier3.ClusterPatterns = []NormalizationPattern{
		{Name: "port", Pattern: `:\d+`, Replacement: ":PORT"},
	}

	reg, err := New(EntitiesConfig{}, ToolsConfig{}, filters)
	require.NoError(t, err)

	require.Equal(t, "connect to host:PORT", reg.NormalizeTier3("connect to host:8080"))
}
