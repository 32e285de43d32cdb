package patterns

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/shadowlog/shadowlog/internal/shaderrors"
)

// CompiledEntityPattern is an entity pattern with its regex compiled.
type CompiledEntityPattern struct {
	TypeName      string
	Regex         *regexp.Regexp
	Confidence    float32
	ContextWindow int
	Redact        bool
	Description   string
}

// CompiledToolMatcher is a tool detector with its regexes compiled.
type CompiledToolMatcher struct {
	Name            string
	CommandPatterns []*regexp.Regexp
	EntityHints     []string
	OutputPatterns  []compiledOutputPattern
}

type compiledOutputPattern struct {
	Regex   *regexp.Regexp
	Section string
}

// CompiledNormalizationPattern is a normalization/clustering pattern with
// its regex compiled.
type CompiledNormalizationPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Priority    uint8
}

// CompiledTechnicalPattern is a tier-2 scoring pattern with its regex compiled.
type CompiledTechnicalPattern struct {
	Name   string
	Regex  *regexp.Regexp
	Weight float32
}

// ExtractedEntity is one entity match produced by Registry.ExtractEntities.
type ExtractedEntity struct {
	TypeName   string
	Value      string
	Start      int
	End        int
	Context    string
	Confidence float32
	Redact     bool
}

// Registry holds every compiled pattern used by capture, filtering, and
// entity extraction. It is built once and never mutated afterward, so a
// *Registry is safe to share across goroutines.
type Registry struct {
	Entities        []CompiledEntityPattern
	entitiesByType  map[string]int
	Tools           []CompiledToolMatcher
	toolsByName     map[string]int
	Tier1Norm       []CompiledNormalizationPattern
	Tier2Technical  []CompiledTechnicalPattern
	Tier3Cluster    []CompiledNormalizationPattern
	Tier1Config     Tier1Config
	Tier2Config     Tier2Config
	Tier3Config     Tier3Config
}

// LoadFromFiles reads and compiles the three YAML pattern documents from disk.
func LoadFromFiles(entitiesPath, toolsPath, filtersPath string) (*Registry, error) {
	entitiesRaw, err := os.ReadFile(entitiesPath)
	if err != nil {
		return nil, shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err).
			WithDetail("path", entitiesPath)
	}
	var entitiesCfg EntitiesConfig
	if err := yaml.Unmarshal(entitiesRaw, &entitiesCfg); err != nil {
		return nil, shaderrors.Wrap(shaderrors.ErrCodeConfigUnparsable, err).
			WithDetail("path", entitiesPath)
	}

	toolsRaw, err := os.ReadFile(toolsPath)
	if err != nil {
		return nil, shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err).
			WithDetail("path", toolsPath)
	}
	var toolsCfg ToolsConfig
	if err := yaml.Unmarshal(toolsRaw, &toolsCfg); err != nil {
		return nil, shaderrors.Wrap(shaderrors.ErrCodeConfigUnparsable, err).
			WithDetail("path", toolsPath)
	}

	filtersRaw, err := os.ReadFile(filtersPath)
	if err != nil {
		return nil, shaderrors.Wrap(shaderrors.ErrCodeIOFailure, err).
			WithDetail("path", filtersPath)
	}
	var filtersCfg FiltersConfig
	if err := yaml.Unmarshal(filtersRaw, &filtersCfg); err != nil {
		return nil, shaderrors.Wrap(shaderrors.ErrCodeConfigUnparsable, err).
			WithDetail("path", filtersPath)
	}

	return New(entitiesCfg, toolsCfg, filtersCfg)
}

// New compiles a Registry from already-parsed configuration documents.
func New(entitiesCfg EntitiesConfig, toolsCfg ToolsConfig, filtersCfg FiltersConfig) (*Registry, error) {
	entities := make([]CompiledEntityPattern, 0, len(entitiesCfg.Entity))
	entitiesByType := make(map[string]int, len(entitiesCfg.Entity))
	for idx, cfg := range entitiesCfg.Entity {
		re, err := regexp.Compile(cfg.Pattern)
		if err != nil {
			return nil, shaderrors.New(shaderrors.ErrCodeConfigInvalid,
				fmt.Sprintf("invalid regex for entity %q: %v", cfg.TypeName, err), err)
		}
		entities = append(entities, CompiledEntityPattern{
			TypeName:      cfg.TypeName,
			Regex:         re,
			Confidence:    cfg.Confidence,
			ContextWindow: cfg.ContextWindow,
			Redact:        cfg.Redact,
			Description:   cfg.Description,
		})
		entitiesByType[cfg.TypeName] = idx
	}

	tools := make([]CompiledToolMatcher, 0, len(toolsCfg.Tool))
	toolsByName := make(map[string]int, len(toolsCfg.Tool))
	for idx, cfg := range toolsCfg.Tool {
		cmdPatterns := make([]*regexp.Regexp, 0, len(cfg.CommandPatterns))
		for _, p := range cfg.CommandPatterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, shaderrors.New(shaderrors.ErrCodeConfigInvalid,
					fmt.Sprintf("invalid command pattern for tool %q: %v", cfg.Name, err), err)
			}
			cmdPatterns = append(cmdPatterns, re)
		}

		outputPatterns := make([]compiledOutputPattern, 0, len(cfg.OutputPatterns))
		for _, op := range cfg.OutputPatterns {
			re, err := regexp.Compile(op.Pattern)
			if err != nil {
				return nil, shaderrors.New(shaderrors.ErrCodeConfigInvalid,
					fmt.Sprintf("invalid output pattern for tool %q: %v", cfg.Name, err), err)
			}
			outputPatterns = append(outputPatterns, compiledOutputPattern{Regex: re, Section: op.Section})
		}

		tools = append(tools, CompiledToolMatcher{
			Name:            cfg.Name,
			CommandPatterns: cmdPatterns,
			EntityHints:     cfg.EntityHints,
			OutputPatterns:  outputPatterns,
		})
		toolsByName[cfg.Name] = idx
	}

	tier1Norm, err := compileNormalization(filtersCfg.Tier1.NormalizationPatterns, "tier1 normalization")
	if err != nil {
		return nil, err
	}
	sort.SliceStable(tier1Norm, func(i, j int) bool { return tier1Norm[i].Priority < tier1Norm[j].Priority })

	tier2Technical := make([]CompiledTechnicalPattern, 0, len(filtersCfg.Tier2.TechnicalPatterns))
	for _, tp := range filtersCfg.Tier2.TechnicalPatterns {
		re, err := regexp.Compile(tp.Pattern)
		if err != nil {
			return nil, shaderrors.New(shaderrors.ErrCodeConfigInvalid,
				fmt.Sprintf("invalid tier2 technical pattern %q: %v", tp.Name, err), err)
		}
		tier2Technical = append(tier2Technical, CompiledTechnicalPattern{Name: tp.Name, Regex: re, Weight: tp.Weight})
	}

	tier3Cluster, err := compileNormalization(filtersCfg.Tier3.ClusterPatterns, "tier3 cluster")
	if err != nil {
		return nil, err
	}
	sort.SliceStable(tier3Cluster, func(i, j int) bool { return tier3Cluster[i].Priority < tier3Cluster[j].Priority })

	return &Registry{
		Entities:       entities,
		entitiesByType: entitiesByType,
		Tools:          tools,
		toolsByName:    toolsByName,
		Tier1Norm:      tier1Norm,
		Tier2Technical: tier2Technical,
		Tier3Cluster:   tier3Cluster,
		Tier1Config:    filtersCfg.Tier1,
		Tier2Config:    filtersCfg.Tier2,
		Tier3Config:    filtersCfg.Tier3,
	}, nil
}

func compileNormalization(patterns []NormalizationPattern, label string) ([]CompiledNormalizationPattern, error) {
	out := make([]CompiledNormalizationPattern, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, shaderrors.New(shaderrors.ErrCodeConfigInvalid,
				fmt.Sprintf("invalid %s pattern %q: %v", label, p.Name, err), err)
		}
		out = append(out, CompiledNormalizationPattern{
			Name:        p.Name,
			Regex:       re,
			Replacement: p.Replacement,
			Priority:    p.Priority,
		})
	}
	return out, nil
}

// DetectTool returns the first tool whose command pattern matches the
// given command string, or nil if none match.
func (r *Registry) DetectTool(command string) *CompiledToolMatcher {
	for i := range r.Tools {
		for _, p := range r.Tools[i].CommandPatterns {
			if p.MatchString(command) {
				return &r.Tools[i]
			}
		}
	}
	return nil
}

// ExtractEntities scans text against every entity pattern, in pattern
// order. All matches of one pattern are returned before any match of the
// next pattern, regardless of position in text.
func (r *Registry) ExtractEntities(text string) []ExtractedEntity {
	var out []ExtractedEntity
	for _, pattern := range r.Entities {
		for _, loc := range pattern.Regex.FindAllStringIndex(text, -1) {
			start, end := loc[0], loc[1]
			out = append(out, ExtractedEntity{
				TypeName:   pattern.TypeName,
				Value:      text[start:end],
				Start:      start,
				End:        end,
				Context:    extractContext(text, start, end, pattern.ContextWindow),
				Confidence: pattern.Confidence,
				Redact:     pattern.Redact,
			})
		}
	}
	return out
}

func extractContext(text string, start, end, window int) string {
	ctxStart := start - window
	if ctxStart < 0 {
		ctxStart = 0
	}
	ctxEnd := end + window
	if ctxEnd > len(text) {
		ctxEnd = len(text)
	}
	return text[ctxStart:ctxEnd]
}

// NormalizeTier1 applies tier-1 normalization patterns in priority order.
func (r *Registry) NormalizeTier1(line string) string {
	result := line
	for _, p := range r.Tier1Norm {
		result = p.Regex.ReplaceAllString(result, p.Replacement)
	}
	return result
}

// TechnicalScore computes the tier-2 weighted technical pattern score for
// a line, capped at 1.0.
func (r *Registry) TechnicalScore(line string, maxScore float32) float32 {
	var weightedSum float32
	for _, p := range r.Tier2Technical {
		count := len(p.Regex.FindAllStringIndex(line, -1))
		weightedSum += float32(count) * p.Weight
	}
	if maxScore == 0 {
		return 0
	}
	score := weightedSum / maxScore
	if score > 1.0 {
		return 1.0
	}
	return score
}

// NormalizeTier3 applies tier-3 clustering normalization patterns in
// priority order.
func (r *Registry) NormalizeTier3(line string) string {
	result := line
	for _, p := range r.Tier3Cluster {
		result = p.Regex.ReplaceAllString(result, p.Replacement)
	}
	return result
}
