package ingest

import (
	"encoding/json"
	"sort"

	"github.com/shadowlog/shadowlog/internal/patterns"
)

// captureMetadata summarizes everything the entity layer found in one
// capture: the detected tool, the distinct entity types present, hosts
// and vulnerabilities discovered, and whether any extracted entity
// requires redaction before display or export.
type captureMetadata struct {
	Tool             string   `json:"tool,omitempty"`
	EntityTypes      []string `json:"entity_types,omitempty"`
	EntityCount      int      `json:"entity_count"`
	Hosts            []string `json:"hosts,omitempty"`
	Vulnerabilities  []string `json:"vulnerabilities,omitempty"`
	HasSensitiveData bool     `json:"has_sensitive_data"`
}

// buildCaptureMetadata derives capture-level metadata from the entities
// extracted for one capture.
func buildCaptureMetadata(tool string, extracted []patterns.ExtractedEntity) captureMetadata {
	m := captureMetadata{Tool: tool, EntityCount: len(extracted)}

	typeSet := make(map[string]struct{}, len(extracted))
	for _, e := range extracted {
		typeSet[e.TypeName] = struct{}{}

		switch e.TypeName {
		case "ip_address", "hostname":
			m.Hosts = append(m.Hosts, e.Value)
		case "cve":
			m.Vulnerabilities = append(m.Vulnerabilities, e.Value)
		}

		if e.Redact {
			m.HasSensitiveData = true
		}
	}

	for t := range typeSet {
		m.EntityTypes = append(m.EntityTypes, t)
	}
	sort.Strings(m.EntityTypes)

	return m
}

func (m captureMetadata) marshal() string {
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// chunkMetadata is the compact structured form serialized into
// catalog.Chunk.Metadata for every chunk the pipeline inserts. Scores
// carries the tier-2 score components (filter.ScoreComponents) of the
// cluster's representative line, already marshaled to JSON.
type chunkMetadata struct {
	ClusterSize    int             `json:"cluster_size"`
	Pattern        string          `json:"pattern"`
	Scores         json.RawMessage `json:"scores,omitempty"`
	Entities       []string        `json:"entities,omitempty"`
	Context        string          `json:"context,omitempty"`
	RelevanceScore float32         `json:"relevance_score"`
	SelectedByTier int             `json:"selected_by_tier"`
}

func (m chunkMetadata) marshal() string {
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}
