// Package enricher computes derived metadata at store time. Enrich is a
// pure function: it fills defaults and derived fields but never overwrites
// anything the caller supplied, except updated_at, which it always sets to
// the current time.
package enricher

import (
	"math"
	"time"

	"github.com/durandal-labs/durandal-mcp/internal/memory"
)

// Now is overridable in tests so enrichment timestamps are deterministic.
var Now = time.Now

// Enrich fills project/session defaults, timestamps, RAMR seed fields,
// selective-attention fields, and knowledge-graph inference.
func Enrich(m memory.Metadata) memory.Metadata {
	now := Now().UTC()

	if m.Project == "" {
		m.Project = "default"
	}
	if m.Session == "" {
		m.Session = now.Format("2006-01-02")
	}

	if m.CreatedAt == nil {
		m.CreatedAt = &now
	}
	m.UpdatedAt = &now

	importance := m.ImportanceOrDefault()

	if m.RAMR == nil {
		hasCategories := len(m.Categories) > 0
		hasKeywords := len(m.Keywords) > 0
		priority := 0.6*importance + boolWeight(hasCategories, 0.2) + boolWeight(hasKeywords, 0.2)
		m.RAMR = &memory.RAMRMetadata{
			CachePriority: clamp01(priority),
			AccessPattern: memory.AccessPattern{
				Frequency:   0,
				LastAccess:  nil,
				AccessTimes: []time.Time{},
			},
		}
	}

	if m.SelectiveAttn == nil {
		reviewDays := int(math.Floor(30 * (1 + importance)))
		m.SelectiveAttn = &memory.SelectiveAttention{
			RetentionScore: importance,
			ReviewDate:     now.AddDate(0, 0, reviewDays),
		}
	}

	if m.KnowledgeGraph == nil {
		m.KnowledgeGraph = &memory.KnowledgeGraph{
			NodeType: inferNodeType(m),
			Cluster:  inferCluster(m),
		}
	}

	return m
}

func boolWeight(b bool, w float64) float64 {
	if b {
		return w
	}
	return 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func inferNodeType(m memory.Metadata) string {
	for _, c := range m.Categories {
		if c == "code" {
			return "code_pattern"
		}
	}
	for _, c := range m.Categories {
		if c == "documentation" {
			return "documentation"
		}
	}
	if m.Type == "conversation" {
		return "conversation"
	}
	return "general_knowledge"
}

func inferCluster(m memory.Metadata) string {
	if len(m.Categories) > 0 && m.Categories[0] != "" {
		return m.Categories[0] + "_cluster"
	}
	return "general_cluster"
}
