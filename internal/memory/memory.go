// Package memory defines the Memory entity and its metadata schema.
package memory

import (
	"encoding/json"
	"time"

	"github.com/durandal-labs/durandal-mcp/internal/errs"
)

const (
	MinContentLen = 1
	MaxContentLen = 50_000
)

// Relationship is one edge in the (possibly cyclic) memory graph.
type Relationship struct {
	Type     string  `json:"type"`
	Target   string  `json:"target"`
	Strength float64 `json:"strength"`
}

// AccessPattern tracks how often and how recently a memory has been touched.
type AccessPattern struct {
	Frequency   int         `json:"frequency"`
	LastAccess  *time.Time  `json:"last_access"`
	AccessTimes []time.Time `json:"access_times"`
}

// RAMRMetadata is the rapid-access-memory-register slice of metadata.
type RAMRMetadata struct {
	CachePriority   float64       `json:"cache_priority"`
	PrefetchRelated bool          `json:"prefetch_related"`
	AccessPattern   AccessPattern `json:"access_pattern"`
}

// SelectiveAttention is the retention/review slice of metadata.
type SelectiveAttention struct {
	RetentionScore   float64   `json:"retention_score"`
	ReviewDate       time.Time `json:"review_date"`
	ArchiveCandidate bool      `json:"archive_candidate"`
	AttentionScore   float64   `json:"attention_score"`
}

// KnowledgeGraph is the derived cluster/type classification that the
// enricher sets at store time.
type KnowledgeGraph struct {
	NodeType string `json:"node_type,omitempty"`
	Cluster  string `json:"cluster,omitempty"`
}

// Metadata is the structured record attached to every memory.
type Metadata struct {
	Project        string              `json:"project,omitempty"`
	Session        string              `json:"session,omitempty"`
	Type           string              `json:"type,omitempty"`
	Importance     *float64            `json:"importance,omitempty"`
	Categories     []string            `json:"categories,omitempty"`
	Keywords       []string            `json:"keywords,omitempty"`
	Relationships  []Relationship      `json:"relationships,omitempty"`
	CreatedAt      *time.Time          `json:"created_at,omitempty"`
	UpdatedAt      *time.Time          `json:"updated_at,omitempty"`
	RAMR           *RAMRMetadata       `json:"ramr,omitempty"`
	SelectiveAttn  *SelectiveAttention `json:"selective_attention,omitempty"`
	KnowledgeGraph *KnowledgeGraph     `json:"knowledge_graph,omitempty"`
}

// ImportanceOrDefault returns the caller's importance, or 0.5 absent one.
func (m Metadata) ImportanceOrDefault() float64 {
	if m.Importance != nil {
		return *m.Importance
	}
	return 0.5
}

// Memory is the central entity.
type Memory struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Metadata  Metadata  `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidateContent enforces the content length invariant.
func ValidateContent(content string) error {
	n := len([]rune(content))
	if n < MinContentLen {
		return errs.Validationf("content", "", "content must not be empty")
	}
	if n > MaxContentLen {
		return errs.Validationf("content", "", "content must be at most %d characters, got %d", MaxContentLen, n)
	}
	return nil
}

// ValidateImportance enforces 0 <= importance <= 1 when present.
func ValidateImportance(importance *float64) error {
	if importance == nil {
		return nil
	}
	if *importance < 0 || *importance > 1 {
		return errs.Validationf("importance", json.Number(formatFloat(*importance)).String(),
			"importance must be between 0 and 1, got %v", *importance)
	}
	return nil
}

func formatFloat(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}

// MarshalMetadata serializes metadata for storage as opaque JSON text.
func MarshalMetadata(m Metadata) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnmarshalMetadata parses stored JSON text back into Metadata. Empty input
// yields a zero-value Metadata.
func UnmarshalMetadata(raw string) (Metadata, error) {
	var m Metadata
	if raw == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Metadata{}, err
	}
	return m, nil
}
