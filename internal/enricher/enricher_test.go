package enricher

import (
	"testing"
	"time"

	"github.com/durandal-labs/durandal-mcp/internal/memory"
)

func withFixedNow(t *testing.T, now time.Time) {
	t.Helper()
	orig := Now
	Now = func() time.Time { return now }
	t.Cleanup(func() { Now = orig })
}

func TestEnrichFillsDefaults(t *testing.T) {
	withFixedNow(t, time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC))

	got := Enrich(memory.Metadata{})
	if got.Project != "default" {
		t.Errorf("Project = %q, want default", got.Project)
	}
	if got.Session != "2026-07-29" {
		t.Errorf("Session = %q, want 2026-07-29", got.Session)
	}
	if got.CreatedAt == nil || got.UpdatedAt == nil {
		t.Fatalf("CreatedAt/UpdatedAt not set: %+v", got)
	}
}

func TestEnrichNeverOverwritesSuppliedFields(t *testing.T) {
	withFixedNow(t, time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC))

	in := memory.Metadata{Project: "p1", Session: "custom-session"}
	got := Enrich(in)
	if got.Project != "p1" || got.Session != "custom-session" {
		t.Errorf("Enrich overwrote caller-supplied fields: %+v", got)
	}
}

func TestEnrichCachePriorityFormula(t *testing.T) {
	withFixedNow(t, time.Now())
	importance := 0.8
	got := Enrich(memory.Metadata{
		Importance: &importance,
		Categories: []string{"code"},
		Keywords:   []string{"go"},
	})
	want := 0.6*0.8 + 0.2 + 0.2
	if got.RAMR == nil {
		t.Fatal("RAMR not set")
	}
	if diff := got.RAMR.CachePriority - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("CachePriority = %v, want %v", got.RAMR.CachePriority, want)
	}
}

func TestEnrichCachePriorityClamped(t *testing.T) {
	withFixedNow(t, time.Now())
	importance := 1.0
	got := Enrich(memory.Metadata{Importance: &importance, Categories: []string{"a"}, Keywords: []string{"b"}})
	if got.RAMR.CachePriority > 1.0 {
		t.Errorf("CachePriority = %v, want <= 1.0", got.RAMR.CachePriority)
	}
}

func TestEnrichSelectiveAttention(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	withFixedNow(t, now)
	importance := 0.5
	got := Enrich(memory.Metadata{Importance: &importance})
	if got.SelectiveAttn == nil {
		t.Fatal("SelectiveAttn not set")
	}
	if got.SelectiveAttn.RetentionScore != 0.5 {
		t.Errorf("RetentionScore = %v, want 0.5", got.SelectiveAttn.RetentionScore)
	}
	wantReview := now.AddDate(0, 0, 45) // floor(30*(1+0.5)) = 45
	if !got.SelectiveAttn.ReviewDate.Equal(wantReview) {
		t.Errorf("ReviewDate = %v, want %v", got.SelectiveAttn.ReviewDate, wantReview)
	}
}

func TestEnrichKnowledgeGraphInference(t *testing.T) {
	withFixedNow(t, time.Now())

	tests := []struct {
		name     string
		in       memory.Metadata
		wantNode string
		wantClus string
	}{
		{"code category", memory.Metadata{Categories: []string{"code"}}, "code_pattern", "code_cluster"},
		{"documentation category", memory.Metadata{Categories: []string{"documentation"}}, "documentation", "documentation_cluster"},
		{"conversation type", memory.Metadata{Type: "conversation"}, "conversation", "general_cluster"},
		{"fallback", memory.Metadata{}, "general_knowledge", "general_cluster"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Enrich(tt.in)
			if got.KnowledgeGraph.NodeType != tt.wantNode {
				t.Errorf("NodeType = %q, want %q", got.KnowledgeGraph.NodeType, tt.wantNode)
			}
			if got.KnowledgeGraph.Cluster != tt.wantClus {
				t.Errorf("Cluster = %q, want %q", got.KnowledgeGraph.Cluster, tt.wantClus)
			}
		})
	}
}
