package retrieval

import (
	"strings"
	"testing"
)

func TestMerge(t *testing.T) {
	a := []Reference{
		{ID: "doc-1", Content: "alpha"},
		{ID: "doc-2", Content: "beta"},
	}
	b := []Reference{
		{ID: "doc-2", Content: "beta duplicate"},
		{ID: "doc-3", Content: "gamma"},
	}

	t.Run("union preserves earlier order and drops duplicates", func(t *testing.T) {
		merged := Merge(a, b)
		if len(merged) != 3 {
			t.Fatalf("Merge() returned %d references, want 3", len(merged))
		}
		wantIDs := []string{"doc-1", "doc-2", "doc-3"}
		for i, want := range wantIDs {
			if merged[i].ID != want {
				t.Errorf("Merge()[%d].ID = %q, want %q", i, merged[i].ID, want)
			}
		}
		// The first occurrence wins.
		if merged[1].Content != "beta" {
			t.Errorf("Merge()[1].Content = %q, want %q", merged[1].Content, "beta")
		}
	})

	t.Run("merging a list with itself is idempotent", func(t *testing.T) {
		merged := Merge(a, a)
		if len(merged) != len(a) {
			t.Errorf("Merge(a, a) returned %d references, want %d", len(merged), len(a))
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if merged := Merge(nil, nil); len(merged) != 0 {
			t.Errorf("Merge(nil, nil) returned %d references, want 0", len(merged))
		}
	})
}

func TestDedupKey(t *testing.T) {
	tests := []struct {
		name string
		a, b Reference
		same bool
	}{
		{
			name: "same ID is a duplicate regardless of content",
			a:    Reference{ID: "x", Content: "one"},
			b:    Reference{ID: "x", Content: "two"},
			same: true,
		},
		{
			name: "no ID falls back to url, page, and content prefix",
			a:    Reference{URL: "https://example.com/doc", PageNumber: 3, Content: "same text"},
			b:    Reference{URL: "https://example.com/doc", PageNumber: 3, Content: "same text"},
			same: true,
		},
		{
			name: "different page breaks the composite key",
			a:    Reference{URL: "https://example.com/doc", PageNumber: 3, Content: "same text"},
			b:    Reference{URL: "https://example.com/doc", PageNumber: 4, Content: "same text"},
			same: false,
		},
		{
			name: "content past the prefix does not distinguish",
			a:    Reference{URL: "u", Content: strings.Repeat("a", 64) + "tail-one"},
			b:    Reference{URL: "u", Content: strings.Repeat("a", 64) + "tail-two"},
			same: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dedupKey(tt.a) == dedupKey(tt.b)
			if got != tt.same {
				t.Errorf("dedupKey equality = %v, want %v", got, tt.same)
			}
		})
	}
}

func TestOutcomeNormalize(t *testing.T) {
	t.Run("fallback discards the agent summary", func(t *testing.T) {
		out := &Outcome{SummaryAnswer: "confident upstream answer", FallbackTriggered: true}
		out.Normalize()
		if out.SummaryAnswer != "" {
			t.Errorf("Normalize() kept SummaryAnswer %q after fallback", out.SummaryAnswer)
		}
	})

	t.Run("no fallback keeps the summary", func(t *testing.T) {
		out := &Outcome{SummaryAnswer: "agent answer"}
		out.Normalize()
		if out.SummaryAnswer != "agent answer" {
			t.Errorf("Normalize() dropped SummaryAnswer without fallback")
		}
	})

	t.Run("nil references become an empty slice", func(t *testing.T) {
		out := &Outcome{}
		out.Normalize()
		if out.References == nil {
			t.Error("Normalize() left References nil")
		}
	})
}
