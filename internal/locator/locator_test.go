package locator

import (
	"errors"
	"testing"
)

const primary = "home-assistant/core"

func TestParse_ChangeRequest(t *testing.T) {
	p, err := Parse("https://github.com/owner/repo/pull/123", primary)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if p.Owner != "owner" || p.Repo != "repo" {
		t.Errorf("owner/repo = %s/%s, want owner/repo", p.Owner, p.Repo)
	}
	if p.Kind != KindChangeRequest {
		t.Errorf("Kind = %s, want %s", p.Kind, KindChangeRequest)
	}
	if p.Value != "123" {
		t.Errorf("Value = %q, want 123", p.Value)
	}
}

func TestParse_AnyHost(t *testing.T) {
	p, err := Parse("https://example.com/owner/repo/pull/123", primary)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if p.Kind != KindChangeRequest || p.Value != "123" {
		t.Errorf("got kind=%s value=%q, want change_request/123", p.Kind, p.Value)
	}
}

func TestParse_Revision(t *testing.T) {
	p, err := Parse("https://github.com/owner/repo/commit/abc123DEF", primary)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if p.Kind != KindRevision {
		t.Errorf("Kind = %s, want %s", p.Kind, KindRevision)
	}
	if p.Value != "abc123DEF" {
		t.Errorf("Value = %q, want abc123DEF", p.Value)
	}
}

func TestParse_BranchWithSlashes(t *testing.T) {
	p, err := Parse("https://example.com/owner/repo/tree/feature/x", primary)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if p.Kind != KindBranch {
		t.Errorf("Kind = %s, want %s", p.Kind, KindBranch)
	}
	if p.Value != "feature/x" {
		t.Errorf("Value = %q, want feature/x", p.Value)
	}
}

func TestParse_DefaultBranch(t *testing.T) {
	p, err := Parse("https://example.com/owner/repo", primary)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if p.Kind != KindBranch {
		t.Errorf("Kind = %s, want %s", p.Kind, KindBranch)
	}
	if p.Value != "" {
		t.Errorf("Value = %q, want empty (default branch sentinel)", p.Value)
	}
}

func TestParse_Variants(t *testing.T) {
	tests := []struct {
		name  string
		input string
		kind  RefKind
		value string
	}{
		{"no scheme", "github.com/owner/repo/pull/7", KindChangeRequest, "7"},
		{"www prefix", "https://www.github.com/owner/repo", KindBranch, ""},
		{"trailing slash", "https://github.com/owner/repo/tree/main/", KindBranch, "main"},
		{"whitespace", "  https://github.com/owner/repo/commit/deadbeef  ", KindRevision, "deadbeef"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse(tt.input, primary)
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", tt.input, err)
			}
			if p.Kind != tt.kind || p.Value != tt.value {
				t.Errorf("Parse(%q) = %s/%q, want %s/%q", tt.input, p.Kind, p.Value, tt.kind, tt.value)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []string{
		"",
		"not a url",
		"owner/repo",
		"https://github.com/owner",
		"https://github.com/owner/repo/pull/abc",
		"https://github.com/owner/repo/unknown/thing",
	}

	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input, primary)
			var invalid *InvalidLocatorError
			if !errors.As(err, &invalid) {
				t.Errorf("Parse(%q) error = %v, want InvalidLocatorError", input, err)
			}
		})
	}
}

func TestParse_PrimaryHint(t *testing.T) {
	p, err := Parse("https://github.com/home-assistant/core/pull/12345", primary)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if !p.IsPrimary {
		t.Error("IsPrimary = false for the primary repository")
	}

	p, err = Parse("https://github.com/someone/fork-of-core/pull/1", primary)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if p.IsPrimary {
		t.Error("IsPrimary = true for a non-primary repository (forks are resolved via the API, not here)")
	}
}

func TestRepoURL(t *testing.T) {
	p, err := Parse("https://github.com/owner/repo/pull/9", primary)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if got := p.RepoURL(); got != "https://github.com/owner/repo" {
		t.Errorf("RepoURL() = %q, want https://github.com/owner/repo", got)
	}
}
