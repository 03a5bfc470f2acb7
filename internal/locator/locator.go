// Package locator parses reference-locator strings into typed references.
// A locator names a repository on a forge plus, optionally, a reference
// within it: a pull request, a commit, or a branch.
package locator

import (
	"fmt"
	"regexp"
	"strings"
)

// RefKind is the kind of reference a locator points at.
type RefKind string

const (
	// KindRevision is an immutable point-in-time snapshot (a commit).
	KindRevision RefKind = "revision"
	// KindBranch is a movable pointer. An empty reference value means
	// the repository's default branch.
	KindBranch RefKind = "branch"
	// KindChangeRequest is a proposed set of changes (a pull request).
	KindChangeRequest RefKind = "change_request"
)

// InvalidLocatorError is returned when a string matches none of the
// supported locator forms.
type InvalidLocatorError struct {
	Input string
}

func (e *InvalidLocatorError) Error() string {
	return fmt.Sprintf("invalid locator: %q", e.Input)
}

// Parsed is the result of parsing a locator string. It is a pure
// derivation; no remote calls are made.
type Parsed struct {
	Owner string
	Repo  string
	Kind  RefKind
	// Value is the reference value: a PR number, a commit id, or a
	// branch name. Empty only when Kind is KindBranch, meaning the
	// default branch.
	Value string
	// IsPrimary is a parse-time hint from comparing owner/repo against
	// the configured primary repository. It cannot see forks; the
	// authoritative check goes through the forge API.
	IsPrimary bool
}

// RepoURL returns the normalized repository URL without any reference
// suffix. This is the form persisted on tracking records.
func (p Parsed) RepoURL() string {
	return fmt.Sprintf("https://github.com/%s/%s", p.Owner, p.Repo)
}

// FullName returns "owner/repo".
func (p Parsed) FullName() string {
	return p.Owner + "/" + p.Repo
}

// Locator patterns, tried in order. The marker segments (pull, commit,
// tree) make them mutually exclusive. The host is not pinned to a single
// forge, but must look like a hostname.
var patterns = []struct {
	kind RefKind
	re   *regexp.Regexp
}{
	{KindChangeRequest, regexp.MustCompile(
		`^(?:https?://)?(?:www\.)?[^/]+\.[^/]+/(?P<owner>[^/]+)/(?P<repo>[^/]+)/pull/(?P<value>\d+)/?$`)},
	{KindRevision, regexp.MustCompile(
		`^(?:https?://)?(?:www\.)?[^/]+\.[^/]+/(?P<owner>[^/]+)/(?P<repo>[^/]+)/commit/(?P<value>[a-fA-F0-9]+)/?$`)},
	{KindBranch, regexp.MustCompile(
		`^(?:https?://)?(?:www\.)?[^/]+\.[^/]+/(?P<owner>[^/]+)/(?P<repo>[^/]+)/tree/(?P<value>.+?)/?$`)},
	{KindBranch, regexp.MustCompile(
		`^(?:https?://)?(?:www\.)?[^/]+\.[^/]+/(?P<owner>[^/]+)/(?P<repo>[^/]+)/?$`)},
}

// Parse parses a locator string. primaryRepo is the well-known
// "owner/repo" identifier of the primary (monorepo) family, used only to
// set the IsPrimary hint.
func Parse(raw, primaryRepo string) (Parsed, error) {
	trimmed := strings.TrimSpace(raw)

	for _, p := range patterns {
		m := p.re.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		parsed := Parsed{Kind: p.kind}
		for i, name := range p.re.SubexpNames() {
			switch name {
			case "owner":
				parsed.Owner = m[i]
			case "repo":
				parsed.Repo = m[i]
			case "value":
				parsed.Value = m[i]
			}
		}
		parsed.IsPrimary = parsed.FullName() == primaryRepo
		return parsed, nil
	}

	return Parsed{}, &InvalidLocatorError{Input: raw}
}
