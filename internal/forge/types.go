package forge

import "plugtrack/internal/locator"

// PRState is the lifecycle state of a change request.
type PRState string

const (
	PRStateOpen   PRState = "open"
	PRStateClosed PRState = "closed"
	PRStateMerged PRState = "merged"
)

// PullRequestInfo describes a change request.
type PullRequestInfo struct {
	Number   int
	Title    string
	State    PRState
	Author   string
	HeadSHA  string
	HeadRef  string
	// SourceRepoURL is set only when the PR originates from a fork.
	SourceRepoURL string
	SourceBranch  string
	TargetBranch  string
	URL           string
}

// CommitInfo describes a single revision. Message holds the first line
// of the commit message only.
type CommitInfo struct {
	SHA     string
	Message string
	Author  string
	Date    string
	URL     string
}

// BranchInfo describes a branch head.
type BranchInfo struct {
	Name          string
	HeadSHA       string
	CommitMessage string
	CommitAuthor  string
	CommitDate    string
}

// DirEntry is one entry of a remote directory listing.
type DirEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Resolved is a parsed locator resolved to a concrete revision.
// Exactly one of PR, Branch, Commit is populated, matching the kind.
// After resolution the reference value is never empty.
type Resolved struct {
	locator.Parsed

	Revision string
	PR       *PullRequestInfo
	Branch   *BranchInfo
	Commit   *CommitInfo
}
