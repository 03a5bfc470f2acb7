// Package forge is a typed façade over the forge REST API. It translates
// transport failures into a small error taxonomy (auth, rate limit,
// generic API error); no raw transport error crosses this boundary.
package forge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"plugtrack/internal/locator"
	"plugtrack/internal/version"
)

const (
	// DefaultBaseURL is the public GitHub REST endpoint.
	DefaultBaseURL = "https://api.github.com"

	// prFilesPerPage is the page size used when listing changed files.
	prFilesPerPage = 100

	// fallbackDefaultBranch is used when the remote omits the default
	// branch name from repository metadata.
	fallbackDefaultBranch = "main"
)

// TokenProvider supplies the current forge credential. An empty string
// means unauthenticated.
type TokenProvider interface {
	Token() string
}

// StaticToken is a TokenProvider with a fixed value.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// Client calls the forge REST API and maps responses to domain types.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	tokens         TokenProvider
	primaryRepo    string
	componentsRoot string
	logger         *slog.Logger
}

// Options configures a Client.
type Options struct {
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string
	// HTTPClient overrides the transport. Timeouts live here.
	HTTPClient *http.Client
	// Tokens supplies the credential per request.
	Tokens TokenProvider
	// PrimaryRepo is the well-known "owner/repo" of the primary family.
	PrimaryRepo string
	// ComponentsRoot is the path prefix under which the primary
	// repository hosts its components.
	ComponentsRoot string
	Logger         *slog.Logger
}

// NewClient creates a forge API client.
func NewClient(opts Options) *Client {
	c := &Client{
		baseURL:        opts.BaseURL,
		httpClient:     opts.HTTPClient,
		tokens:         opts.Tokens,
		primaryRepo:    opts.PrimaryRepo,
		componentsRoot: opts.ComponentsRoot,
		logger:         opts.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if c.tokens == nil {
		c.tokens = StaticToken("")
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// get performs a GET against the API and decodes the JSON body into out.
// notFoundMessage replaces the raw 404 body so errors name the missing
// resource.
func (c *Client) get(ctx context.Context, path string, query url.Values, notFoundMessage string, out any) error {
	body, err := c.raw(ctx, path, query, notFoundMessage)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return newAPIError(0, fmt.Sprintf("decode forge response for %s: %v", path, err))
	}
	return nil
}

// raw performs a GET and returns the response body bytes.
func (c *Client) raw(ctx context.Context, path string, query url.Values, notFoundMessage string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, newAPIError(0, fmt.Sprintf("build request for %s: %v", path, err))
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "plugtrack/"+version.Version)
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, newAPIError(0, fmt.Sprintf("forge request %s: %v", path, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newAPIError(resp.StatusCode, fmt.Sprintf("read forge response for %s: %v", path, err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, c.statusError(resp, body, notFoundMessage)
}

// statusError maps a non-2xx response onto the error taxonomy.
func (c *Client) statusError(resp *http.Response, body []byte, notFoundMessage string) error {
	message := apiMessage(body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &AuthError{Message: "forge authentication failed: " + message}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{APIError: *newAPIError(resp.StatusCode, "forge API rate limit exceeded")}
	case resp.StatusCode == http.StatusForbidden:
		if resp.Header.Get("X-RateLimit-Remaining") == "0" {
			return &RateLimitError{APIError: *newAPIError(resp.StatusCode, "forge API rate limit exceeded")}
		}
		return &AuthError{Message: "forge authentication failed: " + message}
	case resp.StatusCode == http.StatusNotFound:
		if notFoundMessage != "" {
			return newNotFound(notFoundMessage)
		}
		return newNotFound(message)
	default:
		return newAPIError(resp.StatusCode, message)
	}
}

func apiMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(body))
}

type wireUser struct {
	Login string `json:"login"`
	Name  string `json:"name"`
}

type wireRepo struct {
	FullName      string    `json:"full_name"`
	HTMLURL       string    `json:"html_url"`
	DefaultBranch string    `json:"default_branch"`
	Fork          bool      `json:"fork"`
	Parent        *wireRepo `json:"parent"`
}

type wirePull struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"`
	Merged bool   `json:"merged"`
	User   *wireUser `json:"user"`
	Head   struct {
		SHA  string    `json:"sha"`
		Ref  string    `json:"ref"`
		Repo *wireRepo `json:"repo"`
	} `json:"head"`
	Base struct {
		Ref  string    `json:"ref"`
		Repo *wireRepo `json:"repo"`
	} `json:"base"`
	HTMLURL string `json:"html_url"`
}

type wireCommitDetail struct {
	Message string `json:"message"`
	Author  struct {
		Name string `json:"name"`
		Date string `json:"date"`
	} `json:"author"`
}

type wireCommit struct {
	SHA     string           `json:"sha"`
	Commit  wireCommitDetail `json:"commit"`
	HTMLURL string           `json:"html_url"`
}

type wireBranch struct {
	Name   string     `json:"name"`
	Commit wireCommit `json:"commit"`
}

type wireContent struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// PullRequest fetches change request metadata. The merged flag takes
// priority over the closed state.
func (c *Client) PullRequest(ctx context.Context, owner, repo string, number int) (*PullRequestInfo, error) {
	var pull wirePull
	err := c.get(ctx,
		fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, number), nil,
		fmt.Sprintf("Pull request %d not found in %s/%s", number, owner, repo),
		&pull)
	if err != nil {
		return nil, err
	}

	state := PRStateOpen
	if pull.Merged {
		state = PRStateMerged
	} else if pull.State == "closed" {
		state = PRStateClosed
	}

	author := "unknown"
	if pull.User != nil && pull.User.Login != "" {
		author = pull.User.Login
	}

	// The PR comes from a fork when the head repository differs from
	// the base repository.
	sourceRepoURL := ""
	headName, baseName := "", ""
	if pull.Head.Repo != nil {
		headName = pull.Head.Repo.FullName
	}
	if pull.Base.Repo != nil {
		baseName = pull.Base.Repo.FullName
	}
	if headName != baseName && pull.Head.Repo != nil {
		sourceRepoURL = pull.Head.Repo.HTMLURL
	}

	return &PullRequestInfo{
		Number:        pull.Number,
		Title:         pull.Title,
		State:         state,
		Author:        author,
		HeadSHA:       pull.Head.SHA,
		HeadRef:       pull.Head.Ref,
		SourceRepoURL: sourceRepoURL,
		SourceBranch:  pull.Head.Ref,
		TargetBranch:  pull.Base.Ref,
		URL:           pull.HTMLURL,
	}, nil
}

// Commit fetches revision metadata. Only the first line of the commit
// message is kept.
func (c *Client) Commit(ctx context.Context, owner, repo, ref string) (*CommitInfo, error) {
	var commit wireCommit
	err := c.get(ctx,
		fmt.Sprintf("/repos/%s/%s/commits/%s", owner, repo, ref), nil,
		fmt.Sprintf("Commit %s not found in %s/%s", ref, owner, repo),
		&commit)
	if err != nil {
		return nil, err
	}

	author := commit.Commit.Author.Name
	if author == "" {
		author = "unknown"
	}

	return &CommitInfo{
		SHA:     commit.SHA,
		Message: firstLine(commit.Commit.Message),
		Author:  author,
		Date:    commit.Commit.Author.Date,
		URL:     commit.HTMLURL,
	}, nil
}

// Branch fetches branch head metadata.
func (c *Client) Branch(ctx context.Context, owner, repo, name string) (*BranchInfo, error) {
	var branch wireBranch
	err := c.get(ctx,
		fmt.Sprintf("/repos/%s/%s/branches/%s", owner, repo, name), nil,
		fmt.Sprintf("Branch %s not found in %s/%s", name, owner, repo),
		&branch)
	if err != nil {
		return nil, err
	}

	author := branch.Commit.Commit.Author.Name
	if author == "" {
		author = "unknown"
	}

	return &BranchInfo{
		Name:          orDefault(branch.Name, name),
		HeadSHA:       branch.Commit.SHA,
		CommitMessage: firstLine(branch.Commit.Commit.Message),
		CommitAuthor:  author,
		CommitDate:    branch.Commit.Commit.Author.Date,
	}, nil
}

// DefaultBranch returns the repository's default branch name, falling
// back to "main" when the remote omits it.
func (c *Client) DefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	var meta wireRepo
	err := c.get(ctx,
		fmt.Sprintf("/repos/%s/%s", owner, repo), nil,
		fmt.Sprintf("Repository %s/%s not found", owner, repo),
		&meta)
	if err != nil {
		return "", err
	}
	return orDefault(meta.DefaultBranch, fallbackDefaultBranch), nil
}

// IsPrimaryFamily reports whether owner/repo is the primary repository
// or a fork of it. The direct match avoids a remote call; the fork check
// requires repository metadata.
func (c *Client) IsPrimaryFamily(ctx context.Context, owner, repo string) (bool, error) {
	if owner+"/"+repo == c.primaryRepo {
		return true, nil
	}

	var meta wireRepo
	err := c.get(ctx,
		fmt.Sprintf("/repos/%s/%s", owner, repo), nil,
		fmt.Sprintf("Repository %s/%s not found", owner, repo),
		&meta)
	if err != nil {
		return false, err
	}

	return meta.Fork && meta.Parent != nil && meta.Parent.FullName == c.primaryRepo, nil
}

// PullRequestFiles lists the file paths changed in a change request,
// paginating until a short page is returned.
func (c *Client) PullRequestFiles(ctx context.Context, owner, repo string, number int) ([]string, error) {
	var files []string
	page := 1

	for {
		query := url.Values{}
		query.Set("per_page", fmt.Sprintf("%d", prFilesPerPage))
		query.Set("page", fmt.Sprintf("%d", page))

		var batch []struct {
			Filename string `json:"filename"`
		}
		err := c.get(ctx,
			fmt.Sprintf("/repos/%s/%s/pulls/%d/files", owner, repo, number),
			query, "", &batch)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		for _, f := range batch {
			files = append(files, f.Filename)
		}
		if len(batch) < prFilesPerPage {
			break
		}
		page++
	}

	return files, nil
}

// ChangedArtifacts derives the set of artifact ids touched by a change
// request: files under the components root, first path segment after the
// prefix, deduplicated and sorted.
func (c *Client) ChangedArtifacts(ctx context.Context, owner, repo string, number int) ([]string, error) {
	files, err := c.PullRequestFiles(ctx, owner, repo, number)
	if err != nil {
		return nil, err
	}

	prefix := c.componentsRoot + "/"
	seen := make(map[string]bool)
	for _, f := range files {
		if !strings.HasPrefix(f, prefix) {
			continue
		}
		rest := strings.TrimPrefix(f, prefix)
		if segment, _, _ := strings.Cut(rest, "/"); segment != "" {
			seen[segment] = true
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// DownloadArchive fetches the gzip-compressed tarball for a revision.
func (c *Client) DownloadArchive(ctx context.Context, owner, repo, ref string) ([]byte, error) {
	return c.raw(ctx,
		fmt.Sprintf("/repos/%s/%s/tarball/%s", owner, repo, ref), nil,
		fmt.Sprintf("Archive for %s not found in %s/%s", ref, owner, repo))
}

// FileContent fetches a file's content, decoding base64 when the remote
// marks the encoding as such.
func (c *Client) FileContent(ctx context.Context, owner, repo, path, ref string) (string, error) {
	query := url.Values{}
	if ref != "" {
		query.Set("ref", ref)
	}

	var content wireContent
	err := c.get(ctx,
		fmt.Sprintf("/repos/%s/%s/contents/%s", owner, repo, path), query,
		fmt.Sprintf("File %s not found in %s/%s", path, owner, repo),
		&content)
	if err != nil {
		return "", err
	}

	if content.Content == "" {
		return "", newAPIError(0, fmt.Sprintf("Path %s is not a file or has no content", path))
	}
	if content.Encoding == "base64" {
		// GitHub wraps base64 content at 60 columns.
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content.Content, "\n", ""))
		if err != nil {
			return "", newAPIError(0, fmt.Sprintf("decode content of %s: %v", path, err))
		}
		return string(decoded), nil
	}
	return content.Content, nil
}

// FileExists reports whether a path exists in the repository. Any API
// failure counts as absent.
func (c *Client) FileExists(ctx context.Context, owner, repo, path, ref string) bool {
	query := url.Values{}
	if ref != "" {
		query.Set("ref", ref)
	}
	var content wireContent
	err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/contents/%s", owner, repo, path), query, "", &content)
	return err == nil
}

// DirectoryListing lists a remote directory. A path resolving to a
// single file is an error.
func (c *Client) DirectoryListing(ctx context.Context, owner, repo, path, ref string) ([]DirEntry, error) {
	query := url.Values{}
	if ref != "" {
		query.Set("ref", ref)
	}

	body, err := c.raw(ctx,
		fmt.Sprintf("/repos/%s/%s/contents/%s", owner, repo, path), query,
		fmt.Sprintf("Directory %s not found in %s/%s", path, owner, repo))
	if err != nil {
		return nil, err
	}

	var entries []DirEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, newAPIError(0, fmt.Sprintf("Path %s is not a directory", path))
	}
	return entries, nil
}

// ValidateToken checks that the configured credential authenticates.
// Authenticated clients get a core rate limit well above the anonymous
// quota of 60.
func (c *Client) ValidateToken(ctx context.Context) (bool, error) {
	var payload struct {
		Resources struct {
			Core struct {
				Limit int `json:"limit"`
			} `json:"core"`
		} `json:"resources"`
	}
	if err := c.get(ctx, "/rate_limit", nil, "", &payload); err != nil {
		return false, err
	}
	return payload.Resources.Core.Limit > 60, nil
}

// Resolve resolves a parsed locator into a concrete revision plus
// kind-specific metadata. This is the single resolution entry point for
// both the selection flow and the reconciliation loop; every call
// re-queries the remote.
func (c *Client) Resolve(ctx context.Context, parsed locator.Parsed) (*Resolved, error) {
	isPrimary, err := c.IsPrimaryFamily(ctx, parsed.Owner, parsed.Repo)
	if err != nil {
		return nil, err
	}
	parsed.IsPrimary = isPrimary

	if parsed.Kind == locator.KindBranch && parsed.Value == "" {
		name, err := c.DefaultBranch(ctx, parsed.Owner, parsed.Repo)
		if err != nil {
			return nil, err
		}
		parsed.Value = name
	}

	resolved := &Resolved{Parsed: parsed}

	switch parsed.Kind {
	case locator.KindChangeRequest:
		number, err := prNumber(parsed.Value)
		if err != nil {
			return nil, err
		}
		pr, err := c.PullRequest(ctx, parsed.Owner, parsed.Repo, number)
		if err != nil {
			return nil, err
		}
		resolved.Revision = pr.HeadSHA
		resolved.PR = pr

	case locator.KindBranch:
		branch, err := c.Branch(ctx, parsed.Owner, parsed.Repo, parsed.Value)
		if err != nil {
			return nil, err
		}
		resolved.Revision = branch.HeadSHA
		resolved.Branch = branch

	case locator.KindRevision:
		commit, err := c.Commit(ctx, parsed.Owner, parsed.Repo, parsed.Value)
		if err != nil {
			return nil, err
		}
		resolved.Revision = commit.SHA
		resolved.Commit = commit
	}

	return resolved, nil
}

func prNumber(value string) (int, error) {
	var number int
	if _, err := fmt.Sscanf(value, "%d", &number); err != nil || number <= 0 {
		return 0, newAPIError(0, fmt.Sprintf("invalid change request number %q", value))
	}
	return number, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
