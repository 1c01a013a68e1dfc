package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/shuklalaw/sitecms/internal/config"
)

const defaultGitHubAPI = "https://api.github.com"

// Steps of a batch commit, used in error messages.
const (
	stepResolveRef   = "resolve branch"
	stepResolveTree  = "resolve base tree"
	stepCreateBlob   = "create blob"
	stepCreateTree   = "create tree"
	stepCreateCommit = "create commit"
	stepUpdateRef    = "update branch"
)

// GitHubMirror implements Mirror using the GitHub Git Data API.
//
// A batch is committed in five steps:
//  1. read the branch head commit and its tree
//  2. create one blob per file
//  3. create a tree layered on the head tree
//  4. create a commit whose parent is the head
//  5. fast-forward the branch ref to the new commit
//
// The ref is touched only in the last step, so a failure anywhere earlier
// leaves the branch exactly where it was. Unreferenced blobs and trees are
// garbage collected by GitHub.
type GitHubMirror struct {
	config     *config.GitConfig
	httpClient *http.Client
	baseURL    string // https://api.github.com/repos/{owner}/{repo}
	now        func() time.Time
}

type githubObject struct {
	SHA string `json:"sha"`
	URL string `json:"url,omitempty"`
}

type githubRef struct {
	Ref    string       `json:"ref"`
	Object githubObject `json:"object"`
}

type githubCommit struct {
	SHA     string       `json:"sha"`
	HTMLURL string       `json:"html_url"`
	Message string       `json:"message"`
	Tree    githubObject `json:"tree"`
}

type githubTreeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
}

type githubSignature struct {
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Date  time.Time `json:"date"`
}

type githubErrorResponse struct {
	Message       string `json:"message"`
	Documentation string `json:"documentation_url"`
}

// NewGitHubMirror creates a mirror for cfg.Owner/cfg.Repo.
//
// A missing token is not an error here: CommitFiles reports ErrUnauthorized
// without contacting GitHub, so the server can still start and save locally.
//
// Parameters:
//   - cfg: The Git configuration containing GitHub API settings (owner, repo, token, branch)
//
// Returns:
//   - *GitHubMirror: A new GitHub mirror instance
//   - error: If owner or repo are missing
func NewGitHubMirror(cfg *config.GitConfig) (*GitHubMirror, error) {
	if cfg.Owner == "" {
		return nil, fmt.Errorf("github owner is required for github-api backend")
	}
	if cfg.Repo == "" {
		return nil, fmt.Errorf("github repo is required for github-api backend")
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = timeout

	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = defaultGitHubAPI
	}

	return &GitHubMirror{
		config:     cfg,
		httpClient: httpClient,
		baseURL:    fmt.Sprintf("%s/repos/%s/%s", apiURL, url.PathEscape(cfg.Owner), url.PathEscape(cfg.Repo)),
		now:        time.Now,
	}, nil
}

// Name returns the backend label for logs.
func (g *GitHubMirror) Name() string {
	return fmt.Sprintf("github-api (%s/%s@%s)", g.config.Owner, g.config.Repo, g.config.Branch)
}

// CommitFiles writes all changes as one commit and fast-forwards the branch.
func (g *GitHubMirror) CommitFiles(ctx context.Context, changes []FileChange, message string) (*CommitResult, error) {
	if len(changes) == 0 {
		return nil, nil
	}
	if g.config.Token == "" {
		return nil, fmt.Errorf("%w: no GitHub token configured (set GITHUB_TOKEN or GH_TOKEN)", ErrUnauthorized)
	}
	if message == "" {
		message = config.DefaultCommitMessage
	}

	branchPath := "/git/refs/heads/" + g.config.Branch

	var ref githubRef
	if err := g.call(ctx, stepResolveRef, http.MethodGet, branchPath, nil, &ref); err != nil {
		return nil, err
	}
	parent := ref.Object.SHA

	var head githubCommit
	if err := g.call(ctx, stepResolveTree, http.MethodGet, "/git/commits/"+parent, nil, &head); err != nil {
		return nil, err
	}

	entries := make([]githubTreeEntry, 0, len(changes))
	paths := make([]string, 0, len(changes))
	for _, change := range changes {
		encoding := change.Encoding
		if encoding == "" {
			encoding = EncodingUTF8
		}
		if encoding != EncodingUTF8 && encoding != EncodingBase64 {
			return nil, fmt.Errorf("%w: %s: unsupported encoding %q for %s", ErrMirrorFailure, stepCreateBlob, encoding, change.Path)
		}

		var blob githubObject
		req := map[string]string{"content": change.Content, "encoding": encoding}
		if err := g.call(ctx, stepCreateBlob, http.MethodPost, "/git/blobs", req, &blob); err != nil {
			return nil, err
		}
		entries = append(entries, githubTreeEntry{
			Path: strings.TrimPrefix(change.Path, "/"),
			Mode: "100644",
			Type: "blob",
			SHA:  blob.SHA,
		})
		paths = append(paths, change.Path)
	}

	var tree githubObject
	treeReq := map[string]any{"base_tree": head.Tree.SHA, "tree": entries}
	if err := g.call(ctx, stepCreateTree, http.MethodPost, "/git/trees", treeReq, &tree); err != nil {
		return nil, err
	}

	committed := g.now().UTC()
	sig := githubSignature{Name: g.config.AuthorName, Email: g.config.AuthorEmail, Date: committed}
	commitReq := map[string]any{
		"message": message,
		"tree":    tree.SHA,
		"parents": []string{parent},
	}
	if sig.Name != "" && sig.Email != "" {
		commitReq["author"] = sig
	}

	var commit githubCommit
	if err := g.call(ctx, stepCreateCommit, http.MethodPost, "/git/commits", commitReq, &commit); err != nil {
		return nil, err
	}

	updateReq := map[string]any{"sha": commit.SHA, "force": false}
	if err := g.call(ctx, stepUpdateRef, http.MethodPatch, branchPath, updateReq, nil); err != nil {
		return nil, err
	}

	return &CommitResult{
		SHA:       commit.SHA,
		TreeSHA:   tree.SHA,
		ParentSHA: parent,
		Message:   message,
		URL:       commit.HTMLURL,
		Files:     paths,
		Committed: committed,
	}, nil
}

// LatestDeployment returns the most recent deployment recorded on the
// repository along with its latest status, or nil if there are none.
func (g *GitHubMirror) LatestDeployment(ctx context.Context) (*Deployment, error) {
	if g.config.Token == "" {
		return nil, fmt.Errorf("%w: no GitHub token configured", ErrUnauthorized)
	}

	var deployments []struct {
		ID          int64     `json:"id"`
		SHA         string    `json:"sha"`
		Ref         string    `json:"ref"`
		Environment string    `json:"environment"`
		Description string    `json:"description"`
		CreatedAt   time.Time `json:"created_at"`
	}
	if err := g.call(ctx, "list deployments", http.MethodGet, "/deployments?per_page=1", nil, &deployments); err != nil {
		return nil, err
	}
	if len(deployments) == 0 {
		return nil, nil
	}

	d := deployments[0]
	out := &Deployment{
		ID:          d.ID,
		SHA:         d.SHA,
		Ref:         d.Ref,
		Environment: d.Environment,
		Description: d.Description,
		CreatedAt:   d.CreatedAt,
	}

	var statuses []struct {
		State     string `json:"state"`
		TargetURL string `json:"target_url"`
	}
	statusPath := fmt.Sprintf("/deployments/%d/statuses?per_page=1", d.ID)
	if err := g.call(ctx, "list deployment statuses", http.MethodGet, statusPath, nil, &statuses); err == nil && len(statuses) > 0 {
		out.State = statuses[0].State
		out.TargetURL = statuses[0].TargetURL
	}
	return out, nil
}

// History lists the newest commits on the mirror branch.
func (g *GitHubMirror) History(ctx context.Context, limit int) ([]CommitSummary, error) {
	if g.config.Token == "" {
		return nil, fmt.Errorf("%w: no GitHub token configured", ErrUnauthorized)
	}
	if limit <= 0 {
		limit = 10
	}

	var commits []struct {
		SHA    string `json:"sha"`
		Commit struct {
			Message string          `json:"message"`
			Author  githubSignature `json:"author"`
		} `json:"commit"`
	}
	q := url.Values{"sha": {g.config.Branch}, "per_page": {fmt.Sprint(limit)}}
	if err := g.call(ctx, "list commits", http.MethodGet, "/commits?"+q.Encode(), nil, &commits); err != nil {
		return nil, err
	}

	out := make([]CommitSummary, 0, len(commits))
	for _, c := range commits {
		out = append(out, CommitSummary{
			SHA:     c.SHA,
			Message: c.Commit.Message,
			Author:  c.Commit.Author.Name,
			When:    c.Commit.Author.Date,
		})
	}
	return out, nil
}

// call performs one API request and classifies failures:
// 401/403 become ErrUnauthorized, a rejected ref update becomes ErrConflict,
// anything else ErrMirrorFailure.
func (g *GitHubMirror) call(ctx context.Context, step, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%w: %s: encode request: %v", ErrMirrorFailure, step, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMirrorFailure, step, err)
	}
	req.Header.Set("Authorization", "token "+g.config.Token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMirrorFailure, step, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %s: read response: %v", ErrMirrorFailure, step, err)
	}

	if resp.StatusCode >= 300 {
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		var errResp githubErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Message != "" {
			msg = fmt.Sprintf("%s (status %d)", errResp.Message, resp.StatusCode)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: %s: %s", ErrUnauthorized, step, msg)
		case step == stepUpdateRef && (resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusConflict):
			return fmt.Errorf("%w: %s: %s", ErrConflict, step, msg)
		default:
			return fmt.Errorf("%w: %s: %s", ErrMirrorFailure, step, msg)
		}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: %s: decode response: %v", ErrMirrorFailure, step, err)
	}
	return nil
}
