package backend

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shuklalaw/sitecms/internal/config"
)

const (
	fakeOwner = "shuklalaw"
	fakeRepo  = "website"
	fakeToken = "ghp_test"
)

type fakeCommit struct {
	tree    string
	parents []string
	message string
}

// fakeGitHub is an in-memory subset of the GitHub Git Data API.
type fakeGitHub struct {
	t *testing.T

	mu       sync.Mutex
	seq      int
	refs     map[string]string
	commits  map[string]fakeCommit
	trees    map[string]map[string]string // tree sha -> path -> blob sha
	blobs    map[string][]byte
	requests []string

	// refUpdateStatus, when non-zero, is returned from the ref update.
	refUpdateStatus int
	// beforeRefUpdate runs just before the ref update is applied.
	beforeRefUpdate func(f *fakeGitHub)

	deployments []map[string]any
	statuses    map[int64][]map[string]any

	server *httptest.Server
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	t.Helper()
	f := &fakeGitHub{
		t:        t,
		refs:     map[string]string{},
		commits:  map[string]fakeCommit{},
		trees:    map[string]map[string]string{},
		blobs:    map[string][]byte{},
		statuses: map[int64][]map[string]any{},
	}

	// Seed the branch with a README so base_tree layering is observable.
	readme := f.putBlob([]byte("# Shukla Law website\n"))
	tree := f.putTree(map[string]string{"README.md": readme})
	f.refs["main"] = f.putCommit(fakeCommit{tree: tree, message: "Initial commit"})

	prefix := "/repos/" + fakeOwner + "/" + fakeRepo
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+prefix+"/git/refs/heads/{branch}", f.getRef)
	mux.HandleFunc("PATCH "+prefix+"/git/refs/heads/{branch}", f.patchRef)
	mux.HandleFunc("GET "+prefix+"/git/commits/{sha}", f.getCommit)
	mux.HandleFunc("POST "+prefix+"/git/blobs", f.postBlob)
	mux.HandleFunc("POST "+prefix+"/git/trees", f.postTree)
	mux.HandleFunc("POST "+prefix+"/git/commits", f.postCommit)
	mux.HandleFunc("GET "+prefix+"/deployments", f.getDeployments)
	mux.HandleFunc("GET "+prefix+"/deployments/{id}/statuses", f.getStatuses)
	mux.HandleFunc("GET "+prefix+"/commits", f.getCommits)

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.Method+" "+r.URL.Path)
		f.mu.Unlock()

		if r.Header.Get("Authorization") != "token "+fakeToken {
			writeFakeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
			return
		}
		if r.Header.Get("Accept") != "application/vnd.github.v3+json" {
			t.Errorf("unexpected Accept header %q", r.Header.Get("Accept"))
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeGitHub) config(token string) *config.GitConfig {
	return &config.GitConfig{
		Backend:     "github-api",
		Owner:       fakeOwner,
		Repo:        fakeRepo,
		Token:       token,
		Branch:      "main",
		AuthorName:  "sitecms",
		AuthorEmail: "sitecms@localhost",
		APIURL:      f.server.URL,
		Timeout:     5 * time.Second,
	}
}

func (f *fakeGitHub) mirror(token string) *GitHubMirror {
	f.t.Helper()
	m, err := NewGitHubMirror(f.config(token))
	if err != nil {
		f.t.Fatalf("NewGitHubMirror() error = %v", err)
	}
	return m
}

func (f *fakeGitHub) nextSHA() string {
	f.seq++
	return fmt.Sprintf("%040x", f.seq)
}

func (f *fakeGitHub) putBlob(data []byte) string {
	sha := f.nextSHA()
	f.blobs[sha] = data
	return sha
}

func (f *fakeGitHub) putTree(entries map[string]string) string {
	sha := f.nextSHA()
	f.trees[sha] = entries
	return sha
}

func (f *fakeGitHub) putCommit(c fakeCommit) string {
	sha := f.nextSHA()
	f.commits[sha] = c
	return sha
}

// head returns the current branch commit.
func (f *fakeGitHub) head() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refs["main"]
}

// fileAt returns the content of path in the tree of commit, if present.
func (f *fakeGitHub) fileAt(commit, path string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	blob, ok := f.trees[f.commits[commit].tree][path]
	if !ok {
		return nil, false
	}
	return f.blobs[blob], true
}

// reachableBlobs lists every blob reachable from the branch head.
func (f *fakeGitHub) reachableBlobs() map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]bool{}
	for c := f.refs["main"]; c != ""; {
		commit := f.commits[c]
		for _, blob := range f.trees[commit.tree] {
			out[blob] = true
		}
		if len(commit.parents) == 0 {
			break
		}
		c = commit.parents[0]
	}
	return out
}

func (f *fakeGitHub) countRequests(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if len(r) >= len(prefix) && r[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (f *fakeGitHub) getRef(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sha, ok := f.refs[r.PathValue("branch")]
	if !ok {
		writeFakeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	writeFakeJSON(w, http.StatusOK, map[string]any{
		"ref":    "refs/heads/" + r.PathValue("branch"),
		"object": map[string]string{"sha": sha, "type": "commit"},
	})
}

func (f *fakeGitHub) patchRef(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SHA   string `json:"sha"`
		Force bool   `json:"force"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFakeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	if req.Force {
		f.t.Errorf("ref update must not be forced")
	}

	if f.beforeRefUpdate != nil {
		f.beforeRefUpdate(f)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refUpdateStatus != 0 {
		writeFakeJSON(w, f.refUpdateStatus, map[string]string{"message": "Server Error"})
		return
	}

	branch := r.PathValue("branch")
	commit, ok := f.commits[req.SHA]
	if !ok {
		writeFakeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "Object does not exist"})
		return
	}
	if len(commit.parents) == 0 || commit.parents[0] != f.refs[branch] {
		writeFakeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "Update is not a fast forward"})
		return
	}
	f.refs[branch] = req.SHA
	writeFakeJSON(w, http.StatusOK, map[string]any{"ref": "refs/heads/" + branch, "object": map[string]string{"sha": req.SHA}})
}

func (f *fakeGitHub) getCommit(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.commits[r.PathValue("sha")]
	if !ok {
		writeFakeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	writeFakeJSON(w, http.StatusOK, map[string]any{
		"sha":     r.PathValue("sha"),
		"message": c.message,
		"tree":    map[string]string{"sha": c.tree},
	})
}

func (f *fakeGitHub) postBlob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFakeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	data := []byte(req.Content)
	if req.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			writeFakeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "invalid base64"})
			return
		}
		data = decoded
	}

	f.mu.Lock()
	sha := f.putBlob(data)
	f.mu.Unlock()
	writeFakeJSON(w, http.StatusCreated, map[string]string{"sha": sha})
}

func (f *fakeGitHub) postTree(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BaseTree string            `json:"base_tree"`
		Tree     []githubTreeEntry `json:"tree"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFakeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	entries := map[string]string{}
	for p, sha := range f.trees[req.BaseTree] {
		entries[p] = sha
	}
	for _, e := range req.Tree {
		if e.Mode != "100644" || e.Type != "blob" {
			f.t.Errorf("unexpected tree entry %+v", e)
		}
		entries[e.Path] = e.SHA
	}
	writeFakeJSON(w, http.StatusCreated, map[string]string{"sha": f.putTree(entries)})
}

func (f *fakeGitHub) postCommit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string   `json:"message"`
		Tree    string   `json:"tree"`
		Parents []string `json:"parents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFakeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	sha := f.putCommit(fakeCommit{tree: req.Tree, parents: req.Parents, message: req.Message})
	writeFakeJSON(w, http.StatusCreated, map[string]any{
		"sha":      sha,
		"html_url": "https://github.com/" + fakeOwner + "/" + fakeRepo + "/commit/" + sha,
		"tree":     map[string]string{"sha": req.Tree},
	})
}

func (f *fakeGitHub) getDeployments(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.deployments
	if list == nil {
		list = []map[string]any{}
	}
	writeFakeJSON(w, http.StatusOK, list)
}

func (f *fakeGitHub) getStatuses(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var id int64
	fmt.Sscan(r.PathValue("id"), &id)
	list := f.statuses[id]
	if list == nil {
		list = []map[string]any{}
	}
	writeFakeJSON(w, http.StatusOK, list)
}

func (f *fakeGitHub) getCommits(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]any
	for c := f.refs[r.URL.Query().Get("sha")]; c != ""; {
		commit := f.commits[c]
		out = append(out, map[string]any{
			"sha": c,
			"commit": map[string]any{
				"message": commit.message,
				"author":  map[string]any{"name": "sitecms", "email": "sitecms@localhost", "date": "2024-03-04T09:15:00Z"},
			},
		})
		if len(commit.parents) == 0 {
			break
		}
		c = commit.parents[0]
	}
	writeFakeJSON(w, http.StatusOK, out)
}

func writeFakeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
