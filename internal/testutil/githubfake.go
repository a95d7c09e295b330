// Package testutil provides in-process fakes shared by package tests.
package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"scoutsite-backend/internal/config"
)

// Fake GitHub endpoint names accepted by FailNext and Calls.
const (
	StepInstallations = "installations"
	StepAccessToken   = "access-token"
	StepGetRef        = "get-ref"
	StepGetCommit     = "get-commit"
	StepGetTree       = "get-tree"
	StepCreateBlob    = "create-blob"
	StepCreateTree    = "create-tree"
	StepCreateCommit  = "create-commit"
	StepUpdateRef     = "update-ref"
	StepGetContents   = "get-contents"
	StepGetBlob       = "get-blob"
	StepListCommits   = "list-commits"
)

const (
	FakeOwner          = "scouts"
	FakeRepo           = "site"
	FakeBranch         = "main"
	FakeInstallationID = 42
)

type fakeCommit struct {
	sha     string
	tree    string
	message string
	parents []string
	date    time.Time
}

// GitHubServer is an in-memory GitHub serving the App, Git Data, Contents and
// Commits endpoints for a single repository.
type GitHubServer struct {
	*httptest.Server

	mu       sync.Mutex
	head     string
	blobs    map[string][]byte
	trees    map[string]map[string]string
	commits  map[string]*fakeCommit
	failures map[string]int
	calls    map[string]int
	tokens   map[string]bool
	seq      int

	// BeforeUpdateRef runs before a ref update is applied, outside the lock.
	BeforeUpdateRef func()
	// NoInstallations makes the installation listing return an empty array.
	NoInstallations bool
	// InlineLimit makes the Contents API omit files larger than this many
	// bytes, as GitHub does above 1 MB. Zero inlines everything.
	InlineLimit int
}

// NewGitHubServer starts a fake with an initial commit holding files.
func NewGitHubServer(t *testing.T, files map[string]string) *GitHubServer {
	t.Helper()
	s := &GitHubServer{
		blobs:    map[string][]byte{},
		trees:    map[string]map[string]string{},
		commits:  map[string]*fakeCommit{},
		failures: map[string]int{},
		calls:    map[string]int{},
		tokens:   map[string]bool{},
	}
	s.PushCommit("Initial commit", files, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /app/installations", s.handleInstallations)
	mux.HandleFunc("POST /app/installations/{id}/access_tokens", s.handleAccessToken)
	mux.HandleFunc("GET /repos/{owner}/{repo}/git/ref/{ref...}", s.repo(StepGetRef, s.handleGetRef))
	mux.HandleFunc("PATCH /repos/{owner}/{repo}/git/refs/{ref...}", s.repo(StepUpdateRef, s.handleUpdateRef))
	mux.HandleFunc("GET /repos/{owner}/{repo}/git/commits/{sha}", s.repo(StepGetCommit, s.handleGetCommit))
	mux.HandleFunc("POST /repos/{owner}/{repo}/git/commits", s.repo(StepCreateCommit, s.handleCreateCommit))
	mux.HandleFunc("GET /repos/{owner}/{repo}/git/trees/{sha}", s.repo(StepGetTree, s.handleGetTree))
	mux.HandleFunc("POST /repos/{owner}/{repo}/git/trees", s.repo(StepCreateTree, s.handleCreateTree))
	mux.HandleFunc("POST /repos/{owner}/{repo}/git/blobs", s.repo(StepCreateBlob, s.handleCreateBlob))
	mux.HandleFunc("GET /repos/{owner}/{repo}/git/blobs/{sha}", s.repo(StepGetBlob, s.handleGetBlob))
	mux.HandleFunc("GET /repos/{owner}/{repo}/contents/{path...}", s.repo(StepGetContents, s.handleGetContents))
	mux.HandleFunc("GET /repos/{owner}/{repo}/commits", s.repo(StepListCommits, s.handleListCommits))

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// BaseURL is the API root with the trailing slash go-github requires.
func (s *GitHubServer) BaseURL() string {
	return s.URL + "/"
}

// Config returns a validated configuration pointing at the fake.
func (s *GitHubServer) Config(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		GitHubAPIURL:     s.BaseURL(),
		GitHubAppID:      1001,
		GitHubPrivateKey: PrivateKeyPEM(t),
		GitHubOwner:      FakeOwner,
		GitHubRepo:       FakeRepo,
		GitHubBranch:     FakeBranch,
		RequestTimeout:   5 * time.Second,
		ConflictRetries:  1,
		HistoryMaxCount:  100,
		JWTSecret:        "test-secret",
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("fake config invalid: %v", err)
	}
	return cfg
}

// FailNext makes the next n calls to step answer with status.
func (s *GitHubServer) FailNext(step string, status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[step+"#"+strconv.Itoa(status)] = n
}

// Calls reports how many requests reached step.
func (s *GitHubServer) Calls(step string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[step]
}

// Head returns the commit the branch points at.
func (s *GitHubServer) Head() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head
}

// CommitCount is the number of commits reachable from the branch head.
func (s *GitHubServer) CommitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for sha := s.head; sha != ""; {
		n++
		c := s.commits[sha]
		if len(c.parents) == 0 {
			break
		}
		sha = c.parents[0]
	}
	return n
}

// HeadMessage is the message of the branch head commit.
func (s *GitHubServer) HeadMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits[s.head].message
}

// File returns the content of path at the branch head.
func (s *GitHubServer) File(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sha, ok := s.trees[s.commits[s.head].tree][path]
	if !ok {
		return "", false
	}
	return string(s.blobs[sha]), true
}

// Paths lists every file at the branch head, sorted.
func (s *GitHubServer) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree := s.trees[s.commits[s.head].tree]
	out := make([]string, 0, len(tree))
	for p := range tree {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// PushCommit advances the branch directly, as another writer would.
func (s *GitHubServer) PushCommit(message string, files map[string]string, deletes []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree := map[string]string{}
	if s.head != "" {
		for p, sha := range s.trees[s.commits[s.head].tree] {
			tree[p] = sha
		}
	}
	for p, content := range files {
		tree[p] = s.putBlob([]byte(content))
	}
	for _, p := range deletes {
		delete(tree, p)
	}
	var parents []string
	if s.head != "" {
		parents = []string{s.head}
	}
	s.head = s.putCommit(message, s.putTree(tree), parents)
	return s.head
}

func (s *GitHubServer) putBlob(data []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(data))
	h.Write(data)
	sha := hex.EncodeToString(h.Sum(nil))
	s.blobs[sha] = append([]byte(nil), data...)
	return sha
}

func (s *GitHubServer) putTree(entries map[string]string) string {
	paths := make([]string, 0, len(entries))
	for p := range entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	h := sha1.New()
	for _, p := range paths {
		fmt.Fprintf(h, "%s %s\n", p, entries[p])
	}
	sha := hex.EncodeToString(h.Sum(nil))
	s.trees[sha] = entries
	return sha
}

func (s *GitHubServer) putCommit(message, tree string, parents []string) string {
	s.seq++
	h := sha1.New()
	fmt.Fprintf(h, "commit %d %s %s %v", s.seq, tree, message, parents)
	sha := hex.EncodeToString(h.Sum(nil))
	s.commits[sha] = &fakeCommit{
		sha:     sha,
		tree:    tree,
		message: message,
		parents: parents,
		date:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(s.seq) * time.Minute),
	}
	return sha
}

// failure consumes one injected failure for step, returning its status.
func (s *GitHubServer) failure(step string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[step]++
	for key, n := range s.failures {
		name, status, _ := strings.Cut(key, "#")
		if name != step || n <= 0 {
			continue
		}
		s.failures[key] = n - 1
		code, _ := strconv.Atoi(status)
		return code
	}
	return 0
}

func (s *GitHubServer) repo(step string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if status := s.failure(step); status != 0 {
			writeFake(w, status, map[string]string{"message": "injected failure"})
			return
		}
		if r.PathValue("owner") != FakeOwner || r.PathValue("repo") != FakeRepo {
			writeFake(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		valid := s.tokens[token]
		s.mu.Unlock()
		if !valid {
			writeFake(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
			return
		}
		next(w, r)
	}
}

func (s *GitHubServer) handleInstallations(w http.ResponseWriter, r *http.Request) {
	if status := s.failure(StepInstallations); status != 0 {
		writeFake(w, status, map[string]string{"message": "injected failure"})
		return
	}
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		writeFake(w, http.StatusUnauthorized, map[string]string{"message": "A JSON web token could not be decoded"})
		return
	}
	if s.NoInstallations {
		writeFake(w, http.StatusOK, []any{})
		return
	}
	writeFake(w, http.StatusOK, []map[string]any{{"id": FakeInstallationID}})
}

func (s *GitHubServer) handleAccessToken(w http.ResponseWriter, r *http.Request) {
	if status := s.failure(StepAccessToken); status != 0 {
		writeFake(w, status, map[string]string{"message": "injected failure"})
		return
	}
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		writeFake(w, http.StatusUnauthorized, map[string]string{"message": "A JSON web token could not be decoded"})
		return
	}
	if r.PathValue("id") != strconv.Itoa(FakeInstallationID) {
		writeFake(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	s.mu.Lock()
	s.seq++
	token := fmt.Sprintf("ghs_fake%d", s.seq)
	s.tokens[token] = true
	s.mu.Unlock()
	writeFake(w, http.StatusCreated, map[string]any{
		"token":      token,
		"expires_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	})
}

func (s *GitHubServer) handleGetRef(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("ref") != "heads/"+FakeBranch {
		writeFake(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	s.mu.Lock()
	head := s.head
	s.mu.Unlock()
	writeFake(w, http.StatusOK, refJSON(head))
}

func (s *GitHubServer) handleUpdateRef(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("ref") != "heads/"+FakeBranch {
		writeFake(w, http.StatusUnprocessableEntity, map[string]string{"message": "Reference does not exist"})
		return
	}
	var body struct {
		SHA   string `json:"sha"`
		Force bool   `json:"force"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeFake(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	if hook := s.BeforeUpdateRef; hook != nil {
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.commits[body.SHA]; !ok {
		writeFake(w, http.StatusUnprocessableEntity, map[string]string{"message": "Object does not exist"})
		return
	}
	if !body.Force && !s.descends(body.SHA, s.head) {
		writeFake(w, http.StatusUnprocessableEntity, map[string]string{"message": "Update is not a fast forward"})
		return
	}
	s.head = body.SHA
	writeFake(w, http.StatusOK, refJSON(body.SHA))
}

// descends reports whether ancestor is reachable from sha. Caller holds mu.
func (s *GitHubServer) descends(sha, ancestor string) bool {
	queue := []string{sha}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == ancestor {
			return true
		}
		if c, ok := s.commits[cur]; ok {
			queue = append(queue, c.parents...)
		}
	}
	return false
}

func (s *GitHubServer) handleGetCommit(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	c, ok := s.commits[r.PathValue("sha")]
	s.mu.Unlock()
	if !ok {
		writeFake(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	writeFake(w, http.StatusOK, s.commitJSON(c))
}

func (s *GitHubServer) handleCreateCommit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string   `json:"message"`
		Tree    string   `json:"tree"`
		Parents []string `json:"parents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeFake(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trees[body.Tree]; !ok {
		writeFake(w, http.StatusUnprocessableEntity, map[string]string{"message": "Tree SHA does not exist"})
		return
	}
	for _, p := range body.Parents {
		if _, ok := s.commits[p]; !ok {
			writeFake(w, http.StatusUnprocessableEntity, map[string]string{"message": "Parent SHA does not exist"})
			return
		}
	}
	sha := s.putCommit(body.Message, body.Tree, body.Parents)
	writeFake(w, http.StatusCreated, s.commitJSON(s.commits[sha]))
}

func (s *GitHubServer) handleGetTree(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sha := r.PathValue("sha")
	tree, ok := s.trees[sha]
	if !ok {
		writeFake(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	paths := make([]string, 0, len(tree))
	for p := range tree {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	entries := make([]map[string]any, 0, len(paths))
	for _, p := range paths {
		entries = append(entries, map[string]any{
			"path": p,
			"mode": "100644",
			"type": "blob",
			"sha":  tree[p],
			"size": len(s.blobs[tree[p]]),
		})
	}
	writeFake(w, http.StatusOK, map[string]any{"sha": sha, "tree": entries, "truncated": false})
}

func (s *GitHubServer) handleCreateTree(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BaseTree string                       `json:"base_tree"`
		Tree     []map[string]json.RawMessage `json:"tree"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeFake(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := map[string]string{}
	if body.BaseTree != "" {
		base, ok := s.trees[body.BaseTree]
		if !ok {
			writeFake(w, http.StatusUnprocessableEntity, map[string]string{"message": "base_tree does not exist"})
			return
		}
		for p, sha := range base {
			entries[p] = sha
		}
	}
	for _, raw := range body.Tree {
		var path string
		_ = json.Unmarshal(raw["path"], &path)
		if path == "" {
			writeFake(w, http.StatusUnprocessableEntity, map[string]string{"message": "tree.path is required"})
			return
		}
		if content, ok := raw["content"]; ok {
			var text string
			_ = json.Unmarshal(content, &text)
			entries[path] = s.putBlob([]byte(text))
			continue
		}
		rawSHA, ok := raw["sha"]
		if !ok {
			writeFake(w, http.StatusUnprocessableEntity, map[string]string{"message": "tree.sha or tree.content is required"})
			return
		}
		if string(rawSHA) == "null" {
			if _, exists := entries[path]; !exists {
				writeFake(w, http.StatusUnprocessableEntity, map[string]string{"message": "GitRPC::BadObjectState"})
				return
			}
			delete(entries, path)
			continue
		}
		var sha string
		_ = json.Unmarshal(rawSHA, &sha)
		if _, exists := s.blobs[sha]; !exists {
			writeFake(w, http.StatusUnprocessableEntity, map[string]string{"message": "tree.sha " + sha + " is not a valid blob"})
			return
		}
		entries[path] = sha
	}
	sha := s.putTree(entries)
	writeFake(w, http.StatusCreated, map[string]any{"sha": sha, "truncated": false})
}

func (s *GitHubServer) handleCreateBlob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeFake(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	data := []byte(body.Content)
	if body.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(body.Content)
		if err != nil {
			writeFake(w, http.StatusUnprocessableEntity, map[string]string{"message": "invalid base64"})
			return
		}
		data = decoded
	}
	s.mu.Lock()
	sha := s.putBlob(data)
	s.mu.Unlock()
	writeFake(w, http.StatusCreated, map[string]any{"sha": sha})
}

func (s *GitHubServer) handleGetContents(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	commit := s.commits[s.head]
	if ref := r.URL.Query().Get("ref"); ref != "" && ref != FakeBranch {
		c, ok := s.commits[ref]
		if !ok {
			writeFake(w, http.StatusNotFound, map[string]string{"message": "No commit found for the ref " + ref})
			return
		}
		commit = c
	}
	path := r.PathValue("path")
	sha, ok := s.trees[commit.tree][path]
	if !ok {
		writeFake(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	data := s.blobs[sha]
	encoding, content := "base64", base64.StdEncoding.EncodeToString(data)
	if s.InlineLimit > 0 && len(data) > s.InlineLimit {
		encoding, content = "none", ""
	}
	writeFake(w, http.StatusOK, map[string]any{
		"type":     "file",
		"encoding": encoding,
		"size":     len(data),
		"name":     path[strings.LastIndex(path, "/")+1:],
		"path":     path,
		"sha":      sha,
		"content":  content,
	})
}

func (s *GitHubServer) handleGetBlob(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	data, ok := s.blobs[r.PathValue("sha")]
	s.mu.Unlock()
	if !ok {
		writeFake(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	if strings.Contains(r.Header.Get("Accept"), "raw") {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}
	writeFake(w, http.StatusOK, map[string]any{
		"sha":      r.PathValue("sha"),
		"size":     len(data),
		"encoding": "base64",
		"content":  base64.StdEncoding.EncodeToString(data),
	})
}

func (s *GitHubServer) handleListCommits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if perPage <= 0 {
		perPage = 30
	}
	path := q.Get("path")

	s.mu.Lock()
	defer s.mu.Unlock()
	out := []map[string]any{}
	for sha := s.head; sha != "" && len(out) < perPage; {
		c := s.commits[sha]
		var parentTree map[string]string
		if len(c.parents) > 0 {
			parentTree = s.trees[s.commits[c.parents[0]].tree]
		}
		if path == "" || touches(s.trees[c.tree], parentTree, path) {
			out = append(out, map[string]any{
				"sha":      c.sha,
				"html_url": s.URL + "/commit/" + c.sha,
				"commit": map[string]any{
					"message":   c.message,
					"author":    map[string]any{"name": "Scout Admin", "email": "admin@example.org", "date": c.date.Format(time.RFC3339)},
					"committer": map[string]any{"name": "GitHub", "email": "noreply@github.com", "date": c.date.Format(time.RFC3339)},
				},
			})
		}
		if len(c.parents) == 0 {
			break
		}
		sha = c.parents[0]
	}
	writeFake(w, http.StatusOK, out)
}

// touches reports whether path, or anything under it, differs between trees.
func touches(tree, parent map[string]string, path string) bool {
	under := func(p string) bool { return p == path || strings.HasPrefix(p, path+"/") }
	for p, sha := range tree {
		if under(p) && parent[p] != sha {
			return true
		}
	}
	for p := range parent {
		if _, ok := tree[p]; under(p) && !ok {
			return true
		}
	}
	return false
}

func (s *GitHubServer) commitJSON(c *fakeCommit) map[string]any {
	parents := make([]map[string]any, 0, len(c.parents))
	for _, p := range c.parents {
		parents = append(parents, map[string]any{"sha": p})
	}
	return map[string]any{
		"sha":      c.sha,
		"message":  c.message,
		"tree":     map[string]any{"sha": c.tree},
		"parents":  parents,
		"html_url": s.URL + "/commit/" + c.sha,
	}
}

func refJSON(sha string) map[string]any {
	return map[string]any{
		"ref":    "refs/heads/" + FakeBranch,
		"object": map[string]any{"type": "commit", "sha": sha},
	}
}

func writeFake(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

var (
	keyOnce sync.Once
	keyPEM  string
	keyErr  error
)

// PrivateKeyPEM returns a PKCS#1 RSA key shared by every test in the binary.
func PrivateKeyPEM(t *testing.T) string {
	t.Helper()
	keyOnce.Do(func() {
		var key *rsa.PrivateKey
		key, keyErr = rsa.GenerateKey(rand.Reader, 2048)
		if keyErr != nil {
			return
		}
		keyPEM = string(pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		}))
	})
	if keyErr != nil {
		t.Fatalf("generating rsa key: %v", keyErr)
	}
	return keyPEM
}
