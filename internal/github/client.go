package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	gogithub "github.com/google/go-github/v60/github"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"scoutsite-backend/internal/config"
)

const (
	fileMode        = "100644"
	blobType        = "blob"
	maxHistoryCount = 100
	blobWorkers     = 4
)

// Client exposes the subset of GitHub functionality the content service needs.
type Client interface {
	GetFile(ctx context.Context, path string) (*RemoteFile, error)
	MissingPaths(ctx context.Context, paths []string) ([]string, error)
	Commit(ctx context.Context, message string, changes []Change) (*CommitResult, error)
	CommitFiles(ctx context.Context, files []RemoteFile, message string) (*CommitResult, error)
	DeleteFiles(ctx context.Context, paths []string, message string) (*CommitResult, error)
	ListCommits(ctx context.Context, path string, count int) ([]CommitHistoryItem, error)
}

// RepoClient is the default implementation backed by the GitHub REST API. It
// targets one owner/repo/branch and authenticates as a GitHub App installation.
type RepoClient struct {
	client *gogithub.Client
	owner  string
	repo   string
	branch string
	logger *slog.Logger
}

// New builds a RepoClient and fetches an installation token before returning,
// so a returned client is known to be authenticated.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*RepoClient, error) {
	auth, err := NewAppAuth(cfg)
	if err != nil {
		return nil, err
	}
	ts := auth.TokenSource()
	if _, err := ts.Token(); err != nil {
		return nil, err
	}
	return NewWithTokenSource(cfg, ts, logger)
}

// NewWithTokenSource builds a RepoClient on top of an existing token source.
func NewWithTokenSource(cfg *config.Config, ts oauth2.TokenSource, logger *slog.Logger) (*RepoClient, error) {
	if cfg.GitHubOwner == "" || cfg.GitHubRepo == "" {
		return nil, fmt.Errorf("%w: repository owner and name are required", ErrConfig)
	}
	baseURL, err := url.Parse(cfg.GitHubAPIURL)
	if err != nil {
		return nil, fmt.Errorf("%w: GITHUB_API_URL: %v", ErrConfig, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	branch := cfg.GitHubBranch
	if branch == "" {
		branch = "main"
	}

	httpClient := &http.Client{
		Timeout:   cfg.RequestTimeout,
		Transport: &oauth2.Transport{Source: ts, Base: http.DefaultTransport},
	}
	gh := gogithub.NewClient(httpClient)
	gh.BaseURL = baseURL

	return &RepoClient{
		client: gh,
		owner:  cfg.GitHubOwner,
		repo:   cfg.GitHubRepo,
		branch: branch,
		logger: logger.With("repo", cfg.GitHubOwner+"/"+cfg.GitHubRepo, "branch", branch),
	}, nil
}

// GetFile fetches a file at the branch head. A missing file returns ErrNotFound.
func (c *RepoClient) GetFile(ctx context.Context, path string) (*RemoteFile, error) {
	path = SanitizePath(path)
	opts := &gogithub.RepositoryContentGetOptions{Ref: c.branch}
	file, dir, resp, err := c.client.Repositories.GetContents(ctx, c.owner, c.repo, path, opts)
	if err != nil {
		return nil, wrapErr(stepGetContents, resp, err)
	}
	if file == nil {
		if dir != nil {
			return nil, fmt.Errorf("github: %s is a directory", path)
		}
		return nil, &RemoteError{Step: stepGetContents, Status: statusOf(resp), Err: fmt.Errorf("empty response for %s", path), kind: ErrNotFound}
	}
	var content []byte
	if file.GetEncoding() == "none" {
		// files over 1 MB come without inline content
		content, resp, err = c.client.Git.GetBlobRaw(ctx, c.owner, c.repo, file.GetSHA())
		if err != nil {
			return nil, wrapErr(stepGetBlob, resp, fmt.Errorf("%s: %w", path, err))
		}
	} else {
		text, err := file.GetContent()
		if err != nil {
			return nil, fmt.Errorf("github: decoding %s: %w", path, err)
		}
		content = []byte(text)
	}
	return &RemoteFile{
		Path:     path,
		Content:  content,
		Encoding: EncodingUTF8,
		SHA:      file.GetSHA(),
	}, nil
}

// MissingPaths returns the paths that have no blob at the branch head, in
// input order.
func (c *RepoClient) MissingPaths(ctx context.Context, paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	ref, resp, err := c.client.Git.GetRef(ctx, c.owner, c.repo, c.refName())
	if err != nil {
		return nil, wrapErr(stepGetRef, resp, err)
	}
	head, resp, err := c.client.Git.GetCommit(ctx, c.owner, c.repo, ref.GetObject().GetSHA())
	if err != nil {
		return nil, wrapErr(stepGetCommit, resp, err)
	}
	idx, err := c.loadTreeIndex(ctx, head.GetTree().GetSHA())
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, p := range paths {
		p = SanitizePath(p)
		if _, ok := idx.blobs[p]; ok {
			continue
		}
		if idx.truncated {
			// the listing is incomplete, ask for the path itself
			_, err := c.GetFile(ctx, p)
			if err == nil {
				continue
			}
			if !errors.Is(err, ErrNotFound) {
				return nil, err
			}
		}
		missing = append(missing, p)
	}
	return missing, nil
}

// CommitFiles writes every file in one commit.
func (c *RepoClient) CommitFiles(ctx context.Context, files []RemoteFile, message string) (*CommitResult, error) {
	changes := make([]Change, 0, len(files))
	for _, f := range files {
		changes = append(changes, WriteChange(f))
	}
	return c.Commit(ctx, message, changes)
}

// DeleteFiles removes every path in one commit. Paths already absent from the
// branch are skipped and reported in CommitResult.Skipped.
func (c *RepoClient) DeleteFiles(ctx context.Context, paths []string, message string) (*CommitResult, error) {
	changes := make([]Change, 0, len(paths))
	for _, p := range paths {
		changes = append(changes, DeleteChange(p))
	}
	return c.Commit(ctx, message, changes)
}

// Commit applies changes on top of the branch head as a single commit.
//
// The branch ref is only moved by the final update-ref call, and only as a
// fast-forward; any earlier failure leaves the branch untouched. If the branch
// moved since it was read, the error matches ErrConflict.
func (c *RepoClient) Commit(ctx context.Context, message string, changes []Change) (*CommitResult, error) {
	changes = normalizeChanges(changes)
	if len(changes) == 0 {
		return nil, errors.New("github: commit has no changes")
	}
	start := time.Now()

	ref, resp, err := c.client.Git.GetRef(ctx, c.owner, c.repo, c.refName())
	if err != nil {
		return nil, wrapErr(stepGetRef, resp, err)
	}
	head := ref.GetObject().GetSHA()

	parent, resp, err := c.client.Git.GetCommit(ctx, c.owner, c.repo, head)
	if err != nil {
		return nil, wrapErr(stepGetCommit, resp, err)
	}
	baseTree := parent.GetTree().GetSHA()
	c.logger.Debug("read branch head", "head", head, "tree", baseTree)

	var existing *treeIndex
	if needsTreeIndex(changes) {
		existing, err = c.loadTreeIndex(ctx, baseTree)
		if err != nil {
			return nil, err
		}
	}

	plan, err := planChanges(changes, existing)
	if err != nil {
		return nil, err
	}
	for _, p := range plan.skipped {
		c.logger.Warn("skipping delete of path absent from branch", "path", p)
	}
	if len(plan.entries) == 0 {
		return &CommitResult{SHA: head, ParentSHA: head, TreeSHA: baseTree, Skipped: plan.skipped, NoOp: true}, nil
	}

	if err := c.createBlobs(ctx, plan.entries, plan.blobs); err != nil {
		return nil, err
	}

	tree, resp, err := c.client.Git.CreateTree(ctx, c.owner, c.repo, baseTree, plan.entries)
	if err != nil {
		return nil, wrapErr(stepCreateTree, resp, err)
	}

	commit := &gogithub.Commit{
		Message: gogithub.String(message),
		Tree:    &gogithub.Tree{SHA: tree.SHA},
		Parents: []*gogithub.Commit{{SHA: gogithub.String(head)}},
	}
	created, resp, err := c.client.Git.CreateCommit(ctx, c.owner, c.repo, commit, nil)
	if err != nil {
		return nil, wrapErr(stepCreateCommit, resp, err)
	}

	_, resp, err = c.client.Git.UpdateRef(ctx, c.owner, c.repo, &gogithub.Reference{
		Ref:    gogithub.String(c.refName()),
		Object: &gogithub.GitObject{SHA: created.SHA},
	}, false)
	if err != nil {
		return nil, wrapErr(stepUpdateRef, resp, err)
	}

	result := &CommitResult{
		SHA:       created.GetSHA(),
		ParentSHA: head,
		TreeSHA:   tree.GetSHA(),
		URL:       created.GetHTMLURL(),
		Written:   plan.written,
		Deleted:   plan.deleted,
		Skipped:   plan.skipped,
	}
	c.logger.Info("committed",
		"commit", result.SHA,
		"parent", head,
		"written", len(result.Written),
		"deleted", len(result.Deleted),
		"skipped", len(result.Skipped),
		"duration", time.Since(start))
	return result, nil
}

// ListCommits returns up to count commits of the branch, newest first,
// restricted to commits touching path when path is non-empty.
func (c *RepoClient) ListCommits(ctx context.Context, path string, count int) ([]CommitHistoryItem, error) {
	if count <= 0 {
		count = 10
	}
	if count > maxHistoryCount {
		count = maxHistoryCount
	}
	opts := &gogithub.CommitsListOptions{
		SHA:         c.branch,
		ListOptions: gogithub.ListOptions{PerPage: count},
	}
	if path != "" {
		opts.Path = SanitizePath(path)
	}
	commits, resp, err := c.client.Repositories.ListCommits(ctx, c.owner, c.repo, opts)
	if err != nil {
		return nil, wrapErr(stepListCommits, resp, err)
	}

	items := make([]CommitHistoryItem, 0, len(commits))
	for _, rc := range commits {
		if len(items) == count {
			break
		}
		commit := rc.GetCommit()
		items = append(items, CommitHistoryItem{
			SHA:            rc.GetSHA(),
			Message:        commit.GetMessage(),
			Author:         commit.GetAuthor().GetName(),
			AuthorEmail:    commit.GetAuthor().GetEmail(),
			Date:           commit.GetAuthor().GetDate().Time,
			Committer:      commit.GetCommitter().GetName(),
			CommitterEmail: commit.GetCommitter().GetEmail(),
			CommittedAt:    commit.GetCommitter().GetDate().Time,
			URL:            rc.GetHTMLURL(),
		})
	}
	return items, nil
}

func (c *RepoClient) refName() string {
	return "refs/heads/" + c.branch
}

// treeIndex maps blob paths of a tree to their SHAs.
type treeIndex struct {
	blobs     map[string]string
	truncated bool
}

func (c *RepoClient) loadTreeIndex(ctx context.Context, treeSHA string) (*treeIndex, error) {
	tree, resp, err := c.client.Git.GetTree(ctx, c.owner, c.repo, treeSHA, true)
	if err != nil {
		return nil, wrapErr(stepGetTree, resp, err)
	}
	idx := &treeIndex{blobs: make(map[string]string, len(tree.Entries)), truncated: tree.GetTruncated()}
	for _, e := range tree.Entries {
		if e.GetType() == blobType {
			idx.blobs[e.GetPath()] = e.GetSHA()
		}
	}
	if idx.truncated {
		c.logger.Warn("recursive tree listing truncated, deletes will not be pre-checked", "tree", treeSHA)
	}
	return idx, nil
}

// createBlobs uploads the pending blobs concurrently and fills in entry SHAs.
func (c *RepoClient) createBlobs(ctx context.Context, entries []*gogithub.TreeEntry, blobs []pendingBlob) error {
	if len(blobs) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(blobWorkers)
	for _, b := range blobs {
		g.Go(func() error {
			blob, resp, err := c.client.Git.CreateBlob(gctx, c.owner, c.repo, &gogithub.Blob{
				Content:  gogithub.String(string(b.content)),
				Encoding: gogithub.String(string(b.encoding)),
			})
			if err != nil {
				return wrapErr(stepCreateBlob, resp, fmt.Errorf("%s: %w", entries[b.entry].GetPath(), err))
			}
			entries[b.entry].SHA = blob.SHA
			return nil
		})
	}
	return g.Wait()
}
