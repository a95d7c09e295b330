package content

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"scoutsite-backend/internal/config"
	"scoutsite-backend/internal/domain"
	"scoutsite-backend/internal/github"
	"scoutsite-backend/internal/metadata"
	"scoutsite-backend/internal/metrics"
	"scoutsite-backend/internal/store"
	"scoutsite-backend/internal/testutil"
)

var now = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	srv     *testutil.GitHubServer
	journal *store.MemoryStore
	metrics *metrics.Metrics
	clock   *testutil.StubClock
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	srv := testutil.NewGitHubServer(t, files)
	cfg := srv.Config(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := github.New(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("github.New() error = %v", err)
	}
	f := &fixture{
		srv:     srv,
		journal: store.NewMemoryStore(0),
		metrics: metrics.New(),
		clock:   testutil.NewStubClock(now),
	}
	f.svc = NewService(cfg, client, f.journal, f.metrics, f.clock, logger)
	return f
}

// lastOp is the most recent journaled operation.
func (f *fixture) lastOp(t *testing.T) domain.Operation {
	t.Helper()
	ops, err := f.journal.List(context.Background(), 1)
	if err != nil || len(ops) == 0 {
		t.Fatalf("journal empty: %v", err)
	}
	return ops[0]
}

func (f *fixture) file(t *testing.T, path string) string {
	t.Helper()
	got, ok := f.srv.File(path)
	if !ok {
		t.Fatalf("%s missing from branch; have %v", path, f.srv.Paths())
	}
	return got
}

func TestConflict_RetriesOnNewHead(t *testing.T) {
	f := newFixture(t, map[string]string{
		metadata.FilesIndexPath: `[]`,
	})
	var once sync.Once
	f.srv.BeforeUpdateRef = func() {
		once.Do(func() {
			f.srv.PushCommit("Another editor", map[string]string{
				metadata.FilesIndexPath:      `[{"filename":"z.pdf","title":"Z","description":""}]`,
				"public/content/files/z.pdf": "Z",
			}, nil)
		})
	}

	_, err := f.svc.Upload(context.Background(), []domain.UploadItem{
		{Type: domain.ItemFile, Name: "a.pdf", Title: "A", Data: "UERG"},
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if got := f.srv.Calls(testutil.StepUpdateRef); got != 2 {
		t.Errorf("update-ref calls = %d, want 2", got)
	}
	want := `[
  {
    "filename": "z.pdf",
    "title": "Z",
    "description": ""
  },
  {
    "filename": "a.pdf",
    "title": "A",
    "description": ""
  }
]`
	if got := f.file(t, metadata.FilesIndexPath); got != want {
		t.Errorf("index lost the concurrent entry:\n%s", got)
	}
	if got := f.file(t, "public/content/files/z.pdf"); got != "Z" {
		t.Errorf("concurrent blob = %q", got)
	}
	if op := f.lastOp(t); op.Status != domain.StatusCompleted || op.CommitSHA != f.srv.Head() {
		t.Errorf("journal = %+v", op)
	}
}

func TestConflict_GivesUpAfterRetries(t *testing.T) {
	f := newFixture(t, nil)
	f.srv.BeforeUpdateRef = func() {
		f.srv.PushCommit("Another editor", map[string]string{"other.txt": time.Now().String()}, nil)
	}

	_, err := f.svc.Upload(context.Background(), []domain.UploadItem{
		{Type: domain.ItemBlog, Title: "Camp", Content: "Fun"},
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("Upload() error = %v, want ErrConflict", err)
	}
	if got := f.srv.Calls(testutil.StepUpdateRef); got != 2 {
		t.Errorf("update-ref calls = %d, want 2", got)
	}
	if _, ok := f.srv.File("public/content/blog/camp.md"); ok {
		t.Error("post committed despite conflict")
	}

	op := f.lastOp(t)
	if op.Status != domain.StatusFailed || op.Phase != domain.PhaseUpdatingRef {
		t.Errorf("journal = %+v", op)
	}

	rec := httptest.NewRecorder()
	f.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	for _, want := range []string{
		`content_commit_conflicts_total 2`,
		`content_commits_total{operation="upload",outcome="conflict"} 1`,
	} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestFailure_JournalsPhase(t *testing.T) {
	tests := []struct {
		step  string
		phase domain.Phase
	}{
		{testutil.StepGetContents, domain.PhaseReadingIndex},
		{testutil.StepCreateBlob, domain.PhaseBuildingTree},
		{testutil.StepCreateCommit, domain.PhaseCommitting},
		{testutil.StepUpdateRef, domain.PhaseUpdatingRef},
	}
	for _, tt := range tests {
		t.Run(tt.step, func(t *testing.T) {
			f := newFixture(t, nil)
			head := f.srv.Head()
			f.srv.FailNext(tt.step, http.StatusInternalServerError, 1)

			_, err := f.svc.Upload(context.Background(), []domain.UploadItem{
				{Type: domain.ItemFile, Name: "a.pdf", Data: "UERG"},
			})
			if err == nil {
				t.Fatal("Upload() succeeded")
			}
			if f.srv.Head() != head {
				t.Error("branch moved after a failed upload")
			}
			if op := f.lastOp(t); op.Status != domain.StatusFailed || op.Phase != tt.phase {
				t.Errorf("journal = %+v, want phase %s", op, tt.phase)
			}
		})
	}
}

func TestPhaseOf(t *testing.T) {
	if got := phaseOf(invalidf("x")); got != domain.PhaseValidating {
		t.Errorf("validation phase = %s", got)
	}
	if got := phaseOf(errors.New("boom")); got != domain.PhaseFailed {
		t.Errorf("unknown phase = %s", got)
	}
	if got := phaseOf(metadata.ErrMalformedIndex); got != domain.PhaseReadingIndex {
		t.Errorf("malformed index phase = %s", got)
	}
	nested := &github.RemoteError{Step: "get-ref", Err: &url.Error{Op: "Get", URL: "https://api.github.com", Err: &github.RemoteError{Step: "authenticate", Status: http.StatusUnauthorized, Err: github.ErrAuth}}}
	if got := phaseOf(nested); got != domain.PhaseAuthenticating {
		t.Errorf("nested auth phase = %s", got)
	}
}

// revokedSource fails every token refresh the way an expired installation does.
type revokedSource struct{}

func (revokedSource) Token() (*oauth2.Token, error) {
	return nil, &github.RemoteError{Step: "authenticate", Status: http.StatusUnauthorized, Err: github.ErrAuth}
}

func TestFailure_TokenRefreshJournalsAuthenticating(t *testing.T) {
	srv := testutil.NewGitHubServer(t, nil)
	cfg := srv.Config(t)
	client, err := github.NewWithTokenSource(cfg, revokedSource{}, nil)
	if err != nil {
		t.Fatalf("NewWithTokenSource() error = %v", err)
	}
	journal := store.NewMemoryStore(0)
	svc := NewService(cfg, client, journal, nil, testutil.NewStubClock(now), nil)

	_, err = svc.Upload(context.Background(), []domain.UploadItem{
		{Type: domain.ItemFile, Name: "a.pdf", Data: "UERG"},
	})
	if !errors.Is(err, github.ErrAuth) {
		t.Fatalf("Upload() error = %v, want ErrAuth", err)
	}
	if step := github.StepOf(err); step == "authenticate" {
		t.Fatalf("step = %q, want the request that needed the token", step)
	}
	ops, _ := journal.List(context.Background(), 1)
	if len(ops) != 1 || ops[0].Phase != domain.PhaseAuthenticating {
		t.Errorf("journal = %+v, want phase %s", ops, domain.PhaseAuthenticating)
	}
}

type historyRepo struct {
	Repository
	path  string
	count int
}

func (r *historyRepo) ListCommits(_ context.Context, path string, count int) ([]github.CommitHistoryItem, error) {
	r.path, r.count = path, count
	return []github.CommitHistoryItem{{SHA: "abc"}}, nil
}

func TestHistory_CountDefaultsAndClamps(t *testing.T) {
	tests := []struct {
		count int
		want  int
	}{
		{0, 10},
		{25, 25},
		{500, 100},
	}
	for _, tt := range tests {
		repo := &historyRepo{}
		cfg := &config.Config{GitHubOwner: "scouts", GitHubRepo: "site", GitHubBranch: "main", HistoryMaxCount: 100}
		svc := NewService(cfg, repo, nil, nil, nil, nil)
		if _, err := svc.History(context.Background(), "/public/content/blog", tt.count); err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if repo.count != tt.want {
			t.Errorf("History(count=%d) asked for %d, want %d", tt.count, repo.count, tt.want)
		}
		if repo.path != "public/content/blog" {
			t.Errorf("path = %q", repo.path)
		}
	}
}

func TestHistory_FiltersByPath(t *testing.T) {
	f := newFixture(t, map[string]string{"README.md": "hi"})
	ctx := context.Background()
	if _, err := f.svc.Upload(ctx, []domain.UploadItem{{Type: domain.ItemBlog, Title: "Camp", Content: "Fun"}}); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	all, err := f.svc.History(ctx, "", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(all) != 2 || all[0].Message != "Posted 'Camp'" {
		t.Errorf("History() = %+v", all)
	}

	readme, err := f.svc.History(ctx, "README.md", 0)
	if err != nil {
		t.Fatalf("History(README.md) error = %v", err)
	}
	if len(readme) != 1 || readme[0].Message != "Initial commit" {
		t.Errorf("History(README.md) = %+v", readme)
	}
}
