package content

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"scoutsite-backend/internal/domain"
	"scoutsite-backend/internal/metadata"
	"scoutsite-backend/internal/testutil"
)

func TestUpload_FileUpsertsIndexEntry(t *testing.T) {
	f := newFixture(t, map[string]string{
		"public/content/files/a.pdf": "old",
		metadata.FilesIndexPath:      `[{"filename":"a.pdf","title":"Old rules","description":""}]`,
	})
	before := f.srv.CommitCount()

	res, err := f.svc.Upload(context.Background(), []domain.UploadItem{
		{Type: domain.ItemFile, Name: "a.pdf", Title: "Rules", Description: "Troop rules", Data: "UERG"},
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if got := f.srv.CommitCount(); got != before+1 {
		t.Errorf("commits = %d, want %d", got, before+1)
	}
	if res.Commit != f.srv.Head() {
		t.Errorf("result commit %s != head %s", res.Commit, f.srv.Head())
	}
	if got := f.srv.HeadMessage(); got != "Uploaded file 'a.pdf'" {
		t.Errorf("message = %q", got)
	}
	if got := f.file(t, "public/content/files/a.pdf"); got != "PDF" {
		t.Errorf("blob = %q, want decoded payload", got)
	}
	want := `[
  {
    "filename": "a.pdf",
    "title": "Rules",
    "description": "Troop rules"
  }
]`
	if got := f.file(t, metadata.FilesIndexPath); got != want {
		t.Errorf("files index =\n%s\nwant\n%s", got, want)
	}
}

func TestUpload_BlogPost(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.svc.Upload(context.Background(), []domain.UploadItem{{
		Type:        domain.ItemBlog,
		Title:       "Καλημέρα Κόσμε!",
		Description: "First post",
		Author:      "Akela",
		Tags:        []string{"camp", "news"},
		Content:     "Hello scouts",
	}})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if len(res.Slugs) != 1 || res.Slugs[0] != "kalimera-kosme" {
		t.Errorf("slugs = %v", res.Slugs)
	}

	doc := f.file(t, "public/content/blog/kalimera-kosme.md")
	if !strings.HasPrefix(doc, "---\n") || !strings.HasSuffix(doc, "---\nHello scouts\n") {
		t.Errorf("post layout:\n%s", doc)
	}
	for _, want := range []string{
		"title: Καλημέρα Κόσμε!",
		"author: Akela",
		"2025-03-01T09:30:00.000Z",
		"slug: kalimera-kosme",
		"  - camp\n",
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("front-matter missing %q:\n%s", want, doc)
		}
	}
	if got := f.srv.HeadMessage(); got != "Posted 'Καλημέρα Κόσμε!'" {
		t.Errorf("message = %q", got)
	}
	if _, ok := f.srv.File(metadata.FilesIndexPath); ok {
		t.Error("blog upload wrote the files index")
	}
}

func TestUpload_ImagesIntoCollection(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.svc.Upload(context.Background(), []domain.UploadItem{
		{Type: domain.ItemImage, Name: "a.jpg", Collection: "Camp 2024", Data: "QQ=="},
		{Type: domain.ItemImage, Name: "b.jpg", Collection: "Camp 2024", Data: "Qg=="},
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if got := f.srv.HeadMessage(); got != "Batch upload" {
		t.Errorf("message = %q", got)
	}
	if len(res.Paths) != 3 {
		t.Errorf("paths = %v", res.Paths)
	}
	if got := f.file(t, "public/content/images/Camp-2024/b.jpg"); got != "B" {
		t.Errorf("image = %q", got)
	}
	want := `[
  {
    "name": "Camp-2024",
    "date": "2025-03-01",
    "images": [
      {
        "path": "/content/images/Camp-2024/a.jpg",
        "index": 0
      },
      {
        "path": "/content/images/Camp-2024/b.jpg",
        "index": 1
      }
    ]
  }
]`
	if got := f.file(t, metadata.ImagesIndexPath); got != want {
		t.Errorf("images index =\n%s", got)
	}
}

func TestUpload_CollectionDateIsKept(t *testing.T) {
	f := newFixture(t, map[string]string{
		metadata.ImagesIndexPath: `[{"name":"Camp2024","date":"2024-07-01","images":[{"path":"/content/images/Camp2024/a.jpg","index":0}]}]`,
	})
	f.clock.Advance(90 * 24 * time.Hour)

	if _, err := f.svc.Upload(context.Background(), []domain.UploadItem{
		{Type: domain.ItemImage, Name: "b.jpg", Collection: "Camp2024", Data: "Qg=="},
	}); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	index := f.file(t, metadata.ImagesIndexPath)
	if !strings.Contains(index, `"date": "2024-07-01"`) {
		t.Errorf("collection date rewritten:\n%s", index)
	}
	if !strings.Contains(index, `"path": "/content/images/Camp2024/b.jpg",
        "index": 1`) {
		t.Errorf("new image not appended:\n%s", index)
	}
}

func TestUpload_FileWithExplicitPath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		repo    string
		indexed bool
	}{
		{"outside files dir", "public/docs/a.pdf", "public/docs/a.pdf", false},
		{"public url form", "/docs/a.pdf", "public/docs/a.pdf", false},
		{"default location", "/content/files/a.pdf", "public/content/files/a.pdf", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			if _, err := f.svc.Upload(context.Background(), []domain.UploadItem{
				{Type: domain.ItemFile, Name: "a.pdf", Title: "Rules", Path: tt.path, Data: "UERG"},
			}); err != nil {
				t.Fatalf("Upload() error = %v", err)
			}
			if got := f.file(t, tt.repo); got != "PDF" {
				t.Errorf("%s = %q", tt.repo, got)
			}
			if tt.repo != metadata.FileRepoPath("a.pdf") {
				if _, ok := f.srv.File(metadata.FileRepoPath("a.pdf")); ok {
					t.Error("file also written to the default location")
				}
			}
			if _, ok := f.srv.File(metadata.FilesIndexPath); ok != tt.indexed {
				t.Errorf("files index present = %v, want %v", ok, tt.indexed)
			}
		})
	}
}

func TestUpload_FileWithDirectoryPathIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Upload(context.Background(), []domain.UploadItem{
		{Type: domain.ItemFile, Name: "a.pdf", Path: "/", Data: "UERG"},
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Upload() error = %v, want ErrValidation", err)
	}
	if n := f.srv.Calls(testutil.StepGetRef); n != 0 {
		t.Errorf("get-ref called %d times", n)
	}
}

func TestUpload_ImageWithExplicitPathSkipsIndex(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.svc.Upload(context.Background(), []domain.UploadItem{
		{Type: domain.ItemImage, Name: "logo.png", Path: "/images/logo.png", Data: "TE9HTw=="},
	}); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if got := f.file(t, "public/images/logo.png"); got != "LOGO" {
		t.Errorf("image = %q", got)
	}
	if _, ok := f.srv.File(metadata.ImagesIndexPath); ok {
		t.Error("explicit-path image was indexed")
	}
	if got := f.srv.HeadMessage(); got != "Uploaded image 'logo.png'" {
		t.Errorf("message = %q", got)
	}
}

func TestUpload_RejectsBeforeAnyRemoteCall(t *testing.T) {
	tests := []struct {
		name string
		item domain.UploadItem
	}{
		{"empty title", domain.UploadItem{Type: domain.ItemBlog, Title: "", Content: "x"}},
		{"punctuation title", domain.UploadItem{Type: domain.ItemBlog, Title: "!!!", Content: "x"}},
		{"no content", domain.UploadItem{Type: domain.ItemBlog, Title: "Camp"}},
		{"file without data", domain.UploadItem{Type: domain.ItemFile, Name: "a.pdf"}},
		{"bad base64", domain.UploadItem{Type: domain.ItemFile, Name: "a.pdf", Data: "not base64!"}},
		{"nested name", domain.UploadItem{Type: domain.ItemFile, Name: "x/a.pdf", Data: "UERG"}},
		{"image without collection", domain.UploadItem{Type: domain.ItemImage, Name: "a.jpg", Data: "QQ=="}},
		{"unknown type", domain.UploadItem{Type: "video", Name: "a.mp4", Data: "QQ=="}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			head := f.srv.Head()

			_, err := f.svc.Upload(context.Background(), []domain.UploadItem{
				{Type: domain.ItemFile, Name: "ok.pdf", Data: "UERG"},
				tt.item,
			})
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("Upload() error = %v, want ErrValidation", err)
			}
			for _, step := range []string{testutil.StepGetContents, testutil.StepGetRef, testutil.StepCreateBlob} {
				if n := f.srv.Calls(step); n != 0 {
					t.Errorf("%s called %d times", step, n)
				}
			}
			if f.srv.Head() != head {
				t.Error("branch moved")
			}
			if op := f.lastOp(t); op.Status != domain.StatusFailed || op.Phase != domain.PhaseValidating {
				t.Errorf("journal = %+v", op)
			}
		})
	}
}

func TestUpload_EmptyBatch(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.svc.Upload(context.Background(), nil); !errors.Is(err, ErrValidation) {
		t.Errorf("Upload(nil) error = %v", err)
	}
}

func TestUpload_StripsDataURLPrefix(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.svc.Upload(context.Background(), []domain.UploadItem{
		{Type: domain.ItemFile, Name: "a.pdf", Data: "data:application/pdf;base64,UERG"},
	}); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if got := f.file(t, "public/content/files/a.pdf"); got != "PDF" {
		t.Errorf("blob = %q", got)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Καλημέρα Κόσμε!", "kalimera-kosme"},
		{"Summer Camp 2024", "summer-camp-2024"},
		{"  --Hello,   World--  ", "hello-world"},
		{"Ψυχή & Θάρρος", "psychi-tharros"},
		{"Ελληνικός Προσκοπισμός", "ellinikos-proskopismos"},
		{"!!!", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Slugify(tt.title); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}
