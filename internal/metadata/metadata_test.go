package metadata

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"scoutsite-backend/internal/github"
)

var today = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

type mapReader struct {
	files map[string]string
	err   error
}

func (m *mapReader) GetFile(_ context.Context, path string) (*github.RemoteFile, error) {
	if m.err != nil {
		return nil, m.err
	}
	content, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, github.ErrNotFound)
	}
	return &github.RemoteFile{Path: path, Content: []byte(content)}, nil
}

func TestMergeFileEntry_Upsert(t *testing.T) {
	index := MergeFileEntry(nil, FileMetadata{Filename: "a.pdf", Title: "A", Description: "d"})
	index = MergeFileEntry(index, FileMetadata{Filename: "a.pdf", Title: "A2", Description: "d2"})

	want := []FileMetadata{{Filename: "a.pdf", Title: "A2", Description: "d2"}}
	if !reflect.DeepEqual(index, want) {
		t.Fatalf("index = %+v, want %+v", index, want)
	}
}

func TestMergeFileEntry_TitleDefaultsToFilename(t *testing.T) {
	index := MergeFileEntry([]FileMetadata{{Filename: "x.doc", Title: "X"}}, FileMetadata{Filename: "b.pdf"})
	if len(index) != 2 || index[1].Title != "b.pdf" {
		t.Fatalf("index = %+v", index)
	}
}

func TestMergeImageEntry(t *testing.T) {
	existing := []CollectionMetadata{{Name: "Camp2024", Date: "2024-01-01", Images: []ImageMetadata{
		{Path: "/content/images/Camp2024/a.jpg", Index: 0},
	}}}

	out := MergeImageEntry(existing, "Camp2024", "/content/images/Camp2024/b.jpg", today)
	if out[0].Date != "2024-01-01" {
		t.Errorf("existing date rewritten to %q", out[0].Date)
	}
	if len(out[0].Images) != 2 || out[0].Images[1].Index != 1 {
		t.Errorf("images = %+v", out[0].Images)
	}
	if len(existing[0].Images) != 1 {
		t.Error("input index was mutated")
	}

	out = MergeImageEntry(out, "Camp2024", "/content/images/Camp2024/b.jpg", today)
	if len(out[0].Images) != 2 {
		t.Errorf("duplicate path appended: %+v", out[0].Images)
	}

	out = MergeImageEntry(out, "Winter", "/content/images/Winter/w.jpg", today)
	if len(out) != 2 || out[1].Date != "2025-03-14" {
		t.Errorf("new collection = %+v", out[1])
	}
	if out[1].Images[0].Index != 0 {
		t.Errorf("first image index = %d", out[1].Images[0].Index)
	}
}

func TestApplyImageDeletions_DeleteMiddleImage(t *testing.T) {
	var index []CollectionMetadata
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		index = MergeImageEntry(index, "Camp2024", ImagePublicPath("Camp2024", name), today)
	}

	out := ApplyImageDeletions(index, NewPathSet(ImageRepoPath("Camp2024", "b.jpg")))

	want := []ImageMetadata{
		{Path: "/content/images/Camp2024/a.jpg", Index: 0},
		{Path: "/content/images/Camp2024/c.jpg", Index: 1},
	}
	if !reflect.DeepEqual(out[0].Images, want) {
		t.Fatalf("images = %+v, want %+v", out[0].Images, want)
	}
}

func TestApplyImageDeletions_PrunesEmptyCollections(t *testing.T) {
	index := []CollectionMetadata{
		{Name: "keep", Date: "2024-01-01", Images: []ImageMetadata{{Path: "/content/images/keep/k.jpg"}}},
		{Name: "gone", Date: "2024-02-01", Images: []ImageMetadata{{Path: "/content/images/gone/g.jpg"}}},
	}
	out := ApplyImageDeletions(index, NewPathSet("/content/images/gone/g.jpg"))
	if names := CollectionNames(out); !reflect.DeepEqual(names, []string{"keep"}) {
		t.Fatalf("collections = %v", names)
	}
}

func TestApplyFileDeletions(t *testing.T) {
	index := []FileMetadata{{Filename: "a.pdf"}, {Filename: "b.pdf"}}
	out := ApplyFileDeletions(index, NewPathSet("public/content/files/a.pdf"))
	if len(out) != 1 || out[0].Filename != "b.pdf" {
		t.Fatalf("index = %+v", out)
	}
}

func TestApplyCollectionDeletion(t *testing.T) {
	index := []CollectionMetadata{
		{Name: "A", Date: "2024-01-01", Images: []ImageMetadata{{Path: "/content/images/A/1.jpg"}, {Path: "/content/images/A/2.jpg", Index: 1}}},
		{Name: "B", Date: "2024-01-02", Images: []ImageMetadata{{Path: "/content/images/B/1.jpg"}}},
	}

	out, paths, found := ApplyCollectionDeletion(index, "A")
	if !found {
		t.Fatal("collection A not found")
	}
	if want := []string{"public/content/images/A/1.jpg", "public/content/images/A/2.jpg"}; !reflect.DeepEqual(paths, want) {
		t.Errorf("paths = %v, want %v", paths, want)
	}
	if names := CollectionNames(out); !reflect.DeepEqual(names, []string{"B"}) {
		t.Errorf("remaining = %v", names)
	}

	if _, _, found := ApplyCollectionDeletion(index, "missing"); found {
		t.Error("found a collection that does not exist")
	}
}

func TestGroupImages(t *testing.T) {
	existing := []CollectionMetadata{{Name: "Camp2024", Date: "2024-01-01"}}
	flat := []ImageUpdate{
		{Path: "/content/images/Camp2024/c.jpg", Collection: "Camp2024", Index: 5},
		{Path: "/content/images/New/n.jpg", Collection: "New", Index: 0},
		{Path: "public/content/images/Camp2024/a.jpg", Collection: "Camp2024", Index: 1},
		{Path: "/content/images/Camp2024/b.jpg", Collection: "Camp2024", Index: 1},
		{Path: "/content/images/Camp2024/a.jpg", Collection: "Camp2024", Index: 9},
	}

	out := GroupImages(flat, existing, today)

	want := []CollectionMetadata{
		{Name: "Camp2024", Date: "2024-01-01", Images: []ImageMetadata{
			{Path: "/content/images/Camp2024/a.jpg", Index: 0},
			{Path: "/content/images/Camp2024/b.jpg", Index: 1},
			{Path: "/content/images/Camp2024/c.jpg", Index: 2},
		}},
		{Name: "New", Date: "2025-03-14", Images: []ImageMetadata{
			{Path: "/content/images/New/n.jpg", Index: 0},
		}},
	}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("GroupImages() =\n%+v\nwant\n%+v", out, want)
	}
}

func TestEncode(t *testing.T) {
	got, err := EncodeFiles(nil)
	if err != nil {
		t.Fatalf("EncodeFiles() error = %v", err)
	}
	if string(got) != "[]" {
		t.Errorf("EncodeFiles(nil) = %q", got)
	}

	got, err = EncodeImages([]CollectionMetadata{{Name: "A&B", Date: "2024-01-01"}})
	if err != nil {
		t.Fatalf("EncodeImages() error = %v", err)
	}
	want := "[\n  {\n    \"name\": \"A&B\",\n    \"date\": \"2024-01-01\",\n    \"images\": []\n  }\n]"
	if string(got) != want {
		t.Errorf("EncodeImages() =\n%s\nwant\n%s", got, want)
	}
}

func TestPaths(t *testing.T) {
	tests := []struct {
		in, repo, public string
	}{
		{in: "/content/images/A/1.jpg", repo: "public/content/images/A/1.jpg", public: "/content/images/A/1.jpg"},
		{in: "public/content/files/a.pdf", repo: "public/content/files/a.pdf", public: "/content/files/a.pdf"},
		{in: "content/images/My Camp/x.png", repo: "public/content/images/My-Camp/x.png", public: "/content/images/My-Camp/x.png"},
	}
	for _, tt := range tests {
		if got := RepoPath(tt.in); got != tt.repo {
			t.Errorf("RepoPath(%q) = %q, want %q", tt.in, got, tt.repo)
		}
		if got := PublicPath(tt.in); got != tt.public {
			t.Errorf("PublicPath(%q) = %q, want %q", tt.in, got, tt.public)
		}
	}
}

func TestLoader(t *testing.T) {
	ctx := context.Background()

	t.Run("missing indices are empty", func(t *testing.T) {
		l := NewLoader(&mapReader{files: map[string]string{}})
		files, err := l.LoadFiles(ctx)
		if err != nil || files == nil || len(files) != 0 {
			t.Fatalf("LoadFiles() = %v, %v", files, err)
		}
		images, err := l.LoadImages(ctx)
		if err != nil || images == nil || len(images) != 0 {
			t.Fatalf("LoadImages() = %v, %v", images, err)
		}
	})

	t.Run("parses existing index", func(t *testing.T) {
		l := NewLoader(&mapReader{files: map[string]string{
			ImagesIndexPath: `[{"name":"A","date":"2024-01-01"}]`,
		}})
		images, err := l.LoadImages(ctx)
		if err != nil {
			t.Fatalf("LoadImages() error = %v", err)
		}
		if len(images) != 1 || images[0].Images == nil {
			t.Fatalf("images = %+v", images)
		}
	})

	t.Run("malformed index", func(t *testing.T) {
		l := NewLoader(&mapReader{files: map[string]string{FilesIndexPath: `{"not":"an array"}`}})
		if _, err := l.LoadFiles(ctx); !errors.Is(err, ErrMalformedIndex) {
			t.Fatalf("LoadFiles() error = %v, want ErrMalformedIndex", err)
		}
	})

	t.Run("remote failure propagates", func(t *testing.T) {
		l := NewLoader(&mapReader{err: errors.New("boom")})
		if _, err := l.LoadFiles(ctx); err == nil {
			t.Fatal("expected error")
		}
	})
}
