package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"scoutsite-backend/internal/github"
)

// ErrMalformedIndex marks a metadata.json that exists but does not parse.
var ErrMalformedIndex = errors.New("metadata: malformed index")

// FileReader is the read side of the VCS client.
type FileReader interface {
	GetFile(ctx context.Context, path string) (*github.RemoteFile, error)
}

// Loader reads the indices from the branch head.
type Loader struct {
	repo FileReader
}

func NewLoader(repo FileReader) *Loader {
	return &Loader{repo: repo}
}

// LoadFiles returns the files index, or an empty index when none exists yet.
func (l *Loader) LoadFiles(ctx context.Context) ([]FileMetadata, error) {
	index, err := load[FileMetadata](ctx, l.repo, FilesIndexPath)
	if err != nil {
		return nil, err
	}
	return index, nil
}

// LoadImages returns the images index, or an empty index when none exists yet.
func (l *Loader) LoadImages(ctx context.Context) ([]CollectionMetadata, error) {
	index, err := load[CollectionMetadata](ctx, l.repo, ImagesIndexPath)
	if err != nil {
		return nil, err
	}
	for i := range index {
		if index[i].Images == nil {
			index[i].Images = []ImageMetadata{}
		}
	}
	return index, nil
}

func load[T any](ctx context.Context, repo FileReader, path string) ([]T, error) {
	file, err := repo.GetFile(ctx, path)
	if errors.Is(err, github.ErrNotFound) {
		return []T{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	content := bytes.TrimSpace(file.Content)
	if len(content) == 0 {
		return []T{}, nil
	}
	var index []T
	if err := json.Unmarshal(content, &index); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedIndex, path, err)
	}
	if index == nil {
		index = []T{}
	}
	return index, nil
}
