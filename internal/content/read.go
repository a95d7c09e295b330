package content

import (
	"context"

	"github.com/samber/lo"

	"scoutsite-backend/internal/domain"
	"scoutsite-backend/internal/github"
	"scoutsite-backend/internal/metadata"
)

const (
	defaultHistoryCount = 10
	filesHrefPrefix     = "/content/files/"
)

// Collections lists image collection names in index order.
func (s *Service) Collections(ctx context.Context) ([]string, error) {
	index, err := s.loader.LoadImages(ctx)
	if err != nil {
		return nil, err
	}
	return metadata.CollectionNames(index), nil
}

// Files lists the downloadable files for the public site.
func (s *Service) Files(ctx context.Context) ([]domain.PublicFile, error) {
	index, err := s.loader.LoadFiles(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Map(index, func(f metadata.FileMetadata, _ int) domain.PublicFile {
		name := f.Title
		if name == "" {
			name = f.Filename
		}
		return domain.PublicFile{Name: name, Description: f.Description, Href: filesHrefPrefix + f.Filename}
	}), nil
}

// History returns recent commits of the branch, optionally only those touching path.
func (s *Service) History(ctx context.Context, path string, count int) ([]github.CommitHistoryItem, error) {
	if count <= 0 {
		count = defaultHistoryCount
	}
	count = min(count, s.cfg.HistoryMaxCount)
	return s.repo.ListCommits(ctx, github.SanitizePath(path), count)
}
