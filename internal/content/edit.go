package content

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"

	"scoutsite-backend/internal/domain"
	"scoutsite-backend/internal/github"
	"scoutsite-backend/internal/metadata"
)

// Remove deletes paths in one commit. Paths missing from the branch are
// skipped and reported; when all are missing nothing is committed.
func (s *Service) Remove(ctx context.Context, paths []string, message string) (*domain.ChangeResult, error) {
	op := &operation{kind: domain.OpRemove, message: message}
	op.validate = func() error {
		paths = lo.Compact(lo.Map(paths, func(p string, _ int) string { return github.SanitizePath(p) }))
		if len(paths) == 0 {
			return invalidf("no paths provided")
		}
		if strings.TrimSpace(op.message) == "" {
			op.message = fmt.Sprintf("Removed %d file(s)", len(paths))
		}
		op.paths = paths
		return nil
	}
	op.build = func(context.Context) (*changeSet, error) {
		return &changeSet{message: op.message, changes: deleteChanges(paths)}, nil
	}

	res, err := s.run(ctx, op)
	if err != nil {
		return nil, err
	}
	return changeResult(res), nil
}

// DeletePost removes the markdown file of the post titled title.
func (s *Service) DeletePost(ctx context.Context, title string) (*domain.ChangeResult, error) {
	var path string
	op := &operation{kind: domain.OpDeletePost}
	op.validate = func() error {
		if strings.TrimSpace(title) == "" {
			return invalidf("title is required")
		}
		slug := Slugify(title)
		if slug == "" {
			return invalidf("cannot generate slug from title %q", title)
		}
		path = metadata.BlogRepoPath(slug)
		op.message = fmt.Sprintf("Removed blog post: %s", title)
		op.paths = []string{path}
		return nil
	}
	op.build = func(ctx context.Context) (*changeSet, error) {
		if _, err := s.repo.GetFile(ctx, path); err != nil {
			return nil, fmt.Errorf("post %q: %w", title, err)
		}
		return &changeSet{message: op.message, changes: deleteChanges([]string{path})}, nil
	}

	res, err := s.run(ctx, op)
	if err != nil {
		return nil, err
	}
	return changeResult(res), nil
}

// EditImages applies the image manager's deletions and rewrites the images
// index from its flat list, both in one commit.
func (s *Service) EditImages(ctx context.Context, req domain.EditImagesRequest) (*domain.ChangeResult, error) {
	var deleted []string
	op := &operation{kind: domain.OpEditImages}
	op.validate = func() error {
		var err error
		if deleted, err = deletePaths(req.Actions, metadata.ImagesDir); err != nil {
			return err
		}
		for i, u := range req.NewMetadata {
			if strings.TrimSpace(u.Path) == "" || strings.TrimSpace(u.Collection) == "" {
				return invalidf("newMetadata[%d]: path and collection are required", i)
			}
		}
		op.message = managerMessage("Image Manager", "image file(s)", len(deleted))
		op.paths = append(append([]string{}, deleted...), metadata.ImagesIndexPath)
		return nil
	}
	op.build = func(ctx context.Context) (*changeSet, error) {
		existing, err := s.loader.LoadImages(ctx)
		if err != nil {
			return nil, err
		}
		updates, missing, err := s.presentImages(ctx, req.NewMetadata, existing, deleted)
		if err != nil {
			return nil, err
		}
		next := metadata.GroupImages(updates, existing, s.clock.Now())
		next = metadata.ApplyImageDeletions(next, metadata.NewPathSet(deleted...))
		set, err := indexChangeSet(op.message, deleted, metadata.ImagesIndexPath,
			func() ([]byte, error) { return metadata.EncodeImages(existing) },
			func() ([]byte, error) { return metadata.EncodeImages(next) })
		if err != nil {
			return nil, err
		}
		set.skipped = missing
		return set, nil
	}

	res, err := s.run(ctx, op)
	if err != nil {
		return nil, err
	}
	return changeResult(res), nil
}

// presentImages drops updates pointing at images that are neither indexed nor
// stored on the branch, returning the dropped repo paths.
func (s *Service) presentImages(ctx context.Context, updates []metadata.ImageUpdate, existing []metadata.CollectionMetadata, deleted []string) ([]metadata.ImageUpdate, []string, error) {
	known := metadata.NewPathSet(deleted...)
	for _, c := range existing {
		for _, img := range c.Images {
			known[metadata.RepoPath(img.Path)] = struct{}{}
		}
	}
	unknown := lo.Uniq(lo.FilterMap(updates, func(u metadata.ImageUpdate, _ int) (string, bool) {
		return metadata.RepoPath(u.Path), !known.Has(u.Path)
	}))
	if len(unknown) == 0 {
		return updates, nil, nil
	}
	missing, err := s.repo.MissingPaths(ctx, unknown)
	if err != nil {
		return nil, nil, err
	}
	if len(missing) == 0 {
		return updates, nil, nil
	}
	s.logger.Warn("dropping image entries with no stored image", "paths", missing)
	gone := metadata.NewPathSet(missing...)
	return lo.Reject(updates, func(u metadata.ImageUpdate, _ int) bool { return gone.Has(u.Path) }), missing, nil
}

// EditFiles applies the file manager's deletions and rewrites the files
// index from its list, both in one commit.
func (s *Service) EditFiles(ctx context.Context, req domain.EditFilesRequest) (*domain.ChangeResult, error) {
	var deleted []string
	var entries []metadata.FileMetadata
	op := &operation{kind: domain.OpEditFiles}
	op.validate = func() error {
		var err error
		if deleted, err = deletePaths(req.Actions, metadata.FilesDir); err != nil {
			return err
		}
		updates := append([]domain.FileUpdate{}, req.NewMetadata...)
		sort.SliceStable(updates, func(i, j int) bool { return updates[i].Index < updates[j].Index })
		entries = nil
		for i, u := range updates {
			name, err := cleanName(u.Filename)
			if err != nil {
				return fmt.Errorf("newMetadata[%d]: %w", i, err)
			}
			entries = metadata.MergeFileEntry(entries, metadata.FileMetadata{Filename: name, Title: u.Title, Description: u.Description})
		}
		op.message = managerMessage("File Manager", "file(s)", len(deleted))
		op.paths = append(append([]string{}, deleted...), metadata.FilesIndexPath)
		return nil
	}
	op.build = func(ctx context.Context) (*changeSet, error) {
		existing, err := s.loader.LoadFiles(ctx)
		if err != nil {
			return nil, err
		}
		next := metadata.ApplyFileDeletions(entries, metadata.NewPathSet(deleted...))
		return indexChangeSet(op.message, deleted, metadata.FilesIndexPath,
			func() ([]byte, error) { return metadata.EncodeFiles(existing) },
			func() ([]byte, error) { return metadata.EncodeFiles(next) })
	}

	res, err := s.run(ctx, op)
	if err != nil {
		return nil, err
	}
	return changeResult(res), nil
}

// DeleteCollection deletes every image of the named collection and drops it
// from the images index in one commit.
func (s *Service) DeleteCollection(ctx context.Context, name string) (*domain.ChangeResult, error) {
	op := &operation{kind: domain.OpDeleteCollection}
	op.validate = func() error {
		clean, err := cleanName(name)
		if err != nil {
			return fmt.Errorf("collection: %w", err)
		}
		name = clean
		op.message = fmt.Sprintf("Deleted collection '%s'", name)
		op.paths = []string{metadata.ImagesIndexPath}
		return nil
	}
	op.build = func(ctx context.Context) (*changeSet, error) {
		existing, err := s.loader.LoadImages(ctx)
		if err != nil {
			return nil, err
		}
		next, paths, found := metadata.ApplyCollectionDeletion(existing, name)
		if !found {
			return nil, fmt.Errorf("collection %q: %w", name, ErrNotFound)
		}
		encoded, err := metadata.EncodeImages(next)
		if err != nil {
			return nil, err
		}
		changes := deleteChanges(paths)
		changes = append(changes, github.WriteChange(github.RemoteFile{Path: metadata.ImagesIndexPath, Content: encoded, Encoding: github.EncodingUTF8}))
		return &changeSet{message: op.message, changes: changes}, nil
	}

	res, err := s.run(ctx, op)
	if err != nil {
		return nil, err
	}
	return changeResult(res), nil
}

// RenameFile moves a downloadable file by pointing the new path at the
// existing blob, deleting the old path and updating its index entry.
func (s *Service) RenameFile(ctx context.Context, req domain.RenameRequest) (*domain.ChangeResult, error) {
	var from, to string
	op := &operation{kind: domain.OpRenameFile}
	op.validate = func() error {
		var err error
		if from, err = cleanName(req.From); err != nil {
			return fmt.Errorf("from: %w", err)
		}
		if to, err = cleanName(req.To); err != nil {
			return fmt.Errorf("to: %w", err)
		}
		if from == to {
			return invalidf("file is already named %q", to)
		}
		op.message = fmt.Sprintf("Renamed file '%s' to '%s'", from, to)
		op.paths = []string{metadata.FileRepoPath(from), metadata.FileRepoPath(to), metadata.FilesIndexPath}
		return nil
	}
	op.build = func(ctx context.Context) (*changeSet, error) {
		existing, err := s.loader.LoadFiles(ctx)
		if err != nil {
			return nil, err
		}
		next := renameEntry(existing, from, to, strings.TrimSpace(req.Title))
		encoded, err := metadata.EncodeFiles(next)
		if err != nil {
			return nil, err
		}
		return &changeSet{message: op.message, changes: []github.Change{
			github.CopyChange(metadata.FileRepoPath(from), metadata.FileRepoPath(to)),
			github.DeleteChange(metadata.FileRepoPath(from)),
			github.WriteChange(github.RemoteFile{Path: metadata.FilesIndexPath, Content: encoded, Encoding: github.EncodingUTF8}),
		}}, nil
	}

	res, err := s.run(ctx, op)
	if err != nil {
		return nil, err
	}
	return changeResult(res), nil
}

// renameEntry moves the index entry of from to to, keeping its position.
// A title that was only the old filename follows the rename.
func renameEntry(index []metadata.FileMetadata, from, to, title string) []metadata.FileMetadata {
	out := lo.Filter(index, func(f metadata.FileMetadata, _ int) bool { return f.Filename != to })
	entry := metadata.FileMetadata{Filename: to, Title: title}
	old, i, ok := lo.FindIndexOf(out, func(f metadata.FileMetadata) bool { return f.Filename == from })
	if !ok {
		return metadata.MergeFileEntry(out, entry)
	}
	entry.Description = old.Description
	if entry.Title == "" && old.Title != from {
		entry.Title = old.Title
	}
	if entry.Title == "" {
		entry.Title = to
	}
	out[i] = entry
	return out
}

// deletePaths validates delete actions and returns their repo paths.
func deletePaths(actions []domain.PathAction, dir string) ([]string, error) {
	var out []string
	for i, a := range actions {
		if a.Type != domain.ActionDelete {
			return nil, invalidf("actions[%d]: unsupported action %q", i, a.Type)
		}
		p := metadata.RepoPath(a.Path)
		if !strings.HasPrefix(p, dir+"/") {
			return nil, invalidf("actions[%d]: path %q is outside %s", i, a.Path, dir)
		}
		out = append(out, p)
	}
	return lo.Uniq(out), nil
}

// indexChangeSet deletes paths and rewrites indexPath unless the encoded
// index is unchanged.
func indexChangeSet(message string, deleted []string, indexPath string, current, next func() ([]byte, error)) (*changeSet, error) {
	before, err := current()
	if err != nil {
		return nil, err
	}
	after, err := next()
	if err != nil {
		return nil, err
	}
	changes := deleteChanges(deleted)
	if !bytes.Equal(before, after) {
		changes = append(changes, github.WriteChange(github.RemoteFile{Path: indexPath, Content: after, Encoding: github.EncodingUTF8}))
	}
	return &changeSet{message: message, changes: changes}, nil
}

func managerMessage(manager, what string, deleted int) string {
	if deleted == 0 {
		return manager + ": Updated metadata"
	}
	return fmt.Sprintf("%s: Deleted %d %s and updated metadata", manager, deleted, what)
}

func deleteChanges(paths []string) []github.Change {
	return lo.Map(paths, func(p string, _ int) github.Change { return github.DeleteChange(p) })
}

func changeResult(res *github.CommitResult) *domain.ChangeResult {
	out := &domain.ChangeResult{Deleted: res.Deleted, Skipped: res.Skipped, NoOp: res.NoOp}
	if !res.NoOp {
		out.Commit = res.SHA
	}
	return out
}
