package content

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"scoutsite-backend/internal/domain"
	"scoutsite-backend/internal/github"
	"scoutsite-backend/internal/metadata"
)

const batchMessage = "Batch upload"

// preparedItem is a validated upload item ready to become a blob.
type preparedItem struct {
	kind     domain.ItemType
	repoPath string
	content  []byte
	encoding github.Encoding
	message  string
	slug     string

	file       *metadata.FileMetadata
	collection string
	publicPath string
}

// Upload stores a batch of posts, files and images in one commit, updating
// the files and images indices when the batch touches them.
func (s *Service) Upload(ctx context.Context, items []domain.UploadItem) (*domain.UploadResult, error) {
	var prepared []preparedItem
	op := &operation{kind: domain.OpUpload, message: batchMessage}
	op.validate = func() error {
		if len(items) == 0 {
			return invalidf("no items provided")
		}
		now := s.clock.Now()
		for i, item := range items {
			p, err := prepareItem(item, now)
			if err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			prepared = append(prepared, p)
		}
		op.message = uploadMessage(prepared)
		op.paths = lo.Map(prepared, func(p preparedItem, _ int) string { return p.repoPath })
		return nil
	}
	op.build = func(ctx context.Context) (*changeSet, error) {
		return s.buildUpload(ctx, prepared)
	}

	res, err := s.run(ctx, op)
	if err != nil {
		return nil, err
	}

	return &domain.UploadResult{
		Slugs:  lo.Compact(lo.Map(prepared, func(p preparedItem, _ int) string { return p.slug })),
		Paths:  res.Written,
		Commit: res.SHA,
	}, nil
}

func (s *Service) buildUpload(ctx context.Context, items []preparedItem) (*changeSet, error) {
	touchesFiles := lo.ContainsBy(items, func(p preparedItem) bool { return p.file != nil })
	touchesImages := lo.ContainsBy(items, func(p preparedItem) bool { return p.collection != "" })

	var files []metadata.FileMetadata
	var images []metadata.CollectionMetadata
	var err error
	if touchesFiles {
		if files, err = s.loader.LoadFiles(ctx); err != nil {
			return nil, err
		}
	}
	if touchesImages {
		if images, err = s.loader.LoadImages(ctx); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	changes := make([]github.Change, 0, len(items)+2)
	for _, p := range items {
		changes = append(changes, github.WriteChange(github.RemoteFile{Path: p.repoPath, Content: p.content, Encoding: p.encoding}))
		if p.file != nil {
			files = metadata.MergeFileEntry(files, *p.file)
		}
		if p.collection != "" {
			images = metadata.MergeImageEntry(images, p.collection, p.publicPath, now)
		}
	}

	if touchesFiles {
		encoded, err := metadata.EncodeFiles(files)
		if err != nil {
			return nil, err
		}
		changes = append(changes, github.WriteChange(github.RemoteFile{Path: metadata.FilesIndexPath, Content: encoded, Encoding: github.EncodingUTF8}))
	}
	if touchesImages {
		encoded, err := metadata.EncodeImages(images)
		if err != nil {
			return nil, err
		}
		changes = append(changes, github.WriteChange(github.RemoteFile{Path: metadata.ImagesIndexPath, Content: encoded, Encoding: github.EncodingUTF8}))
	}

	message := batchMessage
	if len(changes) <= 2 {
		message = items[len(items)-1].message
	}
	return &changeSet{message: message, changes: changes}, nil
}

// uploadMessage is the journal summary of a batch.
func uploadMessage(items []preparedItem) string {
	if len(items) == 1 {
		return items[0].message
	}
	return fmt.Sprintf("%s of %d items", batchMessage, len(items))
}

func prepareItem(item domain.UploadItem, now time.Time) (preparedItem, error) {
	switch item.Type {
	case domain.ItemBlog:
		return prepareBlog(item, now)
	case domain.ItemFile:
		return prepareFile(item)
	case domain.ItemImage:
		return prepareImage(item)
	default:
		return preparedItem{}, invalidf("unknown item type %q", item.Type)
	}
}

func prepareBlog(item domain.UploadItem, now time.Time) (preparedItem, error) {
	if strings.TrimSpace(item.Title) == "" || strings.TrimSpace(item.Content) == "" {
		return preparedItem{}, invalidf("blog items must have title and content")
	}
	slug := Slugify(item.Title)
	if slug == "" {
		return preparedItem{}, invalidf("cannot generate slug from title %q", item.Title)
	}
	doc, err := renderPost(frontMatter{
		Title:       item.Title,
		Description: item.Description,
		Author:      item.Author,
		Date:        postDate(now),
		Tags:        item.Tags,
		Slug:        slug,
	}, item.Content)
	if err != nil {
		return preparedItem{}, fmt.Errorf("rendering front-matter: %w", err)
	}

	repoPath := metadata.BlogRepoPath(slug)
	if item.Path != "" {
		repoPath = github.SanitizePath(item.Path)
	}
	return preparedItem{
		kind:     domain.ItemBlog,
		repoPath: repoPath,
		content:  doc,
		encoding: github.EncodingUTF8,
		message:  fmt.Sprintf("Posted '%s'", item.Title),
		slug:     slug,
	}, nil
}

func prepareFile(item domain.UploadItem) (preparedItem, error) {
	name, err := cleanName(item.Name)
	if err != nil {
		return preparedItem{}, err
	}
	data, err := cleanBase64(item.Data)
	if err != nil {
		return preparedItem{}, err
	}
	p := preparedItem{
		kind:     domain.ItemFile,
		repoPath: metadata.FileRepoPath(name),
		content:  data,
		encoding: github.EncodingBase64,
		message:  fmt.Sprintf("Uploaded file '%s'", name),
		file:     &metadata.FileMetadata{Filename: name, Title: item.Title, Description: item.Description},
	}

	// an explicit path is written under public/ and only indexed at the default location
	if item.Path != "" {
		p.repoPath = metadata.RepoPath(item.Path)
		if p.repoPath == "" || strings.HasSuffix(p.repoPath, "/") {
			return preparedItem{}, invalidf("file path %q is not a file path", item.Path)
		}
		if p.repoPath != metadata.FileRepoPath(name) {
			p.file = nil
		}
	}
	return p, nil
}

func prepareImage(item domain.UploadItem) (preparedItem, error) {
	name, err := cleanName(item.Name)
	if err != nil {
		return preparedItem{}, err
	}
	data, err := cleanBase64(item.Data)
	if err != nil {
		return preparedItem{}, err
	}
	p := preparedItem{
		kind:     domain.ItemImage,
		content:  data,
		encoding: github.EncodingBase64,
		message:  fmt.Sprintf("Uploaded image '%s'", name),
	}

	// an explicit path is written as-is and stays out of the index
	if item.Path != "" {
		p.repoPath = metadata.RepoPath(item.Path)
		if p.repoPath == "" {
			return preparedItem{}, invalidf("image path %q is empty", item.Path)
		}
		return p, nil
	}

	if strings.TrimSpace(item.Collection) == "" {
		return preparedItem{}, invalidf("image items must have either a collection or a path")
	}
	collection, err := cleanName(item.Collection)
	if err != nil {
		return preparedItem{}, fmt.Errorf("collection: %w", err)
	}
	p.collection = collection
	p.publicPath = metadata.ImagePublicPath(collection, name)
	p.repoPath = metadata.ImageRepoPath(collection, name)
	return p, nil
}

// cleanName sanitizes a single path segment the way blob paths are
// sanitized, so index entries and tree paths agree.
func cleanName(name string) (string, error) {
	clean := github.SanitizePath(name)
	switch {
	case clean == "":
		return "", invalidf("name is required")
	case strings.Contains(clean, "/"), clean == ".", clean == "..":
		return "", invalidf("name %q must not contain path separators", name)
	}
	return clean, nil
}

// cleanBase64 strips an optional data URL prefix and checks the payload decodes.
func cleanBase64(data string) ([]byte, error) {
	data = strings.TrimSpace(data)
	if strings.HasPrefix(data, "data:") {
		if _, payload, ok := strings.Cut(data, ","); ok {
			data = payload
		}
	}
	data = strings.Join(strings.Fields(data), "")
	if data == "" {
		return nil, invalidf("data is required")
	}
	if _, err := base64.StdEncoding.DecodeString(data); err != nil {
		return nil, invalidf("data is not valid base64: %v", err)
	}
	return []byte(data), nil
}
