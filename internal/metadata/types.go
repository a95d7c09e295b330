// Package metadata keeps the files and images metadata.json indices in step
// with the blobs stored under the repository's content directories.
package metadata

import (
	"strings"

	"scoutsite-backend/internal/github"
)

// Repository layout relied on by the public site.
const (
	ContentDir = "public/content"
	BlogDir    = ContentDir + "/blog"
	FilesDir   = ContentDir + "/files"
	ImagesDir  = ContentDir + "/images"

	FilesIndexPath  = FilesDir + "/metadata.json"
	ImagesIndexPath = ImagesDir + "/metadata.json"

	publicRoot   = "public"
	dateLayout   = "2006-01-02"
	imagesPrefix = "/content/images/"
)

// FileMetadata describes one downloadable file.
type FileMetadata struct {
	Filename    string `json:"filename"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// CollectionMetadata is one named image gallery. Date is set when the
// collection is first created and never rewritten afterwards.
type CollectionMetadata struct {
	Name   string          `json:"name"`
	Date   string          `json:"date"`
	Images []ImageMetadata `json:"images"`
}

// ImageMetadata is one image in display order. Path is the public URL path.
type ImageMetadata struct {
	Path  string `json:"path"`
	Index int    `json:"index"`
}

// ImageUpdate is one entry of the admin's flat, reordered image list.
type ImageUpdate struct {
	Path       string `json:"path"`
	Collection string `json:"collection"`
	Index      int    `json:"index"`
}

// ImagePublicPath is the URL path the site serves an image from.
func ImagePublicPath(collection, name string) string {
	return imagesPrefix + collection + "/" + name
}

// ImageRepoPath is the blob path of an image inside the repository.
func ImageRepoPath(collection, name string) string {
	return ImagesDir + "/" + collection + "/" + name
}

// FileRepoPath is the blob path of a downloadable file.
func FileRepoPath(filename string) string {
	return FilesDir + "/" + filename
}

// BlogRepoPath is the markdown path of a post.
func BlogRepoPath(slug string) string {
	return BlogDir + "/" + slug + ".md"
}

// RepoPath converts a public URL path, or an already repo-relative path, to
// the repo path under public/.
func RepoPath(path string) string {
	path = github.SanitizePath(path)
	if path == "" {
		return ""
	}
	if path == publicRoot || strings.HasPrefix(path, publicRoot+"/") {
		return path
	}
	return publicRoot + "/" + path
}

// PublicPath converts a repo path under public/ to its public URL path.
func PublicPath(repoPath string) string {
	return "/" + strings.TrimPrefix(RepoPath(repoPath), publicRoot+"/")
}

// PathSet is a set of repo paths.
type PathSet map[string]struct{}

// NewPathSet normalizes public or repo paths into a set of repo paths.
func NewPathSet(paths ...string) PathSet {
	set := make(PathSet, len(paths))
	for _, p := range paths {
		if p = RepoPath(p); p != "" {
			set[p] = struct{}{}
		}
	}
	return set
}

// Has reports whether path, public or repo form, is in the set.
func (s PathSet) Has(path string) bool {
	_, ok := s[RepoPath(path)]
	return ok
}
