package metadata

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/samber/lo"
)

// MergeFileEntry upserts entry by filename. An empty title defaults to the
// filename. The input slice is not modified.
func MergeFileEntry(index []FileMetadata, entry FileMetadata) []FileMetadata {
	if entry.Title == "" {
		entry.Title = entry.Filename
	}
	out := append([]FileMetadata{}, index...)
	if _, i, ok := lo.FindIndexOf(out, func(f FileMetadata) bool { return f.Filename == entry.Filename }); ok {
		out[i] = entry
		return out
	}
	return append(out, entry)
}

// MergeImageEntry adds publicPath to the named collection, creating the
// collection dated now when it does not exist yet. A path already present in
// the collection is not added twice.
func MergeImageEntry(index []CollectionMetadata, collection, publicPath string, now time.Time) []CollectionMetadata {
	out := cloneCollections(index)
	_, i, ok := lo.FindIndexOf(out, func(c CollectionMetadata) bool { return c.Name == collection })
	if !ok {
		out = append(out, CollectionMetadata{Name: collection, Date: now.Format(dateLayout), Images: []ImageMetadata{}})
		i = len(out) - 1
	}
	if lo.ContainsBy(out[i].Images, func(img ImageMetadata) bool { return img.Path == publicPath }) {
		return out
	}
	out[i].Images = append(out[i].Images, ImageMetadata{Path: publicPath, Index: len(out[i].Images)})
	return out
}

// ApplyFileDeletions drops entries whose blob path is in deleted.
func ApplyFileDeletions(index []FileMetadata, deleted PathSet) []FileMetadata {
	return lo.Filter(index, func(f FileMetadata, _ int) bool {
		return !deleted.Has(FileRepoPath(f.Filename))
	})
}

// ApplyImageDeletions drops deleted images, re-derives indices from array
// position and prunes collections left empty.
func ApplyImageDeletions(index []CollectionMetadata, deleted PathSet) []CollectionMetadata {
	out := make([]CollectionMetadata, 0, len(index))
	for _, c := range index {
		c.Images = lo.Filter(c.Images, func(img ImageMetadata, _ int) bool { return !deleted.Has(img.Path) })
		if len(c.Images) == 0 {
			continue
		}
		out = append(out, c)
	}
	return Reindex(out)
}

// ApplyCollectionDeletion removes the named collection and returns the repo
// paths of its images. found is false when no collection has that name.
func ApplyCollectionDeletion(index []CollectionMetadata, name string) (out []CollectionMetadata, repoPaths []string, found bool) {
	out = make([]CollectionMetadata, 0, len(index))
	for _, c := range index {
		if c.Name != name {
			out = append(out, c)
			continue
		}
		found = true
		for _, img := range c.Images {
			repoPaths = append(repoPaths, RepoPath(img.Path))
		}
	}
	return cloneCollections(out), repoPaths, found
}

// GroupImages rebuilds the images index from the admin's flat list.
// Collections appear in first-seen order, existing collections keep their
// date, and images are stable-sorted by the client index before being
// re-indexed 0..n-1. A path listed twice keeps its first occurrence.
func GroupImages(flat []ImageUpdate, existing []CollectionMetadata, now time.Time) []CollectionMetadata {
	dates := lo.SliceToMap(existing, func(c CollectionMetadata) (string, string) { return c.Name, c.Date })

	type ranked struct {
		path  string
		index int
	}
	var order []string
	groups := map[string][]ranked{}
	seen := map[string]bool{}
	for _, u := range flat {
		if u.Collection == "" || u.Path == "" {
			continue
		}
		path := PublicPath(u.Path)
		if seen[path] {
			continue
		}
		seen[path] = true
		if _, ok := groups[u.Collection]; !ok {
			order = append(order, u.Collection)
		}
		groups[u.Collection] = append(groups[u.Collection], ranked{path: path, index: u.Index})
	}

	out := make([]CollectionMetadata, 0, len(order))
	for _, name := range order {
		images := groups[name]
		sort.SliceStable(images, func(i, j int) bool { return images[i].index < images[j].index })
		date, ok := dates[name]
		if !ok {
			date = now.Format(dateLayout)
		}
		out = append(out, CollectionMetadata{
			Name: name,
			Date: date,
			Images: lo.Map(images, func(r ranked, _ int) ImageMetadata {
				return ImageMetadata{Path: r.path}
			}),
		})
	}
	return Reindex(out)
}

// Reindex sets every image's index to its array position.
func Reindex(index []CollectionMetadata) []CollectionMetadata {
	out := cloneCollections(index)
	for ci := range out {
		for ii := range out[ci].Images {
			out[ci].Images[ii].Index = ii
		}
	}
	return out
}

// CollectionNames lists collection names in index order.
func CollectionNames(index []CollectionMetadata) []string {
	return lo.Map(index, func(c CollectionMetadata, _ int) string { return c.Name })
}

// EncodeFiles serializes the files index as 2-space indented JSON.
func EncodeFiles(index []FileMetadata) ([]byte, error) {
	if index == nil {
		index = []FileMetadata{}
	}
	return encode(index)
}

// EncodeImages serializes the images index as 2-space indented JSON.
func EncodeImages(index []CollectionMetadata) ([]byte, error) {
	out := cloneCollections(index)
	for i := range out {
		if out[i].Images == nil {
			out[i].Images = []ImageMetadata{}
		}
	}
	return encode(out)
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func cloneCollections(index []CollectionMetadata) []CollectionMetadata {
	out := make([]CollectionMetadata, len(index))
	for i, c := range index {
		c.Images = append([]ImageMetadata{}, c.Images...)
		out[i] = c
	}
	return out
}
