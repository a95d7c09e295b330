package github

import (
	"strings"
	"time"
)

// Encoding describes how RemoteFile.Content is represented.
type Encoding string

const (
	EncodingUTF8   Encoding = "utf-8"
	EncodingBase64 Encoding = "base64"
)

// Pipeline step names, reported in RemoteError.Step.
const (
	stepGetRef       = "get-ref"
	stepGetCommit    = "get-commit"
	stepGetTree      = "get-tree"
	stepCreateBlob   = "create-blob"
	stepCreateTree   = "create-tree"
	stepCreateCommit = "create-commit"
	stepUpdateRef    = "update-ref"
	stepGetContents  = "get-contents"
	stepGetBlob      = "get-blob"
	stepListCommits  = "list-commits"
	stepAuth         = "authenticate"
)

// RemoteFile is a path-addressed blob on the branch.
// For writes, Content holds raw text (EncodingUTF8) or base64 text (EncodingBase64).
type RemoteFile struct {
	Path     string
	Content  []byte
	Encoding Encoding
	SHA      string
}

// Change is one tree mutation inside a commit. Exactly one of content, Delete or
// CopyFrom applies: CopyFrom reuses the blob currently stored at that path.
type Change struct {
	Path     string
	Content  []byte
	Encoding Encoding
	Delete   bool
	CopyFrom string
}

// WriteChange stores f.Content at f.Path.
func WriteChange(f RemoteFile) Change {
	return Change{Path: f.Path, Content: f.Content, Encoding: f.Encoding}
}

// DeleteChange removes path from the tree.
func DeleteChange(path string) Change {
	return Change{Path: path, Delete: true}
}

// CopyChange points to at the blob currently stored at from.
func CopyChange(from, to string) Change {
	return Change{Path: to, CopyFrom: from}
}

// CommitResult describes the commit a successful Commit produced.
// When NoOp is set nothing was written and SHA is the unchanged head.
type CommitResult struct {
	SHA       string   `json:"sha"`
	ParentSHA string   `json:"parent"`
	TreeSHA   string   `json:"tree"`
	URL       string   `json:"url,omitempty"`
	Written   []string `json:"written,omitempty"`
	Deleted   []string `json:"deleted,omitempty"`
	Skipped   []string `json:"skipped,omitempty"`
	NoOp      bool     `json:"noop,omitempty"`
}

// CommitHistoryItem is one entry of the branch history.
type CommitHistoryItem struct {
	SHA            string    `json:"sha"`
	Message        string    `json:"message"`
	Author         string    `json:"author"`
	AuthorEmail    string    `json:"authorEmail"`
	Date           time.Time `json:"date"`
	Committer      string    `json:"committer"`
	CommitterEmail string    `json:"committerEmail"`
	CommittedAt    time.Time `json:"committedAt"`
	URL            string    `json:"url"`
}

// SanitizePath makes a repo-relative path safe for the tree API: no leading
// slash and no raw spaces.
func SanitizePath(path string) string {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	return strings.ReplaceAll(path, " ", "-")
}
