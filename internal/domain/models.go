package domain

import (
	"time"

	"github.com/google/uuid"

	"scoutsite-backend/internal/metadata"
)

// ItemType selects how an upload item is stored.
type ItemType string

const (
	ItemBlog  ItemType = "blog"
	ItemFile  ItemType = "file"
	ItemImage ItemType = "image"
)

// UploadItem is one entry of an upload batch. Which fields are required
// depends on Type.
type UploadItem struct {
	Type        ItemType `json:"type"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Author      string   `json:"author,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Content     string   `json:"content,omitempty"`
	Name        string   `json:"name,omitempty"`
	Data        string   `json:"data,omitempty"` // base64
	Collection  string   `json:"collection,omitempty"`
	Path        string   `json:"path,omitempty"`
}

// UploadRequest is the body of POST /upload.
type UploadRequest struct {
	Items []UploadItem `json:"items"`
}

// UploadResult is returned after an upload batch is committed.
type UploadResult struct {
	Slugs  []string `json:"slugs,omitempty"`
	Paths  []string `json:"paths"`
	Commit string   `json:"commit"`
}

// RemoveRequest is the body of DELETE /remove.
type RemoveRequest struct {
	Paths         []string `json:"paths"`
	CommitMessage string   `json:"commitMessage"`
}

// ActionDelete is the only admin edit action.
const ActionDelete = "delete"

// PathAction is one admin edit action against a repo path.
type PathAction struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// EditImagesRequest is the image manager's save payload: deletions plus the
// full flat list of remaining images in display order.
type EditImagesRequest struct {
	Actions     []PathAction           `json:"actions"`
	NewMetadata []metadata.ImageUpdate `json:"newMetadata"`
}

// FileUpdate is one remaining file in the file manager's save payload.
type FileUpdate struct {
	Filename    string `json:"filename"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Index       int    `json:"index"`
}

// EditFilesRequest is the file manager's save payload.
type EditFilesRequest struct {
	Actions     []PathAction `json:"actions"`
	NewMetadata []FileUpdate `json:"newMetadata"`
}

// RenameRequest moves a downloadable file, optionally retitling it.
type RenameRequest struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Title string `json:"title,omitempty"`
}

// DeletePostRequest is the body of DELETE /posts.
type DeletePostRequest struct {
	Title string `json:"title"`
}

// ChangeResult is returned by every delete, edit and rename operation.
type ChangeResult struct {
	Deleted []string `json:"deleted,omitempty"`
	Skipped []string `json:"skipped,omitempty"`
	Commit  string   `json:"commit,omitempty"`
	NoOp    bool     `json:"noop,omitempty"`
}

// PublicFile is an entry of the public downloads listing.
type PublicFile struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Href        string `json:"href"`
}

// OperationKind names a journaled content operation.
type OperationKind string

const (
	OpUpload           OperationKind = "upload"
	OpRemove           OperationKind = "remove"
	OpDeletePost       OperationKind = "delete-post"
	OpEditImages       OperationKind = "edit-images"
	OpEditFiles        OperationKind = "edit-files"
	OpDeleteCollection OperationKind = "delete-collection"
	OpRenameFile       OperationKind = "rename-file"
)

// OperationStatus captures the lifecycle of a journaled operation.
type OperationStatus string

const (
	StatusPending   OperationStatus = "pending"
	StatusCompleted OperationStatus = "completed"
	StatusFailed    OperationStatus = "failed"
)

// Phase is the step an operation is in, or failed in.
type Phase string

const (
	PhaseValidating     Phase = "validating"
	PhaseAuthenticating Phase = "authenticating"
	PhaseReadingIndex   Phase = "reading-index"
	PhaseBuildingTree   Phase = "building-tree"
	PhaseCommitting     Phase = "committing"
	PhaseUpdatingRef    Phase = "updating-ref"
	PhaseDone           Phase = "done"
	PhaseFailed         Phase = "failed"
)

// Operation is one journal entry.
type Operation struct {
	ID         uuid.UUID       `json:"id"`
	Kind       OperationKind   `json:"kind"`
	Repo       string          `json:"repo"`
	Message    string          `json:"message"`
	Paths      []string        `json:"paths"`
	Status     OperationStatus `json:"status"`
	Phase      Phase           `json:"phase"`
	CommitSHA  string          `json:"commit,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
}
