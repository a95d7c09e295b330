package github

import (
	"fmt"

	gogithub "github.com/google/go-github/v60/github"
)

// pendingBlob is a write whose blob must be created before the tree.
type pendingBlob struct {
	entry    int
	content  []byte
	encoding Encoding
}

type commitPlan struct {
	entries []*gogithub.TreeEntry
	blobs   []pendingBlob
	written []string
	deleted []string
	skipped []string
}

// normalizeChanges sanitizes paths and collapses repeated paths so the last
// change to a path wins, keeping first-seen order.
func normalizeChanges(changes []Change) []Change {
	out := make([]Change, 0, len(changes))
	seen := make(map[string]int, len(changes))
	for _, ch := range changes {
		ch.Path = SanitizePath(ch.Path)
		if ch.Path == "" {
			continue
		}
		if ch.CopyFrom != "" {
			ch.CopyFrom = SanitizePath(ch.CopyFrom)
		}
		if i, ok := seen[ch.Path]; ok {
			out[i] = ch
			continue
		}
		seen[ch.Path] = len(out)
		out = append(out, ch)
	}
	return out
}

func needsTreeIndex(changes []Change) bool {
	for _, ch := range changes {
		if ch.Delete || ch.CopyFrom != "" {
			return true
		}
	}
	return false
}

// planChanges turns changes into tree entries against the base tree in idx.
// idx may be nil when no change needs it.
func planChanges(changes []Change, idx *treeIndex) (*commitPlan, error) {
	plan := &commitPlan{}
	for _, ch := range changes {
		switch {
		case ch.Delete:
			if idx != nil && !idx.truncated {
				if _, ok := idx.blobs[ch.Path]; !ok {
					plan.skipped = append(plan.skipped, ch.Path)
					continue
				}
			}
			// SHA and Content nil serialize as "sha": null, which removes the path.
			plan.entries = append(plan.entries, &gogithub.TreeEntry{
				Path: gogithub.String(ch.Path),
				Mode: gogithub.String(fileMode),
				Type: gogithub.String(blobType),
			})
			plan.deleted = append(plan.deleted, ch.Path)

		case ch.CopyFrom != "":
			sha, ok := "", false
			if idx != nil {
				sha, ok = idx.blobs[ch.CopyFrom]
			}
			if !ok {
				return nil, &RemoteError{Step: stepGetTree, Err: fmt.Errorf("copy source %s is not on the branch", ch.CopyFrom), kind: ErrNotFound}
			}
			plan.entries = append(plan.entries, &gogithub.TreeEntry{
				Path: gogithub.String(ch.Path),
				Mode: gogithub.String(fileMode),
				Type: gogithub.String(blobType),
				SHA:  gogithub.String(sha),
			})
			plan.written = append(plan.written, ch.Path)

		default:
			enc := ch.Encoding
			if enc == "" {
				enc = EncodingUTF8
			}
			plan.blobs = append(plan.blobs, pendingBlob{entry: len(plan.entries), content: ch.Content, encoding: enc})
			plan.entries = append(plan.entries, &gogithub.TreeEntry{
				Path: gogithub.String(ch.Path),
				Mode: gogithub.String(fileMode),
				Type: gogithub.String(blobType),
			})
			plan.written = append(plan.written, ch.Path)
		}
	}
	return plan, nil
}
