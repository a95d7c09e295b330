package github

import (
	"errors"
	"fmt"
	"net/http"

	gogithub "github.com/google/go-github/v60/github"

	"scoutsite-backend/internal/config"
)

var (
	// ErrNotFound indicates the requested path or ref does not exist on the branch.
	ErrNotFound = errors.New("github: not found")

	// ErrConflict indicates the branch moved between reading the base commit and updating the ref.
	ErrConflict = errors.New("github: branch was updated concurrently")

	// ErrAuth indicates the App JWT or installation token exchange was rejected.
	ErrAuth = errors.New("github: authentication failed")

	// ErrConfig indicates missing or unusable App credentials.
	ErrConfig = config.ErrConfig
)

// RemoteError describes a failed REST call and the pipeline step it belonged to.
type RemoteError struct {
	Step   string
	Status int
	Err    error

	kind error
}

func (e *RemoteError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("github %s failed with status %d: %v", e.Step, e.Status, e.Err)
	}
	return fmt.Sprintf("github %s failed: %v", e.Step, e.Err)
}

// Unwrap exposes both the classification sentinel and the underlying error.
func (e *RemoteError) Unwrap() []error {
	if e.kind != nil {
		return []error{e.kind, e.Err}
	}
	return []error{e.Err}
}

func wrapErr(step string, resp *gogithub.Response, err error) error {
	if err == nil {
		return nil
	}
	status := statusOf(resp)
	if status == 0 {
		var ghErr *gogithub.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil {
			status = ghErr.Response.StatusCode
		}
	}

	re := &RemoteError{Step: step, Status: status, Err: err}
	switch {
	case status == http.StatusNotFound:
		re.kind = ErrNotFound
	case status == http.StatusUnauthorized:
		re.kind = ErrAuth
	case step == stepUpdateRef && (status == http.StatusUnprocessableEntity || status == http.StatusConflict):
		re.kind = ErrConflict
	}
	return re
}

func statusOf(resp *gogithub.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}

// StepOf returns the pipeline step of a RemoteError in err's chain, or "".
func StepOf(err error) string {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Step
	}
	return ""
}
