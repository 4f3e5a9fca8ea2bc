package apperr

import (
	"errors"
	"fmt"
)

// Process exit codes for each error kind.
const (
	ExitOK              = 0
	ExitFailure         = 1
	ExitNotFound        = 2
	ExitRemoteFetch     = 3
	ExitEmbedding       = 4
	ExitMalformedRecord = 5
)

// NotFoundError reports an owner that was never cached or a repository
// reference that could not be resolved.
type NotFoundError struct {
	Kind string // "owner" or "repo"
	Key  string
	Hint string
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("%s %q not found", e.Kind, e.Key)
	if e.Hint != "" {
		msg += ": " + e.Hint
	}
	return msg
}

// RemoteFetchError reports a non-success HTTP status or a network failure
// while fetching starred repositories.
type RemoteFetchError struct {
	Owner      string
	Page       int
	StatusCode int
	Err        error
}

func (e *RemoteFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetching stars for %s (page %d): HTTP %d: %v", e.Owner, e.Page, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetching stars for %s (page %d): %v", e.Owner, e.Page, e.Err)
}

func (e *RemoteFetchError) Unwrap() error { return e.Err }

// EmbeddingError reports that embedding generation failed. Index is the
// position of the first record that could not be embedded, or -1 when the
// failing text was a search query.
type EmbeddingError struct {
	Index int
	Err   error
}

func (e *EmbeddingError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("embedding query: %v", e.Err)
	}
	return fmt.Sprintf("embedding record %d: %v", e.Index, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// MalformedRecordError reports a fetched payload that failed to decode.
type MalformedRecordError struct {
	Page  int
	Index int
	Err   error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("decoding record %d on page %d: %v", e.Index, e.Page, e.Err)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

// IsNotFound reports whether err wraps a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var (
		nf  *NotFoundError
		rf  *RemoteFetchError
		emb *EmbeddingError
		mal *MalformedRecordError
	)
	switch {
	case errors.As(err, &nf):
		return ExitNotFound
	case errors.As(err, &rf):
		return ExitRemoteFetch
	case errors.As(err, &emb):
		return ExitEmbedding
	case errors.As(err, &mal):
		return ExitMalformedRecord
	default:
		return ExitFailure
	}
}
