package fetch

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMatchingDriverVersion is returned when the manifest has no entry for the
	// browser's major version.
	ErrNoMatchingDriverVersion = errors.New("no matching driver version")
	// ErrDriverNotInArchive is returned when the archive holds no driver executable.
	ErrDriverNotInArchive = errors.New("driver executable not found in archive")
)

// FetchError reports a failed network step or an unreadable payload.
type FetchError struct {
	Op  string // "manifest", "latest_release", "download", "decode", "unzip", "install"
	URL string
	Err error
}

func (e *FetchError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("fetch %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("fetch %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StatusError is wrapped in a FetchError when the server answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %s", e.Status)
}
