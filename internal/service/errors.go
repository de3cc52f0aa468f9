package service

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCommit is returned by reads before the first successful commit
	ErrNoCommit = errors.New("no root yet")

	// ErrFileNotFound is returned when a name is not part of the current manifest
	ErrFileNotFound = errors.New("file not found")

	// ErrEmptyUpload is returned when an upload is committed with no files
	ErrEmptyUpload = errors.New("upload contains no files")

	// ErrDuplicateFile is returned when an upload names the same file twice
	ErrDuplicateFile = errors.New("duplicate file in upload")

	// ErrTooManyFiles is returned when an upload exceeds the file count ceiling
	ErrTooManyFiles = errors.New("too many files in upload")

	// ErrUploadClosed is returned when a committed or aborted upload is reused
	ErrUploadClosed = errors.New("upload already closed")

	// ErrLimitExceeded matches any *LimitError
	ErrLimitExceeded = errors.New("upload size limit exceeded")

	// ErrNoReceipt is returned when the current commit carries no signed receipt
	ErrNoReceipt = errors.New("no receipt available")

	// ErrCorruptStore is returned when stored blobs no longer match the committed tree
	ErrCorruptStore = errors.New("stored files do not match committed tree")
)

// Limit names reported by LimitError
const (
	LimitFileSize  = "max_file_size"
	LimitTotalSize = "max_total_size"
)

// LimitError reports which size ceiling an upload crossed
type LimitError struct {
	Limit string
	Max   int64
	File  string
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: %s exceeds %s of %d bytes", ErrLimitExceeded, e.File, e.Limit, e.Max)
}

// Is lets errors.Is(err, ErrLimitExceeded) match
func (e *LimitError) Is(target error) bool {
	return target == ErrLimitExceeded
}
