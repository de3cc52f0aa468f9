package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/GMKrieger/client-server-merkle/pkg/filename"
	"github.com/GMKrieger/client-server-merkle/pkg/storage"
)

// Upload stages files under a private prefix until it is committed or aborted.
// Staged files are invisible to fetches.
type Upload struct {
	svc    *FileService
	id     string
	prefix string

	mu     sync.Mutex
	sizes  map[string]int64
	total  int64
	closed bool
}

// NewUpload starts an empty staging area
func (s *FileService) NewUpload() *Upload {
	id := uuid.NewString()
	return &Upload{
		svc:    s,
		id:     id,
		prefix: storage.Key(blobsPrefix, id),
		sizes:  make(map[string]int64),
	}
}

// ID returns the identifier the commit will carry
func (u *Upload) ID() string {
	return u.id
}

// Len returns the number of staged files
func (u *Upload) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.sizes)
}

// AddFile streams r into the staging area as name and returns its size.
// The per-file and aggregate ceilings are enforced while copying; a file that
// crosses one is removed and a *LimitError is returned.
func (u *Upload) AddFile(ctx context.Context, name string, r io.Reader) (int64, error) {
	if err := filename.Validate(name); err != nil {
		return 0, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return 0, ErrUploadClosed
	}
	if _, exists := u.sizes[name]; exists {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateFile, name)
	}
	if limit := u.svc.limits.MaxFiles; limit > 0 && len(u.sizes) >= limit {
		return 0, fmt.Errorf("%w: limit is %d", ErrTooManyFiles, limit)
	}

	w, err := u.svc.store.Create(storage.Key(u.prefix, name))
	if err != nil {
		return 0, fmt.Errorf("failed to stage %s: %w", name, err)
	}

	lw := &limitedWriter{
		dst:       w,
		name:      name,
		fileMax:   u.svc.limits.MaxFileSize,
		totalMax:  u.svc.limits.MaxTotalSize,
		totalUsed: u.total,
	}

	if _, err := io.Copy(lw, &contextReader{ctx: ctx, r: r}); err != nil {
		_ = w.Abort()
		var limitErr *LimitError
		if errors.As(err, &limitErr) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to stage %s: %w", name, err)
	}

	if err := w.Commit(); err != nil {
		return 0, fmt.Errorf("failed to stage %s: %w", name, err)
	}

	u.sizes[name] = lw.written
	u.total += lw.written
	return lw.written, nil
}

// Abort discards every staged file. It is a no-op on a closed upload.
func (u *Upload) Abort() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.closed = true
	u.mu.Unlock()

	return u.discard()
}

func (u *Upload) discard() error {
	if err := u.svc.store.DeletePrefix(u.prefix); err != nil {
		u.svc.logger.Warn("upload_discard_err", "upload", u.id, "err", err)
		return fmt.Errorf("failed to discard upload: %w", err)
	}
	u.svc.logger.Debug("upload_discarded", "upload", u.id)
	return nil
}

// close marks the upload as consumed and returns its staged sizes
func (u *Upload) close() (map[string]int64, int64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return nil, 0, ErrUploadClosed
	}
	u.closed = true
	return u.sizes, u.total, nil
}

// limitedWriter rejects the write that would cross either ceiling
type limitedWriter struct {
	dst       io.Writer
	name      string
	written   int64
	fileMax   int64
	totalMax  int64
	totalUsed int64
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	next := l.written + int64(len(p))
	if l.fileMax > 0 && next > l.fileMax {
		return 0, &LimitError{Limit: LimitFileSize, Max: l.fileMax, File: l.name}
	}
	if l.totalMax > 0 && l.totalUsed+next > l.totalMax {
		return 0, &LimitError{Limit: LimitTotalSize, Max: l.totalMax, File: l.name}
	}

	n, err := l.dst.Write(p)
	l.written += int64(n)
	return n, err
}

// contextReader stops a copy once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
