// Package client talks to a file store server and verifies everything it
// returns against a locally saved root.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/GMKrieger/client-server-merkle/pkg/merkle"
)

// ErrNoRoot is returned by Root when the server has not committed anything yet
var ErrNoRoot = errors.New("server has no root yet")

// maxErrorBody bounds how much of an error response is kept
const maxErrorBody = 4096

// HTTPError is returned for any non-2xx response
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// UploadResponse is the server's answer to an upload
type UploadResponse struct {
	Root          merkle.Hash `json:"root"`
	FilesCount    int         `json:"files_count"`
	HashAlgorithm string      `json:"hash_algorithm"`
	CommitID      string      `json:"commit_id"`
	Receipt       []byte      `json:"receipt,omitempty"`
}

// FetchResponse is a file with its claimed inclusion proof. Nothing in it is
// trusted until the proof folds to a locally saved root.
type FetchResponse struct {
	FileName      string             `json:"file_name"`
	FileBytes     []byte             `json:"file_bytes"`
	Proof         []merkle.ProofNode `json:"proof"`
	Root          merkle.Hash        `json:"root"`
	LeafIndex     int                `json:"leaf_index"`
	HashAlgorithm string             `json:"hash_algorithm"`
}

// ManifestResponse lists the server's current commit
type ManifestResponse struct {
	CommitID      string      `json:"commit_id"`
	Root          merkle.Hash `json:"root"`
	HashAlgorithm string      `json:"hash_algorithm"`
	CommittedAt   time.Time   `json:"committed_at"`
	FilesCount    int         `json:"files_count"`
	Files         []struct {
		Name     string      `json:"name"`
		LeafHash merkle.Hash `json:"leaf_hash"`
		Size     int64       `json:"size"`
	} `json:"files"`
}

// UploadFile names a local file to send
type UploadFile struct {
	Name string
	Path string
}

// Options configures a Client
type Options struct {
	ServerURL  string
	Timeout    time.Duration
	Hasher     merkle.Hasher
	HTTPClient *http.Client
}

// Client is an HTTP client for the file store
type Client struct {
	baseURL string
	http    *http.Client
	hasher  merkle.Hasher
}

// New creates a client for opts.ServerURL
func New(opts Options) (*Client, error) {
	base, err := url.Parse(opts.ServerURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", opts.ServerURL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	hasher := opts.Hasher
	if hasher == nil {
		hasher = merkle.SHA256
	}

	return &Client{
		baseURL: strings.TrimRight(opts.ServerURL, "/"),
		http:    httpClient,
		hasher:  hasher,
	}, nil
}

// Hasher returns the digest primitive used for local trees
func (c *Client) Hasher() merkle.Hasher {
	return c.hasher
}

// Upload streams files to POST /upload as one multipart body
func (c *Client) Upload(ctx context.Context, files []UploadFile) (*UploadResponse, error) {
	body, writer := io.Pipe()
	mw := multipart.NewWriter(writer)

	go func() {
		writer.CloseWithError(writeParts(mw, files))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", body)
	if err != nil {
		body.Close()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp UploadResponse
	if err := c.doJSON(req, &resp); err != nil {
		body.CloseWithError(err)
		return nil, err
	}
	return &resp, nil
}

func writeParts(mw *multipart.Writer, files []UploadFile) error {
	for _, f := range files {
		part, err := mw.CreateFormFile("files", f.Name)
		if err != nil {
			return err
		}

		file, err := os.Open(f.Path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", f.Name, err)
		}
		_, err = io.Copy(part, file)
		file.Close()
		if err != nil {
			return fmt.Errorf("failed to send %s: %w", f.Name, err)
		}
	}
	return mw.Close()
}

// Fetch calls GET /file/{name}
func (c *Client) Fetch(ctx context.Context, name string) (*FetchResponse, error) {
	req, err := c.newRequest(ctx, "/file/"+url.PathEscape(name))
	if err != nil {
		return nil, err
	}

	var resp FetchResponse
	if err := c.doJSON(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Root calls GET /root
func (c *Client) Root(ctx context.Context) (merkle.Hash, error) {
	req, err := c.newRequest(ctx, "/root")
	if err != nil {
		return merkle.Hash{}, err
	}

	data, err := c.doRaw(req)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return merkle.Hash{}, ErrNoRoot
		}
		return merkle.Hash{}, err
	}

	return merkle.ParseHash(strings.TrimSpace(string(data)))
}

// Manifest calls GET /manifest
func (c *Client) Manifest(ctx context.Context) (*ManifestResponse, error) {
	req, err := c.newRequest(ctx, "/manifest")
	if err != nil {
		return nil, err
	}

	var resp ManifestResponse
	if err := c.doJSON(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Receipt calls GET /receipt and returns the COSE_Sign1 bytes
func (c *Client) Receipt(ctx context.Context) ([]byte, error) {
	req, err := c.newRequest(ctx, "/receipt")
	if err != nil {
		return nil, err
	}
	return c.doRaw(req)
}

// Keys calls GET /.well-known/merkle-keys and returns the CBOR COSE_Key
func (c *Client) Keys(ctx context.Context) ([]byte, error) {
	req, err := c.newRequest(ctx, "/.well-known/merkle-keys")
	if err != nil {
		return nil, err
	}
	return c.doRaw(req)
}

// Health calls GET /health
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	req, err := c.newRequest(ctx, "/health")
	if err != nil {
		return nil, err
	}

	var resp map[string]interface{}
	if err := c.doJSON(req, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", req.URL.Path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	return resp, nil
}

func (c *Client) doJSON(req *http.Request, v interface{}) error {
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func (c *Client) doRaw(req *http.Request) ([]byte, error) {
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", req.URL.Path, err)
	}
	return data, nil
}

// writeFileAtomic writes data next to path and renames it into place.
// The temporary file is removed on every failure path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}

	tmp, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err = tmp.Chmod(perm); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename into %s: %w", path, err)
	}
	return nil
}
