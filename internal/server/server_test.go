package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/GMKrieger/client-server-merkle/internal/config"
	"github.com/GMKrieger/client-server-merkle/internal/server"
	"github.com/GMKrieger/client-server-merkle/internal/service"
	"github.com/GMKrieger/client-server-merkle/pkg/cose"
	"github.com/GMKrieger/client-server-merkle/pkg/merkle"
	"github.com/GMKrieger/client-server-merkle/pkg/receipt"
	"github.com/GMKrieger/client-server-merkle/pkg/storage"
)

func TestNewServer(t *testing.T) {
	t.Run("creates server with valid config", func(t *testing.T) {
		srv := newTestServer(t, setupTestConfig(t, false))
		if srv == nil {
			t.Fatal("expected non-nil server")
		}
	})

	t.Run("rejects config with missing key files", func(t *testing.T) {
		cfg := setupTestConfig(t, false)
		cfg.Keys.Private = filepath.Join(t.TempDir(), "nonexistent.pem")
		cfg.Keys.Public = filepath.Join(t.TempDir(), "nonexistent.pem")

		if _, err := server.NewServer(context.Background(), cfg, nil); err == nil {
			t.Error("expected error for missing keys")
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, setupTestConfig(t, false))

	w := do(t, srv, http.MethodGet, "/health", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if result["status"] != "healthy" || result["hash_algorithm"] != "sha256" || result["committed"] != false {
		t.Errorf("unexpected health: %v", result)
	}
}

func TestUploadEndpoint(t *testing.T) {
	t.Run("commits files and returns the root", func(t *testing.T) {
		srv := newTestServer(t, setupTestConfig(t, false))

		w := upload(t, srv, map[string]string{"a.txt": "alpha", "b.txt": "bravo", "c.txt": "charlie"})
		if w.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
		}

		var result service.CommitResult
		if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
			t.Fatalf("failed to parse JSON: %v", err)
		}

		tree, _ := merkle.FromData(merkle.SHA256, [][]byte{[]byte("alpha"), []byte("bravo"), []byte("charlie")})
		if result.Root != tree.Root() || result.FilesCount != 3 {
			t.Errorf("expected root %s with 3 files, got %s with %d", tree.RootHex(), result.Root, result.FilesCount)
		}
	})

	t.Run("rejects traversal names before staging", func(t *testing.T) {
		srv := newTestServer(t, setupTestConfig(t, false))

		for _, name := range []string{"../x", "manifest.json", "root.hex", ".."} {
			w := upload(t, srv, map[string]string{name: "data"})
			if w.Code != http.StatusBadRequest {
				t.Errorf("%q: expected status 400, got %d", name, w.Code)
			}
		}

		if w := do(t, srv, http.MethodGet, "/root", nil, ""); w.Code != http.StatusNotFound {
			t.Errorf("expected no commit after rejected uploads, got %d", w.Code)
		}
	})

	t.Run("enforces size ceilings", func(t *testing.T) {
		cfg := setupTestConfig(t, false)
		cfg.Limits.MaxFileSize = 8
		srv := newTestServer(t, cfg)

		w := upload(t, srv, map[string]string{"big": strings.Repeat("x", 9)})
		if w.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("expected status 413, got %d", w.Code)
		}
	})

	t.Run("enforces the file count ceiling", func(t *testing.T) {
		cfg := setupTestConfig(t, false)
		cfg.Limits.MaxFiles = 1
		srv := newTestServer(t, cfg)

		w := upload(t, srv, map[string]string{"a": "1", "b": "2"})
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
	})

	t.Run("rejects empty and non-multipart bodies", func(t *testing.T) {
		srv := newTestServer(t, setupTestConfig(t, false))

		if w := upload(t, srv, map[string]string{}); w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for empty upload, got %d", w.Code)
		}
		if w := do(t, srv, http.MethodPost, "/upload", strings.NewReader("{}"), "application/json"); w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for JSON body, got %d", w.Code)
		}
	})

	t.Run("rejects GET", func(t *testing.T) {
		srv := newTestServer(t, setupTestConfig(t, false))
		if w := do(t, srv, http.MethodGet, "/upload", nil, ""); w.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected status 405, got %d", w.Code)
		}
	})
}

func TestFileEndpoint(t *testing.T) {
	srv := newTestServer(t, setupTestConfig(t, false))

	t.Run("404 before any commit", func(t *testing.T) {
		if w := do(t, srv, http.MethodGet, "/file/a.txt", nil, ""); w.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", w.Code)
		}
	})

	upload(t, srv, map[string]string{"a.txt": "alpha", "b.txt": "bravo", "c.txt": "charlie"})

	t.Run("returns bytes and a verifiable proof", func(t *testing.T) {
		w := do(t, srv, http.MethodGet, "/file/b.txt", nil, "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}

		var result service.FetchResult
		if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
			t.Fatalf("failed to parse JSON: %v", err)
		}

		if string(result.FileBytes) != "bravo" || result.LeafIndex != 1 {
			t.Errorf("unexpected result: %q at %d", result.FileBytes, result.LeafIndex)
		}
		if !merkle.VerifyProof(merkle.SHA256, merkle.SHA256.Sum(result.FileBytes), result.Proof, result.Root) {
			t.Error("expected proof to verify")
		}
		if !strings.Contains(w.Body.String(), `"is_left":true`) {
			t.Errorf("expected is_left in wire format: %s", w.Body.String())
		}
	})

	t.Run("unknown and invalid names", func(t *testing.T) {
		if w := do(t, srv, http.MethodGet, "/file/missing.txt", nil, ""); w.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", w.Code)
		}
		if w := do(t, srv, http.MethodGet, "/file/root.hex", nil, ""); w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", w.Code)
		}
		if w := do(t, srv, http.MethodGet, "/file/", nil, ""); w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for empty name, got %d", w.Code)
		}
	})
}

func TestStrayBlobIsNotServed(t *testing.T) {
	cfg := setupTestConfig(t, false)
	cfg.Storage.Type = "local"
	cfg.Storage.Path = filepath.Join(t.TempDir(), "storage")
	srv := newTestServer(t, cfg)

	w := upload(t, srv, map[string]string{"a.txt": "alpha", "b.txt": "bravo"})
	if w.Code != http.StatusCreated {
		t.Fatalf("upload failed: %d %s", w.Code, w.Body.String())
	}
	var result service.CommitResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	store, err := storage.NewLocalStorage(cfg.Storage.Path)
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	if err := store.Put(storage.Key("blobs", result.CommitID, "stray.txt"), []byte("not committed")); err != nil {
		t.Fatalf("failed to put stray blob: %v", err)
	}

	if w := do(t, srv, http.MethodGet, "/file/stray.txt", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
	if w := do(t, srv, http.MethodGet, "/file/a.txt", nil, ""); w.Code != http.StatusOK {
		t.Errorf("expected committed file to be served, got %d", w.Code)
	}
}

func TestRootAndManifestEndpoints(t *testing.T) {
	srv := newTestServer(t, setupTestConfig(t, false))

	w := do(t, srv, http.MethodGet, "/root", nil, "")
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "no root yet") {
		t.Errorf("expected 404 no root yet, got %d %q", w.Code, w.Body.String())
	}

	upload(t, srv, map[string]string{"a": "1", "b": "2"})
	tree, _ := merkle.FromData(merkle.SHA256, [][]byte{[]byte("1"), []byte("2")})

	w = do(t, srv, http.MethodGet, "/root", nil, "")
	if w.Code != http.StatusOK || w.Body.String() != tree.RootHex() {
		t.Errorf("expected root %s, got %d %q", tree.RootHex(), w.Code, w.Body.String())
	}

	w = do(t, srv, http.MethodGet, "/manifest", nil, "")
	var manifest service.ManifestView
	if err := json.Unmarshal(w.Body.Bytes(), &manifest); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	if manifest.FilesCount != 2 || manifest.Files[0].Name != "a" || manifest.Files[1].Size != 1 {
		t.Errorf("unexpected manifest: %+v", manifest)
	}
}

func TestReceiptEndpoints(t *testing.T) {
	t.Run("signed receipts", func(t *testing.T) {
		cfg := setupTestConfig(t, true)
		srv := newTestServer(t, cfg)

		if w := do(t, srv, http.MethodGet, "/receipt", nil, ""); w.Code != http.StatusNotFound {
			t.Errorf("expected 404 before commit, got %d", w.Code)
		}

		upload(t, srv, map[string]string{"a": "1"})

		keys := do(t, srv, http.MethodGet, "/.well-known/merkle-keys", nil, "")
		if keys.Code != http.StatusOK || keys.Header().Get("Content-Type") != "application/cbor" {
			t.Fatalf("expected CBOR key, got %d", keys.Code)
		}
		publicKey, err := cose.ImportPublicKeyFromCOSECBOR(keys.Body.Bytes())
		if err != nil {
			t.Fatalf("failed to import key: %v", err)
		}

		w := do(t, srv, http.MethodGet, "/receipt", nil, "")
		if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "application/cose" {
			t.Fatalf("expected COSE receipt, got %d", w.Code)
		}

		decoded, err := receipt.Verify(w.Body.Bytes(), publicKey)
		if err != nil {
			t.Fatalf("failed to verify receipt: %v", err)
		}
		if decoded.Origin != cfg.Origin || decoded.FilesCount != 1 {
			t.Errorf("unexpected receipt: %+v", decoded)
		}
	})

	t.Run("receipts disabled", func(t *testing.T) {
		srv := newTestServer(t, setupTestConfig(t, false))
		upload(t, srv, map[string]string{"a": "1"})

		if w := do(t, srv, http.MethodGet, "/receipt", nil, ""); w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
		if w := do(t, srv, http.MethodGet, "/.well-known/merkle-keys", nil, ""); w.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", w.Code)
		}
	})
}

func TestDocumentation(t *testing.T) {
	srv := newTestServer(t, setupTestConfig(t, false))

	w := do(t, srv, http.MethodGet, "/openapi.json", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var spec map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &spec); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}
	paths, _ := spec["paths"].(map[string]interface{})
	if _, ok := paths["/file/{name}"]; !ok {
		t.Error("expected /file/{name} to be documented")
	}

	if w := do(t, srv, http.MethodGet, "/", nil, ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "swagger-ui") {
		t.Errorf("expected Swagger UI, got %d", w.Code)
	}
	if w := do(t, srv, http.MethodGet, "/nope", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, setupTestConfig(t, false))

	w := do(t, srv, http.MethodOptions, "/upload", nil, "")
	if w.Code != http.StatusNoContent {
		t.Errorf("expected status 204 for preflight, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected wildcard CORS origin")
	}
}

func TestRestoreOnRestart(t *testing.T) {
	cfg := setupTestConfig(t, false)
	cfg.Storage.Type = "local"
	cfg.Storage.Path = filepath.Join(t.TempDir(), "storage")

	first, err := server.NewServer(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	upload(t, first, map[string]string{"a": "1", "b": "2", "c": "3"})
	root := do(t, first, http.MethodGet, "/root", nil, "").Body.String()
	first.Close()

	second := newTestServer(t, cfg)
	if got := do(t, second, http.MethodGet, "/root", nil, "").Body.String(); got != root {
		t.Errorf("expected restored root %s, got %s", root, got)
	}
	if w := do(t, second, http.MethodGet, "/file/c", nil, ""); w.Code != http.StatusOK {
		t.Errorf("expected fetch after restart, got %d", w.Code)
	}
}

func setupTestConfig(t *testing.T, withKeys bool) *config.Config {
	t.Helper()

	tmpDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Origin = "https://test.example.com"
	cfg.Database.Path = filepath.Join(tmpDir, "test.db")
	cfg.Storage.Type = "memory"
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0

	if withKeys {
		cfg.Keys.Private = filepath.Join(tmpDir, "private.pem")
		cfg.Keys.Public = filepath.Join(tmpDir, "public.pem")

		keyPair, err := cose.GenerateES256KeyPair()
		if err != nil {
			t.Fatalf("failed to generate key pair: %v", err)
		}
		if err := cose.SaveKeyPair(keyPair, cfg.Keys.Private, cfg.Keys.Public); err != nil {
			t.Fatalf("failed to save key pair: %v", err)
		}
	}

	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *server.Server {
	t.Helper()

	srv, err := server.NewServer(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv
}

func do(t *testing.T, srv *server.Server, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func upload(t *testing.T, srv *server.Server, files map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, content := range files {
		part, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("failed to create part: %v", err)
		}
		part.Write([]byte(content))
	}
	mw.Close()

	return do(t, srv, http.MethodPost, "/upload", &body, mw.FormDataContentType())
}
