// Package service implements the server side of the verifiable file store:
// staged uploads, atomic commits and proof-carrying fetches.
package service

import (
	"crypto/ecdsa"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GMKrieger/client-server-merkle/internal/config"
	"github.com/GMKrieger/client-server-merkle/internal/logging"
	"github.com/GMKrieger/client-server-merkle/pkg/cose"
	"github.com/GMKrieger/client-server-merkle/pkg/database"
	"github.com/GMKrieger/client-server-merkle/pkg/merkle"
	"github.com/GMKrieger/client-server-merkle/pkg/storage"
)

// blobsPrefix holds one directory per upload; the current commit owns exactly one
const blobsPrefix = "blobs"

// Options wires a FileService to its dependencies
type Options struct {
	Storage storage.Storage
	DB      *sql.DB
	Hasher  merkle.Hasher
	Limits  config.LimitsConfig
	Origin  string

	// Signer enables signed receipts; PublicKey is published for verifiers
	Signer    *cose.Signer
	PublicKey *ecdsa.PublicKey

	Logger *slog.Logger
	Now    func() time.Time
}

// FileService owns the committed file set and serves proofs against it.
//
// Readers share mu for the whole of a fetch. A commit builds its tree outside
// the lock and only takes mu exclusively to swap the pointer.
type FileService struct {
	store     storage.Storage
	db        *sql.DB
	ownsDB    bool
	hasher    merkle.Hasher
	limits    config.LimitsConfig
	origin    string
	signer    *cose.Signer
	publicKey *ecdsa.PublicKey
	logger    *slog.Logger
	now       func() time.Time

	commitMu sync.Mutex

	mu      sync.RWMutex
	current *Commit
}

// Commit is one immutable committed set
type Commit struct {
	ID          string
	Manifest    []string
	Sizes       []int64
	Tree        *merkle.Tree
	BlobPrefix  string
	CommittedAt time.Time
	Receipt     []byte

	index map[string]int
}

func newCommit(id, prefix string, names []string, sizes []int64, tree *merkle.Tree, at time.Time, signed []byte) *Commit {
	index := make(map[string]int, len(names))
	for i, name := range names {
		index[name] = i
	}
	return &Commit{
		ID:          id,
		Manifest:    names,
		Sizes:       sizes,
		Tree:        tree,
		BlobPrefix:  prefix,
		CommittedAt: at,
		Receipt:     signed,
		index:       index,
	}
}

func (c *Commit) blobKey(name string) string {
	return storage.Key(c.BlobPrefix, name)
}

// NewFileService creates a service over already opened dependencies
func NewFileService(opts Options) (*FileService, error) {
	if opts.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if opts.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if opts.Hasher == nil {
		opts.Hasher = merkle.SHA256
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Signer != nil && opts.PublicKey == nil {
		return nil, fmt.Errorf("public key is required when signing receipts")
	}

	return &FileService{
		store:     opts.Storage,
		db:        opts.DB,
		hasher:    opts.Hasher,
		limits:    opts.Limits,
		origin:    opts.Origin,
		signer:    opts.Signer,
		publicKey: opts.PublicKey,
		logger:    opts.Logger,
		now:       opts.Now,
	}, nil
}

// New opens storage, database and keys described by cfg.
// Call Load before serving to restore the previous commit.
func New(cfg *config.Config, logger *slog.Logger) (*FileService, error) {
	hasher, err := merkle.HasherByName(cfg.Merkle.HashAlgorithm)
	if err != nil {
		return nil, err
	}

	var store storage.Storage
	switch cfg.Storage.Type {
	case "local":
		store, err = storage.NewLocalStorage(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize local storage: %w", err)
		}
	case "memory":
		store = storage.NewMemoryStorage()
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	opts := Options{
		Storage: store,
		Hasher:  hasher,
		Limits:  cfg.Limits,
		Origin:  cfg.Origin,
		Logger:  logger,
	}

	if cfg.Keys.Private != "" {
		privateKey, err := cose.LoadPrivateKey(cfg.Keys.Private)
		if err != nil {
			return nil, fmt.Errorf("failed to load private key: %w", err)
		}
		publicKey, err := cose.LoadPublicKey(cfg.Keys.Public)
		if err != nil {
			return nil, fmt.Errorf("failed to load public key: %w", err)
		}
		if !privateKey.PublicKey.Equal(publicKey) {
			return nil, fmt.Errorf("public key does not match private key")
		}
		opts.Signer, err = cose.NewSigner(privateKey)
		if err != nil {
			return nil, err
		}
		opts.PublicKey = publicKey
	}

	db, err := database.OpenDatabase(database.DatabaseOptions{
		Path:      cfg.Database.Path,
		EnableWAL: cfg.Database.EnableWAL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	opts.DB = db

	svc, err := NewFileService(opts)
	if err != nil {
		database.CloseDatabase(db)
		return nil, err
	}
	svc.ownsDB = true
	return svc, nil
}

// Close releases the database when the service opened it
func (s *FileService) Close() error {
	if s.ownsDB && s.db != nil {
		return database.CloseDatabase(s.db)
	}
	return nil
}

// HashAlgorithm names the configured digest primitive
func (s *FileService) HashAlgorithm() string {
	return s.hasher.Name()
}

// PublicKey returns the receipt verification key, or nil when receipts are disabled
func (s *FileService) PublicKey() *ecdsa.PublicKey {
	return s.publicKey
}

// snapshot returns the current commit without holding the lock afterwards
func (s *FileService) snapshot() *Commit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}
