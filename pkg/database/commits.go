package database

import (
	"database/sql"
	"fmt"
	"time"
)

// CommitRecord is the metadata of one committed file set
type CommitRecord struct {
	CommitID      string    `json:"commit_id"`
	RootHash      string    `json:"root_hash"`
	FilesCount    int       `json:"files_count"`
	HashAlgorithm string    `json:"hash_algorithm"`
	BlobPrefix    string    `json:"blob_prefix"`
	TotalSize     int64     `json:"total_size"`
	Receipt       []byte    `json:"-"`
	CommittedAt   time.Time `json:"committed_at"`
}

// ManifestEntry is one file of a commit at its leaf position
type ManifestEntry struct {
	LeafIndex int    `json:"leaf_index"`
	FileName  string `json:"name"`
	LeafHash  string `json:"leaf_hash"`
	Size      int64  `json:"size"`
}

// ReplaceCommit stores record and its manifest and makes it current.
// Every earlier commit is removed in the same transaction.
func ReplaceCommit(db *sql.DB, record CommitRecord, entries []ManifestEntry) error {
	if len(entries) != record.FilesCount {
		return fmt.Errorf("manifest has %d entries, commit declares %d", len(entries), record.FilesCount)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO commits (
			commit_id, root_hash, files_count, hash_algorithm,
			blob_prefix, total_size, receipt, committed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.CommitID,
		record.RootHash,
		record.FilesCount,
		record.HashAlgorithm,
		record.BlobPrefix,
		record.TotalSize,
		record.Receipt,
		record.CommittedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("failed to insert commit: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO manifest_entries (commit_id, leaf_index, file_name, leaf_hash, size)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare manifest insert: %w", err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		if _, err := stmt.Exec(record.CommitID, entry.LeafIndex, entry.FileName, entry.LeafHash, entry.Size); err != nil {
			return fmt.Errorf("failed to insert manifest entry %s: %w", entry.FileName, err)
		}
	}

	if _, err := tx.Exec(`
		UPDATE current_commit
		SET commit_id = ?, last_updated = CURRENT_TIMESTAMP
		WHERE id = 1
	`, record.CommitID); err != nil {
		return fmt.Errorf("failed to update current commit: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM manifest_entries WHERE commit_id != ?", record.CommitID); err != nil {
		return fmt.Errorf("failed to delete previous manifest: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM commits WHERE commit_id != ?", record.CommitID); err != nil {
		return fmt.Errorf("failed to delete previous commits: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetCurrentCommit returns the current commit, or nil if nothing was committed yet
func GetCurrentCommit(db *sql.DB) (*CommitRecord, error) {
	var record CommitRecord
	var committedAt string

	err := db.QueryRow(`
		SELECT c.commit_id, c.root_hash, c.files_count, c.hash_algorithm,
		       c.blob_prefix, c.total_size, c.receipt, c.committed_at
		FROM current_commit cur
		JOIN commits c ON c.commit_id = cur.commit_id
		WHERE cur.id = 1
	`).Scan(
		&record.CommitID,
		&record.RootHash,
		&record.FilesCount,
		&record.HashAlgorithm,
		&record.BlobPrefix,
		&record.TotalSize,
		&record.Receipt,
		&committedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get current commit: %w", err)
	}

	record.CommittedAt, err = time.Parse(time.RFC3339Nano, committedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse commit time: %w", err)
	}

	return &record, nil
}

// GetManifestEntries returns the manifest of a commit ordered by leaf index
func GetManifestEntries(db *sql.DB, commitID string) ([]ManifestEntry, error) {
	rows, err := db.Query(`
		SELECT leaf_index, file_name, leaf_hash, size
		FROM manifest_entries WHERE commit_id = ? ORDER BY leaf_index
	`, commitID)
	if err != nil {
		return nil, fmt.Errorf("failed to query manifest entries: %w", err)
	}
	defer rows.Close()

	var entries []ManifestEntry
	for rows.Next() {
		var entry ManifestEntry
		if err := rows.Scan(&entry.LeafIndex, &entry.FileName, &entry.LeafHash, &entry.Size); err != nil {
			return nil, fmt.Errorf("failed to scan manifest entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating manifest rows: %w", err)
	}

	return entries, nil
}
