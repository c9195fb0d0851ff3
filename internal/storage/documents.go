package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// DocumentMetadata is the catalog entry kept alongside a document snapshot:
// enough to list and summarize projects without loading their full content.
type DocumentMetadata struct {
	ProjectID   string
	Name        string
	CreatedAt   int64
	UpdatedAt   int64
	ChangeCount uint64
	SizeBytes   uint64
	OwnerID     string
}

// SaveDocument stores a full document snapshot, compressing it per the
// store's configuration, and refreshes the metadata row's size/updated_at
// if one already exists for the project.
func (s *Store) SaveDocument(projectID string, docBytes []byte) error {
	blob, err := compressBlob(docBytes, s.compress)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("storage: begin SaveDocument: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO documents (project_id, data) VALUES (?, ?)
		 ON CONFLICT(project_id) DO UPDATE SET data = excluded.data`,
		projectID, blob,
	); err != nil {
		return fmt.Errorf("storage: save document: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE metadata SET updated_at = ?, size_bytes = ? WHERE project_id = ?`,
		nowUnix(), uint64(len(docBytes)), projectID,
	); err != nil {
		return fmt.Errorf("storage: refresh metadata: %w", err)
	}

	return tx.Commit()
}

// LoadDocument returns the document snapshot for projectID, or ok=false if
// none has been saved yet.
func (s *Store) LoadDocument(projectID string) (data []byte, ok bool, err error) {
	var blob []byte
	err = s.db.QueryRow(`SELECT data FROM documents WHERE project_id = ?`, projectID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: load document: %w", err)
	}
	raw, err := decompressBlob(blob)
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// DocumentExists reports whether a snapshot has been saved for projectID.
func (s *Store) DocumentExists(projectID string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM documents WHERE project_id = ?`, projectID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("storage: document exists: %w", err)
	}
	return n > 0, nil
}

// DeleteDocument removes a project's snapshot, metadata, change log, and
// sync states entirely.
func (s *Store) DeleteDocument(projectID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("storage: begin DeleteDocument: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"documents", "metadata", "changes", "sync_states"} {
		if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE project_id = ?`, table), projectID); err != nil {
			return fmt.Errorf("storage: delete from %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// SaveMetadata inserts or replaces a project's catalog entry.
func (s *Store) SaveMetadata(meta DocumentMetadata) error {
	_, err := s.db.Exec(
		`INSERT INTO metadata (project_id, name, created_at, updated_at, change_count, size_bytes, owner_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project_id) DO UPDATE SET
		   name = excluded.name,
		   updated_at = excluded.updated_at,
		   change_count = excluded.change_count,
		   size_bytes = excluded.size_bytes,
		   owner_id = excluded.owner_id`,
		meta.ProjectID, meta.Name, meta.CreatedAt, meta.UpdatedAt, meta.ChangeCount, meta.SizeBytes, nullableString(meta.OwnerID),
	)
	if err != nil {
		return fmt.Errorf("storage: save metadata: %w", err)
	}
	return nil
}

// GetMetadata returns the catalog entry for projectID, or ok=false if absent.
func (s *Store) GetMetadata(projectID string) (meta DocumentMetadata, ok bool, err error) {
	var owner sql.NullString
	row := s.db.QueryRow(
		`SELECT project_id, name, created_at, updated_at, change_count, size_bytes, owner_id
		 FROM metadata WHERE project_id = ?`, projectID,
	)
	err = row.Scan(&meta.ProjectID, &meta.Name, &meta.CreatedAt, &meta.UpdatedAt, &meta.ChangeCount, &meta.SizeBytes, &owner)
	if errors.Is(err, sql.ErrNoRows) {
		return DocumentMetadata{}, false, nil
	}
	if err != nil {
		return DocumentMetadata{}, false, fmt.Errorf("storage: get metadata: %w", err)
	}
	meta.OwnerID = owner.String
	return meta, true, nil
}

// ListDocuments returns every project's catalog entry.
func (s *Store) ListDocuments() ([]DocumentMetadata, error) {
	rows, err := s.db.Query(
		`SELECT project_id, name, created_at, updated_at, change_count, size_bytes, owner_id
		 FROM metadata ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list documents: %w", err)
	}
	defer rows.Close()

	var out []DocumentMetadata
	for rows.Next() {
		var meta DocumentMetadata
		var owner sql.NullString
		if err := rows.Scan(&meta.ProjectID, &meta.Name, &meta.CreatedAt, &meta.UpdatedAt, &meta.ChangeCount, &meta.SizeBytes, &owner); err != nil {
			return nil, fmt.Errorf("storage: scan metadata: %w", err)
		}
		meta.OwnerID = owner.String
		out = append(out, meta)
	}
	return out, rows.Err()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
