package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// ChangeRecord is one incremental change persisted for a project, keyed by a
// strictly increasing per-project sequence number.
type ChangeRecord struct {
	Seq       uint64
	Data      []byte
	Timestamp int64
	ActorID   string
}

// seqKey zero-pads seq to 20 digits so changes sort lexicographically the
// same way they sort numerically — a vestige of the original key-range scan
// idiom, kept here as the on-disk key even though lookups below filter on
// the indexed seq column directly.
func seqKey(seq uint64) string {
	return fmt.Sprintf("%020d", seq)
}

// SaveChange appends one change record to a project's change log.
func (s *Store) SaveChange(projectID string, change ChangeRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO changes (project_id, seq_key, seq, data, timestamp, actor_id) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project_id, seq_key) DO UPDATE SET data = excluded.data, timestamp = excluded.timestamp, actor_id = excluded.actor_id`,
		projectID, seqKey(change.Seq), change.Seq, change.Data, change.Timestamp, nullableString(change.ActorID),
	)
	if err != nil {
		return fmt.Errorf("storage: save change: %w", err)
	}
	return nil
}

// LoadChangesSince returns every change recorded for projectID with a
// sequence number >= sinceSeq, in ascending order.
func (s *Store) LoadChangesSince(projectID string, sinceSeq uint64) ([]ChangeRecord, error) {
	rows, err := s.db.Query(
		`SELECT seq, data, timestamp, actor_id FROM changes
		 WHERE project_id = ? AND seq >= ? ORDER BY seq ASC`,
		projectID, sinceSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: load changes since: %w", err)
	}
	defer rows.Close()

	var out []ChangeRecord
	for rows.Next() {
		var c ChangeRecord
		var actor sql.NullString
		if err := rows.Scan(&c.Seq, &c.Data, &c.Timestamp, &actor); err != nil {
			return nil, fmt.Errorf("storage: scan change: %w", err)
		}
		c.ActorID = actor.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetLatestSeq returns the highest recorded sequence number for projectID,
// or 0 if no changes have been recorded.
func (s *Store) GetLatestSeq(projectID string) (uint64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(seq) FROM changes WHERE project_id = ?`, projectID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("storage: get latest seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

// CompactChanges discards all but the keepRecent most recent changes for
// projectID, returning the number of rows removed, to bound change-log
// growth. The scheduler does not call it.
func (s *Store) CompactChanges(projectID string, keepRecent int) (int, error) {
	res, err := s.db.Exec(
		`DELETE FROM changes WHERE project_id = ? AND seq NOT IN (
			SELECT seq FROM changes WHERE project_id = ? ORDER BY seq DESC LIMIT ?
		)`,
		projectID, projectID, keepRecent,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: compact changes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("storage: compact changes rows affected: %w", err)
	}
	return int(n), nil
}
