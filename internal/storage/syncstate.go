package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// SaveSyncState persists a peer's last-acknowledged sync position for a
// project, so a reconnecting peer can resume without re-downloading the
// full document (see Document.GetChangesSince).
func (s *Store) SaveSyncState(projectID, peerID string, state []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO sync_states (project_id, peer_id, state) VALUES (?, ?, ?)
		 ON CONFLICT(project_id, peer_id) DO UPDATE SET state = excluded.state`,
		projectID, peerID, state,
	)
	if err != nil {
		return fmt.Errorf("storage: save sync state: %w", err)
	}
	return nil
}

// LoadSyncState returns a peer's saved sync state, or ok=false if none exists.
func (s *Store) LoadSyncState(projectID, peerID string) (state []byte, ok bool, err error) {
	err = s.db.QueryRow(
		`SELECT state FROM sync_states WHERE project_id = ? AND peer_id = ?`, projectID, peerID,
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: load sync state: %w", err)
	}
	return state, true, nil
}

// RemoveSyncState deletes a peer's sync state, e.g. once it has permanently
// disconnected.
func (s *Store) RemoveSyncState(projectID, peerID string) error {
	_, err := s.db.Exec(`DELETE FROM sync_states WHERE project_id = ? AND peer_id = ?`, projectID, peerID)
	if err != nil {
		return fmt.Errorf("storage: remove sync state: %w", err)
	}
	return nil
}
