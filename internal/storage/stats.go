package storage

import "fmt"

// Stats summarizes the storage layer's current size as row counts per
// table. The admin health endpoint reports server.Stats, not this.
type Stats struct {
	DocumentCount   int
	MetadataCount   int
	ChangeCount     int
	SyncStateCount  int
}

// Stats returns row counts across all four tables.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	for table, dest := range map[string]*int{
		"documents":   &st.DocumentCount,
		"metadata":    &st.MetadataCount,
		"changes":     &st.ChangeCount,
		"sync_states": &st.SyncStateCount,
	} {
		if err := s.db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(dest); err != nil {
			return Stats{}, fmt.Errorf("storage: stats %s: %w", table, err)
		}
	}
	return st, nil
}
