package database

import (
	"fmt"
)

// ImportSession inserts s with its id and timestamps unchanged. It reports
// false when a session with the same id already exists.
func (d *Database) ImportSession(s Session) (bool, error) {
	var ended any
	if s.EndedAt != nil {
		ended = s.EndedAt.UTC()
	}

	_, err := d.db.Exec(d.qb.Build(`INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		s.ID, s.Server, s.RemoteAddr, s.StartedAt.UTC(), ended, s.RowsSent, s.EndReason)
	if err == nil {
		return true, nil
	}
	if d.dialect.IsDuplicateKeyError(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to import session %s: %w", s.ID, err)
}

// CopySessions copies every session of src into dst, oldest first. Sessions
// whose id already exists in dst are counted as skipped. With dryRun nothing
// is written and every session counts as copied.
func CopySessions(src, dst *Database, dryRun bool) (copied, skipped int64, err error) {
	rows, err := src.db.Query(`SELECT ` + sessionColumns + ` FROM sessions ORDER BY started_at ASC`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read sessions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return copied, skipped, fmt.Errorf("failed to scan session: %w", err)
		}
		if dryRun {
			copied++
			continue
		}

		ok, err := dst.ImportSession(*s)
		if err != nil {
			return copied, skipped, err
		}
		if ok {
			copied++
		} else {
			skipped++
		}
	}
	return copied, skipped, rows.Err()
}
