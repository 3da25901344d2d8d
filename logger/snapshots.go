package logger

import (
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrSnapshotNotFound is returned when a document has no snapshot with the
// requested version.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// OpenSnapshot returns the content of document at version.
func (log *Logger) OpenSnapshot(document string, version int32) ([]byte, error) {
	var content []byte
	err := log.db.QueryRow(
		"SELECT content FROM snapshots WHERE session_id = ? AND document = ? AND version = ?",
		log.SessionID(),
		document,
		version,
	).Scan(&content)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrSnapshotNotFound, "%s version %d", document, version)
	} else if err != nil {
		return nil, errors.Wrapf(err, "opening snapshot of %s", document)
	}
	return content, nil
}

// LatestSnapshotVersion returns the highest stored version of document, or
// -1 when there is none.
func (log *Logger) LatestSnapshotVersion(document string) (int32, error) {
	var maxVersion sql.NullInt64

	err := log.db.QueryRow(
		"SELECT MAX(version) FROM snapshots WHERE session_id = ? AND document = ?",
		log.SessionID(),
		document,
	).Scan(&maxVersion)
	if err != nil {
		return -1, errors.Wrapf(err, "getting the latest snapshot version of %s", document)
	}

	if !maxVersion.Valid {
		return -1, nil
	}
	return int32(maxVersion.Int64), nil
}

// WriteSnapshot stores content as version of document, replacing a snapshot
// with the same version. A negative version stores it after the latest one.
// The stored version is returned.
func (log *Logger) WriteSnapshot(document string, content []byte, version int32) (int32, error) {
	if version < 0 {
		latest, err := log.LatestSnapshotVersion(document)
		if err != nil {
			return -1, err
		}
		version = latest + 1
	}

	if content == nil {
		content = []byte{}
	}

	_, err := log.db.Exec(
		"INSERT OR REPLACE INTO snapshots (session_id, document, version, content, created_at) VALUES (?, ?, ?, ?, ?)",
		log.SessionID(),
		document,
		version,
		content,
		formatTime(time.Now()),
	)
	if err != nil {
		return -1, errors.Wrapf(err, "writing snapshot of %s", document)
	}
	return version, nil
}

// SnapshotVersions lists the stored versions of document in ascending order.
func (log *Logger) SnapshotVersions(document string) ([]int32, error) {
	var versions []int32
	err := log.db.Select(
		&versions,
		"SELECT version FROM snapshots WHERE session_id = ? AND document = ? ORDER BY version ASC",
		log.SessionID(),
		document,
	)
	return versions, errors.Wrapf(err, "listing snapshots of %s", document)
}

func (log *Logger) RenameDocument(oldDocument, newDocument string) error {
	sessionID := log.SessionID()

	tx, err := log.db.Beginx()
	if err != nil {
		return errors.Wrap(err, "starting rename")
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"UPDATE snapshots SET document = ? WHERE session_id = ? AND document = ?",
		"UPDATE runs SET document = ? WHERE session_id = ? AND document = ?",
	} {
		if _, err := tx.Exec(stmt, newDocument, sessionID, oldDocument); err != nil {
			return errors.Wrapf(err, "renaming %s", oldDocument)
		}
	}

	return errors.Wrapf(tx.Commit(), "renaming %s", oldDocument)
}

func (log *Logger) DeleteSnapshots(document string) error {
	_, err := log.db.Exec(
		"DELETE FROM snapshots WHERE session_id = ? AND document = ?",
		log.SessionID(),
		document,
	)
	return errors.Wrapf(err, "deleting snapshots of %s", document)
}
