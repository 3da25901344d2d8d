// Package logger keeps the lint history: every recorded analysis run, the
// diagnostics it produced and optional snapshots of the linted document.
package logger

import (
	"database/sql"
	"database/sql/driver"
	"math/rand"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/lucasepe/codename"

	_ "embed"

	"github.com/juan-carlos/juancarlos/helpers"
	_ "modernc.org/sqlite"
)

const (
	DatabaseName = "logs.db"
	MemoryPath   = ":memory:"

	sessionIDKey = "session_id"
	seedKey      = "_seed"
)

// timeLayout has a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type NullTime struct {
	Time  time.Time
	Valid bool // Valid is true if Time is not NULL
}

// Scan implements the Scanner interface.
func (nt *NullTime) Scan(value any) error {
	var raw string
	switch v := value.(type) {
	case nil:
		nt.Time, nt.Valid = time.Time{}, false
		return nil
	case time.Time:
		nt.Time, nt.Valid = v, true
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return errors.Newf("cannot scan %T into NullTime", value)
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return errors.Wrapf(err, "parsing time %q", raw)
	}

	nt.Time = t
	nt.Valid = true
	return nil
}

// Value implements the driver Valuer interface. An invalid time is stored
// as the current time.
func (nt NullTime) Value() (driver.Value, error) {
	if !nt.Valid {
		return formatTime(time.Now()), nil
	}
	return formatTime(nt.Time), nil
}

// MarshalText renders the time as RFC 3339, or nothing when it is NULL.
func (nt NullTime) MarshalText() ([]byte, error) {
	if !nt.Valid {
		return []byte{}, nil
	}
	return []byte(nt.Time.Format(time.RFC3339)), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

//go:embed init.sql
var initScript string

type Logger struct {
	mu        sync.Mutex
	sessionID string
	db        *sqlx.DB
}

func NewMemoryLogger() (*Logger, error) {
	return setupLogger(MemoryPath)
}

// NewLogger opens the history database in the data directory.
func NewLogger() (*Logger, error) {
	dirPath, err := helpers.GetOrInitializeDataDir()
	if err != nil {
		return nil, err
	}

	return NewLoggerFromPath(filepath.Join(dirPath, DatabaseName))
}

func NewLoggerFromPath(path string) (*Logger, error) {
	if path != MemoryPath && !filepath.IsAbs(path) {
		rPath, err := filepath.Abs(path)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving %s", path)
		}

		path = rPath
	}

	return setupLogger(path)
}

// Open opens the database at path, or the default one when path is empty.
func Open(path string) (*Logger, error) {
	if len(path) == 0 {
		return NewLogger()
	}
	return NewLoggerFromPath(path)
}

func setupLogger(path string) (*Logger, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening history database %s", path)
	}

	// every connection to :memory: is a separate database
	if path == MemoryPath {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(initScript); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initializing history database")
	}

	logger := &Logger{db: db}
	if err := logger.Setup(); err != nil {
		db.Close()
		return nil, err
	}
	return logger, nil
}

func (log *Logger) Close() error {
	return log.db.Close()
}

func (log *Logger) GetSetting(key string) (string, error) {
	var val string
	err := log.db.QueryRow("SELECT value FROM settings WHERE name = ?", key).Scan(&val)
	return val, err
}

func (log *Logger) AddSetting(key, value string) error {
	_, err := log.db.Exec("INSERT OR REPLACE INTO settings (name, value) VALUES (?, ?)", key, value)
	return err
}

func (log *Logger) DeleteSetting(key string) error {
	_, err := log.db.Exec("DELETE FROM settings WHERE name = ?", key)
	return err
}

// SessionID names the current history session. Runs and snapshots are
// recorded under it and Reset only clears it.
func (log *Logger) SessionID() string {
	log.mu.Lock()
	defer log.mu.Unlock()

	if len(log.sessionID) == 0 {
		val, _ := log.GetSetting(sessionIDKey)
		log.sessionID = val
	}
	return log.sessionID
}

// GenerateSessionID starts a new session with a fresh codename. Runs of
// older sessions are kept.
func (log *Logger) GenerateSessionID() error {
	seed := int64(0)

	if rawSeed, err := log.GetSetting(seedKey); err == nil {
		parsed, err := strconv.ParseInt(rawSeed, 10, 64)
		if err != nil {
			return errors.Wrap(err, "parsing session seed")
		}
		seed = parsed
	} else if errors.Is(err, sql.ErrNoRows) {
		generated, err := log.GenerateSeed()
		if err != nil {
			return err
		}
		seed = generated
	} else {
		return err
	}

	rng := rand.New(rand.NewSource(seed))
	sessionID := codename.Generate(rng, 4)
	if sessionID == log.SessionID() {
		// the stored seed always yields the current id, so drop it
		if err := log.DeleteSetting(seedKey); err != nil {
			return err
		}
		return log.GenerateSessionID()
	}

	if err := log.AddSetting(sessionIDKey, sessionID); err != nil {
		return err
	}

	log.mu.Lock()
	log.sessionID = ""
	log.mu.Unlock()
	return nil
}

func (log *Logger) Setup() error {
	if len(log.SessionID()) == 0 {
		return log.GenerateSessionID()
	}
	return nil
}

func (log *Logger) GenerateSeed() (int64, error) {
	seed, err := codename.NewCryptoSeed()
	if err != nil {
		return 0, errors.Wrap(err, "generating session seed")
	}

	_ = log.AddSetting(seedKey, strconv.FormatInt(seed, 10))
	return seed, nil
}

// Reset deletes the runs, diagnostics and snapshots of the current session.
func (log *Logger) Reset() error {
	// read before the transaction takes the only :memory: connection
	sessionID := log.SessionID()

	tx, err := log.db.Beginx()
	if err != nil {
		return errors.Wrap(err, "starting reset")
	}
	defer tx.Rollback()

	statements := []string{
		"DELETE FROM diagnostics WHERE run_id IN (SELECT id FROM runs WHERE session_id = ?)",
		"DELETE FROM runs WHERE session_id = ?",
		"DELETE FROM snapshots WHERE session_id = ?",
	}

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt, sessionID); err != nil {
			return errors.Wrap(err, "resetting history")
		}
	}

	return errors.Wrap(tx.Commit(), "resetting history")
}
