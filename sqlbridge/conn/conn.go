// Package conn owns the bridge's single SQLite handle.
//
// A Manager holds zero or one open database. Opening replaces whatever is
// open; closing is idempotent. The handle is a *sqlx.DB capped at one
// physical connection, so every statement runs on the same SQLite handle.
package conn

import (
	"context"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/tomyedwab/sqlbridge/sqlbridge/errs"
)

const (
	driverName = "sqlite3"
	fileScheme = "file://"
)

// Mode selects how a database file is opened.
type Mode int

const (
	ModeOpenExisting Mode = iota // read-write, fail if the file is missing
	ModeCreate                   // read-write, create the file if missing
)

// ModeFromFlag maps the caller's create flag: 0 opens an existing file,
// anything else creates it if absent.
func ModeFromFlag(flag int) Mode {
	if flag == 0 {
		return ModeOpenExisting
	}
	return ModeCreate
}

func (m Mode) String() string {
	if m == ModeCreate {
		return "create"
	}
	return "open_existing"
}

// Manager holds at most one open database. It is not safe for concurrent
// use; the bridge's serve loop is its only user.
type Manager struct {
	db     *sqlx.DB
	path   string
	mode   Mode
	logger zerolog.Logger
}

// NewManager returns a Manager with no open database.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{logger: logger.With().Str("component", "conn").Logger()}
}

// NormalizePath strips one leading "file://". No other URI decoding is done.
func NormalizePath(path string) string {
	return strings.TrimPrefix(path, fileScheme)
}

// Open closes any open database, ignoring errors from that close, and then
// opens path in the given mode. On failure nothing is left open and the
// error carries the engine's message.
func (m *Manager) Open(ctx context.Context, path string, mode Mode) error {
	if m.db != nil {
		if err := m.db.Close(); err != nil {
			m.logger.Warn().Err(err).Str("path", m.path).Msg("Failed to close previous database, ignoring")
		}
		m.db = nil
		m.path = ""
	}

	path = NormalizePath(path)
	m.logger.Debug().Str("path", path).Stringer("mode", mode).Msg("Opening database")

	db, err := sqlx.Open(driverName, dsn(path, mode))
	if err != nil {
		return m.openFailed(path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	// sql.Open is lazy; ping to make SQLite actually open the file.
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return m.openFailed(path, err)
	}

	m.db = db
	m.path = path
	m.mode = mode
	m.logger.Info().Str("path", path).Stringer("mode", mode).Msg("Database opened")
	return nil
}

func (m *Manager) openFailed(path string, err error) error {
	ev := m.logger.Warn().Err(err).Str("path", path)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		ev = ev.Int("code", int(sqliteErr.Code)).Int("extended_code", int(sqliteErr.ExtendedCode))
	}
	ev.Msg("Can't open database")
	return errs.Engine(err)
}

// Close closes the open database, if any. The slot is cleared even when the
// engine reports an error.
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.logger.Info().Str("path", m.path).Msg("Database closed")
	m.db = nil
	m.path = ""
	if err != nil {
		return errs.Engine(err)
	}
	return nil
}

// Teardown is the owner's end-of-life cleanup: it closes any open database
// and only logs failures.
func (m *Manager) Teardown() {
	if err := m.Close(); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to close database during teardown, ignoring")
	}
}

// DB returns the open handle, or an engine failure wrapping
// errs.ErrNoConnection when nothing is open.
func (m *Manager) DB() (*sqlx.DB, error) {
	if m.db == nil {
		return nil, errs.Engine(errs.ErrNoConnection)
	}
	return m.db, nil
}

// IsOpen reports whether a database is open.
func (m *Manager) IsOpen() bool {
	return m.db != nil
}

// Path returns the normalized path of the open database, or "".
func (m *Manager) Path() string {
	return m.path
}

// dsn builds a go-sqlite3 URI filename. SQLite's built-in collations are
// all byte-ordinal, and go-sqlite3 registers no locale-aware ones, so string
// comparison never depends on the device locale.
func dsn(path string, mode Mode) string {
	m := "rw"
	if mode == ModeCreate {
		m = "rwc"
	}
	prefix := "file:"
	if strings.HasPrefix(path, "/") {
		// An empty authority keeps a path like //srv/x.db from being read
		// as a URI host.
		prefix = "file://"
	}
	return prefix + escapeURIPath(path) + "?mode=" + m
}

// escapeURIPath percent-encodes the characters that would otherwise end
// the path part of an SQLite URI filename.
func escapeURIPath(path string) string {
	if !strings.ContainsAny(path, "%?#") {
		return path
	}
	var b strings.Builder
	for i := 0; i < len(path); i++ {
		switch c := path[i]; c {
		case '%':
			b.WriteString("%25")
		case '?':
			b.WriteString("%3f")
		case '#':
			b.WriteString("%23")
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
