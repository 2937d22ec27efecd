package journal

import (
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Connection settings understood by go-sqlite3. They are applied to every
// pooled connection as it is opened.
var connParams = url.Values{
	"_journal_mode": {"WAL"},
	"_synchronous":  {"NORMAL"},
	"_busy_timeout": {"5000"},
}

// migration upgrades a journal to version.
type migration struct {
	version int
	stmt    string
}

// migrations run in order against journals whose user_version is lower.
// schema.sql already holds their result for new files.
var migrations = []migration{
	{version: 1, stmt: `CREATE INDEX IF NOT EXISTS idx_activities_type ON activities(peer, type)`},
}

// Journal is the SQLite-backed activity journal.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal at path and brings its schema up to
// date.
func Open(path string) (j *Journal, err error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?"+connParams.Encode())
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			db.Close()
		}
	}()

	// One writer at a time.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	if err := migrate(db); err != nil {
		return nil, err
	}
	return &Journal{db: db}, nil
}

// Close releases the database. A zero Journal closes cleanly.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

func migrate(db *sql.DB) error {
	version, err := userVersion(db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migrate journal to v%d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate journal to v%d: %w", m.version, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate journal to v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate journal to v%d: %w", m.version, err)
		}
	}
	return nil
}

func userVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read journal version: %w", err)
	}
	return v, nil
}

// pragma reads the current value of a pragma.
func (j *Journal) pragma(name string) (string, error) {
	var value string
	err := j.db.QueryRow("PRAGMA " + name).Scan(&value)
	return value, err
}
