// Package archive stores published parameter values in sqlite so a run can be
// inspected after the fact.
package archive

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/virtaccl/virtaccl/sim"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Sample is one archived value.
type Sample struct {
	RunID     string
	Name      string
	Value     sim.Value
	Timestamp time.Time
}

// Run describes one archived simulator run.
type Run struct {
	ID          string
	StartedAt   time.Time
	Description string
}

// Archive is a sqlite-backed store of published values.
type Archive struct {
	db *sql.DB
}

// Open opens (creating if needed) the archive at path and applies pending migrations.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	a := &Archive{db: db}
	if err := a.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(a.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

// migrateUp runs every pending migration. The migrate instance is not closed since
// that would close the shared connection.
func (a *Archive) migrateUp() error {
	m, err := a.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Version returns the applied schema version.
func (a *Archive) Version() (uint, error) {
	m, err := a.newMigrate()
	if err != nil {
		return 0, err
	}
	v, dirty, err := m.Version()
	if err != nil {
		return 0, err
	}
	if dirty {
		return v, fmt.Errorf("schema version %d is dirty", v)
	}
	return v, nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...any) {
	logrus.Debugf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// Close closes the database.
func (a *Archive) Close() error { return a.db.Close() }

// BeginRun registers a new run and returns its id.
func (a *Archive) BeginRun(description string, startedAt time.Time) (string, error) {
	id := uuid.New().String()
	if _, err := a.db.Exec(`INSERT INTO runs (run_id, started_at, description) VALUES (?, ?, ?)`,
		id, startedAt.UnixNano(), description); err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	return id, nil
}

// Runs lists runs, newest first.
func (a *Archive) Runs() ([]Run, error) {
	rows, err := a.db.Query(`SELECT run_id, started_at, description FROM runs ORDER BY started_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		var ns int64
		if err := rows.Scan(&r.ID, &ns, &r.Description); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(0, ns).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Record stores one batch of values stamped with ts in a single transaction.
func (a *Archive) Record(runID string, values map[string]sim.Value, ts time.Time) error {
	if len(values) == 0 {
		return nil
	}
	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("record: %w", err)
	}
	defer tx.Rollback()
	stmt, err := tx.Prepare(`INSERT INTO samples (run_id, name, kind, value, ts) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("record: %w", err)
	}
	defer stmt.Close()
	for name, v := range values {
		kind, text, err := encode(v)
		if err != nil {
			return fmt.Errorf("record %s: %w", name, err)
		}
		if _, err := stmt.Exec(runID, name, kind, text, ts.UnixNano()); err != nil {
			return fmt.Errorf("record %s: %w", name, err)
		}
	}
	return tx.Commit()
}

// History returns up to limit samples of name across runs, newest first. limit <= 0
// returns every sample.
func (a *Archive) History(name string, limit int) ([]Sample, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := a.db.Query(`SELECT run_id, kind, value, ts FROM samples WHERE name = ? ORDER BY ts DESC, rowid DESC LIMIT ?`,
		name, limit)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", name, err)
	}
	defer rows.Close()
	var out []Sample
	for rows.Next() {
		var kind, text string
		var ns int64
		s := Sample{Name: name}
		if err := rows.Scan(&s.RunID, &kind, &text, &ns); err != nil {
			return nil, err
		}
		if s.Value, err = decode(kind, text); err != nil {
			return nil, fmt.Errorf("history %s: %w", name, err)
		}
		s.Timestamp = time.Unix(0, ns).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

const (
	kindFloat  = "float"
	kindInt    = "int"
	kindString = "string"
	kindArray  = "array"
)

func encode(v sim.Value) (string, string, error) {
	var kind string
	switch v.(type) {
	case sim.Float:
		kind = kindFloat
	case sim.Int:
		kind = kindInt
	case sim.String:
		kind = kindString
	case sim.Array:
		kind = kindArray
	default:
		return "", "", fmt.Errorf("unsupported value %T", v)
	}
	b, err := json.Marshal(sim.ToAny(v))
	if err != nil {
		return "", "", err
	}
	return kind, string(b), nil
}

func decode(kind, text string) (sim.Value, error) {
	switch kind {
	case kindFloat:
		var f float64
		if err := json.Unmarshal([]byte(text), &f); err == nil {
			return sim.Float(f), nil
		}
		// non-finite floats are stored as strings
		var s string
		if err := json.Unmarshal([]byte(text), &s); err != nil {
			return nil, err
		}
		f, err := strconv.ParseFloat(s, 64)
		return sim.Float(f), err
	case kindInt:
		var i int64
		err := json.Unmarshal([]byte(text), &i)
		return sim.Int(i), err
	case kindString:
		var s string
		err := json.Unmarshal([]byte(text), &s)
		return sim.String(s), err
	case kindArray:
		var a []float64
		err := json.Unmarshal([]byte(text), &a)
		return sim.Array(a), err
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
}
