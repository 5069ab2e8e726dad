package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding persisted research results. It is
// the sole owner of the rows; callers only ever append or read.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used
// by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "briefly.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't
// been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in
// ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Results ---

// SaveResult appends one result row. The caller assigns the ID; CreatedAt
// defaults to now when zero.
func (s *Store) SaveResult(r Result) error {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	paramsJSON := r.ParamsJSON
	if paramsJSON == "" {
		paramsJSON = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO results (id, feature, topic, params_json, request_key, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Feature, r.Topic, paramsJSON, r.RequestKey, r.PayloadJSON,
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// GetResult returns a single result by ID.
func (s *Store) GetResult(id string) (Result, error) {
	var r Result
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, feature, topic, params_json, request_key, payload_json, created_at
		FROM results WHERE id = ?`, id,
	).Scan(&r.ID, &r.Feature, &r.Topic, &r.ParamsJSON, &r.RequestKey, &r.PayloadJSON, &createdAt)
	if err == sql.ErrNoRows {
		return Result{}, ErrNotFound
	}
	if err != nil {
		return Result{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Result{}, fmt.Errorf("parsing created_at: %w", err)
	}
	r.CreatedAt = t
	return r, nil
}

// ListResults returns the limit most recent rows ordered by created_at
// descending. An empty feature lists across all features.
func (s *Store) ListResults(featureName string, limit int) ([]Result, error) {
	query := `
		SELECT id, feature, topic, params_json, request_key, payload_json, created_at
		FROM results`
	args := []any{}
	if featureName != "" {
		query += " WHERE feature = ?"
		args = append(args, featureName)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Feature, &r.Topic, &r.ParamsJSON, &r.RequestKey, &r.PayloadJSON, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		r.CreatedAt = t
		results = append(results, r)
	}
	return results, rows.Err()
}

// SearchResults filters the limit most recent rows by case-insensitive
// substring match on topic. The filter runs in memory over the recent
// window rather than as a SQL predicate, so matches are bounded by limit.
func (s *Store) SearchResults(featureName, substring string, limit int) ([]Result, error) {
	recent, err := s.ListResults(featureName, limit)
	if err != nil {
		return nil, err
	}
	if substring == "" {
		return recent, nil
	}

	needle := strings.ToLower(substring)
	var matched []Result
	for _, r := range recent {
		if strings.Contains(strings.ToLower(r.Topic), needle) {
			matched = append(matched, r)
		}
	}
	return matched, nil
}
