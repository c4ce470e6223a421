package source

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"go-export-service/internal/model"
)

// recordColumns is the fixed header set of the records dataset, in
// output order.
var recordColumns = []string{"id", "name", "category", "amount", "quantity", "active", "recorded_at", "notes"}

// SQLSource reads export rows from the records table of a SQLite file.
// Filters are whitelisted by key; anything else is rejected during
// validation so no caller input ever shapes the SQL itself.
type SQLSource struct {
	db *sql.DB
}

var _ RowSource = (*SQLSource)(nil)

// NewSQLSource opens the source database at dbPath.
func NewSQLSource(dbPath string) (*SQLSource, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000", dbPath))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open source database: %w", err)
	}
	return &SQLSource{db: db}, nil
}

// EnsureSchema creates the records table when it does not exist yet.
func (s *SQLSource) EnsureSchema() error {
	table := `
	CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		amount REAL NOT NULL,
		quantity INTEGER NOT NULL,
		active BOOLEAN NOT NULL DEFAULT 1,
		recorded_at DATETIME NOT NULL,
		notes TEXT
	);
	`
	_, err := s.db.Exec(table)
	return err
}

// Close releases the database handle.
func (s *SQLSource) Close() error {
	return s.db.Close()
}

// Columns returns the header names of the records dataset.
func (s *SQLSource) Columns() []string {
	return recordColumns
}

// Validate checks every filter key against the whitelist and parses the
// typed values.
func (s *SQLSource) Validate(params map[string]string) error {
	for key, value := range params {
		switch key {
		case "category", "name_like":
			if value == "" {
				return fmt.Errorf("filter %q must not be empty", key)
			}
		case "from", "to":
			if _, err := time.Parse(time.RFC3339, value); err != nil {
				return fmt.Errorf("filter %q must be an RFC 3339 timestamp", key)
			}
		case "active":
			if _, err := strconv.ParseBool(value); err != nil {
				return fmt.Errorf("filter %q must be a boolean", key)
			}
		default:
			return fmt.Errorf("unknown filter key %q", key)
		}
	}

	if fromRaw, ok := params["from"]; ok {
		if toRaw, ok := params["to"]; ok {
			from, _ := time.Parse(time.RFC3339, fromRaw)
			to, _ := time.Parse(time.RFC3339, toRaw)
			if from.After(to) {
				return fmt.Errorf("filter window is empty: %q is after %q", "from", "to")
			}
		}
	}
	return nil
}

// Open starts a filtered read ordered by recorded_at then id, so
// repeated exports of the same window are deterministic.
func (s *SQLSource) Open(ctx context.Context, params map[string]string) (RowIterator, error) {
	if err := s.Validate(params); err != nil {
		return nil, err
	}

	query := `SELECT id, name, category, amount, quantity, active, recorded_at, notes FROM records`
	var clauses []string
	var args []any

	if v, ok := params["category"]; ok {
		clauses = append(clauses, "category = ?")
		args = append(args, v)
	}
	if v, ok := params["name_like"]; ok {
		clauses = append(clauses, "name LIKE ?")
		args = append(args, "%"+v+"%")
	}
	if v, ok := params["from"]; ok {
		ts, _ := time.Parse(time.RFC3339, v)
		clauses = append(clauses, "recorded_at >= ?")
		args = append(args, ts.UTC())
	}
	if v, ok := params["to"]; ok {
		ts, _ := time.Parse(time.RFC3339, v)
		clauses = append(clauses, "recorded_at <= ?")
		args = append(args, ts.UTC())
	}
	if v, ok := params["active"]; ok {
		b, _ := strconv.ParseBool(v)
		clauses = append(clauses, "active = ?")
		args = append(args, b)
	}

	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY recorded_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	return &sqlRowIterator{rows: rows}, nil
}

type sqlRowIterator struct {
	rows *sql.Rows
}

func (it *sqlRowIterator) NextBatch(ctx context.Context, size int) ([]model.Row, error) {
	batch := make([]model.Row, 0, size)
	for len(batch) < size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !it.rows.Next() {
			if err := it.rows.Err(); err != nil {
				return nil, err
			}
			break
		}
		row, err := scanRecord(it.rows)
		if err != nil {
			return nil, err
		}
		batch = append(batch, row)
	}
	return batch, nil
}

func (it *sqlRowIterator) Close() error {
	return it.rows.Close()
}

func scanRecord(rows *sql.Rows) (model.Row, error) {
	var (
		id         int64
		name       string
		category   string
		amount     float64
		quantity   int64
		active     bool
		recordedAt time.Time
		notes      sql.NullString
	)
	if err := rows.Scan(&id, &name, &category, &amount, &quantity, &active, &recordedAt, &notes); err != nil {
		return nil, fmt.Errorf("scan record: %w", err)
	}

	var notesVal any
	if notes.Valid {
		notesVal = notes.String
	}
	return model.Row{id, name, category, amount, quantity, active, recordedAt, notesVal}, nil
}

// SeedDemo fills an empty records table with n sample rows so a fresh
// deployment has something to export. It is a no-op when data exists.
func (s *SQLSource) SeedDemo(n int) error {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	categories := []string{"books", "games", "tools"}
	base := time.Now().UTC().Add(-time.Duration(n) * time.Hour).Truncate(time.Second)
	for i := 0; i < n; i++ {
		var notes any
		if i%3 == 0 {
			notes = fmt.Sprintf("batch %d restock", i/3)
		}
		_, err := s.db.Exec(`INSERT INTO records (name, category, amount, quantity, active, recorded_at, notes)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			fmt.Sprintf("item-%04d", i+1),
			categories[i%len(categories)],
			float64(i%50)+0.5,
			i%7+1,
			i%5 != 0,
			base.Add(time.Duration(i)*time.Hour),
			notes)
		if err != nil {
			return fmt.Errorf("seed records: %w", err)
		}
	}
	return nil
}
