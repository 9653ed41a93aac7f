package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/fieldsales/backend/internal/storage"
	"github.com/fieldsales/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

// NewClient opens the database file. Connection pragmas go through the DSN so that
// every pooled connection gets them, not only the first.
func NewClient(dbPath string) (*Client, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'marketer',
		email TEXT UNIQUE,
		full_name TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		current_lat REAL,
		current_lng REAL,
		last_location_update INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);

	CREATE TABLE IF NOT EXISTS routes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS route_points (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		route_id INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		point_order INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (route_id) REFERENCES routes(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_points_route ON route_points(route_id, point_order);

	CREATE TABLE IF NOT EXISTS route_assignments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		route_id INTEGER NOT NULL,
		marketer_id INTEGER NOT NULL,
		assigned_at INTEGER NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		completed INTEGER NOT NULL DEFAULT 0,
		completed_at INTEGER,
		FOREIGN KEY (route_id) REFERENCES routes(id) ON DELETE CASCADE,
		FOREIGN KEY (marketer_id) REFERENCES users(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_assignments_marketer ON route_assignments(marketer_id);

	CREATE TABLE IF NOT EXISTS stores (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		lat REAL,
		lng REAL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS evaluation_parameters (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		weight REAL NOT NULL DEFAULT 1.0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS store_evaluations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		store_id INTEGER NOT NULL,
		start_date TEXT,
		end_date TEXT,
		total_score REAL NOT NULL DEFAULT 0,
		category TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		FOREIGN KEY (store_id) REFERENCES stores(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_store_evaluations_store ON store_evaluations(store_id);

	CREATE TABLE IF NOT EXISTS store_evaluation_details (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		evaluation_id INTEGER NOT NULL,
		parameter_id INTEGER,
		parameter_name TEXT NOT NULL,
		weight REAL NOT NULL,
		score REAL NOT NULL DEFAULT 0,
		FOREIGN KEY (evaluation_id) REFERENCES store_evaluations(id) ON DELETE CASCADE,
		FOREIGN KEY (parameter_id) REFERENCES evaluation_parameters(id) ON DELETE SET NULL
	);
	CREATE INDEX IF NOT EXISTS idx_store_details_evaluation ON store_evaluation_details(evaluation_id);

	CREATE TABLE IF NOT EXISTS customers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		number TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		branch_name TEXT NOT NULL DEFAULT '',
		caption TEXT NOT NULL DEFAULT '',
		province TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		latitude REAL,
		longitude REAL,
		grade TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_customers_number ON customers(number);
	CREATE INDEX IF NOT EXISTS idx_customers_province ON customers(province);

	CREATE TABLE IF NOT EXISTS route_reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		route_number TEXT NOT NULL DEFAULT '',
		route_name TEXT NOT NULL DEFAULT '',
		number_of_customers INTEGER,
		employee_intermediary TEXT NOT NULL DEFAULT '',
		sales_center TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS grade_thresholds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		grade_letter TEXT NOT NULL UNIQUE,
		min_score REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS descriptive_criteria (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		parameter_name TEXT NOT NULL,
		criterion TEXT NOT NULL,
		criterion_key TEXT NOT NULL,
		score REAL NOT NULL,
		UNIQUE (parameter_name, criterion_key)
	);

	CREATE TABLE IF NOT EXISTS evaluation_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id INTEGER,
		subject_number TEXT NOT NULL DEFAULT '',
		subject_name TEXT NOT NULL DEFAULT '',
		total_score REAL NOT NULL,
		assigned_grade TEXT NOT NULL,
		evaluation_method TEXT NOT NULL,
		batch_id TEXT NOT NULL DEFAULT '',
		evaluated_at INTEGER NOT NULL,
		FOREIGN KEY (customer_id) REFERENCES customers(id) ON DELETE SET NULL
	);
	CREATE INDEX IF NOT EXISTS idx_records_batch ON evaluation_records(batch_id);
	CREATE INDEX IF NOT EXISTS idx_records_customer ON evaluation_records(customer_id);

	CREATE TABLE IF NOT EXISTS provinces (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		population INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS province_targets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		province_id INTEGER NOT NULL UNIQUE,
		percentage REAL,
		liter_capacity REAL,
		shrink_capacity REAL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (province_id) REFERENCES provinces(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS quota_categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		category TEXT NOT NULL UNIQUE,
		monthly_quota INTEGER NOT NULL DEFAULT 100,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS grade_weights (
		grade_letter TEXT PRIMARY KEY,
		weight REAL NOT NULL
	);
	`

	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// withTx runs fn inside a transaction and commits when fn returns nil.
func (c *Client) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Warn("Rollback failed", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsBusy reports lock contention errors that are worth retrying.
func IsBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// mapError turns driver errors into storage sentinels.
func mapError(err error, action string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return storage.ErrNotFound
	case isUniqueViolation(err):
		return fmt.Errorf("failed to %s: %w", action, storage.ErrConflict)
	default:
		return fmt.Errorf("failed to %s: %w", action, err)
	}
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func unixOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func timeFromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}

func floatFromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func floatOrNil(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
