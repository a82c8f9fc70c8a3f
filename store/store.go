// Package store keeps simulation runs and their round histories in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/n0madic/go-supply-chain-bandits/env"
)

// ErrNotFound is returned for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// Run summarises one simulation.
type Run struct {
	ID           string
	CreatedAt    time.Time
	Horizon      int
	Retailer     string
	TotalProfit  float64
	BestPrice    float64
	BestQuantity float64
	BestProfit   float64
	Regret       float64
}

type runRow struct {
	ID           string  `db:"id"`
	CreatedAt    int64   `db:"created_at"`
	Horizon      int     `db:"horizon"`
	Retailer     string  `db:"retailer"`
	TotalProfit  float64 `db:"total_profit"`
	BestPrice    float64 `db:"best_price"`
	BestQuantity float64 `db:"best_quantity"`
	BestProfit   float64 `db:"best_profit"`
	Regret       float64 `db:"regret"`
}

type roundRow struct {
	RunID string `db:"run_id"`
	T     int    `db:"t"`
	env.Round
}

// DB wraps a SQLite connection for run storage.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		horizon INTEGER NOT NULL,
		retailer TEXT NOT NULL,
		total_profit REAL NOT NULL,
		best_price REAL NOT NULL,
		best_quantity REAL NOT NULL,
		best_profit REAL NOT NULL,
		regret REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rounds (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		t INTEGER NOT NULL,
		wholesale_price REAL NOT NULL,
		retail_price REAL NOT NULL,
		quantity REAL NOT NULL,
		demand REAL NOT NULL,
		PRIMARY KEY (run_id, t)
	);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveRun stores the summary and every round of h in one transaction.
// An empty run ID is replaced by a fresh UUID; the stored ID is returned.
func (db *DB) SaveRun(run Run, h env.History) (string, error) {
	rounds, err := h.Rounds()
	if err != nil {
		return "", err
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExec(`INSERT INTO runs
		(id, created_at, horizon, retailer, total_profit, best_price, best_quantity, best_profit, regret)
		VALUES (:id, :created_at, :horizon, :retailer, :total_profit, :best_price, :best_quantity, :best_profit, :regret)`,
		toRow(run))
	if err != nil {
		return "", fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareNamed(`INSERT INTO rounds
		(run_id, t, wholesale_price, retail_price, quantity, demand)
		VALUES (:run_id, :t, :wholesale_price, :retail_price, :quantity, :demand)`)
	if err != nil {
		return "", fmt.Errorf("prepare rounds: %w", err)
	}
	defer stmt.Close()

	for t, r := range rounds {
		if _, err := stmt.Exec(roundRow{RunID: run.ID, T: t, Round: r}); err != nil {
			return "", fmt.Errorf("insert round %d: %w", t, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return run.ID, nil
}

// GetRun returns the summary of one run.
func (db *DB) GetRun(id string) (Run, error) {
	var row runRow
	err := db.conn.Get(&row, `SELECT * FROM runs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return row.toRun(), nil
}

// ListRuns returns all run summaries, newest first.
func (db *DB) ListRuns() ([]Run, error) {
	var rows []runRow
	if err := db.conn.Select(&rows, `SELECT * FROM runs ORDER BY created_at DESC, id`); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	runs := make([]Run, len(rows))
	for i, r := range rows {
		runs[i] = r.toRun()
	}
	return runs, nil
}

// LoadHistory returns the rounds of a run in play order.
func (db *DB) LoadHistory(id string) (env.History, error) {
	if _, err := db.GetRun(id); err != nil {
		return env.History{}, err
	}

	var rows []roundRow
	err := db.conn.Select(&rows, `SELECT run_id, t, wholesale_price, retail_price, quantity, demand
		FROM rounds WHERE run_id = ? ORDER BY t`, id)
	if err != nil {
		return env.History{}, fmt.Errorf("load rounds %s: %w", id, err)
	}

	h := env.NewHistory(len(rows))
	for _, r := range rows {
		h.Append(r.Round)
	}
	return h, nil
}

// DeleteRun removes a run and its rounds.
func (db *DB) DeleteRun(id string) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM rounds WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("delete rounds %s: %w", id, err)
	}
	res, err := tx.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return tx.Commit()
}

func toRow(r Run) runRow {
	return runRow{
		ID:           r.ID,
		CreatedAt:    r.CreatedAt.UnixNano(),
		Horizon:      r.Horizon,
		Retailer:     r.Retailer,
		TotalProfit:  r.TotalProfit,
		BestPrice:    r.BestPrice,
		BestQuantity: r.BestQuantity,
		BestProfit:   r.BestProfit,
		Regret:       r.Regret,
	}
}

func (r runRow) toRun() Run {
	return Run{
		ID:           r.ID,
		CreatedAt:    time.Unix(0, r.CreatedAt),
		Horizon:      r.Horizon,
		Retailer:     r.Retailer,
		TotalProfit:  r.TotalProfit,
		BestPrice:    r.BestPrice,
		BestQuantity: r.BestQuantity,
		BestProfit:   r.BestProfit,
		Regret:       r.Regret,
	}
}
