package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quantfleet/fleetd/internal/types"
	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite repository.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db}

	// Run migrations
	if err := repo.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

// Migrate runs database migrations.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS traders (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			symbol TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			trader_id INTEGER NOT NULL,
			kind INTEGER NOT NULL,
			status INTEGER NOT NULL,
			triggered_at DATETIME NOT NULL,
			completed_at DATETIME,
			result TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_trader_kind ON executions(trader_id, kind)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_triggered_at ON executions(triggered_at)`,

		`CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			trader_id INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			side INTEGER NOT NULL,
			contracts INTEGER NOT NULL,
			entry_price TEXT NOT NULL,
			mark_price TEXT NOT NULL DEFAULT '0',
			unrealized_pl TEXT NOT NULL DEFAULT '0',
			is_open INTEGER NOT NULL DEFAULT 1,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_trader ON positions(trader_id)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_is_open ON positions(is_open)`,

		`CREATE TABLE IF NOT EXISTS mark_samples (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trader_id INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			mark_price TEXT NOT NULL,
			recorded_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_mark_samples_trader ON mark_samples(trader_id)`,
	}

	for i, migration := range migrations {
		if _, err := r.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}

	return nil
}

// CreateExecution inserts a new execution record.
func (r *SQLiteRepository) CreateExecution(ctx context.Context, record types.ExecutionRecord) error {
	query := `INSERT INTO executions (id, trader_id, kind, status, triggered_at, completed_at, result)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.TraderID,
		record.Kind,
		record.Status,
		record.TriggeredAt,
		record.CompletedAt,
		record.Result,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}

	return nil
}

// MarkExecutionRunning transitions a pending record to running.
func (r *SQLiteRepository) MarkExecutionRunning(ctx context.Context, id string) error {
	query := `UPDATE executions SET status = ? WHERE id = ? AND status = ?`

	res, err := r.db.ExecContext(ctx, query, types.StatusRunning, id, types.StatusPending)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return r.classifyMissedUpdate(ctx, id)
	}

	return nil
}

// FinalizeExecution transitions a record to a terminal state. The status
// guard in the WHERE clause makes the terminal transition happen at most
// once; a record already finalized is never mutated again.
func (r *SQLiteRepository) FinalizeExecution(ctx context.Context, id string, status types.ExecutionStatus, result string, completedAt time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("finalize with non-terminal status %s", status)
	}

	query := `UPDATE executions SET status = ?, result = ?, completed_at = ?
		WHERE id = ? AND status IN (?, ?)`

	res, err := r.db.ExecContext(ctx, query,
		status, result, completedAt,
		id, types.StatusPending, types.StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("finalize execution: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return r.classifyMissedUpdate(ctx, id)
	}

	return nil
}

// classifyMissedUpdate distinguishes a missing record from one already in
// a terminal state after a guarded update matched no rows.
func (r *SQLiteRepository) classifyMissedUpdate(ctx context.Context, id string) error {
	existing, err := r.GetExecution(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return types.ErrExecutionNotFound
	}
	return types.ErrExecutionFinalized
}

// GetExecution returns an execution record by id.
func (r *SQLiteRepository) GetExecution(ctx context.Context, id string) (*types.ExecutionRecord, error) {
	query := `SELECT id, trader_id, kind, status, triggered_at, completed_at, result
		FROM executions WHERE id = ?`

	var record types.ExecutionRecord
	var completedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&record.ID,
		&record.TraderID,
		&record.Kind,
		&record.Status,
		&record.TriggeredAt,
		&completedAt,
		&record.Result,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}

	if completedAt.Valid {
		record.CompletedAt = &completedAt.Time
	}

	return &record, nil
}

// GetExecutionHistory returns the most recent records for a trader and
// kind, newest first.
func (r *SQLiteRepository) GetExecutionHistory(ctx context.Context, traderID int64, kind types.ExecutionKind, limit int) ([]types.ExecutionRecord, error) {
	if limit <= 0 {
		return nil, types.ErrInvalidLimit
	}

	query := `SELECT id, trader_id, kind, status, triggered_at, completed_at, result
		FROM executions WHERE trader_id = ? AND kind = ?
		ORDER BY triggered_at DESC, rowid DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, traderID, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("query execution history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []types.ExecutionRecord
	for rows.Next() {
		var record types.ExecutionRecord
		var completedAt sql.NullTime

		if err := rows.Scan(
			&record.ID,
			&record.TraderID,
			&record.Kind,
			&record.Status,
			&record.TriggeredAt,
			&completedAt,
			&record.Result,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		if completedAt.Valid {
			record.CompletedAt = &completedAt.Time
		}

		records = append(records, record)
	}

	return records, rows.Err()
}

// GetTrader returns a trader by id.
func (r *SQLiteRepository) GetTrader(ctx context.Context, id int64) (*types.Trader, error) {
	query := `SELECT id, name, symbol, active, created_at FROM traders WHERE id = ?`

	var trader types.Trader
	var active int

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&trader.ID,
		&trader.Name,
		&trader.Symbol,
		&active,
		&trader.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query trader: %w", err)
	}

	trader.Active = active != 0

	return &trader, nil
}

// SaveTrader inserts or replaces a trader.
func (r *SQLiteRepository) SaveTrader(ctx context.Context, trader types.Trader) error {
	query := `INSERT OR REPLACE INTO traders (id, name, symbol, active, created_at)
		VALUES (?, ?, ?, ?, ?)`

	createdAt := trader.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, query,
		trader.ID,
		trader.Name,
		trader.Symbol,
		boolToInt(trader.Active),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert trader: %w", err)
	}

	return nil
}

// SavePosition inserts or replaces a position snapshot.
func (r *SQLiteRepository) SavePosition(ctx context.Context, position types.PositionSnapshot) error {
	query := `INSERT OR REPLACE INTO positions
		(id, trader_id, symbol, side, contracts, entry_price, mark_price, unrealized_pl, is_open, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`

	updatedAt := position.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, query,
		position.ID,
		position.TraderID,
		position.Symbol,
		position.Side,
		position.Contracts,
		position.EntryPrice.String(),
		position.MarkPrice.String(),
		position.UnrealizedPL.String(),
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}

	return nil
}

// GetOpenPositions returns all open position snapshots.
func (r *SQLiteRepository) GetOpenPositions(ctx context.Context) ([]types.PositionSnapshot, error) {
	query := `SELECT id, trader_id, symbol, side, contracts, entry_price, mark_price, unrealized_pl, updated_at
		FROM positions WHERE is_open = 1 ORDER BY trader_id, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var positions []types.PositionSnapshot
	for rows.Next() {
		var p types.PositionSnapshot
		var entry, mark, pl string

		if err := rows.Scan(&p.ID, &p.TraderID, &p.Symbol, &p.Side, &p.Contracts, &entry, &mark, &pl, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		if p.EntryPrice, err = decimal.NewFromString(entry); err != nil {
			return nil, fmt.Errorf("parse entry price for position %s: %w", p.ID, err)
		}
		if p.MarkPrice, err = decimal.NewFromString(mark); err != nil {
			return nil, fmt.Errorf("parse mark price for position %s: %w", p.ID, err)
		}
		if p.UnrealizedPL, err = decimal.NewFromString(pl); err != nil {
			return nil, fmt.Errorf("parse unrealized P/L for position %s: %w", p.ID, err)
		}

		positions = append(positions, p)
	}

	return positions, rows.Err()
}

// SaveMarkSample appends one revaluation sample.
func (r *SQLiteRepository) SaveMarkSample(ctx context.Context, traderID int64, symbol string, mark decimal.Decimal, recordedAt time.Time) error {
	query := `INSERT INTO mark_samples (trader_id, symbol, mark_price, recorded_at) VALUES (?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query, traderID, symbol, mark.String(), recordedAt)
	if err != nil {
		return fmt.Errorf("insert mark sample: %w", err)
	}

	return nil
}

// CountMarkSamples returns the number of samples recorded for a trader.
func (r *SQLiteRepository) CountMarkSamples(ctx context.Context, traderID int64) (int, error) {
	query := `SELECT COUNT(*) FROM mark_samples WHERE trader_id = ?`

	var count int
	if err := r.db.QueryRowContext(ctx, query, traderID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count mark samples: %w", err)
	}

	return count, nil
}

// Ping checks that the store is reachable. Side-effect free.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	return nil
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
