package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tracspend/internal/models"

	// Import sqlite driver
	_ "modernc.org/sqlite"
)

// DB is the SQLite-backed Store.
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// NewDB opens a database connection and runs migrations.
func NewDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn, now: time.Now}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS expenses (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			amount REAL NOT NULL,
			tag TEXT NOT NULL,
			date DATETIME NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_expenses_user_date ON expenses (user_id, date DESC)`,
	}

	for _, m := range migrations {
		if _, err := db.conn.Exec(m); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

const expenseColumns = "id, user_id, amount, tag, date, created_at, updated_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanExpense(row scanner) (*models.Expense, error) {
	var e models.Expense
	if err := row.Scan(&e.ID, &e.UserID, &e.Amount, &e.Tag, &e.Date, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Date = e.Date.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}

// CreateExpense inserts a new expense, filling its identifier and timestamps.
func (db *DB) CreateExpense(ctx context.Context, e *models.Expense) error {
	prepareNew(e, db.now)
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO expenses ("+expenseColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		e.ID, e.UserID, e.Amount, e.Tag, e.Date, e.CreatedAt, e.UpdatedAt,
	)
	return err
}

// GetExpense retrieves a single expense owned by userID.
func (db *DB) GetExpense(ctx context.Context, userID, id string) (*models.Expense, error) {
	return getExpense(ctx, db.conn, userID, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getExpense(ctx context.Context, q queryRower, userID, id string) (*models.Expense, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+expenseColumns+" FROM expenses WHERE id = ? AND user_id = ?",
		id, userID,
	)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// UpdateExpense applies patch to the expense with id owned by userID and
// returns the stored result.
func (db *DB) UpdateExpense(ctx context.Context, userID, id string, patch ExpensePatch) (*models.Expense, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	e, err := getExpense(ctx, tx, userID, id)
	if err != nil {
		return nil, err
	}
	patch.apply(e)
	e.UpdatedAt = updateStamp(db.now, e.CreatedAt)

	_, err = tx.ExecContext(ctx,
		"UPDATE expenses SET amount = ?, tag = ?, date = ?, updated_at = ? WHERE id = ? AND user_id = ?",
		e.Amount, e.Tag, e.Date, e.UpdatedAt, e.ID, userID,
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return e, nil
}

// ListExpenses retrieves every expense owned by userID, ordered by date descending.
func (db *DB) ListExpenses(ctx context.Context, userID string) ([]models.Expense, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+expenseColumns+" FROM expenses WHERE user_id = ? ORDER BY date DESC, id DESC",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := []models.Expense{}
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, *e)
	}

	return expenses, rows.Err()
}

// DeleteExpense removes the expense with id if it is owned by userID.
func (db *DB) DeleteExpense(ctx context.Context, userID, id string) error {
	result, err := db.conn.ExecContext(ctx, "DELETE FROM expenses WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAllExpenses removes every expense owned by userID and reports how many
// were deleted.
func (db *DB) DeleteAllExpenses(ctx context.Context, userID string) (int64, error) {
	result, err := db.conn.ExecContext(ctx, "DELETE FROM expenses WHERE user_id = ?", userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// TagTotalsByMonth sums the owner's expenses per tag for a calendar month,
// largest total first.
func (db *DB) TagTotalsByMonth(ctx context.Context, userID string, year, month int) ([]TagTotal, error) {
	start, end := monthBounds(year, month)
	rows, err := db.conn.QueryContext(ctx, `
		SELECT tag, SUM(amount), COUNT(*)
		FROM expenses
		WHERE user_id = ? AND date >= ? AND date < ?
		GROUP BY tag
		ORDER BY SUM(amount) DESC, tag ASC
	`, userID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := []TagTotal{}
	for rows.Next() {
		var t TagTotal
		if err := rows.Scan(&t.Tag, &t.Total, &t.Count); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// Ping verifies the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
