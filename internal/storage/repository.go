// Package storage is the SQLite state store: the per-user budget snapshot,
// the append-only transaction log, and the user/income records the admin
// side-channel mutates.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"tokenjar/internal/core"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var schemaFS embed.FS

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrateSchema(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// migrateSchema brings the database up to the embedded schema version. It
// opens its own handle because migrate.Close tears down whatever database
// instance it was built on.
func migrateSchema(dbPath string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open schema connection: %w", err)
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		db.Close()
		return fmt.Errorf("sqlite migrate driver: %w", err)
	}
	src, err := iofs.New(schemaFS, "migrations")
	if err != nil {
		db.Close()
		return fmt.Errorf("embedded migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		db.Close()
		return fmt.Errorf("migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// CreateUser registers a user id with an optional email for the admin
// income side-channel.
func (r *SQLiteRepository) CreateUser(ctx context.Context, id, email string) error {
	var em any
	if email != "" {
		em = email
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET email = COALESCE(excluded.email, users.email)`,
		id, em, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// SetAnnualIncomeByEmail mutates only the income field, independent of the
// snapshot. The email must resolve to exactly one user.
func (r *SQLiteRepository) SetAnnualIncomeByEmail(ctx context.Context, email string, cents int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET annual_income_cents = ? WHERE email = ?`, cents, email)
	if err != nil {
		return fmt.Errorf("set annual income: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set annual income: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("no user with email %s: %w", email, core.ErrNotFound)
	}
	slog.InfoContext(ctx, "Annual income updated", "email", email, "amount_cents", cents)
	return nil
}

// AnnualIncome returns the user's target income in cents; zero when the
// user has none recorded yet.
func (r *SQLiteRepository) AnnualIncome(ctx context.Context, userID string) (int64, error) {
	var cents int64
	err := r.db.QueryRowContext(ctx,
		`SELECT annual_income_cents FROM users WHERE id = ?`, userID).Scan(&cents)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get annual income: %w", err)
	}
	return cents, nil
}

// LoadState fetches the user's snapshot. core.ErrNotFound means first run.
func (r *SQLiteRepository) LoadState(ctx context.Context, userID string) (core.BudgetState, error) {
	var (
		modulesJSON string
		fundCents   int64
		lastReset   string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT modules, fund_cents, last_reset_date FROM budget_states WHERE user_id = ?`,
		userID).Scan(&modulesJSON, &fundCents, &lastReset)
	if errors.Is(err, sql.ErrNoRows) {
		return core.BudgetState{}, fmt.Errorf("state for %s: %w", userID, core.ErrNotFound)
	}
	if err != nil {
		return core.BudgetState{}, fmt.Errorf("load state: %w", err)
	}

	state := core.BudgetState{UserID: userID, FundCents: fundCents}
	if err := json.Unmarshal([]byte(modulesJSON), &state.Modules); err != nil {
		return core.BudgetState{}, fmt.Errorf("decode modules: %w", err)
	}
	if state.LastReset, err = parseTime(lastReset); err != nil {
		return core.BudgetState{}, fmt.Errorf("decode last reset: %w", err)
	}
	return state, nil
}

// SaveState upserts the whole snapshot in one write.
func (r *SQLiteRepository) SaveState(ctx context.Context, state core.BudgetState) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		return saveStateTx(ctx, tx, state)
	})
}

// SaveStateAndAppend persists the mutated snapshot and the spend record in
// a single transaction, so the snapshot never drifts ahead of the log.
func (r *SQLiteRepository) SaveStateAndAppend(ctx context.Context, state core.BudgetState, txn core.Transaction) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := saveStateTx(ctx, tx, state); err != nil {
			return err
		}
		return appendTransactionTx(ctx, tx, txn)
	})
}

// AppendTransaction records a spend that touches no tokens.
func (r *SQLiteRepository) AppendTransaction(ctx context.Context, txn core.Transaction) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureUserTx(ctx, tx, txn.UserID); err != nil {
			return err
		}
		return appendTransactionTx(ctx, tx, txn)
	})
}

// DeleteTransactionAndSave removes a log entry and, when the entry spent a
// token, writes the snapshot with that token flipped back in the same
// transaction. Pass a nil state for entries with no token to reverse.
func (r *SQLiteRepository) DeleteTransactionAndSave(ctx context.Context, id string, state *core.BudgetState) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete transaction: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete transaction: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
		}
		if state != nil {
			return saveStateTx(ctx, tx, *state)
		}
		return nil
	})
}

// GetTransaction fetches one log entry by id.
func (r *SQLiteRepository) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, amount_cents, category_id, token_id, description, transaction_type, created_at
		 FROM transactions WHERE id = ?`, id)
	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return txn, nil
}

// ListTransactions returns the user's log, newest first.
func (r *SQLiteRepository) ListTransactions(ctx context.Context, userID string, limit int) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, amount_cents, category_id, token_id, description, transaction_type, created_at
		 FROM transactions WHERE user_id = ? ORDER BY created_at DESC, id LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}

// SpentSince sums the user's spend from the given cutoff. The caller
// computes the cutoff from the user's day-rollover boundary and timezone.
func (r *SQLiteRepository) SpentSince(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	var cents int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0) FROM transactions WHERE user_id = ? AND created_at >= ?`,
		userID, formatTime(cutoff)).Scan(&cents)
	if err != nil {
		return 0, fmt.Errorf("sum spent since %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return cents, nil
}

// ListUnmirrored returns log entries not yet exported to the ledger.
func (r *SQLiteRepository) ListUnmirrored(ctx context.Context, limit int) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, amount_cents, category_id, token_id, description, transaction_type, created_at
		 FROM transactions WHERE mirrored = 0 ORDER BY created_at LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unmirrored: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}

// MarkMirrored flags a log entry as exported.
func (r *SQLiteRepository) MarkMirrored(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE transactions SET mirrored = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark mirrored: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func ensureUserTx(ctx context.Context, tx *sql.Tx, userID string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (id, created_at) VALUES (?, ?)`,
		userID, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return nil
}

func saveStateTx(ctx context.Context, tx *sql.Tx, state core.BudgetState) error {
	if err := ensureUserTx(ctx, tx, state.UserID); err != nil {
		return err
	}
	modulesJSON, err := json.Marshal(state.Modules)
	if err != nil {
		return fmt.Errorf("encode modules: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO budget_states (user_id, modules, fund_cents, last_reset_date)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   modules = excluded.modules,
		   fund_cents = excluded.fund_cents,
		   last_reset_date = excluded.last_reset_date`,
		state.UserID, string(modulesJSON), state.FundCents, formatTime(state.LastReset))
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func appendTransactionTx(ctx context.Context, tx *sql.Tx, txn core.Transaction) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (id, user_id, amount_cents, category_id, token_id, description, transaction_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID, txn.UserID, txn.AmountCents,
		nullable(txn.CategoryID), nullable(txn.TokenID), nullable(txn.Description),
		string(txn.Type), formatTime(txn.CreatedAt))
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		txn                       core.Transaction
		categoryID, tokenID, desc sql.NullString
		txnType, createdAt        string
	)
	err := row.Scan(&txn.ID, &txn.UserID, &txn.AmountCents,
		&categoryID, &tokenID, &desc, &txnType, &createdAt)
	if err != nil {
		return core.Transaction{}, err
	}
	txn.CategoryID = categoryID.String
	txn.TokenID = tokenID.String
	txn.Description = desc.String
	txn.Type = core.TransactionType(txnType)
	if txn.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.Transaction{}, err
	}
	return txn, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Timestamps are stored as fixed-width RFC3339 UTC strings so lexical
// order matches chronological order in SQL comparisons. RFC3339Nano would
// trim trailing zeros and break that.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
