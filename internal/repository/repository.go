// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clearsignal/kite/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction with tenant isolation.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.TransactionRecord) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if !tx.Type.Valid() {
		return fmt.Errorf("%w: unknown transaction type %q", ErrInvalidInput, tx.Type)
	}

	query := `
		INSERT INTO transactions (
			id, tenant_id, user_id, account_id, type, amount, time_occurred
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tenantID, tx.UserID, tx.AccountID,
		string(tx.Type), tx.Amount, tx.TimeOccurred,
	)
	return err
}

// GetTransaction retrieves a transaction by ID with tenant isolation.
func (r *SQLRepository) GetTransaction(ctx context.Context, tenantID string, txID string) (*domain.TransactionRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, user_id, account_id, type, amount, time_occurred
		FROM transactions
		WHERE tenant_id = ? AND id = ?
	`

	var tx domain.TransactionRecord
	var txType string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID).Scan(
		&tx.ID, &tx.TenantID, &tx.UserID, &tx.AccountID,
		&txType, &tx.Amount, &tx.TimeOccurred,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	tx.Type = domain.TransactionType(txType)
	return &tx, nil
}

// FetchTransactions retrieves a user's transactions of one type, applying
// both lower bounds: time_occurred >= minTime AND time_occurred > cutoff.
// The strict cutoff bound is what makes repeated evaluations idempotent
// once the caller advances the cutoff past rows already considered.
func (r *SQLRepository) FetchTransactions(ctx context.Context, tenantID, userID string, txType domain.TransactionType, minTime int64, maxTime *int64, cutoff int64) ([]*domain.TransactionRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, user_id, account_id, type, amount, time_occurred
		FROM transactions
		WHERE tenant_id = ?
		  AND user_id = ?
		  AND type = ?
		  AND time_occurred >= ?
		  AND time_occurred > ?
	`
	args := []any{tenantID, userID, string(txType), minTime, cutoff}

	if maxTime != nil {
		query += ` AND time_occurred < ?`
		args = append(args, *maxTime)
	}

	query += ` ORDER BY time_occurred DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.TransactionRecord
	for rows.Next() {
		var tx domain.TransactionRecord
		var typ string

		if err := rows.Scan(
			&tx.ID, &tx.TenantID, &tx.UserID, &tx.AccountID,
			&typ, &tx.Amount, &tx.TimeOccurred,
		); err != nil {
			return nil, err
		}

		tx.Type = domain.TransactionType(typ)
		transactions = append(transactions, &tx)
	}

	return transactions, rows.Err()
}

// FetchLatestTransaction retrieves the most recent transaction of one type
// after the cutoff, or nil when the user has none.
func (r *SQLRepository) FetchLatestTransaction(ctx context.Context, tenantID, userID string, txType domain.TransactionType, cutoff int64) (*domain.TransactionRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, user_id, account_id, type, amount, time_occurred
		FROM transactions
		WHERE tenant_id = ?
		  AND user_id = ?
		  AND type = ?
		  AND time_occurred > ?
		ORDER BY time_occurred DESC
		LIMIT 1
	`

	var tx domain.TransactionRecord
	var typ string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, userID, string(txType), cutoff).Scan(
		&tx.ID, &tx.TenantID, &tx.UserID, &tx.AccountID,
		&typ, &tx.Amount, &tx.TimeOccurred,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	tx.Type = domain.TransactionType(typ)
	return &tx, nil
}

// SaveSignalSet stores an evaluation result with tenant isolation.
func (r *SQLRepository) SaveSignalSet(ctx context.Context, tenantID string, set *domain.SignalSet) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	cutoffs, _ := json.Marshal(set.Cutoffs)
	metadata, _ := json.Marshal(set.Metadata)

	query := `
		INSERT INTO signal_sets (
			id, tenant_id, user_id, account_id,
			count_first_benchmark, count_second_benchmark_windowed,
			latest_deposit_major, six_month_average_signal,
			rapid_withdrawals_30day, rapid_withdrawals_7day,
			cutoffs, timestamp, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		set.ID, tenantID, set.UserID, set.AccountID,
		set.CountDepositsAboveFirstBenchmark,
		set.CountDepositsAboveSecondBenchmarkInWindow,
		set.LatestDepositMajorUnit,
		set.SixMonthAverageDepositMajorUnitTimesMultiplier,
		set.CountRapidWithdrawals30Day,
		set.CountRapidWithdrawals7Day,
		string(cutoffs), set.Timestamp, string(metadata),
	)
	return err
}

// GetSignalSet retrieves an evaluation result by ID with tenant isolation.
func (r *SQLRepository) GetSignalSet(ctx context.Context, tenantID string, id string) (*domain.SignalSet, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, user_id, account_id,
			   count_first_benchmark, count_second_benchmark_windowed,
			   latest_deposit_major, six_month_average_signal,
			   rapid_withdrawals_30day, rapid_withdrawals_7day,
			   cutoffs, timestamp, metadata
		FROM signal_sets
		WHERE tenant_id = ? AND id = ?
	`

	var set domain.SignalSet
	var cutoffs, metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, id).Scan(
		&set.ID, &set.TenantID, &set.UserID, &set.AccountID,
		&set.CountDepositsAboveFirstBenchmark,
		&set.CountDepositsAboveSecondBenchmarkInWindow,
		&set.LatestDepositMajorUnit,
		&set.SixMonthAverageDepositMajorUnitTimesMultiplier,
		&set.CountRapidWithdrawals30Day,
		&set.CountRapidWithdrawals7Day,
		&cutoffs, &set.Timestamp, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(cutoffs), &set.Cutoffs)
	json.Unmarshal([]byte(metadata), &set.Metadata)

	return &set, nil
}

// GetRuleCutoffs retrieves the persisted cutoffs for a user. Labels never
// evaluated are simply absent; callers fall back to the sentinel.
func (r *SQLRepository) GetRuleCutoffs(ctx context.Context, tenantID, userID string) (domain.RuleCutoffs, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT rule_label, cutoff
		FROM rule_cutoffs
		WHERE tenant_id = ? AND user_id = ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cutoffs := make(domain.RuleCutoffs)
	for rows.Next() {
		var label string
		var cutoff int64
		if err := rows.Scan(&label, &cutoff); err != nil {
			return nil, err
		}
		cutoffs[label] = cutoff
	}

	return cutoffs, rows.Err()
}

// SaveRuleCutoffs upserts cutoffs for a user. Only labels present in the map
// are written; on conflict the database keeps the maximum of the stored and
// incoming values, so even concurrent writers can never move a cutoff
// backwards.
func (r *SQLRepository) SaveRuleCutoffs(ctx context.Context, tenantID, userID string, cutoffs domain.RuleCutoffs) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	// SQLite's scalar max is GREATEST in PostgreSQL.
	greatest := "max(cutoff, excluded.cutoff)"
	if r.driver == "postgres" {
		greatest = "GREATEST(rule_cutoffs.cutoff, excluded.cutoff)"
	}

	query := `
		INSERT INTO rule_cutoffs (tenant_id, user_id, rule_label, cutoff, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, user_id, rule_label) DO UPDATE SET
			cutoff = ` + greatest + `,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC()
	for label, cutoff := range cutoffs {
		if _, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, userID, label, cutoff, now); err != nil {
			return err
		}
	}

	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
