// Package domain defines the core interfaces and types for Kite.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence. The transaction
// fetch methods are the accessor boundary the rule evaluators read through.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tenantID string, tx *TransactionRecord) error
	GetTransaction(ctx context.Context, tenantID string, txID string) (*TransactionRecord, error)

	// FetchTransactions returns a user's transactions of one type, applying
	// BOTH lower bounds: timeOccurred >= minTime AND timeOccurred > cutoff.
	// maxTime, when non-nil, is an exclusive upper bound. The cutoff bound is
	// what keeps repeated evaluations from recounting old rows.
	FetchTransactions(ctx context.Context, tenantID, userID string, txType TransactionType, minTime int64, maxTime *int64, cutoff int64) ([]*TransactionRecord, error)

	// FetchLatestTransaction returns the most recent transaction of one type
	// after cutoff, or nil when the user has none.
	FetchLatestTransaction(ctx context.Context, tenantID, userID string, txType TransactionType, cutoff int64) (*TransactionRecord, error)

	// Evaluation results
	SaveSignalSet(ctx context.Context, tenantID string, set *SignalSet) error
	GetSignalSet(ctx context.Context, tenantID string, id string) (*SignalSet, error)

	// Rule cutoff persistence. The engine itself is stateless; the HTTP and
	// worker layers act as the caller that advances cutoffs between runs.
	GetRuleCutoffs(ctx context.Context, tenantID, userID string) (RuleCutoffs, error)
	SaveRuleCutoffs(ctx context.Context, tenantID, userID string, cutoffs RuleCutoffs) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
