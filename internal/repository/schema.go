package repository

// Schema definitions for the Kite database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    type TEXT NOT NULL,
    amount BIGINT NOT NULL,
    time_occurred BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_tenant ON transactions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(tenant_id, user_id, type, time_occurred);
`

const schemaSignalSets = `
CREATE TABLE IF NOT EXISTS signal_sets (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    count_first_benchmark BIGINT NOT NULL,
    count_second_benchmark_windowed BIGINT NOT NULL,
    latest_deposit_major REAL NOT NULL,
    six_month_average_signal REAL NOT NULL,
    rapid_withdrawals_30day BIGINT NOT NULL,
    rapid_withdrawals_7day BIGINT NOT NULL,
    cutoffs TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_signal_sets_tenant ON signal_sets(tenant_id);
CREATE INDEX IF NOT EXISTS idx_signal_sets_user ON signal_sets(tenant_id, user_id);
CREATE INDEX IF NOT EXISTS idx_signal_sets_timestamp ON signal_sets(tenant_id, timestamp);
`

// rule_cutoffs persists the last-considered boundary per (user, rule label).
// The engine never reads this table directly; the HTTP and worker layers act
// as the caller that loads and advances cutoffs between evaluations.
const schemaRuleCutoffs = `
CREATE TABLE IF NOT EXISTS rule_cutoffs (
    tenant_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    rule_label TEXT NOT NULL,
    cutoff BIGINT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, user_id, rule_label)
);

CREATE INDEX IF NOT EXISTS idx_rule_cutoffs_user ON rule_cutoffs(tenant_id, user_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaSignalSets,
		schemaRuleCutoffs,
	}
}
