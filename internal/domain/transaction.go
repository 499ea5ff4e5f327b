package domain

// TransactionType distinguishes money entering from money leaving an account.
type TransactionType string

const (
	TypeDeposit    TransactionType = "DEPOSIT"
	TypeWithdrawal TransactionType = "WITHDRAWAL"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	return t == TypeDeposit || t == TypeWithdrawal
}

// TransactionRecord is a single deposit or withdrawal in a user's history.
// Records are sourced from the store and never mutated by the engine.
type TransactionRecord struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	UserID    string `json:"userId"`
	AccountID string `json:"accountId"`

	Type TransactionType `json:"type"`

	// Amount is in minor units (1/10000 of a major currency unit).
	Amount int64 `json:"amount"`

	// TimeOccurred is epoch milliseconds, UTC.
	TimeOccurred int64 `json:"timeOccurred"`
}

// IngestRequest is the API request payload for recording a transaction.
type IngestRequest struct {
	UserID       string          `json:"user_id"`
	AccountID    string          `json:"account_id"`
	Type         TransactionType `json:"type"`
	Amount       int64           `json:"amount"`
	TimeOccurred int64           `json:"time_occurred"`
}

// ToRecord converts an ingest request to a TransactionRecord.
// The caller supplies the generated ID and tenant.
func (r *IngestRequest) ToRecord(id, tenantID string) *TransactionRecord {
	return &TransactionRecord{
		ID:           id,
		TenantID:     tenantID,
		UserID:       r.UserID,
		AccountID:    r.AccountID,
		Type:         r.Type,
		Amount:       r.Amount,
		TimeOccurred: r.TimeOccurred,
	}
}
