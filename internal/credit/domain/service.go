package domain

import "context"

// GrantRequest adds credits to an owner's account.
type GrantRequest struct {
	OwnerID     string
	Amount      int64
	Type        TransactionType
	Description string
	Metadata    map[string]interface{}
}

// DebitRequest spends credits from an owner's account.
type DebitRequest struct {
	OwnerID     string
	Amount      int64
	ServiceKey  string
	Description string
	Metadata    map[string]interface{}
}

// Service is the credit ledger. Debits never drive the balance below zero;
// only AdminAdjust may create a deficit.
type Service interface {
	// EnsureAccount creates a zero-balance account if none exists.
	EnsureAccount(ctx context.Context, ownerID string) (*Account, error)
	// Balance returns the current spendable balance.
	Balance(ctx context.Context, ownerID string) (int64, error)
	// Grant credits the account and appends a ledger entry.
	Grant(ctx context.Context, req GrantRequest) (*Transaction, error)
	// GrantIdempotent applies a grant at most once per eventKey. The second
	// return is false when the key was already applied and the stored entry
	// is returned unchanged.
	GrantIdempotent(ctx context.Context, eventKey string, req GrantRequest) (*Transaction, bool, error)
	// Debit atomically spends credits, failing with ErrInsufficientCredits
	// when the balance cannot cover the amount.
	Debit(ctx context.Context, req DebitRequest) (*Transaction, error)
	// DebitForService resolves the per-unit cost of serviceKey from the
	// catalog and debits units * cost.
	DebitForService(ctx context.Context, ownerID, serviceKey string, units int64) (*Transaction, error)
	// AdminAdjust applies a signed correction. It bypasses the non-negative
	// floor so support can claw back granted credits.
	AdminAdjust(ctx context.Context, ownerID string, amount int64, description string) (*Transaction, error)
	// ListTransactions returns ledger entries newest first.
	ListTransactions(ctx context.Context, ownerID string, limit, offset int) ([]Transaction, error)
	// UsageByService aggregates usage debits per service, biggest spender
	// first, paged with the same limit and offset rules as ListTransactions.
	UsageByService(ctx context.Context, ownerID string, limit, offset int) ([]ServiceUsage, error)
}
