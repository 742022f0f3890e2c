package model

import "time"

// TransactionType is the business reason for a balance change.
type TransactionType string

const (
	TxEarn     TransactionType = "earn"
	TxSpend    TransactionType = "spend"
	TxGift     TransactionType = "gift"
	TxPurchase TransactionType = "purchase"
)

// ValidTransactionTypes are the accepted ledger transaction types.
var ValidTransactionTypes = map[TransactionType]bool{
	TxEarn:     true,
	TxSpend:    true,
	TxGift:     true,
	TxPurchase: true,
}

// LedgerAccount is a user's spendable credit. Balance never goes negative and
// always equals the sum of the account's transaction deltas.
type LedgerAccount struct {
	UserID      string    `json:"userId"`
	Balance     int64     `json:"balance"`
	TotalEarned int64     `json:"totalEarned"`
	TotalSpent  int64     `json:"totalSpent"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// LedgerTransaction is the immutable audit record of one Adjust call.
type LedgerTransaction struct {
	ID            string          `json:"id"`
	Seq           int64           `json:"-"`
	UserID        string          `json:"userId"`
	Type          TransactionType `json:"type"`
	Delta         int64           `json:"delta"`
	BalanceBefore int64           `json:"balanceBefore"`
	BalanceAfter  int64           `json:"balanceAfter"`
	Description   string          `json:"description"`
	RelatedEntity *string         `json:"relatedEntity,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// AdjustRequest is the admin API request body for a manual balance change.
type AdjustRequest struct {
	UserID      string          `json:"user_id"`
	Delta       int64           `json:"delta"`
	Type        TransactionType `json:"type"`
	Description string          `json:"description"`
	Related     *string         `json:"related_entity,omitempty"`
}
