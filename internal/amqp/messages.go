package amqp

import (
	"encoding/json"
	"time"
)

const (
	OpAppend  = "append"
	OpReverse = "reverse"
)

// LedgerMessage asks the mirror worker to export one transaction to the
// external ledger. Appends carry only the id; the worker fetches the row
// from the database. Reversals embed a snapshot of the deleted row, since
// by the time the worker runs the row is gone.
type LedgerMessage struct {
	Op            string    `json:"op"`
	TransactionID string    `json:"transaction_id"`
	Timestamp     time.Time `json:"timestamp"`

	// Reversal snapshot, empty for appends.
	UserID      string    `json:"user_id,omitempty"`
	AmountCents int64     `json:"amount_cents,omitempty"`
	CategoryID  string    `json:"category_id,omitempty"`
	Description string    `json:"description,omitempty"`
	Type        string    `json:"type,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// NewAppendMessage creates a mirror request for a freshly logged spend.
func NewAppendMessage(transactionID string) *LedgerMessage {
	return &LedgerMessage{
		Op:            OpAppend,
		TransactionID: transactionID,
		Timestamp:     time.Now(),
	}
}

// NewReversalMessage creates a mirror request for a deleted spend.
func NewReversalMessage(transactionID, userID string, amountCents int64, categoryID, description, txnType string, createdAt time.Time) *LedgerMessage {
	return &LedgerMessage{
		Op:            OpReverse,
		TransactionID: transactionID,
		Timestamp:     time.Now(),
		UserID:        userID,
		AmountCents:   amountCents,
		CategoryID:    categoryID,
		Description:   description,
		Type:          txnType,
		CreatedAt:     createdAt,
	}
}

// ToJSON converts the message to JSON bytes
func (m *LedgerMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerMessageFromJSON creates a message from JSON bytes
func LedgerMessageFromJSON(data []byte) (*LedgerMessage, error) {
	var msg LedgerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
