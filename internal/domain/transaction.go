package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType carries the sign of a transaction. Amounts are never negative.
type TransactionType string

const (
	TypeIncome  TransactionType = "income"
	TypeExpense TransactionType = "expense"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	return t == TypeIncome || t == TypeExpense
}

// ParseTransactionType normalizes s ("Expense", " income ") into a TransactionType.
func ParseTransactionType(s string) (TransactionType, error) {
	t := TransactionType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("invalid transaction type %q", s)
	}
	return t, nil
}

// Transaction is a single financial event in a session's ledger.
// ID is assigned by the client at creation time and doubles as the
// idempotency key for retried durable writes.
type Transaction struct {
	ID          string
	Date        time.Time
	Description string
	Amount      decimal.Decimal
	Category    string
	Type        TransactionType
	OwnerID     string // empty until the transaction is bound to a session
}

// Validate checks the invariants every stored transaction must satisfy.
func (t Transaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("transaction id is required")
	}
	if t.Amount.IsNegative() {
		return fmt.Errorf("transaction %s: amount %s is negative", t.ID, t.Amount)
	}
	if !t.Type.Valid() {
		return fmt.Errorf("transaction %s: invalid type %q", t.ID, t.Type)
	}
	return nil
}

// Signed returns the amount with the sign implied by the type.
func (t Transaction) Signed() decimal.Decimal {
	if t.Type == TypeExpense {
		return t.Amount.Neg()
	}
	return t.Amount
}

// Equal reports whether two transactions carry identical fields.
func (t Transaction) Equal(o Transaction) bool {
	return t.ID == o.ID &&
		t.Date.Equal(o.Date) &&
		t.Description == o.Description &&
		t.Amount.Equal(o.Amount) &&
		t.Category == o.Category &&
		t.Type == o.Type &&
		t.OwnerID == o.OwnerID
}

// transactionJSON is the wire shape shared by the API, the local store and backups.
type transactionJSON struct {
	ID          string          `json:"id"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	Type        TransactionType `json:"type"`
	OwnerID     string          `json:"ownerId,omitempty"`
}

// MarshalJSON encodes the amount as a bare JSON number.
func (t Transaction) MarshalJSON() ([]byte, error) {
	type wire struct {
		ID          string          `json:"id"`
		Date        string          `json:"date"`
		Description string          `json:"description"`
		Amount      json.Number     `json:"amount"`
		Category    string          `json:"category"`
		Type        TransactionType `json:"type"`
		OwnerID     string          `json:"ownerId,omitempty"`
	}
	return json.Marshal(wire{
		ID:          t.ID,
		Date:        t.Date.UTC().Format(time.RFC3339Nano),
		Description: t.Description,
		Amount:      json.Number(t.Amount.String()),
		Category:    t.Category,
		Type:        t.Type,
		OwnerID:     t.OwnerID,
	})
}

// UnmarshalJSON accepts the amount either as a number or as a numeric string.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var w transactionJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*t = Transaction{
		ID:          w.ID,
		Date:        w.Date,
		Description: w.Description,
		Amount:      w.Amount,
		Category:    w.Category,
		Type:        w.Type,
		OwnerID:     w.OwnerID,
	}
	return nil
}
