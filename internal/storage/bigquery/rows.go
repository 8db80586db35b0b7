package bigquery

import (
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	transactionsTable = "ledger_transactions"
	settingsTable     = "ledger_settings"
)

// TransactionRow mirrors a row of ledger_transactions.
type TransactionRow struct {
	OwnerID       string     `bigquery:"owner_id"`       // REQUIRED
	TransactionID string     `bigquery:"transaction_id"` // REQUIRED
	OccurredAt    time.Time  `bigquery:"occurred_at"`    // REQUIRED TIMESTAMP
	OccurredDate  civil.Date `bigquery:"occurred_date"`  // REQUIRED, partitioning column

	Description string   `bigquery:"description"`
	Amount      *big.Rat `bigquery:"amount"` // REQUIRED NUMERIC, never negative
	Category    string   `bigquery:"category"`
	Type        string   `bigquery:"type"` // income | expense

	// Seq orders rows within an owner. Rows written in one batch share a
	// timestamp, so insertion order is carried explicitly.
	Seq int64 `bigquery:"seq"`
}

// SettingsRow mirrors a row of ledger_settings.
type SettingsRow struct {
	OwnerID     string              `bigquery:"owner_id"`
	PersonaText bigquery.NullString `bigquery:"persona_text"`
	Currency    bigquery.NullString `bigquery:"currency"`
	UpdatedTS   time.Time           `bigquery:"updated_ts"`
}

func toRow(ownerID string, tx domain.Transaction, seq int64) *TransactionRow {
	at := tx.Date.UTC()
	return &TransactionRow{
		OwnerID:       ownerID,
		TransactionID: tx.ID,
		OccurredAt:    at,
		OccurredDate:  civil.DateOf(at),
		Description:   tx.Description,
		Amount:        tx.Amount.Rat(),
		Category:      tx.Category,
		Type:          string(tx.Type),
		Seq:           seq,
	}
}

func fromRow(r *TransactionRow) (domain.Transaction, error) {
	amount := decimal.Zero
	if r.Amount != nil {
		// NUMERIC has scale 9.
		d, err := decimal.NewFromString(r.Amount.FloatString(9))
		if err != nil {
			return domain.Transaction{}, fmt.Errorf("amount of %s: %w", r.TransactionID, err)
		}
		amount = d
	}
	typ, err := domain.ParseTransactionType(r.Type)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("type of %s: %w", r.TransactionID, err)
	}
	return domain.Transaction{
		ID:          r.TransactionID,
		Date:        r.OccurredAt.UTC(),
		Description: r.Description,
		Amount:      amount,
		Category:    r.Category,
		Type:        typ,
		OwnerID:     r.OwnerID,
	}, nil
}

// toRows converts a batch, dropping repeated IDs so a single MERGE never
// inserts the same transaction twice.
func toRows(ownerID string, txs []domain.Transaction, base int64) []TransactionRow {
	rows := make([]TransactionRow, 0, len(txs))
	seen := make(map[string]bool, len(txs))
	for i, tx := range txs {
		if seen[tx.ID] {
			continue
		}
		seen[tx.ID] = true
		rows = append(rows, *toRow(ownerID, tx, base+int64(i)))
	}
	return rows
}

func settingsFromRow(r *SettingsRow) domain.Settings {
	var s domain.Settings
	if r.PersonaText.Valid {
		s.PersonaText = r.PersonaText.StringVal
	}
	if r.Currency.Valid {
		s.Currency = r.Currency.StringVal
	}
	return s.Normalized()
}
