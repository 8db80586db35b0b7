// Package backup reads and writes the file-based ledger backup: a
// pretty-printed JSON array of transactions.
package backup

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dvloznov/finance-assistant/internal/domain"
)

// ImportValidationError rejects a whole backup because of one element.
type ImportValidationError struct {
	Index  int    // position in the array, -1 if the document itself is invalid
	Field  string // offending field, if any
	Reason string
}

func (e *ImportValidationError) Error() string {
	switch {
	case e.Index < 0:
		return fmt.Sprintf("invalid backup: %s", e.Reason)
	case e.Field != "":
		return fmt.Sprintf("invalid backup: record %d: %s: %s", e.Index, e.Field, e.Reason)
	default:
		return fmt.Sprintf("invalid backup: record %d: %s", e.Index, e.Reason)
	}
}

// requiredFields must be present and non-empty on every record.
var requiredFields = []string{"id", "amount", "date"}

// Encode writes txs as an indented JSON array. Owner ids are dropped so a
// backup can be restored into any account.
func Encode(txs []domain.Transaction) ([]byte, error) {
	out := make([]domain.Transaction, len(txs))
	for i, tx := range txs {
		tx.OwnerID = ""
		out[i] = tx
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("Encode: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses a backup. Either every record is valid and all are
// returned, or an *ImportValidationError describes the first bad one.
func Decode(data []byte) ([]domain.Transaction, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, &ImportValidationError{Index: -1, Reason: "expected a JSON array"}
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, &ImportValidationError{Index: -1, Reason: err.Error()}
	}

	txs := make([]domain.Transaction, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, elem := range raw {
		tx, err := decodeRecord(i, elem)
		if err != nil {
			return nil, err
		}
		if seen[tx.ID] {
			return nil, &ImportValidationError{Index: i, Field: "id", Reason: fmt.Sprintf("duplicate id %q", tx.ID)}
		}
		seen[tx.ID] = true
		txs = append(txs, tx)
	}
	return txs, nil
}

func decodeRecord(i int, elem json.RawMessage) (domain.Transaction, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(elem, &fields); err != nil || fields == nil {
		return domain.Transaction{}, &ImportValidationError{Index: i, Reason: "not an object"}
	}
	for _, name := range requiredFields {
		if blank(fields[name]) {
			return domain.Transaction{}, &ImportValidationError{Index: i, Field: name, Reason: "missing"}
		}
	}

	var tx domain.Transaction
	if err := json.Unmarshal(elem, &tx); err != nil {
		return domain.Transaction{}, &ImportValidationError{Index: i, Reason: err.Error()}
	}
	tx.OwnerID = ""

	if tx.Amount.IsNegative() {
		return domain.Transaction{}, &ImportValidationError{Index: i, Field: "amount", Reason: "negative"}
	}
	typ, err := domain.ParseTransactionType(string(tx.Type))
	if err != nil {
		return domain.Transaction{}, &ImportValidationError{Index: i, Field: "type", Reason: err.Error()}
	}
	tx.Type = typ
	return tx, nil
}

func blank(v json.RawMessage) bool {
	s := string(bytes.TrimSpace(v))
	return s == "" || s == "null" || s == `""`
}
