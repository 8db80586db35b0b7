package classifier

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/shopspring/decimal"
)

type wireTransaction struct {
	Description *string          `json:"description"`
	Amount      *decimal.Decimal `json:"amount"`
	Category    *string          `json:"category"`
	Type        *string          `json:"type"`
}

type wireOutcome struct {
	Action          *string          `json:"action"`
	TransactionData *wireTransaction `json:"transactionData"`
	ReplyMessage    *string          `json:"replyMessage"`
}

// parseOutcome validates raw model output against the response contract.
func parseOutcome(raw string) (Outcome, error) {
	clean := cleanModelJSON(raw)
	if clean == "" {
		return Outcome{}, fmt.Errorf("parseOutcome: empty response")
	}

	var w wireOutcome
	if err := json.Unmarshal([]byte(clean), &w); err != nil {
		return Outcome{}, fmt.Errorf("parseOutcome: unmarshal JSON: %w", err)
	}

	if w.ReplyMessage == nil || strings.TrimSpace(*w.ReplyMessage) == "" {
		return Outcome{}, fmt.Errorf("parseOutcome: missing required field %q", "replyMessage")
	}
	reply := strings.TrimSpace(*w.ReplyMessage)

	if w.Action == nil {
		return Outcome{}, fmt.Errorf("parseOutcome: missing required field %q", "action")
	}

	switch Action(*w.Action) {
	case ActionChatOnly:
		return ChatOnly(reply), nil
	case ActionAddTransaction:
		data, err := parseTransactionData(w.TransactionData)
		if err != nil {
			return Outcome{}, fmt.Errorf("parseOutcome: %w", err)
		}
		return AddTransaction(data, reply), nil
	default:
		return Outcome{}, fmt.Errorf("parseOutcome: unknown action %q", *w.Action)
	}
}

func parseTransactionData(w *wireTransaction) (TransactionData, error) {
	if w == nil {
		return TransactionData{}, fmt.Errorf("transactionData is required for %s", ActionAddTransaction)
	}
	if w.Description == nil || strings.TrimSpace(*w.Description) == "" {
		return TransactionData{}, fmt.Errorf("missing required field %q", "description")
	}
	if w.Category == nil || strings.TrimSpace(*w.Category) == "" {
		return TransactionData{}, fmt.Errorf("missing required field %q", "category")
	}
	if w.Amount == nil {
		return TransactionData{}, fmt.Errorf("missing required field %q", "amount")
	}
	if w.Amount.IsNegative() {
		return TransactionData{}, fmt.Errorf("amount %s is negative", w.Amount)
	}
	if w.Type == nil {
		return TransactionData{}, fmt.Errorf("missing required field %q", "type")
	}
	typ, err := domain.ParseTransactionType(*w.Type)
	if err != nil {
		return TransactionData{}, err
	}

	return TransactionData{
		Description: strings.TrimSpace(*w.Description),
		Amount:      *w.Amount,
		Category:    strings.TrimSpace(*w.Category),
		Type:        typ,
	}, nil
}

// cleanModelJSON strips Markdown fences and any text around the JSON object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		// Drop the first line (``` or ```json).
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = s[start : end+1]
		}
	}

	return strings.TrimSpace(s)
}
