package classifier

import (
	"github.com/dvloznov/finance-assistant/internal/domain"
	"github.com/shopspring/decimal"
)

// FallbackReply is returned whenever the classifier cannot produce a valid answer.
const FallbackReply = "Sorry, I couldn't process that right now. Please try again in a moment."

// Action tags the kind of outcome.
type Action string

const (
	ActionAddTransaction Action = "ADD_TRANSACTION"
	ActionChatOnly       Action = "CHAT_ONLY"
)

// TransactionData is the financial record extracted from the input.
type TransactionData struct {
	Description string                 `json:"description"`
	Amount      decimal.Decimal        `json:"amount"`
	Category    string                 `json:"category"`
	Type        domain.TransactionType `json:"type"`
}

// Outcome is the result of a classification. Transaction is set only when
// Action is ActionAddTransaction; Reply is always set.
type Outcome struct {
	Action      Action           `json:"action"`
	Transaction *TransactionData `json:"transactionData,omitempty"`
	Reply       string           `json:"replyMessage"`
}

// AddTransaction builds an outcome carrying a record.
func AddTransaction(data TransactionData, reply string) Outcome {
	return Outcome{Action: ActionAddTransaction, Transaction: &data, Reply: reply}
}

// ChatOnly builds a conversational outcome.
func ChatOnly(reply string) Outcome {
	return Outcome{Action: ActionChatOnly, Reply: reply}
}

// Fallback is the safe outcome used on any classification failure.
func Fallback() Outcome {
	return ChatOnly(FallbackReply)
}

// IsAddTransaction reports whether the outcome carries a record to append.
func (o Outcome) IsAddTransaction() bool {
	return o.Action == ActionAddTransaction && o.Transaction != nil
}
