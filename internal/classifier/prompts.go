package classifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/finance-assistant/internal/domain"
)

// DefaultPersona is the assistant's voice unless the user supplies an override.
const DefaultPersona = "You are a friendly, concise personal finance assistant. " +
	"You help the user keep track of their income and expenses and answer questions about their spending."

const rulesPrompt = "Task:\n" +
	"- Decide whether the user's message, photo or voice note describes a single income or expense.\n" +
	"- If it does, set \"action\" to \"ADD_TRANSACTION\" and fill \"transactionData\".\n" +
	"- Otherwise set \"action\" to \"CHAT_ONLY\" and omit \"transactionData\".\n" +
	"- Always write a short \"replyMessage\" to the user.\n\n" +
	"Rules for transactionData:\n" +
	"- \"amount\" is a positive number without currency symbols; the sign is carried by \"type\".\n" +
	"- \"type\" is \"expense\" for money spent and \"income\" for money received.\n" +
	"- \"category\" is a short label such as Food, Transport, Salary, Housing, Shopping.\n" +
	"- For receipts use the total amount paid.\n" +
	"- For voice notes, interpret what the user said.\n"

// buildSystemInstruction combines the persona with the operating rules and the
// current time. A non-empty persona replaces DefaultPersona entirely.
func buildSystemInstruction(persona string, now time.Time) string {
	p := strings.TrimSpace(persona)
	if p == "" {
		p = DefaultPersona
	}

	var b strings.Builder
	b.WriteString(p)
	b.WriteString("\n\n")
	b.WriteString("Current date and time: ")
	b.WriteString(now.Format(time.RFC1123))
	b.WriteString("\n\n")
	b.WriteString(rulesPrompt)
	return b.String()
}

// buildContextPrompt renders the recent ledger window for the model.
func buildContextPrompt(recent []domain.Transaction) string {
	if len(recent) == 0 {
		return "The user has no recorded transactions yet."
	}

	var b strings.Builder
	b.WriteString("Most recent transactions (newest first):\n")
	for _, tx := range recent {
		fmt.Fprintf(&b, "- %s | %s | %s %s | %s\n",
			tx.Date.Format("2006-01-02"), tx.Description, tx.Type, tx.Amount.String(), tx.Category)
	}
	return b.String()
}
