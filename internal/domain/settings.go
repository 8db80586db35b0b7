package domain

import "strings"

// DefaultCurrency is used for display when the user never picked one.
const DefaultCurrency = "USD"

// Settings are the user-scoped preferences stored next to the ledger.
type Settings struct {
	PersonaText string `json:"personaText"`
	Currency    string `json:"currency,omitempty"`
}

// DefaultSettings returns the settings of a user who never saved any.
func DefaultSettings() Settings {
	return Settings{Currency: DefaultCurrency}
}

// Normalized fills in defaults and trims the free-text fields.
func (s Settings) Normalized() Settings {
	s.PersonaText = strings.TrimSpace(s.PersonaText)
	s.Currency = strings.ToUpper(strings.TrimSpace(s.Currency))
	if s.Currency == "" {
		s.Currency = DefaultCurrency
	}
	return s
}
