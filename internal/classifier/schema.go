package classifier

import "google.golang.org/genai"

// responseSchema constrains the model output to the classification contract.
func responseSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"action": {
				Type: genai.TypeString,
				Enum: []string{string(ActionAddTransaction), string(ActionChatOnly)},
			},
			"transactionData": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"description": {Type: genai.TypeString},
					"amount":      {Type: genai.TypeNumber},
					"category":    {Type: genai.TypeString},
					"type": {
						Type: genai.TypeString,
						Enum: []string{"income", "expense"},
					},
				},
				Required: []string{"description", "amount", "category", "type"},
			},
			"replyMessage": {Type: genai.TypeString},
		},
		Required: []string{"action", "replyMessage"},
	}
}
