package classifier

import (
	"context"

	"google.golang.org/genai"
)

// MockGenerator is a ContentGenerator test double that records the last call.
type MockGenerator struct {
	GenerateContentFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

	Calls        int
	LastModel    string
	LastContents []*genai.Content
	LastConfig   *genai.GenerateContentConfig
}

func (m *MockGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.Calls++
	m.LastModel = model
	m.LastContents = contents
	m.LastConfig = config
	if m.GenerateContentFunc != nil {
		return m.GenerateContentFunc(ctx, model, contents, config)
	}
	return textResponse(`{"action":"CHAT_ONLY","replyMessage":"ok"}`), nil
}

// textResponse wraps raw model text in a single-candidate response.
func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: text}}}},
		},
	}
}

func respondWith(text string) *MockGenerator {
	return &MockGenerator{
		GenerateContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return textResponse(text), nil
		},
	}
}
