package classifier

import (
	"context"

	"github.com/dvloznov/finance-assistant/internal/normalizer"
	"google.golang.org/genai"
)

// Classifier decides whether a request describes a financial event.
// Implementations never return an error: failures degrade to a chat-only
// outcome carrying FallbackReply.
type Classifier interface {
	Classify(ctx context.Context, req *normalizer.Request) Outcome
}

// ContentGenerator is the slice of the GenAI client the classifier needs.
// *genai.Models satisfies it.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}
