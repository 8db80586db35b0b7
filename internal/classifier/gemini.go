package classifier

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/finance-assistant/internal/normalizer"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

const (
	// DefaultModelName serves text and image requests.
	DefaultModelName = "gemini-2.5-flash"

	// DefaultFastModelName serves audio requests, which favour latency.
	DefaultFastModelName = "gemini-2.5-flash-lite"

	audioPrompt = "The attached voice note is from the user. Interpret what they said."
	imagePrompt = "The attached image is a receipt or other financial document from the user."
)

// GeminiClassifier is the Classifier backed by the Gemini API.
type GeminiClassifier struct {
	generator ContentGenerator
	model     string
	fastModel string
	now       func() time.Time
	log       zerolog.Logger
}

// Option customizes a GeminiClassifier.
type Option func(*GeminiClassifier)

// WithModels overrides the primary and low-latency model names. Empty values
// keep the defaults.
func WithModels(model, fastModel string) Option {
	return func(c *GeminiClassifier) {
		if model != "" {
			c.model = model
		}
		if fastModel != "" {
			c.fastModel = fastModel
		}
	}
}

// WithClock sets the time source used in the system instruction.
func WithClock(now func() time.Time) Option {
	return func(c *GeminiClassifier) { c.now = now }
}

// NewGeminiClassifier creates a classifier over the given generator.
func NewGeminiClassifier(generator ContentGenerator, log zerolog.Logger, opts ...Option) *GeminiClassifier {
	c := &GeminiClassifier{
		generator: generator,
		model:     DefaultModelName,
		fastModel: DefaultFastModelName,
		now:       time.Now,
		log:       log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewGenAIClient creates the Gemini API client. config resolves apiKey from
// GEMINI_API_KEY, then GOOGLE_API_KEY.
func NewGenAIClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("NewGenAIClient: create genai client: %w", err)
	}
	return client, nil
}

// ModelFor returns the model a request is routed to.
func (c *GeminiClassifier) ModelFor(req *normalizer.Request) string {
	if req.Modality == normalizer.ModalityAudio {
		return c.fastModel
	}
	return c.model
}

// Classify sends the request to Gemini and interprets the answer. Any failure
// (transport, empty body, schema violation) yields Fallback().
func (c *GeminiClassifier) Classify(ctx context.Context, req *normalizer.Request) (outcome Outcome) {
	if req == nil {
		return Fallback()
	}

	model := c.ModelFor(req)
	log := c.log.With().Str("modality", string(req.Modality)).Str("model", model).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Classifier panicked, using fallback reply")
			outcome = Fallback()
		}
	}()

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: buildSystemInstruction(req.Persona, c.now())}},
		},
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema(),
	}

	resp, err := c.generator.GenerateContent(ctx, model, buildContents(req), config)
	if err != nil {
		log.Warn().Err(err).Msg("Classifier call failed, using fallback reply")
		return Fallback()
	}
	if resp == nil {
		log.Warn().Msg("Classifier returned no response, using fallback reply")
		return Fallback()
	}

	rawText := resp.Text()
	if rawText == "" {
		log.Warn().Msg("Classifier returned an empty body, using fallback reply")
		return Fallback()
	}

	parsed, err := parseOutcome(rawText)
	if err != nil {
		log.Warn().Err(err).Str("raw_response", rawText).Msg("Classifier response violated schema, using fallback reply")
		return Fallback()
	}

	log.Debug().Str("action", string(parsed.Action)).Msg("Classified input")
	return parsed
}

// buildContents lays out the user turn: the binary payload first, then the
// ledger context and the user's text.
func buildContents(req *normalizer.Request) []*genai.Content {
	var parts []*genai.Part

	switch req.Modality {
	case normalizer.ModalityAudio:
		parts = append(parts,
			&genai.Part{InlineData: &genai.Blob{MIMEType: req.Audio.MIMEType, Data: req.Audio.Data}},
			&genai.Part{Text: audioPrompt},
		)
	case normalizer.ModalityImage:
		parts = append(parts,
			&genai.Part{InlineData: &genai.Blob{MIMEType: req.Image.MIMEType, Data: req.Image.Data}},
			&genai.Part{Text: imagePrompt},
		)
	}

	parts = append(parts, &genai.Part{Text: buildContextPrompt(req.Recent)})
	if req.Text != "" {
		parts = append(parts, &genai.Part{Text: req.Text})
	}

	return []*genai.Content{{Role: "user", Parts: parts}}
}

var _ Classifier = (*GeminiClassifier)(nil)
