// Package normalizer turns raw user input into a single classification request.
package normalizer

import (
	"strings"

	"github.com/dvloznov/finance-assistant/internal/domain"
)

// DefaultContextWindow is how many recent transactions accompany a request.
const DefaultContextWindow = 10

// Modality selects the classifier routing for a request.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
	ModalityAudio Modality = "audio"
)

// Blob is an opaque binary payload (receipt photo, voice note). It is never
// decoded here.
type Blob struct {
	MIMEType string
	Data     []byte
}

func (b *Blob) present() bool {
	return b != nil && len(b.Data) > 0
}

// Request is the canonical classification request. At most one of Image and
// Audio is set; Text may accompany either.
type Request struct {
	Modality Modality
	Text     string
	Image    *Blob
	Audio    *Blob

	// Recent holds the caller-bounded ledger window, most recent first.
	Recent  []domain.Transaction
	Persona string
}

// InvalidInputError is returned when no usable input was supplied.
type InvalidInputError struct{}

func (e *InvalidInputError) Error() string {
	return "no text, image or audio input supplied"
}

// Normalize builds a Request. Audio takes priority over image, and image over
// text, because the classifier routes each modality to a different model.
func Normalize(text string, image, audio *Blob, recent []domain.Transaction, persona string) (*Request, error) {
	text = strings.TrimSpace(text)
	if text == "" && !image.present() && !audio.present() {
		return nil, &InvalidInputError{}
	}

	req := &Request{
		Modality: ModalityText,
		Text:     text,
		Recent:   recent,
		Persona:  strings.TrimSpace(persona),
	}

	switch {
	case audio.present():
		req.Modality = ModalityAudio
		req.Audio = audio
	case image.present():
		req.Modality = ModalityImage
		req.Image = image
	}

	return req, nil
}

// RecentWindow returns the last n entries of an insertion-ordered snapshot,
// most recent first.
func RecentWindow(snapshot []domain.Transaction, n int) []domain.Transaction {
	if n <= 0 || len(snapshot) == 0 {
		return nil
	}
	if n > len(snapshot) {
		n = len(snapshot)
	}
	out := make([]domain.Transaction, 0, n)
	for i := len(snapshot) - 1; i >= len(snapshot)-n; i-- {
		out = append(out, snapshot[i])
	}
	return out
}
