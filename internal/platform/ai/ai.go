// Package ai wraps the Gemini API behind a small Generator port shared by
// consult report generation, the Atlas assistant, document analysis, and
// audio transcription. Callers own their prompts; this package owns model
// selection, generation parameters, and fallback.
package ai

import (
	"context"
	"errors"
)

// ErrUnavailable wraps every upstream generation failure. Handlers map it
// to 502.
var ErrUnavailable = errors.New("ai service unavailable")

// Generation parameter defaults. Callers override per request by setting
// non-zero values.
const (
	DefaultTemperature     = 0.7
	DefaultTopP            = 0.95
	DefaultTopK            = 40
	DefaultMaxOutputTokens = 2048
)

// Media is an inline binary payload attached to a request, such as recorded
// audio for transcription or an uploaded document for analysis.
type Media struct {
	MIMEType string
	Data     []byte
}

// Request is a single generation call.
type Request struct {
	// System is the system instruction. Empty means none.
	System string
	// Prompt is the user-turn text.
	Prompt string
	// Media, when set, is attached to the user turn alongside the prompt.
	Media *Media

	// Zero values fall back to the package defaults.
	Temperature     float32
	TopP            float32
	TopK            float32
	MaxOutputTokens int32
}

// Result is the model output of a generation call.
type Result struct {
	// Text is the concatenated text of the first candidate.
	Text string
	// Model is the model that produced the text, which may be a fallback.
	Model string
}

// Generator produces text from a prompt. Implementations must be safe for
// concurrent use.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}
