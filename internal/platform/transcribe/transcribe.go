// Package transcribe converts consult recording audio into plain text.
package transcribe

import (
	"context"
	"fmt"

	"github.com/whiskr/whiskr/internal/platform/ai"
)

// Transcriber turns an audio payload into a transcript. Implementations
// must be safe for concurrent use.
type Transcriber interface {
	Transcribe(ctx context.Context, mimeType string, audio []byte) (string, error)
}

// Instruction given to the model alongside the audio. The output feeds
// the consult transcript verbatim, so formatting requests are kept
// minimal.
const transcribeInstruction = `Transcribe this veterinary consultation recording verbatim.
Return only the spoken words as plain text. Do not summarize, annotate,
or add speaker labels. If parts are inaudible, write [inaudible].`

// Gemini transcribes audio through the shared generator.
type Gemini struct {
	gen ai.Generator
}

// NewGemini wraps a Generator as a Transcriber.
func NewGemini(gen ai.Generator) *Gemini {
	return &Gemini{gen: gen}
}

// Transcribe sends the audio inline with the transcription instruction.
func (g *Gemini) Transcribe(ctx context.Context, mimeType string, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("audio payload is empty")
	}
	if mimeType == "" {
		mimeType = "audio/webm"
	}

	result, err := g.gen.Generate(ctx, ai.Request{
		Prompt: transcribeInstruction,
		Media:  &ai.Media{MIMEType: mimeType, Data: audio},
		// Transcription wants fidelity, not creativity.
		Temperature: 0.1,
	})
	if err != nil {
		return "", fmt.Errorf("transcribing audio: %w", err)
	}
	return result.Text, nil
}

var _ Transcriber = (*Gemini)(nil)
