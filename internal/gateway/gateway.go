// Package gateway wraps the external model services (speech-to-text,
// emotion classification, embedding, topic extraction) behind narrow
// interfaces so the rest of the system can be tested with fakes.
package gateway

import "context"

// Transcription is the result of one speech-to-text call.
type Transcription struct {
	Text            string
	DurationSeconds float64
}

// Emotion is the single best label for a piece of text.
type Emotion struct {
	Label      string
	Confidence float64
}

// Transcriber converts an audio file on disk into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (Transcription, error)
}

// Classifier assigns a dominant emotion label to text.
type Classifier interface {
	Classify(ctx context.Context, text string) (Emotion, error)
}

// Embedder produces a fixed-length vector for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dims() int
}

// TopicExtractor labels text with a topic given a reference corpus. Outlier
// results map to a label derived from the text itself.
type TopicExtractor interface {
	ExtractTopic(ctx context.Context, text string, corpus []string) (string, error)
}

// Gateway bundles the model services consumed by the service layer and the
// ingestion pipeline. Constructed once at process start and injected.
type Gateway struct {
	Transcriber Transcriber
	Classifier  Classifier
	Embedder    Embedder
	Topics      TopicExtractor
}

// Audio formats accepted for fragment metadata hints.
var validFormats = map[string]struct{}{
	"wav":  {},
	"mp3":  {},
	"flac": {},
	"m4a":  {},
	"ogg":  {},
}

// NormalizeFormat validates an audio format hint, falling back to wav when
// absent or unrecognized.
func NormalizeFormat(hint string) string {
	if _, ok := validFormats[hint]; ok {
		return hint
	}
	return "wav"
}
