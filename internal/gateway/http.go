package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xiy/audiomem/internal/config"
)

// New builds a Gateway backed by HTTP providers from config.
func New(cfg config.GatewayConfig) *Gateway {
	client := &http.Client{Timeout: cfg.RequestTimeout()}
	return &Gateway{
		Transcriber: &WhisperServerTranscriber{baseURL: cfg.TranscriberURL, language: cfg.DefaultLanguage, client: client},
		Classifier:  &HTTPClassifier{baseURL: cfg.ClassifierURL, client: client},
		Embedder:    &OllamaEmbedder{baseURL: cfg.EmbedderURL, model: cfg.EmbedderModel, dims: cfg.EmbeddingDims, client: client},
		Topics:      KeywordTopics{},
	}
}

// WhisperServerTranscriber calls a local whisper.cpp-style inference server.
type WhisperServerTranscriber struct {
	baseURL  string
	language string
	client   *http.Client
}

type whisperResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
}

func (w *WhisperServerTranscriber) Transcribe(ctx context.Context, audioPath string) (Transcription, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return Transcription{}, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return Transcription{}, fmt.Errorf("build multipart form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return Transcription{}, fmt.Errorf("copy audio into form: %w", err)
	}
	if w.language != "" {
		_ = mw.WriteField("language", w.language)
	}
	if err := mw.Close(); err != nil {
		return Transcription{}, fmt.Errorf("close multipart form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/inference", &body)
	if err != nil {
		return Transcription{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.client.Do(req)
	if err != nil {
		return Transcription{}, fmt.Errorf("transcribe request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Transcription{}, fmt.Errorf("transcriber returned status %d", resp.StatusCode)
	}

	var out whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Transcription{}, fmt.Errorf("decode transcriber response: %w", err)
	}
	return Transcription{Text: strings.TrimSpace(out.Text), DurationSeconds: out.Duration}, nil
}

// HTTPClassifier calls a local text-classification server that returns the
// best emotion label with a confidence score.
type HTTPClassifier struct {
	baseURL string
	client  *http.Client
}

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

func (c *HTTPClassifier) Classify(ctx context.Context, text string) (Emotion, error) {
	payload, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return Emotion{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(payload))
	if err != nil {
		return Emotion{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Emotion{}, fmt.Errorf("classify request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Emotion{}, fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}

	var out classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Emotion{}, fmt.Errorf("decode classifier response: %w", err)
	}
	if out.Label == "" {
		out.Label = "neutral"
	}
	return Emotion{Label: strings.ToLower(out.Label), Confidence: out.Score}, nil
}

// OllamaEmbedder uses a local Ollama instance for embeddings.
type OllamaEmbedder struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client
}

// NewOllamaEmbedder builds an embedder against an Ollama server.
func NewOllamaEmbedder(baseURL, model string, dims int, timeout time.Duration) *OllamaEmbedder {
	return &OllamaEmbedder{
		baseURL: baseURL,
		model:   model,
		dims:    dims,
		client:  &http.Client{Timeout: timeout},
	}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(ollamaRequest{Model: o.model, Prompt: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedder returned status %d", resp.StatusCode)
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("embedder returned empty vector for model %q", o.model)
	}
	return out.Embedding, nil
}

func (o *OllamaEmbedder) Dims() int { return o.dims }
