// Package speaker provides concrete pipeline.SpeakerModel implementations:
// an HTTP-backed embedding extractor for hosted voice-biometrics services,
// and a dependency-free local extractor for offline deployments.
package speaker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/lokutor-ai/transcribe-pipeline/pkg/audio"
	"github.com/lokutor-ai/transcribe-pipeline/pkg/pipeline"
)

// HTTPEmbeddingModel is a multipart-form client against a hosted
// speaker-embedding endpoint, shaped the same way as the asr package's
// WhisperHTTPModel: a "file" field carrying WAV audio, a
// {"embedding": [...]} JSON response.
type HTTPEmbeddingModel struct {
	apiKey     string
	url        string
	name       string
	sampleRate int
}

// NewHTTPEmbeddingModel builds a client against url. name identifies the
// backend in logs and error messages.
func NewHTTPEmbeddingModel(name, apiKey, url string, sampleRate int) *HTTPEmbeddingModel {
	return &HTTPEmbeddingModel{apiKey: apiKey, url: url, name: name, sampleRate: sampleRate}
}

// Name implements pipeline.SpeakerModel.
func (m *HTTPEmbeddingModel) Name() string { return m.name }

// Verify implements pipeline.SpeakerModel by wrapping audio in a WAV
// container and posting it as multipart form data. hints is accepted for
// interface conformance; the embedding endpoint has no use for it.
func (m *HTTPEmbeddingModel) Verify(ctx context.Context, audioPCM []byte, hints pipeline.SpeakerHints) (pipeline.Embedding, error) {
	wavData := audio.NewWavBuffer(audioPCM, m.sampleRate)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, bytes.NewReader(wavData)); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", m.url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return nil, fmt.Errorf("%s error (status %d): %v", m.name, resp.StatusCode, errResp)
	}

	var result struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("%s: empty embedding in response", m.name)
	}

	return pipeline.Embedding(result.Embedding), nil
}
