// Package asr provides concrete pipeline.ASRModel implementations:
// HTTP-backed Whisper-compatible recognizers and an offline sherpa-onnx
// recognizer.
package asr

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

// WhisperHTTPModel is a multipart-form client for any Whisper-compatible
// transcription endpoint (Groq, OpenAI, and self-hosted whisper.cpp
// servers all share this contract: a "file" field carrying WAV audio, an
// optional "language" field, and a {"text": "..."} JSON response).
type WhisperHTTPModel struct {
	apiKey     string
	url        string
	model      string
	name       string
	sampleRate int
}

// NewWhisperHTTPModel builds a client against url using model as the
// "model" form field. name identifies the backend in logs and error
// messages (e.g. "groq-whisper", "openai-whisper").
func NewWhisperHTTPModel(name, apiKey, url, model string, sampleRate int) *WhisperHTTPModel {
	return &WhisperHTTPModel{
		apiKey:     apiKey,
		url:        url,
		model:      model,
		name:       name,
		sampleRate: sampleRate,
	}
}

// Name implements pipeline.ASRModel.
func (m *WhisperHTTPModel) Name() string { return m.name }

// Transcribe implements pipeline.ASRModel by wrapping audio in a WAV
// container and posting it as multipart form data.
func (m *WhisperHTTPModel) Transcribe(ctx context.Context, audioPCM []byte, lang pipeline.Language) (pipeline.RawText, error) {
	wavData := audio.NewWavBuffer(audioPCM, m.sampleRate)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("model", m.model); err != nil {
		return pipeline.RawText{}, err
	}
	if lang != "" && lang != pipeline.LanguageAuto {
		if err := writer.WriteField("language", string(lang)); err != nil {
			return pipeline.RawText{}, err
		}
	}

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return pipeline.RawText{}, err
	}
	if _, err := io.Copy(part, bytes.NewReader(wavData)); err != nil {
		return pipeline.RawText{}, err
	}
	if err := writer.Close(); err != nil {
		return pipeline.RawText{}, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", m.url, body)
	if err != nil {
		return pipeline.RawText{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return pipeline.RawText{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return pipeline.RawText{}, fmt.Errorf("%s error (status %d): %v", m.name, resp.StatusCode, errResp)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return pipeline.RawText{}, err
	}

	return pipeline.RawText{Text: result.Text, Confidence: 1.0}, nil
}

// NewGroqModel builds the Groq whisper-large-v3-turbo backend.
func NewGroqModel(apiKey string, sampleRate int) *WhisperHTTPModel {
	return NewWhisperHTTPModel(
		"groq-whisper",
		apiKey,
		"https://api.groq.com/openai/v1/audio/transcriptions",
		"whisper-large-v3-turbo",
		sampleRate,
	)
}

// NewOpenAIModel builds the OpenAI whisper-1 backend.
func NewOpenAIModel(apiKey string, sampleRate int) *WhisperHTTPModel {
	return NewWhisperHTTPModel(
		"openai-whisper",
		apiKey,
		"https://api.openai.com/v1/audio/transcriptions",
		"whisper-1",
		sampleRate,
	)
}
