package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lokutor-ai/transcribe-pipeline/pkg/pipeline"
)

// AssemblyAIModel is an upload-then-poll client for AssemblyAI's
// asynchronous transcription API: upload the raw bytes, submit a
// transcript job against the returned URL, then poll until it completes.
type AssemblyAIModel struct {
	apiKey   string
	pollWait time.Duration
}

// NewAssemblyAIModel builds an AssemblyAI-backed ASRModel.
func NewAssemblyAIModel(apiKey string) *AssemblyAIModel {
	return &AssemblyAIModel{apiKey: apiKey, pollWait: 500 * time.Millisecond}
}

// Name implements pipeline.ASRModel.
func (m *AssemblyAIModel) Name() string { return "assemblyai-asr" }

// Transcribe implements pipeline.ASRModel.
func (m *AssemblyAIModel) Transcribe(ctx context.Context, audioPCM []byte, lang pipeline.Language) (pipeline.RawText, error) {
	uploadURL, err := m.upload(ctx, audioPCM)
	if err != nil {
		return pipeline.RawText{}, err
	}

	transcriptID, err := m.submit(ctx, uploadURL, lang)
	if err != nil {
		return pipeline.RawText{}, err
	}

	for {
		select {
		case <-ctx.Done():
			return pipeline.RawText{}, ctx.Err()
		case <-time.After(m.pollWait):
			text, status, err := m.poll(ctx, transcriptID)
			if err != nil {
				return pipeline.RawText{}, err
			}
			switch status {
			case "completed":
				return pipeline.RawText{Text: text, Confidence: 1.0}, nil
			case "error":
				return pipeline.RawText{}, fmt.Errorf("assemblyai-asr: transcription failed")
			}
		}
	}
}

func (m *AssemblyAIModel) upload(ctx context.Context, audioPCM []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", "https://api.assemblyai.com/v2/upload", bytes.NewReader(audioPCM))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", m.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		UploadURL string `json:"upload_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.UploadURL, nil
}

func (m *AssemblyAIModel) submit(ctx context.Context, uploadURL string, lang pipeline.Language) (string, error) {
	payload := map[string]interface{}{"audio_url": uploadURL}
	if lang != "" && lang != pipeline.LanguageAuto {
		payload["language_code"] = string(lang)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", "https://api.assemblyai.com/v2/transcript", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.ID, nil
}

func (m *AssemblyAIModel) poll(ctx context.Context, id string) (text, status string, err error) {
	req, err := http.NewRequestWithContext(ctx, "GET", "https://api.assemblyai.com/v2/transcript/"+id, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Authorization", m.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	var result struct {
		Status string `json:"status"`
		Text   string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", "", err
	}
	return result.Text, result.Status, nil
}
