package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/lokutor-ai/transcribe-pipeline/pkg/pipeline"
)

// DeepgramModel streams raw PCM to Deepgram's prerecorded endpoint.
type DeepgramModel struct {
	apiKey     string
	url        string
	sampleRate int
}

// NewDeepgramModel builds a Deepgram-backed ASRModel.
func NewDeepgramModel(apiKey string, sampleRate int) *DeepgramModel {
	return &DeepgramModel{
		apiKey:     apiKey,
		url:        "https://api.deepgram.com/v1/listen",
		sampleRate: sampleRate,
	}
}

// Name implements pipeline.ASRModel.
func (m *DeepgramModel) Name() string { return "deepgram-asr" }

// Transcribe implements pipeline.ASRModel.
func (m *DeepgramModel) Transcribe(ctx context.Context, audioPCM []byte, lang pipeline.Language) (pipeline.RawText, error) {
	u, err := url.Parse(m.url)
	if err != nil {
		return pipeline.RawText{}, err
	}

	params := u.Query()
	params.Set("model", "nova-2")
	params.Set("smart_format", "true")
	if lang != "" && lang != pipeline.LanguageAuto {
		params.Set("language", string(lang))
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), bytes.NewReader(audioPCM))
	if err != nil {
		return pipeline.RawText{}, err
	}

	req.Header.Set("Authorization", "Token "+m.apiKey)
	req.Header.Set("Content-Type", fmt.Sprintf("audio/l16; rate=%d; channels=1", m.sampleRate))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return pipeline.RawText{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return pipeline.RawText{}, fmt.Errorf("deepgram error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Results struct {
			Channels []struct {
				Alternatives []struct {
					Transcript string  `json:"transcript"`
					Confidence float64 `json:"confidence"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return pipeline.RawText{}, err
	}

	if len(result.Results.Channels) == 0 || len(result.Results.Channels[0].Alternatives) == 0 {
		return pipeline.RawText{}, nil
	}

	alt := result.Results.Channels[0].Alternatives[0]
	return pipeline.RawText{Text: alt.Transcript, Confidence: alt.Confidence}, nil
}
