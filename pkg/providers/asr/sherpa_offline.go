package asr

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/lokutor-ai/transcribe-pipeline/pkg/audio"
	"github.com/lokutor-ai/transcribe-pipeline/pkg/pipeline"
)

// SherpaWhisperConfig names the model files an offline Whisper-family
// sherpa-onnx recognizer is built from.
type SherpaWhisperConfig struct {
	Encoder    string
	Decoder    string
	Tokens     string
	Provider   string // "cpu", "cuda", "coreml"; empty defaults to "cpu"
	NumThreads int
	SampleRate int
}

// SherpaOfflineModel is a local, dependency-on-ONNX-weights-only
// pipeline.ASRModel backed by sherpa-onnx's offline (non-streaming)
// Whisper recognizer. Unlike the HTTP backends it never leaves the
// process, at the cost of needing model weights on disk.
//
// sherpa-onnx's recognizer is not safe for concurrent Decode calls on
// the same OfflineRecognizer from multiple streams at once; mu
// serializes access.
type SherpaOfflineModel struct {
	mu         sync.Mutex
	recognizer *sherpaOfflineRecognizer
	sampleRate int
}

// NewSherpaOfflineModel loads the Whisper-family model described by cfg.
// Language is fixed at construction: sherpa-onnx's OfflineRecognizerConfig
// bakes the target language (or "" for auto-detect) into the model
// config, unlike the HTTP backends which accept it per call.
func NewSherpaOfflineModel(cfg SherpaWhisperConfig, lang pipeline.Language) (*SherpaOfflineModel, error) {
	language := string(lang)
	if lang == pipeline.LanguageAuto {
		language = ""
	}

	recCfg := &sherpaOfflineRecognizerConfig{}
	recCfg.ModelConfig.Whisper.Encoder = cfg.Encoder
	recCfg.ModelConfig.Whisper.Decoder = cfg.Decoder
	recCfg.ModelConfig.Whisper.Language = language
	recCfg.ModelConfig.Whisper.Task = "transcribe"
	recCfg.ModelConfig.Whisper.TailPaddings = -1
	recCfg.ModelConfig.Tokens = cfg.Tokens
	recCfg.ModelConfig.NumThreads = cfg.NumThreads
	if recCfg.ModelConfig.NumThreads <= 0 {
		recCfg.ModelConfig.NumThreads = 1
	}
	recCfg.ModelConfig.Provider = cfg.Provider
	if recCfg.ModelConfig.Provider == "" {
		recCfg.ModelConfig.Provider = "cpu"
	}
	recCfg.DecodingMethod = "greedy_search"

	recognizer := newSherpaOfflineRecognizer(recCfg)
	if recognizer == nil {
		return nil, fmt.Errorf("sherpa-asr: failed to create offline recognizer")
	}

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	return &SherpaOfflineModel{recognizer: recognizer, sampleRate: sampleRate}, nil
}

// Name implements pipeline.ASRModel.
func (m *SherpaOfflineModel) Name() string { return "sherpa-onnx-whisper" }

// Transcribe implements pipeline.ASRModel by decoding a single offline
// stream over audioPCM. lang is accepted for interface conformance only:
// the language is fixed at model-load time (see NewSherpaOfflineModel).
func (m *SherpaOfflineModel) Transcribe(ctx context.Context, audioPCM []byte, lang pipeline.Language) (pipeline.RawText, error) {
	samples := audio.ToFloat32(audioPCM)

	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-ctx.Done():
		return pipeline.RawText{}, ctx.Err()
	default:
	}

	stream := newSherpaOfflineStream(m.recognizer)
	if stream == nil {
		return pipeline.RawText{}, fmt.Errorf("sherpa-asr: failed to create offline stream")
	}
	defer deleteSherpaOfflineStream(stream)

	stream.AcceptWaveform(m.sampleRate, samples)
	m.recognizer.Decode(stream)

	text := strings.TrimSpace(stream.GetResult().Text)
	return pipeline.RawText{Text: text, Confidence: 1.0}, nil
}

// Close releases the underlying recognizer's native resources.
func (m *SherpaOfflineModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recognizer != nil {
		deleteSherpaOfflineRecognizer(m.recognizer)
		m.recognizer = nil
	}
	return nil
}
