package vad

import (
	"fmt"
	"sync"

	"github.com/lokutor-ai/transcribe-pipeline/pkg/audio"
	"github.com/lokutor-ai/transcribe-pipeline/pkg/pipeline"
	"github.com/streamer45/silero-vad-go/speech"
)

// SileroConfig names the ONNX model and detector tuning for SileroDetector.
type SileroConfig struct {
	ModelPath            string
	SampleRate           int
	Threshold            float32
	MinSilenceDurationMs int
	SpeechPadMs          int
}

// SileroDetector is a pipeline.VAD backed by the Silero ONNX model.
// Rather than tracking a running turn state across many small realtime
// chunks, SileroDetector runs the detector fresh over each snapshot: the
// underlying
// speech.Detector is reset before every Detect call so that results
// depend only on the snapshot's own contents, matching the contract the
// rest of the pipeline (AudioBuffer, VADSegmenter) already assumes of a
// VAD collaborator.
type SileroDetector struct {
	mu         sync.Mutex
	detector   *speech.Detector
	sampleRate int
}

// NewSileroDetector loads the ONNX model at cfg.ModelPath.
func NewSileroDetector(cfg SileroConfig) (*SileroDetector, error) {
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 0.5
	}
	minSilence := cfg.MinSilenceDurationMs
	if minSilence <= 0 {
		minSilence = 500
	}

	detector, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            cfg.ModelPath,
		SampleRate:           sampleRate,
		Threshold:            threshold,
		MinSilenceDurationMs: minSilence,
		SpeechPadMs:          cfg.SpeechPadMs,
	})
	if err != nil {
		return nil, fmt.Errorf("silero-vad: load model: %w", err)
	}

	return &SileroDetector{detector: detector, sampleRate: sampleRate}, nil
}

// Detect implements pipeline.VAD.
func (d *SileroDetector) Detect(snapshot pipeline.AudioSnapshot) ([]pipeline.SpeechInterval, error) {
	samples := audio.ToFloat32(snapshot.PCM)
	if len(samples) == 0 {
		return nil, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.detector.Reset(); err != nil {
		return nil, fmt.Errorf("silero-vad: reset: %w", err)
	}

	segments, err := d.detector.Detect(samples)
	if err != nil {
		return nil, fmt.Errorf("silero-vad: detect: %w", err)
	}

	out := make([]pipeline.SpeechInterval, 0, len(segments))
	for _, seg := range segments {
		startOffset := snapshot.StartOffset + int64(seg.SpeechStartAt*float64(d.sampleRate))
		endOffset := snapshot.StartOffset + int64(seg.SpeechEndAt*float64(d.sampleRate))
		out = append(out, pipeline.SpeechInterval{
			StartMS: startOffset * 1000 / int64(d.sampleRate),
			EndMS:   endOffset * 1000 / int64(d.sampleRate),
		})
	}
	return out, nil
}

// Close releases the underlying ONNX session.
func (d *SileroDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.detector.Destroy()
}
