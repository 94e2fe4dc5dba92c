// Package vad provides concrete pipeline.VAD implementations: a
// dependency-free RMS energy detector and an ONNX Silero detector.
package vad

import (
	"math"

	"github.com/lokutor-ai/transcribe-pipeline/pkg/pipeline"
)

const (
	frameMS             = 30
	defaultMaxSilenceMS = 500
	defaultMaxSpeechMS  = 30000
)

// RMSDetector is a simple root-mean-square energy threshold detector:
// no model weights, no external dependency, a reasonable default for
// local development or low-resource deployments.
//
// Detect is stateless across calls by design: it only ever returns runs
// that closed within the supplied snapshot (found their trailing
// silence, or were force-cut at MaxSpeechMS). A run still open at the
// end of the snapshot is left unreported; the next Detect call, over a
// snapshot that has grown to include more audio, picks it up again from
// its original start. This means RMSDetector carries no state of its
// own — the pipeline's rolling buffer is the only state that matters.
type RMSDetector struct {
	threshold    float64
	sampleRate   int
	maxSilenceMS int64
	maxSpeechMS  int64
}

// NewRMSDetector builds a detector comparing each frameMS-wide frame's
// RMS energy against threshold (same [0,1] normalized scale as
// pipeline's speaker-verification energy gate).
func NewRMSDetector(threshold float64, sampleRate int) *RMSDetector {
	return &RMSDetector{
		threshold:    threshold,
		sampleRate:   sampleRate,
		maxSilenceMS: defaultMaxSilenceMS,
		maxSpeechMS:  defaultMaxSpeechMS,
	}
}

// Detect implements pipeline.VAD.
func (d *RMSDetector) Detect(snapshot pipeline.AudioSnapshot) ([]pipeline.SpeechInterval, error) {
	frameSamples := d.sampleRate * frameMS / 1000
	if frameSamples <= 0 {
		frameSamples = 1
	}
	frameBytes := frameSamples * 2
	if frameBytes <= 0 || len(snapshot.PCM) < frameBytes {
		return nil, nil
	}
	frameCount := len(snapshot.PCM) / frameBytes

	var out []pipeline.SpeechInterval
	runStart := -1
	silenceFrames := 0

	closeRun := func(endFrame int) {
		out = append(out, d.interval(snapshot, runStart, endFrame, frameSamples))
		runStart = -1
		silenceFrames = 0
	}

	for i := 0; i < frameCount; i++ {
		frame := snapshot.PCM[i*frameBytes : (i+1)*frameBytes]
		if rmsEnergy(frame) > d.threshold {
			runStart = firstNonNegative(runStart, i)
			silenceFrames = 0
		} else if runStart != -1 {
			silenceFrames++
			if int64(silenceFrames*frameMS) >= d.maxSilenceMS {
				closeRun(i - silenceFrames + 1)
				continue
			}
		}

		if runStart != -1 && int64((i-runStart+1)*frameMS) >= d.maxSpeechMS {
			closeRun(i + 1)
		}
	}

	return out, nil
}

func firstNonNegative(current, candidate int) int {
	if current != -1 {
		return current
	}
	return candidate
}

// interval converts a [startFrame, endFrame) frame range into an
// absolute-session-time SpeechInterval.
func (d *RMSDetector) interval(snapshot pipeline.AudioSnapshot, startFrame, endFrame, frameSamples int) pipeline.SpeechInterval {
	startOffset := snapshot.StartOffset + int64(startFrame*frameSamples)
	endOffset := snapshot.StartOffset + int64(endFrame*frameSamples)
	return pipeline.SpeechInterval{
		StartMS: startOffset * 1000 / int64(d.sampleRate),
		EndMS:   endOffset * 1000 / int64(d.sampleRate),
	}
}

// rmsEnergy computes normalized RMS energy over little-endian 16-bit
// signed PCM.
func rmsEnergy(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sumSquares float64
	for i := 0; i < n; i++ {
		sample := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		norm := float64(sample) / 32768.0
		sumSquares += norm * norm
	}
	return math.Sqrt(sumSquares / float64(n))
}
