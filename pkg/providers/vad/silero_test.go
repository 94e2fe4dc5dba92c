package vad

import (
	"testing"

	"github.com/lokutor-ai/transcribe-pipeline/pkg/pipeline"
)

// Both detectors must satisfy pipeline.VAD. SileroDetector needs an ONNX
// model file at runtime, so its Detect path is exercised against real
// weights elsewhere; here we only pin the interface and constructor
// validation.
var (
	_ pipeline.VAD = (*RMSDetector)(nil)
	_ pipeline.VAD = (*SileroDetector)(nil)
)

func TestNewSileroDetectorRejectsMissingModelPath(t *testing.T) {
	_, err := NewSileroDetector(SileroConfig{})
	if err == nil {
		t.Fatal("expected an error constructing a detector with no model path")
	}
}
