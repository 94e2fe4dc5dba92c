package speaker

import (
	"context"
	"math"

	"github.com/lokutor-ai/transcribe-pipeline/pkg/pipeline"
)

// localBands is the number of equal-length time windows LocalFeatureModel
// splits an utterance into. Each window contributes two features (RMS
// energy, zero-crossing rate), giving a fixed-length embedding regardless
// of utterance duration so SpeakerTracker's cosine comparison is always
// over vectors of the same dimensionality.
const localBands = 16

// LocalFeatureModel is a dependency-free pipeline.SpeakerModel: no ONNX
// weights, no network call, just coarse time-domain features (per-window
// RMS energy and zero-crossing rate) over little-endian 16-bit PCM. It is
// not a real voiceprint — two different speakers with similar loudness
// and pitch can produce similar vectors — but it gives local-only
// deployments and tests a working SpeakerModel without a model file or an
// API key.
type LocalFeatureModel struct{}

// NewLocalFeatureModel builds a LocalFeatureModel.
func NewLocalFeatureModel() *LocalFeatureModel {
	return &LocalFeatureModel{}
}

// Name implements pipeline.SpeakerModel.
func (m *LocalFeatureModel) Name() string { return "local-feature" }

// Verify implements pipeline.SpeakerModel. hints and ctx are accepted for
// interface conformance only: extraction is a pure, synchronous function
// of audioPCM.
func (m *LocalFeatureModel) Verify(ctx context.Context, audioPCM []byte, hints pipeline.SpeakerHints) (pipeline.Embedding, error) {
	samples := pcm16ToFloat(audioPCM)
	if len(samples) == 0 {
		return make(pipeline.Embedding, localBands*2), nil
	}

	windowLen := len(samples) / localBands
	if windowLen == 0 {
		windowLen = len(samples)
	}

	emb := make(pipeline.Embedding, 0, localBands*2)
	for i := 0; i < localBands; i++ {
		start := i * windowLen
		end := start + windowLen
		if i == localBands-1 || end > len(samples) {
			end = len(samples)
		}
		if start >= end {
			emb = append(emb, 0, 0)
			continue
		}
		window := samples[start:end]
		emb = append(emb, float32(rmsOf(window)), float32(zeroCrossingRate(window)))
	}

	return normalize(emb), nil
}

func pcm16ToFloat(pcm []byte) []float64 {
	n := len(pcm) / 2
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		sample := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		out[i] = float64(sample) / 32768.0
	}
	return out
}

func rmsOf(samples []float64) float64 {
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func zeroCrossingRate(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}

// normalize scales emb to unit length so cosine similarity behaves
// consistently regardless of how loud a given utterance was recorded.
func normalize(emb pipeline.Embedding) pipeline.Embedding {
	var sumSquares float64
	for _, v := range emb {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return emb
	}
	norm := math.Sqrt(sumSquares)
	out := make(pipeline.Embedding, len(emb))
	for i, v := range emb {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
