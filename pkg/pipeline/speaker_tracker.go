package pipeline

import (
	"container/list"
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
)

// registryEntry is one known speaker in a session's embedding registry.
type registryEntry struct {
	id  string
	emb Embedding
}

// speakerTurn is one entry in the tracker's recent-turn history.
type speakerTurn struct {
	id    string
	endMS int64
}

// SpeakerTracker is C4: it turns a raw speaker embedding into a speaker
// identity. It owns one session's registry of known embeddings, the
// dynamic similarity threshold, and the short history of recent turns
// that supplies the continuity hints (last speaker, silence since their
// turn ended); the embedding extraction itself is delegated to a
// SpeakerModel collaborator, which is the only process-wide piece.
// Audio too short or too quiet to embed reliably never reaches the
// model at all.
type SpeakerTracker struct {
	mu sync.Mutex

	model  SpeakerModel
	logger Logger

	thresholdBase float64
	minDurationMS int64
	minEnergyRMS  float64

	registry *list.List // of *registryEntry, front = most recently matched
	byID     map[string]*list.Element

	history []speakerTurn // recent turns, oldest first, capped at speakerHistoryCap
}

// NewSpeakerTracker builds a tracker backed by model, using the
// thresholds in cfg.
func NewSpeakerTracker(model SpeakerModel, cfg Config, logger Logger) *SpeakerTracker {
	if logger == nil {
		logger = NoOpLogger{}
	}
	return &SpeakerTracker{
		model:         model,
		logger:        logger,
		thresholdBase: cfg.SVThresholdBase,
		minDurationMS: cfg.SVMinDurationMS,
		minEnergyRMS:  cfg.SVMinEnergyRMS,
		registry:      list.New(),
		byID:          make(map[string]*list.Element),
	}
}

// Identify assigns a speaker identity to the speech covering interval.
// Audio below the configured minimum duration or RMS energy is rejected
// up front with a Recoverable decision and never reaches the model: the
// caller is expected to inherit the previous speaker id in that case.
// The continuity hints (last speaker id, silence since their turn ended)
// are derived from the tracker's own turn history, so threshold relief
// for a same-speaker continuation reflects what this tracker actually
// identified last, not what the caller has emitted so far.
func (t *SpeakerTracker) Identify(ctx context.Context, audio []byte, lang Language, interval SpeechInterval) (SpeakerDecision, error) {
	durationMS := interval.EndMS - interval.StartMS
	if durationMS < t.minDurationMS {
		return SpeakerDecision{Recoverable: SpeakerRecoverableTooShort}, ErrAudioTooShort
	}
	if rms := rmsEnergy(audio); rms < t.minEnergyRMS {
		return SpeakerDecision{Recoverable: SpeakerRecoverableLowEnergy}, ErrAudioLowEnergy
	}

	t.mu.Lock()
	hints := SpeakerHints{Language: lang, DurationMS: durationMS}
	if n := len(t.history); n > 0 {
		last := t.history[n-1]
		hints.LastSpeakerID = last.id
		hints.SilenceMS = interval.StartMS - last.endMS
	}
	t.mu.Unlock()

	emb, err := t.model.Verify(ctx, audio, hints)
	if err != nil {
		return SpeakerDecision{}, fmt.Errorf("%w: %s: %v", ErrModelError, t.model.Name(), err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	bestID := ""
	bestScore := -1.0
	for el := t.registry.Front(); el != nil; el = el.Next() {
		entry := el.Value.(*registryEntry)
		score := cosineSimilarity(emb, entry.emb)
		if score > bestScore {
			bestScore = score
			bestID = entry.id
		}
	}

	threshold := t.effectiveThreshold(hints, bestID)

	if bestID != "" && bestScore >= threshold {
		t.touchLocked(bestID, emb)
		t.recordTurnLocked(bestID, interval.EndMS)
		return SpeakerDecision{SpeakerID: bestID, Score: bestScore, IsNewSpeaker: false}, nil
	}

	newID := uuid.NewString()
	t.insertLocked(newID, emb)
	t.recordTurnLocked(newID, interval.EndMS)

	score := bestScore
	if score < 0 {
		score = 0
	}
	return SpeakerDecision{SpeakerID: newID, Score: score, IsNewSpeaker: true}, nil
}

// effectiveThreshold adjusts thresholdBase: a short
// utterance yields a noisier embedding, so the bar to match is raised to
// demand stronger evidence; a long-ish pause followed by the same
// candidate speaker continuing is the common "breath between sentences"
// case, so the bar is relaxed for that specific candidate only.
// candidateID is the best-scoring registry match found before the
// threshold is applied, or "" if the registry is empty. Caller must hold
// mu (candidateID was read from registry state taken under the lock).
func (t *SpeakerTracker) effectiveThreshold(hints SpeakerHints, candidateID string) float64 {
	threshold := t.thresholdBase
	if hints.DurationMS < 1000 {
		threshold += 0.05
	}
	if hints.SilenceMS > 2000 && candidateID != "" && candidateID == hints.LastSpeakerID {
		threshold -= 0.03
	}
	if threshold < 0.30 {
		threshold = 0.30
	}
	if threshold > 0.70 {
		threshold = 0.70
	}
	return threshold
}

// touchLocked refreshes a known speaker's stored embedding and moves it
// to the front of the LRU list. Caller must hold mu.
func (t *SpeakerTracker) touchLocked(id string, emb Embedding) {
	el, ok := t.byID[id]
	if !ok {
		return
	}
	el.Value.(*registryEntry).emb = emb
	t.registry.MoveToFront(el)
}

// insertLocked adds a freshly allocated speaker to the registry, evicting
// the least-recently-matched entry if the registry is at capacity.
// Caller must hold mu.
func (t *SpeakerTracker) insertLocked(id string, emb Embedding) {
	if t.registry.Len() >= speakerRegistryCap {
		tail := t.registry.Back()
		if tail != nil {
			evicted := tail.Value.(*registryEntry)
			t.registry.Remove(tail)
			delete(t.byID, evicted.id)
			t.logger.Debug("speaker registry eviction", "evicted_id", evicted.id)
		}
	}
	el := t.registry.PushFront(&registryEntry{id: id, emb: emb})
	t.byID[id] = el
}

// recordTurnLocked appends a (speaker id, turn end) pair to the
// recent-turn history, capped at speakerHistoryCap. Caller must hold mu.
func (t *SpeakerTracker) recordTurnLocked(id string, endMS int64) {
	t.history = append(t.history, speakerTurn{id: id, endMS: endMS})
	if len(t.history) > speakerHistoryCap {
		t.history = t.history[len(t.history)-speakerHistoryCap:]
	}
}

// rmsEnergy computes the root-mean-square energy of 16-bit signed PCM,
// normalized to [0, 1].
func rmsEnergy(pcm []byte) float64 {
	n := len(pcm) / bytesPerSample
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

// cosineSimilarity compares two embeddings of possibly differing length
// (mismatched length compares only the overlapping prefix and returns 0
// similarity beyond it never being produced by a consistent model in
// practice). A zero vector on either side yields 0 similarity rather
// than dividing by zero.
func cosineSimilarity(a, b Embedding) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
