package pipeline

import (
	"context"
	"errors"
	"testing"
)

func speakerTestConfig() Config {
	cfg := DefaultConfig()
	cfg.SVThresholdBase = 0.42
	cfg.SVMinDurationMS = 400
	cfg.SVMinEnergyRMS = 0.003
	return cfg
}

func loudAudio(n int) []byte {
	out := make([]byte, n*bytesPerSample)
	for i := 0; i < n; i++ {
		v := int16(20000)
		out[2*i] = byte(v & 0xFF)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}

// captureSpeakerModel records the hints each Verify call receives, so
// tests can observe what the tracker derived from its turn history.
type captureSpeakerModel struct {
	emb   Embedding
	hints []SpeakerHints
}

func (c *captureSpeakerModel) Name() string { return "capture-speaker" }
func (c *captureSpeakerModel) Verify(ctx context.Context, audio []byte, hints SpeakerHints) (Embedding, error) {
	c.hints = append(c.hints, hints)
	return c.emb, nil
}

func TestSpeakerTrackerRejectsShortAudio(t *testing.T) {
	tr := NewSpeakerTracker(&mockSpeakerModel{emb: Embedding{1, 0}}, speakerTestConfig(), nil)
	_, err := tr.Identify(context.Background(), loudAudio(100), LanguageEn, SpeechInterval{StartMS: 0, EndMS: 100})
	if !errors.Is(err, ErrAudioTooShort) {
		t.Fatalf("err = %v, want ErrAudioTooShort", err)
	}
}

func TestSpeakerTrackerRejectsLowEnergyAudio(t *testing.T) {
	tr := NewSpeakerTracker(&mockSpeakerModel{emb: Embedding{1, 0}}, speakerTestConfig(), nil)
	quiet := make([]byte, 2000) // all-zero samples: RMS energy 0
	_, err := tr.Identify(context.Background(), quiet, LanguageEn, SpeechInterval{StartMS: 0, EndMS: 2000})
	if !errors.Is(err, ErrAudioLowEnergy) {
		t.Fatalf("err = %v, want ErrAudioLowEnergy", err)
	}
}

func TestSpeakerTrackerFirstCallAllocatesNewSpeaker(t *testing.T) {
	tr := NewSpeakerTracker(&mockSpeakerModel{emb: Embedding{1, 0, 0}}, speakerTestConfig(), nil)
	d, err := tr.Identify(context.Background(), loudAudio(2000), LanguageEn, SpeechInterval{StartMS: 0, EndMS: 2000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.IsNewSpeaker || d.SpeakerID == "" {
		t.Fatalf("expected a freshly allocated speaker, got %+v", d)
	}
}

func TestSpeakerTrackerMatchesReturningSpeaker(t *testing.T) {
	model := &mockSpeakerModel{emb: Embedding{1, 0, 0}}
	tr := NewSpeakerTracker(model, speakerTestConfig(), nil)

	first, err := tr.Identify(context.Background(), loudAudio(2000), LanguageEn, SpeechInterval{StartMS: 0, EndMS: 2000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := tr.Identify(context.Background(), loudAudio(2000), LanguageEn, SpeechInterval{StartMS: 2500, EndMS: 4500})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.IsNewSpeaker {
		t.Fatalf("expected second call to match the first speaker, got %+v", second)
	}
	if second.SpeakerID != first.SpeakerID {
		t.Fatalf("speaker id = %q, want %q", second.SpeakerID, first.SpeakerID)
	}
}

func TestSpeakerTrackerDistinctEmbeddingsYieldDistinctSpeakers(t *testing.T) {
	tr := NewSpeakerTracker(&mockSpeakerModel{emb: Embedding{1, 0, 0}}, speakerTestConfig(), nil)
	first, _ := tr.Identify(context.Background(), loudAudio(2000), LanguageEn, SpeechInterval{StartMS: 0, EndMS: 2000})

	tr.model = &mockSpeakerModel{emb: Embedding{0, 1, 0}} // orthogonal: cosine similarity 0
	second, err := tr.Identify(context.Background(), loudAudio(2000), LanguageEn, SpeechInterval{StartMS: 2500, EndMS: 4500})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.IsNewSpeaker || second.SpeakerID == first.SpeakerID {
		t.Fatalf("expected a distinct new speaker, got %+v (first was %q)", second, first.SpeakerID)
	}
}

func TestSpeakerTrackerHistoryDrivesContinuityHints(t *testing.T) {
	model := &captureSpeakerModel{emb: Embedding{1, 0, 0}}
	tr := NewSpeakerTracker(model, speakerTestConfig(), nil)

	first, err := tr.Identify(context.Background(), loudAudio(2000), LanguageEn, SpeechInterval{StartMS: 0, EndMS: 2000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := tr.Identify(context.Background(), loudAudio(2000), LanguageEn, SpeechInterval{StartMS: 4500, EndMS: 6500}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(model.hints) != 2 {
		t.Fatalf("model saw %d calls, want 2", len(model.hints))
	}
	if model.hints[0].LastSpeakerID != "" || model.hints[0].SilenceMS != 0 {
		t.Fatalf("first hints = %+v, want empty continuity context", model.hints[0])
	}
	if model.hints[1].LastSpeakerID != first.SpeakerID {
		t.Fatalf("second hints last speaker = %q, want %q", model.hints[1].LastSpeakerID, first.SpeakerID)
	}
	if model.hints[1].SilenceMS != 2500 {
		t.Fatalf("second hints silence = %d, want 2500 (gap since previous turn end)", model.hints[1].SilenceMS)
	}
}

func TestSpeakerTrackerHistoryCapped(t *testing.T) {
	tr := NewSpeakerTracker(&mockSpeakerModel{emb: Embedding{1, 0, 0}}, speakerTestConfig(), nil)

	for i := 0; i < speakerHistoryCap+3; i++ {
		start := int64(i) * 3000
		if _, err := tr.Identify(context.Background(), loudAudio(2000), LanguageEn, SpeechInterval{StartMS: start, EndMS: start + 2000}); err != nil {
			t.Fatalf("unexpected error at i=%d: %v", i, err)
		}
	}

	if len(tr.history) != speakerHistoryCap {
		t.Fatalf("history len = %d, want %d", len(tr.history), speakerHistoryCap)
	}
	last := tr.history[len(tr.history)-1]
	wantEnd := int64(speakerHistoryCap+2)*3000 + 2000
	if last.endMS != wantEnd {
		t.Fatalf("latest turn end = %d, want %d", last.endMS, wantEnd)
	}
}

func TestSpeakerTrackerRegistryEvictsLRUOnOverflow(t *testing.T) {
	tr := NewSpeakerTracker(&mockSpeakerModel{}, speakerTestConfig(), nil)

	var firstID string
	for i := 0; i < speakerRegistryCap+1; i++ {
		// each orthogonal-ish embedding (one-hot over a growing dimension)
		// is guaranteed not to match any prior entry, forcing a fresh
		// allocation and, past capacity, an eviction.
		emb := make(Embedding, speakerRegistryCap+2)
		emb[i] = 1
		tr.model = &mockSpeakerModel{emb: emb}
		start := int64(i) * 3000
		d, err := tr.Identify(context.Background(), loudAudio(2000), LanguageEn, SpeechInterval{StartMS: start, EndMS: start + 2000})
		if err != nil {
			t.Fatalf("unexpected error at i=%d: %v", i, err)
		}
		if i == 0 {
			firstID = d.SpeakerID
		}
	}

	if tr.registry.Len() != speakerRegistryCap {
		t.Fatalf("registry len = %d, want %d", tr.registry.Len(), speakerRegistryCap)
	}
	if _, ok := tr.byID[firstID]; ok {
		t.Fatalf("expected the first-allocated speaker to be evicted")
	}
}

func TestEffectiveThresholdAdjustments(t *testing.T) {
	tr := NewSpeakerTracker(&mockSpeakerModel{}, speakerTestConfig(), nil)

	base := tr.effectiveThreshold(SpeakerHints{DurationMS: 2000}, "")
	if base != 0.42 {
		t.Fatalf("base threshold = %v, want 0.42", base)
	}

	short := tr.effectiveThreshold(SpeakerHints{DurationMS: 500}, "")
	if short != 0.47 {
		t.Fatalf("short-utterance threshold = %v, want 0.47", short)
	}

	continuation := tr.effectiveThreshold(SpeakerHints{DurationMS: 2000, SilenceMS: 2500, LastSpeakerID: "x"}, "x")
	if continuation != 0.39 {
		t.Fatalf("continuation threshold = %v, want 0.39", continuation)
	}

	// continuation relief only applies to the same candidate as the last
	// speaker; a different candidate gets no relief.
	notContinuation := tr.effectiveThreshold(SpeakerHints{DurationMS: 2000, SilenceMS: 2500, LastSpeakerID: "x"}, "y")
	if notContinuation != 0.42 {
		t.Fatalf("non-continuation threshold = %v, want 0.42", notContinuation)
	}
}

func TestEffectiveThresholdClamped(t *testing.T) {
	cfg := speakerTestConfig()
	cfg.SVThresholdBase = 0.29
	tr := NewSpeakerTracker(&mockSpeakerModel{}, cfg, nil)
	got := tr.effectiveThreshold(SpeakerHints{DurationMS: 2000}, "")
	if got != 0.30 {
		t.Fatalf("threshold = %v, want clamped to 0.30", got)
	}
}
