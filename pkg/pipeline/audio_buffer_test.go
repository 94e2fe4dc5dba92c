package pipeline

import (
	"testing"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SampleRate = 1000 // 1 sample per ms, keeps test arithmetic simple
	cfg.VADBufferSeconds = 1
	return cfg
}

func samples(n int) []byte {
	return make([]byte, n*bytesPerSample)
}

func TestAudioBufferAppendWithinCapacity(t *testing.T) {
	buf := NewAudioBuffer(testConfig())
	buf.Append(samples(100))
	if buf.Fill() != 100*bytesPerSample {
		t.Fatalf("fill = %d, want %d", buf.Fill(), 100*bytesPerSample)
	}
	if buf.StartOffset() != 0 {
		t.Fatalf("start offset = %d, want 0", buf.StartOffset())
	}
}

func TestAudioBufferOverflowTrim(t *testing.T) {
	cfg := testConfig() // capacity = 1000 samples, threshold 0.8, ratio 0.3
	buf := NewAudioBuffer(cfg)

	buf.Append(samples(700)) // under the 800-sample threshold, no trim yet
	if buf.StartOffset() != 0 {
		t.Fatalf("start offset after first append = %d, want 0", buf.StartOffset())
	}

	buf.Append(samples(200)) // 700+200 crosses 800: trims ceil(0.3*1000)=300 first
	if buf.StartOffset() != 300 {
		t.Fatalf("start offset after overflow append = %d, want 300", buf.StartOffset())
	}
	if buf.fillSamplesForTest() != 600 {
		t.Fatalf("fill samples = %d, want 600", buf.fillSamplesForTest())
	}
}

func TestAudioBufferRangeClampsToHeldWindow(t *testing.T) {
	buf := NewAudioBuffer(testConfig())
	buf.Append(samples(500))

	// fully out of range (before any data)
	if got := buf.Range(-100, -1); got != nil {
		t.Fatalf("expected nil for out-of-range, got %d bytes", len(got))
	}

	got := buf.Range(0, 500)
	if len(got) != 500*bytesPerSample {
		t.Fatalf("range length = %d, want %d", len(got), 500*bytesPerSample)
	}
}

func TestAudioBufferSilenceResetKeepsTrailingWindow(t *testing.T) {
	cfg := testConfig()
	cfg.SilenceResetSeconds = 1
	cfg.KeepAudioSeconds = 0
	buf := NewAudioBuffer(cfg)
	buf.Append(samples(500))

	past := time.Now().Add(-2 * time.Second)
	buf.lastVoice = past

	buf.MaybeSilenceReset(time.Now())
	if buf.fillSamplesForTest() != 0 {
		t.Fatalf("fill after silence reset = %d, want 0", buf.fillSamplesForTest())
	}
	if buf.StartOffset() != 500 {
		t.Fatalf("start offset after silence reset = %d, want 500", buf.StartOffset())
	}
}

func TestAudioBufferSilenceResetNoopWhenRecentlyActive(t *testing.T) {
	buf := NewAudioBuffer(testConfig())
	buf.Append(samples(500))
	buf.NoteVoiceActivityAt(500)

	buf.MaybeSilenceReset(time.Now())
	if buf.fillSamplesForTest() != 500 {
		t.Fatalf("fill after no-op reset = %d, want 500", buf.fillSamplesForTest())
	}
}

// fillSamplesForTest exposes the unexported fillSamples for assertions.
func (b *AudioBuffer) fillSamplesForTest() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fillSamples()
}
