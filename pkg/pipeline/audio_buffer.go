package pipeline

import (
	"math"
	"sync"
	"time"
)

const bytesPerSample = 2 // 16-bit signed PCM

// AudioBuffer is a bounded rolling buffer of mono 16-bit PCM, indexed by
// an absolute sample offset that is monotonic for the life of the
// session — it never resets to zero, even across a silence reset.
type AudioBuffer struct {
	mu sync.Mutex

	data []byte // physical storage, always data[0] == sample at startOffset

	capacitySamples int
	cleanupThresh   float64 // fraction of capacity that triggers overflow trim
	cleanupRatio    float64 // fraction of capacity discarded on overflow

	startOffset int64 // absolute sample offset of data[0]
	lastVoice   time.Time

	silenceResetSeconds int
	keepAudioSeconds    int
	sampleRate          int
}

// NewAudioBuffer builds a buffer sized for cfg.VADBufferSeconds at
// cfg.SampleRate.
func NewAudioBuffer(cfg Config) *AudioBuffer {
	return &AudioBuffer{
		data:                make([]byte, 0, cfg.VADBufferSeconds*cfg.SampleRate*bytesPerSample),
		capacitySamples:     cfg.VADBufferSeconds * cfg.SampleRate,
		cleanupThresh:       cfg.VADBufferCleanupThreshold,
		cleanupRatio:        cfg.VADBufferCleanupRatio,
		silenceResetSeconds: cfg.SilenceResetSeconds,
		keepAudioSeconds:    cfg.KeepAudioSeconds,
		sampleRate:          cfg.SampleRate,
		lastVoice:           time.Now(),
	}
}

// fillSamples returns the current number of buffered samples. Caller
// must hold mu.
func (b *AudioBuffer) fillSamples() int {
	return len(b.data) / bytesPerSample
}

// Append appends mono 16-bit PCM samples. If appending would exceed
// cleanupThresh of capacity, the overflow trim policy fires first:
// ceil(cleanupRatio * capacity) samples are discarded from the head and
// startOffset advances by that count. Append never blocks and never
// fails.
func (b *AudioBuffer) Append(samples []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	incoming := len(samples) / bytesPerSample
	if b.fillSamples()+incoming >= int(float64(b.capacitySamples)*b.cleanupThresh) {
		b.trimLocked()
	}

	b.data = append(b.data, samples...)

	// Overflow can still occur after a single trim pass if the incoming
	// chunk itself is larger than the freed space; trim again until the
	// invariant fill <= capacity holds.
	for b.fillSamples() > b.capacitySamples {
		b.trimLocked()
	}
}

// trimLocked discards ceil(cleanupRatio * capacity) samples from the
// head and advances startOffset. Caller must hold mu.
func (b *AudioBuffer) trimLocked() {
	discard := int(math.Ceil(b.cleanupRatio * float64(b.capacitySamples)))
	if discard > b.fillSamples() {
		discard = b.fillSamples()
	}
	discardBytes := discard * bytesPerSample
	b.data = append(b.data[:0], b.data[discardBytes:]...)
	b.startOffset += int64(discard)
}

// Snapshot returns a read-only copy of the buffered PCM and the absolute
// sample range it covers. Two concurrent readers observe the same data
// for the same range: the returned slice is a copy, never aliased to
// internal storage.
func (b *AudioBuffer) Snapshot() AudioSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := make([]byte, len(b.data))
	copy(cp, b.data)
	return AudioSnapshot{
		PCM:         cp,
		StartOffset: b.startOffset,
		EndOffset:   b.startOffset + int64(len(cp)/bytesPerSample),
	}
}

// Range returns a read-only copy of the PCM between absolute sample
// offsets [startOffset, endOffset). A range no longer held (trimmed away,
// or not yet appended) returns an empty slice rather than an error —
// trimming is policy, not failure.
func (b *AudioBuffer) Range(startOffset, endOffset int64) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	bufStart := b.startOffset
	bufEnd := b.startOffset + int64(b.fillSamples())

	if startOffset < bufStart {
		startOffset = bufStart
	}
	if endOffset > bufEnd {
		endOffset = bufEnd
	}
	if startOffset >= endOffset {
		return nil
	}

	lo := (startOffset - bufStart) * bytesPerSample
	hi := (endOffset - bufStart) * bytesPerSample
	out := make([]byte, hi-lo)
	copy(out, b.data[lo:hi])
	return out
}

// NoteVoiceActivityAt records the most recent VAD-detected voice
// activity; endOffset is unused beyond marking "now" but keeps the
// call site in the absolute-offset vocabulary the rest of the buffer
// API speaks.
func (b *AudioBuffer) NoteVoiceActivityAt(endOffset int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastVoice = time.Now()
}

// MaybeSilenceReset retains only the trailing keepAudioSeconds of audio
// and advances startOffset if now - lastVoiceTime >= silenceResetSeconds.
// Idempotent per silent interval: once fired, lastVoice stays untouched
// until the next NoteVoiceActivityAt, so a second call within the same
// silent interval is a no-op beyond re-trimming an already-short buffer.
func (b *AudioBuffer) MaybeSilenceReset(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if now.Sub(b.lastVoice) < time.Duration(b.silenceResetSeconds)*time.Second {
		return
	}

	keep := b.keepAudioSeconds * b.sampleRate
	if b.fillSamples() <= keep {
		return
	}

	discard := b.fillSamples() - keep
	discardBytes := discard * bytesPerSample
	b.data = append(b.data[:0], b.data[discardBytes:]...)
	b.startOffset += int64(discard)
}

// Fill returns the current fill in bytes (test/observability hook).
func (b *AudioBuffer) Fill() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// CapacityBytes returns the configured capacity in bytes.
func (b *AudioBuffer) CapacityBytes() int {
	return b.capacitySamples * bytesPerSample
}

// StartOffset returns the current absolute sample offset of the first
// buffered sample.
func (b *AudioBuffer) StartOffset() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startOffset
}
