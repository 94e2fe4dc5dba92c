// Package pipeline implements the per-session streaming audio pipeline:
// a bounded rolling audio buffer, voice-activity segmentation, concurrent
// ASR and speaker-verification dispatch, smart line-break decisions, and
// ordered Result emission. Transport framing, model weights, and
// persistence live outside this package.
package pipeline

import (
	"context"
)

// Logger is the narrow structured-logging interface every component
// accepts. A nil Logger is never passed around internally; constructors
// substitute NoOpLogger instead.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOpLogger discards everything. It is the default when no Logger is
// supplied.
type NoOpLogger struct{}

func (NoOpLogger) Debug(msg string, args ...interface{}) {}
func (NoOpLogger) Info(msg string, args ...interface{})  {}
func (NoOpLogger) Warn(msg string, args ...interface{})  {}
func (NoOpLogger) Error(msg string, args ...interface{}) {}

// Metrics is the narrow observability interface SessionManager reports
// through. A nil Metrics is never passed around internally; NewManager
// substitutes NoOpMetrics instead.
type Metrics interface {
	IncSessions()
	DecSessions()
	ObserveResult(code int)
	ObserveDispatch(outcome string)
	ObserveSegmentDuration(ms float64)
}

// NoOpMetrics discards everything.
type NoOpMetrics struct{}

func (NoOpMetrics) IncSessions()                      {}
func (NoOpMetrics) DecSessions()                      {}
func (NoOpMetrics) ObserveResult(code int)            {}
func (NoOpMetrics) ObserveDispatch(outcome string)    {}
func (NoOpMetrics) ObserveSegmentDuration(ms float64) {}

// Language selects the recognition language, or "auto" to let the ASR
// model decide.
type Language string

const (
	LanguageZh   Language = "zh"
	LanguageEn   Language = "en"
	LanguageJa   Language = "ja"
	LanguageKo   Language = "ko"
	LanguageYue  Language = "yue"
	LanguageAuto Language = "auto"
)

// SpeechInterval is a half-open [StartMS, EndMS) interval of session
// audio time produced by VAD. Intervals returned by a single Detect call
// must be disjoint and strictly ordered.
type SpeechInterval struct {
	StartMS int64
	EndMS   int64
}

// AudioSnapshot is a read-only view over buffered PCM, bounded by an
// absolute sample-time range. It never mutates the buffer it was taken
// from.
type AudioSnapshot struct {
	PCM         []byte
	StartOffset int64 // inclusive, in samples
	EndOffset   int64 // exclusive, in samples
}

// VAD is the voice-activity-detection collaborator. Implementations
// receive a snapshot of buffered audio and return zero or more disjoint,
// strictly ordered speech intervals expressed in absolute session sample
// time (milliseconds since session start). VAD is a model-inference
// concern; this package never implements one, only wraps the interface
// (see VADSegmenter).
type VAD interface {
	Detect(snapshot AudioSnapshot) ([]SpeechInterval, error)
}

// ASRModel is the speech-recognition collaborator. Transcribe returns
// raw recognizer output: plain text possibly interleaved with inline
// language/event/emotion tags, as documented for TextFormatter.
type ASRModel interface {
	Transcribe(ctx context.Context, audio []byte, lang Language) (RawText, error)
	Name() string
}

// RawText is unformatted ASR output, carrying whatever confidence signal
// the model produced alongside the tagged text.
type RawText struct {
	Text       string
	Confidence float64
}

// SpeakerRecoverableKind enumerates the two speaker-verification failure
// modes that the caller recovers from by inheriting the previous speaker
// id, rather than by treating verification as fatal.
type SpeakerRecoverableKind int

const (
	SpeakerRecoverableNone SpeakerRecoverableKind = iota
	SpeakerRecoverableTooShort
	SpeakerRecoverableLowEnergy
)

// SpeakerHints carries the continuity context for one identification
// call: SpeakerTracker derives LastSpeakerID and SilenceMS from its own
// turn history and uses them for the dynamic similarity threshold; the
// assembled hints are also handed to the SpeakerModel, which may ignore
// them.
type SpeakerHints struct {
	Language      Language
	DurationMS    int64
	LastSpeakerID string
	SilenceMS     int64
}

// SpeakerDecision is the result of speaker identification. When
// Recoverable != SpeakerRecoverableNone, SpeakerID and Score are zero and
// the caller inherits the previous speaker id instead.
type SpeakerDecision struct {
	SpeakerID    string
	Score        float64
	IsNewSpeaker bool
	Recoverable  SpeakerRecoverableKind
}

// Embedding is an opaque speaker-embedding vector. Its dimensionality and
// the distance metric used to compare embeddings are model-specific;
// SpeakerTracker only assumes cosine similarity is meaningful over it.
type Embedding []float32

// SpeakerModel is the speaker-embedding collaborator: given an audio
// slice, it extracts an embedding. Matching the embedding against a
// per-session registry, dynamic-threshold comparison, and identity
// allocation are SpeakerTracker's job, not the model's — embedding
// extraction is the only model-inference concern this package treats as
// out of scope.
type SpeakerModel interface {
	Verify(ctx context.Context, audio []byte, hints SpeakerHints) (Embedding, error)
	Name() string
}

// SegmentType is the structural hint attached to each Result.
type SegmentType string

const (
	SegmentNewSpeaker  SegmentType = "new_speaker"
	SegmentPause       SegmentType = "pause"
	SegmentContinue    SegmentType = "continue"
	SegmentTraditional SegmentType = "traditional"
)

// Result codes carried on the wire frame.
const (
	CodeOK            = 0
	CodeTimeoutOrBusy = 1
	CodeModelError    = 2
	CodeFatal         = 99
)

// Result is the exact external frame emitted for each accepted or failed
// segment. Internal code must never attach extra fields to it.
type Result struct {
	Code        int         `json:"code"`
	Msg         string      `json:"msg"`
	Data        string      `json:"data"`
	SpeakerID   string      `json:"speaker_id"`
	IsNewLine   bool        `json:"is_new_line"`
	SegmentType SegmentType `json:"segment_type"`
	Timestamp   float64     `json:"timestamp"`
	Confidence  float64     `json:"confidence"`
}

// Config enumerates every recognized SessionManager.Init option. Init
// rejects unknown keys (enforced by construction: Config is a typed
// struct, not a map).
type Config struct {
	SampleRate                int
	ChunkSizeMS               int
	VADBufferSeconds          int
	VADBufferCleanupThreshold float64
	VADBufferCleanupRatio     float64
	SilenceResetSeconds       int
	KeepAudioSeconds          int
	SVThresholdBase           float64
	SVMinDurationMS           int64
	SVMinEnergyRMS            float64
	PauseThresholdMS          int64
	EnableSmartLineBreak      bool
	WorkerPoolSize            int
	InferenceTimeoutMS        int64
}

// DefaultConfig returns the documented default for every option.
func DefaultConfig() Config {
	return Config{
		SampleRate:                16000,
		ChunkSizeMS:               300,
		VADBufferSeconds:          15,
		VADBufferCleanupThreshold: 0.8,
		VADBufferCleanupRatio:     0.3,
		SilenceResetSeconds:       30,
		KeepAudioSeconds:          5,
		SVThresholdBase:           0.42,
		SVMinDurationMS:           400,
		SVMinEnergyRMS:            0.003,
		PauseThresholdMS:          1500,
		EnableSmartLineBreak:      true,
		WorkerPoolSize:            4,
		InferenceTimeoutMS:        10000,
	}
}

// OpenParams are the session-open parameters passed at connection
// setup.
type OpenParams struct {
	Language Language
	SV       bool
}

// sessionState is the Session lifecycle state machine.
type sessionState int32

const (
	stateIdle sessionState = iota
	stateStreaming
	stateDraining
	stateClosed
)

// speakerHistoryCap is the capacity of SpeakerTracker's recent-speaker
// history.
const speakerHistoryCap = 8

// speakerRegistryCap is the per-session speaker registry capacity before
// LRU eviction kicks in.
const speakerRegistryCap = 32
