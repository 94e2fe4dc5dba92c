package pipeline

import "errors"

// Sentinel errors for every domain error kind. Recoverable kinds are
// checked with errors.Is, never string matching.
var (
	// ErrAudioTooShort: slice below the speaker-verify minimum duration.
	// Recoverable — the caller inherits the previous speaker id.
	ErrAudioTooShort = errors.New("audio_too_short")

	// ErrAudioLowEnergy: RMS energy below the speaker-verify minimum.
	// Recoverable — the caller inherits the previous speaker id.
	ErrAudioLowEnergy = errors.New("audio_low_energy")

	// ErrInferenceTimeout: a dispatcher call exceeded its deadline.
	ErrInferenceTimeout = errors.New("inference_timeout")

	// ErrDispatcherBusy: the worker pool is saturated.
	ErrDispatcherBusy = errors.New("dispatcher_busy")

	// ErrModelError: the underlying ASR or speaker model failed.
	ErrModelError = errors.New("model_error")

	// ErrProtocolViolation: ingest after Close, or malformed PCM length.
	ErrProtocolViolation = errors.New("protocol_error")

	// ErrFatalInvariant: a buffer or ordering invariant was violated.
	ErrFatalInvariant = errors.New("fatal_invariant")
)

// errorKind returns the wire msg string for a sentinel error, or
// "model_error" for anything unrecognized (conservative default so no
// Result is emitted with an empty msg on an unexpected error).
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrAudioTooShort):
		return "audio_too_short"
	case errors.Is(err, ErrAudioLowEnergy):
		return "audio_low_energy"
	case errors.Is(err, ErrInferenceTimeout):
		return "inference_timeout"
	case errors.Is(err, ErrDispatcherBusy):
		return "dispatcher_busy"
	case errors.Is(err, ErrProtocolViolation):
		return "protocol_error"
	case errors.Is(err, ErrFatalInvariant):
		return "fatal_invariant"
	default:
		return "model_error"
	}
}
