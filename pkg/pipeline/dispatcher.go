package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DispatchResult pairs the two concurrent inference outcomes for one
// segment. SpeakerDecision and SpeakerErr are only populated when
// speaker verification was requested; a recoverable SpeakerErr
// (ErrAudioTooShort / ErrAudioLowEnergy) is never fatal to the dispatch —
// the caller inherits the previous speaker id instead.
type DispatchResult struct {
	Raw             RawText
	SpeakerDecision SpeakerDecision
	SpeakerErr      error
}

// InferenceDispatcher is C6: a fixed-size worker pool that pairs one ASR
// transcription call with one (optional) speaker identification call per
// segment, bounds concurrency across the whole session manager, and
// fails fast rather than queuing when the pool is saturated. The
// dispatcher itself holds only process-wide state (the ASR handle and
// the pool); speaker identification state is per-session, so the
// caller's own tracker is handed in per call.
type InferenceDispatcher struct {
	sem     *semaphore.Weighted
	asr     ASRModel
	timeout time.Duration
	logger  Logger
	metrics Metrics
}

// NewInferenceDispatcher builds a dispatcher bounded to cfg.WorkerPoolSize
// concurrent segments, each call capped at cfg.InferenceTimeoutMS.
func NewInferenceDispatcher(asr ASRModel, cfg Config, logger Logger, metrics Metrics) *InferenceDispatcher {
	if logger == nil {
		logger = NoOpLogger{}
	}
	if metrics == nil {
		metrics = NoOpMetrics{}
	}
	return &InferenceDispatcher{
		sem:     semaphore.NewWeighted(int64(cfg.WorkerPoolSize)),
		asr:     asr,
		timeout: time.Duration(cfg.InferenceTimeoutMS) * time.Millisecond,
		logger:  logger,
		metrics: metrics,
	}
}

// Dispatch transcribes the audio covering interval and, when tracker is
// non-nil, identifies its speaker against that session's tracker, running
// both concurrently. It acquires a worker slot without blocking: if the
// pool is saturated it returns ErrDispatcherBusy immediately rather than
// queuing the caller.
func (d *InferenceDispatcher) Dispatch(ctx context.Context, audio []byte, lang Language, interval SpeechInterval, tracker *SpeakerTracker) (DispatchResult, error) {
	if !d.sem.TryAcquire(1) {
		d.metrics.ObserveDispatch("busy")
		return DispatchResult{}, ErrDispatcherBusy
	}
	defer d.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(callCtx)

	var result DispatchResult

	g.Go(func() error {
		raw, err := d.asr.Transcribe(gctx, audio, lang)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrModelError, d.asr.Name(), err)
		}
		result.Raw = raw
		return nil
	})

	if tracker != nil {
		g.Go(func() error {
			decision, err := tracker.Identify(gctx, audio, lang, interval)
			if err != nil {
				if errors.Is(err, ErrAudioTooShort) || errors.Is(err, ErrAudioLowEnergy) {
					result.SpeakerDecision = decision
					result.SpeakerErr = err
					return nil
				}
				return err
			}
			result.SpeakerDecision = decision
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			d.metrics.ObserveDispatch("timeout")
			return DispatchResult{}, fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
		}
		d.metrics.ObserveDispatch("error")
		return DispatchResult{}, err
	}

	d.metrics.ObserveDispatch("ok")
	return result, nil
}
