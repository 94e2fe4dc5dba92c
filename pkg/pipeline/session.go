package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// drainDeadline bounds how long Close waits for in-flight segments to
// finish before forcibly cancelling them.
const drainDeadline = 5 * time.Second

// resultBacklog is the buffer depth of a session's results channel.
// Once full, new results are dropped rather than blocking ingest: a
// slow consumer loses the tail of a session's transcript instead of
// stalling the pipeline.
const resultBacklog = 64

// segmentOutcome is what a completed segment hands to the ordered
// emitter. The line-break decision and the "inherit previous speaker"
// fallback are deliberately NOT resolved here: both depend on the true
// sequence-previous segment's (speaker_id, end_ms), which is only
// settled once this segment reaches the front of the ordering queue
// (§4.7's "results awaiting earlier peers are held"). Resolving them at
// completion time instead would race against however many earlier
// segments are still in flight.
type segmentOutcome struct {
	errResult      *Result // non-nil for a timeout/busy/model-error outcome; state left untouched on emit
	skip           bool    // empty-text drop: no Result, but endMS still advances session state
	startMS        int64
	endMS          int64
	text           string
	confidence     float64
	speakerID      string // meaningful only when speakerIDValid
	speakerIDValid bool   // false: SV disabled, or fell back to inheriting the previous speaker id
}

// Session is C7: the per-connection state machine that owns one
// caller's rolling buffer, runs VAD over it as audio arrives, and
// dispatches detected segments for recognition and speaker
// identification, emitting Results in strict arrival order regardless of
// how the underlying inference calls complete.
type Session struct {
	id string

	mu    sync.Mutex
	state sessionState

	cfg        Config
	lang       Language
	svEnabled  bool
	generation int64

	buffer     *AudioBuffer
	vad        *VADSegmenter
	formatter  *TextFormatter
	linebreak  *LineBreakPolicy
	tracker    *SpeakerTracker // nil when speaker verification is disabled
	dispatcher *InferenceDispatcher

	logger  Logger
	metrics Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	nextSeq          int64
	processedUntilMS int64
	bytesSinceVAD    int
	vadChunkBytes    int

	// Sequence-order state: only ever mutated by emitInOrder as segments
	// reach the front of the queue, never by processSegment.
	lastSpeakerID    string
	lastSegmentEndMS int64
	hasEmitted       bool

	nextEmitSeq int64
	pending     map[int64]segmentOutcome

	resultsCh chan Result
}

// NewSession constructs a Session ready to ingest audio immediately: the
// state machine starts in Streaming, since OpenParams are only ever
// supplied at connection setup. Each session gets its own SpeakerTracker
// over the shared SpeakerModel, so one caller's registry, history, and
// threshold state never bleed into another's.
func NewSession(params OpenParams, cfg Config, vad VAD, dispatcher *InferenceDispatcher, speaker SpeakerModel, logger Logger, metrics Metrics) *Session {
	if logger == nil {
		logger = NoOpLogger{}
	}
	if metrics == nil {
		metrics = NoOpMetrics{}
	}
	var tracker *SpeakerTracker
	if params.SV && speaker != nil {
		tracker = NewSpeakerTracker(speaker, cfg, logger)
	}
	ctx, cancel := context.WithCancel(context.Background())
	bytesPerMS := cfg.SampleRate * bytesPerSample / 1000
	return &Session{
		id:            uuid.NewString(),
		state:         stateStreaming,
		cfg:           cfg,
		lang:          params.Language,
		svEnabled:     params.SV,
		buffer:        NewAudioBuffer(cfg),
		vad:           NewVADSegmenter(vad),
		formatter:     NewTextFormatter(),
		linebreak:     NewLineBreakPolicy(cfg),
		tracker:       tracker,
		dispatcher:    dispatcher,
		logger:        logger,
		metrics:       metrics,
		ctx:           ctx,
		cancel:        cancel,
		pending:       make(map[int64]segmentOutcome),
		resultsCh:     make(chan Result, resultBacklog),
		vadChunkBytes: cfg.ChunkSizeMS * bytesPerMS,
	}
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

// Results returns the channel Results are delivered on. It is closed
// once Close has fully drained the session.
func (s *Session) Results() <-chan Result {
	return s.resultsCh
}

// Ingest appends one chunk of mono 16-bit PCM to the session's buffer,
// runs VAD over the updated buffer, and dispatches any newly closed
// speech interval for recognition. It never blocks on inference: each
// segment is processed on its own goroutine and results are reordered on
// the way out.
func (s *Session) Ingest(pcm []byte) error {
	s.mu.Lock()
	if s.state != stateStreaming {
		s.mu.Unlock()
		return fmt.Errorf("%w: ingest while not streaming", ErrProtocolViolation)
	}
	if len(pcm)%bytesPerSample != 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: odd-length pcm chunk", ErrProtocolViolation)
	}
	gen := s.generation
	s.mu.Unlock()

	s.buffer.Append(pcm)
	now := time.Now()
	s.buffer.MaybeSilenceReset(now)

	s.mu.Lock()
	s.bytesSinceVAD += len(pcm)
	runVAD := s.bytesSinceVAD >= s.vadChunkBytes
	if runVAD {
		s.bytesSinceVAD = 0
	}
	s.mu.Unlock()

	if !runVAD {
		return nil
	}

	snapshot := s.buffer.Snapshot()
	intervals, err := s.vad.Detect(snapshot)
	if err != nil {
		s.logger.Warn("vad detect failed", "session_id", s.id, "err", err)
		return nil
	}

	if len(intervals) > 0 {
		s.buffer.NoteVoiceActivityAt(snapshot.EndOffset)
	}

	s.mu.Lock()
	for _, iv := range intervals {
		if iv.EndMS <= s.processedUntilMS {
			continue
		}
		if iv.StartMS < s.processedUntilMS {
			iv.StartMS = s.processedUntilMS
		}
		s.processedUntilMS = iv.EndMS

		seq := s.nextSeq
		s.nextSeq++
		s.wg.Add(1)
		go s.processSegment(iv, seq, gen)
	}
	s.mu.Unlock()

	return nil
}

// processSegment runs dispatch for one speech interval and hands the
// raw outcome to the ordered emitter, which alone resolves the speaker
// fallback and line-break decision once this segment's turn comes up.
// gen is the session generation at the time the segment was discovered;
// if the session has moved to a new generation by the time this
// completes (an intervening hard reset), the outcome is discarded.
func (s *Session) processSegment(interval SpeechInterval, seq int64, gen int64) {
	defer s.wg.Done()

	rate := int64(s.cfg.SampleRate)
	startSample := interval.StartMS * rate / 1000
	endSample := interval.EndMS * rate / 1000
	audio := s.buffer.Range(startSample, endSample)

	dr, err := s.dispatcher.Dispatch(s.ctx, audio, s.lang, interval, s.tracker)

	outcome := segmentOutcome{startMS: interval.StartMS, endMS: interval.EndMS}

	if err != nil {
		code := CodeModelError
		if errors.Is(err, ErrInferenceTimeout) || errors.Is(err, ErrDispatcherBusy) {
			code = CodeTimeoutOrBusy
		}
		outcome.errResult = &Result{
			Code:      code,
			Msg:       errorKind(err),
			Timestamp: float64(interval.StartMS) / 1000.0,
		}
		s.emitInOrder(seq, gen, outcome)
		return
	}

	formatted := s.formatter.Format(dr.Raw.Text)
	if formatted.Empty {
		outcome.skip = true
		s.emitInOrder(seq, gen, outcome)
		return
	}

	if s.svEnabled && dr.SpeakerErr == nil && dr.SpeakerDecision.SpeakerID != "" {
		outcome.speakerID = dr.SpeakerDecision.SpeakerID
		outcome.speakerIDValid = true
	}
	outcome.text = formatted.Text
	outcome.confidence = dr.Raw.Confidence

	s.emitInOrder(seq, gen, outcome)
}

// emitInOrder records a completed segment's outcome and flushes every
// outcome that is now contiguous with nextEmitSeq, in order. Segments
// that finish out of order wait here for their earlier peers. This is
// the only place lastSpeakerID/lastSegmentEndMS/hasEmitted are mutated,
// which is what makes the line-break decision and speaker-inheritance
// fallback deterministic regardless of completion order.
func (s *Session) emitInOrder(seq int64, gen int64, outcome segmentOutcome) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}

	s.pending[seq] = outcome

	var toSend []Result
	for {
		o, ok := s.pending[s.nextEmitSeq]
		if !ok {
			break
		}
		delete(s.pending, s.nextEmitSeq)
		s.nextEmitSeq++

		switch {
		case o.errResult != nil:
			// Speaker/line-break state is not updated on
			// timeout/busy/model-error — emit with the still-current
			// inherited speaker id, leave state exactly as-is.
			res := *o.errResult
			res.SpeakerID = s.lastSpeakerID
			s.metrics.ObserveResult(res.Code)
			toSend = append(toSend, res)

		case o.skip:
			// Empty-text drop: audio time still advances so the next
			// segment's pause gap is measured correctly, but no speaker
			// decision was made and nothing is emitted.
			s.lastSegmentEndMS = o.endMS

		default:
			speakerID := o.speakerID
			if !o.speakerIDValid {
				speakerID = s.lastSpeakerID
			}
			isFirst := !s.hasEmitted
			speakerChanged := s.svEnabled && !isFirst && s.lastSpeakerID != "" && speakerID != s.lastSpeakerID
			gapMS := o.startMS - s.lastSegmentEndMS

			lb := s.linebreak.Decide(isFirst, speakerChanged, gapMS)

			s.hasEmitted = true
			s.lastSpeakerID = speakerID
			s.lastSegmentEndMS = o.endMS

			s.metrics.ObserveResult(CodeOK)
			s.metrics.ObserveSegmentDuration(float64(o.endMS - o.startMS))

			data := o.text
			if s.svEnabled && speakerID != "" {
				data = "[" + speakerID + "]: " + data
			}

			toSend = append(toSend, Result{
				Code:        CodeOK,
				Data:        data,
				SpeakerID:   speakerID,
				IsNewLine:   lb.IsNewLine,
				SegmentType: lb.SegmentType,
				Timestamp:   float64(o.startMS) / 1000.0,
				Confidence:  o.confidence,
			})
		}
	}
	s.mu.Unlock()

	for _, res := range toSend {
		select {
		case s.resultsCh <- res:
		default:
			s.logger.Warn("dropping result, channel full", "session_id", s.id)
		}
	}
}

// Close transitions the session to Draining, waits up to drainDeadline
// for in-flight segments to finish emitting in order, then forcibly
// cancels any stragglers and closes the results channel. Close is
// idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = stateDraining
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainDeadline):
		s.logger.Warn("session drain deadline exceeded, forcing cancellation", "session_id", s.id)
		s.cancel()
		<-done
	}

	s.mu.Lock()
	s.state = stateClosed
	close(s.resultsCh)
	s.mu.Unlock()

	s.cancel()
	return nil
}

// State reports the session's current lifecycle state (test/observability
// hook).
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateIdle:
		return "idle"
	case stateStreaming:
		return "streaming"
	case stateDraining:
		return "draining"
	default:
		return "closed"
	}
}
