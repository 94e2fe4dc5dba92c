package pipeline

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// SessionManager is C8: the process-wide entry point. It validates
// configuration once, holds the shared model handles and the shared
// InferenceDispatcher worker pool, and owns the registry of live
// sessions. Model handles are the only thing sessions share; each
// session builds its own SpeakerTracker, buffer, and policy state on
// top of them. Unknown configuration keys can't reach Init at all —
// Config is a typed struct, not a map — so validation here only checks
// that the values supplied are sane.
type SessionManager struct {
	mu sync.RWMutex

	cfg         Config
	vad         VAD
	speaker     SpeakerModel
	dispatcher  *InferenceDispatcher
	logger      Logger
	metrics     Metrics
	initialized bool

	sessions map[string]*Session
}

// NewSessionManager returns an uninitialized manager. Init must be
// called before OpenSession.
func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]*Session)}
}

// Init validates cfg and wires the shared collaborators. It must be
// called exactly once before any session is opened.
func (m *SessionManager) Init(cfg Config, asr ASRModel, speaker SpeakerModel, vad VAD, logger Logger, metrics Metrics) error {
	if err := validateConfig(cfg); err != nil {
		return err
	}
	if asr == nil || vad == nil {
		return fmt.Errorf("%w: asr and vad collaborators are required", ErrFatalInvariant)
	}
	if logger == nil {
		logger = NoOpLogger{}
	}
	if metrics == nil {
		metrics = NoOpMetrics{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.cfg = cfg
	m.vad = vad
	m.speaker = speaker
	m.logger = logger
	m.metrics = metrics
	m.dispatcher = NewInferenceDispatcher(asr, cfg, logger, metrics)
	m.initialized = true
	return nil
}

// validateConfig rejects configuration values that would make the
// pipeline's invariants impossible to hold.
func validateConfig(cfg Config) error {
	switch {
	case cfg.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate must be positive", ErrFatalInvariant)
	case cfg.VADBufferSeconds <= 0:
		return fmt.Errorf("%w: vad buffer seconds must be positive", ErrFatalInvariant)
	case cfg.VADBufferCleanupThreshold <= 0 || cfg.VADBufferCleanupThreshold > 1:
		return fmt.Errorf("%w: vad buffer cleanup threshold must be in (0, 1]", ErrFatalInvariant)
	case cfg.VADBufferCleanupRatio <= 0 || cfg.VADBufferCleanupRatio > 1:
		return fmt.Errorf("%w: vad buffer cleanup ratio must be in (0, 1]", ErrFatalInvariant)
	case cfg.SilenceResetSeconds <= 0:
		return fmt.Errorf("%w: silence reset seconds must be positive", ErrFatalInvariant)
	case cfg.KeepAudioSeconds <= 0 || cfg.KeepAudioSeconds >= cfg.VADBufferSeconds:
		return fmt.Errorf("%w: keep audio seconds must be positive and below the buffer size", ErrFatalInvariant)
	case cfg.SVThresholdBase < 0 || cfg.SVThresholdBase > 1:
		return fmt.Errorf("%w: speaker threshold must be in [0, 1]", ErrFatalInvariant)
	case cfg.SVMinDurationMS <= 0:
		return fmt.Errorf("%w: speaker minimum duration must be positive", ErrFatalInvariant)
	case cfg.SVMinEnergyRMS < 0:
		return fmt.Errorf("%w: speaker minimum energy must be non-negative", ErrFatalInvariant)
	case cfg.PauseThresholdMS <= 0:
		return fmt.Errorf("%w: pause threshold must be positive", ErrFatalInvariant)
	case cfg.WorkerPoolSize <= 0:
		return fmt.Errorf("%w: worker pool size must be positive", ErrFatalInvariant)
	case cfg.InferenceTimeoutMS <= 0:
		return fmt.Errorf("%w: inference timeout must be positive", ErrFatalInvariant)
	}
	return nil
}

// OpenSession allocates a new session against the shared collaborators
// and registers it for Shutdown to find. Init must have been called
// first.
func (m *SessionManager) OpenSession(params OpenParams) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, fmt.Errorf("%w: session manager not initialized", ErrFatalInvariant)
	}

	sess := NewSession(params, m.cfg, m.vad, m.dispatcher, m.speaker, m.logger, m.metrics)
	m.sessions[sess.ID()] = sess
	m.metrics.IncSessions()
	return sess, nil
}

// CloseSession drains and closes one session by id, removing it from
// the registry. Closing an unknown id is a no-op.
func (m *SessionManager) CloseSession(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	err := sess.Close()
	m.metrics.DecSessions()
	return err
}

// Shutdown closes every live session concurrently and waits for all of
// them to drain (each bounded individually by drainDeadline), then
// clears the registry. It returns the first error encountered, if any.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, sess := range sessions {
		sess := sess
		g.Go(func() error {
			err := sess.Close()
			m.metrics.DecSessions()
			return err
		})
	}
	return g.Wait()
}

// ActiveSessions reports the number of currently registered sessions
// (test/observability hook).
func (m *SessionManager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
