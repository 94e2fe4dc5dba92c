package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSessionManagerRejectsUseBeforeInit(t *testing.T) {
	m := NewSessionManager()
	_, err := m.OpenSession(OpenParams{Language: LanguageEn})
	if !errors.Is(err, ErrFatalInvariant) {
		t.Fatalf("err = %v, want ErrFatalInvariant", err)
	}
}

func TestSessionManagerInitRejectsMissingCollaborators(t *testing.T) {
	m := NewSessionManager()
	err := m.Init(DefaultConfig(), nil, &mockSpeakerModel{}, &fakeSequenceVAD{}, nil, nil)
	if !errors.Is(err, ErrFatalInvariant) {
		t.Fatalf("err = %v, want ErrFatalInvariant for nil asr", err)
	}
}

func TestSessionManagerInitRejectsInvalidConfig(t *testing.T) {
	m := NewSessionManager()
	cfg := DefaultConfig()
	cfg.WorkerPoolSize = 0
	err := m.Init(cfg, &mockASR{text: "hi"}, &mockSpeakerModel{}, &fakeSequenceVAD{}, nil, nil)
	if !errors.Is(err, ErrFatalInvariant) {
		t.Fatalf("err = %v, want ErrFatalInvariant for zero worker pool size", err)
	}
}

func TestSessionManagerOpenAndCloseTracksActiveSessions(t *testing.T) {
	m := NewSessionManager()
	cfg := sessionTestConfig()
	if err := m.Init(cfg, &mockASR{text: "hi"}, &mockSpeakerModel{emb: Embedding{1, 0}}, &fakeSequenceVAD{}, nil, nil); err != nil {
		t.Fatalf("init: %v", err)
	}

	sess, err := m.OpenSession(OpenParams{Language: LanguageEn})
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	if got := m.ActiveSessions(); got != 1 {
		t.Fatalf("active sessions = %d, want 1", got)
	}

	if err := m.CloseSession(sess.ID()); err != nil {
		t.Fatalf("close session: %v", err)
	}
	if got := m.ActiveSessions(); got != 0 {
		t.Fatalf("active sessions = %d, want 0", got)
	}
}

func TestSessionManagerCloseUnknownSessionIsNoOp(t *testing.T) {
	m := NewSessionManager()
	cfg := sessionTestConfig()
	if err := m.Init(cfg, &mockASR{text: "hi"}, &mockSpeakerModel{emb: Embedding{1, 0}}, &fakeSequenceVAD{}, nil, nil); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := m.CloseSession("does-not-exist"); err != nil {
		t.Fatalf("close unknown session: %v", err)
	}
}

func TestSessionManagerSpeakerStateIsPerSession(t *testing.T) {
	m := NewSessionManager()
	cfg := sessionTestConfig()
	if err := m.Init(cfg, &mockASR{text: "hi"}, &mockSpeakerModel{emb: Embedding{1, 0, 0}}, &fakeSequenceVAD{}, nil, nil); err != nil {
		t.Fatalf("init: %v", err)
	}

	a, err := m.OpenSession(OpenParams{Language: LanguageEn, SV: true})
	if err != nil {
		t.Fatalf("open session a: %v", err)
	}
	defer a.Close()
	b, err := m.OpenSession(OpenParams{Language: LanguageEn, SV: true})
	if err != nil {
		t.Fatalf("open session b: %v", err)
	}
	defer b.Close()

	// Identical embeddings across two sessions: with per-session
	// registries each one allocates its own fresh speaker; a match here
	// would mean one session's registry leaked into the other's.
	da, err := a.tracker.Identify(context.Background(), loudAudio(2000), LanguageEn, SpeechInterval{StartMS: 0, EndMS: 2000})
	if err != nil {
		t.Fatalf("identify in session a: %v", err)
	}
	db, err := b.tracker.Identify(context.Background(), loudAudio(2000), LanguageEn, SpeechInterval{StartMS: 0, EndMS: 2000})
	if err != nil {
		t.Fatalf("identify in session b: %v", err)
	}

	if !da.IsNewSpeaker || !db.IsNewSpeaker {
		t.Fatalf("decisions = %+v / %+v, want a fresh speaker in each session", da, db)
	}
	if da.SpeakerID == db.SpeakerID {
		t.Fatalf("both sessions allocated speaker %q, want distinct per-session ids", da.SpeakerID)
	}
}

func TestSessionManagerShutdownDrainsAllSessionsConcurrently(t *testing.T) {
	m := NewSessionManager()
	cfg := sessionTestConfig()
	if err := m.Init(cfg, &mockASR{text: "hi"}, &mockSpeakerModel{emb: Embedding{1, 0}}, &fakeSequenceVAD{}, nil, nil); err != nil {
		t.Fatalf("init: %v", err)
	}

	const n = 5
	sessions := make([]*Session, 0, n)
	for i := 0; i < n; i++ {
		sess, err := m.OpenSession(OpenParams{Language: LanguageEn})
		if err != nil {
			t.Fatalf("open session %d: %v", i, err)
		}
		sessions = append(sessions, sess)
	}
	if got := m.ActiveSessions(); got != n {
		t.Fatalf("active sessions = %d, want %d", got, n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if got := m.ActiveSessions(); got != 0 {
		t.Fatalf("active sessions after shutdown = %d, want 0", got)
	}

	for i, sess := range sessions {
		if _, ok := <-sess.Results(); ok {
			t.Fatalf("session %d: expected Results channel closed after Shutdown", i)
		}
	}
}
