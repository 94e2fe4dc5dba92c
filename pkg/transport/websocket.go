// Package transport provides the websocket wire protocol client code
// connects over: a binary frame per PCM chunk in, a JSON Result message
// out per recognized segment.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/transcribe-pipeline/pkg/pipeline"
)

// openMessage is the first text frame a client must send after the
// connection is established, selecting the session's language and
// whether speaker verification is requested.
type openMessage struct {
	Language string `json:"language"`
	SV       bool   `json:"sv"`
}

// writeTimeout bounds a single outbound Result write, so a stalled
// client can't hang the goroutine that drains a session's Results
// channel forever.
const writeTimeout = 5 * time.Second

// Handler upgrades HTTP connections to websockets and bridges each one to
// a pipeline.Session: binary frames are fed to Session.Ingest, and every
// Result the session emits is written back as a JSON text frame.
type Handler struct {
	manager *pipeline.SessionManager
	logger  pipeline.Logger
}

// NewHandler builds a Handler serving sessions out of manager, which must
// already have been Init'd.
func NewHandler(manager *pipeline.SessionManager, logger pipeline.Logger) *Handler {
	if logger == nil {
		logger = pipeline.NoOpLogger{}
	}
	return &Handler{manager: manager, logger: logger}
}

// ServeHTTP implements http.Handler: one call is one session's lifetime.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	params, err := h.readOpenMessage(ctx, conn)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}

	sess, err := h.manager.OpenSession(params)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "failed to open session")
		return
	}
	defer h.manager.CloseSession(sess.ID())

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.drainResults(ctx, conn, sess)
	}()

	h.readLoop(ctx, conn, sess)

	sess.Close()
	<-done
}

// readOpenMessage reads the session-open text frame that must precede
// any audio.
func (h *Handler) readOpenMessage(ctx context.Context, conn *websocket.Conn) (pipeline.OpenParams, error) {
	var msg openMessage
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		return pipeline.OpenParams{}, fmt.Errorf("expected open message: %w", err)
	}
	lang := pipeline.Language(msg.Language)
	if lang == "" {
		lang = pipeline.LanguageAuto
	}
	return pipeline.OpenParams{Language: lang, SV: msg.SV}, nil
}

// readLoop reads binary PCM frames off the connection and feeds them to
// the session until the client closes the connection or sends a
// malformed frame.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sess *pipeline.Session) {
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			var closeErr websocket.CloseError
			if !errors.As(err, &closeErr) {
				h.logger.Warn("websocket read failed", "session_id", sess.ID(), "err", err)
			}
			return
		}

		if msgType != websocket.MessageBinary {
			h.logger.Warn("ignoring non-binary frame", "session_id", sess.ID())
			continue
		}

		if err := sess.Ingest(data); err != nil {
			h.logger.Warn("ingest rejected frame", "session_id", sess.ID(), "err", err)
			conn.Close(websocket.StatusPolicyViolation, err.Error())
			return
		}
	}
}

// drainResults writes every Result the session produces back to the
// client as a JSON text frame, until the Results channel closes (session
// fully drained and shut down).
func (h *Handler) drainResults(ctx context.Context, conn *websocket.Conn, sess *pipeline.Session) {
	for res := range sess.Results() {
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := wsjson.Write(writeCtx, conn, res)
		cancel()
		if err != nil {
			h.logger.Warn("websocket write failed", "session_id", sess.ID(), "err", err)
			return
		}
	}
}

// MarshalResult is exposed for tests and alternate transports that want
// the exact wire encoding without going through a live connection.
func MarshalResult(res pipeline.Result) ([]byte, error) {
	return json.Marshal(res)
}
