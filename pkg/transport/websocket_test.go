package transport

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/transcribe-pipeline/pkg/pipeline"
)

type fakeASR struct{ text string }

func (f *fakeASR) Name() string { return "fake-asr" }
func (f *fakeASR) Transcribe(ctx context.Context, audio []byte, lang pipeline.Language) (pipeline.RawText, error) {
	return pipeline.RawText{Text: f.text, Confidence: 1}, nil
}

type fakeSpeaker struct{}

func (fakeSpeaker) Name() string { return "fake-speaker" }
func (fakeSpeaker) Verify(ctx context.Context, audio []byte, hints pipeline.SpeakerHints) (pipeline.Embedding, error) {
	return pipeline.Embedding{1, 0, 0}, nil
}

// fakeVAD reports one fixed speech interval as soon as the snapshot
// covers it; the session's own dedup keeps it from dispatching twice.
type fakeVAD struct{ intervals []pipeline.SpeechInterval }

func (f *fakeVAD) Detect(snapshot pipeline.AudioSnapshot) ([]pipeline.SpeechInterval, error) {
	return f.intervals, nil
}

func newTestManager(t *testing.T, vad pipeline.VAD) *pipeline.SessionManager {
	t.Helper()
	manager := pipeline.NewSessionManager()
	if err := manager.Init(pipeline.DefaultConfig(), &fakeASR{text: "hello"}, fakeSpeaker{}, vad, nil, nil); err != nil {
		t.Fatalf("manager init: %v", err)
	}
	return manager
}

func dialTestServer(t *testing.T, ctx context.Context, manager *pipeline.SessionManager) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(NewHandler(manager, nil))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.Dial(ctx, srv.URL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func TestHandlerBridgesPCMToResults(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	vad := &fakeVAD{intervals: []pipeline.SpeechInterval{{StartMS: 0, EndMS: 1000}}}
	conn := dialTestServer(t, ctx, newTestManager(t, vad))

	if err := wsjson.Write(ctx, conn, openMessage{Language: "en", SV: false}); err != nil {
		t.Fatalf("write open message: %v", err)
	}

	// One second of silence-valued PCM: enough bytes to cross the VAD
	// cadence and cover the fake's [0, 1000) interval.
	pcm := make([]byte, 32000)
	if err := conn.Write(ctx, websocket.MessageBinary, pcm); err != nil {
		t.Fatalf("write pcm: %v", err)
	}

	var res pipeline.Result
	if err := wsjson.Read(ctx, conn, &res); err != nil {
		t.Fatalf("read result: %v", err)
	}
	if res.Code != pipeline.CodeOK || res.Data != "hello" {
		t.Fatalf("result = %+v, want code=0 data=hello", res)
	}
	if !res.IsNewLine || res.SegmentType != pipeline.SegmentNewSpeaker {
		t.Fatalf("result = %+v, want is_new_line=true new_speaker", res)
	}
}

func TestHandlerClosesOnMalformedPCM(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialTestServer(t, ctx, newTestManager(t, &fakeVAD{}))

	if err := wsjson.Write(ctx, conn, openMessage{Language: "en", SV: false}); err != nil {
		t.Fatalf("write open message: %v", err)
	}

	// Odd-length payload is a protocol violation; the server must close
	// the connection rather than ingest it.
	if err := conn.Write(ctx, websocket.MessageBinary, []byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("write pcm: %v", err)
	}

	var res pipeline.Result
	if err := wsjson.Read(ctx, conn, &res); err == nil {
		t.Fatal("expected the connection to be closed after a malformed frame")
	}
}

func TestMarshalResultWireShape(t *testing.T) {
	data, err := MarshalResult(pipeline.Result{
		Code:        pipeline.CodeOK,
		Msg:         "",
		Data:        "hello",
		SpeakerID:   "spk-1",
		IsNewLine:   true,
		SegmentType: pipeline.SegmentNewSpeaker,
		Timestamp:   1.5,
		Confidence:  0.9,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var frame map[string]json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	want := []string{"code", "msg", "data", "speaker_id", "is_new_line", "segment_type", "timestamp", "confidence"}
	if len(frame) != len(want) {
		t.Fatalf("frame has %d keys, want %d: %v", len(frame), len(want), frame)
	}
	for _, key := range want {
		if _, ok := frame[key]; !ok {
			t.Fatalf("frame missing key %q", key)
		}
	}

	var back pipeline.Result
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if back.Data != "hello" || back.SegmentType != pipeline.SegmentNewSpeaker {
		t.Fatalf("round trip result = %+v", back)
	}
}
