// Command mic-client is a reference client for cmd/transcribe-server: it
// opens the local microphone with malgo and streams raw S16 PCM frames
// up a websocket connection as they arrive. It is capture-only; a
// transcription server never talks back in audio.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/gen2brain/malgo"
)

const (
	sampleRate = 16000
	channels   = 1
)

type openMessage struct {
	Language string `json:"language"`
	SV       bool   `json:"sv"`
}

func main() {
	addr := flag.String("addr", "ws://127.0.0.1:8080/stream", "transcribe-server websocket endpoint")
	lang := flag.String("lang", "auto", "session language hint")
	sv := flag.Bool("sv", false, "request speaker verification")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		log.Fatalf("dial %s: %v", *addr, err)
	}
	defer conn.CloseNow()

	open := openMessage{Language: *lang, SV: *sv}
	openBytes, err := json.Marshal(open)
	if err != nil {
		log.Fatalf("marshal open message: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, openBytes); err != nil {
		log.Fatalf("send open message: %v", err)
	}

	go printResults(ctx, conn)

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Fatalf("init audio context: %v", err)
	}
	defer mctx.Uninit()

	onSamples := func(pOutput, pInput []byte, frameCount uint32) {
		if len(pInput) == 0 {
			return
		}
		frame := make([]byte, len(pInput))
		copy(frame, pInput)
		writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := conn.Write(writeCtx, websocket.MessageBinary, frame)
		cancel()
		if err != nil {
			log.Printf("write pcm frame: %v", err)
		}
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = channels
	deviceConfig.SampleRate = sampleRate
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onSamples,
	})
	if err != nil {
		log.Fatalf("init capture device: %v", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		log.Fatalf("start capture device: %v", err)
	}
	fmt.Println("streaming microphone audio, ctrl-c to stop")

	<-ctx.Done()
	conn.Close(websocket.StatusNormalClosure, "client shutting down")
}

// printResults prints every JSON Result frame the server sends back until
// the connection closes or ctx is cancelled.
func printResults(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		fmt.Printf("\n%s\n", string(data))
	}
}
