// Package audio provides small, dependency-free helpers for working with
// raw 16-bit PCM: WAV container framing for HTTP-based ASR backends, and
// PCM16/float32 conversion for the ONNX-backed VAD and ASR models that
// expect normalized float32 samples.
package audio

import (
	"bytes"
	"encoding/binary"
)

// NewWavBuffer wraps mono 16-bit PCM in a minimal canonical WAV container,
// for providers (whisper_http.go) that require a real file upload rather
// than a raw PCM stream.
func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))           // fmt chunk size
	binary.Write(buf, binary.LittleEndian, uint16(1))            // PCM
	binary.Write(buf, binary.LittleEndian, uint16(1))            // mono
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))   // sample rate
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2)) // byte rate (16-bit mono)
	binary.Write(buf, binary.LittleEndian, uint16(2))            // block align
	binary.Write(buf, binary.LittleEndian, uint16(16))           // bits per sample

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// ToFloat32 converts little-endian 16-bit signed PCM to normalized
// float32 samples in [-1, 1], the format the ONNX-backed Silero VAD and
// sherpa-onnx recognizer bindings expect.
func ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		sample := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		out[i] = float32(sample) / 32768.0
	}
	return out
}
