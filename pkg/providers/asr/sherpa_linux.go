//go:build linux

package asr

import impl "github.com/k2-fsa/sherpa-onnx-go-linux"

// Platform-specific sherpa-onnx bindings. Linux builds link the
// pre-built CPU sherpa-onnx-go-linux package; see sherpa_darwin.go for
// the macOS counterpart. sherpa_offline.go contains the shared logic
// built on these aliases.

type sherpaOfflineRecognizer = impl.OfflineRecognizer
type sherpaOfflineRecognizerConfig = impl.OfflineRecognizerConfig
type sherpaOfflineStream = impl.OfflineStream

var newSherpaOfflineRecognizer = impl.NewOfflineRecognizer
var deleteSherpaOfflineRecognizer = impl.DeleteOfflineRecognizer
var newSherpaOfflineStream = impl.NewOfflineStream
var deleteSherpaOfflineStream = impl.DeleteOfflineStream
