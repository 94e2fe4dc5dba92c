//go:build darwin

package asr

import impl "github.com/k2-fsa/sherpa-onnx-go-macos"

// Platform-specific sherpa-onnx bindings; see sherpa_linux.go for the
// Linux counterpart. sherpa_offline.go contains the shared logic built
// on these aliases.

type sherpaOfflineRecognizer = impl.OfflineRecognizer
type sherpaOfflineRecognizerConfig = impl.OfflineRecognizerConfig
type sherpaOfflineStream = impl.OfflineStream

var newSherpaOfflineRecognizer = impl.NewOfflineRecognizer
var deleteSherpaOfflineRecognizer = impl.DeleteOfflineRecognizer
var newSherpaOfflineStream = impl.NewOfflineStream
var deleteSherpaOfflineStream = impl.DeleteOfflineStream
