package pipeline

const (
	minSegmentDurationMS = 300
	maxSegmentDurationMS = 30000
)

// VADSegmenter wraps a VAD capability and enforces this layer's
// duration bounds: intervals shorter than
// minSegmentDurationMS are discarded, intervals longer than
// maxSegmentDurationMS are force-cut at the boundary. The underlying VAD
// is responsible for deciding where speech starts and ends (including
// absorbing up to 500ms of interior sub-threshold audio without closing
// an interval) — VADSegmenter only ever sees already-closed, disjoint,
// ordered intervals from it.
type VADSegmenter struct {
	vad VAD
}

// NewVADSegmenter builds a segmenter over the given VAD capability.
func NewVADSegmenter(vad VAD) *VADSegmenter {
	return &VADSegmenter{vad: vad}
}

// Detect runs the wrapped VAD over snapshot and returns the speech
// intervals accepted after duration filtering/splitting, still disjoint
// and strictly ordered.
func (s *VADSegmenter) Detect(snapshot AudioSnapshot) ([]SpeechInterval, error) {
	raw, err := s.vad.Detect(snapshot)
	if err != nil {
		return nil, err
	}

	out := make([]SpeechInterval, 0, len(raw))
	for _, iv := range raw {
		out = append(out, splitAndFilter(iv)...)
	}
	return out, nil
}

// splitAndFilter applies the min/max duration policy to a single raw
// interval.
func splitAndFilter(iv SpeechInterval) []SpeechInterval {
	duration := iv.EndMS - iv.StartMS
	if duration < minSegmentDurationMS {
		return nil
	}
	if duration <= maxSegmentDurationMS {
		return []SpeechInterval{iv}
	}

	var out []SpeechInterval
	cursor := iv.StartMS
	for iv.EndMS-cursor > maxSegmentDurationMS {
		out = append(out, SpeechInterval{StartMS: cursor, EndMS: cursor + maxSegmentDurationMS})
		cursor += maxSegmentDurationMS
	}
	if iv.EndMS-cursor >= minSegmentDurationMS {
		out = append(out, SpeechInterval{StartMS: cursor, EndMS: iv.EndMS})
	}
	return out
}
