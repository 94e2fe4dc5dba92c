package pipeline

// LineBreakDecision is the output of LineBreakPolicy: whether the
// segment starts a new line, and why.
type LineBreakDecision struct {
	IsNewLine   bool
	SegmentType SegmentType
}

// LineBreakPolicy is C5: it decides whether a recognized segment starts a
// new line of transcript, and classifies the reason. The rules are
// evaluated in a fixed priority order — first-in-session and a speaker
// change always win over a pause. When smart line break is
// disabled entirely, every segment is forced to a single traditional
// new-line mode regardless of speaker or pause.
type LineBreakPolicy struct {
	pauseThresholdMS int64
	smartEnabled     bool
}

// NewLineBreakPolicy builds a policy from cfg.
func NewLineBreakPolicy(cfg Config) *LineBreakPolicy {
	return &LineBreakPolicy{
		pauseThresholdMS: cfg.PauseThresholdMS,
		smartEnabled:     cfg.EnableSmartLineBreak,
	}
}

// Decide classifies one segment. isFirst is true only for the first
// result ever emitted in the session. speakerChanged is true when this
// segment's speaker id differs from the previous emitted segment's.
// silenceMS is the gap since the previous segment's end (current.start -
// previous.end).
func (p *LineBreakPolicy) Decide(isFirst bool, speakerChanged bool, silenceMS int64) LineBreakDecision {
	if !p.smartEnabled {
		return LineBreakDecision{IsNewLine: true, SegmentType: SegmentTraditional}
	}
	if isFirst || speakerChanged {
		return LineBreakDecision{IsNewLine: true, SegmentType: SegmentNewSpeaker}
	}
	if silenceMS >= p.pauseThresholdMS {
		return LineBreakDecision{IsNewLine: true, SegmentType: SegmentPause}
	}
	return LineBreakDecision{IsNewLine: false, SegmentType: SegmentContinue}
}
