package pipeline

import (
	"regexp"
	"strings"
	"unicode"
)

// Event is the fixed enumerated set of non-speech audio events a
// recognizer can tag inline.
type Event string

const (
	EventLaugh    Event = "laugh"
	EventApplause Event = "applause"
	EventMusic    Event = "music"
	EventBGM      Event = "bgm"
	EventCry      Event = "cry"
	EventCough    Event = "cough"
	EventSigh     Event = "sigh"
	EventNeutral  Event = "neutral"
)

// FormattedText is TextFormatter's output: display text, the language
// lifted out of an inline tag (if any), and the structured events found.
// When Empty is set, the caller must drop the recognition silently
// rather than use Text/Language/Events.
type FormattedText struct {
	Text     string
	Language Language
	Events   []Event
	Empty    bool
}

// inline tags look like <|token|>, the bracket convention this pipeline's
// upstream ASR backends (Whisper-family and SenseVoice-style models
// alike) use for language/event/emotion markers.
var tagPattern = regexp.MustCompile(`<\|([^|<>]+)\|>`)

var languageTags = map[string]Language{
	"zh":  LanguageZh,
	"en":  LanguageEn,
	"ja":  LanguageJa,
	"ko":  LanguageKo,
	"yue": LanguageYue,
}

// eventTags maps the raw tag tokens this pipeline recognizes to the
// fixed Event enum. Tokens not present here are conservatively treated
// as absent — notably emotion tags like HAPPY/SAD/NEUTRAL-as-emotion are
// not speech events and are simply dropped, except NEUTRAL which doubles
// as the no-event marker some backends emit for every utterance.
var eventTags = map[string]Event{
	"laughter": EventLaugh,
	"laugh":    EventLaugh,
	"applause": EventApplause,
	"clapping": EventApplause,
	"music":    EventMusic,
	"bgm":      EventBGM,
	"cry":      EventCry,
	"crying":   EventCry,
	"cough":    EventCough,
	"coughing": EventCough,
	"sigh":     EventSigh,
	"neutral":  EventNeutral,
}

// TextFormatter normalizes raw ASR output into display text plus
// structured language/event metadata.
type TextFormatter struct{}

// NewTextFormatter builds a TextFormatter. It carries no state: tag
// mapping is a pure function of the input text.
func NewTextFormatter() *TextFormatter {
	return &TextFormatter{}
}

// Format strips inline tags from raw, lifting recognized language tags
// into Language and recognized event tags into Events, then trims the
// residual text. If the residual contains no letter, digit, or CJK
// character, it returns Empty=true and the caller drops the recognition.
func (f *TextFormatter) Format(raw string) FormattedText {
	var language Language
	var events []Event

	text := tagPattern.ReplaceAllStringFunc(raw, func(tag string) string {
		token := strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(tag, "<|"), "|>"))
		if lang, ok := languageTags[token]; ok {
			language = lang
			return ""
		}
		if ev, ok := eventTags[token]; ok {
			events = append(events, ev)
			return ""
		}
		// unknown tag: drop silently, treat as absent
		return ""
	})

	text = strings.TrimSpace(text)

	if !containsTextual(text) {
		return FormattedText{Empty: true}
	}

	return FormattedText{
		Text:     text,
		Language: language,
		Events:   events,
	}
}

// containsTextual reports whether s has at least one letter, digit, or
// CJK character.
func containsTextual(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			return true
		}
	}
	return false
}
