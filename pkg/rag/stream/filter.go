package stream

import (
	"regexp"
	"strings"
)

// State of the answer filter
type State int

const (
	StatePreamble State = iota
	StateAnswer
	StateDone
)

func (s State) String() string {
	switch s {
	case StatePreamble:
		return "PREAMBLE"
	case StateAnswer:
		return "ANSWER"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

type trigger int

const (
	triggerAnswerMarker trigger = iota
	triggerPreambleLimit
	triggerTrailerMarker
	triggerStreamEnd
)

// transitions is the complete FSM; anything not listed is ignored.
var transitions = map[State]map[trigger]State{
	StatePreamble: {
		triggerAnswerMarker:  StateAnswer,
		triggerPreambleLimit: StateAnswer,
		triggerStreamEnd:     StateAnswer,
	},
	StateAnswer: {
		triggerTrailerMarker: StateDone,
		triggerStreamEnd:     StateDone,
	},
}

var (
	// answerMarkerRe finds an "Answer" heading line: "## Answer", "**Answer:**", "Answer:".
	// The line must be newline-terminated so detection does not depend on chunking.
	answerMarkerRe = regexp.MustCompile(`(?im)^[ \t]*(?:#{1,6}[ \t]*)?(?:\*\*)?answer[ \t]*:?[ \t]*(?:\*\*)?[ \t]*:?[ \t]*\n`)

	// trailerMarkerRe finds a references heading on its own line.
	trailerMarkerRe = regexp.MustCompile(`(?i)\n[ \t]*(?:#{1,6}[ \t]*)?(?:\*\*)?(?:references|bibliography|sources|citations|works cited)[ \t]*:?[ \t]*(?:\*\*)?[ \t]*:?[ \t]*\n`)

	// trailerAtEndRe is trailerMarkerRe for a heading that ends the stream without a newline.
	trailerAtEndRe = regexp.MustCompile(`(?i)\n[ \t]*(?:#{1,6}[ \t]*)?(?:\*\*)?(?:references|bibliography|sources|citations|works cited)[ \t]*:?[ \t]*(?:\*\*)?[ \t]*:?[ \t]*$`)

	trailerKeywords = []string{"references", "bibliography", "sources", "citations", "works cited"}
)

// Config tunes the filter
type Config struct {
	// Lookahead is the number of tokens held back in ANSWER state
	Lookahead int
	// PreambleLimit is the number of tokens after which PREAMBLE gives up on the marker
	PreambleLimit int
}

// DefaultConfig returns the reference tuning
func DefaultConfig() Config {
	return Config{
		Lookahead:     5,
		PreambleLimit: 100,
	}
}

// Filter strips the preamble and the references trailer from a model token stream.
// It is not safe for concurrent use.
type Filter struct {
	cfg   Config
	state State

	preamble       strings.Builder
	preambleTokens int

	window  []string
	emitted strings.Builder

	trailerFound bool
}

// NewFilter creates a filter in PREAMBLE state
func NewFilter(cfg Config) *Filter {
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = DefaultConfig().Lookahead
	}
	if cfg.PreambleLimit <= 0 {
		cfg.PreambleLimit = DefaultConfig().PreambleLimit
	}
	return &Filter{cfg: cfg, state: StatePreamble}
}

// State returns the current FSM state
func (f *Filter) State() State {
	return f.state
}

// Terminated reports whether a references trailer ended the answer
func (f *Filter) Terminated() bool {
	return f.trailerFound
}

// Text returns everything emitted so far; after Close it is the full answer
func (f *Filter) Text() string {
	return f.emitted.String()
}

// Push consumes one token and returns the chunks to deliver, oldest first
func (f *Filter) Push(token string) []string {
	switch f.state {
	case StatePreamble:
		return f.pushPreamble(token)
	case StateAnswer:
		return f.pushAnswer(token)
	default:
		return nil
	}
}

// Close ends the stream and flushes whatever is still held
func (f *Filter) Close() []string {
	var out []string
	if f.state == StatePreamble {
		// no marker ever arrived: treat everything as answer
		buffered := f.preamble.String()
		f.preamble.Reset()
		f.fire(triggerStreamEnd)
		out = append(out, f.pushAnswer(buffered)...)
	}
	if f.state != StateAnswer {
		return out
	}

	rest := strings.Join(f.window, "")
	f.window = nil
	matchText, offset := f.matchText(rest)
	if loc := trailerAtEndRe.FindStringIndex(matchText); loc != nil {
		rest = rest[:clamp(loc[0]-offset)]
		f.trailerFound = true
	}
	out = f.emit(out, rest)
	f.fire(triggerStreamEnd)
	return out
}

func (f *Filter) pushPreamble(token string) []string {
	f.preamble.WriteString(token)
	f.preambleTokens++

	buffered := f.preamble.String()
	if loc := answerMarkerRe.FindStringIndex(buffered); loc != nil {
		f.preamble.Reset()
		f.fire(triggerAnswerMarker)
		return f.pushAnswer(buffered[loc[1]:])
	}
	if f.preambleTokens >= f.cfg.PreambleLimit {
		f.preamble.Reset()
		f.fire(triggerPreambleLimit)
		return f.pushAnswer(buffered)
	}
	return nil
}

func (f *Filter) pushAnswer(token string) []string {
	if token == "" {
		return nil
	}
	f.window = append(f.window, token)
	text := strings.Join(f.window, "")
	matchText, offset := f.matchText(text)

	if loc := trailerMarkerRe.FindStringIndex(matchText); loc != nil {
		f.window = nil
		f.trailerFound = true
		out := f.emit(nil, text[:clamp(loc[0]-offset)])
		f.fire(triggerTrailerMarker)
		return out
	}

	var out []string
	for len(f.window) > f.cfg.Lookahead {
		hold := f.holdIndex(text)
		oldest := f.window[0]
		if hold >= 0 && len(oldest) > hold {
			// the oldest token may be the start of a split references heading
			break
		}
		out = f.emit(out, oldest)
		f.window = f.window[1:]
		text = text[len(oldest):]
	}
	return out
}

// matchText prefixes a virtual newline when the window starts a fresh line, so
// line-anchored markers match at the window start.
func (f *Filter) matchText(text string) (string, int) {
	emitted := f.emitted.String()
	if emitted == "" || strings.HasSuffix(emitted, "\n") {
		return "\n" + text, 1
	}
	return text, 0
}

// holdIndex returns the byte offset in text from which a references heading may still
// be forming, or -1 when nothing needs to be held.
func (f *Filter) holdIndex(text string) int {
	matchText, offset := f.matchText(text)
	i := strings.LastIndex(matchText, "\n")
	if i < 0 {
		return -1
	}
	if !couldBeTrailer(matchText[i+1:]) {
		return -1
	}
	return clamp(i - offset)
}

// couldBeTrailer reports whether an unterminated line may still become a references heading
func couldBeTrailer(line string) bool {
	s := strings.TrimLeft(line, " \t")
	s = strings.TrimLeft(s, "#")
	s = strings.TrimLeft(s, " \t")
	s = strings.TrimLeft(s, "*")
	s = strings.ToLower(s)
	if s == "" {
		return true
	}
	for _, kw := range trailerKeywords {
		if strings.HasPrefix(kw, s) {
			return true
		}
		if strings.HasPrefix(s, kw) && strings.Trim(s[len(kw):], " \t:*") == "" {
			return true
		}
	}
	return false
}

func (f *Filter) emit(out []string, chunk string) []string {
	if chunk == "" {
		return out
	}
	f.emitted.WriteString(chunk)
	return append(out, chunk)
}

func (f *Filter) fire(t trigger) {
	if next, ok := transitions[f.state][t]; ok {
		f.state = next
	}
}

func clamp(i int) int {
	if i < 0 {
		return 0
	}
	return i
}

// Apply runs a complete response through a fresh filter as a single token
func Apply(text string, cfg Config) string {
	f := NewFilter(cfg)
	f.Push(text)
	f.Close()
	return f.Text()
}
