// Package timing reconstructs per-sentence and per-word timestamps for a
// synthesized waveform after the fact.
//
// True forced alignment is unavailable, so the engine pairs
// punctuation-split sentences with detected silence runs and distributes
// word timing inside each sentence by a character-weight heuristic. The
// accumulated error of the heuristic resets at every detected silence
// boundary instead of compounding across the whole page.
package timing

import (
	"strings"
	"time"
	"unicode"

	"github.com/go-audio/audio"
)

// Segment is one timed slice of narrated text. Sentence segments carry
// their word breakdown in Words; whitespace fillers are zero-duration
// silence markers.
type Segment struct {
	Text      string    `json:"text" yaml:"text"`
	Start     float64   `json:"start" yaml:"start"`       // seconds
	Duration  float64   `json:"duration" yaml:"duration"` // seconds
	IsSilence bool      `json:"is_silence,omitempty" yaml:"is_silence,omitempty"`
	Offset    int       `json:"-" yaml:"-"` // byte offset into the source text
	Words     []Segment `json:"words,omitempty" yaml:"words,omitempty"`
}

// End returns the segment's end timestamp in seconds.
func (s Segment) End() float64 { return s.Start + s.Duration }

const (
	// DefaultSilenceThreshold is the amplitude below which a 16-bit
	// sample counts as silence.
	DefaultSilenceThreshold = 700

	// DefaultMinSilence is the shortest silence run treated as a
	// sentence boundary.
	DefaultMinSilence = 250 * time.Millisecond
)

// Engine computes segment timing from raw samples and source text.
type Engine struct {
	SilenceThreshold int           // absolute 16-bit amplitude
	MinSilence       time.Duration // minimum qualifying silence run
}

// NewEngine returns an engine with the default thresholds.
func NewEngine() *Engine {
	return &Engine{
		SilenceThreshold: DefaultSilenceThreshold,
		MinSilence:       DefaultMinSilence,
	}
}

// Reconstruct produces an ordered, contiguous segment list covering the
// buffer's entire duration. buf must be mono.
func (e *Engine) Reconstruct(buf *audio.IntBuffer, text string) []Segment {
	if buf == nil || buf.Format == nil || buf.Format.SampleRate <= 0 {
		return nil
	}
	total := float64(len(buf.Data)) / float64(buf.Format.SampleRate)

	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	boundaries := e.detectBoundaries(buf.Data, buf.Format.SampleRate)
	segments := pairSentences(sentences, boundaries, total)

	for i := range segments {
		segments[i].Words = weighWords(segments[i])
	}
	return segments
}

// sentenceUnit is a punctuation-delimited slice of the source text.
type sentenceUnit struct {
	text   string
	offset int // byte offset into the source
}

// SplitSentences splits text into sentence-like units on terminal
// punctuation, discarding whitespace-only units. Exported for tests.
func SplitSentences(text string) []Segment {
	var units []sentenceUnit
	start := 0
	prevTerminal := false

	for i, r := range text {
		terminal := r == '.' || r == '!' || r == '?'
		// A unit ends where a run of terminal punctuation ends.
		if prevTerminal && !terminal {
			units = append(units, sentenceUnit{text: text[start:i], offset: start})
			start = i
		}
		prevTerminal = terminal
	}
	if start < len(text) {
		units = append(units, sentenceUnit{text: text[start:], offset: start})
	}

	var out []Segment
	for _, u := range units {
		if strings.TrimSpace(u.text) == "" {
			continue
		}
		out = append(out, Segment{Text: u.text, Offset: u.offset})
	}
	return out
}

// detectBoundaries scans the amplitude stream for runs of samples below
// the silence threshold lasting at least MinSilence and records the
// timestamp at the END of each qualifying run.
func (e *Engine) detectBoundaries(data []int, sampleRate int) []float64 {
	minRun := int(e.MinSilence.Seconds() * float64(sampleRate))
	if minRun < 1 {
		minRun = 1
	}

	var boundaries []float64
	runStart := -1
	for i, s := range data {
		if s < 0 {
			s = -s
		}
		if s < e.SilenceThreshold {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		if runStart >= 0 && i-runStart >= minRun {
			boundaries = append(boundaries, float64(i)/float64(sampleRate))
		}
		runStart = -1
	}
	if runStart >= 0 && len(data)-runStart >= minRun {
		boundaries = append(boundaries, float64(len(data))/float64(sampleRate))
	}
	return boundaries
}

// pairSentences assigns a time span to each sentence. The i-th sentence
// spans from the previous boundary (or 0) to the i-th boundary. When
// boundaries run out before sentences do (the voice merged short
// sentences with no audible pause), the remaining sentences share the
// rest of the duration weighted by character length, which also covers
// the zero-boundary case.
func pairSentences(sentences []Segment, boundaries []float64, total float64) []Segment {
	pinned := len(boundaries)
	if pinned > len(sentences)-1 {
		pinned = len(sentences) - 1
	}

	cursor := 0.0
	for i := 0; i < pinned; i++ {
		end := boundaries[i]
		if end < cursor {
			end = cursor
		}
		if end > total {
			end = total
		}
		sentences[i].Start = cursor
		sentences[i].Duration = end - cursor
		cursor = end
	}

	rest := sentences[pinned:]
	remaining := total - cursor
	if remaining < 0 {
		remaining = 0
	}
	weights := 0
	for _, s := range rest {
		weights += len([]rune(s.Text))
	}
	for i := range rest {
		rest[i].Start = cursor
		if weights > 0 {
			rest[i].Duration = remaining * float64(len([]rune(rest[i].Text))) / float64(weights)
		}
		cursor += rest[i].Duration
	}
	// The final sentence absorbs any remainder left by rounding.
	if len(rest) > 0 {
		last := &rest[len(rest)-1]
		if end := last.End(); end < total {
			last.Duration += total - end
		}
	}
	return sentences
}

// weighWords distributes a sentence's span across its tokens. A token's
// weight is its rune length plus a punctuation bonus (comma and semicolon
// pause less than terminal punctuation); whitespace tokens get zero
// duration and IsSilence set.
func weighWords(sentence Segment) []Segment {
	tokens := tokenize(sentence.Text, sentence.Offset)
	if len(tokens) == 0 {
		return nil
	}

	totalWeight := 0
	weights := make([]int, len(tokens))
	for i, tok := range tokens {
		if tok.IsSilence {
			continue
		}
		w := len([]rune(tok.Text))
		if strings.ContainsAny(tok.Text, ",;") {
			w += 2
		}
		if strings.ContainsAny(tok.Text, ".!?:") {
			w += 4
		}
		weights[i] = w
		totalWeight += w
	}

	cursor := sentence.Start
	for i := range tokens {
		tokens[i].Start = cursor
		if !tokens[i].IsSilence && totalWeight > 0 {
			tokens[i].Duration = sentence.Duration * float64(weights[i]) / float64(totalWeight)
		}
		cursor += tokens[i].Duration
	}
	return tokens
}

// tokenize splits a sentence into alternating word and whitespace tokens,
// preserving order and byte offsets.
func tokenize(text string, base int) []Segment {
	var tokens []Segment
	start := 0
	inSpace := false

	flush := func(end int) {
		if end > start {
			tokens = append(tokens, Segment{
				Text:      text[start:end],
				Offset:    base + start,
				IsSilence: inSpace,
			})
		}
		start = end
	}

	for i, r := range text {
		if unicode.IsSpace(r) != inSpace {
			flush(i)
			inSpace = !inSpace
		}
	}
	flush(len(text))
	return tokens
}
