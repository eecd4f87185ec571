package timing

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/go-audio/audio"
)

func monoBuffer(rate int, chunks ...[]int) *audio.IntBuffer {
	var data []int
	for _, c := range chunks {
		data = append(data, c...)
	}
	return &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		SourceBitDepth: 16,
		Data:           data,
	}
}

func loud(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = 8000
	}
	return s
}

func quiet(n int) []int {
	return make([]int, n)
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestSplitSentences(t *testing.T) {
	t.Run("splits on terminal punctuation", func(t *testing.T) {
		units := SplitSentences("First one. Second one! Third?")
		if len(units) != 3 {
			t.Fatalf("expected 3 sentences, got %d: %#v", len(units), units)
		}
		if strings.TrimSpace(units[1].Text) != "Second one!" {
			t.Errorf("unexpected second sentence: %q", units[1].Text)
		}
	})

	t.Run("punctuation runs stay in one sentence", func(t *testing.T) {
		units := SplitSentences("Wait... what?! Done.")
		if len(units) != 3 {
			t.Fatalf("expected 3 sentences, got %d: %#v", len(units), units)
		}
	})

	t.Run("offsets index into the source", func(t *testing.T) {
		text := "One. Two."
		units := SplitSentences(text)
		for _, u := range units {
			if text[u.Offset:u.Offset+len(u.Text)] != u.Text {
				t.Errorf("offset %d does not locate %q", u.Offset, u.Text)
			}
		}
	})

	t.Run("whitespace only yields nothing", func(t *testing.T) {
		if units := SplitSentences("   \n\t "); units != nil {
			t.Fatalf("expected no sentences, got %#v", units)
		}
	})
}

func TestDetectBoundaries(t *testing.T) {
	e := &Engine{SilenceThreshold: 700, MinSilence: 250 * time.Millisecond}

	t.Run("boundary at end of qualifying run", func(t *testing.T) {
		// 1000 Hz: 250ms = 250 samples.
		buf := monoBuffer(1000, loud(500), quiet(300), loud(200))
		bounds := e.detectBoundaries(buf.Data, 1000)
		if len(bounds) != 1 {
			t.Fatalf("expected 1 boundary, got %v", bounds)
		}
		if !approx(bounds[0], 0.8) {
			t.Fatalf("expected boundary at run end 0.8s, got %v", bounds[0])
		}
	})

	t.Run("short runs are ignored", func(t *testing.T) {
		buf := monoBuffer(1000, loud(500), quiet(100), loud(400))
		if bounds := e.detectBoundaries(buf.Data, 1000); len(bounds) != 0 {
			t.Fatalf("expected no boundaries, got %v", bounds)
		}
	})

	t.Run("trailing silence closes at buffer end", func(t *testing.T) {
		buf := monoBuffer(1000, loud(500), quiet(300))
		bounds := e.detectBoundaries(buf.Data, 1000)
		if len(bounds) != 1 || !approx(bounds[0], 0.8) {
			t.Fatalf("expected trailing boundary at 0.8s, got %v", bounds)
		}
	})
}

func TestReconstruct(t *testing.T) {
	engine := NewEngine()

	t.Run("sentences pin to boundaries", func(t *testing.T) {
		// Two sentences with one audible gap between them.
		buf := monoBuffer(1000, loud(500), quiet(300), loud(800))
		segs := engine.Reconstruct(buf, "First sentence here. Second sentence follows.")
		if len(segs) != 2 {
			t.Fatalf("expected 2 segments, got %d", len(segs))
		}
		if !approx(segs[0].Start, 0) || !approx(segs[0].Duration, 0.8) {
			t.Errorf("first segment: got start=%v dur=%v", segs[0].Start, segs[0].Duration)
		}
		if !approx(segs[1].Start, 0.8) || !approx(segs[1].End(), 1.6) {
			t.Errorf("second segment: got start=%v end=%v", segs[1].Start, segs[1].End())
		}
	})

	t.Run("no boundaries shares duration by length", func(t *testing.T) {
		buf := monoBuffer(1000, loud(1000))
		segs := engine.Reconstruct(buf, "Tiny. A considerably longer sentence follows here.")
		if len(segs) != 2 {
			t.Fatalf("expected 2 segments, got %d", len(segs))
		}
		if segs[0].Duration >= segs[1].Duration {
			t.Errorf("shorter sentence should get less time: %v vs %v",
				segs[0].Duration, segs[1].Duration)
		}
		if !approx(segs[1].End(), 1.0) {
			t.Errorf("segments must cover the buffer, end=%v", segs[1].End())
		}
	})

	t.Run("final sentence absorbs the remainder", func(t *testing.T) {
		// One boundary, three sentences: the last two share, the last
		// one absorbs rounding.
		buf := monoBuffer(1000, loud(400), quiet(300), loud(1300))
		segs := engine.Reconstruct(buf, "One here. Two here. Three here.")
		if len(segs) != 3 {
			t.Fatalf("expected 3 segments, got %d", len(segs))
		}
		if !approx(segs[2].End(), 2.0) {
			t.Errorf("last segment must end at buffer end, got %v", segs[2].End())
		}
		for i := 1; i < len(segs); i++ {
			if segs[i].Start < segs[i-1].Start {
				t.Errorf("starts must be non-decreasing: %v", segs)
			}
			if !approx(segs[i].Start, segs[i-1].End()) {
				t.Errorf("segments must be contiguous at %d", i)
			}
		}
	})

	t.Run("word timing covers the sentence", func(t *testing.T) {
		buf := monoBuffer(1000, loud(1000))
		segs := engine.Reconstruct(buf, "Alpha beta, gamma.")
		if len(segs) != 1 {
			t.Fatalf("expected 1 segment, got %d", len(segs))
		}
		words := segs[0].Words
		if len(words) == 0 {
			t.Fatal("expected word breakdown")
		}

		sum := 0.0
		sawSilence := false
		for _, w := range words {
			if w.IsSilence {
				sawSilence = true
				if w.Duration != 0 {
					t.Errorf("whitespace token must have zero duration: %+v", w)
				}
			}
			sum += w.Duration
		}
		if !sawSilence {
			t.Error("expected whitespace tokens between words")
		}
		if !approx(sum, segs[0].Duration) {
			t.Errorf("word durations must sum to the sentence: %v vs %v", sum, segs[0].Duration)
		}
		if last := words[len(words)-1]; !approx(last.End(), segs[0].End()) {
			t.Errorf("last word must end at sentence end: %v vs %v", last.End(), segs[0].End())
		}
	})

	t.Run("punctuation weighs heavier than plain text", func(t *testing.T) {
		buf := monoBuffer(1000, loud(1000))
		segs := engine.Reconstruct(buf, "abcd, abcd")
		var first, second Segment
		for _, w := range segs[0].Words {
			if w.IsSilence {
				continue
			}
			if first.Text == "" {
				first = w
			} else {
				second = w
			}
		}
		if first.Duration <= second.Duration {
			t.Errorf("token with punctuation should pause longer: %v vs %v",
				first.Duration, second.Duration)
		}
	})

	t.Run("empty text yields nothing", func(t *testing.T) {
		buf := monoBuffer(1000, loud(100))
		if segs := engine.Reconstruct(buf, "  "); segs != nil {
			t.Fatalf("expected nil, got %#v", segs)
		}
	})
}
