package ledger

import "github.com/lectern-audio/lectern/internal/timing"

// SynthesisClaim is the two-phase commit handle for one synthesis batch.
// The synthesizing status itself guards against double selection, so no
// separate dispatch set is needed on this path.
type SynthesisClaim struct {
	Pages []int    // sorted ascending
	Texts []string // cleaned text per page, parallel to Pages
}

// TotalChars returns the combined character count of the batch.
func (c *SynthesisClaim) TotalChars() int {
	total := 0
	for _, t := range c.Texts {
		total += len(t)
	}
	return total
}

// ClaimSynthesis selects and claims the next synthesis batch in one
// critical section.
//
// Selection starts at the first extracted page at or after the view
// position, wrapping to the start of the document if none is found ahead.
// From that index it greedily accumulates consecutive extracted pages,
// bounded by maxChars: the first page is always included even if it alone
// exceeds the budget, and accumulation stops before a page that would
// exceed it. Claimed pages are marked synthesizing.
//
// Returns nil when no work is available.
func (l *Ledger) ClaimSynthesis(viewPage, maxChars int) *SynthesisClaim {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pages) == 0 {
		return nil
	}
	view := clampView(viewPage, len(l.pages))

	start := l.firstExtracted(view, len(l.pages))
	if start == 0 {
		start = l.firstExtracted(1, view-1)
	}
	if start == 0 {
		return nil
	}

	claim := &SynthesisClaim{}
	chars := 0
	for n := start; n <= len(l.pages); n++ {
		p := l.pages[n-1]
		if p.Status != StatusExtracted {
			break
		}
		if len(claim.Pages) > 0 && chars+len(p.CleanedText) > maxChars {
			break
		}
		claim.Pages = append(claim.Pages, n)
		claim.Texts = append(claim.Texts, p.CleanedText)
		chars += len(p.CleanedText)
		p.Status = StatusSynthesizing
	}

	if len(claim.Pages) == 0 {
		return nil
	}
	l.signal()
	return claim
}

// firstExtracted returns the first page in [lo, hi] with status extracted,
// or 0. Must be called with the lock held.
func (l *Ledger) firstExtracted(lo, hi int) int {
	for n := lo; n <= hi; n++ {
		if p := l.page(n); p != nil && p.Status == StatusExtracted {
			return n
		}
	}
	return 0
}

// CommitSynthesis attaches the batch's shared waveform and each page's
// segment list, moving still-claimed pages to ready. Any waveform a page
// previously held is released. Status-guarded per page.
func (l *Ledger) CommitSynthesis(claim *SynthesisClaim, audio *PageAudio, segments map[int][]timing.Segment) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, n := range claim.Pages {
		p := l.page(n)
		if p == nil || p.Status != StatusSynthesizing {
			continue
		}
		if p.Audio != nil {
			p.Audio.release()
		}
		audio.retain()
		p.Audio = audio
		p.Segments = segments[n]
		p.Status = StatusReady
	}
	l.signal()
}

// FailSynthesis moves still-claimed pages to ready without audio. Losing
// narration is acceptable; losing already-extracted text is not, so a
// failed synthesis never regresses a page to error.
func (l *Ledger) FailSynthesis(claim *SynthesisClaim) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, n := range claim.Pages {
		p := l.page(n)
		if p != nil && p.Status == StatusSynthesizing {
			p.Status = StatusReady
		}
	}
	l.signal()
}

// ReleaseSynthesis returns still-claimed pages to extracted, leaving the
// ledger as it was before the batch started. Used on cancellation.
func (l *Ledger) ReleaseSynthesis(claim *SynthesisClaim) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, n := range claim.Pages {
		p := l.page(n)
		if p != nil && p.Status == StatusSynthesizing {
			p.Status = StatusExtracted
		}
	}
	l.signal()
}
