// Package ledger owns the authoritative page table for a loaded document.
//
// All status transitions go through the Ledger's methods, which take the
// single lock, so a batch claim is visible to every other scheduling pass
// before the claimer reaches its first await point. Results are applied
// only if the target page is still in the expected pre-batch status, which
// keeps a slow, superseded batch from clobbering newer state.
package ledger

import (
	"sync"

	"github.com/lectern-audio/lectern/internal/timing"
)

// Status is the processing state of a page. The vocabulary is part of the
// contract with the presentation layer and must be preserved exactly.
type Status string

const (
	StatusPending      Status = "pending"
	StatusAnalyzing    Status = "analyzing"
	StatusExtracted    Status = "extracted"
	StatusSynthesizing Status = "synthesizing"
	StatusReady        Status = "ready"
	StatusError        Status = "error"
)

// RawMaterial is the rendered image and text-layer fallback for one page.
// Produced once by the render serializer and never mutated afterwards.
type RawMaterial struct {
	Image []byte
	Text  string
}

// PageAudio is a synthesized waveform shared by every page whose text was
// part of the same synthesis batch. Reference counted so the underlying
// samples are dropped when the last page releases it.
type PageAudio struct {
	mu         sync.Mutex
	refs       int
	WAV        []byte
	SampleRate int
	Duration   float64 // seconds
}

// NewPageAudio wraps a WAV container for sharing across a batch.
func NewPageAudio(wavData []byte, sampleRate int, duration float64) *PageAudio {
	return &PageAudio{WAV: wavData, SampleRate: sampleRate, Duration: duration}
}

func (a *PageAudio) retain() {
	a.mu.Lock()
	a.refs++
	a.mu.Unlock()
}

func (a *PageAudio) release() {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.refs--
	if a.refs <= 0 {
		a.WAV = nil
	}
	a.mu.Unlock()
}

// Page is one entry in the ledger. Copies returned by accessors are
// snapshots; only the Ledger mutates the canonical record.
type Page struct {
	Number      int // 1-based, stable identity
	Status      Status
	Raw         *RawMaterial
	CleanedText string
	Audio       *PageAudio
	Segments    []timing.Segment
}

// Ledger maps page numbers to processing state for one document.
type Ledger struct {
	mu       sync.Mutex
	pages    []*Page
	dispatch map[int]struct{} // pages claimed by an in-flight extraction batch

	// Signaled (non-blocking, buffered) whenever a transition occurs so
	// both pools re-evaluate their selection.
	notify chan struct{}
}

// New creates a ledger with pageCount pages, all pending.
func New(pageCount int) *Ledger {
	pages := make([]*Page, pageCount)
	for i := range pages {
		pages[i] = &Page{Number: i + 1, Status: StatusPending}
	}
	return &Ledger{
		pages:    pages,
		dispatch: make(map[int]struct{}),
		notify:   make(chan struct{}, 1),
	}
}

// PageCount returns the number of pages in the document.
func (l *Ledger) PageCount() int {
	return len(l.pages)
}

// Changed returns the channel signaled after every ledger transition.
func (l *Ledger) Changed() <-chan struct{} {
	return l.notify
}

// Notify signals the change channel without a transition, prompting the
// pools to re-evaluate their selection. Used when the reader position
// moves.
func (l *Ledger) Notify() {
	l.mu.Lock()
	l.signal()
	l.mu.Unlock()
}

func (l *Ledger) signal() {
	select {
	case l.notify <- struct{}{}:
	default:
		// A notification is already pending.
	}
}

// Page returns a snapshot of page n. The boolean is false if n is out of
// range.
func (l *Ledger) Page(n int) (Page, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.page(n)
	if p == nil {
		return Page{}, false
	}
	return *p, true
}

// page returns the canonical record. Must be called with the lock held.
func (l *Ledger) page(n int) *Page {
	if n < 1 || n > len(l.pages) {
		return nil
	}
	return l.pages[n-1]
}

// Statuses returns a snapshot of every page's status, indexed by page-1.
func (l *Ledger) Statuses() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Status, len(l.pages))
	for i, p := range l.pages {
		out[i] = p.Status
	}
	return out
}

// Dispatched reports whether page n is currently claimed by an in-flight
// extraction batch.
func (l *Ledger) Dispatched(n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.dispatch[n]
	return ok
}

// Done reports whether every page has reached a terminal state
// (ready or error).
func (l *Ledger) Done() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, p := range l.pages {
		if p.Status != StatusReady && p.Status != StatusError {
			return false
		}
	}
	return true
}

// Rollback returns every in-flight page to its pre-dispatch status and
// clears the dispatch set: analyzing pages become pending, synthesizing
// pages become extracted. Completed and errored pages are untouched.
// Called when the document's processing scope is cancelled with claims
// still queued.
func (l *Ledger) Rollback() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, p := range l.pages {
		switch p.Status {
		case StatusAnalyzing:
			p.Status = StatusPending
		case StatusSynthesizing:
			p.Status = StatusExtracted
		}
	}
	l.dispatch = make(map[int]struct{})
	l.signal()
}

// ResetPage returns an errored page to pending so a later scheduling
// pass can re-dispatch it. Status-guarded: pages in any other state are
// left alone and false is returned.
func (l *Ledger) ResetPage(n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.page(n)
	if p == nil || p.Status != StatusError {
		return false
	}
	p.Status = StatusPending
	l.signal()
	return true
}

// Close releases every held waveform. Called on document unload.
func (l *Ledger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, p := range l.pages {
		if p.Audio != nil {
			p.Audio.release()
			p.Audio = nil
			p.Segments = nil
		}
	}
}

func clampView(view, count int) int {
	if view < 1 {
		return 1
	}
	if view > count {
		return count
	}
	return view
}

func (l *Ledger) extractable(n int) bool {
	p := l.page(n)
	if p == nil || p.Status != StatusPending {
		return false
	}
	_, claimed := l.dispatch[n]
	return !claimed
}

// String implements fmt.Stringer for log output.
func (s Status) String() string { return string(s) }
