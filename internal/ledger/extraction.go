package ledger

// ExtractionClaim is a two-phase commit handle for one extraction batch.
// Pages enter the dispatch set the instant the batch is chosen and leave
// it only when the batch's outcome has been fully applied.
type ExtractionClaim struct {
	Pages []int

	// Raw material cached by this batch, applied to the ledger only on
	// commit so a cancelled batch leaves no partial writes behind.
	raw map[int]*RawMaterial
}

// ClaimExtraction selects and claims the next extraction batch in one
// critical section.
//
// Selection enforces playback-proximity priority: scan from the current
// view page forward for the first run of up to batchSize contiguous
// pending, undispatched pages; if none, backfill from page 1 up to (but
// excluding) the view page. Selected pages are marked analyzing and added
// to the dispatch set before the method returns, so no concurrent pass can
// select them again.
//
// Returns nil when no work is available.
func (l *Ledger) ClaimExtraction(viewPage, batchSize int) *ExtractionClaim {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pages) == 0 || batchSize < 1 {
		return nil
	}
	view := clampView(viewPage, len(l.pages))

	run := l.findRun(view, len(l.pages), batchSize)
	if run == nil {
		run = l.findRun(1, view-1, batchSize)
	}
	if run == nil {
		return nil
	}

	claim := &ExtractionClaim{Pages: run, raw: make(map[int]*RawMaterial, len(run))}
	for _, n := range run {
		l.pages[n-1].Status = StatusAnalyzing
		l.dispatch[n] = struct{}{}
	}
	l.signal()
	return claim
}

// findRun returns the first contiguous run of up to batchSize extractable
// pages in [lo, hi]. Must be called with the lock held.
func (l *Ledger) findRun(lo, hi, batchSize int) []int {
	for i := lo; i <= hi; i++ {
		if !l.extractable(i) {
			continue
		}
		run := []int{i}
		for j := i + 1; j <= hi && len(run) < batchSize && l.extractable(j); j++ {
			run = append(run, j)
		}
		return run
	}
	return nil
}

// CacheRaw records the rendered material for a claimed page. The write is
// deferred to commit time so cancellation can discard it wholesale.
func (c *ExtractionClaim) CacheRaw(n int, raw *RawMaterial) {
	c.raw[n] = raw
}

// Raw returns material cached earlier in this batch, if any.
func (c *ExtractionClaim) Raw(n int) *RawMaterial {
	return c.raw[n]
}

// CommitExtraction applies one page's successful extraction. The write is
// guarded: it lands only if the page is still analyzing (a faster retry
// elsewhere may have superseded this batch). A page whose cleaned text is
// empty has nothing to narrate and goes straight to ready. In text-only
// mode every committed page goes to ready.
//
// Returns false if the guard rejected the write.
func (l *Ledger) CommitExtraction(claim *ExtractionClaim, n int, cleaned string, textOnly bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.page(n)
	if p == nil || p.Status != StatusAnalyzing {
		delete(l.dispatch, n)
		return false
	}

	if raw := claim.raw[n]; raw != nil && p.Raw == nil {
		p.Raw = raw
	}
	p.CleanedText = cleaned

	switch {
	case textOnly, cleaned == "":
		p.Status = StatusReady
	default:
		p.Status = StatusExtracted
	}

	delete(l.dispatch, n)
	l.signal()
	return true
}

// FailExtraction marks one claimed page as errored and releases its claim
// so a later scheduling pass can re-dispatch it. Page-scoped: siblings in
// the batch are unaffected.
func (l *Ledger) FailExtraction(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.page(n)
	if p != nil && p.Status == StatusAnalyzing {
		p.Status = StatusError
	}
	delete(l.dispatch, n)
	l.signal()
}

// ReleaseExtraction returns every still-claimed page of the batch to
// pending, discarding all of the batch's effects. Used on cancellation
// (the ledger must read exactly as it did before the batch started) and
// on quota exhaustion (the pages stay eligible for a later pass).
func (l *Ledger) ReleaseExtraction(claim *ExtractionClaim) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, n := range claim.Pages {
		p := l.page(n)
		if p != nil && p.Status == StatusAnalyzing {
			p.Status = StatusPending
		}
		delete(l.dispatch, n)
	}
	l.signal()
}
