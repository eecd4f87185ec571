// Package render produces page raster images and text-layer fallbacks
// from a source document, one page at a time.
package render

import (
	"context"
)

// Renderer converts document pages into raw material for extraction.
type Renderer interface {
	// PageCount returns the number of pages in the document.
	PageCount() int

	// RenderPage rasters page n (1-based) to a PNG.
	RenderPage(ctx context.Context, n int) ([]byte, error)

	// ExtractText returns page n's embedded text layer, if any. An
	// empty string with a nil error means the page has no text layer.
	ExtractText(ctx context.Context, n int) (string, error)
}

// Serializer admits one raster operation at a time. Page rastering is
// memory heavy, so concurrent extraction workers funnel their render
// calls through a shared Serializer.
type Serializer struct {
	slot chan struct{}
}

// NewSerializer creates a serializer with a single slot.
func NewSerializer() *Serializer {
	s := &Serializer{slot: make(chan struct{}, 1)}
	return s
}

// Acquire blocks until the slot is free or ctx is cancelled. On success
// the caller must call Release exactly once.
func (s *Serializer) Acquire(ctx context.Context) error {
	select {
	case s.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the slot.
func (s *Serializer) Release() {
	<-s.slot
}

// Do runs fn while holding the slot.
func (s *Serializer) Do(ctx context.Context, fn func() error) error {
	if err := s.Acquire(ctx); err != nil {
		return err
	}
	defer s.Release()
	return fn()
}
