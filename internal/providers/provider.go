// Package providers holds the clients for the two external collaborators:
// page-content extraction (vision chat) and speech synthesis. Both are
// remote, rate limited, and occasionally return empty or throttled
// responses; the scheduler treats them as black boxes with the error
// taxonomy in errors.go.
package providers

import (
	"context"
	"strings"
	"time"
)

// PageMaterial is one page's raw input to the extraction collaborator.
type PageMaterial struct {
	PageNumber int    // 1-based
	Image      []byte // rendered PNG
	RawText    string // text-layer fallback
}

// ExtractionResult holds the demultiplexed per-page output of one batch.
type ExtractionResult struct {
	// Texts maps page number to cleaned narrative text. A present,
	// empty entry means the collaborator marked the page empty
	// (nothing to narrate); a missing entry means the response had no
	// section for the page and the caller should fall back to raw text.
	Texts map[int]string

	ExecutionTime time.Duration
}

// Extractor turns rendered pages into narrative text, one batch per call.
// Implementations must keep the request ordered by page number so the
// response can be positionally demultiplexed.
type Extractor interface {
	Name() string
	ExtractPages(ctx context.Context, pages []PageMaterial) (*ExtractionResult, error)
}

// TTSRequest is one synthesis call.
type TTSRequest struct {
	Text  string
	Voice string
}

// TTSResult is raw linear PCM as returned by the synthesis collaborator:
// fixed sample rate, mono, 16-bit little-endian.
type TTSResult struct {
	PCM           []byte
	SampleRate    int
	ExecutionTime time.Duration
}

// Synthesizer converts text to raw audio samples.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, req *TTSRequest) (*TTSResult, error)
}

const (
	// PageBreakToken separates per-page sections in an extraction
	// response. Part of the collaborator wire contract.
	PageBreakToken = "<<<PAGE_BREAK>>>"

	// EmptyPageToken marks a page with no narratable content.
	EmptyPageToken = "<<<EMPTY_PAGE>>>"
)

// DemuxExtraction splits a response blob into per-page texts by position.
// Missing sections produce no entry (caller falls back to raw text);
// extra sections are discarded; an empty-page sentinel produces an empty
// entry.
func DemuxExtraction(blob string, pages []PageMaterial) map[int]string {
	texts := make(map[int]string, len(pages))
	sections := strings.Split(blob, PageBreakToken)

	for i, pm := range pages {
		if i >= len(sections) {
			break
		}
		section := strings.TrimSpace(sections[i])
		if section == "" {
			// Blank section: indistinguishable from a dropped page,
			// leave it to the raw-text fallback.
			continue
		}
		if section == EmptyPageToken {
			texts[pm.PageNumber] = ""
			continue
		}
		texts[pm.PageNumber] = section
	}
	return texts
}
