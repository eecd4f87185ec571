package scheduler

import (
	"errors"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/lectern-audio/lectern/internal/ledger"
	"github.com/lectern-audio/lectern/internal/providers"
)

// extractWorker claims and runs extraction batches until the scope ends.
func (s *Session) extractWorker(id int) {
	defer s.wg.Done()
	log := s.logger.With("pool", "extract", "worker", id)

	for {
		if s.ctx.Err() != nil {
			return
		}
		if !s.holdOrWait() {
			return
		}

		claim := s.ledger.ClaimExtraction(s.ViewPage(), s.cfg.BatchSize)
		if claim == nil {
			select {
			case <-s.ctx.Done():
				return
			case <-s.ledger.Changed():
			case <-time.After(pollInterval):
			}
			continue
		}

		s.runExtraction(claim, log)
	}
}

// runExtraction rasters the batch's pages, sends them to the extraction
// collaborator, and applies the outcome per the error taxonomy: raster
// failure errors the one page, transient failure errors the batch after
// bounded retries, quota exhaustion releases the batch and backs off,
// cancellation releases the batch silently.
func (s *Session) runExtraction(claim *ledger.ExtractionClaim, log *slog.Logger) {
	log.Debug("extraction batch claimed", "pages", claim.Pages)

	material := make([]providers.PageMaterial, 0, len(claim.Pages))
	for _, n := range claim.Pages {
		raw, err := s.renderPage(n)
		if err != nil {
			if s.ctx.Err() != nil {
				s.ledger.ReleaseExtraction(claim)
				return
			}
			log.Warn("page raster failed", "page", n, "error", err)
			s.ledger.FailExtraction(n)
			continue
		}
		claim.CacheRaw(n, raw)
		material = append(material, providers.PageMaterial{
			PageNumber: n,
			Image:      raw.Image,
			RawText:    raw.Text,
		})
	}
	if len(material) == 0 {
		return
	}

	if s.cfg.TextOnly {
		for _, pm := range material {
			s.ledger.CommitExtraction(claim, pm.PageNumber, pm.RawText, true)
		}
		return
	}

	result, err := s.callExtractor(material)
	if err != nil {
		switch {
		case s.ctx.Err() != nil:
			s.ledger.ReleaseExtraction(claim)
		case isQuota(err):
			qe, _ := providers.AsQuotaError(err)
			if s.noteQuota(qe) {
				s.ledger.ReleaseExtraction(claim)
			} else {
				log.Error("quota retries exhausted", "pages", claim.Pages, "error", err)
				for _, pm := range material {
					s.ledger.FailExtraction(pm.PageNumber)
				}
			}
		default:
			log.Error("extraction batch failed", "pages", claim.Pages, "error", err)
			for _, pm := range material {
				s.ledger.FailExtraction(pm.PageNumber)
			}
		}
		return
	}

	s.clearQuota()
	for _, pm := range material {
		text, ok := result.Texts[pm.PageNumber]
		if !ok {
			// The response had no section for this page; the raw text
			// layer is better than losing the page.
			text = pm.RawText
		}
		s.ledger.CommitExtraction(claim, pm.PageNumber, text, false)
	}
	log.Debug("extraction batch committed", "pages", claim.Pages, "took", result.ExecutionTime)
}

// renderPage produces one page's raw material through the serializer.
func (s *Session) renderPage(n int) (*ledger.RawMaterial, error) {
	var raw *ledger.RawMaterial
	err := s.serializer.Do(s.ctx, func() error {
		text, err := s.renderer.ExtractText(s.ctx, n)
		if err != nil {
			return err
		}
		var image []byte
		if !s.cfg.TextOnly {
			image, err = s.renderer.RenderPage(s.ctx, n)
			if err != nil {
				return err
			}
		}
		raw = &ledger.RawMaterial{Image: image, Text: text}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// callExtractor invokes the collaborator with bounded retries for
// transient failures. Quota errors and cancellation pass through
// unretried.
func (s *Session) callExtractor(material []providers.PageMaterial) (*providers.ExtractionResult, error) {
	var result *providers.ExtractionResult
	err := retry.Do(
		func() error {
			var err error
			result, err = s.extractor.ExtractPages(s.ctx, material)
			return err
		},
		retry.Context(s.ctx),
		retry.Attempts(s.cfg.TransientAttempts),
		retry.Delay(s.cfg.TransientDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(s.cfg.TransientDelay/2),
		retry.LastErrorOnly(true),
		retry.RetryIf(providers.IsTransient),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func isQuota(err error) bool {
	var qe *providers.QuotaError
	return errors.As(err, &qe)
}
