package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/lectern-audio/lectern/internal/ledger"
	"github.com/lectern-audio/lectern/internal/providers"
	"github.com/lectern-audio/lectern/internal/timing"
	"github.com/lectern-audio/lectern/internal/wavfile"
)

// pageJoin separates page texts inside a combined synthesis input. The
// blank line reads as a natural pause and keeps byte offsets unambiguous
// when segments are handed back to their pages.
const pageJoin = "\n\n"

// synthFeeder claims synthesis batches and hands them to the task queue.
// Claims happen only when the queue has a free slot so pages are not
// parked in synthesizing while they wait.
func (s *Session) synthFeeder() {
	defer s.wg.Done()
	log := s.logger.With("pool", "synth")

	for {
		if s.ctx.Err() != nil {
			return
		}
		if !s.holdOrWait() {
			return
		}

		if s.queue.Pending()+s.queue.Running() < s.cfg.SynthWorkers {
			if claim := s.ledger.ClaimSynthesis(s.ViewPage(), s.cfg.MaxChars); claim != nil {
				log.Debug("synthesis batch claimed", "pages", claim.Pages, "chars", claim.TotalChars())
				if !s.queue.Submit(s.ctx, func(ctx context.Context) {
					s.runSynthesis(ctx, claim)
				}) {
					s.ledger.ReleaseSynthesis(claim)
					return
				}
				continue
			}
		}

		select {
		case <-s.ctx.Done():
			return
		case <-s.ledger.Changed():
		case <-time.After(pollInterval):
		}
	}
}

// runSynthesis voices one batch and reconstructs its timing. The batch's
// texts are synthesized as a single input; the resulting waveform is
// shared by every page, and each page receives the segments whose source
// offsets fall inside its slice of the combined text.
func (s *Session) runSynthesis(ctx context.Context, claim *ledger.SynthesisClaim) {
	log := s.logger.With("pool", "synth", "pages", claim.Pages)

	combined, starts := joinTexts(claim.Texts)

	result, err := s.callSynthesizer(ctx, combined)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			s.ledger.ReleaseSynthesis(claim)
		case isQuota(err):
			qe, _ := providers.AsQuotaError(err)
			if s.noteQuota(qe) {
				s.ledger.ReleaseSynthesis(claim)
			} else {
				log.Error("quota retries exhausted, pages stay text-only", "error", err)
				s.ledger.FailSynthesis(claim)
			}
		default:
			// Narration is best effort: the pages keep their text.
			log.Warn("synthesis failed, pages stay text-only", "error", err)
			s.ledger.FailSynthesis(claim)
		}
		return
	}
	s.clearQuota()

	buf, err := wavfile.SamplesFromPCM(result.PCM, result.SampleRate)
	if err != nil {
		log.Warn("synthesis returned malformed audio", "error", err)
		s.ledger.FailSynthesis(claim)
		return
	}
	wavData, err := wavfile.Build(result.PCM, result.SampleRate, 1, 16)
	if err != nil {
		log.Warn("failed to containerize audio", "error", err)
		s.ledger.FailSynthesis(claim)
		return
	}

	duration := float64(len(buf.Data)) / float64(result.SampleRate)
	audio := ledger.NewPageAudio(wavData, result.SampleRate, duration)

	segments := s.engine.Reconstruct(buf, combined)
	perPage := partitionSegments(segments, claim.Pages, starts)

	s.ledger.CommitSynthesis(claim, audio, perPage)
	log.Debug("synthesis batch committed",
		"duration", time.Duration(duration * float64(time.Second)).Round(time.Millisecond),
		"took", result.ExecutionTime)
}

// callSynthesizer invokes the collaborator with bounded transient
// retries, mirroring the extraction path.
func (s *Session) callSynthesizer(ctx context.Context, text string) (*providers.TTSResult, error) {
	var result *providers.TTSResult
	err := retry.Do(
		func() error {
			var err error
			result, err = s.synthesizer.Synthesize(ctx, &providers.TTSRequest{
				Text:  text,
				Voice: s.cfg.Voice,
			})
			return err
		},
		retry.Context(ctx),
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

// joinTexts concatenates page texts with the page separator and returns
// the combined text plus each page's starting byte offset in it.
func joinTexts(texts []string) (string, []int) {
	starts := make([]int, len(texts))
	var b strings.Builder
	for i, t := range texts {
		if i > 0 {
			b.WriteString(pageJoin)
		}
		starts[i] = b.Len()
		b.WriteString(t)
	}
	return b.String(), starts
}

// partitionSegments assigns each segment to the page whose text slice
// contains its source offset. Segment timestamps stay on the shared
// waveform's timeline.
func partitionSegments(segments []timing.Segment, pages []int, starts []int) map[int][]timing.Segment {
	perPage := make(map[int][]timing.Segment, len(pages))
	for _, seg := range segments {
		idx := 0
		for i := len(starts) - 1; i >= 0; i-- {
			if seg.Offset >= starts[i] {
				idx = i
				break
			}
		}
		n := pages[idx]
		perPage[n] = append(perPage[n], seg)
	}
	return perPage
}
