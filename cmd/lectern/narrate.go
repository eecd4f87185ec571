package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lectern-audio/lectern/internal/config"
	"github.com/lectern-audio/lectern/internal/home"
	"github.com/lectern-audio/lectern/internal/ledger"
	"github.com/lectern-audio/lectern/internal/providers"
	"github.com/lectern-audio/lectern/internal/render"
	"github.com/lectern-audio/lectern/internal/scheduler"
	"github.com/lectern-audio/lectern/internal/timing"
	"github.com/lectern-audio/lectern/internal/wavfile"
)

var (
	narrateOut      string
	narrateVoice    string
	narrateTextOnly bool
	narrateStart    int
)

var narrateCmd = &cobra.Command{
	Use:   "narrate <document.pdf>",
	Short: "Narrate a document to audio with timing",
	Long: `Narrate processes every page of a document and writes the results to
an export directory: one WAV per synthesis batch, a concatenated WAV for
the whole document, and a YAML manifest with per-page text, sentence
timestamps, and word timestamps.`,
	Args: cobra.ExactArgs(1),
	RunE: runNarrate,
}

func init() {
	narrateCmd.Flags().StringVar(&narrateOut, "out", "", "output directory (default: ~/.lectern/exports/<name>)")
	narrateCmd.Flags().StringVar(&narrateVoice, "voice", "", "TTS voice override")
	narrateCmd.Flags().BoolVar(&narrateTextOnly, "text-only", false, "skip narration, extract the text layer only")
	narrateCmd.Flags().IntVar(&narrateStart, "start-page", 1, "page to prioritize first")
}

func runNarrate(cmd *cobra.Command, args []string) error {
	log := slog.Default()
	pdfPath := args[0]

	cm, err := config.NewManager(cfgFile)
	if err != nil {
		return err
	}
	cm.WatchConfig()
	cfg := cm.Get()

	dir, err := home.New(homeDir)
	if err != nil {
		return err
	}
	if err := dir.EnsureExists(); err != nil {
		return err
	}

	renderer, err := render.NewPDFRenderer(pdfPath)
	if err != nil {
		return err
	}
	log.Info("document opened", "path", pdfPath, "pages", renderer.PageCount())

	var (
		extractor   providers.Extractor
		synthesizer providers.Synthesizer
	)
	if !narrateTextOnly {
		vision := providers.NewVisionExtractor(cfg.ToVisionConfig())
		speech := providers.NewSpeechClient(cfg.ToSpeechConfig())

		// Hot reload swaps credentials and the default voice mid-run;
		// pages already in flight finish with the old values.
		cm.OnChange(func(next *config.Config) {
			vision.SetAPIKey(next.ToVisionConfig().APIKey)
			sc := next.ToSpeechConfig()
			speech.SetAPIKey(sc.APIKey)
			speech.SetVoice(sc.Voice)
			log.Info("configuration reloaded", "voice", sc.Voice)
		})

		extractor = vision
		synthesizer = speech
	}

	sess, err := scheduler.New(cmd.Context(), renderer, extractor, synthesizer, scheduler.Config{
		ExtractWorkers: cfg.Scheduler.ExtractWorkers,
		SynthWorkers:   cfg.Scheduler.SynthWorkers,
		BatchSize:      cfg.Scheduler.BatchSize,
		MaxChars:       cfg.Scheduler.MaxChars,
		SynthInterval:  time.Duration(cfg.Scheduler.SynthIntervalMS) * time.Millisecond,
		TextOnly:       narrateTextOnly,
		Voice:          narrateVoice,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	sess.SetViewPage(narrateStart)
	go followReader(cmd.Context(), sess)

	if err := sess.Wait(cmd.Context()); err != nil {
		return err
	}
	if advisory := sess.Advisory(); advisory != "" {
		log.Warn("finished with advisory", "advisory", advisory)
	}

	name := documentName(pdfPath)
	outDir := narrateOut
	if outDir == "" {
		outDir = dir.DocumentExportDir(name)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	return exportDocument(sess.Ledger(), name, outDir, log)
}

// followReader advances the view position to the first unfinished page,
// so batch selection tracks a reader moving through the document.
func followReader(ctx context.Context, sess *scheduler.Session) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		next := 0
		for i, st := range sess.Ledger().Statuses() {
			if st != ledger.StatusReady && st != ledger.StatusError {
				next = i + 1
				break
			}
		}
		if next == 0 {
			return
		}
		if next > sess.ViewPage() {
			sess.SetViewPage(next)
		}
	}
}

// manifest is the exported timing document.
type manifest struct {
	Document  string         `yaml:"document"`
	PageCount int            `yaml:"page_count"`
	CreatedAt string         `yaml:"created_at"`
	Audio     string         `yaml:"audio,omitempty"`
	Pages     []manifestPage `yaml:"pages"`
}

type manifestPage struct {
	Number   int              `yaml:"number"`
	Status   string           `yaml:"status"`
	Text     string           `yaml:"text,omitempty"`
	Audio    string           `yaml:"audio,omitempty"`
	Segments []timing.Segment `yaml:"segments,omitempty"`
}

// exportDocument writes one WAV per distinct waveform (pages voiced in
// the same batch share one), a concatenated document WAV, and the YAML
// manifest. Segment timestamps in the manifest are relative to the
// page's own audio file.
func exportDocument(led *ledger.Ledger, name, outDir string, log *slog.Logger) error {
	m := manifest{
		Document:  name,
		PageCount: led.PageCount(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}

	var (
		ordered  [][]byte
		audioFor = map[*ledger.PageAudio]string{}
		errored  []int
	)

	for n := 1; n <= led.PageCount(); n++ {
		p, _ := led.Page(n)
		mp := manifestPage{
			Number: n,
			Status: p.Status.String(),
			Text:   p.CleanedText,
		}
		if p.Status == ledger.StatusError {
			errored = append(errored, n)
		}

		if p.Audio != nil && len(p.Audio.WAV) > 0 {
			file, ok := audioFor[p.Audio]
			if !ok {
				file = home.PageAudioName(n)
				if err := os.WriteFile(filepath.Join(outDir, file), p.Audio.WAV, 0o644); err != nil {
					return fmt.Errorf("failed to write page audio: %w", err)
				}
				audioFor[p.Audio] = file
				ordered = append(ordered, p.Audio.WAV)
			}
			mp.Audio = file
			mp.Segments = p.Segments
		}

		m.Pages = append(m.Pages, mp)
	}

	if len(ordered) > 0 {
		combined, err := wavfile.Concat(ordered...)
		if err != nil {
			return fmt.Errorf("failed to concatenate audio: %w", err)
		}
		m.Audio = home.DocumentAudioName(name)
		if err := os.WriteFile(filepath.Join(outDir, m.Audio), combined, 0o644); err != nil {
			return fmt.Errorf("failed to write document audio: %w", err)
		}

		dur, _ := wavfile.Duration(combined)
		log.Info("document audio written",
			"file", m.Audio,
			"duration", (time.Duration(dur * float64(time.Second))).Round(time.Second))
	}

	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outDir, home.ManifestFileName), data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	log.Info("export complete", "dir", outDir, "pages", led.PageCount())
	if len(errored) > 0 {
		log.Warn("some pages failed", "pages", errored)
	}
	return nil
}

// documentName derives an export name from the source filename.
func documentName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
