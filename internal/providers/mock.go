package providers

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
)

// MockExtractor is a scripted Extractor for tests. With no Handler it
// returns "Page N." for every requested page.
type MockExtractor struct {
	mu      sync.Mutex
	Calls   [][]int // page numbers per call, in call order
	Handler func(pages []PageMaterial) (map[int]string, error)
}

func (m *MockExtractor) Name() string { return "mock-extractor" }

func (m *MockExtractor) ExtractPages(ctx context.Context, pages []PageMaterial) (*ExtractionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	nums := make([]int, len(pages))
	for i, pm := range pages {
		nums[i] = pm.PageNumber
	}
	m.mu.Lock()
	m.Calls = append(m.Calls, nums)
	m.mu.Unlock()

	if m.Handler != nil {
		texts, err := m.Handler(pages)
		if err != nil {
			return nil, err
		}
		return &ExtractionResult{Texts: texts}, nil
	}

	texts := make(map[int]string, len(pages))
	for _, pm := range pages {
		texts[pm.PageNumber] = fmt.Sprintf("Page %d.", pm.PageNumber)
	}
	return &ExtractionResult{Texts: texts}, nil
}

// CallCount returns how many batches were requested so far.
func (m *MockExtractor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// MockSynthesizer is a scripted Synthesizer for tests. With no Handler it
// emits a constant-amplitude tone whose length is proportional to the
// text's character count.
type MockSynthesizer struct {
	mu      sync.Mutex
	Calls   []string // synthesized texts, in call order
	Handler func(req *TTSRequest) (*TTSResult, error)

	SampleRate     int // defaults to PCMSampleRate
	SamplesPerChar int // defaults to 10
}

func (m *MockSynthesizer) Name() string { return "mock-synthesizer" }

func (m *MockSynthesizer) Synthesize(ctx context.Context, req *TTSRequest) (*TTSResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.Calls = append(m.Calls, req.Text)
	m.mu.Unlock()

	if m.Handler != nil {
		return m.Handler(req)
	}

	rate := m.SampleRate
	if rate <= 0 {
		rate = PCMSampleRate
	}
	perChar := m.SamplesPerChar
	if perChar <= 0 {
		perChar = 10
	}

	samples := len(req.Text) * perChar
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(8000)))
	}
	return &TTSResult{PCM: pcm, SampleRate: rate}, nil
}

// CallCount returns how many synthesis calls were made so far.
func (m *MockSynthesizer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

var (
	_ Extractor   = (*MockExtractor)(nil)
	_ Synthesizer = (*MockSynthesizer)(nil)
)
