package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	SpeechClientName        = "openai-tts"
	speechDefaultModel      = openai.SpeechModelTTS1HD
	speechDefaultVoice      = "onyx"
	speechDefaultTimeout    = 300 * time.Second
	speechDefaultRateLimit  = 60 // requests per minute
	speechDefaultMaxRetries = 2

	// PCMSampleRate is the fixed rate of raw PCM speech responses:
	// 16-bit little-endian mono at 24 kHz.
	PCMSampleRate = 24000
)

// SpeechClientConfig holds configuration for the synthesis client.
type SpeechClientConfig struct {
	APIKey     string
	Model      string
	Voice      string
	Speed      float64       // 0.25-4.0
	RateLimit  int           // Requests per minute
	MaxRetries int           // Retry attempts for SDK transport
	Timeout    time.Duration // HTTP timeout
	BaseURL    string        // Optional (tests)
	HTTPClient *http.Client  // Optional (tests)
}

// SpeechClient implements Synthesizer using the official OpenAI SDK. It
// always requests raw PCM so timing reconstruction can scan amplitudes
// without a decode step.
type SpeechClient struct {
	mu     sync.RWMutex
	apiKey string
	voice  string

	model   string
	speed   float64
	client  openai.Client
	limiter *RateLimiter
}

// NewSpeechClient creates a synthesis client.
func NewSpeechClient(cfg SpeechClientConfig) *SpeechClient {
	if cfg.Model == "" {
		cfg.Model = speechDefaultModel
	}
	if cfg.Voice == "" {
		cfg.Voice = speechDefaultVoice
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1.0
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = speechDefaultRateLimit
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = speechDefaultMaxRetries
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = speechDefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &SpeechClient{
		apiKey:  cfg.APIKey,
		voice:   cfg.Voice,
		model:   cfg.Model,
		speed:   cfg.Speed,
		client:  openai.NewClient(opts...),
		limiter: NewRateLimiter(cfg.RateLimit),
	}
}

// Name returns the provider identifier.
func (c *SpeechClient) Name() string {
	return SpeechClientName
}

// SetAPIKey swaps the credential used for subsequent requests. Called on
// config hot reload; in-flight requests keep the key they started with.
func (c *SpeechClient) SetAPIKey(key string) {
	c.mu.Lock()
	c.apiKey = key
	c.mu.Unlock()
}

// SetVoice changes the default voice for requests that do not carry one.
// An empty value is ignored.
func (c *SpeechClient) SetVoice(voice string) {
	if strings.TrimSpace(voice) == "" {
		return
	}
	c.mu.Lock()
	c.voice = voice
	c.mu.Unlock()
}

// Synthesize converts text to raw PCM samples.
func (c *SpeechClient) Synthesize(ctx context.Context, req *TTSRequest) (*TTSResult, error) {
	start := time.Now()

	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}

	c.mu.RLock()
	key, fallback := c.apiKey, c.voice
	c.mu.RUnlock()

	voice := strings.TrimSpace(req.Voice)
	if voice == "" {
		voice = fallback
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(c.model),
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
		Speed:          openai.Float(c.speed),
	}

	resp, err := c.client.Audio.Speech.New(ctx, params, option.WithAPIKey(key))
	if err != nil {
		return nil, c.mapError(err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed reading speech response: %w", err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("speech response was empty")
	}

	return &TTSResult{
		PCM:           pcm,
		SampleRate:    PCMSampleRate,
		ExecutionTime: time.Since(start),
	}, nil
}

func (c *SpeechClient) mapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			c.limiter.RecordThrottle()
			retryAfter := time.Duration(0)
			if apiErr.Response != nil {
				retryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
			}
			return &QuotaError{
				Message:    fmt.Sprintf("speech rate limited: %s", apiErr.Message),
				RetryAfter: retryAfter,
				StatusCode: apiErr.StatusCode,
			}
		}
		if apiErr.Message != "" {
			return fmt.Errorf("speech error (status %d): %s", apiErr.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("speech error (status %d)", apiErr.StatusCode)
	}
	return err
}

var _ Synthesizer = (*SpeechClient)(nil)
