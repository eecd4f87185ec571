package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	VisionExtractorName         = "openai-vision"
	visionDefaultModel          = "gpt-4o-mini"
	visionDefaultBaseURL        = "https://api.openai.com/v1"
	visionDefaultMaxRetries     = 3
	visionDefaultRetryDelay     = 500 * time.Millisecond
	visionDefaultTimeout        = 120 * time.Second
	visionDefaultRequestsPerMin = 60
)

// extractionSystemPrompt pins the response protocol: one section per page
// in request order, sections separated by the page-break token, empty
// pages marked with the empty-page sentinel.
var extractionSystemPrompt = strings.TrimSpace(fmt.Sprintf(`
You convert scanned document pages into clean text for narration.

For each page image, output the page's readable narrative text. Remove
headers, footers, page numbers, and artifacts. Preserve paragraph breaks.
Describe figures and tables in one short sentence each.

Output the pages in the order given, separated by the exact line:
%s

If a page has no narratable content, output exactly:
%s

Do not number the pages and do not add commentary.
`, PageBreakToken, EmptyPageToken))

// VisionExtractorConfig holds configuration for the extraction client.
type VisionExtractorConfig struct {
	APIKey     string
	Model      string
	BaseURL    string        // Optional (tests)
	MaxRetries int           // Transport-level retries for transient failures
	RetryDelay time.Duration // Base retry delay
	Timeout    time.Duration // HTTP timeout
	RateLimit  int           // Requests per minute
	HTTPClient *http.Client  // Optional (tests)
}

// VisionExtractor implements Extractor against an OpenAI-compatible
// chat-completions endpoint with image inputs.
type VisionExtractor struct {
	mu     sync.RWMutex
	apiKey string

	model      string
	baseURL    string
	maxRetries int
	retryDelay time.Duration
	client     *http.Client
	limiter    *RateLimiter
}

// NewVisionExtractor creates an extraction client.
func NewVisionExtractor(cfg VisionExtractorConfig) *VisionExtractor {
	if cfg.Model == "" {
		cfg.Model = visionDefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = visionDefaultBaseURL
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = visionDefaultMaxRetries
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = visionDefaultRetryDelay
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = visionDefaultTimeout
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = visionDefaultRequestsPerMin
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &VisionExtractor{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		client:     httpClient,
		limiter:    NewRateLimiter(cfg.RateLimit),
	}
}

// Name returns the provider identifier.
func (c *VisionExtractor) Name() string {
	return VisionExtractorName
}

// SetAPIKey swaps the credential used for subsequent requests. Called on
// config hot reload; in-flight requests keep the key they started with.
func (c *VisionExtractor) SetAPIKey(key string) {
	c.mu.Lock()
	c.apiKey = key
	c.mu.Unlock()
}

func (c *VisionExtractor) currentKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or multipart []any
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ExtractPages sends one batch of rendered pages and demultiplexes the
// sectioned response positionally. Pages are sorted by page number before
// the request is built so section order matches page order.
func (c *VisionExtractor) ExtractPages(ctx context.Context, pages []PageMaterial) (*ExtractionResult, error) {
	start := time.Now()

	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages in batch")
	}
	sorted := make([]PageMaterial, len(pages))
	copy(sorted, pages)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PageNumber < sorted[j].PageNumber })

	req := &chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: extractionSystemPrompt},
			{Role: "user", Content: buildPageParts(sorted)},
		},
	}

	resp, err := c.doRequest(ctx, "/chat/completions", req)
	if err != nil {
		return nil, err
	}

	blob := resp.Choices[0].Message.Content
	return &ExtractionResult{
		Texts:         DemuxExtraction(blob, sorted),
		ExecutionTime: time.Since(start),
	}, nil
}

// buildPageParts assembles the multipart user message: a label plus the
// page image for each page, falling back to the raw text layer when no
// image is available.
func buildPageParts(pages []PageMaterial) []any {
	parts := []any{
		map[string]any{
			"type": "text",
			"text": fmt.Sprintf("Extract the narrative text of the following %d page(s).", len(pages)),
		},
	}
	for i, pm := range pages {
		parts = append(parts, map[string]any{
			"type": "text",
			"text": fmt.Sprintf("Page %d of %d:", i+1, len(pages)),
		})
		if len(pm.Image) > 0 {
			parts = append(parts, map[string]any{
				"type": "image_url",
				"image_url": map[string]any{
					"url": "data:image/png;base64," + base64.StdEncoding.EncodeToString(pm.Image),
				},
			})
			continue
		}
		parts = append(parts, map[string]any{
			"type": "text",
			"text": pm.RawText,
		})
	}
	return parts
}

// doRequest posts a chat request with bounded retries for transient
// failures. Quota exhaustion (429) is never retried here; it is returned
// as a QuotaError so the caller's long-backoff path takes over.
func (c *VisionExtractor) doRequest(ctx context.Context, path string, body *chatRequest) (*chatResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.currentKey())

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			c.sleepWithJitter(ctx, attempt)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			c.sleepWithJitter(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			c.limiter.RecordThrottle()
			return nil, &QuotaError{
				Message:    fmt.Sprintf("extraction rate limited: %s", truncateBody(respBody)),
				RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
				StatusCode: resp.StatusCode,
			}
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("extraction error (status %d): %s", resp.StatusCode, truncateBody(respBody))
			c.sleepWithJitter(ctx, attempt)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("extraction error (status %d): %s", resp.StatusCode, truncateBody(respBody))
		}

		var chatResp chatResponse
		if err := json.Unmarshal(respBody, &chatResp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		if chatResp.Error != nil {
			return nil, fmt.Errorf("extraction API error: %s", chatResp.Error.Message)
		}
		if len(chatResp.Choices) == 0 {
			// A 200 with no choices is usually transient upstream trouble.
			lastErr = fmt.Errorf("empty choices in response (model=%s, id=%s)", chatResp.Model, chatResp.ID)
			c.sleepWithJitter(ctx, attempt)
			continue
		}

		return &chatResp, nil
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

// sleepWithJitter sleeps with exponential backoff plus jitter, respecting
// context cancellation.
func (c *VisionExtractor) sleepWithJitter(ctx context.Context, attempt int) {
	baseDelay := c.retryDelay * time.Duration(1<<attempt)
	if baseDelay > 10*time.Second {
		baseDelay = 10 * time.Second
	}

	// Jitter: -20% to +30%.
	jitter := time.Duration(float64(baseDelay) * (0.8 + 0.5*float64(time.Now().UnixNano()%1000)/1000))

	select {
	case <-ctx.Done():
	case <-time.After(jitter):
	}
}

func truncateBody(body []byte) string {
	const max = 512
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

var _ Extractor = (*VisionExtractor)(nil)
