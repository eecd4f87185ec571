package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestVisionExtractorSetAPIKey(t *testing.T) {
	var mu sync.Mutex
	var auths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auths = append(auths, r.Header.Get("Authorization"))
		mu.Unlock()
		fmt.Fprint(w, `{"choices":[{"message":{"content":"Page one."}}]}`)
	}))
	defer srv.Close()

	c := NewVisionExtractor(VisionExtractorConfig{APIKey: "first", BaseURL: srv.URL})

	if _, err := c.ExtractPages(context.Background(), materials(1)); err != nil {
		t.Fatal(err)
	}
	c.SetAPIKey("second")
	if _, err := c.ExtractPages(context.Background(), materials(1)); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(auths) != 2 || auths[0] != "Bearer first" || auths[1] != "Bearer second" {
		t.Fatalf("expected the swapped credential on the second request, got %v", auths)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestSpeechClientSetVoice(t *testing.T) {
	var mu sync.Mutex
	var voices []string
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		var req struct {
			Voice string `json:"voice"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, fmt.Errorf("unexpected request body: %w", err)
		}
		mu.Lock()
		voices = append(voices, req.Voice)
		mu.Unlock()

		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"audio/pcm"}},
			Body:       io.NopCloser(bytes.NewReader(make([]byte, 4))),
			Request:    r,
		}, nil
	})}

	c := NewSpeechClient(SpeechClientConfig{APIKey: "key", HTTPClient: client})

	if _, err := c.Synthesize(context.Background(), &TTSRequest{Text: "hello"}); err != nil {
		t.Fatal(err)
	}
	c.SetVoice("nova")
	c.SetVoice("  ") // blank values are ignored
	if _, err := c.Synthesize(context.Background(), &TTSRequest{Text: "hello again"}); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(voices) != 2 || voices[0] != "onyx" || voices[1] != "nova" {
		t.Fatalf("expected the default voice then the override, got %v", voices)
	}
}
