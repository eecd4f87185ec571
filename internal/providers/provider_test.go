package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func materials(nums ...int) []PageMaterial {
	out := make([]PageMaterial, len(nums))
	for i, n := range nums {
		out[i] = PageMaterial{PageNumber: n, RawText: fmt.Sprintf("raw %d", n)}
	}
	return out
}

func TestDemuxExtraction(t *testing.T) {
	t.Run("sections pair positionally", func(t *testing.T) {
		blob := strings.Join([]string{"first page", "second page", "third page"}, "\n"+PageBreakToken+"\n")
		texts := DemuxExtraction(blob, materials(4, 5, 6))
		if len(texts) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(texts))
		}
		if texts[5] != "second page" {
			t.Errorf("page 5: got %q", texts[5])
		}
	})

	t.Run("missing sections produce no entry", func(t *testing.T) {
		texts := DemuxExtraction("only one section", materials(1, 2, 3))
		if len(texts) != 1 {
			t.Fatalf("expected 1 entry, got %v", texts)
		}
		if _, ok := texts[2]; ok {
			t.Error("page 2 must have no entry")
		}
	})

	t.Run("extra sections are discarded", func(t *testing.T) {
		blob := "a" + PageBreakToken + "b" + PageBreakToken + "c"
		texts := DemuxExtraction(blob, materials(1))
		if len(texts) != 1 || texts[1] != "a" {
			t.Fatalf("expected only page 1, got %v", texts)
		}
	})

	t.Run("empty-page sentinel produces empty entry", func(t *testing.T) {
		blob := "text" + PageBreakToken + EmptyPageToken
		texts := DemuxExtraction(blob, materials(1, 2))
		got, ok := texts[2]
		if !ok || got != "" {
			t.Fatalf("expected present empty entry for page 2, got %v", texts)
		}
	})

	t.Run("blank section produces no entry", func(t *testing.T) {
		blob := "text" + PageBreakToken + "  \n  "
		texts := DemuxExtraction(blob, materials(1, 2))
		if _, ok := texts[2]; ok {
			t.Fatalf("blank section must be treated as missing, got %v", texts)
		}
	})
}

func TestQuotaError(t *testing.T) {
	qe := &QuotaError{Message: "throttled", RetryAfter: 5 * time.Second, StatusCode: 429}
	wrapped := fmt.Errorf("batch failed: %w", qe)

	got, ok := AsQuotaError(wrapped)
	if !ok || got.RetryAfter != 5*time.Second {
		t.Fatalf("expected wrapped quota error, got %v %v", got, ok)
	}
	if IsTransient(wrapped) {
		t.Error("quota errors must not classify as transient")
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"server error", errors.New("extraction error (status 503): busy"), true},
		{"timeout", errors.New("request failed: context deadline exceeded"), true},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"client error", errors.New("extraction error (status 400): bad request"), false},
		{"plain failure", errors.New("something else"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Fatalf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("30"); got != 30*time.Second {
		t.Errorf("expected 30s, got %v", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
	if got := parseRetryAfter("garbage"); got != 0 {
		t.Errorf("expected 0 for unparseable value, got %v", got)
	}
}

func TestRateLimiter(t *testing.T) {
	t.Run("throttle drains the bucket", func(t *testing.T) {
		r := NewRateLimiter(600) // 10/sec
		r.RecordThrottle()

		st := r.Status()
		if st.AvailableTokens > 1 {
			t.Fatalf("expected drained bucket, got %v tokens", st.AvailableTokens)
		}
		if st.LastThrottle.IsZero() {
			t.Fatal("expected the throttle timestamp to be recorded")
		}
	})

	t.Run("wait consumes a token", func(t *testing.T) {
		r := NewRateLimiter(600)
		if err := r.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
		if st := r.Status(); st.TotalConsumed != 1 {
			t.Fatalf("expected 1 consumed, got %d", st.TotalConsumed)
		}
	})
}
