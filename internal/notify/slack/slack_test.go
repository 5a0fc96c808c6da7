package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/quell/internal/correlate"
	"github.com/linnemanlabs/quell/internal/pipeline"
)

func testRun() *pipeline.Run {
	return &pipeline.Run{
		ID:          "01HTEST",
		Status:      pipeline.StatusComplete,
		Window:      "15m0s",
		Observed:    100,
		Survived:    40,
		Suppressed:  60,
		Reduction:   60,
		RCA:         &correlate.RCAResult{RootCause: "checkout"},
		Summary:     "checkout dominated the noise",
		CreatedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		CompletedAt: time.Date(2026, 3, 1, 12, 0, 2, 0, time.UTC),
	}
}

func TestRunComplete_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL)
	if err := n.RunComplete(context.Background(), testRun()); err != nil {
		t.Fatalf("RunComplete: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok || len(blocks) == 0 {
		t.Fatalf("payload has no blocks: %v", got)
	}

	raw, _ := json.Marshal(got)
	body := string(raw)
	for _, want := range []string{"60% noise reduced", "*Observed:* 100", "*Suppressed:* 60", "checkout", "run 01HTEST"} {
		if !strings.Contains(body, want) {
			t.Errorf("payload missing %q", want)
		}
	}
}

func TestRunComplete_EmptyURLIsNoop(t *testing.T) {
	t.Parallel()

	n := New("")
	if err := n.RunComplete(context.Background(), testRun()); err != nil {
		t.Fatalf("RunComplete with empty URL: %v", err)
	}
}

func TestRunComplete_WebhookError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no_service", http.StatusNotFound)
	}))
	defer srv.Close()

	n := New(srv.URL)
	err := n.RunComplete(context.Background(), testRun())
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %v, want status code mentioned", err)
	}
}

func TestRunComplete_FailedRunHeader(t *testing.T) {
	t.Parallel()

	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Fatalf("decode: %v", err)
		}
		body = string(raw)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	run := testRun()
	run.Status = pipeline.StatusFailed
	run.Summary = ""

	n := New(srv.URL)
	if err := n.RunComplete(context.Background(), run); err != nil {
		t.Fatalf("RunComplete: %v", err)
	}
	if !strings.Contains(body, "Analysis Failed") {
		t.Errorf("payload missing failure header: %s", body)
	}
	if strings.Contains(body, "*Summary*") {
		t.Error("empty summary should omit the summary block")
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", maxSummaryLen+100)
	got := truncate(long, maxSummaryLen)
	if len(got) != maxSummaryLen {
		t.Errorf("len = %d, want %d", len(got), maxSummaryLen)
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("truncated string missing ellipsis")
	}
	if truncate("short", maxSummaryLen) != "short" {
		t.Error("short string modified")
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	t.Parallel()

	// place a three-byte rune so the cut point lands inside it
	long := strings.Repeat("x", maxSummaryLen-4) + strings.Repeat("日", 10)
	got := truncate(long, maxSummaryLen)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated string is not valid UTF-8: %q", got[len(got)-10:])
	}
	if len(got) > maxSummaryLen {
		t.Errorf("len = %d, want <= %d", len(got), maxSummaryLen)
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("truncated string missing ellipsis")
	}
}
