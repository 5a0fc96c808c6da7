// Package slack announces completed analysis runs to Slack via
// incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/quell/internal/pipeline"
)

const (
	maxSummaryLen = 3000
	httpTimeout   = 10 * time.Second
)

// Notifier sends run results to a Slack webhook. It implements
// pipeline.Notifier.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, RunComplete
// is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// RunComplete posts a finished run to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) RunComplete(ctx context.Context, run *pipeline.Run) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(run)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(r *pipeline.Run) map[string]any {
	blocks := []map[string]any{
		headerBlock(r),
		{"type": "divider"},
		fieldsBlock(r),
	}
	if b := summaryBlock(r); b != nil {
		blocks = append(blocks, map[string]any{"type": "divider"}, b)
	}
	blocks = append(blocks, map[string]any{"type": "divider"}, contextBlock(r))

	return map[string]any{"blocks": blocks}
}

func headerBlock(r *pipeline.Run) map[string]any {
	title := "Analysis Complete"
	if r.Status == pipeline.StatusFailed {
		title = "Analysis Failed"
	}
	text := fmt.Sprintf("%s %s: %.0f%% noise reduced", reductionEmoji(r), title, r.Reduction)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(r *pipeline.Run) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Observed:* %d", r.Observed),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Survived:* %d", r.Survived),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Suppressed:* %d", r.Suppressed),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Window:* %s", r.Window),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Groups:* %d", len(r.Groups)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Anomalies:* %d", len(r.Anomalies)),
		},
	}

	if r.RCA != nil && r.RCA.RootCause != "" {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Likely root cause:* %s", r.RCA.RootCause),
		})
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func summaryBlock(r *pipeline.Run) map[string]any {
	text := truncate(strings.TrimSpace(r.Summary), maxSummaryLen)
	if text == "" {
		return nil
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Summary*\n\n%s", text),
		},
	}
}

func contextBlock(r *pipeline.Run) map[string]any {
	ts := r.CompletedAt
	if ts.IsZero() {
		ts = r.CreatedAt
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("quell • run %s • %s", r.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func reductionEmoji(r *pipeline.Run) string {
	if r.Status == pipeline.StatusFailed {
		return "\U0001f534" // red circle
	}
	switch {
	case r.Reduction >= 50:
		return "\U0001f7e2" // green circle
	case r.Reduction >= 20:
		return "\U0001f7e1" // yellow circle
	default:
		return "⚪" // white circle
	}
}

// truncate caps s at limit bytes, cutting on a rune boundary so a
// multi-byte character is never split mid-sequence.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
