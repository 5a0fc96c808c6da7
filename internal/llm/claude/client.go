// Package claude summarizes completed analysis runs with a single-shot
// call to the Claude API.
package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/quell/internal/pipeline"
)

const (
	defaultEndpoint = "https://api.anthropic.com/v1/messages"
	maxTokens       = 1024
	httpTimeout     = 60 * time.Second

	// relatedThreshold filters the correlation matrix when naming
	// services correlated with the root cause.
	relatedThreshold = 0.7
)

// Client calls the Claude messages API. It implements
// pipeline.Summarizer.
type Client struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
}

// New creates a new Claude API client with the given API key and model name.
func New(apiKey, model string) *Client {
	return &Client{
		apiKey:   apiKey,
		model:    model,
		endpoint: defaultEndpoint,
		httpClient: &http.Client{
			Timeout: httpTimeout,
		},
	}
}

// WithEndpoint overrides the API endpoint, for tests.
func (c *Client) WithEndpoint(url string) *Client {
	c.endpoint = url
	return c
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type response struct {
	ID      string         `json:"id"`
	Content []contentBlock `json:"content"`
}

// Summarize asks the model for a short operational summary of the run.
func (c *Client) Summarize(ctx context.Context, run *pipeline.Run) (string, error) {
	body, err := json.Marshal(request{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    systemPrompt,
		Messages:  []message{{Role: "user", Content: buildPrompt(run)}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("claude api error %d: %s", resp.StatusCode, string(respBody))
	}

	var out response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	for _, block := range out.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("claude response has no text content")
}

const systemPrompt = `You summarize alert noise-reduction runs for on-call engineers.
Given the run's statistics, correlation groups, root cause prediction, and anomalies,
write 2-4 sentences: what the alert traffic looked like, where the noise came from,
and where to look first. Plain prose, no markdown headings.`

func buildPrompt(run *pipeline.Run) string {
	stats, _ := json.MarshalIndent(map[string]any{
		"observed":          run.Observed,
		"survived":          run.Survived,
		"suppressed":        run.Suppressed,
		"reduction_percent": run.Reduction,
		"window":            run.Window,
	}, "", "  ")

	rootCause := "none identified"
	var related []string
	if run.RCA != nil && run.RCA.RootCause != "" {
		rootCause = run.RCA.RootCause
		if run.Matrix != nil {
			related = run.Matrix.Related(rootCause, relatedThreshold)
		}
	}

	var topServices []string
	for i, s := range run.Ranking {
		if i >= 5 {
			break
		}
		topServices = append(topServices, s.Service)
	}

	detail, _ := json.MarshalIndent(map[string]any{
		"correlation_groups": len(run.Groups),
		"anomalies":          len(run.Anomalies),
		"likely_root_cause":  rootCause,
		"correlated_with":    related,
		"busiest_services":   topServices,
	}, "", "  ")

	return fmt.Sprintf(`Analysis run %s finished.

Suppression:
%s

Findings:
%s

Summarize for the on-call engineer.`, run.ID, string(stats), string(detail))
}
