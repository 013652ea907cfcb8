// Package llm talks to a Messages-style completion endpoint and implements
// the planner's generation and coverage boundaries on top of it.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"studycal/internal/curriculum"
	apperrors "studycal/internal/errors"
	appLog "studycal/internal/log"
	"studycal/internal/model"
	"studycal/internal/planner"
)

const (
	DefaultBaseURL    = "https://api.anthropic.com"
	DefaultModel      = "claude-sonnet-4-5-20250929"
	apiVersion        = "2023-06-01"
	planMaxTokens     = 4000
	coverageMaxTokens = 2000
)

// Config holds client settings.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messagesResponse struct {
	Content []contentBlock `json:"content"`
	Error   *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Client implements planner.Generator and planner.CoverageAnalyzer.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

var (
	_ planner.Generator        = (*Client)(nil)
	_ planner.CoverageAnalyzer = (*Client)(nil)
)

// NewClient fills in defaults for empty fields.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Generate asks the model for a day plan and validates the answer.
func (c *Client) Generate(ctx context.Context, req planner.Request) (*model.DayPlan, error) {
	text, err := c.complete(ctx, planner.PlanPrompt(req), c.maxTokens(planMaxTokens))
	if err != nil {
		return nil, apperrors.NewGenerationFailure("plan request", err)
	}
	return planner.ParsePlan(text)
}

// Analyze asks the model for the coverage analysis.
func (c *Client) Analyze(ctx context.Context, courses []string, summary map[string]curriculum.SkillSummary) (*model.CoverageReport, error) {
	text, err := c.complete(ctx, planner.CoveragePrompt(courses, summary), coverageMaxTokens)
	if err != nil {
		return nil, apperrors.NewGenerationFailure("coverage request", err)
	}
	return planner.ParseCoverage(text)
}

func (c *Client) maxTokens(def int) int {
	if c.cfg.MaxTokens > 0 {
		return c.cfg.MaxTokens
	}
	return def
}

// complete sends one user message and returns the concatenated text blocks.
func (c *Client) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if c.cfg.APIKey == "" {
		return "", fmt.Errorf("no API key configured")
	}

	reqID := uuid.NewString()
	body, err := json.Marshal(messagesRequest{
		Model:     c.cfg.Model,
		MaxTokens: maxTokens,
		Messages:  []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", apiVersion)
	req.Header.Set("X-Request-Id", reqID)

	started := time.Now()
	appLog.Debug("llm request", "request_id", reqID, "model", c.cfg.Model, "prompt_bytes", len(prompt))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var mr messagesResponse
	decodeErr := json.Unmarshal(raw, &mr)

	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && mr.Error != nil {
			return "", fmt.Errorf("status %d: %s", resp.StatusCode, mr.Error.Message)
		}
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode response: %w", decodeErr)
	}

	var sb strings.Builder
	for _, block := range mr.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	appLog.Info("llm response",
		"request_id", reqID,
		"elapsed", time.Since(started).Round(time.Millisecond),
		"text_bytes", sb.Len(),
	)
	return sb.String(), nil
}
