// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package claude is the Messages API client for the conversion pipeline.
// It sends page-range sub-PDFs with conversion prompts, classifies failures
// as transient or permanent, and retries transient ones with exponential
// backoff.
package claude

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/pdiddy/pdf2md/pkg/types"
)

// apiURL is the Messages API endpoint. Package-level var for test substitution.
var apiURL = "https://api.anthropic.com/v1/messages"

// retryBaseDelay is the initial backoff delay. Overridden in tests.
var retryBaseDelay = time.Second

// retryMaxDelay caps the exponential backoff.
const retryMaxDelay = 30 * time.Second

// Client calls the Claude Messages API.
type Client struct {
	APIKey string
	Model  types.ModelConfig

	// MaxRetries is the number of retry attempts for transient failures
	// on top of the initial call (default 5 when zero).
	MaxRetries int

	// EnableCaching marks the document block with a 1h cache_control so
	// repeated chunks of the same PDF hit the prompt cache.
	EnableCaching bool

	// Thinking enables extended thinking when the model supports it.
	Thinking bool

	HTTPClient *http.Client
}

// Request is one conversion call: a system prompt, a user prompt, and an
// optional PDF document attachment.
type Request struct {
	System    string
	Prompt    string
	PDFData   []byte
	MaxTokens int
}

// Result is the outcome of a successful API call.
type Result struct {
	Text       string
	StopReason string
	Usage      types.Usage
}

// Truncated reports whether the response hit the output token limit.
// Retrying cannot help; the caller must treat the chunk as failed.
func (r Result) Truncated() bool { return r.StopReason == "max_tokens" }

type apiRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	System    []contentBlock  `json:"system,omitempty"`
	Messages  []apiMessage    `json:"messages"`
	Thinking  *thinkingConfig `json:"thinking,omitempty"`
}

type apiMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type         string          `json:"type"`
	Text         string          `json:"text,omitempty"`
	Source       *documentSource `json:"source,omitempty"`
	CacheControl *cacheControl   `json:"cache_control,omitempty"`
}

type documentSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type cacheControl struct {
	Type string `json:"type"`
	TTL  string `json:"ttl,omitempty"`
}

type thinkingConfig struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Call performs one conversion request with transient-failure retries.
// Transient failures (rate limits, server errors, network errors) back off
// exponentially with the delay capped at 30 seconds; permanent failures
// return immediately.
func (c *Client) Call(ctx context.Context, req Request) (Result, error) {
	attempts := c.MaxRetries
	if attempts <= 0 {
		attempts = 5
	}

	var res Result
	err := retry.Do(
		func() error {
			var err error
			res, err = c.do(ctx, req)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(uint(attempts)+1),
		retry.Delay(retryBaseDelay),
		retry.MaxDelay(retryMaxDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(retryBaseDelay),
		retry.RetryIf(IsTransient),
		retry.LastErrorOnly(true),
	)
	return res, err
}

func (c *Client) do(ctx context.Context, req Request) (Result, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.Model.MaxOutputTokens
	}

	var content []contentBlock
	if len(req.PDFData) > 0 {
		doc := contentBlock{
			Type: "document",
			Source: &documentSource{
				Type:      "base64",
				MediaType: "application/pdf",
				Data:      base64.StdEncoding.EncodeToString(req.PDFData),
			},
		}
		if c.EnableCaching {
			doc.CacheControl = &cacheControl{Type: "ephemeral", TTL: "1h"}
		}
		content = append(content, doc)
	}
	content = append(content, contentBlock{Type: "text", Text: req.Prompt})

	body := apiRequest{
		Model:     c.Model.ModelID,
		MaxTokens: maxTokens,
		Messages:  []apiMessage{{Role: "user", Content: content}},
	}
	if req.System != "" {
		sys := contentBlock{Type: "text", Text: req.System}
		if c.EnableCaching {
			sys.CacheControl = &cacheControl{Type: "ephemeral", TTL: "1h"}
		}
		body.System = []contentBlock{sys}
	}
	if c.Thinking && c.Model.SupportsAdaptiveThinking {
		body.Thinking = &thinkingConfig{Type: "enabled", BudgetTokens: 8192}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	if c.Model.BetaHeader != "" {
		httpReq.Header.Set("anthropic-beta", c.Model.BetaHeader)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, &TransientError{Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return Result{}, &TransientError{Message: fmt.Sprintf("reading response: %v", err)}
	}

	if transientStatus(resp.StatusCode) {
		return Result{}, &TransientError{StatusCode: resp.StatusCode, Message: truncate(string(respBody), 300)}
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, &PermanentError{StatusCode: resp.StatusCode, Message: truncate(string(respBody), 300)}
	}

	var api apiResponse
	if err := json.Unmarshal(respBody, &api); err != nil {
		return Result{}, fmt.Errorf("decoding API response: %w", err)
	}
	if api.Error != nil {
		return Result{}, &PermanentError{Message: fmt.Sprintf("%s: %s", api.Error.Type, api.Error.Message)}
	}

	var text string
	for _, block := range api.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return Result{}, &PermanentError{Message: "no text content in API response"}
	}

	return Result{
		Text:       text,
		StopReason: api.StopReason,
		Usage: types.Usage{
			InputTokens:         api.Usage.InputTokens,
			OutputTokens:        api.Usage.OutputTokens,
			CacheCreationTokens: api.Usage.CacheCreationInputTokens,
			CacheReadTokens:     api.Usage.CacheReadInputTokens,
		},
	}, nil
}

// transientStatus reports whether an HTTP status is worth retrying:
// rate limits, server errors, and the overloaded status.
func transientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests:
		return true
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable:
		return true
	case 529: // overloaded_error
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
