package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const anthropicAPI = "https://api.anthropic.com/v1/messages"

// GenerationError wraps any failure of the text-generation boundary. One
// call per invocation, no retries; callers decide whether it is fatal.
type GenerationError struct {
	Model string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation with %s: %v", e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Client talks to the Anthropic Messages API.
type Client struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// New builds a Client. The key comes from ANTHROPIC_API_KEY, falling back
// to the key file under the secrets directory.
func New(keyFile string) (*Client, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" && keyFile != "" {
		data, err := os.ReadFile(keyFile)
		if err == nil {
			apiKey = strings.TrimSpace(string(data))
		}
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no Anthropic API key: set ANTHROPIC_API_KEY or create %s", keyFile)
	}
	return &Client{
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// Request is one prompt for one model.
type Request struct {
	Model     string
	MaxTokens int
	Prompt    string
}

// Result is the model text plus usage metadata.
type Result struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends one prompt and returns the model text. Every failure comes
// back as a *GenerationError.
func (c *Client) Complete(ctx context.Context, r Request) (*Result, error) {
	res, err := c.complete(ctx, r)
	if err != nil {
		return nil, &GenerationError{Model: r.Model, Err: err}
	}
	return res, nil
}

func (c *Client) complete(ctx context.Context, r Request) (*Result, error) {
	reqBody := apiRequest{
		Model:     r.Model,
		MaxTokens: r.MaxTokens,
		Messages:  []apiMessage{{Role: "user", Content: r.Prompt}},
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := c.BaseURL
	if url == "" {
		url = anthropicAPI
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(body))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("api error: %s", apiResp.Error.Message)
	}
	if len(apiResp.Content) == 0 {
		return nil, fmt.Errorf("empty response")
	}

	return &Result{
		Text:         apiResp.Content[0].Text,
		Model:        apiResp.Model,
		InputTokens:  apiResp.Usage.InputTokens,
		OutputTokens: apiResp.Usage.OutputTokens,
	}, nil
}

// StripFences removes a wrapping markdown code fence from model output.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```markdown")
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
