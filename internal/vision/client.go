// Package vision wraps the upstream paid vision model behind a small
// client interface. Every call here costs money; callers are expected
// to meter each attempt, including failed ones.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrUpstream means the vision provider returned a failure or could
	// not be reached. Retryable from the caller's point of view; the
	// attempt is still billable.
	ErrUpstream = errors.New("upstream vision model error")

	// ErrEmptyAnswer means the provider responded successfully but with
	// no usable content.
	ErrEmptyAnswer = errors.New("upstream returned empty answer")
)

// Request is one image to be read by the model.
type Request struct {
	ImageBase64 string // raw base64, no data-URI wrapper
	MIMEType    string // defaults to image/png
	Prompt      string // defaults to the configured prompt
}

// Result is the model's answer for one request.
type Result struct {
	Answer string
	Model  string
}

// Client is the upstream collaborator consumed by the solve pipeline.
type Client interface {
	Solve(ctx context.Context, req Request) (*Result, error)
}

// Config for the OpenAI-compatible chat-completions client.
type Config struct {
	BaseURL string // e.g. https://api.openai.com
	APIKey  string
	Model   string
	Prompt  string        // default instruction sent with every image
	Timeout time.Duration // 0 means 30s
}

// OpenAIClient talks to any OpenAI-compatible /v1/chat/completions
// endpoint with image input.
type OpenAIClient struct {
	cfg  Config
	http *http.Client
}

// NewOpenAIClient creates a client for the configured provider.
func NewOpenAIClient(cfg Config) *OpenAIClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Prompt == "" {
		cfg.Prompt = "Read the image and answer with only the text it contains."
	}
	return &OpenAIClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Solve sends the image and returns the model's text answer.
func (c *OpenAIClient) Solve(ctx context.Context, req Request) (*Result, error) {
	mime := req.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	prompt := req.Prompt
	if prompt == "" {
		prompt = c.cfg.Prompt
	}

	body := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &imageURL{
					URL: "data:" + mime + ";base64," + req.ImageBase64,
				}},
			},
		}},
		MaxTokens: 256,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode vision request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(c.cfg.BaseURL, "/")+"/v1/chat/completions",
		bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build vision request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUpstream, err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: status %d, unparseable body", ErrUpstream, resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		msg := ""
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, msg)
	}

	if len(parsed.Choices) == 0 {
		return nil, ErrEmptyAnswer
	}
	answer := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if answer == "" {
		return nil, ErrEmptyAnswer
	}

	return &Result{Answer: answer, Model: parsed.Model}, nil
}
