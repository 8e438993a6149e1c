package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"municonsole_back/config"
)

// Generator produces assistant replies.
type Generator interface {
	Chat(ctx context.Context, req Request) (Result, error)
	ChatStream(ctx context.Context, req Request, handler func(Delta) error) (Result, error)
}

// Turn is one message of a generation request.
type Turn struct {
	Role    string
	Content string
}

// Request describes one completion call.
type Request struct {
	Model       string
	Messages    []Turn
	Temperature *float64
	MaxTokens   *int
}

// Delta is an incremental piece of a streamed reply.
type Delta struct {
	Content     string
	FullContent string
	Done        bool
}

// Usage captures token usage metrics returned by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is the content and usage of a completion.
type Result struct {
	Content string
	Usage   *Usage
}

// Client calls an OpenAI compatible chat completions API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	modelID    string
}

// NewClient builds a Client. Without an API key generation is disabled and
// (nil, nil) is returned.
func NewClient(cfg config.LLMConfig) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, nil
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("chat: invalid base URL %q", baseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		modelID:    strings.TrimSpace(cfg.ModelID),
	}, nil
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string              `json:"model"`
	Stream      bool                `json:"stream"`
	Messages    []completionMessage `json:"messages"`
	Temperature *float64            `json:"temperature,omitempty"`
	MaxTokens   *int                `json:"max_tokens,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message completionMessage `json:"message"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

func (c *Client) payload(req Request, stream bool) (*bytes.Buffer, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.modelID
	}
	body := completionRequest{
		Model:       model,
		Stream:      stream,
		Messages:    make([]completionMessage, 0, len(req.Messages)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, msg := range req.Messages {
		role := strings.TrimSpace(msg.Role)
		if role == "" {
			role = RoleUser
		}
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		body.Messages = append(body.Messages, completionMessage{Role: role, Content: content})
	}
	if len(body.Messages) == 0 {
		return nil, errors.New("chat: messages contain no content")
	}

	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		return nil, fmt.Errorf("chat: encode request: %w", err)
	}
	return buf, nil
}

func (c *Client) do(ctx context.Context, body io.Reader, stream bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", body)
	if err != nil {
		return nil, fmt.Errorf("chat: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat: execute request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("chat: unexpected status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	return resp, nil
}

// Chat returns the first choice of a non-streaming completion.
func (c *Client) Chat(ctx context.Context, req Request) (Result, error) {
	if c == nil {
		return Result{}, errors.New("chat: client is nil")
	}
	body, err := c.payload(req, false)
	if err != nil {
		return Result{}, err
	}
	resp, err := c.do(ctx, body, false)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	return decodeCompletion(resp.Body)
}

func decodeCompletion(r io.Reader) (Result, error) {
	var decoded completionResponse
	if err := json.NewDecoder(r).Decode(&decoded); err != nil {
		return Result{}, fmt.Errorf("chat: decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return Result{}, errors.New("chat: response contains no choices")
	}
	return Result{Content: strings.TrimSpace(decoded.Choices[0].Message.Content), Usage: decoded.Usage}, nil
}

// ChatStream requests a streamed completion and calls handler for each
// delta. Providers that answer with plain JSON are reported as one delta.
func (c *Client) ChatStream(ctx context.Context, req Request, handler func(Delta) error) (Result, error) {
	if c == nil {
		return Result{}, errors.New("chat: client is nil")
	}
	body, err := c.payload(req, true)
	if err != nil {
		return Result{}, err
	}
	resp, err := c.do(ctx, body, true)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	emit := func(delta Delta) error {
		if handler == nil {
			return nil
		}
		return handler(delta)
	}

	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "application/json") {
		result, err := decodeCompletion(resp.Body)
		if err != nil {
			return Result{}, err
		}
		if result.Content != "" {
			if err := emit(Delta{Content: result.Content, FullContent: result.Content}); err != nil {
				return Result{}, err
			}
		}
		if err := emit(Delta{FullContent: result.Content, Done: true}); err != nil {
			return Result{}, err
		}
		return result, nil
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var builder strings.Builder
	var usage *Usage

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(line[len("data:"):])
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			builder.WriteString(choice.Delta.Content)
			if err := emit(Delta{Content: choice.Delta.Content, FullContent: builder.String()}); err != nil {
				return Result{}, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Result{}, fmt.Errorf("chat: read stream: %w", err)
	}

	full := strings.TrimSpace(builder.String())
	if err := emit(Delta{FullContent: full, Done: true}); err != nil {
		return Result{}, err
	}
	return Result{Content: full, Usage: usage}, nil
}
