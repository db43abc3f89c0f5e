// Package llm is the optional model boundary: a completion client, the
// Ollama implementation, and the prompts and parsers for query intent and
// result reranking.
package llm

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

// CompletionOptions tune one completion.
type CompletionOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Client completes a prompt into text.
type Client interface {
	Complete(ctx context.Context, prompt string, opts CompletionOptions) (string, error)
}

const (
	DefaultBaseURL = "http://127.0.0.1:11434"
	DefaultTimeout = 30 * time.Second
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("empty model response")

// OllamaConfig configures an Ollama client.
type OllamaConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Ollama calls the /api/generate endpoint of an Ollama server without
// streaming. It is safe for concurrent use.
type Ollama struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllama returns a client, filling zero config fields with defaults.
func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Ollama{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Complete sends prompt and returns the generated text. opts.Model overrides
// the configured model.
func (o *Ollama) Complete(ctx context.Context, prompt string, opts CompletionOptions) (string, error) {
	model := opts.Model
	if model == "" {
		model = o.model
	}
	if model == "" {
		return "", errors.New("ollama: no model configured")
	}
	body, err := json.Marshal(generateRequest{
		Model:  model,
		Prompt: prompt,
		Options: generateOptions{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxTokens,
		},
	})
	if err != nil {
		return "", fmt.Errorf("ollama: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ollama: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama: sending request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("ollama: reading response: %w", err)
	}
	var out generateResponse
	if resp.StatusCode != http.StatusOK {
		if json.Unmarshal(data, &out) == nil && out.Error != "" {
			return "", fmt.Errorf("ollama: status %d: %s", resp.StatusCode, out.Error)
		}
		return "", fmt.Errorf("ollama: status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("ollama: decoding response: %w", err)
	}
	if strings.TrimSpace(out.Response) == "" {
		return "", ErrEmptyResponse
	}
	return out.Response, nil
}
