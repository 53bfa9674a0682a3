// Package textgen talks to an OpenRouter-compatible chat completions
// endpoint. Replies are returned as opaque text; callers decide how to parse.
package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"digestflow/internal/domain"
)

const (
	DefaultModel   = "openai/gpt-4o-mini"
	DefaultBaseURL = "https://openrouter.ai/api/v1"
)

type Request struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
}

// Generator is the narrow contract the content pipeline depends on.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

type Config struct {
	BaseURL       string
	APIKey        string
	Model         string
	Temperature   float64
	MaxTokens     int
	Timeout       time.Duration
	RatePerMinute int   // 0 = unlimited
	Cache         Cache // nil = no caching
	CacheTTL      time.Duration
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	c := &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
	if cfg.RatePerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), 1)
	}
	return c
}

func (c *Client) IsConfigured() bool { return c.cfg.APIKey != "" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate returns the first choice's text. Every failure wraps
// domain.ErrUpstreamUnavailable.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if !c.IsConfigured() {
		return "", errors.Wrap(domain.ErrUpstreamUnavailable, "text generation API key not configured")
	}
	if req.Model == "" {
		req.Model = c.cfg.Model
	}

	key := cacheKey(req)
	if c.cfg.Cache != nil {
		if text, ok := c.cfg.Cache.Get(ctx, key); ok {
			log.Debug().Str("model", req.Model).Msg("text generation cache hit")
			return text, nil
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", errors.Wrap(domain.ErrUpstreamUnavailable, err.Error())
		}
	}

	text, err := c.complete(ctx, req)
	if err != nil {
		return "", errors.Wrap(domain.ErrUpstreamUnavailable, err.Error())
	}

	if c.cfg.Cache != nil {
		c.cfg.Cache.Set(ctx, key, text, c.cfg.CacheTTL)
	}
	return text, nil
}

func (c *Client) complete(ctx context.Context, req Request) (string, error) {
	messages := []chatMessage{{Role: "user", Content: req.UserPrompt}}
	if req.SystemPrompt != "" {
		messages = append([]chatMessage{{Role: "system", Content: req.SystemPrompt}}, messages...)
	}
	body, err := json.Marshal(chatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", errors.Wrap(err, "marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("X-Title", "digestflow")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", errors.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Newf("API request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var out chatCompletionResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", errors.Wrap(err, "unmarshal response")
	}
	if len(out.Choices) == 0 {
		return "", errors.New("response has no choices")
	}

	log.Debug().
		Str("model", req.Model).
		Int("prompt_tokens", out.Usage.PromptTokens).
		Int("completion_tokens", out.Usage.CompletionTokens).
		Dur("took", time.Since(start)).
		Msg("text generation completed")
	return out.Choices[0].Message.Content, nil
}
