// Package translate forwards text to an Ollama or OpenAI-compatible endpoint.
package translate

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

	"go.uber.org/zap"
)

var (
	ErrMissingURL   = errors.New("translate: api url is not set")
	ErrMissingToken = errors.New("translate: api token is not set")
	ErrNoText       = errors.New("translate: could not extract translated text")
)

// StatusError carries a non-2xx status from the translation API.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("translate: upstream status %d", e.StatusCode)
}

type Config struct {
	APIURL     string
	APIToken   string
	Model      string
	SourceLang string
	TargetLang string
	Timeout    time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
}

type Option func(*Client)

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

func New(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	c := &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, log: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// IsOllama reports whether the configured endpoint is a local Ollama server.
func (c *Client) IsOllama() bool {
	return strings.Contains(c.cfg.APIURL, ":11434")
}

func (c *Client) Translate(ctx context.Context, text string) (string, error) {
	if c.cfg.APIURL == "" {
		return "", ErrMissingURL
	}
	if c.cfg.APIToken == "" && !c.IsOllama() {
		return "", ErrMissingToken
	}

	body, err := json.Marshal(c.payload(text))
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn("translation request failed", zap.Int("status", resp.StatusCode))
		return "", &StatusError{StatusCode: resp.StatusCode}
	}
	out := ExtractText(b)
	if out == "" {
		return "", ErrNoText
	}
	return out, nil
}

func (c *Client) prompt(text string) string {
	return fmt.Sprintf("Translate the following %s text to %s. Only return the translated text, no explanations:\n\n%s",
		c.cfg.SourceLang, c.cfg.TargetLang, text)
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *Client) payload(text string) map[string]any {
	system := fmt.Sprintf("You are a professional %s to %s translator.", c.cfg.SourceLang, c.cfg.TargetLang)
	if !c.IsOllama() {
		return map[string]any{
			"model": c.cfg.Model,
			"messages": []message{
				{Role: "system", Content: system},
				{Role: "user", Content: c.prompt(text)},
			},
			"temperature": 0.3,
		}
	}
	opts := map[string]any{"temperature": 0.3, "top_p": 0.9}
	if strings.Contains(c.cfg.APIURL, "/api/chat") {
		return map[string]any{
			"model": c.cfg.Model,
			"messages": []message{
				{Role: "system", Content: system},
				{Role: "user", Content: c.prompt(text)},
			},
			"stream":  false,
			"options": opts,
		}
	}
	return map[string]any{
		"model":   c.cfg.Model,
		"prompt":  system + "\n" + c.prompt(text),
		"stream":  false,
		"options": opts,
	}
}

type apiResponse struct {
	Response *string `json:"response"`
	Message  *struct {
		Content string `json:"content"`
	} `json:"message"`
	Choices []struct {
		Message *struct {
			Content string `json:"content"`
		} `json:"message"`
		Text string `json:"text"`
	} `json:"choices"`
}

// ExtractText pulls the translation out of generate, chat or completions
// response bodies.
func ExtractText(body []byte) string {
	var r apiResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return ""
	}
	switch {
	case r.Response != nil:
		return strings.TrimSpace(*r.Response)
	case r.Message != nil:
		return strings.TrimSpace(r.Message.Content)
	case len(r.Choices) > 0:
		if m := r.Choices[0].Message; m != nil {
			return strings.TrimSpace(m.Content)
		}
		return strings.TrimSpace(r.Choices[0].Text)
	}
	return ""
}
