// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package llm generates option lists with an OpenAI chat model.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"

	"github.com/danielhkuo/choosing-sucks/providers"
	"github.com/danielhkuo/choosing-sucks/usage"
)

const (
	DefaultModel = "gpt-4o-mini"
	DefaultCount = 4
	MinCount     = 2
	MaxCount     = 10

	maxOptionLength = 80
)

const systemPrompt = `You help a small group of friends make a decision.
Reply with ONLY a JSON array of %d short, distinct option strings (at most 8 words each).
No explanations, no numbering, no markdown.
If the request includes an image, base the options on what the image shows.`

// Fallback reasons
const (
	ReasonNotConfigured = "not_configured"
	ReasonDailyLimit    = "daily_limit"
	ReasonError         = "error"
	ReasonRefused       = "refused"
	ReasonUnparsable    = "unparsable"
)

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// DailyCounter reports calls already made today
type DailyCounter interface {
	DailyCount(ctx context.Context, provider string) (int, error)
}

// Result of an option generation. Fallback results carry static options.
type Result struct {
	Options  []string
	Fallback bool
	Reason   string
}

type Client struct {
	api        chatCompleter
	model      string
	dailyLimit int
	counter    DailyCounter
	sink       usage.Sink
}

// New builds a client. An empty key yields a client that always falls back.
func New(apiKey, model, baseURL string, dailyLimit int, counter DailyCounter, sink usage.Sink) *Client {
	c := &Client{
		model:      model,
		dailyLimit: dailyLimit,
		counter:    counter,
		sink:       sink,
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if apiKey != "" {
		config := openai.DefaultConfig(apiKey)
		if baseURL != "" {
			config.BaseURL = baseURL
		}
		httpClient := cleanhttp.DefaultPooledClient()
		httpClient.Timeout = 30 * time.Second
		config.HTTPClient = httpClient
		c.api = openai.NewClientWithConfig(config)
	}
	return c
}

func (c *Client) Configured() bool {
	return c.api != nil
}

// ClampCount bounds a requested option count
func ClampCount(n int) int {
	if n == 0 {
		return DefaultCount
	}
	if n < MinCount {
		return MinCount
	}
	if n > MaxCount {
		return MaxCount
	}
	return n
}

// FallbackOptions returns "Option A", "Option B", ...
func FallbackOptions(n int) []string {
	n = ClampCount(n)
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("Option %c", 'A'+i)
	}
	return out
}

func fallback(n int, reason string) Result {
	return Result{Options: FallbackOptions(n), Fallback: true, Reason: reason}
}

// GenerateOptions asks the model for count options about prompt and/or an
// image. It never fails: every problem yields the static fallback list.
func (c *Client) GenerateOptions(ctx context.Context, prompt, imageURL string, count int) Result {
	count = ClampCount(count)
	logger := log.WithFields(log.Fields{"provider": usage.ProviderOpenAI, "count": count})

	if !c.Configured() {
		return fallback(count, ReasonNotConfigured)
	}

	if c.counter != nil && c.dailyLimit > 0 {
		used, err := c.counter.DailyCount(ctx, usage.ProviderOpenAI)
		if err != nil {
			logger.WithError(err).Warn("failed to read daily usage")
		} else if used >= c.dailyLimit {
			logger.WithField("used", used).Warn("daily LLM budget exhausted")
			return fallback(count, ReasonDailyLimit)
		}
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, c.buildRequest(prompt, imageURL, count))
	call := usage.Call{
		Provider:   usage.ProviderOpenAI,
		Endpoint:   "chat/completions",
		StatusCode: http.StatusOK,
		Latency:    time.Since(start),
		SessionID:  providers.SessionIDFrom(ctx),
	}
	if err != nil {
		call.StatusCode = statusFromError(err)
		c.record(ctx, call)
		logger.WithError(err).Warn("chat completion failed")
		return fallback(count, ReasonError)
	}
	call.PromptTokens = resp.Usage.PromptTokens
	call.CompletionTokens = resp.Usage.CompletionTokens
	c.record(ctx, call)

	if len(resp.Choices) == 0 {
		return fallback(count, ReasonUnparsable)
	}
	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter || choice.Message.Refusal != "" {
		logger.Info("model refused option request")
		return fallback(count, ReasonRefused)
	}

	options, err := ParseOptions(choice.Message.Content, count)
	if err != nil {
		logger.WithError(err).Warn("unparsable model output")
		return fallback(count, ReasonUnparsable)
	}
	return Result{Options: options}
}

func (c *Client) buildRequest(prompt, imageURL string, count int) openai.ChatCompletionRequest {
	text := strings.TrimSpace(prompt)
	if text == "" {
		text = "Suggest options based on this image."
	}

	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if imageURL != "" {
		user.MultiContent = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: text},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
				URL:    imageURL,
				Detail: openai.ImageURLDetailLow,
			}},
		}
	} else {
		user.Content = text
	}

	return openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(systemPrompt, count)},
			user,
		},
		Temperature: 0.8,
		MaxTokens:   300,
	}
}

func (c *Client) record(ctx context.Context, call usage.Call) {
	if c.sink != nil {
		c.sink.Record(context.WithoutCancel(ctx), call)
	}
}

func statusFromError(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// ParseOptions extracts a JSON array of strings from model output. Code
// fences and surrounding prose are ignored; blanks and duplicates are dropped
// and the list is cut to max.
func ParseOptions(content string, max int) ([]string, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return nil, errors.New("no JSON array in output")
	}

	var raw []string
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, errors.Wrap(err, "decode options")
	}

	seen := map[string]bool{}
	options := make([]string, 0, len(raw))
	for _, o := range raw {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if r := []rune(o); len(r) > maxOptionLength {
			o = strings.TrimSpace(string(r[:maxOptionLength]))
		}
		k := strings.ToLower(o)
		if seen[k] {
			continue
		}
		seen[k] = true
		options = append(options, o)
		if len(options) == max {
			break
		}
	}

	if len(options) < MinCount {
		return nil, errors.Errorf("only %d usable options", len(options))
	}
	return options, nil
}
