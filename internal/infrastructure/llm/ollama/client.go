package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/arxlab/litagent/internal/core/domain"
	"github.com/arxlab/litagent/internal/infrastructure/resilience"
)

// Client talks to a local Ollama server. It implements both the completion
// provider and the embedder ports; callers treat it as a black box that
// maps prompts to text plus token counts.
type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	limiter    *rate.Limiter
	executor   *resilience.Executor
	usage      UsageObserver
}

// UsageObserver receives the token counts of every successful completion.
type UsageObserver func(model string, promptTokens, completionTokens int)

type Options struct {
	RequestTimeout     time.Duration
	RequestsPerSecond  float64
	RequestBurst       int
	ResilienceExecutor *resilience.Executor
	UsageObserver      UsageObserver
}

func New(baseURL, genModel, embedModel string, options Options) *Client {
	timeout := options.RequestTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	rps := options.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := options.RequestBurst
	if burst <= 0 {
		burst = 2
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		executor:   options.ResilienceExecutor,
		usage:      options.UsageObserver,
	}
}

func (c *Client) Complete(ctx context.Context, prompt string) (domain.Completion, error) {
	return c.generate(ctx, map[string]any{
		"model":  c.genModel,
		"prompt": prompt,
		"stream": false,
	})
}

func (c *Client) CompleteJSON(ctx context.Context, prompt string) (domain.Completion, error) {
	return c.generate(ctx, map[string]any{
		"model":  c.genModel,
		"prompt": prompt,
		"stream": false,
		"format": "json",
	})
}

func (c *Client) generate(ctx context.Context, reqBody map[string]any) (domain.Completion, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.Completion{}, fmt.Errorf("rate limit wait: %w", err)
	}

	var response struct {
		Response        string `json:"response"`
		PromptEvalCount int    `json:"prompt_eval_count"`
		EvalCount       int    `json:"eval_count"`
	}

	call := func(callCtx context.Context) error {
		return c.postJSON(callCtx, "/api/generate", reqBody, &response, "generate")
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "ollama.generate", call, classifyOllamaError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return domain.Completion{}, wrapProviderIfNeeded("generate", err)
	}
	if c.usage != nil {
		c.usage(c.genModel, response.PromptEvalCount, response.EvalCount)
	}

	return domain.Completion{
		Text:             strings.TrimSpace(response.Response),
		PromptTokens:     response.PromptEvalCount,
		CompletionTokens: response.EvalCount,
	}, nil
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	request := map[string]any{
		"model": c.embedModel,
		"input": texts,
	}
	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}

	call := func(callCtx context.Context) error {
		return c.postJSON(callCtx, "/api/embed", request, &response, "embed")
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "ollama.embed", call, classifyOllamaError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, wrapProviderIfNeeded("embed", err)
	}
	return response.Embeddings, nil
}

func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}
