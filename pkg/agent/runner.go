package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hollis/chassis/internal/metrics"
	"github.com/hollis/chassis/pkg/translator"
)

// DefaultMaxIterations bounds the model/tool loop when the caller does not
// set one.
const DefaultMaxIterations = 5

const defaultMaxRetries = 3

// ToolSource supplies tool descriptors and executes tool calls. It never
// returns a Go error from Dispatch; failures come back as error results.
type ToolSource interface {
	Aggregate(allowed []string) []translator.ToolDescriptor
	Dispatch(ctx context.Context, inv translator.Invocation) translator.Result
}

// Runner drives the model/tool loop against a single provider.
type Runner struct {
	provider      Provider
	tools         ToolSource
	metrics       *metrics.Metrics
	logger        zerolog.Logger
	model         string
	maxRetries    int
	maxIterations int
	temperature   float64
	maxTokens     int
	systemPrompt  string
}

// Config holds runner configuration. The Default* fields fill in
// RunParams fields the caller leaves zero-valued.
type Config struct {
	Provider Provider
	Tools    ToolSource
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger

	// DefaultModel is used when RunParams.Model is empty.
	DefaultModel string

	// MaxRetries bounds provider retries per call. Zero means the default.
	MaxRetries int

	// DefaultMaxIterations bounds the loop when RunParams.MaxIterations is
	// zero. Zero means DefaultMaxIterations (the package constant).
	DefaultMaxIterations int

	// DefaultTemperature is used when RunParams.Temperature is zero.
	DefaultTemperature float64

	// DefaultMaxTokens is used when RunParams.MaxTokens is zero.
	DefaultMaxTokens int

	// DefaultSystemPrompt is used when RunParams.SystemPrompt is empty.
	DefaultSystemPrompt string
}

// NewRunner creates a new agent runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool source is required")
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	maxIterations := cfg.DefaultMaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	return &Runner{
		provider:      cfg.Provider,
		tools:         cfg.Tools,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		model:         cfg.DefaultModel,
		maxRetries:    maxRetries,
		maxIterations: maxIterations,
		temperature:   cfg.DefaultTemperature,
		maxTokens:     cfg.DefaultMaxTokens,
		systemPrompt:  cfg.DefaultSystemPrompt,
	}, nil
}

// Run executes the model/tool loop until the model answers without tool
// calls or the iteration bound is reached. Every run that returns a nil
// error ended in a definite outcome; tool failures never abort a run.
func (r *Runner) Run(ctx context.Context, params RunParams) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	done := r.metrics.RunStarted()
	defer done()

	start := time.Now()
	result, err := r.execute(ctx, params, nil)
	if err != nil {
		r.metrics.RecordRun(r.provider.Name(), time.Since(start), "failed")
		return Result{}, err
	}

	r.metrics.RecordRun(r.provider.Name(), time.Since(start), string(result.Outcome))
	return result, nil
}

// execute is the shared loop behind Run and RunStream. When emit is non-nil
// it is invoked for lifecycle moments; a nil return from emit means the
// consumer is gone and the loop should stop.
func (r *Runner) execute(ctx context.Context, params RunParams, hooks *streamHooks) (Result, error) {
	if err := r.validateParams(params); err != nil {
		return Result{}, fmt.Errorf("invalid run parameters: %w", err)
	}

	runID := uuid.NewString()
	logger := r.logger.With().Str("run_id", runID).Logger()

	model := params.Model
	if model == "" {
		model = r.model
	}

	maxIterations := params.MaxIterations
	if maxIterations <= 0 {
		maxIterations = r.maxIterations
	}

	temperature := params.Temperature
	if temperature == 0 {
		temperature = r.temperature
	}
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = r.maxTokens
	}
	systemPrompt := params.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = r.systemPrompt
	}

	tools := r.tools.Aggregate(params.AllowedTools)
	allowed := allowedSet(params.AllowedTools)

	logger.Debug().
		Int("tools", len(tools)).
		Int("max_iterations", maxIterations).
		Msg("Run started")

	messages := make([]Message, len(params.Messages))
	copy(messages, params.Messages)

	allToolCalls := []ToolCall{}
	usage := &TokenUsage{}

	for iteration := 0; iteration < maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		req := Request{
			Model:        model,
			Messages:     messages,
			Tools:        tools,
			Temperature:  temperature,
			MaxTokens:    maxTokens,
			SystemPrompt: systemPrompt,
		}

		response, err := r.callWithRetry(ctx, req, hooks)
		if err != nil {
			return Result{}, err
		}
		usage.add(response.Usage)

		if len(response.ToolCalls) == 0 {
			final := Message{Role: "assistant", Content: response.Content}
			messages = append(messages, final)
			return Result{
				Outcome:   OutcomeComplete,
				Message:   final,
				Messages:  messages,
				ToolCalls: allToolCalls,
				Usage:     usage,
			}, nil
		}

		messages = append(messages, Message{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})
		allToolCalls = append(allToolCalls, response.ToolCalls...)

		if hooks != nil {
			for _, tc := range response.ToolCalls {
				if !hooks.toolCallStarted(tc) {
					return Result{}, ctx.Err()
				}
			}
		}

		results := r.executeToolCalls(ctx, response.ToolCalls, allowed)

		for i, res := range results {
			tc := response.ToolCalls[i]
			messages = append(messages, Message{
				Role:       "tool",
				Content:    res.Output,
				ToolCallID: tc.ID,
				IsError:    res.IsError,
			})
			if hooks != nil && !hooks.toolResult(tc, res) {
				return Result{}, ctx.Err()
			}
		}
	}

	last := Message{Role: "assistant"}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "assistant" {
			last = messages[i]
			break
		}
	}

	logger.Warn().
		Int("max_iterations", maxIterations).
		Msg("Run truncated at iteration bound")

	return Result{
		Outcome:   OutcomeTruncated,
		Message:   last,
		Messages:  messages,
		ToolCalls: allToolCalls,
		Usage:     usage,
	}, nil
}

// executeToolCalls runs the calls of one model turn concurrently and
// returns results in request order. Non-allowed and failing tools produce
// error results, never Go errors.
func (r *Runner) executeToolCalls(ctx context.Context, calls []ToolCall, allowed map[string]struct{}) []translator.Result {
	results := make([]translator.Result, len(calls))

	var wg sync.WaitGroup
	for i, tc := range calls {
		wg.Add(1)
		go func(i int, tc ToolCall) {
			defer wg.Done()
			results[i] = r.executeToolCall(ctx, tc, allowed)
		}(i, tc)
	}
	wg.Wait()

	return results
}

func (r *Runner) executeToolCall(ctx context.Context, tc ToolCall, allowed map[string]struct{}) translator.Result {
	start := time.Now()

	if allowed != nil {
		if _, ok := allowed[tc.Name]; !ok {
			r.logger.Warn().Str("tool", tc.Name).Msg("Blocked tool call outside allowed set")
			r.metrics.RecordToolCall(tc.Name, time.Since(start), true)
			return translator.Result{
				ID:      tc.ID,
				Output:  fmt.Sprintf("Error: Tool '%s' is not allowed in this context.", tc.Name),
				IsError: true,
			}
		}
	}

	res := r.tools.Dispatch(ctx, translator.Invocation{
		ID:        tc.ID,
		Name:      tc.Name,
		Arguments: tc.Arguments,
	})
	r.metrics.RecordToolCall(tc.Name, time.Since(start), res.IsError)
	return res
}

// callWithRetry calls the provider with exponential backoff on retryable
// errors. Streaming runs get no retry once deltas may have been emitted.
func (r *Runner) callWithRetry(ctx context.Context, req Request, hooks *streamHooks) (*Response, error) {
	if hooks != nil {
		return r.provider.Stream(ctx, req, hooks.contentDelta)
	}

	var lastErr error

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		response, err := r.provider.Call(ctx, req)
		if err == nil {
			return response, nil
		}

		lastErr = err

		if !IsRetryableError(err) {
			return nil, err
		}
		if attempt == r.maxRetries-1 {
			break
		}

		delay := time.Duration(1<<attempt) * time.Second
		r.logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying provider call after error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", r.maxRetries, lastErr)
}

func (r *Runner) validateParams(params RunParams) error {
	if len(params.Messages) == 0 {
		return fmt.Errorf("messages cannot be empty")
	}
	if params.Temperature < 0 || params.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1")
	}
	if params.MaxTokens < 0 {
		return fmt.Errorf("max tokens cannot be negative")
	}
	if params.MaxIterations < 0 {
		return fmt.Errorf("max iterations cannot be negative")
	}
	return nil
}

// allowedSet returns nil for a nil slice so that "no restriction" and
// "empty whitelist" stay distinguishable.
func allowedSet(allowed []string) map[string]struct{} {
	if allowed == nil {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		set[name] = struct{}{}
	}
	return set
}
