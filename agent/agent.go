package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loopworks/agentengine/llm"
	"github.com/loopworks/agentengine/observe"
	"github.com/loopworks/agentengine/state"
	"github.com/loopworks/agentengine/tools"
	"github.com/loopworks/agentengine/types"
)

// EndStrategy governs when a run accepts output versus continuing to
// execute tools.
type EndStrategy string

const (
	// EndStrategyEarly accepts any text as final output immediately;
	// tool calls in the same response are recorded unexecuted.
	EndStrategyEarly EndStrategy = "early"
	// EndStrategyFirstTool executes only the first tool call and
	// treats its return as final output.
	EndStrategyFirstTool EndStrategy = "first_tool"
	// EndStrategyExhaustTools executes every tool call before any
	// text is accepted as output. This is the default: accepting text
	// while tool calls are pending has historically been a
	// correctness bug.
	EndStrategyExhaustTools EndStrategy = "exhaust_tools"
)

type Agent struct {
	provider     llm.Provider
	store        state.Store
	observer     observe.Sink
	systemPrompt string
	sessionID    string
	endStrategy  EndStrategy

	maxIterations   int
	maxOutputTokens int
	retryPolicy     RetryPolicy
	usageLimits     UsageLimits

	toolTimeout        time.Duration
	toolRetries        int
	parallelTools      bool
	maxConcurrentTools int

	outputSchema       map[string]any
	maxOutputRetries   int
	countOutputRetries bool

	middlewares []Middleware

	mu        sync.RWMutex
	toolOrder []string
	tools     map[string]tools.Tool
	sessionMu sync.Mutex
}

type Option func(*Agent)

func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) { a.systemPrompt = prompt }
}

func WithEndStrategy(strategy EndStrategy) Option {
	return func(a *Agent) {
		switch strategy {
		case EndStrategyEarly, EndStrategyFirstTool, EndStrategyExhaustTools:
			a.endStrategy = strategy
		}
	}
}

func WithMaxIterations(max int) Option {
	return func(a *Agent) {
		if max > 0 {
			a.maxIterations = max
		}
	}
}

func WithMaxOutputTokens(max int) Option {
	return func(a *Agent) {
		if max > 0 {
			a.maxOutputTokens = max
		}
	}
}

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(a *Agent) {
		a.retryPolicy = normalizeRetryPolicy(policy)
	}
}

func WithUsageLimits(limits UsageLimits) Option {
	return func(a *Agent) { a.usageLimits = limits }
}

func WithToolTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout >= 0 {
			a.toolTimeout = timeout
		}
	}
}

// WithToolRetries sets how many extra attempts a retryable tool
// failure gets before it is captured as an error return.
func WithToolRetries(retries int) Option {
	return func(a *Agent) {
		if retries >= 0 {
			a.toolRetries = retries
		}
	}
}

func WithParallelToolCalls(enabled bool) Option {
	return func(a *Agent) { a.parallelTools = enabled }
}

// WithMaxConcurrentTools bounds the fan-out when parallel tool calls
// are enabled. Zero means unbounded.
func WithMaxConcurrentTools(max int) Option {
	return func(a *Agent) {
		if max >= 0 {
			a.maxConcurrentTools = max
		}
	}
}

// WithOutputSchema enables structured output: final text must parse
// as JSON matching the schema, with bounded model self-correction on
// mismatch.
func WithOutputSchema(schema map[string]any) Option {
	return func(a *Agent) { a.outputSchema = schema }
}

func WithMaxOutputRetries(retries int) Option {
	return func(a *Agent) {
		if retries >= 0 {
			a.maxOutputRetries = retries
		}
	}
}

// WithCountOutputRetries controls whether structured-output
// correction turns consume the MaxRequests usage limit. They are real
// provider requests, so the default is true.
func WithCountOutputRetries(count bool) Option {
	return func(a *Agent) { a.countOutputRetries = count }
}

func WithStore(store state.Store) Option {
	return func(a *Agent) { a.store = store }
}

func WithObserver(observer observe.Sink) Option {
	return func(a *Agent) { a.observer = observer }
}

func WithSessionID(sessionID string) Option {
	return func(a *Agent) {
		if sessionID != "" {
			a.sessionID = sessionID
		}
	}
}

func WithMiddleware(middlewares ...Middleware) Option {
	return func(a *Agent) {
		for _, middleware := range middlewares {
			if middleware != nil {
				a.middlewares = append(a.middlewares, middleware)
			}
		}
	}
}

func WithTool(tool tools.Tool) Option {
	return func(a *Agent) {
		if tool == nil {
			return
		}
		def := tool.Definition()
		if def.Name == "" {
			return
		}
		if _, exists := a.tools[def.Name]; !exists {
			a.toolOrder = append(a.toolOrder, def.Name)
		}
		a.tools[def.Name] = tool
	}
}

func WithTools(toolList ...tools.Tool) Option {
	return func(a *Agent) {
		for _, tool := range toolList {
			WithTool(tool)(a)
		}
	}
}

func New(provider llm.Provider, opts ...Option) (*Agent, error) {
	if provider == nil {
		return nil, errors.New("provider is required")
	}

	a := &Agent{
		provider:           provider,
		endStrategy:        EndStrategyExhaustTools,
		maxIterations:      12,
		toolRetries:        1,
		maxOutputRetries:   2,
		countOutputRetries: true,
		tools:              make(map[string]tools.Tool),
		retryPolicy:        defaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.retryPolicy = normalizeRetryPolicy(a.retryPolicy)
	return a, nil
}

// listToolDefinitions returns definitions in registration order so
// the provider sees a stable tool schema across turns.
func (a *Agent) listToolDefinitions() []types.ToolDefinition {
	a.mu.RLock()
	defer a.mu.RUnlock()

	defs := make([]types.ToolDefinition, 0, len(a.toolOrder))
	for _, name := range a.toolOrder {
		defs = append(defs, a.tools[name].Definition())
	}
	return defs
}

func (a *Agent) snapshotTools() map[string]tools.Tool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string]tools.Tool, len(a.tools))
	for name, tool := range a.tools {
		out[name] = tool
	}
	return out
}

func (a *Agent) ensureSessionID() string {
	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()

	if a.sessionID == "" {
		a.sessionID = uuid.NewString()
	}
	return a.sessionID
}

func (a *Agent) emitRuntimeEvent(ctx context.Context, event types.Event) {
	if a == nil || a.observer == nil {
		return
	}
	_ = a.observer.Emit(ctx, observe.FromRuntimeEvent(event))
}
