package runtimeconfig

import (
	"fmt"

	"github.com/loopworks/agentengine/agent"
	"github.com/loopworks/agentengine/state"
	"github.com/loopworks/agentengine/state/memory"
	"github.com/loopworks/agentengine/state/redis"
	"github.com/loopworks/agentengine/state/sqlite"
	"github.com/loopworks/agentengine/tools"
)

// OpenStore constructs the persistence backend named by the config.
func OpenStore(cfg StoreConfig) (state.Store, error) {
	switch cfg.Kind {
	case "", "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.New(cfg.Path)
	case "redis":
		opts := []redis.Option{}
		if cfg.Password != "" {
			opts = append(opts, redis.WithPassword(cfg.Password))
		}
		if cfg.DB != 0 {
			opts = append(opts, redis.WithDB(cfg.DB))
		}
		if cfg.TTL > 0 {
			opts = append(opts, redis.WithTTL(cfg.TTL))
		}
		return redis.New(cfg.Addr, opts...)
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
	}
}

// AgentOptions translates the config into engine options. The store
// is passed separately so the caller controls its lifecycle.
func (c Config) AgentOptions(store state.Store) ([]agent.Option, error) {
	var opts []agent.Option

	if c.SystemPrompt != "" {
		opts = append(opts, agent.WithSystemPrompt(c.SystemPrompt))
	}
	if len(c.Tools) > 0 {
		selected, err := tools.BuildSelection(c.Tools)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve tool selection: %w", err)
		}
		opts = append(opts, agent.WithTools(selected...))
	}

	switch c.EndStrategy {
	case "", "exhaust_tools":
		opts = append(opts, agent.WithEndStrategy(agent.EndStrategyExhaustTools))
	case "early":
		opts = append(opts, agent.WithEndStrategy(agent.EndStrategyEarly))
	case "first_tool":
		opts = append(opts, agent.WithEndStrategy(agent.EndStrategyFirstTool))
	default:
		return nil, fmt.Errorf("unknown end strategy %q", c.EndStrategy)
	}

	if c.MaxIterations > 0 {
		opts = append(opts, agent.WithMaxIterations(c.MaxIterations))
	}
	if c.Retry != (RetryConfig{}) {
		opts = append(opts, agent.WithRetryPolicy(agent.RetryPolicy{
			MaxAttempts: c.Retry.MaxAttempts,
			BaseDelay:   c.Retry.BaseDelay,
			MaxDelay:    c.Retry.MaxDelay,
			MaxElapsed:  c.Retry.MaxElapsed,
		}))
	}
	if c.Limits != (LimitsConfig{}) {
		opts = append(opts, agent.WithUsageLimits(agent.UsageLimits{
			MaxRequests:     c.Limits.MaxRequests,
			MaxInputTokens:  c.Limits.MaxInputTokens,
			MaxOutputTokens: c.Limits.MaxOutputTokens,
			MaxTotalTokens:  c.Limits.MaxTotalTokens,
			MaxToolCalls:    c.Limits.MaxToolCalls,
		}))
	}
	if c.ToolTimeout > 0 {
		opts = append(opts, agent.WithToolTimeout(c.ToolTimeout))
	}
	if c.ParallelTools {
		opts = append(opts, agent.WithParallelToolCalls(true))
	}
	if c.MaxConcurrentTools > 0 {
		opts = append(opts, agent.WithMaxConcurrentTools(c.MaxConcurrentTools))
	}
	if store != nil {
		opts = append(opts, agent.WithStore(store))
	}
	return opts, nil
}
