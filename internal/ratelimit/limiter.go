// Package ratelimit provides per-tool token bucket limits for the MCP server.
package ratelimit

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// ToolLimiters maps tool names to their rate limiters.
type ToolLimiters map[string]*rate.Limiter

// NewToolLimiters creates the default set of per-tool rate limiters.
// Running scenarios is CPU bound, so episim_run gets the tightest budget.
func NewToolLimiters() ToolLimiters {
	return ToolLimiters{
		"episim_run":       rate.NewLimiter(rate.Every(10*time.Second), 2), // 6/minute, burst 2
		"episim_scenarios": rate.NewLimiter(1.0, 10),                       // 60/minute, burst 10
		"episim_runs":      rate.NewLimiter(1.0, 10),                       // 60/minute, burst 10
		"episim_series":    rate.NewLimiter(0.5, 5),                        // 30/minute, burst 5
	}
}

// CheckLimit checks the rate limit for a given tool name.
// Tools without a configured limiter are always allowed.
func CheckLimit(limiters ToolLimiters, toolName string) error {
	return checkAt(limiters, toolName, time.Now())
}

func checkAt(limiters ToolLimiters, toolName string, now time.Time) error {
	limiter, ok := limiters[toolName]
	if !ok {
		return nil
	}
	if !limiter.AllowN(now, 1) {
		return fmt.Errorf("rate limit exceeded for %s, please try again shortly", toolName)
	}
	return nil
}
