package llm

import "time"

// This file centralizes constants shared across multiple clients in the llm
// package to avoid redeclaration errors.
const (
	defaultTimeout    = 120 * time.Second
	maxRetries        = 3
	initialRetryDelay = 2 * time.Second

	defaultMaxTokens = 16384
	defaultTopP      = 0.9
)
