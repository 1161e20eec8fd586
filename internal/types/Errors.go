package types

import "errors"

// Engine error taxonomy. Every failure rejects the entire enclosing call; there
// is no partial state mutation and no internal retry.
var (
	ErrCooldownNotMet     = errors.New("fee update cooldown not met")
	ErrUnauthorized       = errors.New("caller not authorized for operation")
	ErrNotConfigured      = errors.New("required yield source or JIT range not configured")
	ErrSlippageExceeded   = errors.New("price moved beyond slippage bound")
	ErrAlreadyInitialized = errors.New("pool already initialized")
	ErrPaused             = errors.New("engine is paused")
	ErrZeroAmount         = errors.New("amount cannot be zero")
	ErrInvalidParams      = errors.New("invalid parameters")
	ErrVaultNotEmpty      = errors.New("existing yield source still holds funds")
	ErrReentrantCall      = errors.New("reentrant call into pool")
	ErrPoolNotFound       = errors.New("pool not found")

	// ErrInsolvency indicates the vault wrapper's accounting identity
	// totalAssets + claimableFees == externalBalance was violated. This is an
	// internal assertion failure: callers must treat it as fatal and halt.
	ErrInsolvency = errors.New("vault solvency invariant violated")
)
