// Package protocols holds the error vocabulary shared by every pool model and
// calculator under it.
package protocols

import "errors"

var (
	// ErrNilAmount is returned when a nil pointer is passed for an amount.
	ErrNilAmount = errors.New("nil pointer passed as amount")
	// ErrInvalidAmount is returned when an input or output amount is negative.
	ErrInvalidAmount = errors.New("amount must be non-negative")
	// ErrTokenMismatch is returned when a token is not one of the pool's two tokens.
	ErrTokenMismatch = errors.New("token mismatch")
	// ErrInvalidPool is returned for pools that cannot be quoted: zero or
	// negative reserves, zero liquidity, a fee of 100% or more.
	ErrInvalidPool = errors.New("invalid pool")
	// ErrInsufficientLiquidity is returned when a requested output is at or
	// beyond what the pool can supply.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity for swap")
	// ErrNoConvergence is returned by iterative invariants that fail to settle.
	ErrNoConvergence = errors.New("invariant did not converge")
)
