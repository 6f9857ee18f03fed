package arbitrage

import (
	"context"
	"errors"

	"github.com/defistate/arbitrage-engine/execution"
	"github.com/defistate/arbitrage-engine/fixedpoint"
	"github.com/defistate/arbitrage-engine/optimizer"
	"github.com/defistate/arbitrage-engine/protocols"
	"github.com/defistate/arbitrage-engine/state"
	"github.com/defistate/arbitrage-engine/validator"
)

var (
	// ErrPoolConflict rejects a plan that trades through a pool already
	// claimed by a more profitable plan in the same pass.
	ErrPoolConflict = errors.New("pool already used in this pass")
	// ErrNoSnapshot is returned by RunPass before the first snapshot is published.
	ErrNoSnapshot = errors.New("no pool state snapshot yet")
)

// Reason labels used in rejections, logs and metrics.
const (
	ReasonUnprofitable          = "unprofitable"
	ReasonInsufficientLiquidity = "insufficient_liquidity"
	ReasonStaleState            = "stale_state"
	ReasonInvalidAmount         = "invalid_amount"
	ReasonNoBracket             = "no_bracket"
	ReasonMaxIterations         = "max_iterations"
	ReasonPoolConflict          = "pool_conflict"
	ReasonExecutionAborted      = "execution_aborted"
	ReasonInvalidPlan           = "invalid_plan"
	ReasonOverflow              = "overflow"
	ReasonInvalidPool           = "invalid_pool"
	ReasonUnknownToken          = "unknown_token"
	ReasonNoSnapshot            = "no_snapshot"
	ReasonVersionConflict       = "version_conflict"
	ReasonCanceled              = "canceled"
	ReasonError                 = "error"
)

var reasons = []struct {
	err    error
	reason string
}{
	{validator.ErrUnprofitable, ReasonUnprofitable},
	{validator.ErrInsufficientLiquidity, ReasonInsufficientLiquidity},
	{protocols.ErrInsufficientLiquidity, ReasonInsufficientLiquidity},
	{validator.ErrStaleState, ReasonStaleState},
	{validator.ErrInvalidAmount, ReasonInvalidAmount},
	{optimizer.ErrNoBracket, ReasonNoBracket},
	{optimizer.ErrMaxIterationsExceeded, ReasonMaxIterations},
	{ErrPoolConflict, ReasonPoolConflict},
	{execution.ErrExecutionAborted, ReasonExecutionAborted},
	{execution.ErrInvalidPlan, ReasonInvalidPlan},
	{fixedpoint.ErrOverflow, ReasonOverflow},
	{protocols.ErrInvalidPool, ReasonInvalidPool},
	{validator.ErrUnknownToken, ReasonUnknownToken},
	{ErrNoSnapshot, ReasonNoSnapshot},
	{state.ErrVersionConflict, ReasonVersionConflict},
	{context.Canceled, ReasonCanceled},
	{context.DeadlineExceeded, ReasonCanceled},
}

// Classify maps err to a reason label. Unrecognised errors get ReasonError.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	// an aborted execution is reported as such whatever caused it
	if errors.Is(err, execution.ErrExecutionAborted) {
		return ReasonExecutionAborted
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ReasonError
}
