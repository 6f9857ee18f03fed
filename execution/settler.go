package execution

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Status is a plan's position in the settlement state machine:
// Pending -> Borrowed -> HopsExecuting -> Repaid, with Aborted reachable
// from every non-terminal state.
type Status int

const (
	StatusPending Status = iota
	StatusBorrowed
	StatusHopsExecuting
	StatusRepaid
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusBorrowed:
		return "borrowed"
	case StatusHopsExecuting:
		return "hops_executing"
	case StatusRepaid:
		return "repaid"
	case StatusAborted:
		return "aborted"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusRepaid || s == StatusAborted
}

// Receipt is the outcome of one plan. Cost is the settlement cost incurred
// and Profit is what remains after repayment and Cost.
type Receipt struct {
	PlanID      uuid.UUID
	Status      Status
	Transitions []Status
	HopOutputs  []*big.Int
	FinalOutput *big.Int
	Repaid      *big.Int
	Cost        *big.Int
	Profit      *big.Int
	AbortReason string
	SettledAt   time.Time
}

// Success reports whether the plan settled.
func (r Receipt) Success() bool {
	return r.Status == StatusRepaid
}

// Settler carries plans out. Implementations must be all-or-nothing: an
// aborted plan leaves no trace in the state it operated on.
type Settler interface {
	Execute(ctx context.Context, plan *Plan) (Receipt, error)
}
