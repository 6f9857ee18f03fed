package validator

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/defistate/arbitrage-engine/fixedpoint"
	tokenregistry "github.com/defistate/arbitrage-engine/protocols/tokenregistry"
)

// ErrUnknownToken is returned when a cost model is asked for a token whose
// decimals are not known.
var ErrUnknownToken = errors.New("unknown token")

// CostModel is expressed in the start token's base units.
type CostModel struct {
	LoanPremiumBps uint64
	SettlementCost *big.Int
	MinProfit      *big.Int
}

// CostModelProvider supplies the costs of trading from a start token.
type CostModelProvider interface {
	CostModel(ctx context.Context, token uint64) (CostModel, error)
}

// TokenSource resolves token metadata. *state.Store and *state.Snapshot
// both satisfy it.
type TokenSource interface {
	Token(id uint64) (tokenregistry.Token, bool)
}

// StaticCostModel applies the same whole-unit amounts to every start token,
// scaled by that token's decimals.
type StaticCostModel struct {
	LoanPremiumBps uint64
	SettlementCost decimal.Decimal
	MinProfit      decimal.Decimal
	Tokens         TokenSource
}

func (m *StaticCostModel) CostModel(_ context.Context, token uint64) (CostModel, error) {
	t, ok := m.Tokens.Token(token)
	if !ok {
		return CostModel{}, fmt.Errorf("%w: %d", ErrUnknownToken, token)
	}
	settlement, err := fixedpoint.ToUnits(m.SettlementCost, t.Decimals)
	if err != nil {
		return CostModel{}, fmt.Errorf("settlement cost for %s: %w", t, err)
	}
	minProfit, err := fixedpoint.ToUnits(m.MinProfit, t.Decimals)
	if err != nil {
		return CostModel{}, fmt.Errorf("min profit for %s: %w", t, err)
	}
	// the threshold stays strictly positive even when it is finer than the token's precision
	if minProfit.Sign() == 0 {
		minProfit.SetInt64(1)
	}
	return CostModel{
		LoanPremiumBps: m.LoanPremiumBps,
		SettlementCost: settlement,
		MinProfit:      minProfit,
	}, nil
}
