package fcf

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Momentum is the direction the most recent target was hit in.
type Momentum int

const (
	// MomentumNeutral is the initial state, before any target has been hit.
	MomentumNeutral Momentum = iota
	// MomentumToE1 means buying on E2 and selling on E1.
	MomentumToE1
	// MomentumToE2 means buying on E1 and selling on E2.
	MomentumToE2
)

func (m Momentum) String() string {
	switch m {
	case MomentumNeutral:
		return "NEUTRAL"
	case MomentumToE1:
		return "TO_E1"
	case MomentumToE2:
		return "TO_E2"
	default:
		return fmt.Sprintf("Momentum(%d)", int(m))
	}
}

// State is the complete mutable strategy state. It is owned exclusively by
// the strategy; checkpoints hold a reference only for serialization.
type State struct {
	HasStarted bool     `json:"has_started"`
	Momentum   Momentum `json:"momentum"`

	// Ladders per direction. E1Targets gate trades that buy on E2 and sell
	// on E1; E2Targets the reverse.
	E1Targets []Target `json:"e1_targets"`
	E2Targets []Target `json:"e2_targets"`

	Tracker TargetTracker `json:"target_tracker"`
	Chunker *TradeChunker `json:"trade_chunker"`

	// Running historical spread maxima per direction.
	HToE1Max decimal.Decimal `json:"h_to_e1_max"`
	HToE2Max decimal.Decimal `json:"h_to_e2_max"`
}

// Clone returns a deep copy, used as the pre-poll rollback snapshot.
func (s *State) Clone() *State {
	cp := *s
	cp.E1Targets = append([]Target(nil), s.E1Targets...)
	cp.E2Targets = append([]Target(nil), s.E2Targets...)
	if s.Chunker != nil {
		chunker := *s.Chunker
		cp.Chunker = &chunker
	}
	return &cp
}

// SpreadOpportunity captures one poll's executable prices and fee-adjusted
// spreads. Quote-denominated prices; spreads are USD-normalized.
type SpreadOpportunity struct {
	ID string `json:"id"`

	// E1Spread is the profit rate for buying on E2 and selling on E1;
	// E2Spread the reverse.
	E1Spread decimal.Decimal `json:"e1_spread"`
	E2Spread decimal.Decimal `json:"e2_spread"`

	E1Buy  decimal.Decimal `json:"e1_buy"`
	E1Sell decimal.Decimal `json:"e1_sell"`
	E2Buy  decimal.Decimal `json:"e2_buy"`
	E2Sell decimal.Decimal `json:"e2_sell"`

	// Forex rate ids used to USD-normalize each side's quote currency.
	E1ForexID string `json:"e1_forex_id"`
	E2ForexID string `json:"e2_forex_id"`
}
