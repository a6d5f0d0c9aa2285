package types

import (
	"fmt"
	"time"

	"cosmossdk.io/math"
)

// Params holds the governed economic constants of the marketplace. The slash
// fraction and trust penalty are deliberately configuration rather than fixed
// law; operators tune them per deployment.
type Params struct {
	// Slashing
	SlashFraction math.LegacyDec `json:"slashFraction"` // default portion of stake slashed
	TrustPenalty  math.LegacyDec `json:"trustPenalty"`  // trust score points per slash

	// Pricing
	BasePrice    math.LegacyDec `json:"basePrice"`
	CycleRate    math.LegacyDec `json:"cycleRate"`
	MaxDiscount  math.LegacyDec `json:"maxDiscount"`
	MinimumPrice math.LegacyDec `json:"minimumPrice"`

	// Rewards
	CyclesPerID    uint64         `json:"cyclesPerId"`    // cycles credited per claimed cycle id
	ZkBonusPerProof math.LegacyDec `json:"zkBonusPerProof"` // cycle-equivalents per verified proof
	NeuralWeight   math.LegacyDec `json:"neuralWeight"`   // extension point, zero by default

	// Dispatch
	DispatchTimeout time.Duration `json:"dispatchTimeout"`
}

// DefaultParams mirrors the marketplace's launch constants.
func DefaultParams() Params {
	return Params{
		SlashFraction:   math.LegacyNewDecWithPrec(10, 2),  // 10%
		TrustPenalty:    math.LegacyNewDec(10),             // 10 points
		BasePrice:       math.LegacyNewDecWithPrec(1, 3),   // 0.001
		CycleRate:       math.LegacyNewDecWithPrec(1, 4),   // 0.0001
		MaxDiscount:     math.LegacyNewDecWithPrec(5, 4),   // 0.0005
		MinimumPrice:    math.LegacyNewDecWithPrec(1, 4),   // 0.0001
		CyclesPerID:     100,
		ZkBonusPerProof: math.LegacyNewDec(10),
		NeuralWeight:    math.LegacyZeroDec(),
		DispatchTimeout: 30 * time.Second,
	}
}

// Validate checks parameter bounds.
func (p Params) Validate() error {
	if p.SlashFraction.IsNegative() || p.SlashFraction.GT(math.LegacyOneDec()) {
		return fmt.Errorf("slash fraction must be in [0,1], got %s", p.SlashFraction)
	}
	if p.TrustPenalty.IsNegative() {
		return fmt.Errorf("trust penalty must be non-negative, got %s", p.TrustPenalty)
	}
	if p.CycleRate.IsNegative() {
		return fmt.Errorf("cycle rate must be non-negative, got %s", p.CycleRate)
	}
	if p.MinimumPrice.IsNegative() {
		return fmt.Errorf("minimum price must be non-negative, got %s", p.MinimumPrice)
	}
	if p.BasePrice.LT(p.MinimumPrice) {
		return fmt.Errorf("base price %s below minimum price %s", p.BasePrice, p.MinimumPrice)
	}
	if p.DispatchTimeout <= 0 {
		return fmt.Errorf("dispatch timeout must be positive, got %s", p.DispatchTimeout)
	}
	return nil
}
