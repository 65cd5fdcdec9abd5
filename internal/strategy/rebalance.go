// Package strategy implements the fixed-allocation rebalance policy.
package strategy

import (
	"errors"
	"fmt"
	"math"

	"github.com/eddiefleurent/tqqq_rebalancer/internal/models"
)

// ErrPriceUnavailable is returned when the observed price cannot size a trade
// (zero, negative or not a number). Typically the instrument is not held, so
// its price was never reported.
var ErrPriceUnavailable = errors.New("price unavailable for sizing")

// Rebalancer sizes trades toward a fixed dollar allocation.
type Rebalancer struct {
	target float64
}

// NewRebalancer creates a policy for the given target allocation.
func NewRebalancer(targetAllocation float64) (*Rebalancer, error) {
	if targetAllocation <= 0 || math.IsNaN(targetAllocation) || math.IsInf(targetAllocation, 0) {
		return nil, fmt.Errorf("target allocation must be a positive amount, got %v", targetAllocation)
	}
	return &Rebalancer{target: targetAllocation}, nil
}

// Target returns the configured allocation.
func (r *Rebalancer) Target() float64 { return r.target }

// Decide compares |quantity| × price with the target and returns a whole-share
// trade. Shares are truncated toward zero; a zero share count is a no-op
// whatever the sign of the difference.
func (r *Rebalancer) Decide(quantity, price float64) (models.Decision, error) {
	return Decide(quantity, price, r.target)
}

// Decide is the stateless form of Rebalancer.Decide.
func Decide(quantity, price, target float64) (models.Decision, error) {
	if !(price > 0) || math.IsInf(price, 0) {
		return models.Decision{Action: models.ActionNone}, fmt.Errorf("%w: %v", ErrPriceUnavailable, price)
	}

	diff := target - PositionValue(quantity, price)
	shares := int(math.Floor(math.Abs(diff) / price))

	switch {
	case shares == 0:
		return models.Decision{Action: models.ActionNone}, nil
	case diff > 0:
		return models.Decision{Action: models.ActionBuy, Shares: shares}, nil
	default:
		return models.Decision{Action: models.ActionSell, Shares: shares}, nil
	}
}

// PositionValue returns |quantity| × price.
func PositionValue(quantity, price float64) float64 {
	return math.Abs(quantity) * price
}

// Delta returns position value minus target; positive means over-allocated.
func Delta(quantity, price, target float64) float64 {
	return PositionValue(quantity, price) - target
}
