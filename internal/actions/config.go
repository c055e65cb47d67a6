package actions

import (
	"errors"
	"fmt"
)

// ErrConfig marks an actions configuration that fails validation. The engine
// refuses to construct; there is no safe default to fall back to once the
// operator has overridden a knob.
var ErrConfig = errors.New("invalid actions config")

// ErrComputation marks an impossible state inside the decision tree. It
// indicates a prior logic error, never bad node data.
var ErrComputation = errors.New("actions computation error")

// Config holds the knobs of the actions engine together with the length of
// the statistics window.
type Config struct {
	// MinChannelForwards is the number of forwards a channel needs before
	// its flow is trusted to predict the balance target.
	MinChannelForwards int `yaml:"min_channel_forwards" json:"min_channel_forwards"`

	// MinOutFeeForwardFraction is the capacity fraction that recent
	// outbound forwards must sum to before a reliable outbound fee rate
	// can be computed from them.
	MinOutFeeForwardFraction float64 `yaml:"min_out_fee_forward_fraction" json:"min_out_fee_forward_fraction"`

	// MinChannelBalanceFraction is the balance floor (and, mirrored, the
	// ceiling) as a fraction of capacity.
	MinChannelBalanceFraction float64 `yaml:"min_channel_balance_fraction" json:"min_channel_balance_fraction"`

	// MinRebalanceDistance is the minimum |distance| for a balance action
	// to be emitted at all.
	MinRebalanceDistance float64 `yaml:"min_rebalance_distance" json:"min_rebalance_distance"`

	// LargestForwardMarginFraction is the headroom kept above the largest
	// historical forward in either direction.
	LargestForwardMarginFraction float64 `yaml:"largest_forward_margin_fraction" json:"largest_forward_margin_fraction"`

	// MinFeeIncreaseDistance is the |distance| beyond which a channel
	// counts as below or above bounds for fee purposes. Must be strictly
	// greater than MinRebalanceDistance.
	MinFeeIncreaseDistance float64 `yaml:"min_fee_increase_distance" json:"min_fee_increase_distance"`

	// FeeIncreaseMultiplier scales how aggressively older below-bounds
	// forwards push the rate up.
	FeeIncreaseMultiplier float64 `yaml:"fee_increase_multiplier" json:"fee_increase_multiplier"`

	// FeeDecreaseWaitDays is the idle time before decreases begin.
	FeeDecreaseWaitDays int `yaml:"fee_decrease_wait_days" json:"fee_decrease_wait_days"`

	// MinInflowFraction is the inflow share above which recent rebalance
	// cost no longer floors fee decreases.
	MinInflowFraction float64 `yaml:"min_inflow_fraction" json:"min_inflow_fraction"`

	// MaxFeeRatePpm caps every proposed rate.
	MaxFeeRatePpm int64 `yaml:"max_fee_rate_ppm" json:"max_fee_rate_ppm"`

	// Days is the statistics window.
	Days int `yaml:"days" json:"days"`
}

// DefaultConfig returns the reference defaults.
func DefaultConfig() Config {
	return Config{
		MinChannelForwards:           20,
		MinOutFeeForwardFraction:     0.01,
		MinChannelBalanceFraction:    0.25,
		MinRebalanceDistance:         0.05,
		LargestForwardMarginFraction: 0.1,
		MinFeeIncreaseDistance:       0.3,
		FeeIncreaseMultiplier:        3,
		FeeDecreaseWaitDays:          4,
		MinInflowFraction:            0.3,
		MaxFeeRatePpm:                2500,
		Days:                         30,
	}
}

// Validate checks every bound. All violations are reported as ErrConfig.
func (c Config) Validate() error {
	if c.Days <= 0 {
		return fmt.Errorf("%w: days must be positive, got %d", ErrConfig, c.Days)
	}
	if c.MinChannelForwards < 0 {
		return fmt.Errorf("%w: min_channel_forwards must not be negative, got %d", ErrConfig, c.MinChannelForwards)
	}
	if c.MinOutFeeForwardFraction < 0 || c.MinOutFeeForwardFraction > 1 {
		return fmt.Errorf("%w: min_out_fee_forward_fraction must be in [0, 1], got %v", ErrConfig, c.MinOutFeeForwardFraction)
	}
	if c.MinChannelBalanceFraction <= 0 || c.MinChannelBalanceFraction >= 0.5 {
		return fmt.Errorf("%w: min_channel_balance_fraction must be in (0, 0.5), got %v", ErrConfig, c.MinChannelBalanceFraction)
	}
	if c.MinRebalanceDistance <= 0 || c.MinRebalanceDistance > 1 {
		return fmt.Errorf("%w: min_rebalance_distance must be in (0, 1], got %v", ErrConfig, c.MinRebalanceDistance)
	}
	if c.LargestForwardMarginFraction < 0 {
		return fmt.Errorf("%w: largest_forward_margin_fraction must not be negative, got %v", ErrConfig, c.LargestForwardMarginFraction)
	}
	if c.MinFeeIncreaseDistance <= c.MinRebalanceDistance || c.MinFeeIncreaseDistance > 1 {
		return fmt.Errorf("%w: min_fee_increase_distance must be in (min_rebalance_distance, 1], got %v", ErrConfig, c.MinFeeIncreaseDistance)
	}
	if c.FeeIncreaseMultiplier < 1 {
		return fmt.Errorf("%w: fee_increase_multiplier must be at least 1, got %v", ErrConfig, c.FeeIncreaseMultiplier)
	}
	if c.FeeDecreaseWaitDays < 0 || c.FeeDecreaseWaitDays >= c.Days {
		return fmt.Errorf("%w: fee_decrease_wait_days must be in [0, days), got %d", ErrConfig, c.FeeDecreaseWaitDays)
	}
	if c.MinInflowFraction < 0 || c.MinInflowFraction > 1 {
		return fmt.Errorf("%w: min_inflow_fraction must be in [0, 1], got %v", ErrConfig, c.MinInflowFraction)
	}
	if c.MaxFeeRatePpm <= 0 {
		return fmt.Errorf("%w: max_fee_rate_ppm must be positive, got %d", ErrConfig, c.MaxFeeRatePpm)
	}
	return nil
}
