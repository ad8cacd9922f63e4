package model

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("model: invalid config")

// Validate checks the invariants of the pool configuration.
func (c *Config) Validate() error {
	if c.ReferenceDenom == "" {
		return fmt.Errorf("%w: reference denom is required", ErrInvalidConfig)
	}
	if c.Admin == "" {
		return fmt.Errorf("%w: admin is required", ErrInvalidConfig)
	}
	if c.BidTimeBufferSecs < 0 || c.WithdrawTimeBufferSecs < 0 {
		return fmt.Errorf("%w: time buffers must not be negative", ErrInvalidConfig)
	}
	if c.MaxOffsetBps < 0 || c.MaxOffsetBps > BpsDenominator {
		return fmt.Errorf("%w: max_offset_bps %d outside [0,%d]", ErrInvalidConfig, c.MaxOffsetBps, BpsDenominator)
	}
	if c.WinnerRewardBps < 0 || c.WinnerRewardBps > BpsDenominator {
		return fmt.Errorf("%w: winner_reward_bps %d outside [0,%d]", ErrInvalidConfig, c.WinnerRewardBps, BpsDenominator)
	}
	return nil
}

// SubaccountID derives the default trading subaccount of an address.
func SubaccountID(address string) string {
	return address + "/0"
}
