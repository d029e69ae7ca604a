package model

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Billing works in 15-second blocks of normalized channel-pair audio, the
// unit the recognition service charges for.
const (
	BillingBlockSeconds   = 15
	MinSecondsPerPair     = 15
	DefaultMaxAudioLength = 4 * 60 * 60 // seconds
)

var ErrNegativeDuration = errors.New("duration must not be negative")

// Cost returns the price of recognizing durationSeconds of audio with the
// given channel count at the given per-block rate.
//
// The billing rule mirrors the recognition service tariff: the channel count
// is rounded up to the nearest even number and billed per channel pair, each
// pair is billed for at least 15 seconds, and the total normalized seconds
// are rounded up to whole 15-second blocks.
func Cost(durationSeconds int64, channels int, blockRate decimal.Decimal) (decimal.Decimal, error) {
	if durationSeconds < 0 {
		return decimal.Zero, ErrNegativeDuration
	}
	if channels < 1 {
		channels = 1
	}

	pairs := int64((channels + 1) / 2)

	perPair := durationSeconds
	if perPair < MinSecondsPerPair {
		perPair = MinSecondsPerPair
	}

	total := perPair * pairs
	blocks := (total + BillingBlockSeconds - 1) / BillingBlockSeconds

	return blockRate.Mul(decimal.NewFromInt(blocks)), nil
}

// AffordableSeconds estimates how many seconds of single-channel audio the
// given balance buys at the given per-block rate. The estimate never
// overdrafts: blocks * rate <= balance always holds.
func AffordableSeconds(balance, blockRate decimal.Decimal) int64 {
	if blockRate.Sign() <= 0 || balance.Sign() <= 0 {
		return 0
	}
	blocks := balance.Div(blockRate).Floor().IntPart()
	return blocks * BillingBlockSeconds
}
