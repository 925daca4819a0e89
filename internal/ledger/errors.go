package ledger

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	// ErrInvalidStakingAsset is returned when the staking asset is the zero address.
	ErrInvalidStakingAsset = errors.New("ledger: invalid staking asset")

	// ErrInvalidRewardAsset is returned when the reward asset is the zero address.
	ErrInvalidRewardAsset = errors.New("ledger: invalid reward asset")

	// ErrInvalidRewardRate is returned when the reward rate is outside (0, 1000].
	ErrInvalidRewardRate = errors.New("ledger: reward rate must be in (0, 1000]")

	// ErrInvalidStakeAmount is returned for a zero deposit.
	ErrInvalidStakeAmount = errors.New("ledger: stake amount must be positive")

	// ErrZeroRewardGenerated is returned when a deposit is too small to
	// round to a non-zero reward.
	ErrZeroRewardGenerated = errors.New("ledger: stake generates zero reward")

	// ErrNoActiveStake is returned when unstaking with nothing deposited.
	ErrNoActiveStake = errors.New("ledger: no active stake")

	// ErrNoOwedReward is returned when unstaking with nothing owed.
	ErrNoOwedReward = errors.New("ledger: no owed reward")

	// ErrAmountOverflow is returned when an amount computation exceeds 256 bits.
	ErrAmountOverflow = errors.New("ledger: amount overflow")

	// ErrTransferFailed wraps an asset transfer failure under the strict
	// transfer policy.
	ErrTransferFailed = errors.New("ledger: asset transfer failed")

	// ErrNotInitialized is returned by hosts when no configuration exists yet.
	ErrNotInitialized = errors.New("ledger: not initialized")

	// ErrAlreadyInitialized is returned by hosts on a second initialize.
	ErrAlreadyInitialized = errors.New("ledger: already initialized")
)

// InsufficientRewardTokensError is returned when the reward pool cannot
// cover the reservation a call would require.
type InsufficientRewardTokensError struct {
	Deficit *uint256.Int
}

func (e *InsufficientRewardTokensError) Error() string {
	return fmt.Sprintf("ledger: insufficient reward tokens (deficit %s)", e.Deficit.Dec())
}

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidStakingAsset, "InvalidStakingAsset"},
	{ErrInvalidRewardAsset, "InvalidRewardAsset"},
	{ErrInvalidRewardRate, "InvalidRewardRate"},
	{ErrInvalidStakeAmount, "InvalidStakeAmount"},
	{ErrZeroRewardGenerated, "ZeroRewardGenerated"},
	{ErrNoActiveStake, "NoActiveStake"},
	{ErrNoOwedReward, "NoOwedReward"},
	{ErrAmountOverflow, "AmountOverflow"},
	{ErrTransferFailed, "TransferFailed"},
	{ErrNotInitialized, "NotInitialized"},
	{ErrAlreadyInitialized, "AlreadyInitialized"},
}

// Code returns the stable wire code of a ledger error, or "" if err is
// not one.
func Code(err error) string {
	var insufficient *InsufficientRewardTokensError
	if errors.As(err, &insufficient) {
		return "InsufficientRewardTokens"
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}
