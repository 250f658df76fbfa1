package services

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"raffle/internal/models"
)

var (
	// ErrRaffleNotOpen is returned for entries while a draw is outstanding.
	ErrRaffleNotOpen = errors.New("raffle not open")
	// ErrInsufficientPayment is returned for entries below the entrance fee.
	ErrInsufficientPayment = errors.New("not enough ETH entered")
	// ErrUpkeepNotNeeded is matched by every *UpkeepNotNeededError.
	ErrUpkeepNotNeeded = errors.New("upkeep not needed")
	// ErrTransferFailed is matched by every *TransferFailedError.
	ErrTransferFailed = errors.New("transfer failed")
	// ErrUnknownRequest is returned for callbacks that do not match the pending draw.
	ErrUnknownRequest = errors.New("unknown randomness request")
	// ErrNoRandomWords is returned for callbacks without a usable word.
	ErrNoRandomWords = errors.New("no random words")
	// ErrOnlyCoordinator is returned when someone other than the coordinator delivers randomness.
	ErrOnlyCoordinator = errors.New("only coordinator can fulfill")
	// ErrPlayerIndex is returned for participant lookups out of range.
	ErrPlayerIndex = errors.New("player index out of range")
)

// UpkeepNotNeededError carries the conditions that blocked a draw.
type UpkeepNotNeededError struct {
	Status models.UpkeepStatus
}

func (e *UpkeepNotNeededError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUpkeepNotNeeded, e.Status)
}

// Is matches ErrUpkeepNotNeeded.
func (e *UpkeepNotNeededError) Is(target error) bool {
	return target == ErrUpkeepNotNeeded
}

// TransferFailedError is returned when the pool could not be paid to the winner.
type TransferFailedError struct {
	Winner common.Address
	Amount *big.Int
	Err    error
}

func (e *TransferFailedError) Error() string {
	return fmt.Sprintf("%s: paying %s wei to %s: %v", ErrTransferFailed, e.Amount, e.Winner.Hex(), e.Err)
}

// Is matches ErrTransferFailed.
func (e *TransferFailedError) Is(target error) bool {
	return target == ErrTransferFailed
}

func (e *TransferFailedError) Unwrap() error {
	return e.Err
}

// Retryable lets the coordinator keep the request: the same draw can be paid
// once the winner accepts value.
func (e *TransferFailedError) Retryable() bool {
	return true
}
