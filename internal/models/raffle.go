package models

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/xerrors"
)

const (
	// NumWords is the number of random words requested per draw.
	NumWords uint32 = 1
	// RequestConfirmations is the block depth the oracle waits for before answering.
	RequestConfirmations uint16 = 3
)

// RaffleState is the phase of the current round.
type RaffleState uint8

const (
	// RaffleOpen accepts entries and is eligible for a draw trigger.
	RaffleOpen RaffleState = iota
	// RaffleCalculating has a draw request outstanding; entries are rejected.
	RaffleCalculating
)

func (s RaffleState) String() string {
	switch s {
	case RaffleOpen:
		return "OPEN"
	case RaffleCalculating:
		return "CALCULATING"
	default:
		return fmt.Sprintf("RaffleState(%d)", uint8(s))
	}
}

// MarshalText renders the state by name in JSON payloads.
func (s RaffleState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *RaffleState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "OPEN":
		*s = RaffleOpen
	case "CALCULATING":
		*s = RaffleCalculating
	default:
		return xerrors.Errorf("unknown raffle state %q", text)
	}
	return nil
}

// CanEnter reports whether entries are accepted in this state.
func (s RaffleState) CanEnter() bool {
	return s == RaffleOpen
}

// CanRequestDraw reports whether a draw may start from this state.
func (s RaffleState) CanRequestDraw() bool {
	return s == RaffleOpen
}

// CanFulfill reports whether a randomness callback is expected in this state.
func (s RaffleState) CanFulfill() bool {
	return s == RaffleCalculating
}

// RequestID correlates a randomness request with its fulfillment.
type RequestID uint64

// Params are fixed when the raffle is created.
type Params struct {
	// Address is the raffle's own identity: escrow account and oracle consumer.
	Address              common.Address
	Coordinator          common.Address
	EntranceFee          *big.Int
	Interval             time.Duration
	KeyHash              common.Hash
	SubscriptionID       uint64
	CallbackGasLimit     uint32
	RequestConfirmations uint16
	NumWords             uint32
}

// Validate checks the params for values the raffle cannot run with.
func (p Params) Validate() error {
	if p.EntranceFee == nil || p.EntranceFee.Sign() < 0 {
		return xerrors.New("entrance fee must be a non-negative amount")
	}
	if p.Interval <= 0 {
		return xerrors.Errorf("interval must be positive, got %s", p.Interval)
	}
	if p.CallbackGasLimit == 0 {
		return xerrors.New("callback gas limit must be positive")
	}
	if p.NumWords != NumWords {
		return xerrors.Errorf("raffle draws with exactly %d random word, got %d", NumWords, p.NumWords)
	}
	return nil
}

// UpkeepStatus carries the four conditions evaluated for a draw.
type UpkeepStatus struct {
	UpkeepNeeded bool          `json:"upkeepNeeded"`
	State        RaffleState   `json:"state"`
	IsOpen       bool          `json:"isOpen"`
	Elapsed      time.Duration `json:"elapsed"`
	TimePassed   bool          `json:"timePassed"`
	Players      int           `json:"players"`
	HasPlayers   bool          `json:"hasPlayers"`
	Balance      *big.Int      `json:"balance"`
	HasBalance   bool          `json:"hasBalance"`
}

func (u UpkeepStatus) String() string {
	return fmt.Sprintf("state=%s elapsed=%s players=%d balance=%s", u.State, u.Elapsed, u.Players, u.Balance)
}

// RaffleSnapshot is a consistent read of every queryable field.
type RaffleSnapshot struct {
	State                RaffleState    `json:"state"`
	EntranceFee          *big.Int       `json:"entranceFee"`
	Interval             time.Duration  `json:"interval"`
	Players              int            `json:"players"`
	Balance              *big.Int       `json:"balance"`
	RecentWinner         common.Address `json:"recentWinner"`
	LatestTimestamp      time.Time      `json:"latestTimestamp"`
	PendingRequest       *RequestID     `json:"pendingRequest,omitempty"`
	PendingSince         *time.Time     `json:"pendingSince,omitempty"`
	Round                uint64         `json:"round"`
	NumWords             uint32         `json:"numWords"`
	RequestConfirmations uint16         `json:"requestConfirmations"`
}

// RoundResult stores the outcome of a single completed round.
type RoundResult struct {
	ID           uuid.UUID      `json:"id"`
	Round        uint64         `json:"round"`
	Winner       common.Address `json:"winner"`
	Prize        string         `json:"prize"`
	RequestID    RequestID      `json:"requestId"`
	RandomWord   string         `json:"randomWord"`
	WinnerIndex  int            `json:"winnerIndex"`
	Participants int            `json:"participants"`
	ClosedAt     time.Time      `json:"closedAt"`
}
