package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Event names emitted by the raffle.
const (
	EventRaffleEnter           = "RaffleEnter"
	EventRequestedRaffleWinner = "RequestedRaffleWinner"
	EventWinnerPicked          = "WinnerPicked"
)

// Event is the envelope every notification travels in.
type Event struct {
	ID      uuid.UUID   `json:"id"`
	Seq     uint64      `json:"seq"`
	Name    string      `json:"name"`
	At      time.Time   `json:"at"`
	Payload interface{} `json:"payload"`
}

// RaffleEnter is emitted for each accepted entry.
type RaffleEnter struct {
	Player common.Address `json:"player"`
	Amount *big.Int       `json:"amount"`
}

// RequestedRaffleWinner is emitted once a draw request is with the oracle.
type RequestedRaffleWinner struct {
	RequestID RequestID `json:"requestId"`
}

// WinnerPicked is emitted after the pool has been paid out.
type WinnerPicked struct {
	Winner      common.Address `json:"winner"`
	Prize       *big.Int       `json:"prize"`
	RequestID   RequestID      `json:"requestId"`
	RandomWord  *big.Int       `json:"randomWord"`
	WinnerIndex int            `json:"winnerIndex"`
	Players     int            `json:"players"`
	Round       uint64         `json:"round"`
}
