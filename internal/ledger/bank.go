package ledger

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/logger"
	"golang.org/x/xerrors"
)

var (
	// ErrInsufficientFunds is returned when the sender cannot cover a transfer.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrTransferRejected is returned when the recipient refuses incoming value.
	ErrTransferRejected = errors.New("recipient rejected transfer")
	// ErrInvalidAmount is returned for nil or negative amounts.
	ErrInvalidAmount = errors.New("invalid amount")
)

// Bank holds native-currency balances for every known address.
type Bank struct {
	mu       sync.RWMutex
	accounts map[common.Address]*big.Int
	rejects  map[common.Address]bool
}

// NewBank creates an empty Bank.
func NewBank() *Bank {
	return &Bank{
		accounts: make(map[common.Address]*big.Int),
		rejects:  make(map[common.Address]bool),
	}
}

// Balance returns a copy of the balance held by addr.
func (b *Bank) Balance(addr common.Address) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if bal, ok := b.accounts[addr]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Credit mints amount into addr. It backs the development faucet.
func (b *Bank) Credit(addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.account(addr).Add(b.account(addr), amount)
	return nil
}

// Reject makes addr refuse incoming transfers, like a contract without a payable fallback.
func (b *Bank) Reject(addr common.Address, reject bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if reject {
		b.rejects[addr] = true
		return
	}
	delete(b.rejects, addr)
}

// Transfer moves amount from one account to another. Either both sides change or neither does.
func (b *Bank) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rejects[to] {
		return xerrors.Errorf("transfer to %s: %w", to.Hex(), ErrTransferRejected)
	}
	src := b.account(from)
	if src.Cmp(amount) < 0 {
		return xerrors.Errorf("transfer of %s from %s (balance %s): %w", amount, from.Hex(), src, ErrInsufficientFunds)
	}
	src.Sub(src, amount)
	dst := b.account(to)
	dst.Add(dst, amount)
	logger.V(1).Infof("ledger: moved %s wei %s -> %s", amount, from.Hex(), to.Hex())
	return nil
}

func (b *Bank) account(addr common.Address) *big.Int {
	bal, ok := b.accounts[addr]
	if !ok {
		bal = new(big.Int)
		b.accounts[addr] = bal
	}
	return bal
}

// Escrow holds a single account's funds on behalf of the raffle.
type Escrow struct {
	bank    *Bank
	account common.Address
}

// NewEscrow binds an escrow to account inside bank.
func NewEscrow(bank *Bank, account common.Address) *Escrow {
	return &Escrow{bank: bank, account: account}
}

// Collect pulls amount from payer into the escrow account.
func (e *Escrow) Collect(ctx context.Context, payer common.Address, amount *big.Int) error {
	return e.bank.Transfer(ctx, payer, e.account, amount)
}

// Disburse pays amount out of the escrow account to winner.
func (e *Escrow) Disburse(ctx context.Context, winner common.Address, amount *big.Int) error {
	return e.bank.Transfer(ctx, e.account, winner, amount)
}

// Held returns the escrow account balance.
func (e *Escrow) Held() *big.Int {
	return e.bank.Balance(e.account)
}
