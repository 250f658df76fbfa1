package oracle

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/logger"
	"golang.org/x/xerrors"

	"raffle/internal/models"
)

// Request limits enforced by the coordinator.
const (
	MaxNumWords         = 500
	MinConfirmations    = 3
	MaxConfirmations    = 200
	maxCallbackGasLimit = 2_500_000
)

var (
	ErrInvalidSubscription = errors.New("invalid subscription")
	ErrInvalidConsumer     = errors.New("invalid consumer")
	ErrInvalidRequest      = errors.New("invalid randomness request")
	ErrUnknownRequest      = errors.New("nonexistent request")
	ErrNotConfirmed        = errors.New("request not yet confirmed")
	ErrInsufficientBalance = errors.New("insufficient subscription balance")
)

// Consumer receives fulfilled randomness.
type Consumer interface {
	RawFulfillRandomWords(ctx context.Context, caller common.Address, requestID models.RequestID, words []*big.Int) error
}

// Retryable is implemented by consumer errors after which the same request
// may be answered again, such as a payout the winner refused.
type Retryable interface {
	Retryable() bool
}

func retryable(err error) bool {
	var r Retryable
	return errors.As(err, &r) && r.Retryable()
}

// RandomWordsRequest is what a consumer submits to start a draw.
type RandomWordsRequest struct {
	KeyHash          common.Hash
	SubID            uint64
	MinConfirmations uint16
	CallbackGasLimit uint32
	NumWords         uint32
	Sender           common.Address
}

// Request is an outstanding randomness request.
type Request struct {
	ID          models.RequestID
	RandomWordsRequest
	BlockNumber uint64
}

// Subscription is a read-only view of a prepaid oracle account.
type Subscription struct {
	ID        uint64
	Owner     common.Address
	Balance   *big.Int
	Consumers []common.Address
}

// Fulfillment describes a completed callback.
type Fulfillment struct {
	RequestID models.RequestID
	Words     []*big.Int
	Payment   *big.Int
}

type subscription struct {
	owner     common.Address
	balance   *big.Int
	consumers map[common.Address]Consumer
}

// Coordinator is an in-process verifiable randomness coordinator. It keeps
// subscriptions, hands out request ids, waits for confirmations and calls
// consumers back with the random words.
type Coordinator struct {
	mu           sync.Mutex
	address      common.Address
	baseFee      *big.Int
	gasPriceLink *big.Int

	blockNumber   uint64
	nextSubID     uint64
	nextRequestID uint64
	subs          map[uint64]*subscription
	requests      map[models.RequestID]*Request
}

// NewCoordinator creates a coordinator at address charging baseFee plus
// gasPriceLink per unit of callback gas.
func NewCoordinator(address common.Address, baseFee, gasPriceLink *big.Int) *Coordinator {
	return &Coordinator{
		address:      address,
		baseFee:      new(big.Int).Set(baseFee),
		gasPriceLink: new(big.Int).Set(gasPriceLink),
		subs:         make(map[uint64]*subscription),
		requests:     make(map[models.RequestID]*Request),
	}
}

// Address returns the coordinator's identity as seen by consumers.
func (c *Coordinator) Address() common.Address {
	return c.address
}

// CreateSubscription opens an empty subscription owned by owner.
func (c *Coordinator) CreateSubscription(owner common.Address) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextSubID++
	c.subs[c.nextSubID] = &subscription{
		owner:     owner,
		balance:   new(big.Int),
		consumers: make(map[common.Address]Consumer),
	}
	logger.Infof("oracle: subscription %d created for %s", c.nextSubID, owner.Hex())
	return c.nextSubID
}

// FundSubscription adds amount to a subscription's balance.
func (c *Coordinator) FundSubscription(subID uint64, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs[subID]
	if !ok {
		return xerrors.Errorf("fund subscription %d: %w", subID, ErrInvalidSubscription)
	}
	if amount == nil || amount.Sign() <= 0 {
		return xerrors.Errorf("fund subscription %d with %v: %w", subID, amount, ErrInvalidRequest)
	}
	sub.balance.Add(sub.balance, amount)
	return nil
}

// AddConsumer allows addr to request randomness against subID.
func (c *Coordinator) AddConsumer(subID uint64, addr common.Address, consumer Consumer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs[subID]
	if !ok {
		return xerrors.Errorf("add consumer to %d: %w", subID, ErrInvalidSubscription)
	}
	sub.consumers[addr] = consumer
	return nil
}

// RemoveConsumer revokes addr from subID.
func (c *Coordinator) RemoveConsumer(subID uint64, addr common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs[subID]
	if !ok {
		return xerrors.Errorf("remove consumer from %d: %w", subID, ErrInvalidSubscription)
	}
	if _, ok := sub.consumers[addr]; !ok {
		return xerrors.Errorf("remove %s from %d: %w", addr.Hex(), subID, ErrInvalidConsumer)
	}
	delete(sub.consumers, addr)
	return nil
}

// Subscription returns a snapshot of subID.
func (c *Coordinator) Subscription(subID uint64) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs[subID]
	if !ok {
		return Subscription{}, xerrors.Errorf("subscription %d: %w", subID, ErrInvalidSubscription)
	}
	view := Subscription{ID: subID, Owner: sub.owner, Balance: new(big.Int).Set(sub.balance)}
	for addr := range sub.consumers {
		view.Consumers = append(view.Consumers, addr)
	}
	sort.Slice(view.Consumers, func(i, j int) bool {
		return view.Consumers[i].Hex() < view.Consumers[j].Hex()
	})
	return view, nil
}

// RequestRandomWords records a request and returns its id. The words are
// delivered later through FulfillRandomWords.
func (c *Coordinator) RequestRandomWords(ctx context.Context, req RandomWordsRequest) (models.RequestID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs[req.SubID]
	if !ok {
		return 0, xerrors.Errorf("request from %s: %w", req.Sender.Hex(), ErrInvalidSubscription)
	}
	if _, ok := sub.consumers[req.Sender]; !ok {
		return 0, xerrors.Errorf("%s on subscription %d: %w", req.Sender.Hex(), req.SubID, ErrInvalidConsumer)
	}
	switch {
	case req.NumWords == 0 || req.NumWords > MaxNumWords:
		return 0, xerrors.Errorf("num words %d: %w", req.NumWords, ErrInvalidRequest)
	case req.MinConfirmations < MinConfirmations || req.MinConfirmations > MaxConfirmations:
		return 0, xerrors.Errorf("confirmations %d: %w", req.MinConfirmations, ErrInvalidRequest)
	case req.CallbackGasLimit == 0 || req.CallbackGasLimit > maxCallbackGasLimit:
		return 0, xerrors.Errorf("callback gas limit %d: %w", req.CallbackGasLimit, ErrInvalidRequest)
	}

	c.nextRequestID++
	id := models.RequestID(c.nextRequestID)
	c.requests[id] = &Request{ID: id, RandomWordsRequest: req, BlockNumber: c.blockNumber}
	logger.Infof("oracle: request %d from %s at block %d", id, req.Sender.Hex(), c.blockNumber)
	return id, nil
}

// Mine advances the block height by n.
func (c *Coordinator) Mine(n uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.blockNumber += n
	return c.blockNumber
}

// BlockNumber returns the current block height.
func (c *Coordinator) BlockNumber() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.blockNumber
}

// Pending lists outstanding requests ordered by id.
func (c *Coordinator) Pending() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Request, 0, len(c.requests))
	for _, r := range c.requests {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Confirmed reports whether a request has waited its confirmation depth.
func (r Request) Confirmed(blockNumber uint64) bool {
	return blockNumber >= r.BlockNumber+uint64(r.MinConfirmations)
}

// FulfillRandomWords derives the words for id and calls the consumer back.
func (c *Coordinator) FulfillRandomWords(ctx context.Context, id models.RequestID) (*Fulfillment, error) {
	return c.fulfill(ctx, id, nil)
}

// FulfillRandomWordsWithOverride calls the consumer back with the given words
// instead of derived ones.
func (c *Coordinator) FulfillRandomWordsWithOverride(ctx context.Context, id models.RequestID, words []*big.Int) (*Fulfillment, error) {
	if len(words) == 0 {
		return nil, xerrors.Errorf("override for request %d: %w", id, ErrInvalidRequest)
	}
	return c.fulfill(ctx, id, words)
}

func (c *Coordinator) fulfill(ctx context.Context, id models.RequestID, words []*big.Int) (*Fulfillment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	req, ok := c.requests[id]
	if !ok {
		c.mu.Unlock()
		return nil, xerrors.Errorf("fulfill %d: %w", id, ErrUnknownRequest)
	}
	if !req.Confirmed(c.blockNumber) {
		c.mu.Unlock()
		return nil, xerrors.Errorf("fulfill %d at block %d (requested at %d, needs %d): %w",
			id, c.blockNumber, req.BlockNumber, req.MinConfirmations, ErrNotConfirmed)
	}
	sub := c.subs[req.SubID]
	consumer, ok := sub.consumers[req.Sender]
	if !ok {
		c.mu.Unlock()
		return nil, xerrors.Errorf("fulfill %d for %s: %w", id, req.Sender.Hex(), ErrInvalidConsumer)
	}
	payment := c.payment(req.CallbackGasLimit)
	if sub.balance.Cmp(payment) < 0 {
		c.mu.Unlock()
		return nil, xerrors.Errorf("fulfill %d costs %s, subscription %d holds %s: %w",
			id, payment, req.SubID, sub.balance, ErrInsufficientBalance)
	}
	if words == nil {
		words = deriveWords(id, req.NumWords)
	}
	// The request leaves the table before the callback so it cannot be answered twice.
	sub.balance.Sub(sub.balance, payment)
	delete(c.requests, id)
	c.mu.Unlock()

	if err := consumer.RawFulfillRandomWords(ctx, c.address, id, words); err != nil {
		if !retryable(err) {
			// Charged and gone, as on chain: the consumer will never accept this request.
			logger.Warningf("oracle: consumer %s rejected request %d, dropping it: %v", req.Sender.Hex(), id, err)
			return nil, xerrors.Errorf("callback for request %d: %w", id, err)
		}
		c.mu.Lock()
		sub.balance.Add(sub.balance, payment)
		c.requests[id] = req
		c.mu.Unlock()
		logger.Warningf("oracle: consumer %s failed request %d, kept for retry: %v", req.Sender.Hex(), id, err)
		return nil, xerrors.Errorf("callback for request %d: %w", id, err)
	}
	logger.Infof("oracle: request %d fulfilled, charged %s to subscription %d", id, payment, req.SubID)
	return &Fulfillment{RequestID: id, Words: words, Payment: payment}, nil
}

func (c *Coordinator) payment(gasLimit uint32) *big.Int {
	p := new(big.Int).Mul(c.gasPriceLink, new(big.Int).SetUint64(uint64(gasLimit)))
	return p.Add(p, c.baseFee)
}

// deriveWords computes keccak256(requestID, i) for each word index.
func deriveWords(id models.RequestID, n uint32) []*big.Int {
	words := make([]*big.Int, n)
	idWord := common.BigToHash(new(big.Int).SetUint64(uint64(id)))
	for i := uint32(0); i < n; i++ {
		idx := common.BigToHash(big.NewInt(int64(i)))
		words[i] = crypto.Keccak256Hash(idWord.Bytes(), idx.Bytes()).Big()
	}
	return words
}
