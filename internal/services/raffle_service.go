package services

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/logger"
	"golang.org/x/xerrors"

	"raffle/internal/models"
	"raffle/internal/oracle"
)

// RandomnessCoordinator accepts draw requests and answers them later.
type RandomnessCoordinator interface {
	RequestRandomWords(ctx context.Context, req oracle.RandomWordsRequest) (models.RequestID, error)
}

// Treasury custodies the pooled entrance fees.
type Treasury interface {
	Collect(ctx context.Context, payer common.Address, amount *big.Int) error
	Disburse(ctx context.Context, winner common.Address, amount *big.Int) error
}

// Emitter publishes raffle notifications. seq is taken while the raffle
// state is locked, so it orders notifications the way the state changed even
// when concurrent callers deliver them in another order.
type Emitter interface {
	Emit(seq uint64, name string, payload interface{})
}

// Option configures a RaffleService.
type Option func(*RaffleService)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *RaffleService) {
		s.now = now
	}
}

// WithRound sets the number of the first round, so numbering continues
// across restarts. Zero is ignored.
func WithRound(n uint64) Option {
	return func(s *RaffleService) {
		if n > 0 {
			s.round = n
		}
	}
}

type discard struct{}

func (discard) Emit(uint64, string, interface{}) {}

type pendingRequest struct {
	id    models.RequestID
	since time.Time
}

// RaffleService runs a single perpetual raffle: it takes entries while open,
// asks the coordinator for randomness when a draw is due and pays the whole
// pool to the drawn participant when the randomness arrives.
type RaffleService struct {
	params      models.Params
	coordinator RandomnessCoordinator
	treasury    Treasury
	emitter     Emitter
	now         func() time.Time

	mu            sync.Mutex
	state         models.RaffleState
	players       []common.Address
	balance       *big.Int
	lastTimestamp time.Time
	pending       *pendingRequest
	recentWinner  common.Address
	round         uint64
	seq           uint64
}

// NewRaffleService creates an open raffle whose first round starts now.
func NewRaffleService(params models.Params, coordinator RandomnessCoordinator, treasury Treasury, emitter Emitter, opts ...Option) (*RaffleService, error) {
	if err := params.Validate(); err != nil {
		return nil, xerrors.Errorf("raffle params: %w", err)
	}
	params.EntranceFee = new(big.Int).Set(params.EntranceFee)
	if emitter == nil {
		emitter = discard{}
	}
	s := &RaffleService{
		params:      params,
		coordinator: coordinator,
		treasury:    treasury,
		emitter:     emitter,
		now:         time.Now,
		state:       models.RaffleOpen,
		players:     make([]common.Address, 0),
		balance:     new(big.Int),
		round:       1,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastTimestamp = s.now()
	return s, nil
}

// EnterRaffle adds payer to the current round for amount.
func (s *RaffleService) EnterRaffle(ctx context.Context, payer common.Address, amount *big.Int) error {
	s.mu.Lock()
	if !s.state.CanEnter() {
		s.mu.Unlock()
		return ErrRaffleNotOpen
	}
	if amount == nil || amount.Cmp(s.params.EntranceFee) < 0 {
		s.mu.Unlock()
		return ErrInsufficientPayment
	}
	if err := s.treasury.Collect(ctx, payer, amount); err != nil {
		s.mu.Unlock()
		return xerrors.Errorf("collect entrance fee from %s: %w", payer.Hex(), err)
	}
	s.players = append(s.players, payer)
	s.balance.Add(s.balance, amount)
	players := len(s.players)
	seq := s.nextSeq()
	s.mu.Unlock()

	logger.Infof("raffle: %s entered round %d with %s wei (%d players)", payer.Hex(), s.RoundNumber(), amount, players)
	s.emitter.Emit(seq, models.EventRaffleEnter, models.RaffleEnter{Player: payer, Amount: new(big.Int).Set(amount)})
	return nil
}

// CheckUpkeep reports whether a draw may start at now, with the conditions that decided it.
func (s *RaffleService) CheckUpkeep(now time.Time) models.UpkeepStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.checkUpkeep(now)
}

func (s *RaffleService) checkUpkeep(now time.Time) models.UpkeepStatus {
	elapsed := now.Sub(s.lastTimestamp)
	status := models.UpkeepStatus{
		State:      s.state,
		IsOpen:     s.state == models.RaffleOpen,
		Elapsed:    elapsed,
		TimePassed: elapsed > s.params.Interval,
		Players:    len(s.players),
		HasPlayers: len(s.players) > 0,
		Balance:    new(big.Int).Set(s.balance),
		HasBalance: s.balance.Sign() > 0,
	}
	status.UpkeepNeeded = status.IsOpen && status.TimePassed && status.HasPlayers && status.HasBalance
	return status
}

// PerformUpkeep starts a draw. The raffle is CALCULATING before the
// coordinator is called, so anything arriving while the request is in flight
// is turned away. If the coordinator refuses, the raffle is OPEN again.
func (s *RaffleService) PerformUpkeep(ctx context.Context) (models.RequestID, error) {
	s.mu.Lock()
	status := s.checkUpkeep(s.now())
	if !status.UpkeepNeeded {
		s.mu.Unlock()
		return 0, &UpkeepNotNeededError{Status: status}
	}
	s.state = models.RaffleCalculating
	s.mu.Unlock()

	id, err := s.coordinator.RequestRandomWords(ctx, oracle.RandomWordsRequest{
		KeyHash:          s.params.KeyHash,
		SubID:            s.params.SubscriptionID,
		MinConfirmations: s.params.RequestConfirmations,
		CallbackGasLimit: s.params.CallbackGasLimit,
		NumWords:         s.params.NumWords,
		Sender:           s.params.Address,
	})

	s.mu.Lock()
	if err != nil {
		s.state = models.RaffleOpen
		s.mu.Unlock()
		logger.Errorf("raffle: draw request for round %d failed: %v", s.RoundNumber(), err)
		return 0, xerrors.Errorf("request random words: %w", err)
	}
	s.pending = &pendingRequest{id: id, since: s.now()}
	round := s.round
	seq := s.nextSeq()
	s.mu.Unlock()

	logger.Infof("raffle: round %d draw requested, request id %d", round, id)
	s.emitter.Emit(seq, models.EventRequestedRaffleWinner, models.RequestedRaffleWinner{RequestID: id})
	return id, nil
}

// RawFulfillRandomWords is the coordinator's entry point. Callbacks from any
// other caller never reach the raffle state.
func (s *RaffleService) RawFulfillRandomWords(ctx context.Context, caller common.Address, requestID models.RequestID, words []*big.Int) error {
	if caller != s.params.Coordinator {
		return xerrors.Errorf("callback from %s: %w", caller.Hex(), ErrOnlyCoordinator)
	}
	return s.FulfillRandomWords(ctx, requestID, words)
}

// FulfillRandomWords picks the winner for the pending draw, pays out the pool
// and opens the next round. A failed payout leaves the round untouched.
func (s *RaffleService) FulfillRandomWords(ctx context.Context, requestID models.RequestID, words []*big.Int) error {
	s.mu.Lock()
	if !s.state.CanFulfill() || s.pending == nil || s.pending.id != requestID {
		s.mu.Unlock()
		return xerrors.Errorf("request %d: %w", requestID, ErrUnknownRequest)
	}
	if len(words) == 0 || words[0] == nil {
		s.mu.Unlock()
		return xerrors.Errorf("request %d: %w", requestID, ErrNoRandomWords)
	}
	if len(s.players) == 0 {
		// Only a round with players can reach CALCULATING.
		s.mu.Unlock()
		return xerrors.Errorf("request %d fulfilled for an empty round", requestID)
	}

	index := WinnerIndex(words[0], len(s.players))
	winner := s.players[index]
	prize := new(big.Int).Set(s.balance)
	if err := s.treasury.Disburse(ctx, winner, prize); err != nil {
		s.mu.Unlock()
		logger.Errorf("raffle: payout of round %d to %s failed: %v", s.RoundNumber(), winner.Hex(), err)
		return &TransferFailedError{Winner: winner, Amount: prize, Err: err}
	}

	picked := models.WinnerPicked{
		Winner:      winner,
		Prize:       prize,
		RequestID:   requestID,
		RandomWord:  new(big.Int).Set(words[0]),
		WinnerIndex: index,
		Players:     len(s.players),
		Round:       s.round,
	}
	s.recentWinner = winner
	s.players = make([]common.Address, 0)
	s.balance = new(big.Int)
	s.lastTimestamp = s.now()
	s.state = models.RaffleOpen
	s.pending = nil
	s.round++
	seq := s.nextSeq()
	s.mu.Unlock()

	logger.Infof("raffle: round %d won by %s (index %d of %d), paid %s wei", picked.Round, winner.Hex(), index, picked.Players, prize)
	s.emitter.Emit(seq, models.EventWinnerPicked, picked)
	return nil
}

// nextSeq numbers the next notification. Callers hold s.mu.
func (s *RaffleService) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// WinnerIndex maps a random word onto a participant list of length n.
func WinnerIndex(word *big.Int, n int) int {
	return int(new(big.Int).Mod(word, big.NewInt(int64(n))).Int64())
}

// EntranceFee returns the minimum payment to enter.
func (s *RaffleService) EntranceFee() *big.Int {
	return new(big.Int).Set(s.params.EntranceFee)
}

// Interval returns the minimum round duration.
func (s *RaffleService) Interval() time.Duration {
	return s.params.Interval
}

// Params returns the parameters the raffle was created with.
func (s *RaffleService) Params() models.Params {
	p := s.params
	p.EntranceFee = new(big.Int).Set(s.params.EntranceFee)
	return p
}

// NumWords returns the number of random words requested per draw.
func (s *RaffleService) NumWords() uint32 {
	return s.params.NumWords
}

// RequestConfirmations returns the confirmation depth asked of the oracle.
func (s *RaffleService) RequestConfirmations() uint16 {
	return s.params.RequestConfirmations
}

// RaffleState returns the current state.
func (s *RaffleService) RaffleState() models.RaffleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Player returns the participant at index.
func (s *RaffleService) Player(index int) (common.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.players) {
		return common.Address{}, xerrors.Errorf("index %d of %d: %w", index, len(s.players), ErrPlayerIndex)
	}
	return s.players[index], nil
}

// NumberOfPlayers returns the size of the participant list.
func (s *RaffleService) NumberOfPlayers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.players)
}

// Balance returns the pooled balance of the current round.
func (s *RaffleService) Balance() *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.balance)
}

// RecentWinner returns the winner of the last completed round.
func (s *RaffleService) RecentWinner() common.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recentWinner
}

// LatestTimestamp returns when the current round started.
func (s *RaffleService) LatestTimestamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTimestamp
}

// PendingRequest returns the outstanding request id and when it was issued.
func (s *RaffleService) PendingRequest() (models.RequestID, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return 0, time.Time{}, false
	}
	return s.pending.id, s.pending.since, true
}

// RoundNumber returns the number of the current round, starting at 1.
func (s *RaffleService) RoundNumber() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.round
}

// Snapshot reads every queryable field at once.
func (s *RaffleService) Snapshot() models.RaffleSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := models.RaffleSnapshot{
		State:                s.state,
		EntranceFee:          new(big.Int).Set(s.params.EntranceFee),
		Interval:             s.params.Interval,
		Players:              len(s.players),
		Balance:              new(big.Int).Set(s.balance),
		RecentWinner:         s.recentWinner,
		LatestTimestamp:      s.lastTimestamp,
		Round:                s.round,
		NumWords:             s.params.NumWords,
		RequestConfirmations: s.params.RequestConfirmations,
	}
	if s.pending != nil {
		id, since := s.pending.id, s.pending.since
		snap.PendingRequest = &id
		snap.PendingSince = &since
	}
	return snap
}
