package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/logger"
	"github.com/google/uuid"

	"raffle/internal/models"
)

// RoundStore keeps the history of completed rounds.
type RoundStore interface {
	// SaveRound persists a completed round. Saving the same round twice overwrites it.
	SaveRound(ctx context.Context, result *models.RoundResult) error
	// ListRounds returns up to limit rounds, newest first. limit <= 0 returns all.
	ListRounds(ctx context.Context, limit int) ([]*models.RoundResult, error)
	Close(ctx context.Context) error
}

// MemoryStore keeps rounds in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	rounds map[uint64]*models.RoundResult
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rounds: make(map[uint64]*models.RoundResult)}
}

// SaveRound stores a copy of result.
func (m *MemoryStore) SaveRound(ctx context.Context, result *models.RoundResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := *result
	m.rounds[r.Round] = &r
	return nil
}

// ListRounds returns up to limit rounds, newest first.
func (m *MemoryStore) ListRounds(ctx context.Context, limit int) ([]*models.RoundResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.RoundResult, 0, len(m.rounds))
	for _, r := range m.rounds {
		c := *r
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Round > out[j].Round })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op.
func (m *MemoryStore) Close(ctx context.Context) error {
	return nil
}

// NextRound returns the number the next round should use: one past the
// newest stored round, or 1 for an empty store.
func NextRound(ctx context.Context, store RoundStore) (uint64, error) {
	latest, err := store.ListRounds(ctx, 1)
	if err != nil {
		return 0, err
	}
	if len(latest) == 0 {
		return 1, nil
	}
	return latest[0].Round + 1, nil
}

// Recorder turns WinnerPicked events into stored rounds.
type Recorder struct {
	store RoundStore
}

// NewRecorder creates a Recorder writing to store.
func NewRecorder(store RoundStore) *Recorder {
	return &Recorder{store: store}
}

// Handle is an events.Handler. Events other than WinnerPicked are ignored.
func (r *Recorder) Handle(ev models.Event) {
	picked, ok := ev.Payload.(models.WinnerPicked)
	if !ok {
		return
	}
	result := ResultFromEvent(ev.ID, ev.At, picked)
	if err := r.store.SaveRound(context.Background(), result); err != nil {
		logger.Errorf("store: save round %d: %v", picked.Round, err)
		return
	}
	logger.V(1).Infof("store: round %d recorded", picked.Round)
}

// ResultFromEvent builds the history record for a finished round.
func ResultFromEvent(id uuid.UUID, at time.Time, picked models.WinnerPicked) *models.RoundResult {
	result := &models.RoundResult{
		ID:           id,
		Round:        picked.Round,
		Winner:       picked.Winner,
		RequestID:    picked.RequestID,
		WinnerIndex:  picked.WinnerIndex,
		Participants: picked.Players,
		ClosedAt:     at,
	}
	if picked.Prize != nil {
		result.Prize = picked.Prize.String()
	}
	if picked.RandomWord != nil {
		result.RandomWord = picked.RandomWord.String()
	}
	return result
}
