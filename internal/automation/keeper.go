package automation

import (
	"context"
	"errors"
	"time"

	"github.com/google/logger"

	"raffle/internal/models"
	"raffle/internal/services"
)

// Upkeeper is the part of the raffle the keeper drives.
type Upkeeper interface {
	CheckUpkeep(now time.Time) models.UpkeepStatus
	PerformUpkeep(ctx context.Context) (models.RequestID, error)
	PendingRequest() (models.RequestID, time.Time, bool)
}

// Result is what a single Tick did.
type Result struct {
	Status    models.UpkeepStatus
	Performed bool
	RequestID models.RequestID
	Stale     bool
	Err       error
}

// Keeper polls the raffle and starts a draw whenever one is due.
type Keeper struct {
	raffle     Upkeeper
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

// NewKeeper creates a keeper polling every interval. A pending draw older
// than staleAfter is reported on every tick; zero disables the report.
func NewKeeper(raffle Upkeeper, interval, staleAfter time.Duration) *Keeper {
	return &Keeper{
		raffle:     raffle,
		interval:   interval,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Run polls until ctx is cancelled.
func (k *Keeper) Run(ctx context.Context) {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	logger.Infof("keeper: polling every %s", k.interval)
	for {
		select {
		case <-ctx.Done():
			logger.Info("keeper: stopped")
			return
		case <-ticker.C:
			k.Tick(ctx)
		}
	}
}

// Tick checks the raffle once and performs upkeep if needed. Failures are
// logged and left for the next tick.
func (k *Keeper) Tick(ctx context.Context) Result {
	now := k.now()
	res := Result{Status: k.raffle.CheckUpkeep(now)}

	if id, since, ok := k.raffle.PendingRequest(); ok {
		if k.staleAfter > 0 && now.Sub(since) > k.staleAfter {
			res.Stale = true
			logger.Warningf("keeper: request %d pending for %s without fulfillment", id, now.Sub(since).Round(time.Second))
		}
		return res
	}
	if !res.Status.UpkeepNeeded {
		return res
	}

	id, err := k.raffle.PerformUpkeep(ctx)
	switch {
	case errors.Is(err, services.ErrUpkeepNotNeeded):
		// Someone else started the draw between the check and the call.
		logger.V(1).Infof("keeper: upkeep no longer needed: %v", err)
	case err != nil:
		res.Err = err
		logger.Errorf("keeper: perform upkeep: %v", err)
	default:
		res.Performed = true
		res.RequestID = id
		logger.Infof("keeper: draw started, request %d", id)
	}
	return res
}
