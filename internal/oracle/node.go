package oracle

import (
	"context"
	"time"

	"github.com/google/logger"
)

// Node plays the off-chain oracle for a development coordinator: every block
// time it mines one block and answers each request that has enough
// confirmations.
type Node struct {
	coordinator *Coordinator
	blockTime   time.Duration
}

// NewNode creates a Node driving coordinator.
func NewNode(coordinator *Coordinator, blockTime time.Duration) *Node {
	return &Node{coordinator: coordinator, blockTime: blockTime}
}

// Run produces blocks until ctx is cancelled.
func (n *Node) Run(ctx context.Context) {
	ticker := time.NewTicker(n.blockTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.Step(ctx)
		}
	}
}

// Step mines a single block and fulfills whatever became confirmed. It
// returns the fulfilled requests.
func (n *Node) Step(ctx context.Context) []*Fulfillment {
	height := n.coordinator.Mine(1)

	var done []*Fulfillment
	for _, req := range n.coordinator.Pending() {
		if !req.Confirmed(height) {
			continue
		}
		f, err := n.coordinator.FulfillRandomWords(ctx, req.ID)
		if err != nil {
			logger.Errorf("oracle node: fulfill request %d: %v", req.ID, err)
			continue
		}
		done = append(done, f)
	}
	return done
}
