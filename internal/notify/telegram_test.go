package notify

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raffle/internal/models"
)

type fakeSender struct {
	mu      sync.Mutex
	sent    []tgbotapi.MessageConfig
	err     error
	release chan struct{}
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, f.err
}

func (f *fakeSender) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), f.sent...)
}

var picked = models.Event{
	Name: models.EventWinnerPicked,
	Payload: models.WinnerPicked{
		Winner:      common.HexToAddress("0x0000000000000000000000000000000000000003"),
		Prize:       big.NewInt(300_000_000_000_000_000),
		RequestID:   1,
		RandomWord:  big.NewInt(5),
		WinnerIndex: 2,
		Players:     3,
		Round:       1,
	},
}

func TestFormat(t *testing.T) {
	text, ok := Format(picked)
	require.True(t, ok)
	assert.Contains(t, text, "Round 1 winner: 0x0000000000000000000000000000000000000003")
	assert.Contains(t, text, "Prize: 0.3 ETH")
	assert.Contains(t, text, "#2 of 3 players")

	text, ok = Format(models.Event{Name: models.EventRequestedRaffleWinner, Payload: models.RequestedRaffleWinner{RequestID: 9}})
	require.True(t, ok)
	assert.Contains(t, text, "request #9")

	_, ok = Format(models.Event{Name: models.EventRaffleEnter, Payload: models.RaffleEnter{}})
	assert.False(t, ok)
}

func TestTelegramNotifier(t *testing.T) {
	t.Run("sends formatted events from the worker", func(t *testing.T) {
		sender := &fakeSender{err: errors.New("telegram down")}
		n := NewTelegramNotifierWithSender(sender, 42)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go n.Run(ctx)

		n.Handle(models.Event{Name: models.EventRaffleEnter, Payload: models.RaffleEnter{}})
		n.Handle(picked)
		n.Handle(picked)
		require.Eventually(t, func() bool { return len(sender.messages()) == 2 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, int64(42), sender.messages()[0].ChatID)
	})

	t.Run("a stalled Bot API does not block the emitter", func(t *testing.T) {
		sender := &fakeSender{release: make(chan struct{})}
		n := NewTelegramNotifierWithSender(sender, 42)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go n.Run(ctx)

		done := make(chan struct{})
		go func() {
			for i := 0; i < QueueSize+10; i++ {
				n.Handle(picked)
			}
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Handle blocked on a stalled sender")
		}

		close(sender.release)
		require.Eventually(t, func() bool { return len(sender.messages()) > 0 }, time.Second, 5*time.Millisecond)
		assert.LessOrEqual(t, len(sender.messages()), QueueSize+1)
	})
}
