package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/logger"
	"golang.org/x/xerrors"

	"raffle/internal/models"
)

// Sender is the part of tgbotapi.BotAPI the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// QueueSize is how many messages may wait for the Bot API before new ones are dropped.
const QueueSize = 64

// TelegramNotifier posts draw progress to a Telegram chat. Handle only queues
// the message; Run delivers it, so a slow Bot API never holds up the raffle.
type TelegramNotifier struct {
	bot    Sender
	chatID int64
	queue  chan string
}

// NewTelegramNotifier authorizes token against the Bot API.
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, xerrors.Errorf("telegram bot: %w", err)
	}
	logger.Infof("notify: telegram bot authorized as %s", bot.Self.UserName)
	return NewTelegramNotifierWithSender(bot, chatID), nil
}

// NewTelegramNotifierWithSender uses an already constructed sender.
func NewTelegramNotifierWithSender(bot Sender, chatID int64) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, chatID: chatID, queue: make(chan string, QueueSize)}
}

// Handle is an events.Handler. It never blocks; when the queue is full the
// message is dropped.
func (n *TelegramNotifier) Handle(ev models.Event) {
	text, ok := Format(ev)
	if !ok {
		return
	}
	select {
	case n.queue <- text:
	default:
		logger.Warningf("notify: telegram queue full, dropping %s #%d", ev.Name, ev.Seq)
	}
}

// Run sends queued messages until ctx is done.
func (n *TelegramNotifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			if left := len(n.queue); left > 0 {
				logger.Warningf("notify: telegram stopping with %d unsent messages", left)
			}
			return
		case text := <-n.queue:
			if _, err := n.bot.Send(tgbotapi.NewMessage(n.chatID, text)); err != nil {
				logger.Warningf("notify: telegram send: %v", err)
			}
		}
	}
}

// Format renders the message for ev. Only draw requests and winners produce a message.
func Format(ev models.Event) (string, bool) {
	switch p := ev.Payload.(type) {
	case models.RequestedRaffleWinner:
		return fmt.Sprintf("Raffle closed, waiting for randomness (request #%d)", p.RequestID), true
	case models.WinnerPicked:
		return fmt.Sprintf("Round %d winner: %s\nPrize: %s ETH\nPicked #%d of %d players (request #%d)",
			p.Round, p.Winner.Hex(), models.FormatEther(p.Prize), p.WinnerIndex, p.Players, p.RequestID), true
	default:
		return "", false
	}
}
