package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"github.com/Jeazzzy/UWantIt/internal/bot"
	"github.com/Jeazzzy/UWantIt/internal/domain"
	"github.com/Jeazzzy/UWantIt/internal/notify"
)

// Dispatcher consumes converted updates.
type Dispatcher interface {
	Dispatch(ctx context.Context, u bot.Update) error
}

// PollTimeout is the long-poll timeout in seconds.
const PollTimeout = 30

// Convert maps a Telegram update onto a bot.Update. Updates from groups,
// channels and unknown senders are dropped.
func Convert(upd tgbotapi.Update) (bot.Update, bool) {
	if q := upd.CallbackQuery; q != nil {
		if q.From == nil {
			return bot.Update{}, false
		}
		u := bot.Update{
			Kind:       bot.KindCallback,
			From:       domain.UserID(q.From.ID),
			CallbackID: q.ID,
			Data:       q.Data,
		}
		if q.Message != nil {
			u.Message = handleOf(q.Message)
		}
		return u, true
	}

	m := upd.Message
	if m == nil || m.From == nil || m.Chat == nil || !m.Chat.IsPrivate() {
		return bot.Update{}, false
	}
	u := bot.Update{From: domain.UserID(m.From.ID), Message: handleOf(m)}
	switch {
	case m.IsCommand():
		u.Kind, u.Text = bot.KindCommand, m.Command()
	case len(m.Photo) > 0:
		u.Kind, u.Text, u.FileID = bot.KindPhoto, m.Caption, largest(m.Photo).FileID
	case m.Text != "":
		u.Kind, u.Text = bot.KindText, m.Text
	default:
		u.Kind = bot.KindOther
	}
	return u, true
}

func handleOf(m *tgbotapi.Message) notify.Handle {
	h := notify.Handle{MessageID: m.MessageID, HasImage: len(m.Photo) > 0}
	if m.Chat != nil {
		h.ChatID = m.Chat.ID
	}
	return h
}

func largest(sizes []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := sizes[0]
	for _, s := range sizes[1:] {
		if s.Width*s.Height > best.Width*best.Height {
			best = s
		}
	}
	return best
}

// Run long-polls for updates and hands them to d until ctx is cancelled.
// Updates are spread over workers goroutines by sender, so one user's
// updates keep their order while different users proceed in parallel.
func (c *Client) Run(ctx context.Context, d Dispatcher, workers int) error {
	if workers <= 0 {
		workers = 1
	}
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = PollTimeout
	updates := c.API.GetUpdatesChan(cfg)

	queues := make([]chan bot.Update, workers)
	g, gctx := errgroup.WithContext(ctx)
	for i := range queues {
		q := make(chan bot.Update, 16)
		queues[i] = q
		g.Go(func() error {
			for u := range q {
				if err := d.Dispatch(gctx, u); err != nil {
					c.Log.Error().Err(err).
						Int64("user_id", int64(u.From)).
						Str("kind", string(u.Kind)).
						Msg("handle update")
				}
			}
			return nil
		})
	}

	c.Log.Info().Int("workers", workers).Msg("telegram polling started")
	c.route(ctx, updates, queues)
	c.API.StopReceivingUpdates()
	for _, q := range queues {
		close(q)
	}
	err := g.Wait()
	c.Log.Info().Msg("telegram polling stopped")
	return err
}

func (c *Client) route(ctx context.Context, updates tgbotapi.UpdatesChannel, queues []chan bot.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			u, ok := Convert(upd)
			if !ok {
				continue
			}
			q := queues[uint64(u.From)%uint64(len(queues))]
			select {
			case q <- u:
			case <-ctx.Done():
				return
			}
		}
	}
}
