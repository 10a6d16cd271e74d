// Package telegram adapts the Telegram Bot API to the bot core: it delivers
// messages as a notify.Sink, answers button taps, downloads attachments and
// converts long-poll updates into bot.Update values.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/Jeazzzy/UWantIt/internal/domain"
	"github.com/Jeazzzy/UWantIt/internal/notify"
)

// maxAnswerLen is the longest callback answer Telegram displays.
const maxAnswerLen = 200

// API is the part of *tgbotapi.BotAPI the adapter uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Client implements notify.Sink, bot.CallbackAnswerer and
// wizard.FileFetcher on top of the Bot API.
type Client struct {
	API  API
	HTTP *http.Client
	Log  zerolog.Logger
}

// New authenticates with token and routes the library's own logging into
// log.
func New(token string, debug bool, log zerolog.Logger) (*Client, error) {
	if err := tgbotapi.SetLogger(botLogger{log: log.With().Str("component", "tgbotapi").Logger()}); err != nil {
		return nil, err
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	api.Debug = debug
	log.Info().Str("bot", api.Self.UserName).Msg("telegram authorized")
	return &Client{
		API:  api,
		HTTP: &http.Client{Timeout: 30 * time.Second},
		Log:  log,
	}, nil
}

func delivery(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", notify.ErrDelivery, err)
}

// notModified reports the error Telegram returns for an edit that changes
// nothing.
func notModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}

func keyboard(rows [][]notify.Action) tgbotapi.InlineKeyboardMarkup {
	kb := tgbotapi.InlineKeyboardMarkup{InlineKeyboard: make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))}
	for _, row := range rows {
		btns := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, a := range row {
			btns = append(btns, tgbotapi.NewInlineKeyboardButtonData(a.Label, a.Data))
		}
		kb.InlineKeyboard = append(kb.InlineKeyboard, btns)
	}
	return kb
}

// Send delivers text, or a photo with the text as caption.
func (c *Client) Send(ctx context.Context, to domain.UserID, content notify.Content, rows [][]notify.Action) (notify.Handle, error) {
	if err := ctx.Err(); err != nil {
		return notify.Handle{}, err
	}

	var msg tgbotapi.Chattable
	if content.HasImage() {
		p := tgbotapi.NewPhoto(int64(to), tgbotapi.FilePath(content.ImagePath))
		p.Caption = content.Text
		p.ParseMode = tgbotapi.ModeHTML
		if len(rows) > 0 {
			p.ReplyMarkup = keyboard(rows)
		}
		msg = p
	} else {
		m := tgbotapi.NewMessage(int64(to), content.Text)
		m.ParseMode = tgbotapi.ModeHTML
		m.DisableWebPagePreview = true
		if len(rows) > 0 {
			m.ReplyMarkup = keyboard(rows)
		}
		msg = m
	}

	sent, err := c.API.Send(msg)
	if err != nil {
		return notify.Handle{}, delivery(err)
	}
	chatID := int64(to)
	if sent.Chat != nil {
		chatID = sent.Chat.ID
	}
	return notify.Handle{ChatID: chatID, MessageID: sent.MessageID, HasImage: content.HasImage()}, nil
}

// Edit replaces the text (or caption) and the buttons of h. An empty rows
// removes the buttons.
func (c *Client) Edit(ctx context.Context, h notify.Handle, content notify.Content, rows [][]notify.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	kb := keyboard(rows)

	var edit tgbotapi.Chattable
	if h.HasImage {
		e := tgbotapi.NewEditMessageCaption(h.ChatID, h.MessageID, content.Text)
		e.ParseMode = tgbotapi.ModeHTML
		e.ReplyMarkup = &kb
		edit = e
	} else {
		e := tgbotapi.NewEditMessageText(h.ChatID, h.MessageID, content.Text)
		e.ParseMode = tgbotapi.ModeHTML
		e.DisableWebPagePreview = true
		e.ReplyMarkup = &kb
		edit = e
	}

	if _, err := c.API.Request(edit); err != nil && !notModified(err) {
		return delivery(err)
	}
	return nil
}

// Delete removes h.
func (c *Client) Delete(ctx context.Context, h notify.Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.API.Request(tgbotapi.NewDeleteMessage(h.ChatID, h.MessageID))
	return delivery(err)
}

// Answer acknowledges a callback query.
func (c *Client) Answer(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r := []rune(text); len(r) > maxAnswerLen {
		text = string(r[:maxAnswerLen-1]) + "…"
	}
	_, err := c.API.Request(tgbotapi.NewCallback(callbackID, text))
	return delivery(err)
}

// Fetch downloads an attachment.
func (c *Client) Fetch(ctx context.Context, fileID string) (io.ReadCloser, error) {
	url, err := c.API.GetFileDirectURL(fileID)
	if err != nil {
		return nil, delivery(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, delivery(err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: download %s: status %d", notify.ErrDelivery, fileID, resp.StatusCode)
	}
	return resp.Body, nil
}

// botLogger routes tgbotapi logging into zerolog.
type botLogger struct {
	log zerolog.Logger
}

func (l botLogger) Println(v ...interface{}) {
	l.log.Debug().Msg(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l botLogger) Printf(format string, v ...interface{}) {
	l.log.Debug().Msgf(format, v...)
}
