// Package bot dispatches chat updates to the entry wizard, the status engine
// and the record store.
//
// Updates from one user are handled one at a time; different users proceed
// in parallel. Every update is rate limited per user. Errors are turned into
// user-visible notices: a short answer for button taps, a transient warning
// message otherwise.
package bot

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/Jeazzzy/UWantIt/internal/callback"
	"github.com/Jeazzzy/UWantIt/internal/domain"
	"github.com/Jeazzzy/UWantIt/internal/notify"
	"github.com/Jeazzzy/UWantIt/internal/ratelimit"
	"github.com/Jeazzzy/UWantIt/internal/render"
	"github.com/Jeazzzy/UWantIt/internal/services"
	"github.com/Jeazzzy/UWantIt/internal/userlock"
	"github.com/Jeazzzy/UWantIt/internal/wizard"
)

// DefaultWarningTTL is how long a transient warning stays visible.
const DefaultWarningTTL = 3 * time.Second

// DefaultListLimit caps the number of records shown per list.
const DefaultListLimit = 8

var (
	updatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_updates_total",
			Help: "Chat updates received, by kind.",
		},
		[]string{"kind"},
	)

	throttledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_throttled_total",
		Help: "Chat updates rejected by the per-user rate limit.",
	})
)

func init() {
	prometheus.MustRegister(updatesTotal, throttledTotal)
}

// Purchases is the subset of the purchase service used by the bot.
type Purchases interface {
	EnsureUser(ctx context.Context, owner domain.UserID) error
	Get(ctx context.Context, owner domain.UserID, id string) (*domain.Purchase, error)
	List(ctx context.Context, owner domain.UserID, status domain.Status, limit int) ([]domain.Purchase, error)
	Stats(ctx context.Context, owner domain.UserID) ([]domain.Aggregate, error)
	Decide(ctx context.Context, owner domain.UserID, id string, a services.Action) (*domain.Purchase, error)
	Delete(ctx context.Context, owner domain.UserID, id string) (*domain.Purchase, error)
}

// Photos resolves stored photo references.
type Photos interface {
	Exists(ref string) bool
	Path(ref string) (string, error)
}

// CallbackAnswerer acknowledges a button tap, optionally with a short
// notice shown to the user.
type CallbackAnswerer interface {
	Answer(ctx context.Context, callbackID, text string) error
}

// Bot routes updates. Wizard, Purchases, Sink and Render are required.
type Bot struct {
	Wizard    *wizard.Machine
	Purchases Purchases
	Sink      notify.Sink
	Answers   CallbackAnswerer
	Photos    Photos
	Render    *render.Renderer
	Limiter   *ratelimit.Limiter

	ListLimit  int
	WarningTTL time.Duration
	// After schedules f after d; defaults to time.AfterFunc.
	After      func(d time.Duration, f func())
	Log        zerolog.Logger
	// Locks serializes work per user; share it with the reminder scheduler.
	Locks      *userlock.Locks

	locksOnce sync.Once
}

// errStale marks a button that no longer applies.
var errStale = errors.New("stale action")

// Dispatch handles one update. The returned error has already been reported
// to the user; it is meant for logging.
func (b *Bot) Dispatch(ctx context.Context, u Update) error {
	updatesTotal.WithLabelValues(string(u.Kind)).Inc()

	b.locksOnce.Do(func() {
		if b.Locks == nil {
			b.Locks = userlock.New()
		}
	})
	unlock := b.Locks.Lock(u.From)
	defer unlock()

	if !b.Limiter.Allow(strconv.FormatInt(int64(u.From), 10)) {
		throttledTotal.Inc()
		b.notice(ctx, u, render.TooFast)
		return nil
	}

	err := b.Purchases.EnsureUser(ctx, u.From)
	if err == nil {
		switch u.Kind {
		case KindCommand:
			err = b.onCommand(ctx, u)
		case KindCallback:
			err = b.onCallback(ctx, u)
		default:
			err = b.onMessage(ctx, u)
		}
	}
	if err != nil {
		return b.report(ctx, u, err)
	}
	if u.Kind == KindCallback {
		b.answer(ctx, u, "")
	}
	return nil
}

// report shows err to the user and returns it when it is not a routine
// condition.
func (b *Bot) report(ctx context.Context, u Update, err error) error {
	switch {
	case errors.Is(err, services.ErrPurchaseNotFound):
		b.notice(ctx, u, render.NotFound)
	case errors.Is(err, services.ErrNotPending):
		b.notice(ctx, u, render.AlreadyDecided)
	case errors.Is(err, services.ErrInvalidDelay):
		b.notice(ctx, u, render.BadDelay)
	case wizard.IsValidation(err):
		b.notice(ctx, u, wizard.Warning(err))
	case errors.Is(err, errStale),
		errors.Is(err, callback.ErrMalformed),
		errors.Is(err, callback.ErrTooLong),
		errors.Is(err, wizard.ErrNoSession),
		errors.Is(err, wizard.ErrWrongStep):
		b.notice(ctx, u, render.Stale)
	default:
		b.notice(ctx, u, render.Failed)
		return err
	}
	return nil
}

// notice answers a callback or posts a transient warning.
func (b *Bot) notice(ctx context.Context, u Update, text string) {
	if u.Kind == KindCallback {
		b.answer(ctx, u, text)
		return
	}
	b.warn(ctx, u.From, text)
}

func (b *Bot) answer(ctx context.Context, u Update, text string) {
	if b.Answers == nil || u.CallbackID == "" {
		return
	}
	if err := b.Answers.Answer(ctx, u.CallbackID, stripTags(text)); err != nil {
		b.Log.Debug().Err(err).Int64("user_id", int64(u.From)).Msg("answer callback")
	}
}

// warn sends a message that is withdrawn after WarningTTL.
func (b *Bot) warn(ctx context.Context, owner domain.UserID, text string) {
	h, err := b.Sink.Send(ctx, owner, notify.Content{Text: text}, nil)
	if err != nil {
		b.Log.Warn().Err(err).Int64("user_id", int64(owner)).Msg("send warning")
		return
	}
	ttl := b.WarningTTL
	if ttl <= 0 {
		ttl = DefaultWarningTTL
	}
	b.after(ttl, func() {
		dctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := b.Sink.Delete(dctx, h); err != nil {
			b.Log.Debug().Err(err).Int64("user_id", int64(owner)).Msg("withdraw warning")
		}
	})
}

func (b *Bot) after(d time.Duration, f func()) {
	if b.After != nil {
		b.After(d, f)
		return
	}
	time.AfterFunc(d, f)
}

// consume removes a user message that was taken as wizard input.
func (b *Bot) consume(ctx context.Context, u Update) {
	if u.Message.IsZero() {
		return
	}
	if err := b.Sink.Delete(ctx, u.Message); err != nil {
		b.Log.Debug().Err(err).Int64("user_id", int64(u.From)).Msg("delete user message")
	}
}

// replace shows c in place of h: edited when the message kinds match,
// otherwise h is removed and a new message sent. It returns the handle of
// the message now showing c.
func (b *Bot) replace(ctx context.Context, owner domain.UserID, h notify.Handle, c notify.Content, rows [][]notify.Action) (notify.Handle, error) {
	if !h.IsZero() && h.HasImage == c.HasImage() {
		if err := b.Sink.Edit(ctx, h, c, rows); err == nil {
			return h, nil
		}
	}
	if !h.IsZero() {
		if err := b.Sink.Delete(ctx, h); err != nil {
			b.Log.Debug().Err(err).Int64("user_id", int64(owner)).Msg("delete replaced message")
		}
	}
	return b.Sink.Send(ctx, owner, c, rows)
}

// rewrite changes the text and actions of h, keeping its image. A message
// that cannot be edited is followed by a new text message.
func (b *Bot) rewrite(ctx context.Context, owner domain.UserID, h notify.Handle, text string, rows [][]notify.Action) (notify.Handle, error) {
	if !h.IsZero() {
		if err := b.Sink.Edit(ctx, h, notify.Content{Text: text}, rows); err == nil {
			return h, nil
		}
	}
	return b.Sink.Send(ctx, owner, notify.Content{Text: text}, rows)
}

func (b *Bot) listLimit() int {
	if b.ListLimit > 0 {
		return b.ListLimit
	}
	return DefaultListLimit
}

func (b *Bot) photoPath(p *domain.Purchase) string {
	if !p.HasPhoto() || b.Photos == nil || !b.Photos.Exists(*p.PhotoRef) {
		return ""
	}
	path, err := b.Photos.Path(*p.PhotoRef)
	if err != nil {
		return ""
	}
	return path
}
