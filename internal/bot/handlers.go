package bot

import (
	"context"
	"errors"
	"html"
	"regexp"
	"time"

	"github.com/Jeazzzy/UWantIt/internal/callback"
	"github.com/Jeazzzy/UWantIt/internal/domain"
	"github.com/Jeazzzy/UWantIt/internal/notify"
	"github.com/Jeazzzy/UWantIt/internal/render"
	"github.com/Jeazzzy/UWantIt/internal/services"
	"github.com/Jeazzzy/UWantIt/internal/wizard"
)

var tagRe = regexp.MustCompile(`<[^>]*>`)

// stripTags turns an HTML notice into plain text for callback answers.
func stripTags(s string) string {
	return html.UnescapeString(tagRe.ReplaceAllString(s, ""))
}

func minutes(n int) time.Duration { return time.Duration(n) * time.Minute }

// ----- commands -----

func (b *Bot) onCommand(ctx context.Context, u Update) error {
	switch u.Text {
	case "add":
		if err := b.Wizard.Reset(ctx, u.From); err != nil {
			return err
		}
		return b.Wizard.Start(ctx, u.From, notify.Handle{})
	case "stats":
		return b.sendStats(ctx, u.From, notify.Handle{})
	default: // start, menu and anything unknown
		if err := b.Wizard.Reset(ctx, u.From); err != nil {
			return err
		}
		c, rows := b.Render.Menu()
		_, err := b.Sink.Send(ctx, u.From, c, rows)
		return err
	}
}

// ----- messages -----

func (b *Bot) onMessage(ctx context.Context, u Update) error {
	s, err := b.Wizard.Session(ctx, u.From)
	if err != nil && !errors.Is(err, wizard.ErrNoSession) {
		return err
	}

	// A number typed while a delay is awaited belongs to that follow-up;
	// anything else falls through to an entry in progress.
	if s.Await != wizard.AwaitNone && u.Kind == KindText {
		n, perr := wizard.ParseDelay(u.Text)
		if perr == nil {
			b.consume(ctx, u)
			return b.applyAwait(ctx, u.From, s, n)
		}
		if !s.Active() {
			b.consume(ctx, u)
			return perr
		}
	}

	if !s.Active() {
		c, rows := b.Render.Menu()
		_, err := b.Sink.Send(ctx, u.From, c, rows)
		return err
	}

	in := wizard.Input{Kind: wizard.InputOther}
	switch u.Kind {
	case KindText:
		in = wizard.Input{Kind: wizard.InputText, Text: u.Text}
	case KindPhoto:
		in = wizard.Input{Kind: wizard.InputPhoto, FileID: u.FileID}
	}
	err = b.Wizard.Handle(ctx, u.From, in)
	b.consume(ctx, u)
	return err
}

// applyAwait completes a wait or rearm follow-up with typed minutes.
func (b *Bot) applyAwait(ctx context.Context, owner domain.UserID, s wizard.Session, n int) error {
	var a services.Action
	switch s.Await {
	case wizard.AwaitExtend:
		a = services.Extend(minutes(n))
	case wizard.AwaitRearm:
		a = services.MoveTo(domain.StatusPending, minutes(n))
	default:
		return errStale
	}

	p, err := b.Purchases.Decide(ctx, owner, s.Target, a)
	if cerr := b.Wizard.ClearAwait(ctx, owner); cerr != nil {
		b.Log.Warn().Err(cerr).Int64("user_id", int64(owner)).Msg("clear await")
	}
	if err != nil {
		return err
	}
	if s.Await == wizard.AwaitExtend {
		_, err = b.rewrite(ctx, owner, s.TargetMsg, b.Render.Decided(p), nil)
		return err
	}
	_, err = b.replace(ctx, owner, s.TargetMsg, notify.Content{Text: b.movedText(p)}, render.CardActions(p))
	return err
}

// ----- callbacks -----

func (b *Bot) onCallback(ctx context.Context, u Update) error {
	d, err := callback.Decode(u.Data)
	if err != nil {
		return err
	}
	owner, h := u.From, u.Message

	switch d.Verb {
	// menu
	case callback.Home:
		return b.home(ctx, owner, h)
	case callback.Add:
		if err := b.dropOtherForm(ctx, owner, h); err != nil {
			return err
		}
		return b.Wizard.Start(ctx, owner, h)
	case callback.Stats:
		return b.sendStats(ctx, owner, h)
	case callback.List:
		items, err := b.Purchases.List(ctx, owner, d.Status, b.listLimit())
		if err != nil {
			return err
		}
		text, rows := b.Render.List(d.Status, items)
		_, err = b.replace(ctx, owner, h, notify.Content{Text: text}, rows)
		return err

	// wizard
	case callback.Back:
		return b.Wizard.Back(ctx, owner)
	case callback.Skip:
		return b.Wizard.Skip(ctx, owner)
	case callback.Delay:
		_, err := b.Wizard.ChooseDelay(ctx, owner, d.Minutes)
		return err

	// decision prompt
	case callback.Buy, callback.Cancel:
		a := services.Buy()
		if d.Verb == callback.Cancel {
			a = services.Cancel()
		}
		p, err := b.Purchases.Decide(ctx, owner, d.ID, a)
		if err != nil {
			return err
		}
		b.clearAwaitFor(ctx, owner, d.ID)
		_, err = b.rewrite(ctx, owner, h, b.Render.Decided(p), nil)
		return err
	case callback.Wait:
		p, err := b.pending(ctx, owner, d.ID)
		if err != nil {
			return err
		}
		if err := b.Wizard.Await(ctx, owner, wizard.AwaitExtend, p.ID, h); err != nil {
			return err
		}
		_, err = b.rewrite(ctx, owner, h, b.Render.WaitPrompt(p), render.WaitActions(p.ID))
		return err
	case callback.Prompt:
		p, err := b.pending(ctx, owner, d.ID)
		if err != nil {
			return err
		}
		b.clearAwaitFor(ctx, owner, d.ID)
		_, err = b.rewrite(ctx, owner, h, b.Render.DecisionPrompt(p, "").Text, render.DecisionActions(p.ID))
		return err
	case callback.Extend:
		p, err := b.Purchases.Decide(ctx, owner, d.ID, services.Extend(minutes(d.Minutes)))
		if err != nil {
			return err
		}
		b.clearAwaitFor(ctx, owner, d.ID)
		_, err = b.rewrite(ctx, owner, h, b.Render.Decided(p), nil)
		return err

	// card
	case callback.Open:
		p, err := b.Purchases.Get(ctx, owner, d.ID)
		if err != nil {
			return err
		}
		b.clearAwaitFor(ctx, owner, d.ID)
		_, err = b.replace(ctx, owner, h, b.Render.Card(p, b.photoPath(p)), render.CardActions(p))
		return err
	case callback.Del:
		p, err := b.Purchases.Get(ctx, owner, d.ID)
		if err != nil {
			return err
		}
		text, rows := b.Render.DeleteConfirm(p)
		_, err = b.replace(ctx, owner, h, notify.Content{Text: text}, rows)
		return err
	case callback.DelOK:
		p, err := b.Purchases.Delete(ctx, owner, d.ID)
		if err != nil {
			return err
		}
		b.clearAwaitFor(ctx, owner, d.ID)
		_, err = b.replace(ctx, owner, h, notify.Content{Text: render.Deleted(p)}, render.Home())
		return err
	case callback.Move:
		p, err := b.Purchases.Get(ctx, owner, d.ID)
		if err != nil {
			return err
		}
		b.clearAwaitFor(ctx, owner, d.ID)
		text, rows := b.Render.MoveMenu(p)
		_, err = b.replace(ctx, owner, h, notify.Content{Text: text}, rows)
		return err
	case callback.MoveTo:
		if d.Status == domain.StatusPending {
			p, err := b.Purchases.Get(ctx, owner, d.ID)
			if err != nil {
				return err
			}
			text, rows := b.Render.RearmMenu(p)
			nh, err := b.replace(ctx, owner, h, notify.Content{Text: text}, rows)
			if err != nil {
				return err
			}
			return b.Wizard.Await(ctx, owner, wizard.AwaitRearm, p.ID, nh)
		}
		p, err := b.Purchases.Decide(ctx, owner, d.ID, services.MoveTo(d.Status, 0))
		if err != nil {
			return err
		}
		_, err = b.replace(ctx, owner, h, notify.Content{Text: b.movedText(p)}, render.CardActions(p))
		return err
	case callback.Rearm:
		p, err := b.Purchases.Decide(ctx, owner, d.ID, services.MoveTo(domain.StatusPending, minutes(d.Minutes)))
		if err != nil {
			return err
		}
		b.clearAwaitFor(ctx, owner, d.ID)
		_, err = b.replace(ctx, owner, h, notify.Content{Text: b.movedText(p)}, render.CardActions(p))
		return err
	}
	return errStale
}

// home leaves whatever the user was doing and shows the menu on h.
func (b *Bot) home(ctx context.Context, owner domain.UserID, h notify.Handle) error {
	s, err := b.Wizard.Session(ctx, owner)
	if err != nil && !errors.Is(err, wizard.ErrNoSession) {
		return err
	}
	if s.Active() && s.Form.MessageID == h.MessageID {
		if err := b.Wizard.ClearAwait(ctx, owner); err != nil {
			return err
		}
		return b.Wizard.Cancel(ctx, owner)
	}
	if err := b.dropOtherForm(ctx, owner, h); err != nil {
		return err
	}
	if err := b.Wizard.ClearAwait(ctx, owner); err != nil {
		return err
	}
	c, rows := b.Render.Menu()
	_, err = b.replace(ctx, owner, h, c, rows)
	return err
}

// dropOtherForm discards an entry whose form is a different message than h.
func (b *Bot) dropOtherForm(ctx context.Context, owner domain.UserID, h notify.Handle) error {
	s, err := b.Wizard.Session(ctx, owner)
	if errors.Is(err, wizard.ErrNoSession) {
		return nil
	}
	if err != nil {
		return err
	}
	if !s.Active() || s.Form.MessageID == h.MessageID {
		return nil
	}
	return b.Wizard.Reset(ctx, owner)
}

// clearAwaitFor drops a pending follow-up that targets id.
func (b *Bot) clearAwaitFor(ctx context.Context, owner domain.UserID, id string) {
	s, err := b.Wizard.Session(ctx, owner)
	if err != nil || s.Await == wizard.AwaitNone || s.Target != id {
		return
	}
	if err := b.Wizard.ClearAwait(ctx, owner); err != nil {
		b.Log.Warn().Err(err).Int64("user_id", int64(owner)).Msg("clear await")
	}
}

// pending loads an owned purchase that still awaits a decision.
func (b *Bot) pending(ctx context.Context, owner domain.UserID, id string) (*domain.Purchase, error) {
	p, err := b.Purchases.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if p.Status != domain.StatusPending {
		return nil, services.ErrNotPending
	}
	return p, nil
}

func (b *Bot) sendStats(ctx context.Context, owner domain.UserID, h notify.Handle) error {
	aggs, err := b.Purchases.Stats(ctx, owner)
	if err != nil {
		return err
	}
	text, rows := b.Render.Stats(aggs)
	_, err = b.replace(ctx, owner, h, notify.Content{Text: text}, rows)
	return err
}

func (b *Bot) movedText(p *domain.Purchase) string {
	text := render.Moved(p)
	if p.Status == domain.StatusPending {
		text += "\n⏰ Напомню " + b.Render.When(p)
	}
	return text
}
