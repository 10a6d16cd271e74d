// Package wizard implements the guided entry of a new purchase.
//
// A Machine moves a per-user Session through the steps name, price, store,
// link, photo and delay. Every step accepts back (to its predecessor, staged
// fields kept) and home (everything discarded). Staged fields live only in
// the session; the purchase is created in the record store when a delay is
// chosen.
//
// After every accepted input the form message is re-rendered: edited in
// place when possible, replaced by a fresh message when a photo was just
// attached or the message kind changes.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Jeazzzy/UWantIt/internal/domain"
	"github.com/Jeazzzy/UWantIt/internal/notify"
	"github.com/Jeazzzy/UWantIt/internal/render"
	"github.com/Jeazzzy/UWantIt/internal/services"
)

// InputKind classifies an incoming message.
type InputKind int

const (
	InputText InputKind = iota
	InputPhoto
	// InputOther is any other attachment: document, video, audio, voice,
	// sticker, animation or video note.
	InputOther
)

// Input is one user message addressed to the wizard.
type Input struct {
	Kind InputKind
	Text string
	// FileID is the transport identifier of the largest photo size.
	FileID string
}

// FileFetcher downloads an attachment by its transport identifier.
type FileFetcher interface {
	Fetch(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// BlobStore persists photos.
type BlobStore interface {
	Save(owner domain.UserID, fileID string, r io.Reader) (string, error)
	Path(ref string) (string, error)
	Exists(ref string) bool
	Remove(ref string) error
}

// Creator commits a finished draft.
type Creator interface {
	Create(ctx context.Context, owner domain.UserID, in services.NewPurchase) (*domain.Purchase, error)
}

// PhotoRefs reports whether a stored purchase references a photo blob.
type PhotoRefs interface {
	PhotoInUse(ctx context.Context, ref string) (bool, error)
}

// commitsTotal counts purchases committed by the wizard.
var commitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "wizard_commits_total",
	Help: "Purchases created through the entry wizard.",
})

func init() {
	prometheus.MustRegister(commitsTotal)
}

// Machine drives entry sessions.
type Machine struct {
	Sessions  Sessions
	Sink      notify.Sink
	Files     FileFetcher
	Blobs     BlobStore
	Purchases Creator
	// Refs keeps staged photos that a stored purchase also uses. Nil releases
	// every discarded photo.
	Refs      PhotoRefs
	Render    *render.Renderer
	Log       zerolog.Logger
}

func tracer() trace.Tracer { return otel.Tracer("wizard/Machine") }

// Session returns the user's session or ErrNoSession.
func (m *Machine) Session(ctx context.Context, owner domain.UserID) (Session, error) {
	return m.Sessions.Get(ctx, owner)
}

// Start opens a new entry at the name step, discarding any previous draft.
// When from refers to a text message (the menu the user tapped) the form
// replaces it in place.
func (m *Machine) Start(ctx context.Context, owner domain.UserID, from notify.Handle) error {
	if prev, err := m.Sessions.Get(ctx, owner); err == nil {
		m.releasePhoto(ctx, prev.Draft)
	}
	s := Session{Step: StepName, Form: from}
	return m.advance(ctx, owner, &s, false)
}

// Handle feeds one message to the current step. Validation failures return
// one of the validation errors and leave the session untouched.
func (m *Machine) Handle(ctx context.Context, owner domain.UserID, in Input) error {
	s, err := m.active(ctx, owner)
	if err != nil {
		return err
	}

	switch s.Step {
	case StepName:
		if in.Kind != InputText {
			return ErrTextOnly
		}
		name, err := ParseName(in.Text)
		if err != nil {
			return err
		}
		s.Draft.Name = name

	case StepPrice:
		if in.Kind != InputText {
			return ErrTextOnly
		}
		price, err := ParsePrice(in.Text)
		if err != nil {
			return err
		}
		s.Draft.Price = price

	case StepStore:
		if in.Kind != InputText {
			return ErrTextOnly
		}
		store := strings.TrimSpace(in.Text)
		if store == "" {
			return ErrEmptyStore
		}
		s.Draft.Store = store

	case StepLink:
		if in.Kind != InputText {
			return ErrTextOnly
		}
		link := strings.TrimSpace(in.Text)
		if link == "" {
			s.Draft.Link = nil
		} else {
			s.Draft.Link = &link
		}

	case StepPhoto:
		if in.Kind != InputPhoto || in.FileID == "" {
			return ErrPhotoOnly
		}
		ref, err := m.savePhoto(ctx, owner, in.FileID)
		if err != nil {
			return err
		}
		if s.Draft.PhotoRef != nil && *s.Draft.PhotoRef != ref {
			m.releasePhoto(ctx, s.Draft)
		}
		s.Draft.PhotoRef = &ref
		s.Step = s.Step.Next()
		return m.advance(ctx, owner, &s, true)

	case StepDelay:
		if in.Kind != InputText {
			return ErrTextOnly
		}
		minutes, err := ParseDelay(in.Text)
		if err != nil {
			return err
		}
		_, err = m.commit(ctx, owner, s, minutes)
		return err

	default:
		return ErrNoSession
	}

	s.Step = s.Step.Next()
	return m.advance(ctx, owner, &s, false)
}

// Back returns to the previous step keeping every staged field. On the first
// step it leaves the wizard like Cancel.
func (m *Machine) Back(ctx context.Context, owner domain.UserID) error {
	s, err := m.active(ctx, owner)
	if err != nil {
		return err
	}
	prev := s.Step.Prev()
	if prev == StepIdle {
		return m.leave(ctx, owner, s)
	}
	s.Step = prev
	return m.advance(ctx, owner, &s, false)
}

// Skip leaves the optional link or photo empty and moves on.
func (m *Machine) Skip(ctx context.Context, owner domain.UserID) error {
	s, err := m.active(ctx, owner)
	if err != nil {
		return err
	}
	switch s.Step {
	case StepLink:
		s.Draft.Link = nil
	case StepPhoto:
		m.releasePhoto(ctx, s.Draft)
		s.Draft.PhotoRef = nil
	default:
		return ErrCannotSkip
	}
	s.Step = s.Step.Next()
	return m.advance(ctx, owner, &s, false)
}

// Reset drops any session the user has, removing the tracked form message
// and a staged photo. It is used when the user restarts the conversation.
func (m *Machine) Reset(ctx context.Context, owner domain.UserID) error {
	s, err := m.Sessions.Get(ctx, owner)
	if errors.Is(err, ErrNoSession) {
		return nil
	}
	if err != nil {
		return err
	}
	m.releasePhoto(ctx, s.Draft)
	if !s.Form.IsZero() {
		if err := m.Sink.Delete(ctx, s.Form); err != nil {
			m.Log.Debug().Err(err).Int64("user_id", int64(owner)).Msg("delete form on reset")
		}
	}
	return m.Sessions.Delete(ctx, owner)
}

// Cancel discards the draft and turns the form into the home menu.
func (m *Machine) Cancel(ctx context.Context, owner domain.UserID) error {
	s, err := m.active(ctx, owner)
	if err != nil {
		return err
	}
	return m.leave(ctx, owner, s)
}

// ChooseDelay commits the draft with a delay picked from the menu.
func (m *Machine) ChooseDelay(ctx context.Context, owner domain.UserID, minutes int) (*domain.Purchase, error) {
	s, err := m.active(ctx, owner)
	if err != nil {
		return nil, err
	}
	if s.Step != StepDelay {
		return nil, ErrWrongStep
	}
	if minutes <= 0 || minutes > MaxDelayMinutes {
		return nil, ErrInvalidDelay
	}
	return m.commit(ctx, owner, s, minutes)
}

// Await records that the next typed number is a delay for target, shown in
// msg. An entry in progress is kept.
func (m *Machine) Await(ctx context.Context, owner domain.UserID, kind AwaitKind, target string, msg notify.Handle) error {
	s, err := m.Sessions.Get(ctx, owner)
	if err != nil && !errors.Is(err, ErrNoSession) {
		return err
	}
	s.Await, s.Target, s.TargetMsg = kind, target, msg
	return m.Sessions.Put(ctx, owner, s)
}

// ClearAwait drops a pending follow-up.
func (m *Machine) ClearAwait(ctx context.Context, owner domain.UserID) error {
	s, err := m.Sessions.Get(ctx, owner)
	if errors.Is(err, ErrNoSession) {
		return nil
	}
	if err != nil {
		return err
	}
	s.Await, s.Target, s.TargetMsg = AwaitNone, "", notify.Handle{}
	return m.store(ctx, owner, s)
}

func (m *Machine) active(ctx context.Context, owner domain.UserID) (Session, error) {
	s, err := m.Sessions.Get(ctx, owner)
	if err != nil {
		return Session{}, err
	}
	if !s.Active() {
		return Session{}, ErrNoSession
	}
	return s, nil
}

func (m *Machine) store(ctx context.Context, owner domain.UserID, s Session) error {
	if s.Empty() {
		return m.Sessions.Delete(ctx, owner)
	}
	return m.Sessions.Put(ctx, owner, s)
}

// advance shows the form for s.Step and saves the session. The session is
// saved even when the form could not be delivered.
func (m *Machine) advance(ctx context.Context, owner domain.UserID, s *Session, fresh bool) error {
	c := notify.Content{Text: formText(m.Render, *s), ImagePath: m.photoPath(s.Draft)}
	showErr := m.show(ctx, owner, s, c, formActions(*s), fresh)
	if err := m.store(ctx, owner, *s); err != nil {
		return err
	}
	if showErr != nil {
		return fmt.Errorf("render form: %w", showErr)
	}
	return nil
}

// show edits the tracked form message or replaces it with a new one.
func (m *Machine) show(ctx context.Context, owner domain.UserID, s *Session, c notify.Content, rows [][]notify.Action, fresh bool) error {
	h := s.Form
	if !fresh && !h.IsZero() && h.HasImage == c.HasImage() {
		err := m.Sink.Edit(ctx, h, c, rows)
		if err == nil {
			return nil
		}
		m.Log.Debug().Err(err).Int64("user_id", int64(owner)).Msg("edit form, sending a new one")
	}
	if !h.IsZero() {
		if err := m.Sink.Delete(ctx, h); err != nil {
			m.Log.Debug().Err(err).Int64("user_id", int64(owner)).Msg("delete old form")
		}
	}
	nh, err := m.Sink.Send(ctx, owner, c, rows)
	if err != nil {
		s.Form = notify.Handle{}
		return err
	}
	s.Form = nh
	return nil
}

// leave discards the draft and shows the home menu in place of the form.
func (m *Machine) leave(ctx context.Context, owner domain.UserID, s Session) error {
	m.releasePhoto(ctx, s.Draft)
	form := s.Form
	s.Step, s.Draft, s.Form = StepIdle, Draft{}, notify.Handle{}
	if err := m.store(ctx, owner, s); err != nil {
		return err
	}
	c, rows := m.Render.Menu()
	tmp := Session{Form: form}
	return m.show(ctx, owner, &tmp, c, rows, false)
}

func (m *Machine) commit(ctx context.Context, owner domain.UserID, s Session, minutes int) (*domain.Purchase, error) {
	ctx, span := tracer().Start(ctx, "Commit",
		trace.WithAttributes(
			attribute.Int64("user.id", int64(owner)),
			attribute.Int("delay.minutes", minutes),
		),
	)
	defer span.End()

	p, err := m.Purchases.Create(ctx, owner, services.NewPurchase{
		Name:     s.Draft.Name,
		Price:    s.Draft.Price,
		Store:    s.Draft.Store,
		Link:     s.Draft.Link,
		PhotoRef: s.Draft.PhotoRef,
		Delay:    time.Duration(minutes) * time.Minute,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create purchase")
		return nil, fmt.Errorf("commit purchase: %w", err)
	}
	span.SetAttributes(attribute.String("purchase.id", p.ID))
	commitsTotal.Inc()
	m.Log.Info().
		Int64("user_id", int64(owner)).
		Str("purchase_id", p.ID).
		Int("delay_minutes", minutes).
		Msg("purchase committed")

	form := s.Form
	s.Step, s.Draft, s.Form = StepIdle, Draft{}, notify.Handle{}
	if err := m.store(ctx, owner, s); err != nil {
		return p, err
	}

	_, menu := m.Render.Menu()
	c := notify.Content{Text: doneText(m.Render, p, minutes), ImagePath: m.photoPath(Draft{PhotoRef: p.PhotoRef})}
	tmp := Session{Form: form}
	if err := m.show(ctx, owner, &tmp, c, menu, false); err != nil {
		m.Log.Warn().Err(err).Str("purchase_id", p.ID).Msg("render commit confirmation")
	}
	return p, nil
}

func (m *Machine) savePhoto(ctx context.Context, owner domain.UserID, fileID string) (string, error) {
	rc, err := m.Files.Fetch(ctx, fileID)
	if err != nil {
		return "", fmt.Errorf("fetch photo: %w", err)
	}
	defer rc.Close()
	ref, err := m.Blobs.Save(owner, fileID, rc)
	if err != nil {
		return "", fmt.Errorf("save photo: %w", err)
	}
	return ref, nil
}

// photoPath resolves the staged photo; empty when absent or gone.
func (m *Machine) photoPath(d Draft) string {
	if d.PhotoRef == nil || m.Blobs == nil || !m.Blobs.Exists(*d.PhotoRef) {
		return ""
	}
	p, err := m.Blobs.Path(*d.PhotoRef)
	if err != nil {
		return ""
	}
	return p
}

func (m *Machine) releasePhoto(ctx context.Context, d Draft) {
	if d.PhotoRef == nil || m.Blobs == nil {
		return
	}
	if m.Refs != nil {
		inUse, err := m.Refs.PhotoInUse(ctx, *d.PhotoRef)
		if err != nil || inUse {
			m.Log.Debug().Err(err).Str("photo_ref", *d.PhotoRef).Msg("keep staged photo")
			return
		}
	}
	if err := m.Blobs.Remove(*d.PhotoRef); err != nil {
		m.Log.Debug().Err(err).Str("photo_ref", *d.PhotoRef).Msg("release staged photo")
	}
}
