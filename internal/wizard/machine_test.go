package wizard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jeazzzy/UWantIt/internal/domain"
	"github.com/Jeazzzy/UWantIt/internal/notify"
	"github.com/Jeazzzy/UWantIt/internal/notify/notifytest"
	"github.com/Jeazzzy/UWantIt/internal/render"
	"github.com/Jeazzzy/UWantIt/internal/services"
)

// ----- fakes -----

type fakeFiles struct{ err error }

func (f fakeFiles) Fetch(_ context.Context, fileID string) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader("jpeg:" + fileID)), nil
}

type memBlobs struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{files: map[string][]byte{}} }

func (b *memBlobs) Save(owner domain.UserID, fileID string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", err
	}
	ref := fmt.Sprintf("%d_%s.jpg", owner, fileID)
	b.mu.Lock()
	b.files[ref] = buf.Bytes()
	b.mu.Unlock()
	return ref, nil
}

func (b *memBlobs) Path(ref string) (string, error) { return "/blobs/" + ref, nil }

func (b *memBlobs) Exists(ref string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.files[ref]
	return ok
}

func (b *memBlobs) Remove(ref string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.files, ref)
	return nil
}

type fakeCreator struct {
	got   []services.NewPurchase
	owner domain.UserID
	err   error
}

func (c *fakeCreator) Create(_ context.Context, owner domain.UserID, in services.NewPurchase) (*domain.Purchase, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.got = append(c.got, in)
	c.owner = owner
	return &domain.Purchase{
		ID: "p-1", UserID: owner, Name: in.Name, Price: in.Price, Store: in.Store,
		Link: in.Link, PhotoRef: in.PhotoRef, Status: domain.StatusPending,
	}, nil
}

type harness struct {
	m       *Machine
	sink    *notifytest.Recorder
	blobs   *memBlobs
	creator *fakeCreator
	ctx     context.Context
}

const alice domain.UserID = 42

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		sink:    notifytest.New(),
		blobs:   newMemBlobs(),
		creator: &fakeCreator{},
		ctx:     context.Background(),
	}
	h.m = &Machine{
		Sessions:  NewMemorySessions(time.Hour),
		Sink:      h.sink,
		Files:     fakeFiles{},
		Blobs:     h.blobs,
		Purchases: h.creator,
		Render:    render.New("₽"),
		Log:       zerolog.Nop(),
	}
	require.NoError(t, h.m.Start(h.ctx, alice, notify.Handle{}))
	return h
}

func (h *harness) text(t *testing.T, s string) {
	t.Helper()
	require.NoError(t, h.m.Handle(h.ctx, alice, Input{Kind: InputText, Text: s}))
}

func (h *harness) session(t *testing.T) Session {
	t.Helper()
	s, err := h.m.Session(h.ctx, alice)
	require.NoError(t, err)
	return s
}

// ----- tests -----

func TestParsePrice(t *testing.T) {
	ok := map[string]float64{
		"1 000 000":   1000000,
		"1.500.000":   1500000,
		"1500":        1500,
		"1500,50":     1500.5,
		"1.500.50":    1500.5,
		"цена 2 500р": 2500,
		"0.99":        0.99,
	}
	for in, want := range ok {
		got, err := ParsePrice(in)
		require.NoError(t, err, in)
		assert.InDelta(t, want, got, 1e-9, in)
	}
	for _, in := range []string{"abc", "", "0", "0.0", "...", "-"} {
		_, err := ParsePrice(in)
		assert.ErrorIs(t, err, ErrInvalidPrice, in)
	}
}

func TestParseName(t *testing.T) {
	for _, in := range []string{"Sony WH-1000XM4", "Наушники (большие)", "Lamp, v2!", "  Desk Lamp  "} {
		_, err := ParseName(in)
		assert.NoError(t, err, in)
	}
	got, _ := ParseName("  Desk Lamp  ")
	assert.Equal(t, "Desk Lamp", got)
	for _, in := range []string{"<script>", "emoji 😀", "a&b", "   ", "tab\x00", "two\tparts", "two\nlines", "cr\rhere"} {
		_, err := ParseName(in)
		assert.ErrorIs(t, err, ErrInvalidName, in)
	}
}

func TestParseDelay(t *testing.T) {
	n, err := ParseDelay(" 30 ")
	require.NoError(t, err)
	assert.Equal(t, 30, n)
	for _, in := range []string{"0", "-5", "abc", "1.5", "99999999"} {
		_, err := ParseDelay(in)
		assert.ErrorIs(t, err, ErrInvalidDelay, in)
	}
}

func TestStep_Navigation(t *testing.T) {
	assert.Equal(t, StepIdle, StepName.Prev())
	assert.Equal(t, StepName, StepPrice.Prev())
	assert.Equal(t, StepPhoto, StepDelay.Prev())
	assert.Equal(t, StepIdle, StepDelay.Next())
	assert.Equal(t, 6, StepDelay.Index())
	assert.True(t, StepLink.Skippable())
	assert.False(t, StepStore.Skippable())
}

func TestStart_SendsForm(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	assert.Equal(t, StepName, s.Step)
	require.Len(t, h.sink.Sent, 1)
	assert.Contains(t, h.sink.Sent[0].Content.Text, "Шаг 1/6")
	assert.Equal(t, h.sink.Sent[0].Handle, s.Form)
}

func TestInvalidName_DoesNotAdvance(t *testing.T) {
	h := newHarness(t)
	err := h.m.Handle(h.ctx, alice, Input{Kind: InputText, Text: "<script>"})
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.True(t, IsValidation(err))
	assert.Equal(t, StepName, h.session(t).Step)
	assert.Empty(t, h.sink.Edits)
}

func TestInvalidPrice_KeepsStagedName(t *testing.T) {
	h := newHarness(t)
	h.text(t, "Headphones")
	err := h.m.Handle(h.ctx, alice, Input{Kind: InputText, Text: "abc"})
	assert.ErrorIs(t, err, ErrInvalidPrice)
	s := h.session(t)
	assert.Equal(t, StepPrice, s.Step)
	assert.Equal(t, "Headphones", s.Draft.Name)
}

func TestNonText_Rejected(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.m.Handle(h.ctx, alice, Input{Kind: InputPhoto, FileID: "f"}), ErrTextOnly)
	assert.ErrorIs(t, h.m.Handle(h.ctx, alice, Input{Kind: InputOther}), ErrTextOnly)
	assert.Equal(t, StepName, h.session(t).Step)
}

func TestBackNavigation_IsLossless(t *testing.T) {
	h := newHarness(t)
	h.text(t, "Headphones")
	h.text(t, "5000")
	require.Equal(t, StepStore, h.session(t).Step)

	require.NoError(t, h.m.Back(h.ctx, alice))
	s := h.session(t)
	assert.Equal(t, StepPrice, s.Step)
	assert.Equal(t, "Headphones", s.Draft.Name)
	assert.Equal(t, 5000.0, s.Draft.Price)

	h.text(t, "6000")
	s = h.session(t)
	assert.Equal(t, StepStore, s.Step)
	assert.Equal(t, "Headphones", s.Draft.Name)
	assert.Equal(t, 6000.0, s.Draft.Price)

	// the form is edited in place, never re-sent
	assert.Len(t, h.sink.Sent, 1)
}

func TestBack_OnFirstStepLeaves(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Back(h.ctx, alice))
	_, err := h.m.Session(h.ctx, alice)
	assert.ErrorIs(t, err, ErrNoSession)
	msg, ok := h.sink.Get(h.sink.Sent[0].Handle)
	require.True(t, ok)
	assert.Contains(t, msg.Content.Text, "Бот импульсивных покупок")
}

func TestSkip(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.m.Skip(h.ctx, alice), ErrCannotSkip)
	h.text(t, "Lamp")
	h.text(t, "2500")
	h.text(t, "IKEA")
	require.NoError(t, h.m.Skip(h.ctx, alice))
	assert.Equal(t, StepPhoto, h.session(t).Step)
	assert.ErrorIs(t, h.m.Handle(h.ctx, alice, Input{Kind: InputText, Text: "no photo"}), ErrPhotoOnly)
	assert.ErrorIs(t, h.m.Handle(h.ctx, alice, Input{Kind: InputOther}), ErrPhotoOnly)
	require.NoError(t, h.m.Skip(h.ctx, alice))
	s := h.session(t)
	assert.Equal(t, StepDelay, s.Step)
	assert.Nil(t, s.Draft.Link)
	assert.Nil(t, s.Draft.PhotoRef)
}

func TestCommit_EndToEndWithoutPhoto(t *testing.T) {
	h := newHarness(t)
	base := testutil.ToFloat64(commitsTotal)

	h.text(t, "Desk Lamp")
	h.text(t, "2500")
	h.text(t, "IKEA")
	require.NoError(t, h.m.Skip(h.ctx, alice))
	require.NoError(t, h.m.Skip(h.ctx, alice))

	_, err := h.m.ChooseDelay(h.ctx, alice, 0)
	assert.ErrorIs(t, err, ErrInvalidDelay)

	p, err := h.m.ChooseDelay(h.ctx, alice, 5)
	require.NoError(t, err)
	assert.Equal(t, "p-1", p.ID)

	require.Len(t, h.creator.got, 1)
	got := h.creator.got[0]
	assert.Equal(t, alice, h.creator.owner)
	assert.Equal(t, "Desk Lamp", got.Name)
	assert.Equal(t, 2500.0, got.Price)
	assert.Equal(t, "IKEA", got.Store)
	assert.Nil(t, got.Link)
	assert.Nil(t, got.PhotoRef)
	assert.Equal(t, 5*time.Minute, got.Delay)

	assert.Equal(t, base+1, testutil.ToFloat64(commitsTotal))
	_, err = h.m.Session(h.ctx, alice)
	assert.ErrorIs(t, err, ErrNoSession)

	msg, ok := h.sink.Get(h.sink.Sent[0].Handle)
	require.True(t, ok)
	assert.Contains(t, msg.Content.Text, "Покупка добавлена")
}

func TestCommit_TypedMinutes(t *testing.T) {
	h := newHarness(t)
	h.text(t, "Lamp")
	h.text(t, "10")
	h.text(t, "Shop")
	h.text(t, "https://example.com")
	require.NoError(t, h.m.Skip(h.ctx, alice))

	assert.ErrorIs(t, h.m.Handle(h.ctx, alice, Input{Kind: InputText, Text: "soon"}), ErrInvalidDelay)
	h.text(t, "45")
	require.Len(t, h.creator.got, 1)
	assert.Equal(t, 45*time.Minute, h.creator.got[0].Delay)
	require.NotNil(t, h.creator.got[0].Link)
	assert.Equal(t, "https://example.com", *h.creator.got[0].Link)
}

func TestCommit_FailureKeepsDraft(t *testing.T) {
	h := newHarness(t)
	h.text(t, "Lamp")
	h.text(t, "10")
	h.text(t, "Shop")
	require.NoError(t, h.m.Skip(h.ctx, alice))
	require.NoError(t, h.m.Skip(h.ctx, alice))

	h.creator.err = errors.New("disk full")
	_, err := h.m.ChooseDelay(h.ctx, alice, 5)
	require.Error(t, err)
	assert.False(t, IsValidation(err))

	s := h.session(t)
	assert.Equal(t, StepDelay, s.Step)
	assert.Equal(t, "Lamp", s.Draft.Name)
}

func TestChooseDelay_WrongStep(t *testing.T) {
	h := newHarness(t)
	_, err := h.m.ChooseDelay(h.ctx, alice, 5)
	assert.ErrorIs(t, err, ErrWrongStep)
}

func TestPhoto_ReplacesFormWithFreshMessage(t *testing.T) {
	h := newHarness(t)
	h.text(t, "Camera")
	h.text(t, "100")
	h.text(t, "Shop")
	require.NoError(t, h.m.Skip(h.ctx, alice))
	first := h.session(t).Form

	require.NoError(t, h.m.Handle(h.ctx, alice, Input{Kind: InputPhoto, FileID: "AgAD"}))
	s := h.session(t)
	assert.Equal(t, StepDelay, s.Step)
	require.NotNil(t, s.Draft.PhotoRef)
	assert.Equal(t, "42_AgAD.jpg", *s.Draft.PhotoRef)
	assert.True(t, h.blobs.Exists("42_AgAD.jpg"))

	assert.NotEqual(t, first, s.Form)
	assert.True(t, s.Form.HasImage)
	assert.Contains(t, h.sink.Deleted, first)

	last, _ := h.sink.Last()
	assert.Equal(t, "/blobs/42_AgAD.jpg", last.Content.ImagePath)
	assert.Contains(t, last.Content.Text, "Фото: загружено")
}

func TestPhoto_FetchFailureStays(t *testing.T) {
	h := newHarness(t)
	h.m.Files = fakeFiles{err: errors.New("timeout")}
	h.text(t, "Camera")
	h.text(t, "100")
	h.text(t, "Shop")
	require.NoError(t, h.m.Skip(h.ctx, alice))
	err := h.m.Handle(h.ctx, alice, Input{Kind: InputPhoto, FileID: "x"})
	require.Error(t, err)
	assert.Equal(t, StepPhoto, h.session(t).Step)
}

func TestCancel_ReleasesStagedPhoto(t *testing.T) {
	h := newHarness(t)
	h.text(t, "Camera")
	h.text(t, "100")
	h.text(t, "Shop")
	require.NoError(t, h.m.Skip(h.ctx, alice))
	require.NoError(t, h.m.Handle(h.ctx, alice, Input{Kind: InputPhoto, FileID: "AgAD"}))

	require.NoError(t, h.m.Cancel(h.ctx, alice))
	assert.False(t, h.blobs.Exists("42_AgAD.jpg"))
	_, err := h.m.Session(h.ctx, alice)
	assert.ErrorIs(t, err, ErrNoSession)
	assert.ErrorIs(t, h.m.Cancel(h.ctx, alice), ErrNoSession)
	assert.ErrorIs(t, h.m.Handle(h.ctx, alice, Input{Kind: InputText, Text: "x"}), ErrNoSession)
}

// sharedRefs marks refs as still used by a stored purchase.
type sharedRefs map[string]bool

func (r sharedRefs) PhotoInUse(_ context.Context, ref string) (bool, error) { return r[ref], nil }

func TestCancel_KeepsPhotoUsedByStoredPurchase(t *testing.T) {
	h := newHarness(t)
	h.m.Refs = sharedRefs{"42_AgAD.jpg": true}
	h.text(t, "Camera")
	h.text(t, "100")
	h.text(t, "Shop")
	require.NoError(t, h.m.Skip(h.ctx, alice))
	require.NoError(t, h.m.Handle(h.ctx, alice, Input{Kind: InputPhoto, FileID: "AgAD"}))

	require.NoError(t, h.m.Cancel(h.ctx, alice))
	assert.True(t, h.blobs.Exists("42_AgAD.jpg"), "blob of a stored purchase must survive")
}

func TestEditFailure_FallsBackToSend(t *testing.T) {
	h := newHarness(t)
	h.sink.EditErr = errors.New("message to edit not found")
	h.text(t, "Lamp")
	assert.Len(t, h.sink.Sent, 2)
	assert.Equal(t, h.sink.Sent[1].Handle, h.session(t).Form)
}

func TestAwait_KeepsDraft(t *testing.T) {
	h := newHarness(t)
	h.text(t, "Lamp")
	msg := notify.Handle{ChatID: 42, MessageID: 99}
	require.NoError(t, h.m.Await(h.ctx, alice, AwaitExtend, "p-9", msg))
	s := h.session(t)
	assert.Equal(t, AwaitExtend, s.Await)
	assert.Equal(t, "p-9", s.Target)
	assert.Equal(t, msg, s.TargetMsg)
	assert.Equal(t, "Lamp", s.Draft.Name)

	require.NoError(t, h.m.ClearAwait(h.ctx, alice))
	s = h.session(t)
	assert.Equal(t, AwaitNone, s.Await)
	assert.Equal(t, StepPrice, s.Step)
}

func TestAwait_WithoutEntryIsDroppedOnClear(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Cancel(h.ctx, alice))
	require.NoError(t, h.m.Await(h.ctx, alice, AwaitRearm, "p-1", notify.Handle{}))
	require.NoError(t, h.m.ClearAwait(h.ctx, alice))
	_, err := h.m.Session(h.ctx, alice)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestMemorySessions_Expiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemorySessions(time.Hour)
	s.Now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, 1, Session{Step: StepName}))
	_, err := s.Get(ctx, 1)
	require.NoError(t, err)

	now = now.Add(time.Hour)
	_, err = s.Get(ctx, 1)
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Equal(t, 0, s.Len())
}

func TestWarning_CoversValidationErrors(t *testing.T) {
	for _, err := range []error{ErrInvalidName, ErrInvalidPrice, ErrInvalidDelay, ErrEmptyStore, ErrTextOnly, ErrPhotoOnly, ErrCannotSkip} {
		assert.NotEqual(t, Warning(errors.New("other")), Warning(err), err.Error())
		assert.True(t, IsValidation(fmt.Errorf("wrapped: %w", err)))
	}
	assert.False(t, IsValidation(ErrNoSession))
}
