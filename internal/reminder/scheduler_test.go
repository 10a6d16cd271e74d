package reminder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Jeazzzy/UWantIt/internal/blob"
	"github.com/Jeazzzy/UWantIt/internal/domain"
	"github.com/Jeazzzy/UWantIt/internal/notify"
	"github.com/Jeazzzy/UWantIt/internal/notify/notifytest"
	"github.com/Jeazzzy/UWantIt/internal/render"
	"github.com/Jeazzzy/UWantIt/internal/repo"
	"github.com/Jeazzzy/UWantIt/internal/services"
	"github.com/Jeazzzy/UWantIt/internal/userlock"
)

// ----- helpers -----

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type env struct {
	db    *gorm.DB
	svc   *services.PurchaseService
	sink  *notifytest.Recorder
	blobs *blob.Store
	clock *clock
	s     *Scheduler
	t0    time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	dsn := filepath.Join(dir, fmt.Sprintf("rem_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	blobs, err := blob.New(filepath.Join(dir, "photos"))
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}

	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	c := &clock{t: t0}
	svc := services.NewPurchaseService(db, blobs)
	svc.Now = c.Now
	svc.Log = zerolog.Nop()
	sink := notifytest.New()
	return &env{
		db: db, svc: svc, sink: sink, blobs: blobs, clock: c, t0: t0,
		s: &Scheduler{
			DB: db, Sink: sink, Photos: blobs, Render: render.New("₽"),
			Interval: 10 * time.Second, Now: c.Now, Log: zerolog.Nop(),
			Locks: userlock.New(),
		},
	}
}

func (e *env) create(t *testing.T, owner domain.UserID, name string, delay time.Duration, photo *string) *domain.Purchase {
	t.Helper()
	p, err := e.svc.Create(context.Background(), owner, services.NewPurchase{
		Name: name, Price: 2500, Store: "IKEA", Delay: delay, PhotoRef: photo,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return p
}

func (e *env) scanAt(t *testing.T, at time.Time) Report {
	t.Helper()
	e.clock.Set(at)
	rep, err := e.s.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	return rep
}

func (e *env) stored(t *testing.T, owner domain.UserID, id string) *domain.Purchase {
	t.Helper()
	p, err := repo.GetPurchase(context.Background(), e.db, id, owner)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return p
}

// failingSink fails every send addressed to one user.
type failingSink struct {
	*notifytest.Recorder
	fail domain.UserID
}

func (f failingSink) Send(ctx context.Context, to domain.UserID, c notify.Content, rows [][]notify.Action) (notify.Handle, error) {
	if to == f.fail {
		return notify.Handle{}, notify.ErrDelivery
	}
	return f.Recorder.Send(ctx, to, c, rows)
}

// ----- tests -----

func TestScan_IdempotentAcknowledgment(t *testing.T) {
	e := newEnv(t)
	p := e.create(t, 1, "Desk Lamp", 5*time.Minute, nil)
	due := e.t0.Add(5 * time.Minute)

	if rep := e.scanAt(t, due.Add(-time.Second)); rep.Due != 0 || len(e.sink.Sent) != 0 {
		t.Fatalf("not yet due: %+v sent=%d", rep, len(e.sink.Sent))
	}

	rep := e.scanAt(t, due.Add(time.Second))
	if rep.Delivered != 1 || len(e.sink.Sent) != 1 {
		t.Fatalf("first scan: %+v sent=%d", rep, len(e.sink.Sent))
	}
	if !e.stored(t, 1, p.ID).Acknowledged {
		t.Fatalf("record must be acknowledged after delivery")
	}

	rep = e.scanAt(t, due.Add(11*time.Second))
	if rep.Due != 0 || len(e.sink.Sent) != 1 {
		t.Fatalf("second scan must not re-deliver: %+v sent=%d", rep, len(e.sink.Sent))
	}
}

func TestScan_PromptContent(t *testing.T) {
	e := newEnv(t)
	p := e.create(t, 7, "Desk Lamp", time.Minute, nil)
	e.scanAt(t, e.t0.Add(time.Minute))

	msg, ok := e.sink.Last()
	if !ok {
		t.Fatalf("nothing sent")
	}
	if msg.To != 7 || msg.Content.HasImage() {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if len(msg.Rows) != 2 || len(msg.Rows[0]) != 2 {
		t.Fatalf("want buy/cancel row and wait row, got %+v", msg.Rows)
	}
	if msg.Rows[0][0].Data != "buy:"+p.ID {
		t.Fatalf("buy payload = %q", msg.Rows[0][0].Data)
	}
}

func TestScan_DeliveryFailureRetriesNextScan(t *testing.T) {
	e := newEnv(t)
	p := e.create(t, 1, "Chair", time.Minute, nil)
	base := testutil.ToFloat64(deliveriesTotal.WithLabelValues("failed"))

	e.sink.SendErr = errors.New("network down")
	rep := e.scanAt(t, e.t0.Add(2*time.Minute))
	if rep.Failed != 1 || rep.Delivered != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if e.stored(t, 1, p.ID).Acknowledged {
		t.Fatalf("failed delivery must leave the record unacknowledged")
	}
	if got := testutil.ToFloat64(deliveriesTotal.WithLabelValues("failed")); got != base+1 {
		t.Fatalf("failed counter = %v; want %v", got, base+1)
	}

	e.sink.SendErr = nil
	rep = e.scanAt(t, e.t0.Add(2*time.Minute+10*time.Second))
	if rep.Delivered != 1 || !e.stored(t, 1, p.ID).Acknowledged {
		t.Fatalf("retry scan: %+v", rep)
	}
}

func TestScan_FailureIsIsolatedPerRecord(t *testing.T) {
	e := newEnv(t)
	e.s.Sink = failingSink{Recorder: e.sink, fail: 1}
	bad := e.create(t, 1, "Bad", time.Minute, nil)
	good := e.create(t, 2, "Good", time.Minute, nil)

	rep := e.scanAt(t, e.t0.Add(time.Minute))
	if rep.Due != 2 || rep.Failed != 1 || rep.Delivered != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if e.stored(t, 1, bad.ID).Acknowledged {
		t.Fatalf("failed record acknowledged")
	}
	if !e.stored(t, 2, good.ID).Acknowledged {
		t.Fatalf("good record not acknowledged")
	}
}

func TestScan_MissingPhotoFallsBackToText(t *testing.T) {
	e := newEnv(t)
	ref := "1_gone.jpg"
	e.create(t, 1, "Camera", time.Minute, &ref)

	rep := e.scanAt(t, e.t0.Add(time.Minute))
	if rep.Delivered != 1 {
		t.Fatalf("report = %+v", rep)
	}
	msg, _ := e.sink.Last()
	if msg.Content.HasImage() {
		t.Fatalf("missing blob must degrade to text, got image %q", msg.Content.ImagePath)
	}
}

func TestScan_PhotoSentWhenPresent(t *testing.T) {
	e := newEnv(t)
	ref := blob.RefFor(1, "AgAD")
	path, _ := e.blobs.Path(ref)
	if err := os.WriteFile(path, []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("write blob: %v", err)
	}
	e.create(t, 1, "Camera", time.Minute, &ref)

	e.scanAt(t, e.t0.Add(time.Minute))
	msg, _ := e.sink.Last()
	if msg.Content.ImagePath != path {
		t.Fatalf("image path = %q; want %q", msg.Content.ImagePath, path)
	}
}

func TestScan_PhotoRejectedFallsBackToText(t *testing.T) {
	e := newEnv(t)
	e.sink.FailImages = true
	ref := blob.RefFor(1, "AgAD")
	path, _ := e.blobs.Path(ref)
	if err := os.WriteFile(path, []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("write blob: %v", err)
	}
	e.create(t, 1, "Camera", time.Minute, &ref)

	rep := e.scanAt(t, e.t0.Add(time.Minute))
	if rep.Delivered != 1 {
		t.Fatalf("report = %+v", rep)
	}
	msg, _ := e.sink.Last()
	if msg.Content.HasImage() {
		t.Fatalf("expected text fallback")
	}
}

func TestScan_ExtendResetsDelivery(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.create(t, 1, "Bike", time.Minute, nil)
	e.scanAt(t, e.t0.Add(time.Minute))

	e.clock.Set(e.t0.Add(2 * time.Minute))
	if _, err := e.svc.Extend(ctx, 1, p.ID, 30*time.Minute); err != nil {
		t.Fatalf("extend: %v", err)
	}
	t2 := e.t0.Add(32 * time.Minute)

	if rep := e.scanAt(t, t2.Add(-time.Second)); rep.Due != 0 {
		t.Fatalf("delivered before new due time: %+v", rep)
	}
	if rep := e.scanAt(t, t2); rep.Delivered != 1 {
		t.Fatalf("expected exactly one delivery at T2: %+v", rep)
	}
	if rep := e.scanAt(t, t2.Add(10*time.Second)); rep.Due != 0 {
		t.Fatalf("re-delivered after T2: %+v", rep)
	}
	if len(e.sink.Sent) != 2 {
		t.Fatalf("total prompts = %d; want 2", len(e.sink.Sent))
	}
}

func TestScan_SkipsDecidedRecords(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.create(t, 1, "A", time.Minute, nil)
	b := e.create(t, 1, "B", time.Minute, nil)
	if _, err := e.svc.Decide(ctx, 1, a.ID, services.Buy()); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := e.svc.Decide(ctx, 1, b.ID, services.Cancel()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if rep := e.scanAt(t, e.t0.Add(time.Hour)); rep.Due != 0 || len(e.sink.Sent) != 0 {
		t.Fatalf("decided records must not be prompted: %+v", rep)
	}
}

func TestDeliver_SkipsRearmedRecord(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.create(t, 1, "Lamp", time.Minute, nil)
	e.clock.Set(e.t0.Add(time.Minute))

	selected, err := repo.ListDue(ctx, e.db, e.clock.Now())
	if err != nil || len(selected) != 1 {
		t.Fatalf("ListDue: %v %d", err, len(selected))
	}
	// rearmed between selection and delivery
	if _, err := e.svc.Extend(ctx, 1, p.ID, time.Hour); err != nil {
		t.Fatalf("extend: %v", err)
	}
	if res := e.s.deliver(ctx, &selected[0]); res != resultSuperseded {
		t.Fatalf("result = %s; want superseded", res)
	}
	if len(e.sink.Sent) != 0 {
		t.Fatalf("prompt sent for a superseded due time")
	}
}

// crashingSink stands in for a process that dies in the middle of Send.
type crashingSink struct {
	db          *gorm.DB
	ackedInSend bool
}

func (c *crashingSink) Send(ctx context.Context, to domain.UserID, _ notify.Content, _ [][]notify.Action) (notify.Handle, error) {
	var p domain.Purchase
	if err := c.db.WithContext(ctx).Where("user_id = ?", to).First(&p).Error; err == nil {
		c.ackedInSend = p.Acknowledged
	}
	panic("process killed")
}

func (c *crashingSink) Edit(context.Context, notify.Handle, notify.Content, [][]notify.Action) error {
	return nil
}

func (c *crashingSink) Delete(context.Context, notify.Handle) error { return nil }

func TestScan_CrashDuringSendIsRetriedAfterRestart(t *testing.T) {
	e := newEnv(t)
	p := e.create(t, 1, "Lamp", time.Minute, nil)

	crash := &crashingSink{db: e.db}
	e.s.Sink = crash
	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected the send to panic")
			}
		}()
		e.scanAt(t, e.t0.Add(time.Minute))
	}()
	if crash.ackedInSend {
		t.Fatalf("record acknowledged before the prompt went out")
	}
	if e.stored(t, 1, p.ID).Acknowledged {
		t.Fatalf("interrupted delivery must leave the record unacknowledged")
	}

	// new process over the same store
	restarted := &Scheduler{
		DB: e.db, Sink: e.sink, Photos: e.blobs, Render: render.New("₽"),
		Now: e.clock.Now, Log: zerolog.Nop(), Locks: userlock.New(),
	}
	e.clock.Set(e.t0.Add(time.Hour))
	rep, err := restarted.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	if rep.Due != 1 || rep.Delivered != 1 || len(e.sink.Sent) != 1 {
		t.Fatalf("after restart: %+v sent=%d", rep, len(e.sink.Sent))
	}
	if !e.stored(t, 1, p.ID).Acknowledged {
		t.Fatalf("record not acknowledged after redelivery")
	}
}

func TestDeliver_WaitsForUserLockAndSeesRearm(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.create(t, 1, "Lamp", time.Minute, nil)
	e.clock.Set(e.t0.Add(time.Minute))

	selected, err := repo.ListDue(ctx, e.db, e.clock.Now())
	if err != nil || len(selected) != 1 {
		t.Fatalf("ListDue: %v %d", err, len(selected))
	}

	// the bot is handling an Extend tap for the same user
	unlock := e.s.Locks.Lock(1)
	done := make(chan result, 1)
	go func() { done <- e.s.deliver(ctx, &selected[0]) }()

	time.Sleep(50 * time.Millisecond)
	if len(e.sink.Sent) != 0 {
		t.Fatalf("delivery ran while the user was locked")
	}
	if _, err := e.svc.Extend(ctx, 1, p.ID, time.Hour); err != nil {
		t.Fatalf("extend: %v", err)
	}
	unlock()

	select {
	case res := <-done:
		if res != resultSuperseded {
			t.Fatalf("result = %s; want superseded", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("deliver did not finish")
	}
	if len(e.sink.Sent) != 0 {
		t.Fatalf("prompt sent for the superseded due time")
	}
	got := e.stored(t, 1, p.ID)
	if got.Acknowledged || !got.DueAt.Equal(e.t0.Add(time.Minute+time.Hour)) {
		t.Fatalf("rearm state lost: %+v", got)
	}
}

func TestEndToEnd_WizardToBuy(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.create(t, 1, "Desk Lamp", 5*time.Minute, nil)
	stored := e.stored(t, 1, p.ID)
	if stored.Status != domain.StatusPending || stored.Acknowledged || !stored.DueAt.Equal(e.t0.Add(5*time.Minute)) {
		t.Fatalf("created = %+v", stored)
	}

	rep := e.scanAt(t, e.t0.Add(5*time.Minute+10*time.Second))
	if rep.Delivered != 1 || !e.stored(t, 1, p.ID).Acknowledged {
		t.Fatalf("scan: %+v", rep)
	}

	if _, err := e.svc.Decide(ctx, 1, p.ID, services.Buy()); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if got := e.stored(t, 1, p.ID).Status; got != domain.StatusBought {
		t.Fatalf("status = %s", got)
	}
}

func TestRun_ScansImmediatelyAndStops(t *testing.T) {
	e := newEnv(t)
	e.create(t, 1, "Lamp", time.Minute, nil)
	e.clock.Set(e.t0.Add(time.Hour))
	e.s.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.s.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for len(e.sink.Live()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("first scan did not run")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop")
	}
}
