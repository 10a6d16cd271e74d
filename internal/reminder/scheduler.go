// Package reminder runs the periodic scan that resurfaces due purchases.
//
// Every Interval the Scheduler selects pending, unacknowledged purchases whose
// due time has passed. For each one it takes the owner's lock, re-checks that
// the record is still due at the observed time, sends the decision prompt and
// only then marks it acknowledged with a compare-and-set on (acknowledged,
// due_at). A purchase rearmed since selection is skipped, so a prompt is never
// sent for a superseded due time. Delivery is at-least-once: a failed send, or
// a crash before the acknowledgement is written, leaves the record
// unacknowledged and the next scan retries it.
//
// Scheduling state lives entirely in the record store; nothing sleeps per
// record, so a restart loses nothing.
package reminder

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/Jeazzzy/UWantIt/internal/domain"
	"github.com/Jeazzzy/UWantIt/internal/notify"
	"github.com/Jeazzzy/UWantIt/internal/render"
	"github.com/Jeazzzy/UWantIt/internal/repo"
	"github.com/Jeazzzy/UWantIt/internal/userlock"
)

// DefaultInterval is the scan period when none is configured.
const DefaultInterval = 10 * time.Second

var (
	scansTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reminder_scans_total",
		Help: "Completed reminder scans.",
	})

	// result is one of delivered, failed, superseded.
	deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_deliveries_total",
			Help: "Decision prompts by delivery result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(scansTotal, deliveriesTotal)
}

// Photos resolves stored photo references.
type Photos interface {
	Exists(ref string) bool
	Path(ref string) (string, error)
}

// Report summarizes one scan.
type Report struct {
	Due        int
	Delivered  int
	Failed     int
	Superseded int
}

// Scheduler scans the record store and delivers decision prompts.
type Scheduler struct {
	DB       *gorm.DB
	Sink     notify.Sink
	Photos   Photos
	Render   *render.Renderer
	Interval time.Duration
	Now      func() time.Time
	Log      zerolog.Logger
	// Locks is shared with the bot. Nil disables per-user serialization.
	Locks    *userlock.Locks
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Run scans immediately and then every Interval until ctx is cancelled.
// Scan errors are logged and never stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	s.Log.Info().Dur("interval", interval).Msg("reminder scheduler started")

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := s.ScanOnce(ctx); err != nil && ctx.Err() == nil {
			s.Log.Error().Err(err).Msg("reminder scan")
		}
		select {
		case <-ctx.Done():
			s.Log.Info().Msg("reminder scheduler stopped")
			return nil
		case <-t.C:
		}
	}
}

// ScanOnce performs a single pass. The returned error only reports a failed
// selection; per-record failures are counted in the report.
func (s *Scheduler) ScanOnce(ctx context.Context) (Report, error) {
	ctx, span := otel.Tracer("reminder/Scheduler").Start(ctx, "Scan")
	defer span.End()

	var rep Report
	due, err := repo.ListDue(ctx, s.DB, s.now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list due")
		return rep, err
	}
	rep.Due = len(due)

	for i := range due {
		if ctx.Err() != nil {
			break
		}
		switch s.deliver(ctx, &due[i]) {
		case resultDelivered:
			rep.Delivered++
		case resultSuperseded:
			rep.Superseded++
		default:
			rep.Failed++
		}
	}

	scansTotal.Inc()
	span.SetAttributes(
		attribute.Int("reminder.due", rep.Due),
		attribute.Int("reminder.delivered", rep.Delivered),
		attribute.Int("reminder.failed", rep.Failed),
	)
	if rep.Due > 0 {
		s.Log.Debug().
			Int("due", rep.Due).
			Int("delivered", rep.Delivered).
			Int("failed", rep.Failed).
			Int("superseded", rep.Superseded).
			Msg("reminder scan")
	}
	return rep, nil
}

type result string

const (
	resultDelivered  result = "delivered"
	resultFailed     result = "failed"
	resultSuperseded result = "superseded"
)

// deliver sends the prompt for one purchase and acknowledges it.
func (s *Scheduler) deliver(ctx context.Context, p *domain.Purchase) (res result) {
	log := s.Log.With().
		Int64("user_id", int64(p.UserID)).
		Str("purchase_id", p.ID).
		Logger()
	defer func() { deliveriesTotal.WithLabelValues(string(res)).Inc() }()

	if s.Locks != nil {
		unlock := s.Locks.Lock(p.UserID)
		defer unlock()
	}

	due, err := repo.StillDue(ctx, s.DB, p.ID, p.DueAt)
	if err != nil {
		log.Error().Err(err).Msg("check due purchase")
		return resultFailed
	}
	if !due {
		return resultSuperseded
	}

	if err := s.send(ctx, p); err != nil {
		log.Warn().Err(err).Msg("deliver decision prompt")
		return resultFailed
	}

	marked, err := repo.MarkDelivered(context.WithoutCancel(ctx), s.DB, p.ID, p.DueAt)
	switch {
	case err != nil:
		// The prompt is out; the next scan sends it again.
		log.Error().Err(err).Msg("acknowledge purchase")
	case !marked:
		log.Warn().Msg("purchase changed during delivery")
	default:
		log.Info().Msg("decision prompt delivered")
	}
	return resultDelivered
}

// send delivers the prompt with the photo when its blob still exists. A
// photo that the transport rejects falls back to text.
func (s *Scheduler) send(ctx context.Context, p *domain.Purchase) error {
	actions := render.DecisionActions(p.ID)
	img := s.photoPath(p)
	if img != "" {
		_, err := s.Sink.Send(ctx, p.UserID, s.Render.DecisionPrompt(p, img), actions)
		if err == nil {
			return nil
		}
		s.Log.Debug().Err(err).Str("purchase_id", p.ID).Msg("photo prompt failed, sending text")
	}
	_, err := s.Sink.Send(ctx, p.UserID, s.Render.DecisionPrompt(p, ""), actions)
	return err
}

func (s *Scheduler) photoPath(p *domain.Purchase) string {
	if !p.HasPhoto() || s.Photos == nil || !s.Photos.Exists(*p.PhotoRef) {
		return ""
	}
	path, err := s.Photos.Path(*p.PhotoRef)
	if err != nil {
		return ""
	}
	return path
}
