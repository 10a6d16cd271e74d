// Package services – PurchaseService
//
// This file implements PurchaseService, the component that owns the
// lifecycle of purchase records. It creates records committed by the entry
// wizard, lists and aggregates them for the owner, and applies decisions
// (buy, cancel, move, extend) computed by Apply inside a transaction so the
// read and the write observe the same row.
//
// Every method is owner-scoped: a record owned by another user is reported
// as ErrPurchaseNotFound and never mutated.
//
// Observability: all public methods are OpenTelemetry-instrumented.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/Jeazzzy/UWantIt/internal/domain"
	"github.com/Jeazzzy/UWantIt/internal/repo"
)

// BlobRemover releases the stored photo of a deleted purchase.
type BlobRemover interface {
	Remove(ref string) error
}

// NewPurchase carries the fields staged by the entry wizard.
type NewPurchase struct {
	Name     string
	Price    float64
	Store    string
	Link     *string
	PhotoRef *string
	Delay    time.Duration
}

// PurchaseService coordinates purchase persistence and status transitions.
type PurchaseService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Blobs releases photos of deleted purchases. Optional.
	Blobs BlobRemover
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
	// Log receives blob-release failures.
	Log zerolog.Logger
}

// NewPurchaseService constructs a PurchaseService with the wall clock and the
// global logger.
func NewPurchaseService(db *gorm.DB, blobs BlobRemover) *PurchaseService {
	return &PurchaseService{
		DB:    db,
		Blobs: blobs,
		Now:   time.Now,
		Log:   log.With().Str("component", "purchases").Logger(),
	}
}

func (s *PurchaseService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func tracer() trace.Tracer { return otel.Tracer("services/PurchaseService") }

// Create registers the owner (idempotently) and inserts a pending,
// unacknowledged purchase due at now+in.Delay.
func (s *PurchaseService) Create(ctx context.Context, owner domain.UserID, in NewPurchase) (*domain.Purchase, error) {
	ctx, span := tracer().Start(ctx, "Create",
		trace.WithAttributes(attribute.Int64("user.id", int64(owner))),
	)
	defer span.End()

	if strings.TrimSpace(in.Name) == "" || in.Price <= 0 {
		return nil, ErrInvalidPurchase
	}
	if in.Delay <= 0 {
		return nil, ErrInvalidDelay
	}

	now := s.now().UTC()
	p := &domain.Purchase{
		UserID:    owner,
		Name:      in.Name,
		Price:     in.Price,
		Store:     in.Store,
		Link:      in.Link,
		PhotoRef:  in.PhotoRef,
		Status:    domain.StatusPending,
		DueAt:     now.Add(in.Delay),
		CreatedAt: now,
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreateUser(ctx, tx, owner); err != nil {
			return err
		}
		return repo.CreatePurchase(ctx, tx, p)
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("purchase.id", p.ID))
	return p, nil
}

// EnsureUser records a chat participant on first contact.
func (s *PurchaseService) EnsureUser(ctx context.Context, owner domain.UserID) error {
	return repo.CreateUser(ctx, s.DB, owner)
}

// Get returns an owned purchase.
func (s *PurchaseService) Get(ctx context.Context, owner domain.UserID, id string) (*domain.Purchase, error) {
	ctx, span := tracer().Start(ctx, "Get",
		trace.WithAttributes(
			attribute.Int64("user.id", int64(owner)),
			attribute.String("purchase.id", id),
		),
	)
	defer span.End()

	p, err := repo.GetPurchase(ctx, s.DB, id, owner)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return p, nil
}

// List returns up to limit owned purchases in status, newest first.
func (s *PurchaseService) List(ctx context.Context, owner domain.UserID, status domain.Status, limit int) ([]domain.Purchase, error) {
	ctx, span := tracer().Start(ctx, "List",
		trace.WithAttributes(
			attribute.Int64("user.id", int64(owner)),
			attribute.String("status", string(status)),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	if !status.Valid() {
		return nil, ErrInvalidAction
	}
	return repo.ListByStatus(ctx, s.DB, owner, status, limit, repo.NewestFirst)
}

// Stats returns the count and price sum of the owner's purchases for every
// status, in display order.
func (s *PurchaseService) Stats(ctx context.Context, owner domain.UserID) ([]domain.Aggregate, error) {
	ctx, span := tracer().Start(ctx, "Stats",
		trace.WithAttributes(attribute.Int64("user.id", int64(owner))),
	)
	defer span.End()

	out := make([]domain.Aggregate, 0, len(domain.Statuses))
	for _, st := range domain.Statuses {
		agg, err := repo.Aggregate(ctx, s.DB, owner, st)
		if err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	return out, nil
}

// Decide applies action a to an owned purchase and persists the outcome.
// The read and the write run in one transaction, so the outcome is computed
// from the row as it is stored.
func (s *PurchaseService) Decide(ctx context.Context, owner domain.UserID, id string, a Action) (*domain.Purchase, error) {
	ctx, span := tracer().Start(ctx, "Decide",
		trace.WithAttributes(
			attribute.Int64("user.id", int64(owner)),
			attribute.String("purchase.id", id),
			attribute.String("action", string(a.Kind)),
		),
	)
	defer span.End()

	var updated *domain.Purchase
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := repo.GetPurchase(ctx, tx, id, owner)
		if err != nil {
			return mapNotFound(err)
		}
		out, err := Apply(*p, a, s.now())
		if err != nil {
			return err
		}
		if out.Status != p.Status {
			if err := repo.UpdateStatus(ctx, tx, id, owner, out.Status); err != nil {
				return mapNotFound(err)
			}
		}
		if out.Rearmed {
			if err := repo.UpdateDue(ctx, tx, id, owner, out.DueAt); err != nil {
				return mapNotFound(err)
			}
		}
		p.Status, p.DueAt, p.Acknowledged = out.Status, out.DueAt, out.Acknowledged
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Extend rearms a pending purchase delay from now.
func (s *PurchaseService) Extend(ctx context.Context, owner domain.UserID, id string, delay time.Duration) (*domain.Purchase, error) {
	return s.Decide(ctx, owner, id, Extend(delay))
}

// Delete removes an owned purchase and releases its photo unless another
// purchase still references the same blob. A failed blob release is logged;
// the record is gone either way.
func (s *PurchaseService) Delete(ctx context.Context, owner domain.UserID, id string) (*domain.Purchase, error) {
	ctx, span := tracer().Start(ctx, "Delete",
		trace.WithAttributes(
			attribute.Int64("user.id", int64(owner)),
			attribute.String("purchase.id", id),
		),
	)
	defer span.End()

	var (
		deleted *domain.Purchase
		shared  bool
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := repo.GetPurchase(ctx, tx, id, owner)
		if err != nil {
			return mapNotFound(err)
		}
		if err := repo.DeletePurchase(ctx, tx, id, owner); err != nil {
			return mapNotFound(err)
		}
		if p.HasPhoto() {
			n, err := repo.CountPhotoRef(ctx, tx, *p.PhotoRef)
			if err != nil {
				return err
			}
			shared = n > 0
		}
		deleted = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	if deleted.HasPhoto() && !shared && s.Blobs != nil {
		if err := s.Blobs.Remove(*deleted.PhotoRef); err != nil {
			s.Log.Warn().Err(err).
				Str("purchase_id", id).
				Str("photo_ref", *deleted.PhotoRef).
				Msg("release photo")
		}
	}
	return deleted, nil
}

// PhotoInUse reports whether a stored purchase references the photo blob.
func (s *PurchaseService) PhotoInUse(ctx context.Context, ref string) (bool, error) {
	n, err := repo.CountPhotoRef(ctx, s.DB, ref)
	return n > 0, err
}

// mapNotFound translates repository not-found into ErrPurchaseNotFound.
func mapNotFound(err error) error {
	if errors.Is(err, repo.ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrPurchaseNotFound
	}
	return err
}
