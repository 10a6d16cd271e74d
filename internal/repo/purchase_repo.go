// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User and
// Purchase models.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only CRUD persistence and query composition.
//
// Error semantics:
//   - Owner-scoped lookups and mutations return ErrNotFound when the row is
//     missing or belongs to another user. The two cases are indistinguishable
//     to callers.
//   - On DB errors the raw gorm error is propagated.
//
// Functions:
//
//   - CreateUser(ctx, db, id) -> error
//     Inserts the user if absent (idempotent).
//
//   - CreatePurchase(ctx, db, p) -> error
//     Inserts a purchase, assigning a UUID and UTC timestamps.
//
//   - GetPurchase(ctx, db, id, owner) -> *domain.Purchase, error
//
//   - UpdateStatus / UpdateDue / DeletePurchase (owner-scoped)
//
//   - ListByStatus(ctx, db, owner, status, limit, order) -> []domain.Purchase, error
//
//   - ListDue(ctx, db, now) -> []domain.Purchase, error
//     Pending, unacknowledged records whose due time has elapsed.
//
//   - CountPhotoRef(ctx, db, ref) -> int64, error
//
//   - StillDue / MarkDelivered(ctx, db, id, dueAt) -> bool, error
//     Check and compare-and-set of the acknowledged flag for one due period.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Jeazzzy/UWantIt/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// Order selects the creation-time ordering of list queries.
type Order int

const (
	// NewestFirst orders by creation time descending.
	NewestFirst Order = iota
	// OldestFirst orders by creation time ascending.
	OldestFirst
)

func (o Order) clause() string {
	if o == OldestFirst {
		return "created_at ASC, id ASC"
	}
	return "created_at DESC, id DESC"
}

// CreateUser inserts a user row unless one with the same id exists.
func CreateUser(ctx context.Context, db *gorm.DB, id domain.UserID) error {
	u := &domain.User{ID: id, CreatedAt: time.Now().UTC()}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(u).Error
}

// CreatePurchase inserts p. ID and CreatedAt are assigned when empty; DueAt
// is normalized to UTC so string comparisons in SQLite stay ordered.
func CreatePurchase(ctx context.Context, db *gorm.DB, p *domain.Purchase) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = domain.StatusPending
	}
	p.DueAt = p.DueAt.UTC()
	return db.WithContext(ctx).Create(p).Error
}

// GetPurchase fetches a purchase by id and owner. A record owned by someone
// else yields ErrNotFound.
func GetPurchase(ctx context.Context, db *gorm.DB, id string, owner domain.UserID) (*domain.Purchase, error) {
	var p domain.Purchase
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, owner).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateStatus sets the status of an owned purchase.
func UpdateStatus(ctx context.Context, db *gorm.DB, id string, owner domain.UserID, status domain.Status) error {
	res := db.WithContext(ctx).
		Model(&domain.Purchase{}).
		Where("id = ? AND user_id = ?", id, owner).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateDue rearms an owned purchase: due_at is replaced and acknowledged is
// reset so the scheduler picks the record up again.
func UpdateDue(ctx context.Context, db *gorm.DB, id string, owner domain.UserID, dueAt time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Purchase{}).
		Where("id = ? AND user_id = ?", id, owner).
		Updates(map[string]any{
			"due_at":       dueAt.UTC(),
			"acknowledged": false,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePurchase removes an owned purchase row. Blob release is the
// caller's concern.
func DeletePurchase(ctx context.Context, db *gorm.DB, id string, owner domain.UserID) error {
	res := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, owner).
		Delete(&domain.Purchase{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByStatus returns up to limit purchases of owner in status. A limit
// <= 0 returns all rows.
func ListByStatus(ctx context.Context, db *gorm.DB, owner domain.UserID, status domain.Status, limit int, order Order) ([]domain.Purchase, error) {
	var out []domain.Purchase
	q := db.WithContext(ctx).
		Where("user_id = ? AND status = ?", owner, status).
		Order(order.clause())
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// ListDue returns every pending, unacknowledged purchase with due_at <= now,
// oldest due first, across all owners.
func ListDue(ctx context.Context, db *gorm.DB, now time.Time) ([]domain.Purchase, error) {
	var out []domain.Purchase
	err := db.WithContext(ctx).
		Where("status = ? AND acknowledged = ? AND due_at <= ?", domain.StatusPending, false, now.UTC()).
		Order("due_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// CountPhotoRef returns how many stored purchases reference the photo blob.
func CountPhotoRef(ctx context.Context, db *gorm.DB, ref string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Purchase{}).
		Where("photo_ref = ?", ref).
		Count(&n).Error
	return n, err
}

// StillDue reports whether the purchase is pending, unacknowledged and due
// at exactly dueAt. False means it was rearmed, decided, deleted or already
// delivered since it was selected.
func StillDue(ctx context.Context, db *gorm.DB, id string, dueAt time.Time) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Purchase{}).
		Where("id = ? AND status = ? AND acknowledged = ? AND due_at = ?", id, domain.StatusPending, false, dueAt.UTC()).
		Count(&n).Error
	return n == 1, err
}

// MarkDelivered sets acknowledged once the prompt for dueAt went out. It is a
// compare-and-set on (acknowledged, due_at): a rearm that already moved the
// due time is left untouched, and the result reports whether it applied.
func MarkDelivered(ctx context.Context, db *gorm.DB, id string, dueAt time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Purchase{}).
		Where("id = ? AND status = ? AND acknowledged = ? AND due_at = ?", id, domain.StatusPending, false, dueAt.UTC()).
		Update("acknowledged", true)
	return res.RowsAffected == 1, res.Error
}
