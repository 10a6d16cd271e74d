// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the aggregate query behind the stats
// screen and the ops API.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/Jeazzzy/UWantIt/internal/domain"
)

// Aggregate returns the number of owner's purchases in status and the sum
// of their prices. An owner without rows yields a zero Aggregate.
func Aggregate(ctx context.Context, db *gorm.DB, owner domain.UserID, status domain.Status) (domain.Aggregate, error) {
	var row struct {
		Count int64
		Sum   float64
	}
	err := db.WithContext(ctx).
		Model(&domain.Purchase{}).
		Select("COUNT(*) AS count, COALESCE(SUM(price), 0) AS sum").
		Where("user_id = ? AND status = ?", owner, status).
		Scan(&row).Error
	if err != nil {
		return domain.Aggregate{}, err
	}
	return domain.Aggregate{Status: status, Count: row.Count, Sum: row.Sum}, nil
}
