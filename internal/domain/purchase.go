// Package domain defines the persistence models for users and purchase
// records. These types are mapped with GORM and form the core data layer
// of the impulse-control bot.
package domain

import (
	"strings"
	"time"
)

// UserID identifies a chat participant. For Telegram private chats the user
// id and the chat id are the same number.
type UserID int64

// Status is the lifecycle state of a purchase record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusBought    Status = "bought"
	StatusCancelled Status = "cancelled"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusPending, StatusBought, StatusCancelled}

// ParseStatus maps a status name to a Status. The legacy names "buy",
// "wait" and "reject" are accepted as aliases.
func ParseStatus(s string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "wait":
		return StatusPending, true
	case "bought", "buy":
		return StatusBought, true
	case "cancelled", "canceled", "reject":
		return StatusCancelled, true
	}
	return "", false
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusBought, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the scheduler ignores records in this status.
func (s Status) Terminal() bool { return s == StatusBought || s == StatusCancelled }

// User is a chat participant. Rows are created on first contact and never
// mutated or deleted.
type User struct {
	ID        UserID    `json:"id"         gorm:"primaryKey;autoIncrement:false"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Purchase is a prospective purchase logged by its owner.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - UserID: owner; every query and mutation is scoped by it.
//   - Name, Price, Store: collected by the entry wizard.
//   - Link: optional URL or free-form note.
//   - PhotoRef: optional blob reference of the attached image.
//   - Status: pending, bought or cancelled.
//   - DueAt: when the decision prompt becomes due.
//   - Acknowledged: the prompt for the current DueAt was delivered.
type Purchase struct {
	ID           string    `json:"id"           gorm:"type:char(36);primaryKey"`
	UserID       UserID    `json:"user_id"      gorm:"not null;index:idx_user_status,priority:1"`
	Name         string    `json:"name"         gorm:"type:varchar(255);not null"`
	Price        float64   `json:"price"        gorm:"not null;check:price > 0"`
	Store        string    `json:"store"        gorm:"type:varchar(255)"`
	Link         *string   `json:"link,omitempty" gorm:"type:text"`
	PhotoRef     *string   `json:"photo_ref,omitempty" gorm:"type:varchar(255)"`
	Status       Status    `json:"status"       gorm:"type:varchar(16);not null;default:'pending';index:idx_user_status,priority:2;check:status IN ('pending','bought','cancelled')"`
	DueAt        time.Time `json:"due_at"       gorm:"not null;index:idx_due,priority:1"`
	Acknowledged bool      `json:"acknowledged" gorm:"not null;default:false;index:idx_due,priority:2"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// User is the owner row. Purchases are removed together with their owner.
	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Purchase.
func (Purchase) TableName() string { return "purchases" }

// HasPhoto reports whether a blob reference is attached.
func (p *Purchase) HasPhoto() bool { return p.PhotoRef != nil && *p.PhotoRef != "" }

// LinkText returns the link/description or "".
func (p *Purchase) LinkText() string {
	if p.Link == nil {
		return ""
	}
	return *p.Link
}

// Aggregate is a count and price sum over one owner's records of a status.
type Aggregate struct {
	Status Status  `json:"status"`
	Count  int64   `json:"count"`
	Sum    float64 `json:"sum"`
}
