package wizard

import (
	"context"
	"sync"
	"time"

	"github.com/Jeazzzy/UWantIt/internal/domain"
	"github.com/Jeazzzy/UWantIt/internal/notify"
)

// Step is the cursor of an entry in progress. The zero value is idle.
type Step string

const (
	StepIdle  Step = ""
	StepName  Step = "name"
	StepPrice Step = "price"
	StepStore Step = "store"
	StepLink  Step = "link"
	StepPhoto Step = "photo"
	StepDelay Step = "delay"
)

var order = []Step{StepName, StepPrice, StepStore, StepLink, StepPhoto, StepDelay}

// Index is the 1-based position of s in the entry flow, 0 for idle.
func (s Step) Index() int {
	for i, st := range order {
		if st == s {
			return i + 1
		}
	}
	return 0
}

// Prev is the step before s; StepIdle for the first step.
func (s Step) Prev() Step {
	if i := s.Index(); i > 1 {
		return order[i-2]
	}
	return StepIdle
}

// Next is the step after s; StepIdle after the last step.
func (s Step) Next() Step {
	if i := s.Index(); i > 0 && i < len(order) {
		return order[i]
	}
	return StepIdle
}

// Skippable reports whether s may be left empty.
func (s Step) Skippable() bool { return s == StepLink || s == StepPhoto }

// Draft holds the staged, uncommitted fields.
type Draft struct {
	Name     string  `json:"name,omitempty"`
	Price    float64 `json:"price,omitempty"`
	Store    string  `json:"store,omitempty"`
	Link     *string `json:"link,omitempty"`
	PhotoRef *string `json:"photo_ref,omitempty"`
}

// AwaitKind names a follow-up that expects typed minutes outside the entry
// flow.
type AwaitKind string

const (
	AwaitNone   AwaitKind = ""
	AwaitExtend AwaitKind = "extend" // wait on a decision prompt
	AwaitRearm  AwaitKind = "rearm"  // move back to pending
)

// Session is the per-user transient state. It is never persisted with the
// purchase records.
type Session struct {
	Step  Step          `json:"step,omitempty"`
	Draft Draft         `json:"draft"`
	Form  notify.Handle `json:"form"`

	Await     AwaitKind     `json:"await,omitempty"`
	Target    string        `json:"target,omitempty"`
	TargetMsg notify.Handle `json:"target_msg"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Active reports whether an entry is in progress.
func (s Session) Active() bool { return s.Step != StepIdle }

// Empty reports whether the session holds nothing worth keeping.
func (s Session) Empty() bool { return !s.Active() && s.Await == AwaitNone }

// Sessions stores sessions keyed by user. Get returns ErrNoSession when the
// user has none.
type Sessions interface {
	Get(ctx context.Context, owner domain.UserID) (Session, error)
	Put(ctx context.Context, owner domain.UserID, s Session) error
	Delete(ctx context.Context, owner domain.UserID) error
}

// MemorySessions keeps sessions in process memory. Sessions idle for longer
// than TTL are dropped; they are lost on restart.
type MemorySessions struct {
	mu  sync.Mutex
	m   map[domain.UserID]Session
	ttl time.Duration
	ops uint64
	Now func() time.Time
}

// NewMemorySessions returns an empty store. ttl <= 0 disables expiry.
func NewMemorySessions(ttl time.Duration) *MemorySessions {
	return &MemorySessions{m: map[domain.UserID]Session{}, ttl: ttl, Now: time.Now}
}

func (s *MemorySessions) expired(sess Session, now time.Time) bool {
	return s.ttl > 0 && now.Sub(sess.UpdatedAt) >= s.ttl
}

func (s *MemorySessions) Get(_ context.Context, owner domain.UserID) (Session, error) {
	now := s.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[owner]
	if !ok {
		return Session{}, ErrNoSession
	}
	if s.expired(sess, now) {
		delete(s.m, owner)
		return Session{}, ErrNoSession
	}
	return sess, nil
}

func (s *MemorySessions) Put(_ context.Context, owner domain.UserID, sess Session) error {
	now := s.Now()
	sess.UpdatedAt = now
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ops++
	if s.ops >= 1000 {
		for k, v := range s.m {
			if s.expired(v, now) {
				delete(s.m, k)
			}
		}
		s.ops = 0
	}
	s.m[owner] = sess
	return nil
}

func (s *MemorySessions) Delete(_ context.Context, owner domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, owner)
	return nil
}

// Len returns the number of stored sessions, expired ones included.
func (s *MemorySessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
