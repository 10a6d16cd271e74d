// Package notifytest provides an in-memory notify.Sink for tests.
package notifytest

import (
	"context"
	"sync"

	"github.com/Jeazzzy/UWantIt/internal/domain"
	"github.com/Jeazzzy/UWantIt/internal/notify"
)

// Message is a message currently visible in the recorder.
type Message struct {
	To      domain.UserID
	Handle  notify.Handle
	Content notify.Content
	Rows    [][]notify.Action
}

// Recorder records every call and keeps the current state of each message.
// Set SendErr or EditErr to make the corresponding calls fail.
type Recorder struct {
	mu      sync.Mutex
	next    int
	Sent    []Message
	Edits   []Message
	Deleted []notify.Handle
	live    map[int]*Message

	SendErr error
	EditErr error
	// FailImages makes Send fail only for image content.
	FailImages bool
}

// New returns an empty recorder.
func New() *Recorder { return &Recorder{live: map[int]*Message{}} }

func (r *Recorder) Send(_ context.Context, to domain.UserID, c notify.Content, rows [][]notify.Action) (notify.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SendErr != nil {
		return notify.Handle{}, r.SendErr
	}
	if r.FailImages && c.HasImage() {
		return notify.Handle{}, notify.ErrDelivery
	}
	r.next++
	h := notify.Handle{ChatID: int64(to), MessageID: r.next, HasImage: c.HasImage()}
	m := Message{To: to, Handle: h, Content: c, Rows: rows}
	r.Sent = append(r.Sent, m)
	r.live[h.MessageID] = &m
	return h, nil
}

func (r *Recorder) Edit(_ context.Context, h notify.Handle, c notify.Content, rows [][]notify.Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.EditErr != nil {
		return r.EditErr
	}
	m, ok := r.live[h.MessageID]
	if !ok {
		return notify.ErrDelivery
	}
	m.Content.Text = c.Text
	m.Rows = rows
	r.Edits = append(r.Edits, Message{To: m.To, Handle: h, Content: c, Rows: rows})
	return nil
}

func (r *Recorder) Delete(_ context.Context, h notify.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, h.MessageID)
	r.Deleted = append(r.Deleted, h)
	return nil
}

// Live returns the messages not yet deleted, in send order.
func (r *Recorder) Live() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, 0, len(r.live))
	for i := 1; i <= r.next; i++ {
		if m, ok := r.live[i]; ok {
			out = append(out, *m)
		}
	}
	return out
}

// Last returns the most recently sent message.
func (r *Recorder) Last() (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Sent) == 0 {
		return Message{}, false
	}
	return r.Sent[len(r.Sent)-1], true
}

// Get returns the current state of a live message.
func (r *Recorder) Get(h notify.Handle) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.live[h.MessageID]
	if !ok {
		return Message{}, false
	}
	return *m, true
}
