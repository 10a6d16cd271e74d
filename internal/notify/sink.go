// Package notify defines the contract between the bot core and the chat
// transport: a Sink that can send, edit and delete messages carrying an
// optional image and an ordered set of labeled actions.
package notify

import (
	"context"
	"errors"

	"github.com/Jeazzzy/UWantIt/internal/domain"
)

// ErrDelivery marks a transport failure. Adapters wrap their own errors with
// it so callers can tell delivery problems from programming errors.
var ErrDelivery = errors.New("delivery failed")

// Action is one labeled button. Data is the opaque callback payload returned
// to the bot when the button is pressed.
type Action struct {
	Label string
	Data  string
}

// Content is the body of a message. When ImagePath is set the text is sent
// as the image caption.
type Content struct {
	Text      string
	ImagePath string
}

// HasImage reports whether the content carries an image.
func (c Content) HasImage() bool { return c.ImagePath != "" }

// Handle identifies a delivered message so it can be edited or removed.
type Handle struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
	// HasImage is set for photo messages; only their caption can be edited.
	HasImage bool `json:"has_image"`
}

// IsZero reports whether the handle refers to no message.
func (h Handle) IsZero() bool { return h.MessageID == 0 }

// Sink delivers messages to a user. Actions are given as rows of buttons.
// Edit on an image message replaces only its caption and actions.
type Sink interface {
	Send(ctx context.Context, to domain.UserID, c Content, rows [][]Action) (Handle, error)
	Edit(ctx context.Context, h Handle, c Content, rows [][]Action) error
	Delete(ctx context.Context, h Handle) error
}

// Column lays out actions one per row.
func Column(actions ...Action) [][]Action {
	rows := make([][]Action, 0, len(actions))
	for _, a := range actions {
		rows = append(rows, []Action{a})
	}
	return rows
}
