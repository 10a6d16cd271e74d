package bot

import (
	"github.com/Jeazzzy/UWantIt/internal/domain"
	"github.com/Jeazzzy/UWantIt/internal/notify"
)

// Kind classifies an incoming update.
type Kind string

const (
	KindText     Kind = "text"
	KindPhoto    Kind = "photo"
	KindOther    Kind = "other" // any other attachment
	KindCommand  Kind = "command"
	KindCallback Kind = "callback"
)

// Update is one event from the chat transport, reduced to what the bot
// needs.
type Update struct {
	Kind Kind
	From domain.UserID

	// Text is the message text or photo caption. For commands it is the
	// command name without the leading slash.
	Text string
	// FileID is the transport identifier of the largest photo size.
	FileID string

	// Message is the user's own message, or for callbacks the message that
	// carries the tapped button.
	Message notify.Handle

	CallbackID string
	Data       string
}
