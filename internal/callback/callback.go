// Package callback encodes and decodes the compact payloads attached to
// inline buttons. A payload is "verb[:arg...]" and never exceeds MaxLen
// bytes, which is the transport limit.
package callback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Jeazzzy/UWantIt/internal/domain"
)

// MaxLen is the largest payload accepted by the transport.
const MaxLen = 64

// Verb is the first segment of a payload.
type Verb string

const (
	// menu
	Home  Verb = "home"
	Add   Verb = "add"
	Stats Verb = "stats"
	List  Verb = "list" // list:<status>

	// wizard
	Back  Verb = "back"
	Skip  Verb = "skip"
	Delay Verb = "delay" // delay:<minutes>

	// decision prompt
	Buy    Verb = "buy"    // buy:<id>
	Cancel Verb = "cancel" // cancel:<id>
	Wait   Verb = "wait"   // wait:<id>
	Prompt Verb = "prompt" // prompt:<id>, back to the decision actions
	Extend Verb = "ext"    // ext:<id>:<minutes>

	// card
	Open   Verb = "open"  // open:<id>
	Del    Verb = "del"   // del:<id>
	DelOK  Verb = "delok" // delok:<id>
	Move   Verb = "move"  // move:<id>
	MoveTo Verb = "mvto"  // mvto:<status>:<id>
	Rearm  Verb = "rearm" // rearm:<id>:<minutes>
)

var (
	ErrMalformed = errors.New("malformed callback data")
	ErrTooLong   = errors.New("callback data too long")
)

// Data is a decoded payload. Only the fields used by Verb are set.
type Data struct {
	Verb    Verb
	ID      string
	Status  domain.Status
	Minutes int
}

type shape int

const (
	shapeBare shape = iota
	shapeID
	shapeIDMinutes
	shapeStatus
	shapeStatusID
	shapeMinutes
)

func shapeOf(v Verb) (shape, bool) {
	switch v {
	case Home, Add, Stats, Back, Skip:
		return shapeBare, true
	case Buy, Cancel, Wait, Prompt, Open, Del, DelOK, Move:
		return shapeID, true
	case Extend, Rearm:
		return shapeIDMinutes, true
	case List:
		return shapeStatus, true
	case MoveTo:
		return shapeStatusID, true
	case Delay:
		return shapeMinutes, true
	}
	return 0, false
}

func (sh shape) arity() int {
	switch sh {
	case shapeBare:
		return 0
	case shapeIDMinutes, shapeStatusID:
		return 2
	default:
		return 1
	}
}

// Encode renders d as a payload.
func Encode(d Data) (string, error) {
	sh, ok := shapeOf(d.Verb)
	if !ok {
		return "", fmt.Errorf("%w: unknown verb %q", ErrMalformed, d.Verb)
	}
	if strings.Contains(d.ID, ":") {
		return "", fmt.Errorf("%w: id contains separator", ErrMalformed)
	}
	var s string
	switch sh {
	case shapeBare:
		s = string(d.Verb)
	case shapeID:
		s = join(d.Verb, d.ID)
	case shapeIDMinutes:
		s = join(d.Verb, d.ID, strconv.Itoa(d.Minutes))
	case shapeStatus:
		s = join(d.Verb, string(d.Status))
	case shapeStatusID:
		s = join(d.Verb, string(d.Status), d.ID)
	case shapeMinutes:
		s = join(d.Verb, strconv.Itoa(d.Minutes))
	}
	if len(s) > MaxLen {
		return "", ErrTooLong
	}
	return s, nil
}

// MustEncode is Encode for payloads built from trusted values.
func MustEncode(d Data) string {
	s, err := Encode(d)
	if err != nil {
		panic(err)
	}
	return s
}

// Decode parses a payload produced by Encode.
func Decode(s string) (Data, error) {
	if len(s) > MaxLen {
		return Data{}, ErrTooLong
	}
	parts := strings.Split(s, ":")
	v := Verb(parts[0])
	sh, ok := shapeOf(v)
	if !ok {
		return Data{}, fmt.Errorf("%w: unknown verb %q", ErrMalformed, parts[0])
	}
	args := parts[1:]
	want := sh.arity()
	if len(args) != want {
		return Data{}, fmt.Errorf("%w: %q wants %d args", ErrMalformed, v, want)
	}

	d := Data{Verb: v}
	var err error
	switch sh {
	case shapeID:
		d.ID, err = id(args[0])
	case shapeIDMinutes:
		if d.ID, err = id(args[0]); err == nil {
			d.Minutes, err = minutes(args[1])
		}
	case shapeStatus:
		d.Status, err = status(args[0])
	case shapeStatusID:
		if d.Status, err = status(args[0]); err == nil {
			d.ID, err = id(args[1])
		}
	case shapeMinutes:
		d.Minutes, err = minutes(args[0])
	}
	if err != nil {
		return Data{}, err
	}
	return d, nil
}

func join(v Verb, args ...string) string {
	return string(v) + ":" + strings.Join(args, ":")
}

func id(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("%w: empty id", ErrMalformed)
	}
	return s, nil
}

func minutes(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: bad minutes %q", ErrMalformed, s)
	}
	return n, nil
}

func status(s string) (domain.Status, error) {
	st := domain.Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: bad status %q", ErrMalformed, s)
	}
	return st, nil
}
