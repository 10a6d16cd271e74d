package services

import (
	"time"

	"github.com/Jeazzzy/UWantIt/internal/domain"
)

// ActionKind names a user decision on a purchase.
type ActionKind string

const (
	ActionBuy    ActionKind = "buy"
	ActionCancel ActionKind = "cancel"
	ActionMove   ActionKind = "move"
	ActionExtend ActionKind = "extend"
)

// Action is a requested transition. Target is used by ActionMove; Delay by
// ActionExtend and by a move back to pending.
type Action struct {
	Kind   ActionKind
	Target domain.Status
	Delay  time.Duration
}

// Buy, Cancel, Extend and MoveTo build the corresponding actions.
func Buy() Action { return Action{Kind: ActionBuy} }
func Cancel() Action { return Action{Kind: ActionCancel} }
func Extend(delay time.Duration) Action { return Action{Kind: ActionExtend, Delay: delay} }
func MoveTo(target domain.Status, delay time.Duration) Action {
	return Action{Kind: ActionMove, Target: target, Delay: delay}
}

// Outcome is the state a purchase takes after an action.
type Outcome struct {
	Status       domain.Status
	DueAt        time.Time
	Acknowledged bool
	// Rearmed is set when DueAt was recomputed and the record re-enters the
	// scheduler's candidate set.
	Rearmed bool
}

// Apply computes the outcome of action a on p at time now. It has no side
// effects.
//
//   - buy:    status bought, due time and acknowledgement unchanged
//   - cancel: status cancelled, due time and acknowledgement unchanged
//   - move:   bought/cancelled as above; pending recomputes the due time
//     from a.Delay and clears the acknowledgement
//   - extend: due time now+a.Delay, acknowledgement cleared, status kept;
//     only pending purchases can be extended
func Apply(p domain.Purchase, a Action, now time.Time) (Outcome, error) {
	out := Outcome{Status: p.Status, DueAt: p.DueAt, Acknowledged: p.Acknowledged}

	switch a.Kind {
	case ActionBuy:
		out.Status = domain.StatusBought
	case ActionCancel:
		out.Status = domain.StatusCancelled
	case ActionMove:
		switch a.Target {
		case domain.StatusBought, domain.StatusCancelled:
			out.Status = a.Target
		case domain.StatusPending:
			if a.Delay <= 0 {
				return Outcome{}, ErrInvalidDelay
			}
			out.Status = domain.StatusPending
			out.DueAt = now.Add(a.Delay).UTC()
			out.Acknowledged = false
			out.Rearmed = true
		default:
			return Outcome{}, ErrInvalidAction
		}
	case ActionExtend:
		if a.Delay <= 0 {
			return Outcome{}, ErrInvalidDelay
		}
		if p.Status != domain.StatusPending {
			return Outcome{}, ErrNotPending
		}
		out.DueAt = now.Add(a.Delay).UTC()
		out.Acknowledged = false
		out.Rearmed = true
	default:
		return Outcome{}, ErrInvalidAction
	}
	return out, nil
}
