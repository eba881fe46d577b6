package watch

import (
	"context"
	"sync"
)

// ToggleState is the lifecycle of the most recent click.
type ToggleState int

const (
	// ToggleIdle means no click has been made since the last hydrate.
	ToggleIdle ToggleState = iota
	// ToggleApplying means the optimistic state is shown while the remote write is in flight.
	ToggleApplying
	// ToggleCommitted means the remote write succeeded and the committed count is shown.
	ToggleCommitted
	// ToggleRolledBack means the remote write failed and the previous state was restored.
	ToggleRolledBack
)

func (s ToggleState) String() string {
	switch s {
	case ToggleApplying:
		return "applying"
	case ToggleCommitted:
		return "committed"
	case ToggleRolledBack:
		return "rolled-back"
	default:
		return "idle"
	}
}

// MembershipResult is the committed state returned by the API.
type MembershipResult struct {
	Present bool  `json:"present"`
	Count   int64 `json:"count"`
}

// ApplyFunc writes the desired membership remotely and returns the committed state.
type ApplyFunc func(ctx context.Context, present bool) (MembershipResult, error)

// ToggleView is what a like or subscribe button displays.
type ToggleView struct {
	Present bool
	Count   int64
	State   ToggleState
}

// MembershipToggle drives a like or subscribe button: guard, optimistic flip,
// remote apply, then commit or roll back.
type MembershipToggle struct {
	session *Session
	apply   ApplyFunc

	mu       sync.Mutex
	view     ToggleView
	onChange func(ToggleView)
}

// NewMembershipToggle builds a toggle bound to session. onChange may be nil.
func NewMembershipToggle(session *Session, apply ApplyFunc, onChange func(ToggleView)) *MembershipToggle {
	return &MembershipToggle{session: session, apply: apply, onChange: onChange}
}

// View returns what the button currently shows.
func (t *MembershipToggle) View() ToggleView {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.view
}

// Hydrate sets the viewer's presence after sign-in or sign-out.
func (t *MembershipToggle) Hydrate(present bool) {
	t.update(func(view *ToggleView) {
		view.Present = present
		view.State = ToggleIdle
	})
}

// SetCount shows an authoritative count pushed by a live subscription.
func (t *MembershipToggle) SetCount(count int64) {
	t.update(func(view *ToggleView) {
		view.Count = count
	})
}

// Click flips the membership. Anonymous viewers get ErrLoginRequired without
// any remote call. On failure the previous presence and count are restored.
func (t *MembershipToggle) Click(ctx context.Context) (ToggleView, error) {
	if !t.session.State().IsLoggedIn {
		return t.View(), ErrLoginRequired
	}

	var previous ToggleView
	var desired bool
	t.update(func(view *ToggleView) {
		previous = *view
		desired = !view.Present
		view.Present = desired
		if desired {
			view.Count++
		} else if view.Count > 0 {
			view.Count--
		}
		view.State = ToggleApplying
	})

	result, err := t.apply(ctx, desired)
	if err != nil {
		t.update(func(view *ToggleView) {
			view.Present = previous.Present
			view.Count = previous.Count
			view.State = ToggleRolledBack
		})
		return t.View(), err
	}
	t.update(func(view *ToggleView) {
		view.Present = result.Present
		view.Count = result.Count
		view.State = ToggleCommitted
	})
	return t.View(), nil
}

func (t *MembershipToggle) update(mutate func(*ToggleView)) {
	t.mu.Lock()
	mutate(&t.view)
	view := t.view
	onChange := t.onChange
	t.mu.Unlock()
	if onChange != nil {
		onChange(view)
	}
}
