// Package notify manages the single transient notification shown on the dashboard.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind selects the notification color.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindWarning Kind = "warning"
	KindInfo    Kind = "info"
)

// ParseKind maps unknown kinds to KindInfo.
func ParseKind(s string) Kind {
	switch k := Kind(s); k {
	case KindSuccess, KindError, KindWarning, KindInfo:
		return k
	default:
		return KindInfo
	}
}

// Color returns the background color used for the kind.
func (k Kind) Color() string {
	switch k {
	case KindSuccess:
		return "#27ae60"
	case KindError:
		return "#e74c3c"
	case KindWarning:
		return "#f39c12"
	default:
		return "#3498db"
	}
}

// Phase is the animation state of a notification.
type Phase string

const (
	PhaseEntering Phase = "entering"
	PhaseVisible  Phase = "visible"
	PhaseLeaving  Phase = "leaving"
)

// Notification is one transient message.
type Notification struct {
	ID      string
	Message string
	Kind    Kind
	Phase   Phase
}

const (
	defaultEnterDelay = 100 * time.Millisecond
	defaultExitDelay  = 300 * time.Millisecond
)

// Notifier holds at most one notification at a time. Showing a new one replaces
// the current one; each notification dismisses itself after a fixed delay.
type Notifier struct {
	dismissAfter time.Duration
	enterDelay   time.Duration
	exitDelay    time.Duration
	onChange     func()

	mu      sync.Mutex
	current *Notification
	timers  []*time.Timer
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithAnimation overrides the entry and exit animation durations.
func WithAnimation(enter, exit time.Duration) Option {
	return func(n *Notifier) {
		n.enterDelay = enter
		n.exitDelay = exit
	}
}

// New returns a Notifier. onChange, if set, is called after every state change
// and never while the notifier's lock is held.
func New(dismissAfter time.Duration, onChange func(), opts ...Option) *Notifier {
	n := &Notifier{
		dismissAfter: dismissAfter,
		enterDelay:   defaultEnterDelay,
		exitDelay:    defaultExitDelay,
		onChange:     onChange,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Show replaces any visible notification with a new one.
func (n *Notifier) Show(message string, kind Kind) Notification {
	note := Notification{
		ID:      uuid.NewString(),
		Message: message,
		Kind:    ParseKind(string(kind)),
		Phase:   PhaseEntering,
	}

	n.mu.Lock()
	n.stopTimersLocked()
	// The timers mutate the stored copy; note is returned to the caller untouched.
	cur := note
	n.current = &cur
	id := note.ID
	n.timers = append(n.timers,
		time.AfterFunc(n.enterDelay, func() { n.advance(id, PhaseVisible) }),
		time.AfterFunc(n.dismissAfter, func() { n.advance(id, PhaseLeaving) }),
		time.AfterFunc(n.dismissAfter+n.exitDelay, func() { n.remove(id) }),
	)
	n.mu.Unlock()

	n.changed()
	return note
}

// Current returns the notification on screen, if any.
func (n *Notifier) Current() (Notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current == nil {
		return Notification{}, false
	}
	return *n.current, true
}

// Dismiss removes the current notification immediately.
func (n *Notifier) Dismiss() {
	n.mu.Lock()
	had := n.current != nil
	n.stopTimersLocked()
	n.current = nil
	n.mu.Unlock()
	if had {
		n.changed()
	}
}

func (n *Notifier) advance(id string, phase Phase) {
	n.mu.Lock()
	if n.current == nil || n.current.ID != id {
		n.mu.Unlock()
		return
	}
	// The enter timer can fire after the dismiss timer on very short delays.
	if phase == PhaseVisible && n.current.Phase == PhaseLeaving {
		n.mu.Unlock()
		return
	}
	n.current.Phase = phase
	n.mu.Unlock()
	n.changed()
}

func (n *Notifier) remove(id string) {
	n.mu.Lock()
	if n.current == nil || n.current.ID != id {
		n.mu.Unlock()
		return
	}
	n.current = nil
	n.timers = nil
	n.mu.Unlock()
	n.changed()
}

func (n *Notifier) stopTimersLocked() {
	for _, t := range n.timers {
		t.Stop()
	}
	n.timers = nil
}

func (n *Notifier) changed() {
	if n.onChange != nil {
		n.onChange()
	}
}
