// Package hotkey provides a global hotkey listener using gohook.
// Each configured key combo triggers one strap action per press.
package hotkey

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	hook "github.com/robotn/gohook"
)

// Action is the strap operation a hotkey triggers.
type Action int

const (
	// ActionToggleRealtime turns the realtime heart-rate stream on or off.
	ActionToggleRealtime Action = iota
	// ActionDownloadHistory starts a history download.
	ActionDownloadHistory
	// ActionSyncClock sets the strap clock to the host time.
	ActionSyncClock
)

func (a Action) String() string {
	switch a {
	case ActionToggleRealtime:
		return "toggle_realtime"
	case ActionDownloadHistory:
		return "download_history"
	case ActionSyncClock:
		return "sync_clock"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Binding maps a key combo to an action.
// Keys should be lowercase key names (e.g., ["ctrl", "shift", "h"]).
type Binding struct {
	Action Action
	Keys   []string
}

// Event is emitted on the channel returned by Events.
type Event struct {
	Action Action
}

// DefaultRepeatWindow is how long a combo is ignored after it fires, so
// key auto-repeat does not trigger the same action twice.
const DefaultRepeatWindow = 400 * time.Millisecond

// Listener manages global hotkeys and emits one event per press.
type Listener struct {
	bindings []Binding
	ch       chan Event
	done     chan struct{}
	once     sync.Once

	window time.Duration
	now    func() time.Time
	mu     sync.Mutex
	last   map[Action]time.Time
}

// NewListener creates a Listener for the given bindings. It returns an
// error if a binding has no keys or two bindings share a combo.
func NewListener(bindings []Binding) (*Listener, error) {
	seen := make(map[string]Action, len(bindings))
	for _, b := range bindings {
		if len(b.Keys) == 0 {
			return nil, fmt.Errorf("hotkey: %s has no keys", b.Action)
		}
		combo := comboKey(b.Keys)
		if other, ok := seen[combo]; ok {
			return nil, fmt.Errorf("hotkey: %s and %s share combo %s", other, b.Action, combo)
		}
		seen[combo] = b.Action
	}
	return &Listener{
		bindings: bindings,
		ch:       make(chan Event, 16),
		done:     make(chan struct{}),
		window:   DefaultRepeatWindow,
		now:      time.Now,
		last:     make(map[Action]time.Time),
	}, nil
}

// comboKey normalizes a combo so ordering and case do not matter.
func comboKey(keys []string) string {
	norm := make([]string, len(keys))
	for i, k := range keys {
		norm[i] = strings.ToLower(strings.TrimSpace(k))
	}
	slices.Sort(norm)
	return strings.Join(norm, "+")
}

// Events returns the channel that receives hotkey events.
// The channel is closed when Stop is called.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

// fire emits an event for a, unless a fired within the repeat window.
func (l *Listener) fire(a Action) {
	l.mu.Lock()
	now := l.now()
	if last, ok := l.last[a]; ok && now.Sub(last) < l.window {
		l.mu.Unlock()
		return
	}
	l.last[a] = now
	l.mu.Unlock()

	select {
	case l.ch <- Event{Action: a}:
	default: // don't block if channel is full
	}
}

// register wires every binding through reg. Split out from Start so the
// callback plumbing can run without a global hook.
func (l *Listener) register(reg func(when uint8, keys []string, cb func(hook.Event))) {
	for _, b := range l.bindings {
		action := b.Action
		reg(hook.KeyDown, b.Keys, func(hook.Event) {
			l.fire(action)
		})
	}
}

// Start begins listening for the global hotkeys.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	l.register(hook.Register)

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}
