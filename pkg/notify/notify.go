// Package notify carries the gateway's human-readable event lines to
// whatever presents them: the console, an MQTT topic, or a test.
package notify

import (
	"time"

	"github.com/jgoldverg/nexusgw/internal"
)

type Kind string

const (
	KindDiscovery  Kind = "discovery"
	KindConnection Kind = "connection"
	KindSession    Kind = "session"
)

type Event struct {
	Kind    Kind      `json:"kind"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Notifier must not block; the gateway calls it from its receive loops.
type Notifier interface {
	Notify(ev Event)
}

// Func adapts a function to Notifier.
type Func func(Event)

func (f Func) Notify(ev Event) { f(ev) }

type Console struct{}

func (Console) Notify(ev Event) {
	internal.Info(ev.Message, internal.Fields{internal.FieldKey("event"): string(ev.Kind)})
}

// Multi fans an event out to every non-nil notifier.
type Multi []Notifier

func (m Multi) Notify(ev Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(ev)
		}
	}
}

type discard struct{}

func (discard) Notify(Event) {}

// Discard drops every event.
var Discard Notifier = discard{}
