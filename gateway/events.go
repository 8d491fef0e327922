// Copyright (c) 2024 The pegbridge developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package gateway

// Event is a domain event produced while applying a single external
// call.  Concrete event types are declared by the package that emits
// them.
type Event interface{}

// EventSink records domain events.  Events emitted within one call are
// recorded in execution order.
type EventSink interface {
	Record(event Event)
}

// EventRecorder is an EventSink that appends every event to a slice.
type EventRecorder struct {
	Events []Event
}

// Record implements the EventSink interface.
func (r *EventRecorder) Record(event Event) {
	r.Events = append(r.Events, event)
}

// Reset drops all recorded events.
func (r *EventRecorder) Reset() {
	r.Events = r.Events[:0]
}

// discardSink drops every event.
type discardSink struct{}

func (discardSink) Record(Event) {}

// DiscardEvents is an EventSink that drops all events.
var DiscardEvents EventSink = discardSink{}
