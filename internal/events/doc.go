// Package events defines the task events delivered to real-time subscribers
// and the Broadcaster contract used to publish them.
//
// The primary components are:
// - EventType: closed set of task event kinds with a total name mapping
// - Event: the wire form of a task event
// - Broadcaster: sink for task events (gateway registry, no-op, fan-out)
// - Emitter: fans an event out to several broadcasters
// - Recorder: in-memory broadcaster that keeps every event it receives
package events
