package project

import "time"

// WatcherEventName classifies a filesystem event.
type WatcherEventName string

const (
	FileAdded   WatcherEventName = "added"
	FileChanged WatcherEventName = "changed"
	FileRemoved WatcherEventName = "removed"
)

// Event is purely informational: it is carried for timeline printing and
// for the orchestrator's classification rules, never mutated once created.
type Event interface {
	EventDate() time.Time
	isEvent()
}

// WatcherEvent reports one filesystem change.
type WatcherEvent struct {
	Date      time.Time
	EventName WatcherEventName
	Path      string // absolute
}

func (e WatcherEvent) EventDate() time.Time { return e.Date }
func (WatcherEvent) isEvent()                {}

// WebSocketConnectedEvent reports that a browser client connected and was
// resolved to an output.
type WebSocketConnectedEvent struct {
	Date   time.Time
	Output OutputPath
}

func (e WebSocketConnectedEvent) EventDate() time.Time { return e.Date }
func (WebSocketConnectedEvent) isEvent()                {}
