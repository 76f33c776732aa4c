package ua

import "github.com/gosoftphone/core/sip"

// EventKind is the closed event enumeration spec.md §9 calls for in place
// of the source's runtime event-name string model.
type EventKind int

const (
	EventLog EventKind = iota
	EventStatus
	EventCallState
	EventRemoteAudio
)

// LogLevel is the level of a Log event, per spec.md §6's
// log(level, text) outbound event.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogSIP   LogLevel = "sip"
	LogCall  LogLevel = "call"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
	LogDebug LogLevel = "debug"
)

// ConnectionState is the value of a Status event, per spec.md §6.
type ConnectionState string

const (
	Connecting   ConnectionState = "connecting"
	Connected    ConnectionState = "connected"
	Disconnected ConnectionState = "disconnected"
)

// CallStateKind is the value of a CallState event, per spec.md §3's Call
// state machine and §6's callState event.
type CallStateKind string

const (
	CallIdle      CallStateKind = "idle"
	CallCalling   CallStateKind = "calling"
	CallRinging   CallStateKind = "ringing"
	CallRingingIn CallStateKind = "ringing-in"
	CallActive    CallStateKind = "active"
)

// CallStats carries the supplemented call-statistics fields (packets
// sent/received, detected loss, duration) alongside a CallState event.
type CallStats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	PacketsLost     uint64
	DurationSeconds float64
}

// Event is the single discriminated payload the event surface delivers,
// replacing the source's stringly-typed emitter dispatch (spec.md §9).
// Exactly one of the Kind-matching fields is populated.
type Event struct {
	ID   string // correlation id, from sip.NextEventID()
	Kind EventKind

	// EventLog
	Level LogLevel
	Text  string

	// EventStatus
	Status     ConnectionState
	StatusText string

	// EventCallState
	CallState CallStateKind
	CallInfo  string
	Stats     CallStats

	// EventRemoteAudio
	Audio []int16
}

// Sink receives every Event this UserAgent emits. Must be safe for
// concurrent invocation, or serialize itself, per spec.md §5's shared
// resources rule.
type Sink func(Event)

func newEvent(kind EventKind) Event {
	return Event{ID: sip.NextEventID(), Kind: kind}
}

func logEvent(level LogLevel, text string) Event {
	e := newEvent(EventLog)
	e.Level = level
	e.Text = text
	return e
}

func statusEvent(state ConnectionState, text string) Event {
	e := newEvent(EventStatus)
	e.Status = state
	e.StatusText = text
	return e
}

func callStateEvent(state CallStateKind, info string, stats CallStats) Event {
	e := newEvent(EventCallState)
	e.CallState = state
	e.CallInfo = info
	e.Stats = stats
	return e
}

func audioEvent(pcm []int16) Event {
	e := newEvent(EventRemoteAudio)
	e.Audio = pcm
	return e
}
