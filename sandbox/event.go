package sandbox

import "strings"

// EventKind tags an OutputEvent.
type EventKind string

// Event kinds. Log and error events originate inside the isolation boundary;
// notices are written by the host.
const (
	EventLog    EventKind = "log"
	EventError  EventKind = "error"
	EventNotice EventKind = "notice"
)

// NoOutputText is the transcript of a run that completed without output.
const NoOutputText = "(no output)"

// OutputEvent is one captured unit of output.
type OutputEvent struct {
	Kind EventKind `json:"kind"`
	Text string    `json:"text"`
}

// LogEvent returns a log event.
func LogEvent(text string) OutputEvent {
	return OutputEvent{Kind: EventLog, Text: text}
}

// ErrorEvent returns an error event.
func ErrorEvent(text string) OutputEvent {
	return OutputEvent{Kind: EventError, Text: text}
}

// NoticeEvent returns a host notice.
func NoticeEvent(text string) OutputEvent {
	return OutputEvent{Kind: EventNotice, Text: text}
}

// Render returns the transcript line of the event.
func (e OutputEvent) Render() string {
	if e.Kind == EventError {
		return "ERROR: " + e.Text + "\n"
	}
	return e.Text + "\n"
}

// RenderTranscript concatenates events in order.
func RenderTranscript(events []OutputEvent) string {
	var b strings.Builder
	for _, e := range events {
		b.WriteString(e.Render())
	}
	return b.String()
}
