// Package kafka publishes ingest lifecycle events to the event topic and
// provides the consumer loop used by the notification worker.
package kafka

// Event kinds published on the ingest topic.
const (
	EventFileAccepted          = "file.accepted"
	EventFileCompleted         = "file.completed"
	EventFileFailed            = "file.failed"
	EventSessionAwaitingReview = "session.awaiting_review"
	EventSessionTerminal       = "session.terminal"
)
