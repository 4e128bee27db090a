// Package events fans conversion updates out to server-sent event clients.
package events

import "time"

// EventType names an event on the wire.
type EventType string

const (
	EventConversionQueued    EventType = "conversion.queued"
	EventConversionStarted   EventType = "conversion.started"
	EventConversionProgress  EventType = "conversion.progress"
	EventConversionChunk     EventType = "conversion.chunk"
	EventConversionCompleted EventType = "conversion.completed"
	EventConversionFailed    EventType = "conversion.failed"
	EventConversionCancelled EventType = "conversion.cancelled"

	// EventHeartbeat keeps idle connections open through proxies.
	EventHeartbeat EventType = "heartbeat"
)

// Event is one message to clients. JobID scopes delivery: clients that
// subscribed to a job only see that job's events plus heartbeats.
type Event struct {
	Type      EventType `json:"type"`
	JobID     string    `json:"job_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// New builds an event stamped with the current time.
func New(t EventType, jobID string, data any) Event {
	return Event{
		Type:      t,
		JobID:     jobID,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// NewHeartbeatEvent creates a keepalive event.
func NewHeartbeatEvent() Event {
	return New(EventHeartbeat, "", nil)
}

// ChunkData is the payload of a conversion.chunk event.
type ChunkData struct {
	Index     int    `json:"index"`
	ChapterID string `json:"chapter_id"`
	Cached    bool   `json:"cached"`
	Bytes     int    `json:"bytes"`
}

// Emitter is what producers depend on.
type Emitter interface {
	Emit(event Event)
}

// NoopEmitter discards events.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}
