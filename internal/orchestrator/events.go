package orchestrator

// EventType names one streamed session event.
type EventType string

// Session events, emitted in state-transition order. Answer chunks for an
// attempt are only ever emitted after that attempt's plan and retrieval
// events.
const (
	EventState     EventType = "state"
	EventPlan      EventType = "plan"
	EventRetrieval EventType = "retrieval"
	EventChunk     EventType = "chunk"
	EventCritique  EventType = "critique"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

// State is one phase of the session state machine.
type State string

// Session states in execution order.
const (
	StateRouting      State = "routing"
	StatePlanning     State = "planning"
	StateDispatching  State = "dispatching"
	StateSynthesizing State = "synthesizing"
	StateCritiquing   State = "critiquing"
	StateFinalizing   State = "finalizing"
)

// Sink receives session events. Emit is called synchronously at each state
// transition; implementations must be cheap and must not block. Sync-mode
// callers pass NopSink.
type Sink interface {
	Emit(event EventType, payload any)
}

// NopSink discards all events.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(EventType, any) {}

// StatePayload is the payload of EventState events.
type StatePayload struct {
	State State `json:"state"`
}

// ChunkPayload is the payload of EventChunk events.
type ChunkPayload struct {
	Text    string `json:"text"`
	Attempt int    `json:"attempt"`
}

// ErrorPayload is the payload of EventError events.
type ErrorPayload struct {
	Message string `json:"message"`
}
