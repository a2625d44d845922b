package events

// Event represents a structured state change emitted by the referral engine.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, audit sinks).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Record is the flattened, attribute-map form of an event used by logs and
// HTTP responses.
type Record struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Flattener is implemented by events that can render themselves as a Record.
type Flattener interface {
	Event() *Record
}

// Flatten renders evt as a Record. Events without a flattened form only carry
// their type.
func Flatten(evt Event) *Record {
	if evt == nil {
		return nil
	}
	if f, ok := evt.(Flattener); ok {
		return f.Event()
	}
	return &Record{Type: evt.EventType(), Attributes: map[string]string{}}
}

// MultiEmitter fans each event out to every wrapped emitter in order.
type MultiEmitter []Emitter

// Emit implements the Emitter interface.
func (m MultiEmitter) Emit(evt Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(evt)
		}
	}
}
