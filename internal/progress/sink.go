package progress

import "context"

// Sink consumes batches of progress events. Consume is called from the hub
// goroutine only and must honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. The drain loop depends on this rather
// than on Hub so tests can capture events directly.
type Emitter interface {
	Emit(evt Event)
}

// Discard is an Emitter that drops every event.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(Event) {}
