package chat

import "chatcore/pkg/models"

// Sink receives every applied mutation. The core publishes to sinks after
// the engine write succeeds and never waits on delivery: implementations
// must not block the caller (buffer and drop, or hand off to a goroutine).
// Both transports hang off this interface; the core does not know whether
// a push connection or a poller is on the other side.
type Sink interface {
	Publish(ev models.Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ev models.Event)

func (f SinkFunc) Publish(ev models.Event) { f(ev) }
