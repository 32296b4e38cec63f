package gateway

import (
	"encoding/json"

	"chatcore/pkg/logger"
	"chatcore/pkg/models"
	"chatcore/pkg/telemetry"
)

const defaultEventBuffer = 1024

// Hub routes applied events to push subscribers. It implements chat.Sink:
// Publish hands the event to the hub's own goroutine through a bounded
// buffer, so the channel write path never waits on a slow subscriber. Full
// buffer drops the event for push clients only; pollers recover it from
// the log.
type Hub struct {
	register   chan *wsClient
	unregister chan *wsClient
	events     chan models.Event
	stop       chan struct{}

	// channel id -> subscribers; owned by the run goroutine
	channels map[string]map[*wsClient]bool
}

func NewHub(eventBuffer int) *Hub {
	if eventBuffer <= 0 {
		eventBuffer = defaultEventBuffer
	}
	return &Hub{
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		events:     make(chan models.Event, eventBuffer),
		stop:       make(chan struct{}),
		channels:   make(map[string]map[*wsClient]bool),
	}
}

// Publish implements chat.Sink. Never blocks the caller.
func (h *Hub) Publish(ev models.Event) {
	select {
	case h.events <- ev:
	default:
		telemetry.FanoutDropped.Inc()
		logger.Warn("fanout_buffer_full", "type", ev.Type, "channel", ev.Channel)
	}
}

// Run owns the subscriber registry. Call in its own goroutine; Stop ends it.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			for _, subs := range h.channels {
				for c := range subs {
					close(c.send)
				}
			}
			return
		case c := <-h.register:
			subs, ok := h.channels[c.channel]
			if !ok {
				subs = make(map[*wsClient]bool)
				h.channels[c.channel] = subs
			}
			subs[c] = true
			telemetry.Subscribers.Inc()
			logger.Debug("subscriber_registered", "channel", c.channel, "user", c.userID)
		case c := <-h.unregister:
			h.drop(c)
		case ev := <-h.events:
			h.route(ev)
		}
	}
}

func (h *Hub) Stop() { close(h.stop) }

func (h *Hub) drop(c *wsClient) {
	subs, ok := h.channels[c.channel]
	if !ok || !subs[c] {
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.channels, c.channel)
	}
	close(c.send)
	telemetry.Subscribers.Dec()
	logger.Debug("subscriber_unregistered", "channel", c.channel, "user", c.userID)
}

func (h *Hub) route(ev models.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Error("event_marshal_failed", "type", ev.Type, "error", err)
		return
	}
	if subs, ok := h.channels[ev.Channel]; ok {
		h.deliver(subs, payload)
	}
}

// deliver enqueues the payload on each subscriber's bounded outbound
// queue. Overflow disconnects the subscriber rather than stalling the hub.
func (h *Hub) deliver(subs map[*wsClient]bool, payload []byte) {
	for c := range subs {
		select {
		case c.send <- payload:
		default:
			telemetry.SubscriberOverflows.Inc()
			logger.Warn("subscriber_queue_overflow", "channel", c.channel, "user", c.userID)
			h.drop(c)
		}
	}
}
