package gateway

import (
	"context"

	"chatcore/pkg/chat"
	"chatcore/pkg/models"
	"chatcore/pkg/telemetry"
)

// Gateway exposes one logical operation set over both transports. HTTP
// handlers and websocket frames call the same methods; the core behind it
// never learns which transport carried the op. Every op counts as user
// activity for presence.
type Gateway struct {
	svc        *chat.Service
	presence   *chat.Presence
	typing     *chat.Typing
	hub        *Hub
	sendBuffer int
}

type Options struct {
	// EventBuffer bounds the hub's fanout queue.
	EventBuffer int
	// SendBuffer bounds each subscriber's outbound queue.
	SendBuffer int
}

func New(svc *chat.Service, presence *chat.Presence, typing *chat.Typing, opts Options) *Gateway {
	sb := opts.SendBuffer
	if sb <= 0 {
		sb = defaultSendBuffer
	}
	g := &Gateway{
		svc:        svc,
		presence:   presence,
		typing:     typing,
		hub:        NewHub(opts.EventBuffer),
		sendBuffer: sb,
	}
	svc.RegisterSink(g.hub)
	return g
}

// Run starts the push fanout loop; blocks until Stop.
func (g *Gateway) Run() { g.hub.Run() }

func (g *Gateway) Stop() { g.hub.Stop() }

func (g *Gateway) SendMessage(ctx context.Context, m models.Message) (*models.Message, error) {
	g.presence.Touch(m.Author, "")
	out, err := g.svc.Append(ctx, m)
	if err == nil {
		telemetry.MessagesAppended.Inc()
	}
	return out, err
}

func (g *Gateway) EditMessage(ctx context.Context, id, editor, body string) (*models.Message, error) {
	g.presence.Touch(editor, "")
	out, err := g.svc.Edit(ctx, id, editor, body)
	if err == nil {
		telemetry.MessagesEdited.Inc()
	}
	return out, err
}

func (g *Gateway) DeleteMessage(ctx context.Context, id, requester string) error {
	g.presence.Touch(requester, "")
	err := g.svc.Delete(ctx, id, requester)
	if err == nil {
		telemetry.MessagesDeleted.Inc()
	}
	return err
}

// GetMessage returns the current record for id, tombstones included.
func (g *Gateway) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	return g.svc.Get(ctx, id)
}

// SetTyping starts or stops the ephemeral typing indicator and fans the
// change out to push subscribers. Pollers pick it up from the delta.
func (g *Gateway) SetTyping(channel, userID string, typing bool) {
	if channel == "" || userID == "" {
		return
	}
	g.presence.Touch(userID, "")
	if typing {
		g.typing.Start(channel, userID)
	} else {
		g.typing.Stop(channel, userID)
	}
	g.hub.Publish(models.Event{Type: models.EventTyping, Channel: channel, UserID: userID, Typing: typing})
}

// FetchSince assembles the poll delta: everything mutated after cursor
// plus the current ephemeral state. Read-only; no locks beyond the
// engine's snapshot read.
func (g *Gateway) FetchSince(ctx context.Context, channel string, cursor uint64, limit int, caller string) (models.Delta, error) {
	g.presence.Touch(caller, "")
	telemetry.PollRequests.Inc()
	msgs, deleted, next, err := g.svc.List(ctx, channel, cursor, limit)
	if err != nil {
		return models.Delta{}, err
	}
	typers := g.typing.Active(channel)
	if typers == nil {
		typers = []string{}
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	if deleted == nil {
		deleted = []string{}
	}
	return models.Delta{
		Channel:    channel,
		Messages:   msgs,
		DeletedIDs: deleted,
		Typers:     typers,
		Presence:   g.presence.Snapshot(),
		NextCursor: next,
	}, nil
}

// Presence returns the derived presence view.
func (g *Gateway) Presence() []models.PresenceEntry {
	return g.presence.Snapshot()
}
