package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"chatcore/pkg/logger"
	"chatcore/pkg/models"
	"chatcore/pkg/store"
)

const defaultQueueCapacity = 256
const defaultMaxBodyBytes = 8 * 1024

var idSeq uint64

// genID generates a unique message ID from the current UTC nanosecond
// timestamp and an atomic sequence number.
func genID() string {
	n := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&idSeq, 1)
	return fmt.Sprintf("m-%d-%d", n, s)
}

// Options tunes the service. Zero values fall back to defaults.
type Options struct {
	// QueueCapacity bounds each channel's pending-op queue.
	QueueCapacity int
	// MaxBodyBytes bounds message bodies; longer bodies fail validation.
	MaxBodyBytes int
}

// Service is the message store core. All mutations for a channel funnel
// through that channel's apply loop, so ordering and author checks are
// race-free without a global lock; different channels apply in parallel.
// Reads go straight to the engine against a consistent snapshot.
type Service struct {
	engine   store.Engine
	queueCap int
	maxBody  int

	mu     sync.Mutex
	loops  map[string]*channelLoop
	closed bool
	stop   chan struct{}

	sinkMu sync.RWMutex
	sinks  []Sink
}

func NewService(engine store.Engine, opts Options) *Service {
	qc := opts.QueueCapacity
	if qc <= 0 {
		qc = defaultQueueCapacity
	}
	mb := opts.MaxBodyBytes
	if mb <= 0 {
		mb = defaultMaxBodyBytes
	}
	return &Service{
		engine:   engine,
		queueCap: qc,
		maxBody:  mb,
		loops:    make(map[string]*channelLoop),
		stop:     make(chan struct{}),
	}
}

// RegisterSink subscribes a sink to every applied mutation. Sinks must not
// block; the write path publishes synchronously after the engine commit.
func (s *Service) RegisterSink(sink Sink) {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	s.sinks = append(s.sinks, sink)
}

func (s *Service) publish(ev models.Event) {
	s.sinkMu.RLock()
	defer s.sinkMu.RUnlock()
	for _, sink := range s.sinks {
		sink.Publish(ev)
	}
}

// Close stops every apply loop. In-flight ops receive ErrChannelFailed.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.stop)
}

type opKind int

const (
	opAppend opKind = iota
	opEdit
	opDelete
)

type opResult struct {
	msg *models.Message
	err error
}

type op struct {
	kind  opKind
	msg   models.Message // append template
	id    string
	actor string
	body  string
	reply chan opResult
}

// channelLoop serializes mutations for one channel.
type channelLoop struct {
	channel string
	ops     chan op
	// seq is the last log position handed out; only the loop goroutine
	// touches it after startup.
	seq    uint64
	failed atomic.Bool
}

func (s *Service) loopFor(channel string) (*channelLoop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrChannelFailed
	}
	if l, ok := s.loops[channel]; ok {
		return l, nil
	}
	l := &channelLoop{channel: channel, ops: make(chan op, s.queueCap)}
	s.loops[channel] = l
	go l.run(s)
	return l, nil
}

func (l *channelLoop) run(s *Service) {
	ch, err := s.engine.Channel(context.Background(), l.channel)
	if err != nil {
		logger.Error("channel_loop_init_failed", "channel", l.channel, "error", err)
		l.failed.Store(true)
	}
	l.seq = ch.LastSeq
	for {
		select {
		case <-s.stop:
			l.drain()
			return
		case o := <-l.ops:
			if l.failed.Load() {
				o.reply <- opResult{err: ErrChannelFailed}
				continue
			}
			o.reply <- l.apply(s, o)
		}
	}
}

// drain fails every op still queued at shutdown so no caller is left
// waiting on a reply that will never come.
func (l *channelLoop) drain() {
	for {
		select {
		case o := <-l.ops:
			o.reply <- opResult{err: ErrChannelFailed}
		default:
			return
		}
	}
}

// nextSeq allocates the next log position. A non-increasing allocation is
// an ordering invariant violation: the channel's write path is aborted and
// every later op fails until an operator intervenes.
func (l *channelLoop) nextSeq() (uint64, error) {
	next := l.seq + 1
	if next <= l.seq {
		l.failed.Store(true)
		logger.Error("ordering_key_collision", "channel", l.channel, "seq", l.seq)
		return 0, ErrChannelFailed
	}
	return next, nil
}

func (l *channelLoop) apply(s *Service, o op) opResult {
	switch o.kind {
	case opAppend:
		return l.applyAppend(s, o)
	case opEdit:
		return l.applyEdit(s, o)
	case opDelete:
		return l.applyDelete(s, o)
	}
	return opResult{err: fmt.Errorf("unknown op kind %d", o.kind)}
}

func (l *channelLoop) applyAppend(s *Service, o op) opResult {
	next, err := l.nextSeq()
	if err != nil {
		return opResult{err: err}
	}
	m := o.msg
	m.ID = genID()
	m.Channel = l.channel
	m.Seq = next
	m.LastSeq = next
	m.CreatedTS = time.Now().UTC().UnixNano()
	if err := s.engine.SaveMessage(context.Background(), &m, 0); err != nil {
		logger.Error("append_failed", "channel", l.channel, "error", err)
		return opResult{err: err}
	}
	l.seq = next
	s.publish(models.Event{Type: models.EventMessage, Channel: l.channel, Message: cloneMsg(m), Seq: next})
	logger.Debug("message_appended", "channel", l.channel, "id", m.ID, "seq", next)
	return opResult{msg: &m}
}

func (l *channelLoop) applyEdit(s *Service, o op) opResult {
	cur, err := s.engine.GetMessage(context.Background(), o.id)
	if err != nil {
		return opResult{err: notFoundOr(err)}
	}
	if cur.Author != o.actor {
		return opResult{err: fmt.Errorf("%w: %s cannot edit %s", ErrForbidden, o.actor, o.id)}
	}
	if cur.Deleted() {
		return opResult{err: fmt.Errorf("%w: %s is deleted", ErrNotFound, o.id)}
	}
	next, err := l.nextSeq()
	if err != nil {
		return opResult{err: err}
	}
	prev := cur.LastSeq
	cur.Body = o.body
	cur.EditedTS = time.Now().UTC().UnixNano()
	cur.LastSeq = next
	if err := s.engine.SaveMessage(context.Background(), cur, prev); err != nil {
		logger.Error("edit_failed", "channel", l.channel, "id", o.id, "error", err)
		return opResult{err: err}
	}
	l.seq = next
	s.publish(models.Event{Type: models.EventEdited, Channel: l.channel, Message: cloneMsg(*cur), Seq: next})
	return opResult{msg: cur}
}

func (l *channelLoop) applyDelete(s *Service, o op) opResult {
	cur, err := s.engine.GetMessage(context.Background(), o.id)
	if err != nil {
		return opResult{err: notFoundOr(err)}
	}
	if cur.Author != o.actor {
		return opResult{err: fmt.Errorf("%w: %s cannot delete %s", ErrForbidden, o.actor, o.id)}
	}
	if cur.Deleted() {
		// already a tombstone; client retries succeed silently
		return opResult{msg: cur}
	}
	next, err := l.nextSeq()
	if err != nil {
		return opResult{err: err}
	}
	prev := cur.LastSeq
	cur.DeletedTS = time.Now().UTC().UnixNano()
	cur.LastSeq = next
	if err := s.engine.SaveMessage(context.Background(), cur, prev); err != nil {
		logger.Error("delete_failed", "channel", l.channel, "id", o.id, "error", err)
		return opResult{err: err}
	}
	l.seq = next
	s.publish(models.Event{Type: models.EventDeleted, Channel: l.channel, DeletedID: cur.ID, Seq: next})
	return opResult{msg: cur}
}

func cloneMsg(m models.Message) *models.Message { return &m }

func notFoundOr(err error) error {
	if err == store.ErrNotFound {
		return ErrNotFound
	}
	return err
}

func (s *Service) enqueue(ctx context.Context, channel string, o op) (*models.Message, error) {
	l, err := s.loopFor(channel)
	if err != nil {
		return nil, err
	}
	o.reply = make(chan opResult, 1)
	select {
	case l.ops <- o:
	case <-s.stop:
		return nil, ErrChannelFailed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-o.reply:
		return res.msg, res.err
	case <-s.stop:
		// prefer a reply that already landed over the shutdown error
		select {
		case res := <-o.reply:
			return res.msg, res.err
		default:
			return nil, ErrChannelFailed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Append validates and appends a message. The caller fills Channel, Author,
// Name, Avatar, Body, Kind and optionally ClientID; the service assigns the
// id, log position and timestamps.
func (s *Service) Append(ctx context.Context, m models.Message) (*models.Message, error) {
	m.Body = strings.TrimSpace(m.Body)
	if m.Channel == "" {
		return nil, fmt.Errorf("%w: channel is required", ErrValidation)
	}
	if m.Author == "" {
		return nil, fmt.Errorf("%w: author is required", ErrValidation)
	}
	if m.Body == "" {
		return nil, fmt.Errorf("%w: body is empty", ErrValidation)
	}
	if len(m.Body) > s.maxBody {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrValidation, s.maxBody)
	}
	if m.Kind == "" {
		m.Kind = models.KindText
	}
	if !models.ValidKind(m.Kind) {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrValidation, m.Kind)
	}
	return s.enqueue(ctx, m.Channel, op{kind: opAppend, msg: m})
}

// Edit replaces the body of the message. Only the author may edit.
func (s *Service) Edit(ctx context.Context, id, editor, body string) (*models.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("%w: body is empty", ErrValidation)
	}
	if len(body) > s.maxBody {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrValidation, s.maxBody)
	}
	cur, err := s.engine.GetMessage(ctx, id)
	if err != nil {
		return nil, notFoundOr(err)
	}
	return s.enqueue(ctx, cur.Channel, op{kind: opEdit, id: id, actor: editor, body: body})
}

// Delete tombstones the message. Only the author may delete; deleting an
// already-deleted message succeeds silently so client retries are safe.
func (s *Service) Delete(ctx context.Context, id, requester string) error {
	cur, err := s.engine.GetMessage(ctx, id)
	if err != nil {
		return notFoundOr(err)
	}
	_, err = s.enqueue(ctx, cur.Channel, op{kind: opDelete, id: id, actor: requester})
	return err
}

// Get returns the latest record for id, tombstones included.
func (s *Service) Get(ctx context.Context, id string) (*models.Message, error) {
	m, err := s.engine.GetMessage(ctx, id)
	if err != nil {
		return nil, notFoundOr(err)
	}
	return m, nil
}

// List returns the non-deleted messages mutated after cursor in creation
// order, the ids tombstoned since the cursor, and the cursor to resume
// from. limit caps the scanned events so the sequence is restartable.
func (s *Service) List(ctx context.Context, channel string, cursor uint64, limit int) ([]models.Message, []string, uint64, error) {
	events, err := s.engine.ScanEvents(ctx, channel, cursor, limit)
	if err != nil {
		return nil, nil, cursor, err
	}
	next := cursor
	msgs := make([]models.Message, 0, len(events))
	var deleted []string
	for _, ev := range events {
		if ev.LastSeq > next {
			next = ev.LastSeq
		}
		if ev.Deleted() {
			deleted = append(deleted, ev.ID)
			continue
		}
		msgs = append(msgs, ev)
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Seq < msgs[j].Seq })
	return msgs, deleted, next, nil
}
