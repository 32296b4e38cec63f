package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatcore/pkg/models"
	"chatcore/pkg/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s := NewService(store.NewMemory(), Options{})
	t.Cleanup(s.Close)
	return s
}

func TestAppendAssignsSequence(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	m1, err := s.Append(ctx, models.Message{Channel: "general", Author: "alice", Body: "one"})
	require.NoError(t, err)
	m2, err := s.Append(ctx, models.Message{Channel: "general", Author: "bob", Body: "two"})
	require.NoError(t, err)

	require.NotEmpty(t, m1.ID)
	require.Equal(t, uint64(1), m1.Seq)
	require.Equal(t, uint64(2), m2.Seq)
	require.Equal(t, m1.Seq, m1.LastSeq)
	require.NotZero(t, m1.CreatedTS)
	require.Equal(t, models.KindText, m1.Kind)
}

func TestAppendValidation(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	cases := []models.Message{
		{Channel: "general", Author: "alice", Body: ""},
		{Channel: "general", Author: "alice", Body: "   "},
		{Channel: "", Author: "alice", Body: "hi"},
		{Channel: "general", Author: "", Body: "hi"},
		{Channel: "general", Author: "alice", Body: "hi", Kind: "gif"},
	}
	for i, m := range cases {
		_, err := s.Append(ctx, m)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestAppendRejectsOversizeBody(t *testing.T) {
	s := NewService(store.NewMemory(), Options{MaxBodyBytes: 8})
	defer s.Close()

	_, err := s.Append(context.Background(), models.Message{Channel: "c", Author: "a", Body: "123456789"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = s.Append(context.Background(), models.Message{Channel: "c", Author: "a", Body: "12345678"})
	require.NoError(t, err)
}

func TestConcurrentAppendsGetDistinctIncreasingSeqs(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	const writers = 20
	const perWriter = 5
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := s.Append(ctx, models.Message{
					Channel: "busy",
					Author:  fmt.Sprintf("user-%d", w),
					Body:    fmt.Sprintf("msg %d/%d", w, i),
				})
				if err != nil {
					t.Errorf("append: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	msgs, deleted, next, err := s.List(ctx, "busy", 0, 0)
	require.NoError(t, err)
	require.Empty(t, deleted)
	require.Len(t, msgs, writers*perWriter)
	require.Equal(t, uint64(writers*perWriter), next)
	for i, m := range msgs {
		require.Equal(t, uint64(i+1), m.Seq, "log positions must be dense and increasing")
	}
}

func TestEditOnlyByAuthor(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	m, err := s.Append(ctx, models.Message{Channel: "general", Author: "alice", Body: "draft"})
	require.NoError(t, err)

	_, err = s.Edit(ctx, m.ID, "mallory", "hijacked")
	require.ErrorIs(t, err, ErrForbidden)

	// record unchanged after the rejected edit
	cur, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, "draft", cur.Body)
	require.Zero(t, cur.EditedTS)

	got, err := s.Edit(ctx, m.ID, "alice", "final")
	require.NoError(t, err)
	require.Equal(t, "final", got.Body)
	require.NotZero(t, got.EditedTS)
	require.Equal(t, m.Seq, got.Seq, "edits keep the creation position")
	require.Greater(t, got.LastSeq, m.LastSeq)
}

func TestEditUnknownOrDeleted(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.Edit(ctx, "nope", "alice", "x")
	require.ErrorIs(t, err, ErrNotFound)

	m, err := s.Append(ctx, models.Message{Channel: "general", Author: "alice", Body: "bye"})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, m.ID, "alice"))

	_, err = s.Edit(ctx, m.ID, "alice", "resurrect")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteIsIdempotentAndAuthorOnly(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	m, err := s.Append(ctx, models.Message{Channel: "general", Author: "alice", Body: "temp"})
	require.NoError(t, err)

	require.ErrorIs(t, s.Delete(ctx, m.ID, "mallory"), ErrForbidden)

	require.NoError(t, s.Delete(ctx, m.ID, "alice"))
	cur, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, cur.Deleted())
	first := cur.DeletedTS

	// retry succeeds without moving the tombstone
	require.NoError(t, s.Delete(ctx, m.ID, "alice"))
	cur, err = s.Get(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, first, cur.DeletedTS)
}

func TestListCursorSeesEachMutationOnce(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	m1, _ := s.Append(ctx, models.Message{Channel: "c", Author: "a", Body: "1"})
	m2, _ := s.Append(ctx, models.Message{Channel: "c", Author: "a", Body: "2"})
	_, _ = s.Append(ctx, models.Message{Channel: "c", Author: "a", Body: "3"})

	msgs, deleted, next, err := s.List(ctx, "c", 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Empty(t, deleted)

	// nothing new after the cursor
	msgs, deleted, next2, err := s.List(ctx, "c", next, 0)
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.Empty(t, deleted)
	require.Equal(t, next, next2)

	// an edit surfaces exactly the edited record
	_, err = s.Edit(ctx, m1.ID, "a", "1 edited")
	require.NoError(t, err)
	msgs, deleted, next3, err := s.List(ctx, "c", next2, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, m1.ID, msgs[0].ID)
	require.Equal(t, "1 edited", msgs[0].Body)
	require.Empty(t, deleted)

	// a delete surfaces as a deleted id, not a message
	require.NoError(t, s.Delete(ctx, m2.ID, "a"))
	msgs, deleted, _, err = s.List(ctx, "c", next3, 0)
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.Equal(t, []string{m2.ID}, deleted)
}

func TestListOrdersBySeqAfterEdits(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	m1, _ := s.Append(ctx, models.Message{Channel: "c", Author: "a", Body: "first"})
	_, _ = s.Append(ctx, models.Message{Channel: "c", Author: "a", Body: "second"})
	_, err := s.Edit(ctx, m1.ID, "a", "first, edited")
	require.NoError(t, err)

	msgs, _, _, err := s.List(ctx, "c", 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	// the edit moved m1's cursor position but not its place in the log
	require.Equal(t, "first, edited", msgs[0].Body)
	require.Equal(t, "second", msgs[1].Body)
}

func TestChannelFailureIsSticky(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.Append(ctx, models.Message{Channel: "doomed", Author: "a", Body: "ok"})
	require.NoError(t, err)

	// force the next allocation to not increase; the loop is idle between
	// ops so the write is ordered by the next op's channel send
	s.mu.Lock()
	l := s.loops["doomed"]
	s.mu.Unlock()
	l.seq = ^uint64(0)

	_, err = s.Append(ctx, models.Message{Channel: "doomed", Author: "a", Body: "overflow"})
	require.ErrorIs(t, err, ErrChannelFailed)

	// every later write fails too
	_, err = s.Append(ctx, models.Message{Channel: "doomed", Author: "a", Body: "still failing"})
	require.ErrorIs(t, err, ErrChannelFailed)

	// other channels are unaffected
	_, err = s.Append(ctx, models.Message{Channel: "healthy", Author: "a", Body: "fine"})
	require.NoError(t, err)
}

// gatedEngine blocks SaveMessage until the gate opens, holding the apply
// loop mid-write.
type gatedEngine struct {
	*store.Memory
	gate    chan struct{}
	started chan struct{}
	once    sync.Once
}

func (g *gatedEngine) SaveMessage(ctx context.Context, m *models.Message, prevLastSeq uint64) error {
	g.once.Do(func() { close(g.started) })
	<-g.gate
	return g.Memory.SaveMessage(ctx, m, prevLastSeq)
}

func TestCloseFailsQueuedWriters(t *testing.T) {
	eng := &gatedEngine{
		Memory:  store.NewMemory(),
		gate:    make(chan struct{}),
		started: make(chan struct{}),
	}
	s := NewService(eng, Options{})
	ctx := context.Background()

	const queued = 20
	errs := make(chan error, queued+1)
	go func() {
		_, err := s.Append(ctx, models.Message{Channel: "c", Author: "a", Body: "in flight"})
		errs <- err
	}()
	<-eng.started

	// these pile up behind the blocked write
	for i := 0; i < queued; i++ {
		go func(i int) {
			_, err := s.Append(ctx, models.Message{Channel: "c", Author: "a", Body: fmt.Sprintf("queued %d", i)})
			errs <- err
		}(i)
	}

	s.Close()
	close(eng.gate)

	// every caller gets a reply; none hang on the dead loop
	for i := 0; i < queued+1; i++ {
		select {
		case err := <-errs:
			if err != nil {
				require.ErrorIs(t, err, ErrChannelFailed)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of %d callers got a reply after Close", i, queued+1)
		}
	}
}

func TestSinksReceiveAppliedEvents(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	var mu sync.Mutex
	var got []models.Event
	s.RegisterSink(SinkFunc(func(ev models.Event) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	}))

	m, err := s.Append(ctx, models.Message{Channel: "c", Author: "a", Body: "hello"})
	require.NoError(t, err)
	_, err = s.Edit(ctx, m.ID, "a", "hello again")
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, m.ID, "a"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 3)
	require.Equal(t, models.EventMessage, got[0].Type)
	require.Equal(t, models.EventEdited, got[1].Type)
	require.Equal(t, models.EventDeleted, got[2].Type)
	require.Equal(t, m.ID, got[2].DeletedID)
	require.Equal(t, "hello again", got[1].Message.Body)
}

func TestClientIDEchoedBack(t *testing.T) {
	s := newTestService(t)

	m, err := s.Append(context.Background(), models.Message{
		Channel: "c", Author: "a", Body: "hi", ClientID: "tmp-123",
	})
	require.NoError(t, err)
	require.Equal(t, "tmp-123", m.ClientID)

	cur, err := s.Get(context.Background(), m.ID)
	require.NoError(t, err)
	require.Equal(t, "tmp-123", cur.ClientID)
}
