package conversation

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu     sync.Mutex
	events map[int64][]Event
	delay  time.Duration
}

func (h *recordingHandler) Handle(_ context.Context, ev Event) error {
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.events == nil {
		h.events = make(map[int64][]Event)
	}
	h.events[ev.ChatID] = append(h.events[ev.ChatID], ev)
	return nil
}

func (h *recordingHandler) forChat(chatID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.events[chatID]...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, nil))
}

func TestDispatcherPreservesPerChatOrder(t *testing.T) {
	handler := &recordingHandler{delay: time.Millisecond}
	d := NewDispatcher(handler, testLogger())
	ctx, cancel := context.WithCancel(context.Background())

	const perChat = 20
	for i := 0; i < perChat; i++ {
		d.Dispatch(ctx, Event{ChatID: 1, Kind: EventText, Text: itoa(i)})
		d.Dispatch(ctx, Event{ChatID: 2, Kind: EventText, Text: itoa(i)})
	}

	require.Eventually(t, func() bool {
		return len(handler.forChat(1)) == perChat && len(handler.forChat(2)) == perChat
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	d.Close()

	for _, chatID := range []int64{1, 2} {
		got := handler.forChat(chatID)
		for i, ev := range got {
			require.Equal(t, itoa(i), ev.Text, "chat %d position %d", chatID, i)
		}
	}
}

func TestDispatcherRunsChatsConcurrently(t *testing.T) {
	block := make(chan struct{})
	handler := &blockingHandler{block: block, seen: make(chan int64, 2)}
	d := NewDispatcher(handler, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.Dispatch(ctx, Event{ChatID: 1, Kind: EventStart})
	d.Dispatch(ctx, Event{ChatID: 2, Kind: EventStart})

	// Both workers reach their handler even though neither has finished:
	// sessions do not serialize against each other.
	seen := map[int64]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-handler.seen:
			seen[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("workers did not run concurrently")
		}
	}
	require.True(t, seen[1] && seen[2])
	close(block)
}

type blockingHandler struct {
	block chan struct{}
	seen  chan int64
}

func (h *blockingHandler) Handle(_ context.Context, ev Event) error {
	h.seen <- ev.ChatID
	<-h.block
	return nil
}

func TestFullChatQueueDoesNotStallOtherChats(t *testing.T) {
	block := make(chan struct{})
	handler := &blockingHandler{block: block, seen: make(chan int64, workerQueueSize+4)}
	d := NewDispatcher(handler, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Chat 1's worker blocks inside Handle, then its queue fills up.
	d.Dispatch(ctx, Event{ChatID: 1, Kind: EventStart})
	require.Equal(t, int64(1), <-handler.seen)
	for i := 0; i < workerQueueSize; i++ {
		d.Dispatch(ctx, Event{ChatID: 1, Kind: EventText})
	}

	// The overflow event and an unrelated chat's event must both return
	// promptly instead of waiting on chat 1's handler.
	done := make(chan struct{})
	go func() {
		d.Dispatch(ctx, Event{ChatID: 1, Kind: EventText})
		d.Dispatch(ctx, Event{ChatID: 2, Kind: EventStart})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch stalled behind a full queue on another chat")
	}

	select {
	case id := <-handler.seen:
		require.Equal(t, int64(2), id)
	case <-time.After(2 * time.Second):
		t.Fatal("second chat's event never reached the handler")
	}

	close(block)
	cancel()
	d.Close()
}

func TestDispatcherDropsAfterClose(t *testing.T) {
	handler := &recordingHandler{}
	d := NewDispatcher(handler, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Close()

	d.Dispatch(ctx, Event{ChatID: 1, Kind: EventStart})
	require.Empty(t, handler.forChat(1))
}

func itoa(i int) string {
	return string(rune('A' + i))
}
