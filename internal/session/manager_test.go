// ABOUTME: Tests for the session manager state machine
// ABOUTME: Covers lifecycle, event-driven refresh, stale fetch discard, and teardown

package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slatelearn/messaging/internal/messaging"
	"github.com/slatelearn/messaging/internal/store"
)

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

func newTestStack(t *testing.T) (*messaging.Service, *messaging.EventBroadcaster) {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bus := messaging.NewEventBroadcaster(nil)
	t.Cleanup(bus.Close)

	return messaging.NewService(st, bus, nil), bus
}

func TestManager_StartLoadsStateAndSubscribes(t *testing.T) {
	svc, bus := newTestStack(t)
	ctx := testContext(t)

	_, err := svc.Send(ctx, "alice", "bob", "hello bob")
	require.NoError(t, err)

	m := New("bob", svc, bus, Config{}, nil)
	require.NoError(t, m.Start(ctx))
	defer m.Close()

	assert.Equal(t, StateReady, m.State())

	convs := m.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, 1, m.UnreadCounts()[convs[0].ID])
	assert.Empty(t, m.ActiveConversation())
}

func TestManager_StartTwiceFails(t *testing.T) {
	svc, bus := newTestStack(t)

	m := New("bob", svc, bus, Config{}, nil)
	require.NoError(t, m.Start(testContext(t)))
	defer m.Close()

	err := m.Start(testContext(t))
	require.Error(t, err)
}

func TestManager_CloseReturnsToIdleAndRestarts(t *testing.T) {
	svc, bus := newTestStack(t)
	ctx := testContext(t)

	m := New("bob", svc, bus, Config{}, nil)
	require.NoError(t, m.Start(ctx))
	assert.Equal(t, StateReady, m.State())

	m.Close()
	assert.Equal(t, StateIdle, m.State())
	assert.Empty(t, m.Conversations())

	// A sign-out/sign-in cycle reuses the manager
	require.NoError(t, m.Start(ctx))
	defer m.Close()
	assert.Equal(t, StateReady, m.State())
}

func TestManager_FirstContactScenario(t *testing.T) {
	svc, bus := newTestStack(t)
	ctx := testContext(t)

	sender := New("x", svc, bus, Config{}, nil)
	require.NoError(t, sender.Start(ctx))
	defer sender.Close()

	receiver := New("y", svc, bus, Config{}, nil)
	require.NoError(t, receiver.Start(ctx))
	defer receiver.Close()

	// X sends "Hello" with no prior conversation
	msg, err := sender.Send(ctx, "y", "Hello")
	require.NoError(t, err)

	// Both sessions converge on the one new conversation
	for name, m := range map[string]*Manager{"sender": sender, "receiver": receiver} {
		assert.Eventually(t, func() bool {
			convs := m.Conversations()
			return len(convs) == 1 && convs[0].ID == msg.ConversationID
		}, 2*time.Second, 10*time.Millisecond, "%s list should show the conversation", name)
	}

	// Unread: 1 for Y, 0 for X
	assert.Eventually(t, func() bool {
		return receiver.UnreadCounts()[msg.ConversationID] == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, sender.UnreadCounts()[msg.ConversationID])
}

func TestManager_OpenThenNewMessageScenario(t *testing.T) {
	svc, bus := newTestStack(t)
	ctx := testContext(t)

	first, err := svc.Send(ctx, "x", "y", "Hello")
	require.NoError(t, err)

	m := New("y", svc, bus, Config{}, nil)
	require.NoError(t, m.Start(ctx))
	defer m.Close()

	// Y opens the conversation: unread drops to zero
	require.NoError(t, m.Select(ctx, first.ConversationID))
	assert.Equal(t, StateViewing, m.State())
	assert.Equal(t, first.ConversationID, m.ActiveConversation())
	assert.Zero(t, m.UnreadCounts()[first.ConversationID])

	msgs := m.ActiveMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello", msgs[0].Content)

	// X sends again: unread becomes 1 and the open view shows both in order
	second, err := svc.Send(ctx, "x", "y", "Still there?")
	require.NoError(t, err)
	require.Equal(t, first.ConversationID, second.ConversationID)

	assert.Eventually(t, func() bool {
		return m.UnreadCounts()[first.ConversationID] == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		msgs := m.ActiveMessages()
		return len(msgs) == 2 &&
			msgs[0].Content == "Hello" &&
			msgs[1].Content == "Still there?"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_SwitchingConversationsKeepsUnreadOfAbandonedOne(t *testing.T) {
	svc, bus := newTestStack(t)
	ctx := testContext(t)

	fromAlice, err := svc.Send(ctx, "alice", "bob", "hi from alice")
	require.NoError(t, err)
	fromCarol, err := svc.Send(ctx, "carol", "bob", "hi from carol")
	require.NoError(t, err)

	m := New("bob", svc, bus, Config{}, nil)
	require.NoError(t, m.Start(ctx))
	defer m.Close()

	require.NoError(t, m.Select(ctx, fromAlice.ConversationID))
	require.NoError(t, m.Select(ctx, fromCarol.ConversationID))

	// Viewing carol: her unread reset, alice's untouched... and alice's
	// conversation was read while it was active, so it stays at zero;
	// a new message from alice accrues against the now-background thread.
	_, err = svc.Send(ctx, "alice", "bob", "one more")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		counts := m.UnreadCounts()
		return counts[fromAlice.ConversationID] == 1 && counts[fromCarol.ConversationID] == 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, fromCarol.ConversationID, m.ActiveConversation())
}

func TestManager_CloseUnsubscribesExactlyOnce(t *testing.T) {
	svc, _ := newTestStack(t)
	bus := newFakeBus()

	m := New("bob", svc, bus, Config{}, nil)
	require.NoError(t, m.Start(testContext(t)))
	require.Equal(t, 1, bus.subscribeCount())

	m.Close()

	assert.Equal(t, 1, bus.unsubscribeCount(), "Close must release the one subscription")
	assert.Equal(t, 0, bus.liveCount(), "no live subscriptions after Close")
}

func TestManager_NoDeliveryAfterClose(t *testing.T) {
	svc, bus := newTestStack(t)
	ctx := testContext(t)

	m := New("bob", svc, bus, Config{}, nil)
	require.NoError(t, m.Start(ctx))
	m.Close()

	// An event published after teardown must not resurrect session state
	_, err := svc.Send(ctx, "alice", "bob", "anyone home?")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateIdle, m.State())
	assert.Empty(t, m.Conversations())
}

func TestManager_StaleFetchDiscarded(t *testing.T) {
	fake := newFakeMessenger()
	fake.messages["c1"] = []*store.Message{{ID: "m1", ConversationID: "c1", Content: "from c1"}}
	fake.messages["c2"] = []*store.Message{{ID: "m2", ConversationID: "c2", Content: "from c2"}}

	// c1's fetch stalls until released
	release := make(chan struct{})
	fake.gate["c1"] = release

	bus := newFakeBus()
	m := New("bob", fake, bus, Config{}, nil)
	require.NoError(t, m.Start(testContext(t)))
	defer m.Close()

	// Select c1; its fetch blocks in flight
	done := make(chan error, 1)
	go func() {
		done <- m.Select(context.Background(), "c1")
	}()

	// Wait until the c1 fetch is actually in flight, then switch to c2
	require.Eventually(t, func() bool {
		return fake.fetching("c1")
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Select(testContext(t), "c2"))
	require.Equal(t, "c2", m.ActiveConversation())

	// Let the stale c1 fetch resolve; its result must be dropped
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, "c2", m.ActiveConversation())
	msgs := m.ActiveMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "from c2", msgs[0].Content)
}

func TestManager_DuplicateEventsSuppressed(t *testing.T) {
	fake := newFakeMessenger()
	bus := messaging.NewEventBroadcaster(nil)
	defer bus.Close()

	m := New("bob", fake, bus, Config{}, nil)
	require.NoError(t, m.Start(testContext(t)))
	defer m.Close()

	baseline := fake.conversationsCalls()

	ev := &messaging.Event{
		ID:             "evt-dup",
		Kind:           messaging.EventMessageCreated,
		ConversationID: "c1",
		UserID:         "bob",
		Timestamp:      time.Now(),
	}
	bus.Publish("bob", ev, "")
	bus.Publish("bob", ev, "")

	// Exactly one refresh for the two deliveries
	require.Eventually(t, func() bool {
		return fake.conversationsCalls() == baseline+1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, baseline+1, fake.conversationsCalls())
}

func TestManager_ResubscribeKeepsReceiving(t *testing.T) {
	svc, bus := newTestStack(t)
	ctx := testContext(t)

	m := New("bob", svc, bus, Config{}, nil)
	require.NoError(t, m.Start(ctx))
	defer m.Close()

	require.NoError(t, m.Resubscribe(ctx))

	msg, err := svc.Send(ctx, "alice", "bob", "after reconnect")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return m.UnreadCounts()[msg.ConversationID] == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_SelectRequiresStartedSession(t *testing.T) {
	svc, bus := newTestStack(t)

	m := New("bob", svc, bus, Config{}, nil)
	err := m.Select(testContext(t), "c1")
	require.Error(t, err)
}

// fakeMessenger is a controllable Messenger for timing-sensitive tests.
type fakeMessenger struct {
	mu        sync.Mutex
	messages  map[string][]*store.Message
	gate      map[string]chan struct{}
	inFlight  map[string]bool
	convCalls int
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{
		messages: make(map[string][]*store.Message),
		gate:     make(map[string]chan struct{}),
		inFlight: make(map[string]bool),
	}
}

func (f *fakeMessenger) Send(ctx context.Context, senderID, recipientID, content string) (*store.Message, error) {
	return &store.Message{ID: "sent", SenderID: senderID, RecipientID: recipientID, Content: content}, nil
}

func (f *fakeMessenger) Conversations(ctx context.Context, userID string) ([]*store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convCalls++
	return nil, nil
}

func (f *fakeMessenger) Messages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error) {
	f.mu.Lock()
	gate := f.gate[conversationID]
	f.inFlight[conversationID] = true
	msgs := f.messages[conversationID]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	f.inFlight[conversationID] = false
	f.mu.Unlock()
	return msgs, nil
}

func (f *fakeMessenger) UnreadCounts(ctx context.Context, viewerID string) (map[string]int, error) {
	return map[string]int{}, nil
}

func (f *fakeMessenger) ResetUnread(ctx context.Context, conversationID, viewerID string) (int64, error) {
	return 0, nil
}

func (f *fakeMessenger) fetching(conversationID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight[conversationID]
}

func (f *fakeMessenger) conversationsCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.convCalls
}

// fakeBus records subscribe/unsubscribe calls for leak assertions.
type fakeBus struct {
	mu     sync.Mutex
	subs   int
	unsubs int
	live   map[string]chan *messaging.Event
}

func newFakeBus() *fakeBus {
	return &fakeBus{live: make(map[string]chan *messaging.Event)}
}

func (b *fakeBus) Subscribe(ctx context.Context, userID string) (<-chan *messaging.Event, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs++
	subID := userID + "-sub"
	ch := make(chan *messaging.Event, 1)
	b.live[subID] = ch
	return ch, subID
}

func (b *fakeBus) Unsubscribe(userID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.live[subID]; ok {
		close(ch)
		delete(b.live, subID)
		b.unsubs++
	}
}

func (b *fakeBus) subscribeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs
}

func (b *fakeBus) unsubscribeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unsubs
}

func (b *fakeBus) liveCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.live)
}
