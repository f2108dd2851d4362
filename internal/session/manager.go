// ABOUTME: Per-user session state machine over the messaging service and event bus
// ABOUTME: Owns exactly one live subscription and the view state the UI layer reads

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/slatelearn/messaging/internal/dedupe"
	"github.com/slatelearn/messaging/internal/messaging"
	"github.com/slatelearn/messaging/internal/store"
)

// State is the session lifecycle state.
type State string

const (
	// StateIdle means no session is live; nothing is subscribed.
	StateIdle State = "idle"
	// StateLoading means the initial conversation-list fetch is in flight.
	StateLoading State = "loading"
	// StateReady means the list is loaded and the subscription is open.
	StateReady State = "ready"
	// StateViewing means a conversation is active and its messages loaded.
	StateViewing State = "viewing"
)

// Defaults for Config zero values.
const (
	defaultFetchLimit = 200
	defaultDedupeTTL  = 5 * time.Minute
	defaultDedupeSize = 1024
)

// Messenger defines what the manager needs from the messaging layer.
type Messenger interface {
	Send(ctx context.Context, senderID, recipientID, content string) (*store.Message, error)
	Conversations(ctx context.Context, userID string) ([]*store.Conversation, error)
	Messages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error)
	UnreadCounts(ctx context.Context, viewerID string) (map[string]int, error)
	ResetUnread(ctx context.Context, conversationID, viewerID string) (int64, error)
}

// Bus defines the subscription surface the manager consumes.
type Bus interface {
	Subscribe(ctx context.Context, userID string) (<-chan *messaging.Event, string)
	Unsubscribe(userID, subID string)
}

// Config tunes a session manager. Zero values get defaults.
type Config struct {
	// FetchLimit caps how many messages are loaded per conversation.
	FetchLimit int
	// DedupeTTL and DedupeSize bound the duplicate-suppression cache.
	DedupeTTL  time.Duration
	DedupeSize int
}

// Manager owns one user session: the conversation list, the unread map,
// the active conversation's messages, and the single bus subscription.
// All view state is session-local; two sessions for the same user each
// hold their own Manager and subscription.
type Manager struct {
	userID string
	svc    Messenger
	bus    Bus
	cfg    Config
	logger *slog.Logger

	// changes gets a ping after every visible state change so a transport
	// can push a fresh snapshot. Buffered: coalesces bursts.
	changes chan struct{}

	mu             sync.Mutex
	state          State
	conversations  []*store.Conversation
	unread         map[string]int
	activeID       string
	activeMessages []*store.Message
	events         <-chan *messaging.Event
	subID          string
	cancel         context.CancelFunc
	loopDone       chan struct{}
	seen           *dedupe.Cache
}

// New creates a manager in the Idle state. Pass nil logger for default.
func New(userID string, svc Messenger, bus Bus, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = defaultFetchLimit
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = defaultDedupeTTL
	}
	if cfg.DedupeSize <= 0 {
		cfg.DedupeSize = defaultDedupeSize
	}
	return &Manager{
		userID:  userID,
		svc:     svc,
		bus:     bus,
		cfg:     cfg,
		logger:  logger.With("component", "session", "user_id", userID),
		changes: make(chan struct{}, 1),
		state:   StateIdle,
	}
}

// Start transitions Idle -> Loading -> Ready: it fetches the conversation
// list and unread map, opens the single subscription for this session, and
// spawns the event loop. A fetch failure returns the session to Idle with
// the error; Start may be called again to retry.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return fmt.Errorf("session already started (state %s)", m.state)
	}
	m.state = StateLoading
	m.mu.Unlock()

	conversations, err := m.svc.Conversations(ctx, m.userID)
	if err != nil {
		m.toIdle()
		return fmt.Errorf("loading conversations: %w", err)
	}
	unread, err := m.svc.UnreadCounts(ctx, m.userID)
	if err != nil {
		m.toIdle()
		return fmt.Errorf("loading unread counts: %w", err)
	}

	// The loop context outlives the Start call; it is cancelled by Close.
	loopCtx, cancel := context.WithCancel(context.Background())
	ch, subID := m.bus.Subscribe(loopCtx, m.userID)
	loopDone := make(chan struct{})

	m.mu.Lock()
	m.conversations = conversations
	m.unread = unread
	m.events = ch
	m.subID = subID
	m.cancel = cancel
	m.loopDone = loopDone
	m.seen = dedupe.New(m.cfg.DedupeTTL, m.cfg.DedupeSize)
	m.state = StateReady
	m.mu.Unlock()

	go m.eventLoop(loopCtx, ch, loopDone)

	m.logger.Debug("session started", "conversations", len(conversations))
	m.ping()
	return nil
}

// toIdle resets the state after a failed Start.
func (m *Manager) toIdle() {
	m.mu.Lock()
	m.state = StateIdle
	m.mu.Unlock()
}

// Select makes conversationID the active conversation, fetches its
// messages, and resets the viewer's unread count for it. A fetch that
// completes after the active conversation has moved on is discarded, so
// an out-of-order async completion can never overwrite newer state.
func (m *Manager) Select(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	if m.state != StateReady && m.state != StateViewing {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("cannot select conversation in state %s", state)
	}
	m.activeID = conversationID
	m.activeMessages = nil
	m.state = StateViewing
	m.mu.Unlock()
	m.ping()

	messages, err := m.svc.Messages(ctx, conversationID, m.cfg.FetchLimit)
	if err != nil {
		// Recoverable: the next event or an explicit re-select retries.
		m.logger.Warn("message fetch failed",
			"error", err,
			"conversation_id", conversationID)
		return fmt.Errorf("fetching messages: %w", err)
	}

	m.mu.Lock()
	if m.activeID != conversationID {
		// The user switched conversations while this fetch was in flight.
		m.mu.Unlock()
		m.logger.Debug("discarding stale message fetch",
			"conversation_id", conversationID)
		return nil
	}
	m.activeMessages = messages
	m.mu.Unlock()

	if _, err := m.svc.ResetUnread(ctx, conversationID, m.userID); err != nil {
		m.logger.Warn("unread reset failed",
			"error", err,
			"conversation_id", conversationID)
	} else {
		m.mu.Lock()
		if m.unread != nil {
			delete(m.unread, conversationID)
		}
		m.mu.Unlock()
	}

	m.ping()
	return nil
}

// Send delivers a message through the service and refreshes the session
// view. Validation errors pass through untouched for the caller to surface.
func (m *Manager) Send(ctx context.Context, recipientID, content string) (*store.Message, error) {
	msg, err := m.svc.Send(ctx, m.userID, recipientID, content)
	if err != nil {
		return nil, err
	}

	// The bus will also deliver this event, but refresh directly so the
	// sender's view is current even if the delivery is dropped.
	m.refresh(ctx, msg.ConversationID)
	return msg, nil
}

// Resubscribe swaps in a fresh subscription and then releases the old one.
// The overlap window cannot double-apply events: the loop dedupes by event
// ID. Used by transports after a reconnect of the underlying channel.
func (m *Manager) Resubscribe(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateIdle || m.state == StateLoading {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("cannot resubscribe in state %s", state)
	}
	oldSubID := m.subID

	loopCtx, cancel := context.WithCancel(context.Background())
	oldCancel := m.cancel
	ch, subID := m.bus.Subscribe(loopCtx, m.userID)
	m.events = ch
	m.subID = subID
	m.cancel = cancel
	oldLoopDone := m.loopDone
	loopDone := make(chan struct{})
	m.loopDone = loopDone
	m.mu.Unlock()

	go m.eventLoop(loopCtx, ch, loopDone)

	// Tear down the old subscription and its loop
	oldCancel()
	<-oldLoopDone
	m.bus.Unsubscribe(m.userID, oldSubID)

	m.logger.Debug("resubscribed", "old_sub_id", oldSubID, "sub_id", subID)
	return nil
}

// Close ends the session: any state -> Idle. The subscription is released
// as the final step of teardown on every exit path, so no events can be
// delivered to a closed session.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	loopDone := m.loopDone
	subID := m.subID
	seen := m.seen
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if loopDone != nil {
		<-loopDone
	}
	if seen != nil {
		seen.Close()
	}
	if subID != "" {
		m.bus.Unsubscribe(m.userID, subID)
	}

	m.mu.Lock()
	m.state = StateIdle
	m.conversations = nil
	m.unread = nil
	m.activeID = ""
	m.activeMessages = nil
	m.events = nil
	m.subID = ""
	m.cancel = nil
	m.loopDone = nil
	m.seen = nil
	m.mu.Unlock()

	m.logger.Debug("session closed")
}

// eventLoop applies bus events to the session until its context ends.
func (m *Manager) eventLoop(ctx context.Context, ch <-chan *messaging.Event, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			m.handleEvent(ctx, ev)
		}
	}
}

// handleEvent refreshes the list and unread map for every event, and the
// active messages only when the event touches the active conversation.
// Failed fetches leave stale data visible; the next event retries.
func (m *Manager) handleEvent(ctx context.Context, ev *messaging.Event) {
	m.mu.Lock()
	seen := m.seen
	m.mu.Unlock()
	if seen == nil {
		return
	}
	if seen.CheckAndMark(ev.ID) {
		m.logger.Debug("suppressed duplicate event", "event_id", ev.ID)
		return
	}

	m.logger.Debug("event received",
		"event_id", ev.ID,
		"kind", ev.Kind,
		"conversation_id", ev.ConversationID)

	m.refresh(ctx, ev.ConversationID)
}

// refresh re-fetches the conversation list and unread map, plus the active
// conversation's messages when touchedConversationID matches it.
func (m *Manager) refresh(ctx context.Context, touchedConversationID string) {
	conversations, err := m.svc.Conversations(ctx, m.userID)
	if err != nil {
		m.logger.Warn("conversation list refresh failed", "error", err)
	} else {
		m.mu.Lock()
		m.conversations = conversations
		m.mu.Unlock()
	}

	unread, err := m.svc.UnreadCounts(ctx, m.userID)
	if err != nil {
		m.logger.Warn("unread refresh failed", "error", err)
	} else {
		m.mu.Lock()
		m.unread = unread
		m.mu.Unlock()
	}

	m.mu.Lock()
	activeID := m.activeID
	m.mu.Unlock()

	if activeID != "" && activeID == touchedConversationID {
		messages, err := m.svc.Messages(ctx, activeID, m.cfg.FetchLimit)
		if err != nil {
			m.logger.Warn("active message refresh failed",
				"error", err,
				"conversation_id", activeID)
		} else {
			m.mu.Lock()
			// Guard against the active conversation changing mid-fetch
			if m.activeID == activeID {
				m.activeMessages = messages
			}
			m.mu.Unlock()
		}
	}

	m.ping()
}

// ping signals a visible state change without blocking.
func (m *Manager) ping() {
	select {
	case m.changes <- struct{}{}:
	default:
	}
}

// Changes returns a channel that receives a signal after state changes.
// Signals coalesce; read the snapshot accessors for the current state.
func (m *Manager) Changes() <-chan struct{} {
	return m.changes
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// UserID returns the session's user.
func (m *Manager) UserID() string {
	return m.userID
}

// Conversations returns the conversation list, most recently active first.
func (m *Manager) Conversations() []*store.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*store.Conversation, len(m.conversations))
	copy(out, m.conversations)
	return out
}

// UnreadCounts returns the unread map keyed by conversation ID.
func (m *Manager) UnreadCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.unread))
	for k, v := range m.unread {
		out[k] = v
	}
	return out
}

// ActiveConversation returns the active conversation ID, or "" if none.
func (m *Manager) ActiveConversation() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

// ActiveMessages returns the active conversation's messages in
// chronological order, or nil when no conversation is active.
func (m *Manager) ActiveMessages() []*store.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*store.Message, len(m.activeMessages))
	copy(out, m.activeMessages)
	return out
}
