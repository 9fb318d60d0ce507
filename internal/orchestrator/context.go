package orchestrator

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message is an entry in the shared message log.
type Message struct {
	ID        string         `json:"id"`
	Sender    string         `json:"sender"`
	Text      string         `json:"text"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// SharedContext is the per-run blackboard shared by every task. A single
// mutex guards both the key/value store and the message log.
type SharedContext struct {
	mu     sync.Mutex
	store  map[string]any
	queue  []Message
	signal chan struct{}
}

// NewSharedContext creates an empty context, optionally seeded with values.
func NewSharedContext(seed map[string]any) *SharedContext {
	sc := &SharedContext{
		store:  make(map[string]any, len(seed)),
		signal: make(chan struct{}, 1),
	}
	maps.Copy(sc.store, seed)
	return sc
}

// Get returns the value stored under key, or def when absent.
func (sc *SharedContext) Get(key string, def any) any {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if v, ok := sc.store[key]; ok {
		return v
	}
	return def
}

// Set stores value under key.
func (sc *SharedContext) Set(key string, value any) {
	sc.mu.Lock()
	sc.store[key] = value
	sc.mu.Unlock()
}

// Update applies all pairs under one lock, so readers see all or none.
func (sc *SharedContext) Update(values map[string]any) {
	if len(values) == 0 {
		return
	}
	sc.mu.Lock()
	maps.Copy(sc.store, values)
	sc.mu.Unlock()
}

// GetAll returns a shallow copy of the store.
func (sc *SharedContext) GetAll() map[string]any {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return maps.Clone(sc.store)
}

// Snapshot returns the store as a Snapshot for task invocation.
func (sc *SharedContext) Snapshot() Snapshot {
	return Snapshot(sc.GetAll())
}

// PostMessage appends a message to the log. It never blocks on readers.
func (sc *SharedContext) PostMessage(sender, text string, payload map[string]any) Message {
	msg := Message{
		ID:        uuid.New().String(),
		Sender:    sender,
		Text:      text,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.queue = append(sc.queue, msg)
	select {
	case sc.signal <- struct{}{}:
	default:
	}
	return msg
}

// DrainMessages removes and returns every queued message. When the log is
// empty it waits up to timeout for a post, then returns whatever is there
// (possibly nothing).
func (sc *SharedContext) DrainMessages(timeout time.Duration) []Message {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return sc.DrainMessagesContext(ctx)
}

// DrainMessagesContext is DrainMessages bounded by ctx instead of a timeout.
func (sc *SharedContext) DrainMessagesContext(ctx context.Context) []Message {
	if msgs := sc.take(); len(msgs) > 0 {
		return msgs
	}
	select {
	case <-sc.signal:
	case <-ctx.Done():
	}
	return sc.take()
}

// take empties the log and consumes any pending wakeup, so a later drain
// on an empty log waits for a fresh post.
func (sc *SharedContext) take() []Message {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	msgs := sc.queue
	sc.queue = nil
	select {
	case <-sc.signal:
	default:
	}
	return msgs
}

// Messages is the message log as seen by a running task.
type Messages interface {
	PostMessage(sender, text string, payload map[string]any) Message
	DrainMessages(timeout time.Duration) []Message
	DrainMessagesContext(ctx context.Context) []Message
}

type messagesKey struct{}

func withMessages(ctx context.Context, m Messages) context.Context {
	return context.WithValue(ctx, messagesKey{}, m)
}

// MessagesFrom returns the message log of the run a task is executing in.
// It reports false outside a scheduled task.
func MessagesFrom(ctx context.Context) (Messages, bool) {
	m, ok := ctx.Value(messagesKey{}).(Messages)
	return m, ok
}

// Snapshot is a task's private copy of the shared context.
type Snapshot map[string]any

// Get returns the value under key or def.
func (s Snapshot) Get(key string, def any) any {
	if v, ok := s[key]; ok {
		return v
	}
	return def
}

// String returns the value under key when it is a string.
func (s Snapshot) String(key string) string {
	v, _ := s[key].(string)
	return v
}

// AgentName is the name of the task the snapshot was taken for.
func (s Snapshot) AgentName() string { return s.String(KeyAgentName) }

// Config is the per-task configuration merged into the snapshot.
func (s Snapshot) Config() map[string]any {
	cfg, _ := s[KeyConfig].(map[string]any)
	return cfg
}
