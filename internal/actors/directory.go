package actors

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rendis/skillscript/internal/actions"
	"github.com/rendis/skillscript/internal/logging"
	"github.com/rendis/skillscript/pkg/schema"
)

// DefaultInboxLimit caps the messages kept per actor; older ones are dropped.
const DefaultInboxLimit = 256

// Actor is an in-memory actor handle. It stays valid until removed from
// its Directory or invalidated explicitly.
type Actor struct {
	id    string
	valid atomic.Bool
}

var _ actions.Actor = (*Actor)(nil)

func (a *Actor) ID() string  { return a.id }
func (a *Actor) Valid() bool { return a.valid.Load() }

// Invalidate marks the actor as gone. Tasks bound to it stop on their next tick.
func (a *Actor) Invalidate() { a.valid.Store(false) }

// Message is a text delivered to an actor by a running task.
type Message struct {
	TaskID string    `json:"task_id,omitempty"`
	From   string    `json:"from,omitempty"`
	To     string    `json:"to"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// DeliverHook observes every delivered message.
type DeliverHook func(ctx context.Context, msg Message)

// Directory tracks actors and their inboxes. It is the Messenger used by
// the sendmessage step.
type Directory struct {
	mu     sync.RWMutex
	actors map[string]*Actor
	inbox  map[string][]Message
	hooks  []DeliverHook
	limit  int
}

var _ actions.Messenger = (*Directory)(nil)

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{
		actors: make(map[string]*Actor),
		inbox:  make(map[string][]Message),
		limit:  DefaultInboxLimit,
	}
}

// SetInboxLimit changes the per-actor inbox cap. Non-positive values are ignored.
func (d *Directory) SetInboxLimit(n int) {
	if n <= 0 {
		return
	}
	d.mu.Lock()
	d.limit = n
	d.mu.Unlock()
}

// OnDeliver registers a hook called after each successful delivery.
func (d *Directory) OnDeliver(hook DeliverHook) {
	d.mu.Lock()
	d.hooks = append(d.hooks, hook)
	d.mu.Unlock()
}

// Register returns the actor with id, creating it if needed. A previously
// invalidated actor is revived.
func (d *Directory) Register(id string) (*Actor, error) {
	if id == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "actor id is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.actors[id]
	if !ok {
		a = &Actor{id: id}
		d.actors[id] = a
	}
	a.valid.Store(true)
	return a, nil
}

// Get returns the actor with id.
func (d *Directory) Get(id string) (*Actor, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.actors[id]
	return a, ok
}

// Lookup returns the actor as an actions.Actor.
func (d *Directory) Lookup(id string) (actions.Actor, bool) {
	a, ok := d.Get(id)
	if !ok {
		return nil, false
	}
	return a, true
}

// Remove invalidates the actor and forgets it along with its inbox.
func (d *Directory) Remove(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.actors[id]
	if !ok {
		return false
	}
	a.Invalidate()
	delete(d.actors, id)
	delete(d.inbox, id)
	return true
}

// IDs returns the registered actor IDs, sorted.
func (d *Directory) IDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.actors))
	for id := range d.actors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Deliver appends message to the inbox of actorID. The sender task and
// actor are taken from the logging correlation IDs in ctx.
func (d *Directory) Deliver(ctx context.Context, actorID, message string) error {
	msg := Message{
		TaskID: logging.TaskID(ctx),
		From:   logging.ActorID(ctx),
		To:     actorID,
		Text:   message,
		At:     time.Now().UTC(),
	}

	d.mu.Lock()
	a, ok := d.actors[actorID]
	if !ok {
		d.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeNotFound, "actor %q not found", actorID)
	}
	if !a.Valid() {
		d.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeActorInvalid, "actor %q is no longer valid", actorID)
	}
	box := append(d.inbox[actorID], msg)
	if over := len(box) - d.limit; over > 0 {
		box = box[over:]
	}
	d.inbox[actorID] = box
	hooks := d.hooks
	d.mu.Unlock()

	for _, hook := range hooks {
		hook(ctx, msg)
	}
	return nil
}

// Inbox returns a copy of the messages waiting for actorID.
func (d *Directory) Inbox(actorID string) []Message {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Message(nil), d.inbox[actorID]...)
}

// Drain returns and clears the messages waiting for actorID.
func (d *Directory) Drain(actorID string) []Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	msgs := d.inbox[actorID]
	delete(d.inbox, actorID)
	return msgs
}
