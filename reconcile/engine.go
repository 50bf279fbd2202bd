//Package reconcile keeps reaction role bindings in step with the platform. It owns the binding table, applies
//live reaction events, resynchronises against the platform after downtime and enforces toggle group exclusivity.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/callummance/nia-roles/db"
	"github.com/callummance/nia-roles/guildmodels"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	defaultDebounce       = 2 * time.Second
	defaultRequestTimeout = 10 * time.Second
)

//Options tunes the engine
type Options struct {
	//Debounce is the quiet period before a toggle group change is applied
	Debounce time.Duration
	//RequestTimeout bounds every individual platform call
	RequestTimeout time.Duration
}

//Engine is the reconciliation engine. Create one with New and start it with Run.
type Engine struct {
	platform Platform
	store    db.BindingStore
	notifier Notifier
	opts     Options

	table     *bindingTable
	persister *persister
	lanes     *lanes
	timers    *toggleTimers
	queue     *eventQueue

	//resyncMu is held for writing during resync and for reading by every lane task
	resyncMu sync.RWMutex
	loaded   bool
	//held buffers events received before the first resync completes
	held []Event

	ready     chan struct{}
	readyOnce sync.Once
}

//New creates an engine. The platform, store and notifier are used for the engine's whole lifetime.
func New(platform Platform, store db.BindingStore, notifier Notifier, opts Options) *Engine {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	e := &Engine{
		platform: platform,
		store:    store,
		notifier: notifier,
		opts:     opts,
		table:    newBindingTable(),
		lanes:    newLanes(),
		queue:    newEventQueue(),
		ready:    make(chan struct{}),
	}
	e.persister = newPersister(store, e.table.snapshot)
	e.timers = newToggleTimers(opts.Debounce, func(messageID, userID, emojiKey string) {
		e.Submit(Event{Kind: eventToggleSettle, MessageID: messageID, UserID: userID, EmojiKey: emojiKey})
	})
	return e
}

//Submit queues an event for processing. It never blocks.
func (e *Engine) Submit(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if !e.queue.Enqueue(ev) {
		logrus.Debugf("Dropping %v event %v as the engine has stopped", ev.Kind, ev.ID)
	}
}

//Run dispatches queued events until ctx is cancelled. Nothing but EventReady is processed until the first boot
//resync has completed.
func (e *Engine) Run(ctx context.Context) error {
	go e.persister.run(ctx)
	for {
		e.drainQueue(ctx)
		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()
		case _, open := <-e.queue.Wait():
			if !open {
				//Events accepted before the close still get handled
				e.drainQueue(ctx)
				e.shutdown()
				return nil
			}
		}
	}
}

func (e *Engine) drainQueue(ctx context.Context) {
	for {
		ev, ok := e.queue.TryDequeue()
		if !ok {
			return
		}
		e.dispatch(ctx, ev)
	}
}

func (e *Engine) shutdown() {
	e.queue.Close()
	e.timers.stopAll()
	e.lanes.Wait()
	flushCtx, cancel := context.WithTimeout(context.Background(), e.opts.RequestTimeout)
	defer cancel()
	if err := e.persister.write(flushCtx); err != nil {
		logrus.Errorf("Failed to persist role bindings during shutdown: %v", err)
	}
}

//Ready returns a channel which is closed once the first boot resync has finished
func (e *Engine) Ready() <-chan struct{} {
	return e.ready
}

//Flush synchronously writes the binding table to the store
func (e *Engine) Flush(ctx context.Context) error {
	return e.persister.flush(ctx)
}

//Bindings returns a copy of every binding, ordered by composite id
func (e *Engine) Bindings() []guildmodels.RoleBinding {
	return e.table.snapshot()
}

//Binding returns a copy of a single binding
func (e *Engine) Binding(key guildmodels.BindingKey) (*guildmodels.RoleBinding, bool) {
	return e.table.get(key)
}

func (e *Engine) dispatch(ctx context.Context, ev Event) {
	if ev.Kind == EventReady {
		e.resync(ctx)
		e.readyOnce.Do(func() { close(e.ready) })
		held := e.held
		e.held = nil
		for _, h := range held {
			e.route(ctx, h)
		}
		return
	}
	select {
	case <-e.ready:
		e.route(ctx, ev)
	default:
		e.held = append(e.held, ev)
	}
}

//route sends the event to the lane of every message it affects
func (e *Engine) route(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventReactionAdd, EventReactionRemove, EventReactionRemoveAll, eventToggleSettle:
		e.onLane(ev.MessageID, func() { e.process(ctx, ev) })
	case EventMessageDelete:
		for _, messageID := range ev.MessageIDs {
			messageID := messageID
			e.onLane(messageID, func() {
				e.dropBindings(ctx, e.table.byMessage(messageID), false, "message deleted")
			})
		}
	case EventRoleDelete:
		e.dropMatching(ctx, true, "role deleted", func(b *guildmodels.RoleBinding) bool {
			return b.GuildID == ev.GuildID && b.HasRole(ev.RoleID)
		})
	case EventEmojisUpdate:
		remaining := make(map[string]struct{}, len(ev.EmojiKeys))
		for _, k := range ev.EmojiKeys {
			remaining[k] = struct{}{}
		}
		e.dropMatching(ctx, false, "emoji deleted", func(b *guildmodels.RoleBinding) bool {
			if b.GuildID != ev.GuildID || !guildmodels.IsCustomEmojiKey(b.EmojiKey) {
				return false
			}
			_, ok := remaining[b.EmojiKey]
			return !ok
		})
	case EventGuildDelete:
		e.dropMatching(ctx, false, "guild deleted", func(b *guildmodels.RoleBinding) bool {
			return b.GuildID == ev.GuildID
		})
	case EventChannelDelete:
		e.dropMatching(ctx, false, "channel deleted", func(b *guildmodels.RoleBinding) bool {
			return b.ChannelID == ev.ChannelID
		})
	default:
		logrus.Warnf("Ignoring event %v of unknown kind %v", ev.ID, ev.Kind)
	}
}

//onLane runs task on the message's lane, excluded from any concurrent resync
func (e *Engine) onLane(messageID string, task func()) {
	e.lanes.Do(messageID, func() {
		e.resyncMu.RLock()
		defer e.resyncMu.RUnlock()
		task()
	})
}

//process handles a single message-scoped event. It must run on the message's lane.
func (e *Engine) process(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventReactionAdd:
		e.handleReactionAdd(ctx, ev)
	case EventReactionRemove:
		e.handleReactionRemove(ctx, ev)
	case EventReactionRemoveAll:
		e.handleReactionRemoveAll(ctx, ev)
	case eventToggleSettle:
		e.settleToggle(ctx, ev.MessageID, ev.UserID, ev.EmojiKey)
	}
}

//callCtx bounds a single platform call by the configured request timeout
func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opts.RequestTimeout)
}

func eventLog(ev Event) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"event":   ev.ID,
		"kind":    ev.Kind.String(),
		"message": ev.MessageID,
		"emoji":   ev.EmojiKey,
		"member":  ev.UserID,
	})
}
