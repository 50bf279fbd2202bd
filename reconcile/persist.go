package reconcile

import (
	"context"
	"sync"

	"github.com/callummance/nia-roles/db"
	"github.com/callummance/nia-roles/guildmodels"
	"github.com/sirupsen/logrus"
)

//persister is the only writer to the binding store. Requests only mark the table dirty; the snapshot is taken at
//write time, so a write can never carry state older than the last completed one.
type persister struct {
	store    db.BindingStore
	snapshot func() []guildmodels.RoleBinding

	mu     sync.Mutex
	dirty  bool
	signal chan struct{}

	writeMu sync.Mutex
}

func newPersister(store db.BindingStore, snapshot func() []guildmodels.RoleBinding) *persister {
	return &persister{
		store:    store,
		snapshot: snapshot,
		signal:   make(chan struct{}, 1),
	}
}

//request schedules a write of the current table
func (p *persister) request() {
	p.mu.Lock()
	p.dirty = true
	p.mu.Unlock()
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

func (p *persister) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.signal:
			_ = p.write(ctx)
		}
	}
}

//write saves the table if it changed since the last successful write. Failed writes leave the table dirty so the
//next request retries the full snapshot.
func (p *persister) write(ctx context.Context) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	if !p.dirty {
		p.mu.Unlock()
		return nil
	}
	p.dirty = false
	snap := p.snapshot()
	p.mu.Unlock()

	if p.store == nil {
		return nil
	}
	err := p.store.SaveAll(ctx, snap)
	if err != nil {
		p.mu.Lock()
		p.dirty = true
		p.mu.Unlock()
		logrus.Warnf("Failed to persist %d role bindings, continuing in memory: %v", len(snap), err)
		return err
	}
	logrus.Debugf("Persisted %d role bindings", len(snap))
	return nil
}

//flush marks the table dirty and writes it synchronously
func (p *persister) flush(ctx context.Context) error {
	p.mu.Lock()
	p.dirty = true
	p.mu.Unlock()
	return p.write(ctx)
}
