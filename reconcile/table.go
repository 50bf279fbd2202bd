package reconcile

import (
	"sort"
	"sync"

	"github.com/callummance/nia-roles/guildmodels"
)

//bindingTable owns the live bindings. Callers only ever see clones; mutations go through update so the persister
//can snapshot concurrently.
type bindingTable struct {
	mu       sync.RWMutex
	bindings map[guildmodels.BindingKey]*guildmodels.RoleBinding
}

func newBindingTable() *bindingTable {
	return &bindingTable{bindings: make(map[guildmodels.BindingKey]*guildmodels.RoleBinding)}
}

//replace swaps the whole table for the given bindings. Later duplicates of a key overwrite earlier ones.
func (t *bindingTable) replace(bindings []guildmodels.RoleBinding) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bindings = make(map[guildmodels.BindingKey]*guildmodels.RoleBinding, len(bindings))
	for i := range bindings {
		b := bindings[i].Clone()
		t.bindings[b.Key()] = b
	}
}

func (t *bindingTable) get(key guildmodels.BindingKey) (*guildmodels.RoleBinding, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.bindings[key]
	if !ok {
		return nil, false
	}
	return b.Clone(), true
}

//put inserts b, returning true if it replaced an existing binding with the same key
func (t *bindingTable) put(b *guildmodels.RoleBinding) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, existed := t.bindings[b.Key()]
	t.bindings[b.Key()] = b.Clone()
	return existed
}

func (t *bindingTable) remove(key guildmodels.BindingKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.bindings[key]
	delete(t.bindings, key)
	return ok
}

//update applies fn to the stored binding and returns its result, or false if the binding no longer exists
func (t *bindingTable) update(key guildmodels.BindingKey, fn func(b *guildmodels.RoleBinding) bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.bindings[key]
	if !ok {
		return false
	}
	return fn(b)
}

//byMessage returns the bindings on a message ordered by emoji key
func (t *bindingTable) byMessage(messageID string) []*guildmodels.RoleBinding {
	return t.filter(func(b *guildmodels.RoleBinding) bool {
		return b.MessageID == messageID
	})
}

//filter returns clones of every binding matching pred, ordered by message then emoji
func (t *bindingTable) filter(pred func(b *guildmodels.RoleBinding) bool) []*guildmodels.RoleBinding {
	t.mu.RLock()
	res := make([]*guildmodels.RoleBinding, 0)
	for _, b := range t.bindings {
		if pred(b) {
			res = append(res, b.Clone())
		}
	}
	t.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool {
		if res[i].MessageID != res[j].MessageID {
			return res[i].MessageID < res[j].MessageID
		}
		return res[i].EmojiKey < res[j].EmojiKey
	})
	return res
}

//snapshot returns a copy of every binding, ordered by composite id
func (t *bindingTable) snapshot() []guildmodels.RoleBinding {
	all := t.filter(func(*guildmodels.RoleBinding) bool { return true })
	res := make([]guildmodels.RoleBinding, 0, len(all))
	for _, b := range all {
		res = append(res, *b)
	}
	return res
}

func (t *bindingTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.bindings)
}
