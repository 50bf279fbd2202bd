package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/callummance/nia-roles/guildmodels"
)

const botID = "bot"

type fakeMessage struct {
	guildID   string
	channelID string
	//emoji -> ordered reactor ids
	reactions map[string][]string
}

//fakePlatform is an in-memory guild. Role and reaction commands mutate it and are recorded in calls.
type fakePlatform struct {
	mu sync.Mutex

	guilds   map[string]bool
	roles    map[string]bool
	channels map[string]bool
	messages map[string]*fakeMessage
	members  map[string]*guildmodels.Member
	emojis   map[string]bool

	denyManageRoles bool
	denyReactions   bool

	calls []string
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		guilds:   map[string]bool{"g1": true},
		roles:    map[string]bool{},
		channels: map[string]bool{"c1": true},
		messages: map[string]*fakeMessage{},
		members:  map[string]*guildmodels.Member{},
		emojis:   map[string]bool{},
	}
}

func (f *fakePlatform) addRole(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.roles[id] = true
	}
}

func (f *fakePlatform) deleteRole(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.roles, id)
	for _, m := range f.members {
		m.RoleIDs = without(m.RoleIDs, id)
	}
}

func (f *fakePlatform) addMessage(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[id] = &fakeMessage{guildID: "g1", channelID: "c1", reactions: map[string][]string{}}
}

func (f *fakePlatform) addMember(m guildmodels.Member) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := m
	cp.RoleIDs = append([]string(nil), m.RoleIDs...)
	f.members[m.UserID] = &cp
}

func (f *fakePlatform) removeMember(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members, userID)
}

//react records a reaction without generating an event
func (f *fakePlatform) react(messageID, emoji, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := f.messages[messageID]
	for _, u := range msg.reactions[emoji] {
		if u == userID {
			return
		}
	}
	msg.reactions[emoji] = append(msg.reactions[emoji], userID)
}

func (f *fakePlatform) unreact(messageID, emoji, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := f.messages[messageID]
	msg.reactions[emoji] = without(msg.reactions[emoji], userID)
}

func (f *fakePlatform) reactors(messageID, emoji string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages[messageID].reactions[emoji]...)
}

func (f *fakePlatform) memberRoles(userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[userID]
	if !ok {
		return nil
	}
	res := append([]string(nil), m.RoleIDs...)
	sort.Strings(res)
	return res
}

func (f *fakePlatform) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakePlatform) callsWithPrefix(prefix string) []string {
	var res []string
	for _, c := range f.recorded() {
		if strings.HasPrefix(c, prefix) {
			res = append(res, c)
		}
	}
	return res
}

func (f *fakePlatform) resetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *fakePlatform) record(format string, args ...interface{}) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func notFound(what, id string) error {
	return fmt.Errorf("%w: unknown %v %v", guildmodels.ErrUnresolvedReference, what, id)
}

func (f *fakePlatform) SelfID() string { return botID }

func (f *fakePlatform) ResolveGuild(ctx context.Context, guildID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.guilds[guildID] {
		return notFound("guild", guildID)
	}
	return nil
}

func (f *fakePlatform) ResolveRole(ctx context.Context, guildID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.roles[roleID] {
		return notFound("role", roleID)
	}
	return nil
}

func (f *fakePlatform) ResolveChannel(ctx context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.channels[channelID] {
		return notFound("channel", channelID)
	}
	return nil
}

func (f *fakePlatform) FetchMessage(ctx context.Context, channelID, messageID string) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[messageID]
	if !ok || !f.channels[channelID] {
		return nil, notFound("message", messageID)
	}
	res := &Message{ID: messageID, ChannelID: msg.channelID, GuildID: msg.guildID}
	for emoji, users := range msg.reactions {
		if len(users) == 0 {
			continue
		}
		me := false
		for _, u := range users {
			if u == botID {
				me = true
			}
		}
		res.Reactions = append(res.Reactions, Reaction{EmojiKey: emoji, Count: len(users), Me: me})
	}
	return res, nil
}

func (f *fakePlatform) FetchMember(ctx context.Context, guildID, userID string) (*guildmodels.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[userID]
	if !ok {
		return nil, notFound("member", userID)
	}
	cp := *m
	cp.RoleIDs = append([]string(nil), m.RoleIDs...)
	return &cp, nil
}

func (f *fakePlatform) FetchReactors(ctx context.Context, channelID, messageID, emojiKey string) ([]Reactor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[messageID]
	if !ok {
		return nil, notFound("message", messageID)
	}
	res := make([]Reactor, 0)
	for _, u := range msg.reactions[emojiKey] {
		bot := u == botID
		if m, ok := f.members[u]; ok && m.Bot {
			bot = true
		}
		res = append(res, Reactor{UserID: u, Bot: bot})
	}
	return res, nil
}

func (f *fakePlatform) ResolveEmoji(ctx context.Context, guildID, raw string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if raw == "" {
		return "", fmt.Errorf("empty emoji")
	}
	if guildmodels.IsCustomEmojiKey(raw) && !f.emojis[raw] {
		return "", notFound("emoji", raw)
	}
	return raw, nil
}

func (f *fakePlatform) AddReaction(ctx context.Context, guildID, channelID, messageID, emojiKey string) error {
	f.mu.Lock()
	_, ok := f.messages[messageID]
	if !ok {
		f.mu.Unlock()
		return notFound("message", messageID)
	}
	f.record("react %v %v", messageID, emojiKey)
	f.mu.Unlock()
	f.react(messageID, emojiKey, botID)
	return nil
}

func (f *fakePlatform) RemoveReaction(ctx context.Context, guildID, channelID, messageID, emojiKey, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[messageID]
	if !ok {
		return notFound("message", messageID)
	}
	if f.denyReactions {
		return fmt.Errorf("%w: cannot manage reactions", guildmodels.ErrMissingPermissions)
	}
	f.record("unreact %v %v %v", messageID, emojiKey, userID)
	msg.reactions[emojiKey] = without(msg.reactions[emojiKey], userID)
	return nil
}

func (f *fakePlatform) GrantRole(ctx context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[userID]
	if !ok {
		return notFound("member", userID)
	}
	if !f.roles[roleID] {
		return notFound("role", roleID)
	}
	f.record("grant %v %v", userID, roleID)
	if !m.HasRole(roleID) {
		m.RoleIDs = append(m.RoleIDs, roleID)
	}
	return nil
}

func (f *fakePlatform) RevokeRole(ctx context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[userID]
	if !ok {
		return notFound("member", userID)
	}
	f.record("revoke %v %v", userID, roleID)
	m.RoleIDs = without(m.RoleIDs, roleID)
	return nil
}

func (f *fakePlatform) CanManageRoles(ctx context.Context, guildID string, roleIDs []string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.denyManageRoles, nil
}

func (f *fakePlatform) CanAddReactions(ctx context.Context, channelID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.denyReactions, nil
}

//memStore is an in-memory BindingStore
type memStore struct {
	mu      sync.Mutex
	saved   []guildmodels.RoleBinding
	saves   int
	loadErr error
	saveErr error
}

func (m *memStore) LoadAll(ctx context.Context) ([]guildmodels.RoleBinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	res := make([]guildmodels.RoleBinding, 0, len(m.saved))
	for _, b := range m.saved {
		res = append(res, *b.Clone())
	}
	return res, nil
}

func (m *memStore) SaveAll(ctx context.Context, bindings []guildmodels.RoleBinding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.saved = make([]guildmodels.RoleBinding, 0, len(bindings))
	for _, b := range bindings {
		m.saved = append(m.saved, *b.Clone())
	}
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) snapshot() []guildmodels.RoleBinding {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]guildmodels.RoleBinding(nil), m.saved...)
}

func (m *memStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

//recorder collects notifications
type recorder struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recorder) ofKind(kind NotificationKind) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []Notification
	for _, n := range r.notes {
		if n.Kind == kind {
			res = append(res, n)
		}
	}
	return res
}
