package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/callummance/nia-roles/guildmodels"
	"github.com/sirupsen/logrus"
)

type timerKey struct {
	messageID string
	userID    string
}

type pendingSettle struct {
	timer *time.Timer
	gen   uint64
	//emojiKey is the toggle binding the member reacted to most recently
	emojiKey string
}

//toggleTimers holds one debounce timer per (message, member). Rescheduling stops the old timer and bumps the
//generation, so a timer that already fired but lost the race for mu does nothing.
type toggleTimers struct {
	mu      sync.Mutex
	delay   time.Duration
	gen     uint64
	pending map[timerKey]*pendingSettle
	fire    func(messageID, userID, emojiKey string)
}

func newToggleTimers(delay time.Duration, fire func(messageID, userID, emojiKey string)) *toggleTimers {
	return &toggleTimers{
		delay:   delay,
		pending: make(map[timerKey]*pendingSettle),
		fire:    fire,
	}
}

//schedule (re)starts the member's debounce timer. An empty emojiKey keeps the previously preferred emoji.
func (t *toggleTimers) schedule(messageID, userID, emojiKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := timerKey{messageID: messageID, userID: userID}
	if old, ok := t.pending[k]; ok {
		old.timer.Stop()
		if emojiKey == "" {
			emojiKey = old.emojiKey
		}
	}
	t.gen++
	p := &pendingSettle{gen: t.gen, emojiKey: emojiKey}
	gen := t.gen
	p.timer = time.AfterFunc(t.delay, func() { t.expire(k, gen) })
	t.pending[k] = p
}

func (t *toggleTimers) expire(k timerKey, gen uint64) {
	t.mu.Lock()
	p, ok := t.pending[k]
	if !ok || p.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.pending, k)
	t.mu.Unlock()
	t.fire(k.messageID, k.userID, p.emojiKey)
}

//pendingFor returns the preferred emoji of a pending timer, if there is one
func (t *toggleTimers) pendingFor(messageID, userID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[timerKey{messageID: messageID, userID: userID}]
	if !ok {
		return "", false
	}
	return p.emojiKey, true
}

func (t *toggleTimers) cancelMessage(messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, p := range t.pending {
		if k.messageID == messageID {
			p.timer.Stop()
			delete(t.pending, k)
		}
	}
}

func (t *toggleTimers) stopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, p := range t.pending {
		p.timer.Stop()
		delete(t.pending, k)
	}
}

//settleToggle resolves a member's state in the toggle group on messageID once their reactions have been quiet for
//the debounce period. The member keeps at most one binding of the group: the one they reacted to last if that
//reaction is still present, otherwise the still-reacted binding with the lowest emoji key. Every other binding's
//roles are revoked and its reaction stripped.
func (e *Engine) settleToggle(ctx context.Context, messageID, userID, preferred string) {
	log := logrus.WithFields(logrus.Fields{"message": messageID, "member": userID, "kind": eventToggleSettle.String()})
	group := make([]*guildmodels.RoleBinding, 0)
	for _, b := range e.table.byMessage(messageID) {
		if b.Type == guildmodels.BindingToggle && !b.Disabled {
			group = append(group, b)
		}
	}
	if len(group) == 0 {
		return
	}
	guildID := group[0].GuildID
	touched := false
	defer func() {
		if touched {
			e.persister.request()
		}
	}()

	member, err := e.fetchMember(ctx, guildID, userID)
	if errors.Is(err, guildmodels.ErrUnresolvedReference) {
		//Left the guild while the timer was pending
		for _, b := range group {
			if e.table.update(b.Key(), func(stored *guildmodels.RoleBinding) bool { return stored.RemoveWinner(userID) }) {
				touched = true
			}
		}
		return
	} else if err != nil {
		log.Warnf("Failed to fetch member to settle toggle group: %v", err)
		return
	}

	reacted := make(map[guildmodels.BindingKey]bool, len(group))
	for _, b := range group {
		has, err := e.hasReacted(ctx, b, userID)
		if err != nil {
			log.Warnf("Failed to read reactors for %v, leaving toggle group unsettled: %v", b.ID, err)
			return
		}
		reacted[b.Key()] = has
	}

	var selected *guildmodels.RoleBinding
	for _, b := range group {
		if reacted[b.Key()] && b.EmojiKey == preferred {
			selected = b
		}
	}
	if selected == nil {
		for _, b := range group {
			if reacted[b.Key()] {
				selected = b
				break
			}
		}
	}

	keep := make(map[string]struct{})
	if selected != nil {
		for _, roleID := range selected.RoleIDs {
			keep[roleID] = struct{}{}
		}
	}
	for _, b := range group {
		if selected != nil && b.Key() == selected.Key() {
			continue
		}
		if b.HasWinner(userID) || holdsAny(member, b.RoleIDs) {
			_, changed, err := e.applyRevoke(ctx, b, userID, member, keep)
			if err != nil {
				log.Warnf("Failed to revoke roles of %v: %v", b.ID, err)
			}
			touched = touched || changed
		}
		if reacted[b.Key()] {
			e.stripReaction(ctx, b.GuildID, b.ChannelID, b.MessageID, b.EmojiKey, userID)
		}
	}
	if selected == nil {
		return
	}

	if !selected.HasWinner(userID) && selected.AtCapacity() {
		e.stripReaction(ctx, selected.GuildID, selected.ChannelID, selected.MessageID, selected.EmojiKey, userID)
		e.debugf(selected, "binding %v reached its limit of %d members, rejected %v", selected.ID, selected.MaxGrants, userID)
		return
	}
	if !e.checkRequirements(ctx, selected, member, true) {
		return
	}
	if !e.rolesResolve(ctx, selected) {
		return
	}
	_, changed, err := e.applyGrant(ctx, selected, member)
	if err != nil {
		log.Warnf("Failed to grant roles of %v: %v", selected.ID, err)
	}
	touched = touched || changed
}

func (e *Engine) hasReacted(ctx context.Context, b *guildmodels.RoleBinding, userID string) (bool, error) {
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	reactors, err := e.platform.FetchReactors(cctx, b.ChannelID, b.MessageID, b.EmojiKey)
	if errors.Is(err, guildmodels.ErrUnresolvedReference) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	for _, r := range reactors {
		if r.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func holdsAny(member *guildmodels.Member, roleIDs []string) bool {
	for _, roleID := range roleIDs {
		if member.HasRole(roleID) {
			return true
		}
	}
	return false
}
