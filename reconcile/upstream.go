package reconcile

import (
	"context"

	"github.com/callummance/nia-roles/guildmodels"
	"github.com/sirupsen/logrus"
)

//dropMatching removes every binding matching pred. The work is queued on each affected message's lane so it is
//ordered after any reaction events already in flight for that message.
func (e *Engine) dropMatching(ctx context.Context, stripReaction bool, reason string, pred func(b *guildmodels.RoleBinding) bool) {
	byMessage := make(map[string][]guildmodels.BindingKey)
	for _, b := range e.table.filter(pred) {
		byMessage[b.MessageID] = append(byMessage[b.MessageID], b.Key())
	}
	for messageID, keys := range byMessage {
		keys := keys
		e.onLane(messageID, func() {
			current := make([]*guildmodels.RoleBinding, 0, len(keys))
			for _, k := range keys {
				if b, ok := e.table.get(k); ok {
					current = append(current, b)
				}
			}
			e.dropBindings(ctx, current, stripReaction, reason)
		})
	}
}

//dropBindings deletes bindings whose guild, channel, message, role or emoji disappeared upstream. No role changes
//are attempted. If stripReaction is set the message is assumed to still exist and the bot's own reaction is removed.
func (e *Engine) dropBindings(ctx context.Context, bindings []*guildmodels.RoleBinding, stripReaction bool, reason string) {
	if len(bindings) == 0 {
		return
	}
	messages := make(map[string]struct{})
	for _, b := range bindings {
		messages[b.MessageID] = struct{}{}
		if stripReaction {
			e.stripReaction(ctx, b.GuildID, b.ChannelID, b.MessageID, b.EmojiKey, e.platform.SelfID())
		}
		if e.table.remove(b.Key()) {
			logrus.Infof("Removed binding %v (roles %v): %v", b.ID, b.RoleIDs, reason)
			e.debugf(b, "removed binding %v: %v", b.ID, reason)
		}
	}
	for messageID := range messages {
		if !e.hasToggleGroup(messageID) {
			e.timers.cancelMessage(messageID)
		}
	}
	e.persister.request()
}

func (e *Engine) hasToggleGroup(messageID string) bool {
	for _, b := range e.table.byMessage(messageID) {
		if b.Type == guildmodels.BindingToggle && !b.Disabled {
			return true
		}
	}
	return false
}
