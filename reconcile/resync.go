package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/callummance/nia-roles/guildmodels"
	"github.com/sirupsen/logrus"
)

//resync aligns the binding table with the platform. The first call loads the persisted table; later calls (after a
//gateway reconnect) reconcile the in-memory table. Lane tasks are excluded for the whole pass and the table is
//persisted once at the end.
func (e *Engine) resync(ctx context.Context) {
	e.resyncMu.Lock()
	defer e.resyncMu.Unlock()

	loadFailed := false
	if !e.loaded {
		bindings, err := e.load(ctx)
		if err != nil {
			logrus.Errorf("Failed to load persisted role bindings, starting with none: %v", err)
			loadFailed = true
		} else {
			e.table.replace(bindings)
			logrus.Infof("Loaded %d persisted role bindings", len(bindings))
		}
		e.loaded = true
	}

	for _, b := range e.table.snapshot() {
		if ctx.Err() != nil {
			logrus.Warnf("Boot resync cancelled: %v", ctx.Err())
			return
		}
		b := b
		e.resyncBinding(ctx, &b)
	}

	if loadFailed && e.table.len() == 0 {
		//Never overwrite state we failed to read with an empty table
		return
	}
	if err := e.persister.flush(ctx); err != nil {
		logrus.Errorf("Failed to persist role bindings after resync: %v", err)
	}
	logrus.Infof("Resync complete, %d role bindings active", e.table.len())
}

func (e *Engine) load(ctx context.Context) ([]guildmodels.RoleBinding, error) {
	if e.store == nil {
		return nil, nil
	}
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	loaded, err := e.store.LoadAll(cctx)
	if err != nil {
		return nil, err
	}
	res := make([]guildmodels.RoleBinding, 0, len(loaded))
	for _, b := range loaded {
		b.Normalize()
		if err := b.Validate(); err != nil {
			logrus.Warnf("Ignoring persisted role binding %v: %v", b.ID, err)
			continue
		}
		res = append(res, b)
	}
	return res, nil
}

//orphaned reports whether err means the binding points at something that no longer exists
func orphaned(err error) bool {
	return errors.Is(err, guildmodels.ErrUnresolvedReference)
}

//resyncBinding reconciles a single binding. Failures are logged and never abort the pass.
func (e *Engine) resyncBinding(ctx context.Context, b *guildmodels.RoleBinding) {
	log := logrus.WithFields(logrus.Fields{"binding": b.ID, "guild": b.GuildID, "kind": "resync"})
	drop := func(strip bool, reason string) {
		e.dropBindings(ctx, []*guildmodels.RoleBinding{b}, strip, reason)
	}

	cctx, cancel := e.callCtx(ctx)
	err := e.platform.ResolveGuild(cctx, b.GuildID)
	cancel()
	if orphaned(err) {
		drop(false, "guild no longer exists")
		return
	} else if err != nil {
		log.Warnf("Failed to resolve guild, skipping binding: %v", err)
		return
	}
	for _, roleID := range b.RoleIDs {
		cctx, cancel := e.callCtx(ctx)
		err := e.platform.ResolveRole(cctx, b.GuildID, roleID)
		cancel()
		if orphaned(err) {
			drop(true, fmt.Sprintf("role %v no longer exists", roleID))
			return
		} else if err != nil {
			log.Warnf("Failed to resolve role %v, skipping binding: %v", roleID, err)
			return
		}
	}
	cctx, cancel = e.callCtx(ctx)
	err = e.platform.ResolveChannel(cctx, b.ChannelID)
	cancel()
	if orphaned(err) {
		drop(false, "channel no longer exists")
		return
	} else if err != nil {
		log.Warnf("Failed to resolve channel, skipping binding: %v", err)
		return
	}
	cctx, cancel = e.callCtx(ctx)
	msg, err := e.platform.FetchMessage(cctx, b.ChannelID, b.MessageID)
	cancel()
	if orphaned(err) {
		drop(false, "message no longer exists")
		return
	} else if err != nil {
		log.Warnf("Failed to fetch message, skipping binding: %v", err)
		return
	}
	if b.Disabled {
		return
	}

	if !msg.HasOwnReaction(b.EmojiKey) {
		e.addOwnReaction(ctx, b)
	}

	cctx, cancel = e.callCtx(ctx)
	reactors, err := e.platform.FetchReactors(cctx, b.ChannelID, b.MessageID, b.EmojiKey)
	cancel()
	if err != nil {
		log.Warnf("Failed to fetch reactors, skipping binding: %v", err)
		return
	}

	present := make(map[string]struct{}, len(reactors))
	for _, reactor := range reactors {
		if reactor.Bot || reactor.UserID == e.platform.SelfID() {
			continue
		}
		if e.resyncReactor(ctx, b, reactor.UserID) {
			present[reactor.UserID] = struct{}{}
		}
	}

	//Members who unreacted while we were offline
	if b.Type == guildmodels.BindingNormal || b.Type == guildmodels.BindingToggle {
		for _, winner := range append([]string(nil), b.Winners...) {
			if _, ok := present[winner]; ok {
				continue
			}
			member, err := e.fetchMember(ctx, b.GuildID, winner)
			if err != nil && !orphaned(err) {
				log.Warnf("Failed to fetch departed reactor %v, leaving them for the next resync: %v", winner, err)
				continue
			}
			if _, _, err := e.applyRevoke(ctx, b, winner, member, nil); err != nil {
				log.Warnf("Failed to revoke roles from %v: %v", winner, err)
			}
		}
	}
}

//resyncReactor reconciles one current reactor and reports whether they still legitimately react to the binding
func (e *Engine) resyncReactor(ctx context.Context, b *guildmodels.RoleBinding, userID string) bool {
	log := logrus.WithFields(logrus.Fields{"binding": b.ID, "member": userID, "kind": "resync"})
	member, err := e.fetchMember(ctx, b.GuildID, userID)
	if orphaned(err) {
		e.stripReaction(ctx, b.GuildID, b.ChannelID, b.MessageID, b.EmojiKey, userID)
		return false
	} else if err != nil {
		log.Warnf("Failed to fetch reactor: %v", err)
		//Unknown state, do not treat them as departed
		return true
	}
	if member.Bot {
		return false
	}

	switch {
	case b.Type.GrantsOnAdd():
		if !e.checkRequirements(ctx, b, member, true) {
			return false
		}
		if b.Type == guildmodels.BindingToggle {
			e.timers.schedule(b.MessageID, userID, "")
			return true
		}
		if !b.HasWinner(userID) && b.AtCapacity() {
			e.stripReaction(ctx, b.GuildID, b.ChannelID, b.MessageID, b.EmojiKey, userID)
			e.debugf(b, "binding %v reached its limit of %d members, rejected %v", b.ID, b.MaxGrants, userID)
			return false
		}
		if _, _, err := e.applyGrant(ctx, b, member); err != nil {
			log.Warnf("Failed to grant roles: %v", err)
		}
	case b.Type.RevokesOnAdd():
		if b.HasWinner(userID) || holdsAny(member, b.RoleIDs) {
			if _, _, err := e.applyRevoke(ctx, b, userID, member, nil); err != nil {
				log.Warnf("Failed to revoke roles: %v", err)
			}
		}
	}
	return true
}

//addOwnReaction puts the bot's reaction back on a bound message
func (e *Engine) addOwnReaction(ctx context.Context, b *guildmodels.RoleBinding) {
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	ok, err := e.platform.CanAddReactions(cctx, b.ChannelID)
	if err == nil && !ok {
		e.notify(Notification{
			Kind:      NotifyMissingPermissions,
			GuildID:   b.GuildID,
			ChannelID: b.ChannelID,
			MessageID: b.MessageID,
			Action:    "react",
			Binding:   b,
		})
		return
	}
	if err := e.platform.AddReaction(cctx, b.GuildID, b.ChannelID, b.MessageID, b.EmojiKey); err != nil {
		logrus.Warnf("Failed to add reaction %v to message %v: %v", b.EmojiKey, b.MessageID, err)
	}
}
