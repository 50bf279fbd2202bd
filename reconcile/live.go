package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/callummance/nia-roles/guildmodels"
	"github.com/sirupsen/logrus"
)

func (e *Engine) handleReactionAdd(ctx context.Context, ev Event) {
	log := eventLog(ev)
	if ev.UserID == e.platform.SelfID() {
		return
	}
	b, ok := e.table.get(guildmodels.BindingKey{MessageID: ev.MessageID, EmojiKey: ev.EmojiKey})
	if !ok {
		//Only reactions on messages we manage are considered stale
		if len(e.table.byMessage(ev.MessageID)) > 0 {
			log.Debug("Removing reaction with no matching binding from managed message")
			e.stripReaction(ctx, ev.GuildID, ev.ChannelID, ev.MessageID, ev.EmojiKey, ev.UserID)
		}
		return
	}
	if b.Disabled {
		log.Debug("Ignoring reaction on disabled binding")
		return
	}
	member, err := e.fetchMember(ctx, b.GuildID, ev.UserID)
	if errors.Is(err, guildmodels.ErrUnresolvedReference) {
		e.stripReaction(ctx, b.GuildID, b.ChannelID, b.MessageID, b.EmojiKey, ev.UserID)
		return
	} else if err != nil {
		log.Warnf("Failed to fetch reacting member: %v", err)
		return
	}
	if member.Bot {
		return
	}
	if !e.rolesResolve(ctx, b) {
		return
	}

	switch {
	case b.Type.GrantsOnAdd():
		if !b.HasWinner(member.UserID) && b.AtCapacity() {
			e.stripReaction(ctx, b.GuildID, b.ChannelID, b.MessageID, b.EmojiKey, member.UserID)
			e.debugf(b, "binding %v reached its limit of %d members, rejected %v", b.ID, b.MaxGrants, member.UserID)
			return
		}
		if !e.checkRequirements(ctx, b, member, true) {
			return
		}
		if b.Type == guildmodels.BindingToggle {
			e.timers.schedule(b.MessageID, member.UserID, b.EmojiKey)
			return
		}
		_, changed, err := e.applyGrant(ctx, b, member)
		if err != nil {
			log.Warnf("Failed to grant roles %v: %v", b.RoleIDs, err)
		}
		if changed {
			e.persister.request()
		}
	case b.Type.RevokesOnAdd():
		_, changed, err := e.applyRevoke(ctx, b, member.UserID, member, nil)
		if err != nil {
			log.Warnf("Failed to revoke roles %v: %v", b.RoleIDs, err)
		}
		if changed {
			e.persister.request()
		}
	}
}

func (e *Engine) handleReactionRemove(ctx context.Context, ev Event) {
	log := eventLog(ev)
	if ev.UserID == e.platform.SelfID() {
		return
	}
	b, ok := e.table.get(guildmodels.BindingKey{MessageID: ev.MessageID, EmojiKey: ev.EmojiKey})
	if !ok || b.Disabled {
		return
	}
	member, err := e.fetchMember(ctx, b.GuildID, ev.UserID)
	if errors.Is(err, guildmodels.ErrUnresolvedReference) {
		member = nil
	} else if err != nil {
		log.Warnf("Failed to fetch member whose reaction was removed: %v", err)
		return
	}
	if member != nil && member.Bot {
		return
	}
	if !e.rolesResolve(ctx, b) {
		return
	}

	var changed bool
	switch {
	case b.Type.RevokesOnRemove():
		//Only undo grants made through this binding. JUST_LOSE keeps no winners.
		if b.Type != guildmodels.BindingJustLose && !b.HasWinner(ev.UserID) {
			return
		}
		_, changed, err = e.applyRevoke(ctx, b, ev.UserID, member, nil)
		if err != nil {
			log.Warnf("Failed to revoke roles %v: %v", b.RoleIDs, err)
		}
	case b.Type.GrantsOnRemove():
		if member == nil {
			return
		}
		if !b.HasWinner(member.UserID) && b.AtCapacity() {
			e.debugf(b, "binding %v reached its limit of %d members, not granting to %v", b.ID, b.MaxGrants, member.UserID)
			return
		}
		//The reaction is already gone, so there is nothing to strip
		if !e.checkRequirements(ctx, b, member, false) {
			return
		}
		_, changed, err = e.applyGrant(ctx, b, member)
		if err != nil {
			log.Warnf("Failed to grant roles %v: %v", b.RoleIDs, err)
		}
	}
	if changed {
		e.persister.request()
	}
}

//handleReactionRemoveAll revokes every grant made through the message's bindings and retires the bindings
func (e *Engine) handleReactionRemoveAll(ctx context.Context, ev Event) {
	bindings := e.table.byMessage(ev.MessageID)
	if len(bindings) == 0 {
		return
	}
	e.timers.cancelMessage(ev.MessageID)

	roles := make(map[string]struct{})
	members := make(map[string]struct{})
	count := 0
	for _, b := range bindings {
		for _, winner := range append([]string(nil), b.Winners...) {
			member, err := e.fetchMember(ctx, b.GuildID, winner)
			if err != nil && !errors.Is(err, guildmodels.ErrUnresolvedReference) {
				eventLog(ev).Warnf("Failed to fetch member %v: %v", winner, err)
			}
			revoked, _, err := e.applyRevoke(ctx, b, winner, member, nil)
			if err != nil {
				eventLog(ev).Warnf("Failed to revoke roles from %v: %v", winner, err)
			}
			for _, r := range revoked {
				roles[r] = struct{}{}
			}
			if len(revoked) > 0 {
				members[winner] = struct{}{}
				count += len(revoked)
			}
		}
		e.table.remove(b.Key())
	}
	e.notify(Notification{
		Kind:      NotifyAllReactionsRemoved,
		GuildID:   ev.GuildID,
		ChannelID: ev.ChannelID,
		MessageID: ev.MessageID,
		RoleIDs:   sortedKeys(roles),
		MemberIDs: sortedKeys(members),
		Count:     count,
	})
	e.persister.request()
}

//applyGrant gives the member every role of b they do not already hold and records them as a winner. It reports
//which roles were granted and whether the binding table changed.
func (e *Engine) applyGrant(ctx context.Context, b *guildmodels.RoleBinding, member *guildmodels.Member) ([]string, bool, error) {
	missing := make([]string, 0, len(b.RoleIDs))
	for _, roleID := range b.RoleIDs {
		if !member.HasRole(roleID) {
			missing = append(missing, roleID)
		}
	}
	granted := make([]string, 0, len(missing))
	if len(missing) > 0 {
		if err := e.checkManageRoles(ctx, b, member.UserID, "grant", missing); err != nil {
			return nil, false, err
		}
		for _, roleID := range missing {
			cctx, cancel := e.callCtx(ctx)
			err := e.platform.GrantRole(cctx, b.GuildID, member.UserID, roleID)
			cancel()
			if err != nil {
				return granted, false, e.roleCallFailed(b, member.UserID, "grant", roleID, err)
			}
			member.RoleIDs = append(member.RoleIDs, roleID)
			granted = append(granted, roleID)
			e.notify(Notification{
				Kind:      NotifyRoleGranted,
				GuildID:   b.GuildID,
				ChannelID: b.ChannelID,
				MessageID: b.MessageID,
				MemberID:  member.UserID,
				RoleID:    roleID,
				Binding:   b,
			})
		}
	}
	changed := e.table.update(b.Key(), func(stored *guildmodels.RoleBinding) bool {
		return stored.AddWinner(member.UserID)
	})
	if changed {
		b.AddWinner(member.UserID)
	}
	return granted, changed, nil
}

//applyRevoke removes the roles of b from the user and drops them from the winner set. member may be nil when the
//user is no longer in the guild, in which case every role is attempted. Roles in keep are left alone.
func (e *Engine) applyRevoke(ctx context.Context, b *guildmodels.RoleBinding, userID string, member *guildmodels.Member, keep map[string]struct{}) ([]string, bool, error) {
	toRevoke := make([]string, 0, len(b.RoleIDs))
	for _, roleID := range b.RoleIDs {
		if _, kept := keep[roleID]; kept {
			continue
		}
		if member != nil && !member.HasRole(roleID) {
			continue
		}
		toRevoke = append(toRevoke, roleID)
	}
	revoked := make([]string, 0, len(toRevoke))
	if len(toRevoke) > 0 && member != nil {
		if err := e.checkManageRoles(ctx, b, userID, "revoke", toRevoke); err != nil {
			return nil, false, err
		}
	}
	for _, roleID := range toRevoke {
		cctx, cancel := e.callCtx(ctx)
		err := e.platform.RevokeRole(cctx, b.GuildID, userID, roleID)
		cancel()
		if errors.Is(err, guildmodels.ErrUnresolvedReference) {
			//Member or role already gone, the revoke is a no-op
			continue
		} else if err != nil {
			return revoked, false, e.roleCallFailed(b, userID, "revoke", roleID, err)
		}
		if member != nil {
			member.RoleIDs = without(member.RoleIDs, roleID)
		}
		revoked = append(revoked, roleID)
		e.notify(Notification{
			Kind:      NotifyRoleRevoked,
			GuildID:   b.GuildID,
			ChannelID: b.ChannelID,
			MessageID: b.MessageID,
			MemberID:  userID,
			RoleID:    roleID,
			Binding:   b,
		})
	}
	changed := e.table.update(b.Key(), func(stored *guildmodels.RoleBinding) bool {
		return stored.RemoveWinner(userID)
	})
	if changed {
		b.RemoveWinner(userID)
	}
	return revoked, changed, nil
}

//checkRequirements runs the requirement evaluator, stripping the reaction (if strip is set) and notifying on failure
func (e *Engine) checkRequirements(ctx context.Context, b *guildmodels.RoleBinding, member *guildmodels.Member, strip bool) bool {
	eval := b.Requirements.Evaluate(*member)
	if eval.Eligible {
		return true
	}
	logrus.WithFields(logrus.Fields{"binding": b.ID, "member": member.UserID}).Debugf("Rejected reaction: %v", eval.Err())
	if strip {
		e.stripReaction(ctx, b.GuildID, b.ChannelID, b.MessageID, b.EmojiKey, member.UserID)
	}
	e.notify(Notification{
		Kind:        NotifyMissingRequirement,
		GuildID:     b.GuildID,
		ChannelID:   b.ChannelID,
		MessageID:   b.MessageID,
		MemberID:    member.UserID,
		Requirement: eval.FailedRequirement,
		Binding:     b,
	})
	return false
}

func (e *Engine) checkManageRoles(ctx context.Context, b *guildmodels.RoleBinding, userID, action string, roles []string) error {
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	ok, err := e.platform.CanManageRoles(cctx, b.GuildID, roles)
	if err != nil {
		//Let the role call itself report the problem
		logrus.Debugf("Could not check role permissions in guild %v: %v", b.GuildID, err)
		return nil
	}
	if !ok {
		e.notifyMissingPermissions(b, userID, action, roles)
		return fmt.Errorf("%w: cannot %v roles %v in guild %v", guildmodels.ErrMissingPermissions, action, roles, b.GuildID)
	}
	return nil
}

func (e *Engine) roleCallFailed(b *guildmodels.RoleBinding, userID, action, roleID string, err error) error {
	if errors.Is(err, guildmodels.ErrMissingPermissions) {
		e.notifyMissingPermissions(b, userID, action, []string{roleID})
	}
	return fmt.Errorf("failed to %v role %v for %v: %w", action, roleID, userID, err)
}

func (e *Engine) notifyMissingPermissions(b *guildmodels.RoleBinding, userID, action string, roles []string) {
	e.notify(Notification{
		Kind:      NotifyMissingPermissions,
		GuildID:   b.GuildID,
		ChannelID: b.ChannelID,
		MessageID: b.MessageID,
		MemberID:  userID,
		Action:    action,
		RoleIDs:   append([]string(nil), roles...),
		Binding:   b,
	})
}

//rolesResolve checks every role of b still exists. If one has been deleted the binding is dropped and false is
//returned.
func (e *Engine) rolesResolve(ctx context.Context, b *guildmodels.RoleBinding) bool {
	for _, roleID := range b.RoleIDs {
		cctx, cancel := e.callCtx(ctx)
		err := e.platform.ResolveRole(cctx, b.GuildID, roleID)
		cancel()
		if errors.Is(err, guildmodels.ErrUnresolvedReference) {
			e.dropBindings(ctx, []*guildmodels.RoleBinding{b}, true, fmt.Sprintf("role %v no longer exists", roleID))
			return false
		} else if err != nil {
			logrus.Warnf("Failed to resolve role %v for binding %v: %v", roleID, b.ID, err)
		}
	}
	return true
}

//stripReaction removes a user's reaction, logging rather than returning failures
func (e *Engine) stripReaction(ctx context.Context, guildID, channelID, messageID, emojiKey, userID string) {
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	err := e.platform.RemoveReaction(cctx, guildID, channelID, messageID, emojiKey, userID)
	switch {
	case err == nil:
	case errors.Is(err, guildmodels.ErrUnresolvedReference):
		logrus.Debugf("Reaction %v by %v on message %v was already gone", emojiKey, userID, messageID)
	case errors.Is(err, guildmodels.ErrMissingPermissions):
		e.notify(Notification{
			Kind:      NotifyMissingPermissions,
			GuildID:   guildID,
			ChannelID: channelID,
			MessageID: messageID,
			MemberID:  userID,
			Action:    "react",
		})
	default:
		logrus.Warnf("Failed to remove reaction %v by %v on message %v: %v", emojiKey, userID, messageID, err)
	}
}

func (e *Engine) fetchMember(ctx context.Context, guildID, userID string) (*guildmodels.Member, error) {
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	member, err := e.platform.FetchMember(cctx, guildID, userID)
	if err != nil {
		return nil, err
	}
	//Work on a private copy, applyGrant and applyRevoke keep its roles current
	m := *member
	m.RoleIDs = append([]string(nil), member.RoleIDs...)
	return &m, nil
}

func without(list []string, s string) []string {
	res := make([]string, 0, len(list))
	for _, item := range list {
		if item != s {
			res = append(res, item)
		}
	}
	return res
}

func sortedKeys(set map[string]struct{}) []string {
	res := make([]string, 0, len(set))
	for k := range set {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}
