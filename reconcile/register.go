package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/callummance/nia-roles/guildmodels"
	"github.com/sirupsen/logrus"
)

//RegisterRequest describes a new binding. Emoji is raw user input and is resolved through the platform.
type RegisterRequest struct {
	GuildID      string
	ChannelID    string
	MessageID    string
	RoleIDs      []string
	Emoji        string
	Type         guildmodels.BindingType
	MaxGrants    int
	Requirements guildmodels.Requirements
}

//RegisterBinding validates req and adds the binding to the table, replacing any binding with the same message and
//emoji. The bot reacts to the message so members can click the emoji. Validation failures wrap
//guildmodels.ErrInvalidInput and leave the table untouched.
func (e *Engine) RegisterBinding(ctx context.Context, req RegisterRequest) (*guildmodels.RoleBinding, error) {
	if req.GuildID == "" {
		return nil, fmt.Errorf("%w: message %v is not in a guild", guildmodels.ErrInvalidInput, req.MessageID)
	}
	if req.Type == "" {
		req.Type = guildmodels.BindingNormal
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown binding type %q", guildmodels.ErrInvalidInput, req.Type)
	}
	cctx, cancel := e.callCtx(ctx)
	emojiKey, err := e.platform.ResolveEmoji(cctx, req.GuildID, req.Emoji)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: cannot use emoji %q: %v", guildmodels.ErrInvalidInput, req.Emoji, err)
	}
	for _, roleID := range req.RoleIDs {
		cctx, cancel := e.callCtx(ctx)
		err := e.platform.ResolveRole(cctx, req.GuildID, roleID)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("%w: cannot use role %v: %v", guildmodels.ErrInvalidInput, roleID, err)
		}
	}
	cctx, cancel = e.callCtx(ctx)
	msg, err := e.platform.FetchMessage(cctx, req.ChannelID, req.MessageID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: cannot find message %v: %v", guildmodels.ErrInvalidInput, req.MessageID, err)
	}
	if msg.GuildID != "" && msg.GuildID != req.GuildID {
		return nil, fmt.Errorf("%w: message %v belongs to guild %v, not %v", guildmodels.ErrInvalidInput, req.MessageID, msg.GuildID, req.GuildID)
	}
	if msg.ChannelID != "" && msg.ChannelID != req.ChannelID {
		return nil, fmt.Errorf("%w: message %v is in channel %v, not %v", guildmodels.ErrInvalidInput, req.MessageID, msg.ChannelID, req.ChannelID)
	}
	b, err := guildmodels.NewRoleBinding(req.GuildID, req.ChannelID, req.MessageID, emojiKey, req.RoleIDs, req.Type, req.MaxGrants, req.Requirements)
	if err != nil {
		return nil, err
	}

	var res *guildmodels.RoleBinding
	err = e.onLaneAndWait(ctx, b.MessageID, func() error {
		if e.table.put(b) {
			logrus.Warnf("Binding %v replaced an existing binding for the same message and emoji", b.ID)
		}
		e.addOwnReaction(ctx, b)
		e.persister.request()
		res = b.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	logrus.Infof("Registered %v binding %v for roles %v", b.Type, b.ID, b.RoleIDs)
	return res, nil
}

//UnregisterBinding removes a binding and the bot's own reaction. With cascade set, the roles of every current
//winner are revoked first.
func (e *Engine) UnregisterBinding(ctx context.Context, key guildmodels.BindingKey, cascade bool) error {
	return e.onLaneAndWait(ctx, key.MessageID, func() error {
		b, ok := e.table.get(key)
		if !ok {
			return fmt.Errorf("%w: no binding %v", guildmodels.ErrUnresolvedReference, key)
		}
		if cascade {
			for _, winner := range append([]string(nil), b.Winners...) {
				member, err := e.fetchMember(ctx, b.GuildID, winner)
				if err != nil && !errors.Is(err, guildmodels.ErrUnresolvedReference) {
					logrus.Warnf("Failed to fetch member %v while unregistering %v: %v", winner, b.ID, err)
				}
				if _, _, err := e.applyRevoke(ctx, b, winner, member, nil); err != nil {
					logrus.Warnf("Failed to revoke roles from %v while unregistering %v: %v", winner, b.ID, err)
				}
			}
		}
		e.stripReaction(ctx, b.GuildID, b.ChannelID, b.MessageID, b.EmojiKey, e.platform.SelfID())
		e.table.remove(key)
		if !e.hasToggleGroup(key.MessageID) {
			e.timers.cancelMessage(key.MessageID)
		}
		e.persister.request()
		logrus.Infof("Unregistered binding %v (cascade=%v)", b.ID, cascade)
		return nil
	})
}

//onLaneAndWait runs task on the message's lane once the engine is ready and waits for it to finish
func (e *Engine) onLaneAndWait(ctx context.Context, messageID string, task func() error) error {
	select {
	case <-e.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	done := make(chan error, 1)
	e.onLane(messageID, func() {
		done <- task()
	})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
