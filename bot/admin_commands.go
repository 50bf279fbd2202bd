package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/callummance/nia-roles/discord"
	"github.com/callummance/nia-roles/guildmodels"
	"github.com/callummance/nia-roles/reconcile"
	"github.com/sirupsen/logrus"
)

const commandTimeout = 30 * time.Second

//HandleAddReactionRoleMessage handles a message containing an add reaction role command
//command format: !addreactionrole <message> <emoji> <@role...> [type=<TYPE>] [max=<n>] [boost] [developer]
func (b *NiaBot) HandleAddReactionRoleMessage(msg *discordgo.MessageCreate) {
	b.respond(msg.Message, b.addReactionRole(msg))
}

func (b *NiaBot) addReactionRole(msg *discordgo.MessageCreate) NiaResponse {
	commandName := "!addreactionrole"
	if resp := b.checkCommandAllowed(commandName, msg); resp != nil {
		return resp
	}
	args, err := parseAddReactionRole(commandArgs(msg.Content))
	if err != nil {
		return NiaResponseSyntaxError{
			command:     commandName,
			commandMsg:  msg.Content,
			description: err.Error(),
			syntax:      addReactionRoleSyntax,
			timestamp:   time.Now(),
		}
	}
	if args.message.guildID != "" && args.message.guildID != msg.GuildID {
		return NiaResponseNotAllowed{
			command:     commandName,
			commandMsg:  msg.Content,
			description: "That message belongs to a different server",
			timestamp:   time.Now(),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	binding, err := b.Engine.RegisterBinding(ctx, reconcile.RegisterRequest{
		GuildID:      msg.GuildID,
		ChannelID:    args.message.channelID,
		MessageID:    args.message.messageID,
		RoleIDs:      args.roleIDs,
		Emoji:        args.emoji,
		Type:         args.bindingType,
		MaxGrants:    args.maxGrants,
		Requirements: args.requirements,
	})
	if errors.Is(err, guildmodels.ErrInvalidInput) {
		return NiaResponseSyntaxError{
			command:     commandName,
			commandMsg:  msg.Content,
			description: err.Error(),
			syntax:      addReactionRoleSyntax,
			timestamp:   time.Now(),
		}
	} else if err != nil {
		logrus.Warnf("Encountered error %v when trying to add reaction role on server %v", err, msg.GuildID)
		return NiaResponseInternalError{
			command:    commandName,
			commandMsg: msg.Content,
			err:        err,
			timestamp:  time.Now(),
		}
	}

	data := map[string]string{
		"Binding": binding.ID,
		"Details": describeBinding(*binding),
	}
	canManage, err := b.Platform.CanManageRoles(ctx, msg.GuildID, binding.RoleIDs)
	if err == nil && !canManage {
		return NiaResponsePartialSuccess{
			command:     commandName,
			commandMsg:  msg.Content,
			description: "The reaction role was added, but I can't assign those roles yet. Make sure I have the Manage Roles permission and that my role is above them.",
			data:        data,
			timestamp:   time.Now(),
		}
	}
	return NiaResponseSuccess{
		command:    commandName,
		commandMsg: msg.Content,
		data:       data,
		timestamp:  time.Now(),
	}
}

//HandleRemoveReactionRoleMessage handles a message containing a remove reaction role command
//command format: !removereactionrole <message> <emoji> [cascade]
func (b *NiaBot) HandleRemoveReactionRoleMessage(msg *discordgo.MessageCreate) {
	b.respond(msg.Message, b.removeReactionRole(msg))
}

func (b *NiaBot) removeReactionRole(msg *discordgo.MessageCreate) NiaResponse {
	commandName := "!removereactionrole"
	if resp := b.checkCommandAllowed(commandName, msg); resp != nil {
		return resp
	}
	args, err := parseRemoveReactionRole(commandArgs(msg.Content))
	var emojiKey string
	if err == nil {
		emojiKey, _, err = discord.ParseEmoji(args.emoji)
	}
	if err != nil {
		return NiaResponseSyntaxError{
			command:     commandName,
			commandMsg:  msg.Content,
			description: err.Error(),
			syntax:      removeReactionRoleSyntax,
			timestamp:   time.Now(),
		}
	}
	key := guildmodels.BindingKey{MessageID: args.message.messageID, EmojiKey: emojiKey}
	existing, ok := b.Engine.Binding(key)
	if !ok || existing.GuildID != msg.GuildID {
		return NiaResponseSyntaxError{
			command:     commandName,
			commandMsg:  msg.Content,
			description: fmt.Sprintf("There is no reaction role for %v on that message", formatEmoji(emojiKey)),
			syntax:      removeReactionRoleSyntax,
			timestamp:   time.Now(),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	err = b.Engine.UnregisterBinding(ctx, key, args.cascade)
	if errors.Is(err, guildmodels.ErrUnresolvedReference) {
		//Removed by someone else in the meantime
		logrus.Infof("Binding %v was already gone when %v tried to remove it", key, msg.Author.ID)
	} else if err != nil {
		logrus.Warnf("Encountered error %v when trying to remove reaction role %v on server %v", err, key, msg.GuildID)
		return NiaResponseInternalError{
			command:    commandName,
			commandMsg: msg.Content,
			err:        err,
			timestamp:  time.Now(),
		}
	}
	return NiaResponseSuccess{
		command:    commandName,
		commandMsg: msg.Content,
		data: map[string]string{
			"Binding":       key.String(),
			"Roles revoked": fmt.Sprintf("%v", args.cascade),
		},
		timestamp: time.Now(),
	}
}

//HandleListReactionRolesMessage handles a message containing a list reaction roles command
//command format: !listreactionroles
func (b *NiaBot) HandleListReactionRolesMessage(msg *discordgo.MessageCreate) {
	b.respond(msg.Message, b.listReactionRoles(msg))
}

func (b *NiaBot) listReactionRoles(msg *discordgo.MessageCreate) NiaResponse {
	commandName := "!listreactionroles"
	if resp := b.checkCommandAllowed(commandName, msg); resp != nil {
		return resp
	}
	return NiaResponseBindingList{
		commandMsg: msg.Content,
		guildID:    msg.GuildID,
		bindings:   guildBindings(b.Engine.Bindings(), msg.GuildID),
		timestamp:  time.Now(),
	}
}

func guildBindings(all []guildmodels.RoleBinding, guildID string) []guildmodels.RoleBinding {
	res := make([]guildmodels.RoleBinding, 0)
	for _, binding := range all {
		if binding.GuildID == guildID {
			res = append(res, binding)
		}
	}
	return res
}

/**************************
/     Utility Functions
/**************************/

//checkCommandAllowed returns a response if the command must be rejected, or nil if it may run
func (b *NiaBot) checkCommandAllowed(commandName string, msg *discordgo.MessageCreate) NiaResponse {
	isFromAdmin, err := b.isFromAdmin(msg.Author, msg.GuildID, msg.ChannelID)
	if err != nil {
		logrus.Warnf("Failed to check if message came from admin due to error %v", err)
		return NiaResponseInternalError{
			command:    commandName,
			commandMsg: msg.Content,
			err:        err,
			timestamp:  time.Now(),
		}
	} else if !isFromAdmin {
		return NiaResponseNotAllowed{
			command:     commandName,
			commandMsg:  msg.Content,
			description: "Only the server owner and members with the Manage Roles permission can manage reaction roles",
			timestamp:   time.Now(),
		}
	}
	select {
	case <-b.Engine.Ready():
		return nil
	default:
		return NiaResponseFeatureNotEnabled{
			command:         commandName,
			commandMsg:      msg.Content,
			disabledFeature: "reaction roles (still synchronising after startup)",
			timestamp:       time.Now(),
		}
	}
}

func (b *NiaBot) isFromAdmin(user *discordgo.User, guildID, channelID string) (bool, error) {
	//Works if from dev
	if isDev(user.ID, b.cfg.Discord.DevUID) {
		return true, nil
	}
	//Works if from server owner
	guild, err := b.DiscordSession().State.Guild(guildID)
	if err != nil {
		guild, err = b.DiscordSession().Guild(guildID)
	}
	if err != nil {
		logrus.Warnf("Failed to fetch guild object from Discord API when checking if user %v is admin for server %v", user.ID, guildID)
		return false, err
	}
	//Works if user can manage roles
	perms, err := b.DiscordSession().UserChannelPermissions(user.ID, channelID)
	if err != nil {
		logrus.Warnf("Failed to compute permissions of user %v in channel %v: %v", user.ID, channelID, err)
		return guild.OwnerID == user.ID, nil
	}
	return isAdmin(user.ID, guild.OwnerID, perms), nil
}

func isAdmin(userID, ownerID string, perms int64) bool {
	if userID == ownerID {
		return true
	}
	return perms&(discordgo.PermissionAdministrator|discordgo.PermissionManageRoles) != 0
}

func isDev(userID string, devUID string) bool {
	return devUID != "" && userID == devUID
}

//commandArgs strips the command name from a message
func commandArgs(content string) string {
	words := strings.SplitN(strings.TrimSpace(content), " ", 2)
	if len(words) < 2 {
		return ""
	}
	return strings.TrimSpace(words[1])
}

//respond logs the result of a command and replies to the message which triggered it
func (b *NiaBot) respond(msg *discordgo.Message, result NiaResponse) {
	result.WriteToLog()
	resp := result.DiscordResponse()
	resp.Reference = msg.Reference()
	_, err := b.DiscordSession().ChannelMessageSendComplex(msg.ChannelID, resp)
	if err != nil {
		logrus.Errorf("Failed to send response to command due to error %v", err)
	}
}
