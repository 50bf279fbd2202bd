package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/callummance/nia-roles/guildmodels"
	"github.com/callummance/nia-roles/reconcile"
	"github.com/sirupsen/logrus"
)

//EmbedSender posts embeds to a channel. *discordgo.Session satisfies it.
type EmbedSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

//ChannelNotifier writes every engine notification to the log and posts the ones server staff should see to a
//notification channel.
type ChannelNotifier struct {
	sender    EmbedSender
	channelID string
}

//NewChannelNotifier creates a notifier. An empty channelID only logs.
func NewChannelNotifier(sender EmbedSender, channelID string) *ChannelNotifier {
	return &ChannelNotifier{sender: sender, channelID: channelID}
}

//Notify implements reconcile.Notifier. Posting happens in the background.
func (n *ChannelNotifier) Notify(note reconcile.Notification) {
	entry := logrus.WithFields(notificationFields(note))
	switch note.Kind {
	case reconcile.NotifyDebug:
		entry.Debug(note.Message)
	case reconcile.NotifyMissingPermissions:
		entry.Warn("Missing permissions to manage reaction role")
	default:
		entry.Info(describeNotification(note))
	}

	if n.channelID == "" || n.sender == nil || !staffFacing(note.Kind) {
		return
	}
	embed := notificationEmbed(note, time.Now())
	go func() {
		if _, err := n.sender.ChannelMessageSendEmbed(n.channelID, embed); err != nil {
			logrus.Warnf("Failed to post %v notification to channel %v: %v", note.Kind, n.channelID, err)
		}
	}()
}

func staffFacing(kind reconcile.NotificationKind) bool {
	switch kind {
	case reconcile.NotifyMissingPermissions, reconcile.NotifyMissingRequirement, reconcile.NotifyAllReactionsRemoved:
		return true
	default:
		return false
	}
}

func notificationFields(note reconcile.Notification) logrus.Fields {
	fields := logrus.Fields{"notification": note.Kind.String()}
	set := func(key, value string) {
		if value != "" {
			fields[key] = value
		}
	}
	set("guild", note.GuildID)
	set("channel", note.ChannelID)
	set("message", note.MessageID)
	set("member", note.MemberID)
	set("role", note.RoleID)
	set("action", note.Action)
	set("requirement", string(note.Requirement))
	if note.Binding != nil {
		fields["binding"] = note.Binding.ID
	}
	if len(note.RoleIDs) > 0 {
		fields["roles"] = strings.Join(note.RoleIDs, ",")
	}
	if note.Kind == reconcile.NotifyAllReactionsRemoved {
		fields["count"] = note.Count
	}
	return fields
}

func describeNotification(note reconcile.Notification) string {
	switch note.Kind {
	case reconcile.NotifyRoleGranted:
		return fmt.Sprintf("Granted role %v to %v", note.RoleID, note.MemberID)
	case reconcile.NotifyRoleRevoked:
		return fmt.Sprintf("Revoked role %v from %v", note.RoleID, note.MemberID)
	case reconcile.NotifyAllReactionsRemoved:
		return fmt.Sprintf("All reactions were removed from message %v, revoked %d roles from %d members", note.MessageID, note.Count, len(note.MemberIDs))
	case reconcile.NotifyMissingRequirement:
		return fmt.Sprintf("Member %v does not meet the %v requirement", note.MemberID, note.Requirement)
	default:
		return note.Message
	}
}

func requirementText(req guildmodels.Requirement) string {
	switch req {
	case guildmodels.RequirementBoost:
		return "boosting the server"
	case guildmodels.RequirementVerifiedDeveloper:
		return "being a verified bot developer"
	default:
		return string(req)
	}
}

func notificationEmbed(note reconcile.Notification, t time.Time) *discordgo.MessageEmbed {
	link := messageLink(note.GuildID, note.ChannelID, note.MessageID)
	embed := &discordgo.MessageEmbed{
		Type:      discordgo.EmbedTypeRich,
		Timestamp: t.Format(time.RFC3339),
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Log ID: %d", t.UnixNano()),
		},
	}
	switch note.Kind {
	case reconcile.NotifyMissingPermissions:
		embed.Title = "I'm missing permissions"
		embed.Color = errorMessageColour
		switch note.Action {
		case "react":
			embed.Description = fmt.Sprintf("I couldn't add or remove reactions on %v. Please give me the Add Reactions and Manage Messages permissions in that channel.", link)
		default:
			embed.Description = fmt.Sprintf("I couldn't %v roles for <@%v> on %v. Please make sure I have the Manage Roles permission and that my role is above the roles below.", note.Action, note.MemberID, link)
		}
		if len(note.RoleIDs) > 0 {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Roles", Value: mentionRoles(note.RoleIDs)})
		}
	case reconcile.NotifyMissingRequirement:
		embed.Title = "Reaction role requirement not met"
		embed.Color = warnMessageColour
		embed.Description = fmt.Sprintf("<@%v> reacted on %v but this role requires %v, so their reaction was removed.", note.MemberID, link, requirementText(note.Requirement))
	case reconcile.NotifyAllReactionsRemoved:
		embed.Title = "All reactions removed"
		embed.Color = warnMessageColour
		embed.Description = fmt.Sprintf("Every reaction was removed from %v, so its reaction roles were deleted and %d roles were revoked.", link, note.Count)
		if len(note.RoleIDs) > 0 {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Roles", Value: mentionRoles(note.RoleIDs)})
		}
		if len(note.MemberIDs) > 0 {
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Members", Value: mentionMembers(note.MemberIDs)})
		}
	default:
		embed.Title = note.Kind.String()
		embed.Color = infoMessageColour
		embed.Description = describeNotification(note)
	}
	return embed
}

func mentionRoles(ids []string) string {
	res := make([]string, 0, len(ids))
	for _, id := range ids {
		res = append(res, fmt.Sprintf("<@&%v>", id))
	}
	return strings.Join(res, " ")
}

func mentionMembers(ids []string) string {
	res := make([]string, 0, len(ids))
	for _, id := range ids {
		res = append(res, fmt.Sprintf("<@%v>", id))
	}
	return strings.Join(res, " ")
}
