package bot

import (
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/callummance/nia-roles/guildmodels"
	"github.com/callummance/nia-roles/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentEmbed struct {
	channelID string
	embed     *discordgo.MessageEmbed
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentEmbed
}

func (f *fakeSender) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEmbed{channelID: channelID, embed: embed})
	return &discordgo.Message{}, nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestNotifierPostsStaffFacingKinds(t *testing.T) {
	sender := &fakeSender{}
	n := NewChannelNotifier(sender, "log-channel")

	n.Notify(reconcile.Notification{Kind: reconcile.NotifyRoleGranted, MemberID: "x", RoleID: "r1"})
	n.Notify(reconcile.Notification{Kind: reconcile.NotifyDebug, Message: "noise"})
	n.Notify(reconcile.Notification{Kind: reconcile.NotifyMissingRequirement, MemberID: "x", Requirement: guildmodels.RequirementBoost})
	n.Notify(reconcile.Notification{Kind: reconcile.NotifyMissingPermissions, Action: "grant", RoleIDs: []string{"r1"}})

	assert.Eventually(t, func() bool { return sender.count() == 2 }, time.Second, 5*time.Millisecond)
	sender.mu.Lock()
	defer sender.mu.Unlock()
	for _, s := range sender.sent {
		assert.Equal(t, "log-channel", s.channelID)
	}
}

func TestNotifierWithoutChannelOnlyLogs(t *testing.T) {
	sender := &fakeSender{}
	n := NewChannelNotifier(sender, "")
	n.Notify(reconcile.Notification{Kind: reconcile.NotifyMissingPermissions, Action: "react"})
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, sender.count())
}

func TestNotificationEmbed(t *testing.T) {
	now := time.Now()
	embed := notificationEmbed(reconcile.Notification{
		Kind:      reconcile.NotifyAllReactionsRemoved,
		GuildID:   "g1",
		ChannelID: "c1",
		MessageID: "m1",
		RoleIDs:   []string{"r1", "r2"},
		MemberIDs: []string{"x"},
		Count:     2,
	}, now)
	assert.Contains(t, embed.Description, "https://discord.com/channels/g1/c1/m1")
	require.Len(t, embed.Fields, 2)
	assert.Equal(t, "<@&r1> <@&r2>", embed.Fields[0].Value)
	assert.Equal(t, "<@x>", embed.Fields[1].Value)

	embed = notificationEmbed(reconcile.Notification{Kind: reconcile.NotifyMissingRequirement, MemberID: "x", Requirement: guildmodels.RequirementVerifiedDeveloper}, now)
	assert.Contains(t, embed.Description, "verified bot developer")
	assert.Equal(t, warnMessageColour, embed.Color)
}

func TestNotificationFields(t *testing.T) {
	b, err := guildmodels.NewRoleBinding("g1", "c1", "m1", "✅", []string{"r1"}, guildmodels.BindingNormal, 0, guildmodels.Requirements{})
	require.NoError(t, err)
	fields := notificationFields(reconcile.Notification{Kind: reconcile.NotifyRoleRevoked, GuildID: "g1", MemberID: "x", RoleID: "r1", Binding: b})
	assert.Equal(t, "role-revoked", fields["notification"])
	assert.Equal(t, "m1:✅", fields["binding"])
	assert.Equal(t, "x", fields["member"])
	_, hasChannel := fields["channel"]
	assert.False(t, hasChannel)
}
