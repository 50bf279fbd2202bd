package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/callummance/nia-roles/guildmodels"
	"github.com/callummance/nia-roles/reconcile"
	"github.com/sirupsen/logrus"
)

//verifiedDeveloperFlag is the public user flag carried by verified bot developers
const verifiedDeveloperFlag = 1 << 17

//Platform implements reconcile.Platform on top of a discordgo session. The session's state cache is consulted first
//where it is authoritative; everything else goes through the REST API.
type Platform struct {
	s *discordgo.Session
}

//NewPlatform wraps a discordgo session
func NewPlatform(s *discordgo.Session) *Platform {
	return &Platform{s: s}
}

//SelfID returns the bot's own user id, or an empty string before the first Ready
func (p *Platform) SelfID() string {
	if p.s.State == nil || p.s.State.User == nil {
		return ""
	}
	return p.s.State.User.ID
}

//ResolveGuild checks the bot is still a member of the guild
func (p *Platform) ResolveGuild(ctx context.Context, guildID string) error {
	if _, err := p.s.State.Guild(guildID); err == nil {
		return nil
	}
	_, err := p.s.Guild(guildID, discordgo.WithContext(ctx))
	return mapErr(err)
}

//ResolveRole checks the role still exists in the guild
func (p *Platform) ResolveRole(ctx context.Context, guildID, roleID string) error {
	if _, err := p.s.State.Role(guildID, roleID); err == nil {
		return nil
	}
	roles, err := p.s.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return mapErr(err)
	}
	for _, role := range roles {
		if role.ID == roleID {
			return nil
		}
	}
	return fmt.Errorf("%w: role %v does not exist in guild %v", guildmodels.ErrUnresolvedReference, roleID, guildID)
}

//ResolveChannel checks the channel still exists
func (p *Platform) ResolveChannel(ctx context.Context, channelID string) error {
	if _, err := p.s.State.Channel(channelID); err == nil {
		return nil
	}
	_, err := p.s.Channel(channelID, discordgo.WithContext(ctx))
	return mapErr(err)
}

//FetchMessage reads a message and its reaction summary
func (p *Platform) FetchMessage(ctx context.Context, channelID, messageID string) (*reconcile.Message, error) {
	m, err := p.s.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapErr(err)
	}
	return messageFromDiscord(m), nil
}

func messageFromDiscord(m *discordgo.Message) *reconcile.Message {
	res := &reconcile.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Reactions: make([]reconcile.Reaction, 0, len(m.Reactions)),
	}
	for _, r := range m.Reactions {
		if r.Emoji == nil {
			continue
		}
		res.Reactions = append(res.Reactions, reconcile.Reaction{
			EmojiKey: EmojiKey(*r.Emoji),
			Count:    r.Count,
			Me:       r.Me,
		})
	}
	return res
}

//FetchMember always goes to the REST API so role lists and boost status are current
func (p *Platform) FetchMember(ctx context.Context, guildID, userID string) (*guildmodels.Member, error) {
	m, err := p.s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapErr(err)
	}
	return memberFromDiscord(m), nil
}

func memberFromDiscord(m *discordgo.Member) *guildmodels.Member {
	res := &guildmodels.Member{
		RoleIDs:      append([]string(nil), m.Roles...),
		PremiumSince: m.PremiumSince,
	}
	if m.User != nil {
		res.UserID = m.User.ID
		res.Bot = m.User.Bot
		res.VerifiedDeveloper = int(m.User.PublicFlags)&verifiedDeveloperFlag != 0
	}
	return res
}

//FetchReactors lists every user who reacted to the message with the emoji
func (p *Platform) FetchReactors(ctx context.Context, channelID, messageID, emojiKey string) ([]reconcile.Reactor, error) {
	guildID := p.channelGuild(channelID)
	res := make([]reconcile.Reactor, 0)
	for r := range p.reactorsIter(ctx, channelID, messageID, p.apiEmoji(guildID, emojiKey)) {
		if r.Error != nil {
			return nil, mapErr(r.Error)
		}
		res = append(res, reconcile.Reactor{UserID: r.User.ID, Bot: r.User.Bot})
	}
	//The iterator stops silently on cancellation, which would otherwise look like a short list
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

//customEmojiRegex matches a custom emoji as it appears in message text
var customEmojiRegex = regexp.MustCompile(`^<(a?):([^:]+):(\d+)>$`)

var emojiIDRegex = regexp.MustCompile(`^\d+$`)

//ResolveEmoji turns user input into an emoji key. Custom emoji must belong to the guild.
func (p *Platform) ResolveEmoji(ctx context.Context, guildID, raw string) (string, error) {
	key, custom, err := ParseEmoji(raw)
	if err != nil {
		return "", err
	}
	if !custom {
		return key, nil
	}
	if _, err := p.s.State.Emoji(guildID, key); err == nil {
		return key, nil
	}
	emojis, err := p.s.GuildEmojis(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapErr(err)
	}
	for _, e := range emojis {
		if e.ID == key {
			return key, nil
		}
	}
	return "", fmt.Errorf("%w: emoji %v does not belong to guild %v", guildmodels.ErrUnresolvedReference, key, guildID)
}

//ParseEmoji extracts the emoji key from user input and reports whether it names a custom emoji
func ParseEmoji(raw string) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return "", false, fmt.Errorf("%w: empty emoji", guildmodels.ErrInvalidInput)
	case customEmojiRegex.MatchString(raw):
		return customEmojiRegex.FindStringSubmatch(raw)[3], true, nil
	case emojiIDRegex.MatchString(raw):
		return raw, true, nil
	case strings.ContainsAny(raw, "<>: \t"):
		return "", false, fmt.Errorf("%w: %q is not an emoji", guildmodels.ErrInvalidInput, raw)
	case len([]rune(raw)) > 8:
		//Longest unicode sequences are flags and families, anything longer is text
		return "", false, fmt.Errorf("%w: %q is not an emoji", guildmodels.ErrInvalidInput, raw)
	default:
		return raw, false, nil
	}
}

//apiEmoji converts an emoji key into the form the reactions endpoints expect
func (p *Platform) apiEmoji(guildID, emojiKey string) string {
	if !guildmodels.IsCustomEmojiKey(emojiKey) {
		return emojiKey
	}
	if guildID != "" {
		if e, err := p.s.State.Emoji(guildID, emojiKey); err == nil {
			return e.APIName()
		}
	}
	//The API only checks the id of custom emoji
	return "_:" + emojiKey
}

func (p *Platform) channelGuild(channelID string) string {
	if c, err := p.s.State.Channel(channelID); err == nil {
		return c.GuildID
	}
	return ""
}

//AddReaction adds the bot's own reaction
func (p *Platform) AddReaction(ctx context.Context, guildID, channelID, messageID, emojiKey string) error {
	err := p.s.MessageReactionAdd(channelID, messageID, p.apiEmoji(guildID, emojiKey), discordgo.WithContext(ctx))
	return mapErr(err)
}

//RemoveReaction removes a member's reaction, or the bot's own when userID is the bot
func (p *Platform) RemoveReaction(ctx context.Context, guildID, channelID, messageID, emojiKey, userID string) error {
	if userID == p.SelfID() {
		userID = "@me"
	}
	err := p.s.MessageReactionRemove(channelID, messageID, p.apiEmoji(guildID, emojiKey), userID, discordgo.WithContext(ctx))
	return mapErr(err)
}

//GrantRole adds a role to a guild member
func (p *Platform) GrantRole(ctx context.Context, guildID, userID, roleID string) error {
	logrus.Debugf("Granting role %v to %v in guild %v", roleID, userID, guildID)
	return mapErr(p.s.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx)))
}

//RevokeRole removes a role from a guild member
func (p *Platform) RevokeRole(ctx context.Context, guildID, userID, roleID string) error {
	logrus.Debugf("Revoking role %v from %v in guild %v", roleID, userID, guildID)
	return mapErr(p.s.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx)))
}

//CanManageRoles checks the bot has the Manage Roles permission and that every role sits below its highest role
func (p *Platform) CanManageRoles(ctx context.Context, guildID string, roleIDs []string) (bool, error) {
	guild, err := p.s.State.Guild(guildID)
	if err != nil {
		return false, err
	}
	self, err := p.s.State.Member(guildID, p.SelfID())
	if err != nil {
		self, err = p.s.GuildMember(guildID, p.SelfID(), discordgo.WithContext(ctx))
		if err != nil {
			return false, mapErr(err)
		}
	}
	return canManageRoles(guild, self.Roles, p.SelfID(), roleIDs), nil
}

func canManageRoles(guild *discordgo.Guild, memberRoles []string, selfID string, targets []string) bool {
	if guild.OwnerID == selfID {
		return true
	}
	positions := make(map[string]*discordgo.Role, len(guild.Roles))
	for _, r := range guild.Roles {
		positions[r.ID] = r
	}
	var perms int64
	highest := -1
	//The @everyone role shares the guild's id
	if everyone, ok := positions[guild.ID]; ok {
		perms |= everyone.Permissions
	}
	for _, id := range memberRoles {
		r, ok := positions[id]
		if !ok {
			continue
		}
		perms |= r.Permissions
		if r.Position > highest {
			highest = r.Position
		}
	}
	if perms&(discordgo.PermissionAdministrator|discordgo.PermissionManageRoles) == 0 {
		return false
	}
	for _, id := range targets {
		r, ok := positions[id]
		if !ok {
			continue
		}
		if r.Managed || r.Position >= highest {
			return false
		}
	}
	return true
}

//CanAddReactions checks the bot may react in the channel
func (p *Platform) CanAddReactions(ctx context.Context, channelID string) (bool, error) {
	perms, err := p.s.State.UserChannelPermissions(p.SelfID(), channelID)
	if err != nil {
		return false, err
	}
	return perms&discordgo.PermissionAddReactions != 0, nil
}

//mapErr translates REST failures into the engine's error taxonomy
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", guildmodels.ErrUnresolvedReference, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", guildmodels.ErrMissingPermissions, err)
		}
	}
	return err
}
