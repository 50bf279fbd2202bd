package reconcile

import (
	"context"

	"github.com/callummance/nia-roles/guildmodels"
)

//Platform is everything the engine needs from the chat platform. Implementations wrap lookup failures for deleted
//entities in guildmodels.ErrUnresolvedReference and permission denials in guildmodels.ErrMissingPermissions.
type Platform interface {
	//SelfID returns the user id of the bot account
	SelfID() string

	ResolveGuild(ctx context.Context, guildID string) error
	ResolveRole(ctx context.Context, guildID, roleID string) error
	ResolveChannel(ctx context.Context, channelID string) error
	FetchMessage(ctx context.Context, channelID, messageID string) (*Message, error)
	FetchMember(ctx context.Context, guildID, userID string) (*guildmodels.Member, error)
	//FetchReactors returns every user who reacted to the message with the given emoji
	FetchReactors(ctx context.Context, channelID, messageID, emojiKey string) ([]Reactor, error)
	//ResolveEmoji turns raw user input into a normalized emoji key usable in guildID
	ResolveEmoji(ctx context.Context, guildID, raw string) (string, error)

	AddReaction(ctx context.Context, guildID, channelID, messageID, emojiKey string) error
	RemoveReaction(ctx context.Context, guildID, channelID, messageID, emojiKey, userID string) error
	GrantRole(ctx context.Context, guildID, userID, roleID string) error
	RevokeRole(ctx context.Context, guildID, userID, roleID string) error

	CanManageRoles(ctx context.Context, guildID string, roleIDs []string) (bool, error)
	CanAddReactions(ctx context.Context, channelID string) (bool, error)
}

//Message is the subset of a chat message the engine inspects
type Message struct {
	ID        string
	ChannelID string
	GuildID   string
	Reactions []Reaction
}

//Reaction summarises one emoji's reactions on a message
type Reaction struct {
	EmojiKey string
	Count    int
	//Me is true if the bot itself has reacted with this emoji
	Me bool
}

//Reactor is a single user who reacted to a message
type Reactor struct {
	UserID string
	Bot    bool
}

//HasOwnReaction returns true if the bot has reacted to the message with emojiKey
func (m *Message) HasOwnReaction(emojiKey string) bool {
	for _, r := range m.Reactions {
		if r.EmojiKey == emojiKey && r.Me {
			return true
		}
	}
	return false
}
