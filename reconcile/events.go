package reconcile

import "fmt"

//EventKind discriminates the Event variant
type EventKind int

const (
	//EventReady signals that the platform connection is up; the first one triggers boot resync
	EventReady EventKind = iota + 1
	EventReactionAdd
	EventReactionRemove
	EventReactionRemoveAll
	EventRoleDelete
	//EventEmojisUpdate carries the full list of custom emoji still present in a guild
	EventEmojisUpdate
	EventGuildDelete
	EventChannelDelete
	//EventMessageDelete covers both single and bulk deletion
	EventMessageDelete

	//eventToggleSettle is generated internally when a toggle debounce timer fires
	eventToggleSettle
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventReactionAdd:
		return "reaction-add"
	case EventReactionRemove:
		return "reaction-remove"
	case EventReactionRemoveAll:
		return "reaction-remove-all"
	case EventRoleDelete:
		return "role-delete"
	case EventEmojisUpdate:
		return "emojis-update"
	case EventGuildDelete:
		return "guild-delete"
	case EventChannelDelete:
		return "channel-delete"
	case EventMessageDelete:
		return "message-delete"
	case eventToggleSettle:
		return "toggle-settle"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

//Event is a single inbound platform event. Which fields are populated depends on Kind:
//
//	EventReactionAdd, EventReactionRemove: GuildID, ChannelID, MessageID, EmojiKey, UserID
//	EventReactionRemoveAll: GuildID, ChannelID, MessageID
//	EventRoleDelete: GuildID, RoleID
//	EventEmojisUpdate: GuildID, EmojiKeys (custom emoji remaining in the guild)
//	EventGuildDelete: GuildID
//	EventChannelDelete: GuildID, ChannelID
//	EventMessageDelete: ChannelID, MessageIDs
type Event struct {
	ID         string
	Kind       EventKind
	GuildID    string
	ChannelID  string
	MessageID  string
	UserID     string
	EmojiKey   string
	RoleID     string
	MessageIDs []string
	EmojiKeys  []string
}
