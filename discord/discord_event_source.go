package discord

import (
	"fmt"
	"net/url"

	"github.com/bwmarrin/discordgo"
	"github.com/callummance/nia-roles/reconcile"
	"github.com/sirupsen/logrus"
)

const botScope = "bot"
const permissions = discordgo.PermissionManageRoles | discordgo.PermissionAddReactions | discordgo.PermissionManageMessages |
	discordgo.PermissionViewChannel | discordgo.PermissionReadMessageHistory | discordgo.PermissionSendMessages |
	discordgo.PermissionEmbedLinks

const intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsGuildMessageReactions |
	discordgo.IntentsGuildMembers | discordgo.IntentsGuildEmojis

//CommandHandler handles chat commands.
type CommandHandler interface {
	HandleMessage(*discordgo.MessageCreate)
}

//EventSink receives every gateway event the reconciliation engine consumes
type EventSink interface {
	Submit(reconcile.Event)
}

//EventSource represents a connection to the Discord gateway
type EventSource struct {
	discordClient *discordgo.Session
	commands      CommandHandler
	sink          EventSink
}

//NewEventSource creates the discord session. No connection is made until Start is called.
func NewEventSource(token string) (*EventSource, error) {
	if token == "" {
		return nil, fmt.Errorf("no discord bot token was configured")
	}
	dc, err := discordgo.New("Bot " + token)
	if err != nil {
		logrus.Warnf("Failed to create Discord gateway client due to %v", err)
		return nil, err
	}
	dc.Identify.Intents = intents
	dc.StateEnabled = true
	return &EventSource{discordClient: dc}, nil
}

//Start registers the event handlers and opens the websocket connection
func (d *EventSource) Start(commands CommandHandler, sink EventSink) error {
	d.commands = commands
	d.sink = sink

	//Register event handlers
	dc := d.discordClient
	dc.AddHandler(d.dispatchMessageCreateEvent)
	dc.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		logrus.Infof("Connected to discord gateway as %v, in %d guilds", r.User.String(), len(r.Guilds))
		d.submit(reconcile.Event{Kind: reconcile.EventReady})
	})
	dc.AddHandler(func(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
		d.submit(reactionEvent(reconcile.EventReactionAdd, r.MessageReaction))
	})
	dc.AddHandler(func(s *discordgo.Session, r *discordgo.MessageReactionRemove) {
		d.submit(reactionEvent(reconcile.EventReactionRemove, r.MessageReaction))
	})
	dc.AddHandler(func(s *discordgo.Session, r *discordgo.MessageReactionRemoveAll) {
		d.submit(reactionEvent(reconcile.EventReactionRemoveAll, r.MessageReaction))
	})
	dc.AddHandler(func(s *discordgo.Session, r *discordgo.GuildRoleDelete) {
		d.submit(reconcile.Event{Kind: reconcile.EventRoleDelete, GuildID: r.GuildID, RoleID: r.RoleID})
	})
	dc.AddHandler(func(s *discordgo.Session, u *discordgo.GuildEmojisUpdate) {
		d.submit(emojisUpdateEvent(u))
	})
	dc.AddHandler(func(s *discordgo.Session, g *discordgo.GuildDelete) {
		if ev, ok := guildDeleteEvent(g); ok {
			d.submit(ev)
		}
	})
	dc.AddHandler(func(s *discordgo.Session, c *discordgo.ChannelDelete) {
		d.submit(reconcile.Event{Kind: reconcile.EventChannelDelete, GuildID: c.GuildID, ChannelID: c.ID})
	})
	dc.AddHandler(func(s *discordgo.Session, m *discordgo.MessageDelete) {
		d.submit(reconcile.Event{Kind: reconcile.EventMessageDelete, GuildID: m.GuildID, ChannelID: m.ChannelID, MessageIDs: []string{m.ID}})
	})
	dc.AddHandler(func(s *discordgo.Session, m *discordgo.MessageDeleteBulk) {
		d.submit(reconcile.Event{Kind: reconcile.EventMessageDelete, GuildID: m.GuildID, ChannelID: m.ChannelID, MessageIDs: m.Messages})
	})

	//Open a websocket connection
	err := dc.Open()
	if err != nil {
		logrus.Errorf("Failed to connect to discord websockets gateway; encountered error %v", err)
		return err
	}
	return nil
}

//BotAddURL generates a URL that can be used to add the bot to a server
func (d *EventSource) BotAddURL() (*url.URL, error) {
	user, err := d.discordClient.User("@me")
	if err != nil {
		return nil, err
	}
	return inviteURL(user.ID)
}

func inviteURL(clientID string) (*url.URL, error) {
	url, err := url.Parse("https://discord.com/api/oauth2/authorize")
	if err != nil {
		return nil, err
	}
	q := url.Query()
	q.Set("client_id", clientID)
	q.Set("scope", botScope)
	q.Set("permissions", fmt.Sprintf("%d", permissions))
	url.RawQuery = q.Encode()

	return url, nil
}

//Close cleanly terminates the Discord connection
func (d *EventSource) Close() {
	logrus.Info("Terminating discord event listener...")
	_ = d.discordClient.Close()
}

//Session returns a handle to the underlying discordgo session
func (d *EventSource) Session() *discordgo.Session {
	return d.discordClient
}

func (d *EventSource) submit(ev reconcile.Event) {
	if d.sink == nil {
		return
	}
	d.sink.Submit(ev)
}

func (d *EventSource) dispatchMessageCreateEvent(s *discordgo.Session, m *discordgo.MessageCreate) {
	//Ignore messages created by bot
	if m.Author == nil || (s.State.User != nil && m.Author.ID == s.State.User.ID) {
		return
	}

	//Prevent panic from crashing the whole bot
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("Bot handler thread panicked: %v", r)
		}
	}()

	//Dispatch to bot handlers
	if d.commands != nil {
		d.commands.HandleMessage(m)
	}
}

//EmojiKey returns the key a reaction emoji is bound by: the id of a custom emoji, or the unicode emoji itself
func EmojiKey(e discordgo.Emoji) string {
	if e.ID != "" {
		return e.ID
	}
	return e.Name
}

func reactionEvent(kind reconcile.EventKind, r *discordgo.MessageReaction) reconcile.Event {
	return reconcile.Event{
		Kind:      kind,
		GuildID:   r.GuildID,
		ChannelID: r.ChannelID,
		MessageID: r.MessageID,
		UserID:    r.UserID,
		EmojiKey:  EmojiKey(r.Emoji),
	}
}

func emojisUpdateEvent(u *discordgo.GuildEmojisUpdate) reconcile.Event {
	keys := make([]string, 0, len(u.Emojis))
	for _, e := range u.Emojis {
		keys = append(keys, e.ID)
	}
	return reconcile.Event{Kind: reconcile.EventEmojisUpdate, GuildID: u.GuildID, EmojiKeys: keys}
}

//guildDeleteEvent ignores outages. Only a real removal from the guild drops its bindings.
func guildDeleteEvent(g *discordgo.GuildDelete) (reconcile.Event, bool) {
	if g.Guild == nil || g.Unavailable {
		if g.Guild != nil {
			logrus.Warnf("Guild %v became unavailable, keeping its role bindings", g.ID)
		}
		return reconcile.Event{}, false
	}
	return reconcile.Event{Kind: reconcile.EventGuildDelete, GuildID: g.ID}, true
}
