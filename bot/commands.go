package bot

import (
	"strings"

	"github.com/bwmarrin/discordgo"
)

//HandleMessage is called upon every recieved message. It checks if the message is a command, and executes it.
func (b *NiaBot) HandleMessage(msg *discordgo.MessageCreate) {
	//Commands only make sense inside a server
	if msg.GuildID == "" || !strings.HasPrefix(msg.Content, "!") {
		return
	}
	words := strings.SplitN(msg.Content, " ", 2)
	command := strings.ToLower(strings.TrimLeft(words[0], "!"))
	switch command {
	case "addreactionrole":
		b.HandleAddReactionRoleMessage(msg)
	case "removereactionrole":
		b.HandleRemoveReactionRoleMessage(msg)
	case "listreactionroles":
		b.HandleListReactionRolesMessage(msg)
	}
}
