package bot

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/callummance/nia-roles/guildmodels"
	"github.com/sirupsen/logrus"
)

const (
	successMessageColour int = 0x28bd00
	warnMessageColour    int = 0xbdb900
	errorMessageColour   int = 0xbd1b00
	infoMessageColour    int = 0x0077bd
)

//Discord rejects embeds with more fields than this
const maxEmbedFields int = 25

//NiaResponse represents the result of a command which can be both communicated over discord and written to the log.
type NiaResponse interface {
	DiscordResponse() *discordgo.MessageSend
	WriteToLog()
}

//NiaResponseSuccess will be returned when a command has been successfully completed
type NiaResponseSuccess struct {
	//The base command name
	command string
	//The entire text contents of the message
	commandMsg string
	//Fields describing what was done
	data map[string]string
	//The time the success was logged at
	timestamp time.Time
}

//DiscordResponse builds a MessageSend object which can be sent back to whoever sent a command message.
func (r NiaResponseSuccess) DiscordResponse() *discordgo.MessageSend {
	description := fmt.Sprintf("Completed %v command successfully!", r.command)
	return embedResponse("Success! \\o/", description, successMessageColour, r.timestamp, stringMapToFields(r.data))
}

//WriteToLog dumps data on a discord command response to the log
func (r NiaResponseSuccess) WriteToLog() {
	logrus.Infof("%v Completed command %v successfully | data: %v", logLineLabel(r.timestamp), r.commandMsg, r.data)
}

//NiaResponsePartialSuccess will be returned when a command has executed but with issues
type NiaResponsePartialSuccess struct {
	//The base command name
	command string
	//The entire text contents of the message
	commandMsg string
	//A human-readable description of the issue
	description string
	//A map containing fields which should be included in the embed
	data map[string]string
	//The time the success was logged at
	timestamp time.Time
}

//DiscordResponse builds a MessageSend object which can be sent back to whoever sent a command message.
func (r NiaResponsePartialSuccess) DiscordResponse() *discordgo.MessageSend {
	description := fmt.Sprintf("Completed %v command but with issues: \n%v", r.command, r.description)
	return embedResponse("Partial success...", description, warnMessageColour, r.timestamp, stringMapToFields(r.data))
}

//WriteToLog dumps data on a discord command response to the log
func (r NiaResponsePartialSuccess) WriteToLog() {
	logrus.Warnf("%v Completed command %v but with issues: %v | data: %v", logLineLabel(r.timestamp), r.commandMsg, r.description, r.data)
}

//NiaResponseSyntaxError will be returned when there was an issue with the user's input
type NiaResponseSyntaxError struct {
	//The base command name
	command string
	//The entire text contents of the message
	commandMsg string
	//A human-readable description of the issue
	description string
	//A description of the correct syntax
	syntax string
	//The time the error was logged at
	timestamp time.Time
}

//DiscordResponse builds a MessageSend object which can be sent back to whoever sent a command message.
func (r NiaResponseSyntaxError) DiscordResponse() *discordgo.MessageSend {
	description := fmt.Sprintf("Sorry, but there was a problem with the data you supplied for the %v command: \n%v", r.command, r.description)
	fields := []*discordgo.MessageEmbedField{
		{Name: "Your command", Value: r.commandMsg},
		{Name: "Correct syntax", Value: r.syntax},
	}
	return embedResponse("Uh-oh, there was something wrong with that command", description, errorMessageColour, r.timestamp, fields)
}

//WriteToLog dumps data on a discord command response to the log
func (r NiaResponseSyntaxError) WriteToLog() {
	logrus.Infof("%v Syntax error in command %v: %v", logLineLabel(r.timestamp), r.commandMsg, r.description)
}

//NiaResponseInternalError will be returned when there was some kind of error within the bot or when communicating with
//APIs
type NiaResponseInternalError struct {
	//The base command name
	command string
	//The entire text contents of the message
	commandMsg string
	//The error which caused the failure
	err error
	//The time the error was logged at
	timestamp time.Time
}

//DiscordResponse builds a MessageSend object which can be sent back to whoever sent a command message.
func (r NiaResponseInternalError) DiscordResponse() *discordgo.MessageSend {
	description := fmt.Sprintf("Oops! I encountered an unexpected error whilst running your %v command. Please try again later or file a bug report.", r.command)
	fields := []*discordgo.MessageEmbedField{{Name: "Error", Value: fmt.Sprintf("%v", r.err)}}
	return embedResponse("Oops, something went wrong ;w;", description, errorMessageColour, r.timestamp, fields)
}

//WriteToLog dumps data on a discord command response to the log
func (r NiaResponseInternalError) WriteToLog() {
	logrus.Errorf("%v Internal error whilst executing command %v: %v", logLineLabel(r.timestamp), r.commandMsg, r.err)
}

//NiaResponseNotAllowed will be returned when a user tried to run a command that they do not have the correct role for
type NiaResponseNotAllowed struct {
	//The base command name
	command string
	//The entire text contents of the message
	commandMsg string
	//A human-readable description of the issue
	description string
	//The time the error was logged at
	timestamp time.Time
}

//DiscordResponse builds a MessageSend object which can be sent back to whoever sent a command message.
func (r NiaResponseNotAllowed) DiscordResponse() *discordgo.MessageSend {
	fields := []*discordgo.MessageEmbedField{
		{Name: "Reason", Value: r.description},
		{Name: "Command", Value: r.commandMsg},
	}
	return embedResponse("That's illegal m8", "I'm sorry Dave, I can't let you do that...", errorMessageColour, r.timestamp, fields)
}

//WriteToLog dumps data on a discord command response to the log
func (r NiaResponseNotAllowed) WriteToLog() {
	logrus.Infof("%v Rejected command `%v` as the sender did not have the correct priveliges | description: %v", logLineLabel(r.timestamp), r.commandMsg, r.description)
}

//NiaResponseFeatureNotEnabled will be returned when a command needs a part of the bot which is not running yet
type NiaResponseFeatureNotEnabled struct {
	//The base command name
	command string
	//The entire text contents of the message
	commandMsg string
	//The name of the feature which was disabled
	disabledFeature string
	//The time the error was logged at
	timestamp time.Time
}

//DiscordResponse builds a MessageSend object which can be sent back to whoever sent a command message.
func (r NiaResponseFeatureNotEnabled) DiscordResponse() *discordgo.MessageSend {
	description := fmt.Sprintf("Sorry, but the '%v' command requires a feature which is not currently running. Please try again in a minute.", r.command)
	fields := []*discordgo.MessageEmbedField{{Name: "Required Feature(s)", Value: r.disabledFeature}}
	return embedResponse("Required feature is not ready", description, warnMessageColour, r.timestamp, fields)
}

//WriteToLog dumps data on a discord command response to the log
func (r NiaResponseFeatureNotEnabled) WriteToLog() {
	logrus.Infof("%v Rejected command `%v` as required feature %v is not ready", logLineLabel(r.timestamp), r.commandMsg, r.disabledFeature)
}

//NiaResponseBindingList lists the reaction role bindings of a guild
type NiaResponseBindingList struct {
	//The entire text contents of the message
	commandMsg string
	guildID    string
	bindings   []guildmodels.RoleBinding
	//The time the list was generated at
	timestamp time.Time
}

//DiscordResponse builds a MessageSend object which can be sent back to whoever sent a command message.
func (r NiaResponseBindingList) DiscordResponse() *discordgo.MessageSend {
	if len(r.bindings) == 0 {
		return embedResponse("Reaction roles", "There are no reaction roles set up in this server yet.", infoMessageColour, r.timestamp, nil)
	}
	fields := make([]*discordgo.MessageEmbedField, 0, len(r.bindings))
	for _, b := range r.bindings {
		if len(fields) == maxEmbedFields-1 {
			fields = append(fields, &discordgo.MessageEmbedField{
				Name:  "...",
				Value: fmt.Sprintf("and %d more", len(r.bindings)-len(fields)),
			})
			break
		}
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("%v on %v", formatEmoji(b.EmojiKey), messageLink(b.GuildID, b.ChannelID, b.MessageID)),
			Value: describeBinding(b),
		})
	}
	description := fmt.Sprintf("%d reaction role bindings are active in this server.", len(r.bindings))
	return embedResponse("Reaction roles", description, infoMessageColour, r.timestamp, fields)
}

//WriteToLog dumps data on a discord command response to the log
func (r NiaResponseBindingList) WriteToLog() {
	logrus.Infof("%v Listed %d reaction role bindings for guild %v", logLineLabel(r.timestamp), len(r.bindings), r.guildID)
}

func describeBinding(b guildmodels.RoleBinding) string {
	roles := make([]string, 0, len(b.RoleIDs))
	for _, roleID := range b.RoleIDs {
		roles = append(roles, fmt.Sprintf("<@&%v>", roleID))
	}
	parts := []string{strings.Join(roles, " "), fmt.Sprintf("type %v", b.Type)}
	if b.MaxGrants > 0 {
		parts = append(parts, fmt.Sprintf("%d/%d members", len(b.Winners), b.MaxGrants))
	} else {
		parts = append(parts, fmt.Sprintf("%d members", len(b.Winners)))
	}
	if b.Requirements.Boost {
		parts = append(parts, "boosters only")
	}
	if b.Requirements.VerifiedDeveloper {
		parts = append(parts, "verified developers only")
	}
	if b.Disabled {
		parts = append(parts, "disabled")
	}
	return strings.Join(parts, " | ")
}

/////////////////////
//Utility Functions//
/////////////////////

func embedResponse(title, description string, colour int, t time.Time, fields []*discordgo.MessageEmbedField) *discordgo.MessageSend {
	embed := discordgo.MessageEmbed{
		Title:       title,
		Type:        discordgo.EmbedTypeRich,
		Description: description,
		Timestamp:   t.Format(time.RFC3339),
		Color:       colour,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Log ID: %d", t.UnixNano()),
		},
		Fields: fields,
	}
	return &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{&embed},
		TTS:    false,
		Files:  []*discordgo.File{},
	}
}

func logLineLabel(t time.Time) string {
	return fmt.Sprintf("#%v# | ", t.UnixNano())
}

//stringMapToFields converts a map into embed fields, sorted by name
func stringMapToFields(fields map[string]string) []*discordgo.MessageEmbedField {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	res := make([]*discordgo.MessageEmbedField, 0, len(names))
	for _, name := range names {
		res = append(res, &discordgo.MessageEmbedField{
			Name:   name,
			Value:  fields[name],
			Inline: false,
		})
	}
	return res
}
