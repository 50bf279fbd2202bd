package bot

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/callummance/nia-roles/guildmodels"
)

//Allows @mentions or bare role ids
var roleRegex = regexp.MustCompile(`^(?:<@&(\d+)>|(\d+))$`)

func interpretRoleString(roleStr string) (string, bool) {
	matches := roleRegex.FindStringSubmatch(strings.TrimSpace(roleStr))
	switch {
	case matches == nil:
		return "", false
	case matches[1] != "":
		return matches[1], true
	default:
		return matches[2], true
	}
}

//Allows message links or <channel_id>:<message_id>
var messageRegex = regexp.MustCompile(`^(?:https://(?:(?:ptb|canary)\.)?discord(?:app)?\.com/channels/(\d+|@me)/(\d+)/(\d+)|(\d+):(\d+))$`)

//messageRef identifies a message given in a command
type messageRef struct {
	//Empty if the reference did not include a guild
	guildID   string
	channelID string
	messageID string
}

func interpretMessageRef(messageStr string) (messageRef, bool) {
	matches := messageRegex.FindStringSubmatch(strings.TrimSpace(messageStr))
	switch {
	case matches == nil:
		return messageRef{}, false
	case matches[3] != "":
		//Message link
		guildID := matches[1]
		if guildID == "@me" {
			guildID = ""
		}
		return messageRef{guildID: guildID, channelID: matches[2], messageID: matches[3]}, true
	default:
		//Channel and message IDs
		return messageRef{channelID: matches[4], messageID: matches[5]}, true
	}
}

func messageLink(guildID, channelID, messageID string) string {
	return fmt.Sprintf("https://discord.com/channels/%v/%v/%v", guildID, channelID, messageID)
}

//formatEmoji renders an emoji key so discord displays it in a message
func formatEmoji(emojiKey string) string {
	if guildmodels.IsCustomEmojiKey(emojiKey) {
		return fmt.Sprintf("<:e:%v>", emojiKey)
	}
	return emojiKey
}

const addReactionRoleSyntax string = "```" +
	`!addreactionrole <message> <emoji> <@role...> [type=<TYPE>] [max=<n>] [boost] [developer]

	<message> may be a message link (recommended) or <channel_id>:<message_id>.
	<emoji> should be an emoji from this server or a unicode emoji.
	<@role...> is one or more role mentions or role ids.
	type is one of NORMAL (default), TOGGLE, JUST_WIN, JUST_LOSE or REVERSED.
	max limits how many members may hold the roles through this reaction.
	boost and developer restrict the roles to server boosters and verified bot developers.` +
	"```"

const removeReactionRoleSyntax string = "```" +
	`!removereactionrole <message> <emoji> [cascade]

	cascade also removes the roles from every member who received them through the reaction.` +
	"```"

//addReactionRoleArgs are the parsed arguments of !addreactionrole
type addReactionRoleArgs struct {
	message      messageRef
	emoji        string
	roleIDs      []string
	bindingType  guildmodels.BindingType
	maxGrants    int
	requirements guildmodels.Requirements
}

func parseAddReactionRole(argString string) (addReactionRoleArgs, error) {
	var res addReactionRoleArgs
	words := strings.Fields(argString)
	if len(words) < 3 {
		return res, fmt.Errorf("expected a message, an emoji and at least one role")
	}
	ref, ok := interpretMessageRef(words[0])
	if !ok {
		return res, fmt.Errorf("`%v` is not a message link", words[0])
	}
	res.message = ref
	res.emoji = words[1]
	res.bindingType = guildmodels.BindingNormal
	for _, word := range words[2:] {
		if roleID, ok := interpretRoleString(word); ok {
			res.roleIDs = append(res.roleIDs, roleID)
			continue
		}
		key, value, hasValue := strings.Cut(word, "=")
		switch strings.ToLower(key) {
		case "type":
			t, err := guildmodels.ParseBindingType(value)
			if err != nil || !hasValue {
				return res, fmt.Errorf("`%v` is not a reaction role type", value)
			}
			res.bindingType = t
		case "max":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return res, fmt.Errorf("`%v` is not a valid member limit", value)
			}
			res.maxGrants = n
		case "boost":
			res.requirements.Boost = true
		case "developer":
			res.requirements.VerifiedDeveloper = true
		default:
			return res, fmt.Errorf("I don't know what `%v` means", word)
		}
	}
	if len(res.roleIDs) == 0 {
		return res, fmt.Errorf("at least one role is needed")
	}
	return res, nil
}

//removeReactionRoleArgs are the parsed arguments of !removereactionrole
type removeReactionRoleArgs struct {
	message messageRef
	emoji   string
	cascade bool
}

func parseRemoveReactionRole(argString string) (removeReactionRoleArgs, error) {
	var res removeReactionRoleArgs
	words := strings.Fields(argString)
	if len(words) < 2 || len(words) > 3 {
		return res, fmt.Errorf("expected a message and an emoji")
	}
	ref, ok := interpretMessageRef(words[0])
	if !ok {
		return res, fmt.Errorf("`%v` is not a message link", words[0])
	}
	res.message = ref
	res.emoji = words[1]
	if len(words) == 3 {
		if !strings.EqualFold(words[2], "cascade") {
			return res, fmt.Errorf("I don't know what `%v` means", words[2])
		}
		res.cascade = true
	}
	return res, nil
}
