package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
)

const reactorPageSize int = 100

//ReactorResult represents an item fetched using a reactors iterator. A result with a non-nil Error is always the
//last one.
type ReactorResult struct {
	User  *discordgo.User
	Error error
}

//reactorsIter returns a channel yielding every user who reacted to a message with the given emoji, fetching pages from
//the API as it goes. The channel is closed once every reactor has been returned, after an error, or when ctx is done.
func (p *Platform) reactorsIter(ctx context.Context, channelID, messageID, apiEmoji string) chan ReactorResult {
	ch := make(chan ReactorResult)
	go func() {
		defer close(ch)
		afterID := ""
		for {
			page, err := p.s.MessageReactions(channelID, messageID, apiEmoji, reactorPageSize, "", afterID, discordgo.WithContext(ctx))
			if err != nil {
				logrus.Warnf("Failed to fetch page of reactors from discord api: %v", err)
				select {
				case ch <- ReactorResult{Error: err}:
				case <-ctx.Done():
				}
				return
			}
			for _, user := range page {
				select {
				case ch <- ReactorResult{User: user}:
				case <-ctx.Done():
					return
				}
			}
			//A short page is the last one
			if len(page) < reactorPageSize {
				return
			}
			afterID = maxUID(page)
		}
	}()
	return ch
}

//maxUID returns the largest snowflake in the page. Snowflakes are compared by length first as they are decimal strings.
func maxUID(users []*discordgo.User) string {
	maxuid := "0"
	for _, user := range users {
		if len(user.ID) > len(maxuid) || (len(user.ID) == len(maxuid) && user.ID > maxuid) {
			maxuid = user.ID
		}
	}
	return maxuid
}
