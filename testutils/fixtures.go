package testutils

import (
	"time"

	"github.com/bwmarrin/discordgo"

	"chord-discord-bot/music/types"
)

// NewTestTrack creates a track fixture with the given title.
func NewTestTrack(title string) types.Track {
	return types.Track{
		Title:     title,
		Artist:    "test artist",
		Source:    types.SourceYouTube,
		SourceID:  "vid-" + title,
		URL:       "https://www.youtube.com/watch?v=" + title,
		StreamURL: "https://media.example.com/stream/" + title,
		Length:    180,
	}
}

// NewQueuedTrack wraps a track fixture with request context.
func NewQueuedTrack(title string) types.QueuedTrack {
	return types.QueuedTrack{
		Track:       NewTestTrack(title),
		RequestedBy: "tester",
		RequesterID: "user-123",
		ChannelID:   "chan-456",
		AddedAt:     time.Now(),
	}
}

// NewQueuedTracks builds fixtures for each title in order.
func NewQueuedTracks(titles ...string) []types.QueuedTrack {
	tracks := make([]types.QueuedTrack, 0, len(titles))
	for _, title := range titles {
		tracks = append(tracks, NewQueuedTrack(title))
	}
	return tracks
}

// NewCommandInteraction builds a minimal slash-command interaction.
func NewCommandInteraction(guildID, userID string, options []*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   guildID,
			ChannelID: "text-channel",
			Member: &discordgo.Member{
				User: &discordgo.User{ID: userID, Username: "tester"},
			},
			Data: discordgo.ApplicationCommandInteractionData{
				Options: options,
			},
		},
	}
}

// NewGuildWithVoiceStates builds a guild fixture whose users sit in rooms.
func NewGuildWithVoiceStates(guildID string, userToChannel map[string]string) *discordgo.Guild {
	guild := &discordgo.Guild{ID: guildID}
	for userID, channelID := range userToChannel {
		guild.VoiceStates = append(guild.VoiceStates, &discordgo.VoiceState{
			GuildID:   guildID,
			UserID:    userID,
			ChannelID: channelID,
		})
	}
	return guild
}
