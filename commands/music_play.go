package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"chord-discord-bot/music/types"
	"chord-discord-bot/utils"
)

const (
	resolveTimeout       = 15 * time.Second
	defaultPlaylistLimit = 50
)

var titleCaser = cases.Title(language.English)

// HandlePlayCommand handles the /play slash command: resolve the query,
// connect to the caller's voice room, enqueue, and start playback if idle.
func HandlePlayCommand(s SessionInterface, i *discordgo.InteractionCreate) error {
	if Players == nil || TrackResolver == nil {
		return respondEphemeral(s, i, "🚫 Music system is not available")
	}

	p := Players.Get(i.GuildID)
	ctx := context.Background()

	channelID, err := requireSameRoom(ctx, s, i, p)
	if err != nil {
		return replyError(s, i, err)
	}

	opts := optionMap(i)
	query := ""
	if opt, ok := opts["query"]; ok {
		query = opt.StringValue()
	}
	if query == "" {
		return respondEphemeral(s, i, "🚫 Please provide a song URL or search query")
	}

	immediate := boolOption(opts, "immediate")
	shuffle := boolOption(opts, "shuffle")
	splitChapters := boolOption(opts, "split-chapters")
	skipCurrent := boolOption(opts, "skip-current")

	settings, err := p.Settings(ctx)
	if err != nil {
		return replyError(s, i, err)
	}

	if err := deferResponse(s, i, settings.QueueAddResponseEphemeral); err != nil {
		return err
	}

	resolveCtx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	result, err := TrackResolver.Resolve(resolveCtx, query, types.ResolveOptions{
		PlaylistLimit: defaultPlaylistLimit,
		SplitChapters: splitChapters,
	})
	if err != nil {
		utils.LogWarn("Resolve failed for %q in guild %s: %v", query, i.GuildID, err)
		return editError(s, i, err)
	}
	if len(result.Tracks) == 0 {
		return editError(s, i, types.NewError(types.KindNotFound, "no songs found"))
	}

	if err := p.Connect(ctx, channelID); err != nil {
		return editError(s, i, err)
	}

	queued := wrapTracks(result.Tracks, i)
	if err := p.AddTracks(ctx, queued, immediate); err != nil {
		return editError(s, i, err)
	}

	if shuffle {
		if err := p.ShuffleQueue(ctx); err != nil {
			return editError(s, i, err)
		}
	}

	status := p.Status()
	switch {
	case skipCurrent && (status == types.StatusPlaying || status == types.StatusPaused):
		if err := p.Skip(ctx, 1); err != nil {
			return editError(s, i, err)
		}
	case status != types.StatusPlaying && status != types.StatusLoading:
		if err := p.Play(ctx); err != nil {
			return editError(s, i, err)
		}
	}

	return editEmbed(s, i, playReplyEmbed(queued, result.Message))
}

func boolOption(opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) bool {
	if opt, ok := opts[name]; ok {
		return opt.BoolValue()
	}
	return false
}

func wrapTracks(tracks []types.Track, i *discordgo.InteractionCreate) []types.QueuedTrack {
	requestedBy := "unknown"
	requesterID := ""
	if i.Member != nil && i.Member.User != nil {
		requestedBy = i.Member.User.Username
		requesterID = i.Member.User.ID
	}

	queued := make([]types.QueuedTrack, 0, len(tracks))
	for _, track := range tracks {
		queued = append(queued, types.QueuedTrack{
			Track:       track,
			RequestedBy: requestedBy,
			RequesterID: requesterID,
			ChannelID:   i.ChannelID,
			AddedAt:     time.Now(),
		})
	}
	return queued
}

func playReplyEmbed(queued []types.QueuedTrack, extra string) *discordgo.MessageEmbed {
	first := queued[0]

	embed := &discordgo.MessageEmbed{
		Title:       "🎵 Added to Queue",
		Description: trackLine(&first),
		Color:       colorGreen,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:   "Source",
				Value:  titleCaser.String(first.Source.String()),
				Inline: true,
			},
			{
				Name:   "Requested by",
				Value:  first.RequestedBy,
				Inline: true,
			},
		},
	}

	if len(queued) > 1 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "Tracks added",
			Value:  fmt.Sprintf("%d", len(queued)),
			Inline: true,
		})
	}
	if first.ThumbnailURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: first.ThumbnailURL}
	}
	if extra != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: extra}
	}
	return embed
}
