package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"

	"chord-discord-bot/music/types"
	"chord-discord-bot/utils"
)

// HandleQueueCommand handles /queue [page]
func HandleQueueCommand(s SessionInterface, i *discordgo.InteractionCreate) error {
	p, err := guildPlayer(i)
	if err != nil {
		return replyError(s, i, err)
	}
	ctx := context.Background()

	snap, err := p.Snapshot(ctx)
	if err != nil {
		return replyError(s, i, err)
	}

	settings, err := p.Settings(ctx)
	if err != nil {
		return replyError(s, i, err)
	}
	pageSize := settings.QueuePageSize
	if pageSize < 1 {
		pageSize = 10
	}

	opts := optionMap(i)
	page := 1
	if opt, ok := opts["page"]; ok {
		page = int(opt.IntValue())
	}
	if opt, ok := opts["page-size"]; ok {
		pageSize = int(opt.IntValue())
	}
	if pageSize < 1 || pageSize > 30 {
		return replyError(s, i, types.NewError(types.KindInvalidArgument, "page size must be between 1 and 30"))
	}
	if page < 1 {
		return replyError(s, i, types.NewError(types.KindInvalidArgument, "page must be at least 1"))
	}

	embed := &discordgo.MessageEmbed{
		Title: "🎵 Music Queue",
		Color: colorBlue,
	}

	if snap.Current != nil {
		value := trackLine(snap.Current)
		if snap.Status == types.StatusPlaying || snap.Status == types.StatusPaused {
			value += fmt.Sprintf("\n`%s / %s`",
				utils.FormatDuration(snap.Position),
				utils.FormatTrackLength(snap.Current.Length, snap.Current.IsLive))
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Now Playing",
			Value: value,
		})
	}

	total := len(snap.Upcoming)
	if total == 0 {
		embed.Description = "The queue is empty"
		return respondEmbed(s, i, embed)
	}

	start := (page - 1) * pageSize
	if start >= total {
		return replyError(s, i, types.NewError(types.KindInvalidArgument,
			fmt.Sprintf("page %d is out of range (queue has %d tracks)", page, total)))
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	var lines []string
	for idx := start; idx < end; idx++ {
		track := snap.Upcoming[idx]
		lines = append(lines, fmt.Sprintf("%d. %s", idx+1, trackLine(&track)))
	}

	pages := (total + pageSize - 1) / pageSize
	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
		Name:  fmt.Sprintf("Up Next (%d tracks)", total),
		Value: strings.Join(lines, "\n"),
	})
	embed.Footer = &discordgo.MessageEmbedFooter{
		Text: fmt.Sprintf("Page %d of %d", page, pages),
	}

	return respondEmbed(s, i, embed)
}

// HandleNowPlayingCommand handles /now-playing
func HandleNowPlayingCommand(s SessionInterface, i *discordgo.InteractionCreate) error {
	p, err := guildPlayer(i)
	if err != nil {
		return replyError(s, i, err)
	}
	ctx := context.Background()

	snap, err := p.Snapshot(ctx)
	if err != nil {
		return replyError(s, i, err)
	}
	if snap.Current == nil {
		return replyError(s, i, types.NewError(types.KindPreconditionFailed, "nothing is playing right now"))
	}

	track := snap.Current
	statusIcon := "▶️"
	if snap.Status == types.StatusPaused {
		statusIcon = "⏸️"
	}

	embed := &discordgo.MessageEmbed{
		Title:       statusIcon + " Now Playing",
		Description: trackLine(track),
		Color:       colorBlue,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name: "Position",
				Value: fmt.Sprintf("`%s / %s`", utils.FormatDuration(snap.Position),
					utils.FormatTrackLength(track.Length, track.IsLive)),
				Inline: true,
			},
			{
				Name:   "Volume",
				Value:  fmt.Sprintf("%d%%", snap.Volume),
				Inline: true,
			},
			{
				Name:   "Requested by",
				Value:  track.RequestedBy,
				Inline: true,
			},
		},
	}

	if snap.LoopTrack {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: "🔂 Looping this track"}
	} else if snap.LoopQueue {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: "🔁 Looping the queue"}
	}
	if track.ThumbnailURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: track.ThumbnailURL}
	}

	return respondEmbed(s, i, embed)
}

// HandleClearCommand handles /clear
func HandleClearCommand(s SessionInterface, i *discordgo.InteractionCreate) error {
	p, err := guildPlayer(i)
	if err != nil {
		return replyError(s, i, err)
	}
	ctx := context.Background()

	if _, err := requireSameRoom(ctx, s, i, p); err != nil {
		return replyError(s, i, err)
	}

	if err := p.ClearQueue(ctx); err != nil {
		return replyError(s, i, err)
	}
	return respondText(s, i, "🗑️ Cleared the queue, the current track keeps playing")
}

// HandleRemoveCommand handles /remove [position] [range]
func HandleRemoveCommand(s SessionInterface, i *discordgo.InteractionCreate) error {
	p, err := guildPlayer(i)
	if err != nil {
		return replyError(s, i, err)
	}
	ctx := context.Background()

	if _, err := requireSameRoom(ctx, s, i, p); err != nil {
		return replyError(s, i, err)
	}

	opts := optionMap(i)
	position, count := 1, 1
	if opt, ok := opts["position"]; ok {
		position = int(opt.IntValue())
	}
	if opt, ok := opts["range"]; ok {
		count = int(opt.IntValue())
	}

	removed, err := p.RemoveFromQueue(ctx, position, count)
	if err != nil {
		return replyError(s, i, err)
	}
	if len(removed) == 1 {
		return respondText(s, i, "🗑️ Removed "+trackLine(&removed[0]))
	}
	return respondText(s, i, fmt.Sprintf("🗑️ Removed %d tracks", len(removed)))
}

// HandleMoveCommand handles /move <from> <to>
func HandleMoveCommand(s SessionInterface, i *discordgo.InteractionCreate) error {
	p, err := guildPlayer(i)
	if err != nil {
		return replyError(s, i, err)
	}
	ctx := context.Background()

	if _, err := requireSameRoom(ctx, s, i, p); err != nil {
		return replyError(s, i, err)
	}

	opts := optionMap(i)
	fromOpt, okFrom := opts["from"]
	toOpt, okTo := opts["to"]
	if !okFrom || !okTo {
		return replyError(s, i, types.NewError(types.KindInvalidArgument, "from and to positions are required"))
	}

	moved, err := p.MoveInQueue(ctx, int(fromOpt.IntValue()), int(toOpt.IntValue()))
	if err != nil {
		return replyError(s, i, err)
	}
	return respondText(s, i, fmt.Sprintf("↕️ Moved %s to position %d", trackLine(moved), toOpt.IntValue()))
}

// HandleShuffleCommand handles /shuffle
func HandleShuffleCommand(s SessionInterface, i *discordgo.InteractionCreate) error {
	p, err := guildPlayer(i)
	if err != nil {
		return replyError(s, i, err)
	}
	ctx := context.Background()

	if _, err := requireSameRoom(ctx, s, i, p); err != nil {
		return replyError(s, i, err)
	}

	if err := p.ShuffleQueue(ctx); err != nil {
		return replyError(s, i, err)
	}
	return respondText(s, i, "🔀 Shuffled the queue")
}

// HandleCacheInfoCommand handles /cache-info
func HandleCacheInfoCommand(s SessionInterface, i *discordgo.InteractionCreate) error {
	if AudioCache == nil {
		return respondEphemeral(s, i, "🚫 Cache is not available")
	}

	stats, err := AudioCache.Stats()
	if err != nil {
		return replyError(s, i, types.WrapError(types.KindInternal, "failed to read cache stats", err))
	}

	usage := 0.0
	if stats.Limit > 0 {
		usage = float64(stats.Bytes) / float64(stats.Limit) * 100
	}

	embed := &discordgo.MessageEmbed{
		Title: "Cache Information",
		Color: colorBlue,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name: "Cache Size",
				Value: fmt.Sprintf("%s / %s", humanize.Bytes(uint64(stats.Bytes)),
					humanize.Bytes(uint64(stats.Limit))),
			},
			{
				Name:   "Usage",
				Value:  fmt.Sprintf("%.1f%%", usage),
				Inline: true,
			},
			{
				Name:   "Files Cached",
				Value:  fmt.Sprintf("%d", stats.Files),
				Inline: true,
			},
		},
	}

	if len(stats.Recent) > 0 {
		var lines []string
		for idx, entry := range stats.Recent {
			lines = append(lines, fmt.Sprintf("%d. `%s` (%s) - last used %s",
				idx+1, entry.Fingerprint[:12], humanize.Bytes(uint64(entry.Bytes)),
				humanize.Time(entry.AccessedAt)))
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Recently Accessed",
			Value: strings.Join(lines, "\n"),
		})
	}

	return respondEmbed(s, i, embed)
}
