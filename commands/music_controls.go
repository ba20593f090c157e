package commands

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"chord-discord-bot/music/player"
	"chord-discord-bot/music/types"
	"chord-discord-bot/utils"
)

// guildPlayer fetches an existing player, failing the precondition when the
// guild never started one.
func guildPlayer(i *discordgo.InteractionCreate) (*player.Player, error) {
	if Players == nil {
		return nil, types.NewError(types.KindInternal, "music system is not available")
	}
	p, ok := Players.GetIfExists(i.GuildID)
	if !ok {
		return nil, types.NewError(types.KindPreconditionFailed, "nothing is playing in this server")
	}
	return p, nil
}

// HandleSkipCommand handles /skip [number]
func HandleSkipCommand(s SessionInterface, i *discordgo.InteractionCreate) error {
	p, err := guildPlayer(i)
	if err != nil {
		return replyError(s, i, err)
	}
	ctx := context.Background()

	if _, err := requireSameRoom(ctx, s, i, p); err != nil {
		return replyError(s, i, err)
	}

	n := 1
	if opt, ok := optionMap(i)["number"]; ok {
		n = int(opt.IntValue())
	}

	if err := p.Skip(ctx, n); err != nil {
		return replyError(s, i, err)
	}

	snap, err := p.Snapshot(ctx)
	if err != nil {
		return replyError(s, i, err)
	}
	if snap.Current != nil {
		return respondText(s, i, "⏭️ Skipped! Now playing "+trackLine(snap.Current))
	}
	return respondText(s, i, "⏭️ Skipped past the end of the queue")
}

// HandleBackCommand handles /back
func HandleBackCommand(s SessionInterface, i *discordgo.InteractionCreate) error {
	p, err := guildPlayer(i)
	if err != nil {
		return replyError(s, i, err)
	}
	ctx := context.Background()

	if _, err := requireSameRoom(ctx, s, i, p); err != nil {
		return replyError(s, i, err)
	}

	if err := p.Back(ctx); err != nil {
		return replyError(s, i, err)
	}
	return respondText(s, i, "⏮️ Playing the previous track")
}

// HandlePauseCommand handles /pause
func HandlePauseCommand(s SessionInterface, i *discordgo.InteractionCreate) error {
	p, err := guildPlayer(i)
	if err != nil {
		return replyError(s, i, err)
	}
	ctx := context.Background()

	if _, err := requireSameRoom(ctx, s, i, p); err != nil {
		return replyError(s, i, err)
	}
	if err := requirePlaying(ctx, p); err != nil {
		return replyError(s, i, err)
	}

	if err := p.Pause(ctx); err != nil {
		return replyError(s, i, err)
	}
	return respondText(s, i, "⏸️ Paused")
}

// HandleResumeCommand handles /resume
func HandleResumeCommand(s SessionInterface, i *discordgo.InteractionCreate) error {
	p, err := guildPlayer(i)
	if err != nil {
		return replyError(s, i, err)
	}
	ctx := context.Background()

	channelID, err := requireSameRoom(ctx, s, i, p)
	if err != nil {
		return replyError(s, i, err)
	}

	// Reconnect first when the auto-disconnect released the voice room.
	connected, err := p.Connected(ctx)
	if err != nil {
		return replyError(s, i, err)
	}
	if !connected {
		if err := p.Connect(ctx, channelID); err != nil {
			return replyError(s, i, err)
		}
	}

	if err := p.Play(ctx); err != nil {
		return replyError(s, i, err)
	}
	return respondText(s, i, "▶️ Resumed")
}

// HandleStopCommand handles /stop
func HandleStopCommand(s SessionInterface, i *discordgo.InteractionCreate) error {
	p, err := guildPlayer(i)
	if err != nil {
		return replyError(s, i, err)
	}
	ctx := context.Background()

	if _, err := requireSameRoom(ctx, s, i, p); err != nil {
		return replyError(s, i, err)
	}

	if err := p.Stop(ctx); err != nil {
		return replyError(s, i, err)
	}
	return respondText(s, i, "⏹️ Stopped playback and cleared the queue")
}

// HandleDisconnectCommand handles /disconnect
func HandleDisconnectCommand(s SessionInterface, i *discordgo.InteractionCreate) error {
	p, err := guildPlayer(i)
	if err != nil {
		return replyError(s, i, err)
	}
	ctx := context.Background()

	if _, err := requireSameRoom(ctx, s, i, p); err != nil {
		return replyError(s, i, err)
	}

	if err := p.Disconnect(ctx); err != nil {
		return replyError(s, i, err)
	}
	return respondText(s, i, "👋 Disconnected, the queue is saved for later")
}

// HandleSeekCommand handles /seek <time>
func HandleSeekCommand(s SessionInterface, i *discordgo.InteractionCreate) error {
	p, err := guildPlayer(i)
	if err != nil {
		return replyError(s, i, err)
	}
	ctx := context.Background()

	if _, err := requireSameRoom(ctx, s, i, p); err != nil {
		return replyError(s, i, err)
	}

	opt, ok := optionMap(i)["time"]
	if !ok {
		return replyError(s, i, types.NewError(types.KindInvalidArgument, "a time is required"))
	}
	seconds, err := utils.ParseTimestamp(opt.StringValue())
	if err != nil {
		return replyError(s, i, types.WrapError(types.KindInvalidArgument, err.Error(), err))
	}

	if err := p.SeekTo(ctx, seconds); err != nil {
		return replyError(s, i, err)
	}
	return respondText(s, i, fmt.Sprintf("⏩ Seeked to `%s`", utils.FormatDuration(seconds)))
}

// HandleSeekForwardCommand handles /seek-forward <time>
func HandleSeekForwardCommand(s SessionInterface, i *discordgo.InteractionCreate) error {
	p, err := guildPlayer(i)
	if err != nil {
		return replyError(s, i, err)
	}
	ctx := context.Background()

	if _, err := requireSameRoom(ctx, s, i, p); err != nil {
		return replyError(s, i, err)
	}

	opt, ok := optionMap(i)["time"]
	if !ok {
		return replyError(s, i, types.NewError(types.KindInvalidArgument, "a time is required"))
	}
	seconds, err := utils.ParseTimestamp(opt.StringValue())
	if err != nil {
		return replyError(s, i, types.WrapError(types.KindInvalidArgument, err.Error(), err))
	}

	if err := p.SeekForward(ctx, seconds); err != nil {
		return replyError(s, i, err)
	}

	pos, err := p.Position(ctx)
	if err != nil {
		return replyError(s, i, err)
	}
	return respondText(s, i, fmt.Sprintf("⏩ Seeked to `%s`", utils.FormatDuration(pos)))
}

// HandleReplayCommand handles /replay
func HandleReplayCommand(s SessionInterface, i *discordgo.InteractionCreate) error {
	p, err := guildPlayer(i)
	if err != nil {
		return replyError(s, i, err)
	}
	ctx := context.Background()

	if _, err := requireSameRoom(ctx, s, i, p); err != nil {
		return replyError(s, i, err)
	}

	if err := p.Replay(ctx); err != nil {
		return replyError(s, i, err)
	}
	return respondText(s, i, "🔄 Replaying from the start")
}

// HandleLoopCommand handles /loop (current track)
func HandleLoopCommand(s SessionInterface, i *discordgo.InteractionCreate) error {
	p, err := guildPlayer(i)
	if err != nil {
		return replyError(s, i, err)
	}
	ctx := context.Background()

	if _, err := requireSameRoom(ctx, s, i, p); err != nil {
		return replyError(s, i, err)
	}

	enabled, err := p.ToggleLoopTrack(ctx)
	if err != nil {
		return replyError(s, i, err)
	}
	if enabled {
		return respondText(s, i, "🔂 Looping the current track")
	}
	return respondText(s, i, "▶️ Track loop disabled")
}

// HandleLoopQueueCommand handles /loop-queue
func HandleLoopQueueCommand(s SessionInterface, i *discordgo.InteractionCreate) error {
	p, err := guildPlayer(i)
	if err != nil {
		return replyError(s, i, err)
	}
	ctx := context.Background()

	if _, err := requireSameRoom(ctx, s, i, p); err != nil {
		return replyError(s, i, err)
	}

	enabled, err := p.ToggleLoopQueue(ctx)
	if err != nil {
		return replyError(s, i, err)
	}
	if enabled {
		return respondText(s, i, "🔁 Looping the whole queue")
	}
	return respondText(s, i, "▶️ Queue loop disabled")
}

// HandleVolumeCommand handles /volume <level>
func HandleVolumeCommand(s SessionInterface, i *discordgo.InteractionCreate) error {
	p, err := guildPlayer(i)
	if err != nil {
		return replyError(s, i, err)
	}
	ctx := context.Background()

	if _, err := requireSameRoom(ctx, s, i, p); err != nil {
		return replyError(s, i, err)
	}

	opt, ok := optionMap(i)["level"]
	if !ok {
		current, err := p.Volume(ctx)
		if err != nil {
			return replyError(s, i, err)
		}
		return respondText(s, i, fmt.Sprintf("🔊 Volume is %d%%", current))
	}

	level := int(opt.IntValue())
	if err := p.SetVolume(ctx, level); err != nil {
		return replyError(s, i, err)
	}

	stored, err := p.Volume(ctx)
	if err != nil {
		return replyError(s, i, err)
	}
	return respondText(s, i, fmt.Sprintf("🔊 Volume set to %d%%", stored))
}
