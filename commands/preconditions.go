package commands

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"chord-discord-bot/music/player"
	"chord-discord-bot/music/types"
)

// callerVoiceChannelID finds the voice room the calling user is in, checking
// the session state cache first and the API as a fallback.
func callerVoiceChannelID(s SessionInterface, i *discordgo.InteractionCreate) (string, error) {
	if i.Member == nil || i.Member.User == nil {
		return "", types.NewError(types.KindPreconditionFailed, "this command only works in a server")
	}
	userID := i.Member.User.ID

	if state := s.State(); state != nil {
		if vs, err := state.VoiceState(i.GuildID, userID); err == nil && vs != nil && vs.ChannelID != "" {
			return vs.ChannelID, nil
		}
	}

	guild, err := s.Guild(i.GuildID)
	if err != nil {
		return "", types.WrapError(types.KindInternal, "failed to look up guild", err)
	}
	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID && vs.ChannelID != "" {
			return vs.ChannelID, nil
		}
	}

	return "", types.NewError(types.KindPreconditionFailed, "you need to be in a voice channel")
}

// requireCallerInVoice enforces the caller-in-voice-room precondition.
func requireCallerInVoice(s SessionInterface, i *discordgo.InteractionCreate) (string, error) {
	return callerVoiceChannelID(s, i)
}

// requireSameRoom additionally enforces that the caller shares the bot's
// voice room when the bot is connected somewhere.
func requireSameRoom(ctx context.Context, s SessionInterface, i *discordgo.InteractionCreate, p *player.Player) (string, error) {
	channelID, err := requireCallerInVoice(s, i)
	if err != nil {
		return "", err
	}

	snap, err := p.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	connected, err := p.Connected(ctx)
	if err != nil {
		return "", err
	}
	if connected && snap.ChannelID != "" && snap.ChannelID != channelID {
		return "", types.NewError(types.KindPreconditionFailed,
			"you need to be in the same voice channel as the bot")
	}
	return channelID, nil
}

// requirePlaying enforces that the player is actively playing.
func requirePlaying(ctx context.Context, p *player.Player) error {
	snap, err := p.Snapshot(ctx)
	if err != nil {
		return err
	}
	if snap.Status != types.StatusPlaying {
		return types.NewError(types.KindPreconditionFailed, "nothing is playing right now")
	}
	return nil
}

// optionMap indexes the interaction's options by name.
func optionMap(i *discordgo.InteractionCreate) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	options := i.ApplicationCommandData().Options
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(options))
	for _, opt := range options {
		m[opt.Name] = opt
	}
	return m
}
