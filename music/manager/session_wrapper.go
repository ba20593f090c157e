package manager

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"chord-discord-bot/music/types"
)

// SessionWrapper adapts a discordgo.Session to the voice interfaces the
// music system depends on, keeping the gateway library out of the core.
type SessionWrapper struct {
	session *discordgo.Session
}

// NewSessionWrapper creates a new session wrapper
func NewSessionWrapper(session *discordgo.Session) *SessionWrapper {
	return &SessionWrapper{session: session}
}

// Join connects to a voice room, muted for receive and unmuted for send.
func (sw *SessionWrapper) Join(guildID, channelID string) (types.VoiceHandle, error) {
	vc, err := sw.session.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, fmt.Errorf("join voice channel %s: %w", channelID, err)
	}
	return &voiceHandle{vc: vc}, nil
}

// Guild returns guild state, preferring the local cache over the API.
func (sw *SessionWrapper) Guild(guildID string) (*discordgo.Guild, error) {
	if sw.session.State != nil {
		if guild, err := sw.session.State.Guild(guildID); err == nil {
			return guild, nil
		}
	}
	return sw.session.Guild(guildID)
}

// BotUserID returns the bot account's user id, if known.
func (sw *SessionWrapper) BotUserID() string {
	if sw.session.State != nil && sw.session.State.User != nil {
		return sw.session.State.User.ID
	}
	return ""
}

// voiceHandle wraps a discordgo voice connection.
type voiceHandle struct {
	vc *discordgo.VoiceConnection
}

func (h *voiceHandle) GuildID() string {
	return h.vc.GuildID
}

func (h *voiceHandle) ChannelID() string {
	return h.vc.ChannelID
}

func (h *voiceHandle) Ready() bool {
	return h.vc.Ready
}

func (h *voiceHandle) Speaking(b bool) error {
	return h.vc.Speaking(b)
}

func (h *voiceHandle) OpusSend() chan<- []byte {
	return h.vc.OpusSend
}

func (h *voiceHandle) Disconnect() error {
	return h.vc.Disconnect()
}

var _ types.VoiceDialer = (*SessionWrapper)(nil)
var _ types.VoiceHandle = (*voiceHandle)(nil)
