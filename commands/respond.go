package commands

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"chord-discord-bot/music/types"
	"chord-discord-bot/utils"
)

// Embed color constants
const (
	colorBlue  = 0x3498db
	colorGreen = 0x2ecc71
	colorRed   = 0xe74c3c
)

func strPtr(s string) *string {
	return &s
}

// respondText sends an immediate plain reply.
func respondText(s SessionInterface, i *discordgo.InteractionCreate, content string) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	})
}

// respondEphemeral sends an immediate reply visible only to the caller.
func respondEphemeral(s SessionInterface, i *discordgo.InteractionCreate, content string) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

// respondEmbed sends an immediate embed reply.
func respondEmbed(s SessionInterface, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
		},
	})
}

// deferResponse acknowledges the interaction so slow work can follow.
func deferResponse(s SessionInterface, i *discordgo.InteractionCreate, ephemeral bool) error {
	data := &discordgo.InteractionResponseData{}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: data,
	})
}

// editText replaces a deferred response with plain text.
func editText(s SessionInterface, i *discordgo.InteractionCreate, content string) error {
	_, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: strPtr(content),
	})
	return err
}

// editEmbed replaces a deferred response with an embed.
func editEmbed(s SessionInterface, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) error {
	_, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: strPtr(""),
		Embeds:  &[]*discordgo.MessageEmbed{embed},
	})
	return err
}

// errorMessage renders a music error as a user-facing line.
func errorMessage(err error) string {
	switch types.KindOf(err) {
	case types.KindPreconditionFailed, types.KindNotFound, types.KindInvalidArgument:
		var me *types.MusicError
		if errors.As(err, &me) {
			return "🚫 " + me.Message
		}
		return "🚫 " + err.Error()
	case types.KindTransientUpstream:
		return "🚫 The media source is having trouble right now, try again in a moment"
	case types.KindVoiceTransport:
		return "🚫 Lost the voice connection, try again"
	default:
		utils.LogError("Command failed with internal error: %v", err)
		return "🚫 Something went wrong"
	}
}

// replyError surfaces a failure ephemerally on a fresh interaction.
func replyError(s SessionInterface, i *discordgo.InteractionCreate, err error) error {
	return respondEphemeral(s, i, errorMessage(err))
}

// editError surfaces a failure on an already-deferred interaction.
func editError(s SessionInterface, i *discordgo.InteractionCreate, err error) error {
	return editText(s, i, errorMessage(err))
}

// trackLine renders one track as a markdown link with its length.
func trackLine(track *types.QueuedTrack) string {
	return fmt.Sprintf("**[%s](%s)** `%s`", track.Title, track.URL,
		utils.FormatTrackLength(track.Length, track.IsLive))
}
