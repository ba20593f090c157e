package commands

import (
	"github.com/bwmarrin/discordgo"

	"chord-discord-bot/music/cache"
	"chord-discord-bot/music/manager"
	"chord-discord-bot/music/types"
)

// SessionInterface defines the methods we need from a Discord session for testing
// This interface covers basic Discord functionality used by the music commands
type SessionInterface interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	// Access to session state for voice channel detection
	State() *discordgo.State
}

// Package-level collaborators, wired once at bot setup.
var (
	// Players is the process-wide player registry.
	Players *manager.Registry
	// TrackResolver expands user queries into track descriptors.
	TrackResolver types.Resolver
	// AudioCache is the shared file cache, used by the cache-info surface.
	AudioCache *cache.FileCache
)
