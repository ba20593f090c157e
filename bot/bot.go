package bot

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"chord-discord-bot/commands"
	"chord-discord-bot/config"
	"chord-discord-bot/music/cache"
	"chord-discord-bot/music/manager"
	"chord-discord-bot/music/providers"
	"chord-discord-bot/services/extractor"
	"chord-discord-bot/storage"
	"chord-discord-bot/utils"
)

// Bot represents the Discord bot instance
type Bot struct {
	Session  *discordgo.Session
	Registry *manager.Registry

	cfg     *config.Config
	store   *storage.Store
	cache   *cache.FileCache
	wrapper *manager.SessionWrapper
}

// New creates a new bot instance
func New(cfg *config.Config, store *storage.Store, fileCache *cache.FileCache) (*Bot, error) {
	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}

	return &Bot{
		Session: dg,
		cfg:     cfg,
		store:   store,
		cache:   fileCache,
	}, nil
}

// Setup configures the bot with handlers, intents and the music system.
func (b *Bot) Setup() {
	b.Session.AddHandler(b.ready)
	b.Session.AddHandler(b.interactionCreate)
	b.Session.AddHandler(b.voiceStateUpdate)
	b.Session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsGuildVoiceStates

	b.wrapper = manager.NewSessionWrapper(b.Session)
	b.Registry = manager.NewRegistry(b.wrapper, b.store, b.cache)

	var sidecar *extractor.Client
	if b.cfg.ExtractorServiceURL != "" {
		sidecar = extractor.NewClient(b.cfg.ExtractorServiceURL)
	}

	commands.Players = b.Registry
	commands.TrackResolver = providers.NewResolver(b.cfg.YouTubeAPIKey, sidecar)
	commands.AudioCache = b.cache
}

// Start opens the Discord connection
func (b *Bot) Start() error {
	return b.Session.Open()
}

// Stop shuts down every player and closes the Discord connection.
func (b *Bot) Stop(ctx context.Context) error {
	if b.Registry != nil {
		if err := b.Registry.Shutdown(ctx); err != nil {
			utils.LogError("Error shutting down player registry: %v", err)
		}
	}
	return b.Session.Close()
}

// ready handles the ready event
func (b *Bot) ready(s *discordgo.Session, event *discordgo.Ready) {
	utils.LogInfo("Logged in as %s#%s", s.State.User.Username, s.State.User.Discriminator)

	if err := s.UpdateStatusComplex(b.presence()); err != nil {
		utils.LogWarn("Failed to set presence: %v", err)
	}

	if shouldRegisterCommands {
		if err := RegisterCommands(s); err != nil {
			utils.LogError("Error registering commands: %v", err)
			return
		}
		fmt.Println("Command registration complete. Bot is ready!")
	} else {
		fmt.Println("Bot is ready! (Use --register-commands flag to register slash commands)")
	}
}

// presence builds the status update from the configured activity knobs.
func (b *Bot) presence() discordgo.UpdateStatusData {
	activityType := discordgo.ActivityTypeListening
	switch b.cfg.BotActivityType {
	case config.ActivityPlaying:
		activityType = discordgo.ActivityTypeGame
	case config.ActivityListening:
		activityType = discordgo.ActivityTypeListening
	case config.ActivityWatching:
		activityType = discordgo.ActivityTypeWatching
	case config.ActivityStreaming:
		activityType = discordgo.ActivityTypeStreaming
	}

	return discordgo.UpdateStatusData{
		Status: string(b.cfg.BotStatus),
		Activities: []*discordgo.Activity{
			{
				Name: b.cfg.BotActivity,
				Type: activityType,
			},
		},
	}
}

// interactionCreate handles interaction events
func (b *Bot) interactionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	sessionWrapper := newCommandSession(s)

	var err error
	switch i.ApplicationCommandData().Name {
	case "play":
		err = commands.HandlePlayCommand(sessionWrapper, i)
	case "skip":
		err = commands.HandleSkipCommand(sessionWrapper, i)
	case "back":
		err = commands.HandleBackCommand(sessionWrapper, i)
	case "pause":
		err = commands.HandlePauseCommand(sessionWrapper, i)
	case "resume":
		err = commands.HandleResumeCommand(sessionWrapper, i)
	case "stop":
		err = commands.HandleStopCommand(sessionWrapper, i)
	case "disconnect":
		err = commands.HandleDisconnectCommand(sessionWrapper, i)
	case "seek":
		err = commands.HandleSeekCommand(sessionWrapper, i)
	case "seek-forward":
		err = commands.HandleSeekForwardCommand(sessionWrapper, i)
	case "replay":
		err = commands.HandleReplayCommand(sessionWrapper, i)
	case "loop":
		err = commands.HandleLoopCommand(sessionWrapper, i)
	case "loop-queue":
		err = commands.HandleLoopQueueCommand(sessionWrapper, i)
	case "volume":
		err = commands.HandleVolumeCommand(sessionWrapper, i)
	case "queue":
		err = commands.HandleQueueCommand(sessionWrapper, i)
	case "now-playing":
		err = commands.HandleNowPlayingCommand(sessionWrapper, i)
	case "clear":
		err = commands.HandleClearCommand(sessionWrapper, i)
	case "remove":
		err = commands.HandleRemoveCommand(sessionWrapper, i)
	case "move":
		err = commands.HandleMoveCommand(sessionWrapper, i)
	case "shuffle":
		err = commands.HandleShuffleCommand(sessionWrapper, i)
	case "cache-info":
		err = commands.HandleCacheInfoCommand(sessionWrapper, i)
	}

	if err != nil {
		utils.LogError("Error handling command '%s': %v", i.ApplicationCommandData().Name, err)
	}
}

// voiceStateUpdate watches for the bot's voice room emptying out so players
// can release the connection when nobody is listening.
func (b *Bot) voiceStateUpdate(s *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if b.Registry == nil {
		return
	}
	p, ok := b.Registry.GetIfExists(vsu.GuildID)
	if !ok {
		return
	}

	ctx := context.Background()
	connected, err := p.Connected(ctx)
	if err != nil || !connected {
		return
	}

	settings, err := p.Settings(ctx)
	if err != nil || !settings.LeaveIfNoListeners {
		return
	}

	snap, err := p.Snapshot(ctx)
	if err != nil || snap.ChannelID == "" {
		return
	}

	if b.listenersInChannel(vsu.GuildID, snap.ChannelID) == 0 {
		utils.LogInfo("Voice room %s emptied, disconnecting player for guild %s", snap.ChannelID, vsu.GuildID)
		if err := p.Disconnect(ctx); err != nil {
			utils.LogWarn("Failed to disconnect empty-room player: %v", err)
		}
	}
}

// listenersInChannel counts non-bot users in a voice channel.
func (b *Bot) listenersInChannel(guildID, channelID string) int {
	guild, err := b.wrapper.Guild(guildID)
	if err != nil {
		// Can't tell, assume someone is listening
		return 1
	}

	botID := b.wrapper.BotUserID()
	count := 0
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != channelID || vs.UserID == botID {
			continue
		}
		if vs.Member != nil && vs.Member.User != nil && vs.Member.User.Bot {
			continue
		}
		count++
	}
	return count
}

// commandSession adapts a discordgo.Session to commands.SessionInterface.
type commandSession struct {
	s *discordgo.Session
}

func newCommandSession(s *discordgo.Session) *commandSession {
	return &commandSession{s: s}
}

func (c *commandSession) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	return c.s.InteractionRespond(interaction, resp, options...)
}

func (c *commandSession) InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return c.s.InteractionResponseEdit(interaction, newresp, options...)
}

func (c *commandSession) FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return c.s.FollowupMessageCreate(interaction, wait, data, options...)
}

func (c *commandSession) Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error) {
	return c.s.Guild(guildID, options...)
}

func (c *commandSession) State() *discordgo.State {
	return c.s.State
}

// Global flag for command registration (will be set from main)
var shouldRegisterCommands bool

// SetShouldRegisterCommands sets the global flag for command registration
func SetShouldRegisterCommands(value bool) {
	shouldRegisterCommands = value
}
