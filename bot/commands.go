package bot

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// createStringOption creates a string application command option
func createStringOption(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        name,
		Description: description,
		Required:    required,
	}
}

// createBooleanOption creates a boolean application command option
func createBooleanOption(name, description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionBoolean,
		Name:        name,
		Description: description,
	}
}

// createIntegerOption creates an integer application command option
func createIntegerOption(name, description string, required bool, minValue, maxValue *float64) *discordgo.ApplicationCommandOption {
	option := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        name,
		Description: description,
		Required:    required,
	}

	if minValue != nil {
		option.MinValue = minValue
	}
	if maxValue != nil {
		option.MaxValue = *maxValue
	}

	return option
}

func floatPtr(v float64) *float64 {
	return &v
}

// GetCommands returns the list of application commands for the bot
func GetCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "play",
			Description: "Play a song or playlist from a URL or search query",
			Options: []*discordgo.ApplicationCommandOption{
				createStringOption("query", "Song URL, playlist URL or search terms", true),
				createBooleanOption("immediate", "Add the song to the front of the queue"),
				createBooleanOption("shuffle", "Shuffle the queue after adding"),
				createBooleanOption("split-chapters", "Split a video into its chapters"),
				createBooleanOption("skip-current", "Skip the current song once added"),
			},
		},
		{
			Name:        "skip",
			Description: "Skip one or more songs",
			Options: []*discordgo.ApplicationCommandOption{
				createIntegerOption("number", "How many songs to skip (default 1)", false, floatPtr(1), nil),
			},
		},
		{
			Name:        "back",
			Description: "Go back to the previous song",
		},
		{
			Name:        "pause",
			Description: "Pause the current song",
		},
		{
			Name:        "resume",
			Description: "Resume playback",
		},
		{
			Name:        "stop",
			Description: "Stop playback and clear the queue",
		},
		{
			Name:        "disconnect",
			Description: "Disconnect from voice, keeping the queue for later",
		},
		{
			Name:        "seek",
			Description: "Seek to a position in the current song",
			Options: []*discordgo.ApplicationCommandOption{
				createStringOption("time", "Position, e.g. 1:30 or 90s", true),
			},
		},
		{
			Name:        "seek-forward",
			Description: "Seek forward in the current song",
			Options: []*discordgo.ApplicationCommandOption{
				createStringOption("time", "How far to jump, e.g. 30s", true),
			},
		},
		{
			Name:        "replay",
			Description: "Restart the current song",
		},
		{
			Name:        "loop",
			Description: "Toggle looping the current song",
		},
		{
			Name:        "loop-queue",
			Description: "Toggle looping the whole queue",
		},
		{
			Name:        "volume",
			Description: "Show or set the playback volume",
			Options: []*discordgo.ApplicationCommandOption{
				createIntegerOption("level", "Volume level 0-100", false, floatPtr(0), floatPtr(100)),
			},
		},
		{
			Name:        "queue",
			Description: "Show the queue",
			Options: []*discordgo.ApplicationCommandOption{
				createIntegerOption("page", "Page to show (default 1)", false, floatPtr(1), nil),
				createIntegerOption("page-size", "Tracks per page (default from guild settings)", false, floatPtr(1), floatPtr(30)),
			},
		},
		{
			Name:        "now-playing",
			Description: "Show the current song",
		},
		{
			Name:        "clear",
			Description: "Clear the queue, keeping the current song",
		},
		{
			Name:        "remove",
			Description: "Remove songs from the queue",
			Options: []*discordgo.ApplicationCommandOption{
				createIntegerOption("position", "Queue position to remove from (default 1)", false, floatPtr(1), nil),
				createIntegerOption("range", "How many songs to remove (default 1)", false, floatPtr(1), nil),
			},
		},
		{
			Name:        "move",
			Description: "Move a song to another position in the queue",
			Options: []*discordgo.ApplicationCommandOption{
				createIntegerOption("from", "Current position", true, floatPtr(1), nil),
				createIntegerOption("to", "New position", true, floatPtr(1), nil),
			},
		},
		{
			Name:        "shuffle",
			Description: "Shuffle the queue",
		},
		{
			Name:        "cache-info",
			Description: "Show information about the audio file cache",
		},
	}
}

// RegisterCommands registers all bot commands with Discord (includes cleanup of existing commands)
func RegisterCommands(s *discordgo.Session) error {
	fmt.Println("Starting command registration process...")

	// Always clean up existing commands first to ensure clean state
	existingCommands, err := s.ApplicationCommands(s.State.User.ID, "")
	if err != nil {
		return fmt.Errorf("cannot retrieve existing commands: %w", err)
	}

	if len(existingCommands) > 0 {
		fmt.Printf("Deleting %d existing global commands...\n", len(existingCommands))
		for _, cmd := range existingCommands {
			err := s.ApplicationCommandDelete(s.State.User.ID, "", cmd.ID)
			if err != nil {
				return fmt.Errorf("cannot delete existing command '%v': %w", cmd.Name, err)
			}
		}
	}

	// Also clear guild-specific commands for all guilds the bot is in
	for _, guild := range s.State.Guilds {
		guildCommands, err := s.ApplicationCommands(s.State.User.ID, guild.ID)
		if err != nil {
			fmt.Printf("Warning: Could not retrieve commands for guild %s: %v\n", guild.ID, err)
			continue
		}
		for _, cmd := range guildCommands {
			err := s.ApplicationCommandDelete(s.State.User.ID, guild.ID, cmd.ID)
			if err != nil {
				fmt.Printf("Warning: Could not delete command '%s' from guild %s: %v\n", cmd.Name, guild.ID, err)
			}
		}
	}

	// Register the current commands as global commands
	commandList := GetCommands()
	for _, cmd := range commandList {
		_, err := s.ApplicationCommandCreate(s.State.User.ID, "", cmd)
		if err != nil {
			return fmt.Errorf("cannot create '%v' command: %w", cmd.Name, err)
		}
	}

	fmt.Printf("Successfully registered %d commands!\n", len(commandList))
	return nil
}
