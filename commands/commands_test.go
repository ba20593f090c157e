package commands

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chord-discord-bot/music/manager"
	"chord-discord-bot/music/types"
	"chord-discord-bot/testutils"
	"chord-discord-bot/utils"
)

func setupMusicSystem(t *testing.T) (*manager.Registry, *testutils.MockVoiceDialer, *testutils.MockResolver) {
	t.Helper()
	dialer := &testutils.MockVoiceDialer{}
	registry := manager.NewRegistry(dialer, testutils.NewMockSettingsStore(), nil)
	resolver := &testutils.MockResolver{Results: map[string]*types.ResolveResult{}}

	Players = registry
	TrackResolver = resolver
	AudioCache = nil

	t.Cleanup(func() {
		_ = registry.Shutdown(context.Background())
		Players = nil
		TrackResolver = nil
	})
	return registry, dialer, resolver
}

func sessionWithVoiceStates(guildID string, userToChannel map[string]string) *testutils.MockSession {
	return &testutils.MockSession{
		GuildReturn: testutils.NewGuildWithVoiceStates(guildID, userToChannel),
	}
}

func stringOption(name, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionString,
		Value: value,
	}
}

func intOption(name string, value int) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionInteger,
		Value: float64(value),
	}
}

func TestCallerVoiceChannelIDFromGuildFallback(t *testing.T) {
	s := sessionWithVoiceStates("guild-1", map[string]string{"user-1": "room-7"})
	i := testutils.NewCommandInteraction("guild-1", "user-1", nil)

	channelID, err := callerVoiceChannelID(s, i)
	require.NoError(t, err)
	assert.Equal(t, "room-7", channelID)
}

func TestCallerNotInVoiceFailsPrecondition(t *testing.T) {
	s := sessionWithVoiceStates("guild-1", map[string]string{"someone-else": "room-7"})
	i := testutils.NewCommandInteraction("guild-1", "user-1", nil)

	_, err := callerVoiceChannelID(s, i)
	assert.True(t, types.IsKind(err, types.KindPreconditionFailed))
}

func TestRequireSameRoomRejectsDifferentRoom(t *testing.T) {
	_, _, _ = setupMusicSystem(t)
	ctx := context.Background()

	p := Players.Get("guild-1")
	require.NoError(t, p.Connect(ctx, "room-bot"))

	s := sessionWithVoiceStates("guild-1", map[string]string{"user-1": "room-other"})
	i := testutils.NewCommandInteraction("guild-1", "user-1", nil)

	_, err := requireSameRoom(ctx, s, i, p)
	assert.True(t, types.IsKind(err, types.KindPreconditionFailed))
}

func TestRequireSameRoomAllowsSameRoom(t *testing.T) {
	_, _, _ = setupMusicSystem(t)
	ctx := context.Background()

	p := Players.Get("guild-1")
	require.NoError(t, p.Connect(ctx, "room-bot"))

	s := sessionWithVoiceStates("guild-1", map[string]string{"user-1": "room-bot"})
	i := testutils.NewCommandInteraction("guild-1", "user-1", nil)

	channelID, err := requireSameRoom(ctx, s, i, p)
	require.NoError(t, err)
	assert.Equal(t, "room-bot", channelID)
}

func TestHandleSkipWithoutPlayerIsEphemeral(t *testing.T) {
	setupMusicSystem(t)

	s := sessionWithVoiceStates("guild-1", map[string]string{"user-1": "room-1"})
	i := testutils.NewCommandInteraction("guild-1", "user-1", nil)

	require.NoError(t, HandleSkipCommand(s, i))
	assert.True(t, s.RespondCalled)
	assert.True(t, s.RespondedEphemeral())
	assert.Contains(t, s.RespondData.Content, "nothing is playing")
}

func TestHandlePlayRequiresVoiceRoom(t *testing.T) {
	_, _, resolver := setupMusicSystem(t)

	s := sessionWithVoiceStates("guild-1", map[string]string{})
	i := testutils.NewCommandInteraction("guild-1", "user-1", []*discordgo.ApplicationCommandInteractionDataOption{
		stringOption("query", "some song"),
	})

	require.NoError(t, HandlePlayCommand(s, i))
	assert.True(t, s.RespondedEphemeral())
	assert.Empty(t, resolver.Calls, "resolver must not run when preconditions fail")
}

func TestHandlePlayNotFound(t *testing.T) {
	_, _, resolver := setupMusicSystem(t)
	resolver.Err = types.NewError(types.KindNotFound, "no songs found")

	s := sessionWithVoiceStates("guild-1", map[string]string{"user-1": "room-1"})
	i := testutils.NewCommandInteraction("guild-1", "user-1", []*discordgo.ApplicationCommandInteractionDataOption{
		stringOption("query", "does not exist"),
	})

	require.NoError(t, HandlePlayCommand(s, i))
	assert.Equal(t, []string{"does not exist"}, resolver.Calls)

	// the deferred response was edited with the failure
	require.True(t, s.InteractionResponseEditCalled)
	require.NotNil(t, s.InteractionResponseEditData.Content)
	assert.Contains(t, *s.InteractionResponseEditData.Content, "no songs found")
}

func TestHandleVolumeShowsCurrent(t *testing.T) {
	setupMusicSystem(t)
	ctx := context.Background()

	p := Players.Get("guild-1")
	require.NoError(t, p.Connect(ctx, "room-1"))

	s := sessionWithVoiceStates("guild-1", map[string]string{"user-1": "room-1"})
	i := testutils.NewCommandInteraction("guild-1", "user-1", nil)

	require.NoError(t, HandleVolumeCommand(s, i))
	assert.Contains(t, s.RespondData.Content, "100%")
}

func TestHandleVolumeClampsOutOfRange(t *testing.T) {
	setupMusicSystem(t)
	ctx := context.Background()

	p := Players.Get("guild-1")
	require.NoError(t, p.Connect(ctx, "room-1"))

	s := sessionWithVoiceStates("guild-1", map[string]string{"user-1": "room-1"})
	i := testutils.NewCommandInteraction("guild-1", "user-1", []*discordgo.ApplicationCommandInteractionDataOption{
		intOption("level", 200),
	})

	require.NoError(t, HandleVolumeCommand(s, i))
	assert.Contains(t, s.RespondData.Content, "100%")
}

func TestHandleSeekRejectsBadTime(t *testing.T) {
	setupMusicSystem(t)
	ctx := context.Background()

	p := Players.Get("guild-1")
	require.NoError(t, p.Connect(ctx, "room-1"))

	s := sessionWithVoiceStates("guild-1", map[string]string{"user-1": "room-1"})
	i := testutils.NewCommandInteraction("guild-1", "user-1", []*discordgo.ApplicationCommandInteractionDataOption{
		stringOption("time", "not-a-time"),
	})

	require.NoError(t, HandleSeekCommand(s, i))
	assert.True(t, s.RespondedEphemeral())
}

func TestHandleQueueEmpty(t *testing.T) {
	setupMusicSystem(t)
	Players.Get("guild-1")

	s := sessionWithVoiceStates("guild-1", map[string]string{"user-1": "room-1"})
	i := testutils.NewCommandInteraction("guild-1", "user-1", nil)

	require.NoError(t, HandleQueueCommand(s, i))
	require.NotNil(t, s.RespondData)
	require.Len(t, s.RespondData.Embeds, 1)
	assert.Contains(t, s.RespondData.Embeds[0].Description, "empty")
}

func TestParseTimestampThroughSeekOptionShapes(t *testing.T) {
	// the time argument accepts both clock and unit forms
	i := testutils.NewCommandInteraction("guild-1", "user-1", []*discordgo.ApplicationCommandInteractionDataOption{
		stringOption("time", "1:30"),
	})
	opts := optionMap(i)
	assert.Equal(t, "1:30", opts["time"].StringValue())
	seconds, err := utils.ParseTimestamp(opts["time"].StringValue())
	require.NoError(t, err)
	assert.Equal(t, 90, seconds)

	i = testutils.NewCommandInteraction("guild-1", "user-1", []*discordgo.ApplicationCommandInteractionDataOption{
		stringOption("time", "1m30s"),
	})
	seconds, err = utils.ParseTimestamp(optionMap(i)["time"].StringValue())
	require.NoError(t, err)
	assert.Equal(t, 90, seconds)
}

func TestErrorMessageMapping(t *testing.T) {
	assert.Contains(t, errorMessage(types.NewError(types.KindPreconditionFailed, "you need to be in a voice channel")), "voice channel")
	assert.Contains(t, errorMessage(types.NewError(types.KindTransientUpstream, "x")), "try again")
	assert.Contains(t, errorMessage(types.NewError(types.KindVoiceTransport, "x")), "voice connection")
	assert.Contains(t, errorMessage(assert.AnError), "Something went wrong")
}
