package testutils

import (
	"github.com/bwmarrin/discordgo"
)

// MockSession implements the command-layer session interface for testing
type MockSession struct {
	RespondCalled                 bool
	RespondError                  error
	RespondData                   *discordgo.InteractionResponseData
	RespondType                   discordgo.InteractionResponseType
	InteractionResponseEditCalled bool
	InteractionResponseEditError  error
	InteractionResponseEditData   *discordgo.WebhookEdit
	InteractionResponseEditReturn *discordgo.Message
	FollowupCalled                bool
	FollowupError                 error
	FollowupReturn                *discordgo.Message
	GuildCalled                   bool
	GuildError                    error
	GuildReturn                   *discordgo.Guild
	StateReturn                   *discordgo.State
}

// InteractionRespond mocks the Discord session InteractionRespond method
func (m *MockSession) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	m.RespondCalled = true
	m.RespondType = resp.Type
	if resp.Data != nil {
		m.RespondData = resp.Data
	}
	return m.RespondError
}

// InteractionResponseEdit mocks the Discord session InteractionResponseEdit method
func (m *MockSession) InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.InteractionResponseEditCalled = true
	m.InteractionResponseEditData = newresp
	if m.InteractionResponseEditError != nil {
		return nil, m.InteractionResponseEditError
	}
	return m.InteractionResponseEditReturn, nil
}

// FollowupMessageCreate mocks the Discord session FollowupMessageCreate method
func (m *MockSession) FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.FollowupCalled = true
	if m.FollowupError != nil {
		return nil, m.FollowupError
	}
	return m.FollowupReturn, nil
}

// Guild mocks the Discord session Guild method
func (m *MockSession) Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error) {
	m.GuildCalled = true
	if m.GuildError != nil {
		return nil, m.GuildError
	}
	return m.GuildReturn, nil
}

// State mocks access to the session state
func (m *MockSession) State() *discordgo.State {
	return m.StateReturn
}

// RespondedEphemeral reports whether the last response carried the ephemeral flag
func (m *MockSession) RespondedEphemeral() bool {
	return m.RespondData != nil && m.RespondData.Flags&discordgo.MessageFlagsEphemeral != 0
}

// Reset resets all mock state
func (m *MockSession) Reset() {
	*m = MockSession{}
}
