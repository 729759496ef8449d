package dispatch

import (
	"github.com/bwmarrin/discordgo"

	"github.com/ln64-git/arcados-bot-sub003/pkg/ownership"
)

// discordPermissions implements ownership.PermissionApplier against a live discordgo
// session, translating the capability bitmask into a channel permission overwrite.
type discordPermissions struct {
	session *discordgo.Session
}

// NewPermissionApplier adapts a discordgo.Session to ownership.PermissionApplier.
func NewPermissionApplier(session *discordgo.Session) ownership.PermissionApplier {
	return &discordPermissions{session: session}
}

func (d *discordPermissions) GrantOwnerCapabilities(guildID, channelID, userID string, caps int) error {
	var allow int64
	if caps&ownership.CapManageChannel != 0 {
		allow |= discordgo.PermissionManageChannels
	}
	if caps&ownership.CapStream != 0 {
		allow |= discordgo.PermissionVoiceStreamVideo
	}
	if caps&ownership.CapVoiceActivity != 0 {
		allow |= discordgo.PermissionVoiceUseVAD
	}
	if caps&ownership.CapSpeak != 0 {
		allow |= discordgo.PermissionVoiceSpeak
	}
	if caps&ownership.CapConnect != 0 {
		allow |= discordgo.PermissionVoiceConnect
	}
	if caps&ownership.CapCreateInvite != 0 {
		allow |= discordgo.PermissionCreateInstantInvite
	}
	if caps&ownership.CapPriority != 0 {
		allow |= discordgo.PermissionVoicePrioritySpeaker
	}
	return d.session.ChannelPermissionSet(channelID, userID, discordgo.PermissionOverwriteTypeMember, allow, 0)
}

func (d *discordPermissions) RevokeOverride(guildID, channelID, userID string) error {
	return d.session.ChannelPermissionDelete(channelID, userID)
}

func (d *discordPermissions) RenameChannel(guildID, channelID, name string) error {
	_, err := d.session.ChannelEdit(channelID, &discordgo.ChannelEdit{Name: name})
	return err
}
