package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/fankserver/caption-collector/internal/audio"
	"github.com/sirupsen/logrus"
)

// ErrNoChannel is returned when no voice channel is configured.
var ErrNoChannel = errors.New("no voice channel configured")

// VoiceBot manages the Discord connection used as an audio source.
type VoiceBot struct {
	discord   *discordgo.Session
	guildID   string
	channelID string
	voiceConn *discordgo.VoiceConnection
	mu        sync.Mutex
}

// New creates a new VoiceBot that will listen in channelID of guildID.
func New(token, guildID, channelID string) (*VoiceBot, error) {
	discord, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}

	bot := &VoiceBot{
		discord:   discord,
		guildID:   guildID,
		channelID: channelID,
	}

	discord.AddHandler(bot.ready)
	discord.AddHandler(bot.voiceStateUpdate)

	discord.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates

	return bot, nil
}

// Connect establishes connection to Discord
func (vb *VoiceBot) Connect() error {
	return vb.discord.Open()
}

// Disconnect closes Discord connection
func (vb *VoiceBot) Disconnect() error {
	vb.LeaveChannel()
	return vb.discord.Close()
}

// Open joins the configured voice channel and streams its audio as 16kHz
// mono PCM. It implements audio.Capture.
func (vb *VoiceBot) Open(ctx context.Context) (audio.Stream, error) {
	if vb.guildID == "" || vb.channelID == "" {
		return nil, ErrNoChannel
	}
	vc, err := vb.JoinChannel(vb.guildID, vb.channelID)
	if err != nil {
		return nil, err
	}
	return newVoiceStream(ctx, vc.OpusRecv, newOpusDecoder, func() { vb.LeaveChannel() }), nil
}

// JoinChannel joins a voice channel, leaving the current one first.
func (vb *VoiceBot) JoinChannel(guildID, channelID string) (*discordgo.VoiceConnection, error) {
	vb.mu.Lock()
	defer vb.mu.Unlock()

	if vb.voiceConn != nil {
		if err := vb.voiceConn.Disconnect(); err != nil {
			logrus.WithError(err).Debug("Error disconnecting from previous channel")
		}
		vb.voiceConn = nil
	}

	// muted, not deafened: we only listen
	vc, err := vb.discord.ChannelVoiceJoin(guildID, channelID, true, false)
	if err != nil {
		return nil, fmt.Errorf("error joining voice channel: %w", err)
	}
	vb.voiceConn = vc

	logrus.WithFields(logrus.Fields{
		"guild_id":   guildID,
		"channel_id": channelID,
	}).Info("Joined voice channel")
	return vc, nil
}

// LeaveChannel leaves the current voice channel
func (vb *VoiceBot) LeaveChannel() {
	vb.mu.Lock()
	defer vb.mu.Unlock()

	if vb.voiceConn != nil {
		if err := vb.voiceConn.Disconnect(); err != nil {
			logrus.WithError(err).Debug("Error disconnecting from voice channel")
		}
		vb.voiceConn = nil
		logrus.Info("Left voice channel")
	}
}

// GetStatus returns current bot status
func (vb *VoiceBot) GetStatus() map[string]interface{} {
	vb.mu.Lock()
	defer vb.mu.Unlock()

	status := map[string]interface{}{
		"connected": vb.discord.State != nil && vb.discord.State.Ready.User != nil,
		"inVoice":   vb.voiceConn != nil,
	}

	if vb.voiceConn != nil {
		status["guildID"] = vb.voiceConn.GuildID
		status["channelID"] = vb.voiceConn.ChannelID
	}

	return status
}

func (vb *VoiceBot) ready(s *discordgo.Session, event *discordgo.Ready) {
	logrus.WithFields(logrus.Fields{
		"username":      s.State.User.Username,
		"discriminator": s.State.User.Discriminator,
	}).Info("Bot is ready")
}

func (vb *VoiceBot) voiceStateUpdate(s *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if s.State.User != nil && vsu.UserID == s.State.User.ID {
		logrus.WithField("channel_id", vsu.ChannelID).Debug("Bot voice state updated")
	}
}
