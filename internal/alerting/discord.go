package alerting

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

// discordSession is the slice of discordgo.Session the notifier needs.
type discordSession interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier delivers alerts to one Discord channel via a bot session.
type DiscordNotifier struct {
	session   discordSession
	channelID string
	logger    zerolog.Logger
}

// NewDiscordNotifier opens a bot session for the given token. The session is
// used request/response only; no gateway connection is opened.
func NewDiscordNotifier(botToken, channelID string, logger zerolog.Logger) (*DiscordNotifier, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &DiscordNotifier{
		session:   session,
		channelID: channelID,
		logger:    logger.With().Str("component", "alert_discord").Logger(),
	}, nil
}

// Send posts the rendered alert text to the configured channel.
func (n *DiscordNotifier) Send(ctx context.Context, note Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := n.session.ChannelMessageSend(n.channelID, note.Title+"\n"+note.Body); err != nil {
		return fmt.Errorf("send discord message: %w", err)
	}
	n.logger.Info().
		Str("entity", note.EntityID).
		Str("kind", string(note.Kind)).
		Msg("告警已发送 (Discord)")
	return nil
}

var _ Notifier = (*DiscordNotifier)(nil)
