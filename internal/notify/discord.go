package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Discord implements delivery over a discordgo session.
type Discord struct {
	session *discordgo.Session
}

// NewDiscord creates a notifier over an opened session.
func NewDiscord(session *discordgo.Session) *Discord {
	return &Discord{session: session}
}

// SendDirectMessage opens (or reuses) a DM channel with recipientID and
// sends text to it.
func (d *Discord) SendDirectMessage(ctx context.Context, recipientID, text string) error {
	channel, err := d.session.UserChannelCreate(recipientID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("open dm channel: %w", TranslateError(err))
	}
	if _, err := d.session.ChannelMessageSend(channel.ID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send dm: %w", TranslateError(err))
	}
	return nil
}

// FetchDisplay checks that a previously published display still exists.
func (d *Discord) FetchDisplay(ctx context.Context, channelID, messageID string) error {
	if _, err := d.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return TranslateError(err)
	}
	return nil
}

// PublishDisplay posts a new display and returns its message id.
func (d *Discord) PublishDisplay(ctx context.Context, channelID string, display Display) (string, error) {
	msg, err := d.session.ChannelMessageSendEmbed(channelID, Embed(display), discordgo.WithContext(ctx))
	if err != nil {
		return "", TranslateError(err)
	}
	return msg.ID, nil
}

// EditDisplay replaces the content of a published display.
func (d *Discord) EditDisplay(ctx context.Context, channelID, messageID string, display Display) error {
	edit := discordgo.NewMessageEdit(channelID, messageID).SetEmbed(Embed(display))
	if _, err := d.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		return TranslateError(err)
	}
	return nil
}

// Embed converts a Display to a Discord embed.
func Embed(display Display) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       display.Title,
		Description: display.Description,
		Color:       display.Color,
	}
	if !display.Timestamp.IsZero() {
		embed.Timestamp = display.Timestamp.UTC().Format(time.RFC3339)
	}
	if display.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: display.Footer}
	}
	return embed
}

// TranslateError maps Discord REST errors onto ErrNotFound and
// ErrChannelNotFound, keeping the original error in the chain.
func TranslateError(err error) error {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return err
	}

	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownChannel:
			return fmt.Errorf("%w: %w", ErrChannelNotFound, err)
		case discordgo.ErrCodeUnknownMessage,
			discordgo.ErrCodeUnknownInteraction,
			discordgo.ErrCodeUnknownWebhook,
			discordgo.ErrCodeUnknownUser:
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		}
	}
	if restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
