package bot

import (
	"context"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/arriba-labs/battlebot/internal/notify"
)

// interactionTrigger answers one slash-command interaction. It satisfies
// dispatcher.Trigger.
type interactionTrigger struct {
	session     *discordgo.Session
	interaction *discordgo.Interaction
	done        atomic.Bool
}

func newInteractionTrigger(s *discordgo.Session, i *discordgo.Interaction) *interactionTrigger {
	return &interactionTrigger{session: s, interaction: i}
}

// Defer acknowledges the interaction with an ephemeral "thinking" state.
// Discord drops interactions that are not acknowledged within three seconds,
// so this runs before the command waits in the dispatch queue.
func (t *interactionTrigger) Defer(ctx context.Context) error {
	err := t.session.InteractionRespond(t.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return notify.TranslateError(err)
	}
	t.done.Store(true)
	return nil
}

// ResponseDone reports whether the interaction was acknowledged.
func (t *interactionTrigger) ResponseDone() bool {
	return t.done.Load()
}

// Reply replaces the deferred response with content.
func (t *interactionTrigger) Reply(ctx context.Context, content string) error {
	if !t.ResponseDone() {
		return t.SendEphemeral(ctx, content)
	}
	_, err := t.session.InteractionResponseEdit(t.interaction, &discordgo.WebhookEdit{
		Content: &content,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return notify.TranslateError(err)
	}
	return nil
}

// SendEphemeral sends content only the invoking user can see, as a follow-up
// when the interaction was already acknowledged.
func (t *interactionTrigger) SendEphemeral(ctx context.Context, content string) error {
	if t.ResponseDone() {
		_, err := t.session.FollowupMessageCreate(t.interaction, true, &discordgo.WebhookParams{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		}, discordgo.WithContext(ctx))
		if err != nil {
			return notify.TranslateError(err)
		}
		return nil
	}

	err := t.session.InteractionRespond(t.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return notify.TranslateError(err)
	}
	t.done.Store(true)
	return nil
}
